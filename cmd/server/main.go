// Command server exposes a frankendb database over gRPC.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"

	"google.golang.org/grpc"

	"github.com/fractalsoft/frankendb"
	"github.com/fractalsoft/frankendb/internal/config"
	"github.com/fractalsoft/frankendb/internal/rpcapi"
	"github.com/fractalsoft/frankendb/internal/vfs"
)

var (
	flagPath = flag.String("db", "frankendb.db", "database file path")
	flagAddr = flag.String("addr", ":9930", "listen address")
)

func main() {
	flag.Parse()

	db, err := frankendb.Open(vfs.NewOSVFS(), *flagPath, config.Default())
	if err != nil {
		log.Fatalf("open %s: %v", *flagPath, err)
	}
	defer db.Close()

	lis, err := net.Listen("tcp", *flagAddr)
	if err != nil {
		log.Fatalf("listen %s: %v", *flagAddr, err)
	}

	s := grpc.NewServer()
	rpcapi.RegisterEngineServer(s, &rpcapi.Engine{DB: db})

	fmt.Printf("frankendb serving %s on %s\n", *flagPath, *flagAddr)
	if err := s.Serve(lis); err != nil {
		log.Fatalf("serve: %v", err)
	}
}
