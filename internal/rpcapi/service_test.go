package rpcapi

import (
	"context"
	"testing"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/fractalsoft/frankendb"
	"github.com/fractalsoft/frankendb/internal/config"
	"github.com/fractalsoft/frankendb/internal/vfs"
)

func TestEngineExecRoundTrip(t *testing.T) {
	db, err := frankendb.Open(vfs.NewMemVFS(), "rpc.db", config.Default())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	e := &Engine{DB: db}
	ctx := context.Background()

	exec := func(sql string) *structpb.Struct {
		req, _ := structpb.NewStruct(map[string]any{"sql": sql})
		resp, err := e.Exec(ctx, req)
		if err != nil {
			t.Fatalf("Exec(%q): %v", sql, err)
		}
		return resp
	}

	exec(`CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT)`)
	exec(`INSERT INTO widgets (id, name) VALUES (1, 'sprocket')`)

	resp := exec(`SELECT name FROM widgets WHERE id = 1`)
	cols := resp.Fields["columns"].GetListValue().Values
	if len(cols) != 1 || cols[0].GetStringValue() != "name" {
		t.Fatalf("unexpected columns: %+v", resp.Fields["columns"])
	}
	rows := resp.Fields["rows"].GetListValue().Values
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	got := rows[0].GetListValue().Values[0].GetStringValue()
	if got != "sprocket" {
		t.Fatalf("expected sprocket, got %q", got)
	}
}

func TestEngineExecSurfacesErrors(t *testing.T) {
	db, err := frankendb.Open(vfs.NewMemVFS(), "rpc2.db", config.Default())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	e := &Engine{DB: db}
	req, _ := structpb.NewStruct(map[string]any{"sql": "SELECT * FROM nosuchtable"})
	if _, err := e.Exec(context.Background(), req); err == nil {
		t.Fatalf("expected an error querying a nonexistent table")
	}
}
