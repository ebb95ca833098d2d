// Package rpcapi exposes a frankendb.DB over gRPC using the well-known
// structpb message types (google.golang.org/protobuf/types/known/
// structpb) as the request/response shape, rather than a protoc-
// generated *_grpc.pb.go stub: structpb.Struct/Value already implement
// proto.Message correctly, so the real grpc and protobuf libraries do
// the marshaling work; only the service description (normally produced
// by protoc) is hand-written here. See DESIGN.md for why full protoc
// codegen wasn't attempted.
package rpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/fractalsoft/frankendb"
	"github.com/fractalsoft/frankendb/internal/record"
)

// Engine is the RPC-facing wrapper around one *frankendb.DB.
type Engine struct {
	DB *frankendb.DB
}

// Exec runs the SQL in req.Fields["sql"] and returns a Struct shaped
// {"columns": [...string], "rows": [[...Value]]}.
func (e *Engine) Exec(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sql := req.Fields["sql"].GetStringValue()
	rs, err := e.DB.Exec(ctx, sql)
	if err != nil {
		return nil, err
	}

	cols := make([]any, len(rs.Columns))
	for i, c := range rs.Columns {
		cols[i] = c
	}
	rows := make([]any, len(rs.Rows))
	for i, row := range rs.Rows {
		r := make([]any, len(row))
		for j, v := range row {
			r[j] = valueToAny(v)
		}
		rows[i] = r
	}
	return structpb.NewStruct(map[string]any{"columns": cols, "rows": rows})
}

func valueToAny(v record.Value) any {
	switch v.Kind {
	case record.KindNull:
		return nil
	case record.KindInteger:
		return float64(v.I) // structpb.Value only has a double number kind
	case record.KindFloat:
		return v.F
	case record.KindText:
		return v.S
	default:
		return string(v.B)
	}
}

// ServiceName is the RPC method namespace, standing in for the
// package.Service name a .proto file would declare.
const ServiceName = "frankendb.Engine"

// ServiceDesc is the hand-written equivalent of what protoc-gen-go-grpc
// would generate from a frankendb.proto defining one Exec RPC. Methods
// are invoked by full path "/frankendb.Engine/Exec".
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EngineServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Exec",
			Handler:    execHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "frankendb/rpcapi.proto",
}

// EngineServer is the interface grpc.ServiceDesc's HandlerType
// documents; *Engine implements it.
type EngineServer interface {
	Exec(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

func execHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(structpb.Struct)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EngineServer).Exec(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Exec"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(EngineServer).Exec(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, req, info, handler)
}

// RegisterEngineServer registers impl on s, the hand-rolled equivalent
// of protoc-gen-go-grpc's generated RegisterEngineServer function.
func RegisterEngineServer(s *grpc.Server, impl EngineServer) {
	s.RegisterService(&ServiceDesc, impl)
}
