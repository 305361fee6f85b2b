package sessionsvc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

func _SessionService_CreateSession_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).createSession(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/CreateSession"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).createSession(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _SessionService_GetSession_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).getSession(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/GetSession"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).getSession(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _SessionService_ExecuteTurn_Handler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(*Server).executeTurn(in, stream)
}

// ServiceDesc is the grpc.ServiceDesc protoc-gen-go-grpc would otherwise
// generate from a session.proto; hand-assembled here since no codegen ran.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateSession", Handler: _SessionService_CreateSession_Handler},
		{MethodName: "GetSession", Handler: _SessionService_GetSession_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "ExecuteTurn", Handler: _SessionService_ExecuteTurn_Handler, ServerStreams: true},
	},
	Metadata: "ariarun/sessionsvc",
}

// RegisterSessionServiceServer registers srv on s, the hand-written
// equivalent of a generated RegisterSessionServiceServer function.
func RegisterSessionServiceServer(s grpc.ServiceRegistrar, srv *Server) {
	s.RegisterService(&ServiceDesc, srv)
}
