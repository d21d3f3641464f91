// Package api is the daemon's control surface: a gRPC service over the
// profile's Unix socket whose messages are well-known protobuf types.
package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "bubbled.v1.Control"

// Method names.
const (
	MethodStatus     = "Status"
	MethodSyncNow    = "SyncNow"
	MethodListChats  = "ListChats"
	MethodListThread = "ListThread"
	MethodSendText   = "SendText"
	MethodMarkRead   = "MarkRead"
	MethodReact      = "React"
	MethodClearCache = "ClearCache"
	MethodAvatar     = "Avatar"
	MethodAttachment = "Attachment"
)

// ControlServer is implemented by Service.
type ControlServer interface {
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	SyncNow(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListChats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListThread(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendText(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MarkRead(context.Context, *structpb.Struct) (*structpb.Struct, error)
	React(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ClearCache(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Avatar(context.Context, *structpb.Struct) (*wrapperspb.BytesValue, error)
	Attachment(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterControlServer registers srv on s.
func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&ControlServiceDesc, srv)
}

func newEmpty() *emptypb.Empty { return &emptypb.Empty{} }
func newStruct() *structpb.Struct { return &structpb.Struct{} }

// ControlServiceDesc describes the control service for grpc.Server.
var ControlServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodStatus, newEmpty, func(s ControlServer, ctx context.Context, in *emptypb.Empty) (proto.Message, error) {
			return s.Status(ctx, in)
		}),
		unary(MethodSyncNow, newEmpty, func(s ControlServer, ctx context.Context, in *emptypb.Empty) (proto.Message, error) {
			return s.SyncNow(ctx, in)
		}),
		unary(MethodListChats, newStruct, func(s ControlServer, ctx context.Context, in *structpb.Struct) (proto.Message, error) {
			return s.ListChats(ctx, in)
		}),
		unary(MethodListThread, newStruct, func(s ControlServer, ctx context.Context, in *structpb.Struct) (proto.Message, error) {
			return s.ListThread(ctx, in)
		}),
		unary(MethodSendText, newStruct, func(s ControlServer, ctx context.Context, in *structpb.Struct) (proto.Message, error) {
			return s.SendText(ctx, in)
		}),
		unary(MethodMarkRead, newStruct, func(s ControlServer, ctx context.Context, in *structpb.Struct) (proto.Message, error) {
			return s.MarkRead(ctx, in)
		}),
		unary(MethodReact, newStruct, func(s ControlServer, ctx context.Context, in *structpb.Struct) (proto.Message, error) {
			return s.React(ctx, in)
		}),
		unary(MethodClearCache, newStruct, func(s ControlServer, ctx context.Context, in *structpb.Struct) (proto.Message, error) {
			return s.ClearCache(ctx, in)
		}),
		unary(MethodAvatar, newStruct, func(s ControlServer, ctx context.Context, in *structpb.Struct) (proto.Message, error) {
			return s.Avatar(ctx, in)
		}),
		unary(MethodAttachment, newStruct, func(s ControlServer, ctx context.Context, in *structpb.Struct) (proto.Message, error) {
			return s.Attachment(ctx, in)
		}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "bubbled/v1/control.proto",
}

// unary builds the method descriptor protoc-gen-go-grpc would generate.
func unary[Req proto.Message](name string, newReq func() Req, call func(ControlServer, context.Context, Req) (proto.Message, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ControlServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ControlServer), ctx, req.(Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// FullMethod returns the invoke path for a method name.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}
