// Package adminrpc exposes the gateway's admin operations over gRPC. Requests
// and responses are google.protobuf.Struct messages so the service needs no
// generated stubs.
package adminrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "terminus.admin.v1.AdminService"

// Method names, one per admin command.
const (
	MethodGetInfo            = "getinfo"
	MethodGetAccountInfo     = "getaccountinfo"
	MethodGetAccountReceipts = "getaccountreceipts"
	MethodCreate             = "create"
	MethodRemove             = "rm"
	MethodConnect            = "connect"
	MethodListen             = "listen"
	MethodClear              = "clear"
)

// Methods lists every admin method in help order.
var Methods = []string{
	MethodGetInfo,
	MethodGetAccountInfo,
	MethodGetAccountReceipts,
	MethodCreate,
	MethodRemove,
	MethodConnect,
	MethodListen,
	MethodClear,
}

// Handler serves one admin method.
type Handler interface {
	Handle(ctx context.Context, method string, request *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the admin service for grpc.Server.RegisterService.
var ServiceDesc = newServiceDesc()

func newServiceDesc() grpc.ServiceDesc {
	methods := make([]grpc.MethodDesc, 0, len(Methods))
	for _, method := range Methods {
		methods = append(methods, grpc.MethodDesc{
			MethodName: method,
			Handler:    unaryHandler(method),
		})
	}
	return grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*Handler)(nil),
		Methods:     methods,
		Streams:     []grpc.StreamDesc{},
		Metadata:    "terminus/admin/v1/admin.proto",
	}
}

// FullMethod returns the gRPC path of method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func unaryHandler(method string) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(server any, ctx context.Context, decode func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		request := &structpb.Struct{}
		if err := decode(request); err != nil {
			return nil, err
		}
		handler := server.(Handler)
		if interceptor == nil {
			return handler.Handle(ctx, method, request)
		}
		info := &grpc.UnaryServerInfo{Server: server, FullMethod: FullMethod(method)}
		return interceptor(ctx, request, info, func(ctx context.Context, request any) (any, error) {
			return handler.Handle(ctx, method, request.(*structpb.Struct))
		})
	}
}

// RegisterHandler attaches handler to registrar.
func RegisterHandler(registrar grpc.ServiceRegistrar, handler Handler) {
	registrar.RegisterService(&ServiceDesc, handler)
}
