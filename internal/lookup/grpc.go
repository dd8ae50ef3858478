package lookup

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "resultledger.lookup.v1.LedgerLookup"

const (
	methodLookup = "/" + ServiceName + "/Lookup"
	methodVerify = "/" + ServiceName + "/Verify"
)

// LedgerLookupServer is the server API of the lookup service. Requests and
// responses are google.protobuf.Struct messages.
type LedgerLookupServer interface {
	Lookup(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Verify(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes LedgerLookup for grpc.Server registration.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerLookupServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Lookup", Handler: unaryHandler(methodLookup, LedgerLookupServer.Lookup)},
		{MethodName: "Verify", Handler: unaryHandler(methodVerify, LedgerLookupServer.Verify)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "resultledger/lookup/v1/lookup.proto",
}

// RegisterLedgerLookupServer registers srv on s.
func RegisterLedgerLookupServer(s grpc.ServiceRegistrar, srv LedgerLookupServer) {
	s.RegisterService(&ServiceDesc, srv)
}

type unaryMethod func(LedgerLookupServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(LedgerLookupServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(LedgerLookupServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Client calls a remote LedgerLookup service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Lookup calls LedgerLookup.Lookup.
func (c *Client) Lookup(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodLookup, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Verify calls LedgerLookup.Verify.
func (c *Client) Verify(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodVerify, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// LoggingInterceptor returns a gRPC unary server interceptor that logs each call.
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Info("grpc",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("latency", time.Since(start)),
		)
		return resp, err
	}
}
