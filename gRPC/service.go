package lanerpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// The service is declared by hand over protobuf well-known types, so
// clients need no generated stubs: any grpc client can call it.
const (
	ServiceName = "lanefinder.LaneService"

	// SessionKey is the metadata key carrying the session id of a ProcessFrame call.
	SessionKey = "session-id"
)

const (
	fullOpenSession  = "/" + ServiceName + "/OpenSession"
	fullProcessFrame = "/" + ServiceName + "/ProcessFrame"
	fullCloseSession = "/" + ServiceName + "/CloseSession"
	fullGetSession   = "/" + ServiceName + "/GetSession"
	fullListSessions = "/" + ServiceName + "/ListSessions"
	fullShutdown     = "/" + ServiceName + "/Shutdown"
)

type LaneServiceServer interface {
	OpenSession(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error)
	ProcessFrame(context.Context, *wrapperspb.BytesValue) (*structpb.Struct, error)
	CloseSession(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	GetSession(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	ListSessions(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Shutdown(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
}

func RegisterLaneServiceServer(s grpc.ServiceRegistrar, srv LaneServiceServer) {
	s.RegisterService(&LaneService_ServiceDesc, srv)
}

// unary builds a method handler for one request type.
func unary[Req any, Resp any](full string, call func(LaneServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(LaneServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(LaneServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var LaneService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LaneServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "OpenSession", Handler: unary(fullOpenSession, LaneServiceServer.OpenSession)},
		{MethodName: "ProcessFrame", Handler: unary(fullProcessFrame, LaneServiceServer.ProcessFrame)},
		{MethodName: "CloseSession", Handler: unary(fullCloseSession, LaneServiceServer.CloseSession)},
		{MethodName: "GetSession", Handler: unary(fullGetSession, LaneServiceServer.GetSession)},
		{MethodName: "ListSessions", Handler: unary(fullListSessions, LaneServiceServer.ListSessions)},
		{MethodName: "Shutdown", Handler: unary(fullShutdown, LaneServiceServer.Shutdown)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "lanefinder.proto",
}

type LaneServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewLaneServiceClient(cc grpc.ClientConnInterface) *LaneServiceClient {
	return &LaneServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts ...grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LaneServiceClient) OpenSession(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	return invoke[wrapperspb.StringValue](ctx, c.cc, fullOpenSession, in, opts...)
}

// ProcessFrame sends an encoded image; ctx must carry SessionKey metadata.
func (c *LaneServiceClient) ProcessFrame(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, fullProcessFrame, in, opts...)
}

func (c *LaneServiceClient) CloseSession(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, fullCloseSession, in, opts...)
}

func (c *LaneServiceClient) GetSession(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, fullGetSession, in, opts...)
}

func (c *LaneServiceClient) ListSessions(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, fullListSessions, in, opts...)
}

func (c *LaneServiceClient) Shutdown(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, fullShutdown, in, opts...)
}
