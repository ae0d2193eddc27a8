package api

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "toptalk.v1.TopTalkService"

// TopTalkServer is the gRPC query and control surface. Requests and
// responses use the protobuf well-known types.
type TopTalkServer interface {
	TopN(context.Context, *wrapperspb.UInt32Value) (*structpb.Struct, error)
	FlowCount(context.Context, *emptypb.Empty) (*wrapperspb.UInt64Value, error)
	Interval(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	RestartCapture(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
}

// RegisterTopTalkServer registers srv on s.
func RegisterTopTalkServer(s grpc.ServiceRegistrar, srv TopTalkServer) {
	s.RegisterService(&topTalkServiceDesc, srv)
}

var topTalkServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TopTalkServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "TopN", Handler: topNHandler},
		{MethodName: "FlowCount", Handler: flowCountHandler},
		{MethodName: "Interval", Handler: intervalHandler},
		{MethodName: "RestartCapture", Handler: restartCaptureHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "toptalk/v1/toptalk.proto",
}

func topNHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.UInt32Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TopTalkServer).TopN(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/TopN"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TopTalkServer).TopN(ctx, req.(*wrapperspb.UInt32Value))
	}
	return interceptor(ctx, in, info, handler)
}

func flowCountHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TopTalkServer).FlowCount(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/FlowCount"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TopTalkServer).FlowCount(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func intervalHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TopTalkServer).Interval(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Interval"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TopTalkServer).Interval(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func restartCaptureHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TopTalkServer).RestartCapture(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/RestartCapture"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TopTalkServer).RestartCapture(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// grpcServer implements TopTalkServer on a Service.
type grpcServer struct {
	service *Service
}

// NewGRPCServer wraps s for registration with RegisterTopTalkServer.
func NewGRPCServer(s *Service) TopTalkServer {
	return &grpcServer{service: s}
}

func (g *grpcServer) TopN(ctx context.Context, in *wrapperspb.UInt32Value) (*structpb.Struct, error) {
	resp, err := g.service.TopN(ctx, int(in.GetValue()))
	return resp, toStatus(err)
}

func (g *grpcServer) FlowCount(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.UInt64Value, error) {
	count, err := g.service.FlowCount(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.UInt64(uint64(count)), nil
}

func (g *grpcServer) Interval(_ context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	resp, err := g.service.Interval(in.GetValue())
	return resp, toStatus(err)
}

func (g *grpcServer) RestartCapture(_ context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if in.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "interface name is required")
	}
	if err := g.service.RestartCapture(in.GetValue()); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errUnknownInterval):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, errNoHistory):
		return status.Error(codes.Unimplemented, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// Client calls a remote TopTalkService.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient creates a client over cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) TopN(ctx context.Context, n uint32, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/TopN", wrapperspb.UInt32(n), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) FlowCount(ctx context.Context, opts ...grpc.CallOption) (uint64, error) {
	out := new(wrapperspb.UInt64Value)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/FlowCount", &emptypb.Empty{}, out, opts...); err != nil {
		return 0, err
	}
	return out.GetValue(), nil
}

func (c *Client) Interval(ctx context.Context, interval string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Interval", wrapperspb.String(interval), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) RestartCapture(ctx context.Context, iface string, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, "/"+ServiceName+"/RestartCapture", wrapperspb.String(iface), &emptypb.Empty{}, opts...)
}
