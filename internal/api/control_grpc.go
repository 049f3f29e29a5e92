package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Full method names of the wxweb.v1.Control service. Requests and responses
// are well-known protobuf types so no generated code is needed.
const (
	ServiceName                       = "wxweb.v1.Control"
	Control_GetStatus_FullMethod      = "/wxweb.v1.Control/GetStatus"
	Control_SendText_FullMethod       = "/wxweb.v1.Control/SendText"
	Control_ListContacts_FullMethod   = "/wxweb.v1.Control/ListContacts"
	Control_ListChats_FullMethod      = "/wxweb.v1.Control/ListChats"
	Control_ListMessages_FullMethod   = "/wxweb.v1.Control/ListMessages"
	Control_SearchMessages_FullMethod = "/wxweb.v1.Control/SearchMessages"
	Control_Logout_FullMethod         = "/wxweb.v1.Control/Logout"
	Control_WatchEvents_FullMethod    = "/wxweb.v1.Control/WatchEvents"
)

// ControlServer is the daemon side of the control service.
type ControlServer interface {
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	SendText(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListContacts(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListChats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SearchMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Logout(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	WatchEvents(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

// RegisterControlServer registers srv on s.
func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&Control_ServiceDesc, srv)
}

func unary[Req, Res any](fullMethod string, call func(ControlServer, context.Context, *Req) (*Res, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ControlServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ControlServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ControlServer).WatchEvents(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// Control_ServiceDesc describes the control service to grpc.
var Control_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatus", Handler: unary(Control_GetStatus_FullMethod, ControlServer.GetStatus)},
		{MethodName: "SendText", Handler: unary(Control_SendText_FullMethod, ControlServer.SendText)},
		{MethodName: "ListContacts", Handler: unary(Control_ListContacts_FullMethod, ControlServer.ListContacts)},
		{MethodName: "ListChats", Handler: unary(Control_ListChats_FullMethod, ControlServer.ListChats)},
		{MethodName: "ListMessages", Handler: unary(Control_ListMessages_FullMethod, ControlServer.ListMessages)},
		{MethodName: "SearchMessages", Handler: unary(Control_SearchMessages_FullMethod, ControlServer.SearchMessages)},
		{MethodName: "Logout", Handler: unary(Control_Logout_FullMethod, ControlServer.Logout)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchEvents", Handler: watchEventsHandler, ServerStreams: true},
	},
	Metadata: "wxweb/v1/control",
}

// ControlClient calls the control service of a running daemon.
type ControlClient struct {
	cc grpc.ClientConnInterface
}

// NewControlClient wraps a connection.
func NewControlClient(cc grpc.ClientConnInterface) *ControlClient {
	return &ControlClient{cc: cc}
}

func invoke[Res any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Res, error) {
	out := new(Res)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ControlClient) GetStatus(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, Control_GetStatus_FullMethod, &emptypb.Empty{}, opts)
}

func (c *ControlClient) SendText(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, Control_SendText_FullMethod, in, opts)
}

func (c *ControlClient) ListContacts(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, Control_ListContacts_FullMethod, in, opts)
}

func (c *ControlClient) ListChats(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, Control_ListChats_FullMethod, in, opts)
}

func (c *ControlClient) ListMessages(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, Control_ListMessages_FullMethod, in, opts)
}

func (c *ControlClient) SearchMessages(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, Control_SearchMessages_FullMethod, in, opts)
}

func (c *ControlClient) Logout(ctx context.Context, opts ...grpc.CallOption) error {
	_, err := invoke[emptypb.Empty](ctx, c.cc, Control_Logout_FullMethod, &emptypb.Empty{}, opts)
	return err
}

// WatchEvents streams bus events whose kind starts with the "prefix" field
// of in.
func (c *ControlClient) WatchEvents(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &Control_ServiceDesc.Streams[0], Control_WatchEvents_FullMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
