package transport

import (
	"context"

	"google.golang.org/grpc"
)

// BrokerServer is the client-facing RPC surface the primary broker
// implements: the five operations a worker or producer can call.
type BrokerServer interface {
	GetMessage(context.Context, *GetMessageRequest) (*GetMessageResponse, error)
	AddMessage(context.Context, *AddMessageRequest) (*AddMessageResponse, error)
	AddMessageGroup(context.Context, *AddMessageGroupRequest) (*AddMessageGroupResponse, error)
	Ack(context.Context, *AckRequest) (*AckResponse, error)
	Fail(context.Context, *FailRequest) (*FailResponse, error)
}

// BrokerClient is the client stub for BrokerServer, dialed against
// whichever node currently advertises itself as primary.
type BrokerClient interface {
	GetMessage(ctx context.Context, in *GetMessageRequest, opts ...grpc.CallOption) (*GetMessageResponse, error)
	AddMessage(ctx context.Context, in *AddMessageRequest, opts ...grpc.CallOption) (*AddMessageResponse, error)
	AddMessageGroup(ctx context.Context, in *AddMessageGroupRequest, opts ...grpc.CallOption) (*AddMessageGroupResponse, error)
	Ack(ctx context.Context, in *AckRequest, opts ...grpc.CallOption) (*AckResponse, error)
	Fail(ctx context.Context, in *FailRequest, opts ...grpc.CallOption) (*FailResponse, error)
}

type brokerClient struct {
	cc grpc.ClientConnInterface
}

// NewBrokerClient wraps an established gRPC connection as a BrokerClient.
func NewBrokerClient(cc grpc.ClientConnInterface) BrokerClient {
	return &brokerClient{cc: cc}
}

func (c *brokerClient) GetMessage(ctx context.Context, in *GetMessageRequest, opts ...grpc.CallOption) (*GetMessageResponse, error) {
	out := new(GetMessageResponse)
	if err := c.cc.Invoke(ctx, "/pork.Broker/GetMessage", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *brokerClient) AddMessage(ctx context.Context, in *AddMessageRequest, opts ...grpc.CallOption) (*AddMessageResponse, error) {
	out := new(AddMessageResponse)
	if err := c.cc.Invoke(ctx, "/pork.Broker/AddMessage", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *brokerClient) AddMessageGroup(ctx context.Context, in *AddMessageGroupRequest, opts ...grpc.CallOption) (*AddMessageGroupResponse, error) {
	out := new(AddMessageGroupResponse)
	if err := c.cc.Invoke(ctx, "/pork.Broker/AddMessageGroup", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *brokerClient) Ack(ctx context.Context, in *AckRequest, opts ...grpc.CallOption) (*AckResponse, error) {
	out := new(AckResponse)
	if err := c.cc.Invoke(ctx, "/pork.Broker/Ack", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *brokerClient) Fail(ctx context.Context, in *FailRequest, opts ...grpc.CallOption) (*FailResponse, error) {
	out := new(FailResponse)
	if err := c.cc.Invoke(ctx, "/pork.Broker/Fail", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func _Broker_GetMessage_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetMessageRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BrokerServer).GetMessage(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/pork.Broker/GetMessage"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BrokerServer).GetMessage(ctx, req.(*GetMessageRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Broker_AddMessage_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(AddMessageRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BrokerServer).AddMessage(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/pork.Broker/AddMessage"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BrokerServer).AddMessage(ctx, req.(*AddMessageRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Broker_AddMessageGroup_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(AddMessageGroupRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BrokerServer).AddMessageGroup(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/pork.Broker/AddMessageGroup"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BrokerServer).AddMessageGroup(ctx, req.(*AddMessageGroupRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Broker_Ack_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(AckRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BrokerServer).Ack(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/pork.Broker/Ack"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BrokerServer).Ack(ctx, req.(*AckRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Broker_Fail_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(FailRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BrokerServer).Fail(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/pork.Broker/Fail"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BrokerServer).Fail(ctx, req.(*FailRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// BrokerServiceDesc is the hand-authored equivalent of a protoc-gen-go-grpc
// _ServiceDesc: it lets RegisterBrokerServer attach a BrokerServer
// implementation to a *grpc.Server without any .proto file or code
// generation step, using the JSON codec registered in codec.go in place of
// protobuf wire encoding.
var BrokerServiceDesc = grpc.ServiceDesc{
	ServiceName: "pork.Broker",
	HandlerType: (*BrokerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetMessage", Handler: _Broker_GetMessage_Handler},
		{MethodName: "AddMessage", Handler: _Broker_AddMessage_Handler},
		{MethodName: "AddMessageGroup", Handler: _Broker_AddMessageGroup_Handler},
		{MethodName: "Ack", Handler: _Broker_Ack_Handler},
		{MethodName: "Fail", Handler: _Broker_Fail_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pork/broker.go",
}

// RegisterBrokerServer attaches srv to s under BrokerServiceDesc.
func RegisterBrokerServer(s grpc.ServiceRegistrar, srv BrokerServer) {
	s.RegisterService(&BrokerServiceDesc, srv)
}
