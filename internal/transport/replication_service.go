package transport

import (
	"context"

	"google.golang.org/grpc"
)

// ReplicationServer is the follower-facing RPC surface: the three
// operations a primary pushes to every connected follower.
type ReplicationServer interface {
	SyncSnapshot(context.Context, *SyncSnapshotRequest) (*SyncSnapshotResponse, error)
	SyncAddMessages(context.Context, *SyncAddMessagesRequest) (*SyncAddMessagesResponse, error)
	SyncSetMessageState(context.Context, *SyncSetMessageStateRequest) (*SyncSetMessageStateResponse, error)
}

// ReplicationClient is the client stub a primary uses to drive one
// follower connection.
type ReplicationClient interface {
	SyncSnapshot(ctx context.Context, in *SyncSnapshotRequest, opts ...grpc.CallOption) (*SyncSnapshotResponse, error)
	SyncAddMessages(ctx context.Context, in *SyncAddMessagesRequest, opts ...grpc.CallOption) (*SyncAddMessagesResponse, error)
	SyncSetMessageState(ctx context.Context, in *SyncSetMessageStateRequest, opts ...grpc.CallOption) (*SyncSetMessageStateResponse, error)
}

type replicationClient struct {
	cc grpc.ClientConnInterface
}

// NewReplicationClient wraps an established gRPC connection as a
// ReplicationClient.
func NewReplicationClient(cc grpc.ClientConnInterface) ReplicationClient {
	return &replicationClient{cc: cc}
}

func (c *replicationClient) SyncSnapshot(ctx context.Context, in *SyncSnapshotRequest, opts ...grpc.CallOption) (*SyncSnapshotResponse, error) {
	out := new(SyncSnapshotResponse)
	if err := c.cc.Invoke(ctx, "/pork.Replication/SyncSnapshot", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *replicationClient) SyncAddMessages(ctx context.Context, in *SyncAddMessagesRequest, opts ...grpc.CallOption) (*SyncAddMessagesResponse, error) {
	out := new(SyncAddMessagesResponse)
	if err := c.cc.Invoke(ctx, "/pork.Replication/SyncAddMessages", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *replicationClient) SyncSetMessageState(ctx context.Context, in *SyncSetMessageStateRequest, opts ...grpc.CallOption) (*SyncSetMessageStateResponse, error) {
	out := new(SyncSetMessageStateResponse)
	if err := c.cc.Invoke(ctx, "/pork.Replication/SyncSetMessageState", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func _Replication_SyncSnapshot_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SyncSnapshotRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ReplicationServer).SyncSnapshot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/pork.Replication/SyncSnapshot"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ReplicationServer).SyncSnapshot(ctx, req.(*SyncSnapshotRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Replication_SyncAddMessages_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SyncAddMessagesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ReplicationServer).SyncAddMessages(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/pork.Replication/SyncAddMessages"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ReplicationServer).SyncAddMessages(ctx, req.(*SyncAddMessagesRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Replication_SyncSetMessageState_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SyncSetMessageStateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ReplicationServer).SyncSetMessageState(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/pork.Replication/SyncSetMessageState"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ReplicationServer).SyncSetMessageState(ctx, req.(*SyncSetMessageStateRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ReplicationServiceDesc is the hand-authored ServiceDesc for the
// follower-facing replication RPCs, in the same style as
// BrokerServiceDesc.
var ReplicationServiceDesc = grpc.ServiceDesc{
	ServiceName: "pork.Replication",
	HandlerType: (*ReplicationServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SyncSnapshot", Handler: _Replication_SyncSnapshot_Handler},
		{MethodName: "SyncAddMessages", Handler: _Replication_SyncAddMessages_Handler},
		{MethodName: "SyncSetMessageState", Handler: _Replication_SyncSetMessageState_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pork/replication.go",
}

// RegisterReplicationServer attaches srv to s under ReplicationServiceDesc.
func RegisterReplicationServer(s grpc.ServiceRegistrar, srv ReplicationServer) {
	s.RegisterService(&ReplicationServiceDesc, srv)
}
