package transport

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cairijun/pork/internal/pork"
	"github.com/cairijun/pork/internal/replication"
)

// callOptions forces every call made over a connection dialed with Dial to
// use the JSON codec registered in codec.go instead of protobuf.
func callOptions() []grpc.CallOption {
	return []grpc.CallOption{grpc.CallContentSubtype(codecName)}
}

// Dial opens a plaintext gRPC connection to addr. Production deployments
// behind a service mesh or with peer TLS terminate encryption elsewhere;
// this mirrors the teacher's own unauthenticated intra-cluster transport.
func Dial(addr string) (*grpc.ClientConn, error) {
	return grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(callOptions()...),
	)
}

// followerLink adapts a dialed replication client connection to
// replication.FollowerLink, the interface the replication controller
// drives without needing to know it's talking gRPC.
type followerLink struct {
	addr string
	conn *grpc.ClientConn
	rc   ReplicationClient
}

// NewFollowerLink dials addr and returns a replication.FollowerLink backed
// by the replication gRPC service at that address.
func NewFollowerLink(addr string) (replication.FollowerLink, error) {
	conn, err := Dial(addr)
	if err != nil {
		return nil, wrapDialError(addr, err)
	}
	return &followerLink{addr: addr, conn: conn, rc: NewReplicationClient(conn)}, nil
}

func wrapDialError(addr string, err error) error {
	return &dialError{addr: addr, err: err}
}

type dialError struct {
	addr string
	err  error
}

func (e *dialError) Error() string { return "transport: dialing " + e.addr + ": " + e.err.Error() }
func (e *dialError) Unwrap() error { return e.err }

func (f *followerLink) Address() string { return f.addr }

func (f *followerLink) SyncSnapshot(ctx context.Context, snap pork.SnapshotSdto) error {
	_, err := f.rc.SyncSnapshot(ctx, &SyncSnapshotRequest{Snapshot: snap})
	if err != nil {
		return unwrapError(err)
	}
	return nil
}

func (f *followerLink) SyncAddMessages(ctx context.Context, queue string, msgs []pork.Message, deps []pork.Dependency) error {
	_, err := f.rc.SyncAddMessages(ctx, &SyncAddMessagesRequest{Queue: queue, Msgs: msgs, Deps: deps})
	if err != nil {
		return unwrapError(err)
	}
	return nil
}

func (f *followerLink) SyncSetMessageState(ctx context.Context, queue string, id uint64, state pork.MessageState) error {
	_, err := f.rc.SyncSetMessageState(ctx, &SyncSetMessageStateRequest{Queue: queue, ID: id, State: state})
	if err != nil {
		return unwrapError(err)
	}
	return nil
}

func (f *followerLink) Close() error {
	return f.conn.Close()
}

var _ replication.FollowerLink = (*followerLink)(nil)
