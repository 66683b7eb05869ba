package transport

import (
	"context"
	"errors"
	"net"
	"time"

	"google.golang.org/grpc"

	"github.com/cairijun/pork/internal/broker"
	"github.com/cairijun/pork/internal/metrics"
	"github.com/cairijun/pork/internal/observability"
	"github.com/cairijun/pork/internal/pork"
	"github.com/cairijun/pork/internal/replication"
)

// brokerServer adapts a *broker.Dispatcher to BrokerServer, timing every
// call and translating pork's sentinel errors into gRPC statuses.
type brokerServer struct {
	dispatcher *broker.Dispatcher
}

// NewBrokerServer returns the BrokerServer implementation backed by
// dispatcher.
func NewBrokerServer(dispatcher *broker.Dispatcher) BrokerServer {
	return &brokerServer{dispatcher: dispatcher}
}

// timed wraps a handler body with a server span (tagged with queue) and a
// latency observation under method. fn receives the span's context and
// marks the span errored itself via observability.SetSpanError.
func timed(ctx context.Context, method, queue string, fn func(context.Context)) {
	ctx, span := observability.StartServerSpan(ctx, "pork.Broker/"+method, observability.AttrQueue.String(queue))
	defer span.End()
	start := time.Now()
	fn(ctx)
	metrics.Default().ObserveRPCLatencyMs(method, float64(time.Since(start).Milliseconds()))
}

func (s *brokerServer) GetMessage(ctx context.Context, req *GetMessageRequest) (resp *GetMessageResponse, err error) {
	timed(ctx, "GetMessage", req.Queue, func(ctx context.Context) {
		msg, e := s.dispatcher.GetMessage(ctx, req.Queue, req.LastID)
		if e != nil {
			if errors.Is(e, pork.ErrTimeout) {
				resp = &GetMessageResponse{Timeout: true}
				return
			}
			observability.SetSpanError(observability.SpanFromContext(ctx), e)
			err = wrapError(e)
			return
		}
		resp = &GetMessageResponse{Message: msg}
	})
	return
}

func (s *brokerServer) AddMessage(ctx context.Context, req *AddMessageRequest) (resp *AddMessageResponse, err error) {
	timed(ctx, "AddMessage", req.Queue, func(ctx context.Context) {
		id, e := s.dispatcher.AddMessage(ctx, req.Queue, req.Msg, req.Deps)
		if e != nil {
			observability.SetSpanError(observability.SpanFromContext(ctx), e)
			err = wrapError(e)
			return
		}
		resp = &AddMessageResponse{ID: id}
	})
	return
}

func (s *brokerServer) AddMessageGroup(ctx context.Context, req *AddMessageGroupRequest) (resp *AddMessageGroupResponse, err error) {
	timed(ctx, "AddMessageGroup", req.Queue, func(ctx context.Context) {
		ids, e := s.dispatcher.AddMessageGroup(ctx, req.Queue, req.Msgs, req.Deps)
		if e != nil {
			observability.SetSpanError(observability.SpanFromContext(ctx), e)
			err = wrapError(e)
			return
		}
		resp = &AddMessageGroupResponse{IDs: ids}
	})
	return
}

func (s *brokerServer) Ack(ctx context.Context, req *AckRequest) (resp *AckResponse, err error) {
	timed(ctx, "Ack", req.Queue, func(ctx context.Context) {
		if e := s.dispatcher.Ack(ctx, req.Queue, req.ID); e != nil {
			observability.SetSpanError(observability.SpanFromContext(ctx), e)
			err = wrapError(e)
			return
		}
		resp = &AckResponse{}
	})
	return
}

func (s *brokerServer) Fail(ctx context.Context, req *FailRequest) (resp *FailResponse, err error) {
	timed(ctx, "Fail", req.Queue, func(ctx context.Context) {
		if e := s.dispatcher.Fail(ctx, req.Queue, req.ID); e != nil {
			observability.SetSpanError(observability.SpanFromContext(ctx), e)
			err = wrapError(e)
			return
		}
		resp = &FailResponse{}
	})
	return
}

// replicationServer adapts a replication.Dispatcher (the broker's engine
// map) to ReplicationServer, applying whatever a primary pushes to this
// follower's local engines.
type replicationServer struct {
	dispatcher replication.Dispatcher
}

// NewReplicationServer returns the ReplicationServer implementation that
// applies incoming replication calls to dispatcher's engines.
func NewReplicationServer(dispatcher replication.Dispatcher) ReplicationServer {
	return &replicationServer{dispatcher: dispatcher}
}

func (s *replicationServer) SyncSnapshot(_ context.Context, req *SyncSnapshotRequest) (*SyncSnapshotResponse, error) {
	replication.ApplySnapshot(s.dispatcher, req.Snapshot)
	return &SyncSnapshotResponse{}, nil
}

func (s *replicationServer) SyncAddMessages(_ context.Context, req *SyncAddMessagesRequest) (*SyncAddMessagesResponse, error) {
	replication.ApplyAddMessages(s.dispatcher, req.Queue, req.Msgs, req.Deps)
	return &SyncAddMessagesResponse{}, nil
}

func (s *replicationServer) SyncSetMessageState(_ context.Context, req *SyncSetMessageStateRequest) (*SyncSetMessageStateResponse, error) {
	if err := replication.ApplySetMessageState(s.dispatcher, req.Queue, req.ID, req.State); err != nil {
		return nil, wrapError(err)
	}
	return &SyncSetMessageStateResponse{}, nil
}

// NewServer builds a *grpc.Server with both services registered. It sets
// no codec option: each call is decoded with the codec named by its
// content-subtype, which clients dialed with Dial set to the JSON codec.
func NewServer(dispatcher *broker.Dispatcher, replicationDispatcher replication.Dispatcher) *grpc.Server {
	s := grpc.NewServer()
	RegisterBrokerServer(s, NewBrokerServer(dispatcher))
	RegisterReplicationServer(s, NewReplicationServer(replicationDispatcher))
	return s
}

// Listen opens a TCP listener on addr for use with (*grpc.Server).Serve.
func Listen(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}
