// Package replication implements the replication controller: cluster
// membership tracking, primary election (lowest live node id), primary
// endpoint advertisement, and the primary-to-follower state pipeline
// (snapshot on join, then incremental add-messages/set-message-state).
package replication

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cairijun/pork/internal/broker"
	"github.com/cairijun/pork/internal/coordination"
	"github.com/cairijun/pork/internal/flowcontrol"
	"github.com/cairijun/pork/internal/logging"
	"github.com/cairijun/pork/internal/metrics"
	"github.com/cairijun/pork/internal/pork"
)

// var _ asserts Controller satisfies broker.Replicator without broker
// needing to import replication back.
var _ broker.Replicator = (*Controller)(nil)

const (
	nodesPath  = "/pork/broker/nodes"
	leaderPath = "/pork/broker/leader"
)

// Dispatcher is the subset of broker.Dispatcher the controller drives:
// scanning and rebuilding the engine map. Declared narrowly here (rather
// than taking *broker.Dispatcher) so tests can substitute a fake.
type Dispatcher interface {
	Engines() map[string]*pork.Engine
	EnsureEngine(name string) *pork.Engine
}

// FollowerLink is the client side of the follower-facing RPC surface: the
// controller uses it to push the three replication operations to one
// connected follower. The concrete implementation in internal/transport
// dials the peer's gRPC replication service.
type FollowerLink interface {
	Address() string
	SyncSnapshot(ctx context.Context, snap pork.SnapshotSdto) error
	SyncAddMessages(ctx context.Context, queue string, msgs []pork.Message, deps []pork.Dependency) error
	SyncSetMessageState(ctx context.Context, queue string, id uint64, state pork.MessageState) error
	Close() error
}

// DialFunc dials a peer broker's replication service given its advertised
// address (the Data a node registered itself with under nodesPath),
// returning a FollowerLink. internal/transport supplies the gRPC-backed
// implementation; a nil DialFunc disables automatic peer connection, which
// is what tests that drive AddFollower directly want.
type DialFunc func(addr string) (FollowerLink, error)

// pendingUpdate is one buffered live replication call received while a
// follower link is still catching up via syncSnapshot, queued so it can be
// replayed in arrival order afterward.
type pendingUpdate struct {
	kind  string // "add" or "state"
	queue string
	msgs  []pork.Message
	deps  []pork.Dependency
	id    uint64
	state pork.MessageState
}

// Controller tracks live broker nodes, elects a primary, and pipelines
// mutating operations to every follower. State transitions are driven
// solely by coordination-service membership events; there is no in-band
// heartbeating between brokers.
type Controller struct {
	coord      coordination.Coordinator
	dispatcher Dispatcher
	address    string
	dial       DialFunc

	nodeID int64

	mu        sync.RWMutex
	liveNodes []int64
	isLeader  atomic.Bool

	followerSeq atomic.Int64
	followersMu sync.Mutex
	followers   map[int64]*followerState
	connected   map[string]bool // peer address -> a follower link is already established
}

// followerState tracks one connected follower. mu serializes the
// catch-up drain in AddFollower against concurrent Propagate* calls for
// this follower: both the "is this follower still mid-snapshot" check and
// the resulting buffer-or-send must happen under mu so a live update
// can never be sent ahead of buffered updates that arrived earlier.
type followerState struct {
	link     FollowerLink
	mu       sync.Mutex
	caughtUp bool
	pending  *flowcontrol.Queue[pendingUpdate]
}

// NewController registers this broker under nodesPath, installs a watch on
// its children, and returns a controller whose node id is the assigned
// sequence number. Leader election runs from the watch callback as
// membership changes arrive; it does not run synchronously here.
// dial, when non-nil, is used to connect to peer followers as they join
// the cluster or as this node completes a leader election; internal/transport
// supplies the real gRPC dialer in cmd/pork/serve.go, while tests that drive
// AddFollower directly pass nil.
func NewController(ctx context.Context, coord coordination.Coordinator, dispatcher Dispatcher, advertisedAddr string, dial DialFunc) (*Controller, error) {
	node, err := coord.CreateSequentialEphemeral(ctx, nodesPath, []byte(advertisedAddr))
	if err != nil {
		return nil, fmt.Errorf("%w: registering node: %v", pork.ErrCoordinationFailure, err)
	}

	c := &Controller{
		coord:      coord,
		dispatcher: dispatcher,
		address:    advertisedAddr,
		dial:       dial,
		nodeID:     node.Seq,
		followers:  make(map[int64]*followerState),
		connected:  make(map[string]bool),
	}

	if err := coord.Watch(ctx, nodesPath, c.onMembershipChange); err != nil {
		return nil, fmt.Errorf("%w: installing membership watch: %v", pork.ErrCoordinationFailure, err)
	}

	return c, nil
}

// NodeID returns this broker's coordination-assigned node id.
func (c *Controller) NodeID() int64 { return c.nodeID }

// IsLeader reports whether this broker currently believes it is primary.
func (c *Controller) IsLeader() bool { return c.isLeader.Load() }

func (c *Controller) onMembershipChange(children []coordination.Node) {
	ids := make([]int64, 0, len(children))
	for _, n := range children {
		ids = append(ids, n.Seq)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	c.mu.Lock()
	c.liveNodes = ids
	c.mu.Unlock()

	metrics.Default().SetClusterSize(len(ids))

	if len(ids) == 0 {
		return
	}
	leader := ids[0]
	if leader != c.nodeID {
		return
	}
	if !c.isLeader.Load() {
		c.completeElection()
	}
	c.connectFollowers(children)
}

// completeElection runs the leader-election completion sequence: start
// serving on every known engine, flip is_leader, then publish the leader
// advertisement znode.
func (c *Controller) completeElection() {
	for _, e := range c.dispatcher.Engines() {
		e.StartServing()
	}
	c.isLeader.Store(true)
	metrics.Default().SetLeader(true)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.coord.CreateEphemeral(ctx, leaderPath, []byte(c.address)); err != nil {
		logging.Op().Error("failed to publish leader znode", "error", err)
	}
	logging.Op().Info("leader election complete", "node_id", c.nodeID, "address", c.address)
}

// connectFollowers dials every live peer this primary hasn't already
// connected to and registers it via AddFollower, which seeds it with a
// snapshot before any live update is forwarded. Runs on every membership
// change while this node is leader, not only at election completion, so a
// broker that joins an already-running cluster still gets connected.
// Dialing and the snapshot handshake happen off the watch-callback
// goroutine so a slow or unreachable peer never blocks processing of
// further membership events.
func (c *Controller) connectFollowers(children []coordination.Node) {
	if c.dial == nil {
		return
	}
	for _, n := range children {
		if n.Seq == c.nodeID {
			continue
		}
		addr := string(n.Data)
		if addr == "" {
			continue
		}

		c.followersMu.Lock()
		already := c.connected[addr]
		if !already {
			c.connected[addr] = true
		}
		c.followersMu.Unlock()
		if already {
			continue
		}

		go func(addr string) {
			link, err := c.dial(addr)
			if err != nil {
				logging.Op().Error("failed to dial follower", "address", addr, "error", err)
				c.followersMu.Lock()
				delete(c.connected, addr)
				c.followersMu.Unlock()
				return
			}
			if err := c.AddFollower(context.Background(), link); err != nil {
				logging.Op().Error("failed to add follower", "address", addr, "error", err)
				c.followersMu.Lock()
				delete(c.connected, addr)
				c.followersMu.Unlock()
			}
		}(addr)
	}
}

// AddFollower registers link as a newly joined follower: it receives a
// snapshot of the current state, after which any live update buffered in
// the meantime is replayed in arrival order and caughtUp flips, so later
// updates go straight to the link.
func (c *Controller) AddFollower(ctx context.Context, link FollowerLink) error {
	fs := &followerState{
		link:    link,
		pending: flowcontrol.New[pendingUpdate](0, 1<<20),
	}

	followerID := c.followerSeq.Add(1)
	c.followersMu.Lock()
	c.followers[followerID] = fs
	c.followersMu.Unlock()

	snap := pork.SnapshotSdto{Queues: make(map[string]pork.QueueSdto)}
	for name, e := range c.dispatcher.Engines() {
		snap.Queues[name] = e.Snapshot()
	}

	if err := link.SyncSnapshot(ctx, snap); err != nil {
		c.followersMu.Lock()
		delete(c.followers, followerID)
		c.followersMu.Unlock()
		return fmt.Errorf("%w: syncSnapshot to %s: %v", pork.ErrTransportFailure, link.Address(), err)
	}

	// Hold fs.mu across the whole drain-then-flip: Propagate* takes the
	// same lock before deciding whether to buffer or send directly, so no
	// live update can reach the link ahead of one still sitting in
	// pending from before the snapshot completed.
	fs.mu.Lock()
	for {
		upd, err := fs.pending.Pop(ctx, time.Millisecond)
		if err != nil {
			break
		}
		c.replayOne(ctx, link, upd)
	}
	fs.caughtUp = true
	fs.mu.Unlock()

	logging.Op().Info("follower caught up", "address", link.Address())
	return nil
}

func (c *Controller) replayOne(ctx context.Context, link FollowerLink, upd pendingUpdate) {
	var err error
	switch upd.kind {
	case "add":
		err = link.SyncAddMessages(ctx, upd.queue, upd.msgs, upd.deps)
	case "state":
		err = link.SyncSetMessageState(ctx, upd.queue, upd.id, upd.state)
	}
	if err != nil {
		logging.Op().Error("replay to follower failed", "address", link.Address(), "error", err)
	}
}

// PropagateAddMessages pipelines an add-messages operation to every
// follower. Followers still syncing buffer the update instead of
// forwarding it over their link immediately, preserving "snapshot
// precedes any live update a follower accepts."
func (c *Controller) PropagateAddMessages(ctx context.Context, queue string, msgs []pork.Message, deps []pork.Dependency) {
	c.forEachFollower(func(fs *followerState) {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		if !fs.caughtUp {
			fs.pending.Put(pendingUpdate{kind: "add", queue: queue, msgs: msgs, deps: deps})
			return
		}
		if err := fs.link.SyncAddMessages(ctx, queue, msgs, deps); err != nil {
			logging.Op().Error("syncAddMessages failed", "address", fs.link.Address(), "error", err)
		}
	})
}

// PropagateSetMessageState pipelines a set-message-state operation to
// every follower, buffering it the same way as PropagateAddMessages for a
// follower still mid-snapshot.
func (c *Controller) PropagateSetMessageState(ctx context.Context, queue string, id uint64, state pork.MessageState) {
	c.forEachFollower(func(fs *followerState) {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		if !fs.caughtUp {
			fs.pending.Put(pendingUpdate{kind: "state", queue: queue, id: id, state: state})
			return
		}
		if err := fs.link.SyncSetMessageState(ctx, queue, id, state); err != nil {
			logging.Op().Error("syncSetMessageState failed", "address", fs.link.Address(), "error", err)
		}
	})
}

func (c *Controller) forEachFollower(fn func(*followerState)) {
	c.followersMu.Lock()
	links := make([]*followerState, 0, len(c.followers))
	for _, fs := range c.followers {
		links = append(links, fs)
	}
	c.followersMu.Unlock()
	for _, fs := range links {
		fn(fs)
	}
}

// ApplySnapshot is the follower-side handler for syncSnapshot: it rebuilds
// the entire engine map from snap. A local engine whose queue is absent
// from snap is reset to empty.
func ApplySnapshot(dispatcher Dispatcher, snap pork.SnapshotSdto) {
	for name, e := range dispatcher.Engines() {
		if _, ok := snap.Queues[name]; !ok {
			e.ConstructFromSnapshot(pork.QueueSdto{})
		}
	}
	for name, qsdto := range snap.Queues {
		dispatcher.EnsureEngine(name).ConstructFromSnapshot(qsdto)
	}
}

// ApplyAddMessages is the follower-side handler for syncAddMessages: the
// messages arrive with ids already assigned.
func ApplyAddMessages(dispatcher Dispatcher, queue string, msgs []pork.Message, deps []pork.Dependency) {
	e := dispatcher.EnsureEngine(queue)
	for _, m := range msgs {
		e.PushMessage(m, deps)
	}
}

// ApplySetMessageState is the follower-side handler for
// syncSetMessageState.
func ApplySetMessageState(dispatcher Dispatcher, queue string, id uint64, state pork.MessageState) error {
	return dispatcher.EnsureEngine(queue).SetMessageState(id, state)
}
