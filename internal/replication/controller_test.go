package replication

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cairijun/pork/internal/coordination"
	"github.com/cairijun/pork/internal/pork"
)

type fakeDispatcher struct {
	mu      sync.Mutex
	engines map[string]*pork.Engine
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{engines: make(map[string]*pork.Engine)}
}

func (f *fakeDispatcher) Engines() map[string]*pork.Engine {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]*pork.Engine, len(f.engines))
	for k, v := range f.engines {
		out[k] = v
	}
	return out
}

func (f *fakeDispatcher) EnsureEngine(name string) *pork.Engine {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.engines[name]; ok {
		return e
	}
	e := pork.NewEngine(name, time.Second)
	f.engines[name] = e
	return e
}

type fakeLink struct {
	addr string

	mu           sync.Mutex
	snapshots    []pork.SnapshotSdto
	addCalls     []string
	stateCalls   []uint64
}

func (f *fakeLink) Address() string { return f.addr }

func (f *fakeLink) SyncSnapshot(_ context.Context, snap pork.SnapshotSdto) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, snap)
	return nil
}

func (f *fakeLink) SyncAddMessages(_ context.Context, queue string, msgs []pork.Message, deps []pork.Dependency) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addCalls = append(f.addCalls, queue)
	return nil
}

func (f *fakeLink) SyncSetMessageState(_ context.Context, queue string, id uint64, state pork.MessageState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateCalls = append(f.stateCalls, id)
	return nil
}

func (f *fakeLink) Close() error { return nil }

func TestControllerAssignsNodeIDFromCoordination(t *testing.T) {
	cluster := coordination.NewCluster()
	coord := cluster.Connect()
	defer coord.Close()

	dispatcher := newFakeDispatcher()
	ctrl, err := NewController(context.Background(), coord, dispatcher, "host1:7330", nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	if ctrl.NodeID() != 0 {
		t.Fatalf("expected the first registered node to get id 0, got %d", ctrl.NodeID())
	}
}

func TestSoleNodeBecomesLeader(t *testing.T) {
	cluster := coordination.NewCluster()
	coord := cluster.Connect()
	defer coord.Close()

	dispatcher := newFakeDispatcher()
	dispatcher.EnsureEngine("q")

	ctrl, err := NewController(context.Background(), coord, dispatcher, "host1:7330", nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for !ctrl.IsLeader() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !ctrl.IsLeader() {
		t.Fatal("expected the sole registered node to become leader")
	}
	if !dispatcher.EnsureEngine("q").IsServing() {
		t.Fatal("expected leader election to call StartServing on every known engine")
	}
}

func TestLeaderDialsNewlyJoinedFollower(t *testing.T) {
	cluster := coordination.NewCluster()
	leaderCoord := cluster.Connect()
	defer leaderCoord.Close()
	followerCoord := cluster.Connect()
	defer followerCoord.Close()

	var dialedAddr sync.Map
	dial := func(addr string) (FollowerLink, error) {
		link := &fakeLink{addr: addr}
		dialedAddr.Store(addr, link)
		return link, nil
	}

	leaderDispatcher := newFakeDispatcher()
	leaderCtrl, err := NewController(context.Background(), leaderCoord, leaderDispatcher, "leader:7330", dial)
	if err != nil {
		t.Fatalf("NewController (leader): %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for !leaderCtrl.IsLeader() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !leaderCtrl.IsLeader() {
		t.Fatal("expected the first registered node to become leader")
	}

	followerDispatcher := newFakeDispatcher()
	if _, err := NewController(context.Background(), followerCoord, followerDispatcher, "follower:7330", nil); err != nil {
		t.Fatalf("NewController (follower): %v", err)
	}

	deadline = time.Now().Add(time.Second)
	var link *fakeLink
	for time.Now().Before(deadline) {
		if v, ok := dialedAddr.Load("follower:7330"); ok {
			link = v.(*fakeLink)
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if link == nil {
		t.Fatal("expected the leader to dial the newly joined follower")
	}

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		link.mu.Lock()
		n := len(link.snapshots)
		link.mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected the follower link to receive exactly one snapshot")
}

func TestAddFollowerSendsExactlyOneSnapshot(t *testing.T) {
	cluster := coordination.NewCluster()
	coord := cluster.Connect()
	defer coord.Close()

	dispatcher := newFakeDispatcher()
	ctrl, err := NewController(context.Background(), coord, dispatcher, "host1:7330", nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	link := &fakeLink{addr: "follower1:7330"}
	if err := ctrl.AddFollower(context.Background(), link); err != nil {
		t.Fatalf("AddFollower: %v", err)
	}

	link.mu.Lock()
	defer link.mu.Unlock()
	if len(link.snapshots) != 1 {
		t.Fatalf("expected exactly one snapshot sent, got %d", len(link.snapshots))
	}
}

func TestPropagateAddMessagesReachesFollower(t *testing.T) {
	cluster := coordination.NewCluster()
	coord := cluster.Connect()
	defer coord.Close()

	dispatcher := newFakeDispatcher()
	ctrl, err := NewController(context.Background(), coord, dispatcher, "host1:7330", nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	link := &fakeLink{addr: "follower1:7330"}
	if err := ctrl.AddFollower(context.Background(), link); err != nil {
		t.Fatalf("AddFollower: %v", err)
	}

	ctrl.PropagateAddMessages(context.Background(), "q", []pork.Message{{ID: 1}}, nil)

	deadline := time.Now().Add(time.Second)
	for {
		link.mu.Lock()
		n := len(link.addCalls)
		link.mu.Unlock()
		if n == 1 || time.Now().After(deadline) {
			if n != 1 {
				t.Fatalf("expected syncAddMessages to reach the follower, got %d calls", n)
			}
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestApplySnapshotRebuildsEngines(t *testing.T) {
	dispatcher := newFakeDispatcher()
	snap := pork.SnapshotSdto{Queues: map[string]pork.QueueSdto{
		"q": {
			AllMsgs: map[uint64]pork.MessageSdto{
				1: {Msg: pork.Message{ID: 1}, State: pork.Acked},
			},
			AllDeps: map[string]pork.DependencySdto{},
		},
	}}

	ApplySnapshot(dispatcher, snap)

	e := dispatcher.EnsureEngine("q")
	got := e.Snapshot()
	if len(got.AllMsgs) != 1 {
		t.Fatalf("expected 1 message restored, got %d", len(got.AllMsgs))
	}
	if got.AllMsgs[1].State != pork.Acked {
		t.Fatalf("expected restored state Acked, got %v", got.AllMsgs[1].State)
	}
}

func TestApplySetMessageStateOnUnknownIDCreatesPlaceholder(t *testing.T) {
	dispatcher := newFakeDispatcher()
	if err := ApplySetMessageState(dispatcher, "q", 55, pork.InProgress); err != nil {
		t.Fatalf("ApplySetMessageState: %v", err)
	}
	got := dispatcher.EnsureEngine("q").Snapshot()
	if got.AllMsgs[55].State != pork.InProgress {
		t.Fatalf("expected placeholder state InProgress, got %v", got.AllMsgs[55].State)
	}
}
