package pork

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func mustPop(t *testing.T, e *Engine, timeout time.Duration) Message {
	t.Helper()
	msg, err := e.PopFreeMessage(context.Background(), timeout)
	if err != nil {
		t.Fatalf("PopFreeMessage: %v", err)
	}
	return msg
}

func TestPushPopNoDeps(t *testing.T) {
	e := NewEngine("q", time.Second)
	e.PushMessage(Message{ID: 1}, nil)

	msg := mustPop(t, e, time.Second)
	if msg.ID != 1 {
		t.Fatalf("expected id 1, got %d", msg.ID)
	}

	rec, ok := e.allMsgs[1]
	if !ok {
		t.Fatal("record missing from all_msgs")
	}
	if rec.State() != InProgress {
		t.Fatalf("expected InProgress after pop, got %v", rec.State())
	}
}

func TestPopTimeout(t *testing.T) {
	e := NewEngine("q", time.Second)
	_, err := e.PopFreeMessage(context.Background(), 20*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestPopCancelledContext(t *testing.T) {
	e := NewEngine("q", time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.PopFreeMessage(ctx, time.Second)
	if err == nil {
		t.Fatal("expected context error")
	}
}

func TestPushWithDependencyBlocksUntilResolved(t *testing.T) {
	e := NewEngine("q", time.Second)
	e.StartServing() // Ack's dependency cascade only dispatches while serving
	e.PushMessage(Message{ID: 1, ResolveDep: "stageA"}, nil)
	e.PushMessage(Message{ID: 2}, []Dependency{{Key: "stageA", N: 1}})

	// id 2 depends on stageA, not ready yet; only id 1 should be poppable.
	msg := mustPop(t, e, 50*time.Millisecond)
	if msg.ID != 1 {
		t.Fatalf("expected id 1 ready first, got %d", msg.ID)
	}
	if _, err := e.PopFreeMessage(context.Background(), 20*time.Millisecond); err == nil {
		t.Fatal("expected id 2 to still be blocked")
	}

	if err := e.Ack(1); err != nil {
		t.Fatalf("Ack: %v", err)
	}

	msg2 := mustPop(t, e, time.Second)
	if msg2.ID != 2 {
		t.Fatalf("expected id 2 ready after ack, got %d", msg2.ID)
	}
}

func TestDependencyRequiringMultipleResolutions(t *testing.T) {
	e := NewEngine("q", time.Second)
	e.StartServing()
	e.PushMessage(Message{ID: 1, ResolveDep: "k"}, nil)
	e.PushMessage(Message{ID: 2, ResolveDep: "k"}, nil)
	e.PushMessage(Message{ID: 3}, []Dependency{{Key: "k", N: 2}})

	for i := 0; i < 2; i++ {
		msg := mustPop(t, e, time.Second)
		if err := e.Ack(msg.ID); err != nil {
			t.Fatalf("Ack: %v", err)
		}
	}

	msg3 := mustPop(t, e, time.Second)
	if msg3.ID != 3 {
		t.Fatalf("expected id 3, got %d", msg3.ID)
	}
}

func TestAckBeforeRegisterSatisfiesLateArrival(t *testing.T) {
	e := NewEngine("q", time.Second)
	e.PushMessage(Message{ID: 1, ResolveDep: "k"}, nil)
	mustPop(t, e, time.Second) // only an InProgress message can be acked
	if err := e.Ack(1); err != nil {
		t.Fatalf("Ack: %v", err)
	}

	// k already resolved once before id 2 registers against it.
	e.PushMessage(Message{ID: 2}, []Dependency{{Key: "k", N: 1}})

	msg := mustPop(t, e, time.Second)
	if msg.ID != 2 {
		t.Fatalf("expected id 2 ready immediately, got %d", msg.ID)
	}
}

func TestAckIsIdempotent(t *testing.T) {
	e := NewEngine("q", time.Second)
	e.PushMessage(Message{ID: 1}, nil)
	mustPop(t, e, time.Second)

	if err := e.Ack(1); err != nil {
		t.Fatalf("first ack: %v", err)
	}
	if err := e.Ack(1); err != nil {
		t.Fatalf("second ack should be a no-op, not an error: %v", err)
	}
	if e.allMsgs[1].State() != Acked {
		t.Fatalf("expected Acked, got %v", e.allMsgs[1].State())
	}
}

func TestAckWithoutPopIsNoop(t *testing.T) {
	e := NewEngine("q", time.Second)
	e.PushMessage(Message{ID: 1}, nil)
	if err := e.Ack(1); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if e.allMsgs[1].State() != Queuing {
		t.Fatalf("ack on a Queuing message must be a no-op, got %v", e.allMsgs[1].State())
	}
}

func TestAckUnknownID(t *testing.T) {
	e := NewEngine("q", time.Second)
	if err := e.Ack(999); err == nil {
		t.Fatal("expected ErrUnknownID")
	}
}

func TestFailDoesNotCascadeDependents(t *testing.T) {
	e := NewEngine("q", time.Second)
	e.PushMessage(Message{ID: 1, ResolveDep: "k"}, nil)
	e.PushMessage(Message{ID: 2}, []Dependency{{Key: "k", N: 1}})

	mustPop(t, e, time.Second)
	if err := e.Fail(1); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	if _, err := e.PopFreeMessage(context.Background(), 20*time.Millisecond); err == nil {
		t.Fatal("a failed message must not resolve its dependency key")
	}
	if e.allMsgs[1].State() != Failed {
		t.Fatalf("expected Failed, got %v", e.allMsgs[1].State())
	}
}

func TestStaleFreeEntryDiscardedOnPop(t *testing.T) {
	e := NewEngine("q", time.Second)
	e.PushMessage(Message{ID: 1}, nil)

	// Directly fail the record while it's still sitting in free_msgs,
	// simulating a concurrent Fail racing a pop.
	rec := e.allMsgs[1]
	rec.advanceTo(Failed)

	if _, err := e.PopFreeMessage(context.Background(), 30*time.Millisecond); err == nil {
		t.Fatal("expected timeout: the only free entry was stale and should be discarded")
	}
}

func TestSetMessageStateCreatesPlaceholderAndIsMonotone(t *testing.T) {
	e := NewEngine("q", time.Second)

	if err := e.SetMessageState(42, InProgress); err != nil {
		t.Fatalf("SetMessageState: %v", err)
	}
	rec, ok := e.allMsgs[42]
	if !ok {
		t.Fatal("expected placeholder record to be created")
	}
	if rec.State() != InProgress {
		t.Fatalf("expected InProgress, got %v", rec.State())
	}

	// A state at or below the current one must not regress it.
	if err := e.SetMessageState(42, Queuing); err != nil {
		t.Fatalf("SetMessageState: %v", err)
	}
	if rec.State() != InProgress {
		t.Fatalf("state must not regress, got %v", rec.State())
	}
}

func TestStartServingEnqueuesReadyMessages(t *testing.T) {
	e := NewEngine("q", time.Second)
	// Simulate follower-path arrivals before this broker became primary.
	e.PushMessage(Message{ID: 1}, nil)
	mustPop(t, e, time.Second) // moves id 1 to InProgress, draining free_msgs

	e2 := NewEngine("q2", time.Second)
	e2.ConstructFromSnapshot(e.Snapshot())
	if e2.IsServing() {
		t.Fatal("a freshly constructed follower engine must not be serving")
	}

	e3 := NewEngine("q3", time.Second)
	e3.PushMessage(Message{ID: 9}, nil)
	// Drain the auto-enqueued free entry first to simulate arriving via
	// SetMessageState only, matching a follower's normal path.
	if _, err := e3.PopFreeMessage(context.Background(), time.Second); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	e3.allMsgs[9].state.Store(int32(Queuing))
	e3.StartServing()
	msg := mustPop(t, e3, time.Second)
	if msg.ID != 9 {
		t.Fatalf("expected StartServing to re-enqueue id 9, got %d", msg.ID)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	e := NewEngine("q", time.Second)
	e.PushMessage(Message{ID: 1, ResolveDep: "k"}, nil)
	e.PushMessage(Message{ID: 2}, []Dependency{{Key: "k", N: 1}})

	snap := e.Snapshot()
	if len(snap.AllMsgs) != 2 {
		t.Fatalf("expected 2 messages in snapshot, got %d", len(snap.AllMsgs))
	}

	restored := NewEngine("q", time.Second)
	restored.ConstructFromSnapshot(snap)

	if restored.allMsgs[2].NDeps() != 1 {
		t.Fatalf("expected restored dependency count 1, got %d", restored.allMsgs[2].NDeps())
	}
	if len(restored.deps.deps["k"].waiters) != 1 {
		t.Fatalf("expected one waiter on key k after restore")
	}
}

func TestConcurrentPushPopAckStress(t *testing.T) {
	const producers = 5
	const consumers = 10
	const total = 2000

	e := NewEngine("q", 2*time.Second)

	var processedCount atomic.Int64
	seen := make(chan uint64, total)

	var producersWg sync.WaitGroup
	perProducer := total / producers
	for p := 0; p < producers; p++ {
		producersWg.Add(1)
		go func(base int) {
			defer producersWg.Done()
			for i := 0; i < perProducer; i++ {
				id := uint64(base*perProducer + i + 1)
				e.PushMessage(Message{ID: id}, nil)
			}
		}(p)
	}

	var consumersWg sync.WaitGroup
	for c := 0; c < consumers; c++ {
		consumersWg.Add(1)
		go func() {
			defer consumersWg.Done()
			for processedCount.Load() < total {
				msg, err := e.PopFreeMessage(context.Background(), 300*time.Millisecond)
				if err != nil {
					continue
				}
				if err := e.Ack(msg.ID); err != nil {
					t.Errorf("Ack(%d): %v", msg.ID, err)
				}
				seen <- msg.ID
				processedCount.Add(1)
			}
		}()
	}

	producersWg.Wait()
	consumersWg.Wait()
	close(seen)

	count := 0
	ids := make(map[uint64]bool, total)
	for id := range seen {
		if ids[id] {
			t.Errorf("message %d delivered more than once", id)
		}
		ids[id] = true
		count++
	}
	if count != total {
		t.Fatalf("expected %d messages processed, got %d", total, count)
	}
}
