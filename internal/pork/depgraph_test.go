package pork

import "testing"

func TestRegisterNoDepsIsImmediatelyReady(t *testing.T) {
	g := newDepGraph()
	rec := newRecord(Message{ID: 1})
	if !g.register(rec, nil) {
		t.Fatal("expected a message with no dependencies to be ready")
	}
}

func TestRegisterSingleDependencyNotReadyUntilResolved(t *testing.T) {
	g := newDepGraph()
	rec := newRecord(Message{ID: 1})
	if g.register(rec, []Dependency{{Key: "k", N: 1}}) {
		t.Fatal("expected not ready before resolve")
	}
	if rec.NDeps() != 1 {
		t.Fatalf("expected n_deps 1, got %d", rec.NDeps())
	}

	ready := g.resolve("k")
	if len(ready) != 1 || ready[0] != rec {
		t.Fatalf("expected exactly rec to become ready, got %v", ready)
	}
	if rec.NDeps() != 0 {
		t.Fatalf("expected n_deps 0 after resolve, got %d", rec.NDeps())
	}
}

func TestRegisterMultipleKeysAllMustResolve(t *testing.T) {
	g := newDepGraph()
	rec := newRecord(Message{ID: 1})
	g.register(rec, []Dependency{{Key: "a", N: 1}, {Key: "b", N: 1}})

	if ready := g.resolve("a"); len(ready) != 0 {
		t.Fatalf("expected not ready after resolving only one of two keys, got %v", ready)
	}
	ready := g.resolve("b")
	if len(ready) != 1 || ready[0] != rec {
		t.Fatalf("expected ready once both keys resolve, got %v", ready)
	}
}

func TestResolveBeforeRegisterIsRemembered(t *testing.T) {
	g := newDepGraph()
	g.resolve("k")

	rec := newRecord(Message{ID: 1})
	if !g.register(rec, []Dependency{{Key: "k", N: 1}}) {
		t.Fatal("expected registration against an already-resolved key to be immediately ready")
	}
}

func TestRegisterWithNGreaterThanOne(t *testing.T) {
	g := newDepGraph()
	rec := newRecord(Message{ID: 1})
	g.register(rec, []Dependency{{Key: "k", N: 3}})

	g.resolve("k")
	g.resolve("k")
	if rec.NDeps() != 1 {
		t.Fatalf("expected 1 remaining resolution, got %d", rec.NDeps())
	}
	ready := g.resolve("k")
	if len(ready) != 1 {
		t.Fatalf("expected rec ready after third resolve, got %v", ready)
	}
}

func TestResolveDoesNotReturnStillWaitingRecords(t *testing.T) {
	g := newDepGraph()
	waiting := newRecord(Message{ID: 1})
	g.register(waiting, []Dependency{{Key: "k", N: 2}})

	ready := g.resolve("k")
	if len(ready) != 0 {
		t.Fatalf("expected no one ready yet, got %v", ready)
	}
	if len(g.deps["k"].waiters) != 1 {
		t.Fatal("expected waiter to remain in the waiter list until fully resolved")
	}
}

func TestSnapshotReflectsWaiters(t *testing.T) {
	g := newDepGraph()
	rec := newRecord(Message{ID: 7})
	g.register(rec, []Dependency{{Key: "k", N: 2}})
	g.resolve("k")

	snap := g.snapshot()
	d, ok := snap["k"]
	if !ok {
		t.Fatal("expected key k in snapshot")
	}
	if d.NResolved != 1 {
		t.Fatalf("expected n_resolved 1, got %d", d.NResolved)
	}
	if len(d.DependantIDs) != 1 || d.DependantIDs[0] != 7 {
		t.Fatalf("expected dependant id 7, got %v", d.DependantIDs)
	}
}
