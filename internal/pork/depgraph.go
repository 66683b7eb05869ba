package pork

import "sync"

// depRecord is the per-key bookkeeping: how many times the key has been
// resolved, and which records are still waiting on it.
type depRecord struct {
	nResolved int
	waiters   []*Record
}

// depGraph is the per-queue dependency graph: a map from dependency key to
// its resolution counter and waiter list. register and resolve share a
// single lock (the "all_deps" shared-exclusive lock from the concurrency
// model) so that a registration in progress can never race a concurrent
// resolve of one of its own keys — by the time register releases the lock,
// every waiter it added is already visible to future resolves, and no
// resolve can have touched a waiter that wasn't in the list yet.
type depGraph struct {
	mu   sync.RWMutex
	deps map[string]*depRecord
}

func newDepGraph() *depGraph {
	return &depGraph{deps: make(map[string]*depRecord)}
}

// register attaches rec to each dependency in deps, incrementing rec's
// n_deps by whatever is still outstanding against each key's current
// resolution count. It returns true if rec's n_deps is zero once every key
// has been processed — i.e. the message is ready to enqueue immediately,
// decided atomically with respect to any concurrent resolve because the
// whole loop runs under a single write lock.
func (g *depGraph) register(rec *Record, deps []Dependency) bool {
	if len(deps) == 0 {
		return true
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, d := range deps {
		dr, ok := g.deps[d.Key]
		if !ok {
			dr = &depRecord{}
			g.deps[d.Key] = dr
		}
		needed := d.N - dr.nResolved
		if needed > 0 {
			rec.nDeps.Add(int32(needed))
			dr.waiters = append(dr.waiters, rec)
		}
	}

	return rec.nDeps.Load() == 0
}

// resolve increments the resolution count for key by one and returns every
// waiter whose n_deps just dropped to zero, removing them from the waiting
// list. A resolve for a key with no record yet creates one with
// n_resolved = 1, so a later registration against the same key observes
// the already-performed resolution (out-of-order ack-before-register).
func (g *depGraph) resolve(key string) []*Record {
	g.mu.Lock()
	defer g.mu.Unlock()

	dr, ok := g.deps[key]
	if !ok {
		g.deps[key] = &depRecord{nResolved: 1}
		return nil
	}

	dr.nResolved++

	var ready []*Record
	remaining := dr.waiters[:0]
	for _, w := range dr.waiters {
		if w.nDeps.Add(-1) == 0 {
			ready = append(ready, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	dr.waiters = remaining

	return ready
}

// snapshot returns a serializable view of every dependency record, keyed by
// dependency key, for inclusion in a QueueSdto.
func (g *depGraph) snapshot() map[string]DependencySdto {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make(map[string]DependencySdto, len(g.deps))
	for key, dr := range g.deps {
		ids := make([]uint64, 0, len(dr.waiters))
		for _, w := range dr.waiters {
			ids = append(ids, w.Msg.ID)
		}
		out[key] = DependencySdto{NResolved: dr.nResolved, DependantIDs: ids}
	}
	return out
}
