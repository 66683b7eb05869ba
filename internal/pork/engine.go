package pork

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cairijun/pork/internal/logging"
	"github.com/cairijun/pork/internal/metrics"
)

// Engine owns every message for one named queue: the id-keyed arena
// (all_msgs), the dependency graph (all_deps), and the FIFO of messages
// currently ready for dispatch (free_msgs). Lock ordering across the
// engine's own critical sections follows all_msgs before all_deps before
// free_msgs; no operation here nests these locks in any other order
// (register/resolve acquire only the dependency graph's own lock, which is
// always taken after any all_msgs section has already released).
type Engine struct {
	queueName string

	msgsMu  sync.RWMutex
	allMsgs map[uint64]*Record

	deps *depGraph

	freeMu   sync.Mutex
	freeCond *sync.Cond
	freeMsgs []*Record

	isServing atomic.Bool

	defaultPopTimeout time.Duration
}

// NewEngine creates an engine for queueName. defaultPopTimeout is used
// whenever PopFreeMessage is called with a non-positive timeout.
func NewEngine(queueName string, defaultPopTimeout time.Duration) *Engine {
	e := &Engine{
		queueName:         queueName,
		allMsgs:           make(map[uint64]*Record),
		deps:              newDepGraph(),
		defaultPopTimeout: defaultPopTimeout,
	}
	e.freeCond = sync.NewCond(&e.freeMu)
	return e
}

// PushMessage inserts msg into all_msgs and either enqueues it into
// free_msgs immediately (no deps, or every dep already satisfied) or
// leaves it registered against the dependency graph to be freed by a
// later resolve. Exactly one of those two paths runs for a given message:
// depGraph.register decides readiness while still holding the graph's
// lock, so no concurrent resolve can observe a half-registered record.
func (e *Engine) PushMessage(msg Message, deps []Dependency) {
	rec := newRecord(msg)

	e.msgsMu.Lock()
	if _, exists := e.allMsgs[msg.ID]; exists {
		e.msgsMu.Unlock()
		logging.Op().Error("duplicate push rejected", "queue", e.queueName, "id", msg.ID)
		return
	}
	e.allMsgs[msg.ID] = rec
	e.msgsMu.Unlock()

	ready := e.deps.register(rec, deps)
	metrics.Default().RecordPush(e.queueName)
	if ready {
		e.enqueueFree(rec)
	}
}

// enqueueFree appends rec to free_msgs. Per the original engine's own
// optimization, notify_all only fires on the 0 -> 1 transition; later
// arrivals rely on an already-awake popper looping back to drain the list.
func (e *Engine) enqueueFree(rec *Record) {
	e.freeMu.Lock()
	wasEmpty := len(e.freeMsgs) == 0
	e.freeMsgs = append(e.freeMsgs, rec)
	depth := len(e.freeMsgs)
	e.freeMu.Unlock()
	if wasEmpty {
		e.freeCond.Broadcast()
	}
	metrics.Default().SetFreeQueueDepth(e.queueName, depth)
}

// PopFreeMessage blocks until free_msgs is non-empty, the timeout elapses,
// or ctx is cancelled. On a successful pop the returned record's state is
// advanced from Queuing to InProgress before the message is handed back;
// an entry that was concurrently failed between enqueue and pop (its CAS
// from Queuing fails) is discarded and the wait resumes rather than handed
// to the caller.
func (e *Engine) PopFreeMessage(ctx context.Context, timeout time.Duration) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	if timeout <= 0 {
		timeout = e.defaultPopTimeout
	}
	deadline := time.Now().Add(timeout)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			e.freeMu.Lock()
			e.freeCond.Broadcast()
			e.freeMu.Unlock()
		case <-done:
		}
	}()
	timer := time.AfterFunc(timeout, func() {
		e.freeMu.Lock()
		e.freeCond.Broadcast()
		e.freeMu.Unlock()
	})
	defer timer.Stop()

	start := time.Now()
	for {
		e.freeMu.Lock()
		for len(e.freeMsgs) == 0 {
			if err := ctx.Err(); err != nil {
				e.freeMu.Unlock()
				return Message{}, err
			}
			if !time.Now().Before(deadline) {
				e.freeMu.Unlock()
				metrics.Default().RecordPopTimeout(e.queueName)
				metrics.Default().ObservePopWaitMs(e.queueName, float64(time.Since(start).Milliseconds()))
				return Message{}, fmt.Errorf("%w: queue %q", ErrTimeout, e.queueName)
			}
			e.freeCond.Wait()
		}
		rec := e.freeMsgs[0]
		e.freeMsgs = e.freeMsgs[1:]
		metrics.Default().SetFreeQueueDepth(e.queueName, len(e.freeMsgs))
		e.freeMu.Unlock()

		if rec.tryCAS(Queuing, InProgress) {
			metrics.Default().RecordDelivered(e.queueName)
			metrics.Default().ObservePopWaitMs(e.queueName, float64(time.Since(start).Milliseconds()))
			return rec.Msg, nil
		}
		// Stale entry: concurrently failed after it was freed. Loop back
		// and keep waiting rather than hand a non-Queuing record out.
	}
}

// Ack transitions a message from InProgress to Acked; any other state
// makes it a no-op, including a second call (idempotent). A successful ack
// resolves the message's dependency key, if any, and — only on the
// primary, where is_serving is true — enqueues every dependent that just
// became ready.
func (e *Engine) Ack(id uint64) error {
	e.msgsMu.RLock()
	rec, ok := e.allMsgs[id]
	e.msgsMu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: message %d", ErrUnknownID, id)
	}

	if !rec.tryCAS(InProgress, Acked) {
		return nil
	}
	metrics.Default().RecordAck(e.queueName)

	if rec.Msg.ResolveDep == "" {
		return nil
	}
	ready := e.deps.resolve(rec.Msg.ResolveDep)
	if len(ready) == 0 || !e.isServing.Load() {
		return nil
	}
	for _, w := range ready {
		e.enqueueFree(w)
	}
	return nil
}

// Fail transitions a message to Failed. This never cascades: failed
// messages do not resolve dependencies and are retained, not removed, for
// debugging and snapshot purposes.
func (e *Engine) Fail(id uint64) error {
	e.msgsMu.RLock()
	rec, ok := e.allMsgs[id]
	e.msgsMu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: message %d", ErrUnknownID, id)
	}
	rec.advanceTo(Failed)
	metrics.Default().RecordFail(e.queueName)
	return nil
}

// SetMessageState is the follower-only path: it monotonically advances a
// record's state, creating a placeholder with a null message body if the
// id hasn't arrived via syncAddMessages yet. Reaching Acked performs the
// resolve/cascade side of Ack but never enqueues into free_msgs, since
// is_serving is false on every follower.
func (e *Engine) SetMessageState(id uint64, state MessageState) error {
	rec := e.getOrCreatePlaceholder(id)

	if !rec.advanceTo(state) {
		return nil
	}
	if state != Acked {
		return nil
	}
	metrics.Default().RecordAck(e.queueName)

	if rec.Msg.ResolveDep != "" {
		e.deps.resolve(rec.Msg.ResolveDep)
	}
	return nil
}

func (e *Engine) getOrCreatePlaceholder(id uint64) *Record {
	e.msgsMu.RLock()
	rec, ok := e.allMsgs[id]
	e.msgsMu.RUnlock()
	if ok {
		return rec
	}

	e.msgsMu.Lock()
	defer e.msgsMu.Unlock()
	if rec, ok := e.allMsgs[id]; ok {
		return rec
	}
	rec = newRecord(Message{ID: id})
	e.allMsgs[id] = rec
	return rec
}

// StartServing is called only by the replication controller when this
// broker becomes primary. It scans all_msgs for every record that is
// Queuing with n_deps == 0 and not already in free_msgs, enqueues them,
// flips is_serving, and notifies all waiters unconditionally (unlike
// enqueueFree's 0->1 optimization, since an election completion can make
// many messages ready at once and every waiter needs to re-check).
func (e *Engine) StartServing() {
	e.msgsMu.RLock()
	candidates := make([]*Record, 0, len(e.allMsgs))
	for _, rec := range e.allMsgs {
		if rec.State() == Queuing && rec.NDeps() == 0 {
			candidates = append(candidates, rec)
		}
	}
	e.msgsMu.RUnlock()

	e.freeMu.Lock()
	inFree := make(map[*Record]struct{}, len(e.freeMsgs))
	for _, r := range e.freeMsgs {
		inFree[r] = struct{}{}
	}
	for _, rec := range candidates {
		if _, already := inFree[rec]; already {
			continue
		}
		e.freeMsgs = append(e.freeMsgs, rec)
	}
	e.isServing.Store(true)
	depth := len(e.freeMsgs)
	e.freeMu.Unlock()

	e.freeCond.Broadcast()
	metrics.Default().SetFreeQueueDepth(e.queueName, depth)
	logging.Op().Info("queue now serving", "queue", e.queueName, "free_messages", depth)
}

// IsServing reports whether this engine currently serves client traffic.
func (e *Engine) IsServing() bool {
	return e.isServing.Load()
}

// ConstructFromSnapshot rebuilds all_msgs and all_deps from a serialized
// snapshot. Every dependent id listed in a dependency record is resolved
// back to the same *Record stored in all_msgs, never a copy. The rebuilt
// engine leaves is_serving false and free_msgs empty, matching a freshly
// joined follower.
func (e *Engine) ConstructFromSnapshot(q QueueSdto) {
	allMsgs := make(map[uint64]*Record, len(q.AllMsgs))
	for id, m := range q.AllMsgs {
		rec := newRecord(m.Msg)
		rec.state.Store(int32(m.State))
		rec.nDeps.Store(int32(m.NDeps))
		allMsgs[id] = rec
	}

	deps := newDepGraph()
	for key, d := range q.AllDeps {
		dr := &depRecord{nResolved: d.NResolved}
		for _, id := range d.DependantIDs {
			if rec, ok := allMsgs[id]; ok {
				dr.waiters = append(dr.waiters, rec)
			}
		}
		deps.deps[key] = dr
	}

	e.msgsMu.Lock()
	e.allMsgs = allMsgs
	e.msgsMu.Unlock()

	e.deps = deps

	e.freeMu.Lock()
	e.freeMsgs = nil
	e.freeMu.Unlock()
	e.isServing.Store(false)
}

// Snapshot captures the engine's entire current state for replication to a
// newly joined follower.
func (e *Engine) Snapshot() QueueSdto {
	e.msgsMu.RLock()
	msgs := make(map[uint64]MessageSdto, len(e.allMsgs))
	for id, rec := range e.allMsgs {
		msgs[id] = MessageSdto{
			Msg:   rec.Msg,
			State: rec.State(),
			NDeps: rec.NDeps(),
		}
	}
	e.msgsMu.RUnlock()

	return QueueSdto{AllMsgs: msgs, AllDeps: e.deps.snapshot()}
}

// Name returns the queue name this engine owns.
func (e *Engine) Name() string {
	return e.queueName
}

var _ Queue = (*Engine)(nil)
