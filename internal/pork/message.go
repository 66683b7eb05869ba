// Package pork implements the dependency-aware message queue engine: the
// per-queue state machine that owns messages, gates their readiness on a
// dependency graph, and serves a blocking free-queue to workers.
package pork

import "sync/atomic"

// MessageState is the lifecycle state of a message. States are ordered by
// declaration and may only advance in that order: Queuing < InProgress <
// Failed, Queuing < InProgress < Acked. Failed and Acked are both terminal
// and are not ordered relative to each other.
type MessageState int32

const (
	Queuing MessageState = iota
	InProgress
	Failed
	Acked
)

func (s MessageState) String() string {
	switch s {
	case Queuing:
		return "QUEUING"
	case InProgress:
		return "IN_PROGRESS"
	case Failed:
		return "FAILED"
	case Acked:
		return "ACKED"
	default:
		return "UNKNOWN"
	}
}

// Message is the unit of work moving through a queue. It is immutable once
// assigned an ID by the broker dispatcher.
type Message struct {
	ID         uint64
	Type       string
	Payload    []byte
	ResolveDep string
}

// Dependency pairs a dependency key with the count of resolutions required
// before a message registered against it becomes ready.
type Dependency struct {
	Key string
	N   int
}

// Record is the internal message record: the message body plus its
// atomically-updated state and remaining dependency count. The dependency
// graph's waiter lists hold the exact same *Record that all_msgs holds —
// there is never a second copy of the mutable state.
type Record struct {
	Msg   Message
	state atomic.Int32
	nDeps atomic.Int32
}

func newRecord(msg Message) *Record {
	return &Record{Msg: msg}
}

// State returns the record's current state.
func (r *Record) State() MessageState {
	return MessageState(r.state.Load())
}

// NDeps returns the record's current remaining dependency count.
func (r *Record) NDeps() int {
	return int(r.nDeps.Load())
}

// tryCAS advances the record from exactly `from` to `to`, failing (without
// retry) if the observed state is not `from`.
func (r *Record) tryCAS(from, to MessageState) bool {
	return r.state.CompareAndSwap(int32(from), int32(to))
}

// advanceTo retries a compare-and-swap until either it succeeds or the
// observed state is terminal or no longer strictly less than `new`. This is the
// monotone state-progression helper the follower sync path relies on to
// tolerate out-of-order delivery: a transition that wouldn't move the state
// forward is silently dropped rather than retried forever.
func (r *Record) advanceTo(new MessageState) bool {
	for {
		cur := MessageState(r.state.Load())
		if new <= cur || cur == Failed {
			return false
		}
		if r.state.CompareAndSwap(int32(cur), int32(new)) {
			return true
		}
	}
}
