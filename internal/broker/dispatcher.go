// Package broker implements the broker dispatcher: the map from queue name
// to message queue engine, lazy engine creation, and globally unique
// 64-bit message ID allocation from a coordination-assigned block.
package broker

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cairijun/pork/internal/coordination"
	"github.com/cairijun/pork/internal/logging"
	"github.com/cairijun/pork/internal/notify"
	"github.com/cairijun/pork/internal/pork"
)

// idBlockPath is the well-known coordination path under which each broker
// incarnation claims an ephemeral sequential child; the assigned sequence
// number becomes that incarnation's 32-bit id block.
const idBlockPath = "/pork/id"

// Dispatcher maps queue names to engines, lazily creating one on first
// reference, and issues monotonic message ids out of a 64-bit space:
// the upper 32 bits are this incarnation's block index, the lower 32 bits
// a per-block counter starting at 1 (id 0 is reserved as "unset").
type Dispatcher struct {
	coord    Coordinator
	notifier notify.Notifier

	mu     sync.RWMutex
	queues map[string]*pork.Engine

	nextID atomic.Uint64

	defaultPopTimeout time.Duration
	idBlockLowWater   uint32

	blockMu sync.Mutex

	replicatorMu sync.RWMutex
	replicator   Replicator
}

// Coordinator is the subset of coordination.Coordinator the dispatcher
// needs to allocate ID blocks.
type Coordinator interface {
	CreateSequentialEphemeral(ctx context.Context, parent string, data []byte) (coordination.Node, error)
}

// Replicator is the subset of the replication controller the dispatcher
// drives on every successful mutation: a primary pipelines state changes
// to its followers through these two calls. Declared narrowly here
// (rather than importing internal/replication) so the dispatcher doesn't
// need to know about cluster membership or follower links, only that
// something wants to hear about mutations; *replication.Controller
// satisfies this interface without broker importing replication.
type Replicator interface {
	PropagateAddMessages(ctx context.Context, queue string, msgs []pork.Message, deps []pork.Dependency)
	PropagateSetMessageState(ctx context.Context, queue string, id uint64, state pork.MessageState)
}

// NewDispatcher obtains an initial ID block from coord and returns a ready
// Dispatcher. idBlockLowWater controls how close to block exhaustion the
// counter is allowed to get before a fresh block is requested. notifier
// receives a fan-out signal on every successful push, in addition to the
// engine's own local condition-variable wakeup, so that other processes
// (a status API, a remote gateway) can learn a queue went non-empty
// without polling; pass notify.NewNoopNotifier() to disable this.
func NewDispatcher(ctx context.Context, coord Coordinator, notifier notify.Notifier, defaultPopTimeout time.Duration, idBlockLowWater uint32) (*Dispatcher, error) {
	d := &Dispatcher{
		coord:             coord,
		notifier:          notifier,
		queues:            make(map[string]*pork.Engine),
		defaultPopTimeout: defaultPopTimeout,
		idBlockLowWater:   idBlockLowWater,
	}
	if err := d.allocateBlock(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dispatcher) allocateBlock(ctx context.Context) error {
	node, err := d.coord.CreateSequentialEphemeral(ctx, idBlockPath, nil)
	if err != nil {
		return fmt.Errorf("%w: allocating id block: %v", pork.ErrCoordinationFailure, err)
	}
	block := uint32(node.Seq)
	d.nextID.Store(uint64(block)<<32 | 1)
	logging.Op().Info("allocated id block", "block", block)
	return nil
}

// engine finds or creates the engine for name under a single map lock that
// only promotes to a write lock when insertion is required, then
// double-checks before inserting — the teacher's find-or-create-under-lock
// pattern for registries and pools.
func (d *Dispatcher) engine(name string) *pork.Engine {
	d.mu.RLock()
	e, ok := d.queues[name]
	d.mu.RUnlock()
	if ok {
		return e
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.queues[name]; ok {
		return e
	}
	e = pork.NewEngine(name, d.defaultPopTimeout)
	d.queues[name] = e
	return e
}

// Engines returns a copy of every currently known engine, keyed by queue
// name, taken under a single acquisition of the dispatcher's read lock.
// The replication controller runs start_serving over this copy and builds
// snapshots for newly joined followers from it, after the lock is released.
func (d *Dispatcher) Engines() map[string]*pork.Engine {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]*pork.Engine, len(d.queues))
	for name, e := range d.queues {
		out[name] = e
	}
	return out
}

// SetReplicator wires r as the pipeline every subsequent successful
// mutation is propagated through. Called once during startup, after both
// the dispatcher and the replication controller exist, since each needs
// the other to be constructed first.
func (d *Dispatcher) SetReplicator(r Replicator) {
	d.replicatorMu.Lock()
	d.replicator = r
	d.replicatorMu.Unlock()
}

func (d *Dispatcher) replicatorOrNil() Replicator {
	d.replicatorMu.RLock()
	defer d.replicatorMu.RUnlock()
	return d.replicator
}

// EnsureEngine finds or creates the engine for name, reconstructing it
// empty if this is the first reference. Used by the replication follower
// path (syncAddMessages/syncSetMessageState) where a queue may be
// referenced before any snapshot mentioned it.
func (d *Dispatcher) EnsureEngine(name string) *pork.Engine {
	return d.engine(name)
}

// allocateID returns the next message id, requesting a fresh block from the
// coordinator once the per-block counter is within idBlockLowWater of
// exhaustion. The original source does not guard against block exhaustion;
// this rendition does, per the design note calling that out explicitly.
func (d *Dispatcher) allocateID(ctx context.Context) (uint64, error) {
	id := d.nextID.Add(1) - 1
	counter := uint32(id)
	if counter >= math.MaxUint32-d.idBlockLowWater {
		d.blockMu.Lock()
		// Re-check under the lock: another goroutine may have already
		// rolled the block forward while we were contending for it.
		if uint32(d.nextID.Load()) >= math.MaxUint32-d.idBlockLowWater {
			if err := d.allocateBlock(ctx); err != nil {
				d.blockMu.Unlock()
				return 0, err
			}
		}
		d.blockMu.Unlock()
	}
	return id, nil
}

// GetMessage finds or creates the engine for queue and pops a ready
// message, failing with pork.ErrTimeout if none arrives within the
// default pop timeout. lastID is advisory only and never filters delivery.
func (d *Dispatcher) GetMessage(ctx context.Context, queue string, lastID uint64) (pork.Message, error) {
	_ = lastID
	return d.engine(queue).PopFreeMessage(ctx, d.defaultPopTimeout)
}

// AddMessage assigns the next id, stamps msg with it, and pushes it onto
// queue against deps.
func (d *Dispatcher) AddMessage(ctx context.Context, queue string, msg pork.Message, deps []pork.Dependency) (uint64, error) {
	id, err := d.allocateID(ctx)
	if err != nil {
		return 0, err
	}
	msg.ID = id
	d.engine(queue).PushMessage(msg, deps)
	if r := d.replicatorOrNil(); r != nil {
		r.PropagateAddMessages(ctx, queue, []pork.Message{msg}, deps)
	}
	d.notifier.Notify(ctx, notify.Queue(queue))
	return id, nil
}

// AddMessageGroup assigns ids sequentially and pushes every message against
// the same shared deps list, returning ids in input order.
func (d *Dispatcher) AddMessageGroup(ctx context.Context, queue string, msgs []pork.Message, deps []pork.Dependency) ([]uint64, error) {
	ids := make([]uint64, len(msgs))
	stamped := make([]pork.Message, len(msgs))
	e := d.engine(queue)
	for i, msg := range msgs {
		id, err := d.allocateID(ctx)
		if err != nil {
			return nil, err
		}
		msg.ID = id
		ids[i] = id
		stamped[i] = msg
		e.PushMessage(msg, deps)
	}
	if len(msgs) > 0 {
		if r := d.replicatorOrNil(); r != nil {
			r.PropagateAddMessages(ctx, queue, stamped, deps)
		}
		d.notifier.Notify(ctx, notify.Queue(queue))
	}
	return ids, nil
}

// Ack delegates to the named queue's engine and pipelines the resulting
// state transition to followers.
func (d *Dispatcher) Ack(ctx context.Context, queue string, id uint64) error {
	if err := d.engine(queue).Ack(id); err != nil {
		return err
	}
	if r := d.replicatorOrNil(); r != nil {
		r.PropagateSetMessageState(ctx, queue, id, pork.Acked)
	}
	return nil
}

// Fail delegates to the named queue's engine and pipelines the resulting
// state transition to followers.
func (d *Dispatcher) Fail(ctx context.Context, queue string, id uint64) error {
	if err := d.engine(queue).Fail(id); err != nil {
		return err
	}
	if r := d.replicatorOrNil(); r != nil {
		r.PropagateSetMessageState(ctx, queue, id, pork.Failed)
	}
	return nil
}
