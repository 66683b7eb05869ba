package pork

import (
	"context"
	"time"
)

// Queue is the five-method surface the broker dispatcher and the
// replication controller depend on, so tests can substitute a fake engine
// without pulling in the real locking and condition-variable machinery.
type Queue interface {
	PushMessage(msg Message, deps []Dependency)
	PopFreeMessage(ctx context.Context, timeout time.Duration) (Message, error)
	Ack(id uint64) error
	Fail(id uint64) error
	SetMessageState(id uint64, state MessageState) error
}
