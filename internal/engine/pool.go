package engine

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
)

// Pool bounds concurrent block invocations across every execution in the
// process. Slots are granted in FIFO order.
type Pool struct {
	sem    *semaphore.Weighted
	size   int
	active atomic.Int64
}

// NewPool creates a pool with size slots (at least one).
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

// Acquire blocks until a slot is free or ctx ends.
func (p *Pool) Acquire(ctx context.Context) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return agent.NewError(agent.ErrCodeCancelled, "waiting for a worker slot", err, nil)
	}
	p.active.Add(1)
	return nil
}

// Release returns a slot.
func (p *Pool) Release() {
	p.active.Add(-1)
	p.sem.Release(1)
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return p.size
}

// Active returns the number of slots currently held.
func (p *Pool) Active() int {
	return int(p.active.Load())
}
