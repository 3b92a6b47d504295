package ports

import (
	"context"
	"errors"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
)

// ErrQueueClosed is returned by Enqueue and Dequeue once a queue is closed
// and drained.
var ErrQueueClosed = errors.New("task queue closed")

// TaskQueue is the at-least-once channel between triggers and coordinators.
// A delivery that is neither acked nor nacked is never redelivered by the
// in-memory implementation; consumers must settle every delivery.
type TaskQueue interface {
	Enqueue(ctx context.Context, req agent.ExecutionRequest) error
	Dequeue(ctx context.Context) (Delivery, error)
	Close() error
}

// Delivery is one received request. Nack returns it to the queue.
type Delivery interface {
	Request() agent.ExecutionRequest
	Attempt() int
	Ack() error
	Nack() error
}
