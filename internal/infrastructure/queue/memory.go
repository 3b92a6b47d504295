package queue

import (
	"context"
	"errors"

	"github.com/sasha-s/go-deadlock"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
	"github.com/alexisbeaulieu97/graphrun/internal/ports"
)

// ErrClosed is returned by Enqueue and Dequeue once the queue is closed and drained.
var ErrClosed = ports.ErrQueueClosed

type task struct {
	req     agent.ExecutionRequest
	attempt int
}

// Memory is an in-process at-least-once task queue. A nacked delivery goes
// back to the tail of the queue with its attempt counter incremented.
type Memory struct {
	mu       deadlock.Mutex
	tasks    []task
	inflight int
	closed   bool
	signal   chan struct{}
}

// NewMemory creates an empty queue.
func NewMemory() *Memory {
	return &Memory{signal: make(chan struct{}, 1)}
}

// Enqueue appends a request.
func (q *Memory) Enqueue(ctx context.Context, req agent.ExecutionRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.tasks = append(q.tasks, task{req: req, attempt: 1})
	q.notify()
	return nil
}

// Dequeue blocks until a request is available, ctx ends, or the queue is
// closed with nothing left to deliver.
func (q *Memory) Dequeue(ctx context.Context) (ports.Delivery, error) {
	for {
		q.mu.Lock()
		if len(q.tasks) > 0 {
			next := q.tasks[0]
			q.tasks = q.tasks[1:]
			q.inflight++
			if len(q.tasks) > 0 {
				q.notify()
			}
			q.mu.Unlock()
			return &delivery{queue: q, task: next}, nil
		}
		if q.closed {
			q.notify()
			q.mu.Unlock()
			return nil, ErrClosed
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.signal:
		}
	}
}

// Len reports queued and unsettled deliveries.
func (q *Memory) Len() (queued, inflight int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks), q.inflight
}

// Close stops accepting requests. Queued requests are still delivered.
func (q *Memory) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.notify()
	return nil
}

// notify wakes one waiting consumer; callers hold mu.
func (q *Memory) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *Memory) settle(t task, requeue bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inflight--
	if requeue {
		t.attempt++
		q.tasks = append(q.tasks, t)
		q.notify()
	}
	if q.closed {
		q.notify()
	}
}

type delivery struct {
	queue *Memory
	task  task
	mu    deadlock.Mutex
	done  bool
}

func (d *delivery) Request() agent.ExecutionRequest { return d.task.req }
func (d *delivery) Attempt() int                    { return d.task.attempt }

func (d *delivery) Ack() error  { return d.finish(false) }
func (d *delivery) Nack() error { return d.finish(true) }

func (d *delivery) finish(requeue bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done {
		return errors.New("delivery already settled")
	}
	d.done = true
	d.queue.settle(d.task, requeue)
	return nil
}

var _ ports.TaskQueue = (*Memory)(nil)
