package events

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sasha-s/go-deadlock"

	"github.com/alexisbeaulieu97/graphrun/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/graphrun/internal/ports"
)

const defaultAsyncBuffer = 256

type pending struct {
	ctx   context.Context
	event ports.DomainEvent
}

// AsyncPublisher decouples the engine from a slow publisher. Publish never
// blocks: events are queued for a single drain goroutine and dropped when the
// queue is full. Order is preserved for the events that are delivered.
type AsyncPublisher struct {
	next    ports.EventPublisher
	logger  ports.Logger
	queue   chan pending
	dropped atomic.Int64
	done    chan struct{}

	mu     deadlock.RWMutex
	closed bool
	once   sync.Once
}

// NewAsyncPublisher wraps next with a bounded queue of the given size.
func NewAsyncPublisher(next ports.EventPublisher, size int, logger ports.Logger) *AsyncPublisher {
	if size <= 0 {
		size = defaultAsyncBuffer
	}
	logger = logging.OrNoOp(logger)
	p := &AsyncPublisher{
		next:   next,
		logger: logger,
		queue:  make(chan pending, size),
		done:   make(chan struct{}),
	}
	go p.drain()
	return p
}

// Publish enqueues the event. It reports no error when the event is dropped;
// Dropped exposes the running count instead.
func (p *AsyncPublisher) Publish(ctx context.Context, event ports.DomainEvent) error {
	if event == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.dropped.Add(1)
		return nil
	}

	select {
	case p.queue <- pending{ctx: context.WithoutCancel(ctx), event: event}:
	default:
		total := p.dropped.Add(1)
		p.logger.Warn(ctx, "live event dropped", "event_type", event.EventType(), "dropped_total", total)
	}
	return nil
}

// Subscribe delegates to the wrapped publisher.
func (p *AsyncPublisher) Subscribe(key string, handler ports.EventHandler) (ports.Subscription, error) {
	return p.next.Subscribe(key, handler)
}

// Dropped returns how many events were discarded because the queue was full
// or the publisher was closed.
func (p *AsyncPublisher) Dropped() int64 {
	return p.dropped.Load()
}

// Close stops accepting events and waits until queued events are delivered
// or ctx ends.
func (p *AsyncPublisher) Close(ctx context.Context) error {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.queue)
		p.mu.Unlock()
	})
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *AsyncPublisher) drain() {
	defer close(p.done)
	for item := range p.queue {
		if err := p.next.Publish(item.ctx, item.event); err != nil {
			p.logger.Warn(item.ctx, "live event delivery failed", "event_type", item.event.EventType(), "error", err)
		}
	}
}

var _ ports.EventPublisher = (*AsyncPublisher)(nil)
