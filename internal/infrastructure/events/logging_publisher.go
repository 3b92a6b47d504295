package events

import (
	"context"
	"sort"

	"github.com/sasha-s/go-deadlock"

	"github.com/alexisbeaulieu97/graphrun/internal/ports"
)

// LoggingPublisher writes each event as a structured log entry and fans it out
// to in-process subscribers. Subscribers register under an event type, a
// topic, or ports.AllEvents.
type LoggingPublisher struct {
	logger ports.Logger
	subs   map[string][]subscriptionEntry
	nextID int
	mu     deadlock.RWMutex
}

// NewLoggingPublisher creates an event publisher that writes each event as a structured log entry.
func NewLoggingPublisher(logger ports.Logger) *LoggingPublisher {
	return &LoggingPublisher{
		logger: logger,
		subs:   make(map[string][]subscriptionEntry),
	}
}

// Publish renders the event as a structured log entry, then invokes matching
// handlers in registration order. Handler errors are logged and swallowed.
func (p *LoggingPublisher) Publish(ctx context.Context, event ports.DomainEvent) error {
	if p == nil || event == nil {
		return nil
	}

	topic := ""
	if scoped, ok := event.(ports.TopicEvent); ok {
		topic = scoped.Topic()
	}

	p.mu.RLock()
	handlers := append([]subscriptionEntry(nil), p.subs[event.EventType()]...)
	if topic != "" {
		handlers = append(handlers, p.subs[topic]...)
	}
	handlers = append(handlers, p.subs[ports.AllEvents]...)
	p.mu.RUnlock()
	sort.SliceStable(handlers, func(i, j int) bool { return handlers[i].id < handlers[j].id })

	if p.logger != nil {
		fields := []interface{}{"event_type", event.EventType()}
		if topic != "" {
			fields = append(fields, "topic", topic)
		}
		switch payload := event.Payload().(type) {
		case map[string]interface{}:
			keys := make([]string, 0, len(payload))
			for key := range payload {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			for _, key := range keys {
				fields = append(fields, key, payload[key])
			}
		case nil:
		default:
			fields = append(fields, "payload", payload)
		}
		p.logger.Info(ctx, "live event", fields...)
	}

	for _, entry := range handlers {
		if err := entry.handler(ctx, event); err != nil && p.logger != nil {
			p.logger.Warn(ctx, "event handler failed", "event_type", event.EventType(), "error", err)
		}
	}

	return nil
}

// Subscribe registers a handler for an event type, a topic, or ports.AllEvents.
func (p *LoggingPublisher) Subscribe(key string, handler ports.EventHandler) (ports.Subscription, error) {
	if p == nil || handler == nil {
		return noopSubscription{}, nil
	}
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.subs[key] = append(p.subs[key], subscriptionEntry{id: id, handler: handler})
	p.mu.Unlock()

	return subscription{
		cancel: func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			handlers := p.subs[key]
			for i, entry := range handlers {
				if entry.id == id {
					p.subs[key] = append(handlers[:i:i], handlers[i+1:]...)
					break
				}
			}
			if len(p.subs[key]) == 0 {
				delete(p.subs, key)
			}
		},
	}, nil
}

var _ ports.EventPublisher = (*LoggingPublisher)(nil)

type noopSubscription struct{}

func (noopSubscription) Unsubscribe() {}

type subscription struct {
	cancel func()
}

func (s subscription) Unsubscribe() {
	if s.cancel != nil {
		s.cancel()
	}
}

type subscriptionEntry struct {
	id      int
	handler ports.EventHandler
}
