package ports

import "context"

// DomainEvent represents a significant occurrence within the engine. Events
// carry structured payloads that downstream subscribers can use for logging,
// UI updates, or fan-out to live monitors.
type DomainEvent interface {
	EventType() string
	Payload() interface{}
}

// TopicEvent is implemented by events scoped to a topic (for live execution
// events, "execution:<id>"). Publishers route such events to subscribers of
// the topic in addition to subscribers of the event type.
type TopicEvent interface {
	DomainEvent
	Topic() string
}

// AllEvents subscribes a handler to every published event.
const AllEvents = "*"

// EventPublisher distributes events to interested subscribers. Publishing is
// best-effort: a slow or failing subscriber must never block or fail the
// engine, so the coordinator ignores Publish errors beyond logging them.
// Implementations must be thread-safe and preserve the order of events
// published from a single goroutine.
type EventPublisher interface {
	Publish(ctx context.Context, event DomainEvent) error
	Subscribe(key string, handler EventHandler) (Subscription, error)
}

// EventHandler processes an event of a specific type or topic. Handlers should
// avoid panicking; failures should be surfaced via returned errors so
// publishers can log diagnostics and continue delivering to remaining
// subscribers.
type EventHandler func(context.Context, DomainEvent) error

// Subscription represents a registered handler. Callers must invoke
// Unsubscribe to stop receiving events and release resources.
type Subscription interface {
	Unsubscribe()
}
