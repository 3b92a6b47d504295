package events

import (
	"context"
	"errors"

	"github.com/alexisbeaulieu97/graphrun/internal/ports"
)

// Fanout publishes every event to each of its targets in order. Subscriptions
// go to the first target only, which is expected to be the in-process
// publisher; the remaining targets are sinks.
type Fanout struct {
	targets []ports.EventPublisher
}

// NewFanout builds a fan-out over the non-nil targets.
func NewFanout(targets ...ports.EventPublisher) *Fanout {
	f := &Fanout{}
	for _, target := range targets {
		if target != nil {
			f.targets = append(f.targets, target)
		}
	}
	return f
}

// Publish hands the event to every target and joins their errors.
func (f *Fanout) Publish(ctx context.Context, event ports.DomainEvent) error {
	var errs []error
	for _, target := range f.targets {
		if err := target.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Subscribe registers on the first target.
func (f *Fanout) Subscribe(key string, handler ports.EventHandler) (ports.Subscription, error) {
	if len(f.targets) == 0 {
		return noopSubscription{}, nil
	}
	return f.targets[0].Subscribe(key, handler)
}

var _ ports.EventPublisher = (*Fanout)(nil)
