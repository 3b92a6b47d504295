package events

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
	"github.com/alexisbeaulieu97/graphrun/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/graphrun/internal/ports"
)

// RedisPublisher publishes live events to Redis pub/sub. Events carrying a
// topic go to that channel; other events go to a channel named after their
// type. Payloads are the JSON encoding of agent.LiveEvent.
type RedisPublisher struct {
	client redis.UniversalClient
	logger ports.Logger
}

// NewRedisPublisher wraps an existing client.
func NewRedisPublisher(client redis.UniversalClient, logger ports.Logger) *RedisPublisher {
	logger = logging.OrNoOp(logger)
	return &RedisPublisher{client: client, logger: logger}
}

// Publish encodes and publishes the event.
func (p *RedisPublisher) Publish(ctx context.Context, event ports.DomainEvent) error {
	if event == nil {
		return nil
	}
	channel := event.EventType()
	if scoped, ok := event.(ports.TopicEvent); ok {
		channel = scoped.Topic()
	}

	var body interface{} = event.Payload()
	if live, ok := event.(agent.LiveEvent); ok {
		body = live
	}
	data, err := sonic.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode live event: %w", err)
	}
	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish live event to %s: %w", channel, err)
	}
	return nil
}

// Subscribe listens on a channel. ports.AllEvents subscribes to every
// execution topic by pattern. Messages that do not decode as live events are
// logged and skipped.
func (p *RedisPublisher) Subscribe(key string, handler ports.EventHandler) (ports.Subscription, error) {
	if handler == nil {
		return noopSubscription{}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	var pubsub *redis.PubSub
	if key == ports.AllEvents {
		pubsub = p.client.PSubscribe(ctx, agent.TopicFor("*"))
	} else {
		pubsub = p.client.Subscribe(ctx, key)
	}
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", key, err)
	}

	messages := pubsub.Channel()
	go func() {
		for msg := range messages {
			var event agent.LiveEvent
			if err := sonic.UnmarshalString(msg.Payload, &event); err != nil {
				p.logger.Warn(ctx, "undecodable live event", "channel", msg.Channel, "error", err)
				continue
			}
			if err := handler(ctx, event); err != nil {
				p.logger.Warn(ctx, "event handler failed", "event_type", event.EventType(), "error", err)
			}
		}
	}()

	return subscription{cancel: func() {
		cancel()
		_ = pubsub.Close()
	}}, nil
}

var _ ports.EventPublisher = (*RedisPublisher)(nil)
