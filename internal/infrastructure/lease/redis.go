package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
	"github.com/alexisbeaulieu97/graphrun/internal/ports"
)

const defaultKeyPrefix = "graphrun:lease:"

// renewScript extends the TTL only while the caller still owns the key.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// releaseScript deletes the key only while the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis grants leases shared across processes through a Redis server.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// RedisOption configures the Redis lease manager.
type RedisOption func(*Redis)

// WithKeyPrefix overrides the namespace used for lease keys.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

// NewRedis wraps an existing client.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{client: client, prefix: defaultKeyPrefix}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DialRedis parses a redis:// URL and returns a manager with its own client.
func DialRedis(url string, opts ...RedisOption) (*Redis, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedis(redis.NewClient(options), opts...), nil
}

// Close releases the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Acquire sets the lease key with NX and a millisecond TTL. Re-acquiring a
// lease the owner already holds refreshes it.
func (r *Redis) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (ports.Lease, error) {
	if key == "" || owner == "" || ttl <= 0 {
		return nil, agent.NewError(agent.ErrCodeValidation, "lease key, owner and ttl are required", nil, nil)
	}

	l := &redisLease{manager: r, key: key, owner: owner, ttl: ttl}
	ok, err := r.client.SetNX(ctx, r.prefix+key, owner, ttl).Result()
	if err != nil {
		return nil, agent.NewError(agent.ErrCodeInternal, "acquire lease", err, map[string]interface{}{"key": key})
	}
	if ok {
		return l, nil
	}
	renewErr := l.Renew(ctx)
	if renewErr == nil {
		return l, nil
	}
	if !agent.HasCode(renewErr, agent.ErrCodeLeaseLost) {
		return nil, renewErr
	}

	current, err := r.client.Get(ctx, r.prefix+key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, agent.NewError(agent.ErrCodeInternal, "inspect lease", err, map[string]interface{}{"key": key})
	}
	return nil, agent.NewError(agent.ErrCodeLeaseHeld, "lease held by another owner", nil, map[string]interface{}{
		"key":   key,
		"owner": current,
	})
}

type redisLease struct {
	manager *Redis
	key     string
	owner   string
	ttl     time.Duration
}

func (l *redisLease) Key() string   { return l.key }
func (l *redisLease) Owner() string { return l.owner }

func (l *redisLease) Renew(ctx context.Context) error {
	res, err := renewScript.Run(ctx, l.manager.client, []string{l.manager.prefix + l.key}, l.owner, l.ttl.Milliseconds()).Int()
	if err != nil {
		return agent.NewError(agent.ErrCodeInternal, "renew lease", err, map[string]interface{}{"key": l.key})
	}
	if res == 0 {
		return agent.NewError(agent.ErrCodeLeaseLost, "lease expired or changed hands", nil, map[string]interface{}{
			"key":   l.key,
			"owner": l.owner,
		})
	}
	return nil
}

func (l *redisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.manager.client, []string{l.manager.prefix + l.key}, l.owner).Err(); err != nil {
		return agent.NewError(agent.ErrCodeInternal, "release lease", err, map[string]interface{}{"key": l.key})
	}
	return nil
}

var _ ports.LeaseManager = (*Redis)(nil)
