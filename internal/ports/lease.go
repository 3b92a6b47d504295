package ports

import (
	"context"
	"time"
)

// LeaseManager grants exclusive, expiring ownership of a key. The coordinator
// holds one lease per execution id so exactly one process drives a given
// execution at a time. Acquire returns ErrCodeLeaseHeld when another owner
// holds a live lease.
type LeaseManager interface {
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (Lease, error)
}

// Lease is a held lease. Renew extends it by the original TTL and returns
// ErrCodeLeaseLost when the lease expired or changed hands. Release is a
// no-op when the lease is no longer held.
type Lease interface {
	Key() string
	Owner() string
	Renew(ctx context.Context) error
	Release(ctx context.Context) error
}
