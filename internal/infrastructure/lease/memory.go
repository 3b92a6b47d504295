package lease

import (
	"context"
	"time"

	"github.com/sasha-s/go-deadlock"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
	"github.com/alexisbeaulieu97/graphrun/internal/ports"
)

type holder struct {
	owner   string
	expires time.Time
}

// Memory grants process-local leases. It is suitable for a single process and
// for tests; multi-process deployments use the Redis manager.
type Memory struct {
	mu     deadlock.Mutex
	now    func() time.Time
	leases map[string]holder
}

// NewMemory creates an in-memory lease manager. A nil clock uses time.Now.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{now: now, leases: make(map[string]holder)}
}

// Acquire grants the lease when it is free, expired, or already held by owner.
func (m *Memory) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (ports.Lease, error) {
	if key == "" || owner == "" || ttl <= 0 {
		return nil, agent.NewError(agent.ErrCodeValidation, "lease key, owner and ttl are required", nil, nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, agent.NewError(agent.ErrCodeCancelled, "lease acquire cancelled", err, nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if current, ok := m.leases[key]; ok && current.owner != owner && now.Before(current.expires) {
		return nil, agent.NewError(agent.ErrCodeLeaseHeld, "lease held by another owner", nil, map[string]interface{}{
			"key":   key,
			"owner": current.owner,
		})
	}
	m.leases[key] = holder{owner: owner, expires: now.Add(ttl)}
	return &memoryLease{manager: m, key: key, owner: owner, ttl: ttl}, nil
}

type memoryLease struct {
	manager *Memory
	key     string
	owner   string
	ttl     time.Duration
}

func (l *memoryLease) Key() string   { return l.key }
func (l *memoryLease) Owner() string { return l.owner }

func (l *memoryLease) Renew(ctx context.Context) error {
	m := l.manager
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	current, ok := m.leases[l.key]
	if !ok || current.owner != l.owner || !now.Before(current.expires) {
		return agent.NewError(agent.ErrCodeLeaseLost, "lease expired or changed hands", nil, map[string]interface{}{
			"key":   l.key,
			"owner": l.owner,
		})
	}
	m.leases[l.key] = holder{owner: l.owner, expires: now.Add(l.ttl)}
	return nil
}

func (l *memoryLease) Release(ctx context.Context) error {
	m := l.manager
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.leases[l.key]; ok && current.owner == l.owner {
		delete(m.leases, l.key)
	}
	return nil
}

var _ ports.LeaseManager = (*Memory)(nil)
