package execution

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/graphrun/internal/blocks"
	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
	"github.com/alexisbeaulieu97/graphrun/internal/engine"
	infrablocks "github.com/alexisbeaulieu97/graphrun/internal/infrastructure/blocks"
	"github.com/alexisbeaulieu97/graphrun/internal/infrastructure/events"
	"github.com/alexisbeaulieu97/graphrun/internal/infrastructure/graphstore"
	"github.com/alexisbeaulieu97/graphrun/internal/infrastructure/lease"
	"github.com/alexisbeaulieu97/graphrun/internal/infrastructure/ledger"
	"github.com/alexisbeaulieu97/graphrun/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/graphrun/internal/infrastructure/queue"
	"github.com/alexisbeaulieu97/graphrun/internal/ports"
)

var fastPolicy = engine.RetryPolicy{MaxAttempts: 2, Backoff: time.Millisecond, LedgerBackoff: time.Millisecond, LedgerBackoffCap: 5 * time.Millisecond}

type fixture struct {
	ledger  *ledger.MemDB
	queue   *queue.Memory
	leases  *lease.Memory
	service *Service
	version int

	mu      sync.Mutex
	reports []*engine.ExecutionReport
}

func newFixture(t *testing.T, seen ports.Ledger, opts ...Option) *fixture {
	t.Helper()

	store, err := ledger.NewMemDB()
	require.NoError(t, err)
	if seen == nil {
		seen = store
	}
	graphs, err := graphstore.New(nil)
	require.NoError(t, err)
	registry := infrablocks.NewRegistry()
	require.NoError(t, blocks.RegisterBuiltins(registry, io.Discard))

	ref, err := graphs.Put(context.Background(), &agent.Graph{
		ID: "pair",
		Nodes: []agent.Node{
			{ID: "A", BlockType: "passthrough"},
			{ID: "B", BlockType: "passthrough"},
		},
		Links: []agent.Link{{SourceNodeID: "A", SourcePort: "out", SinkNodeID: "B", SinkPort: "in"}},
	})
	require.NoError(t, err)

	f := &fixture{ledger: store, queue: queue.NewMemory(), leases: lease.NewMemory(time.Now), version: ref.Version}
	coordinator := engine.NewCoordinator(graphs, registry, seen,
		engine.WithRetryPolicy(fastPolicy),
		engine.WithLeaseManager(f.leases),
		engine.WithLeaseTTL(time.Minute),
	)
	base := []Option{
		WithRetryDelay(time.Millisecond),
		WithReportHandler(func(r *engine.ExecutionReport) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.reports = append(f.reports, r)
		}),
	}
	f.service = NewService(coordinator, seen, f.queue, append(base, opts...)...)
	return f
}

func (f *fixture) request(id string) agent.ExecutionRequest {
	return agent.ExecutionRequest{
		ExecutionID:  id,
		GraphID:      "pair",
		GraphVersion: f.version,
		Input:        map[string]agent.Value{"A.in": 5},
		Owner:        "tester",
	}
}

func (f *fixture) status(t *testing.T, id string) agent.Status {
	t.Helper()
	exec, err := f.ledger.GetExecution(context.Background(), id)
	if err != nil {
		return ""
	}
	return exec.Status
}

func (f *fixture) reportCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reports)
}

func TestService_RunDrainsSubmittedRequests(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, WithWorkers(2))
	ctx := context.Background()

	for _, id := range []string{"one", "two", "three"} {
		got, err := f.service.Submit(ctx, f.request(id))
		require.NoError(t, err)
		require.Equal(t, id, got)
	}
	require.NoError(t, f.queue.Close())
	require.NoError(t, f.service.Run(ctx))

	for _, id := range []string{"one", "two", "three"} {
		require.Equal(t, agent.StatusCompleted, f.status(t, id))
	}
	require.Equal(t, 3, f.reportCount())
	queued, inflight := f.queue.Len()
	require.Zero(t, queued)
	require.Zero(t, inflight)
}

func TestService_SubmitRejectsInvalidRequests(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := context.Background()

	missing := f.request("missing-input")
	missing.Input = nil
	_, err := f.service.Submit(ctx, missing)
	require.True(t, agent.HasCode(err, agent.ErrCodeMissingInput))

	unknown := f.request("unknown-version")
	unknown.GraphVersion = 99
	_, err = f.service.Submit(ctx, unknown)
	require.True(t, agent.HasCode(err, agent.ErrCodeNotFound))

	queued, _ := f.queue.Len()
	require.Zero(t, queued)
	require.Empty(t, f.status(t, "missing-input"))
}

func TestService_SubmitGeneratesExecutionID(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	id, err := f.service.Submit(context.Background(), f.request(""))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	delivery, err := f.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, id, delivery.Request().ExecutionID)
	require.NoError(t, delivery.Ack())
}

func TestService_RequeuesWhileLeaseIsHeldElsewhere(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	held, err := f.leases.Acquire(ctx, "contended", "other-process", time.Minute)
	require.NoError(t, err)

	_, err = f.service.Submit(ctx, f.request("contended"))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- f.service.Run(ctx) }()

	// Lease contention writes nothing to the ledger.
	time.Sleep(30 * time.Millisecond)
	require.Empty(t, f.status(t, "contended"))

	require.NoError(t, held.Release(ctx))
	require.Eventually(t, func() bool {
		return f.status(t, "contended") == agent.StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestService_DropsDefinitionErrors(t *testing.T) {
	t.Parallel()

	publisher := events.NewLoggingPublisher(logging.NewNoOpLogger())
	var mu sync.Mutex
	var dropped []string
	_, err := publisher.Subscribe(EventDropped, func(_ context.Context, event ports.DomainEvent) error {
		mu.Lock()
		defer mu.Unlock()
		dropped = append(dropped, event.Payload().(map[string]interface{})["execution_id"].(string))
		return nil
	})
	require.NoError(t, err)

	f := newFixture(t, nil, WithEvents(publisher))
	ctx := context.Background()

	bad := f.request("bad")
	bad.GraphID = "ghost"
	require.NoError(t, f.queue.Enqueue(ctx, bad))
	require.NoError(t, f.queue.Close())
	require.NoError(t, f.service.Run(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"bad"}, dropped)
	require.Zero(t, f.reportCount())
}

type brokenLedger struct {
	*ledger.MemDB
	mu    sync.Mutex
	calls int
}

func (l *brokenLedger) CreateExecution(context.Context, *agent.Execution) (*agent.Execution, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return nil, false, agent.NewError(agent.ErrCodeInternal, "schema mismatch", nil, nil)
}

func TestService_GivesUpAfterMaxDeliveries(t *testing.T) {
	t.Parallel()

	store, err := ledger.NewMemDB()
	require.NoError(t, err)
	broken := &brokenLedger{MemDB: store}
	f := newFixture(t, broken, WithMaxDeliveries(3), WithRetryDelay(0))
	ctx := context.Background()

	_, err = f.service.Submit(ctx, f.request("doomed"))
	require.NoError(t, err)
	require.NoError(t, f.queue.Close())
	require.NoError(t, f.service.Run(ctx))

	broken.mu.Lock()
	defer broken.mu.Unlock()
	require.Equal(t, 3, broken.calls)
}

func TestService_ReconcileRequeuesUnfinishedExecutions(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := context.Background()
	now := time.Now()

	_, _, err := f.ledger.CreateExecution(ctx, agent.NewExecution(f.request("stranded"), now))
	require.NoError(t, err)
	finished := agent.NewExecution(f.request("finished"), now)
	finished.Status = agent.StatusCompleted
	_, _, err = f.ledger.CreateExecution(ctx, finished)
	require.NoError(t, err)

	n, err := f.service.Reconcile(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.NoError(t, f.queue.Close())
	require.NoError(t, f.service.Run(ctx))
	require.Equal(t, agent.StatusCompleted, f.status(t, "stranded"))

	report, err := f.service.Report(ctx, "stranded")
	require.NoError(t, err)
	b, ok := report.Node("B")
	require.True(t, ok)
	require.EqualValues(t, 5, b.Outputs["out"])
}

func TestService_ExecuteAndCancel(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := context.Background()

	report, err := f.service.Execute(ctx, f.request("sync"))
	require.NoError(t, err)
	require.Equal(t, agent.StatusCompleted, report.Execution.Status)

	_, err = f.service.Cancel(ctx, "nobody")
	require.True(t, agent.HasCode(err, agent.ErrCodeNotFound))
}
