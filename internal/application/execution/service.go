package execution

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
	"github.com/alexisbeaulieu97/graphrun/internal/engine"
	"github.com/alexisbeaulieu97/graphrun/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/graphrun/internal/ports"
)

const (
	defaultWorkers       = 1
	defaultRetryDelay    = time.Second
	defaultMaxDeliveries = 5
)

// Service connects triggers to the coordinator through the task queue.
type Service struct {
	coordinator *engine.Coordinator
	ledger      ports.Ledger
	queue       ports.TaskQueue
	events      ports.EventPublisher
	logger      ports.Logger

	workers       int
	retryDelay    time.Duration
	maxDeliveries int
	onReport      func(*engine.ExecutionReport)
}

// Option configures a Service.
type Option func(*Service)

// WithLogger injects a logger.
func WithLogger(logger ports.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEvents publishes service events.
func WithEvents(events ports.EventPublisher) Option {
	return func(s *Service) {
		s.events = events
	}
}

// WithWorkers sets how many deliveries Run processes concurrently.
func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithRetryDelay sets the pause before a delivery is returned to the queue.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.retryDelay = d
		}
	}
}

// WithMaxDeliveries bounds how often a request failing with a transient error
// is redelivered. Lease contention never counts against it.
func WithMaxDeliveries(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxDeliveries = n
		}
	}
}

// WithReportHandler is called with the report of every execution a worker finishes.
func WithReportHandler(fn func(*engine.ExecutionReport)) Option {
	return func(s *Service) {
		s.onReport = fn
	}
}

// NewService wires the coordinator to a ledger and task queue.
func NewService(coordinator *engine.Coordinator, ledger ports.Ledger, queue ports.TaskQueue, opts ...Option) *Service {
	s := &Service{
		coordinator:   coordinator,
		ledger:        ledger,
		queue:         queue,
		logger:        logging.NewNoOpLogger(),
		workers:       defaultWorkers,
		retryDelay:    defaultRetryDelay,
		maxDeliveries: defaultMaxDeliveries,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "execution_service")
	return s
}

// Submit checks the request against its graph and enqueues it. A missing
// execution id is generated. Definition errors are returned without enqueuing.
func (s *Service) Submit(ctx context.Context, req agent.ExecutionRequest) (string, error) {
	req = withExecutionID(req)
	if _, err := s.coordinator.Prepare(ctx, req); err != nil {
		s.logger.Warn(ctx, "rejected execution request", "execution_id", req.ExecutionID, "graph_id", req.GraphID, "error", err)
		return "", err
	}
	if err := s.queue.Enqueue(ctx, req); err != nil {
		return "", agent.NewError(agent.ErrCodeDispatch, "enqueue execution request", err, map[string]interface{}{"execution_id": req.ExecutionID})
	}

	s.logger.Info(ctx, "execution submitted", "execution_id", req.ExecutionID, "graph_id", req.GraphID, "graph_version", req.GraphVersion)
	publishEvent(ctx, s.events, s.logger, EventSubmitted, map[string]interface{}{
		"execution_id": req.ExecutionID,
		"graph_id":     req.GraphID,
		"version":      req.GraphVersion,
	})
	return req.ExecutionID, nil
}

// Execute runs a request synchronously on the calling goroutine.
func (s *Service) Execute(ctx context.Context, req agent.ExecutionRequest) (*engine.ExecutionReport, error) {
	return s.coordinator.Run(ctx, withExecutionID(req))
}

// Cancel requests cancellation of an execution.
func (s *Service) Cancel(ctx context.Context, executionID string) (*agent.Execution, error) {
	return s.coordinator.Cancel(ctx, executionID)
}

// Report rebuilds an execution report from the ledger.
func (s *Service) Report(ctx context.Context, executionID string) (*engine.ExecutionReport, error) {
	return s.coordinator.Report(ctx, executionID)
}

// Reconcile enqueues every non-terminal execution in the ledger so a restarted
// process resumes the work it or a crashed peer left behind.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	pending, err := s.ledger.ListExecutions(ctx, agent.StatusIncomplete, agent.StatusQueued, agent.StatusRunning)
	if err != nil {
		return 0, err
	}
	for _, exec := range pending {
		req := agent.ExecutionRequest{
			ExecutionID:    exec.ID,
			GraphID:        exec.GraphID,
			GraphVersion:   exec.GraphVersion,
			Input:          exec.Input,
			TriggerType:    exec.TriggerType,
			LiveMonitoring: exec.LiveMonitoring,
			Owner:          exec.Owner,
		}
		if err := s.queue.Enqueue(ctx, req); err != nil {
			return 0, agent.NewError(agent.ErrCodeDispatch, "enqueue execution request", err, map[string]interface{}{"execution_id": exec.ID})
		}
	}
	if len(pending) > 0 {
		s.logger.Info(ctx, "reconciled unfinished executions", "count", len(pending))
	}
	return len(pending), nil
}

// Run consumes the queue with the configured number of workers until ctx ends
// or the queue is closed and drained.
func (s *Service) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.workers; i++ {
		worker := i
		g.Go(func() error {
			return s.work(gctx, worker)
		})
	}
	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Service) work(ctx context.Context, worker int) error {
	logger := s.logger.With("worker", worker)
	for {
		delivery, err := s.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, ports.ErrQueueClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.handle(ctx, logger, delivery)
	}
}

func (s *Service) handle(ctx context.Context, logger ports.Logger, delivery ports.Delivery) {
	req := delivery.Request()
	logger = logger.With("execution_id", req.ExecutionID, "attempt", delivery.Attempt())

	report, err := s.coordinator.Run(ctx, req)
	switch {
	case err == nil:
		logger.Info(ctx, "execution settled", "status", string(report.Execution.Status))
		s.settle(ctx, logger, delivery, false)
		if s.onReport != nil {
			s.onReport(report)
		}
	case agent.HasCode(err, agent.ErrCodeLeaseHeld), agent.HasCode(err, agent.ErrCodeLeaseLost):
		logger.Info(ctx, "execution owned elsewhere, requeueing", "error", err)
		s.requeue(ctx, logger, delivery)
	case ctx.Err() != nil:
		logger.Info(ctx, "worker stopping, requeueing", "error", err)
		s.settle(ctx, logger, delivery, true)
	case agent.IsDefinitionError(err), agent.HasCode(err, agent.ErrCodeNotFound):
		logger.Error(ctx, "dropping invalid execution request", "error", err)
		publishEvent(ctx, s.events, logger, EventDropped, map[string]interface{}{"execution_id": req.ExecutionID, "error": err.Error()})
		s.settle(ctx, logger, delivery, false)
	case delivery.Attempt() >= s.maxDeliveries:
		logger.Error(ctx, "giving up on execution request", "error", err)
		publishEvent(ctx, s.events, logger, EventDropped, map[string]interface{}{"execution_id": req.ExecutionID, "error": err.Error()})
		s.settle(ctx, logger, delivery, false)
	default:
		logger.Warn(ctx, "execution attempt failed, requeueing", "error", err)
		s.requeue(ctx, logger, delivery)
	}
}

func (s *Service) requeue(ctx context.Context, logger ports.Logger, delivery ports.Delivery) {
	if s.retryDelay > 0 {
		timer := time.NewTimer(s.retryDelay)
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
		timer.Stop()
	}
	publishEvent(ctx, s.events, logger, EventRequeued, map[string]interface{}{"execution_id": delivery.Request().ExecutionID, "attempt": delivery.Attempt()})
	s.settle(ctx, logger, delivery, true)
}

func (s *Service) settle(ctx context.Context, logger ports.Logger, delivery ports.Delivery, requeue bool) {
	settle := delivery.Ack
	if requeue {
		settle = delivery.Nack
	}
	if err := settle(); err != nil {
		logger.Warn(ctx, "failed to settle delivery", "requeue", requeue, "error", err)
	}
}

func withExecutionID(req agent.ExecutionRequest) agent.ExecutionRequest {
	if req.ExecutionID == "" {
		req.ExecutionID = uuid.NewString()
	}
	return req
}
