package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/sasha-s/go-deadlock"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
	"github.com/alexisbeaulieu97/graphrun/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/graphrun/internal/ports"
)

const (
	defaultNodeTimeout  = 30 * time.Second
	defaultIterationCap = 100
	defaultLeaseTTL     = 30 * time.Second
)

// Coordinator drives executions: one scheduling loop per execution, guarded
// by a lease on the execution id, with dispatch bounded by a shared pool.
type Coordinator struct {
	graphs   ports.GraphStore
	registry ports.BlockRegistry
	ledger   ports.Ledger
	leases   ports.LeaseManager
	events   ports.EventPublisher
	pool     *Pool
	logger   ports.Logger
	now      func() time.Time

	policy       RetryPolicy
	nodeTimeout  time.Duration
	iterationCap int
	leaseTTL     time.Duration
	owner        string

	mu      deadlock.Mutex
	cancels map[string]chan struct{}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger injects a logger.
func WithLogger(logger ports.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithEvents injects the live event publisher.
func WithEvents(events ports.EventPublisher) Option {
	return func(c *Coordinator) {
		c.events = events
	}
}

// WithLeaseManager injects the lease manager. Without one the coordinator
// assumes it is the only process driving executions.
func WithLeaseManager(leases ports.LeaseManager) Option {
	return func(c *Coordinator) {
		c.leases = leases
	}
}

// WithPool shares a worker pool between coordinators.
func WithPool(pool *Pool) Option {
	return func(c *Coordinator) {
		if pool != nil {
			c.pool = pool
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithRetryPolicy overrides retry behaviour.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Coordinator) {
		c.policy = policy
	}
}

// WithNodeTimeout sets the default per-invocation timeout.
func WithNodeTimeout(timeout time.Duration) Option {
	return func(c *Coordinator) {
		if timeout > 0 {
			c.nodeTimeout = timeout
		}
	}
}

// WithIterationCap bounds the generations of any node.
func WithIterationCap(limit int) Option {
	return func(c *Coordinator) {
		if limit > 0 {
			c.iterationCap = limit
		}
	}
}

// WithLeaseTTL sets the execution lease TTL. The lease is renewed every third
// of it.
func WithLeaseTTL(ttl time.Duration) Option {
	return func(c *Coordinator) {
		if ttl > 0 {
			c.leaseTTL = ttl
		}
	}
}

// WithOwner sets the lease owner identity of this coordinator.
func WithOwner(owner string) Option {
	return func(c *Coordinator) {
		if owner != "" {
			c.owner = owner
		}
	}
}

// NewCoordinator wires a coordinator.
func NewCoordinator(graphs ports.GraphStore, registry ports.BlockRegistry, ledger ports.Ledger, opts ...Option) *Coordinator {
	c := &Coordinator{
		graphs:       graphs,
		registry:     registry,
		ledger:       ledger,
		logger:       logging.NewNoOpLogger(),
		now:          time.Now,
		policy:       DefaultRetryPolicy(),
		nodeTimeout:  defaultNodeTimeout,
		iterationCap: defaultIterationCap,
		leaseTTL:     defaultLeaseTTL,
		owner:        "coordinator-" + uuid.NewString(),
		cancels:      make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.pool == nil {
		c.pool = NewPool(4)
	}
	c.policy = c.policy.normalized()
	c.logger = c.logger.With("component", "coordinator")
	return c
}

// Prepared is a request whose graph compiled and whose input is complete.
type Prepared struct {
	Request agent.ExecutionRequest
	Graph   *CompiledGraph
	Input   map[string]map[string]agent.Value
}

// Prepare loads and compiles the requested graph version and checks the
// execution input. It writes nothing, so definition errors and missing
// input are reported before any ledger row exists.
func (c *Coordinator) Prepare(ctx context.Context, req agent.ExecutionRequest) (*Prepared, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	graph, err := c.graphs.Get(ctx, agent.Ref{ID: req.GraphID, Version: req.GraphVersion})
	if err != nil {
		return nil, err
	}
	compiled, err := Compile(graph, c.registry)
	if err != nil {
		return nil, err
	}
	input, err := compiled.ResolveInput(req.Input)
	if err != nil {
		return nil, err
	}
	if err := compiled.CheckInputs(input); err != nil {
		return nil, err
	}
	return &Prepared{Request: req, Graph: compiled, Input: input}, nil
}

// Run executes the request to a terminal state and returns its report.
// Replaying a request is safe: a terminal execution returns its stored
// report, a non-terminal one resumes from the ledger. Run returns
// LEASE_UNAVAILABLE when another owner drives the execution and LEASE_LOST
// when ownership is lost mid-run; in both cases the execution is left for its
// current owner. A duplicate Run for an execution this coordinator is already
// driving also returns LEASE_UNAVAILABLE.
func (c *Coordinator) Run(ctx context.Context, req agent.ExecutionRequest) (*ExecutionReport, error) {
	prepared, err := c.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	logger := c.logger.With("execution_id", req.ExecutionID, "graph_id", req.GraphID, "graph_version", req.GraphVersion)

	// Lease owners may re-acquire their own lease, so a second delivery of
	// the same request on this coordinator is refused here.
	signal, ok := c.register(req.ExecutionID)
	if !ok {
		logger.Info(ctx, "execution already running on this coordinator")
		return nil, agent.NewError(agent.ErrCodeLeaseHeld, "execution already running", nil, map[string]interface{}{
			"execution_id": req.ExecutionID,
			"owner":        c.owner,
		})
	}
	defer c.unregister(req.ExecutionID)

	var lease ports.Lease
	if c.leases != nil {
		lease, err = c.leases.Acquire(ctx, req.ExecutionID, c.owner, c.leaseTTL)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn(ctx, "lease release failed", "error", err)
			}
		}()
	}

	var exec *agent.Execution
	var created bool
	err = durable(ctx, c.policy, logger, "create execution", func(ctx context.Context) error {
		var err error
		exec, created, err = c.ledger.CreateExecution(ctx, agent.NewExecution(req, c.now()))
		return err
	})
	if err != nil {
		return nil, err
	}
	if exec.Status.IsTerminal() {
		logger.Info(ctx, "execution already finished", "status", string(exec.Status))
		return c.Report(ctx, exec.ID)
	}
	if !created {
		logger.Info(ctx, "resuming execution", "status", string(exec.Status))
	}

	run := &execution{
		c:        c,
		exec:     exec,
		prepared: prepared,
		lease:    lease,
		logger:   logger,
		resolver: NewResolver(prepared.Graph, prepared.Input, c.iterationCap),
		dispatch: newDispatcher(c.ledger, c.events, c.logger, c.now, c.policy, c.nodeTimeout),
	}
	run.life = newLifecycle(exec, c.now, func(ctx context.Context, e *agent.Execution) error {
		return durable(ctx, c.policy, logger, "update execution", func(ctx context.Context) error {
			return c.ledger.UpdateExecution(ctx, e)
		})
	})

	if err := run.execute(ctx, created, signal); err != nil {
		return nil, err
	}
	return c.Report(ctx, exec.ID)
}

// Cancel records a cancel request. A locally running execution stops
// dispatching and fails once in-flight nodes finish; an execution that has
// not started is failed immediately when its lease is free. Other owners
// observe the request when they renew their lease.
func (c *Coordinator) Cancel(ctx context.Context, executionID string) (*agent.Execution, error) {
	exec, err := c.ledger.RequestCancel(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.Status.IsTerminal() {
		return exec, nil
	}
	if c.signal(executionID) {
		c.logger.Info(ctx, "cancel signalled to running execution", "execution_id", executionID)
		return exec, nil
	}
	if exec.Status != agent.StatusIncomplete && exec.Status != agent.StatusQueued {
		return exec, nil
	}

	if c.leases != nil {
		lease, err := c.leases.Acquire(ctx, executionID, c.owner, c.leaseTTL)
		if err != nil {
			if agent.HasCode(err, agent.ErrCodeLeaseHeld) {
				return exec, nil
			}
			return nil, err
		}
		defer func() { _ = lease.Release(context.WithoutCancel(ctx)) }()
		// Re-read under the lease in case the execution started meanwhile.
		if exec, err = c.ledger.GetExecution(ctx, executionID); err != nil {
			return nil, err
		}
		if exec.Status != agent.StatusIncomplete && exec.Status != agent.StatusQueued {
			return exec, nil
		}
	}

	life := newLifecycle(exec, c.now, func(ctx context.Context, e *agent.Execution) error {
		return durable(ctx, c.policy, c.logger, "update execution", func(ctx context.Context) error {
			return c.ledger.UpdateExecution(ctx, e)
		})
	})
	if err := life.fail(ctx, agent.ReasonCancelled, "cancelled before start"); err != nil {
		return nil, err
	}
	c.publishExecution(ctx, exec)
	c.logger.Info(ctx, "execution cancelled before start", "execution_id", executionID)
	return exec, nil
}

// register claims id for one scheduling loop. It reports false when a loop
// for id is already registered.
func (c *Coordinator) register(id string) (chan struct{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.cancels[id]; ok {
		return nil, false
	}
	ch := make(chan struct{})
	c.cancels[id] = ch
	return ch, true
}

func (c *Coordinator) unregister(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cancels, id)
}

func (c *Coordinator) signal(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.cancels[id]
	if !ok {
		return false
	}
	select {
	case <-ch:
	default:
		close(ch)
	}
	return true
}

func (c *Coordinator) publishExecution(ctx context.Context, exec *agent.Execution) {
	if !exec.LiveMonitoring || c.events == nil {
		return
	}
	event := agent.LiveEvent{
		ExecutionID: exec.ID,
		Status:      exec.Status,
		Timestamp:   c.now(),
		Error:       exec.Error,
	}
	if err := c.events.Publish(ctx, event); err != nil {
		c.logger.Warn(ctx, "live event publish failed", "event_type", event.EventType(), "error", err)
	}
}

// execution is the state of one scheduling loop.
type execution struct {
	c        *Coordinator
	exec     *agent.Execution
	prepared *Prepared
	lease    ports.Lease
	logger   ports.Logger
	resolver *Resolver
	dispatch *Dispatcher
	life     *lifecycle
}

type outcome struct {
	result Result
	err    error
}

func (r *execution) execute(ctx context.Context, created bool, signal chan struct{}) error {
	c := r.c
	if r.exec.CancelRequested {
		if r.exec.Status == agent.StatusRunning {
			if _, err := r.restore(ctx); err != nil {
				return err
			}
			return r.finalize(ctx, true)
		}
		if err := r.life.fail(ctx, agent.ReasonCancelled, "cancelled before start"); err != nil {
			return err
		}
		c.publishExecution(ctx, r.exec)
		return nil
	}

	if err := r.life.queue(ctx); err != nil {
		return err
	}
	if created {
		c.publishExecution(ctx, r.exec)
	}

	var queue []Ready
	if created {
		queue = r.resolver.Seed()
	} else {
		restored, err := r.restore(ctx)
		if err != nil {
			return err
		}
		queue = restored
	}

	if r.exec.Status == agent.StatusQueued && len(queue) == 0 && !created {
		// Nothing left to run on resume.
		return r.finalize(ctx, false)
	}
	if r.exec.Status != agent.StatusRunning {
		if err := r.life.start(ctx); err != nil {
			return err
		}
		c.publishExecution(ctx, r.exec)
	}
	r.logger.Info(ctx, "execution running", "ready", len(queue))

	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()

	results := make(chan outcome)
	slots := make(chan error, 1)
	acquiring := false
	inFlight := 0
	cancelled := false
	leaseLost := false
	var fatal error

	var renew <-chan time.Time
	if r.lease != nil {
		ticker := time.NewTicker(c.leaseTTL / 3)
		defer ticker.Stop()
		renew = ticker.C
	}
	done := ctx.Done()

	for {
		canDispatch := !cancelled && !leaseLost && fatal == nil
		if canDispatch && !acquiring && len(queue) > 0 {
			acquiring = true
			go func() { slots <- c.pool.Acquire(loopCtx) }()
		}
		if inFlight == 0 && !acquiring && (len(queue) == 0 || !canDispatch) {
			break
		}

		select {
		case err := <-slots:
			acquiring = false
			if err != nil {
				continue
			}
			if !canDispatch || cancelled || leaseLost || fatal != nil {
				c.pool.Release()
				continue
			}
			ready := queue[0]
			queue = queue[1:]
			inFlight++
			task := Task{ExecutionID: r.exec.ID, Live: r.exec.LiveMonitoring, Node: r.prepared.Graph.Nodes[ready.NodeID], Ready: ready}
			go func() {
				res, err := r.dispatch.Dispatch(ctx, task)
				c.pool.Release()
				results <- outcome{result: res, err: err}
			}()

		case out := <-results:
			inFlight--
			if out.err != nil {
				if fatal == nil {
					fatal = out.err
				}
				stopLoop()
				continue
			}
			res := out.result
			r.exec.Stats.Dispatches++
			if res.Attempts > 1 {
				r.exec.Stats.Retries += res.Attempts - 1
			}
			var next []Ready
			if res.Failed() {
				next = r.resolver.Fail(res.NodeID, res.Generation, failureMessage(res.Err))
			} else {
				next = r.resolver.Complete(res.NodeID, res.Generation, res.Outputs)
			}
			if !cancelled {
				queue = append(queue, next...)
			}

		case <-signal:
			signal = nil
			cancelled = true
			stopLoop()
			r.logger.Info(ctx, "cancel requested; waiting for in-flight nodes", "in_flight", inFlight)

		case <-renew:
			if err := r.lease.Renew(ctx); err != nil {
				if agent.HasCode(err, agent.ErrCodeLeaseLost) {
					leaseLost = true
					stopLoop()
					r.logger.Error(ctx, "execution lease lost; stopping dispatch", "error", err)
					continue
				}
				r.logger.Warn(ctx, "lease renewal failed", "error", err)
			}
			if !cancelled {
				if stored, err := c.ledger.GetExecution(ctx, r.exec.ID); err == nil && stored.CancelRequested {
					cancelled = true
					stopLoop()
					r.logger.Info(ctx, "cancel requested elsewhere; waiting for in-flight nodes", "in_flight", inFlight)
				}
			}

		case <-done:
			done = nil
			if fatal == nil {
				fatal = agent.NewError(agent.ErrCodeCancelled, "coordinator stopped", ctx.Err(), nil)
			}
			stopLoop()
		}
	}

	if leaseLost {
		return agent.NewError(agent.ErrCodeLeaseLost, "execution lease lost", nil, map[string]interface{}{"execution_id": r.exec.ID})
	}
	if fatal != nil {
		r.logger.Error(ctx, "execution interrupted", "error", fatal)
		return fatal
	}
	return r.finalize(ctx, cancelled)
}

// restore rebuilds the working set from the ledger and returns what remains
// to dispatch. Non-terminal rows are re-dispatched under their own key.
func (r *execution) restore(ctx context.Context) ([]Ready, error) {
	c := r.c
	rows, err := c.ledger.ListNodeExecutions(ctx, r.exec.ID)
	if err != nil {
		return nil, err
	}
	outputs := make(map[string]agent.Outputs)
	for _, row := range rows {
		if row.Status != agent.StatusCompleted {
			continue
		}
		ios, err := c.ledger.ListIO(ctx, row.ID)
		if err != nil {
			return nil, err
		}
		decoded, err := decodeOutputs(ios)
		if err != nil {
			return nil, err
		}
		outputs[row.ID] = decoded
	}

	queue := r.resolver.Restore(rows, outputs)
	queued := make(map[agent.NodeKey]bool, len(queue))
	for _, item := range queue {
		queued[item.Key(r.exec.ID)] = true
	}
	for _, row := range rows {
		if row.Status.IsTerminal() || queued[row.Key()] {
			continue
		}
		if _, ok := r.prepared.Graph.Nodes[row.NodeID]; !ok {
			continue
		}
		ios, err := c.ledger.ListIO(ctx, row.ID)
		if err != nil {
			return nil, err
		}
		inputs, err := decodeInputs(ios)
		if err != nil {
			return nil, err
		}
		r.resolver.Track(row.NodeID, row.Generation)
		queue = append(queue, Ready{NodeID: row.NodeID, Generation: row.Generation, Inputs: inputs})
	}
	r.logger.Info(ctx, "execution state restored", "rows", len(rows), "pending", len(queue))
	return queue, nil
}

// finalize writes INCOMPLETE rows for nodes that never ran, classifies the
// execution, and moves it to its terminal state.
func (r *execution) finalize(ctx context.Context, cancelled bool) error {
	c := r.c
	graph := r.prepared.Graph

	rows, err := c.ledger.ListNodeExecutions(ctx, r.exec.ID)
	if err != nil {
		return err
	}
	if cancelled {
		if err := r.settleInFlight(ctx, rows); err != nil {
			return err
		}
	}
	hasRow := make(map[string]bool, len(rows))
	failedRow := make(map[string]*agent.NodeExecution)
	for _, row := range rows {
		hasRow[row.NodeID] = true
		if row.Status == agent.StatusFailed && failedRow[row.NodeID] == nil {
			failedRow[row.NodeID] = row
		}
	}

	stats := &r.exec.Stats
	stats.NodesTotal = len(graph.Order)
	stats.NodesCompleted, stats.NodesFailed, stats.NodesIncomplete = 0, 0, 0
	stats.LoopCapHits = r.resolver.LoopCapHits()

	var failedNodes []string
	var firstFailure string
	for _, id := range graph.Order {
		if !hasRow[id] {
			node := graph.Nodes[id]
			err := durable(ctx, c.policy, r.logger, "record unreachable node", func(ctx context.Context) error {
				_, _, err := c.ledger.AdmitNodeExecution(ctx, &agent.NodeExecution{
					ExecutionID: r.exec.ID,
					NodeID:      id,
					BlockType:   node.BlockType,
					Generation:  1,
					Status:      agent.StatusIncomplete,
					AddedTime:   c.now(),
				})
				return err
			})
			if err != nil {
				return err
			}
		}

		// A failed generation fails the node even when a later one completed.
		if failed := failedRow[id]; failed != nil {
			stats.NodesFailed++
			if !graph.Nodes[id].ErrorPath {
				failedNodes = append(failedNodes, id)
				if firstFailure == "" {
					firstFailure = failed.Error
				}
			}
			continue
		}
		if r.resolver.Status(id) == agent.StatusCompleted {
			stats.NodesCompleted++
		} else {
			stats.NodesIncomplete++
		}
	}

	switch {
	case cancelled:
		err = r.life.fail(ctx, agent.ReasonCancelled, "execution cancelled")
	case len(failedNodes) > 0:
		message := fmt.Sprintf("node %s failed", failedNodes[0])
		if firstFailure != "" {
			message += ": " + firstFailure
		}
		if len(failedNodes) > 1 {
			message += fmt.Sprintf(" (and %d more)", len(failedNodes)-1)
		}
		err = r.life.fail(ctx, agent.ReasonNodeFailed, message)
	default:
		err = r.life.complete(ctx)
	}
	if err != nil {
		return err
	}

	c.publishExecution(ctx, r.exec)
	r.logger.Info(ctx, "execution finished",
		"status", string(r.exec.Status),
		"failure_reason", string(r.exec.FailureReason),
		"nodes_completed", stats.NodesCompleted,
		"nodes_failed", stats.NodesFailed,
		"nodes_incomplete", stats.NodesIncomplete,
		"duration_ms", stats.Duration.Milliseconds(),
	)
	return nil
}

// settleInFlight fails rows a previous owner left queued or running, so a
// cancelled execution keeps no in-flight node rows. rows are updated in place.
func (r *execution) settleInFlight(ctx context.Context, rows []*agent.NodeExecution) error {
	c := r.c
	for _, row := range rows {
		if row.Status != agent.StatusQueued && row.Status != agent.StatusRunning {
			continue
		}
		row.Status = agent.StatusFailed
		row.ErrorKind = agent.ErrCodeCancelled
		row.Error = "execution cancelled"
		row.EndedTime = c.now()
		if !row.StartedTime.IsZero() {
			row.Stats.Duration = row.EndedTime.Sub(row.StartedTime)
		}
		err := durable(ctx, c.policy, r.logger, "settle node execution", func(ctx context.Context) error {
			return c.ledger.UpdateNodeExecution(ctx, row)
		})
		if err != nil {
			return err
		}
		r.logger.Info(ctx, "in-flight node settled after cancel", "node_id", row.NodeID, "generation", row.Generation)
	}
	return nil
}

func decodeInputs(rows []*agent.NodeExecutionIO) (map[string]agent.Value, error) {
	inputs := make(map[string]agent.Value)
	for _, io := range rows {
		if io.Direction != agent.DirectionInput {
			continue
		}
		var value agent.Value
		if err := sonic.Unmarshal(io.Data, &value); err != nil {
			return nil, agent.NewError(agent.ErrCodeLedger, "decode stored input", err, map[string]interface{}{
				"node_execution_id": io.NodeExecutionID,
				"port":              io.Name,
			})
		}
		inputs[io.Name] = value
	}
	return inputs, nil
}
