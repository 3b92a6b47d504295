package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bytedance/sonic"
	"github.com/sethvargo/go-retry"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
	"github.com/alexisbeaulieu97/graphrun/internal/ports"
)

const outputSummaryLimit = 120

// Task is one node generation handed to the dispatcher.
type Task struct {
	ExecutionID string
	Live        bool
	Node        *CompiledNode
	Ready       Ready
}

// Result is the terminal outcome of a task.
type Result struct {
	NodeID     string
	Generation int
	Row        *agent.NodeExecution
	Outputs    agent.Outputs
	Err        error
	Attempts   int
}

// Failed reports whether the node generation ended FAILED.
func (r Result) Failed() bool {
	return r.Err != nil
}

// Dispatcher runs one node generation end to end: admission, invocation with
// timeout and retries, and durable recording of IO rows and status.
type Dispatcher struct {
	ledger  ports.Ledger
	events  ports.EventPublisher
	logger  ports.Logger
	now     func() time.Time
	policy  RetryPolicy
	timeout time.Duration
}

func newDispatcher(ledger ports.Ledger, events ports.EventPublisher, logger ports.Logger, now func() time.Time, policy RetryPolicy, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		ledger:  ledger,
		events:  events,
		logger:  logger.With("component", "dispatcher"),
		now:     now,
		policy:  policy,
		timeout: timeout,
	}
}

// Dispatch runs the task. ctx governs ledger writes; the block itself runs on
// a context detached from ctx cancellation and bounded only by its timeout,
// so in-flight blocks finish when the execution is cancelled. An error is
// returned only when the ledger could not be written; block failures are
// reported in the Result.
func (d *Dispatcher) Dispatch(ctx context.Context, task Task) (Result, error) {
	node := task.Node
	logger := d.logger.With("execution_id", task.ExecutionID, "node_id", node.ID, "generation", task.Ready.Generation)
	result := Result{NodeID: node.ID, Generation: task.Ready.Generation}

	row, err := d.admit(ctx, task, logger)
	if err != nil {
		return result, err
	}
	result.Row = row

	if row.Status.IsTerminal() {
		// Replayed dispatch of a generation that already finished.
		return d.stored(ctx, row, result)
	}

	inputs := node.InputSchema.ApplyDefaults(task.Ready.Inputs)
	if err := d.recordInputs(ctx, row, inputs); err != nil {
		return result, err
	}

	var outputs agent.Outputs
	var invokeErr error
	if err := node.CheckSchema.Validate(inputs); err != nil {
		invokeErr = agent.NewError(agent.ErrCodeBlock, "invalid input", &agent.BlockError{Kind: "InvalidInput", Message: err.Error(), Cause: err}, nil)
	} else {
		var ledgerErr error
		outputs, invokeErr, ledgerErr = d.invokeWithRetry(ctx, task, row, inputs, logger)
		if ledgerErr != nil {
			return result, ledgerErr
		}
	}
	result.Attempts = row.Stats.Attempts

	if invokeErr == nil {
		outputs, invokeErr = d.checkOutputs(ctx, node, outputs, logger)
	}
	if invokeErr != nil {
		result.Err = invokeErr
		return result, d.finishFailed(ctx, task, row, invokeErr, logger)
	}

	result.Outputs = outputs
	return result, d.finishCompleted(ctx, task, row, outputs, logger)
}

func (d *Dispatcher) admit(ctx context.Context, task Task, logger ports.Logger) (*agent.NodeExecution, error) {
	key := task.Ready.Key(task.ExecutionID)
	var row *agent.NodeExecution
	err := durable(ctx, d.policy, logger, "admit node execution", func(ctx context.Context) error {
		stored, created, err := d.ledger.AdmitNodeExecution(ctx, &agent.NodeExecution{
			ExecutionID: key.ExecutionID,
			NodeID:      key.NodeID,
			Generation:  key.Generation,
			BlockType:   task.Node.BlockType,
			AddedTime:   d.now(),
		})
		if err != nil {
			return err
		}
		if !created {
			logger.Debug(ctx, "node execution already admitted", "node_execution_id", stored.ID, "status", string(stored.Status))
		}
		row = stored
		return nil
	})
	if err != nil || row.Status.IsTerminal() {
		return row, err
	}

	if row.Status == agent.StatusIncomplete {
		row.Status = agent.StatusQueued
		row.QueuedTime = d.now()
		if err := d.update(ctx, row, logger); err != nil {
			return nil, err
		}
		d.publish(ctx, task, row, nil, "")
	}
	if row.Status == agent.StatusQueued {
		row.Status = agent.StatusRunning
		row.StartedTime = d.now()
		if err := d.update(ctx, row, logger); err != nil {
			return nil, err
		}
	}
	d.publish(ctx, task, row, nil, "")
	return row, nil
}

func (d *Dispatcher) recordInputs(ctx context.Context, row *agent.NodeExecution, inputs map[string]agent.Value) error {
	count, err := d.record(ctx, row, agent.DirectionInput, inputs)
	if err != nil {
		return err
	}
	row.Stats.Inputs = count
	return nil
}

func (d *Dispatcher) record(ctx context.Context, row *agent.NodeExecution, direction agent.IODirection, values map[string]agent.Value) (int, error) {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		data, err := sonic.Marshal(values[name])
		if err != nil {
			return 0, agent.NewError(agent.ErrCodeBlock, "value is not JSON encodable", err, map[string]interface{}{
				"node_id": row.NodeID,
				"port":    name,
			})
		}
		io := &agent.NodeExecutionIO{
			ExecutionID:     row.ExecutionID,
			NodeExecutionID: row.ID,
			Direction:       direction,
			Name:            name,
			Data:            data,
			Time:            d.now(),
		}
		err = durable(ctx, d.policy, d.logger, "record io", func(ctx context.Context) error {
			_, _, err := d.ledger.RecordIO(ctx, io)
			return err
		})
		if err != nil {
			return 0, err
		}
	}
	return len(names), nil
}

// invokeWithRetry returns the outputs or the final block failure, plus a
// ledger error when an attempt could not be recorded.
func (d *Dispatcher) invokeWithRetry(ctx context.Context, task Task, row *agent.NodeExecution, inputs map[string]agent.Value, logger ports.Logger) (agent.Outputs, error, error) {
	blockCtx := context.WithoutCancel(ctx)
	inv := agent.Invocation{
		ExecutionID:     task.ExecutionID,
		NodeID:          task.Node.ID,
		NodeExecutionID: row.ID,
		Generation:      row.Generation,
		Inputs:          inputs,
		Constants:       task.Node.ConstantInput,
	}
	timeout := d.timeout
	if task.Node.Timeout > 0 {
		timeout = task.Node.Timeout
	}

	var outputs agent.Outputs
	var lastErr, ledgerErr error
	_ = retry.Do(blockCtx, d.policy.blockBackoff(), func(context.Context) error {
		row.Stats.Attempts++
		if row.Stats.Attempts > 1 {
			if err := d.update(ctx, row, logger); err != nil {
				ledgerErr = err
				return err
			}
		}

		start := d.now()
		out, err := invoke(blockCtx, task.Node.Block, inv, timeout)
		row.Stats.Duration += d.now().Sub(start)
		if err == nil {
			outputs = out
			lastErr = nil
			return nil
		}

		lastErr = err
		if isRetryable(err) && row.Stats.Attempts < d.policy.MaxAttempts {
			logger.Warn(ctx, "node attempt failed, retrying", "attempt", row.Stats.Attempts, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
	if ledgerErr != nil {
		return nil, nil, ledgerErr
	}
	if lastErr != nil {
		return nil, lastErr, nil
	}
	return outputs, nil, nil
}

// invoke calls the block with a deadline. Panics are reported as
// non-retryable block failures.
func invoke(ctx context.Context, block ports.Block, inv agent.Invocation, timeout time.Duration) (agent.Outputs, error) {
	if block == nil {
		return nil, agent.NewError(agent.ErrCodeUnknownBlock, "no block bound to node", nil, map[string]interface{}{"node_id": inv.NodeID})
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		outputs agent.Outputs
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: agent.NewError(agent.ErrCodeBlock, "block panicked", &agent.BlockError{Kind: "Panic", Message: fmt.Sprint(r)}, nil)}
			}
		}()
		out, err := block.Invoke(ctx, inv)
		done <- outcome{outputs: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err == nil {
			return res.outputs, nil
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, timeoutError(inv, timeout, res.err)
		}
		return nil, classify(res.err)
	case <-ctx.Done():
		return nil, timeoutError(inv, timeout, ctx.Err())
	}
}

func timeoutError(inv agent.Invocation, timeout time.Duration, cause error) error {
	return agent.NewError(agent.ErrCodeTimeout, "block invocation timed out", cause, map[string]interface{}{
		"node_id":    inv.NodeID,
		"timeout_ms": timeout.Milliseconds(),
	})
}

// classify normalises a block error. Domain errors keep their code; anything
// else becomes a BLOCK_EXECUTION_ERROR wrapping the cause.
func classify(err error) error {
	var domainErr *agent.DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	return agent.NewError(agent.ErrCodeBlock, "block failed", err, nil)
}

// checkOutputs drops undeclared ports and rejects values of the wrong type.
func (d *Dispatcher) checkOutputs(ctx context.Context, node *CompiledNode, outputs agent.Outputs, logger ports.Logger) (agent.Outputs, error) {
	if len(node.OutputSchema) == 0 {
		return outputs, nil
	}
	kept := make(agent.Outputs, len(outputs))
	for name, value := range outputs {
		port, ok := node.OutputSchema.Port(name)
		if !ok {
			logger.Warn(ctx, "dropping undeclared output port", "port", name)
			continue
		}
		if !port.Type.Accepts(value) {
			return nil, agent.NewError(agent.ErrCodeBlock, "invalid output", &agent.BlockError{
				Kind:    "InvalidOutput",
				Message: fmt.Sprintf("port %s expects %s, got %T", name, port.Type, value),
			}, nil)
		}
		kept[name] = value
	}
	return kept, nil
}

func (d *Dispatcher) finishCompleted(ctx context.Context, task Task, row *agent.NodeExecution, outputs agent.Outputs, logger ports.Logger) error {
	count, err := d.record(ctx, row, agent.DirectionOutput, outputs)
	if err != nil {
		return err
	}
	row.Stats.Outputs = count
	row.Status = agent.StatusCompleted
	row.EndedTime = d.now()
	if err := d.update(ctx, row, logger); err != nil {
		return err
	}
	logger.Info(ctx, "node completed", "attempts", row.Stats.Attempts, "duration_ms", row.Stats.Duration.Milliseconds())
	d.publish(ctx, task, row, outputs, "")
	return nil
}

func (d *Dispatcher) finishFailed(ctx context.Context, task Task, row *agent.NodeExecution, failure error, logger ports.Logger) error {
	row.Status = agent.StatusFailed
	row.ErrorKind = agent.CodeOf(failure)
	row.Error = failureMessage(failure)
	row.EndedTime = d.now()
	if task.Node.ErrorPath {
		if _, err := d.record(ctx, row, agent.DirectionOutput, map[string]agent.Value{agent.ErrorPort: row.Error}); err != nil {
			return err
		}
		row.Stats.Outputs = 1
	}
	if err := d.update(ctx, row, logger); err != nil {
		return err
	}
	logger.Warn(ctx, "node failed", "error_kind", string(row.ErrorKind), "error", failure, "attempts", row.Stats.Attempts)
	d.publish(ctx, task, row, nil, row.Error)
	return nil
}

// stored rebuilds the result of a generation that already reached a
// terminal status from its ledger rows.
func (d *Dispatcher) stored(ctx context.Context, row *agent.NodeExecution, result Result) (Result, error) {
	result.Attempts = row.Stats.Attempts
	if row.Status == agent.StatusFailed {
		result.Err = agent.NewError(row.ErrorKind, row.Error, nil, nil)
		return result, nil
	}
	rows, err := d.ledger.ListIO(ctx, row.ID)
	if err != nil {
		return result, err
	}
	outputs, err := decodeOutputs(rows)
	if err != nil {
		return result, err
	}
	result.Outputs = outputs
	return result, nil
}

func (d *Dispatcher) update(ctx context.Context, row *agent.NodeExecution, logger ports.Logger) error {
	return durable(ctx, d.policy, logger, "update node execution", func(ctx context.Context) error {
		return d.ledger.UpdateNodeExecution(ctx, row)
	})
}

func (d *Dispatcher) publish(ctx context.Context, task Task, row *agent.NodeExecution, outputs agent.Outputs, message string) {
	if !task.Live || d.events == nil {
		return
	}
	event := agent.LiveEvent{
		ExecutionID:     row.ExecutionID,
		NodeID:          row.NodeID,
		NodeExecutionID: row.ID,
		Generation:      row.Generation,
		Status:          row.Status,
		Timestamp:       d.now(),
		OutputSummary:   agent.Summarize(outputs, outputSummaryLimit),
		Error:           message,
	}
	if err := d.events.Publish(ctx, event); err != nil {
		d.logger.Warn(ctx, "live event publish failed", "event_type", event.EventType(), "error", err)
	}
}

// decodeOutputs turns output IO rows back into values.
func decodeOutputs(rows []*agent.NodeExecutionIO) (agent.Outputs, error) {
	outputs := make(agent.Outputs)
	for _, io := range rows {
		if io.Direction != agent.DirectionOutput {
			continue
		}
		var value agent.Value
		if err := sonic.Unmarshal(io.Data, &value); err != nil {
			return nil, agent.NewError(agent.ErrCodeLedger, "decode stored output", err, map[string]interface{}{
				"node_execution_id": io.NodeExecutionID,
				"port":              io.Name,
			})
		}
		outputs[io.Name] = value
	}
	return outputs, nil
}

func failureMessage(err error) string {
	var blockErr *agent.BlockError
	if errors.As(err, &blockErr) {
		return blockErr.Error()
	}
	var domainErr *agent.DomainError
	if errors.As(err, &domainErr) {
		if domainErr.Cause != nil {
			return domainErr.Message + ": " + domainErr.Cause.Error()
		}
		return domainErr.Message
	}
	return err.Error()
}
