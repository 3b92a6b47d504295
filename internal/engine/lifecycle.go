package engine

import (
	"context"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
)

type trigger string

const (
	triggerQueue    trigger = "queue"
	triggerStart    trigger = "start"
	triggerComplete trigger = "complete"
	triggerFail     trigger = "fail"
)

// lifecycle is the execution state machine. Its state lives in the
// Execution row; every transition is persisted through save before the
// machine reports it.
type lifecycle struct {
	exec *agent.Execution
	now  func() time.Time
	save func(context.Context, *agent.Execution) error
	fsm  *stateless.StateMachine
}

func newLifecycle(exec *agent.Execution, now func() time.Time, save func(context.Context, *agent.Execution) error) *lifecycle {
	l := &lifecycle{exec: exec, now: now, save: save}

	l.fsm = stateless.NewStateMachineWithExternalStorage(
		func(context.Context) (stateless.State, error) {
			return l.exec.Status, nil
		},
		func(ctx context.Context, state stateless.State) error {
			return l.persist(ctx, state.(agent.Status))
		},
		stateless.FiringImmediate,
	)

	l.fsm.Configure(agent.StatusIncomplete).
		Permit(triggerQueue, agent.StatusQueued).
		Permit(triggerFail, agent.StatusFailed)

	l.fsm.Configure(agent.StatusQueued).
		Permit(triggerStart, agent.StatusRunning).
		Permit(triggerComplete, agent.StatusCompleted).
		Permit(triggerFail, agent.StatusFailed)

	l.fsm.Configure(agent.StatusRunning).
		Permit(triggerComplete, agent.StatusCompleted).
		Permit(triggerFail, agent.StatusFailed)

	l.fsm.Configure(agent.StatusCompleted)
	l.fsm.Configure(agent.StatusFailed)

	return l
}

func (l *lifecycle) persist(ctx context.Context, next agent.Status) error {
	previous := *l.exec
	now := l.now()
	l.exec.Status = next
	switch next {
	case agent.StatusRunning:
		if l.exec.StartedAt.IsZero() {
			l.exec.StartedAt = now
		}
	case agent.StatusCompleted, agent.StatusFailed:
		l.exec.EndedAt = now
		if !l.exec.StartedAt.IsZero() {
			l.exec.Stats.Duration = now.Sub(l.exec.StartedAt)
		}
	}
	if err := l.save(ctx, l.exec); err != nil {
		*l.exec = previous
		return err
	}
	return nil
}

// fire moves the execution along t. Firing a trigger that is not permitted
// from the current state is an INVALID_STATE error.
func (l *lifecycle) fire(ctx context.Context, t trigger) error {
	ok, err := l.fsm.CanFireCtx(ctx, t)
	if err != nil {
		return agent.NewError(agent.ErrCodeState, "read execution state", err, nil)
	}
	if !ok {
		return agent.NewError(agent.ErrCodeState, "transition not permitted", nil, map[string]interface{}{
			"execution_id": l.exec.ID,
			"status":       string(l.exec.Status),
			"trigger":      string(t),
		})
	}
	return l.fsm.FireCtx(ctx, t)
}

// queue moves INCOMPLETE executions to QUEUED and is a no-op otherwise.
func (l *lifecycle) queue(ctx context.Context) error {
	if l.exec.Status != agent.StatusIncomplete {
		return nil
	}
	return l.fire(ctx, triggerQueue)
}

// start moves QUEUED executions to RUNNING and is a no-op when already running.
func (l *lifecycle) start(ctx context.Context) error {
	if l.exec.Status == agent.StatusRunning {
		return nil
	}
	return l.fire(ctx, triggerStart)
}

func (l *lifecycle) complete(ctx context.Context) error {
	return l.fire(ctx, triggerComplete)
}

func (l *lifecycle) fail(ctx context.Context, reason agent.FailureReason, message string) error {
	previousReason, previousError := l.exec.FailureReason, l.exec.Error
	l.exec.FailureReason = reason
	l.exec.Error = message
	if err := l.fire(ctx, triggerFail); err != nil {
		l.exec.FailureReason, l.exec.Error = previousReason, previousError
		return err
	}
	return nil
}

func (l *lifecycle) status() agent.Status {
	return l.exec.Status
}
