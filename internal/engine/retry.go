package engine

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
	"github.com/alexisbeaulieu97/graphrun/internal/ports"
)

// RetryPolicy governs block re-dispatch and ledger write retries.
type RetryPolicy struct {
	// MaxAttempts bounds invocations of one node generation, first try included.
	MaxAttempts int
	// Backoff is the first delay between block attempts; it doubles each time.
	Backoff time.Duration
	// LedgerBackoff is the first delay between ledger write attempts.
	LedgerBackoff time.Duration
	// LedgerBackoffCap caps the ledger delay. Ledger writes never give up
	// while the context is live.
	LedgerBackoffCap time.Duration
}

// DefaultRetryPolicy returns the engine defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:      3,
		Backoff:          200 * time.Millisecond,
		LedgerBackoff:    50 * time.Millisecond,
		LedgerBackoffCap: 5 * time.Second,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Backoff <= 0 {
		p.Backoff = def.Backoff
	}
	if p.LedgerBackoff <= 0 {
		p.LedgerBackoff = def.LedgerBackoff
	}
	if p.LedgerBackoffCap <= 0 {
		p.LedgerBackoffCap = def.LedgerBackoffCap
	}
	if p.LedgerBackoffCap < p.LedgerBackoff {
		p.LedgerBackoffCap = p.LedgerBackoff
	}
	return p
}

func (p RetryPolicy) blockBackoff() retry.Backoff {
	b := retry.NewExponential(p.Backoff)
	b = retry.WithJitterPercent(10, b)
	return retry.WithMaxRetries(uint64(p.MaxAttempts-1), b)
}

func (p RetryPolicy) ledgerBackoff() retry.Backoff {
	b := retry.NewExponential(p.LedgerBackoff)
	return retry.WithCappedDuration(p.LedgerBackoffCap, b)
}

// isRetryable reports whether a failed invocation may be dispatched again.
func isRetryable(err error) bool {
	var blockErr *agent.BlockError
	if errors.As(err, &blockErr) {
		return blockErr.Retryable
	}
	switch agent.CodeOf(err) {
	case agent.ErrCodeTimeout, agent.ErrCodeDispatch:
		return true
	}
	return false
}

// durable runs a ledger write until it succeeds, fails with a non-ledger
// error, or ctx ends.
func durable(ctx context.Context, policy RetryPolicy, logger ports.Logger, op string, fn func(context.Context) error) error {
	attempt := 0
	err := retry.Do(ctx, policy.ledgerBackoff(), func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if agent.HasCode(err, agent.ErrCodeLedger) {
			logger.Warn(ctx, "ledger write failed, retrying", "operation", op, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil && ctx.Err() != nil && !agent.HasCode(err, agent.ErrCodeCancelled) {
		return agent.NewError(agent.ErrCodeCancelled, "ledger write abandoned", err, map[string]interface{}{"operation": op})
	}
	return err
}
