package logging

import (
	"context"

	"github.com/alexisbeaulieu97/graphrun/internal/ports"
)

// WithCorrelationID tags ctx so every log line of one CLI invocation or
// service delivery can be grouped.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return ports.WithCorrelationID(ctx, id)
}

// GetCorrelationID returns the tag set by WithCorrelationID, or "".
func GetCorrelationID(ctx context.Context) string {
	return ports.GetCorrelationID(ctx)
}

// EnsureCorrelationID keeps an existing correlation id and mints one
// otherwise. Batches submitted under one id keep it across executions.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	if id := ports.GetCorrelationID(ctx); id != "" {
		return ctx, id
	}
	id := ports.GenerateCorrelationID()
	return ports.WithCorrelationID(ctx, id), id
}
