package logging

import (
	"context"

	"github.com/alexisbeaulieu97/graphrun/internal/ports"
)

// discard drops every entry. Engine components start with it until a real
// logger is injected.
type discard struct{}

func (discard) Debug(context.Context, string, ...interface{}) {}
func (discard) Info(context.Context, string, ...interface{})  {}
func (discard) Warn(context.Context, string, ...interface{})  {}
func (discard) Error(context.Context, string, ...interface{}) {}

func (d discard) With(...interface{}) ports.Logger { return d }

var silent ports.Logger = discard{}

// NewNoOpLogger returns the shared discarding logger.
func NewNoOpLogger() ports.Logger {
	return silent
}

// OrNoOp returns logger, or the discarding logger when logger is nil.
func OrNoOp(logger ports.Logger) ports.Logger {
	if logger == nil {
		return silent
	}
	return logger
}
