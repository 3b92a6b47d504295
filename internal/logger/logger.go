package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/alexisbeaulieu97/graphrun/internal/ports"
)

// Options describes logger configuration supplied at creation time.
type Options struct {
	Level         string
	HumanReadable bool
	Writer        io.Writer
	Component     string
}

// Logger wraps zerolog and implements ports.Logger.
type Logger struct {
	base zerolog.Logger
}

// New creates a configured Logger instance based on Options.
func New(opts Options) (*Logger, error) {
	writer := opts.Writer
	if writer == nil {
		writer = os.Stdout
	}

	level := zerolog.InfoLevel
	if opts.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return nil, err
		}
		level = parsed
	}

	var output io.Writer = writer
	if opts.HumanReadable {
		console := zerolog.NewConsoleWriter()
		console.Out = writer
		console.TimeFormat = time.RFC3339
		output = console
	}

	builder := zerolog.New(output).Level(level).With().Timestamp()
	if opts.Component != "" {
		builder = builder.Str("component", opts.Component)
	}
	return &Logger{base: builder.Logger()}, nil
}

// WithFields returns a derived logger that always writes the supplied fields.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	if l == nil {
		return nil
	}

	builder := l.base.With()
	for key, value := range fields {
		builder = builder.Interface(key, value)
	}

	derived := Logger{base: builder.Logger()}
	return &derived
}

// With implements ports.Logger using alternating key/value pairs.
func (l *Logger) With(fields ...interface{}) ports.Logger {
	if l == nil {
		return nil
	}
	return &Logger{base: l.base.With().Fields(pairs(fields)).Logger()}
}

// Debug writes a debug-level log entry if enabled.
func (l *Logger) Debug(ctx context.Context, msg string, fields ...interface{}) {
	if l == nil {
		return
	}
	l.write(ctx, l.base.Debug(), msg, fields)
}

// Info writes an informational log entry.
func (l *Logger) Info(ctx context.Context, msg string, fields ...interface{}) {
	if l == nil {
		return
	}
	l.write(ctx, l.base.Info(), msg, fields)
}

// Warn writes a warning level log entry.
func (l *Logger) Warn(ctx context.Context, msg string, fields ...interface{}) {
	if l == nil {
		return
	}
	l.write(ctx, l.base.Warn(), msg, fields)
}

// Error writes an error log entry. An "error" field holding an error value is
// rendered through zerolog's error field.
func (l *Logger) Error(ctx context.Context, msg string, fields ...interface{}) {
	if l == nil {
		return
	}
	l.write(ctx, l.base.Error(), msg, fields)
}

func (l *Logger) write(ctx context.Context, event *zerolog.Event, msg string, fields []interface{}) {
	if event == nil {
		return
	}
	if id := ports.GetCorrelationID(ctx); id != "" {
		event = event.Str("correlation_id", id)
	}
	kv := pairs(fields)
	if err, ok := kv["error"].(error); ok {
		event = event.Err(err)
		delete(kv, "error")
	}
	event.Fields(kv).Msg(msg)
}

// pairs converts alternating key/value arguments into a field map. A trailing
// key without a value is recorded under "extra".
func pairs(fields []interface{}) map[string]interface{} {
	kv := make(map[string]interface{}, len(fields)/2)
	for i := 0; i < len(fields); i += 2 {
		if i+1 >= len(fields) {
			kv["extra"] = fields[i]
			break
		}
		key, ok := fields[i].(string)
		if !ok {
			key = fmt.Sprint(fields[i])
		}
		kv[key] = fields[i+1]
	}
	return kv
}

var _ ports.Logger = (*Logger)(nil)
