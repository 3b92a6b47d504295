package logging

import (
	"context"

	"github.com/sasha-s/go-deadlock"

	"github.com/alexisbeaulieu97/graphrun/internal/ports"
)

const defaultBufferLimit = 1000

// Level orders buffered entries by severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Entry is one buffered log call.
type Entry struct {
	Level   Level
	Message string
	Fields  []interface{}
	ctx     context.Context
}

// Field returns the value recorded for key, if any.
func (e Entry) Field(key string) (interface{}, bool) {
	for i := 0; i+1 < len(e.Fields); i += 2 {
		if k, ok := e.Fields[i].(string); ok && k == key {
			return e.Fields[i+1], true
		}
	}
	return nil, false
}

// Buffer holds log entries emitted before the primary logger is configured,
// and doubles as an in-memory sink for tests. Oldest entries are dropped once
// the limit is reached.
type Buffer struct {
	mu      deadlock.Mutex
	limit   int
	entries []Entry
}

// NewBuffer creates a buffer with the provided capacity (defaults to 1000).
func NewBuffer(limit int) *Buffer {
	if limit <= 0 {
		limit = defaultBufferLimit
	}
	return &Buffer{limit: limit, entries: make([]Entry, 0, 16)}
}

func (b *Buffer) add(entry Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) == b.limit {
		copy(b.entries, b.entries[1:])
		b.entries[len(b.entries)-1] = entry
		return
	}
	b.entries = append(b.entries, entry)
}

// Entries returns a snapshot of buffered entries.
func (b *Buffer) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Entry(nil), b.entries...)
}

// Messages returns the buffered messages at or above min.
func (b *Buffer) Messages(min Level) []string {
	var out []string
	for _, e := range b.Entries() {
		if e.Level >= min {
			out = append(out, e.Message)
		}
	}
	return out
}

// Flush replays buffered entries into delegate in order and empties the buffer.
func (b *Buffer) Flush(delegate ports.Logger) {
	if delegate == nil {
		return
	}
	b.mu.Lock()
	entries := b.entries
	b.entries = make([]Entry, 0, 16)
	b.mu.Unlock()

	for _, entry := range entries {
		switch entry.Level {
		case LevelDebug:
			delegate.Debug(entry.ctx, entry.Message, entry.Fields...)
		case LevelWarn:
			delegate.Warn(entry.ctx, entry.Message, entry.Fields...)
		case LevelError:
			delegate.Error(entry.ctx, entry.Message, entry.Fields...)
		default:
			delegate.Info(entry.ctx, entry.Message, entry.Fields...)
		}
	}
}

// BufferedLogger implements ports.Logger by writing into a Buffer.
type BufferedLogger struct {
	buffer *Buffer
	fields []interface{}
}

// NewBufferedLogger returns a logger that stores entries in the provided buffer.
func NewBufferedLogger(buffer *Buffer) *BufferedLogger {
	return &BufferedLogger{buffer: buffer}
}

// Debug implements ports.Logger.
func (l *BufferedLogger) Debug(ctx context.Context, msg string, fields ...interface{}) {
	l.log(ctx, LevelDebug, msg, fields)
}

// Info implements ports.Logger.
func (l *BufferedLogger) Info(ctx context.Context, msg string, fields ...interface{}) {
	l.log(ctx, LevelInfo, msg, fields)
}

// Warn implements ports.Logger.
func (l *BufferedLogger) Warn(ctx context.Context, msg string, fields ...interface{}) {
	l.log(ctx, LevelWarn, msg, fields)
}

// Error implements ports.Logger.
func (l *BufferedLogger) Error(ctx context.Context, msg string, fields ...interface{}) {
	l.log(ctx, LevelError, msg, fields)
}

// With returns a child logger with persistent fields.
func (l *BufferedLogger) With(fields ...interface{}) ports.Logger {
	next := append(append([]interface{}{}, l.fields...), fields...)
	return &BufferedLogger{buffer: l.buffer, fields: next}
}

func (l *BufferedLogger) log(ctx context.Context, level Level, msg string, fields []interface{}) {
	if l == nil || l.buffer == nil {
		return
	}
	l.buffer.add(Entry{
		Level:   level,
		Message: msg,
		Fields:  append(append([]interface{}{}, l.fields...), fields...),
		ctx:     ctx,
	})
}

var _ ports.Logger = (*BufferedLogger)(nil)
