package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBufferedLoggerRecordsFields(t *testing.T) {
	t.Parallel()

	buf := NewBuffer(0)
	log := NewBufferedLogger(buf).With("component", "ledger")
	log.Info(context.Background(), "row written", "execution_id", "e1")
	log.Debug(context.Background(), "noise")

	entries := buf.Entries()
	require.Len(t, entries, 2)
	value, ok := entries[0].Field("component")
	require.True(t, ok)
	require.Equal(t, "ledger", value)
	value, ok = entries[0].Field("execution_id")
	require.True(t, ok)
	require.Equal(t, "e1", value)

	require.Equal(t, []string{"row written"}, buf.Messages(LevelInfo))
}

func TestBufferDropsOldestWhenFull(t *testing.T) {
	t.Parallel()

	buf := NewBuffer(2)
	log := NewBufferedLogger(buf)
	log.Info(context.Background(), "one")
	log.Info(context.Background(), "two")
	log.Info(context.Background(), "three")

	require.Equal(t, []string{"two", "three"}, buf.Messages(LevelDebug))
}

func TestBufferFlushReplaysInOrder(t *testing.T) {
	t.Parallel()

	early := NewBuffer(0)
	log := NewBufferedLogger(early)
	log.Warn(context.Background(), "settings file missing")
	log.Error(context.Background(), "bad value")

	sink := NewBuffer(0)
	early.Flush(NewBufferedLogger(sink))

	require.Empty(t, early.Entries())
	entries := sink.Entries()
	require.Len(t, entries, 2)
	require.Equal(t, LevelWarn, entries[0].Level)
	require.Equal(t, LevelError, entries[1].Level)
}

func TestCorrelationHelpers(t *testing.T) {
	t.Parallel()

	ctx, id := EnsureCorrelationID(context.Background())
	require.Len(t, id, 36)
	require.Equal(t, id, GetCorrelationID(ctx))
	require.Equal(t, "", GetCorrelationID(context.Background()))

	// An existing id survives.
	again, same := EnsureCorrelationID(ctx)
	require.Equal(t, id, same)
	require.Equal(t, id, GetCorrelationID(again))

	tagged := WithCorrelationID(context.Background(), "batch-7")
	_, kept := EnsureCorrelationID(tagged)
	require.Equal(t, "batch-7", kept)
}

func TestNoOpLoggerWithReturnsItself(t *testing.T) {
	t.Parallel()

	log := NewNoOpLogger()
	log.Error(context.Background(), "ignored")
	require.Equal(t, log, log.With("k", "v"))
}

func TestOrNoOp(t *testing.T) {
	t.Parallel()

	require.Equal(t, NewNoOpLogger(), OrNoOp(nil))

	buffered := NewBufferedLogger(NewBuffer(0))
	require.Equal(t, buffered, OrNoOp(buffered))
}
