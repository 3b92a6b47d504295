package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/graphrun/internal/ports"
)

type logEntry map[string]any

func TestLoggerInfoWithFields(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log, err := New(Options{Level: "info", HumanReadable: false, Writer: buf})
	require.NoError(t, err)

	log = log.WithFields(map[string]any{"execution_id": "exec-1", "component": "coordinator"})
	log.Info(context.Background(), "execution started", "graph_id", "demo")

	var entry logEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "execution started", entry["message"])
	require.Equal(t, "exec-1", entry["execution_id"])
	require.Equal(t, "coordinator", entry["component"])
	require.Equal(t, "demo", entry["graph_id"])
	require.Equal(t, "info", entry["level"])
}

func TestLoggerDebugRespectsLevel(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log, err := New(Options{Level: "info", HumanReadable: false, Writer: buf})
	require.NoError(t, err)

	log.Debug(context.Background(), "this should not appear")
	require.Equal(t, "", strings.TrimSpace(buf.String()))
}

func TestLoggerErrorIncludesContext(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log, err := New(Options{Level: "debug", HumanReadable: false, Writer: buf})
	require.NoError(t, err)

	derived := log.With("node_id", "b")
	derived.Error(context.Background(), "dispatch failed", "error", errors.New("boom"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry logEntry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	require.Equal(t, "dispatch failed", entry["message"])
	require.Equal(t, "b", entry["node_id"])
	require.Equal(t, "boom", entry["error"])
}

func TestLoggerIncludesCorrelationID(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log, err := New(Options{Level: "info", Writer: buf, Component: "ledger"})
	require.NoError(t, err)

	ctx := ports.WithCorrelationID(context.Background(), "corr-42")
	log.Warn(ctx, "slow commit", "duration_ms", 120)

	var entry logEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "corr-42", entry["correlation_id"])
	require.Equal(t, "ledger", entry["component"])
	require.Equal(t, float64(120), entry["duration_ms"])
}

func TestLoggerRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	_, err := New(Options{Level: "loud"})
	require.Error(t, err)
}

func TestNilLoggerIsSafe(t *testing.T) {
	t.Parallel()

	var log *Logger
	log.Info(context.Background(), "ignored")
	require.Nil(t, log.WithFields(map[string]any{"k": "v"}))
}
