package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	graphrunerrors "github.com/alexisbeaulieu97/graphrun/pkg/errors"
)

func TestDefaultSettingsAreValid(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultSettings().Validate())
}

func TestSettings_ApplyEnvOverrides(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		"GRAPHRUN_WORKERS":      "8",
		"GRAPHRUN_NODE_TIMEOUT": "2s",
		"GRAPHRUN_REDIS_URL":    " redis://localhost:6379/0 ",
		"GRAPHRUN_LOG_FORMAT":   "json",
	}
	s := DefaultSettings()
	require.NoError(t, s.applyEnv(func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}))

	require.Equal(t, 8, s.Workers)
	require.Equal(t, 2*time.Second, s.NodeTimeout)
	require.Equal(t, "redis://localhost:6379/0", s.RedisURL)
	require.Equal(t, "json", s.LogFormat)
	require.Equal(t, 3, s.MaxAttempts)
}

func TestSettings_ApplyEnvRejectsMalformedValues(t *testing.T) {
	t.Parallel()

	for key, value := range map[string]string{
		"GRAPHRUN_WORKERS":   "many",
		"GRAPHRUN_LEASE_TTL": "forever",
	} {
		s := DefaultSettings()
		err := s.applyEnv(func(k string) (string, bool) {
			if k == key {
				return value, true
			}
			return "", false
		})
		var validationErr *graphrunerrors.ValidationError
		require.ErrorAs(t, err, &validationErr)
		require.Equal(t, key, validationErr.Field)
	}
}

func TestLoadSettings_LayersFileAndEnvFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	settingsPath := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(settingsPath, []byte("workers: 2\nnode_timeout: 10s\niteration_cap: 7\n"), 0o600))
	envPath := filepath.Join(dir, "graphrun.env")
	require.NoError(t, os.WriteFile(envPath, []byte("GRAPHRUN_ITERATION_CAP=9\nGRAPHRUN_LOG_LEVEL=debug\n"), 0o600))

	s, err := LoadSettings(settingsPath, envPath)
	require.NoError(t, err)
	require.Equal(t, 2, s.Workers)
	require.Equal(t, 10*time.Second, s.NodeTimeout)
	require.Equal(t, 9, s.IterationCap)
	require.Equal(t, "debug", s.LogLevel)
	require.Equal(t, 30*time.Second, s.LeaseTTL)
}

func TestLoadSettings_RejectsOutOfRangeValues(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 0\n"), 0o600))

	_, err := LoadSettings(path)
	var validationErr *graphrunerrors.ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Equal(t, "workers", validationErr.Field)
}

func TestLoadSettings_MissingEnvFileFails(t *testing.T) {
	t.Parallel()

	_, err := LoadSettings("", filepath.Join(t.TempDir(), "missing.env"))
	var parseErr *graphrunerrors.ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestLoadSettings_ReportsYAMLLine(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 2\nnode_timeout: [\n"), 0o600))

	_, err := LoadSettings(path)
	var parseErr *graphrunerrors.ParseError
	require.ErrorAs(t, err, &parseErr)
	require.Equal(t, path, parseErr.Path)
}

func TestSettings_ValidateNamesField(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(s *Settings)
		field  string
	}{
		{"log format", func(s *Settings) { s.LogFormat = "xml" }, "log_format"},
		{"ledger backoff cap", func(s *Settings) { s.LedgerBackoffCap = -time.Second }, "ledger_backoff_cap"},
		{"redis url", func(s *Settings) { s.RedisURL = "not a url" }, "redis_url"},
		{"workers", func(s *Settings) { s.Workers = 0 }, "workers"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s := DefaultSettings()
			tc.mutate(s)
			var validationErr *graphrunerrors.ValidationError
			require.ErrorAs(t, s.Validate(), &validationErr)
			require.Equal(t, tc.field, validationErr.Field)
		})
	}
}
