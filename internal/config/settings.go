package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	graphrunerrors "github.com/alexisbeaulieu97/graphrun/pkg/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GRAPHRUN_"

// Settings holds engine-wide execution parameters.
type Settings struct {
	Workers          int           `yaml:"workers" validate:"min=1,max=256"`
	NodeTimeout      time.Duration `yaml:"node_timeout" validate:"gt=0"`
	MaxAttempts      int           `yaml:"max_attempts" validate:"min=1,max=100"`
	RetryBackoff     time.Duration `yaml:"retry_backoff" validate:"gte=0"`
	LedgerBackoffCap time.Duration `yaml:"ledger_backoff_cap" validate:"gte=0"`
	IterationCap     int           `yaml:"iteration_cap" validate:"min=1"`
	LeaseTTL         time.Duration `yaml:"lease_ttl" validate:"gt=0"`
	RedisURL         string        `yaml:"redis_url,omitempty" validate:"omitempty,url"`
	LogLevel         string        `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat        string        `yaml:"log_format" validate:"oneof=console json"`
	EventBuffer      int           `yaml:"event_buffer" validate:"min=1"`
}

// DefaultSettings returns the settings used when nothing overrides them.
func DefaultSettings() *Settings {
	return &Settings{
		Workers:          4,
		NodeTimeout:      30 * time.Second,
		MaxAttempts:      3,
		RetryBackoff:     200 * time.Millisecond,
		LedgerBackoffCap: 5 * time.Second,
		IterationCap:     100,
		LeaseTTL:         30 * time.Second,
		LogLevel:         "info",
		LogFormat:        "console",
		EventBuffer:      256,
	}
}

// LoadSettings layers an optional YAML file, then GRAPHRUN_* variables, over
// the defaults. Variables come from the process environment and, with lower
// precedence, from envFiles (".env" when none are given and it exists).
func LoadSettings(path string, envFiles ...string) (*Settings, error) {
	settings := DefaultSettings()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, graphrunerrors.NewParseError(path, 0, err)
		}
		if err := yaml.Unmarshal(data, settings); err != nil {
			return nil, graphrunerrors.NewParseError(path, extractLine(err), err)
		}
	}

	fileEnv, err := readEnvFiles(envFiles)
	if err != nil {
		return nil, err
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileEnv[key]
		return v, ok
	}
	if err := settings.applyEnv(lookup); err != nil {
		return nil, err
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

func readEnvFiles(files []string) (map[string]string, error) {
	if len(files) == 0 {
		env, err := godotenv.Read(".env")
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		if err != nil {
			return nil, graphrunerrors.NewParseError(".env", 0, err)
		}
		return env, nil
	}
	env, err := godotenv.Read(files...)
	if err != nil {
		return nil, graphrunerrors.NewParseError(strings.Join(files, ","), 0, err)
	}
	return env, nil
}

// applyEnv overrides fields from GRAPHRUN_* variables found through lookup.
func (s *Settings) applyEnv(lookup func(string) (string, bool)) error {
	ints := map[string]*int{
		"WORKERS":       &s.Workers,
		"MAX_ATTEMPTS":  &s.MaxAttempts,
		"ITERATION_CAP": &s.IterationCap,
		"EVENT_BUFFER":  &s.EventBuffer,
	}
	for name, dst := range ints {
		raw, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return graphrunerrors.NewValidationError(EnvPrefix+name, fmt.Sprintf("expected an integer, got %q", raw), err)
		}
		*dst = n
	}

	durations := map[string]*time.Duration{
		"NODE_TIMEOUT":       &s.NodeTimeout,
		"RETRY_BACKOFF":      &s.RetryBackoff,
		"LEDGER_BACKOFF_CAP": &s.LedgerBackoffCap,
		"LEASE_TTL":          &s.LeaseTTL,
	}
	for name, dst := range durations {
		raw, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return graphrunerrors.NewValidationError(EnvPrefix+name, fmt.Sprintf("expected a duration, got %q", raw), err)
		}
		*dst = d
	}

	strs := map[string]*string{
		"REDIS_URL":  &s.RedisURL,
		"LOG_LEVEL":  &s.LogLevel,
		"LOG_FORMAT": &s.LogFormat,
	}
	for name, dst := range strs {
		if raw, ok := lookup(EnvPrefix + name); ok {
			*dst = strings.TrimSpace(raw)
		}
	}
	return nil
}

// Validate checks every field against its bounds.
func (s *Settings) Validate() error {
	if s == nil {
		return graphrunerrors.NewValidationError("settings", "settings are nil", nil)
	}
	if err := validatorInstance().Struct(s); err != nil {
		return convertValidationError("settings", err)
	}
	return nil
}
