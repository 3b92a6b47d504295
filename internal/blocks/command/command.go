package commandblock

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
	"github.com/alexisbeaulieu97/graphrun/internal/ports"
)

// Type is the block type name.
const Type = "command"

// waitDelay bounds how long a cancelled command's pipes may stay open.
const waitDelay = time.Second

type block struct{}

// New returns a block that runs a shell command and emits its trimmed stdout,
// stderr and exit code. A non-zero exit fails the node; it is retried only
// when the retry input is true.
func New() ports.Block {
	return &block{}
}

func (b *block) Metadata() agent.BlockMetadata {
	return agent.BlockMetadata{
		Type:        Type,
		Name:        "Command",
		Description: "Runs a shell command.",
		Version:     "1.0.0",
		InputSchema: agent.Schema{
			{Name: "command", Description: "Command line passed to the shell", Type: agent.TypeString, Required: true},
			{Name: "shell", Description: "Shell binary; bash, then sh, when empty", Type: agent.TypeString},
			{Name: "env", Description: "Extra environment variables", Type: agent.TypeObject},
			{Name: "workdir", Description: "Working directory", Type: agent.TypeString},
			{Name: "stdin", Description: "Data written to the command's stdin", Type: agent.TypeString},
			{Name: "retry", Description: "Treat a non-zero exit as retryable", Type: agent.TypeBoolean, Default: false},
		},
		OutputSchema: agent.Schema{
			{Name: "stdout", Description: "Trimmed standard output", Type: agent.TypeString},
			{Name: "stderr", Description: "Trimmed standard error", Type: agent.TypeString},
			{Name: "exit_code", Description: "Process exit code", Type: agent.TypeNumber},
		},
	}
}

func (b *block) Invoke(ctx context.Context, inv agent.Invocation) (agent.Outputs, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	line := strings.TrimSpace(inv.String("command"))
	if line == "" {
		return nil, agent.NewBlockError("InvalidInput", "command must not be empty")
	}
	shell, shellArgs, err := determineShell(inv.String("shell"))
	if err != nil {
		return nil, &agent.BlockError{Kind: "NoShell", Message: "cannot determine shell", Cause: err}
	}
	env, err := buildEnv(inv.Inputs["env"])
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, shell, append(shellArgs, line)...)
	cmd.Env = env
	cmd.WaitDelay = waitDelay
	cmd.Dir = inv.String("workdir")
	if stdin := inv.String("stdin"); stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	out := agent.Outputs{
		"stdout":    strings.TrimSpace(stdout.String()),
		"stderr":    strings.TrimSpace(stderr.String()),
		"exit_code": 0,
	}
	if runErr == nil {
		return out, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(runErr, &exitErr) {
		return nil, agent.NewRetryableBlockError("StartFailed", "command could not be started", runErr)
	}
	message := fmt.Sprintf("command exited with code %d", exitErr.ExitCode())
	if detail := primaryOutput(out); detail != "" {
		message = fmt.Sprintf("%s: %s", message, detail)
	}
	return nil, &agent.BlockError{Kind: "NonZeroExit", Message: message, Retryable: inv.Bool("retry"), Cause: runErr}
}

func determineShell(explicit string) (string, []string, error) {
	if explicit != "" {
		return explicit, []string{"-c"}, nil
	}
	if runtime.GOOS == "windows" {
		return "cmd", []string{"/C"}, nil
	}
	for _, candidate := range []string{"bash", "sh"} {
		if path, err := exec.LookPath(candidate); err == nil {
			return path, []string{"-c"}, nil
		}
	}
	return "", nil, fmt.Errorf("no suitable shell found")
}

// buildEnv appends the env input, sorted by key, to the process environment.
func buildEnv(raw agent.Value) ([]string, error) {
	env := os.Environ()
	if raw == nil {
		return env, nil
	}
	custom, ok := raw.(map[string]interface{})
	if !ok {
		return nil, agent.NewBlockError("InvalidInput", "env must be an object")
	}
	keys := make([]string, 0, len(custom))
	for k := range custom {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%v", k, custom[k]))
	}
	return env, nil
}

// primaryOutput prefers stderr, falling back to stdout.
func primaryOutput(out agent.Outputs) string {
	if stderr, _ := out["stderr"].(string); stderr != "" {
		return stderr
	}
	stdout, _ := out["stdout"].(string)
	return stdout
}
