package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
	"github.com/alexisbeaulieu97/graphrun/internal/engine"
	"github.com/alexisbeaulieu97/graphrun/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/graphrun/internal/tui"
	graphrunerrors "github.com/alexisbeaulieu97/graphrun/pkg/errors"
)

const shutdownTimeout = 5 * time.Second

type runOptions struct {
	GraphPath   string
	Input       string
	ExecutionID string
	Trigger     string
	Watch       bool
	Dump        bool
}

func newRunCmd(root *rootFlags) *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a graph once and print its report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraph(cmd.Context(), root, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&opts.GraphPath, "graph", "g", "", "Path to graph YAML")
	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", `Execution input as a JSON object, e.g. '{"A.in": 5}'`)
	cmd.Flags().StringVar(&opts.ExecutionID, "execution-id", "", "Idempotency key; generated when empty")
	cmd.Flags().StringVar(&opts.Trigger, "trigger", string(agent.TriggerManual), "Trigger type: manual, schedule or webhook")
	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "Follow live node events")
	cmd.Flags().BoolVar(&opts.Dump, "dump", false, "Pretty print the raw ledger rows")
	cmd.MarkFlagRequired("graph") //nolint:errcheck

	return cmd
}

func runGraph(ctx context.Context, root *rootFlags, opts runOptions, out, errOut io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, _ = logging.EnsureCorrelationID(ctx)
	input, err := parseInput("--input", opts.Input)
	if err != nil {
		return err
	}

	interactive := opts.Watch && isTerminal(out)
	// Block output is held back while the full screen view owns the terminal.
	blockOut := out
	var held bytes.Buffer
	if interactive {
		blockOut = &held
	}
	app, err := newAppContext(appOptions{
		SettingsPath: root.settingsPath,
		Verbose:      root.verbose,
		Out:          blockOut,
		LogOut:       errOut,
		BufferLogs:   interactive,
	})
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = app.Close(closeCtx)
	}()

	graph, err := app.Register(ctx, opts.GraphPath)
	if err != nil {
		return err
	}

	req := agent.ExecutionRequest{
		ExecutionID:    opts.ExecutionID,
		GraphID:        graph.ID,
		GraphVersion:   graph.Version,
		Input:          input,
		TriggerType:    agent.TriggerType(strings.ToUpper(opts.Trigger)),
		LiveMonitoring: opts.Watch,
		Owner:          currentOwner(),
	}
	if req.ExecutionID == "" {
		req.ExecutionID = uuid.NewString()
	}
	prepared, err := app.Coordinator.Prepare(ctx, req)
	if err != nil {
		return err
	}

	cancelExecution := func() {
		if _, err := app.Service.Cancel(context.WithoutCancel(ctx), req.ExecutionID); err != nil {
			app.Logger.Warn(ctx, "cancel request failed", "execution_id", req.ExecutionID, "error", err)
		}
	}
	stop := onInterrupt(cancelExecution)
	defer stop()

	var report *engine.ExecutionReport
	switch {
	case interactive:
		report, err = watchInteractive(ctx, app, prepared.Graph.Plan(), req, cancelExecution, out)
	case opts.Watch:
		report, err = watchPlain(ctx, app, prepared.Graph.Plan(), req, out)
	default:
		report, err = app.Service.Execute(ctx, req)
	}
	if interactive {
		fmt.Fprint(out, held.String())
	}
	if err != nil {
		return err
	}

	printReport(out, report)
	if opts.Dump {
		dumpReport(out, report)
	}
	if report.Execution.Status == agent.StatusFailed {
		return fmt.Errorf("execution %s failed: %s", report.Execution.ID, failureSummary(report.Execution))
	}
	return nil
}

// watchInteractive runs the execution behind a Bubble Tea program fed by the
// live event topic. The first ctrl+c requests cancellation.
func watchInteractive(ctx context.Context, app *AppContext, plan *engine.Plan, req agent.ExecutionRequest, onCancel func(), out io.Writer) (*engine.ExecutionReport, error) {
	program := tea.NewProgram(tui.NewModel(plan, req.ExecutionID, onCancel), tea.WithOutput(out))
	sub, err := tui.Forward(app.Events, req.ExecutionID, program.Send)
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	type outcome struct {
		report *engine.ExecutionReport
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		report, err := app.Service.Execute(ctx, req)
		program.Send(tui.DoneMsg{Report: report, Err: err})
		done <- outcome{report: report, err: err}
	}()

	if _, err := program.Run(); err != nil {
		return nil, err
	}
	result := <-done
	return result.report, result.err
}

// watchPlain drives the same model without a terminal and prints its final
// view once the execution settles.
func watchPlain(ctx context.Context, app *AppContext, plan *engine.Plan, req agent.ExecutionRequest, out io.Writer) (*engine.ExecutionReport, error) {
	var mu sync.Mutex
	model := tui.NewModel(plan, req.ExecutionID, nil)
	sub, err := tui.Forward(app.Events, req.ExecutionID, func(msg tea.Msg) {
		mu.Lock()
		defer mu.Unlock()
		tui.Apply(&model, msg)
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	report, runErr := app.Service.Execute(ctx, req)

	// Drain queued live events before rendering.
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := app.Events.Close(flushCtx); err != nil {
		app.Logger.Warn(ctx, "live events not flushed", "error", err)
	}

	mu.Lock()
	tui.Apply(&model, tui.DoneMsg{Report: report, Err: runErr})
	fmt.Fprintln(out, model.View())
	mu.Unlock()
	return report, runErr
}

// onInterrupt calls cancel on the first SIGINT. The returned func stops
// listening.
func onInterrupt(cancel func()) func() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt)
	quit := make(chan struct{})
	go func() {
		select {
		case <-signals:
			cancel()
		case <-quit:
		}
	}()
	return func() {
		signal.Stop(signals)
		close(quit)
	}
}

// parseInput decodes a JSON object of execution input values. Keys are either
// "node.port" or a bare port name shared by every entry node.
func parseInput(source, raw string) (map[string]agent.Value, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var input map[string]agent.Value
	if err := sonic.UnmarshalString(raw, &input); err != nil {
		return nil, graphrunerrors.NewInputError(source, err)
	}
	if input == nil {
		return nil, graphrunerrors.NewInputError(source, fmt.Errorf("input must be a JSON object"))
	}
	return input, nil
}

func failureSummary(exec *agent.Execution) string {
	switch {
	case exec.Error != "":
		return exec.Error
	case exec.FailureReason != agent.ReasonNone:
		return string(exec.FailureReason)
	}
	return "unknown failure"
}
