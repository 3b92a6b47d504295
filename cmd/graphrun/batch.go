package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
	"github.com/alexisbeaulieu97/graphrun/internal/infrastructure/logging"
)

const maxInputLine = 1 << 20

type batchOptions struct {
	GraphPath  string
	InputsPath string
	IDPrefix   string
}

func newBatchCmd(root *rootFlags) *cobra.Command {
	opts := batchOptions{}

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Queue one execution per input line and run them on the worker pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if opts.InputsPath != "-" {
				f, err := os.Open(opts.InputsPath)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			return runBatch(cmd.Context(), root, opts, in, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&opts.GraphPath, "graph", "g", "", "Path to graph YAML")
	cmd.Flags().StringVar(&opts.InputsPath, "inputs", "-", "JSON lines file of execution inputs, - for stdin")
	cmd.Flags().StringVar(&opts.IDPrefix, "id-prefix", "", "Derive execution ids as <prefix>-<line> instead of random ids")
	cmd.MarkFlagRequired("graph") //nolint:errcheck

	return cmd
}

func runBatch(ctx context.Context, root *rootFlags, opts batchOptions, in io.Reader, out, errOut io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, _ = logging.EnsureCorrelationID(ctx)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	app, err := newAppContext(appOptions{SettingsPath: root.settingsPath, Verbose: root.verbose, Out: out, LogOut: errOut})
	if err != nil {
		return err
	}
	defer app.Close(context.Background()) //nolint:errcheck

	graph, err := app.Register(ctx, opts.GraphPath)
	if err != nil {
		return err
	}

	var ids []string
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxInputLine)
	for line := 1; scanner.Scan(); line++ {
		if strings.TrimSpace(scanner.Text()) == "" {
			continue
		}
		input, err := parseInput("line "+strconv.Itoa(line), scanner.Text())
		if err != nil {
			return err
		}
		req := agent.ExecutionRequest{
			GraphID:      graph.ID,
			GraphVersion: graph.Version,
			Input:        input,
			TriggerType:  agent.TriggerManual,
			Owner:        currentOwner(),
		}
		if opts.IDPrefix != "" {
			req.ExecutionID = fmt.Sprintf("%s-%d", opts.IDPrefix, line)
		}
		id, err := app.Service.Submit(ctx, req)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		ids = append(ids, id)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintln(out, "no inputs")
		return nil
	}

	if err := app.Queue.Close(); err != nil {
		return err
	}
	if err := app.Service.Run(ctx); err != nil {
		return err
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("EXECUTION", "STATUS", "NODES", "DETAIL")
	failed := 0
	for _, id := range ids {
		report, err := app.Service.Report(context.WithoutCancel(ctx), id)
		if err != nil {
			failed++
			t.Row(id, "UNKNOWN", "", truncate(err.Error()))
			continue
		}
		exec := report.Execution
		detail := ""
		switch exec.Status {
		case agent.StatusCompleted:
		case agent.StatusFailed:
			failed++
			detail = truncate(failureSummary(exec))
		default:
			failed++
			detail = "interrupted"
		}
		t.Row(id, string(exec.Status), fmt.Sprintf("%d/%d", exec.Stats.NodesCompleted, exec.Stats.NodesTotal), detail)
	}
	fmt.Fprintln(out, t.Render())

	if failed > 0 {
		return fmt.Errorf("%d of %d execution(s) did not complete", failed, len(ids))
	}
	return nil
}
