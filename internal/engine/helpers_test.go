package engine

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/graphrun/internal/blocks"
	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
	infrablocks "github.com/alexisbeaulieu97/graphrun/internal/infrastructure/blocks"
	"github.com/alexisbeaulieu97/graphrun/internal/infrastructure/graphstore"
	"github.com/alexisbeaulieu97/graphrun/internal/infrastructure/ledger"
	"github.com/alexisbeaulieu97/graphrun/internal/ports"
)

// funcBlock adapts a function to ports.Block.
type funcBlock struct {
	meta  agent.BlockMetadata
	fn    func(context.Context, agent.Invocation) (agent.Outputs, error)
	calls atomic.Int64
	mu    sync.Mutex
	seen  []agent.Invocation
}

func newFuncBlock(blockType string, in, out agent.Schema, fn func(context.Context, agent.Invocation) (agent.Outputs, error)) *funcBlock {
	return &funcBlock{
		meta: agent.BlockMetadata{Type: blockType, Name: blockType, InputSchema: in, OutputSchema: out},
		fn:   fn,
	}
}

func (b *funcBlock) Metadata() agent.BlockMetadata { return b.meta }

func (b *funcBlock) Invoke(ctx context.Context, inv agent.Invocation) (agent.Outputs, error) {
	b.calls.Add(1)
	b.mu.Lock()
	b.seen = append(b.seen, inv)
	b.mu.Unlock()
	return b.fn(ctx, inv)
}

func (b *funcBlock) Calls() int { return int(b.calls.Load()) }

func (b *funcBlock) Invocations() []agent.Invocation {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]agent.Invocation(nil), b.seen...)
}

// failingBlock always fails with a non-retryable block error.
func failingBlock(blockType string) *funcBlock {
	return newFuncBlock(blockType,
		agent.Schema{{Name: "in", Type: agent.TypeAny, Required: true}},
		agent.Schema{{Name: "out", Type: agent.TypeAny}},
		func(context.Context, agent.Invocation) (agent.Outputs, error) {
			return nil, agent.NewBlockError("Boom", "exploded on purpose")
		})
}

// gateBlock forwards in to out once release is closed and signals started on
// every invocation.
func gateBlock(blockType string, started chan<- string, release <-chan struct{}) *funcBlock {
	return newFuncBlock(blockType,
		agent.Schema{{Name: "in", Type: agent.TypeAny, Required: true}},
		agent.Schema{{Name: "out", Type: agent.TypeAny}},
		func(ctx context.Context, inv agent.Invocation) (agent.Outputs, error) {
			started <- inv.NodeID
			<-release
			return agent.Outputs{"out": inv.Inputs["in"]}, nil
		})
}

type harness struct {
	ledger      *ledger.MemDB
	graphs      *graphstore.Store
	registry    *infrablocks.Registry
	coordinator *Coordinator
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	l, err := ledger.NewMemDB()
	require.NoError(t, err)
	return newHarnessWithLedger(t, l, l, opts...)
}

// newHarnessWithLedger lets tests wrap the ledger the coordinator sees while
// keeping direct access to the underlying store.
func newHarnessWithLedger(t *testing.T, store *ledger.MemDB, seen ports.Ledger, opts ...Option) *harness {
	t.Helper()
	graphs, err := graphstore.New(nil)
	require.NoError(t, err)
	registry := infrablocks.NewRegistry()
	require.NoError(t, blocks.RegisterBuiltins(registry, io.Discard))

	base := []Option{
		WithRetryPolicy(RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond, LedgerBackoff: time.Millisecond, LedgerBackoffCap: 5 * time.Millisecond}),
		WithNodeTimeout(2 * time.Second),
	}
	return &harness{
		ledger:      store,
		graphs:      graphs,
		registry:    registry,
		coordinator: NewCoordinator(graphs, registry, seen, append(base, opts...)...),
	}
}

func (h *harness) register(t *testing.T, bs ...ports.Block) {
	t.Helper()
	for _, b := range bs {
		require.NoError(t, h.registry.Register(b))
	}
}

func (h *harness) put(t *testing.T, graph *agent.Graph) int {
	t.Helper()
	ref, err := h.graphs.Put(context.Background(), graph)
	require.NoError(t, err)
	return ref.Version
}

func (h *harness) request(id string, graph string, version int, input map[string]agent.Value) agent.ExecutionRequest {
	return agent.ExecutionRequest{
		ExecutionID:  id,
		GraphID:      graph,
		GraphVersion: version,
		Input:        input,
		Owner:        "tester",
	}
}

func (h *harness) rows(t *testing.T, executionID string) []*agent.NodeExecution {
	t.Helper()
	rows, err := h.ledger.ListNodeExecutions(context.Background(), executionID)
	require.NoError(t, err)
	return rows
}

func (h *harness) rowsFor(t *testing.T, executionID, nodeID string) []*agent.NodeExecution {
	t.Helper()
	var out []*agent.NodeExecution
	for _, row := range h.rows(t, executionID) {
		if row.NodeID == nodeID {
			out = append(out, row)
		}
	}
	return out
}

func passthroughNode(id string) agent.Node {
	return agent.Node{ID: id, BlockType: "passthrough"}
}

func link(source, sourcePort, sink, sinkPort string) agent.Link {
	return agent.Link{SourceNodeID: source, SourcePort: sourcePort, SinkNodeID: sink, SinkPort: sinkPort}
}

func staticLink(source, sourcePort, sink, sinkPort string) agent.Link {
	l := link(source, sourcePort, sink, sinkPort)
	l.IsStatic = true
	return l
}

// chainGraph is A -> B -> C over passthrough-compatible blocks.
func chainGraph(id, middle string) *agent.Graph {
	return &agent.Graph{
		ID: id,
		Nodes: []agent.Node{
			passthroughNode("A"),
			{ID: "B", BlockType: middle},
			passthroughNode("C"),
		},
		Links: []agent.Link{
			link("A", "out", "B", "in"),
			link("B", "out", "C", "in"),
		},
	}
}

// flakyLedger fails selected writes with LEDGER_ERROR before delegating.
type flakyLedger struct {
	ports.Ledger
	mu       sync.Mutex
	failures map[string]int
	injected int
}

func newFlakyLedger(inner ports.Ledger, failures map[string]int) *flakyLedger {
	return &flakyLedger{Ledger: inner, failures: failures}
}

func (f *flakyLedger) fail(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures[op] > 0 {
		f.failures[op]--
		f.injected++
		return agent.NewError(agent.ErrCodeLedger, "injected failure", nil, map[string]interface{}{"operation": op})
	}
	return nil
}

func (f *flakyLedger) Injected() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.injected
}

func (f *flakyLedger) AdmitNodeExecution(ctx context.Context, ne *agent.NodeExecution) (*agent.NodeExecution, bool, error) {
	if err := f.fail("admit"); err != nil {
		return nil, false, err
	}
	return f.Ledger.AdmitNodeExecution(ctx, ne)
}

func (f *flakyLedger) UpdateNodeExecution(ctx context.Context, ne *agent.NodeExecution) error {
	if err := f.fail("update_node"); err != nil {
		return err
	}
	return f.Ledger.UpdateNodeExecution(ctx, ne)
}

func (f *flakyLedger) RecordIO(ctx context.Context, io *agent.NodeExecutionIO) (*agent.NodeExecutionIO, bool, error) {
	if err := f.fail("record_io"); err != nil {
		return nil, false, err
	}
	return f.Ledger.RecordIO(ctx, io)
}

func (f *flakyLedger) UpdateExecution(ctx context.Context, exec *agent.Execution) error {
	if err := f.fail("update_execution"); err != nil {
		return err
	}
	return f.Ledger.UpdateExecution(ctx, exec)
}
