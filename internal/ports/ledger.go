package ports

import (
	"context"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
)

// Ledger is the durable record of executions. It is the only state shared
// between coordinator instances, so every mutation must be transactional and
// idempotent under replay:
//   - CreateExecution returns the existing row (created=false) when the id is
//     already known.
//   - UpdateExecution rejects status regressions with ErrCodeConflict.
//   - AdmitNodeExecution is create-or-get on (execution_id, node_id, generation).
//   - RecordIO is create-or-get on (node_execution_id, direction, name).
//
// Transient storage failures are reported with ErrCodeLedger; callers retry
// those indefinitely with backoff.
type Ledger interface {
	CreateExecution(ctx context.Context, exec *agent.Execution) (stored *agent.Execution, created bool, err error)
	GetExecution(ctx context.Context, id string) (*agent.Execution, error)
	ListExecutions(ctx context.Context, statuses ...agent.Status) ([]*agent.Execution, error)
	UpdateExecution(ctx context.Context, exec *agent.Execution) error
	RequestCancel(ctx context.Context, id string) (*agent.Execution, error)

	AdmitNodeExecution(ctx context.Context, ne *agent.NodeExecution) (stored *agent.NodeExecution, created bool, err error)
	UpdateNodeExecution(ctx context.Context, ne *agent.NodeExecution) error
	ListNodeExecutions(ctx context.Context, executionID string) ([]*agent.NodeExecution, error)

	RecordIO(ctx context.Context, io *agent.NodeExecutionIO) (stored *agent.NodeExecutionIO, created bool, err error)
	ListIO(ctx context.Context, nodeExecutionID string) ([]*agent.NodeExecutionIO, error)
	ListExecutionIO(ctx context.Context, executionID string) ([]*agent.NodeExecutionIO, error)
}
