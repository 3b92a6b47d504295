package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-memdb"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
	"github.com/alexisbeaulieu97/graphrun/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/graphrun/internal/ports"
)

const (
	tableExecutions     = "executions"
	tableNodeExecutions = "node_executions"
	tableNodeIO         = "node_io"

	indexID            = "id"
	indexKey           = "key"
	indexStatus        = "status"
	indexExecution     = "execution"
	indexNodeExecution = "node_execution"
)

type executionRecord struct {
	ID     string
	Status string
	Row    agent.Execution
}

type nodeRecord struct {
	ID          string
	Key         string
	ExecutionID string
	Row         agent.NodeExecution
}

type ioRecord struct {
	ID              string
	Key             string
	ExecutionID     string
	NodeExecutionID string
	Row             agent.NodeExecutionIO
}

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableExecutions: {
				Name: tableExecutions,
				Indexes: map[string]*memdb.IndexSchema{
					indexID:     {Name: indexID, Unique: true, Indexer: &memdb.StringFieldIndex{Field: "ID"}},
					indexStatus: {Name: indexStatus, Indexer: &memdb.StringFieldIndex{Field: "Status"}},
				},
			},
			tableNodeExecutions: {
				Name: tableNodeExecutions,
				Indexes: map[string]*memdb.IndexSchema{
					indexID:        {Name: indexID, Unique: true, Indexer: &memdb.StringFieldIndex{Field: "ID"}},
					indexKey:       {Name: indexKey, Unique: true, Indexer: &memdb.StringFieldIndex{Field: "Key"}},
					indexExecution: {Name: indexExecution, Indexer: &memdb.StringFieldIndex{Field: "ExecutionID"}},
				},
			},
			tableNodeIO: {
				Name: tableNodeIO,
				Indexes: map[string]*memdb.IndexSchema{
					indexID:            {Name: indexID, Unique: true, Indexer: &memdb.StringFieldIndex{Field: "ID"}},
					indexKey:           {Name: indexKey, Unique: true, Indexer: &memdb.StringFieldIndex{Field: "Key"}},
					indexExecution:     {Name: indexExecution, Indexer: &memdb.StringFieldIndex{Field: "ExecutionID"}},
					indexNodeExecution: {Name: indexNodeExecution, Indexer: &memdb.StringFieldIndex{Field: "NodeExecutionID"}},
				},
			},
		},
	}
}

// MemDB implements ports.Ledger on an in-process go-memdb database. Every
// operation runs in a single memdb transaction, and stored rows are copied on
// the way in and out so callers never share memory with the store.
type MemDB struct {
	db     *memdb.MemDB
	logger ports.Logger
	now    func() time.Time
}

// Option configures a MemDB ledger.
type Option func(*MemDB)

// WithLogger injects a logger.
func WithLogger(logger ports.Logger) Option {
	return func(l *MemDB) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClock overrides the time source used for UpdatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(l *MemDB) {
		if now != nil {
			l.now = now
		}
	}
}

// NewMemDB creates an empty ledger.
func NewMemDB(opts ...Option) (*MemDB, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, fmt.Errorf("create ledger database: %w", err)
	}
	l := &MemDB{
		db:     db,
		logger: logging.NewNoOpLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// CreateExecution inserts exec unless a row with the same id exists, in which
// case the stored row is returned with created=false.
func (l *MemDB) CreateExecution(ctx context.Context, exec *agent.Execution) (*agent.Execution, bool, error) {
	if exec == nil || exec.ID == "" {
		return nil, false, agent.NewError(agent.ErrCodeValidation, "execution id is required", nil, nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, false, cancelled(err)
	}

	txn := l.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(tableExecutions, indexID, exec.ID)
	if err != nil {
		return nil, false, ledgerError("lookup execution", err)
	}
	if existing != nil {
		row := existing.(*executionRecord).Row
		return cloneExecution(&row), false, nil
	}

	row := *cloneExecution(exec)
	if row.Status == "" {
		row.Status = agent.StatusIncomplete
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = l.now()
	}
	row.UpdatedAt = l.now()
	if err := txn.Insert(tableExecutions, &executionRecord{ID: row.ID, Status: string(row.Status), Row: row}); err != nil {
		return nil, false, ledgerError("insert execution", err)
	}
	txn.Commit()

	l.logger.Debug(ctx, "execution created", "execution_id", row.ID, "graph_id", row.GraphID, "graph_version", row.GraphVersion)
	return cloneExecution(&row), true, nil
}

// GetExecution returns the execution with the given id.
func (l *MemDB) GetExecution(ctx context.Context, id string) (*agent.Execution, error) {
	txn := l.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableExecutions, indexID, id)
	if err != nil {
		return nil, ledgerError("lookup execution", err)
	}
	if raw == nil {
		return nil, notFound("execution", id)
	}
	row := raw.(*executionRecord).Row
	return cloneExecution(&row), nil
}

// ListExecutions returns executions in any of the given statuses, or all
// executions when none are given, ordered by creation time.
func (l *MemDB) ListExecutions(ctx context.Context, statuses ...agent.Status) ([]*agent.Execution, error) {
	txn := l.db.Txn(false)
	defer txn.Abort()

	var out []*agent.Execution
	collect := func(it memdb.ResultIterator) {
		for obj := it.Next(); obj != nil; obj = it.Next() {
			row := obj.(*executionRecord).Row
			out = append(out, cloneExecution(&row))
		}
	}

	if len(statuses) == 0 {
		it, err := txn.Get(tableExecutions, indexID)
		if err != nil {
			return nil, ledgerError("list executions", err)
		}
		collect(it)
	} else {
		for _, status := range statuses {
			it, err := txn.Get(tableExecutions, indexStatus, string(status))
			if err != nil {
				return nil, ledgerError("list executions", err)
			}
			collect(it)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateExecution replaces the stored execution. Status may only move
// forward, and a recorded cancel request is never cleared.
func (l *MemDB) UpdateExecution(ctx context.Context, exec *agent.Execution) error {
	if exec == nil {
		return agent.NewError(agent.ErrCodeValidation, "execution is nil", nil, nil)
	}
	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}

	txn := l.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableExecutions, indexID, exec.ID)
	if err != nil {
		return ledgerError("lookup execution", err)
	}
	if raw == nil {
		return notFound("execution", exec.ID)
	}
	current := raw.(*executionRecord).Row
	if !current.Status.CanAdvanceTo(exec.Status) {
		return agent.NewError(agent.ErrCodeConflict, "execution status cannot move backwards", nil, map[string]interface{}{
			"execution_id": exec.ID,
			"from":         string(current.Status),
			"to":           string(exec.Status),
		})
	}

	row := *cloneExecution(exec)
	row.CancelRequested = row.CancelRequested || current.CancelRequested
	row.CreatedAt = current.CreatedAt
	row.UpdatedAt = l.now()
	if err := txn.Insert(tableExecutions, &executionRecord{ID: row.ID, Status: string(row.Status), Row: row}); err != nil {
		return ledgerError("update execution", err)
	}
	txn.Commit()
	return nil
}

// RequestCancel records a cancel request. Terminal executions are returned
// unchanged.
func (l *MemDB) RequestCancel(ctx context.Context, id string) (*agent.Execution, error) {
	txn := l.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableExecutions, indexID, id)
	if err != nil {
		return nil, ledgerError("lookup execution", err)
	}
	if raw == nil {
		return nil, notFound("execution", id)
	}
	row := raw.(*executionRecord).Row
	if row.Status.IsTerminal() || row.CancelRequested {
		return cloneExecution(&row), nil
	}
	row.CancelRequested = true
	row.UpdatedAt = l.now()
	if err := txn.Insert(tableExecutions, &executionRecord{ID: row.ID, Status: string(row.Status), Row: row}); err != nil {
		return nil, ledgerError("record cancel request", err)
	}
	txn.Commit()

	l.logger.Info(ctx, "cancel requested", "execution_id", id)
	return cloneExecution(&row), nil
}

// AdmitNodeExecution is create-or-get on (execution_id, node_id, generation).
func (l *MemDB) AdmitNodeExecution(ctx context.Context, ne *agent.NodeExecution) (*agent.NodeExecution, bool, error) {
	if ne == nil || ne.ExecutionID == "" || ne.NodeID == "" || ne.Generation <= 0 {
		return nil, false, agent.NewError(agent.ErrCodeValidation, "node execution key is incomplete", nil, nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, false, cancelled(err)
	}

	key := ne.Key().String()
	txn := l.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(tableNodeExecutions, indexKey, key)
	if err != nil {
		return nil, false, ledgerError("lookup node execution", err)
	}
	if existing != nil {
		row := existing.(*nodeRecord).Row
		return &row, false, nil
	}

	parent, err := txn.First(tableExecutions, indexID, ne.ExecutionID)
	if err != nil {
		return nil, false, ledgerError("lookup execution", err)
	}
	if parent == nil {
		return nil, false, notFound("execution", ne.ExecutionID)
	}

	row := *ne
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.Status == "" {
		row.Status = agent.StatusIncomplete
	}
	if row.AddedTime.IsZero() {
		row.AddedTime = l.now()
	}
	if err := txn.Insert(tableNodeExecutions, &nodeRecord{ID: row.ID, Key: key, ExecutionID: row.ExecutionID, Row: row}); err != nil {
		return nil, false, ledgerError("insert node execution", err)
	}
	txn.Commit()
	return &row, true, nil
}

// UpdateNodeExecution replaces a stored node execution; status may only move forward.
func (l *MemDB) UpdateNodeExecution(ctx context.Context, ne *agent.NodeExecution) error {
	if ne == nil {
		return agent.NewError(agent.ErrCodeValidation, "node execution is nil", nil, nil)
	}
	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}

	txn := l.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableNodeExecutions, indexID, ne.ID)
	if err != nil {
		return ledgerError("lookup node execution", err)
	}
	if raw == nil {
		return notFound("node execution", ne.ID)
	}
	current := raw.(*nodeRecord)
	if !current.Row.Status.CanAdvanceTo(ne.Status) {
		return agent.NewError(agent.ErrCodeConflict, "node execution status cannot move backwards", nil, map[string]interface{}{
			"node_execution_id": ne.ID,
			"from":              string(current.Row.Status),
			"to":                string(ne.Status),
		})
	}

	row := *ne
	row.ExecutionID = current.Row.ExecutionID
	row.NodeID = current.Row.NodeID
	row.Generation = current.Row.Generation
	row.AddedTime = current.Row.AddedTime
	if err := txn.Insert(tableNodeExecutions, &nodeRecord{ID: row.ID, Key: current.Key, ExecutionID: row.ExecutionID, Row: row}); err != nil {
		return ledgerError("update node execution", err)
	}
	txn.Commit()
	return nil
}

// ListNodeExecutions returns every node execution of an execution ordered by
// admission time, then node id and generation.
func (l *MemDB) ListNodeExecutions(ctx context.Context, executionID string) ([]*agent.NodeExecution, error) {
	txn := l.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableNodeExecutions, indexExecution, executionID)
	if err != nil {
		return nil, ledgerError("list node executions", err)
	}
	var out []*agent.NodeExecution
	for obj := it.Next(); obj != nil; obj = it.Next() {
		row := obj.(*nodeRecord).Row
		out = append(out, &row)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.AddedTime.Equal(b.AddedTime) {
			return a.AddedTime.Before(b.AddedTime)
		}
		if a.NodeID != b.NodeID {
			return a.NodeID < b.NodeID
		}
		return a.Generation < b.Generation
	})
	return out, nil
}

// RecordIO is create-or-get on (node_execution_id, direction, name).
func (l *MemDB) RecordIO(ctx context.Context, io *agent.NodeExecutionIO) (*agent.NodeExecutionIO, bool, error) {
	if io == nil || io.ExecutionID == "" || io.NodeExecutionID == "" || io.Name == "" {
		return nil, false, agent.NewError(agent.ErrCodeValidation, "io row key is incomplete", nil, nil)
	}
	if io.Direction != agent.DirectionInput && io.Direction != agent.DirectionOutput {
		return nil, false, agent.NewError(agent.ErrCodeValidation, "io row direction is invalid", nil, map[string]interface{}{
			"direction": string(io.Direction),
		})
	}
	if err := ctx.Err(); err != nil {
		return nil, false, cancelled(err)
	}

	key := fmt.Sprintf("%s/%s/%s", io.NodeExecutionID, io.Direction, io.Name)
	txn := l.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(tableNodeIO, indexKey, key)
	if err != nil {
		return nil, false, ledgerError("lookup io row", err)
	}
	if existing != nil {
		row := existing.(*ioRecord).Row
		return cloneIO(&row), false, nil
	}

	row := *cloneIO(io)
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.Time.IsZero() {
		row.Time = l.now()
	}
	record := &ioRecord{
		ID:              row.ID,
		Key:             key,
		ExecutionID:     row.ExecutionID,
		NodeExecutionID: row.NodeExecutionID,
		Row:             row,
	}
	if err := txn.Insert(tableNodeIO, record); err != nil {
		return nil, false, ledgerError("insert io row", err)
	}
	txn.Commit()
	return cloneIO(&row), true, nil
}

// ListIO returns the IO rows of one node execution, inputs first, by name.
func (l *MemDB) ListIO(ctx context.Context, nodeExecutionID string) ([]*agent.NodeExecutionIO, error) {
	return l.listIO(indexNodeExecution, nodeExecutionID)
}

// ListExecutionIO returns every IO row of an execution.
func (l *MemDB) ListExecutionIO(ctx context.Context, executionID string) ([]*agent.NodeExecutionIO, error) {
	return l.listIO(indexExecution, executionID)
}

func (l *MemDB) listIO(index, value string) ([]*agent.NodeExecutionIO, error) {
	txn := l.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableNodeIO, index, value)
	if err != nil {
		return nil, ledgerError("list io rows", err)
	}
	var out []*agent.NodeExecutionIO
	for obj := it.Next(); obj != nil; obj = it.Next() {
		row := obj.(*ioRecord).Row
		out = append(out, cloneIO(&row))
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.NodeExecutionID != b.NodeExecutionID {
			return a.NodeExecutionID < b.NodeExecutionID
		}
		if a.Direction != b.Direction {
			return a.Direction == agent.DirectionInput
		}
		return a.Name < b.Name
	})
	return out, nil
}

var _ ports.Ledger = (*MemDB)(nil)

func cloneExecution(e *agent.Execution) *agent.Execution {
	clone := *e
	if e.Input != nil {
		clone.Input = make(map[string]agent.Value, len(e.Input))
		for k, v := range e.Input {
			clone.Input[k] = v
		}
	}
	return &clone
}

func cloneIO(io *agent.NodeExecutionIO) *agent.NodeExecutionIO {
	clone := *io
	clone.Data = append([]byte(nil), io.Data...)
	return &clone
}

func ledgerError(op string, err error) *agent.DomainError {
	return agent.NewError(agent.ErrCodeLedger, op, err, nil)
}

func notFound(kind, id string) *agent.DomainError {
	return agent.NewError(agent.ErrCodeNotFound, kind+" not found", nil, map[string]interface{}{"id": id})
}

func cancelled(err error) *agent.DomainError {
	return agent.NewError(agent.ErrCodeCancelled, "ledger operation cancelled", err, nil)
}
