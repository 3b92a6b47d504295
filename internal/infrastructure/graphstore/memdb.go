package graphstore

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/hashicorp/go-memdb"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
	"github.com/alexisbeaulieu97/graphrun/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/graphrun/internal/ports"
)

const (
	tableGraphs = "graphs"
	indexRef    = "id"
	indexGraph  = "graph"
)

type graphRecord struct {
	Ref     string
	GraphID string
	Version int
	Graph   *agent.Graph
}

// Store is an append-only, versioned graph store on go-memdb.
type Store struct {
	db     *memdb.MemDB
	logger ports.Logger
}

// New creates an empty store.
func New(logger ports.Logger) (*Store, error) {
	db, err := memdb.NewMemDB(&memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableGraphs: {
				Name: tableGraphs,
				Indexes: map[string]*memdb.IndexSchema{
					indexRef:   {Name: indexRef, Unique: true, Indexer: &memdb.StringFieldIndex{Field: "Ref"}},
					indexGraph: {Name: indexGraph, Indexer: &memdb.StringFieldIndex{Field: "GraphID"}},
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create graph store: %w", err)
	}
	return &Store{db: db, logger: logging.OrNoOp(logger)}, nil
}

// Put stores a new graph version. A zero version is assigned latest+1.
// Re-putting identical content under an existing version is a no-op.
func (s *Store) Put(ctx context.Context, graph *agent.Graph) (agent.Ref, error) {
	if graph == nil {
		return agent.Ref{}, agent.NewError(agent.ErrCodeValidation, "graph is nil", nil, nil)
	}
	if graph.Version < 0 {
		return agent.Ref{}, agent.NewError(agent.ErrCodeValidation, "graph version must not be negative", nil, map[string]interface{}{
			"graph_id": graph.ID,
		})
	}
	if err := graph.Validate(); err != nil {
		return agent.Ref{}, err
	}
	if err := ctx.Err(); err != nil {
		return agent.Ref{}, agent.NewError(agent.ErrCodeCancelled, "graph store operation cancelled", err, nil)
	}

	stored := graph.Clone()
	txn := s.db.Txn(true)
	defer txn.Abort()

	if stored.Version == 0 {
		versions, err := versionsOf(txn, stored.ID)
		if err != nil {
			return agent.Ref{}, err
		}
		stored.Version = 1
		if n := len(versions); n > 0 {
			stored.Version = versions[n-1] + 1
		}
	}

	ref := stored.Ref()
	existing, err := txn.First(tableGraphs, indexRef, ref.String())
	if err != nil {
		return agent.Ref{}, agent.NewError(agent.ErrCodeInternal, "lookup graph", err, nil)
	}
	if existing != nil {
		if reflect.DeepEqual(existing.(*graphRecord).Graph, stored) {
			return ref, nil
		}
		return agent.Ref{}, agent.NewError(agent.ErrCodeConflict, "graph version already stored with different content", nil, map[string]interface{}{
			"graph": ref.String(),
		})
	}

	record := &graphRecord{Ref: ref.String(), GraphID: ref.ID, Version: ref.Version, Graph: stored}
	if err := txn.Insert(tableGraphs, record); err != nil {
		return agent.Ref{}, agent.NewError(agent.ErrCodeInternal, "insert graph", err, nil)
	}
	txn.Commit()

	s.logger.Info(ctx, "graph stored", "graph_id", ref.ID, "graph_version", ref.Version, "nodes", len(stored.Nodes), "links", len(stored.Links))
	return ref, nil
}

// Get returns a copy of one stored version.
func (s *Store) Get(ctx context.Context, ref agent.Ref) (*agent.Graph, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableGraphs, indexRef, ref.String())
	if err != nil {
		return nil, agent.NewError(agent.ErrCodeInternal, "lookup graph", err, nil)
	}
	if raw == nil {
		return nil, agent.NewError(agent.ErrCodeNotFound, "graph version not found", nil, map[string]interface{}{
			"graph": ref.String(),
		})
	}
	return raw.(*graphRecord).Graph.Clone(), nil
}

// Latest returns the highest stored version of a graph.
func (s *Store) Latest(ctx context.Context, graphID string) (*agent.Graph, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	versions, err := versionsOf(txn, graphID)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, agent.NewError(agent.ErrCodeNotFound, "graph not found", nil, map[string]interface{}{
			"graph_id": graphID,
		})
	}
	return s.Get(ctx, agent.Ref{ID: graphID, Version: versions[len(versions)-1]})
}

// Versions lists stored versions in ascending order.
func (s *Store) Versions(ctx context.Context, graphID string) ([]int, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	return versionsOf(txn, graphID)
}

func versionsOf(txn *memdb.Txn, graphID string) ([]int, error) {
	it, err := txn.Get(tableGraphs, indexGraph, graphID)
	if err != nil {
		return nil, agent.NewError(agent.ErrCodeInternal, "list graph versions", err, nil)
	}
	var versions []int
	for obj := it.Next(); obj != nil; obj = it.Next() {
		versions = append(versions, obj.(*graphRecord).Version)
	}
	sort.Ints(versions)
	return versions, nil
}

var _ ports.GraphStore = (*Store)(nil)
