package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"

	cfgpkg "github.com/alexisbeaulieu97/graphrun/internal/config"
	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
	"github.com/alexisbeaulieu97/graphrun/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/graphrun/internal/ports"
	graphrunerrors "github.com/alexisbeaulieu97/graphrun/pkg/errors"
)

// YAMLLoader implements the GraphLoader port by reading YAML files from disk.
type YAMLLoader struct {
	logger ports.Logger
}

// NewYAMLLoader builds a loader. A nil logger discards output.
func NewYAMLLoader(logger ports.Logger) *YAMLLoader {
	return &YAMLLoader{logger: logging.OrNoOp(logger)}
}

// Load parses, maps and structurally validates the graph at path.
func (l *YAMLLoader) Load(ctx context.Context, path string) (*agent.Graph, error) {
	if err := contextCheck(ctx); err != nil {
		return nil, err
	}

	l.logger.Debug(ctx, "loading graph definition", "path", path)

	doc, err := cfgpkg.ParseDocument(path)
	if err != nil {
		l.logger.Error(ctx, "failed to parse graph definition", "path", path, "error", err)
		return nil, convertError(err, path)
	}

	if err := contextCheck(ctx); err != nil {
		return nil, err
	}

	graph, err := MapToDomain(doc)
	if err != nil {
		return nil, convertError(err, path)
	}
	if err := graph.Validate(); err != nil {
		l.logger.Error(ctx, "graph definition failed domain validation", "path", path, "error", err)
		return nil, err
	}

	l.logger.Info(ctx, "graph definition loaded", "path", path, "graph_id", graph.ID, "nodes", len(graph.Nodes), "links", len(graph.Links))
	return graph, nil
}

// Validate checks a location without returning the graph.
func (l *YAMLLoader) Validate(ctx context.Context, path string) error {
	if err := contextCheck(ctx); err != nil {
		return err
	}

	info, err := os.Stat(path)
	if err != nil {
		return convertError(err, path)
	}
	if info.IsDir() {
		return agent.NewError(agent.ErrCodeValidation, "graph path is a directory", nil, map[string]interface{}{"path": path})
	}

	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		_, err = l.Load(ctx, path)
		return err
	default:
		return agent.NewError(agent.ErrCodeValidation, "unsupported graph file extension", nil, map[string]interface{}{"path": path, "extension": ext})
	}
}

var _ ports.GraphLoader = (*YAMLLoader)(nil)

// MapToDomain converts a validated document into a domain graph. A document
// without a version leaves Version zero so the graph store assigns the next one.
func MapToDomain(doc *cfgpkg.Document) (*agent.Graph, error) {
	if doc == nil {
		return nil, agent.NewError(agent.ErrCodeValidation, "document is nil", nil, nil)
	}

	graph := &agent.Graph{
		ID:          doc.ID,
		Version:     doc.Version,
		Name:        doc.Name,
		Description: doc.Description,
		CreatedBy:   doc.CreatedBy,
		Nodes:       make([]agent.Node, 0, len(doc.Nodes)),
		Links:       make([]agent.Link, 0, len(doc.Links)),
	}
	if doc.Parent != nil {
		graph.ParentID = doc.Parent.ID
		graph.ParentVersion = doc.Parent.Version
	}

	for _, n := range doc.Nodes {
		timeout, err := cfgpkg.NodeTimeout(n.Metadata)
		if err != nil {
			return nil, agent.NewError(agent.ErrCodeValidation, "invalid node timeout", err, map[string]interface{}{"node_id": n.ID})
		}
		graph.Nodes = append(graph.Nodes, agent.Node{
			ID:            n.ID,
			BlockType:     n.Block,
			ConstantInput: cloneMap(n.Input),
			InputSchema:   mapSchema(n.Inputs),
			OutputSchema:  mapSchema(n.Outputs),
			Metadata:      cloneMap(n.Metadata),
			Timeout:       timeout,
		})
	}

	for _, link := range doc.Links {
		sourceNode, sourcePort, okFrom := cfgpkg.SplitRef(link.From)
		sinkNode, sinkPort, okTo := cfgpkg.SplitRef(link.To)
		if !okFrom || !okTo {
			return nil, agent.NewError(agent.ErrCodeValidation, "link endpoints must be node.port", nil, map[string]interface{}{"from": link.From, "to": link.To})
		}
		graph.Links = append(graph.Links, agent.Link{
			SourceNodeID: sourceNode,
			SourcePort:   sourcePort,
			SinkNodeID:   sinkNode,
			SinkPort:     sinkPort,
			IsStatic:     link.Static,
		})
	}

	return graph, nil
}

func mapSchema(docs []cfgpkg.PortDoc) agent.Schema {
	if len(docs) == 0 {
		return nil
	}
	schema := make(agent.Schema, 0, len(docs))
	for _, p := range docs {
		schema = append(schema, agent.PortSchema{
			Name:        p.Name,
			Description: p.Description,
			Type:        agent.DataType(p.Type),
			Required:    p.Required,
			Default:     p.Default,
		})
	}
	return schema
}

func cloneMap(src map[string]interface{}) map[string]agent.Value {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]agent.Value, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func convertError(err error, path string) error {
	if err == nil {
		return nil
	}
	var domainErr *agent.DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	var parseErr *graphrunerrors.ParseError
	if errors.As(err, &parseErr) {
		if errors.Is(parseErr.Err, os.ErrNotExist) {
			return agent.NewError(agent.ErrCodeNotFound, "graph definition not found", parseErr.Err, map[string]interface{}{"path": path})
		}
		return agent.NewError(agent.ErrCodeValidation, "invalid graph definition syntax", err, map[string]interface{}{"path": parseErr.Path, "line": parseErr.Line})
	}
	var valErr *graphrunerrors.ValidationError
	if errors.As(err, &valErr) {
		context := map[string]interface{}{"path": path}
		if valErr.Field != "" {
			context["field"] = valErr.Field
		}
		code := agent.ErrCodeValidation
		if valErr.Code != "" {
			code = agent.ErrorCode(valErr.Code)
		}
		return agent.NewError(code, valErr.Message, valErr.Err, context)
	}
	if os.IsNotExist(err) {
		return agent.NewError(agent.ErrCodeNotFound, "graph definition not found", err, map[string]interface{}{"path": path})
	}
	return agent.NewError(agent.ErrCodeInternal, "graph definition load failed", err, map[string]interface{}{"path": path})
}

func contextCheck(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return agent.NewError(agent.ErrCodeCancelled, "operation cancelled", err, nil)
	}
	return nil
}

// LoadAll loads every *.yaml and *.yml graph in dir, ordered by file name.
func (l *YAMLLoader) LoadAll(ctx context.Context, dir string) ([]*agent.Graph, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, convertError(err, dir)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	graphs := make([]*agent.Graph, 0, len(names))
	for _, name := range names {
		graph, err := l.Load(ctx, filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		graphs = append(graphs, graph)
	}
	return graphs, nil
}
