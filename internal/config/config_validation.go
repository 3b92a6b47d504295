package config

import (
	"fmt"
	"time"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
	graphrunerrors "github.com/alexisbeaulieu97/graphrun/pkg/errors"
)

// TimeoutKey is the node metadata key overriding the per-invocation timeout.
const TimeoutKey = "timeout"

// ValidateDocument performs structural and cross-field validation on a graph
// document. Port wiring and cycle checks belong to the domain graph and run
// after mapping.
func ValidateDocument(doc *Document) error {
	if doc == nil {
		return graphrunerrors.NewValidationError("document", "document is nil", nil)
	}

	v := validatorInstance()
	if err := v.Struct(doc); err != nil {
		return convertValidationError("document", err)
	}

	nodeIndex := make(map[string]int, len(doc.Nodes))
	for i, node := range doc.Nodes {
		if _, exists := nodeIndex[node.ID]; exists {
			return graphrunerrors.NewCodedValidationError(fieldForNode(i, "id"), string(agent.ErrCodeDuplicate), fmt.Sprintf("duplicate node id %q", node.ID))
		}
		nodeIndex[node.ID] = i

		for port := range node.Input {
			if !portNamePattern.MatchString(port) {
				return graphrunerrors.NewValidationError(fieldForNode(i, "input"), fmt.Sprintf("invalid port name %q", port), nil)
			}
		}
		if _, err := NodeTimeout(node.Metadata); err != nil {
			return graphrunerrors.NewValidationError(fieldForNode(i, "metadata.timeout"), err.Error(), err)
		}
	}

	for i, link := range doc.Links {
		from, _, _ := SplitRef(link.From)
		if _, ok := nodeIndex[from]; !ok {
			return graphrunerrors.NewCodedValidationError(fieldForLink(i, "from"), string(agent.ErrCodeUnknownNode), fmt.Sprintf("references unknown node %q", from))
		}
		to, _, _ := SplitRef(link.To)
		if _, ok := nodeIndex[to]; !ok {
			return graphrunerrors.NewCodedValidationError(fieldForLink(i, "to"), string(agent.ErrCodeUnknownNode), fmt.Sprintf("references unknown node %q", to))
		}
	}

	return nil
}

// NodeTimeout reads the timeout override from node metadata. Strings use
// time.ParseDuration syntax; bare numbers are seconds. Zero means no override.
func NodeTimeout(metadata map[string]interface{}) (time.Duration, error) {
	raw, ok := metadata[TimeoutKey]
	if !ok || raw == nil {
		return 0, nil
	}

	var timeout time.Duration
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid timeout %q: %w", v, err)
		}
		timeout = parsed
	case int:
		timeout = time.Duration(v) * time.Second
	case float64:
		timeout = time.Duration(v * float64(time.Second))
	default:
		return 0, fmt.Errorf("timeout must be a duration string or seconds, got %T", raw)
	}

	if timeout < 0 {
		return 0, fmt.Errorf("timeout must not be negative")
	}
	return timeout, nil
}
