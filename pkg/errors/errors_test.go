package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseErrorWrapsUnderlying(t *testing.T) {
	t.Parallel()

	underlying := fmt.Errorf("unexpected token")
	err := NewParseError("graph.yaml", 12, underlying)

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	require.Equal(t, "graph.yaml", parseErr.Path)
	require.Equal(t, 12, parseErr.Line)
	require.True(t, stdErrors.Is(err, underlying))
	require.Equal(t, "parse error: graph.yaml:12: unexpected token", err.Error())
}

func TestParseErrorWithoutLine(t *testing.T) {
	t.Parallel()

	err := NewParseError("graph.yaml", 0, stdErrors.New("empty"))
	require.Equal(t, "parse error: graph.yaml: empty", err.Error())
}

func TestValidationErrorCarriesField(t *testing.T) {
	t.Parallel()

	err := NewValidationError("links[1].to", "references unknown node", nil)

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Equal(t, "links[1].to", validationErr.Field)
	require.Empty(t, validationErr.Code)
	require.Contains(t, err.Error(), "references unknown node")
}

func TestCodedValidationError(t *testing.T) {
	t.Parallel()

	err := NewCodedValidationError("nodes[2].id", "DUPLICATE_NODE", "duplicate node id")

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Equal(t, "DUPLICATE_NODE", validationErr.Code)
	require.Nil(t, validationErr.Unwrap())
}

func TestInputErrorWrapsUnderlying(t *testing.T) {
	t.Parallel()

	underlying := stdErrors.New("invalid character")
	err := NewInputError("--input", underlying)

	var inputErr *InputError
	require.ErrorAs(t, err, &inputErr)
	require.Equal(t, "--input", inputErr.Source)
	require.True(t, stdErrors.Is(err, underlying))
}

func TestNilReceivers(t *testing.T) {
	t.Parallel()

	var p *ParseError
	var v *ValidationError
	var i *InputError
	require.Empty(t, p.Error())
	require.Empty(t, v.Error())
	require.Empty(t, i.Error())
	require.Nil(t, p.Unwrap())
}
