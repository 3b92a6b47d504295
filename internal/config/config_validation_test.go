package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
	graphrunerrors "github.com/alexisbeaulieu97/graphrun/pkg/errors"
)

func validDocument() *Document {
	return &Document{
		ID: "doc",
		Nodes: []NodeDoc{
			{ID: "A", Block: "passthrough"},
			{ID: "B", Block: "print", Inputs: []PortDoc{{Name: "value", Type: "string"}}},
		},
		Links: []LinkDoc{{From: "A.out", To: "B.value"}},
	}
}

func TestValidateDocument(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(doc *Document)
		field  string
		code   agent.ErrorCode
	}{
		{"invalid document id", func(d *Document) { d.ID = "1doc" }, "id", ""},
		{"invalid document version", func(d *Document) { d.Version = -1 }, "version", ""},
		{"invalid node id", func(d *Document) { d.Nodes[0].ID = "1abc" }, "nodes[0].id", ""},
		{"invalid block type", func(d *Document) { d.Nodes[0].Block = "Pass Through" }, "nodes[0].block", ""},
		{"invalid port type", func(d *Document) { d.Nodes[1].Inputs[0].Type = "decimal" }, "nodes[1].inputs[0].type", ""},
		{"invalid port name", func(d *Document) { d.Nodes[1].Inputs[0].Name = "has space" }, "nodes[1].inputs[0].name", ""},
		{"malformed link", func(d *Document) { d.Links[0].From = "A" }, "links[0].from", ""},
		{"parent without version", func(d *Document) { d.Parent = &Parent{ID: "base"} }, "parent.version", ""},
		{"invalid constant port", func(d *Document) { d.Nodes[0].Input = map[string]interface{}{"bad-port": 1} }, "nodes[0].input", ""},
		{"bad timeout", func(d *Document) { d.Nodes[0].Metadata = map[string]interface{}{"timeout": "soon"} }, "nodes[0].metadata.timeout", ""},
		{"duplicate node", func(d *Document) { d.Nodes[1].ID = "A" }, "nodes[1].id", agent.ErrCodeDuplicate},
		{"unknown link source", func(d *Document) { d.Links[0].From = "Z.out" }, "links[0].from", agent.ErrCodeUnknownNode},
		{"unknown link sink", func(d *Document) { d.Links[0].To = "Z.in" }, "links[0].to", agent.ErrCodeUnknownNode},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			doc := validDocument()
			tc.mutate(doc)
			err := ValidateDocument(doc)

			var validationErr *graphrunerrors.ValidationError
			require.ErrorAs(t, err, &validationErr)
			require.Equal(t, tc.field, validationErr.Field)
			require.Equal(t, string(tc.code), validationErr.Code)
		})
	}
}

func TestValidateDocument_AcceptsValidDocument(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateDocument(validDocument()))
	require.Error(t, ValidateDocument(nil))
}

func TestNodeTimeout(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     interface{}
		want    time.Duration
		wantErr bool
	}{
		{"absent", nil, 0, false},
		{"duration string", "1500ms", 1500 * time.Millisecond, false},
		{"integer seconds", 3, 3 * time.Second, false},
		{"fractional seconds", 0.5, 500 * time.Millisecond, false},
		{"negative", "-1s", 0, true},
		{"wrong type", true, 0, true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := NodeTimeout(map[string]interface{}{TimeoutKey: tc.raw})
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestSplitRef(t *testing.T) {
	t.Parallel()

	node, port, ok := SplitRef("A.out")
	require.True(t, ok)
	require.Equal(t, "A", node)
	require.Equal(t, "out", port)

	for _, bad := range []string{"", "A", ".out", "A."} {
		_, _, ok := SplitRef(bad)
		require.False(t, ok, bad)
	}
}

func TestGetValidatorIsShared(t *testing.T) {
	t.Parallel()

	require.Same(t, GetValidator(), GetValidator())
}
