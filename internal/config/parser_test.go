package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	graphrunerrors "github.com/alexisbeaulieu97/graphrun/pkg/errors"
)

const chainYAML = `id: chain
version: 2
name: "Chain"
created_by: tester
nodes:
  - id: A
    block: passthrough
  - id: B
    block: template
    input:
      template: "got {{.value}}"
    metadata:
      timeout: 5s
  - id: C
    block: print
    inputs:
      - name: value
        type: string
        required: true
links:
  - from: A.out
    to: B.value
  - from: B.text
    to: C.value
`

func writeDoc(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "graph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestParseDocument(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		contents string
		assert   func(t *testing.T, doc *Document, err error)
	}{
		{
			name:     "valid document is parsed",
			contents: chainYAML,
			assert: func(t *testing.T, doc *Document, err error) {
				require.NoError(t, err)
				require.Equal(t, "chain", doc.ID)
				require.Equal(t, 2, doc.Version)
				require.Len(t, doc.Nodes, 3)
				require.Equal(t, "got {{.value}}", doc.Nodes[1].Input["template"])
				require.Equal(t, "5s", doc.Nodes[1].Metadata["timeout"])
				require.True(t, doc.Nodes[2].Inputs[0].Required)
				require.Equal(t, "B.text", doc.Links[1].From)
			},
		},
		{
			name:     "syntax errors carry the line",
			contents: "id: broken\nnodes:\n  - id: A\n    block: [unterminated\n",
			assert: func(t *testing.T, _ *Document, err error) {
				var parseErr *graphrunerrors.ParseError
				require.ErrorAs(t, err, &parseErr)
				require.Positive(t, parseErr.Line)
			},
		},
		{
			name:     "unknown keys are rejected",
			contents: "id: typo\nnodes:\n  - id: A\n    blok: passthrough\n",
			assert: func(t *testing.T, _ *Document, err error) {
				var parseErr *graphrunerrors.ParseError
				require.ErrorAs(t, err, &parseErr)
				require.Equal(t, 4, parseErr.Line)
			},
		},
		{
			name:     "missing nodes fails validation",
			contents: "id: empty\n",
			assert: func(t *testing.T, _ *Document, err error) {
				var validationErr *graphrunerrors.ValidationError
				require.ErrorAs(t, err, &validationErr)
				require.Equal(t, "nodes", validationErr.Field)
			},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			doc, err := ParseDocument(writeDoc(t, tc.contents))
			tc.assert(t, doc, err)
		})
	}
}

func TestParseDocument_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := ParseDocument(filepath.Join(t.TempDir(), "absent.yaml"))
	var parseErr *graphrunerrors.ParseError
	require.ErrorAs(t, err, &parseErr)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseDocumentBytes_EmptyDocument(t *testing.T) {
	t.Parallel()

	_, err := ParseDocumentBytes("inline", nil)
	var parseErr *graphrunerrors.ParseError
	require.ErrorAs(t, err, &parseErr)
	require.Contains(t, parseErr.Message, "empty")
}

func TestExtractLine(t *testing.T) {
	t.Parallel()

	require.Zero(t, extractLine(nil))
	require.Zero(t, extractLine(os.ErrInvalid))
	require.Equal(t, 7, extractLine(graphrunerrors.NewParseError("x", 0, errLine7{})))
}

type errLine7 struct{}

func (errLine7) Error() string { return "yaml: line 7: did not find expected key" }
