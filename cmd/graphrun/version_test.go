package main

import (
	"bytes"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func setBuildInfo(t *testing.T, v, c, d string) {
	t.Helper()
	originalVersion, originalCommit, originalDate := version, commit, date
	t.Cleanup(func() {
		version, commit, date = originalVersion, originalCommit, originalDate
	})
	version, commit, date = v, c, d
}

func runVersion(t *testing.T, args ...string) string {
	t.Helper()
	root := newRootCmd()
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(append([]string{"version"}, args...))
	require.NoError(t, root.Execute())
	return buf.String()
}

func TestVersionCommandOutputsBuildInfo(t *testing.T) {
	setBuildInfo(t, "0.4.0", "9f1c2ab", "2026-10-01")

	out := runVersion(t)
	require.Contains(t, out, "graphrun 0.4.0")
	require.Contains(t, out, "commit: 9f1c2ab")
	require.Contains(t, out, "built: 2026-10-01")
	require.Contains(t, out, "go: "+runtime.Version())
}

func TestVersionCommandShort(t *testing.T) {
	setBuildInfo(t, "0.4.0", "9f1c2ab", "2026-10-01")

	require.Equal(t, "0.4.0\n", runVersion(t, "--short"))
}
