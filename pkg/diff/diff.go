// Package diff renders line oriented differences between two texts, such as
// the canonical descriptions of two graph versions.
package diff

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const (
	maxDiffLines    = 10000
	truncateMessage = "... (diff truncated, exceeds 10,000 lines) ..."
)

// Result is a line diff between two texts.
type Result struct {
	// Text is the diff in unified format, empty when nothing changed.
	Text    string
	Added   int
	Removed int
}

// Changed reports whether the texts differ.
func (r Result) Changed() bool {
	return r.Added > 0 || r.Removed > 0
}

// Lines compares before and after line by line. The output is a single hunk
// covering both texts, truncated past maxDiffLines.
func Lines(before, after, beforeLabel, afterLabel string) Result {
	if before == after {
		return Result{}
	}

	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lineArray)

	var (
		body   strings.Builder
		result Result
		lines  int
	)
	for _, d := range diffs {
		prefix := " "
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		}
		for _, line := range splitLines(d.Text) {
			if lines == maxDiffLines {
				body.WriteString(truncateMessage + "\n")
			}
			lines++
			switch d.Type {
			case diffmatchpatch.DiffDelete:
				result.Removed++
			case diffmatchpatch.DiffInsert:
				result.Added++
			}
			if lines > maxDiffLines {
				continue
			}
			body.WriteString(prefix)
			body.WriteString(line)
			body.WriteString("\n")
		}
	}

	var out strings.Builder
	fmt.Fprintf(&out, "--- %s\n", beforeLabel)
	fmt.Fprintf(&out, "+++ %s\n", afterLabel)
	fmt.Fprintf(&out, "@@ -1,%d +1,%d @@\n", len(splitLines(before)), len(splitLines(after)))
	out.WriteString(body.String())
	result.Text = out.String()
	return result
}

// splitLines splits s into lines without their terminators.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
