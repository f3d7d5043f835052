package testutils

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
)

// AssertText compares CLI style output line by line, ignoring trailing
// whitespace, and reports a unified diff on mismatch.
func AssertText(t TestingT, actual, expected string) bool {
	t.Helper()
	if diff := DiffText(actual, expected); diff != "" {
		t.Errorf("Text assertion failed - unified diff:\n%s", diff)
		return false
	}
	return true
}

// DiffText returns an empty string when both texts match after normalization
func DiffText(actual, expected string) string {
	a, e := normalizeText(actual), normalizeText(expected)
	if a == e {
		return ""
	}
	edits := myers.ComputeEdits("", e, a)
	return fmt.Sprint(gotextdiff.ToUnified("expected", "actual", e, edits))
}

// StripColors disables color output for the duration of a test
// and returns a restore func.
func StripColors() func() {
	prev := color.NoColor
	color.NoColor = true
	return func() { color.NoColor = prev }
}

func normalizeText(text string) string {
	text = strings.TrimSpace(text)
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	return strings.Join(lines, "\n")
}
