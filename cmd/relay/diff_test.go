package main

import (
	"strings"
	"testing"
)

func TestUnifiedDiffEmptyForIdenticalContent(t *testing.T) {
	if got := unifiedDiff("a.go", "same\n", "same\n"); got != "" {
		t.Fatalf("expected empty diff for identical content, got %q", got)
	}
}

func TestUnifiedDiffMarksAddedAndRemovedLines(t *testing.T) {
	out := unifiedDiff("a.go", "line1\nline2\nline3\n", "line1\nchanged\nline3\n")

	if !strings.Contains(out, "--- a/a.go") || !strings.Contains(out, "+++ b/a.go") {
		t.Fatalf("expected file headers, got %q", out)
	}
	if !strings.Contains(out, "-line2") {
		t.Fatalf("expected removed line marker, got %q", out)
	}
	if !strings.Contains(out, "+changed") {
		t.Fatalf("expected added line marker, got %q", out)
	}
	if !strings.Contains(out, " line1") {
		t.Fatalf("expected unchanged context line, got %q", out)
	}
}

func TestUnifiedDiffHandlesAppendOnly(t *testing.T) {
	out := unifiedDiff("b.go", "line1\n", "line1\nline2\n")
	if !strings.Contains(out, "+line2") {
		t.Fatalf("expected appended line to show as an insertion, got %q", out)
	}
}
