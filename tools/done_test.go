package tools

import (
	"testing"
)

func TestDoneToolDefaultsSummary(t *testing.T) {
	tool := DoneTool{}
	result, err := tool.Execute(execCtx(nil), map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Output != "Done." {
		t.Fatalf("expected default summary, got %q", result.Output)
	}
}

func TestDoneToolUsesProvidedSummary(t *testing.T) {
	tool := DoneTool{}
	result, err := tool.Execute(execCtx(nil), map[string]any{"summary": "finished the refactor"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Output != "finished the refactor" {
		t.Fatalf("unexpected output: %q", result.Output)
	}
}

func TestDoneToolShouldEndTurn(t *testing.T) {
	tool := DoneTool{}
	if !tool.ShouldEndTurn(map[string]any{}) {
		t.Fatal("expected done tool to end the turn")
	}
}
