package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/relaykit/relay/coordinator"
	"github.com/relaykit/relay/toolpipeline"
)

type fakeRunner struct {
	gotAgentType string
	gotTask      string
	gotParent    coordinator.ParentInfo
	result       coordinator.SubagentResult
	err          error
}

func (f *fakeRunner) ExecuteSubagent(ctx context.Context, agentType, task string, parent coordinator.ParentInfo) (coordinator.SubagentResult, error) {
	f.gotAgentType = agentType
	f.gotTask = task
	f.gotParent = parent
	return f.result, f.err
}

func TestTaskToolValidatesRequiredArgs(t *testing.T) {
	tool := TaskTool{}
	if err := tool.ValidateInput(map[string]any{"task": "do something"}); err == nil {
		t.Fatal("expected error for missing agent_type")
	}
	if err := tool.ValidateInput(map[string]any{"agent_type": "general"}); err == nil {
		t.Fatal("expected error for missing task")
	}
	if err := tool.ValidateInput(map[string]any{"agent_type": "general", "task": "do it"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTaskToolForwardsToRunnerAndReturnsText(t *testing.T) {
	runner := &fakeRunner{result: coordinator.SubagentResult{Text: "subagent done"}}
	tool := TaskTool{Runner: runner}

	ctx := toolpipeline.ExecContext{SessionID: "parent-sess", TurnID: "parent-turn"}
	result, err := tool.Execute(ctx, map[string]any{"agent_type": "general", "task": "investigate the bug"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Output != "subagent done" {
		t.Fatalf("unexpected output: %q", result.Output)
	}
	if runner.gotAgentType != "general" || runner.gotTask != "investigate the bug" {
		t.Fatalf("runner did not receive expected args: %+v", runner)
	}
	if runner.gotParent.ParentSessionID != "parent-sess" || runner.gotParent.ParentTurnID != "parent-turn" {
		t.Fatalf("unexpected parent info: %+v", runner.gotParent)
	}
}

func TestTaskToolReportsSubagentFailureAsErrorResult(t *testing.T) {
	runner := &fakeRunner{err: errors.New("boom")}
	tool := TaskTool{Runner: runner}

	result, err := tool.Execute(toolpipeline.ExecContext{}, map[string]any{"agent_type": "general", "task": "x"})
	if err != nil {
		t.Fatal("expected the failure to surface as a Result, not a Go error")
	}
	if !result.IsError {
		t.Fatal("expected IsError to be true on subagent failure")
	}
}

func TestTaskToolShouldNotEndTurn(t *testing.T) {
	tool := TaskTool{}
	if tool.ShouldEndTurn(map[string]any{}) {
		t.Fatal("task tool should not end the turn on its own")
	}
}
