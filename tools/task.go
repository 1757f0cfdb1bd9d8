// ABOUTME: TaskTool is the Task-tool surface for spawning a subagent
// ABOUTME: (GLOSSARY "Subagent", §4.1 execute_subagent), grounded on
// ABOUTME: agent/subagents.go's spawn_agent tool but adapted to
// ABOUTME: execute_subagent's synchronous, blocking contract rather than
// ABOUTME: the teacher's async spawn/send_input/wait/close_agent handle API.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/relaykit/relay/coordinator"
	"github.com/relaykit/relay/llm"
	"github.com/relaykit/relay/toolpipeline"
)

// SubagentRunner is the narrow surface TaskTool needs from a Coordinator.
type SubagentRunner interface {
	ExecuteSubagent(ctx context.Context, agentType, task string, parent coordinator.ParentInfo) (coordinator.SubagentResult, error)
}

// TaskTool dispatches a task to a named subagent type and blocks for its
// result (§4.1 execute_subagent). Unlike the reference's async handle-based
// subagent tools, this is a single call: relay's execute_subagent contract
// is synchronous from the caller's perspective.
type TaskTool struct {
	Runner SubagentRunner
}

func (t TaskTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "task",
		Description: "Delegate a task to a subagent of the given type. Blocks until the subagent finishes and returns its final text.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"agent_type": {"type": "string", "description": "The registered subagent id to run"},
				"task": {"type": "string", "description": "The task description to hand to the subagent"}
			},
			"required": ["agent_type", "task"]
		}`),
	}
}

func (t TaskTool) ValidateInput(args map[string]any) error {
	if _, err := getStringArg(args, "agent_type", true); err != nil {
		return err
	}
	if _, err := getStringArg(args, "task", true); err != nil {
		return err
	}
	return nil
}

func (t TaskTool) IsConcurrencySafe(map[string]any) bool { return false }
func (t TaskTool) IsReadOnly() bool                      { return false }
func (t TaskTool) NeedsPermissions(map[string]any) bool  { return false }
func (t TaskTool) ShouldEndTurn(map[string]any) bool     { return false }

func (t TaskTool) Execute(ctx toolpipeline.ExecContext, args map[string]any) (toolpipeline.Result, error) {
	agentType, _ := getStringArg(args, "agent_type", true)
	task, _ := getStringArg(args, "task", true)

	result, err := t.Runner.ExecuteSubagent(context.Background(), agentType, task, coordinatorParentInfo(ctx))
	if err != nil {
		return toolpipeline.Result{Output: fmt.Sprintf("subagent failed: %s", err), IsError: true}, nil
	}
	return toolpipeline.Result{Output: result.Text, ResultForAssistant: result.Text}, nil
}

func coordinatorParentInfo(ctx toolpipeline.ExecContext) coordinator.ParentInfo {
	return coordinator.ParentInfo{ParentSessionID: ctx.SessionID, ParentTurnID: ctx.TurnID}
}

var _ toolpipeline.Tool = TaskTool{}
