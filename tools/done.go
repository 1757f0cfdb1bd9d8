// ABOUTME: DoneTool is the canonical end-turn tool (GLOSSARY: "End-turn
// ABOUTME: tool") — its successful execution terminates the dialog turn.
package tools

import (
	"encoding/json"

	"github.com/relaykit/relay/llm"
	"github.com/relaykit/relay/toolpipeline"
)

// DoneTool signals that the assistant has finished responding to the user
// and no further model round is needed.
type DoneTool struct{}

func (DoneTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "done",
		Description: "Signal that the response is complete and no further action is needed.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"summary": {"type": "string", "description": "Optional summary of what was accomplished"}
			}
		}`),
	}
}
func (DoneTool) ValidateInput(map[string]any) error          { return nil }
func (DoneTool) IsConcurrencySafe(map[string]any) bool       { return false }
func (DoneTool) IsReadOnly() bool                            { return true }
func (DoneTool) NeedsPermissions(map[string]any) bool        { return false }
func (DoneTool) ShouldEndTurn(map[string]any) bool            { return true }
func (DoneTool) Execute(ctx toolpipeline.ExecContext, args map[string]any) (toolpipeline.Result, error) {
	summary, _ := getStringArg(args, "summary", false)
	if summary == "" {
		summary = "Done."
	}
	return toolpipeline.Result{Output: summary}, nil
}

var _ toolpipeline.Tool = DoneTool{}
