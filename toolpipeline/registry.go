// ABOUTME: Tool registry and the Tool interface (validate/permissions/concurrency
// ABOUTME: safety), grounded on agent/tools.go's ToolRegistry and truncation helpers.
package toolpipeline

import (
	"fmt"
	"strings"
	"sync"

	"github.com/relaykit/relay/llm"
)

// ResultCategory classifies a tool error (§4.6).
type ResultCategory string

const (
	CategoryNone       ResultCategory = ""
	CategoryValidation ResultCategory = "Validation"
	CategoryPermission ResultCategory = "Permission"
	CategoryTimeout    ResultCategory = "Timeout"
	CategoryCancelled  ResultCategory = "Cancelled"
	CategoryExecution  ResultCategory = "Execution"
)

// Tool is the contract every pipeline-executed tool implements.
type Tool interface {
	Definition() llm.ToolDefinition
	ValidateInput(args map[string]any) error
	IsConcurrencySafe(args map[string]any) bool
	IsReadOnly() bool
	NeedsPermissions(args map[string]any) bool
	ShouldEndTurn(args map[string]any) bool
	Execute(ctx ExecContext, args map[string]any) (Result, error)
}

// ExecContext is the execution context passed to a tool: the workspace
// environment plus identifiers used for cancellation scoping and snapshot
// bracketing (§4.8).
type ExecContext struct {
	SessionID string
	TurnID    string
	TurnIndex int
	ToolID    string
	Env       any // concrete *workspace.Environment; kept generic to avoid an import cycle
}

// Result is a tool's typed output before result shaping.
type Result struct {
	Output              string
	ResultForAssistant  string
	IsError             bool
	Category            ResultCategory
}

// Registry holds registered tools by name; which of them an agent may call
// is checked separately by IsAllowed.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool.
func (r *Registry) Register(tool Tool) error {
	def := tool.Definition()
	if def.Name == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[def.Name] = tool
	return nil
}

// Get returns the tool registered under name, or nil.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Definitions returns every registered tool's definition.
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llm.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.Definition())
	}
	return defs
}

// Names lists every registered tool name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	return names
}

// IsAllowed reports whether toolName may be called by an agent whose
// allow-list is allowedTools. MCP-prefixed tool names are always allowed
// (§4.6 step 1).
func IsAllowed(toolName string, allowedTools []string) bool {
	if strings.HasPrefix(toolName, "mcp_") {
		return true
	}
	for _, t := range allowedTools {
		if t == toolName {
			return true
		}
	}
	return false
}

// defaultToolLimits, defaultToolModes, and TruncateOutput/TruncateToolOutput
// mirror agent/tools.go exactly; output shaping is a pipeline-wide concern,
// not a per-tool one.
var defaultToolLimits = map[string]int{
	"read_file":  50000,
	"shell":      30000,
	"grep":       20000,
	"glob":       20000,
	"edit_file":  10000,
	"write_file": 1000,
}

var defaultToolModes = map[string]string{
	"read_file":  "head_tail",
	"shell":      "head_tail",
	"grep":       "tail",
	"glob":       "tail",
	"edit_file":  "tail",
	"write_file": "tail",
}

const defaultCharLimit = 30000

var defaultLineLimits = map[string]int{
	"shell": 256,
	"grep":  200,
	"glob":  500,
}

// TruncateLines truncates output over maxLines with a head/tail split.
func TruncateLines(output string, maxLines int) string {
	if maxLines <= 0 {
		return output
	}
	lines := strings.Split(output, "\n")
	if len(lines) <= maxLines {
		return output
	}
	headCount := maxLines / 2
	tailCount := maxLines - headCount
	omitted := len(lines) - headCount - tailCount
	return strings.Join(lines[:headCount], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tailCount:], "\n")
}

// TruncateOutput truncates output over maxChars using "head_tail" or "tail".
func TruncateOutput(output string, maxChars int, mode string) string {
	if len(output) <= maxChars {
		return output
	}
	removed := len(output) - maxChars
	if mode == "head_tail" {
		half := maxChars / 2
		return output[:half] +
			fmt.Sprintf("\n\n[WARNING: Tool output was truncated. %d characters were removed from the middle. "+
				"The full output is available in the event stream.]\n\n", removed) +
			output[len(output)-half:]
	}
	return fmt.Sprintf("[WARNING: Tool output was truncated. First %d characters were removed. "+
		"The full output is available in the event stream.]\n\n", removed) +
		output[len(output)-maxChars:]
}

// TruncateToolOutput applies per-tool char and line limits, overridable by limits.
func TruncateToolOutput(output, toolName string, limits map[string]int) string {
	maxChars := defaultCharLimit
	if d, ok := defaultToolLimits[toolName]; ok {
		maxChars = d
	}
	if limits != nil {
		if o, ok := limits[toolName]; ok {
			maxChars = o
		}
	}
	mode := "tail"
	if m, ok := defaultToolModes[toolName]; ok {
		mode = m
	}
	result := TruncateOutput(output, maxChars, mode)
	if maxLines, ok := defaultLineLimits[toolName]; ok && maxLines > 0 {
		result = TruncateLines(result, maxLines)
	}
	return result
}
