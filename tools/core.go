// ABOUTME: Core filesystem/shell/search tools (read_file, write_file,
// ABOUTME: edit_file, shell, grep, glob), adapted from agent/tools_core.go.
package tools

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/relaykit/relay/llm"
	"github.com/relaykit/relay/toolpipeline"
	"github.com/relaykit/relay/workspace"
)

func workspaceGrepOptions(globFilter string, caseInsensitive bool, maxResults int) workspace.GrepOptions {
	return workspace.GrepOptions{GlobFilter: globFilter, CaseInsensitive: caseInsensitive, MaxResults: maxResults}
}

func formatLineNumbers(content string, startLine int) string {
	lines := strings.Split(content, "\n")
	var b strings.Builder
	for i, line := range lines {
		fmt.Fprintf(&b, "%3d | %s", startLine+i, line)
		if i < len(lines)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// ReadFileTool reads a file from the workspace with line numbers prepended.
type ReadFileTool struct{}

func (ReadFileTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "read_file",
		Description: "Read a file from the filesystem. Returns line-numbered content.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"file_path": {"type": "string", "description": "Absolute path to the file to read"},
				"offset": {"type": "integer", "description": "1-based line number to start reading from (default: 0 = beginning)"},
				"limit": {"type": "integer", "description": "Maximum number of lines to read (default: 2000)"}
			},
			"required": ["file_path"]
		}`),
	}
}
func (ReadFileTool) ValidateInput(args map[string]any) error {
	_, err := getStringArg(args, "file_path", true)
	return err
}
func (ReadFileTool) IsConcurrencySafe(map[string]any) bool { return true }
func (ReadFileTool) IsReadOnly() bool                      { return true }
func (ReadFileTool) NeedsPermissions(map[string]any) bool  { return false }
func (ReadFileTool) ShouldEndTurn(map[string]any) bool     { return false }
func (ReadFileTool) Execute(ctx toolpipeline.ExecContext, args map[string]any) (toolpipeline.Result, error) {
	env, err := envFrom(ctx.Env)
	if err != nil {
		return toolpipeline.Result{}, err
	}
	filePath, _ := getStringArg(args, "file_path", true)
	offset, err := getIntArg(args, "offset", 0)
	if err != nil {
		return toolpipeline.Result{}, err
	}
	limit, err := getIntArg(args, "limit", 2000)
	if err != nil {
		return toolpipeline.Result{}, err
	}

	content, err := env.ReadFile(filePath, offset, limit)
	if err != nil {
		return toolpipeline.Result{}, err
	}
	startLine := 1
	if offset > 0 {
		startLine = offset
	}
	// env.ReadFile already prefixes each line with "%4d\t"; drop that prefix
	// so the output carries a single "N | " number column.
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	for i, line := range lines {
		if tab := strings.IndexByte(line, '\t'); tab >= 0 {
			lines[i] = line[tab+1:]
		}
	}
	return toolpipeline.Result{Output: formatLineNumbers(strings.Join(lines, "\n"), startLine)}, nil
}

// WriteFileTool creates or overwrites a file.
type WriteFileTool struct{}

func (WriteFileTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "write_file",
		Description: "Write content to a file. Creates the file and parent directories if needed.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"file_path": {"type": "string", "description": "Absolute path to the file to write"},
				"content": {"type": "string", "description": "The full file content to write"}
			},
			"required": ["file_path", "content"]
		}`),
	}
}
func (WriteFileTool) ValidateInput(args map[string]any) error {
	if _, err := getStringArg(args, "file_path", true); err != nil {
		return err
	}
	_, err := getStringArg(args, "content", true)
	return err
}
func (WriteFileTool) IsConcurrencySafe(map[string]any) bool { return false }
func (WriteFileTool) IsReadOnly() bool                      { return false }
func (WriteFileTool) NeedsPermissions(map[string]any) bool  { return false }
func (WriteFileTool) ShouldEndTurn(map[string]any) bool     { return false }
func (WriteFileTool) Execute(ctx toolpipeline.ExecContext, args map[string]any) (toolpipeline.Result, error) {
	env, err := envFrom(ctx.Env)
	if err != nil {
		return toolpipeline.Result{}, err
	}
	filePath, _ := getStringArg(args, "file_path", true)
	content, _ := getStringArg(args, "content", true)

	if err := env.WriteFile(filePath, content); err != nil {
		return toolpipeline.Result{}, err
	}
	return toolpipeline.Result{Output: fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), filepath.Base(filePath))}, nil
}

// EditFileTool performs a search-and-replace edit of an existing file.
type EditFileTool struct{}

func (EditFileTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "edit_file",
		Description: "Replace an exact string occurrence in a file.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"file_path": {"type": "string", "description": "Absolute path to the file to edit"},
				"old_string": {"type": "string", "description": "Exact text to find in the file"},
				"new_string": {"type": "string", "description": "Replacement text"},
				"replace_all": {"type": "boolean", "description": "Replace all occurrences (default: false)"}
			},
			"required": ["file_path", "old_string", "new_string"]
		}`),
	}
}
func (EditFileTool) ValidateInput(args map[string]any) error {
	if _, err := getStringArg(args, "file_path", true); err != nil {
		return err
	}
	if _, err := getStringArg(args, "old_string", true); err != nil {
		return err
	}
	_, err := getStringArg(args, "new_string", true)
	return err
}
func (EditFileTool) IsConcurrencySafe(map[string]any) bool { return false }
func (EditFileTool) IsReadOnly() bool                      { return false }
func (EditFileTool) NeedsPermissions(map[string]any) bool  { return false }
func (EditFileTool) ShouldEndTurn(map[string]any) bool     { return false }
func (EditFileTool) Execute(ctx toolpipeline.ExecContext, args map[string]any) (toolpipeline.Result, error) {
	env, err := envFrom(ctx.Env)
	if err != nil {
		return toolpipeline.Result{}, err
	}
	filePath, _ := getStringArg(args, "file_path", true)
	oldString, _ := getStringArg(args, "old_string", true)
	newString, _ := getStringArg(args, "new_string", true)
	replaceAll, err := getBoolArg(args, "replace_all", false)
	if err != nil {
		return toolpipeline.Result{}, err
	}

	// env.ReadFile returns line-numbered text, so the raw bytes are read here.
	data, err := os.ReadFile(filePath)
	if err != nil {
		return toolpipeline.Result{}, fmt.Errorf("read file %s: %w", filePath, err)
	}
	content := string(data)

	count := strings.Count(content, oldString)
	if count == 0 {
		return toolpipeline.Result{}, fmt.Errorf("old_string not found in %s", filePath)
	}
	if !replaceAll && count > 1 {
		return toolpipeline.Result{}, fmt.Errorf("old_string is not unique in %s (found %d occurrences); "+
			"provide more context to make it unique, or set replace_all=true", filePath, count)
	}

	var newContent string
	var replacements int
	if replaceAll {
		newContent = strings.ReplaceAll(content, oldString, newString)
		replacements = count
	} else {
		newContent = strings.Replace(content, oldString, newString, 1)
		replacements = 1
	}

	if err := env.WriteFile(filePath, newContent); err != nil {
		return toolpipeline.Result{}, err
	}
	return toolpipeline.Result{Output: fmt.Sprintf("Made %d replacement(s) in %s", replacements, filepath.Base(filePath))}, nil
}

// ShellTool executes a shell command in the workspace.
type ShellTool struct{}

func (ShellTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "shell",
		Description: "Execute a shell command. Returns stdout, stderr, and exit code.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"command": {"type": "string", "description": "The shell command to run"},
				"timeout_ms": {"type": "integer", "description": "Command timeout in milliseconds (default: 10000)"},
				"description": {"type": "string", "description": "Human-readable description of what this command does"}
			},
			"required": ["command"]
		}`),
	}
}
func (ShellTool) ValidateInput(args map[string]any) error {
	_, err := getStringArg(args, "command", true)
	return err
}
func (ShellTool) IsConcurrencySafe(map[string]any) bool { return false }
func (ShellTool) IsReadOnly() bool                      { return false }
func (ShellTool) NeedsPermissions(map[string]any) bool  { return true }
func (ShellTool) ShouldEndTurn(map[string]any) bool     { return false }
func (ShellTool) Execute(ctx toolpipeline.ExecContext, args map[string]any) (toolpipeline.Result, error) {
	env, err := envFrom(ctx.Env)
	if err != nil {
		return toolpipeline.Result{}, err
	}
	command, _ := getStringArg(args, "command", true)
	timeoutMs, err := getIntArg(args, "timeout_ms", 10000)
	if err != nil {
		return toolpipeline.Result{}, err
	}

	result, err := env.ExecCommand(command, timeoutMs, "", nil)
	if err != nil {
		return toolpipeline.Result{}, err
	}

	var out strings.Builder
	if result.Stdout != "" {
		out.WriteString(result.Stdout)
	}
	if result.Stderr != "" {
		if out.Len() > 0 {
			out.WriteByte('\n')
		}
		out.WriteString("[stderr]\n")
		out.WriteString(result.Stderr)
	}
	fmt.Fprintf(&out, "\n[exit code: %d, duration: %dms]", result.ExitCode, result.DurationMs)
	if result.TimedOut {
		fmt.Fprintf(&out, "\n[ERROR: command timed out after %dms; partial output shown above]", timeoutMs)
	}
	return toolpipeline.Result{Output: out.String(), IsError: result.ExitCode != 0}, nil
}

// GrepTool searches file contents by regex pattern.
type GrepTool struct{}

func (GrepTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "grep",
		Description: "Search file contents using regex patterns.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"pattern": {"type": "string", "description": "Regex pattern to search for"},
				"path": {"type": "string", "description": "Directory or file to search (default: working directory)"},
				"glob_filter": {"type": "string", "description": "File pattern filter (e.g., '*.go')"},
				"case_insensitive": {"type": "boolean", "description": "Case insensitive search (default: false)"},
				"max_results": {"type": "integer", "description": "Maximum number of matching lines (default: 100); when ripgrep is available the cap applies per file"}
			},
			"required": ["pattern"]
		}`),
	}
}
func (GrepTool) ValidateInput(args map[string]any) error {
	_, err := getStringArg(args, "pattern", true)
	return err
}
func (GrepTool) IsConcurrencySafe(map[string]any) bool { return true }
func (GrepTool) IsReadOnly() bool                      { return true }
func (GrepTool) NeedsPermissions(map[string]any) bool  { return false }
func (GrepTool) ShouldEndTurn(map[string]any) bool     { return false }
func (GrepTool) Execute(ctx toolpipeline.ExecContext, args map[string]any) (toolpipeline.Result, error) {
	env, err := envFrom(ctx.Env)
	if err != nil {
		return toolpipeline.Result{}, err
	}
	pattern, _ := getStringArg(args, "pattern", true)
	path, err := getStringArg(args, "path", false)
	if err != nil {
		return toolpipeline.Result{}, err
	}
	if path == "" {
		path = env.WorkingDirectory()
	}
	globFilter, _ := getStringArg(args, "glob_filter", false)
	caseInsensitive, err := getBoolArg(args, "case_insensitive", false)
	if err != nil {
		return toolpipeline.Result{}, err
	}
	maxResults, err := getIntArg(args, "max_results", 100)
	if err != nil {
		return toolpipeline.Result{}, err
	}

	result, err := env.Grep(pattern, path, workspaceGrepOptions(globFilter, caseInsensitive, maxResults))
	if err != nil {
		return toolpipeline.Result{}, err
	}
	return toolpipeline.Result{Output: result}, nil
}

// GlobTool finds files by glob pattern.
type GlobTool struct{}

func (GlobTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "glob",
		Description: "Find files matching a glob pattern.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"pattern": {"type": "string", "description": "Glob pattern (e.g., '**/*.go')"},
				"path": {"type": "string", "description": "Base directory (default: working directory)"}
			},
			"required": ["pattern"]
		}`),
	}
}
func (GlobTool) ValidateInput(args map[string]any) error {
	_, err := getStringArg(args, "pattern", true)
	return err
}
func (GlobTool) IsConcurrencySafe(map[string]any) bool { return true }
func (GlobTool) IsReadOnly() bool                      { return true }
func (GlobTool) NeedsPermissions(map[string]any) bool  { return false }
func (GlobTool) ShouldEndTurn(map[string]any) bool     { return false }
func (GlobTool) Execute(ctx toolpipeline.ExecContext, args map[string]any) (toolpipeline.Result, error) {
	env, err := envFrom(ctx.Env)
	if err != nil {
		return toolpipeline.Result{}, err
	}
	pattern, _ := getStringArg(args, "pattern", true)
	path, err := getStringArg(args, "path", false)
	if err != nil {
		return toolpipeline.Result{}, err
	}
	if path == "" {
		path = env.WorkingDirectory()
	}

	matches, err := env.Glob(pattern, path)
	if err != nil {
		return toolpipeline.Result{}, err
	}
	if len(matches) == 0 {
		return toolpipeline.Result{Output: "No files matched the pattern."}, nil
	}
	return toolpipeline.Result{Output: strings.Join(matches, "\n")}, nil
}

// RegisterCoreTools registers read_file, write_file, edit_file, shell, grep,
// and glob with the given pipeline registry.
func RegisterCoreTools(registry *toolpipeline.Registry) {
	registry.Register(ReadFileTool{})
	registry.Register(WriteFileTool{})
	registry.Register(EditFileTool{})
	registry.Register(ShellTool{})
	registry.Register(GrepTool{})
	registry.Register(GlobTool{})
}
