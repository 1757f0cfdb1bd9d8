// ABOUTME: Wires the concrete tool set into a pipeline registry, wrapping
// ABOUTME: file-mutating tools with the Snapshot System decorator (§4.8).
package tools

import (
	"github.com/relaykit/relay/snapshot"
	"github.com/relaykit/relay/toolpipeline"
)

// RegisterWithSnapshots registers the full core tool set, bracketing
// write_file and edit_file with snapshot.Manager so every mutation they
// perform is recorded as an Operation.
func RegisterWithSnapshots(registry *toolpipeline.Registry, manager *snapshot.Manager) {
	registry.Register(ReadFileTool{})
	registry.Register(WrapWithSnapshot(WriteFileTool{}, manager, snapshot.OpCreate))
	registry.Register(WrapWithSnapshot(EditFileTool{}, manager, snapshot.OpModify))
	registry.Register(ShellTool{})
	registry.Register(GrepTool{})
	registry.Register(GlobTool{})
	registry.Register(DoneTool{})
}

// RegisterTask adds the Task-tool (§4.1 execute_subagent) bound to runner.
// Kept separate from RegisterWithSnapshots since a subagent's own tool set
// (bounded by max_subagent_depth) normally excludes it, avoiding unbounded
// recursive spawning.
func RegisterTask(registry *toolpipeline.Registry, runner SubagentRunner) {
	registry.Register(TaskTool{Runner: runner})
}
