// ABOUTME: SnapshotWrapped decorates a file-mutating tool with before/after
// ABOUTME: snapshot bracketing, the single composition point called for by
// ABOUTME: §9's design note in place of an inheritance chain.
package tools

import (
	"time"

	"github.com/relaykit/relay/llm"
	"github.com/relaykit/relay/snapshot"
	"github.com/relaykit/relay/toolpipeline"
)

// FilePathExtractor pulls the path a tool call mutates out of its arguments.
type FilePathExtractor func(args map[string]any) (path string, ok bool)

// byFileArg extracts the conventional "file_path" argument.
func byFileArg(args map[string]any) (string, bool) {
	v, ok := args["file_path"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

// SnapshotWrapped decorates inner with RecordMutation/CompleteMutation calls
// around its Execute, per §4.8. It is itself a toolpipeline.Tool, so it
// drops into the registry exactly where inner would have.
type SnapshotWrapped struct {
	inner       toolpipeline.Tool
	manager     *snapshot.Manager
	opType      snapshot.OperationType
	extractPath FilePathExtractor
}

// WrapWithSnapshot builds the decorator around inner.
func WrapWithSnapshot(inner toolpipeline.Tool, manager *snapshot.Manager, opType snapshot.OperationType) *SnapshotWrapped {
	return &SnapshotWrapped{inner: inner, manager: manager, opType: opType, extractPath: byFileArg}
}

func (w *SnapshotWrapped) Definition() llm.ToolDefinition            { return w.inner.Definition() }
func (w *SnapshotWrapped) ValidateInput(args map[string]any) error   { return w.inner.ValidateInput(args) }
func (w *SnapshotWrapped) IsConcurrencySafe(args map[string]any) bool { return w.inner.IsConcurrencySafe(args) }
func (w *SnapshotWrapped) IsReadOnly() bool                          { return w.inner.IsReadOnly() }
func (w *SnapshotWrapped) NeedsPermissions(args map[string]any) bool { return w.inner.NeedsPermissions(args) }
func (w *SnapshotWrapped) ShouldEndTurn(args map[string]any) bool    { return w.inner.ShouldEndTurn(args) }

// Execute brackets inner.Execute with RecordMutation/CompleteMutation. If the
// path cannot be determined from args, it falls through to inner unwrapped —
// not every call of a mutating tool necessarily touches a file (e.g. a future
// no-op branch), and the Snapshot System has nothing to bracket in that case.
func (w *SnapshotWrapped) Execute(ctx toolpipeline.ExecContext, args map[string]any) (toolpipeline.Result, error) {
	path, ok := w.extractPath(args)
	if !ok {
		return w.inner.Execute(ctx, args)
	}

	opID, err := w.manager.RecordMutation(ctx.TurnIndex, w.Definition().Name, path, w.opType)
	if err != nil {
		return toolpipeline.Result{}, err
	}

	start := time.Now()
	result, execErr := w.inner.Execute(ctx, args)
	if execErr != nil || result.IsError {
		return result, execErr
	}

	if err := w.manager.CompleteMutation(opID, time.Since(start)); err != nil {
		return toolpipeline.Result{}, err
	}
	return result, nil
}

var _ toolpipeline.Tool = (*SnapshotWrapped)(nil)
