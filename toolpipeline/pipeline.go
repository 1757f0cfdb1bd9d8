// ABOUTME: Tool Pipeline: validate, dedupe should_end_turn, group by concurrency
// ABOUTME: safety, permission-gate, execute with cancellation/timeout, emit events.
package toolpipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/relaykit/relay/errs"
	"github.com/relaykit/relay/events"
	"github.com/relaykit/relay/llm"
)

// Options controls one execute_tools invocation (§4.6).
type Options struct {
	AllowedTools            []string
	ConfirmBeforeRun        bool
	TimeoutSecs             int
	ConfirmationTimeoutSecs int
	Parallel                bool
	OutputLimits            map[string]int
	TurnIndex               int
	Env                     any // concrete *workspace.Environment, threaded into each call's ExecContext
}

// CallOutcome is the per-call result, carrying whether it ended the turn.
type CallOutcome struct {
	Result       llm.ToolResult
	ShouldEndTurn bool
}

// pendingConfirmation tracks one call suspended on the permission gate.
type pendingConfirmation struct {
	resolved    chan confirmDecision
	resolveOnce sync.Once
}

type confirmDecision struct {
	approved      bool
	updatedInput  map[string]any
	reason        string
}

// Pipeline executes tool calls for one turn at a time, honoring permission
// gating and cancellation. One Pipeline instance is shared by a session;
// per-call state lives only for the duration of execute_tools.
type Pipeline struct {
	registry *Registry
	router   *events.Router

	mu       sync.Mutex
	pending  map[string]*pendingConfirmation // tool_id -> waiting confirmation
	cancels  map[string]context.CancelFunc   // tool_id -> cancel func
	byTurn   map[string][]string             // turn_id -> []tool_id in flight
}

// NewPipeline binds a Pipeline to a tool registry and event router.
func NewPipeline(registry *Registry, router *events.Router) *Pipeline {
	return &Pipeline{
		registry: registry,
		router:   router,
		pending:  make(map[string]*pendingConfirmation),
		cancels:  make(map[string]context.CancelFunc),
		byTurn:   make(map[string][]string),
	}
}

// ExecuteTools runs calls for one round (§4.6). Results are returned in the
// same order as calls. The returned hasEndTurn flag is true iff exactly one
// call both ran successfully and carries should_end_turn=true.
func (p *Pipeline) ExecuteTools(ctx context.Context, sessionID, turnID string, calls []llm.ToolCallData, opts Options) ([]llm.ToolResult, bool) {
	n := len(calls)
	outcomes := make([]CallOutcome, n)
	argsByIdx := make([]map[string]any, n)
	toolByIdx := make([]Tool, n)

	// Step 1: validate.
	for i, call := range calls {
		tool := p.registry.Get(call.Name)
		if tool == nil {
			outcomes[i] = errorOutcome(call.ID, CategoryValidation, fmt.Sprintf("unknown tool: %s", call.Name))
			continue
		}
		if !IsAllowed(call.Name, opts.AllowedTools) {
			outcomes[i] = errorOutcome(call.ID, CategoryPermission, fmt.Sprintf("tool not allowed for this agent: %s", call.Name))
			continue
		}
		var args map[string]any
		if len(call.Arguments) > 0 {
			if err := json.Unmarshal(call.Arguments, &args); err != nil {
				outcomes[i] = errorOutcome(call.ID, CategoryValidation, fmt.Sprintf("failed to parse arguments: %s", err))
				continue
			}
		} else {
			args = make(map[string]any)
		}
		if err := tool.ValidateInput(args); err != nil {
			outcomes[i] = errorOutcome(call.ID, CategoryValidation, err.Error())
			continue
		}
		toolByIdx[i] = tool
		argsByIdx[i] = args
	}

	// Step 2: deduplicate should_end_turn. If >1 call would end the turn,
	// force all of them to error; none ends the turn this round.
	endTurnIdxs := make([]int, 0)
	for i, tool := range toolByIdx {
		if tool == nil {
			continue
		}
		if tool.ShouldEndTurn(argsByIdx[i]) {
			endTurnIdxs = append(endTurnIdxs, i)
		}
	}
	if len(endTurnIdxs) > 1 {
		for _, i := range endTurnIdxs {
			call := calls[i]
			outcomes[i] = errorOutcome(call.ID, CategoryValidation,
				"ambiguous turn end: more than one should_end_turn call in this round")
			toolByIdx[i] = nil
		}
	}

	// Step 3: grouping by concurrency safety.
	parallelIdxs := make([]int, 0)
	sequentialIdxs := make([]int, 0)
	for i, tool := range toolByIdx {
		if tool == nil {
			continue
		}
		if tool.IsReadOnly() && tool.IsConcurrencySafe(argsByIdx[i]) {
			parallelIdxs = append(parallelIdxs, i)
		} else {
			sequentialIdxs = append(sequentialIdxs, i)
		}
	}

	run := func(i int) {
		call := calls[i]
		tool := toolByIdx[i]
		args := argsByIdx[i]

		p.router.EmitKind(events.ToolCallStart, sessionID, turnID, map[string]any{
			"tool_name": call.Name, "call_id": call.ID,
		})

		// Step 4: permission gate.
		if opts.ConfirmBeforeRun && tool.NeedsPermissions(args) {
			decision, ok := p.awaitConfirmation(sessionID, turnID, call.ID, opts.ConfirmationTimeoutSecs)
			if !ok {
				outcomes[i] = errorOutcome(call.ID, CategoryCancelled, "confirmation timed out")
				p.router.EmitKind(events.ToolCallComplete, sessionID, turnID, map[string]any{
					"call_id": call.ID, "success": false,
				})
				return
			}
			if !decision.approved {
				reason := decision.reason
				if reason == "" {
					reason = "rejected by user"
				}
				outcomes[i] = errorOutcome(call.ID, CategoryPermission, reason)
				p.router.EmitKind(events.ToolCallComplete, sessionID, turnID, map[string]any{
					"call_id": call.ID, "success": false,
				})
				return
			}
			if decision.updatedInput != nil {
				args = decision.updatedInput
			}
		}

		// Step 5: execute with per-tool cancellation + timeout.
		callCtx, cancel := context.WithCancel(ctx)
		if opts.TimeoutSecs > 0 {
			var timeoutCancel context.CancelFunc
			callCtx, timeoutCancel = context.WithTimeout(callCtx, time.Duration(opts.TimeoutSecs)*time.Second)
			defer timeoutCancel()
		}
		p.registerCancel(turnID, call.ID, cancel)
		defer p.unregisterCancel(turnID, call.ID)

		execCtx := ExecContext{SessionID: sessionID, TurnID: turnID, TurnIndex: opts.TurnIndex, ToolID: call.ID, Env: opts.Env}
		result, err := runWithContext(callCtx, tool, execCtx, args)
		p.router.EmitKind(events.ToolCallComplete, sessionID, turnID, map[string]any{
			"call_id": call.ID, "success": err == nil && !result.IsError,
		})

		if callCtx.Err() == context.DeadlineExceeded {
			outcomes[i] = errorOutcome(call.ID, CategoryTimeout, "tool execution timed out")
			return
		}
		if callCtx.Err() == context.Canceled {
			outcomes[i] = errorOutcome(call.ID, CategoryCancelled, "tool execution cancelled")
			return
		}
		if err != nil {
			outcomes[i] = CallOutcome{
				Result: llm.ToolResult{ToolCallID: call.ID, Content: fmt.Sprintf("Tool error (%s): %s", call.Name, err), IsError: true},
			}
			return
		}

		content := result.ResultForAssistant
		if content == "" {
			content = result.Output
		}
		truncated := TruncateToolOutput(content, call.Name, opts.OutputLimits)
		outcomes[i] = CallOutcome{
			Result:        llm.ToolResult{ToolCallID: call.ID, Content: truncated, IsError: result.IsError},
			ShouldEndTurn: tool.ShouldEndTurn(args) && !result.IsError,
		}
	}

	if opts.Parallel && len(parallelIdxs) > 1 {
		var wg sync.WaitGroup
		wg.Add(len(parallelIdxs))
		for _, i := range parallelIdxs {
			go func(idx int) {
				defer wg.Done()
				run(idx)
			}(i)
		}
		wg.Wait()
	} else {
		for _, i := range parallelIdxs {
			run(i)
		}
	}
	for _, i := range sequentialIdxs {
		run(i)
	}

	results := make([]llm.ToolResult, n)
	endTurnCount := 0
	for i := range calls {
		results[i] = outcomes[i].Result
		if outcomes[i].ShouldEndTurn {
			endTurnCount++
		}
	}

	return results, endTurnCount == 1
}

func runWithContext(ctx context.Context, tool Tool, execCtx ExecContext, args map[string]any) (Result, error) {
	type out struct {
		res Result
		err error
	}
	done := make(chan out, 1)
	go func() {
		res, err := tool.Execute(execCtx, args)
		done <- out{res, err}
	}()
	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func errorOutcome(callID string, category ResultCategory, msg string) CallOutcome {
	return CallOutcome{
		Result: llm.ToolResult{ToolCallID: callID, Content: msg, IsError: true},
	}
}

// ConfirmTool resolves a pending permission-gated call with approval,
// optionally supplying an updated input.
func (p *Pipeline) ConfirmTool(toolID string, updatedInput map[string]any) error {
	return p.resolve(toolID, confirmDecision{approved: true, updatedInput: updatedInput})
}

// RejectTool resolves a pending permission-gated call with rejection.
func (p *Pipeline) RejectTool(toolID, reason string) error {
	return p.resolve(toolID, confirmDecision{approved: false, reason: reason})
}

func (p *Pipeline) resolve(toolID string, decision confirmDecision) error {
	p.mu.Lock()
	pc, ok := p.pending[toolID]
	p.mu.Unlock()
	if !ok {
		return errs.New(errs.NotFound, "no pending confirmation for tool_id: "+toolID)
	}
	pc.resolveOnce.Do(func() { pc.resolved <- decision })
	return nil
}

func (p *Pipeline) awaitConfirmation(sessionID, turnID, toolID string, timeoutSecs int) (confirmDecision, bool) {
	pc := &pendingConfirmation{resolved: make(chan confirmDecision, 1)}
	p.mu.Lock()
	p.pending[toolID] = pc
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, toolID)
		p.mu.Unlock()
	}()

	p.router.EmitKind(events.ToolConfirmationRequested, sessionID, turnID, map[string]any{
		"tool_id": toolID,
	})

	timeout := time.Duration(timeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	select {
	case d := <-pc.resolved:
		return d, true
	case <-time.After(timeout):
		return confirmDecision{}, false
	}
}

// CancelTool transitions a specific in-flight call to Cancelled.
func (p *Pipeline) CancelTool(turnID, toolID string) error {
	p.mu.Lock()
	cancel, ok := p.cancels[turnID+"|"+toolID]
	p.mu.Unlock()
	if !ok {
		return errs.New(errs.NotFound, "no in-flight call for tool_id: "+toolID)
	}
	cancel()
	return nil
}

// CancelDialogTurnTools cancels every in-flight call belonging to turnID.
func (p *Pipeline) CancelDialogTurnTools(turnID string) {
	p.mu.Lock()
	ids := append([]string(nil), p.byTurn[turnID]...)
	p.mu.Unlock()
	for _, toolID := range ids {
		_ = p.CancelTool(turnID, toolID)
	}
}

func (p *Pipeline) registerCancel(turnID, toolID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancels[turnID+"|"+toolID] = cancel
	p.byTurn[turnID] = append(p.byTurn[turnID], toolID)
}

func (p *Pipeline) unregisterCancel(turnID, toolID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cancels, turnID+"|"+toolID)
	ids := p.byTurn[turnID]
	for i, id := range ids {
		if id == toolID {
			p.byTurn[turnID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
}
