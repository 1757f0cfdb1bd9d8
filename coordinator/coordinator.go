// ABOUTME: Conversation Coordinator (§4.1): the single entry point for
// ABOUTME: starting a dialog turn, cancelling one, running a subagent task,
// ABOUTME: and forwarding tool confirm/reject/cancel. Grounded on
// ABOUTME: spec/core/actor.go's command-channel/cancellation-map idiom and
// ABOUTME: agent/subagents.go's cleanup-guard lifecycle.
package coordinator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaykit/relay/engine"
	"github.com/relaykit/relay/errs"
	"github.com/relaykit/relay/events"
	"github.com/relaykit/relay/llm"
	"github.com/relaykit/relay/persistence"
	"github.com/relaykit/relay/registry"
	"github.com/relaykit/relay/session"
	"github.com/relaykit/relay/toolpipeline"
)

// Deps bundles the collaborators a Coordinator is built from. Per §9's
// design note on cyclic references, Coordinator depends downward on all of
// these; none of them hold a reference back up to Coordinator.
type Deps struct {
	Sessions       *SessionManager
	Registry       *registry.Registry
	ToolRegistry   *toolpipeline.Registry
	Pipeline       *toolpipeline.Pipeline
	Engine         *engine.Engine
	Router         *events.Router
	Env            any // concrete *workspace.Environment, threaded into tool execution
	TitleGenerator session.Summarizer // optional; nil disables automatic session titling
}

// Coordinator enforces the session state machine and owns per-turn
// cancellation tokens (§4.1, §5).
type Coordinator struct {
	deps Deps

	mu      sync.Mutex
	cancels map[string]context.CancelFunc // turn_id -> cancel
}

// New builds a Coordinator bound to deps.
func New(deps Deps) *Coordinator {
	return &Coordinator{deps: deps, cancels: make(map[string]context.CancelFunc)}
}

// StartTurnInput is start_dialog_turn's argument set (§4.1).
type StartTurnInput struct {
	SessionID string
	UserInput string
	TurnID    string // optional; generated if empty
	AgentType string
}

// StartDialogTurn validates the gate, wraps the input, flips the session to
// Processing, emits SessionStateChanged, and spawns the execution task
// (whose Engine.RunTurn emits DialogTurnStarted). It
// returns as soon as the turn has been accepted -- results are reported
// purely through the event router.
func (c *Coordinator) StartDialogTurn(ctx context.Context, in StartTurnInput) error {
	sess, store, _, err := c.deps.Sessions.Get(in.SessionID)
	if err != nil {
		return err
	}

	agent, ok := c.deps.Registry.GetAgent(in.AgentType)
	if !ok {
		return errs.New(errs.Validation, fmt.Sprintf("unknown agent type: %s", in.AgentType))
	}

	if err := sess.Gate(); err != nil {
		return errs.Wrap(errs.Validation, "state does not allow new dialog", err)
	}

	// Restore heuristic (§4.1): an in-memory history of zero entries, or
	// exactly one entry when turns have already been recorded, means the
	// cached session never got its history loaded -- reload from disk.
	history := sess.HistorySnapshot()
	if len(history) == 0 || (len(history) == 1 && len(sess.TurnIDsSnapshot()) > 0) {
		if reloaded, err := store.LoadMessages(); err == nil && len(reloaded) > 0 {
			sess.ReplaceHistory(reloaded)
		}
	}

	turnID := in.TurnID
	if turnID == "" {
		turnID = newID("turn")
	}

	wrapped := wrapUserInput(agent, in.UserInput)
	userTurn := session.UserTurn{Content: wrapped, TurnID: turnID, Timestamp: time.Now()}
	sess.AppendTurn(userTurn)
	_ = store.AppendMessage(userTurn)

	turnIndex := sess.BeginTurn(turnID)
	c.deps.Router.EmitKind(events.SessionStateChanged, in.SessionID, turnID, map[string]any{"state": "processing"})

	turnCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancels[turnID] = cancel
	c.mu.Unlock()

	log.Printf("component=coordinator action=start_turn session_id=%s turn_id=%s agent_type=%s", in.SessionID, turnID, in.AgentType)

	go c.runTurn(turnCtx, sess, store, agent, turnID, turnIndex)
	return nil
}

// recordHistoryFrom persists every history entry from fromIdx onward to
// store.messages.jsonl, used after a turn completes so the append-only log
// reflects what the engine appended in memory in real time.
func recordHistoryFrom(store *persistence.Store, sess *session.Session, fromIdx int) {
	history := sess.HistorySnapshot()
	for i := fromIdx; i < len(history); i++ {
		_ = store.AppendMessage(history[i])
	}
}

// wrapUserInput applies the default agent's <user_query> wrapping (§4.1).
// Other agents' input passes through unchanged, and no <system_reminder>
// block is appended: Agent carries no reminder text.
func wrapUserInput(agent *registry.Agent, input string) string {
	wrapped := input
	if agent.ID == "default" {
		wrapped = fmt.Sprintf("<user_query>%s</user_query>", input)
	}
	return wrapped
}

func (c *Coordinator) runTurn(ctx context.Context, sess *session.Session, store *persistence.Store, agent *registry.Agent, turnID string, turnIndex int) {
	defer c.cleanupCancelToken(turnID)

	allTools := c.deps.ToolRegistry.Definitions()
	toolDefs := filterDefinitions(allTools, agent.DefaultTools)

	historyBefore := len(sess.HistorySnapshot())

	toolOpts := toolpipeline.Options{
		AllowedTools:            agent.DefaultTools,
		ConfirmBeforeRun:        true,
		TimeoutSecs:             sess.Config.DefaultCommandTimeoutMs / 1000,
		ConfirmationTimeoutSecs: 30,
		Parallel:                true,
		OutputLimits:            sess.Config.ToolOutputLimits,
		TurnIndex:               turnIndex,
		Env:                     c.deps.Env,
	}

	in := engine.TurnInput{
		SessionID:    sess.ID,
		TurnID:       turnID,
		SystemPrompt: registry.RenderSystemPrompt(agent, c.deps.Registry.Rules()),
		Tools:        toolDefs,
		AllowedTools: agent.DefaultTools,
		Model:        agent.ModelID,
		ToolOptions:  toolOpts,
	}

	isActive := func() bool {
		status := sess.CurrentStatus()
		return status.State == session.Processing && status.TurnID == turnID
	}

	start := time.Now()
	out, err := c.deps.Engine.RunTurn(ctx, sess, in, isActive)
	recordHistoryFrom(store, sess, historyBefore)

	turnState := session.TurnCompleted
	if err != nil {
		if ctx.Err() != nil {
			turnState = session.TurnCancelled
		} else {
			turnState = session.TurnFailed
		}
		log.Printf("component=coordinator action=turn_ended session_id=%s turn_id=%s error=%v", sess.ID, turnID, err)
	}

	completedAt := time.Now()
	_ = store.SaveTurn(session.DialogTurn{
		TurnID: turnID, SessionID: sess.ID, TurnIndex: turnIndex,
		State: turnState, FinalText: out.FinalText, Stats: out.Stats,
		CreatedAt: start, CompletedAt: completedAt,
	})
	c.deps.Sessions.IndexTurn(persistence.TurnRow{
		TurnID: turnID, SessionID: sess.ID, TurnIndex: turnIndex,
		UserInput: userTurnText(sess.HistorySnapshot(), turnID), State: string(turnState),
		CreatedAt: start.Format(time.RFC3339), CompletedAt: completedAt.Format(time.RFC3339),
	})
	_ = c.deps.Sessions.Persist(sess, store)

	if turnState == session.TurnCompleted {
		c.maybeGenerateTitle(sess, store, turnIndex)
	}
}

func (c *Coordinator) cleanupCancelToken(turnID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cancels, turnID)
}

// CancelDialogTurn implements §4.1's two-phase cancel: phase 1 flips the
// session synchronously back to Idle so a new turn can start immediately;
// phase 2 triggers the turn's cancellation token and cancels any in-flight
// tool calls in the background. The still-running round discovers the
// cancellation at its next checkpoint and discards late output.
func (c *Coordinator) CancelDialogTurn(sessionID, turnID string) error {
	sess, _, _, err := c.deps.Sessions.Get(sessionID)
	if err != nil {
		return err
	}

	sess.CancelTurn()
	c.deps.Router.EmitKind(events.SessionStateChanged, sessionID, turnID, map[string]any{"state": "idle"})

	c.mu.Lock()
	cancel, ok := c.cancels[turnID]
	c.mu.Unlock()

	go func() {
		if ok {
			cancel()
		}
		c.deps.Pipeline.CancelDialogTurnTools(turnID)
	}()

	return nil
}

// ConfirmTool, RejectTool, CancelTool are thin forwards to the Tool
// Pipeline (§4.1).
func (c *Coordinator) ConfirmTool(toolID string, updatedInput map[string]any) error {
	return c.deps.Pipeline.ConfirmTool(toolID, updatedInput)
}

func (c *Coordinator) RejectTool(toolID, reason string) error {
	return c.deps.Pipeline.RejectTool(toolID, reason)
}

func (c *Coordinator) CancelTool(turnID, toolID string) error {
	return c.deps.Pipeline.CancelTool(turnID, toolID)
}

// userTurnText finds the UserTurn that started turnID, for the index cache's
// turn-listing preview column.
func userTurnText(history []session.Turn, turnID string) string {
	for _, t := range history {
		if ut, ok := t.(session.UserTurn); ok && ut.TurnID == turnID {
			return stripQueryTags(ut.Content)
		}
	}
	return ""
}

func filterDefinitions(all []llm.ToolDefinition, allowed []string) []llm.ToolDefinition {
	if allowed == nil {
		return all
	}
	set := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		set[a] = true
	}
	out := make([]llm.ToolDefinition, 0, len(allowed))
	for _, d := range all {
		if set[d.Name] {
			out = append(out, d)
		}
	}
	return out
}

var idCounter uint64

func newID(prefix string) string {
	n := atomic.AddUint64(&idCounter, 1)
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), n)
}
