// ABOUTME: execute_subagent (§4.1): creates a throwaway subagent session,
// ABOUTME: runs one dialog turn synchronously, and always releases its
// ABOUTME: resources on success or failure -- the cleanup guard invariant
// ABOUTME: grounded on agent/subagents.go's SubAgentManager.Spawn/Close and
// ABOUTME: the Rust original's CancelTokenGuard cleanup-on-drop pattern.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/relaykit/relay/engine"
	"github.com/relaykit/relay/errs"
	"github.com/relaykit/relay/events"
	"github.com/relaykit/relay/registry"
	"github.com/relaykit/relay/session"
	"github.com/relaykit/relay/toolpipeline"
)

// ParentInfo correlates a subagent's events back to the turn that spawned
// it (§3 Event entity, GLOSSARY "Subagent").
type ParentInfo struct {
	ParentSessionID string
	ParentTurnID    string
}

// SubagentResult is execute_subagent's return value (§4.1).
type SubagentResult struct {
	Text        string
	EndTurnArgs map[string]any
}

// ExecuteSubagent creates a throwaway session bound to agentType, runs one
// dialog turn on it to completion, and always tears the session down --
// success or failure -- so its resources (session directory + file
// snapshots) never leak. The parent's cancelCtx is the root: cancelling it
// cancels the subagent turn immediately (parent cancel chains to child).
func (c *Coordinator) ExecuteSubagent(cancelCtx context.Context, agentType, task string, parent ParentInfo) (SubagentResult, error) {
	agent, ok := c.deps.Registry.GetAgent(agentType)
	if !ok {
		return SubagentResult{}, errs.New(errs.Validation, fmt.Sprintf("unknown agent type: %s", agentType))
	}

	cfg := session.DefaultConfig()
	sess, err := c.deps.Sessions.Create(agentType, cfg, "")
	if err != nil {
		return SubagentResult{}, err
	}
	defer func() {
		// Cleanup guard: always release the subagent's session + snapshot
		// resources, whether the turn below succeeds or fails.
		_ = c.deps.Sessions.Delete(sess.ID)
	}()

	_, store, _, err := c.deps.Sessions.Get(sess.ID)
	if err != nil {
		return SubagentResult{}, err
	}

	turnID := newID("subturn")
	userTurn := session.UserTurn{Content: task, TurnID: turnID, Timestamp: time.Now()}
	sess.AppendTurn(userTurn)
	turnIndex := sess.BeginTurn(turnID)

	allTools := c.deps.ToolRegistry.Definitions()
	toolDefs := filterDefinitions(allTools, agent.DefaultTools)

	in := engine.TurnInput{
		SessionID:    sess.ID,
		TurnID:       turnID,
		SystemPrompt: registry.RenderSystemPrompt(agent, c.deps.Registry.Rules()),
		Tools:        toolDefs,
		AllowedTools: agent.DefaultTools,
		Model:        agent.ModelID,
		IsSubagent:   true,
		ToolOptions: toolpipeline.Options{
			AllowedTools:            agent.DefaultTools,
			ConfirmBeforeRun:        false, // a subagent has no one to ask for confirmation
			TimeoutSecs:             cfg.DefaultCommandTimeoutMs / 1000,
			ConfirmationTimeoutSecs: 1,
			Parallel:                true,
			TurnIndex:               turnIndex,
			Env:                     c.deps.Env,
		},
	}

	result, runErr := c.deps.Engine.RunTurn(cancelCtx, sess, in, func() bool {
		return cancelCtx.Err() == nil
	})
	recordHistoryFrom(store, sess, 0)

	if parent.ParentSessionID != "" {
		kind := events.DialogTurnCompleted
		if runErr != nil {
			kind = events.DialogTurnFailed
		}
		c.deps.Router.Emit(events.Event{
			Kind: kind, Priority: events.High, SessionID: parent.ParentSessionID, TurnID: parent.ParentTurnID,
			Parent: &events.ParentInfo{ParentSessionID: parent.ParentSessionID, ParentTurnID: parent.ParentTurnID},
			Data:   map[string]any{"subagent_type": agentType},
		})
	}

	if runErr != nil {
		return SubagentResult{}, runErr
	}
	return SubagentResult{Text: result.FinalText}, nil
}
