// ABOUTME: Round Executor: one request/stream-response pair against the model
// ABOUTME: plus any tool calls it emits, grounded on agent/loop.go's per-round dispatch.
package engine

import (
	"context"
	"time"

	"github.com/relaykit/relay/events"
	"github.com/relaykit/relay/llm"
	"github.com/relaykit/relay/session"
	"github.com/relaykit/relay/toolpipeline"
)

// RoundContext is the set of inputs a single model round needs.
type RoundContext struct {
	SessionID     string
	TurnID        string
	Messages      []llm.Message
	Tools         []llm.ToolDefinition
	AllowedTools  []string
	Model         string
	Provider      string
	ReasoningEffort string
	IsSubagent    bool
	ToolOptions   toolpipeline.Options
}

// RoundResult is what the Execution Engine appends to history.
type RoundResult struct {
	Assistant     session.AssistantTurn
	ToolResults   session.ToolResultsTurn
	HasMoreRounds bool
	Usage         llm.Usage
}

// Executor runs single model rounds against an llm.Client, a Tool Pipeline,
// and an event Router.
type Executor struct {
	client   *llm.Client
	pipeline *toolpipeline.Pipeline
	router   *events.Router
}

// NewExecutor binds an Executor to its collaborators.
func NewExecutor(client *llm.Client, pipeline *toolpipeline.Pipeline, router *events.Router) *Executor {
	return &Executor{client: client, pipeline: pipeline, router: router}
}

// RunRound executes exactly one model round (§4.3).
func (e *Executor) RunRound(ctx context.Context, rc RoundContext) (RoundResult, error) {
	e.router.EmitKind(events.ModelRoundStarted, rc.SessionID, rc.TurnID, nil)

	req := llm.Request{
		Model:           rc.Model,
		Provider:        rc.Provider,
		Messages:        rc.Messages,
		Tools:           rc.Tools,
		ToolChoice:      &llm.ToolChoice{Mode: llm.ToolChoiceAuto},
		ReasoningEffort: rc.ReasoningEffort,
	}

	stream, err := e.client.Stream(ctx, req)
	if err != nil {
		return RoundResult{}, err
	}

	response, err := ConsumeStream(ctx, e.router, rc.SessionID, rc.TurnID, stream)
	if err != nil {
		return RoundResult{}, err
	}

	e.router.EmitKind(events.ModelRoundCompleted, rc.SessionID, rc.TurnID, nil)
	if !rc.IsSubagent {
		e.router.EmitKind(events.TokenUsageUpdated, rc.SessionID, rc.TurnID, map[string]any{
			"input_tokens":  response.Usage.InputTokens,
			"output_tokens": response.Usage.OutputTokens,
			"total_tokens":  response.Usage.TotalTokens,
		})
	}

	toolCalls := response.ToolCalls()
	textContent := response.TextContent()
	reasoning := response.Reasoning()

	assistant := session.AssistantTurn{
		Content:    textContent,
		ToolCalls:  toolCalls,
		Reasoning:  reasoning,
		Usage:      response.Usage,
		ResponseID: response.ID,
		TurnID:     rc.TurnID,
		Timestamp:  time.Now(),
	}

	if len(toolCalls) == 0 {
		return RoundResult{Assistant: assistant, HasMoreRounds: false, Usage: response.Usage}, nil
	}

	if ctx.Err() != nil {
		return RoundResult{}, ctx.Err()
	}

	results, hasEndTurn := e.pipeline.ExecuteTools(ctx, rc.SessionID, rc.TurnID, toolCalls, rc.ToolOptions)
	toolResultsTurn := session.ToolResultsTurn{Results: results, TurnID: rc.TurnID, Timestamp: time.Now()}

	return RoundResult{
		Assistant:     assistant,
		ToolResults:   toolResultsTurn,
		HasMoreRounds: !hasEndTurn,
		Usage:         response.Usage,
	}, nil
}
