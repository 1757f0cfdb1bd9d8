// ABOUTME: Execution Engine: drives a dialog turn through up to max_rounds
// ABOUTME: model rounds, invoking compression and appending history, grounded on agent/loop.go.
package engine

import (
	"context"
	"time"

	"github.com/relaykit/relay/errs"
	"github.com/relaykit/relay/events"
	"github.com/relaykit/relay/llm"
	"github.com/relaykit/relay/session"
	"github.com/relaykit/relay/toolpipeline"
)

// TurnInput is everything the engine needs to run one dialog turn.
type TurnInput struct {
	SessionID       string
	TurnID          string
	SystemPrompt    string
	Tools           []llm.ToolDefinition
	AllowedTools    []string
	Model           string
	Provider        string
	ReasoningEffort string
	IsSubagent      bool
	ToolOptions     toolpipeline.Options
}

// TurnOutput is the Execution Engine's result for one dialog turn.
type TurnOutput struct {
	FinalText string
	Stats     session.TurnStats
	History   []session.Turn // new entries appended during this turn
}

// Engine drives the per-turn round loop (§4.2).
type Engine struct {
	executor   *Executor
	router     *events.Router
	summarizer session.Summarizer
}

// NewEngine binds an Engine to its collaborators. summarizer may be nil;
// Compress falls back to a deterministic digest in that case.
func NewEngine(executor *Executor, router *events.Router, summarizer session.Summarizer) *Engine {
	return &Engine{executor: executor, router: router, summarizer: summarizer}
}

// IsActive reports whether a turn is still the session's active turn; the
// engine re-checks this between rounds as a cancellation checkpoint.
type IsActive func() bool

// RunTurn drives sess through rounds until has_more_rounds=false, max_rounds
// is hit, or cancellation is observed. New history entries are appended to
// sess as they're produced, in real time, so cancellation never loses data.
func (e *Engine) RunTurn(ctx context.Context, sess *session.Session, in TurnInput, isActive IsActive) (TurnOutput, error) {
	start := time.Now()
	rounds := 0
	toolCount := 0
	var lastUsage llm.Usage
	var lastText string

	e.router.EmitKind(events.DialogTurnStarted, in.SessionID, in.TurnID, nil)

	for {
		if rounds >= sess.Config.MaxRounds {
			break
		}
		if ctx.Err() != nil {
			return TurnOutput{}, context.Canceled
		}
		if isActive != nil && !isActive() {
			return TurnOutput{}, context.Canceled
		}

		history := sess.HistorySnapshot()
		messages := session.ConvertHistoryToMessages(history)

		allMessages := make([]llm.Message, 0, len(messages)+1)
		allMessages = append(allMessages, llm.SystemMessage(in.SystemPrompt))
		allMessages = append(allMessages, messages...)

		tokens := session.EstimateMessageTokens(allMessages)
		target := int(sess.Config.CompressionThreshold * float64(sess.Config.ContextWindow))

		if sess.Config.EnableCompression && sess.Config.ContextWindow > 0 && tokens >= target {
			e.router.EmitKind(events.ContextCompressionStarted, in.SessionID, in.TurnID, nil)
			result, err := session.Compress(ctx, e.summarizer, history, in.SystemPrompt, target)
			if err != nil {
				e.router.EmitKind(events.ContextCompressionFailed, in.SessionID, in.TurnID, map[string]any{"error": err.Error()})
			} else if !result.Skipped {
				sess.ReplaceHistory(result.Messages)
				sess.CompressionCount++
				e.router.EmitKind(events.ContextCompressionCompleted, in.SessionID, in.TurnID, map[string]any{
					"ratio": result.Ratio,
				})
				history = sess.HistorySnapshot()
				messages = session.ConvertHistoryToMessages(history)
				allMessages = append(allMessages[:0], llm.SystemMessage(in.SystemPrompt))
				allMessages = append(allMessages, messages...)
			}
		}

		rc := RoundContext{
			SessionID:       in.SessionID,
			TurnID:          in.TurnID,
			Messages:        allMessages,
			Tools:           in.Tools,
			AllowedTools:    in.AllowedTools,
			Model:           in.Model,
			Provider:        in.Provider,
			ReasoningEffort: in.ReasoningEffort,
			IsSubagent:      in.IsSubagent,
			ToolOptions:     in.ToolOptions,
		}

		result, err := e.executor.RunRound(ctx, rc)
		if err != nil {
			if ctx.Err() != nil {
				sess.CancelTurn()
				e.router.EmitKind(events.DialogTurnCancelled, in.SessionID, in.TurnID, nil)
				return TurnOutput{}, context.Canceled
			}
			recoverable := errs.Recoverable(err)
			sess.Fail(err.Error(), recoverable)
			e.router.EmitKind(events.Error, in.SessionID, in.TurnID, map[string]any{
				"error": err.Error(), "recoverable": recoverable,
			})
			return TurnOutput{}, err
		}

		sess.AppendTurn(result.Assistant)
		if len(result.ToolResults.Results) > 0 {
			sess.AppendTurn(result.ToolResults)
			toolCount += len(result.ToolResults.Results)
		}

		rounds++
		lastUsage = result.Usage
		lastText = result.Assistant.Content

		if !result.HasMoreRounds {
			break
		}
	}

	sess.CompleteTurn()
	stats := session.TurnStats{
		Rounds:   rounds,
		Tools:    toolCount,
		Duration: time.Since(start),
		Tokens:   lastUsage,
	}
	e.router.EmitKind(events.DialogTurnCompleted, in.SessionID, in.TurnID, map[string]any{
		"rounds": stats.Rounds, "tools": stats.Tools, "duration_ms": stats.Duration.Milliseconds(),
	})

	return TurnOutput{FinalText: lastText, Stats: stats}, nil
}
