// ABOUTME: Provider-agnostic stream parser: accumulates token events into a
// ABOUTME: Response, emitting incremental TextChunk events, grounded on agent/stream.go.
package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/relaykit/relay/events"
	"github.com/relaykit/relay/llm"
)

// textChunkFlushThreshold batches text deltas before emitting a TextChunk
// event, matching the reference loop's deltaFlushThreshold.
const textChunkFlushThreshold = 200

// accumulator gathers incremental stream data for assembly into an
// *llm.Response once the stream ends (§4.3.1).
type accumulator struct {
	fullText          string
	fullThinking      string
	thinkingSignature string

	toolCalls       []llm.ToolCallData
	currentToolID   string
	currentToolName string
	currentToolArgs string

	finishReason *llm.FinishReason
	usage        *llm.Usage

	responseID string
	model      string
	provider   string
}

// ConsumeStream reads every event from stream, emits TextChunk/ReasoningChunk
// events via router, and returns the assembled Response. On first tool-call
// delta it flushes any buffered text first, matching the ordering contract.
func ConsumeStream(ctx context.Context, router *events.Router, sessionID, turnID string, stream <-chan llm.StreamEvent) (*llm.Response, error) {
	acc := &accumulator{}
	pending := ""

	flush := func() {
		if pending == "" {
			return
		}
		router.EmitKind(events.TextChunk, sessionID, turnID, map[string]any{"text": pending})
		pending = ""
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case ev, ok := <-stream:
			if !ok {
				flush()
				return buildResponse(acc), nil
			}

			switch ev.Type {
			case llm.StreamStart:
				// nothing to accumulate

			case llm.StreamTextStart:
				// boundary marker only

			case llm.StreamTextDelta:
				acc.fullText += ev.Delta
				pending += ev.Delta
				if len(pending) >= textChunkFlushThreshold {
					flush()
				}

			case llm.StreamTextEnd:
				flush()

			case llm.StreamReasonStart:
				flush()

			case llm.StreamReasonDelta:
				acc.fullThinking += ev.ReasoningDelta
				router.EmitKind(events.ReasoningChunk, sessionID, turnID, map[string]any{"text": ev.ReasoningDelta})

			case llm.StreamReasonEnd:
				// boundary marker only

			case llm.StreamToolStart:
				// Flush any in-progress text before the tool-call boundary
				// (the event-order contract in §4.3.1).
				flush()
				if ev.ToolCall != nil {
					acc.currentToolID = ev.ToolCall.ID
					acc.currentToolName = ev.ToolCall.Name
					acc.currentToolArgs = ""
				}

			case llm.StreamToolDelta:
				acc.currentToolArgs += ev.Delta

			case llm.StreamToolEnd:
				acc.toolCalls = append(acc.toolCalls, llm.ToolCallData{
					ID:        acc.currentToolID,
					Name:      acc.currentToolName,
					Arguments: parseToolArguments(acc.currentToolArgs),
				})
				acc.currentToolID = ""
				acc.currentToolName = ""
				acc.currentToolArgs = ""

			case llm.StreamFinish:
				flush()
				if ev.FinishReason != nil {
					acc.finishReason = ev.FinishReason
				}
				if ev.Usage != nil {
					acc.usage = ev.Usage
				}
				if ev.Response != nil {
					acc.responseID = ev.Response.ID
					acc.model = ev.Response.Model
					acc.provider = ev.Response.Provider
				}

			case llm.StreamErrorEvt:
				flush()
				if ev.Error != nil {
					return nil, fmt.Errorf("stream error: %w", ev.Error)
				}
				return nil, fmt.Errorf("stream error: unknown")

			case llm.StreamProviderEvt:
				// passed through without accumulation
			}
		}
	}
}

// parseToolArguments keeps malformed JSON as the literal string, deferring
// the error to the Tool Pipeline's own validation (§4.3.1 error policy).
func parseToolArguments(raw string) json.RawMessage {
	var probe json.RawMessage
	if json.Unmarshal([]byte(raw), &probe) == nil {
		return json.RawMessage(raw)
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return json.RawMessage(raw)
	}
	return encoded
}

func buildResponse(acc *accumulator) *llm.Response {
	var parts []llm.ContentPart

	if acc.fullThinking != "" {
		parts = append(parts, llm.ContentPart{
			Kind:     llm.ContentThinking,
			Thinking: &llm.ThinkingData{Text: acc.fullThinking, Signature: acc.thinkingSignature},
		})
	}
	if acc.fullText != "" {
		parts = append(parts, llm.TextPart(acc.fullText))
	}
	for _, tc := range acc.toolCalls {
		parts = append(parts, llm.ToolCallPart(tc.ID, tc.Name, tc.Arguments))
	}

	finishReason := llm.FinishReason{}
	if acc.finishReason != nil {
		finishReason = *acc.finishReason
	}
	usage := llm.Usage{}
	if acc.usage != nil {
		usage = *acc.usage
	}

	return &llm.Response{
		ID:           acc.responseID,
		Model:        acc.model,
		Provider:     acc.provider,
		Message:      llm.Message{Role: llm.RoleAssistant, Content: parts},
		FinishReason: finishReason,
		Usage:        usage,
	}
}
