// ABOUTME: Context compression: preserve-recent + summarize-older, driven by
// ABOUTME: a dedicated "fast" model call, grounded on the coding agent's fidelity.go shape.
package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/relaykit/relay/llm"
)

// EstimateTokens is a cheap token estimator (chars/4, the convention the
// reference stack's catalog/cost code uses for budget checks when no
// tokenizer is wired up). It is intentionally crude: the compression
// algorithm only needs a monotonic proxy for "getting close to the
// context window", not exact counts.
func EstimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// EstimateMessageTokens sums the estimated token cost of a message list.
func EstimateMessageTokens(messages []llm.Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m.TextContent())
		for _, tc := range m.ToolCalls() {
			total += EstimateTokens(string(tc.Arguments)) + EstimateTokens(tc.Name)
		}
	}
	return total
}

// turnBoundary groups history entries into dense per-dialog-turn chunks so
// compression can decide "keep turns [k..]" rather than splitting mid-turn.
type turnBoundary struct {
	turnID string
	turns  []Turn
}

func groupByTurn(history []Turn) []turnBoundary {
	var groups []turnBoundary
	for _, t := range history {
		id := turnIDOf(t)
		if len(groups) == 0 || groups[len(groups)-1].turnID != id {
			groups = append(groups, turnBoundary{turnID: id, turns: []Turn{t}})
			continue
		}
		groups[len(groups)-1].turns = append(groups[len(groups)-1].turns, t)
	}
	return groups
}

func turnIDOf(t Turn) string {
	switch v := t.(type) {
	case UserTurn:
		return v.TurnID
	case AssistantTurn:
		return v.TurnID
	case ToolResultsTurn:
		return v.TurnID
	default:
		return ""
	}
}

// Summarizer is the narrow surface the Session Manager needs from an AI
// client to produce a compacted-history summary: a single non-streaming
// call bound to the "fast" model alias (§4.4 step 4, §6 "fast" alias).
type Summarizer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// CompressResult is returned from Compress; Ratio is informational only
// (used for the ContextCompressionCompleted event payload).
type CompressResult struct {
	Messages []Turn
	Ratio    float64
	Skipped  bool
}

// Compress implements the preserve-recent + summarize-older algorithm
// (§4.4). systemPrompt is included in the token budget but never itself
// compressed. target is the token budget to stay under, typically
// compression_threshold * context_window.
func Compress(ctx context.Context, summarizer Summarizer, history []Turn, systemPrompt string, target int) (CompressResult, error) {
	groups := groupByTurn(history)
	if len(groups) == 0 {
		return CompressResult{Messages: history, Skipped: true}, nil
	}

	systemTokens := EstimateTokens(systemPrompt)

	// Enumerate turns back-to-front, accumulating tokens, to find the
	// smallest turnIndexToKeep such that keeping groups[turnIndexToKeep:]
	// stays under target. No tokens are set aside for the summary.
	cumulative := systemTokens
	keepFrom := len(groups)
	for i := len(groups) - 1; i >= 0; i-- {
		groupTokens := EstimateMessageTokens(ConvertHistoryToMessages(groups[i].turns))
		if cumulative+groupTokens >= target {
			break
		}
		cumulative += groupTokens
		keepFrom = i
	}

	if keepFrom == 0 {
		// No benefit: keeping everything already fits.
		return CompressResult{Messages: history, Skipped: true}, nil
	}

	dropped := groups[:keepFrom]
	kept := groups[keepFrom:]

	var droppedTurns []Turn
	for _, g := range dropped {
		droppedTurns = append(droppedTurns, g.turns...)
	}
	originalTokens := EstimateMessageTokens(ConvertHistoryToMessages(droppedTurns))

	summaryText, err := summarizeViaFastModel(ctx, summarizer, droppedTurns)
	if err != nil {
		return CompressResult{}, fmt.Errorf("compression summarize call failed: %w", err)
	}

	var result []Turn
	result = append(result, SystemTurn{Content: summaryText})
	for _, g := range kept {
		result = append(result, g.turns...)
	}

	summaryTokens := EstimateTokens(summaryText)
	ratio := 0.0
	if originalTokens > 0 {
		ratio = 1.0 - float64(summaryTokens)/float64(originalTokens)
	}

	return CompressResult{Messages: result, Ratio: ratio}, nil
}

// summarizeViaFastModel issues the dedicated summarization call. On a nil
// Summarizer (tests with no AI client wired) it falls back to a
// deterministic textual digest so compression remains exercisable offline.
func summarizeViaFastModel(ctx context.Context, summarizer Summarizer, dropped []Turn) (string, error) {
	digest := buildDigest(dropped)
	if summarizer == nil {
		return digest, nil
	}

	req := llm.Request{
		Model: "fast",
		Messages: []llm.Message{
			llm.SystemMessage("Summarize the following conversation history into a compact prefix that preserves all facts and decisions a continuing assistant would need. Be terse."),
			llm.UserMessage(digest),
		},
	}
	resp, err := summarizer.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	text := resp.TextContent()
	if text == "" {
		return digest, nil
	}
	return text, nil
}

// buildDigest renders a plain-text transcript of the dropped turns, the
// input fed to the fast-model summarization call (and the fallback when no
// Summarizer is configured).
func buildDigest(turns []Turn) string {
	var b strings.Builder
	b.WriteString("[Earlier conversation]\n")
	for _, turn := range turns {
		switch t := turn.(type) {
		case UserTurn:
			fmt.Fprintf(&b, "User: %s\n", t.Content)
		case AssistantTurn:
			if t.Content != "" {
				fmt.Fprintf(&b, "Assistant: %s\n", t.Content)
			}
			for _, tc := range t.ToolCalls {
				fmt.Fprintf(&b, "Assistant called tool %s(%s)\n", tc.Name, string(tc.Arguments))
			}
		case ToolResultsTurn:
			for _, r := range t.Results {
				fmt.Fprintf(&b, "Tool result (%s): %s\n", r.ToolCallID, r.Content)
			}
		}
	}
	return b.String()
}
