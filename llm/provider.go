// ABOUTME: ProviderAdapter interface shared by every vendor adapter, plus the
// ABOUTME: message-shaping helpers (system extraction, role merging, call IDs)
// ABOUTME: adapters built on top of it share regardless of wire format.

package llm

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
)

// ProviderAdapter is the interface that all LLM provider adapters must implement.
// It provides a uniform way to send completion and streaming requests to different
// LLM providers (OpenAI, Anthropic, Gemini, etc.).
type ProviderAdapter interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
	Stream(ctx context.Context, req Request) (<-chan StreamEvent, error)
	Close() error
}

// Initializer is an optional interface that adapters may implement to perform
// one-time setup (validating credentials, warming caches, etc.).
type Initializer interface {
	Initialize() error
}

// ToolChoiceChecker is an optional interface that adapters may implement to
// indicate which tool choice modes they support.
type ToolChoiceChecker interface {
	SupportsToolChoice(mode string) bool
}

// ExtractSystemMessages separates system and developer role messages from the rest.
// It concatenates the text content of all system/developer messages (joined by newlines)
// and returns them along with the remaining non-system messages.
func ExtractSystemMessages(messages []Message) (systemText string, remaining []Message) {
	var systemParts []string

	for _, msg := range messages {
		if msg.Role == RoleSystem || msg.Role == RoleDeveloper {
			text := msg.TextContent()
			if text != "" {
				systemParts = append(systemParts, text)
			}
		} else {
			remaining = append(remaining, msg)
		}
	}

	systemText = strings.Join(systemParts, "\n")
	return systemText, remaining
}

// MergeConsecutiveMessages combines consecutive messages with the same role by
// appending their content arrays. This is required for providers like Anthropic
// that enforce strict message role alternation.
func MergeConsecutiveMessages(messages []Message) []Message {
	if len(messages) == 0 {
		return nil
	}

	result := []Message{
		{
			Role:    messages[0].Role,
			Content: append([]ContentPart(nil), messages[0].Content...),
			Name:    messages[0].Name,
		},
	}

	for i := 1; i < len(messages); i++ {
		last := &result[len(result)-1]
		if messages[i].Role == last.Role {
			last.Content = append(last.Content, messages[i].Content...)
		} else {
			result = append(result, Message{
				Role:    messages[i].Role,
				Content: append([]ContentPart(nil), messages[i].Content...),
				Name:    messages[i].Name,
			})
		}
	}

	return result
}

// GenerateCallID produces a unique identifier for tool calls, prefixed with "call_".
// This is used for providers like Gemini that do not assign their own tool call IDs.
func GenerateCallID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return fmt.Sprintf("call_%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}
