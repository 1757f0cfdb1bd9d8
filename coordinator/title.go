// ABOUTME: Asynchronous session-title generation, fired once a session's
// ABOUTME: first turn completes, grounded on the reference runtime's
// ABOUTME: post-first-exchange title-generator session shape.
package coordinator

import (
	"context"
	"strings"

	"github.com/relaykit/relay/events"
	"github.com/relaykit/relay/llm"
	"github.com/relaykit/relay/persistence"
	"github.com/relaykit/relay/registry"
	"github.com/relaykit/relay/session"
)

const maxTitleChars = 60

// maybeGenerateTitle kicks off title generation in the background the first
// time a session completes its first turn with no title recorded yet.
// Fire-and-forget by design: a slow or failing title call must never hold
// up the turn it was triggered by.
func (c *Coordinator) maybeGenerateTitle(sess *session.Session, store *persistence.Store, turnIndex int) {
	if c.deps.TitleGenerator == nil || turnIndex != 0 {
		return
	}
	meta, err := store.LoadMetadata()
	if err != nil || meta.Title != "" {
		return
	}

	firstUser := firstUserTurnText(sess.HistorySnapshot())
	if firstUser == "" {
		return
	}

	go func() {
		title, err := c.generateTitle(firstUser)
		if err != nil || title == "" {
			return
		}
		meta, err := store.LoadMetadata()
		if err != nil {
			return
		}
		meta.Title = title
		_ = store.SaveMetadata(meta)
		c.deps.Router.EmitKind(events.SessionTitleGenerated, sess.ID, "", map[string]any{"title": title})
	}()
}

// generateTitle asks the bound TitleGenerator for a short title, reusing
// the registered "title-generator" agent's own system prompt rather than
// duplicating it here.
func (c *Coordinator) generateTitle(firstUserMessage string) (string, error) {
	systemPrompt := "Generate a short, human-readable title (at most eight words) for a session."
	if agent, ok := c.deps.Registry.GetAgent("title-generator"); ok {
		systemPrompt = registry.ResolveSystemPrompt(agent)
	}

	req := llm.Request{
		Model: "fast",
		Messages: []llm.Message{
			llm.SystemMessage(systemPrompt),
			llm.UserMessage(firstUserMessage),
		},
	}
	resp, err := c.deps.TitleGenerator.Complete(context.Background(), req)
	if err != nil {
		return "", err
	}

	title := strings.TrimSpace(resp.TextContent())
	if len(title) > maxTitleChars {
		title = title[:maxTitleChars]
	}
	return title, nil
}

func firstUserTurnText(history []session.Turn) string {
	for _, t := range history {
		if ut, ok := t.(session.UserTurn); ok {
			return stripQueryTags(ut.Content)
		}
	}
	return ""
}

// stripQueryTags removes the <user_query> wrapper wrapUserInput applies for
// the default agent, so the title prompt sees the raw user text.
func stripQueryTags(s string) string {
	s = strings.TrimPrefix(s, "<user_query>")
	s = strings.TrimSuffix(s, "</user_query>")
	return s
}
