package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/relaykit/relay/engine"
	"github.com/relaykit/relay/events"
	"github.com/relaykit/relay/llm"
	"github.com/relaykit/relay/registry"
	"github.com/relaykit/relay/session"
	"github.com/relaykit/relay/toolpipeline"
)

// fakeSummarizer always returns a fixed title, recording the last request
// it was asked to complete.
type fakeSummarizer struct {
	title   string
	lastReq llm.Request
}

func (f *fakeSummarizer) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	f.lastReq = req
	return &llm.Response{Message: llm.AssistantMessage(f.title)}, nil
}

func TestStripQueryTagsRemovesWrapper(t *testing.T) {
	got := stripQueryTags("<user_query>fix the bug</user_query>")
	if got != "fix the bug" {
		t.Fatalf("expected unwrapped text, got %q", got)
	}
}

func TestFirstUserTurnTextFindsFirstUserEntry(t *testing.T) {
	history := []session.Turn{
		session.AssistantTurn{Content: "ignored"},
		session.UserTurn{Content: "<user_query>what does this do</user_query>"},
		session.UserTurn{Content: "second message"},
	}
	got := firstUserTurnText(history)
	if got != "what does this do" {
		t.Fatalf("expected first user turn unwrapped, got %q", got)
	}
}

func TestMaybeGenerateTitleSkipsWhenNoTitleGenerator(t *testing.T) {
	sessions := NewSessionManager(t.TempDir(), t.TempDir(), 0, 0)
	reg := registry.NewBuiltinRegistry()
	router := events.NewRouter()
	coord := New(Deps{Sessions: sessions, Registry: reg, Router: router})

	sess, err := sessions.Create("default", session.DefaultConfig(), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	_, store, _, err := sessions.Get(sess.ID)
	if err != nil {
		t.Fatal(err)
	}

	// Should not panic and should return immediately with no generator bound.
	coord.maybeGenerateTitle(sess, store, 0)
}

func TestStartDialogTurnGeneratesTitleAfterFirstTurn(t *testing.T) {
	adapter := &streamAdapter{sequences: [][]llm.StreamEvent{textOnlySequence("hi back")}}
	client := llm.NewClient(llm.WithProvider("fake", adapter))

	router := events.NewRouter()
	toolRegistry := toolpipeline.NewRegistry()
	pipeline := toolpipeline.NewPipeline(toolRegistry, router)
	executor := engine.NewExecutor(client, pipeline, router)
	eng := engine.NewEngine(executor, router, nil)

	sessions := NewSessionManager(t.TempDir(), t.TempDir(), 0, 0)
	reg := registry.NewBuiltinRegistry()
	summarizer := &fakeSummarizer{title: "Explain the bug"}

	coord := New(Deps{
		Sessions:       sessions,
		Registry:       reg,
		ToolRegistry:   toolRegistry,
		Pipeline:       pipeline,
		Engine:         eng,
		Router:         router,
		TitleGenerator: summarizer,
	})

	sess, err := sessions.Create("default", session.DefaultConfig(), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	sub := router.SubscribeExternal(sess.ID)
	defer router.Unsubscribe(sess.ID)

	if err := coord.StartDialogTurn(context.Background(), StartTurnInput{
		SessionID: sess.ID, UserInput: "why does this fail", AgentType: "default",
	}); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sub:
			if ev.Kind == events.SessionTitleGenerated {
				title, _ := ev.Data["title"].(string)
				if title != "Explain the bug" {
					t.Fatalf("expected title %q, got %q", "Explain the bug", title)
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for session_title_generated event")
		}
	}
}
