package engine

import (
	"context"
	"testing"

	"github.com/relaykit/relay/events"
	"github.com/relaykit/relay/llm"
	"github.com/relaykit/relay/session"
	"github.com/relaykit/relay/toolpipeline"
)

// fakeAdapter is a real, minimal llm.ProviderAdapter that replays a
// pre-scripted sequence of stream events per call, used to drive the
// Execution Engine deterministically without mocks.
type fakeAdapter struct {
	rounds  [][]llm.StreamEvent
	callIdx int
}

func (f *fakeAdapter) Name() string { return "fake" }
func (f *fakeAdapter) Close() error { return nil }
func (f *fakeAdapter) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return &llm.Response{Message: llm.Message{Role: llm.RoleAssistant, Content: []llm.ContentPart{llm.TextPart("[summary]")}}}, nil
}
func (f *fakeAdapter) Stream(ctx context.Context, req llm.Request) (<-chan llm.StreamEvent, error) {
	idx := f.callIdx
	if idx >= len(f.rounds) {
		idx = len(f.rounds) - 1
	}
	f.callIdx++
	ch := make(chan llm.StreamEvent, len(f.rounds[idx])+1)
	for _, ev := range f.rounds[idx] {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func textOnlyRound(text string) []llm.StreamEvent {
	return []llm.StreamEvent{
		{Type: llm.StreamTextStart},
		{Type: llm.StreamTextDelta, Delta: text},
		{Type: llm.StreamTextEnd},
		{Type: llm.StreamFinish, FinishReason: &llm.FinishReason{}, Usage: &llm.Usage{TotalTokens: 10}},
	}
}

func toolCallRound(toolName, toolID string, args string) []llm.StreamEvent {
	return []llm.StreamEvent{
		{Type: llm.StreamToolStart, ToolCall: &llm.ToolCall{ID: toolID, Name: toolName}},
		{Type: llm.StreamToolDelta, Delta: args},
		{Type: llm.StreamToolEnd},
		{Type: llm.StreamFinish, FinishReason: &llm.FinishReason{}, Usage: &llm.Usage{TotalTokens: 5}},
	}
}

type fakeTool struct {
	endsTurn bool
}

func (f *fakeTool) Definition() llm.ToolDefinition { return llm.ToolDefinition{Name: "finish"} }
func (f *fakeTool) ValidateInput(args map[string]any) error    { return nil }
func (f *fakeTool) IsConcurrencySafe(args map[string]any) bool { return false }
func (f *fakeTool) IsReadOnly() bool                           { return false }
func (f *fakeTool) NeedsPermissions(args map[string]any) bool  { return false }
func (f *fakeTool) ShouldEndTurn(args map[string]any) bool     { return f.endsTurn }
func (f *fakeTool) Execute(ctx toolpipeline.ExecContext, args map[string]any) (toolpipeline.Result, error) {
	return toolpipeline.Result{Output: "finished"}, nil
}

func TestHappyPathOneRound(t *testing.T) {
	adapter := &fakeAdapter{rounds: [][]llm.StreamEvent{textOnlyRound("hello there")}}
	client := llm.NewClient(llm.WithProvider("fake", adapter))
	router := events.NewRouter()
	registry := toolpipeline.NewRegistry()
	pipeline := toolpipeline.NewPipeline(registry, router)
	executor := NewExecutor(client, pipeline, router)
	eng := NewEngine(executor, router, nil)

	sess := session.New("main", session.DefaultConfig())
	sess.BeginTurn("turn-1")
	sess.AppendTurn(session.UserTurn{Content: "hi", TurnID: "turn-1"})

	out, err := eng.RunTurn(context.Background(), sess, TurnInput{
		SessionID: sess.ID, TurnID: "turn-1", SystemPrompt: "you are helpful", Provider: "fake",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.FinalText != "hello there" {
		t.Fatalf("expected final text 'hello there', got %q", out.FinalText)
	}
	if out.Stats.Rounds != 1 {
		t.Fatalf("expected 1 round, got %d", out.Stats.Rounds)
	}
	if sess.CurrentStatus().State != session.Idle {
		t.Fatalf("expected session to be idle after completion, got %v", sess.CurrentStatus().State)
	}
}

func TestToolCallThenContinue(t *testing.T) {
	adapter := &fakeAdapter{rounds: [][]llm.StreamEvent{
		toolCallRound("finish", "call-1", `{}`),
		textOnlyRound("all done"),
	}}
	client := llm.NewClient(llm.WithProvider("fake", adapter))
	router := events.NewRouter()
	registry := toolpipeline.NewRegistry()
	registry.Register(&fakeTool{endsTurn: false})
	pipeline := toolpipeline.NewPipeline(registry, router)
	executor := NewExecutor(client, pipeline, router)
	eng := NewEngine(executor, router, nil)

	sess := session.New("main", session.DefaultConfig())
	sess.BeginTurn("turn-1")
	sess.AppendTurn(session.UserTurn{Content: "do the thing", TurnID: "turn-1"})

	out, err := eng.RunTurn(context.Background(), sess, TurnInput{
		SessionID: sess.ID, TurnID: "turn-1", SystemPrompt: "sys", Provider: "fake",
		AllowedTools: []string{"finish"},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.Stats.Rounds != 2 {
		t.Fatalf("expected 2 rounds, got %d", out.Stats.Rounds)
	}
	if out.FinalText != "all done" {
		t.Fatalf("expected final text 'all done', got %q", out.FinalText)
	}
}

func TestEndTurnToolStopsAtOneRound(t *testing.T) {
	adapter := &fakeAdapter{rounds: [][]llm.StreamEvent{toolCallRound("finish", "call-1", `{}`)}}
	client := llm.NewClient(llm.WithProvider("fake", adapter))
	router := events.NewRouter()
	registry := toolpipeline.NewRegistry()
	registry.Register(&fakeTool{endsTurn: true})
	pipeline := toolpipeline.NewPipeline(registry, router)
	executor := NewExecutor(client, pipeline, router)
	eng := NewEngine(executor, router, nil)

	sess := session.New("main", session.DefaultConfig())
	sess.BeginTurn("turn-1")
	sess.AppendTurn(session.UserTurn{Content: "finish it", TurnID: "turn-1"})

	out, err := eng.RunTurn(context.Background(), sess, TurnInput{
		SessionID: sess.ID, TurnID: "turn-1", SystemPrompt: "sys", Provider: "fake",
		AllowedTools: []string{"finish"},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.Stats.Rounds != 1 {
		t.Fatalf("expected should_end_turn to stop after 1 round, got %d", out.Stats.Rounds)
	}
}

func TestMaxRoundsCapCompletesNotFails(t *testing.T) {
	infiniteTool := toolCallRound("finish", "call-x", `{}`)
	rounds := make([][]llm.StreamEvent, 0)
	for i := 0; i < 5; i++ {
		rounds = append(rounds, infiniteTool)
	}
	adapter := &fakeAdapter{rounds: rounds}
	client := llm.NewClient(llm.WithProvider("fake", adapter))
	router := events.NewRouter()
	registry := toolpipeline.NewRegistry()
	registry.Register(&fakeTool{endsTurn: false})
	pipeline := toolpipeline.NewPipeline(registry, router)
	executor := NewExecutor(client, pipeline, router)
	eng := NewEngine(executor, router, nil)

	cfg := session.DefaultConfig()
	cfg.MaxRounds = 3
	sess := session.New("main", cfg)
	sess.BeginTurn("turn-1")
	sess.AppendTurn(session.UserTurn{Content: "loop", TurnID: "turn-1"})

	out, err := eng.RunTurn(context.Background(), sess, TurnInput{
		SessionID: sess.ID, TurnID: "turn-1", SystemPrompt: "sys", Provider: "fake",
		AllowedTools: []string{"finish"},
	}, nil)
	if err != nil {
		t.Fatalf("max_rounds cap should complete the turn, not fail it: %v", err)
	}
	if out.Stats.Rounds != 3 {
		t.Fatalf("expected exactly max_rounds=3 rounds, got %d", out.Stats.Rounds)
	}
	if sess.CurrentStatus().State != session.Idle {
		t.Fatalf("expected idle session after cap, got %v", sess.CurrentStatus().State)
	}
}
