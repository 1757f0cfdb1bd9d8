package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/relaykit/relay/llm"
)

func TestGateAllowsIdleAndRecoverableError(t *testing.T) {
	s := New("default", DefaultConfig())
	if err := s.Gate(); err != nil {
		t.Fatalf("expected Idle to pass the gate, got %v", err)
	}

	s.Fail("boom", true)
	if err := s.Gate(); err != nil {
		t.Fatalf("expected recoverable Error to pass the gate, got %v", err)
	}
}

func TestGateRejectsProcessingAndUnrecoverableError(t *testing.T) {
	s := New("default", DefaultConfig())
	s.BeginTurn("t1")
	if err := s.Gate(); err == nil {
		t.Fatal("expected Processing to be rejected by the gate")
	}

	s2 := New("default", DefaultConfig())
	s2.Fail("boom", false)
	if err := s2.Gate(); err == nil {
		t.Fatal("expected unrecoverable Error to be rejected by the gate")
	}
}

func TestBeginTurnFlipsStateAndReturnsIndex(t *testing.T) {
	s := New("default", DefaultConfig())

	idx := s.BeginTurn("t1")
	if idx != 0 {
		t.Fatalf("expected first turn index 0, got %d", idx)
	}
	status := s.CurrentStatus()
	if status.State != Processing || status.TurnID != "t1" || status.Phase != PhaseStarting {
		t.Fatalf("unexpected status after BeginTurn: %+v", status)
	}

	s.CompleteTurn()
	idx2 := s.BeginTurn("t2")
	if idx2 != 1 {
		t.Fatalf("expected second turn index 1, got %d", idx2)
	}
}

func TestCancelTurnFlipsToIdleSynchronously(t *testing.T) {
	s := New("default", DefaultConfig())
	s.BeginTurn("t1")

	s.CancelTurn()
	if got := s.CurrentStatus().State; got != Idle {
		t.Fatalf("expected CancelTurn to flip to Idle immediately, got %v", got)
	}
}

func TestConvertHistoryToMessagesHandlesEveryTurnKind(t *testing.T) {
	history := []Turn{
		SystemTurn{Content: "be helpful"},
		UserTurn{Content: "hi"},
		AssistantTurn{
			Content:   "sure",
			Reasoning: "thinking it through",
			ToolCalls: []llm.ToolCallData{{ID: "call-1", Name: "read_file", Arguments: json.RawMessage(`{"file_path":"a.go"}`)}},
		},
		ToolResultsTurn{Results: []llm.ToolResult{{ToolCallID: "call-1", Content: "file contents", IsError: false}}},
	}

	messages := ConvertHistoryToMessages(history)
	if len(messages) != 4 {
		t.Fatalf("expected 4 wire messages, got %d", len(messages))
	}
	if messages[0].Role != llm.RoleSystem {
		t.Fatalf("expected first message to be system, got %v", messages[0].Role)
	}
	if messages[1].Role != llm.RoleUser {
		t.Fatalf("expected second message to be user, got %v", messages[1].Role)
	}
	if messages[2].Role != llm.RoleAssistant {
		t.Fatalf("expected third message to be assistant, got %v", messages[2].Role)
	}
	if len(messages[2].Content) != 3 {
		t.Fatalf("expected assistant message to carry thinking+text+tool-call parts, got %d", len(messages[2].Content))
	}
	if messages[3].ToolCallID != "call-1" {
		t.Fatalf("expected the tool result message to carry the call id, got %q", messages[3].ToolCallID)
	}
}

func TestExtractToolCallSignaturesOrdersChronologically(t *testing.T) {
	history := []Turn{
		AssistantTurn{ToolCalls: []llm.ToolCallData{{Name: "grep", Arguments: json.RawMessage(`{"pattern":"a"}`)}}},
		AssistantTurn{ToolCalls: []llm.ToolCallData{{Name: "grep", Arguments: json.RawMessage(`{"pattern":"b"}`)}}},
	}

	sigs := ExtractToolCallSignatures(history, 5)
	if len(sigs) != 2 {
		t.Fatalf("expected 2 signatures, got %d", len(sigs))
	}
	if sigs[0] == sigs[1] {
		t.Fatal("expected distinct arguments to produce distinct signatures")
	}
}

func TestDetectLoopFindsRepeatingPattern(t *testing.T) {
	args := json.RawMessage(`{"pattern":"x"}`)
	var history []Turn
	for i := 0; i < 6; i++ {
		history = append(history, AssistantTurn{ToolCalls: []llm.ToolCallData{{Name: "grep", Arguments: args}}})
	}

	if !DetectLoop(history, 6) {
		t.Fatal("expected a 6-call run of identical signatures to be detected as a loop")
	}
}

func TestDetectLoopNoFalsePositiveOnVariedCalls(t *testing.T) {
	var history []Turn
	for i := 0; i < 6; i++ {
		args := json.RawMessage(`{"pattern":"` + string(rune('a'+i)) + `"}`)
		history = append(history, AssistantTurn{ToolCalls: []llm.ToolCallData{{Name: "grep", Arguments: args}}})
	}

	if DetectLoop(history, 6) {
		t.Fatal("expected varied tool-call arguments not to be flagged as a loop")
	}
}

func TestTruncateTurnIDs(t *testing.T) {
	s := New("default", DefaultConfig())
	s.BeginTurn("t1")
	s.CompleteTurn()
	s.BeginTurn("t2")
	s.CompleteTurn()
	s.BeginTurn("t3")

	s.TruncateTurnIDs(1)
	ids := s.TurnIDsSnapshot()
	if len(ids) != 1 || ids[0] != "t1" {
		t.Fatalf("expected truncation to keep only t1, got %v", ids)
	}
}

func TestLastActivityAtAdvancesOnAppendTurn(t *testing.T) {
	s := New("default", DefaultConfig())
	before := s.LastActivityAt
	time.Sleep(time.Millisecond)
	s.AppendTurn(UserTurn{Content: "hi", Timestamp: time.Now()})
	if !s.LastActivityAt.After(before) {
		t.Fatal("expected AppendTurn to advance LastActivityAt")
	}
}
