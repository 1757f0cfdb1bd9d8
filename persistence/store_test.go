package persistence

import (
	"testing"
	"time"

	"github.com/relaykit/relay/session"
)

func TestMetadataRoundTrip(t *testing.T) {
	base := t.TempDir()
	store, err := Open(base, "sess-1")
	if err != nil {
		t.Fatal(err)
	}

	meta := SessionMetadata{
		SessionID:      "sess-1",
		AgentType:      "main",
		Config:         session.DefaultConfig(),
		CreatedAt:      time.Now().UTC().Format(time.RFC3339),
		LastActivityAt: time.Now().UTC().Format(time.RFC3339),
		TurnIDs:        []string{"turn-1"},
	}
	if err := store.SaveMetadata(meta); err != nil {
		t.Fatal(err)
	}

	got, err := store.LoadMetadata()
	if err != nil {
		t.Fatal(err)
	}
	if got.SessionID != meta.SessionID || got.AgentType != meta.AgentType {
		t.Fatalf("metadata mismatch: %+v", got)
	}
}

func TestMessagesAppendAndReplay(t *testing.T) {
	base := t.TempDir()
	store, err := Open(base, "sess-2")
	if err != nil {
		t.Fatal(err)
	}

	turns := []session.Turn{
		session.UserTurn{Content: "hello", TurnID: "t1", Timestamp: time.Now()},
		session.AssistantTurn{Content: "hi there", TurnID: "t1", Timestamp: time.Now()},
	}
	for _, turn := range turns {
		if err := store.AppendMessage(turn); err != nil {
			t.Fatal(err)
		}
	}

	loaded, err := store.LoadMessages()
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(loaded))
	}
	ut, ok := loaded[0].(session.UserTurn)
	if !ok || ut.Content != "hello" {
		t.Fatalf("expected user turn 'hello', got %+v", loaded[0])
	}
	at, ok := loaded[1].(session.AssistantTurn)
	if !ok || at.Content != "hi there" {
		t.Fatalf("expected assistant turn 'hi there', got %+v", loaded[1])
	}
}

func TestContextSnapshotRoundTripAndDeleteFrom(t *testing.T) {
	base := t.TempDir()
	store, err := Open(base, "sess-3")
	if err != nil {
		t.Fatal(err)
	}

	msgs := []session.Turn{session.UserTurn{Content: "a", TurnID: "t1", Timestamp: time.Now()}}
	for i := 0; i < 3; i++ {
		if err := store.SaveContextSnapshot(i, msgs); err != nil {
			t.Fatal(err)
		}
	}

	latest, err := store.LatestContextSnapshotIndex()
	if err != nil {
		t.Fatal(err)
	}
	if latest != 2 {
		t.Fatalf("expected latest index 2, got %d", latest)
	}

	loaded, err := store.LoadContextSnapshot(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected 1 message in snapshot, got %d", len(loaded))
	}

	if err := store.DeleteContextSnapshotsFrom(1); err != nil {
		t.Fatal(err)
	}
	latest, err = store.LatestContextSnapshotIndex()
	if err != nil {
		t.Fatal(err)
	}
	if latest != 0 {
		t.Fatalf("expected latest index 0 after delete-from, got %d", latest)
	}
}

func TestTurnRecordRoundTrip(t *testing.T) {
	base := t.TempDir()
	store, err := Open(base, "sess-4")
	if err != nil {
		t.Fatal(err)
	}

	turn := session.DialogTurn{
		TurnID:    "turn-xyz",
		SessionID: "sess-4",
		TurnIndex: 0,
		UserInput: "do a thing",
		State:     session.TurnCompleted,
		CreatedAt: time.Now(),
	}
	if err := store.SaveTurn(turn); err != nil {
		t.Fatal(err)
	}
	got, err := store.LoadTurn("turn-xyz")
	if err != nil {
		t.Fatal(err)
	}
	if got.UserInput != "do a thing" || got.State != session.TurnCompleted {
		t.Fatalf("turn record mismatch: %+v", got)
	}
}

func TestListSessionsSortedByActivity(t *testing.T) {
	base := t.TempDir()

	older, _ := Open(base, "sess-old")
	older.SaveMetadata(SessionMetadata{SessionID: "sess-old", LastActivityAt: "2026-01-01T00:00:00Z"})

	newer, _ := Open(base, "sess-new")
	newer.SaveMetadata(SessionMetadata{SessionID: "sess-new", LastActivityAt: "2026-06-01T00:00:00Z"})

	metas, err := ListSessions(base)
	if err != nil {
		t.Fatal(err)
	}
	if len(metas) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(metas))
	}
	if metas[0].SessionID != "sess-new" {
		t.Fatalf("expected newest session first, got %s", metas[0].SessionID)
	}
}

func TestDeleteSessionRemovesDirectory(t *testing.T) {
	base := t.TempDir()
	store, err := Open(base, "sess-5")
	if err != nil {
		t.Fatal(err)
	}
	store.SaveMetadata(SessionMetadata{SessionID: "sess-5"})

	if err := DeleteSession(base, "sess-5"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.LoadMetadata(); err == nil {
		t.Fatalf("expected load to fail after deletion")
	}
}
