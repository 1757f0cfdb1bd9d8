// ABOUTME: Tests for the relay CLI entrypoint: flag extraction, sessions
// ABOUTME: subcommand dispatch, and exit-code mapping.
package main

import (
	"strings"
	"testing"
	"time"

	"github.com/relaykit/relay/persistence"
	"github.com/relaykit/relay/session"
)

func TestExtractOptionalValueFlagBareForm(t *testing.T) {
	remaining, present, value := extractOptionalValueFlag([]string{"--agent", "default", "--output-patch", "hello"}, "--output-patch")
	if !present {
		t.Fatal("expected flag to be present")
	}
	if value != "" {
		t.Fatalf("expected empty value for bare form, got %q", value)
	}
	if strings.Join(remaining, " ") != "--agent default hello" {
		t.Fatalf("unexpected remaining args: %v", remaining)
	}
}

func TestExtractOptionalValueFlagWithValue(t *testing.T) {
	remaining, present, value := extractOptionalValueFlag([]string{"--output-patch=/tmp/out.diff", "explain this"}, "--output-patch")
	if !present {
		t.Fatal("expected flag to be present")
	}
	if value != "/tmp/out.diff" {
		t.Fatalf("expected value /tmp/out.diff, got %q", value)
	}
	if len(remaining) != 1 || remaining[0] != "explain this" {
		t.Fatalf("unexpected remaining args: %v", remaining)
	}
}

func TestExtractOptionalValueFlagAbsent(t *testing.T) {
	remaining, present, value := extractOptionalValueFlag([]string{"--agent", "default", "hello"}, "--output-patch")
	if present {
		t.Fatal("expected flag to be absent")
	}
	if value != "" {
		t.Fatalf("expected empty value, got %q", value)
	}
	if len(remaining) != 3 {
		t.Fatalf("expected all args passed through, got %v", remaining)
	}
}

func seedSession(t *testing.T, baseDir, id, agentType string, lastActivity time.Time) {
	t.Helper()
	store, err := persistence.Open(baseDir, id)
	if err != nil {
		t.Fatal(err)
	}
	err = store.SaveMetadata(persistence.SessionMetadata{
		SessionID:      id,
		AgentType:      agentType,
		Config:         session.DefaultConfig(),
		CreatedAt:      lastActivity.Format(time.RFC3339),
		LastActivityAt: lastActivity.Format(time.RFC3339),
		TurnIDs:        []string{},
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestResolveSessionRefPassesThroughExplicitID(t *testing.T) {
	baseDir := t.TempDir()
	seedSession(t, baseDir, "abc-123", "default", time.Now())

	got, err := resolveSessionRef(baseDir, "abc-123")
	if err != nil {
		t.Fatal(err)
	}
	if got != "abc-123" {
		t.Fatalf("expected abc-123, got %q", got)
	}
}

func TestResolveSessionRefLastPicksMostRecent(t *testing.T) {
	baseDir := t.TempDir()
	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	seedSession(t, baseDir, "older-session", "default", older)
	seedSession(t, baseDir, "newer-session", "default", newer)

	got, err := resolveSessionRef(baseDir, "last")
	if err != nil {
		t.Fatal(err)
	}
	if got != "newer-session" {
		t.Fatalf("expected newer-session, got %q", got)
	}
}

func TestResolveSessionRefLastErrorsWhenEmpty(t *testing.T) {
	baseDir := t.TempDir()
	if _, err := resolveSessionRef(baseDir, "last"); err == nil {
		t.Fatal("expected an error when no sessions exist")
	}
}

func TestSessionsListReportsNoneFound(t *testing.T) {
	baseDir := t.TempDir()
	if code := sessionsList(baseDir); code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
}

func TestSessionsShowUnknownSessionFails(t *testing.T) {
	baseDir := t.TempDir()
	if code := sessionsShow(baseDir, "does-not-exist"); code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
}

func TestSessionsDeleteRemovesSessionDir(t *testing.T) {
	baseDir := t.TempDir()
	seedSession(t, baseDir, "to-delete", "default", time.Now())

	dataDir := baseDir
	if code := sessionsDelete(dataDir, baseDir, "to-delete"); code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}

	metas, err := persistence.ListSessions(baseDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(metas) != 0 {
		t.Fatalf("expected session to be gone, found %d", len(metas))
	}
}

func TestRunConfigCmdDefaultsToShow(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	if code := runConfigCmd(nil); code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
}

func TestRunConfigCmdRejectsUnknownSubcommand(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	if code := runConfigCmd([]string{"bogus"}); code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
}
