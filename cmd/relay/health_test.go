package main

import "testing"

func TestRunHealthFailsWithoutAPIKeys(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")

	if code := runHealth(t.TempDir()); code != 1 {
		t.Fatalf("expected exit code 1 with no API keys set, got %d", code)
	}
}

func TestRunHealthPassesWithAPIKeyAndWritableDataDir(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")

	if code := runHealth(t.TempDir()); code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
}
