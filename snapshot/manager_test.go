package snapshot

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRollbackToTurnScenario5(t *testing.T) {
	workspace := t.TempDir()
	snapRoot := t.TempDir()

	file := filepath.Join(workspace, "foo.txt")
	if err := os.WriteFile(file, []byte("A\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	mgr, err := New("sess-1", workspace, snapRoot)
	if err != nil {
		t.Fatal(err)
	}

	opID, err := mgr.RecordMutation(0, "Edit", file, OpModify)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(file, []byte("B\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := mgr.CompleteMutation(opID, 0); err != nil {
		t.Fatal(err)
	}

	restored, failures := mgr.RollbackToTurn(0)
	if len(failures) != 0 {
		t.Fatalf("unexpected failures: %v", failures)
	}
	if len(restored) != 1 || restored[0] != file {
		t.Fatalf("expected %s restored, got %v", file, restored)
	}

	content, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "A\n" {
		t.Fatalf("expected A\\n, got %q", content)
	}
}

func TestRollbackSessionRestoresBaseline(t *testing.T) {
	workspace := t.TempDir()
	snapRoot := t.TempDir()
	file := filepath.Join(workspace, "bar.txt")
	os.WriteFile(file, []byte("original"), 0o644)

	mgr, err := New("sess-2", workspace, snapRoot)
	if err != nil {
		t.Fatal(err)
	}
	opID, _ := mgr.RecordMutation(0, "Edit", file, OpModify)
	os.WriteFile(file, []byte("changed once"), 0o644)
	mgr.CompleteMutation(opID, 0)

	opID2, _ := mgr.RecordMutation(1, "Edit", file, OpModify)
	os.WriteFile(file, []byte("changed twice"), 0o644)
	mgr.CompleteMutation(opID2, 0)

	restored, failures := mgr.RollbackSession()
	if len(failures) != 0 {
		t.Fatalf("unexpected failures: %v", failures)
	}
	if len(restored) != 1 {
		t.Fatalf("expected one restored file, got %v", restored)
	}
	content, _ := os.ReadFile(file)
	if string(content) != "original" {
		t.Fatalf("expected baseline content restored, got %q", content)
	}
}

func TestWorkspaceMismatchRejected(t *testing.T) {
	workspace := t.TempDir()
	snapRoot := t.TempDir()
	mgr, err := New("sess-3", workspace, snapRoot)
	if err != nil {
		t.Fatal(err)
	}
	_, err = mgr.RecordMutation(0, "Edit", "/etc/passwd", OpModify)
	if err == nil {
		t.Fatalf("expected workspace mismatch rejection")
	}
}

func TestContentStoreCompressionThreshold(t *testing.T) {
	cs, err := NewContentStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	small := []byte("short content")
	hash, err := cs.Put(small)
	if err != nil {
		t.Fatal(err)
	}
	got, err := cs.Get(hash)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(small) {
		t.Fatalf("round trip mismatch")
	}

	large := make([]byte, 4096)
	for i := range large {
		large[i] = byte('a' + i%5)
	}
	hash2, err := cs.Put(large)
	if err != nil {
		t.Fatal(err)
	}
	got2, err := cs.Get(hash2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got2) != len(large) {
		t.Fatalf("expected round trip of large compressible content")
	}
}

func TestAcceptFileIdempotent(t *testing.T) {
	workspace := t.TempDir()
	snapRoot := t.TempDir()
	file := filepath.Join(workspace, "baz.txt")
	os.WriteFile(file, []byte("x"), 0o644)

	mgr, _ := New("sess-4", workspace, snapRoot)
	opID, _ := mgr.RecordMutation(0, "Edit", file, OpModify)
	os.WriteFile(file, []byte("y"), 0o644)
	mgr.CompleteMutation(opID, 0)

	if err := mgr.AcceptFile(file); err != nil {
		t.Fatal(err)
	}
	if err := mgr.AcceptFile(file); err != nil {
		t.Fatalf("second accept_file should be a no-op, got error: %v", err)
	}
}
