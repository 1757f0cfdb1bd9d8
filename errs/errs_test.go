package errs

import (
	"errors"
	"testing"
)

func TestWrapPreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(Io, "write snapshot", cause)

	if !errors.Is(err, cause) {
		t.Fatal("expected Wrap to produce an error that unwraps to the cause")
	}
}

func TestIsMatchesKindThroughWrapping(t *testing.T) {
	err := Wrap(Timeout, "command exceeded timeout", errors.New("context deadline exceeded"))
	if !Is(err, Timeout) {
		t.Fatal("expected Is to match the wrapped Kind")
	}
	if Is(err, Validation) {
		t.Fatal("expected Is to reject an unrelated Kind")
	}
}

func TestKindOfReturnsEmptyForUntypedError(t *testing.T) {
	if got := KindOf(errors.New("plain error")); got != "" {
		t.Fatalf("expected empty Kind for an untyped error, got %q", got)
	}
}

func TestRecoverableIsFalseForAIClientAndTimeout(t *testing.T) {
	if Recoverable(New(AIClient, "provider down")) {
		t.Fatal("expected AIClient errors to be unrecoverable")
	}
	if Recoverable(New(Timeout, "timed out")) {
		t.Fatal("expected Timeout errors to be unrecoverable")
	}
}

func TestRecoverableIsTrueForOtherKinds(t *testing.T) {
	for _, kind := range []Kind{Validation, NotFound, Permission, Cancelled, Tool, Session} {
		if !Recoverable(New(kind, "x")) {
			t.Fatalf("expected %v to be recoverable", kind)
		}
	}
}

func TestErrorMessageIncludesCauseWhenPresent(t *testing.T) {
	err := Wrap(Snapshot, "record mutation", errors.New("lock held"))
	msg := err.Error()
	if msg != "snapshot: record mutation: lock held" {
		t.Fatalf("expected kind, message and cause in the error message, got %q", msg)
	}
}
