package coreerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestAsUnwrapsKind(t *testing.T) {
	err := New(NotFound, "session not found")
	kind, detail := As(err)
	if kind != NotFound {
		t.Errorf("expected NotFound, got %s", kind)
	}
	if detail != "session not found" {
		t.Errorf("unexpected detail: %s", detail)
	}
}

func TestAsFallsBackToInternal(t *testing.T) {
	kind, _ := As(errors.New("boom"))
	if kind != Internal {
		t.Errorf("expected Internal fallback, got %s", kind)
	}
}

func TestAsNilError(t *testing.T) {
	kind, detail := As(nil)
	if kind != "" || detail != "" {
		t.Errorf("expected empty kind/detail for nil error, got %s/%s", kind, detail)
	}
}

func TestWrapPreservesCauseAndUnwraps(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(RunnerDisconnected, "heartbeat lost", cause)
	if !errors.Is(err, cause) {
		t.Error("expected Wrap to preserve the cause for errors.Is")
	}
	if !errors.As(err, new(*Error)) {
		t.Error("expected errors.As to find the coreerr.Error")
	}
}

func TestIsTransientClassification(t *testing.T) {
	transient := []Kind{Timeout, Busy, RunnerDisconnected}
	for _, k := range transient {
		if !IsTransient(New(k, "x")) {
			t.Errorf("expected %s to be transient", k)
		}
	}

	permanent := []Kind{Validation, Conflict, NotFound, StaleBase, HashMismatch, Forbidden, Unauthorized, InvalidToken, SandboxUnhealthy, Internal}
	for _, k := range permanent {
		if IsTransient(New(k, "x")) {
			t.Errorf("expected %s to not be transient", k)
		}
	}
}

func TestIsMatchesKind(t *testing.T) {
	err := New(Conflict, "illegal transition")
	if !Is(err, Conflict) {
		t.Error("expected Is to match Conflict")
	}
	if Is(err, NotFound) {
		t.Error("expected Is to reject mismatched kind")
	}
}

func TestErrorStringIncludesCause(t *testing.T) {
	err := Wrap(Timeout, "actor call", fmt.Errorf("context deadline exceeded"))
	msg := err.Error()
	if msg == "" {
		t.Fatal("expected non-empty error string")
	}
}
