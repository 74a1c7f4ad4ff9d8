package breaker

import (
	"errors"
	"testing"
	"time"
)

func TestExecute_PassesThroughSuccessResult(t *testing.T) {
	b := New(Settings{Name: "test", FailureThreshold: 3, Timeout: 10 * time.Millisecond})
	got, err := Execute(b, func() (string, error) { return "ok", nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" {
		t.Fatalf("got %q", got)
	}
	if b.Open() {
		t.Fatal("breaker should remain closed after a success")
	}
}

func TestExecute_OpensAfterConsecutiveFailures(t *testing.T) {
	b := New(Settings{Name: "test-trip", FailureThreshold: 2, Timeout: time.Second})
	sentinel := errors.New("boom")

	for i := 0; i < 2; i++ {
		_, err := Execute(b, func() (int, error) { return 0, sentinel })
		if !errors.Is(err, sentinel) {
			t.Fatalf("expected sentinel error, got %v", err)
		}
	}

	if !b.Open() {
		t.Fatal("expected breaker to be open after reaching the failure threshold")
	}

	_, err := Execute(b, func() (int, error) { return 1, nil })
	if !IsOpenError(err) {
		t.Fatalf("expected open-state error, got %v", err)
	}
}

func TestExecute_ClosedAgainAfterTimeoutAndSuccess(t *testing.T) {
	b := New(Settings{Name: "test-reset", FailureThreshold: 1, Timeout: 20 * time.Millisecond})
	sentinel := errors.New("boom")

	_, _ = Execute(b, func() (int, error) { return 0, sentinel })
	if !b.Open() {
		t.Fatal("expected breaker to trip on first failure")
	}

	time.Sleep(30 * time.Millisecond)

	got, err := Execute(b, func() (int, error) { return 7, nil })
	if err != nil {
		t.Fatalf("unexpected error after half-open probe: %v", err)
	}
	if got != 7 {
		t.Fatalf("got %d", got)
	}
}

func TestName_ReturnsConfiguredName(t *testing.T) {
	b := New(Settings{Name: "my-breaker", FailureThreshold: 1})
	if b.Name() != "my-breaker" {
		t.Fatalf("got %q", b.Name())
	}
}
