package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDo_SucceedsWithoutRetryOnFirstAttempt(t *testing.T) {
	attempts := 0
	got, err := Do(context.Background(), DefaultPolicy(), func(ctx context.Context) (string, error) {
		attempts++
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" {
		t.Fatalf("got %q", got)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	attempts := 0
	p := Policy{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, MaxTries: 5}
	got, err := Do(context.Background(), p, func(ctx context.Context) (int, error) {
		attempts++
		if attempts < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Fatalf("got %d", got)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	attempts := 0
	sentinel := errors.New("unrecoverable")
	p := Policy{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, MaxTries: 5}
	_, err := Do(context.Background(), p, func(ctx context.Context) (int, error) {
		attempts++
		return 0, Permanent(sentinel)
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt on permanent error, got %d", attempts)
	}
}

func TestDo_ExhaustsMaxTries(t *testing.T) {
	attempts := 0
	sentinel := errors.New("always fails")
	p := Policy{BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, MaxTries: 3}
	_, err := Do(context.Background(), p, func(ctx context.Context) (int, error) {
		attempts++
		return 0, sentinel
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestDo_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := Policy{BaseDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, MaxTries: 5}
	_, err := Do(ctx, p, func(ctx context.Context) (int, error) {
		return 0, errors.New("transient")
	})
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
