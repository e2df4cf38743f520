package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(maxRetries int) Policy {
	return Policy{
		MaxRetries:    maxRetries,
		BaseDelay:     time.Millisecond,
		BackoffFactor: 2,
	}
}

func TestDo_SucceedsAfterTransientErrors(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("connection reset by peer")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" {
		t.Errorf("got %q, want ok", got)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_ExhaustsBudget(t *testing.T) {
	calls := 0
	boom := errors.New("http 503")
	_, err := Do(context.Background(), fastPolicy(2), func(ctx context.Context) (int, error) {
		calls++
		return 0, Retryable(boom, 0)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, boom) {
		t.Errorf("error %v does not wrap %v", err, boom)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (1 + 2 retries)", calls)
	}
}

func TestDo_FatalStopsImmediately(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(5), func(ctx context.Context) (int, error) {
		calls++
		return 0, Fatal(errors.New("http 404"))
	})
	if err == nil || !IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_RetryAfterOverridesBackoff(t *testing.T) {
	policy := Policy{MaxRetries: 1, BaseDelay: time.Hour, BackoffFactor: 2}
	var delays []time.Duration
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		delays = append(delays, delay)
	}

	calls := 0
	start := time.Now()
	_, err := Do(context.Background(), policy, func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, Retryable(errors.New("rate limited (429)"), 5*time.Millisecond)
		}
		return 1, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("retry waited %v, hint was 5ms", time.Since(start))
	}
	if len(delays) != 1 || delays[0] != 5*time.Millisecond {
		t.Errorf("delays = %v, want [5ms]", delays)
	}
}

func TestDo_ContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := Policy{MaxRetries: 3, BaseDelay: time.Hour, BackoffFactor: 2}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := Do(ctx, policy, func(ctx context.Context) (int, error) {
		return 0, errors.New("timeout")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestBackoff(t *testing.T) {
	policy := Policy{BaseDelay: 500 * time.Millisecond, BackoffFactor: 2, MaxDelay: 3 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 500 * time.Millisecond},
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 3 * time.Second}, // capped
		{6, 3 * time.Second},
	}

	for _, tt := range tests {
		if got := Backoff(tt.attempt, policy); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoff_JitterBounds(t *testing.T) {
	policy := Policy{BaseDelay: 100 * time.Millisecond, BackoffFactor: 2, Jitter: true}
	for i := 0; i < 50; i++ {
		got := Backoff(1, policy)
		if got < 100*time.Millisecond || got > 300*time.Millisecond {
			t.Fatalf("jittered delay %v outside [100ms, 300ms]", got)
		}
	}
}
