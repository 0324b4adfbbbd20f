package retry

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"
)

type statusErr struct {
	status     int
	retryAfter time.Duration
}

func (e *statusErr) Error() string             { return fmt.Sprintf("status %d", e.status) }
func (e *statusErr) HTTPStatus() int           { return e.status }
func (e *statusErr) RetryAfter() time.Duration { return e.retryAfter }

// testPolicy returns a policy that records sleeps instead of waiting.
func testPolicy(slept *[]time.Duration) Policy {
	p := DefaultPolicy()
	p.jitter = func() float64 { return 0 }
	p.sleep = func(ctx context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return ctx.Err()
	}
	return p
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	var slept []time.Duration
	p := testPolicy(&slept)

	calls := 0
	got, err := Do(context.Background(), p, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &statusErr{status: 503}
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if got != "ok" {
		t.Errorf("Do() = %q, want ok", got)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(slept) != len(want) || slept[0] != want[0] || slept[1] != want[1] {
		t.Errorf("slept = %v, want %v", slept, want)
	}
}

func TestDo_ExhaustionReturnsLastError(t *testing.T) {
	var slept []time.Duration
	p := testPolicy(&slept)

	calls := 0
	err := Execute(context.Background(), p, func(ctx context.Context) error {
		calls++
		return &statusErr{status: 429}
	})
	var se *statusErr
	if !errors.As(err, &se) || se.status != 429 {
		t.Fatalf("Execute() error = %v, want status 429", err)
	}
	if calls != DefaultMaxRetries+1 {
		t.Errorf("calls = %d, want %d", calls, DefaultMaxRetries+1)
	}
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	var slept []time.Duration
	p := testPolicy(&slept)

	calls := 0
	err := Execute(context.Background(), p, func(ctx context.Context) error {
		calls++
		return &statusErr{status: 400}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if len(slept) != 0 {
		t.Errorf("slept = %v, want none", slept)
	}
}

func TestDo_HonoursRetryAfter(t *testing.T) {
	var slept []time.Duration
	p := testPolicy(&slept)

	calls := 0
	_ = Execute(context.Background(), p, func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return &statusErr{status: 429, retryAfter: 7 * time.Second}
		}
		return nil
	})
	if len(slept) != 1 || slept[0] != 7*time.Second {
		t.Errorf("slept = %v, want [7s]", slept)
	}
}

func TestDo_MaxElapsedBudget(t *testing.T) {
	var slept []time.Duration
	p := testPolicy(&slept)
	p.MaxElapsed = 1500 * time.Millisecond

	calls := 0
	err := Execute(context.Background(), p, func(ctx context.Context) error {
		calls++
		return &statusErr{status: 500}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	// First backoff (1s) fits, the second (2s) would overrun the budget.
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestDo_AttemptTimeout(t *testing.T) {
	var slept []time.Duration
	p := testPolicy(&slept)
	p.AttemptTimeout = 10 * time.Millisecond
	p.MaxRetries = 0

	err := Execute(context.Background(), p, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Execute() error = %v, want deadline exceeded", err)
	}
}

func TestDo_OnRetry(t *testing.T) {
	var slept []time.Duration
	p := testPolicy(&slept)

	var attempts []int
	p.OnRetry = func(attempt int, delay time.Duration, err error) {
		attempts = append(attempts, attempt)
	}
	_ = Execute(context.Background(), p, func(ctx context.Context) error {
		return &statusErr{status: 502}
	})
	if len(attempts) != 3 || attempts[0] != 1 || attempts[2] != 3 {
		t.Errorf("OnRetry attempts = %v, want [1 2 3]", attempts)
	}
}

func TestBackoff(t *testing.T) {
	p := DefaultPolicy()
	p.jitter = func() float64 { return 1 }

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1500 * time.Millisecond},
		{2, 3 * time.Second},
		{3, 6 * time.Second},
		{5, 24 * time.Second},
		{6, 30 * time.Second},
		{10, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"429", &statusErr{status: 429}, true},
		{"500", &statusErr{status: 500}, true},
		{"404", &statusErr{status: 404}, false},
		{"401", &statusErr{status: 401}, false},
		{"wrapped 503", fmt.Errorf("query: %w", &statusErr{status: 503}), true},
		{"econnreset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"message fallback", errors.New("socket hang up: ECONNRESET"), true},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"plain", errors.New("bad input"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
