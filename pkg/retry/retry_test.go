package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	cqerrors "github.com/Combine-Capital/cqsync/pkg/errors"
)

// TestDoSuccess verifies that Do executes successfully without retry when no error occurs.
func TestDoSuccess(t *testing.T) {
	cfg := Config{MaxAttempts: 3, InitialDelay: time.Millisecond}

	attempts := 0
	err := Do(context.Background(), cfg, func() error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

// TestDoRetryTemporaryError verifies that Do retries on temporary errors.
func TestDoRetryTemporaryError(t *testing.T) {
	cfg := Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		Policy:       PolicyTemporary,
	}

	attempts := 0
	err := Do(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return cqerrors.NewTemporary("connection refused", nil)
		}
		return nil
	})

	if err != nil {
		t.Errorf("expected no error after retries, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

// TestDoPermanentStopsImmediately verifies that permanent errors are not retried.
func TestDoPermanentStopsImmediately(t *testing.T) {
	cfg := Config{MaxAttempts: 5, InitialDelay: time.Millisecond}

	attempts := 0
	err := Do(context.Background(), cfg, func() error {
		attempts++
		return cqerrors.NewPermanent("unknown entity type", nil)
	})

	if !cqerrors.IsPermanent(err) {
		t.Errorf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

// TestDoMaxAttempts verifies that Do gives up after MaxAttempts.
func TestDoMaxAttempts(t *testing.T) {
	cfg := Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	boom := errors.New("boom")

	attempts := 0
	err := Do(context.Background(), cfg, func() error {
		attempts++
		return boom
	})

	if !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

// TestDoUnlimited verifies that Unlimited ignores MaxAttempts and keeps going.
func TestDoUnlimited(t *testing.T) {
	cfg := Config{
		MaxAttempts:  2,
		Unlimited:    true,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
	}

	attempts := 0
	err := Do(context.Background(), cfg, func() error {
		attempts++
		if attempts < 12 {
			return errors.New("still down")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 12 {
		t.Errorf("expected 12 attempts, got %d", attempts)
	}
}

// TestDoUnlimitedContextCancel verifies that an unlimited loop ends with the context.
func TestDoUnlimitedContextCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	cfg := Config{Unlimited: true, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	err := Do(ctx, cfg, func() error {
		return errors.New("still down")
	})

	if err == nil {
		t.Fatal("expected an error after context cancellation")
	}
}

// TestOnRetry verifies that the notify hook runs once per wait.
func TestOnRetry(t *testing.T) {
	var notified int
	cfg := Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		OnRetry: func(err error, delay time.Duration) {
			notified++
		},
	}

	_ = Do(context.Background(), cfg, func() error {
		return errors.New("boom")
	})

	if notified != 2 {
		t.Errorf("expected 2 notifications, got %d", notified)
	}
}

// TestDoWithData verifies that the value from the successful attempt is returned.
func TestDoWithData(t *testing.T) {
	cfg := Config{MaxAttempts: 3, InitialDelay: time.Millisecond}

	attempts := 0
	got, err := DoWithData(context.Background(), cfg, func() (string, error) {
		attempts++
		if attempts == 1 {
			return "", errors.New("first try fails")
		}
		return "ok", nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" {
		t.Errorf("got %q, want ok", got)
	}
}

func TestPolicies(t *testing.T) {
	temp := cqerrors.NewTemporary("t", nil)
	perm := cqerrors.NewPermanent("p", nil)
	plain := errors.New("plain")

	tests := []struct {
		name   string
		cfg    Config
		err    error
		expect bool
	}{
		{"retryable temp", Config{Policy: PolicyRetryable}, temp, true},
		{"retryable plain", Config{Policy: PolicyRetryable}, plain, true},
		{"retryable perm", Config{Policy: PolicyRetryable}, perm, false},
		{"temporary plain", Config{Policy: PolicyTemporary}, plain, false},
		{"all perm", Config{Policy: PolicyAll}, perm, true},
		{"none temp", Config{Policy: PolicyNone}, temp, false},
		{"func wins", Config{Policy: PolicyNone, PolicyFunc: func(error) bool { return true }}, temp, true},
		{"nil error", Config{Policy: PolicyAll}, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.shouldRetry(tt.err); got != tt.expect {
				t.Errorf("shouldRetry() = %v, want %v", got, tt.expect)
			}
		})
	}
}

// TestDelaySchedule verifies the deterministic schedule used for parked jobs.
func TestDelaySchedule(t *testing.T) {
	cfg := Config{InitialDelay: time.Second, MaxDelay: time.Hour, Jitter: NoJitter}

	tests := []struct {
		failed int
		want   time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
	}

	for _, tt := range tests {
		if got := Delay(cfg, tt.failed); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.failed, got, tt.want)
		}
	}
}

func TestDelayCapped(t *testing.T) {
	cfg := Config{InitialDelay: time.Second, MaxDelay: 3 * time.Second, Jitter: NoJitter}

	if got := Delay(cfg, 10); got != 3*time.Second {
		t.Errorf("Delay(10) = %v, want 3s", got)
	}
}
