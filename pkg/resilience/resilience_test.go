// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	werrors "github.com/webrana/webrana/pkg/errors"
)

func fastRetry() RetryConfig {
	return DefaultRetryConfig().WithInitialDelay(time.Millisecond).WithMaxDelay(5 * time.Millisecond)
}

func TestRetrySuccess(t *testing.T) {
	attempts := 0
	err := fastRetry().Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient error")
		}
		return nil
	})
	if err != nil {
		t.Errorf("expected success, got error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryMaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	err := fastRetry().WithMaxAttempts(2).Do(context.Background(), func() error {
		attempts++
		return errors.New("always fails")
	})
	if err == nil {
		t.Errorf("expected error after max attempts")
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestRetryNonRecoverable(t *testing.T) {
	attempts := 0
	config := fastRetry().WithIsRecoverable(func(err error) bool { return false })
	err := config.Do(context.Background(), func() error {
		attempts++
		return errors.New("non-recoverable error")
	})
	if err == nil {
		t.Errorf("expected error")
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetryContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := DefaultRetryConfig().WithInitialDelay(time.Second)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	attempts := 0
	err := config.Do(ctx, func() error {
		attempts++
		return errors.New("transient error")
	})
	if !werrors.IsCode(err, werrors.CodeCancelled) {
		t.Errorf("expected cancellation error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt before cancellation, got %d", attempts)
	}
}

func TestRetryGeneric(t *testing.T) {
	attempts := 0
	result, err := Retry(context.Background(), fastRetry(), func() (string, error) {
		attempts++
		if attempts < 2 {
			return "", errors.New("transient")
		}
		return "success", nil
	})
	if err != nil {
		t.Errorf("expected success, got error: %v", err)
	}
	if result != "success" {
		t.Errorf("expected 'success', got %v", result)
	}
}

func TestRetryHonorsTypedRecoverable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		attempts int
	}{
		{"transport retried", werrors.New(werrors.CodeProviderTransport, "503", nil), 3},
		{"auth not retried", werrors.New(werrors.CodeProviderTransport, "401", nil).WithRecoverable(false), 1},
		{"protocol not retried", werrors.New(werrors.CodeProviderProtocol, "bad stream", nil), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			var retries []int
			config := fastRetry().WithOnRetry(func(attempt int, err error, delay time.Duration) {
				retries = append(retries, attempt)
			})
			_ = config.Do(context.Background(), func() error {
				attempts++
				return tt.err
			})
			if attempts != tt.attempts {
				t.Errorf("expected %d attempts, got %d", tt.attempts, attempts)
			}
			if len(retries) != tt.attempts-1 {
				t.Errorf("expected %d OnRetry calls, got %v", tt.attempts-1, retries)
			}
		})
	}
}

func TestIsProviderTransport(t *testing.T) {
	if !IsProviderTransport(werrors.New(werrors.CodeProviderTransport, "x", nil)) {
		t.Error("expected recoverable transport error to match")
	}
	if IsProviderTransport(werrors.New(werrors.CodeProviderTransport, "x", nil).WithRecoverable(false)) {
		t.Error("expected non-recoverable transport error not to match")
	}
	if IsProviderTransport(errors.New("plain")) {
		t.Error("expected untyped error not to match")
	}
}

func TestBackoffIsBounded(t *testing.T) {
	rc := RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, Multiplier: 2}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	for n, w := range want {
		if got := calculateBackoff(n, rc); got != w {
			t.Errorf("backoff(%d) = %v, want %v", n, got, w)
		}
	}
}

func TestWithTimeout(t *testing.T) {
	tests := []struct {
		name        string
		duration    time.Duration
		sleepTime   time.Duration
		expectError bool
	}{
		{"fast operation", time.Second, 5 * time.Millisecond, false},
		{"slow operation", 20 * time.Millisecond, 500 * time.Millisecond, true},
		{"no timeout", 0, 5 * time.Millisecond, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WithTimeout(context.Background(), TimeoutConfig{Duration: tt.duration}, func(ctx context.Context) error {
				select {
				case <-time.After(tt.sleepTime):
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
			if tt.expectError && !werrors.IsCode(err, werrors.CodeTimeout) {
				t.Errorf("expected timeout error, got %v", err)
			}
			if !tt.expectError && err != nil {
				t.Errorf("expected success, got %v", err)
			}
		})
	}
}

func TestWithTimeoutResult(t *testing.T) {
	v, err := WithTimeoutResult(context.Background(), TimeoutConfig{Duration: time.Second}, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if err != nil || v != 42 {
		t.Fatalf("expected 42, got %d (%v)", v, err)
	}
}
