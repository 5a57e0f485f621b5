package retry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/hubfs/hubfs/pkg/errors"
)

func TestRetryer_Success(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 3
	retryer := New(config)

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetryer_TransientErrorRetried(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 3
	config.InitialDelay = 10 * time.Millisecond
	config.Jitter = false
	retryer := New(config)

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("connection reset")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryer_PermanentErrorNotRetried(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 3
	retryer := New(config)

	tests := []struct {
		name string
		err  error
	}{
		{"not found", errors.NewNotFound("a/b")},
		{"permission", errors.NewPermission("a/b")},
		{"already exists", errors.NewAlreadyExists("a/b")},
		{"unsupported", errors.NewUnsupported("mkdir")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			err := retryer.Do(func() error {
				attempts++
				return tt.err
			})

			if err == nil {
				t.Error("Expected error, got nil")
			}
			if attempts != 1 {
				t.Errorf("Expected 1 attempt (no retry), got %d", attempts)
			}
		})
	}
}

func TestRetryer_RetryIfOverride(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 4
	config.InitialDelay = time.Millisecond
	config.Jitter = false
	config.RetryIf = errors.IsNotFound
	retryer := New(config)

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		if attempts < 2 {
			return errors.NewNotFound("warming up")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}

func TestRetryer_MaxAttemptsExhausted(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 3
	config.InitialDelay = time.Millisecond
	config.Jitter = false
	retryer := New(config)

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		return fmt.Errorf("still broken")
	})

	if err == nil {
		t.Error("Expected error after exhausting attempts")
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryer_ContextCancellation(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 10
	config.InitialDelay = time.Hour
	config.Jitter = false
	retryer := New(config)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	attempts := 0
	err := retryer.DoWithContext(ctx, func(context.Context) error {
		attempts++
		return fmt.Errorf("transient")
	})

	if err == nil {
		t.Error("Expected cancellation error")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt before cancellation, got %d", attempts)
	}
}

func TestRetryer_OnRetryCallback(t *testing.T) {
	var observed []int
	config := DefaultConfig()
	config.MaxAttempts = 3
	config.InitialDelay = time.Millisecond
	config.Jitter = false
	config.OnRetry = func(attempt int, err error, delay time.Duration) {
		observed = append(observed, attempt)
	}
	retryer := New(config)

	_ = retryer.Do(func() error { return fmt.Errorf("transient") })

	if len(observed) != 2 {
		t.Errorf("Expected 2 retry callbacks, got %d", len(observed))
	}
}

func TestRetryer_WithMaxAttempts(t *testing.T) {
	retryer := New(DefaultConfig()).WithMaxAttempts(1)

	attempts := 0
	_ = retryer.Do(func() error {
		attempts++
		return fmt.Errorf("transient")
	})

	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}
