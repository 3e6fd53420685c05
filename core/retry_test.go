package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

// TestRetry_SucceedsAfterFailures verifies retries stop at the first success
// Given: a policy with 3 retries and an operation failing twice
// When: Retry is called
// Then: it returns nil after 3 attempts
func TestRetry_SucceedsAfterFailures(t *testing.T) {
	// Arrange
	policy := RetryPolicy{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffRatio: 2}
	attempts := 0

	// Act
	err := Retry(context.Background(), policy, NewNoOpLogger(), "flaky", func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	// Assert
	if err != nil {
		t.Errorf("Retry() = %v, want nil", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

// TestRetry_GivesUp verifies the last error is returned once retries are exhausted
func TestRetry_GivesUp(t *testing.T) {
	// Arrange
	policy := RetryPolicy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffRatio: 1}
	permanent := errors.New("down")
	attempts := 0

	// Act
	err := Retry(context.Background(), policy, nil, "down", func() error {
		attempts++
		return permanent
	})

	// Assert
	if !errors.Is(err, permanent) {
		t.Errorf("Retry() = %v, want %v", err, permanent)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3 (1 + 2 retries)", attempts)
	}
}

// TestRetry_NoRetry verifies NoRetry runs the operation once
func TestRetry_NoRetry(t *testing.T) {
	attempts := 0

	err := Retry(context.Background(), NoRetry(), nil, "once", func() error {
		attempts++
		return errors.New("fail")
	})

	if err == nil {
		t.Error("Retry() = nil, want error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

// TestRetry_ContextCancelled verifies a cancelled context stops retrying
func TestRetry_ContextCancelled(t *testing.T) {
	// Arrange
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	attempts := 0

	// Act
	err := Retry(ctx, DefaultRetryPolicy(), nil, "cancelled", func() error {
		attempts++
		return errors.New("fail")
	})

	// Assert
	if err == nil {
		t.Error("Retry() = nil, want error")
	}
	if attempts > 1 {
		t.Errorf("attempts = %d, want at most 1", attempts)
	}
}
