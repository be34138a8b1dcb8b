package embed

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Multiplier:  2.0,
	}
}

func TestRetry_SucceedsFirstTry(t *testing.T) {
	calls := 0
	result, err := Retry(context.Background(), fastRetryConfig(), func() (int, error) {
		calls++
		return 42, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if result != 42 || calls != 1 {
		t.Errorf("result=%d calls=%d", result, calls)
	}
}

func TestRetry_RecoverAfterTransientFailure(t *testing.T) {
	calls := 0
	result, err := Retry(context.Background(), fastRetryConfig(), func() (string, error) {
		calls++
		if calls < 3 {
			return "", ErrProviderUnavailable
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if result != "ok" || calls != 3 {
		t.Errorf("result=%s calls=%d", result, calls)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastRetryConfig(), func() (int, error) {
		calls++
		return 0, ErrProviderUnavailable
	})
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("expected ErrProviderUnavailable, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestRetry_NonRetryableStopsImmediately(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastRetryConfig(), func() (int, error) {
		calls++
		return 0, ErrModelNotFound
	})
	if !errors.Is(err, ErrModelNotFound) {
		t.Errorf("expected ErrModelNotFound, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 attempt for non-retryable error, got %d", calls)
	}
}

func TestRetry_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Retry(ctx, fastRetryConfig(), func() (int, error) {
		calls++
		cancel()
		return 0, ErrProviderUnavailable
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 attempt, got %d", calls)
	}
}

func TestRetryable(t *testing.T) {
	if Retryable(ErrModelNotFound) {
		t.Error("model-not-found should not be retryable")
	}
	if Retryable(ErrEmptyText) {
		t.Error("empty-text should not be retryable")
	}
	if Retryable(context.Canceled) {
		t.Error("canceled context should not be retryable")
	}
	if !Retryable(ErrProviderUnavailable) {
		t.Error("provider-unavailable should be retryable")
	}
	if !Retryable(errors.New("connection refused")) {
		t.Error("unknown errors should be retryable")
	}
}
