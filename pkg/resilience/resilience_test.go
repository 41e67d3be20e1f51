// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/busbridge/busbridge/pkg/errors"
)

func TestWithTimeout_Expires(t *testing.T) {
	cfg := TimeoutConfig{Duration: 20 * time.Millisecond}
	err := WithTimeout(context.Background(), cfg, func() error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})
	if errors.Code(err) != errors.CodeTimeout {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestWithTimeout_Completes(t *testing.T) {
	cfg := TimeoutConfig{Duration: time.Second}
	err := WithTimeout(context.Background(), cfg, func() error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWithTimeoutResult_ZeroDurationRunsInline(t *testing.T) {
	got, err := WithTimeoutResult(context.Background(), TimeoutConfig{}, func() (interface{}, error) {
		return 42, nil
	})
	if err != nil || got != 42 {
		t.Fatalf("got %v, %v", got, err)
	}
}

func TestRetry_StopsOnUnrecoverable(t *testing.T) {
	attempts := 0
	cfg := DefaultRetryConfig().WithInitialDelay(time.Millisecond)
	err := cfg.Do(context.Background(), func() error {
		attempts++
		return errors.New(errors.CodePermissionDenied, "denied", nil).WithRecoverable(false)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("unrecoverable error retried %d times", attempts)
	}
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	attempts := 0
	cfg := DefaultRetryConfig().WithMaxAttempts(3).WithInitialDelay(time.Millisecond)
	err := cfg.Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New(errors.CodeInternal, "transient", nil).WithRecoverable(true)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}
