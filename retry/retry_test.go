package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"powerflow/config"
)

var errTransient = errors.New("try again")
var errFatal = errors.New("bad request")

func testPolicy(attempts int) *Policy {
	return NewPolicy(config.RetryConfig{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		MaxJitter:   time.Millisecond,
	}, func(err error) bool { return errors.Is(err, errTransient) })
}

func TestExecuteRecoversAfterTransientFailures(t *testing.T) {
	policy := testPolicy(4)
	calls := 0
	err := policy.Execute(context.Background(), "op", func() error {
		calls++
		if calls <= 2 {
			return errTransient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestExecuteExhaustsAttemptBound(t *testing.T) {
	policy := testPolicy(3)
	calls := 0
	err := policy.Execute(context.Background(), "op", func() error {
		calls++
		return errTransient
	})
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
	if !IsExhausted(err) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if !errors.Is(err, errTransient) {
		t.Error("exhaustion should wrap the last transient failure")
	}
}

func TestExecuteDoesNotRetryFatalFailures(t *testing.T) {
	policy := testPolicy(5)
	calls := 0
	err := policy.Execute(context.Background(), "op", func() error {
		calls++
		return errFatal
	})
	if calls != 1 {
		t.Errorf("fatal failure retried: %d attempts", calls)
	}
	if !errors.Is(err, errFatal) {
		t.Errorf("unexpected error: %v", err)
	}
	if IsExhausted(err) {
		t.Error("fatal failure must not look like exhaustion")
	}
}

func TestExecuteStopsOnContextCancel(t *testing.T) {
	policy := testPolicy(100)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := policy.Execute(ctx, "op", func() error {
		calls++
		if calls == 1 {
			cancel()
		}
		return errTransient
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls > 2 {
		t.Errorf("cancelled execution kept retrying: %d attempts", calls)
	}
}
