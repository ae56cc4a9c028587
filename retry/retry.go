package retry

import (
	"context"
	"errors"
	"fmt"

	retrygo "github.com/avast/retry-go"

	"powerflow/config"
	"powerflow/logger"
)

// ExhaustedError reports that an operation kept failing transiently
// until the attempt bound ran out. It is distinct from a single
// transient failure so callers can tell "gave up" from "failed once".
type ExhaustedError struct {
	Operation string
	Attempts  int
	Last      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: retries exhausted after %d attempts: %v", e.Operation, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// IsExhausted reports whether err is (or wraps) an ExhaustedError.
func IsExhausted(err error) bool {
	var ee *ExhaustedError
	return errors.As(err, &ee)
}

// Policy applies bounded exponential backoff with jitter to transient
// failures. Fatal failures pass through immediately. The transient
// classifier is injected so the policy stays source-agnostic.
type Policy struct {
	cfg       config.RetryConfig
	transient func(error) bool
	log       *logger.Log
}

// NewPolicy builds a policy from the reader retry configuration.
func NewPolicy(cfg config.RetryConfig, transient func(error) bool) *Policy {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Policy{
		cfg:       cfg,
		transient: transient,
		log:       logger.GetLogger(),
	}
}

// Execute runs fn, retrying transient failures with doubling backoff
// plus random jitter. The context bounds the whole attempt sequence.
// When the attempt bound is hit the returned error is an
// *ExhaustedError wrapping the last transient failure.
func (p *Policy) Execute(ctx context.Context, operation string, fn func() error) error {
	log := p.log.WithComponent("retry").WithFields(logger.Fields{"operation": operation})

	err := retrygo.Do(
		fn,
		retrygo.Context(ctx),
		retrygo.Attempts(uint(p.cfg.MaxAttempts)),
		retrygo.Delay(p.cfg.BaseDelay),
		retrygo.MaxDelay(p.cfg.MaxDelay),
		retrygo.MaxJitter(p.cfg.MaxJitter),
		retrygo.DelayType(retrygo.CombineDelay(retrygo.BackOffDelay, retrygo.RandomDelay)),
		retrygo.RetryIf(p.transient),
		retrygo.LastErrorOnly(true),
		retrygo.OnRetry(func(attempt uint, err error) {
			log.WithError(err).WithFields(logger.Fields{"attempt": attempt + 1}).Warn("transient failure, retrying")
		}),
	)
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		// Deadline or cancellation, not an attempt-bound exhaustion.
		return ctx.Err()
	}

	if p.transient(err) {
		return &ExhaustedError{Operation: operation, Attempts: p.cfg.MaxAttempts, Last: err}
	}
	return err
}
