package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"docflow/internal/config"
	"docflow/internal/services"
)

// Policy captures the backoff parameters applied to one external call site.
type Policy struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    int
	Factor         float64
}

// DefaultPolicy mirrors the repository configuration defaults.
func DefaultPolicy() Policy {
	return Policy{
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     300 * time.Second,
		MaxAttempts:    8,
		Factor:         2.0,
	}
}

// PolicyFromConfig converts the configured retry section into a Policy.
func PolicyFromConfig(cfg *config.Config) Policy {
	if cfg == nil {
		return DefaultPolicy()
	}
	return Policy{
		InitialBackoff: time.Duration(cfg.Retry.InitialBackoffSeconds) * time.Second,
		MaxBackoff:     time.Duration(cfg.Retry.MaxBackoffSeconds) * time.Second,
		MaxAttempts:    cfg.Retry.MaxAttempts,
		Factor:         cfg.Retry.Factor,
	}
}

// ExhaustedError reports that a call failed on every permitted attempt.
type ExhaustedError struct {
	Op       string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: retries exhausted after %d attempts: %v", e.Op, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// IsExhausted reports whether err is (or wraps) an ExhaustedError.
func IsExhausted(err error) bool {
	var exhausted *ExhaustedError
	return errors.As(err, &exhausted)
}

// Engine executes functions under a retry policy.
type Engine struct {
	policy  Policy
	sleeper func(time.Duration)
	jitter  func() float64
}

// Option customizes the engine.
type Option func(*Engine)

// WithSleeper overrides how waits are performed (used in tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(e *Engine) {
		if sleeper != nil {
			e.sleeper = sleeper
		}
	}
}

// WithJitter overrides the randomized jitter source (used in tests).
func WithJitter(jitter func() float64) Option {
	return func(e *Engine) {
		if jitter != nil {
			e.jitter = jitter
		}
	}
}

// New constructs an engine for the given policy.
func New(policy Policy, opts ...Option) *Engine {
	if policy.InitialBackoff <= 0 {
		policy.InitialBackoff = DefaultPolicy().InitialBackoff
	}
	if policy.MaxBackoff < policy.InitialBackoff {
		policy.MaxBackoff = policy.InitialBackoff
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.Factor < 1 {
		policy.Factor = DefaultPolicy().Factor
	}
	engine := &Engine{
		policy: policy,
		jitter: rand.Float64,
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

// Invoke runs fn until it succeeds, fails fatally, or exhausts the policy.
// Only errors the services package classifies as retryable are retried.
func (e *Engine) Invoke(ctx context.Context, op string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if !services.IsRetryable(err) {
			return err
		}
		if attempt == e.policy.MaxAttempts {
			break
		}
		if err := e.wait(ctx, e.delay(attempt)); err != nil {
			return err
		}
	}
	return &ExhaustedError{Op: op, Attempts: e.policy.MaxAttempts, Last: lastErr}
}

// delay computes the wait before the next attempt: doubled base backoff capped
// at the maximum, plus jitter proportional to the capped delay.
func (e *Engine) delay(attempt int) time.Duration {
	backoff := e.policy.InitialBackoff
	for i := 1; i < attempt; i++ {
		if backoff > e.policy.MaxBackoff/2 {
			backoff = e.policy.MaxBackoff
			break
		}
		backoff *= 2
	}
	if backoff > e.policy.MaxBackoff {
		backoff = e.policy.MaxBackoff
	}
	jitterSpan := e.policy.Factor - 1
	if jitterSpan <= 0 {
		return backoff
	}
	return backoff + time.Duration(e.jitter()*jitterSpan*float64(backoff))
}

func (e *Engine) wait(ctx context.Context, delay time.Duration) error {
	if e.sleeper != nil {
		e.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
