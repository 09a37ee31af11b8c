// Package retry runs an operation with bounded exponential backoff. It is
// agnostic to what the operation does; the caller supplies the classifier
// that decides whether a failure is worth another attempt.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/clipmill/clipmill-agent/internal/httpx"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	DefaultMultiplier  = 3.0
)

// Decision is the outcome of classifying a failure.
type Decision int

const (
	Retryable Decision = iota
	Fatal
)

func (d Decision) String() string {
	if d == Fatal {
		return "fatal"
	}
	return "retryable"
}

// Classifier maps a failure to Retryable or Fatal.
type Classifier func(err error) Decision

// AlwaysRetry treats every failure as retryable.
func AlwaysRetry(error) Decision { return Retryable }

// Policy bounds how often and how patiently an operation is retried.
type Policy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	Multiplier     float64
	MaxDelay       time.Duration // 0 = uncapped
	Jitter         float64       // fraction of each delay, 0 disables
	AttemptTimeout time.Duration // 0 = no per-attempt deadline
}

// DefaultPolicy returns 3 attempts with 1s, 3s, 9s delays.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		Multiplier:  DefaultMultiplier,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 1
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	return p
}

// Delay returns the backoff slept after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalized()
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// ExhaustedError wraps the last failure once MaxAttempts have been used.
type ExhaustedError struct {
	Attempts int
	Elapsed  time.Duration
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts in %s: %v", e.Attempts, e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// AttemptTimeoutError marks an attempt that ran past the policy's AttemptTimeout.
type AttemptTimeoutError struct {
	Timeout time.Duration
	Err     error
}

func (e *AttemptTimeoutError) Error() string {
	return fmt.Sprintf("attempt timed out after %s: %v", e.Timeout, e.Err)
}

func (e *AttemptTimeoutError) Unwrap() error { return e.Err }

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// RetryHook observes a retryable failure before the backoff sleep.
type RetryHook func(attempt int, err error, delay time.Duration)

// Caller executes operations under a Policy.
type Caller struct {
	sleep   SleepFunc
	now     func() time.Time
	onRetry RetryHook
}

type Option func(*Caller)

func WithSleep(fn SleepFunc) Option { return func(c *Caller) { c.sleep = fn } }

func WithClock(fn func() time.Time) Option { return func(c *Caller) { c.now = fn } }

func WithRetryHook(fn RetryHook) Option { return func(c *Caller) { c.onRetry = fn } }

func New(opts ...Option) *Caller {
	c := &Caller{sleep: sleepContext, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// With returns a copy of c with extra options applied.
func (c *Caller) With(opts ...Option) *Caller {
	cp := *c
	for _, opt := range opts {
		opt(&cp)
	}
	return &cp
}

// Do runs op until it succeeds, fails fatally, or MaxAttempts is reached.
// The number of invocations never exceeds p.MaxAttempts.
func (c *Caller) Do(ctx context.Context, p Policy, classify Classifier, op func(ctx context.Context) error) error {
	_, err := Call(ctx, c, p, classify, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Call is Do for operations that return a value.
func Call[T any](ctx context.Context, c *Caller, p Policy, classify Classifier, op func(ctx context.Context) (T, error)) (T, error) {
	if c == nil {
		c = New()
	}
	if classify == nil {
		classify = DefaultClassifier
	}
	p = p.normalized()
	start := c.now()

	var zero T
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, &ExhaustedError{Attempts: attempt - 1, Elapsed: c.now().Sub(start), Err: lastErr}
			}
			return zero, err
		}

		v, err := runAttempt(ctx, p, op)
		if err == nil {
			return v, nil
		}
		lastErr = err

		var timeout *AttemptTimeoutError
		if !errors.As(err, &timeout) && classify(err) == Fatal {
			return zero, err
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.Delay(attempt)
		if p.Jitter > 0 {
			delay = httpx.Jitter(delay, p.Jitter)
		}
		if c.onRetry != nil {
			c.onRetry(attempt, err, delay)
		}
		if err := c.sleep(ctx, delay); err != nil {
			return zero, &ExhaustedError{Attempts: attempt, Elapsed: c.now().Sub(start), Err: lastErr}
		}
	}

	return zero, &ExhaustedError{Attempts: p.MaxAttempts, Elapsed: c.now().Sub(start), Err: lastErr}
}

func runAttempt[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	if p.AttemptTimeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
	defer cancel()

	v, err := op(attemptCtx)
	if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return v, &AttemptTimeoutError{Timeout: p.AttemptTimeout, Err: err}
	}
	return v, err
}

// DefaultClassifier retries network and retryable HTTP failures only.
func DefaultClassifier(err error) Decision {
	if httpx.IsRetryableError(err) {
		return Retryable
	}
	return Fatal
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
