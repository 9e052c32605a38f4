// Package retry wraps provider calls with bounded, hint-driven retries.
//
// Only rate-limit failures are retried. The delay before the next attempt is
// the provider's Retry-After hint when present and the policy's base delay
// otherwise; it never grows between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mtzanidakis/crew/internal/provider"
)

var ErrRetriesExhausted = errors.New("retries exhausted")

// ExhaustedError is returned after MaxAttempts rate-limited failures. Last is
// the error of the final attempt.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrRetriesExhausted, e.Last}
}

// Policy bounds the retry loop.
type Policy struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

// DefaultPolicy is used when a zero Policy is supplied.
var DefaultPolicy = Policy{MaxAttempts: 3, BaseDelay: 2 * time.Second}

func (p Policy) normalize() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = DefaultPolicy.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultPolicy.BaseDelay
	}
	return p
}

// Attempt describes a failed attempt that is about to be retried.
type Attempt struct {
	Number int
	Delay  time.Duration
	Err    error
}

// Retrier runs calls under a Policy.
type Retrier struct {
	policy  Policy
	sleep   func(ctx context.Context, d time.Duration) error
	onRetry func(Attempt)
}

type Option func(*Retrier)

// WithSleep replaces the backoff sleep, mainly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Retrier) {
		r.sleep = fn
	}
}

// WithOnRetry registers a callback invoked before every backoff sleep.
func WithOnRetry(fn func(Attempt)) Option {
	return func(r *Retrier) {
		r.onRetry = fn
	}
}

func New(policy Policy, opts ...Option) *Retrier {
	r := &Retrier{
		policy: policy.normalize(),
		sleep:  Sleep,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the effective policy.
func (r *Retrier) Policy() Policy {
	return r.policy
}

// With returns a copy of r that additionally reports retries to fn.
func (r *Retrier) With(fn func(Attempt)) *Retrier {
	cp := *r
	prev := r.onRetry
	cp.onRetry = func(a Attempt) {
		if prev != nil {
			prev(a)
		}
		fn(a)
	}
	return &cp
}

// Do invokes call until it succeeds, fails with a non-retryable error, or
// the attempt budget is spent.
func Do[T any](ctx context.Context, r *Retrier, call func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 1; ; attempt++ {
		v, err := call(ctx)
		if err == nil {
			return v, nil
		}

		hint, ok := provider.IsRateLimited(err)
		if !ok {
			return zero, err
		}
		if attempt >= r.policy.MaxAttempts {
			return zero, &ExhaustedError{Attempts: attempt, Last: err}
		}

		delay := hint
		if delay <= 0 {
			delay = r.policy.BaseDelay
		}
		if r.onRetry != nil {
			r.onRetry(Attempt{Number: attempt, Delay: delay, Err: err})
		}
		if err := r.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
}

// Wrap decorates p so every Invoke goes through r.
func Wrap(p provider.Provider, r *Retrier) provider.Provider {
	return provider.Func(func(ctx context.Context, req provider.Request) (string, error) {
		return Do(ctx, r, func(ctx context.Context) (string, error) {
			return p.Invoke(ctx, req)
		})
	})
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
