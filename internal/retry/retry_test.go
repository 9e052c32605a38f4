package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mtzanidakis/crew/internal/provider"
)

// recorder replaces the real sleep and records requested delays.
type recorder struct {
	delays []time.Duration
}

func (r *recorder) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func (r *recorder) total() time.Duration {
	var sum time.Duration
	for _, d := range r.delays {
		sum += d
	}
	return sum
}

func TestRetriesRateLimitedThenSucceeds(t *testing.T) {
	rec := &recorder{}
	r := New(Policy{MaxAttempts: 3, BaseDelay: 5 * time.Second}, WithSleep(rec.sleep))

	calls := 0
	out, err := Do(context.Background(), r, func(ctx context.Context) (string, error) {
		calls++
		if calls <= 2 {
			return "", provider.RateLimited(time.Second)
		}
		return "done", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "done" {
		t.Errorf("expected done, got %q", out)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
	if len(rec.delays) != 2 {
		t.Fatalf("expected 2 retries, got %d", len(rec.delays))
	}
	if rec.total() < 2*time.Second {
		t.Errorf("expected at least 2s cumulative backoff, got %v", rec.total())
	}
	for _, d := range rec.delays {
		if d != time.Second {
			t.Errorf("expected hinted delay of 1s, got %v", d)
		}
	}
}

func TestRetriesExhausted(t *testing.T) {
	rec := &recorder{}
	r := New(Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}, WithSleep(rec.sleep))

	calls := 0
	_, err := Do(context.Background(), r, func(ctx context.Context) (string, error) {
		calls++
		return "", provider.RateLimited(0)
	})
	if calls != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", calls)
	}
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
	var ex *ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("expected ExhaustedError, got %T", err)
	}
	if ex.Attempts != 3 {
		t.Errorf("expected 3 attempts recorded, got %d", ex.Attempts)
	}
	if !errors.Is(err, provider.ErrRateLimited) {
		t.Error("expected last error to be kept for diagnostics")
	}
}

func TestBaseDelayWithoutHint(t *testing.T) {
	rec := &recorder{}
	r := New(Policy{MaxAttempts: 2, BaseDelay: 250 * time.Millisecond}, WithSleep(rec.sleep))

	calls := 0
	_, _ = Do(context.Background(), r, func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, provider.RateLimited(0)
		}
		return 1, nil
	})
	if len(rec.delays) != 1 || rec.delays[0] != 250*time.Millisecond {
		t.Errorf("expected single base delay, got %v", rec.delays)
	}
}

func TestFatalNotRetried(t *testing.T) {
	rec := &recorder{}
	r := New(Policy{MaxAttempts: 5}, WithSleep(rec.sleep))

	calls := 0
	_, err := Do(context.Background(), r, func(ctx context.Context) (string, error) {
		calls++
		return "", provider.Fatal("invalid credentials")
	})
	if calls != 1 {
		t.Errorf("expected 1 attempt, got %d", calls)
	}
	if !errors.Is(err, provider.ErrProviderFatal) {
		t.Errorf("expected ErrProviderFatal, got %v", err)
	}
	if errors.Is(err, ErrRetriesExhausted) {
		t.Error("fatal error must not be reported as exhausted")
	}
	if len(rec.delays) != 0 {
		t.Errorf("expected no sleeps, got %v", rec.delays)
	}
}

func TestOnRetryCallback(t *testing.T) {
	var seen []Attempt
	r := New(Policy{MaxAttempts: 3, BaseDelay: time.Millisecond},
		WithSleep(func(ctx context.Context, d time.Duration) error { return nil }),
	).With(func(a Attempt) { seen = append(seen, a) })

	_, _ = Do(context.Background(), r, func(ctx context.Context) (string, error) {
		return "", provider.RateLimited(3 * time.Second)
	})
	if len(seen) != 2 {
		t.Fatalf("expected 2 retry callbacks, got %d", len(seen))
	}
	if seen[0].Number != 1 || seen[1].Number != 2 {
		t.Errorf("unexpected attempt numbers %d, %d", seen[0].Number, seen[1].Number)
	}
	if seen[0].Delay != 3*time.Second {
		t.Errorf("expected hinted delay, got %v", seen[0].Delay)
	}
}

func TestSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("sleep did not return promptly")
	}
}

func TestWrapProvider(t *testing.T) {
	calls := 0
	p := Wrap(provider.Func(func(ctx context.Context, req provider.Request) (string, error) {
		calls++
		if calls == 1 {
			return "", provider.RateLimited(0)
		}
		return req.Instruction + "!", nil
	}), New(Policy{MaxAttempts: 2, BaseDelay: time.Millisecond}))

	out, err := p.Invoke(context.Background(), provider.Request{Instruction: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if out != "hi!" {
		t.Errorf("expected hi!, got %q", out)
	}
}

func TestZeroPolicyUsesDefaults(t *testing.T) {
	r := New(Policy{})
	if r.Policy() != DefaultPolicy {
		t.Errorf("expected default policy, got %+v", r.Policy())
	}
}
