package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestFromHTTPRateLimited(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "7")

	err := FromHTTP(http.StatusTooManyRequests, h, "slow down")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	hint, ok := IsRateLimited(err)
	if !ok {
		t.Fatal("expected rate limited error")
	}
	if hint != 7*time.Second {
		t.Errorf("expected 7s hint, got %v", hint)
	}
}

func TestFromHTTPServerErrorHasNoHint(t *testing.T) {
	err := FromHTTP(http.StatusBadGateway, nil, "")
	hint, ok := IsRateLimited(err)
	if !ok {
		t.Fatalf("expected transient error, got %v", err)
	}
	if hint != 0 {
		t.Errorf("expected no hint, got %v", hint)
	}
}

func TestFromHTTPFatal(t *testing.T) {
	err := FromHTTP(http.StatusUnauthorized, nil, "invalid api key")
	if !errors.Is(err, ErrProviderFatal) {
		t.Fatalf("expected ErrProviderFatal, got %v", err)
	}
	if errors.Is(err, ErrRateLimited) {
		t.Error("fatal error must not be rate limited")
	}
	var fe *FatalError
	if !errors.As(err, &fe) || fe.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected FatalError with status 401, got %#v", err)
	}
	if !strings.Contains(err.Error(), "invalid api key") {
		t.Errorf("expected reason in message, got %q", err.Error())
	}
}

func TestParseRetryAfter(t *testing.T) {
	h := http.Header{}
	if d := ParseRetryAfter(h); d != 0 {
		t.Errorf("expected 0 for missing header, got %v", d)
	}

	h.Set("Retry-After", "1.5")
	if d := ParseRetryAfter(h); d != 1500*time.Millisecond {
		t.Errorf("expected 1.5s, got %v", d)
	}

	h.Set("Retry-After", "soon")
	if d := ParseRetryAfter(h); d != 0 {
		t.Errorf("expected 0 for invalid header, got %v", d)
	}

	h.Set("Retry-After", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
	if d := ParseRetryAfter(h); d < 59*time.Minute || d > time.Hour {
		t.Errorf("expected ~1h from HTTP date, got %v", d)
	}
}

func TestPromptIncludesContext(t *testing.T) {
	got := Prompt(Request{Instruction: "answer", Context: "fact"})
	if !strings.HasPrefix(got, "answer") || !strings.HasSuffix(got, "fact") {
		t.Errorf("unexpected prompt %q", got)
	}
	if Prompt(Request{Instruction: "answer"}) != "answer" {
		t.Error("expected bare instruction without context")
	}
}

func TestSystemListsTools(t *testing.T) {
	got := System(Request{Role: "You are a writer.", Tools: []ToolRef{{Name: "search", Description: "web search"}}})
	if !strings.Contains(got, "search: web search") {
		t.Errorf("expected tool listing, got %q", got)
	}
}

func TestLimitedPassesThrough(t *testing.T) {
	calls := 0
	p := Limited(Func(func(ctx context.Context, req Request) (string, error) {
		calls++
		return req.Instruction, nil
	}), 1000, 2)

	for i := 0; i < 3; i++ {
		out, err := p.Invoke(context.Background(), Request{Instruction: "x"})
		if err != nil || out != "x" {
			t.Fatalf("unexpected result %q %v", out, err)
		}
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestLimitedHonoursCancellation(t *testing.T) {
	p := Limited(Func(func(ctx context.Context, req Request) (string, error) {
		return "ok", nil
	}), 0.001, 1)

	// First call consumes the burst.
	if _, err := p.Invoke(context.Background(), Request{}); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Invoke(ctx, Request{}); err == nil {
		t.Fatal("expected error on cancelled context")
	}
}

func TestFromTransport(t *testing.T) {
	if _, ok := IsRateLimited(FromTransport(context.DeadlineExceeded)); !ok {
		t.Error("expected deadline to be transient")
	}
	if err := FromTransport(context.Canceled); !errors.Is(err, context.Canceled) {
		t.Errorf("expected cancellation to pass through, got %v", err)
	}
	if err := FromTransport(errors.New("connection refused")); !errors.Is(err, ErrProviderFatal) {
		t.Errorf("expected fatal error, got %v", err)
	}
}
