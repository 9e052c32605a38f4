package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	ErrRateLimited   = errors.New("rate limited")
	ErrProviderFatal = errors.New("provider fatal")
)

// RateLimitedError signals a transient failure. RetryAfter is the provider's
// hint, zero when none was given.
type RateLimitedError struct {
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitedError) Error() string {
	msg := fmt.Sprintf("rate limited (HTTP %d)", e.StatusCode)
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(", retry after %v", e.RetryAfter)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RateLimitedError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrRateLimited}
	}
	return []error{ErrRateLimited, e.Err}
}

// FatalError is a non-retryable failure such as bad credentials or a
// malformed request.
type FatalError struct {
	StatusCode int
	Reason     string
	Err        error
}

func (e *FatalError) Error() string {
	msg := e.Reason
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Reason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FatalError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrProviderFatal}
	}
	return []error{ErrProviderFatal, e.Err}
}

// RateLimited builds a *RateLimitedError with an explicit hint.
func RateLimited(retryAfter time.Duration) error {
	return &RateLimitedError{StatusCode: http.StatusTooManyRequests, RetryAfter: retryAfter}
}

// Fatal builds a *FatalError without a status code.
func Fatal(format string, args ...any) error {
	return &FatalError{Reason: fmt.Sprintf(format, args...)}
}

// FromHTTP classifies a failed HTTP exchange. 429 and 503 are rate limits
// honouring Retry-After; other 5xx are transient without a hint; everything
// else is fatal. reason is the provider's error message, if any.
func FromHTTP(status int, header http.Header, reason string) error {
	if reason == "" {
		reason = http.StatusText(status)
	}
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusServiceUnavailable:
		return &RateLimitedError{
			StatusCode: status,
			RetryAfter: ParseRetryAfter(header),
			Err:        errors.New(reason),
		}
	case status == http.StatusRequestTimeout, status >= 500:
		return &RateLimitedError{StatusCode: status, Err: errors.New(reason)}
	default:
		return &FatalError{StatusCode: status, Reason: reason}
	}
}

// ParseRetryAfter reads a Retry-After header given either as delay seconds
// or as an HTTP date. It returns zero when the header is absent or invalid.
func ParseRetryAfter(header http.Header) time.Duration {
	if header == nil {
		return 0
	}
	v := strings.TrimSpace(header.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// IsRateLimited reports whether err carries a rate-limit signal and returns
// the provider's hint.
func IsRateLimited(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

// FromTransport classifies failures that happened before any HTTP status was
// received. Timeouts are transient; cancellation is passed through.
func FromTransport(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return &RateLimitedError{Err: err}
	}
	return &FatalError{Reason: "request failed", Err: err}
}
