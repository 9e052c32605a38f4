// Package schedule parses and evaluates the recurrence rules attached to
// scheduled crew runs.
package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

// Kinds of recurrence.
const (
	KindCron     = "cron"
	KindInterval = "interval"
	KindOnce     = "once"
)

var ErrInvalidSchedule = errors.New("invalid schedule")

// Spec is the stored form of a recurrence rule.
type Spec struct {
	Kind     string `json:"kind"`
	Cron     string `json:"cron,omitempty"`
	Interval string `json:"interval,omitempty"`
	At       string `json:"at,omitempty"`
}

// Parse decodes a stored rule and validates it.
func Parse(raw string) (*Spec, error) {
	var s Spec
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Spec) validate() error {
	switch s.Kind {
	case KindCron:
		if !gronx.New().IsValid(s.Cron) {
			return fmt.Errorf("%w: bad cron expression %q", ErrInvalidSchedule, s.Cron)
		}
	case KindInterval:
		d, err := time.ParseDuration(s.Interval)
		if err != nil {
			return fmt.Errorf("%w: bad interval %q", ErrInvalidSchedule, s.Interval)
		}
		if d < time.Minute {
			return fmt.Errorf("%w: interval %s is shorter than a minute", ErrInvalidSchedule, d)
		}
	case KindOnce:
		if _, err := time.Parse(time.RFC3339, s.At); err != nil {
			return fmt.Errorf("%w: bad timestamp %q", ErrInvalidSchedule, s.At)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSchedule, s.Kind)
	}
	return nil
}

// Normalize accepts a rule written by a person and returns its stored form.
// Accepted inputs are a stored JSON rule, "every <duration>",
// "at <RFC3339 time>" and a cron expression.
func Normalize(input string) (string, error) {
	input = strings.TrimSpace(input)

	var s Spec
	switch {
	case strings.HasPrefix(input, "{"):
		p, err := Parse(input)
		if err != nil {
			return "", err
		}
		s = *p
	case strings.HasPrefix(input, "every "):
		s = Spec{Kind: KindInterval, Interval: strings.TrimSpace(strings.TrimPrefix(input, "every "))}
	case strings.HasPrefix(input, "at "):
		s = Spec{Kind: KindOnce, At: strings.TrimSpace(strings.TrimPrefix(input, "at "))}
	default:
		s = Spec{Kind: KindCron, Cron: input}
	}
	if err := s.validate(); err != nil {
		return "", err
	}

	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Next returns the first run time strictly after now, or nil when the rule
// will not fire again.
func Next(raw string, now time.Time) *time.Time {
	s, err := Parse(raw)
	if err != nil {
		return nil
	}

	var next time.Time
	switch s.Kind {
	case KindCron:
		next, err = gronx.NextTickAfter(s.Cron, now, false)
		if err != nil {
			return nil
		}
	case KindInterval:
		d, _ := time.ParseDuration(s.Interval)
		next = now.Add(d)
	case KindOnce:
		at, _ := time.Parse(time.RFC3339, s.At)
		if !at.After(now) {
			return nil
		}
		next = at
	}
	return &next
}

// Describe renders a rule for listings.
func Describe(raw string) string {
	s, err := Parse(raw)
	if err != nil {
		return raw
	}

	switch s.Kind {
	case KindCron:
		return "cron " + s.Cron
	case KindInterval:
		d, _ := time.ParseDuration(s.Interval)
		switch {
		case d%(24*time.Hour) == 0:
			return plural(int(d/(24*time.Hour)), "day")
		case d%time.Hour == 0:
			return plural(int(d/time.Hour), "hour")
		default:
			return plural(int(d/time.Minute), "minute")
		}
	default:
		at, _ := time.Parse(time.RFC3339, s.At)
		return "once at " + at.UTC().Format("2006-01-02 15:04 MST")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "every " + unit
	}
	return fmt.Sprintf("every %d %ss", n, unit)
}
