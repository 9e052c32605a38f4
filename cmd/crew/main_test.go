package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/mtzanidakis/crew/internal/config"
	"github.com/mtzanidakis/crew/internal/coordinator"
	"github.com/mtzanidakis/crew/internal/registry"
)

func TestParseParams(t *testing.T) {
	got, err := parseParams([]string{"topic=Go generics", "url=https://go.dev/?a=b", "empty="})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"topic": "Go generics", "url": "https://go.dev/?a=b", "empty": ""}
	if len(got) != len(want) {
		t.Fatalf("expected %d params, got %v", len(want), got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("param %s = %q, want %q", k, got[k], v)
		}
	}

	for _, bad := range []string{"noequals", "=value"} {
		if _, err := parseParams([]string{bad}); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestRetryPolicy(t *testing.T) {
	p := retryPolicy(config.RetryConfig{MaxAttempts: 5, BaseDelay: 3 * time.Second})
	if p.MaxAttempts != 5 || p.BaseDelay != 3*time.Second {
		t.Errorf("unexpected policy %+v", p)
	}
}

func TestPrintCrews(t *testing.T) {
	reg, err := registry.New("")
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := printCrews(&buf, reg.List()); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header and 3 crews, got %q", buf.String())
	}
	if !strings.HasPrefix(lines[0], "NAME") {
		t.Errorf("expected header first, got %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "blog") || !strings.Contains(lines[1], "topic") {
		t.Errorf("unexpected blog line %q", lines[1])
	}
	if !strings.Contains(lines[2], "hierarchical") || !strings.Contains(lines[2], "attendees,city,date,event") {
		t.Errorf("unexpected event line %q", lines[2])
	}
	if !strings.Contains(lines[3], "question,url") {
		t.Errorf("unexpected qa line %q", lines[3])
	}
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	printResult(&buf, coordinator.Run{Output: "final answer", Artifact: "output/x.md"})
	if buf.String() != "final answer\n\nArtifact: output/x.md\n" {
		t.Errorf("unexpected output %q", buf.String())
	}

	buf.Reset()
	printResult(&buf, coordinator.Run{Output: "only"})
	if buf.String() != "only\n" {
		t.Errorf("unexpected output %q", buf.String())
	}
}
