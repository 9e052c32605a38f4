package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mtzanidakis/crew/internal/crew"
	"github.com/mtzanidakis/crew/internal/provider"
)

const pairCrew = `
name: pair
description: Two step crew
agents:
  - role: Writer
    provider: fake
tasks:
  - name: first
    agent: Writer
    description: Say {word}
  - name: second
    agent: Writer
    context: [first]
    description: Repeat it
`

func writeDef(t *testing.T, dir, file, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, file), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestBuiltins(t *testing.T) {
	r, err := New("")
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"blog", "event", "qa"} {
		def, ok := r.Get(name)
		if !ok {
			t.Fatalf("missing builtin %s", name)
		}
		if def.Source != "builtin" {
			t.Errorf("%s: expected builtin source, got %q", name, def.Source)
		}
	}
	if got := strings.Join(mustGet(t, r, "qa").Params(), ","); got != "question,url" {
		t.Errorf("expected qa params question,url, got %s", got)
	}
	if got := strings.Join(mustGet(t, r, "event").Params(), ","); got != "attendees,city,date,event" {
		t.Errorf("unexpected event params %s", got)
	}
}

func mustGet(t *testing.T, r *Registry, name string) *Definition {
	t.Helper()
	def, ok := r.Get(name)
	if !ok {
		t.Fatalf("crew %s not found", name)
	}
	return def
}

func TestDirectoryOverridesBuiltin(t *testing.T) {
	dir := t.TempDir()
	writeDef(t, dir, "qa.yaml", strings.Replace(pairCrew, "name: pair", "name: qa", 1))
	writeDef(t, dir, "notes.txt", "ignored")

	r, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	def := mustGet(t, r, "qa")
	if def.Source != filepath.Join(dir, "qa.yaml") || len(def.Tasks) != 2 {
		t.Errorf("expected directory definition to win, got %+v", def)
	}
	if len(r.List()) != 3 {
		t.Errorf("expected 3 crews, got %d", len(r.List()))
	}
}

func TestInvalidFileFailsLoad(t *testing.T) {
	dir := t.TempDir()
	writeDef(t, dir, "bad.yaml", "name: bad\ntasks:\n  - name: a\n    description: x\n    agent: nobody\n")
	if _, err := New(dir); !errors.Is(err, ErrInvalidDefinition) {
		t.Fatalf("expected ErrInvalidDefinition, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"bad name":       "name: Bad Name\nagents: [{role: w}]\ntasks: [{name: a, agent: w, description: x}]",
		"no tasks":       "name: x\nagents: [{role: w}]",
		"cycle":          "name: x\nagents: [{role: w}]\ntasks: [{name: a, agent: w, description: x, context: [b]}, {name: b, agent: w, description: y, context: [a]}]",
		"unknown ref":    "name: x\nagents: [{role: w}]\ntasks: [{name: a, agent: w, description: x, context: [ghost]}]",
		"duplicate role": "name: x\nagents: [{role: w}, {role: w}]\ntasks: [{name: a, agent: w, description: x}]",
		"manager task":   "name: x\nagents: [{role: m, kind: manager}]\ntasks: [{name: a, agent: m, description: x}]",
		"final missing":  "name: x\nfinal: z\nagents: [{role: w}]\ntasks: [{name: a, agent: w, description: x}]",
		"no manager":     "name: x\nmode: hierarchical\nagents: [{role: w}]\ntasks: [{name: a, description: x}]",
		"bad mode":       "name: x\nmode: swarm\nagents: [{role: w}]\ntasks: [{name: a, agent: w, description: x}]",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(body)); !errors.Is(err, ErrInvalidDefinition) {
				t.Fatalf("expected ErrInvalidDefinition, got %v", err)
			}
		})
	}
}

func TestCheckParams(t *testing.T) {
	def, err := Parse([]byte(pairCrew))
	if err != nil {
		t.Fatal(err)
	}
	if err := def.CheckParams(nil); !errors.Is(err, ErrMissingParams) || !strings.Contains(err.Error(), "word") {
		t.Errorf("expected missing word, got %v", err)
	}
	if err := def.CheckParams(map[string]string{"word": "hi"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestReloadReportsChanges(t *testing.T) {
	dir := t.TempDir()
	writeDef(t, dir, "pair.yaml", pairCrew)
	r, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}

	writeDef(t, dir, "pair.yaml", strings.Replace(pairCrew, "Two step crew", "Changed", 1))
	writeDef(t, dir, "solo.yaml", "name: solo\nagents: [{role: w}]\ntasks: [{name: a, agent: w, description: x}]")
	ch, err := r.Reload()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(ch.Added, ",") != "solo" || strings.Join(ch.Changed, ",") != "pair" || len(ch.Removed) != 0 {
		t.Errorf("unexpected changes %+v", ch)
	}

	if err := os.Remove(filepath.Join(dir, "solo.yaml")); err != nil {
		t.Fatal(err)
	}
	writeDef(t, dir, "broken.yaml", "name: [")
	if _, err := r.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if _, ok := r.Get("solo"); !ok {
		t.Error("failed reload must keep previous definitions")
	}
}

func TestBuildAndRun(t *testing.T) {
	def, err := Parse([]byte(pairCrew))
	if err != nil {
		t.Fatal(err)
	}
	fake := provider.Func(func(ctx context.Context, req provider.Request) (string, error) {
		if req.Context == "" {
			return strings.TrimPrefix(req.Instruction, "Say "), nil
		}
		return req.Context + " " + req.Context, nil
	})
	c, err := Build(def, StaticProviders(map[string]provider.Provider{"fake": fake}, "fake"))
	if err != nil {
		t.Fatal(err)
	}
	if c.Name() != "pair" || c.Mode() != crew.Pipeline {
		t.Errorf("unexpected crew %s/%s", c.Name(), c.Mode())
	}
	res, err := c.Kickoff(context.Background(), map[string]string{"word": "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Output != "hello hello" {
		t.Errorf("expected 'hello hello', got %q", res.Output)
	}
}

func TestBuildBuiltinsWithTools(t *testing.T) {
	r, err := New("")
	if err != nil {
		t.Fatal(err)
	}
	echo := provider.Func(func(ctx context.Context, req provider.Request) (string, error) {
		return "ok", nil
	})
	providers := StaticProviders(map[string]provider.Provider{
		"openai":    echo,
		"serper":    echo,
		"firecrawl": echo,
	}, "openai")
	for _, def := range r.List() {
		if _, err := Build(def, providers); err != nil {
			t.Errorf("build %s: %v", def.Name, err)
		}
	}

	_, err = Build(mustGet(t, r, "qa"), StaticProviders(map[string]provider.Provider{"openai": echo}, "openai"))
	if err == nil || !strings.Contains(err.Error(), "firecrawl") {
		t.Errorf("expected missing firecrawl error, got %v", err)
	}
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan Changes, 1)
	if err := r.Watch(ctx, func(ch Changes) { changes <- ch }); err != nil {
		t.Fatal(err)
	}
	writeDef(t, dir, "pair.yaml", pairCrew)

	select {
	case ch := <-changes:
		if strings.Join(ch.Added, ",") != "pair" {
			t.Errorf("unexpected changes %+v", ch)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for reload")
	}
}
