package registry

import (
	"fmt"
	"log/slog"

	"github.com/mtzanidakis/crew/internal/config"
	"github.com/mtzanidakis/crew/internal/crew"
	"github.com/mtzanidakis/crew/internal/llm"
	"github.com/mtzanidakis/crew/internal/provider"
	"github.com/mtzanidakis/crew/internal/tools"
)

// Providers resolves the provider names used in crew definitions.
type Providers struct {
	byName      map[string]provider.Provider
	unavailable map[string]error
	fallback    string
}

// NewProviders builds every configured provider. Providers that cannot be
// built (usually for lack of an API key) are remembered and reported when a
// crew asks for them.
func NewProviders(cfg *config.Config, cache tools.Cache) *Providers {
	p := &Providers{
		byName:      make(map[string]provider.Provider),
		unavailable: make(map[string]error),
		fallback:    cfg.Crews.Provider,
	}
	for _, name := range cfg.ProviderNames() {
		pc := cfg.Providers[name]
		var (
			prov provider.Provider
			err  error
		)
		if pc.IsModel() {
			prov, err = llm.New(name, pc)
		} else {
			prov, err = tools.New(name, pc, cache)
		}
		if err != nil {
			slog.Debug("provider unavailable", "provider", name, "error", err)
			p.unavailable[name] = err
			continue
		}
		p.byName[name] = prov
	}
	return p
}

// StaticProviders wraps ready providers; fallback names the provider used
// by agents that do not pick one.
func StaticProviders(byName map[string]provider.Provider, fallback string) *Providers {
	return &Providers{byName: byName, unavailable: map[string]error{}, fallback: fallback}
}

// Get returns the named provider, or the fallback for an empty name.
func (p *Providers) Get(name string) (provider.Provider, error) {
	if name == "" {
		name = p.fallback
	}
	if prov, ok := p.byName[name]; ok {
		return prov, nil
	}
	if err, ok := p.unavailable[name]; ok {
		return nil, fmt.Errorf("provider %q unavailable: %w", name, err)
	}
	return nil, fmt.Errorf("unknown provider %q", name)
}

// Build turns a definition into a fresh crew. A crew runs once, so every run
// builds its own.
func Build(def *Definition, providers *Providers, opts ...crew.Option) (*crew.Crew, error) {
	mode, err := crew.ParseMode(def.Mode)
	if err != nil {
		return nil, err
	}

	agents := make([]*crew.Agent, 0, len(def.Agents))
	byRole := make(map[string]*crew.Agent, len(def.Agents))
	for _, ad := range def.Agents {
		kind, err := crew.ParseKind(ad.Kind)
		if err != nil {
			return nil, err
		}
		prov, err := providers.Get(ad.Provider)
		if err != nil {
			return nil, fmt.Errorf("crew %q agent %q: %w", def.Name, ad.Role, err)
		}
		a := &crew.Agent{
			Role:      ad.Role,
			Goal:      ad.Goal,
			Backstory: ad.Backstory,
			Kind:      kind,
			Provider:  prov,
		}
		agents = append(agents, a)
		byRole[a.Role] = a
	}

	tasks := make([]*crew.Task, 0, len(def.Tasks))
	for _, td := range def.Tasks {
		t := &crew.Task{
			Name:           td.Name,
			Description:    td.Description,
			ExpectedOutput: td.ExpectedOutput,
			Upstream:       td.Context,
			Async:          td.Async,
		}
		if mode == crew.Pipeline {
			t.Agent = byRole[td.Agent]
		}
		for _, tool := range td.Tools {
			prov, err := providers.Get(tool.Provider)
			if err != nil {
				return nil, fmt.Errorf("crew %q task %q: %w", def.Name, td.Name, err)
			}
			t.Tools = append(t.Tools, provider.ToolRef{
				Name:        tool.Provider,
				Description: tool.Description,
				Input:       tool.Input,
				Provider:    prov,
			})
		}
		tasks = append(tasks, t)
	}

	base := []crew.Option{crew.WithName(def.Name), crew.WithMode(mode)}
	if def.Final != "" {
		base = append(base, crew.WithFinal(def.Final))
	}
	if def.Manager != "" {
		base = append(base, crew.WithManager(byRole[def.Manager]))
	}
	return crew.New(agents, tasks, append(base, opts...)...)
}
