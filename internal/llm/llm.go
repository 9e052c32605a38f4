// Package llm adapts language model backends to the provider contract.
package llm

import (
	"context"
	"fmt"

	"github.com/mtzanidakis/crew/internal/config"
	"github.com/mtzanidakis/crew/internal/provider"
)

// New builds the model provider described by cfg, paced by its rate limit.
func New(name string, cfg config.ProviderConfig) (provider.Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("provider %q: api key is required", name)
	}

	var (
		p   provider.Provider
		err error
	)
	switch cfg.Type {
	case config.TypeAnthropic:
		p = NewAnthropic(cfg)
	case config.TypeGemini:
		p, err = NewGemini(context.Background(), cfg)
	case config.TypeOpenAI:
		p = NewOpenAI(cfg)
	default:
		return nil, fmt.Errorf("provider %q: %q is not a model type", name, cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("provider %q: %w", name, err)
	}
	return provider.Limited(p, cfg.RateLimit, cfg.Burst), nil
}
