// Package tools adapts web search, scrape and fetch services to the
// provider contract. A tool receives its rendered input as the request
// instruction and answers with text an agent can read.
package tools

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/mtzanidakis/crew/internal/config"
	"github.com/mtzanidakis/crew/internal/provider"
	"github.com/mtzanidakis/crew/internal/store"
)

// Cache keeps tool results between runs.
type Cache interface {
	GetCachedPage(key string, now time.Time) (*store.CachedPage, error)
	PutCachedPage(p *store.CachedPage) error
}

// New builds the tool provider described by cfg. Results of scrape and
// fetch tools are cached for cfg.CacheTTL when cache is not nil.
func New(name string, cfg config.ProviderConfig, cache Cache) (provider.Provider, error) {
	var p provider.Provider
	switch cfg.Type {
	case config.TypeSerper:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("tool %q: api key is required", name)
		}
		p = NewSerper(cfg)
	case config.TypeFirecrawl:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("tool %q: api key is required", name)
		}
		p = NewFirecrawl(cfg)
	case config.TypeFetch:
		p = NewFetch(cfg)
	default:
		return nil, fmt.Errorf("tool %q: %q is not a tool type", name, cfg.Type)
	}
	if cache != nil && cfg.CacheTTL > 0 {
		p = Cached(p, name, cache, cfg.CacheTTL)
	}
	return provider.Limited(p, cfg.RateLimit, cfg.Burst), nil
}

func newHTTP(cfg config.ProviderConfig) *resty.Client {
	c := resty.New().
		SetHeader("User-Agent", "crew/1.0").
		SetHeader("Accept", "application/json")
	if cfg.BaseURL != "" {
		c.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/"))
	}
	if cfg.Timeout > 0 {
		c.SetTimeout(cfg.Timeout)
	}
	return c
}

// input returns the trimmed instruction, failing fatally when it is empty.
func input(req provider.Request) (string, error) {
	in := strings.TrimSpace(req.Instruction)
	if in == "" {
		return "", provider.Fatal("empty tool input")
	}
	return in, nil
}
