package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/mtzanidakis/crew/internal/provider"
	"github.com/mtzanidakis/crew/internal/store"
)

// Cached serves repeated tool inputs from cache until ttl elapses. Cache
// failures are logged and fall through to the tool.
func Cached(p provider.Provider, name string, cache Cache, ttl time.Duration) provider.Provider {
	return &cached{next: p, name: name, cache: cache, ttl: ttl, now: time.Now}
}

type cached struct {
	next  provider.Provider
	name  string
	cache Cache
	ttl   time.Duration
	now   func() time.Time
}

func (c *cached) Invoke(ctx context.Context, req provider.Request) (string, error) {
	key := cacheKey(c.name, req.Instruction)
	now := c.now()

	page, err := c.cache.GetCachedPage(key, now)
	if err != nil {
		slog.Warn("tool cache read failed", "tool", c.name, "error", err)
	} else if page != nil {
		slog.Debug("tool cache hit", "tool", c.name, "fetched_at", page.FetchedAt)
		return page.Body, nil
	}

	out, err := c.next.Invoke(ctx, req)
	if err != nil {
		return "", err
	}

	if err := c.cache.PutCachedPage(&store.CachedPage{
		Key:       key,
		Provider:  c.name,
		Body:      out,
		FetchedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}); err != nil {
		slog.Warn("tool cache write failed", "tool", c.name, "error", err)
	}
	return out, nil
}

func cacheKey(name, in string) string {
	sum := sha256.Sum256([]byte(name + "\x00" + in))
	return hex.EncodeToString(sum[:])
}
