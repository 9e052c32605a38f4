package store

import (
	"database/sql"
	"fmt"
	"time"
)

// CachedPage is a tool result kept so repeated runs do not hit the same
// scrape or fetch endpoint again.
type CachedPage struct {
	Key       string
	Provider  string
	Body      string
	FetchedAt time.Time
	ExpiresAt time.Time
}

// GetCachedPage returns nil when the key is missing or expired.
func (s *Store) GetCachedPage(key string, now time.Time) (*CachedPage, error) {
	var p CachedPage
	var fetched, expires int64
	err := s.db.QueryRow(`
		SELECT key, provider, body, fetched_at, expires_at
		FROM page_cache WHERE key = ? AND expires_at > ?`, key, now.Unix()).
		Scan(&p.Key, &p.Provider, &p.Body, &fetched, &expires)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached page: %w", err)
	}
	p.FetchedAt = time.Unix(fetched, 0)
	p.ExpiresAt = time.Unix(expires, 0)
	return &p, nil
}

func (s *Store) PutCachedPage(p *CachedPage) error {
	_, err := s.db.Exec(`
		INSERT INTO page_cache (key, provider, body, fetched_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			provider = excluded.provider, body = excluded.body,
			fetched_at = excluded.fetched_at, expires_at = excluded.expires_at`,
		p.Key, p.Provider, p.Body, p.FetchedAt.Unix(), p.ExpiresAt.Unix())
	if err != nil {
		return fmt.Errorf("put cached page: %w", err)
	}
	return nil
}

// PruneCache removes expired entries and returns how many were dropped.
func (s *Store) PruneCache(now time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM page_cache WHERE expires_at <= ?`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("prune cache: %w", err)
	}
	return res.RowsAffected()
}
