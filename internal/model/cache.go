package model

import "time"

// SearchCacheEntry is one cached search page keyed by a hash of the search
// parameters. Data is the serialized page.
type SearchCacheEntry struct {
	Key       string    `json:"key"`
	Data      []byte    `json:"data"`
	CachedAt  time.Time `json:"cached_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the entry is stale at now.
func (e *SearchCacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}
