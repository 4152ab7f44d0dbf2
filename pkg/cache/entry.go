package cache

import (
	"encoding/json"
	"fmt"
	"time"
)

// DefaultTTL keeps cached enrichment results for one day: a crawl
// resumed the same day reuses them, the next day's run refreshes them.
const DefaultTTL = 24 * time.Hour

// Entry represents one cached enrichment result.
type Entry struct {
	// Data is the serialized enrichment payload
	Data []byte `json:"data"`

	// Expires is when the cache entry becomes stale
	Expires time.Time `json:"expires"`

	// CachedAt is when we cached this result
	CachedAt time.Time `json:"cached_at"`
}

// NewEntry serializes v into an entry expiring after ttl.
func NewEntry(v any, ttl time.Duration) (*Entry, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal cache payload: %w", err)
	}

	now := time.Now()
	return &Entry{
		Data:     data,
		Expires:  now.Add(ttl),
		CachedAt: now,
	}, nil
}

// Decode unmarshals the entry payload into v.
func (e *Entry) Decode(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return nil
}

// IsExpired returns true if the cache entry has expired.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
