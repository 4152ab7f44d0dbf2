package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Manager handles caching operations with a Redis backend.
//
// A Manager without a Redis client is disabled: Get always misses, Set
// and Delete are no-ops. Callers therefore need no nil checks when
// caching is not configured.
type Manager struct {
	redis *redis.Client
}

// NewManager creates a new cache manager with a Redis backend.
// A nil client yields a disabled manager.
func NewManager(redisClient *redis.Client) *Manager {
	return &Manager{
		redis: redisClient,
	}
}

// Enabled reports whether a Redis backend is configured.
func (m *Manager) Enabled() bool {
	return m != nil && m.redis != nil
}

// Get retrieves a cache entry by key.
// Returns ErrCacheMiss if the key doesn't exist or the entry expired.
func (m *Manager) Get(ctx context.Context, key Key) (*Entry, error) {
	if !m.Enabled() {
		return nil, ErrCacheMiss
	}

	data, err := m.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if err == redis.Nil {
			CacheMisses.WithLabelValues(string(key.Kind)).Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	// Redis TTL normally evicts stale entries; the explicit check
	// covers clock skew between writer and reader
	if entry.IsExpired() {
		_ = m.Delete(ctx, key)
		CacheMisses.WithLabelValues(string(key.Kind)).Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues(string(key.Kind)).Inc()

	return &entry, nil
}

// Set stores a cache entry with TTL based on the entry's Expires field.
// The entry is automatically removed from Redis when it expires.
func (m *Manager) Set(ctx context.Context, key Key, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}
	if !m.Enabled() {
		return nil
	}

	ttl := entry.TTL()
	if ttl <= 0 {
		// Already expired, don't cache
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.redis.Set(ctx, key.String(), data, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Delete removes a cache entry.
func (m *Manager) Delete(ctx context.Context, key Key) error {
	if !m.Enabled() {
		return nil
	}

	if err := m.redis.Del(ctx, key.String()).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}

	return nil
}
