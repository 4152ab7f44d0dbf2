package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// setupTestRedis creates a test Redis client for testing.
// Unit tests expect a local Redis and skip when none is reachable; the
// integration suite runs the same paths against a containerized one.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	// Ping to check connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	// Flush test DB before each test
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestNewManager(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	manager := NewManager(client)
	if manager == nil {
		t.Fatal("NewManager returned nil")
	}
	if !manager.Enabled() {
		t.Error("Manager with Redis client should be enabled")
	}
}

func TestManager_Disabled(t *testing.T) {
	manager := NewManager(nil)
	ctx := context.Background()

	if manager.Enabled() {
		t.Error("Manager without Redis client should be disabled")
	}

	key := Key{Kind: KindRepository, Owner: "acme", Name: "web-app"}

	// Get always misses
	if _, err := manager.Get(ctx, key); err != ErrCacheMiss {
		t.Errorf("Get() error = %v, want ErrCacheMiss", err)
	}

	// Set and Delete are no-ops
	entry, err := NewEntry(map[string]int{"workflows": 1}, DefaultTTL)
	if err != nil {
		t.Fatalf("NewEntry() error = %v", err)
	}
	if err := manager.Set(ctx, key, entry); err != nil {
		t.Errorf("Set() on disabled manager error = %v, want nil", err)
	}
	if err := manager.Delete(ctx, key); err != nil {
		t.Errorf("Delete() on disabled manager error = %v, want nil", err)
	}
}

func TestManager_SetAndGet(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()

	key := Key{
		Kind:  KindRepository,
		Owner: "acme",
		Name:  "web-app",
	}

	type derived struct {
		Workflows int `json:"workflows"`
		Webhooks  int `json:"webhooks"`
	}

	entry, err := NewEntry(derived{Workflows: 7, Webhooks: 3}, 5*time.Minute)
	if err != nil {
		t.Fatalf("NewEntry failed: %v", err)
	}

	// Set entry
	if err := manager.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Get entry
	retrieved, err := manager.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	var decoded derived
	if err := retrieved.Decode(&decoded); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.Workflows != 7 {
		t.Errorf("Workflows = %d, want 7", decoded.Workflows)
	}
	if decoded.Webhooks != 3 {
		t.Errorf("Webhooks = %d, want 3", decoded.Webhooks)
	}
}

func TestManager_Get_CacheMiss(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()

	key := Key{
		Kind:  KindRepository,
		Owner: "acme",
		Name:  "nonexistent",
	}

	_, err := manager.Get(ctx, key)
	if err != ErrCacheMiss {
		t.Errorf("Expected ErrCacheMiss, got %v", err)
	}
}

func TestManager_Get_ExpiredEntry(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()

	key := Key{
		Kind:  KindOrganization,
		Owner: "acme",
	}

	// Create already expired entry
	entry := &Entry{
		Data:    []byte(`{"teams": 4}`),
		Expires: time.Now().Add(-1 * time.Hour),
	}

	// Set should not cache expired entries
	if err := manager.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Get should return cache miss
	_, err := manager.Get(ctx, key)
	if err != ErrCacheMiss {
		t.Errorf("Expected ErrCacheMiss for expired entry, got %v", err)
	}
}

func TestManager_Delete(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()

	key := Key{
		Kind:  KindRepository,
		Owner: "acme",
		Name:  "web-app",
	}

	entry, err := NewEntry(map[string]int{"workflows": 1}, 5*time.Minute)
	if err != nil {
		t.Fatalf("NewEntry failed: %v", err)
	}

	// Set entry
	if err := manager.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Verify it exists
	if _, err := manager.Get(ctx, key); err != nil {
		t.Fatalf("Get after Set failed: %v", err)
	}

	// Delete entry
	if err := manager.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	// Verify it's gone
	_, err = manager.Get(ctx, key)
	if err != ErrCacheMiss {
		t.Errorf("Expected ErrCacheMiss after Delete, got %v", err)
	}
}

func TestManager_Set_NilEntry(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()

	key := Key{
		Kind:  KindRepository,
		Owner: "acme",
		Name:  "web-app",
	}

	err := manager.Set(ctx, key, nil)
	if err == nil {
		t.Error("Set with nil entry should return error")
	}
}

func TestManager_Get_CorruptedEntry(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()

	key := Key{
		Kind:  KindRepository,
		Owner: "acme",
		Name:  "web-app",
	}

	// Write garbage under the key, bypassing Set
	if err := client.Set(ctx, key.String(), "not json", time.Minute).Err(); err != nil {
		t.Fatalf("Failed to seed corrupted entry: %v", err)
	}

	_, err := manager.Get(ctx, key)
	if err == nil {
		t.Fatal("Get should fail on corrupted entry")
	}
}
