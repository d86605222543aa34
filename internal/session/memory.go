package session

import (
	"context"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/hcpsim/coachgate/internal/models"
)

// MemoryStore holds session state in process memory with TTL expiry.
// It is the degraded-mode fallback when no external store is reachable,
// and the default backend in tests.
type MemoryStore struct {
	cache *gocache.Cache
}

// NewMemoryStore creates an in-memory session store with the session TTL.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithTTL(models.SessionTTL)
}

// NewMemoryStoreWithTTL creates an in-memory store with a custom TTL,
// used by tests that exercise expiry.
func NewMemoryStoreWithTTL(ttl time.Duration) *MemoryStore {
	cleanup := ttl
	if cleanup > 30*time.Minute {
		cleanup = 30 * time.Minute
	}
	return &MemoryStore{cache: gocache.New(ttl, cleanup)}
}

// Get retrieves session state; returns (nil, nil) when absent or expired.
func (s *MemoryStore) Get(ctx context.Context, key string) (*models.SessionState, error) {
	raw, found := s.cache.Get(key)
	if !found {
		slog.Debug("MemoryStore.Get: not found", "key", key)
		return nil, nil
	}
	state, ok := raw.(models.SessionState)
	if !ok {
		return nil, nil
	}
	return &state, nil
}

// Put stores session state with the store's default TTL.
func (s *MemoryStore) Put(ctx context.Context, key string, state models.SessionState) error {
	s.cache.Set(key, state, gocache.DefaultExpiration)
	return nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
