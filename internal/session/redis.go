package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/hcpsim/coachgate/internal/models"
)

const redisKeyPrefix = "coachgate:session:"

// RedisStore persists session state in Redis with native TTL expiry.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("RedisStore: failed to connect", "error", err, "addr", addr)
		return nil, err
	}
	slog.Info("RedisStore: connected", "addr", addr, "db", db)
	return &RedisStore{rdb: rdb}, nil
}

// Get retrieves session state; returns (nil, nil) when absent or expired.
func (s *RedisStore) Get(ctx context.Context, key string) (*models.SessionState, error) {
	data, err := s.rdb.Get(ctx, redisKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		slog.Debug("RedisStore.Get: not found", "key", key)
		return nil, nil
	}
	if err != nil {
		slog.Error("RedisStore.Get: failed", "error", err, "key", key)
		return nil, err
	}
	var state models.SessionState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		slog.Error("RedisStore.Get: corrupt state, discarding", "error", err, "key", key)
		return nil, nil
	}
	return &state, nil
}

// Put stores session state with the session TTL.
func (s *RedisStore) Put(ctx context.Context, key string, state models.SessionState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, redisKeyPrefix+key, data, models.SessionTTL).Err(); err != nil {
		slog.Error("RedisStore.Put: failed", "error", err, "key", key)
		return err
	}
	slog.Debug("RedisStore.Put: stored", "key", key, "ttl", models.SessionTTL)
	return nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
