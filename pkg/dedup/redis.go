package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix prefixes Redis dedup sets.
const DefaultRedisPrefix = "harvest:dedup"

// RedisSet is a KeySet stored as one Redis set per run, so several
// harvester processes can share dedup state.
type RedisSet struct {
	redis *redis.Client
	key   string
	ttl   time.Duration
}

// NewRedisSet creates a key set backed by the Redis set prefix:runID.
func NewRedisSet(rc *redis.Client, prefix, runID string, ttl time.Duration) *RedisSet {
	if rc == nil {
		panic("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisSet{
		redis: rc,
		key:   prefix + ":" + runID,
		ttl:   ttl,
	}
}

// Key returns the Redis key holding the set.
func (s *RedisSet) Key() string {
	return s.key
}

// Add implements KeySet.
func (s *RedisSet) Add(ctx context.Context, key Key) (bool, error) {
	pipe := s.redis.TxPipeline()
	added := pipe.SAdd(ctx, s.key, key.String())
	pipe.Expire(ctx, s.key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		Errors.WithLabelValues(BackendRedis, "add").Inc()
		return false, fmt.Errorf("redis sadd: %w", err)
	}

	isNew := added.Val() == 1
	observeAdd(BackendRedis, isNew)
	return isNew, nil
}

// Len implements KeySet.
func (s *RedisSet) Len(ctx context.Context) (int64, error) {
	n, err := s.redis.SCard(ctx, s.key).Result()
	if err != nil {
		Errors.WithLabelValues(BackendRedis, "len").Inc()
		return 0, fmt.Errorf("redis scard: %w", err)
	}
	return n, nil
}

// Close implements KeySet. The shared client stays open; the set itself
// expires through its TTL.
func (s *RedisSet) Close() error {
	return nil
}
