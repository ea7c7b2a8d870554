package dedup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Backend names.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// ErrClosed is returned by operations on a closed key set.
var ErrClosed = errors.New("key set closed")

// KeySet remembers which keys have been seen during a run.
// Implementations are safe for concurrent use.
type KeySet interface {
	// Add records key and reports whether it was new.
	Add(ctx context.Context, key Key) (bool, error)

	// Len returns the number of distinct keys recorded.
	Len(ctx context.Context) (int64, error)

	// Close releases the set's resources.
	Close() error
}

// Row is a record kept next to its key by a RowStore.
type Row struct {
	Kind     string
	Resource string

	// Data is the JSON object of the row's fields
	Data []byte
}

// RowStore is a KeySet that also keeps the rows themselves, so the output
// of a run does not have to fit in memory.
type RowStore interface {
	KeySet

	// AddRow records key together with row and reports whether key was
	// new. The row of a known key is left unchanged.
	AddRow(ctx context.Context, key Key, row Row) (bool, error)

	// Rows calls fn for every stored row in insertion order and stops at
	// the first error.
	Rows(ctx context.Context, fn func(Row) error) error
}

// Config selects and configures a key set backend.
type Config struct {
	// Backend is one of "memory" (default), "redis" or "sqlite"
	Backend string

	// RunID namespaces the keys of one run in shared backends.
	// A random UUID is used when empty.
	RunID string

	// Redis is required for the redis backend
	Redis *redis.Client

	// RedisPrefix prefixes the Redis set key (default "harvest:dedup")
	RedisPrefix string

	// TTL expires the Redis set after the last write (default 24h)
	TTL time.Duration

	// SQLitePath is the database file for the sqlite backend
	SQLitePath string
}

// New opens the key set described by cfg.
func New(cfg Config) (KeySet, error) {
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}

	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemorySet(), nil
	case BackendRedis:
		if cfg.Redis == nil {
			return nil, fmt.Errorf("redis backend requires a redis client")
		}
		return NewRedisSet(cfg.Redis, cfg.RedisPrefix, cfg.RunID, cfg.TTL), nil
	case BackendSQLite:
		if cfg.SQLitePath == "" {
			return nil, fmt.Errorf("sqlite backend requires a path")
		}
		return OpenSQLiteSet(cfg.SQLitePath, cfg.RunID)
	default:
		return nil, fmt.Errorf("unknown dedup backend %q", cfg.Backend)
	}
}

// MemorySet is an in-process KeySet.
type MemorySet struct {
	mu     sync.Mutex
	seen   map[string]struct{}
	closed bool
}

// NewMemorySet creates an empty in-memory key set.
func NewMemorySet() *MemorySet {
	return &MemorySet{seen: make(map[string]struct{})}
}

// Add implements KeySet.
func (s *MemorySet) Add(_ context.Context, key Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrClosed
	}
	k := key.String()
	if _, ok := s.seen[k]; ok {
		observeAdd(BackendMemory, false)
		return false, nil
	}
	s.seen[k] = struct{}{}
	observeAdd(BackendMemory, true)
	return true, nil
}

// Len implements KeySet.
func (s *MemorySet) Len(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.seen)), nil
}

// Close implements KeySet.
func (s *MemorySet) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.seen = nil
	return nil
}
