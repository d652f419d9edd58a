package velocity

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the counter-store boundary: fixed-window counters keyed by a
// derived string with an expiry equal to the window.
type Store interface {
	// IncrementAndGet bumps the counter and returns the post-increment value.
	IncrementAndGet(ctx context.Context, key string, window time.Duration) (int64, error)
	// Get returns the current value without mutating (0 when absent).
	Get(ctx context.Context, key string) (int64, error)
}

// RedisStore implements Store on a shared redis instance using INCR+EXPIRE
// fixed windows.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore wraps an existing client. prefix namespaces all counter keys.
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "authgate"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) key(k string) string { return s.prefix + ":" + k }

func (s *RedisStore) IncrementAndGet(ctx context.Context, key string, window time.Duration) (int64, error) {
	k := s.key(key)
	n, err := s.rdb.Incr(ctx, k).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		// First hit opens the window.
		if err := s.rdb.Expire(ctx, k, window).Err(); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	n, err := s.rdb.Get(ctx, s.key(key)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

// MemoryStore is a process-local Store for tests and single-node development.
// Windows expire lazily on access.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memEntry
}

type memEntry struct {
	count     int64
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memEntry)}
}

func (s *MemoryStore) IncrementAndGet(_ context.Context, key string, window time.Duration) (int64, error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	ent, ok := s.entries[key]
	if !ok || now.After(ent.expiresAt) {
		ent = &memEntry{expiresAt: now.Add(window)}
		s.entries[key] = ent
	}
	ent.count++
	return ent.count, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (int64, error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	ent, ok := s.entries[key]
	if !ok || now.After(ent.expiresAt) {
		return 0, nil
	}
	return ent.count, nil
}
