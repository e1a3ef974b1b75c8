package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyStore records the result of a mutating call under its idempotency
// key so a retry returns the recorded result instead of repeating the call. It
// backs providers without native idempotency support.
type IdempotencyStore interface {
	// Get returns the recorded value, or ok=false when nothing is recorded.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Put records value unless the key already holds one. Returns false when
	// another caller recorded first.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// Set records value, replacing any existing record.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes the record, if any.
	Delete(ctx context.Context, key string) error
}

// RedisIdempotencyStore keeps records in Redis with SET NX.
type RedisIdempotencyStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisIdempotencyStore creates a store. Keys are namespaced with prefix.
func NewRedisIdempotencyStore(client redis.UniversalClient, prefix string) *RedisIdempotencyStore {
	if prefix == "" {
		prefix = "billing:idempotency:"
	}
	return &RedisIdempotencyStore{client: client, prefix: prefix}
}

func (s *RedisIdempotencyStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (s *RedisIdempotencyStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, s.prefix+key, value, ttl).Result()
}

func (s *RedisIdempotencyStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, s.prefix+key, value, ttl).Err()
}

func (s *RedisIdempotencyStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

type memoryRecord struct {
	value     []byte
	expiresAt time.Time
}

// MemoryIdempotencyStore keeps records in process memory. Used when Redis is not
// configured and in tests.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	records map[string]memoryRecord
	now     func() time.Time
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		records: make(map[string]memoryRecord),
		now:     time.Now,
	}
}

func (s *MemoryIdempotencyStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, false, nil
	}
	if !rec.expiresAt.IsZero() && !s.now().Before(rec.expiresAt) {
		delete(s.records, key)
		return nil, false, nil
	}
	return rec.value, true, nil
}

func (s *MemoryIdempotencyStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if rec, ok := s.records[key]; ok && (rec.expiresAt.IsZero() || now.Before(rec.expiresAt)) {
		return false, nil
	}
	s.records[key] = newMemoryRecord(value, now, ttl)
	return true, nil
}

func (s *MemoryIdempotencyStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[key] = newMemoryRecord(value, s.now(), ttl)
	return nil
}

func (s *MemoryIdempotencyStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, key)
	return nil
}

func newMemoryRecord(value []byte, now time.Time, ttl time.Duration) memoryRecord {
	rec := memoryRecord{value: append([]byte(nil), value...)}
	if ttl > 0 {
		rec.expiresAt = now.Add(ttl)
	}
	return rec
}
