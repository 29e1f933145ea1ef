package navigation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultHistoryTTL is how long an idle session keeps its breadcrumb.
const DefaultHistoryTTL = 8 * time.Hour

// HistoryStore persists breadcrumbs per session.
type HistoryStore interface {
	// Load returns the stored entries, or nil when the session has none.
	Load(ctx context.Context, sessionID string) ([]string, error)
	// Save replaces the stored entries and refreshes the TTL.
	Save(ctx context.Context, sessionID string, entries []string) error
	// Delete forgets the session.
	Delete(ctx context.Context, sessionID string) error
}

// --- MemoryHistoryStore ---

// MemoryHistoryStore is an in-memory HistoryStore with TTL support.
// Suitable for testing and single-instance deployments.
type MemoryHistoryStore struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memHistory
	locks   keyedMutex
}

type memHistory struct {
	paths     []string
	expiresAt time.Time
}

// NewMemoryHistoryStore creates an in-memory store. A non-positive ttl uses
// DefaultHistoryTTL.
func NewMemoryHistoryStore(ttl time.Duration) *MemoryHistoryStore {
	if ttl <= 0 {
		ttl = DefaultHistoryTTL
	}
	return &MemoryHistoryStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memHistory),
	}
}

// Load returns the session's entries if they have not expired.
func (s *MemoryHistoryStore) Load(_ context.Context, sessionID string) ([]string, error) {
	s.mu.RLock()
	h, ok := s.entries[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if s.now().After(h.expiresAt) {
		s.mu.Lock()
		delete(s.entries, sessionID)
		s.mu.Unlock()
		return nil, nil
	}
	return slices.Clone(h.paths), nil
}

// Save stores entries for the session.
func (s *MemoryHistoryStore) Save(_ context.Context, sessionID string, entries []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[sessionID] = memHistory{paths: slices.Clone(entries), expiresAt: s.now().Add(s.ttl)}
	return nil
}

// Delete forgets the session.
func (s *MemoryHistoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, sessionID)
	return nil
}

// HealthCheck always succeeds.
func (s *MemoryHistoryStore) HealthCheck(context.Context) error { return nil }

// --- RedisHistoryStore ---

// RedisHistoryStore keeps breadcrumbs as JSON arrays under "nav:{session}".
type RedisHistoryStore struct {
	client  redis.Cmdable
	ttl     time.Duration
	lockTTL time.Duration
}

// NewRedisHistoryStore creates a Redis-backed store. A non-positive ttl uses
// DefaultHistoryTTL.
func NewRedisHistoryStore(client redis.Cmdable, ttl time.Duration) *RedisHistoryStore {
	if ttl <= 0 {
		ttl = DefaultHistoryTTL
	}
	return &RedisHistoryStore{client: client, ttl: ttl, lockTTL: DefaultLockTTL}
}

// HistoryKey is the Redis key for a session's breadcrumb.
func HistoryKey(sessionID string) string {
	return "nav:" + sessionID
}

// Load reads the session's entries.
func (s *RedisHistoryStore) Load(ctx context.Context, sessionID string) ([]string, error) {
	key := HistoryKey(sessionID)
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %q: %w", key, err)
	}
	var entries []string
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("unmarshal history %q: %w", key, err)
	}
	return entries, nil
}

// Save writes the session's entries with the store TTL.
func (s *RedisHistoryStore) Save(ctx context.Context, sessionID string, entries []string) error {
	if entries == nil {
		entries = []string{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	key := HistoryKey(sessionID)
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// Delete removes the session's entries.
func (s *RedisHistoryStore) Delete(ctx context.Context, sessionID string) error {
	key := HistoryKey(sessionID)
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}

// HealthCheck pings Redis.
func (s *RedisHistoryStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
