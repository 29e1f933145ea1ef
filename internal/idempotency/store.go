// Package idempotency replays gateway run responses for requests that carry
// an Idempotency-Key header, so a retried POST does not trigger the backend
// side effect twice.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/operations/model"
)

// Header is the request header clients use to mark a retryable run.
const Header = "Idempotency-Key"

// ReplayedHeader is set on responses served from the store.
const ReplayedHeader = "Idempotent-Replayed"

// DefaultTTL is how long a stored response is replayed.
const DefaultTTL = 24 * time.Hour

// DefaultPendingTTL bounds a reservation whose holder never completes or
// releases it.
const DefaultPendingTTL = time.Minute

// Response is a stored run response.
type Response struct {
	Status int    `json:"status"`
	Body   []byte `json:"body"`
}

// Store deduplicates runs by key.
//
// Reserve claims key for the request hash. It returns the stored response
// when the key already completed with the same hash, CONFLICT when it was
// used with a different hash or is still being processed, and (nil, nil)
// when the caller now holds the key. A holder finishes with Complete, or
// Release when the run failed and may be retried.
type Store interface {
	Reserve(ctx context.Context, key, requestHash string) (*Response, error)
	Complete(ctx context.Context, key, requestHash string, resp Response, ttl time.Duration) error
	Release(ctx context.Context, key, requestHash string) error
}

type entry struct {
	RequestHash string    `json:"request_hash"`
	Pending     bool      `json:"pending,omitempty"`
	Response    *Response `json:"response,omitempty"`
}

// resolve decides what a request with requestHash gets for an existing entry.
func (e entry) resolve(key, requestHash string) (*Response, error) {
	switch {
	case e.RequestHash != requestHash:
		return nil, model.NewConflictError(
			fmt.Sprintf("idempotency key %q already used with a different request", key))
	case e.Pending:
		return nil, model.NewConflictError(
			fmt.Sprintf("a request with idempotency key %q is still in progress", key))
	}
	resp := *e.Response
	return &resp, nil
}

// Key scopes a client key to the session and operation that used it.
func Key(sessionID, operationKey, clientKey string) string {
	return fmt.Sprintf("idem:%s:%s:%s", sessionID, operationKey, clientKey)
}

// Hash fingerprints a request body.
func Hash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// --- MemoryStore ---

// MemoryStore keeps responses in process with TTL expiry.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]memEntry
	pendingTTL time.Duration
	now        func() time.Time
}

type memEntry struct {
	data      entry
	expiresAt time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:    make(map[string]memEntry),
		pendingTTL: DefaultPendingTTL,
		now:        time.Now,
	}
}

// Reserve claims key or resolves it against the existing entry.
func (s *MemoryStore) Reserve(_ context.Context, key, requestHash string) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[key]; ok && now.Before(e.expiresAt) {
		return e.data.resolve(key, requestHash)
	}
	s.entries[key] = memEntry{
		data:      entry{RequestHash: requestHash, Pending: true},
		expiresAt: now.Add(s.pendingTTL),
	}
	return nil, nil
}

// Complete stores resp under key.
func (s *MemoryStore) Complete(_ context.Context, key, requestHash string, resp Response, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memEntry{
		data:      entry{RequestHash: requestHash, Response: &resp},
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

// Release drops a pending reservation held for requestHash.
func (s *MemoryStore) Release(_ context.Context, key, requestHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && e.data.Pending && e.data.RequestHash == requestHash {
		delete(s.entries, key)
	}
	return nil
}

// Len returns the number of entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// HealthCheck always succeeds.
func (s *MemoryStore) HealthCheck(context.Context) error { return nil }

// --- RedisStore ---

// RedisStore keeps responses in Redis. Reservations are taken with SET NX.
type RedisStore struct {
	client     redis.Cmdable
	pendingTTL time.Duration
}

// NewRedisStore creates a RedisStore.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client, pendingTTL: DefaultPendingTTL}
}

// releaseScript deletes the key only while it still holds the given pending
// marker.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func pendingMarker(requestHash string) ([]byte, error) {
	return json.Marshal(entry{RequestHash: requestHash, Pending: true})
}

// Reserve claims key or resolves it against the existing entry.
func (s *RedisStore) Reserve(ctx context.Context, key, requestHash string) (*Response, error) {
	marker, err := pendingMarker(requestHash)
	if err != nil {
		return nil, fmt.Errorf("marshal idempotency marker: %w", err)
	}
	// The existing entry may expire between SETNX and GET; one more claim
	// settles it.
	for range 2 {
		claimed, err := s.client.SetNX(ctx, key, marker, s.pendingTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("redis setnx %q: %w", key, err)
		}
		if claimed {
			return nil, nil
		}
		raw, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis get %q: %w", key, err)
		}
		var e entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("unmarshal idempotency entry %q: %w", key, err)
		}
		return e.resolve(key, requestHash)
	}
	return nil, model.NewConflictError(fmt.Sprintf("idempotency key %q is contended", key))
}

// Complete stores resp under key.
func (s *RedisStore) Complete(ctx context.Context, key, requestHash string, resp Response, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	data, err := json.Marshal(entry{RequestHash: requestHash, Response: &resp})
	if err != nil {
		return fmt.Errorf("marshal idempotency entry: %w", err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// Release drops a pending reservation held for requestHash.
func (s *RedisStore) Release(ctx context.Context, key, requestHash string) error {
	marker, err := pendingMarker(requestHash)
	if err != nil {
		return fmt.Errorf("marshal idempotency marker: %w", err)
	}
	if err := releaseScript.Run(ctx, s.client, []string{key}, marker).Err(); err != nil {
		return fmt.Errorf("redis release %q: %w", key, err)
	}
	return nil
}

// HealthCheck pings Redis.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
