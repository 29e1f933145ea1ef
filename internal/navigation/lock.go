package navigation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultLockTTL bounds how long a Redis session lock survives a crashed
// holder. It must exceed the gateway's handler timeout.
const DefaultLockTTL = 30 * time.Second

const lockRetryInterval = 20 * time.Millisecond

// SessionLocker serializes load-modify-save cycles of one session's
// breadcrumb. OpenSession takes the lock when the store implements it and
// Session.Close releases it.
type SessionLocker interface {
	LockSession(ctx context.Context, sessionID string) (unlock func(), err error)
}

// keyedMutex hands out one context-aware mutex per key and forgets keys
// nobody holds or waits for.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func (k *keyedMutex) lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			k.release(key, l)
		})
	}, nil
}

func (k *keyedMutex) release(key string, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

// LockSession blocks until no other holder of sessionID remains.
func (s *MemoryHistoryStore) LockSession(ctx context.Context, sessionID string) (func(), error) {
	return s.locks.lock(ctx, sessionID)
}

// LockKey is the Redis key guarding a session's breadcrumb.
func LockKey(sessionID string) string {
	return "nav:lock:" + sessionID
}

// releaseScript deletes the lock only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockSession takes a token lock with SET NX, polling until it is free or
// ctx ends. The lock expires after the store's lock TTL if never released.
func (s *RedisHistoryStore) LockSession(ctx context.Context, sessionID string) (func(), error) {
	key := LockKey(sessionID)
	token := uuid.NewString()
	ticker := time.NewTicker(lockRetryInterval)
	defer ticker.Stop()

	for {
		ok, err := s.client.SetNX(ctx, key, token, s.lockTTL).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("redis setnx %q: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("navigation: session %s is busy: %w", sessionID, ctx.Err())
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = releaseScript.Run(context.Background(), s.client, []string{key}, token).Err()
		})
	}, nil
}
