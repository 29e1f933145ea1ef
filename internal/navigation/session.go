package navigation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Session is the breadcrumb of one gateway session: a Stack loaded from a
// HistoryStore and written back with Flush.
type Session struct {
	*Stack
	store     HistoryStore
	sessionID string
	dirty     atomic.Bool
	cancel    func()
	unlock    func()
	closeOnce sync.Once
}

// OpenSession loads the session's breadcrumb from store. When store is a
// SessionLocker the session stays locked until Close, so concurrent requests
// of one session apply their navigation one after another.
func OpenSession(ctx context.Context, store HistoryStore, sessionID string) (*Session, error) {
	unlock := func() {}
	if locker, ok := store.(SessionLocker); ok {
		var err error
		if unlock, err = locker.LockSession(ctx, sessionID); err != nil {
			return nil, fmt.Errorf("navigation: lock session %s: %w", sessionID, err)
		}
	}
	entries, err := store.Load(ctx, sessionID)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("navigation: load session %s: %w", sessionID, err)
	}
	s := &Session{Stack: NewStack(entries...), store: store, sessionID: sessionID, unlock: unlock}
	s.cancel = s.Subscribe(func([]string) { s.dirty.Store(true) })
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.sessionID
}

// Flush saves the breadcrumb if it changed since it was opened or last
// flushed.
func (s *Session) Flush(ctx context.Context) error {
	if !s.dirty.Swap(false) {
		return nil
	}
	if err := s.store.Save(ctx, s.sessionID, s.Current()); err != nil {
		s.dirty.Store(true)
		return fmt.Errorf("navigation: save session %s: %w", s.sessionID, err)
	}
	return nil
}

// Close stops change tracking and releases the session lock. Flush before
// Close; changes made afterwards are not saved.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.unlock()
	})
}
