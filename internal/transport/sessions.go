package transport

import (
	"sync"
	"time"

	"github.com/pitabwire/operations/internal/registry"
)

// sessionRegistries holds one registry per gateway session, each layered over
// the shared catalog. Idle sessions are evicted after ttl.
type sessionRegistries struct {
	catalog *registry.Registry
	ttl     time.Duration
	now     func() time.Time

	mu        sync.Mutex
	bySession map[string]*sessionRegistry
}

type sessionRegistry struct {
	reg      *registry.Registry
	lastUsed time.Time
}

func newSessionRegistries(catalog *registry.Registry, ttl time.Duration) *sessionRegistries {
	return &sessionRegistries{
		catalog:   catalog,
		ttl:       ttl,
		now:       time.Now,
		bySession: make(map[string]*sessionRegistry),
	}
}

// get returns the session's registry, creating it on first use.
func (s *sessionRegistries) get(sessionID string) *registry.Registry {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, e := range s.bySession {
		if id != sessionID && now.Sub(e.lastUsed) > s.ttl {
			delete(s.bySession, id)
		}
	}
	e, ok := s.bySession[sessionID]
	if !ok {
		e = &sessionRegistry{reg: registry.NewSession(s.catalog)}
		s.bySession[sessionID] = e
	}
	e.lastUsed = now
	return e.reg
}

// drop resets and forgets the session's registry.
func (s *sessionRegistries) drop(sessionID string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	e, ok := s.bySession[sessionID]
	delete(s.bySession, sessionID)
	s.mu.Unlock()
	if ok {
		e.reg.Reset()
	}
}

func (s *sessionRegistries) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bySession)
}
