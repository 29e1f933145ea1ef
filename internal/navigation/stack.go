package navigation

import (
	"context"
	"net/url"
	"slices"
	"sync"
	"sync/atomic"
)

// Stack is an in-memory breadcrumb that also acts as the router: navigating
// pushes (or replaces) the path. Reads are lock-free snapshots; writes are
// serialized and notify subscribers with the new snapshot.
type Stack struct {
	mu     sync.Mutex
	snap   atomic.Pointer[[]string]
	subs   map[int]func([]string)
	nextID int
}

// NewStack creates a Stack holding the given entries, oldest first.
func NewStack(entries ...string) *Stack {
	s := &Stack{subs: make(map[int]func([]string))}
	initial := slices.Clone(entries)
	s.snap.Store(&initial)
	return s
}

// Current returns a copy of the entries, oldest first.
func (s *Stack) Current() []string {
	return slices.Clone(*s.snap.Load())
}

// Len returns the number of entries.
func (s *Stack) Len() int {
	return len(*s.snap.Load())
}

// Push appends p.
func (s *Stack) Push(p string) {
	s.update(func(cur []string) []string { return append(cur, p) })
}

// Truncate keeps the first length entries.
func (s *Stack) Truncate(length int) {
	s.update(func(cur []string) []string {
		if length < 0 {
			length = 0
		}
		if length >= len(cur) {
			return cur
		}
		return cur[:length]
	})
}

// NavigateTo pushes path, with params encoded as its query string. With
// replace set the last entry is replaced instead.
func (s *Stack) NavigateTo(_ context.Context, path string, params map[string]string, replace bool) error {
	full := WithParams(path, params)
	s.update(func(cur []string) []string {
		if replace && len(cur) > 0 {
			cur[len(cur)-1] = full
			return cur
		}
		return append(cur, full)
	})
	return nil
}

// Subscribe registers fn to receive every new snapshot. The returned
// function removes the subscription.
func (s *Stack) Subscribe(fn func([]string)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// update applies fn to a private copy and publishes the result.
func (s *Stack) update(fn func([]string) []string) {
	s.mu.Lock()
	next := fn(slices.Clone(*s.snap.Load()))
	s.snap.Store(&next)
	subs := make([]func([]string), 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub(slices.Clone(next))
	}
}

// WithParams appends params to path as a sorted query string.
func WithParams(path string, params map[string]string) string {
	if len(params) == 0 {
		return path
	}
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	return path + "?" + values.Encode()
}
