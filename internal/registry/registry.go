package registry

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/pitabwire/operations/model"
)

// snapshot is an immutable index of descriptors keyed by id and internal name.
type snapshot struct {
	byKey map[string]*model.OperationDescriptor
}

// Registry is a session-scoped index of every operation descriptor seen so
// far. Reads are lock-free against an atomically swapped snapshot; writes are
// serialized and publish a new snapshot.
//
// A session registry layers its own entries over a shared catalog: lookups
// fall through to the catalog, while registrations and Reset only touch the
// session's layer.
type Registry struct {
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
	base *Registry
}

// New creates an empty Registry.
func New() *Registry {
	r := &Registry{}
	r.snap.Store(&snapshot{byKey: map[string]*model.OperationDescriptor{}})
	return r
}

// NewSession creates an empty session registry over catalog. The catalog is
// never written through it. A nil catalog behaves like New.
func NewSession(catalog *Registry) *Registry {
	r := New()
	r.base = catalog
	return r
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// Register indexes op under its id and its internal name. A nil op is a
// no-op; an existing entry under either key is replaced.
func (r *Registry) Register(op *model.OperationDescriptor) {
	if op == nil {
		return
	}
	r.RegisterAll([]*model.OperationDescriptor{op})
}

// RegisterAll indexes every non-nil descriptor and publishes them in a
// single snapshot.
func (r *Registry) RegisterAll(ops []*model.OperationDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.current()
	next := &snapshot{byKey: make(map[string]*model.OperationDescriptor, len(old.byKey)+2*len(ops))}
	for k, v := range old.byKey {
		next.byKey[k] = v
	}

	changed := false
	for _, op := range ops {
		if op == nil {
			continue
		}
		if op.ID != "" {
			next.byKey[op.ID] = op
			changed = true
		}
		if op.InternalName != "" {
			next.byKey[op.InternalName] = op
			changed = true
		}
	}
	if changed {
		r.snap.Store(next)
	}
}

// Get returns the descriptor registered under key, which may be either an id
// or an internal name.
func (r *Registry) Get(key string) (*model.OperationDescriptor, bool) {
	if op, ok := r.current().byKey[key]; ok {
		return op, true
	}
	if r.base != nil {
		return r.base.Get(key)
	}
	return nil, false
}

// Len returns the number of distinct descriptors.
func (r *Registry) Len() int {
	return len(r.distinct())
}

// All returns the distinct descriptors sorted by key.
func (r *Registry) All() []*model.OperationDescriptor {
	ops := r.distinct()
	sort.Slice(ops, func(i, j int) bool { return ops[i].Key() < ops[j].Key() })
	return ops
}

func (r *Registry) distinct() []*model.OperationDescriptor {
	s := r.current()
	seen := make(map[*model.OperationDescriptor]bool, len(s.byKey))
	ops := make([]*model.OperationDescriptor, 0, len(s.byKey))
	for _, op := range s.byKey {
		if seen[op] {
			continue
		}
		seen[op] = true
		ops = append(ops, op)
	}
	if r.base == nil {
		return ops
	}
	// Catalog entries shadowed by a session entry under any key are hidden.
	for _, op := range r.base.distinct() {
		if seen[op] || s.shadows(op) {
			continue
		}
		seen[op] = true
		ops = append(ops, op)
	}
	return ops
}

func (s *snapshot) shadows(op *model.OperationDescriptor) bool {
	if _, ok := s.byKey[op.ID]; ok && op.ID != "" {
		return true
	}
	_, ok := s.byKey[op.InternalName]
	return ok && op.InternalName != ""
}

// Reset drops every descriptor registered in this layer. Called when the
// session ends; a session registry keeps its catalog.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.Store(&snapshot{byKey: map[string]*model.OperationDescriptor{}})
}
