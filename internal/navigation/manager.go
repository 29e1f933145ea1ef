// Package navigation keeps the breadcrumb of visited paths and resolves
// "back to an operation", "back to root", and "re-run in place" against it.
package navigation

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/pitabwire/operations/internal/observability"
	"github.com/pitabwire/operations/internal/request"
	"github.com/pitabwire/operations/model"
)

// DefaultHomePath is the root used when the breadcrumb has no non-operation
// entry.
const DefaultHomePath = "/home"

// Manager mutates the breadcrumb on behalf of the run pipeline. All
// mutations are serialized.
type Manager struct {
	mu       sync.Mutex
	crumbs   model.Breadcrumb
	router   model.Router
	homePath string
	logger   *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithHomePath sets the fallback root path.
func WithHomePath(p string) Option {
	return func(m *Manager) {
		if p != "" {
			m.homePath = p
		}
	}
}

// WithLogger sets the fallback logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a Manager over a breadcrumb and a router. A Stack
// serves as both.
func NewManager(crumbs model.Breadcrumb, router model.Router, opts ...Option) *Manager {
	m := &Manager{
		crumbs:   crumbs,
		router:   router,
		homePath: DefaultHomePath,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// HomePath returns the configured root path.
func (m *Manager) HomePath() string {
	return m.homePath
}

// FindBack returns the index of the most recent entry satisfying pred.
func (m *Manager) FindBack(pred func(path string) bool) (int, bool) {
	return findBack(m.crumbs.Current(), pred)
}

func findBack(entries []string, pred func(string) bool) (int, bool) {
	for i := len(entries) - 1; i >= 0; i-- {
		if pred(entries[i]) {
			return i, true
		}
	}
	return -1, false
}

// GoBack truncates the breadcrumb to idx and navigates to the entry that was
// there, so it ends up at idx again.
func (m *Manager) GoBack(ctx context.Context, idx int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.goBack(ctx, m.crumbs.Current(), idx)
}

func (m *Manager) goBack(ctx context.Context, entries []string, idx int) error {
	if idx < 0 || idx >= len(entries) {
		return fmt.Errorf("navigation: index %d out of range [0,%d)", idx, len(entries))
	}
	target := entries[idx]
	m.crumbs.Truncate(idx)
	observability.LoggerFrom(ctx, m.logger).Debug("navigating back",
		zap.String("path", target),
		zap.Int("index", idx),
	)
	return m.router.NavigateTo(ctx, target, nil, false)
}

// BackToOperation goes back to the most recent run screen of op. It reports
// false, without navigating, when no entry matches.
func (m *Manager) BackToOperation(ctx context.Context, op *model.OperationDescriptor) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.crumbs.Current()
	idx, ok := findBack(entries, func(p string) bool { return request.MatchesOperation(p, op) })
	if !ok {
		return false, nil
	}
	return true, m.goBack(ctx, entries, idx)
}

// GoBackToRoot goes back to the most recent entry that is not a run screen,
// or to the home path when there is none.
func (m *Manager) GoBackToRoot(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.crumbs.Current()
	idx, ok := findBack(entries, func(p string) bool { return !request.IsOperationPath(p) })
	if ok {
		return true, m.goBack(ctx, entries, idx)
	}
	m.crumbs.Truncate(0)
	return true, m.router.NavigateTo(ctx, m.homePath, nil, false)
}

// ReRun reloads the most recent entry in place. It reports false when the
// breadcrumb is empty.
func (m *Manager) ReRun(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.crumbs.Current()
	if len(entries) == 0 {
		return false, nil
	}
	return true, m.router.NavigateTo(ctx, entries[len(entries)-1], nil, true)
}

// ShowRunScreen navigates to op's parameter screen.
func (m *Manager) ShowRunScreen(ctx context.Context, op *model.OperationDescriptor, scopeID string, params map[string]string) (string, error) {
	path, err := request.RunPath(op, scopeID)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.router.NavigateTo(ctx, path, params, false); err != nil {
		return "", err
	}
	return path, nil
}
