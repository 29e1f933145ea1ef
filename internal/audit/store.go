// Package audit keeps a trail of executed operations.
package audit

import (
	"context"
	"time"
)

// Entry is one executed operation.
type Entry struct {
	ID           string        `json:"id"`
	RunID        string        `json:"run_id"`
	OperationKey string        `json:"operation_key"`
	Scope        string        `json:"scope"`
	ScopeID      string        `json:"scope_id,omitempty"`
	SubjectID    string        `json:"subject_id,omitempty"`
	SessionID    string        `json:"session_id,omitempty"`
	Depth        int           `json:"depth"`
	Outcome      string        `json:"outcome"`
	ResultType   string        `json:"result_type,omitempty"`
	Navigation   string        `json:"navigation,omitempty"`
	Error        string        `json:"error,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	SubjectID    string
	SessionID    string
	OperationKey string
	RunID        string
	Since        time.Time
	Limit        int
}

func (f Filter) matches(e Entry) bool {
	if f.SubjectID != "" && e.SubjectID != f.SubjectID {
		return false
	}
	if f.SessionID != "" && e.SessionID != f.SessionID {
		return false
	}
	if f.OperationKey != "" && e.OperationKey != f.OperationKey {
		return false
	}
	if f.RunID != "" && e.RunID != f.RunID {
		return false
	}
	if !f.Since.IsZero() && e.StartedAt.Before(f.Since) {
		return false
	}
	return true
}

// Store persists audit entries.
type Store interface {
	// Append records an entry.
	Append(ctx context.Context, entry Entry) error
	// List returns matching entries, most recent first.
	List(ctx context.Context, filter Filter) ([]Entry, error)
}
