package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pitabwire/operations/internal/engine"
)

func TestRecorder_OnRun_appends(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store, nil)
	started := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	rec.OnRun(context.Background(), engine.RunEvent{
		RunID:        "run-1",
		OperationKey: "close-day",
		Scope:        "system",
		SubjectID:    "alice",
		Depth:        1,
		Outcome:      engine.OutcomeHandled,
		ResultType:   "notification",
		StartedAt:    started,
		Duration:     120 * time.Millisecond,
	})

	got, _ := store.List(context.Background(), Filter{RunID: "run-1"})
	if len(got) != 1 {
		t.Fatalf("entries = %d, want 1", len(got))
	}
	e := got[0]
	if e.ID == "" {
		t.Error("entry id not assigned")
	}
	if e.OperationKey != "close-day" || e.Depth != 1 || e.Outcome != engine.OutcomeHandled || e.Duration != 120*time.Millisecond {
		t.Errorf("entry = %+v", e)
	}
}

type failingAppend struct{ MemoryStore }

func (f *failingAppend) Append(context.Context, Entry) error { return errors.New("db down") }

func TestRecorder_OnRun_logsStoreFailure(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	rec := NewRecorder(&failingAppend{}, zap.New(core))

	rec.OnRun(context.Background(), engine.RunEvent{RunID: "run-2", OperationKey: "x"})

	if logs.Len() != 1 {
		t.Fatalf("error logs = %d, want 1", logs.Len())
	}
	if logs.All()[0].ContextMap()["run_id"] != "run-2" {
		t.Errorf("log fields = %v", logs.All()[0].ContextMap())
	}
}
