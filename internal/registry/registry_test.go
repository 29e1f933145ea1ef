package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/pitabwire/operations/model"
)

func testOp(id, name string) *model.OperationDescriptor {
	return &model.OperationDescriptor{ID: id, InternalName: name, Scope: model.ScopeUser, ResultType: model.ResultNotification}
}

func TestRegistry_Register_both_keys(t *testing.T) {
	r := New()
	op := testOp("7", "approveLoan")
	r.Register(op)

	byID, ok := r.Get("7")
	if !ok {
		t.Fatal("Get(7) not found")
	}
	byName, ok := r.Get("approveLoan")
	if !ok {
		t.Fatal("Get(approveLoan) not found")
	}
	if byID != op || byName != op {
		t.Error("Get() must return the registered descriptor under both keys")
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistry_Register_nil_is_noop(t *testing.T) {
	r := New()
	r.Register(nil)
	if r.Len() != 0 {
		t.Errorf("Len() = %d after Register(nil), want 0", r.Len())
	}
}

func TestRegistry_Register_id_only(t *testing.T) {
	r := New()
	r.Register(&model.OperationDescriptor{ID: "9"})
	if _, ok := r.Get("9"); !ok {
		t.Error("Get(9) not found")
	}
	if _, ok := r.Get(""); ok {
		t.Error("Get(\"\") should not find an entry for a missing internal name")
	}
}

func TestRegistry_Register_overwrites(t *testing.T) {
	r := New()
	first := testOp("7", "approveLoan")
	second := testOp("7", "approveLoan")
	second.Label = "Approve"
	r.Register(first)
	r.Register(second)

	got, _ := r.Get("approveLoan")
	if got != second {
		t.Error("Register() should replace the existing entry")
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistry_Get_unknown(t *testing.T) {
	r := New()
	if _, ok := r.Get("nope"); ok {
		t.Error("Get(nope) should return false")
	}
}

func TestRegistry_All_sorted(t *testing.T) {
	r := New()
	r.RegisterAll([]*model.OperationDescriptor{testOp("2", "b"), nil, testOp("1", "a"), testOp("3", "")})
	all := r.All()
	if len(all) != 3 {
		t.Fatalf("All() = %d entries, want 3", len(all))
	}
	want := []string{"3", "a", "b"}
	for i, op := range all {
		if op.Key() != want[i] {
			t.Errorf("All()[%d].Key() = %q, want %q", i, op.Key(), want[i])
		}
	}
}

func TestRegistry_Reset(t *testing.T) {
	r := New()
	r.Register(testOp("1", "a"))
	r.Reset()
	if _, ok := r.Get("1"); ok {
		t.Error("Get(1) found after Reset()")
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d after Reset(), want 0", r.Len())
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := New()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			r.Register(testOp(fmt.Sprint(i), fmt.Sprintf("op%d", i)))
		}(i)
		go func(i int) {
			defer wg.Done()
			r.Get(fmt.Sprint(i))
			r.Len()
		}(i)
	}
	wg.Wait()

	if r.Len() != 50 {
		t.Errorf("Len() = %d, want 50", r.Len())
	}
	for i := 0; i < 50; i++ {
		if _, ok := r.Get(fmt.Sprintf("op%d", i)); !ok {
			t.Errorf("Get(op%d) not found", i)
		}
	}
}

func TestRegistry_NewSession_layersOverCatalog(t *testing.T) {
	catalog := New()
	listed := testOp("7", "approveLoan")
	catalog.RegisterAll([]*model.OperationDescriptor{listed, testOp("8", "closeDay")})

	sess := NewSession(catalog)
	if got, ok := sess.Get("approveLoan"); !ok || got != listed {
		t.Fatalf("Get(approveLoan) = %v, %v, want catalog entry", got, ok)
	}

	snapshot := testOp("7", "approveLoan")
	snapshot.MissingRequiredParameters = []string{"amount"}
	sess.Register(snapshot)

	if got, _ := sess.Get("7"); got != snapshot {
		t.Error("session lookup should return the session's snapshot")
	}
	if got, _ := catalog.Get("7"); got != listed {
		t.Error("registering in a session wrote through to the catalog")
	}
	if sess.Len() != 2 {
		t.Errorf("Len() = %d, want 2 (shadowed catalog entry hidden)", sess.Len())
	}
}

func TestRegistry_NewSession_isolatedFromOtherSessions(t *testing.T) {
	catalog := New()
	catalog.Register(testOp("x", ""))
	a, b := NewSession(catalog), NewSession(catalog)

	fromA := testOp("x", "")
	fromA.ConfirmationText = "A only"
	a.Register(fromA)

	got, _ := b.Get("x")
	if got.ConfirmationText != "" {
		t.Errorf("session b sees session a's descriptor: %+v", got)
	}
}

func TestRegistry_NewSession_resetKeepsCatalog(t *testing.T) {
	catalog := New()
	catalog.Register(testOp("7", ""))
	sess := NewSession(catalog)
	sess.Register(testOp("9", ""))

	sess.Reset()

	if _, ok := sess.Get("9"); ok {
		t.Error("session entry survived Reset")
	}
	if _, ok := sess.Get("7"); !ok {
		t.Error("catalog entry lost after session Reset")
	}
	if catalog.Len() != 1 {
		t.Errorf("catalog Len() = %d, want 1", catalog.Len())
	}
}
