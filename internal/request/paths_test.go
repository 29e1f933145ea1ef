package request

import (
	"testing"

	"github.com/pitabwire/operations/model"
)

func TestRunPath(t *testing.T) {
	tests := []struct {
		scope   model.Scope
		scopeID string
		want    string
	}{
		{model.ScopeSystem, "", "/operations/system/payFee"},
		{model.ScopeInternal, "", "/operations/action/payFee"},
		{model.ScopeUser, "", "/operations/user/self/payFee"},
		{model.ScopeUser, "u-1", "/operations/user/u-1/payFee"},
		{model.ScopeAdvertisement, "ad-1", "/operations/marketplace/ad-1/payFee"},
		{model.ScopeRecord, "r-1", "/operations/record/r-1/payFee"},
		{model.ScopeTransfer, "t-1", "/operations/transfer/t-1/payFee"},
		{model.ScopeMenu, "m-1", "/operations/menu/m-1/payFee"},
	}
	for _, tt := range tests {
		got, err := RunPath(op(tt.scope, model.ResultPage), tt.scopeID)
		if err != nil {
			t.Fatalf("RunPath(%s) error = %v", tt.scope, err)
		}
		if got != tt.want {
			t.Errorf("RunPath(%s, %q) = %q, want %q", tt.scope, tt.scopeID, got, tt.want)
		}
	}
}

func TestRunPath_errors(t *testing.T) {
	if _, err := RunPath(op(model.ScopeRecord, model.ResultPage), ""); err == nil {
		t.Error("RunPath(record, \"\") should return error")
	}
	if _, err := RunPath(op("nowhere", model.ResultPage), "x"); err == nil {
		t.Error("RunPath(unknown scope) should return error")
	}
	if _, err := RunPath(nil, ""); err == nil {
		t.Error("RunPath(nil) should return error")
	}
}

func TestIsOperationPath(t *testing.T) {
	tests := map[string]bool{
		"/operations/system/a": true,
		"/operations/":         true,
		"/home":                false,
		"/users/list":          false,
		"/operationsx/a":       false,
		"":                     false,
	}
	for p, want := range tests {
		if got := IsOperationPath(p); got != want {
			t.Errorf("IsOperationPath(%q) = %v, want %v", p, got, want)
		}
	}
}

func TestMatchesOperation(t *testing.T) {
	o := op(model.ScopeUser, model.ResultPage)
	tests := []struct {
		path string
		want bool
	}{
		{"/operations/user/self/payFee", true},
		{"/operations/user/self/17", true},
		{"/operations/user/self/17/", true},
		{"/operations/user/self/payFee?page=2", true},
		{"/operations/system/other", false},
		{"/home/payFee", false},
	}
	for _, tt := range tests {
		if got := MatchesOperation(tt.path, o); got != tt.want {
			t.Errorf("MatchesOperation(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
	if MatchesOperation("/operations/system/payFee", nil) {
		t.Error("MatchesOperation(nil op) = true, want false")
	}
}
