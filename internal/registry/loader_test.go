package registry

import (
	"testing"

	"github.com/pitabwire/operations/model"
)

func TestLoader_LoadFile(t *testing.T) {
	l := NewLoader()
	c, err := l.LoadFile("testdata/catalog/banking.yaml")
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if c.Version != "1" {
		t.Errorf("Version = %q, want 1", c.Version)
	}
	if len(c.Operations) != 2 {
		t.Fatalf("Operations = %d, want 2", len(c.Operations))
	}
	fee := c.Operations[0]
	if fee.InternalName != "payMonthlyFee" || fee.Scope != model.ScopeUser {
		t.Errorf("Operations[0] = %+v", fee)
	}
	if !fee.RequireConfirmationPassword {
		t.Error("RequireConfirmationPassword = false, want true")
	}
	if fee.ConfirmationText != "Pay the monthly fee now?" {
		t.Errorf("ConfirmationText = %q", fee.ConfirmationText)
	}
	if got := c.Operations[1].ExportFormats; len(got) != 2 {
		t.Errorf("ExportFormats = %v, want 2 entries", got)
	}
	if c.Checksum == "" {
		t.Error("Checksum should not be empty")
	}
	if c.SourceFile != "testdata/catalog/banking.yaml" {
		t.Errorf("SourceFile = %q", c.SourceFile)
	}
}

func TestLoader_LoadFile_not_found(t *testing.T) {
	l := NewLoader()
	if _, err := l.LoadFile("testdata/nonexistent.yaml"); err == nil {
		t.Fatal("LoadFile() with missing file should return error")
	}
}

func TestLoader_LoadFile_invalid_yaml(t *testing.T) {
	l := NewLoader()
	if _, err := l.LoadFile("testdata/invalid/bad.yaml"); err == nil {
		t.Fatal("LoadFile() with invalid YAML should return error")
	}
}

func TestLoader_LoadAll(t *testing.T) {
	l := NewLoader()
	catalogs, err := l.LoadAll([]string{"testdata/catalog"})
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(catalogs) != 2 {
		t.Fatalf("LoadAll() returned %d catalogs, want 2 (non-YAML files skipped)", len(catalogs))
	}
}

func TestLoader_LoadAll_invalid_dir(t *testing.T) {
	l := NewLoader()
	if _, err := l.LoadAll([]string{"testdata/nonexistent"}); err == nil {
		t.Fatal("LoadAll() with missing directory should return error")
	}
}

func TestLoader_LoadAll_invalid_yaml(t *testing.T) {
	l := NewLoader()
	if _, err := l.LoadAll([]string{"testdata/invalid"}); err == nil {
		t.Fatal("LoadAll() with invalid YAML should return error")
	}
}

func TestLoader_Checksum_deterministic(t *testing.T) {
	l := NewLoader()
	c1, _ := l.LoadFile("testdata/catalog/banking.yaml")
	c2, _ := l.LoadFile("testdata/catalog/banking.yaml")
	if c1.Checksum != c2.Checksum {
		t.Error("Checksum should be deterministic")
	}
}

func TestCatalog_Descriptors_preload(t *testing.T) {
	l := NewLoader()
	c, err := l.LoadFile("testdata/catalog/banking.yaml")
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	r := New()
	r.RegisterAll(c.Descriptors())

	byID, ok := r.Get("101")
	if !ok {
		t.Fatal("Get(101) not found after preload")
	}
	byName, _ := r.Get("payMonthlyFee")
	if byID != byName {
		t.Error("id and internal name resolve to different descriptors")
	}
}
