// Package registry indexes operation descriptors by id and internal name,
// loads preset descriptor catalogs from YAML, and validates them.
package registry

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pitabwire/operations/model"
	"gopkg.in/yaml.v3"
)

// Catalog is a YAML file of operation descriptors known ahead of time, used
// to preload the registry before any server response has been seen.
type Catalog struct {
	Version    string                      `yaml:"version"`
	Operations []model.OperationDescriptor `yaml:"operations"`
	Checksum   string                      `yaml:"-"`
	SourceFile string                      `yaml:"-"`
}

// Descriptors returns pointers to the catalog's descriptors.
func (c *Catalog) Descriptors() []*model.OperationDescriptor {
	ops := make([]*model.OperationDescriptor, len(c.Operations))
	for i := range c.Operations {
		ops[i] = &c.Operations[i]
	}
	return ops
}

// Loader scans directories for YAML catalog files, parses them, and computes
// SHA-256 checksums.
type Loader struct{}

// NewLoader creates a new catalog Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadAll recursively scans directories for *.yaml and *.yml files and parses
// each into a Catalog.
func (l *Loader) LoadAll(directories []string) ([]Catalog, error) {
	var catalogs []Catalog

	for _, dir := range directories {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".yaml" && ext != ".yml" {
				return nil
			}

			c, err := l.LoadFile(path)
			if err != nil {
				return fmt.Errorf("loading %s: %w", path, err)
			}
			catalogs = append(catalogs, c)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
		}
	}

	return catalogs, nil
}

// LoadFile loads and parses a single catalog file.
func (l *Loader) LoadFile(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	c.Checksum = fmt.Sprintf("%x", sha256.Sum256(data))
	c.SourceFile = path

	return c, nil
}
