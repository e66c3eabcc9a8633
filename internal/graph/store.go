package graph

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LoadDocument reads and parses the plan document at path without compiling
// it. Parse failures are reported as a ValidationError so startup handling
// is uniform.
func LoadDocument(path string) (*PlanDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan %s: %w", path, err)
	}

	var doc PlanDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		verr := &ValidationError{}
		verr.Addf("parsing plan %s: %v", path, err)
		return nil, verr
	}
	return &doc, nil
}

// Load reads, parses, and compiles the plan document at path into a
// validated graph. All validation problems are reported in one pass.
func Load(path string) (*Graph, error) {
	doc, err := LoadDocument(path)
	if err != nil {
		return nil, err
	}
	return doc.Compile()
}

// Save writes the plan document atomically: marshal to a temp file in the
// target directory, fsync, then rename over the destination. A crash
// mid-write never corrupts the last valid plan.
func Save(path string, doc *PlanDocument) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling plan: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating plan directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp plan file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp plan file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp plan file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp plan file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("renaming temp plan file: %w", err)
	}
	return nil
}
