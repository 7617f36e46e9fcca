package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeSchematicFile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

const validSchematic = `
schematics:
  - name: s1
    instances:
      a:
        namespace: native
        operation: echo
    connections: []
`

func TestLoadManifestDirMergesAllYAMLFiles(t *testing.T) {
	dir := t.TempDir()
	writeSchematicFile(t, dir, "one.yaml", validSchematic)
	writeSchematicFile(t, dir, "two.yml", validSchematic)
	writeSchematicFile(t, dir, "README.md", "not a manifest")

	m, err := loadManifestDir(dir)
	if err != nil {
		t.Fatalf("loadManifestDir: %v", err)
	}
	if len(m.Schematics) != 2 {
		t.Fatalf("expected 2 merged schematics, got %d", len(m.Schematics))
	}
}

func TestLoadManifestDirEmptyDirIsConfigError(t *testing.T) {
	dir := t.TempDir()
	_, err := loadManifestDir(dir)
	if err == nil {
		t.Fatal("expected an error for a directory with no manifests")
	}
	if !errors.Is(err, errConfig) {
		t.Fatalf("expected errConfig, got %v", err)
	}
}

func TestLoadManifestDirMissingDirIsConfigError(t *testing.T) {
	_, err := loadManifestDir(filepath.Join(t.TempDir(), "does-not-exist"))
	if err == nil {
		t.Fatal("expected an error for a missing directory")
	}
	if !errors.Is(err, errConfig) {
		t.Fatalf("expected errConfig, got %v", err)
	}
}
