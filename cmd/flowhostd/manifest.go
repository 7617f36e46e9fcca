package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oriys/flowhost/internal/schematic"
)

// errConfig tags load errors (config file, manifest directory) as
// configuration errors rather than generic failures, for exitCode's
// exit-code mapping.
var errConfig = errors.New("flowhostd: configuration error")

// loadManifestDir reads every .yaml/.yml file directly under dir and
// merges their Schematics into a single Manifest.
func loadManifestDir(dir string) (*schematic.Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: read manifest dir %q: %v", errConfig, dir, err)
	}

	merged := &schematic.Manifest{}
	found := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		found++
		m, err := schematic.LoadManifest(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		merged.Schematics = append(merged.Schematics, m.Schematics...)
	}
	if found == 0 {
		return nil, fmt.Errorf("%w: no schematic manifests (*.yaml/*.yml) found in %s", errConfig, dir)
	}
	return merged, nil
}
