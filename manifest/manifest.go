// Package manifest handles lumen.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Manifest represents a lumen.toml project configuration.
type Manifest struct {
	Project  Project                   `toml:"project"`
	Engine   Engine                    `toml:"engine"`
	Trace    Trace                     `toml:"trace"`
	Tools    []Tool                    `toml:"tools"`
	Policies map[string]map[string]any `toml:"policies"`

	// Dir is the directory containing the lumen.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
	Module  string `toml:"module"` // compiled module path, relative to Dir
}

// Engine configures execution limits.
type Engine struct {
	MaxDepth  int  `toml:"max-depth"`
	StepTrace bool `toml:"step-trace"`
}

// Trace configures the run journal.
type Trace struct {
	Driver string `toml:"driver"` // "sqlite3" (default) or "duckdb"
	Path   string `toml:"path"`
}

// Tool declares an external tool binding available to modules.
type Tool struct {
	Alias   string `toml:"alias"`
	ID      string `toml:"id"`
	Version string `toml:"version"`
	Target  string `toml:"target"` // provider endpoint, e.g. a gRPC address
	Mock    bool   `toml:"mock"`
}

// Load parses a lumen.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "lumen.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if m.Trace.Driver == "" {
		m.Trace.Driver = "sqlite3"
	}
	if m.Trace.Path == "" {
		m.Trace.Path = filepath.Join(m.Dir, ".lumen", "trace.db")
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find a lumen.toml file, then loads
// and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "lumen.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// ToolByAlias returns the declared tool binding for alias, or nil.
func (m *Manifest) ToolByAlias(alias string) *Tool {
	for i := range m.Tools {
		if m.Tools[i].Alias == alias {
			return &m.Tools[i]
		}
	}
	return nil
}

// PolicyFor returns the grant table for a tool alias. Grants declared in
// the manifest overlay those compiled into the module.
func (m *Manifest) PolicyFor(alias string) map[string]any {
	return m.Policies[alias]
}

// ModulePath resolves the compiled module path against Dir.
func (m *Manifest) ModulePath() string {
	if m.Project.Module == "" {
		return filepath.Join(m.Dir, "main.lir")
	}
	if filepath.IsAbs(m.Project.Module) {
		return m.Project.Module
	}
	return filepath.Join(m.Dir, m.Project.Module)
}
