// Package schema validates runtime values against named CUE schemas,
// backing the engine's Schema instruction and the validate builtin.
package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// Registry holds compiled schemas by name. Compilation happens once at
// registration; validation unifies the value with the schema and requires
// the result to be concrete.
type Registry struct {
	mu      sync.RWMutex
	ctx     *cue.Context
	schemas map[string]cue.Value
}

func NewRegistry() *Registry {
	return &Registry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
}

// Register compiles src as CUE and stores it under name.
func (r *Registry) Register(name, src string) error {
	v := r.ctx.CompileString(src, cue.Filename(name+".cue"))
	if err := v.Err(); err != nil {
		return fmt.Errorf("schema %q: %w", name, err)
	}
	r.mu.Lock()
	r.schemas[name] = v
	r.mu.Unlock()
	return nil
}

// LoadDir registers every .cue file in dir under its basename.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("schema dir %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".cue") {
			continue
		}
		src, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return fmt.Errorf("schema %s: %w", e.Name(), err)
		}
		name := strings.TrimSuffix(e.Name(), ".cue")
		if err := r.Register(name, string(src)); err != nil {
			return err
		}
	}
	return nil
}

// Names lists the registered schema names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.schemas))
	for n := range r.schemas {
		names = append(names, n)
	}
	return names
}

// Validate checks value against the named schema. A missing schema is an
// error: modules must not silently pass unchecked.
func (r *Registry) Validate(name string, value any) error {
	r.mu.RLock()
	s, ok := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("schema %q not registered", name)
	}
	unified := s.Unify(r.ctx.Encode(value))
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("schema %q: %w", name, err)
	}
	return nil
}
