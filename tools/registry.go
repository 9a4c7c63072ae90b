// Package tools routes ToolCall dispatches from the engine to external
// providers, enforcing the module's policy grants on the way out.
package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/tliron/commonlog"

	"github.com/lumen-lang/lumen/vm"
)

var log = commonlog.GetLogger("lumen.tools")

// Provider executes one tool's calls. Args and results are native Go
// values; providers run on dispatcher goroutines and must be safe for
// concurrent use.
type Provider interface {
	Invoke(ctx context.Context, decl vm.ToolDecl, args any) (any, error)
	Close() error
}

// Registry maps tool aliases to providers and implements vm.ToolDispatcher.
// Unmapped aliases fall back to the default provider when one is set.
type Registry struct {
	providers map[string]Provider
	fallback  Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Bind routes calls for alias to p.
func (r *Registry) Bind(alias string, p Provider) {
	r.providers[alias] = p
}

// SetFallback routes calls with no bound alias to p.
func (r *Registry) SetFallback(p Provider) {
	r.fallback = p
}

// Invoke validates the policy grants, applies a timeout_ms grant as a
// context deadline, and hands the call to the bound provider.
func (r *Registry) Invoke(ctx context.Context, decl vm.ToolDecl, policy map[string]any, args any) (any, error) {
	p, ok := r.providers[decl.Alias]
	if !ok {
		p = r.fallback
	}
	if p == nil {
		return nil, fmt.Errorf("tool %q (%s@%s): no provider bound", decl.Alias, decl.ID, decl.Version)
	}
	if err := ValidatePolicy(policy, args); err != nil {
		log.Warningf("tool %s denied: %s", decl.Alias, err.Error())
		return nil, fmt.Errorf("tool %q: policy: %w", decl.Alias, err)
	}
	if ms, ok := asInt64(policy["timeout_ms"]); ok && ms > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
		defer cancel()
	}
	log.Debugf("invoking tool %s (%s@%s)", decl.Alias, decl.ID, decl.Version)
	out, err := p.Invoke(ctx, decl, args)
	if err != nil {
		return nil, fmt.Errorf("tool %q: %w", decl.Alias, err)
	}
	return out, nil
}

// Close shuts down every bound provider, keeping the first error.
func (r *Registry) Close() error {
	var first error
	for alias, p := range r.providers {
		if err := p.Close(); err != nil && first == nil {
			first = fmt.Errorf("close %s: %w", alias, err)
		}
	}
	if r.fallback != nil {
		if err := r.fallback.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
