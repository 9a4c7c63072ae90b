package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/lumen-lang/lumen/vm"
)

// MockProvider registers canned responses per tool alias and records every
// call, for tests and dry runs. Responses are either static values or
// functions of the arguments.
type MockProvider struct {
	mu        sync.Mutex
	responses map[string]any
	handlers  map[string]func(args any) (any, error)
	counts    map[string]int
	calls     []MockCall
}

// MockCall is one recorded dispatch.
type MockCall struct {
	Alias string
	Args  any
}

func NewMockProvider() *MockProvider {
	return &MockProvider{
		responses: make(map[string]any),
		handlers:  make(map[string]func(args any) (any, error)),
		counts:    make(map[string]int),
	}
}

// Respond sets a static response for alias.
func (m *MockProvider) Respond(alias string, response any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[alias] = response
}

// Handle sets a dynamic handler for alias. Handlers win over static
// responses.
func (m *MockProvider) Handle(alias string, fn func(args any) (any, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[alias] = fn
}

func (m *MockProvider) Invoke(ctx context.Context, decl vm.ToolDecl, args any) (any, error) {
	m.mu.Lock()
	m.counts[decl.Alias]++
	m.calls = append(m.calls, MockCall{Alias: decl.Alias, Args: args})
	fn := m.handlers[decl.Alias]
	resp, hasResp := m.responses[decl.Alias]
	m.mu.Unlock()

	if fn != nil {
		return fn(args)
	}
	if hasResp {
		return resp, nil
	}
	return nil, fmt.Errorf("mock: no response registered for %q", decl.Alias)
}

func (m *MockProvider) Close() error { return nil }

// Count reports how many times alias was invoked.
func (m *MockProvider) Count(alias string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[alias]
}

// Calls returns the ordered call log.
func (m *MockProvider) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}
