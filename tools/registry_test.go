package tools

import (
	"context"
	"testing"

	"github.com/lumen-lang/lumen/vm"
)

func TestRegistryRoutesToBoundProvider(t *testing.T) {
	mock := NewMockProvider()
	mock.Respond("greet", map[string]any{"text": "hello"})

	r := NewRegistry()
	r.Bind("greet", mock)

	decl := vm.ToolDecl{Alias: "greet", ID: "demo.Greeter/Greet", Version: "1.0.0"}
	out, err := r.Invoke(context.Background(), decl, nil, map[string]any{"name": "ada"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out.(map[string]any)["text"] != "hello" {
		t.Errorf("response = %v", out)
	}
	if mock.Count("greet") != 1 {
		t.Errorf("count = %d", mock.Count("greet"))
	}
	calls := mock.Calls()
	if len(calls) != 1 || calls[0].Args.(map[string]any)["name"] != "ada" {
		t.Errorf("call log = %+v", calls)
	}
}

func TestRegistryNoProvider(t *testing.T) {
	r := NewRegistry()
	decl := vm.ToolDecl{Alias: "missing", ID: "x", Version: "0"}
	if _, err := r.Invoke(context.Background(), decl, nil, nil); err == nil {
		t.Fatal("unbound alias should fail")
	}
}

func TestRegistryFallback(t *testing.T) {
	mock := NewMockProvider()
	mock.Respond("anything", 7)

	r := NewRegistry()
	r.SetFallback(mock)

	decl := vm.ToolDecl{Alias: "anything", ID: "x", Version: "0"}
	out, err := r.Invoke(context.Background(), decl, nil, nil)
	if err != nil {
		t.Fatalf("invoke via fallback: %v", err)
	}
	if out.(int) != 7 {
		t.Errorf("response = %v", out)
	}
}

func TestRegistryEnforcesPolicy(t *testing.T) {
	mock := NewMockProvider()
	mock.Respond("fetch", "ok")

	r := NewRegistry()
	r.Bind("fetch", mock)

	decl := vm.ToolDecl{Alias: "fetch", ID: "demo.Http/Fetch", Version: "1.0.0"}
	policy := map[string]any{"domain": "*.example.com"}

	args := map[string]any{"url": "https://api.example.com/v1"}
	if _, err := r.Invoke(context.Background(), decl, policy, args); err != nil {
		t.Fatalf("granted call denied: %v", err)
	}

	bad := map[string]any{"url": "https://evil.com"}
	if _, err := r.Invoke(context.Background(), decl, policy, bad); err == nil {
		t.Fatal("denied call allowed")
	}
	// the provider never sees a denied call
	if mock.Count("fetch") != 1 {
		t.Errorf("provider saw %d calls", mock.Count("fetch"))
	}
}

func TestRegistryAppliesTimeoutGrant(t *testing.T) {
	sawDeadline := false
	r := NewRegistry()
	r.Bind("timed", providerFunc(func(ctx context.Context, decl vm.ToolDecl, args any) (any, error) {
		_, sawDeadline = ctx.Deadline()
		return nil, nil
	}))

	decl := vm.ToolDecl{Alias: "timed", ID: "x", Version: "0"}
	policy := map[string]any{"timeout_ms": 1000}
	if _, err := r.Invoke(context.Background(), decl, policy, nil); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !sawDeadline {
		t.Error("timeout_ms grant did not set a deadline")
	}
}

type providerFunc func(ctx context.Context, decl vm.ToolDecl, args any) (any, error)

func (f providerFunc) Invoke(ctx context.Context, decl vm.ToolDecl, args any) (any, error) {
	return f(ctx, decl, args)
}

func (f providerFunc) Close() error { return nil }

func TestMockProviderHandlerWinsOverResponse(t *testing.T) {
	mock := NewMockProvider()
	mock.Respond("op", "static")
	mock.Handle("op", func(args any) (any, error) { return "dynamic", nil })

	decl := vm.ToolDecl{Alias: "op", ID: "x", Version: "0"}
	out, err := mock.Invoke(context.Background(), decl, nil)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out != "dynamic" {
		t.Errorf("response = %v", out)
	}
}

func TestMockProviderUnregisteredAlias(t *testing.T) {
	mock := NewMockProvider()
	decl := vm.ToolDecl{Alias: "ghost", ID: "x", Version: "0"}
	if _, err := mock.Invoke(context.Background(), decl, nil); err == nil {
		t.Fatal("unregistered alias should fail")
	}
}
