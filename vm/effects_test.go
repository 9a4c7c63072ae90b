package vm

import (
	"context"
	"strings"
	"testing"
)

// Handler scaffolding shared by the effect tests: a "body" cell performs the
// "ask" operation and a handler block inside "main" intercepts it.

func TestPerformResumeRoundTrip(t *testing.T) {
	a := NewAssembler()
	ask := a.String("ask")

	body := a.Cell("body", 2, 0)
	a.Emit(loadInt(0, 10))
	a.Emit(ABx(OpPerform, 0, uint16(ask)))
	a.Emit(loadInt(1, 1))
	a.Emit(ABC(OpAdd, 0, 0, 1))
	a.Emit(ABC(OpReturn, 0, 1, 0))

	a.Cell("main", 5, 0)
	a.Emit(ABx(OpHandlePush, 0, 0))
	a.Emit(ABx(OpClosure, 0, uint16(body)))
	a.Emit(ABC(OpCall, 0, 0, 0))
	skip := a.Emit(ASAx(OpJmp, 0))
	handler := a.PC()
	a.Emit(loadInt(4, 100))
	a.Emit(ABC(OpAdd, 4, 4, 2))
	a.Emit(ABC(OpResume, 3, 4, 0))
	a.PatchJmp(skip, a.PC())
	a.Emit(ABC(OpHandlePop, 0, 0, 0))
	a.Emit(ABC(OpReturn, 0, 1, 0))

	a.Handlers(HandlerTable{Entries: []HandlerEntry{
		{Op: ask, Addr: handler, ArgReg: 2, ContReg: 3},
	}})

	engine, err := Load(a.Module(), Options{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	v, err := engine.CallByName(context.Background(), "main")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// handler computes 100 + 10, body adds 1 after resuming
	if v.Int() != 111 {
		t.Errorf("result = %d, want 111", v.Int())
	}
}

func TestUnhandledEffect(t *testing.T) {
	a := NewAssembler()
	ask := a.String("ask")
	a.Cell("main", 1, 0)
	a.Emit(loadInt(0, 1))
	a.Emit(ABx(OpPerform, 0, uint16(ask)))
	a.Emit(ABC(OpReturn, 0, 1, 0))

	engine, err := Load(a.Module(), Options{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	_, err = engine.CallByName(context.Background(), "main")
	re, ok := err.(*RuntimeError)
	if !ok || re.Kind != ErrEffect {
		t.Fatalf("expected effect error, got %v", err)
	}
	if !strings.Contains(re.Message, "ask") {
		t.Errorf("error should name the operation: %q", re.Message)
	}
}

func TestContinuationIsOneShot(t *testing.T) {
	a := NewAssembler()
	ask := a.String("ask")

	body := a.Cell("body", 1, 0)
	a.Emit(loadInt(0, 1))
	a.Emit(ABx(OpPerform, 0, uint16(ask)))
	a.Emit(ABC(OpReturn, 0, 1, 0))

	a.Cell("main", 4, 0)
	a.Emit(ABx(OpHandlePush, 0, 0))
	a.Emit(ABx(OpClosure, 0, uint16(body)))
	a.Emit(ABC(OpCall, 0, 0, 0))
	skip := a.Emit(ASAx(OpJmp, 0))
	handler := a.PC()
	a.Emit(ABC(OpResume, 3, 2, 0))
	a.Emit(ABC(OpResume, 3, 2, 0)) // second resume of the same continuation
	a.PatchJmp(skip, a.PC())
	a.Emit(ABC(OpHandlePop, 0, 0, 0))
	a.Emit(ABC(OpReturn, 0, 1, 0))

	a.Handlers(HandlerTable{Entries: []HandlerEntry{
		{Op: ask, Addr: handler, ArgReg: 2, ContReg: 3},
	}})

	engine, err := Load(a.Module(), Options{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	_, err = engine.CallByName(context.Background(), "main")
	re, ok := err.(*RuntimeError)
	if !ok || re.Kind != ErrEffect {
		t.Fatalf("expected effect error, got %v", err)
	}
	if !strings.Contains(re.Message, "twice") {
		t.Errorf("unexpected message: %q", re.Message)
	}
}

func TestHandlePopWithoutScope(t *testing.T) {
	_, err := buildAndRun(t, Options{}, "main", func(a *Assembler) {
		a.Cell("main", 1, 0)
		a.Emit(ABC(OpHandlePop, 0, 0, 0))
		a.Emit(ABC(OpReturn, 0, 0, 0))
	})
	re, ok := err.(*RuntimeError)
	if !ok || re.Kind != ErrEffect {
		t.Fatalf("expected effect error, got %v", err)
	}
}

func TestReturnClosesNoScopes(t *testing.T) {
	a := NewAssembler()
	a.Cell("main", 1, 0)
	a.Emit(ABx(OpHandlePush, 0, 0))
	a.Emit(ABC(OpReturn, 0, 0, 0))
	a.Handlers(HandlerTable{Entries: nil})

	engine, err := Load(a.Module(), Options{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	_, err = engine.CallByName(context.Background(), "main")
	re, ok := err.(*RuntimeError)
	if !ok || re.Kind != ErrEffect {
		t.Fatalf("return with an open scope should fail, got %v", err)
	}
}

func TestHandlePopWithPendingContinuation(t *testing.T) {
	a := NewAssembler()
	ask := a.String("ask")

	body := a.Cell("body", 1, 0)
	a.Emit(loadInt(0, 1))
	a.Emit(ABx(OpPerform, 0, uint16(ask)))
	a.Emit(ABC(OpReturn, 0, 1, 0))

	a.Cell("main", 4, 0)
	a.Emit(ABx(OpHandlePush, 0, 0))
	a.Emit(ABx(OpClosure, 0, uint16(body)))
	a.Emit(ABC(OpCall, 0, 0, 0))
	handler := a.PC()
	a.Emit(ABC(OpHandlePop, 0, 0, 0)) // never resumed: one continuation outstanding
	a.Emit(ABC(OpReturn, 0, 1, 0))

	a.Handlers(HandlerTable{Entries: []HandlerEntry{
		{Op: ask, Addr: handler, ArgReg: 2, ContReg: 3},
	}})

	engine, err := Load(a.Module(), Options{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	_, err = engine.CallByName(context.Background(), "main")
	re, ok := err.(*RuntimeError)
	if !ok || re.Kind != ErrEffect {
		t.Fatalf("expected effect error, got %v", err)
	}
	if !strings.Contains(re.Message, "outstanding") {
		t.Errorf("unexpected message: %q", re.Message)
	}
}

// A Perform in the frame that pushed the scope captures no frames; Resume
// then behaves as a jump back to the suspension point.
func TestPerformInScopeFrame(t *testing.T) {
	a := NewAssembler()
	ask := a.String("ask")

	a.Cell("main", 4, 0)
	a.Emit(ABx(OpHandlePush, 0, 0))
	a.Emit(loadInt(0, 5))
	a.Emit(ABx(OpPerform, 0, uint16(ask)))
	a.Emit(ABC(OpHandlePop, 0, 0, 0))
	a.Emit(ABC(OpReturn, 0, 1, 0))
	handler := a.PC()
	a.Emit(loadInt(3, 1))
	a.Emit(ABC(OpAdd, 3, 1, 3))
	a.Emit(ABC(OpResume, 2, 3, 0))

	a.Handlers(HandlerTable{Entries: []HandlerEntry{
		{Op: ask, Addr: handler, ArgReg: 1, ContReg: 2},
	}})

	engine, err := Load(a.Module(), Options{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	v, err := engine.CallByName(context.Background(), "main")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if v.Int() != 6 {
		t.Errorf("result = %d, want 6", v.Int())
	}
}

// Performing through an intermediate call captures the whole frame chain
// and splices it back on resume.
func TestPerformThroughNestedCalls(t *testing.T) {
	a := NewAssembler()
	ask := a.String("ask")

	inner := a.Cell("inner", 1, 1)
	a.Emit(ABx(OpPerform, 0, uint16(ask)))
	a.Emit(ABC(OpReturn, 0, 1, 0))

	outer := a.Cell("outer", 3, 1)
	a.Emit(ABx(OpClosure, 1, uint16(inner)))
	a.Emit(ABC(OpMove, 2, 0, 0))
	a.Emit(ABC(OpCall, 1, 1, 0))
	a.Emit(ABC(OpAdd, 0, 0, 1)) // arg + resumed value
	a.Emit(ABC(OpReturn, 0, 1, 0))

	a.Cell("main", 5, 0)
	a.Emit(ABx(OpHandlePush, 0, 0))
	a.Emit(ABx(OpClosure, 0, uint16(outer)))
	a.Emit(loadInt(1, 7))
	a.Emit(ABC(OpCall, 0, 1, 0))
	skip := a.Emit(ASAx(OpJmp, 0))
	handler := a.PC()
	a.Emit(loadInt(4, 2))
	a.Emit(ABC(OpMul, 4, 2, 4))
	a.Emit(ABC(OpResume, 3, 4, 0))
	a.PatchJmp(skip, a.PC())
	a.Emit(ABC(OpHandlePop, 0, 0, 0))
	a.Emit(ABC(OpReturn, 0, 1, 0))

	a.Handlers(HandlerTable{Entries: []HandlerEntry{
		{Op: ask, Addr: handler, ArgReg: 2, ContReg: 3},
	}})

	engine, err := Load(a.Module(), Options{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	v, err := engine.CallByName(context.Background(), "main")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// inner performs 7, handler resumes 14, outer returns 7 + 14
	if v.Int() != 21 {
		t.Errorf("result = %d, want 21", v.Int())
	}
}

// A scope opened above the intercepting one travels with the continuation,
// so after resume the handler stack is back at its pre-perform level and
// the balanced HandlePop sequence succeeds.
func TestPerformPreservesInnerScopes(t *testing.T) {
	a := NewAssembler()
	ask := a.String("ask")
	other := a.String("other")

	a.Cell("main", 4, 0)
	a.Emit(ABx(OpHandlePush, 0, 0))
	a.Emit(ABx(OpHandlePush, 0, 1)) // inner scope, different operation
	a.Emit(loadInt(0, 5))
	a.Emit(ABx(OpPerform, 0, uint16(ask)))
	a.Emit(ABC(OpHandlePop, 0, 0, 0)) // closes the restored inner scope
	a.Emit(ABC(OpHandlePop, 0, 0, 0))
	a.Emit(ABC(OpReturn, 0, 1, 0))
	handler := a.PC()
	a.Emit(loadInt(3, 100))
	a.Emit(ABC(OpResume, 2, 3, 0))

	a.Handlers(HandlerTable{Entries: []HandlerEntry{
		{Op: ask, Addr: handler, ArgReg: 1, ContReg: 2},
	}})
	a.Handlers(HandlerTable{Entries: []HandlerEntry{
		{Op: other, Addr: handler, ArgReg: 1, ContReg: 2},
	}})

	engine, err := Load(a.Module(), Options{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	v, err := engine.CallByName(context.Background(), "main")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if v.Int() != 100 {
		t.Errorf("result = %d, want 100", v.Int())
	}
}

// The handler frame's registers persist across invocations, so a handler
// can fold state over repeated performs before the body finally returns.
func TestHandlerAccumulatesAcrossPerforms(t *testing.T) {
	a := NewAssembler()
	tick := a.String("tick")

	body := a.Cell("body", 1, 0)
	a.Emit(loadInt(0, 1))
	a.Emit(ABx(OpPerform, 0, uint16(tick)))
	a.Emit(loadInt(0, 2))
	a.Emit(ABx(OpPerform, 0, uint16(tick)))
	a.Emit(loadInt(0, 3))
	a.Emit(ABx(OpPerform, 0, uint16(tick)))
	a.Emit(ABC(OpReturn, 0, 1, 0))

	a.Cell("main", 6, 0)
	a.Emit(ABx(OpHandlePush, 0, 0))
	a.Emit(loadInt(4, 0)) // accumulator
	a.Emit(ABx(OpClosure, 0, uint16(body)))
	a.Emit(ABC(OpCall, 0, 0, 0))
	skip := a.Emit(ASAx(OpJmp, 0))
	handler := a.PC()
	a.Emit(ABC(OpAdd, 4, 4, 2))
	a.Emit(loadInt(5, 0))
	a.Emit(ABC(OpResume, 3, 5, 0))
	a.PatchJmp(skip, a.PC())
	a.Emit(ABC(OpHandlePop, 0, 0, 0))
	a.Emit(ABC(OpMove, 0, 4, 0))
	a.Emit(ABC(OpReturn, 0, 1, 0))

	a.Handlers(HandlerTable{Entries: []HandlerEntry{
		{Op: tick, Addr: handler, ArgReg: 2, ContReg: 3},
	}})

	engine, err := Load(a.Module(), Options{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	v, err := engine.CallByName(context.Background(), "main")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if v.Int() != 6 {
		t.Errorf("accumulated = %d, want 6", v.Int())
	}
}
