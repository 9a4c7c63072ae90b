package vm

import (
	"context"
	"strings"
	"testing"
)

func TestToNative(t *testing.T) {
	st := NewStringTable()
	list := NewList([]Value{
		NewInt(1),
		NewString(st.Intern("two")),
		NewMap(map[string]Value{"ok": NewBool(true)}),
	})
	defer list.Release()

	out, err := ToNative(list, st, nil)
	if err != nil {
		t.Fatalf("to native: %v", err)
	}
	got := out.([]any)
	if got[0] != int64(1) || got[1] != "two" {
		t.Errorf("native = %v", got)
	}
	if m := got[2].(map[string]any); m["ok"] != true {
		t.Errorf("nested map = %v", m)
	}
}

func TestToNativeUnion(t *testing.T) {
	st := NewStringTable()
	u := NewUnion(st.Intern("Some"), NewInt(5))
	defer u.Release()

	out, err := ToNative(u, st, nil)
	if err != nil {
		t.Fatalf("to native: %v", err)
	}
	m := out.(map[string]any)
	if m["$tag"] != "Some" || m["value"] != int64(5) {
		t.Errorf("union = %v", m)
	}
}

func TestToNativeRejectsClosures(t *testing.T) {
	st := NewStringTable()
	a := NewAssembler()
	a.Cell("f", 1, 0)
	a.Emit(ABC(OpReturn, 0, 0, 0))
	engine, err := Load(a.Module(), Options{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	c := Value{kind: KindClosure, ref: &Closure{refs: 1, Cell: 0}}
	defer c.Release()
	if _, err := ToNative(c, st, engine.Module().Types); err == nil {
		t.Fatal("closure crossed the tool boundary")
	}
}

func TestFromNative(t *testing.T) {
	st := NewStringTable()
	v, err := FromNative(map[string]any{
		"n":    float64(2.5),
		"name": "x",
		"tags": []any{int(1), int64(2)},
		"none": nil,
	}, st)
	if err != nil {
		t.Fatalf("from native: %v", err)
	}
	defer v.Release()

	m := v.AsMap().Entries
	if m["n"].Float() != 2.5 {
		t.Errorf("n = %v", m["n"])
	}
	if st.Resolve(m["name"].StringID()) != "x" {
		t.Errorf("name = %v", m["name"])
	}
	tags := m["tags"].AsList().Elems
	if len(tags) != 2 || tags[0].Int() != 1 || tags[1].Int() != 2 {
		t.Errorf("tags = %v", tags)
	}
	if !m["none"].IsNull() {
		t.Errorf("none = %v", m["none"])
	}
}

func TestFromNativeRejectsUnknownTypes(t *testing.T) {
	st := NewStringTable()
	if _, err := FromNative(make(chan int), st); err == nil {
		t.Fatal("channel converted")
	}
}

// stubDispatcher resolves every tool call synchronously from a fixed table.
type stubDispatcher struct {
	responses map[string]any
	calls     []string
	lastArgs  any
}

func (d *stubDispatcher) Invoke(ctx context.Context, decl ToolDecl, policy map[string]any, args any) (any, error) {
	d.calls = append(d.calls, decl.Alias)
	d.lastArgs = args
	return d.responses[decl.Alias], nil
}

func TestToolCallAwait(t *testing.T) {
	a := NewAssembler()
	a.Tool(ToolDecl{Alias: "lookup", ID: "demo.Dir/Lookup", Version: "1.0.0"})
	k := a.ConstString("ada")
	a.Cell("main", 2, 0)
	a.Emit(ABx(OpLoadK, 1, k))
	a.Emit(ABx(OpToolCall, 0, 0))
	a.Emit(ABC(OpAwait, 0, 0, 0))
	a.Emit(ABC(OpReturn, 0, 1, 0))

	disp := &stubDispatcher{responses: map[string]any{
		"lookup": map[string]any{"age": int64(36)},
	}}
	engine, err := Load(a.Module(), Options{Tools: disp})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	v, err := engine.CallByName(context.Background(), "main")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	defer v.Release()
	if v.Kind() != KindMap || v.AsMap().Entries["age"].Int() != 36 {
		t.Errorf("result = %s", v.Format(engine.Strings()))
	}
	if len(disp.calls) != 1 || disp.calls[0] != "lookup" {
		t.Errorf("dispatched = %v", disp.calls)
	}
	if disp.lastArgs != "ada" {
		t.Errorf("args = %v", disp.lastArgs)
	}
}

func TestToolCallWithoutDispatcher(t *testing.T) {
	a := NewAssembler()
	a.Tool(ToolDecl{Alias: "lookup", ID: "x", Version: "0"})
	a.Cell("main", 2, 0)
	a.Emit(ABC(OpLoadNil, 1, 0, 0))
	a.Emit(ABx(OpToolCall, 0, 0))
	a.Emit(ABC(OpReturn, 0, 1, 0))

	engine, err := Load(a.Module(), Options{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	_, err = engine.CallByName(context.Background(), "main")
	re, ok := err.(*RuntimeError)
	if !ok || re.Kind != ErrTool {
		t.Fatalf("expected tool error, got %v", err)
	}
}

func TestAwaitOnNonFuture(t *testing.T) {
	_, err := buildAndRun(t, Options{}, "main", func(a *Assembler) {
		a.Cell("main", 2, 0)
		a.Emit(loadInt(1, 1))
		a.Emit(ABC(OpAwait, 0, 1, 0))
		a.Emit(ABC(OpReturn, 0, 1, 0))
	})
	re, ok := err.(*RuntimeError)
	if !ok || re.Kind != ErrType {
		t.Fatalf("expected type error, got %v", err)
	}
}

func TestEmitSink(t *testing.T) {
	var emitted []Value
	a := NewAssembler()
	a.Cell("main", 1, 0)
	a.Emit(loadInt(0, 5))
	a.Emit(ABC(OpEmit, 0, 0, 0))
	a.Emit(ABC(OpReturn, 0, 1, 0))

	engine, err := Load(a.Module(), Options{
		Emit: func(v Value) { emitted = append(emitted, v) },
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := engine.CallByName(context.Background(), "main"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(emitted) != 1 || emitted[0].Int() != 5 {
		t.Errorf("emitted = %v", emitted)
	}
}

func TestPrintBuiltinUsesSink(t *testing.T) {
	var out strings.Builder
	a := NewAssembler()
	k := a.ConstString("hi")
	a.Cell("main", 2, 0)
	a.Emit(ABx(OpLoadK, 1, k))
	a.Emit(ABx(OpIntrinsic, 0, uint16(BiPrint)))
	a.Emit(ABC(OpReturn, 0, 0, 0))

	engine, err := Load(a.Module(), Options{
		Print: func(s string) { out.WriteString(s) },
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := engine.CallByName(context.Background(), "main"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "hi") {
		t.Errorf("printed %q", out.String())
	}
}
