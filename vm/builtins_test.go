package vm

import (
	"context"
	"strings"
	"testing"
)

// builtinHarness loads a trivial module and returns an interpreter whose
// builtin table and string table back direct builtin calls.
func builtinHarness(t *testing.T) *Interpreter {
	t.Helper()
	a := NewAssembler()
	a.Cell("main", 1, 0)
	a.Emit(ABC(OpReturn, 0, 0, 0))
	engine, err := Load(a.Module(), Options{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return engine.newInterpreter()
}

func callBuiltin(t *testing.T, in *Interpreter, id uint32, args ...Value) (Value, *RuntimeError) {
	t.Helper()
	spec := in.builtins.lookup(id)
	if spec == nil {
		t.Fatalf("builtin %d not registered", id)
	}
	return spec.Fn(in, args)
}

func str(in *Interpreter, s string) Value {
	return NewString(in.strings.Intern(s))
}

func TestBuiltinLength(t *testing.T) {
	in := builtinHarness(t)
	cases := []struct {
		arg  Value
		want int64
	}{
		{str(in, "héllo"), 5}, // runes, not bytes
		{NewList([]Value{NewInt(1), NewInt(2)}), 2},
		{NewMap(map[string]Value{}), 0},
	}
	for _, c := range cases {
		v, e := callBuiltin(t, in, BiLength, c.arg)
		if e != nil {
			t.Fatalf("length: %v", e)
		}
		if v.Int() != c.want {
			t.Errorf("length = %d, want %d", v.Int(), c.want)
		}
		c.arg.Release()
	}
}

func TestBuiltinToIntIsPermissive(t *testing.T) {
	in := builtinHarness(t)
	v, e := callBuiltin(t, in, BiToInt, str(in, "42"))
	if e != nil || v.Int() != 42 {
		t.Fatalf("to_int(\"42\") = %v, %v", v, e)
	}
	v, e = callBuiltin(t, in, BiToInt, str(in, "not a number"))
	if e != nil {
		t.Fatalf("to_int on garbage should not error: %v", e)
	}
	if !v.IsNull() {
		t.Errorf("to_int on garbage = %v, want null", v)
	}
}

func TestBuiltinSort(t *testing.T) {
	in := builtinHarness(t)
	list := NewList([]Value{NewInt(3), NewFloat(1.5), NewInt(2)})
	defer list.Release()
	v, e := callBuiltin(t, in, BiSort, list)
	if e != nil {
		t.Fatalf("sort: %v", e)
	}
	defer v.Release()
	got := v.AsList().Elems
	if got[0].Float() != 1.5 || got[1].Int() != 2 || got[2].Int() != 3 {
		t.Errorf("sort = %s", v.Format(in.strings))
	}
	// the input list is untouched
	if list.AsList().Elems[0].Int() != 3 {
		t.Error("sort mutated its argument")
	}
}

func TestBuiltinSlice(t *testing.T) {
	in := builtinHarness(t)
	list := NewList([]Value{NewInt(0), NewInt(1), NewInt(2), NewInt(3)})
	defer list.Release()

	v, e := callBuiltin(t, in, BiSlice, list, NewInt(1), NewInt(3))
	if e != nil {
		t.Fatalf("slice: %v", e)
	}
	if n := len(v.AsList().Elems); n != 2 {
		t.Errorf("slice(1, 3) has %d elements", n)
	}
	v.Release()

	// out-of-range bounds clamp instead of failing
	v, e = callBuiltin(t, in, BiSlice, list, NewInt(-100), NewInt(100))
	if e != nil {
		t.Fatalf("clamped slice: %v", e)
	}
	if n := len(v.AsList().Elems); n != 4 {
		t.Errorf("clamped slice has %d elements", n)
	}
	v.Release()
}

func TestBuiltinMerge(t *testing.T) {
	in := builtinHarness(t)
	left := NewMap(map[string]Value{"a": NewInt(1), "b": NewInt(2)})
	right := NewMap(map[string]Value{"b": NewInt(20), "c": NewInt(30)})
	defer left.Release()
	defer right.Release()

	v, e := callBuiltin(t, in, BiMerge, left, right)
	if e != nil {
		t.Fatalf("merge: %v", e)
	}
	defer v.Release()
	m := v.AsMap().Entries
	if len(m) != 3 || m["b"].Int() != 20 {
		t.Errorf("merge = %s", v.Format(in.strings))
	}
}

func TestBuiltinSplitJoin(t *testing.T) {
	in := builtinHarness(t)
	parts, e := callBuiltin(t, in, BiSplit, str(in, "a,b,c"), str(in, ","))
	if e != nil {
		t.Fatalf("split: %v", e)
	}
	defer parts.Release()
	if len(parts.AsList().Elems) != 3 {
		t.Fatalf("split = %s", parts.Format(in.strings))
	}

	joined, e := callBuiltin(t, in, BiJoin, parts, str(in, "-"))
	if e != nil {
		t.Fatalf("join: %v", e)
	}
	defer joined.Release()
	if got := in.strings.Resolve(joined.StringID()); got != "a-b-c" {
		t.Errorf("join = %q", got)
	}
}

func TestBuiltinHash(t *testing.T) {
	in := builtinHarness(t)
	v, e := callBuiltin(t, in, BiHash, str(in, "abc"))
	if e != nil {
		t.Fatalf("hash: %v", e)
	}
	defer v.Release()
	got := in.strings.Resolve(v.StringID())
	if !strings.HasPrefix(got, "sha256:") || len(got) != len("sha256:")+64 {
		t.Errorf("hash = %q", got)
	}
	// stable across calls
	v2, _ := callBuiltin(t, in, BiHash, str(in, "abc"))
	defer v2.Release()
	if in.strings.Resolve(v2.StringID()) != got {
		t.Error("hash is not deterministic")
	}
}

func TestBuiltinMinMaxPreserveOperand(t *testing.T) {
	in := builtinHarness(t)
	v, e := callBuiltin(t, in, BiMin, NewInt(3), NewFloat(1.5))
	if e != nil {
		t.Fatalf("min: %v", e)
	}
	if v.Kind() != KindFloat || v.Float() != 1.5 {
		t.Errorf("min(3, 1.5) = %v", v)
	}
	v, e = callBuiltin(t, in, BiMax, NewInt(3), NewFloat(1.5))
	if e != nil {
		t.Fatalf("max: %v", e)
	}
	if v.Kind() != KindInt || v.Int() != 3 {
		t.Errorf("max(3, 1.5) = %v", v)
	}
}

func TestBuiltinRange(t *testing.T) {
	in := builtinHarness(t)
	v, e := callBuiltin(t, in, BiRange, NewInt(2), NewInt(6))
	if e != nil {
		t.Fatalf("range: %v", e)
	}
	defer v.Release()
	elems := v.AsList().Elems
	if len(elems) != 4 || elems[0].Int() != 2 || elems[3].Int() != 5 {
		t.Errorf("range(2, 6) = %s", v.Format(in.strings))
	}
}

func TestBuiltinTypeOf(t *testing.T) {
	in := builtinHarness(t)
	cases := []struct {
		arg  Value
		want string
	}{
		{Null, "Null"},
		{NewBool(true), "Bool"},
		{NewInt(1), "Int"},
		{NewFloat(1.0), "Float"},
	}
	for _, c := range cases {
		v, e := callBuiltin(t, in, BiTypeOf, c.arg)
		if e != nil {
			t.Fatalf("type_of: %v", e)
		}
		if got := in.strings.Resolve(v.StringID()); got != c.want {
			t.Errorf("type_of = %q, want %q", got, c.want)
		}
		v.Release()
	}
}

func TestBuiltinArityChecked(t *testing.T) {
	a := NewAssembler()
	a.Cell("main", 1, 0)
	a.Emit(ABx(OpIntrinsic, 0, uint16(BiSplit))) // split needs two args
	a.Emit(ABC(OpReturn, 0, 1, 0))
	engine, err := Load(a.Module(), Options{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	_, err = engine.CallByName(context.Background(), "main")
	if err == nil {
		t.Fatal("intrinsic with too few registers should fail")
	}
}

func TestBuiltinJSONRoundTrip(t *testing.T) {
	in := builtinHarness(t)
	v, e := callBuiltin(t, in, BiJSONParse, str(in, `{"a": [1, 2], "b": "x"}`))
	if e != nil {
		t.Fatalf("json_parse: %v", e)
	}
	defer v.Release()
	if v.Kind() != KindMap {
		t.Fatalf("json_parse produced %v", v.Kind())
	}
	out, e := callBuiltin(t, in, BiJSONEncode, v)
	if e != nil {
		t.Fatalf("json_encode: %v", e)
	}
	defer out.Release()
	enc := in.strings.Resolve(out.StringID())
	if !strings.Contains(enc, `"a"`) || !strings.Contains(enc, `"x"`) {
		t.Errorf("json_encode = %q", enc)
	}
}

func TestReservedBuiltinIdsUnregistered(t *testing.T) {
	tbl := StandardBuiltins()
	for _, id := range []uint32{BiDiff, BiPatch, BiRedact} {
		if tbl.lookup(id) != nil {
			t.Errorf("reserved id %d should not be registered", id)
		}
	}
	if tbl.lookup(BiLength) == nil {
		t.Error("length missing from the standard table")
	}
}

func TestBuiltinIDByName(t *testing.T) {
	tbl := StandardBuiltins()
	id, ok := tbl.IDByName("upper")
	if !ok || id != BiUpper {
		t.Errorf("IDByName(upper) = %d, %v", id, ok)
	}
	if _, ok := tbl.IDByName("no_such_builtin"); ok {
		t.Error("unknown name resolved")
	}
}
