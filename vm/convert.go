package vm

import (
	"fmt"
	"sort"
)

// ---------------------------------------------------------------------------
// Native value bridging
// ---------------------------------------------------------------------------
//
// Tool providers, schema validators and trace sinks work with plain Go
// values (the shapes encoding/json produces), never with engine values.
// Conversion always happens on the engine thread.

// toNative converts an engine value to its native Go shape. Records become
// maps keyed by field name resolved through types; unions become a tagged
// two-entry map. Closures, futures and continuations do not cross the
// boundary.
func toNative(v Value, st *StringTable, types []TypeInfo) (any, error) {
	switch v.Kind() {
	case KindNull:
		return nil, nil
	case KindBool:
		return v.Bool(), nil
	case KindInt:
		return v.Int(), nil
	case KindFloat:
		return v.Float(), nil
	case KindString:
		return st.Resolve(v.StringID()), nil

	case KindList, KindTuple:
		var elems []Value
		if v.Kind() == KindList {
			elems = v.AsList().Elems
		} else {
			elems = v.AsTuple().Elems
		}
		out := make([]any, len(elems))
		for i, e := range elems {
			n, err := toNative(e, st, types)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil

	case KindMap:
		entries := v.AsMap().Entries
		out := make(map[string]any, len(entries))
		for k, e := range entries {
			n, err := toNative(e, st, types)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil

	case KindSet:
		elems := v.AsSet().Elems
		keys := make([]string, 0, len(elems))
		for k := range elems {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]any, 0, len(elems))
		for _, k := range keys {
			n, err := toNative(elems[k], st, types)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		}
		return out, nil

	case KindRecord:
		r := v.AsRecord()
		if r.Type < 0 || r.Type >= len(types) {
			return nil, fmt.Errorf("record type %d outside pool", r.Type)
		}
		ti := &types[r.Type]
		if len(ti.Fields) != len(r.Fields) {
			return nil, fmt.Errorf("record %q: %d fields, type declares %d", ti.Name, len(r.Fields), len(ti.Fields))
		}
		out := make(map[string]any, len(r.Fields))
		for i, fv := range r.Fields {
			n, err := toNative(fv, st, types)
			if err != nil {
				return nil, err
			}
			out[ti.Fields[i].Name] = n
		}
		return out, nil

	case KindUnion:
		u := v.AsUnion()
		payload, err := toNative(u.Payload, st, types)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"$tag":  st.Resolve(u.Tag),
			"value": payload,
		}, nil
	}
	return nil, fmt.Errorf("%s does not cross the tool boundary", v.Kind())
}

// ToNative is the exported form of the engine-to-native conversion used by
// hosts inspecting results. types may be nil when no records are involved.
func ToNative(v Value, st *StringTable, types []TypeInfo) (any, error) {
	return toNative(v, st, types)
}

// FromNative converts a native Go value (the shapes produced by JSON or
// protobuf decoding) into an engine value. Strings are interned into st.
// Maps become Map values; there is no path back to records or unions.
func FromNative(x any, st *StringTable) (Value, error) {
	switch n := x.(type) {
	case nil:
		return Null, nil
	case bool:
		return NewBool(n), nil
	case int:
		return NewInt(int64(n)), nil
	case int32:
		return NewInt(int64(n)), nil
	case int64:
		return NewInt(n), nil
	case uint64:
		return NewInt(int64(n)), nil
	case float32:
		return NewFloat(float64(n)), nil
	case float64:
		return NewFloat(n), nil
	case string:
		return NewString(st.Intern(n)), nil
	case []byte:
		return NewString(st.Intern(string(n))), nil

	case []any:
		elems := make([]Value, 0, len(n))
		for _, e := range n {
			v, err := FromNative(e, st)
			if err != nil {
				releaseAll(elems)
				return Null, err
			}
			elems = append(elems, v)
		}
		return NewList(elems), nil

	case map[string]any:
		entries := make(map[string]Value, len(n))
		for k, e := range n {
			v, err := FromNative(e, st)
			if err != nil {
				for _, held := range entries {
					held.Release()
				}
				return Null, err
			}
			entries[k] = v
		}
		return NewMap(entries), nil
	}
	return Null, fmt.Errorf("cannot import %T into the engine", x)
}
