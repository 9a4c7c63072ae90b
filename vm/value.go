package vm

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Value: the closed tagged union over all runtime values
// ---------------------------------------------------------------------------

// Kind identifies the runtime variant of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
	KindTuple
	KindMap
	KindSet
	KindRecord
	KindUnion
	KindClosure
	KindFuture
	KindContinuation
)

// String returns the kind's name as surfaced in type errors.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "Null"
	case KindBool:
		return "Bool"
	case KindInt:
		return "Int"
	case KindFloat:
		return "Float"
	case KindString:
		return "String"
	case KindList:
		return "List"
	case KindTuple:
		return "Tuple"
	case KindMap:
		return "Map"
	case KindSet:
		return "Set"
	case KindRecord:
		return "Record"
	case KindUnion:
		return "Union"
	case KindClosure:
		return "Closure"
	case KindFuture:
		return "Future"
	case KindContinuation:
		return "Continuation"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Value is a tagged runtime value. Scalars are stored inline; strings are
// interned ids into the VM's StringTable; everything else points at a
// reference-counted box. Copying a Value aliases the box: callers duplicating
// a value into another owning slot must Retain it, and owners overwriting or
// discarding a slot must Release the old value. The reference count is what
// drives the copy-on-write decision for collections.
type Value struct {
	kind Kind
	num  int64   // KindInt payload; KindBool 0/1; KindString id
	flt  float64 // KindFloat payload
	ref  any     // boxed payload for reference kinds
}

// Null is the unit value.
var Null = Value{kind: KindNull}

// Kind returns the runtime variant tag.
func (v Value) Kind() Kind {
	return v.kind
}

// IsNull reports whether v is the unit value.
func (v Value) IsNull() bool {
	return v.kind == KindNull
}

// Truthy reports how v behaves in a Test instruction: false and null are
// falsy, everything else is truthy.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNull:
		return false
	case KindBool:
		return v.num != 0
	default:
		return true
	}
}

// ---------------------------------------------------------------------------
// Scalar constructors and accessors
// ---------------------------------------------------------------------------

// NewBool creates a boolean value.
func NewBool(b bool) Value {
	if b {
		return Value{kind: KindBool, num: 1}
	}
	return Value{kind: KindBool}
}

// NewInt creates an integer value.
func NewInt(n int64) Value {
	return Value{kind: KindInt, num: n}
}

// NewFloat creates a float value.
func NewFloat(f float64) Value {
	return Value{kind: KindFloat, flt: f}
}

// NewString creates a string value from an interned id.
func NewString(id StringID) Value {
	return Value{kind: KindString, num: int64(id)}
}

// Bool returns the boolean payload. Panics on other kinds.
func (v Value) Bool() bool {
	if v.kind != KindBool {
		panic("vm: Value.Bool on " + v.kind.String())
	}
	return v.num != 0
}

// Int returns the integer payload. Panics on other kinds.
func (v Value) Int() int64 {
	if v.kind != KindInt {
		panic("vm: Value.Int on " + v.kind.String())
	}
	return v.num
}

// Float returns the float payload. Panics on other kinds.
func (v Value) Float() float64 {
	if v.kind != KindFloat {
		panic("vm: Value.Float on " + v.kind.String())
	}
	return v.flt
}

// StringID returns the interned string id. Panics on other kinds.
func (v Value) StringID() StringID {
	if v.kind != KindString {
		panic("vm: Value.StringID on " + v.kind.String())
	}
	return StringID(v.num)
}

// ---------------------------------------------------------------------------
// Reference-counted boxes
// ---------------------------------------------------------------------------

// List is a growable sequence of values.
type List struct {
	refs  int32
	Elems []Value
}

// Tuple is a fixed-arity sequence of values.
type Tuple struct {
	refs  int32
	Elems []Value
}

// Map holds string-keyed entries. Iteration order is sorted-key for
// determinism, matching the ordered maps of the wire format.
type Map struct {
	refs    int32
	Entries map[string]Value
}

// Set holds values keyed by their canonical scalar key.
type Set struct {
	refs  int32
	Elems map[string]Value
}

// Record is a named-field aggregate. Fields are stored in the declaration
// order of the record's type; names resolve through the module type table.
type Record struct {
	refs   int32
	Type   int // index into the module type table
	Fields []Value
}

// Union is a tagged variant holding one payload value.
type Union struct {
	refs    int32
	Tag     StringID
	Payload Value
}

// Upvalue is a shared mutable box for a captured variable.
type Upvalue struct {
	V Value
}

// Closure pairs a cell with its captured environment.
type Closure struct {
	refs   int32
	Cell   int
	Upvals []*Upvalue
}

// NewList creates a list value owning elems. The caller transfers ownership
// of the element references.
func NewList(elems []Value) Value {
	return Value{kind: KindList, ref: &List{refs: 1, Elems: elems}}
}

// NewTuple creates a tuple value owning elems.
func NewTuple(elems []Value) Value {
	return Value{kind: KindTuple, ref: &Tuple{refs: 1, Elems: elems}}
}

// NewMap creates a map value owning entries.
func NewMap(entries map[string]Value) Value {
	if entries == nil {
		entries = make(map[string]Value)
	}
	return Value{kind: KindMap, ref: &Map{refs: 1, Entries: entries}}
}

// NewSet creates a set value owning elems.
func NewSet(elems map[string]Value) Value {
	if elems == nil {
		elems = make(map[string]Value)
	}
	return Value{kind: KindSet, ref: &Set{refs: 1, Elems: elems}}
}

// NewRecord creates a record value of the given type owning fields.
func NewRecord(typeIdx int, fields []Value) Value {
	return Value{kind: KindRecord, ref: &Record{refs: 1, Type: typeIdx, Fields: fields}}
}

// NewUnion creates a tagged union value owning payload.
func NewUnion(tag StringID, payload Value) Value {
	return Value{kind: KindUnion, ref: &Union{refs: 1, Tag: tag, Payload: payload}}
}

// NewClosure creates a closure value over the given cell.
func NewClosure(cell int, upvals []*Upvalue) Value {
	return Value{kind: KindClosure, ref: &Closure{refs: 1, Cell: cell, Upvals: upvals}}
}

// AsList returns the list box. Panics on other kinds.
func (v Value) AsList() *List {
	if v.kind != KindList {
		panic("vm: Value.AsList on " + v.kind.String())
	}
	return v.ref.(*List)
}

// AsTuple returns the tuple box. Panics on other kinds.
func (v Value) AsTuple() *Tuple {
	if v.kind != KindTuple {
		panic("vm: Value.AsTuple on " + v.kind.String())
	}
	return v.ref.(*Tuple)
}

// AsMap returns the map box. Panics on other kinds.
func (v Value) AsMap() *Map {
	if v.kind != KindMap {
		panic("vm: Value.AsMap on " + v.kind.String())
	}
	return v.ref.(*Map)
}

// AsSet returns the set box. Panics on other kinds.
func (v Value) AsSet() *Set {
	if v.kind != KindSet {
		panic("vm: Value.AsSet on " + v.kind.String())
	}
	return v.ref.(*Set)
}

// AsRecord returns the record box. Panics on other kinds.
func (v Value) AsRecord() *Record {
	if v.kind != KindRecord {
		panic("vm: Value.AsRecord on " + v.kind.String())
	}
	return v.ref.(*Record)
}

// AsUnion returns the union box. Panics on other kinds.
func (v Value) AsUnion() *Union {
	if v.kind != KindUnion {
		panic("vm: Value.AsUnion on " + v.kind.String())
	}
	return v.ref.(*Union)
}

// AsClosure returns the closure box. Panics on other kinds.
func (v Value) AsClosure() *Closure {
	if v.kind != KindClosure {
		panic("vm: Value.AsClosure on " + v.kind.String())
	}
	return v.ref.(*Closure)
}

// ---------------------------------------------------------------------------
// Reference counting
// ---------------------------------------------------------------------------

// Refs returns the current reference count of a boxed value, or 0 for
// scalars. Exposed for the copy-on-write tests.
func (v Value) Refs() int32 {
	switch v.kind {
	case KindList:
		return v.ref.(*List).refs
	case KindTuple:
		return v.ref.(*Tuple).refs
	case KindMap:
		return v.ref.(*Map).refs
	case KindSet:
		return v.ref.(*Set).refs
	case KindRecord:
		return v.ref.(*Record).refs
	case KindUnion:
		return v.ref.(*Union).refs
	case KindClosure:
		return v.ref.(*Closure).refs
	case KindFuture:
		return v.ref.(*Future).refs
	case KindContinuation:
		return v.ref.(*Continuation).refs
	default:
		return 0
	}
}

// Retain records a new owning alias of v. Scalars are unaffected. The engine
// is single-threaded, so the counts are plain integers.
func (v Value) Retain() Value {
	switch v.kind {
	case KindList:
		v.ref.(*List).refs++
	case KindTuple:
		v.ref.(*Tuple).refs++
	case KindMap:
		v.ref.(*Map).refs++
	case KindSet:
		v.ref.(*Set).refs++
	case KindRecord:
		v.ref.(*Record).refs++
	case KindUnion:
		v.ref.(*Union).refs++
	case KindClosure:
		v.ref.(*Closure).refs++
	case KindFuture:
		v.ref.(*Future).refs++
	case KindContinuation:
		v.ref.(*Continuation).refs++
	}
	return v
}

// Release drops an owning alias of v. When the last alias drops, the box's
// children are released in turn. Memory itself is reclaimed by the host
// garbage collector; the count exists to track exclusive ownership for the
// copy-on-write rule.
func (v Value) Release() {
	switch v.kind {
	case KindList:
		l := v.ref.(*List)
		l.refs--
		if l.refs == 0 {
			releaseAll(l.Elems)
		}
	case KindTuple:
		t := v.ref.(*Tuple)
		t.refs--
		if t.refs == 0 {
			releaseAll(t.Elems)
		}
	case KindMap:
		m := v.ref.(*Map)
		m.refs--
		if m.refs == 0 {
			for _, e := range m.Entries {
				e.Release()
			}
		}
	case KindSet:
		s := v.ref.(*Set)
		s.refs--
		if s.refs == 0 {
			for _, e := range s.Elems {
				e.Release()
			}
		}
	case KindRecord:
		r := v.ref.(*Record)
		r.refs--
		if r.refs == 0 {
			releaseAll(r.Fields)
		}
	case KindUnion:
		u := v.ref.(*Union)
		u.refs--
		if u.refs == 0 {
			u.Payload.Release()
		}
	case KindClosure:
		c := v.ref.(*Closure)
		c.refs--
		if c.refs == 0 {
			for _, up := range c.Upvals {
				up.V.Release()
			}
		}
	case KindFuture:
		v.ref.(*Future).refs--
	case KindContinuation:
		c := v.ref.(*Continuation)
		c.refs--
		if c.refs == 0 {
			c.discard()
		}
	}
}

func releaseAll(vs []Value) {
	for _, v := range vs {
		v.Release()
	}
}

// ---------------------------------------------------------------------------
// Equality, keys, indexing
// ---------------------------------------------------------------------------

// Equals reports structural equality. Interned strings compare by id; boxes
// compare by contents, not identity.
func (v Value) Equals(o Value) bool {
	if v.kind != o.kind {
		// Mixed int/float comparison follows the numeric promotion rule.
		if v.kind == KindInt && o.kind == KindFloat {
			return float64(v.num) == o.flt
		}
		if v.kind == KindFloat && o.kind == KindInt {
			return v.flt == float64(o.num)
		}
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool, KindInt, KindString:
		return v.num == o.num
	case KindFloat:
		return v.flt == o.flt
	case KindList:
		return elemsEqual(v.AsList().Elems, o.AsList().Elems)
	case KindTuple:
		return elemsEqual(v.AsTuple().Elems, o.AsTuple().Elems)
	case KindMap:
		a, b := v.AsMap().Entries, o.AsMap().Entries
		if len(a) != len(b) {
			return false
		}
		for k, av := range a {
			bv, ok := b[k]
			if !ok || !av.Equals(bv) {
				return false
			}
		}
		return true
	case KindSet:
		a, b := v.AsSet().Elems, o.AsSet().Elems
		if len(a) != len(b) {
			return false
		}
		for k := range a {
			if _, ok := b[k]; !ok {
				return false
			}
		}
		return true
	case KindRecord:
		a, b := v.AsRecord(), o.AsRecord()
		return a.Type == b.Type && elemsEqual(a.Fields, b.Fields)
	case KindUnion:
		a, b := v.AsUnion(), o.AsUnion()
		return a.Tag == b.Tag && a.Payload.Equals(b.Payload)
	default:
		// Closures, futures and continuations compare by identity.
		return v.ref == o.ref
	}
}

func elemsEqual(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equals(b[i]) {
			return false
		}
	}
	return true
}

// canonicalKey renders a scalar value as a set/map key. Collections are not
// hashable.
func canonicalKey(v Value) (string, bool) {
	switch v.kind {
	case KindNull:
		return "n:", true
	case KindBool:
		if v.num != 0 {
			return "b:1", true
		}
		return "b:0", true
	case KindInt:
		return "i:" + strconv.FormatInt(v.num, 10), true
	case KindFloat:
		return "f:" + strconv.FormatFloat(v.flt, 'g', -1, 64), true
	case KindString:
		return "s:" + strconv.FormatInt(v.num, 10), true
	default:
		return "", false
	}
}

// normIndex normalizes a possibly negative index against length n.
// Negative indices count from the end: -1 is the last element.
func normIndex(i int64, n int) (int, bool) {
	if i < 0 {
		i += int64(n)
	}
	if i < 0 || i >= int64(n) {
		return 0, false
	}
	return int(i), true
}

// ---------------------------------------------------------------------------
// Formatting
// ---------------------------------------------------------------------------

// Format renders v for display, resolving interned strings through st.
func (v Value) Format(st *StringTable) string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		if v.num != 0 {
			return "true"
		}
		return "false"
	case KindInt:
		return strconv.FormatInt(v.num, 10)
	case KindFloat:
		if v.flt == math.Trunc(v.flt) && !math.IsInf(v.flt, 0) {
			return strconv.FormatFloat(v.flt, 'f', 1, 64)
		}
		return strconv.FormatFloat(v.flt, 'g', -1, 64)
	case KindString:
		return st.Resolve(StringID(v.num))
	case KindList:
		return formatSeq("[", "]", v.AsList().Elems, st)
	case KindTuple:
		return formatSeq("(", ")", v.AsTuple().Elems, st)
	case KindMap:
		m := v.AsMap().Entries
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var sb strings.Builder
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(k)
			sb.WriteString(": ")
			sb.WriteString(m[k].Format(st))
		}
		sb.WriteByte('}')
		return sb.String()
	case KindSet:
		s := v.AsSet().Elems
		keys := make([]string, 0, len(s))
		for k := range s {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var sb strings.Builder
		sb.WriteString("#{")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(s[k].Format(st))
		}
		sb.WriteByte('}')
		return sb.String()
	case KindRecord:
		return formatSeq("record(", ")", v.AsRecord().Fields, st)
	case KindUnion:
		u := v.AsUnion()
		return st.Resolve(u.Tag) + "(" + u.Payload.Format(st) + ")"
	case KindClosure:
		return fmt.Sprintf("closure(cell %d)", v.AsClosure().Cell)
	case KindFuture:
		return "future"
	case KindContinuation:
		return "continuation"
	default:
		return "<invalid>"
	}
}

func formatSeq(open, closing string, elems []Value, st *StringTable) string {
	var sb strings.Builder
	sb.WriteString(open)
	for i, e := range elems {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(e.Format(st))
	}
	sb.WriteString(closing)
	return sb.String()
}

// TypeName returns the name used by the Is instruction and type errors.
func (v Value) TypeName() string {
	return v.kind.String()
}
