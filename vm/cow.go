package vm

// ---------------------------------------------------------------------------
// Copy-on-write
// ---------------------------------------------------------------------------
//
// Collections are shared by reference count. Mutation goes through one of
// the cow helpers below: a box with a single owner is mutated in place; a
// shared box is cloned first, the clone's children retained, and the shared
// box loses the mutating alias. Two values that alias the same collection
// are therefore observationally identical until one side mutates, at which
// point they diverge without affecting the other.

// cowList returns a list box that the caller exclusively owns, cloning the
// shared one if needed. The returned value replaces v in the caller's slot.
func cowList(v Value) (Value, *List) {
	l := v.AsList()
	if l.refs == 1 {
		return v, l
	}
	l.refs--
	elems := make([]Value, len(l.Elems))
	for i, e := range l.Elems {
		elems[i] = e.Retain()
	}
	nv := NewList(elems)
	return nv, nv.AsList()
}

// cowMap returns an exclusively owned map box, cloning if shared.
func cowMap(v Value) (Value, *Map) {
	m := v.AsMap()
	if m.refs == 1 {
		return v, m
	}
	m.refs--
	entries := make(map[string]Value, len(m.Entries))
	for k, e := range m.Entries {
		entries[k] = e.Retain()
	}
	nv := NewMap(entries)
	return nv, nv.AsMap()
}

// cowSet returns an exclusively owned set box, cloning if shared.
func cowSet(v Value) (Value, *Set) {
	s := v.AsSet()
	if s.refs == 1 {
		return v, s
	}
	s.refs--
	elems := make(map[string]Value, len(s.Elems))
	for k, e := range s.Elems {
		elems[k] = e.Retain()
	}
	nv := NewSet(elems)
	return nv, nv.AsSet()
}

// cowRecord returns an exclusively owned record box, cloning if shared.
func cowRecord(v Value) (Value, *Record) {
	r := v.AsRecord()
	if r.refs == 1 {
		return v, r
	}
	r.refs--
	fields := make([]Value, len(r.Fields))
	for i, f := range r.Fields {
		fields[i] = f.Retain()
	}
	nv := NewRecord(r.Type, fields)
	return nv, nv.AsRecord()
}

// cowTuple returns an exclusively owned tuple box, cloning if shared.
// Tuples are fixed-arity but their elements can still be replaced by
// builtins, so they follow the same rule.
func cowTuple(v Value) (Value, *Tuple) {
	t := v.AsTuple()
	if t.refs == 1 {
		return v, t
	}
	t.refs--
	elems := make([]Value, len(t.Elems))
	for i, e := range t.Elems {
		elems[i] = e.Retain()
	}
	nv := NewTuple(elems)
	return nv, nv.AsTuple()
}
