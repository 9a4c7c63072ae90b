package vm

import "sort"

func registerCollectionBuiltins(t *BuiltinTable) {
	t.Register(BiKeys, "keys", 1, biKeys)
	t.Register(BiValues, "values", 1, biValues)
	t.Register(BiContains, "contains", 2, biContains)
	t.Register(BiSlice, "slice", 3, biSlice)
	t.Register(BiAppend, "append", 2, biAppendList)
	t.Register(BiRange, "range", 2, biRange)
	t.Register(BiSort, "sort", 1, biSort)
	t.Register(BiReverse, "reverse", 1, biReverse)
	t.Register(BiFlatten, "flatten", 1, biFlatten)
	t.Register(BiUnique, "unique", 1, biUnique)
	t.Register(BiTake, "take", 2, biTake)
	t.Register(BiDrop, "drop", 2, biDrop)
	t.Register(BiFirst, "first", 1, biFirst)
	t.Register(BiLast, "last", 1, biLast)
	t.Register(BiIsEmpty, "is_empty", 1, biIsEmpty)
	t.Register(BiMerge, "merge", 2, biMerge)
	t.Register(BiEntries, "entries", 1, biEntries)
	t.Register(BiHasKey, "has_key", 2, biHasKey)
	t.Register(BiToSet, "to_set", 1, biToSet)
}

func biKeys(in *Interpreter, args []Value) (Value, *RuntimeError) {
	v := args[0]
	switch v.Kind() {
	case KindMap:
		entries := v.AsMap().Entries
		keys := make([]string, 0, len(entries))
		for k := range entries {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]Value, len(keys))
		for i, k := range keys {
			out[i] = internString(in, k)
		}
		return NewList(out), nil
	case KindRecord:
		r := v.AsRecord()
		if r.Type >= 0 && r.Type < len(in.mod.Types) {
			fields := in.mod.Types[r.Type].Fields
			out := make([]Value, len(fields))
			for i, f := range fields {
				out[i] = internString(in, f.Name)
			}
			return NewList(out), nil
		}
	}
	return NewList(nil), nil
}

func biValues(in *Interpreter, args []Value) (Value, *RuntimeError) {
	v := args[0]
	switch v.Kind() {
	case KindMap:
		entries := v.AsMap().Entries
		keys := make([]string, 0, len(entries))
		for k := range entries {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]Value, len(keys))
		for i, k := range keys {
			out[i] = entries[k].Retain()
		}
		return NewList(out), nil
	case KindRecord:
		fields := v.AsRecord().Fields
		out := make([]Value, len(fields))
		for i, f := range fields {
			out[i] = f.Retain()
		}
		return NewList(out), nil
	}
	return NewList(nil), nil
}

func biContains(in *Interpreter, args []Value) (Value, *RuntimeError) {
	return in.membership(args[1], args[0])
}

// biSlice takes a half-open [start, end) window of a list or string;
// negative bounds count from the end and the window is clamped.
func biSlice(in *Interpreter, args []Value) (Value, *RuntimeError) {
	start, err := wantInt(args[1], "slice start")
	if err != nil {
		return Null, err
	}
	end, err := wantInt(args[2], "slice end")
	if err != nil {
		return Null, err
	}
	clamp := func(i int64, n int) int {
		if i < 0 {
			i += int64(n)
		}
		if i < 0 {
			return 0
		}
		if i > int64(n) {
			return n
		}
		return int(i)
	}
	switch args[0].Kind() {
	case KindList:
		elems := args[0].AsList().Elems
		lo, hi := clamp(start, len(elems)), clamp(end, len(elems))
		if lo > hi {
			lo = hi
		}
		out := make([]Value, 0, hi-lo)
		for _, e := range elems[lo:hi] {
			out = append(out, e.Retain())
		}
		return NewList(out), nil
	case KindString:
		runes := []rune(in.strings.Resolve(args[0].StringID()))
		lo, hi := clamp(start, len(runes)), clamp(end, len(runes))
		if lo > hi {
			lo = hi
		}
		return internString(in, string(runes[lo:hi])), nil
	}
	return Null, newError(ErrBuiltin, "slice of %s", args[0].Kind())
}

// biAppendList is the persistent builtin form: the source list survives
// untouched and the result is a fresh list either way.
func biAppendList(in *Interpreter, args []Value) (Value, *RuntimeError) {
	l, err := wantList(args[0], "append subject")
	if err != nil {
		return Null, err
	}
	out := make([]Value, 0, len(l.Elems)+1)
	for _, e := range l.Elems {
		out = append(out, e.Retain())
	}
	out = append(out, args[1].Retain())
	return NewList(out), nil
}

func biRange(in *Interpreter, args []Value) (Value, *RuntimeError) {
	start, err := wantInt(args[0], "range start")
	if err != nil {
		return Null, err
	}
	end, err := wantInt(args[1], "range end")
	if err != nil {
		return Null, err
	}
	if end < start {
		return NewList(nil), nil
	}
	out := make([]Value, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, NewInt(i))
	}
	return NewList(out), nil
}

// valueLess orders scalars for sort: kinds first, then value. Numbers
// cross-compare; everything else falls back to formatted text.
func valueLess(in *Interpreter, a, b Value) bool {
	num := func(v Value) bool { return v.Kind() == KindInt || v.Kind() == KindFloat }
	switch {
	case num(a) && num(b):
		return numAsFloat(a) < numAsFloat(b)
	case a.Kind() == KindString && b.Kind() == KindString:
		return in.strings.Resolve(a.StringID()) < in.strings.Resolve(b.StringID())
	case a.Kind() != b.Kind():
		return a.Kind() < b.Kind()
	}
	return a.Format(in.strings) < b.Format(in.strings)
}

func biSort(in *Interpreter, args []Value) (Value, *RuntimeError) {
	l, err := wantList(args[0], "sort subject")
	if err != nil {
		return Null, err
	}
	out := make([]Value, len(l.Elems))
	for i, e := range l.Elems {
		out[i] = e.Retain()
	}
	sort.SliceStable(out, func(i, j int) bool { return valueLess(in, out[i], out[j]) })
	return NewList(out), nil
}

func biReverse(in *Interpreter, args []Value) (Value, *RuntimeError) {
	l, err := wantList(args[0], "reverse subject")
	if err != nil {
		return Null, err
	}
	n := len(l.Elems)
	out := make([]Value, n)
	for i, e := range l.Elems {
		out[n-1-i] = e.Retain()
	}
	return NewList(out), nil
}

func biFlatten(in *Interpreter, args []Value) (Value, *RuntimeError) {
	l, err := wantList(args[0], "flatten subject")
	if err != nil {
		return Null, err
	}
	var out []Value
	for _, e := range l.Elems {
		if e.Kind() == KindList {
			for _, inner := range e.AsList().Elems {
				out = append(out, inner.Retain())
			}
		} else {
			out = append(out, e.Retain())
		}
	}
	return NewList(out), nil
}

func biUnique(in *Interpreter, args []Value) (Value, *RuntimeError) {
	l, err := wantList(args[0], "unique subject")
	if err != nil {
		return Null, err
	}
	var out []Value
	for _, e := range l.Elems {
		seen := false
		for _, have := range out {
			if have.Equals(e) {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, e.Retain())
		}
	}
	return NewList(out), nil
}

func biTake(in *Interpreter, args []Value) (Value, *RuntimeError) {
	l, err := wantList(args[0], "take subject")
	if err != nil {
		return Null, err
	}
	n, err := wantInt(args[1], "take count")
	if err != nil {
		return Null, err
	}
	if n < 0 {
		n = 0
	}
	if n > int64(len(l.Elems)) {
		n = int64(len(l.Elems))
	}
	out := make([]Value, 0, n)
	for _, e := range l.Elems[:n] {
		out = append(out, e.Retain())
	}
	return NewList(out), nil
}

func biDrop(in *Interpreter, args []Value) (Value, *RuntimeError) {
	l, err := wantList(args[0], "drop subject")
	if err != nil {
		return Null, err
	}
	n, err := wantInt(args[1], "drop count")
	if err != nil {
		return Null, err
	}
	if n < 0 {
		n = 0
	}
	if n > int64(len(l.Elems)) {
		n = int64(len(l.Elems))
	}
	out := make([]Value, 0, int64(len(l.Elems))-n)
	for _, e := range l.Elems[n:] {
		out = append(out, e.Retain())
	}
	return NewList(out), nil
}

func biFirst(in *Interpreter, args []Value) (Value, *RuntimeError) {
	l, err := wantList(args[0], "first subject")
	if err != nil {
		return Null, err
	}
	if len(l.Elems) == 0 {
		return Null, nil
	}
	return l.Elems[0].Retain(), nil
}

func biLast(in *Interpreter, args []Value) (Value, *RuntimeError) {
	l, err := wantList(args[0], "last subject")
	if err != nil {
		return Null, err
	}
	if len(l.Elems) == 0 {
		return Null, nil
	}
	return l.Elems[len(l.Elems)-1].Retain(), nil
}

func biIsEmpty(in *Interpreter, args []Value) (Value, *RuntimeError) {
	v := args[0]
	switch v.Kind() {
	case KindList:
		return NewBool(len(v.AsList().Elems) == 0), nil
	case KindTuple:
		return NewBool(len(v.AsTuple().Elems) == 0), nil
	case KindMap:
		return NewBool(len(v.AsMap().Entries) == 0), nil
	case KindSet:
		return NewBool(len(v.AsSet().Elems) == 0), nil
	case KindString:
		return NewBool(in.strings.Resolve(v.StringID()) == ""), nil
	case KindNull:
		return NewBool(true), nil
	}
	return NewBool(false), nil
}

// biMerge combines two maps; the second map wins on key collisions.
func biMerge(in *Interpreter, args []Value) (Value, *RuntimeError) {
	a, err := wantMap(args[0], "merge base")
	if err != nil {
		return Null, err
	}
	b, err := wantMap(args[1], "merge overlay")
	if err != nil {
		return Null, err
	}
	out := make(map[string]Value, len(a.Entries)+len(b.Entries))
	for k, v := range a.Entries {
		out[k] = v.Retain()
	}
	for k, v := range b.Entries {
		if old, ok := out[k]; ok {
			old.Release()
		}
		out[k] = v.Retain()
	}
	return NewMap(out), nil
}

// biEntries renders a map as a sorted list of [key, value] tuples.
func biEntries(in *Interpreter, args []Value) (Value, *RuntimeError) {
	m, err := wantMap(args[0], "entries subject")
	if err != nil {
		return Null, err
	}
	keys := make([]string, 0, len(m.Entries))
	for k := range m.Entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Value, len(keys))
	for i, k := range keys {
		out[i] = NewTuple([]Value{internString(in, k), m.Entries[k].Retain()})
	}
	return NewList(out), nil
}

func biHasKey(in *Interpreter, args []Value) (Value, *RuntimeError) {
	m, err := wantMap(args[0], "has_key subject")
	if err != nil {
		return Null, err
	}
	k, err := wantString(in, args[1], "has_key key")
	if err != nil {
		return Null, err
	}
	_, ok := m.Entries[k]
	return NewBool(ok), nil
}

func biToSet(in *Interpreter, args []Value) (Value, *RuntimeError) {
	l, err := wantList(args[0], "to_set subject")
	if err != nil {
		return Null, err
	}
	elems := make(map[string]Value, len(l.Elems))
	for _, e := range l.Elems {
		k, ok := canonicalKey(e)
		if !ok {
			for _, held := range elems {
				held.Release()
			}
			return Null, newError(ErrBuiltin, "unhashable %s in to_set", e.Kind())
		}
		if _, dup := elems[k]; !dup {
			elems[k] = e.Retain()
		}
	}
	return NewSet(elems), nil
}
