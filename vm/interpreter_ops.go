package vm

import (
	"math"
	"strings"
)

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func (in *Interpreter) execNewSeq(f *callFrame, ins Instruction) *RuntimeError {
	a, e := in.slot(f, ins.A())
	if e != nil {
		return e
	}
	n := int(ins.B())
	if e := in.span(f, ins.A(), n); e != nil {
		return e
	}
	switch ins.Op() {
	case OpNewList, OpNewTuple:
		elems := make([]Value, n)
		for i := 0; i < n; i++ {
			elems[i] = in.stack.regs[a+1+i].Retain()
		}
		if ins.Op() == OpNewList {
			in.setSlot(a, NewList(elems))
		} else {
			in.setSlot(a, NewTuple(elems))
		}
	case OpNewSet:
		elems := make(map[string]Value, n)
		for i := 0; i < n; i++ {
			v := in.stack.regs[a+1+i]
			k, ok := canonicalKey(v)
			if !ok {
				return in.fail(ErrType, "unhashable %s as set element", v.Kind())
			}
			if _, dup := elems[k]; !dup {
				elems[k] = v.Retain()
			}
		}
		in.setSlot(a, NewSet(elems))
	}
	return nil
}

func (in *Interpreter) execNewMap(f *callFrame, ins Instruction) *RuntimeError {
	a, e := in.slot(f, ins.A())
	if e != nil {
		return e
	}
	n := int(ins.B())
	if e := in.span(f, ins.A(), 2*n); e != nil {
		return e
	}
	entries := make(map[string]Value, n)
	for i := 0; i < n; i++ {
		kv := in.stack.regs[a+1+2*i]
		if kv.Kind() != KindString {
			return in.fail(ErrType, "map key must be String, got %s", kv.Kind())
		}
		key := in.strings.Resolve(kv.StringID())
		if old, dup := entries[key]; dup {
			old.Release()
		}
		entries[key] = in.stack.regs[a+2+2*i].Retain()
	}
	in.setSlot(a, NewMap(entries))
	return nil
}

func (in *Interpreter) execNewRecord(f *callFrame, ins Instruction) *RuntimeError {
	a, e := in.slot(f, ins.A())
	if e != nil {
		return e
	}
	ti := int(ins.Bx())
	if ti >= len(in.mod.Types) {
		return in.fail(ErrEncoding, "type %d outside pool", ti)
	}
	n := len(in.mod.Types[ti].Fields)
	if e := in.span(f, ins.A(), n); e != nil {
		return e
	}
	fields := make([]Value, n)
	for i := 0; i < n; i++ {
		fields[i] = in.stack.regs[a+1+i].Retain()
	}
	in.setSlot(a, NewRecord(ti, fields))
	return nil
}

// ---------------------------------------------------------------------------
// Field and index access
// ---------------------------------------------------------------------------

func (in *Interpreter) execAccess(f *callFrame, ins Instruction) *RuntimeError {
	a, e := in.slot(f, ins.A())
	if e != nil {
		return e
	}
	switch ins.Op() {
	case OpGetField:
		b, e := in.slot(f, ins.B())
		if e != nil {
			return e
		}
		v := in.stack.regs[b]
		if v.Kind() != KindRecord {
			return in.fail(ErrType, "field access on %s", v.Kind())
		}
		r := v.AsRecord()
		if int(ins.C()) >= len(r.Fields) {
			return in.fail(ErrEncoding, "field %d outside record of %d", ins.C(), len(r.Fields))
		}
		in.setSlot(a, r.Fields[ins.C()].Retain())

	case OpSetField:
		c, e := in.slot(f, ins.C())
		if e != nil {
			return e
		}
		v := in.stack.regs[a]
		if v.Kind() != KindRecord {
			return in.fail(ErrType, "field store on %s", v.Kind())
		}
		nv, r := cowRecord(v)
		if int(ins.B()) >= len(r.Fields) {
			nv.Release()
			return in.fail(ErrEncoding, "field %d outside record of %d", ins.B(), len(r.Fields))
		}
		r.Fields[ins.B()].Release()
		r.Fields[ins.B()] = in.stack.regs[c].Retain()
		in.stack.regs[a] = nv // cow already consumed the slot's reference

	case OpGetTuple:
		b, e := in.slot(f, ins.B())
		if e != nil {
			return e
		}
		v := in.stack.regs[b]
		if v.Kind() != KindTuple {
			return in.fail(ErrType, "tuple access on %s", v.Kind())
		}
		t := v.AsTuple()
		if int(ins.C()) >= len(t.Elems) {
			return in.fail(ErrBounds, "tuple index %d outside arity %d", ins.C(), len(t.Elems))
		}
		in.setSlot(a, t.Elems[ins.C()].Retain())

	case OpGetIndex:
		b, e := in.slot(f, ins.B())
		if e != nil {
			return e
		}
		c, e := in.slot(f, ins.C())
		if e != nil {
			return e
		}
		got, ge := in.indexGet(in.stack.regs[b], in.stack.regs[c])
		if ge != nil {
			return ge
		}
		in.setSlot(a, got)

	case OpSetIndex:
		b, e := in.slot(f, ins.B())
		if e != nil {
			return e
		}
		c, e := in.slot(f, ins.C())
		if e != nil {
			return e
		}
		return in.indexSet(a, in.stack.regs[b], in.stack.regs[c])
	}
	return nil
}

func (in *Interpreter) indexGet(container, idx Value) (Value, *RuntimeError) {
	switch container.Kind() {
	case KindList, KindTuple:
		var elems []Value
		if container.Kind() == KindList {
			elems = container.AsList().Elems
		} else {
			elems = container.AsTuple().Elems
		}
		if idx.Kind() != KindInt {
			return Null, in.fail(ErrType, "index must be Int, got %s", idx.Kind())
		}
		i, ok := normIndex(idx.Int(), len(elems))
		if !ok {
			return Null, in.fail(ErrBounds, "index %d outside length %d", idx.Int(), len(elems))
		}
		return elems[i].Retain(), nil

	case KindMap:
		if idx.Kind() != KindString {
			return Null, in.fail(ErrType, "map key must be String, got %s", idx.Kind())
		}
		key := in.strings.Resolve(idx.StringID())
		v, ok := container.AsMap().Entries[key]
		if !ok {
			return Null, in.fail(ErrBounds, "key %q not found", key)
		}
		return v.Retain(), nil

	case KindString:
		if idx.Kind() != KindInt {
			return Null, in.fail(ErrType, "index must be Int, got %s", idx.Kind())
		}
		runes := []rune(in.strings.Resolve(container.StringID()))
		i, ok := normIndex(idx.Int(), len(runes))
		if !ok {
			return Null, in.fail(ErrBounds, "index %d outside length %d", idx.Int(), len(runes))
		}
		return NewString(in.strings.Intern(string(runes[i]))), nil
	}
	return Null, in.fail(ErrType, "index access on %s", container.Kind())
}

// indexSet mutates the container held in arena slot a via copy-on-write.
func (in *Interpreter) indexSet(a int, idx, val Value) *RuntimeError {
	container := in.stack.regs[a]
	switch container.Kind() {
	case KindList:
		if idx.Kind() != KindInt {
			return in.fail(ErrType, "index must be Int, got %s", idx.Kind())
		}
		nv, l := cowList(container)
		i, ok := normIndex(idx.Int(), len(l.Elems))
		if !ok {
			nv.Release()
			return in.fail(ErrBounds, "index %d outside length %d", idx.Int(), len(l.Elems))
		}
		l.Elems[i].Release()
		l.Elems[i] = val.Retain()
		in.stack.regs[a] = nv

	case KindTuple:
		if idx.Kind() != KindInt {
			return in.fail(ErrType, "index must be Int, got %s", idx.Kind())
		}
		nv, t := cowTuple(container)
		i, ok := normIndex(idx.Int(), len(t.Elems))
		if !ok {
			nv.Release()
			return in.fail(ErrBounds, "index %d outside arity %d", idx.Int(), len(t.Elems))
		}
		t.Elems[i].Release()
		t.Elems[i] = val.Retain()
		in.stack.regs[a] = nv

	case KindMap:
		if idx.Kind() != KindString {
			return in.fail(ErrType, "map key must be String, got %s", idx.Kind())
		}
		nv, m := cowMap(container)
		key := in.strings.Resolve(idx.StringID())
		if old, ok := m.Entries[key]; ok {
			old.Release()
		}
		m.Entries[key] = val.Retain()
		in.stack.regs[a] = nv

	default:
		return in.fail(ErrType, "index store on %s", container.Kind())
	}
	return nil
}

// ---------------------------------------------------------------------------
// Binary and unary operators
// ---------------------------------------------------------------------------

func (in *Interpreter) execBinary(f *callFrame, ins Instruction) *RuntimeError {
	a, e := in.slot(f, ins.A())
	if e != nil {
		return e
	}
	b, e := in.slot(f, ins.B())
	if e != nil {
		return e
	}
	c, e := in.slot(f, ins.C())
	if e != nil {
		return e
	}
	lhs, rhs := in.stack.regs[b], in.stack.regs[c]

	var out Value
	var err *RuntimeError
	switch op := ins.Op(); op {
	case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpPow, OpFloorDiv:
		out, err = in.arith(op, lhs, rhs)
	case OpBitOr, OpBitAnd, OpBitXor, OpShl, OpShr:
		out, err = in.bitwise(op, lhs, rhs)
	case OpEq:
		out = NewBool(lhs.Equals(rhs))
	case OpLt, OpLe:
		out, err = in.compare(op, lhs, rhs)
	case OpAnd:
		out = NewBool(lhs.Truthy() && rhs.Truthy())
	case OpOr:
		out = NewBool(lhs.Truthy() || rhs.Truthy())
	case OpIn:
		out, err = in.membership(lhs, rhs)
	case OpIs:
		if rhs.Kind() != KindString {
			return in.fail(ErrType, "type name must be String, got %s", rhs.Kind())
		}
		out = NewBool(in.typeNameOf(lhs) == in.strings.Resolve(rhs.StringID()))
	case OpConcat:
		out, err = in.concat(lhs, rhs)
	}
	if err != nil {
		return err
	}
	in.setSlot(a, out)
	return nil
}

func (in *Interpreter) execUnary(f *callFrame, ins Instruction) *RuntimeError {
	a, e := in.slot(f, ins.A())
	if e != nil {
		return e
	}
	b, e := in.slot(f, ins.B())
	if e != nil {
		return e
	}
	v := in.stack.regs[b]
	switch ins.Op() {
	case OpNeg:
		switch v.Kind() {
		case KindInt:
			in.setSlot(a, NewInt(-v.Int()))
		case KindFloat:
			in.setSlot(a, NewFloat(-v.Float()))
		default:
			return in.fail(ErrType, "negate of %s", v.Kind())
		}
	case OpNot:
		in.setSlot(a, NewBool(!v.Truthy()))
	case OpBitNot:
		if v.Kind() != KindInt {
			return in.fail(ErrType, "bitwise not of %s", v.Kind())
		}
		in.setSlot(a, NewInt(^v.Int()))
	}
	return nil
}

// arith applies the numeric promotion rule: Int op Int stays Int except
// Div by a non-dividing pair, Int op Float widens to Float.
func (in *Interpreter) arith(op Opcode, lhs, rhs Value) (Value, *RuntimeError) {
	li, lf := lhs.Kind() == KindInt, lhs.Kind() == KindFloat
	ri, rf := rhs.Kind() == KindInt, rhs.Kind() == KindFloat
	if (!li && !lf) || (!ri && !rf) {
		bad := lhs
		if li || lf {
			bad = rhs
		}
		return Null, in.fail(ErrType, "arithmetic on %s", bad.Kind())
	}

	if li && ri {
		x, y := lhs.Int(), rhs.Int()
		switch op {
		case OpAdd:
			return NewInt(x + y), nil
		case OpSub:
			return NewInt(x - y), nil
		case OpMul:
			return NewInt(x * y), nil
		case OpDiv:
			if y == 0 {
				return Null, in.fail(ErrType, "division by zero")
			}
			return NewInt(x / y), nil
		case OpMod:
			if y == 0 {
				return Null, in.fail(ErrType, "modulo by zero")
			}
			return NewInt(x % y), nil
		case OpFloorDiv:
			if y == 0 {
				return Null, in.fail(ErrType, "division by zero")
			}
			q := x / y
			if (x%y != 0) && ((x < 0) != (y < 0)) {
				q--
			}
			return NewInt(q), nil
		case OpPow:
			if y >= 0 {
				r := int64(1)
				for i := int64(0); i < y; i++ {
					r *= x
				}
				return NewInt(r), nil
			}
			return NewFloat(math.Pow(float64(x), float64(y))), nil
		}
	}

	x, y := numAsFloat(lhs), numAsFloat(rhs)
	switch op {
	case OpAdd:
		return NewFloat(x + y), nil
	case OpSub:
		return NewFloat(x - y), nil
	case OpMul:
		return NewFloat(x * y), nil
	case OpDiv:
		if y == 0 {
			return Null, in.fail(ErrType, "division by zero")
		}
		return NewFloat(x / y), nil
	case OpMod:
		return NewFloat(math.Mod(x, y)), nil
	case OpFloorDiv:
		if y == 0 {
			return Null, in.fail(ErrType, "division by zero")
		}
		return NewFloat(math.Floor(x / y)), nil
	case OpPow:
		return NewFloat(math.Pow(x, y)), nil
	}
	return Null, in.fail(ErrInternal, "bad arithmetic opcode")
}

func numAsFloat(v Value) float64 {
	if v.Kind() == KindInt {
		return float64(v.Int())
	}
	return v.Float()
}

func (in *Interpreter) bitwise(op Opcode, lhs, rhs Value) (Value, *RuntimeError) {
	if lhs.Kind() != KindInt || rhs.Kind() != KindInt {
		return Null, in.fail(ErrType, "bitwise op needs Int operands, got %s and %s", lhs.Kind(), rhs.Kind())
	}
	x, y := lhs.Int(), rhs.Int()
	switch op {
	case OpBitOr:
		return NewInt(x | y), nil
	case OpBitAnd:
		return NewInt(x & y), nil
	case OpBitXor:
		return NewInt(x ^ y), nil
	case OpShl, OpShr:
		if y < 0 || y > 63 {
			return Null, in.fail(ErrType, "shift amount %d outside 0..63", y)
		}
		if op == OpShl {
			return NewInt(x << uint(y)), nil
		}
		return NewInt(x >> uint(y)), nil
	}
	return Null, in.fail(ErrInternal, "bad bitwise opcode")
}

// compare orders ints, floats (cross-promoting) and strings. All results are
// booleans written to the destination register; branching is left to the
// Test/Jmp pair that follows.
func (in *Interpreter) compare(op Opcode, lhs, rhs Value) (Value, *RuntimeError) {
	numeric := func(k Kind) bool { return k == KindInt || k == KindFloat }
	switch {
	case numeric(lhs.Kind()) && numeric(rhs.Kind()):
		if lhs.Kind() == KindInt && rhs.Kind() == KindInt {
			if op == OpLt {
				return NewBool(lhs.Int() < rhs.Int()), nil
			}
			return NewBool(lhs.Int() <= rhs.Int()), nil
		}
		x, y := numAsFloat(lhs), numAsFloat(rhs)
		if op == OpLt {
			return NewBool(x < y), nil
		}
		return NewBool(x <= y), nil

	case lhs.Kind() == KindString && rhs.Kind() == KindString:
		x := in.strings.Resolve(lhs.StringID())
		y := in.strings.Resolve(rhs.StringID())
		if op == OpLt {
			return NewBool(x < y), nil
		}
		return NewBool(x <= y), nil
	}
	return Null, in.fail(ErrType, "order comparison of %s and %s", lhs.Kind(), rhs.Kind())
}

func (in *Interpreter) membership(needle, haystack Value) (Value, *RuntimeError) {
	switch haystack.Kind() {
	case KindList:
		for _, e := range haystack.AsList().Elems {
			if e.Equals(needle) {
				return NewBool(true), nil
			}
		}
		return NewBool(false), nil
	case KindTuple:
		for _, e := range haystack.AsTuple().Elems {
			if e.Equals(needle) {
				return NewBool(true), nil
			}
		}
		return NewBool(false), nil
	case KindSet:
		k, ok := canonicalKey(needle)
		if !ok {
			return Null, in.fail(ErrType, "unhashable %s in set membership", needle.Kind())
		}
		_, found := haystack.AsSet().Elems[k]
		return NewBool(found), nil
	case KindMap:
		if needle.Kind() != KindString {
			return Null, in.fail(ErrType, "map membership key must be String, got %s", needle.Kind())
		}
		_, ok := haystack.AsMap().Entries[in.strings.Resolve(needle.StringID())]
		return NewBool(ok), nil
	case KindString:
		if needle.Kind() != KindString {
			return Null, in.fail(ErrType, "substring test needs String, got %s", needle.Kind())
		}
		sub := in.strings.Resolve(needle.StringID())
		s := in.strings.Resolve(haystack.StringID())
		return NewBool(strings.Contains(s, sub)), nil
	}
	return Null, in.fail(ErrType, "membership test on %s", haystack.Kind())
}

func (in *Interpreter) concat(lhs, rhs Value) (Value, *RuntimeError) {
	switch {
	case lhs.Kind() == KindString && rhs.Kind() == KindString:
		joined := in.strings.Resolve(lhs.StringID()) + in.strings.Resolve(rhs.StringID())
		return NewString(in.strings.Intern(joined)), nil
	case lhs.Kind() == KindList && rhs.Kind() == KindList:
		le, re := lhs.AsList().Elems, rhs.AsList().Elems
		elems := make([]Value, 0, len(le)+len(re))
		for _, e := range le {
			elems = append(elems, e.Retain())
		}
		for _, e := range re {
			elems = append(elems, e.Retain())
		}
		return NewList(elems), nil
	}
	return Null, in.fail(ErrType, "concat of %s and %s", lhs.Kind(), rhs.Kind())
}

func (in *Interpreter) typeNameOf(v Value) string {
	if v.Kind() == KindRecord {
		ti := v.AsRecord().Type
		if ti >= 0 && ti < len(in.mod.Types) {
			return in.mod.Types[ti].Name
		}
	}
	return v.Kind().String()
}

// ---------------------------------------------------------------------------
// Call / Return
// ---------------------------------------------------------------------------

func (in *Interpreter) execCall(f *callFrame, ins Instruction) *RuntimeError {
	a, e := in.slot(f, ins.A())
	if e != nil {
		return e
	}
	argc := int(ins.B())
	if e := in.span(f, ins.A(), argc); e != nil {
		return e
	}
	callee := in.stack.regs[a]
	if callee.Kind() != KindClosure {
		return in.fail(ErrType, "call of %s", callee.Kind())
	}
	cl := callee.AsClosure()
	if cl.Cell < 0 || cl.Cell >= len(in.mod.Cells) {
		return in.fail(ErrEncoding, "closure cell %d outside pool", cl.Cell)
	}
	cell := &in.mod.Cells[cl.Cell]
	if argc != cell.Arity {
		return in.fail(ErrType, "%s expects %d args, got %d", cell.Name, cell.Arity, argc)
	}

	nf, err := in.stack.push(cl.Cell, int(cell.Registers), ins.A(), cl)
	if err != nil {
		err.Cell = f.cell
		err.PC = f.pc - 1
		return err
	}
	nf.pc = cell.Entry
	for i := 0; i < argc; i++ {
		in.stack.regs[nf.base+i] = in.stack.regs[a+1+i].Retain()
	}
	if in.tracer != nil {
		in.tracer.CallEnter(cell.Name)
	}
	return nil
}

// execReturn pops the active frame. Returning from the bottom frame ends
// the run; otherwise the result lands in the caller's destination register.
func (in *Interpreter) execReturn(f *callFrame, ins Instruction) (Value, bool, *RuntimeError) {
	result := Null
	if ins.B() != 0 {
		a, e := in.slot(f, ins.A())
		if e != nil {
			return Null, false, e
		}
		result = in.stack.regs[a].Retain()
	}
	// Handler scopes opened in this frame must be closed before it returns.
	if n := len(in.scopes); n > 0 && in.scopes[n-1].frame >= in.stack.depth()-1 {
		result.Release()
		return Null, false, in.fail(ErrEffect, "%s returned with an open handler scope", in.cellName(f.cell))
	}
	retDst := f.retDst
	if in.tracer != nil {
		in.tracer.CallExit(in.cellName(f.cell), result.Kind().String())
	}
	in.stack.pop()
	if in.stack.depth() == 0 {
		return result, true, nil
	}
	caller := in.stack.top()
	dst, e := in.slot(caller, retDst)
	if e != nil {
		result.Release()
		return Null, false, e
	}
	in.setSlot(dst, result)
	return Null, false, nil
}

// ---------------------------------------------------------------------------
// Numeric for loops
// ---------------------------------------------------------------------------

// execFor implements the ForPrep/ForLoop pair over registers
// A (index), A+1 (limit), A+2 (step), A+3 (loop variable).
func (in *Interpreter) execFor(f *callFrame, ins Instruction) *RuntimeError {
	a, e := in.slot(f, ins.A())
	if e != nil {
		return e
	}
	if e := in.span(f, ins.A(), 3); e != nil {
		return e
	}
	idx, limit, step := in.stack.regs[a], in.stack.regs[a+1], in.stack.regs[a+2]
	num := func(v Value) bool { return v.Kind() == KindInt || v.Kind() == KindFloat }
	if !num(idx) || !num(limit) || !num(step) {
		return in.fail(ErrType, "for loop control registers must be numeric")
	}

	if ins.Op() == OpForPrep {
		// Pre-decrement so the first ForLoop increment lands on start.
		if idx.Kind() == KindInt && step.Kind() == KindInt {
			in.setSlot(a, NewInt(idx.Int()-step.Int()))
		} else {
			in.setSlot(a, NewFloat(numAsFloat(idx)-numAsFloat(step)))
		}
		f.pc += int(ins.Bx())
		return nil
	}

	var next Value
	var cont bool
	if idx.Kind() == KindInt && step.Kind() == KindInt && limit.Kind() == KindInt {
		v := idx.Int() + step.Int()
		next = NewInt(v)
		if step.Int() >= 0 {
			cont = v <= limit.Int()
		} else {
			cont = v >= limit.Int()
		}
	} else {
		v := numAsFloat(idx) + numAsFloat(step)
		next = NewFloat(v)
		if numAsFloat(step) >= 0 {
			cont = v <= numAsFloat(limit)
		} else {
			cont = v >= numAsFloat(limit)
		}
	}
	in.setSlot(a, next)
	if cont {
		in.setSlot(a+3, next.Retain())
		f.pc -= int(ins.Bx())
	}
	return nil
}

// ---------------------------------------------------------------------------
// Builtins and closures
// ---------------------------------------------------------------------------

func (in *Interpreter) execIntrinsic(f *callFrame, ins Instruction) *RuntimeError {
	a, e := in.slot(f, ins.A())
	if e != nil {
		return e
	}
	spec := in.builtins.lookup(uint32(ins.Bx()))
	if spec == nil {
		return in.fail(ErrEncoding, "unregistered builtin id %d", ins.Bx())
	}
	if e := in.span(f, ins.A(), spec.Arity); e != nil {
		return e
	}
	args := in.stack.regs[a+1 : a+1+spec.Arity]
	out, err := spec.Fn(in, args)
	if err != nil {
		if err.Cell < 0 {
			err.Cell = f.cell
			err.PC = f.pc - 1
		}
		return err
	}
	in.setSlot(a, out)
	return nil
}

func (in *Interpreter) execClosure(f *callFrame, ins Instruction) *RuntimeError {
	a, e := in.slot(f, ins.A())
	if e != nil {
		return e
	}
	ci := int(ins.Bx())
	if ci >= len(in.mod.Cells) {
		return in.fail(ErrEncoding, "cell %d outside pool", ci)
	}
	n := in.mod.Cells[ci].Upvals
	if e := in.span(f, ins.A(), n); e != nil {
		return e
	}
	ups := make([]*Upvalue, n)
	for i := 0; i < n; i++ {
		ups[i] = &Upvalue{V: in.stack.regs[a+1+i].Retain()}
	}
	in.setSlot(a, NewClosure(ci, ups))
	return nil
}

// ---------------------------------------------------------------------------
// Append
// ---------------------------------------------------------------------------

func (in *Interpreter) execAppend(f *callFrame, ins Instruction) *RuntimeError {
	a, e := in.slot(f, ins.A())
	if e != nil {
		return e
	}
	b, e := in.slot(f, ins.B())
	if e != nil {
		return e
	}
	v := in.stack.regs[a]
	switch v.Kind() {
	case KindList:
		nv, l := cowList(v)
		l.Elems = append(l.Elems, in.stack.regs[b].Retain())
		in.stack.regs[a] = nv
	case KindSet:
		el := in.stack.regs[b]
		k, ok := canonicalKey(el)
		if !ok {
			return in.fail(ErrType, "unhashable %s added to set", el.Kind())
		}
		nv, s := cowSet(v)
		if old, exists := s.Elems[k]; exists {
			old.Release()
		}
		s.Elems[k] = el.Retain()
		in.stack.regs[a] = nv
	default:
		return in.fail(ErrType, "append to %s", v.Kind())
	}
	return nil
}
