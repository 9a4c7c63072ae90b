package vm

import (
	"context"
	"fmt"
)

// ---------------------------------------------------------------------------
// Interpreter: the fetch/decode/execute engine
// ---------------------------------------------------------------------------

// ToolDispatcher routes a ToolCall instruction to an external provider.
// Args arrive converted to native Go values so providers never touch the
// engine's single-threaded value representation; results come back native
// and are converted on the engine thread at Await.
type ToolDispatcher interface {
	Invoke(ctx context.Context, decl ToolDecl, policy map[string]any, args any) (any, error)
}

// SchemaValidator validates a native-converted value against a named schema.
type SchemaValidator interface {
	Validate(schema string, value any) error
}

// Tracer observes engine events. All methods are called from the engine
// thread; implementations decide what to persist.
type Tracer interface {
	RunRef() string
	Step(cell string, pc int, op Opcode)
	CallEnter(cell string)
	CallExit(cell string, resultType string)
	EffectPerform(op string)
	EffectResume()
	ToolCall(tool string)
	SchemaValidate(schema string, valid bool)
	Error(msg string)
}

// Interpreter executes one call on a loaded module. It is strictly
// sequential and non-reentrant: one logical thread of control, no
// preemption, suspension only at Perform and settled-future Awaits.
type Interpreter struct {
	mod      *Module
	strings  *StringTable
	consts   []Value // constant pool pre-converted to values
	builtins *BuiltinTable
	tools    ToolDispatcher
	schemas  SchemaValidator
	tracer   Tracer
	emit     func(Value)
	print    func(string)
	stepwise bool // per-instruction trace events

	stack  *frameStack
	scopes []*effectScope

	traceRef StringID
}

// fail builds a RuntimeError located at the instruction the active frame
// just executed.
func (in *Interpreter) fail(kind ErrorKind, format string, args ...any) *RuntimeError {
	e := newError(kind, format, args...)
	if in.stack.depth() > 0 {
		f := in.stack.top()
		e.Cell = f.cell
		e.PC = f.pc - 1
	}
	return e
}

// slot resolves a register operand against the frame's window, failing on
// out-of-range operands: those are structural module errors.
func (in *Interpreter) slot(f *callFrame, r uint8) (int, *RuntimeError) {
	if int(r) >= f.size {
		return 0, in.fail(ErrEncoding, "register %d outside window of %d", r, f.size)
	}
	return f.base + int(r), nil
}

// span checks that registers a..a+n (inclusive) stay inside the frame
// window. Computed in int so wide spans cannot wrap around uint8.
func (in *Interpreter) span(f *callFrame, a uint8, n int) *RuntimeError {
	if int(a)+n >= f.size {
		return in.fail(ErrEncoding, "registers %d..%d outside window of %d", a, int(a)+n, f.size)
	}
	return nil
}

// setSlot stores v into an arena slot, releasing the previous occupant.
// v's reference must already be owned by the caller.
func (in *Interpreter) setSlot(idx int, v Value) {
	old := in.stack.regs[idx]
	in.stack.regs[idx] = v
	old.Release()
}

// cellName resolves a cell id for diagnostics and tracing.
func (in *Interpreter) cellName(id int) string {
	if id >= 0 && id < len(in.mod.Cells) {
		return in.mod.Cells[id].Name
	}
	return fmt.Sprintf("cell#%d", id)
}

// run drives the dispatch loop until the bottom frame returns or an error
// escapes. The caller has already pushed the entry frame and seeded its
// argument registers.
func (in *Interpreter) run(ctx context.Context) (Value, *RuntimeError) {
	for {
		f := in.stack.top()
		if f.pc < 0 || f.pc >= len(in.mod.Code) {
			return Null, in.fail(ErrInternal, "program counter %d outside code", f.pc)
		}
		ins := in.mod.Code[f.pc]
		f.pc++

		op := ins.Op()
		if in.stepwise && in.tracer != nil {
			in.tracer.Step(in.cellName(f.cell), f.pc-1, op)
		}

		ret, done, err := in.exec(ctx, f, ins)
		if err != nil {
			if in.tracer != nil {
				in.tracer.Error(err.Message)
			}
			return Null, err
		}
		if done {
			return ret, nil
		}
	}
}

// exec executes a single decoded instruction against the active frame.
// done is true when the bottom frame returned; ret is then the call result.
func (in *Interpreter) exec(ctx context.Context, f *callFrame, ins Instruction) (ret Value, done bool, err *RuntimeError) {
	switch ins.Op() {
	case OpNop:

	// -------------------------------------------------------------------
	// Load/Move
	// -------------------------------------------------------------------
	case OpLoadK:
		a, e := in.slot(f, ins.A())
		if e != nil {
			return Null, false, e
		}
		in.setSlot(a, in.consts[ins.Bx()].Retain())

	case OpLoadNil:
		a, e := in.slot(f, ins.A())
		if e != nil {
			return Null, false, e
		}
		n := int(ins.B())
		if e := in.span(f, ins.A(), n); e != nil {
			return Null, false, e
		}
		for i := 0; i <= n; i++ {
			in.setSlot(a+i, Null)
		}

	case OpLoadBool:
		a, e := in.slot(f, ins.A())
		if e != nil {
			return Null, false, e
		}
		in.setSlot(a, NewBool(ins.B() != 0))

	case OpLoadInt:
		a, e := in.slot(f, ins.A())
		if e != nil {
			return Null, false, e
		}
		in.setSlot(a, NewInt(int64(ins.SB())))

	case OpMove:
		a, e := in.slot(f, ins.A())
		if e != nil {
			return Null, false, e
		}
		b, e := in.slot(f, ins.B())
		if e != nil {
			return Null, false, e
		}
		in.setSlot(a, in.stack.regs[b].Retain())

	// -------------------------------------------------------------------
	// Data construction
	// -------------------------------------------------------------------
	case OpNewList, OpNewTuple, OpNewSet:
		if e := in.execNewSeq(f, ins); e != nil {
			return Null, false, e
		}

	case OpNewMap:
		if e := in.execNewMap(f, ins); e != nil {
			return Null, false, e
		}

	case OpNewRecord:
		if e := in.execNewRecord(f, ins); e != nil {
			return Null, false, e
		}

	case OpNewUnion:
		a, e := in.slot(f, ins.A())
		if e != nil {
			return Null, false, e
		}
		b, e := in.slot(f, ins.B())
		if e != nil {
			return Null, false, e
		}
		c, e := in.slot(f, ins.C())
		if e != nil {
			return Null, false, e
		}
		tag := in.stack.regs[b]
		if tag.Kind() != KindString {
			return Null, false, in.fail(ErrType, "union tag must be String, got %s", tag.Kind())
		}
		in.setSlot(a, NewUnion(tag.StringID(), in.stack.regs[c].Retain()))

	// -------------------------------------------------------------------
	// Access
	// -------------------------------------------------------------------
	case OpGetField, OpSetField, OpGetIndex, OpSetIndex, OpGetTuple:
		if e := in.execAccess(f, ins); e != nil {
			return Null, false, e
		}

	// -------------------------------------------------------------------
	// Arithmetic, bitwise, comparison, logic
	// -------------------------------------------------------------------
	case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpPow, OpFloorDiv,
		OpBitOr, OpBitAnd, OpBitXor, OpShl, OpShr,
		OpEq, OpLt, OpLe, OpAnd, OpOr, OpIn, OpIs, OpConcat:
		if e := in.execBinary(f, ins); e != nil {
			return Null, false, e
		}

	case OpNeg, OpNot, OpBitNot:
		if e := in.execUnary(f, ins); e != nil {
			return Null, false, e
		}

	case OpNullCo:
		a, e := in.slot(f, ins.A())
		if e != nil {
			return Null, false, e
		}
		b, e := in.slot(f, ins.B())
		if e != nil {
			return Null, false, e
		}
		c, e := in.slot(f, ins.C())
		if e != nil {
			return Null, false, e
		}
		if !in.stack.regs[b].IsNull() {
			in.setSlot(a, in.stack.regs[b].Retain())
		} else {
			in.setSlot(a, in.stack.regs[c].Retain())
		}

	case OpTest:
		a, e := in.slot(f, ins.A())
		if e != nil {
			return Null, false, e
		}
		if in.stack.regs[a].Truthy() != (ins.C() != 0) {
			f.pc++ // skip the jump that follows
		}

	// -------------------------------------------------------------------
	// Control flow
	// -------------------------------------------------------------------
	case OpJmp:
		target := f.pc + int(ins.SAx())
		if target < 0 || target > len(in.mod.Code) {
			return Null, false, in.fail(ErrEncoding, "jump target %d outside code", target)
		}
		f.pc = target

	case OpCall:
		if e := in.execCall(f, ins); e != nil {
			return Null, false, e
		}

	case OpReturn:
		return in.execReturn(f, ins)

	case OpHalt:
		a, e := in.slot(f, ins.A())
		if e != nil {
			return Null, false, e
		}
		return Null, false, in.fail(ErrHalt, "%s", in.stack.regs[a].Format(in.strings))

	case OpForPrep, OpForLoop:
		if e := in.execFor(f, ins); e != nil {
			return Null, false, e
		}

	// -------------------------------------------------------------------
	// Builtins
	// -------------------------------------------------------------------
	case OpIntrinsic:
		if e := in.execIntrinsic(f, ins); e != nil {
			return Null, false, e
		}

	// -------------------------------------------------------------------
	// Closures
	// -------------------------------------------------------------------
	case OpClosure:
		if e := in.execClosure(f, ins); e != nil {
			return Null, false, e
		}

	case OpGetUpval:
		a, e := in.slot(f, ins.A())
		if e != nil {
			return Null, false, e
		}
		if f.closure == nil || int(ins.B()) >= len(f.closure.Upvals) {
			return Null, false, in.fail(ErrEncoding, "upvalue %d outside environment", ins.B())
		}
		in.setSlot(a, f.closure.Upvals[ins.B()].V.Retain())

	case OpSetUpval:
		a, e := in.slot(f, ins.A())
		if e != nil {
			return Null, false, e
		}
		if f.closure == nil || int(ins.B()) >= len(f.closure.Upvals) {
			return Null, false, in.fail(ErrEncoding, "upvalue %d outside environment", ins.B())
		}
		up := f.closure.Upvals[ins.B()]
		up.V.Release()
		up.V = in.stack.regs[a].Retain()

	// -------------------------------------------------------------------
	// Effects and runtime services
	// -------------------------------------------------------------------
	case OpToolCall:
		if e := in.execToolCall(ctx, f, ins); e != nil {
			return Null, false, e
		}

	case OpSchema:
		if e := in.execSchema(f, ins); e != nil {
			return Null, false, e
		}

	case OpEmit:
		a, e := in.slot(f, ins.A())
		if e != nil {
			return Null, false, e
		}
		if in.emit != nil {
			in.emit(in.stack.regs[a])
		}

	case OpTraceRef:
		a, e := in.slot(f, ins.A())
		if e != nil {
			return Null, false, e
		}
		in.setSlot(a, NewString(in.traceRef))

	case OpAwait:
		if e := in.execAwait(ctx, f, ins); e != nil {
			return Null, false, e
		}

	case OpPerform:
		if e := in.execPerform(f, ins); e != nil {
			return Null, false, e
		}

	case OpHandlePush:
		if int(ins.Bx()) >= len(in.mod.Handlers) {
			return Null, false, in.fail(ErrEncoding, "handler table %d outside pool", ins.Bx())
		}
		in.scopes = append(in.scopes, &effectScope{
			table: int(ins.Bx()),
			frame: in.stack.depth() - 1,
		})

	case OpHandlePop:
		if e := in.execHandlePop(); e != nil {
			return Null, false, e
		}

	case OpResume:
		if e := in.execResume(f, ins); e != nil {
			return Null, false, e
		}

	// -------------------------------------------------------------------
	// List ops and type checks
	// -------------------------------------------------------------------
	case OpAppend:
		if e := in.execAppend(f, ins); e != nil {
			return Null, false, e
		}

	case OpIsVariant:
		a, e := in.slot(f, ins.A())
		if e != nil {
			return Null, false, e
		}
		v := in.stack.regs[a]
		match := v.Kind() == KindUnion && v.AsUnion().Tag == StringID(ins.Bx())
		in.setSlot(a, NewBool(match))

	case OpUnbox:
		a, e := in.slot(f, ins.A())
		if e != nil {
			return Null, false, e
		}
		b, e := in.slot(f, ins.B())
		if e != nil {
			return Null, false, e
		}
		v := in.stack.regs[b]
		if v.Kind() != KindUnion {
			return Null, false, in.fail(ErrType, "unbox of %s", v.Kind())
		}
		in.setSlot(a, v.AsUnion().Payload.Retain())

	default:
		return Null, false, in.fail(ErrEncoding, "bad opcode 0x%02X", uint8(ins.Op()))
	}
	return Null, false, nil
}
