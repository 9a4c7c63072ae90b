package vm

import (
	"context"
	"fmt"
	"os"
)

// ---------------------------------------------------------------------------
// VM: the Lumen execution engine
// ---------------------------------------------------------------------------

// Options configures a VM. The zero value gives a standalone engine:
// default frame depth, standard builtins, print to stdout, no tools, no
// schemas, no tracing.
type Options struct {
	// MaxDepth bounds the call frame stack. Zero means DefaultMaxDepth.
	MaxDepth int

	// Builtins overrides the standard builtin table.
	Builtins *BuiltinTable

	// Tools dispatches ToolCall instructions. Nil makes any ToolCall a
	// tool error.
	Tools ToolDispatcher

	// Schemas backs the Schema instruction and the validate builtin.
	Schemas SchemaValidator

	// Tracer observes engine events; StepTrace additionally reports every
	// instruction executed.
	Tracer    Tracer
	StepTrace bool

	// Emit receives values from the Emit instruction. The value is
	// borrowed for the duration of the call.
	Emit func(Value)

	// Print receives output from the print builtin. Nil prints to stdout.
	Print func(string)
}

// VM binds a validated module to an execution configuration. A VM runs one
// computation at a time; Call is not reentrant.
type VM struct {
	mod     *Module
	strings *StringTable
	consts  []Value
	opts    Options

	running bool
	interp  *Interpreter // live only while stepping
}

// Load validates the module and prepares a VM for it. The module's string
// pool seeds the intern table so pool indices and runtime string ids
// coincide.
func Load(mod *Module, opts Options) (*VM, error) {
	if err := mod.Validate(); err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	st := NewStringTable()
	for i, s := range mod.Strings {
		if id := st.Intern(s); id != StringID(i) {
			return nil, fmt.Errorf("load: duplicate string pool entry %q at %d", s, i)
		}
	}

	consts := make([]Value, len(mod.Consts))
	for i, c := range mod.Consts {
		switch c.Kind {
		case ConstNull:
			consts[i] = Null
		case ConstBool:
			consts[i] = NewBool(c.Bool)
		case ConstInt:
			consts[i] = NewInt(c.Int)
		case ConstFloat:
			consts[i] = NewFloat(c.Float)
		case ConstString:
			consts[i] = NewString(st.Intern(c.Str))
		default:
			return nil, fmt.Errorf("load: constant %d has kind %d", i, c.Kind)
		}
	}

	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.Builtins == nil {
		opts.Builtins = StandardBuiltins()
	}
	if opts.Print == nil {
		opts.Print = func(s string) { fmt.Fprintln(os.Stdout, s) }
	}
	return &VM{mod: mod, strings: st, consts: consts, opts: opts}, nil
}

// Module returns the loaded module.
func (vm *VM) Module() *Module { return vm.mod }

// Strings returns the VM's intern table. Callers may resolve ids but must
// not intern concurrently with a running call.
func (vm *VM) Strings() *StringTable { return vm.strings }

func (vm *VM) newInterpreter() *Interpreter {
	traceRef := vm.strings.Intern("")
	if vm.opts.Tracer != nil {
		traceRef = vm.strings.Intern(vm.opts.Tracer.RunRef())
	}
	return &Interpreter{
		mod:      vm.mod,
		strings:  vm.strings,
		consts:   vm.consts,
		builtins: vm.opts.Builtins,
		tools:    vm.opts.Tools,
		schemas:  vm.opts.Schemas,
		tracer:   vm.opts.Tracer,
		emit:     vm.opts.Emit,
		print:    vm.opts.Print,
		stepwise: vm.opts.StepTrace,
		stack:    newFrameStack(vm.opts.MaxDepth),
		traceRef: traceRef,
	}
}

// seed pushes the entry frame for cell and copies args into its window.
// Args are borrowed; the frame takes its own references.
func (in *Interpreter) seed(cellID int, args []Value) *RuntimeError {
	cell := &in.mod.Cells[cellID]
	if len(args) != cell.Arity {
		return newError(ErrType, "%s expects %d args, got %d", cell.Name, cell.Arity, len(args))
	}
	f, err := in.stack.push(cellID, int(cell.Registers), 0, nil)
	if err != nil {
		return err
	}
	f.pc = cell.Entry
	for i, a := range args {
		in.stack.regs[f.base+i] = a.Retain()
	}
	return nil
}

// Call runs cellID to completion with the given arguments and returns the
// owned result value. Errors are *RuntimeError values.
func (vm *VM) Call(ctx context.Context, cellID int, args ...Value) (Value, error) {
	if vm.running {
		return Null, newError(ErrInternal, "call while the engine is running")
	}
	if cellID < 0 || cellID >= len(vm.mod.Cells) {
		return Null, newError(ErrEncoding, "cell %d outside pool", cellID)
	}
	vm.running = true
	defer func() { vm.running = false }()

	in := vm.newInterpreter()
	if err := in.seed(cellID, args); err != nil {
		return Null, err
	}
	ret, err := in.run(ctx)
	in.shutdown()
	if err != nil {
		return Null, err
	}
	return ret, nil
}

// CallByName resolves a cell by name and calls it.
func (vm *VM) CallByName(ctx context.Context, name string, args ...Value) (Value, error) {
	id := vm.mod.CellByName(name)
	if id < 0 {
		return Null, newError(ErrEncoding, "no cell named %q", name)
	}
	return vm.Call(ctx, id, args...)
}

// shutdown releases whatever the interpreter still holds after a run ends,
// normally or not.
func (in *Interpreter) shutdown() {
	for in.stack.depth() > 0 {
		in.stack.pop()
	}
	in.scopes = nil
}

// ---------------------------------------------------------------------------
// Stepping, for debuggers and the trace CLI
// ---------------------------------------------------------------------------

// Start prepares a stepwise run of cellID. Use Step to advance and Finish
// to abandon a partial run.
func (vm *VM) Start(cellID int, args ...Value) error {
	if vm.running {
		return newError(ErrInternal, "start while the engine is running")
	}
	if cellID < 0 || cellID >= len(vm.mod.Cells) {
		return newError(ErrEncoding, "cell %d outside pool", cellID)
	}
	in := vm.newInterpreter()
	if err := in.seed(cellID, args); err != nil {
		return err
	}
	vm.running = true
	vm.interp = in
	return nil
}

// Step executes one instruction. done reports that the computation
// returned; ret is then the owned result.
func (vm *VM) Step(ctx context.Context) (ret Value, done bool, err error) {
	in := vm.interp
	if in == nil {
		return Null, false, newError(ErrInternal, "step without start")
	}
	f := in.stack.top()
	if f.pc < 0 || f.pc >= len(in.mod.Code) {
		return Null, false, newError(ErrInternal, "program counter %d outside code", f.pc)
	}
	ins := in.mod.Code[f.pc]
	f.pc++
	ret, done, rerr := in.exec(ctx, f, ins)
	if rerr != nil {
		vm.Finish()
		return Null, false, rerr
	}
	if done {
		vm.Finish()
	}
	return ret, done, nil
}

// Finish abandons a stepwise run and releases its state.
func (vm *VM) Finish() {
	if vm.interp != nil {
		vm.interp.shutdown()
		vm.interp = nil
	}
	vm.running = false
}

// PC returns the active frame's program counter during a stepwise run.
func (vm *VM) PC() int {
	if vm.interp == nil || vm.interp.stack.depth() == 0 {
		return -1
	}
	return vm.interp.stack.top().pc
}

// Depth returns the live frame count during a stepwise run.
func (vm *VM) Depth() int {
	if vm.interp == nil {
		return 0
	}
	return vm.interp.stack.depth()
}

// Register peeks at register r of the active frame. The value is borrowed.
func (vm *VM) Register(r uint8) (Value, bool) {
	if vm.interp == nil || vm.interp.stack.depth() == 0 {
		return Null, false
	}
	f := vm.interp.stack.top()
	if int(r) >= f.size {
		return Null, false
	}
	return vm.interp.stack.regs[f.base+int(r)], true
}
