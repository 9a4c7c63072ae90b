package vm

// ---------------------------------------------------------------------------
// Assembler: programmatic module construction
// ---------------------------------------------------------------------------

// Assembler builds LIR modules instruction by instruction. The front end
// produces modules through its own lowering pipeline; the assembler exists
// for tests, tooling and embedders that generate code directly.
type Assembler struct {
	mod     Module
	consts  map[Constant]uint16
	strings map[string]uint32
}

// NewAssembler creates an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{
		mod:     Module{Version: "1.0.0"},
		consts:  make(map[Constant]uint16),
		strings: make(map[string]uint32),
	}
}

// PC returns the offset the next emitted instruction will occupy.
func (a *Assembler) PC() int {
	return len(a.mod.Code)
}

// Emit appends an instruction and returns its offset.
func (a *Assembler) Emit(ins Instruction) int {
	a.mod.Code = append(a.mod.Code, ins)
	return len(a.mod.Code) - 1
}

// Patch overwrites the instruction at offset. Used to resolve forward jumps.
func (a *Assembler) Patch(offset int, ins Instruction) {
	a.mod.Code[offset] = ins
}

// PatchJmp resolves the Jmp placeholder at offset to land on target.
func (a *Assembler) PatchJmp(offset, target int) {
	a.Patch(offset, ASAx(OpJmp, int32(target-offset-1)))
}

// Const interns a constant pool entry and returns its index.
func (a *Assembler) Const(c Constant) uint16 {
	if idx, ok := a.consts[c]; ok {
		return idx
	}
	idx := uint16(len(a.mod.Consts))
	a.mod.Consts = append(a.mod.Consts, c)
	a.consts[c] = idx
	return idx
}

// ConstInt interns an integer constant.
func (a *Assembler) ConstInt(n int64) uint16 {
	return a.Const(Constant{Kind: ConstInt, Int: n})
}

// ConstFloat interns a float constant.
func (a *Assembler) ConstFloat(f float64) uint16 {
	return a.Const(Constant{Kind: ConstFloat, Float: f})
}

// ConstString interns a string constant (and its string pool entry).
func (a *Assembler) ConstString(s string) uint16 {
	a.String(s)
	return a.Const(Constant{Kind: ConstString, Str: s})
}

// String interns a string pool entry and returns its id.
func (a *Assembler) String(s string) uint32 {
	if id, ok := a.strings[s]; ok {
		return id
	}
	id := uint32(len(a.mod.Strings))
	a.mod.Strings = append(a.mod.Strings, s)
	a.strings[s] = id
	return id
}

// Cell registers a cell whose code starts at the current offset and returns
// its id. Emit the cell's instructions after calling Cell.
func (a *Assembler) Cell(name string, registers uint8, arity int) int {
	a.mod.Cells = append(a.mod.Cells, Cell{
		Name:      name,
		Entry:     len(a.mod.Code),
		Registers: registers,
		Arity:     arity,
	})
	return len(a.mod.Cells) - 1
}

// SetUpvals records the upvalue count of a registered cell.
func (a *Assembler) SetUpvals(cell, n int) {
	a.mod.Cells[cell].Upvals = n
}

// Type registers a type table entry and returns its index.
func (a *Assembler) Type(t TypeInfo) int {
	a.mod.Types = append(a.mod.Types, t)
	return len(a.mod.Types) - 1
}

// Handlers registers a handler table and returns its index.
func (a *Assembler) Handlers(t HandlerTable) int {
	a.mod.Handlers = append(a.mod.Handlers, t)
	return len(a.mod.Handlers) - 1
}

// Tool registers a tool declaration and returns its index.
func (a *Assembler) Tool(d ToolDecl) int {
	a.mod.Tools = append(a.mod.Tools, d)
	return len(a.mod.Tools) - 1
}

// Policy appends a policy grant table.
func (a *Assembler) Policy(p Policy) {
	a.mod.Policies = append(a.mod.Policies, p)
}

// Module finalizes and returns the built module.
func (a *Assembler) Module() *Module {
	m := a.mod
	return &m
}
