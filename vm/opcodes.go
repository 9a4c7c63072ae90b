package vm

import "fmt"

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode identifies a single LIR instruction.
type Opcode uint8

// Misc
const (
	OpNop Opcode = 0x00 // no operation
)

// Load/Move
const (
	OpLoadK    Opcode = 0x01 // A, Bx: R[A] = constants[Bx]
	OpLoadNil  Opcode = 0x02 // A, B:  R[A]..R[A+B] = null
	OpLoadBool Opcode = 0x03 // A, B:  R[A] = (B != 0)
	OpLoadInt  Opcode = 0x04 // A, sB: R[A] = signed 8-bit B
	OpMove     Opcode = 0x05 // A, B:  R[A] = R[B]
)

// Data construction
const (
	OpNewList   Opcode = 0x08 // A, B:  R[A] = list of B values at R[A+1]..
	OpNewMap    Opcode = 0x09 // A, B:  R[A] = map of B key/value pairs at R[A+1]..
	OpNewRecord Opcode = 0x0A // A, Bx: R[A] = record of type Bx, fields at R[A+1]..
	OpNewUnion  Opcode = 0x0B // A, B, C: R[A] = union tag R[B], payload R[C]
	OpNewTuple  Opcode = 0x0C // A, B:  R[A] = tuple of B values at R[A+1]..
	OpNewSet    Opcode = 0x0D // A, B:  R[A] = set of B values at R[A+1]..
)

// Access
const (
	OpGetField Opcode = 0x10 // A, B, C: R[A] = R[B].field[C]
	OpSetField Opcode = 0x11 // A, B, C: R[A].field[B] = R[C]
	OpGetIndex Opcode = 0x12 // A, B, C: R[A] = R[B][R[C]]
	OpSetIndex Opcode = 0x13 // A, B, C: R[A][R[B]] = R[C]
	OpGetTuple Opcode = 0x14 // A, B, C: R[A] = tuple R[B] element C
)

// Arithmetic
const (
	OpAdd      Opcode = 0x18 // A, B, C: R[A] = R[B] + R[C]
	OpSub      Opcode = 0x19 // A, B, C: R[A] = R[B] - R[C]
	OpMul      Opcode = 0x1A // A, B, C: R[A] = R[B] * R[C]
	OpDiv      Opcode = 0x1B // A, B, C: R[A] = R[B] / R[C]
	OpMod      Opcode = 0x1C // A, B, C: R[A] = R[B] % R[C]
	OpPow      Opcode = 0x1D // A, B, C: R[A] = R[B] ** R[C]
	OpNeg      Opcode = 0x1E // A, B:    R[A] = -R[B]
	OpConcat   Opcode = 0x1F // A, B, C: R[A] = R[B] ++ R[C]
	OpFloorDiv Opcode = 0x20 // A, B, C: R[A] = R[B] // R[C]
)

// Bitwise
const (
	OpBitOr  Opcode = 0x24 // A, B, C: R[A] = R[B] | R[C]
	OpBitAnd Opcode = 0x25 // A, B, C: R[A] = R[B] & R[C]
	OpBitXor Opcode = 0x26 // A, B, C: R[A] = R[B] ^ R[C]
	OpBitNot Opcode = 0x27 // A, B:    R[A] = ^R[B]
	OpShl    Opcode = 0x28 // A, B, C: R[A] = R[B] << R[C]
	OpShr    Opcode = 0x29 // A, B, C: R[A] = R[B] >> R[C]
)

// Comparison and logic. Comparisons write a boolean into R[A]; conditional
// control flow is always a Test/Jmp pair over that scratch register.
const (
	OpEq     Opcode = 0x2C // A, B, C: R[A] = (R[B] == R[C])
	OpLt     Opcode = 0x2D // A, B, C: R[A] = (R[B] < R[C])
	OpLe     Opcode = 0x2E // A, B, C: R[A] = (R[B] <= R[C])
	OpNot    Opcode = 0x2F // A, B:    R[A] = not R[B]
	OpAnd    Opcode = 0x30 // A, B, C: R[A] = R[B] and R[C]
	OpOr     Opcode = 0x31 // A, B, C: R[A] = R[B] or R[C]
	OpIn     Opcode = 0x32 // A, B, C: R[A] = R[B] in R[C]
	OpIs     Opcode = 0x33 // A, B, C: R[A] = (typeof R[B] == R[C])
	OpNullCo Opcode = 0x34 // A, B, C: R[A] = R[B] if not null, else R[C]
	OpTest   Opcode = 0x35 // A, C: if truthy(R[A]) != (C != 0) then skip next
)

// Control flow
const (
	OpJmp     Opcode = 0x38 // sAx: pc += sAx
	OpCall    Opcode = 0x39 // A, B: call closure R[A] with B args at R[A+1].., result to R[A]
	OpReturn  Opcode = 0x3A // A, B: return R[A] (unit when B == 0)
	OpHalt    Opcode = 0x3B // A: halt with error message R[A]
	OpForPrep Opcode = 0x3C // A, Bx: initialise numeric for loop, jump forward Bx
	OpForLoop Opcode = 0x3D // A, Bx: step numeric for loop, jump backward Bx while running
)

// Builtins
const (
	OpIntrinsic Opcode = 0x40 // A, Bx: R[A] = builtin[Bx](args at R[A+1]..)
)

// Closures
const (
	OpClosure  Opcode = 0x44 // A, Bx: R[A] = closure over cell Bx, captures at R[A+1]..
	OpGetUpval Opcode = 0x45 // A, B:  R[A] = upvalue[B]
	OpSetUpval Opcode = 0x46 // A, B:  upvalue[B] = R[A]
)

// Effects and runtime services
const (
	OpToolCall Opcode = 0x48 // A, Bx: R[A] = future of tool Bx invoked with args R[A+1]
	OpSchema   Opcode = 0x49 // A, Bx: validate R[A] against schema named by string Bx
	OpEmit     Opcode = 0x4A // A: emit R[A] to the host output sink
	OpTraceRef Opcode = 0x4B // A: R[A] = current trace run reference
	OpAwait    Opcode = 0x4C // A, B: R[A] = resolved value of future R[B]

	OpPerform    Opcode = 0x50 // A, Bx: perform effect operation Bx, argument R[A], result to R[A]
	OpHandlePush Opcode = 0x51 // Bx: push effect handler scope handlers[Bx]
	OpHandlePop  Opcode = 0x52 // pop the innermost effect handler scope
	OpResume     Opcode = 0x53 // A, B: resume continuation R[A] with value R[B]
)

// List ops
const (
	OpAppend Opcode = 0x58 // A, B: append R[B] to list R[A]
)

// Type checks
const (
	OpIsVariant Opcode = 0x5C // A, Bx: R[A] = (R[A] is union with tag string Bx)
	OpUnbox     Opcode = 0x5D // A, B:  R[A] = payload of union R[B]
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// Layout describes how an instruction word's operand bits are interpreted.
type Layout uint8

const (
	// LayoutABC packs three 8-bit register operands.
	LayoutABC Layout = iota
	// LayoutABx packs one register operand and a 16-bit unsigned index.
	LayoutABx
	// LayoutASAx packs a single 24-bit signed offset. Jump-class opcodes
	// must use this layout; encoding a negative offset through the
	// unsigned form truncates the sign.
	LayoutASAx
)

// OpcodeInfo holds static metadata about an opcode.
type OpcodeInfo struct {
	Name   string
	Layout Layout
}

var opcodeTable = map[Opcode]OpcodeInfo{
	OpNop: {"NOP", LayoutABC},

	OpLoadK:    {"LOADK", LayoutABx},
	OpLoadNil:  {"LOADNIL", LayoutABC},
	OpLoadBool: {"LOADBOOL", LayoutABC},
	OpLoadInt:  {"LOADINT", LayoutABC},
	OpMove:     {"MOVE", LayoutABC},

	OpNewList:   {"NEWLIST", LayoutABC},
	OpNewMap:    {"NEWMAP", LayoutABC},
	OpNewRecord: {"NEWRECORD", LayoutABx},
	OpNewUnion:  {"NEWUNION", LayoutABC},
	OpNewTuple:  {"NEWTUPLE", LayoutABC},
	OpNewSet:    {"NEWSET", LayoutABC},

	OpGetField: {"GETFIELD", LayoutABC},
	OpSetField: {"SETFIELD", LayoutABC},
	OpGetIndex: {"GETINDEX", LayoutABC},
	OpSetIndex: {"SETINDEX", LayoutABC},
	OpGetTuple: {"GETTUPLE", LayoutABC},

	OpAdd:      {"ADD", LayoutABC},
	OpSub:      {"SUB", LayoutABC},
	OpMul:      {"MUL", LayoutABC},
	OpDiv:      {"DIV", LayoutABC},
	OpMod:      {"MOD", LayoutABC},
	OpPow:      {"POW", LayoutABC},
	OpNeg:      {"NEG", LayoutABC},
	OpConcat:   {"CONCAT", LayoutABC},
	OpFloorDiv: {"FLOORDIV", LayoutABC},

	OpBitOr:  {"BITOR", LayoutABC},
	OpBitAnd: {"BITAND", LayoutABC},
	OpBitXor: {"BITXOR", LayoutABC},
	OpBitNot: {"BITNOT", LayoutABC},
	OpShl:    {"SHL", LayoutABC},
	OpShr:    {"SHR", LayoutABC},

	OpEq:     {"EQ", LayoutABC},
	OpLt:     {"LT", LayoutABC},
	OpLe:     {"LE", LayoutABC},
	OpNot:    {"NOT", LayoutABC},
	OpAnd:    {"AND", LayoutABC},
	OpOr:     {"OR", LayoutABC},
	OpIn:     {"IN", LayoutABC},
	OpIs:     {"IS", LayoutABC},
	OpNullCo: {"NULLCO", LayoutABC},
	OpTest:   {"TEST", LayoutABC},

	OpJmp:     {"JMP", LayoutASAx},
	OpCall:    {"CALL", LayoutABC},
	OpReturn:  {"RETURN", LayoutABC},
	OpHalt:    {"HALT", LayoutABC},
	OpForPrep: {"FORPREP", LayoutABx},
	OpForLoop: {"FORLOOP", LayoutABx},

	OpIntrinsic: {"INTRINSIC", LayoutABx},

	OpClosure:  {"CLOSURE", LayoutABx},
	OpGetUpval: {"GETUPVAL", LayoutABC},
	OpSetUpval: {"SETUPVAL", LayoutABC},

	OpToolCall: {"TOOLCALL", LayoutABx},
	OpSchema:   {"SCHEMA", LayoutABx},
	OpEmit:     {"EMIT", LayoutABC},
	OpTraceRef: {"TRACEREF", LayoutABC},
	OpAwait:    {"AWAIT", LayoutABC},

	OpPerform:    {"PERFORM", LayoutABx},
	OpHandlePush: {"HANDLEPUSH", LayoutABx},
	OpHandlePop:  {"HANDLEPOP", LayoutABC},
	OpResume:     {"RESUME", LayoutABC},

	OpAppend: {"APPEND", LayoutABC},

	OpIsVariant: {"ISVARIANT", LayoutABx},
	OpUnbox:     {"UNBOX", LayoutABC},
}

// Info returns the metadata for an opcode and whether it is defined.
func (op Opcode) Info() (OpcodeInfo, bool) {
	info, ok := opcodeTable[op]
	return info, ok
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	_, ok := opcodeTable[op]
	return ok
}

// Name returns the mnemonic for an opcode. Unknown opcodes get a synthetic
// name so disassembly of a corrupt module stays readable.
func (op Opcode) Name() string {
	if info, ok := opcodeTable[op]; ok {
		return info.Name
	}
	return fmt.Sprintf("UNKNOWN_%02X", uint8(op))
}

// String implements fmt.Stringer.
func (op Opcode) String() string {
	return op.Name()
}
