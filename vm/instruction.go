package vm

// ---------------------------------------------------------------------------
// Instruction encoding
// ---------------------------------------------------------------------------

// Instruction is a single 32-bit LIR instruction word.
//
// Three layouts share the word, selected by the opcode:
//
//	ABC:  | op:8 | a:8 | b:8 | c:8 |
//	ABx:  | op:8 | a:8 |   bx:16   |      bx unsigned
//	ASAx: | op:8 |      sax:24     |      sax signed, two's complement
//
// The Bx accessor is unsigned and the SAx accessor is signed; callers must
// use the accessor matching the opcode's layout. Jump offsets live only in
// the signed form.
type Instruction uint32

// Field masks and shifts.
const (
	opShift = 24
	aShift  = 16
	bShift  = 8

	bxMask  = 0xFFFF
	saxMask = 0xFFFFFF
	saxSign = 0x800000
)

// Signed 24-bit offset range for the ASAx layout.
const (
	MaxSAx = 1<<23 - 1
	MinSAx = -(1 << 23)
)

// ABC packs a three-register instruction.
func ABC(op Opcode, a, b, c uint8) Instruction {
	return Instruction(uint32(op)<<opShift | uint32(a)<<aShift | uint32(b)<<bShift | uint32(c))
}

// ABx packs an instruction with one register operand and a wide unsigned
// constant or index.
func ABx(op Opcode, a uint8, bx uint16) Instruction {
	return Instruction(uint32(op)<<opShift | uint32(a)<<aShift | uint32(bx))
}

// ASAx packs an instruction with a wide signed offset. Panics if the offset
// does not fit in 24 bits; the producer is responsible for range checks, and
// silently wrapping here would corrupt control flow.
func ASAx(op Opcode, sax int32) Instruction {
	if sax < MinSAx || sax > MaxSAx {
		panic("vm: signed 24-bit operand out of range")
	}
	return Instruction(uint32(op)<<opShift | uint32(sax)&saxMask)
}

// Op extracts the opcode.
func (i Instruction) Op() Opcode {
	return Opcode(i >> opShift)
}

// A extracts the first register operand.
func (i Instruction) A() uint8 {
	return uint8(i >> aShift)
}

// B extracts the second register operand.
func (i Instruction) B() uint8 {
	return uint8(i >> bShift)
}

// C extracts the third register operand.
func (i Instruction) C() uint8 {
	return uint8(i)
}

// SB extracts the second operand as a signed 8-bit immediate.
func (i Instruction) SB() int8 {
	return int8(i >> bShift)
}

// Bx extracts the wide unsigned operand of the ABx layout.
func (i Instruction) Bx() uint16 {
	return uint16(i & bxMask)
}

// SAx extracts the wide signed operand of the ASAx layout, sign-extending
// from 24 bits.
func (i Instruction) SAx() int32 {
	raw := uint32(i) & saxMask
	if raw&saxSign != 0 {
		return int32(raw | ^uint32(saxMask))
	}
	return int32(raw)
}
