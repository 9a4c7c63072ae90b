package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Disassembler
// ---------------------------------------------------------------------------

// Disassemble renders the whole module as text, one cell per section.
func Disassemble(m *Module) string {
	var b strings.Builder
	fmt.Fprintf(&b, "module %s (%d cells, %d consts, %d strings)\n",
		m.Version, len(m.Cells), len(m.Consts), len(m.Strings))
	for ci := range m.Cells {
		b.WriteString(DisassembleCell(m, ci))
	}
	return b.String()
}

// DisassembleCell renders one cell's instruction range. The range runs
// from the cell entry to the next cell's entry or end of code.
func DisassembleCell(m *Module, ci int) string {
	cell := &m.Cells[ci]
	end := len(m.Code)
	for oi := range m.Cells {
		e := m.Cells[oi].Entry
		if e > cell.Entry && e < end {
			end = e
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n%s: arity=%d registers=%d upvals=%d\n", cell.Name, cell.Arity, cell.Registers, cell.Upvals)
	for pc := cell.Entry; pc < end; pc++ {
		fmt.Fprintf(&b, "  %04d  %s\n", pc, DisassembleInstruction(m, pc))
	}
	return b.String()
}

// DisassembleInstruction renders the instruction at pc with operands
// decoded per layout and pool references resolved inline.
func DisassembleInstruction(m *Module, pc int) string {
	ins := m.Code[pc]
	op := ins.Op()
	info, ok := op.Info()
	if !ok {
		return fmt.Sprintf("??? 0x%08X", uint32(ins))
	}

	switch info.Layout {
	case LayoutASAx:
		return fmt.Sprintf("%-10s %+d\t; -> %04d", info.Name, ins.SAx(), pc+1+int(ins.SAx()))
	case LayoutABx:
		return fmt.Sprintf("%-10s r%d, %d%s", info.Name, ins.A(), ins.Bx(), bxAnnotation(m, op, ins.Bx()))
	default:
		return fmt.Sprintf("%-10s r%d, r%d, r%d", info.Name, ins.A(), ins.B(), ins.C())
	}
}

// bxAnnotation resolves a wide operand against the pool it indexes.
func bxAnnotation(m *Module, op Opcode, bx uint16) string {
	switch op {
	case OpLoadK:
		if int(bx) < len(m.Consts) {
			return "\t; " + constText(&m.Consts[bx])
		}
	case OpClosure:
		if int(bx) < len(m.Cells) {
			return "\t; " + m.Cells[bx].Name
		}
	case OpNewRecord:
		if int(bx) < len(m.Types) {
			return "\t; " + m.Types[bx].Name
		}
	case OpPerform, OpIsVariant, OpSchema:
		if int(bx) < len(m.Strings) {
			return fmt.Sprintf("\t; %q", m.Strings[bx])
		}
	case OpToolCall:
		if int(bx) < len(m.Tools) {
			return "\t; " + m.Tools[bx].Alias
		}
	}
	return ""
}

func constText(c *Constant) string {
	switch c.Kind {
	case ConstNull:
		return "null"
	case ConstBool:
		return fmt.Sprintf("%t", c.Bool)
	case ConstInt:
		return fmt.Sprintf("%d", c.Int)
	case ConstFloat:
		return fmt.Sprintf("%g", c.Float)
	case ConstString:
		return fmt.Sprintf("%q", c.Str)
	}
	return "?"
}
