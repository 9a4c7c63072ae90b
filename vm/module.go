package vm

import "fmt"

// ---------------------------------------------------------------------------
// LIR module: the immutable unit of execution
// ---------------------------------------------------------------------------

// ConstKind tags a constant pool entry.
type ConstKind uint8

const (
	ConstNull ConstKind = iota
	ConstBool
	ConstInt
	ConstFloat
	ConstString
)

// Constant is one entry of the module constant pool.
type Constant struct {
	Kind  ConstKind `cbor:"kind"`
	Bool  bool      `cbor:"bool,omitempty"`
	Int   int64     `cbor:"int,omitempty"`
	Float float64   `cbor:"float,omitempty"`
	Str   string    `cbor:"str,omitempty"`
}

// Cell describes one compiled function: where its code starts in the flat
// instruction stream, how wide its register window is, and how many
// arguments it takes.
type Cell struct {
	Name      string `cbor:"name"`
	Entry     int    `cbor:"entry"`
	Registers uint8  `cbor:"registers"`
	Arity     int    `cbor:"arity"`
	Upvals    int    `cbor:"upvals,omitempty"` // captured slots for Closure
}

// Field is a named record field.
type Field struct {
	Name string `cbor:"name"`
	Type string `cbor:"type,omitempty"`
}

// Variant is one alternative of a union type.
type Variant struct {
	Name    string `cbor:"name"`
	Payload string `cbor:"payload,omitempty"`
}

// TypeInfo describes a record or union type referenced by NewRecord,
// GetField and SetField.
type TypeInfo struct {
	Kind     string    `cbor:"kind"`
	Name     string    `cbor:"name"`
	Fields   []Field   `cbor:"fields,omitempty"`
	Variants []Variant `cbor:"variants,omitempty"`
}

// HandlerEntry binds one effect operation to handler code. Addr is an
// absolute offset into the instruction stream, inside the cell that pushes
// the scope. ArgReg and ContReg name the registers of that cell's window
// that receive the operation argument and the captured continuation.
type HandlerEntry struct {
	Op      uint32 `cbor:"op"` // string table id of the operation name
	Addr    int    `cbor:"addr"`
	ArgReg  uint8  `cbor:"arg_reg"`
	ContReg uint8  `cbor:"cont_reg"`
}

// HandlerTable is the set of operations one HandlePush scope intercepts.
type HandlerTable struct {
	Entries []HandlerEntry `cbor:"entries"`
}

// ToolDecl declares an external tool referenced by ToolCall.
type ToolDecl struct {
	Alias   string `cbor:"alias"`
	ID      string `cbor:"id"`
	Version string `cbor:"version"`
	Target  string `cbor:"target,omitempty"` // provider endpoint, e.g. a gRPC address
}

// Policy is a grant table constraining one tool's arguments.
type Policy struct {
	ToolAlias string         `cbor:"tool_alias"`
	Grants    map[string]any `cbor:"grants"`
}

// Module is a loaded LIR module: a flat instruction stream plus the pools
// it indexes into. Modules are immutable after load and safely shared
// across VM instances.
type Module struct {
	Version  string         `cbor:"version"`
	DocHash  string         `cbor:"doc_hash"`
	Code     []Instruction  `cbor:"code"`
	Consts   []Constant     `cbor:"consts"`
	Strings  []string       `cbor:"strings"`
	Cells    []Cell         `cbor:"cells"`
	Types    []TypeInfo     `cbor:"types,omitempty"`
	Handlers []HandlerTable `cbor:"handlers,omitempty"`
	Tools    []ToolDecl     `cbor:"tools,omitempty"`
	Policies []Policy       `cbor:"policies,omitempty"`
}

// CellByName returns the index of the named cell, or -1.
func (m *Module) CellByName(name string) int {
	for i := range m.Cells {
		if m.Cells[i].Name == name {
			return i
		}
	}
	return -1
}

// MergedPolicy flattens all grant tables declared for a tool alias into a
// single map. Later policies win on key collisions.
func (m *Module) MergedPolicy(alias string) map[string]any {
	merged := make(map[string]any)
	for _, p := range m.Policies {
		if p.ToolAlias != alias {
			continue
		}
		for k, v := range p.Grants {
			merged[k] = v
		}
	}
	return merged
}

// Validate bounds-checks the module's cross references. The front end
// guarantees well-formedness, but a corrupt or truncated module must fail
// at load rather than mid-run.
func (m *Module) Validate() error {
	for ci := range m.Cells {
		c := &m.Cells[ci]
		if c.Entry < 0 || c.Entry >= len(m.Code) {
			return fmt.Errorf("cell %q: entry %d outside code (len %d)", c.Name, c.Entry, len(m.Code))
		}
		if c.Registers == 0 {
			return fmt.Errorf("cell %q: zero-width register window", c.Name)
		}
		if c.Arity < 0 || c.Arity > int(c.Registers) {
			return fmt.Errorf("cell %q: arity %d exceeds register window %d", c.Name, c.Arity, c.Registers)
		}
	}
	for pc, ins := range m.Code {
		op := ins.Op()
		if !op.Valid() {
			return fmt.Errorf("offset %d: unknown opcode 0x%02X", pc, uint8(op))
		}
		switch op {
		case OpLoadK:
			if int(ins.Bx()) >= len(m.Consts) {
				return fmt.Errorf("offset %d: constant %d outside pool (len %d)", pc, ins.Bx(), len(m.Consts))
			}
		case OpClosure:
			if int(ins.Bx()) >= len(m.Cells) {
				return fmt.Errorf("offset %d: cell %d outside table (len %d)", pc, ins.Bx(), len(m.Cells))
			}
		case OpNewRecord:
			if int(ins.Bx()) >= len(m.Types) {
				return fmt.Errorf("offset %d: type %d outside table (len %d)", pc, ins.Bx(), len(m.Types))
			}
		case OpPerform, OpIsVariant, OpSchema:
			if int(ins.Bx()) >= len(m.Strings) {
				return fmt.Errorf("offset %d: string %d outside pool (len %d)", pc, ins.Bx(), len(m.Strings))
			}
		case OpHandlePush:
			if int(ins.Bx()) >= len(m.Handlers) {
				return fmt.Errorf("offset %d: handler table %d outside pool (len %d)", pc, ins.Bx(), len(m.Handlers))
			}
		case OpToolCall:
			if int(ins.Bx()) >= len(m.Tools) {
				return fmt.Errorf("offset %d: tool %d outside table (len %d)", pc, ins.Bx(), len(m.Tools))
			}
		case OpJmp:
			target := pc + 1 + int(ins.SAx())
			if target < 0 || target > len(m.Code) {
				return fmt.Errorf("offset %d: jump target %d outside code (len %d)", pc, target, len(m.Code))
			}
		}
	}
	for hi := range m.Handlers {
		for _, e := range m.Handlers[hi].Entries {
			if int(e.Op) >= len(m.Strings) {
				return fmt.Errorf("handler table %d: operation string %d outside pool", hi, e.Op)
			}
			if e.Addr < 0 || e.Addr >= len(m.Code) {
				return fmt.Errorf("handler table %d: address %d outside code", hi, e.Addr)
			}
		}
	}
	return nil
}
