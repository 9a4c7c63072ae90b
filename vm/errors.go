package vm

import "fmt"

// ---------------------------------------------------------------------------
// Runtime error taxonomy
// ---------------------------------------------------------------------------

// ErrorKind classifies a RuntimeError.
type ErrorKind uint8

const (
	// ErrEncoding marks a malformed instruction word or operand for its
	// opcode's layout. Engine-fatal: the module is corrupt.
	ErrEncoding ErrorKind = iota
	// ErrType marks an operand value variant unsupported by the operation.
	ErrType
	// ErrBounds marks an index or key out of range after negative-index
	// normalization.
	ErrBounds
	// ErrStackOverflow marks call-frame depth exceeding the configured limit.
	ErrStackOverflow
	// ErrEffect marks an unhandled effect or a violation of the one-shot /
	// LIFO handler discipline.
	ErrEffect
	// ErrBuiltin marks a failure reported by a builtin function.
	ErrBuiltin
	// ErrTool marks a failure reported by a tool provider or its policy.
	ErrTool
	// ErrSchema marks a schema validation failure.
	ErrSchema
	// ErrHalt marks an explicit Halt instruction.
	ErrHalt
	// ErrInternal marks an engine invariant violation. Engine-fatal.
	ErrInternal
)

// String returns the kind's name.
func (k ErrorKind) String() string {
	switch k {
	case ErrEncoding:
		return "encoding"
	case ErrType:
		return "type"
	case ErrBounds:
		return "bounds"
	case ErrStackOverflow:
		return "stack-overflow"
	case ErrEffect:
		return "effect"
	case ErrBuiltin:
		return "builtin"
	case ErrTool:
		return "tool"
	case ErrSchema:
		return "schema"
	case ErrHalt:
		return "halt"
	case ErrInternal:
		return "internal"
	default:
		return fmt.Sprintf("ErrorKind(%d)", uint8(k))
	}
}

// RuntimeError is the discriminated error surfaced by the host Call
// boundary. Cell and PC locate the failing instruction so the embedding
// tooling can map the error back to source.
type RuntimeError struct {
	Kind    ErrorKind
	Message string
	Cell    int // failing cell id, -1 when not attributable
	PC      int // instruction offset, -1 when not attributable
}

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.Cell >= 0 {
		return fmt.Sprintf("%s error: %s (cell %d, offset %d)", e.Kind, e.Message, e.Cell, e.PC)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

// Fatal reports whether the error indicates a corrupt module or a broken
// engine invariant. Fatal errors abort the run; everything else is an
// ordinary result for the caller.
func (e *RuntimeError) Fatal() bool {
	return e.Kind == ErrEncoding || e.Kind == ErrInternal
}

func newError(kind ErrorKind, format string, args ...any) *RuntimeError {
	return &RuntimeError{Kind: kind, Message: fmt.Sprintf(format, args...), Cell: -1, PC: -1}
}

// typeError builds an ErrType error for an operation applied to an
// unsupported value variant.
func typeError(op string, v Value) *RuntimeError {
	return newError(ErrType, "%s not supported on %s", op, v.Kind())
}
