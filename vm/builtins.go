package vm

// ---------------------------------------------------------------------------
// Builtin dispatch
// ---------------------------------------------------------------------------
//
// Builtins are pure host functions keyed by numeric id; the Intrinsic
// instruction resolves the id and calls through the table. Builtins never
// re-enter the dispatch loop and never perform effects. Ids 0..28 are the
// canonical assignment shared with the compiler; higher ids are runtime
// extensions. Diff, Patch and Redact are reserved and unregistered.

const (
	BiLength   uint32 = 0
	BiCount    uint32 = 1
	BiMatches  uint32 = 2
	BiHash     uint32 = 3
	BiDiff     uint32 = 4 // reserved
	BiPatch    uint32 = 5 // reserved
	BiRedact   uint32 = 6 // reserved
	BiValidate uint32 = 7
	BiTraceRef uint32 = 8
	BiPrint    uint32 = 9
	BiToString uint32 = 10
	BiToInt    uint32 = 11
	BiToFloat  uint32 = 12
	BiTypeOf   uint32 = 13
	BiKeys     uint32 = 14
	BiValues   uint32 = 15
	BiContains uint32 = 16
	BiJoin     uint32 = 17
	BiSplit    uint32 = 18
	BiTrim     uint32 = 19
	BiUpper    uint32 = 20
	BiLower    uint32 = 21
	BiReplace  uint32 = 22
	BiSlice    uint32 = 23
	BiAppend   uint32 = 24
	BiRange    uint32 = 25
	BiAbs      uint32 = 26
	BiMin      uint32 = 27
	BiMax      uint32 = 28

	BiSort         uint32 = 29
	BiReverse      uint32 = 30
	BiFlatten      uint32 = 31
	BiUnique       uint32 = 32
	BiTake         uint32 = 33
	BiDrop         uint32 = 34
	BiFirst        uint32 = 35
	BiLast         uint32 = 36
	BiIsEmpty      uint32 = 37
	BiChars        uint32 = 38
	BiStartsWith   uint32 = 39
	BiEndsWith     uint32 = 40
	BiIndexOf      uint32 = 41
	BiPadLeft      uint32 = 42
	BiPadRight     uint32 = 43
	BiRound        uint32 = 44
	BiCeil         uint32 = 45
	BiFloor        uint32 = 46
	BiSqrt         uint32 = 47
	BiPow          uint32 = 48
	BiLog          uint32 = 49
	BiSin          uint32 = 50
	BiCos          uint32 = 51
	BiTan          uint32 = 52
	BiExp          uint32 = 53
	BiTrunc        uint32 = 54
	BiClamp        uint32 = 55
	BiTrimStart    uint32 = 56
	BiTrimEnd      uint32 = 57
	BiCapitalize   uint32 = 58
	BiSnakeCase    uint32 = 59
	BiCamelCase    uint32 = 60
	BiBase64Encode uint32 = 61
	BiBase64Decode uint32 = 62
	BiHexEncode    uint32 = 63
	BiHexDecode    uint32 = 64
	BiJSONParse    uint32 = 65
	BiJSONEncode   uint32 = 66
	BiSha512       uint32 = 67
	BiUUID         uint32 = 68
	BiTimestamp    uint32 = 69
	BiDebug        uint32 = 70
	BiClone        uint32 = 71
	BiSizeof       uint32 = 72
	BiMerge        uint32 = 73
	BiEntries      uint32 = 74
	BiHasKey       uint32 = 75
	BiToSet        uint32 = 76
)

// BuiltinFunc receives borrowed argument values and returns an owned
// result. Errors without a location get located at the calling instruction.
type BuiltinFunc func(in *Interpreter, args []Value) (Value, *RuntimeError)

// BuiltinSpec describes one registered builtin.
type BuiltinSpec struct {
	Name  string
	Arity int
	Fn    BuiltinFunc
}

// BuiltinTable maps numeric ids to builtin implementations.
type BuiltinTable struct {
	specs  map[uint32]*BuiltinSpec
	byName map[string]uint32
}

func NewBuiltinTable() *BuiltinTable {
	return &BuiltinTable{
		specs:  make(map[uint32]*BuiltinSpec),
		byName: make(map[string]uint32),
	}
}

// Register binds id to a builtin. Re-registering an id replaces it, which
// lets hosts override standard builtins (print, most usefully).
func (t *BuiltinTable) Register(id uint32, name string, arity int, fn BuiltinFunc) {
	t.specs[id] = &BuiltinSpec{Name: name, Arity: arity, Fn: fn}
	t.byName[name] = id
}

func (t *BuiltinTable) lookup(id uint32) *BuiltinSpec {
	return t.specs[id]
}

// IDByName resolves a builtin name to its id, for assemblers.
func (t *BuiltinTable) IDByName(name string) (uint32, bool) {
	id, ok := t.byName[name]
	return id, ok
}

// StandardBuiltins returns a table with the full standard set registered.
func StandardBuiltins() *BuiltinTable {
	t := NewBuiltinTable()
	registerCoreBuiltins(t)
	registerCollectionBuiltins(t)
	registerStringBuiltins(t)
	registerMathBuiltins(t)
	return t
}

// ---------------------------------------------------------------------------
// Argument helpers
// ---------------------------------------------------------------------------

func wantString(in *Interpreter, v Value, what string) (string, *RuntimeError) {
	if v.Kind() != KindString {
		return "", newError(ErrBuiltin, "%s must be String, got %s", what, v.Kind())
	}
	return in.strings.Resolve(v.StringID()), nil
}

func wantInt(v Value, what string) (int64, *RuntimeError) {
	if v.Kind() != KindInt {
		return 0, newError(ErrBuiltin, "%s must be Int, got %s", what, v.Kind())
	}
	return v.Int(), nil
}

func wantList(v Value, what string) (*List, *RuntimeError) {
	if v.Kind() != KindList {
		return nil, newError(ErrBuiltin, "%s must be List, got %s", what, v.Kind())
	}
	return v.AsList(), nil
}

func wantMap(v Value, what string) (*Map, *RuntimeError) {
	if v.Kind() != KindMap {
		return nil, newError(ErrBuiltin, "%s must be Map, got %s", what, v.Kind())
	}
	return v.AsMap(), nil
}

func wantNumber(v Value, what string) (float64, *RuntimeError) {
	switch v.Kind() {
	case KindInt:
		return float64(v.Int()), nil
	case KindFloat:
		return v.Float(), nil
	}
	return 0, newError(ErrBuiltin, "%s must be numeric, got %s", what, v.Kind())
}

// internString builds a string value through the interpreter's table.
func internString(in *Interpreter, s string) Value {
	return NewString(in.strings.Intern(s))
}
