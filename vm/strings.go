package vm

// ---------------------------------------------------------------------------
// String interning
// ---------------------------------------------------------------------------

// StringID is a stable index into a StringTable.
type StringID uint32

// StringTable maps string content to stable integer ids. Module load
// populates the table from the module's string pool; runtime-constructed
// strings are interned on demand. The table only grows for the life of a
// VM instance.
type StringTable struct {
	ids     map[string]StringID
	strings []string
}

// NewStringTable creates an empty string table.
func NewStringTable() *StringTable {
	return &StringTable{ids: make(map[string]StringID)}
}

// Intern returns the id for s, adding it to the table if absent.
func (t *StringTable) Intern(s string) StringID {
	if id, ok := t.ids[s]; ok {
		return id
	}
	id := StringID(len(t.strings))
	t.strings = append(t.strings, s)
	t.ids[s] = id
	return id
}

// Lookup returns the id for s without interning. The second result is false
// if s has never been interned.
func (t *StringTable) Lookup(s string) (StringID, bool) {
	id, ok := t.ids[s]
	return id, ok
}

// Resolve returns the string for id, or "" if id is out of range.
func (t *StringTable) Resolve(id StringID) string {
	if int(id) >= len(t.strings) {
		return ""
	}
	return t.strings[int(id)]
}

// Contains reports whether id is a valid index into the table.
func (t *StringTable) Contains(id StringID) bool {
	return int(id) < len(t.strings)
}

// Len returns the number of interned strings.
func (t *StringTable) Len() int {
	return len(t.strings)
}
