package schema

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

const userSchema = `
name:  string
age:   int & >=0
email?: string
`

func TestRegisterAndValidate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("user", userSchema); err != nil {
		t.Fatalf("register: %v", err)
	}

	ok := map[string]any{"name": "ada", "age": 36}
	if err := r.Validate("user", ok); err != nil {
		t.Errorf("valid value rejected: %v", err)
	}

	bad := map[string]any{"name": "ada", "age": -1}
	if err := r.Validate("user", bad); err == nil {
		t.Error("negative age accepted")
	}

	wrongType := map[string]any{"name": 42, "age": 1}
	if err := r.Validate("user", wrongType); err == nil {
		t.Error("numeric name accepted")
	}
}

func TestMissingSchemaIsAnError(t *testing.T) {
	r := NewRegistry()
	if err := r.Validate("ghost", map[string]any{}); err == nil {
		t.Fatal("missing schema passed silently")
	}
}

func TestRegisterRejectsBadSource(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("broken", "name: string &"); err == nil {
		t.Fatal("malformed schema compiled")
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	write := func(name, src string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("user.cue", userSchema)
	write("point.cue", "x: number\ny: number\n")
	write("notes.txt", "ignored")

	r := NewRegistry()
	if err := r.LoadDir(dir); err != nil {
		t.Fatalf("load dir: %v", err)
	}

	names := r.Names()
	sort.Strings(names)
	if len(names) != 2 || names[0] != "point" || names[1] != "user" {
		t.Errorf("names = %v", names)
	}

	if err := r.Validate("point", map[string]any{"x": 1.5, "y": 2}); err != nil {
		t.Errorf("point rejected: %v", err)
	}
}

func TestLoadDirMissing(t *testing.T) {
	r := NewRegistry()
	if err := r.LoadDir(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("missing directory should fail")
	}
}
