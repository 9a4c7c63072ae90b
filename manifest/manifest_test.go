package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleManifest = `
[project]
name = "demo"
version = "0.1.0"
module = "build/demo.lir"

[engine]
max-depth = 128
step-trace = true

[trace]
driver = "duckdb"
path = "journal.db"

[[tools]]
alias = "http_get"
id = "lumen.http/Fetch"
version = "1.2.0"
target = "localhost:9090"

[[tools]]
alias = "fake_mail"
id = "lumen.mail/Send"
mock = true

[policies.http_get]
domain = "*.example.com"
timeout_ms = 5000

[policies.fake_mail]
sender = "noreply@demo.test"
`

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "lumen.toml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, sampleManifest)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.Project.Name != "demo" || m.Project.Version != "0.1.0" {
		t.Errorf("project = %+v", m.Project)
	}
	if m.Engine.MaxDepth != 128 || !m.Engine.StepTrace {
		t.Errorf("engine = %+v", m.Engine)
	}
	if m.Trace.Driver != "duckdb" || m.Trace.Path != "journal.db" {
		t.Errorf("trace = %+v", m.Trace)
	}
	if len(m.Tools) != 2 {
		t.Fatalf("tools = %+v", m.Tools)
	}
	if got := m.ToolByAlias("http_get"); got == nil || got.Target != "localhost:9090" {
		t.Errorf("http_get binding = %+v", got)
	}
	if got := m.ToolByAlias("fake_mail"); got == nil || !got.Mock {
		t.Errorf("fake_mail binding = %+v", got)
	}
	if m.ToolByAlias("nope") != nil {
		t.Error("unknown alias resolved")
	}

	p := m.PolicyFor("http_get")
	if p["domain"] != "*.example.com" {
		t.Errorf("policy = %+v", p)
	}
	if m.PolicyFor("unknown") != nil {
		t.Error("unknown alias has a policy")
	}
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "[project]\nname = \"min\"\n")

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.Trace.Driver != "sqlite3" {
		t.Errorf("default driver = %q", m.Trace.Driver)
	}
	want := filepath.Join(m.Dir, ".lumen", "trace.db")
	if m.Trace.Path != want {
		t.Errorf("default trace path = %q, want %q", m.Trace.Path, want)
	}
	if got := m.ModulePath(); got != filepath.Join(m.Dir, "main.lir") {
		t.Errorf("default module path = %q", got)
	}
}

func TestModulePathResolution(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, sampleManifest)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := m.ModulePath(); got != filepath.Join(m.Dir, "build", "demo.lir") {
		t.Errorf("module path = %q", got)
	}
}

func TestFindAndLoadWalksUp(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, sampleManifest)
	nested := filepath.Join(root, "src", "deep")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	m, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if m == nil {
		t.Fatal("manifest not found from nested dir")
	}
	if m.Project.Name != "demo" {
		t.Errorf("found wrong manifest: %+v", m.Project)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("missing lumen.toml should fail")
	}
}

func TestLoadParseError(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "this is not [valid toml")
	if _, err := Load(dir); err == nil {
		t.Fatal("malformed toml should fail")
	}
}
