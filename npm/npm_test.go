package npm

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/enfyra/app/apperr"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func newProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "package.json"), `{"name":"host","dependencies":{"dayjs":"^1.11.0"}}`)
	if err := os.MkdirAll(filepath.Join(root, "node_modules"), 0o755); err != nil {
		t.Fatalf("mkdir node_modules: %v", err)
	}
	return root
}

func TestResolveMainOnly(t *testing.T) {
	root := newProject(t)
	pkg := filepath.Join(root, "node_modules", "only-main")
	writeFile(t, filepath.Join(pkg, "package.json"), `{"name":"only-main","main":"lib/index.js"}`)
	writeFile(t, filepath.Join(pkg, "lib", "index.js"), "module.exports = 42;")

	res, err := NewResolver(root).Resolve("only-main")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Source != "module.exports = 42;" {
		t.Errorf("unexpected source %q", res.Source)
	}
}

func TestResolveMixedCaseName(t *testing.T) {
	root := newProject(t)
	pkg := filepath.Join(root, "node_modules", "JSONStream")
	writeFile(t, filepath.Join(pkg, "package.json"), `{"name":"JSONStream","main":"index.js"}`)
	writeFile(t, filepath.Join(pkg, "index.js"), "module.exports = {};")

	res, err := NewResolver(root).Resolve("JSONStream")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Source != "module.exports = {};" {
		t.Errorf("unexpected source %q", res.Source)
	}
}

func TestResolvePrefersModule(t *testing.T) {
	root := newProject(t)
	pkg := filepath.Join(root, "node_modules", "dual")
	writeFile(t, filepath.Join(pkg, "package.json"), `{"name":"dual","module":"es/index.mjs","main":"lib/index.js","dependencies":{"b":"1"},"peerDependencies":{"a":"1"},"devDependencies":{"z":"1"}}`)
	writeFile(t, filepath.Join(pkg, "es", "index.mjs"), "export default 1;")
	writeFile(t, filepath.Join(pkg, "lib", "index.js"), "module.exports = 1;")

	res, err := NewResolver(root).Resolve("dual")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if filepath.Base(res.EntryPath) != "index.mjs" {
		t.Errorf("expected es/index.mjs, got %s", res.EntryPath)
	}
	if strings.Join(res.Dependencies, ",") != "a,b" {
		t.Errorf("dependencies = %v, want [a b]", res.Dependencies)
	}
}

func TestResolveFallbackEntry(t *testing.T) {
	root := newProject(t)
	pkg := filepath.Join(root, "node_modules", "broken-main")
	writeFile(t, filepath.Join(pkg, "package.json"), `{"name":"broken-main","main":"missing.js"}`)
	writeFile(t, filepath.Join(pkg, "dist", "index.js"), "export const x = 1;")

	res, err := NewResolver(root).Resolve("broken-main")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !strings.HasSuffix(filepath.ToSlash(res.EntryPath), "dist/index.js") {
		t.Errorf("expected dist/index.js fallback, got %s", res.EntryPath)
	}
}

func TestResolveNotFound(t *testing.T) {
	root := newProject(t)
	_, err := NewResolver(root).Resolve("nope")
	if apperr.StatusOf(err) != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
	if !errors.Is(err, ErrNotInstalled) {
		t.Error("expected ErrNotInstalled")
	}

	pkg := filepath.Join(root, "node_modules", "empty")
	writeFile(t, filepath.Join(pkg, "package.json"), `{"name":"empty","main":"gone.js"}`)
	_, err = NewResolver(root).Resolve("empty")
	if apperr.StatusOf(err) != http.StatusNotFound {
		t.Fatalf("expected 404 for missing entry, got %v", err)
	}
}

func TestResolveInvalidName(t *testing.T) {
	_, err := NewResolver(t.TempDir()).Resolve("../../etc")
	if apperr.StatusOf(err) != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestEntryFilePriority(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		want     string
	}{
		{"unpkg wins", `{"unpkg":"dist/a.umd.js","module":"es/a.js","main":"lib/a.js"}`, "dist/a.umd.js"},
		{"jsdelivr", `{"jsdelivr":"./cdn.js","main":"lib/a.js"}`, "cdn.js"},
		{"browser string", `{"browser":"browser.js","module":"es/a.js"}`, "browser.js"},
		{"browser object ignored", `{"browser":{"fs":false},"module":"es/a.js"}`, "es/a.js"},
		{"exports string", `{"exports":"./x.js"}`, "x.js"},
		{"exports dot browser", `{"exports":{".":{"require":"./r.js","browser":"./b.js"}}}`, "b.js"},
		{"exports dot import", `{"exports":{".":{"require":"./r.js","import":"./i.js"}}}`, "i.js"},
		{"exports nested", `{"exports":{".":{"default":{"import":"./n.mjs"}}}}`, "n.mjs"},
		{"nothing", `{}`, "index.js"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m Manifest
			if err := json.Unmarshal([]byte(tt.manifest), &m); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got := EntryFile(&m); got != tt.want {
				t.Errorf("EntryFile() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFindProjectRoot(t *testing.T) {
	root := newProject(t)
	nested := filepath.Join(root, "packages", "sub")
	writeFile(t, filepath.Join(nested, "package.json"), `{"name":"sub"}`)

	got, err := FindProjectRoot(nested)
	if err != nil {
		t.Fatalf("FindProjectRoot: %v", err)
	}
	want, _ := filepath.Abs(root)
	if got != want {
		t.Errorf("FindProjectRoot() = %s, want %s", got, want)
	}
}

func TestValidName(t *testing.T) {
	for _, name := range []string{"vue", "@vue/compiler-sfc", "lodash.debounce", "chart.js", "JSONStream"} {
		if !ValidName(name) {
			t.Errorf("expected %q to be valid", name)
		}
	}
	for _, name := range []string{"", "../x", "@Scope/x", "@scope/Foo", "@scope/../x", "a/b", ".hidden"} {
		if ValidName(name) {
			t.Errorf("expected %q to be invalid", name)
		}
	}
}

func TestWrapCommonJS(t *testing.T) {
	wrapped := WrapCommonJS("module.exports = { a: 1 };")
	if !strings.Contains(wrapped, "export default module.exports;") {
		t.Errorf("expected default export wrapper, got %q", wrapped)
	}
	esm := "export const a = 1;\nmodule.exports = 1;"
	if WrapCommonJS(esm) != esm {
		t.Error("ES module should be returned unchanged")
	}
}
