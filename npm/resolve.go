package npm

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/enfyra/app/apperr"
)

// ErrNotInstalled is returned when a package has no directory under node_modules.
var ErrNotInstalled = errors.New("package not installed")

// Resolution is the result of resolving a package to its browser entry.
type Resolution struct {
	Name         string
	Dir          string
	EntryPath    string
	Source       string
	Manifest     *Manifest
	Dependencies []string
}

// Resolver resolves installed packages under a project root.
type Resolver struct {
	root string
}

// NewResolver creates a resolver rooted at root.
func NewResolver(root string) *Resolver {
	return &Resolver{root: root}
}

// Root returns the project root this resolver reads from.
func (r *Resolver) Root() string { return r.root }

var fallbackEntries = []string{"index.js", "index.mjs", "src/index.js", "dist/index.js"}

// Resolve locates name under node_modules and reads its entry source.
func (r *Resolver) Resolve(name string) (*Resolution, error) {
	if !ValidName(name) {
		return nil, apperr.BadRequest("invalid package name %q", name)
	}
	res, err := r.locate(name)
	if err != nil {
		return nil, err
	}
	src, err := os.ReadFile(res.EntryPath)
	if err != nil {
		return nil, fmt.Errorf("read entry of %s: %w", name, err)
	}
	res.Source = string(src)
	return res, nil
}

// Locate resolves name without reading the entry file.
func (r *Resolver) Locate(name string) (*Resolution, error) {
	if !ValidName(name) {
		return nil, apperr.BadRequest("invalid package name %q", name)
	}
	return r.locate(name)
}

func (r *Resolver) locate(name string) (*Resolution, error) {
	dir := PackageDir(r.root, name)
	m, err := ReadManifest(filepath.Join(dir, "package.json"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &apperr.Error{Status: http.StatusNotFound, Message: fmt.Sprintf("package %q not found", name), Err: ErrNotInstalled}
		}
		return nil, err
	}

	entry := filepath.Join(dir, filepath.FromSlash(EntryFile(m)))
	if !isFile(entry) {
		entry = ""
		for _, candidate := range fallbackEntries {
			p := filepath.Join(dir, filepath.FromSlash(candidate))
			if isFile(p) {
				entry = p
				break
			}
		}
	}
	if entry == "" {
		return nil, apperr.NotFound("entry file for package %q not found", name)
	}

	return &Resolution{
		Name:         name,
		Dir:          dir,
		EntryPath:    entry,
		Manifest:     m,
		Dependencies: m.RuntimeDependencies(),
	}, nil
}

// EntryFile picks the browser-appropriate entry for a manifest. The first
// present field wins: unpkg, jsdelivr, browser (string form), module, main,
// then the "." export. index.js is the final default.
func EntryFile(m *Manifest) string {
	if m.Unpkg != "" {
		return clean(m.Unpkg)
	}
	if m.Jsdelivr != "" {
		return clean(m.Jsdelivr)
	}
	var browser string
	if len(m.Browser) > 0 && json.Unmarshal(m.Browser, &browser) == nil && browser != "" {
		return clean(browser)
	}
	if m.Module != "" {
		return clean(m.Module)
	}
	if m.Main != "" {
		return clean(m.Main)
	}
	if p := exportsEntry(m.Exports); p != "" {
		return clean(p)
	}
	return "index.js"
}

var exportConditions = []string{"browser", "default", "import", "require"}

func exportsEntry(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var exports map[string]json.RawMessage
	if json.Unmarshal(raw, &exports) != nil {
		return ""
	}
	dot, ok := exports["."]
	if !ok {
		// Conditions may sit at the top level when no subpaths are exported.
		return conditionalTarget(raw)
	}
	return conditionalTarget(dot)
}

func conditionalTarget(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var conds map[string]json.RawMessage
	if json.Unmarshal(raw, &conds) != nil {
		return ""
	}
	for _, key := range exportConditions {
		v, ok := conds[key]
		if !ok {
			continue
		}
		if t := conditionalTarget(v); t != "" {
			return t
		}
	}
	return ""
}

func clean(p string) string {
	return strings.TrimPrefix(p, "./")
}
