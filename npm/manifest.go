// Package npm locates installed npm packages and their browser entry files.
package npm

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Manifest is the subset of package.json the resolver and installer read.
type Manifest struct {
	Name             string            `json:"name"`
	Version          string            `json:"version"`
	Description      string            `json:"description,omitempty"`
	Main             string            `json:"main,omitempty"`
	Module           string            `json:"module,omitempty"`
	Unpkg            string            `json:"unpkg,omitempty"`
	Jsdelivr         string            `json:"jsdelivr,omitempty"`
	Browser          json.RawMessage   `json:"browser,omitempty"`
	Exports          json.RawMessage   `json:"exports,omitempty"`
	Dependencies     map[string]string `json:"dependencies,omitempty"`
	PeerDependencies map[string]string `json:"peerDependencies,omitempty"`
	DevDependencies  map[string]string `json:"devDependencies,omitempty"`
}

// ReadManifest parses the package.json at path.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &m, nil
}

// RuntimeDependencies returns the sorted union of dependencies and
// peerDependencies. devDependencies are never included.
func (m *Manifest) RuntimeDependencies() []string {
	seen := make(map[string]struct{}, len(m.Dependencies)+len(m.PeerDependencies))
	for name := range m.Dependencies {
		seen[name] = struct{}{}
	}
	for name := range m.PeerDependencies {
		seen[name] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// HasDependency reports whether name is declared in dependencies or
// devDependencies.
func (m *Manifest) HasDependency(name string) bool {
	if _, ok := m.Dependencies[name]; ok {
		return true
	}
	_, ok := m.DevDependencies[name]
	return ok
}

// IsDevDependency reports whether name appears only as a dev dependency.
func (m *Manifest) IsDevDependency(name string) bool {
	if _, ok := m.DevDependencies[name]; !ok {
		return false
	}
	_, runtime := m.Dependencies[name]
	return !runtime
}

// Scoped names are lowercase. Unscoped names may carry uppercase letters,
// which the registry still serves for legacy packages such as JSONStream.
var namePattern = regexp.MustCompile(`^(?:@[a-z0-9][a-z0-9._~-]*/[a-z0-9][a-z0-9._~-]*|[A-Za-z0-9][A-Za-z0-9._~-]*)$`)

// ValidName reports whether name is a well-formed npm package name.
// Names that could escape node_modules are rejected.
func ValidName(name string) bool {
	if name == "" || len(name) > 214 || strings.Contains(name, "..") {
		return false
	}
	return namePattern.MatchString(name)
}

// PackageDir returns the on-disk directory of name under root/node_modules.
func PackageDir(root, name string) string {
	return filepath.Join(root, "node_modules", filepath.FromSlash(name))
}
