// Package packages installs and removes the npm packages that back
// App-type package records.
package packages

import (
	"os"
	"path/filepath"
	"strings"
)

// Manager is a JavaScript package manager the installer can drive.
type Manager string

const (
	Bun  Manager = "bun"
	Yarn Manager = "yarn"
	NPM  Manager = "npm"
	PNPM Manager = "pnpm"
)

// EnvOverride names the environment variable that forces a manager.
const EnvOverride = "PACKAGE_MANAGER"

// lockfiles in detection priority order.
var lockfiles = []struct {
	file    string
	manager Manager
}{
	{"bun.lockb", Bun},
	{"bun.lock", Bun},
	{"yarn.lock", Yarn},
	{"package-lock.json", NPM},
	{"pnpm-lock.yaml", PNPM},
}

// ParseManager maps a name to a Manager. Unknown names report false.
func ParseManager(name string) (Manager, bool) {
	switch m := Manager(strings.ToLower(strings.TrimSpace(name))); m {
	case Bun, Yarn, NPM, PNPM:
		return m, true
	}
	return "", false
}

// DetectManager picks the manager for the project at root: the
// PACKAGE_MANAGER override first, then the first lockfile found, then npm.
func DetectManager(root string) Manager {
	if m, ok := ParseManager(os.Getenv(EnvOverride)); ok {
		return m
	}
	for _, lf := range lockfiles {
		if _, err := os.Stat(filepath.Join(root, lf.file)); err == nil {
			return lf.manager
		}
	}
	return NPM
}

// InstallArgs returns the argument list that adds spec to the project.
func (m Manager) InstallArgs(spec string, flags []string) []string {
	var args []string
	switch m {
	case NPM:
		args = []string{"install", spec, "--legacy-peer-deps"}
	default:
		args = []string{"add", spec}
	}
	return append(args, flags...)
}

// UninstallArgs returns the argument list that removes name.
func (m Manager) UninstallArgs(name string) []string {
	if m == NPM {
		return []string{"uninstall", name}
	}
	return []string{"remove", name}
}

func (m Manager) String() string { return string(m) }
