package extension

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/enfyra/app/npm"
)

// Framework locates the Vue runtime and single-file-component compiler.
type Framework struct {
	// CompilerSFC is the self-contained browser build of @vue/compiler-sfc.
	CompilerSFC string
	// RuntimeGlobal is the global build of vue that defines globalThis.Vue.
	RuntimeGlobal string
}

// ErrFrameworkNotFound is returned when vue cannot be located.
var ErrFrameworkNotFound = errors.New("cannot locate vue and @vue/compiler-sfc; install vue in the project")

const (
	compilerBuild = "dist/compiler-sfc.esm-browser.js"
	runtimeBuild  = "dist/vue.global.prod.js"
)

// ResolveFramework finds vue for root. Package resolution from the project
// root is tried first, then the monorepo-parent and co-located layouts.
func ResolveFramework(root string) (*Framework, error) {
	r := npm.NewResolver(root)
	fw := &Framework{}
	if res, err := r.Locate("@vue/compiler-sfc"); err == nil {
		fw.CompilerSFC = filepath.Join(res.Dir, filepath.FromSlash(compilerBuild))
	}
	if res, err := r.Locate("vue"); err == nil {
		fw.RuntimeGlobal = filepath.Join(res.Dir, filepath.FromSlash(runtimeBuild))
	}

	cwd, _ := os.Getwd()
	for _, base := range []string{
		filepath.Join(root, "..", "node_modules"),
		filepath.Join(root, "node_modules", "vue", "node_modules"),
		filepath.Join(cwd, "node_modules"),
	} {
		if !exists(fw.CompilerSFC) {
			fw.CompilerSFC = filepath.Join(base, "@vue", "compiler-sfc", filepath.FromSlash(compilerBuild))
		}
		if !exists(fw.RuntimeGlobal) {
			fw.RuntimeGlobal = filepath.Join(base, "vue", filepath.FromSlash(runtimeBuild))
		}
	}
	if !exists(fw.CompilerSFC) {
		return nil, ErrFrameworkNotFound
	}
	if !exists(fw.RuntimeGlobal) {
		fw.RuntimeGlobal = ""
	}
	return fw, nil
}

func exists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
