package bundler

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

const externalNamespace = "global-external"

// External maps an import specifier to a global object the page provides.
type External struct {
	Name       string   `json:"name"`
	GlobalName string   `json:"globalName"`
	Exports    []string `json:"exports,omitempty"`
}

// FrameworkExternal is the host UI framework, always read from globalThis.Vue.
var FrameworkExternal = External{Name: "vue", GlobalName: "Vue"}

var identPattern = regexp.MustCompile(`^[A-Za-z_$][\w$]*$`)

// mergeExternals returns base overlaid with extra. A later entry replaces an
// earlier one with the same name.
func mergeExternals(base []External, extra ...External) []External {
	byName := make(map[string]External, len(base)+len(extra))
	var order []string
	for _, e := range append(append([]External(nil), base...), extra...) {
		if e.Name == "" || e.GlobalName == "" {
			continue
		}
		if _, ok := byName[e.Name]; !ok {
			order = append(order, e.Name)
		}
		byName[e.Name] = e
	}
	out := make([]External, 0, len(order))
	for _, name := range order {
		out = append(out, byName[name])
	}
	return out
}

// GlobalExternals resolves each external to a synthetic module that reads
// from globalThis[GlobalName] instead of bundling the package.
func GlobalExternals(externals []External) api.Plugin {
	byName := make(map[string]External, len(externals))
	names := make([]string, 0, len(externals))
	for _, e := range externals {
		byName[e.Name] = e
		names = append(names, regexp.QuoteMeta(e.Name))
	}
	sort.Strings(names)
	filter := "^(" + strings.Join(names, "|") + ")$"

	return api.Plugin{
		Name: "global-externals",
		Setup: func(build api.PluginBuild) {
			if len(names) == 0 {
				return
			}
			build.OnResolve(api.OnResolveOptions{Filter: filter}, func(args api.OnResolveArgs) (api.OnResolveResult, error) {
				return api.OnResolveResult{Path: args.Path, Namespace: externalNamespace}, nil
			})
			build.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: externalNamespace}, func(args api.OnLoadArgs) (api.OnLoadResult, error) {
				ext, ok := byName[args.Path]
				if !ok {
					return api.OnLoadResult{}, fmt.Errorf("unknown external %q", args.Path)
				}
				contents := proxyModule(ext)
				return api.OnLoadResult{Contents: &contents, Loader: api.LoaderJS}, nil
			})
		},
	}
}

// proxyModule renders the module body for an external. Without an explicit
// export list the global is exposed as a CommonJS module so every named
// import becomes a property read on the global at call time.
func proxyModule(e External) string {
	global := fmt.Sprintf("globalThis[%q]", e.GlobalName)
	if len(e.Exports) == 0 {
		return "module.exports = " + global + ";\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "const __global = %s;\nexport default __global;\n", global)
	for _, name := range e.Exports {
		if name == "default" || !identPattern.MatchString(name) {
			continue
		}
		fmt.Fprintf(&b, "export const %s = __global[%q];\n", name, name)
	}
	return b.String()
}
