package bundler

import (
	"regexp"
	"sort"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

var nodeBuiltins = []string{
	"assert", "buffer", "child_process", "cluster", "crypto", "dgram", "dns",
	"events", "fs", "http", "http2", "https", "module", "net", "os", "path",
	"perf_hooks", "process", "querystring", "readline", "stream",
	"string_decoder", "timers", "tls", "tty", "url", "util", "vm",
	"worker_threads", "zlib",
}

var (
	builtinFilter  = `^(node:)?(` + strings.Join(nodeBuiltins, "|") + `)(/.*)?$`
	builtinPattern = regexp.MustCompile(`"(?:node:)?(` + strings.Join(nodeBuiltins, "|") + `)(?:/[^"]*)?"`)
)

const shimNamespace = "node-builtin-shim"

// nodeShim defines no-op stand-ins for the Node globals browser bundles
// most often reference.
const nodeShim = `var process = globalThis.process || { env: { NODE_ENV: "production" }, browser: true, argv: [], version: "", versions: {}, platform: "browser", cwd: function () { return "/"; }, nextTick: function (fn) { var args = Array.prototype.slice.call(arguments, 1); Promise.resolve().then(function () { fn.apply(null, args); }); } };
var Buffer = globalThis.Buffer || { isBuffer: function () { return false; }, from: function () { throw new Error("Buffer is not available in this environment"); }, alloc: function () { throw new Error("Buffer is not available in this environment"); } };
var global = globalThis;
var setImmediate = globalThis.setImmediate || function (fn) { var args = Array.prototype.slice.call(arguments, 1); return setTimeout(function () { fn.apply(null, args); }, 0); };
var clearImmediate = globalThis.clearImmediate || function (id) { clearTimeout(id); };
`

// nodeBuiltinStubs resolves every Node built-in import to an empty module.
func nodeBuiltinStubs() api.Plugin {
	return api.Plugin{
		Name: "node-builtin-stubs",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: builtinFilter}, func(args api.OnResolveArgs) (api.OnResolveResult, error) {
				return api.OnResolveResult{Path: args.Path, Namespace: shimNamespace}, nil
			})
			build.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: shimNamespace}, func(api.OnLoadArgs) (api.OnLoadResult, error) {
				contents := "module.exports = {};\n"
				return api.OnLoadResult{Contents: &contents, Loader: api.LoaderJS}, nil
			})
		},
	}
}

// builtinWarnings lists the Node built-ins named in build messages.
func builtinWarnings(msgs []api.Message) []string {
	seen := map[string]struct{}{}
	for _, m := range msgs {
		texts := []string{m.Text}
		for _, n := range m.Notes {
			texts = append(texts, n.Text)
		}
		for _, text := range texts {
			for _, match := range builtinPattern.FindAllStringSubmatch(text, -1) {
				seen[match[1]] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, `uses Node built-in module "`+name+`"; stubbed for the browser`)
	}
	sort.Strings(out)
	return out
}
