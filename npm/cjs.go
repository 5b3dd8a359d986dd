package npm

import "regexp"

var (
	commonJSPattern = regexp.MustCompile(`\bmodule\.exports\b|\bexports\.[A-Za-z_$][\w$]*\s*=`)
	esmPattern      = regexp.MustCompile(`(?m)^\s*(export\s|import\s)`)
)

// IsCommonJS reports whether source assigns module.exports or exports.x and
// carries no top-level ESM syntax.
func IsCommonJS(source string) bool {
	return commonJSPattern.MatchString(source) && !esmPattern.MatchString(source)
}

// WrapCommonJS turns a CommonJS module body into an ES module whose default
// export is module.exports. ES modules are returned unchanged.
func WrapCommonJS(source string) string {
	if !IsCommonJS(source) {
		return source
	}
	return "const module = { exports: {} };\nconst exports = module.exports;\n" +
		source +
		"\nexport default module.exports;\n"
}
