package bundler

import (
	"regexp"
	"strings"
)

var trailingExport = regexp.MustCompile(`export\s*\{([^}]*)\}\s*;?\s*$`)

// NormalizeExports rewrites a trailing `export { a, b as c }` statement into
// `export default { a, c: b }` and returns the exported names. A lone
// `export { x as default }` becomes `export default x`. Code without a
// trailing export list is returned unchanged.
func NormalizeExports(code string) (string, []string) {
	trimmed := strings.TrimRight(code, " \t\r\n")
	loc := trailingExport.FindStringSubmatchIndex(trimmed)
	if loc == nil {
		return code, nil
	}
	list := trimmed[loc[2]:loc[3]]

	var (
		fields []string
		names  []string
	)
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		local, exported := item, item
		if parts := strings.Fields(item); len(parts) == 3 && parts[1] == "as" {
			local, exported = parts[0], parts[2]
		}
		names = append(names, exported)
		if local == exported {
			fields = append(fields, local)
		} else {
			fields = append(fields, exported+": "+local)
		}
	}

	head := trimmed[:loc[0]]
	if len(names) == 1 && names[0] == "default" {
		return head + "export default " + strings.TrimPrefix(fields[0], "default: ") + ";\n", names
	}
	return head + "export default { " + strings.Join(fields, ", ") + " };\n", names
}
