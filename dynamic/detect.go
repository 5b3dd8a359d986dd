package dynamic

import (
	"regexp"
	"strings"
)

var getPackagesPattern = regexp.MustCompile(`(?:const|let|var)\s*\{([^}]*)\}\s*=\s*(?:await\s+)?getPackages\s*\([^)]*\)`)

// DetectReferencedPackages lists the package names destructured from
// getPackages() calls in source, in order of first appearance. Only literal
// object patterns are recognized; computed keys and indirect access are
// missed.
func DetectReferencedPackages(source string) []string {
	seen := map[string]bool{}
	var names []string
	for _, m := range getPackagesPattern.FindAllStringSubmatch(source, -1) {
		for _, entry := range strings.Split(m[1], ",") {
			entry = strings.TrimSpace(entry)
			if entry == "" || strings.HasPrefix(entry, "...") || strings.HasPrefix(entry, "[") {
				continue
			}
			if i := strings.IndexAny(entry, ":="); i >= 0 {
				entry = strings.TrimSpace(entry[:i])
			}
			entry = strings.Trim(entry, `"'`)
			if entry != "" && !seen[entry] {
				seen[entry] = true
				names = append(names, entry)
			}
		}
	}
	return names
}
