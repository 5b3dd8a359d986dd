package bundler

import (
	"encoding/json"
	"sort"
	"strings"
)

type metafile struct {
	Inputs map[string]struct {
		Bytes int64 `json:"bytes"`
	} `json:"inputs"`
	Outputs map[string]struct {
		Bytes   int64    `json:"bytes"`
		Exports []string `json:"exports"`
	} `json:"outputs"`
}

func parseMetafile(raw string) (*metafile, error) {
	var mf metafile
	if raw == "" {
		return &mf, nil
	}
	if err := json.Unmarshal([]byte(raw), &mf); err != nil {
		return nil, err
	}
	return &mf, nil
}

// packageFromPath extracts the innermost package name from a path that
// passes through node_modules.
func packageFromPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	idx := strings.LastIndex(p, "node_modules/")
	if idx < 0 {
		return ""
	}
	parts := strings.Split(p[idx+len("node_modules/"):], "/")
	if len(parts) == 0 || parts[0] == "" {
		return ""
	}
	if strings.HasPrefix(parts[0], "@") {
		if len(parts) < 2 {
			return ""
		}
		return parts[0] + "/" + parts[1]
	}
	return parts[0]
}

// inputPackages lists the packages the bundle inlined, other than target
// and anything skip rejects.
func (mf *metafile) inputPackages(target string, skip func(string) bool) []string {
	seen := map[string]struct{}{}
	for input := range mf.Inputs {
		name := packageFromPath(input)
		if name == "" || name == target || (skip != nil && skip(name)) {
			continue
		}
		seen[name] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (mf *metafile) exports() []string {
	var out []string
	for _, o := range mf.Outputs {
		out = append(out, o.Exports...)
	}
	sort.Strings(out)
	return out
}

func mergeNames(groups ...[]string) []string {
	seen := map[string]struct{}{}
	var merged []string
	for _, group := range groups {
		for _, name := range group {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			merged = append(merged, name)
		}
	}
	return merged
}
