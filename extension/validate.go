// Package extension validates and compiles authored extension source into
// browser-ready scripts.
package extension

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/enfyra/app/apperr"
)

// ValidationError is a client error describing the first structural problem
// found in extension source.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func invalid(reason string) error {
	return &apperr.Error{Status: http.StatusBadRequest, Message: "invalid extension source", Err: &ValidationError{Reason: reason}}
}

var sfcBlocks = []string{"template", "script", "style"}

var (
	scriptBody = regexp.MustCompile(`(?s)<script\b[^>]*>(.*?)</script>`)
	openTag    = map[string]*regexp.Regexp{}
	closeTag   = map[string]*regexp.Regexp{}
)

func init() {
	for _, b := range sfcBlocks {
		openTag[b] = regexp.MustCompile(`<` + b + `(\s[^>]*)?>`)
		closeTag[b] = regexp.MustCompile(`</` + b + `\s*>`)
	}
}

// AssertValidSFC checks single-file-component markup. Opening and closing
// tag counts must match for each block, a template or script must exist, and
// a script that says "export default" must also contain "{".
func AssertValidSFC(text string) error {
	present := map[string]bool{}
	for _, b := range sfcBlocks {
		opens := len(openTag[b].FindAllStringIndex(text, -1))
		closes := len(closeTag[b].FindAllStringIndex(text, -1))
		if opens != closes {
			return invalid(fmt.Sprintf("unbalanced tags: <%s> opened %d times but closed %d times", b, opens, closes))
		}
		present[b] = opens > 0
	}
	if !present["template"] && !present["script"] {
		return invalid("component must contain a <template> or <script> block")
	}
	if present["script"] {
		for _, m := range scriptBody.FindAllStringSubmatch(text, -1) {
			body := m[1]
			if strings.Contains(body, "export default") && !strings.Contains(body, "{") {
				return invalid("incomplete default export in <script> block")
			}
		}
	}
	return nil
}

// AssertValidJSBundle checks raw JavaScript bundles. Brackets must balance,
// some export mechanism must exist, and a "function(" must have a closing
// paren somewhere.
func AssertValidJSBundle(text string) error {
	pairs := []struct{ open, close rune }{{'(', ')'}, {'[', ']'}, {'{', '}'}}
	for _, p := range pairs {
		if strings.Count(text, string(p.open)) != strings.Count(text, string(p.close)) {
			return invalid("unbalanced brackets: " + string(p.open) + " and " + string(p.close) + " counts differ")
		}
	}
	if !strings.Contains(text, "export") && !strings.Contains(text, "module.exports") && !strings.Contains(text, "window.") {
		return invalid("bundle has no export mechanism (export, module.exports or window.)")
	}
	if strings.Contains(text, "function(") && !strings.Contains(text, ")") {
		return invalid("incomplete function declaration")
	}
	return nil
}

// LooksLikeSFC reports whether text has at least one opening and one
// closing SFC block tag.
func LooksLikeSFC(text string) bool {
	hasOpen, hasClose := false, false
	for _, b := range sfcBlocks {
		if openTag[b].MatchString(text) {
			hasOpen = true
		}
		if closeTag[b].MatchString(text) {
			hasClose = true
		}
	}
	return hasOpen && hasClose
}
