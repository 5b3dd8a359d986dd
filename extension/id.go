package extension

import (
	"regexp"

	"github.com/google/uuid"
)

var idPattern = regexp.MustCompile(`^extension_[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// NewID returns a fresh extension identifier.
func NewID() string {
	return "extension_" + uuid.NewString()
}

// ValidID reports whether id has the extension_<uuid-v4> form.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// EnsureID returns v when it is a well-formed identifier and a new one
// otherwise.
func EnsureID(v any) string {
	if s, ok := v.(string); ok && ValidID(s) {
		return s
	}
	return NewID()
}
