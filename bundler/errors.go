package bundler

import (
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// BuildError carries the messages of a failed esbuild run.
type BuildError struct {
	Messages []api.Message
}

func (e *BuildError) Error() string {
	if len(e.Messages) == 0 {
		return "build failed"
	}
	texts := make([]string, 0, 3)
	for i, m := range e.Messages {
		if i == 3 {
			break
		}
		text := m.Text
		if m.Location != nil {
			text = m.Location.File + ": " + text
		}
		texts = append(texts, text)
	}
	return strings.Join(texts, "; ")
}

// BuildErrorOf returns a BuildError when res failed, nil otherwise.
func BuildErrorOf(res api.BuildResult) error {
	if len(res.Errors) == 0 {
		return nil
	}
	return &BuildError{Messages: res.Errors}
}
