package dynamic

import (
	"fmt"
	"slices"
	"sync"
)

// Action kinds accepted by the registration composables.
const (
	ActionHeader    = "header"
	ActionSubHeader = "subHeader"
)

// ActionSink receives UI actions registered by extension code.
type ActionSink interface {
	Register(kind string, action map[string]any)
	Unregister(kind, id string)
}

// ActionRegistry is an in-memory ActionSink. The loader shares one registry
// across all cached components; each preview gets a fresh one.
type ActionRegistry struct {
	mu      sync.Mutex
	actions map[string][]map[string]any
}

// NewActionRegistry creates an empty registry.
func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{actions: make(map[string][]map[string]any)}
}

// Register adds action, replacing an existing action with the same id.
func (r *ActionRegistry) Register(kind string, action map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := actionID(action)
	list := r.actions[kind]
	if id != "" {
		list = slices.DeleteFunc(list, func(a map[string]any) bool { return actionID(a) == id })
	}
	r.actions[kind] = append(list, action)
}

// Unregister removes the action with id.
func (r *ActionRegistry) Unregister(kind, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[kind] = slices.DeleteFunc(r.actions[kind], func(a map[string]any) bool { return actionID(a) == id })
}

// Actions returns a copy of the actions registered under kind.
func (r *ActionRegistry) Actions(kind string) []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.actions[kind])
}

func actionID(a map[string]any) string {
	if v, ok := a["id"]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}
