package dynamic

import (
	"encoding/json"
	"fmt"
	"maps"
	"sync"

	"github.com/enfyra/app/filter"
)

// FrameworkBindings are the reactivity primitives and lifecycle hooks
// re-exported from the framework global as free variables.
var FrameworkBindings = []string{
	"ref", "reactive", "computed", "readonly", "watch", "watchEffect",
	"toRef", "toRefs", "unref", "isRef", "markRaw", "shallowRef",
	"onBeforeMount", "onMounted", "onBeforeUpdate", "onUpdated",
	"onBeforeUnmount", "onUnmounted", "nextTick", "h", "defineComponent",
	"resolveComponent", "provide", "inject",
}

// Host composable names. Server-side they are stand-ins: the browser shell
// provides the real implementations under the same names.
const (
	CapUseAPI             = "useApi"
	CapUseState           = "useState"
	CapUseRouter          = "useRouter"
	CapUseRoute           = "useRoute"
	CapUseToast           = "useToast"
	CapUsePermissions     = "usePermissions"
	CapUseHeaderActions   = "useHeaderActionRegistry"
	CapUseSubHeaderAction = "useSubHeaderActionRegistry"
	CapGetPackages        = "getPackages"
	CapUseFilterQuery     = "useFilterQuery"
)

// packagesGlobal holds the packages prefetched for a preview.
const packagesGlobal = "__enfyraPackages"

// capabilities builds the globals injected before extension code runs.
// actions receives header registrations.
func capabilities(framework string, actions ActionSink, extra map[string]any) map[string]any {
	caps := make(map[string]any, len(FrameworkBindings)+16)
	for _, name := range FrameworkBindings {
		caps[name] = Expr("(globalThis[" + jsString(framework) + "] || {})." + name)
	}

	var stateMu sync.Mutex
	state := map[string]any{}
	caps[CapUseState] = func(key string, init any) map[string]any {
		stateMu.Lock()
		defer stateMu.Unlock()
		if _, ok := state[key]; !ok {
			state[key] = init
		}
		return map[string]any{"value": state[key]}
	}
	caps[CapUseAPI] = func(path string, opts map[string]any) map[string]any {
		return map[string]any{
			"data":    nil,
			"error":   nil,
			"pending": false,
			"execute": func() any { return nil },
		}
	}
	caps[CapUseRouter] = func() map[string]any {
		noop := func(any) any { return nil }
		return map[string]any{"push": noop, "replace": noop, "back": func() {}}
	}
	caps[CapUseRoute] = func() map[string]any {
		return map[string]any{"path": "/", "params": map[string]any{}, "query": map[string]any{}}
	}
	caps[CapUseToast] = func() map[string]any {
		return map[string]any{"add": func(map[string]any) {}}
	}
	caps[CapUsePermissions] = func() map[string]any {
		return map[string]any{
			"hasPermission":            func(...any) bool { return true },
			"checkPermissionCondition": func(any) bool { return true },
		}
	}
	caps[CapUseHeaderActions] = registryComposable(actions, ActionHeader)
	caps[CapUseSubHeaderAction] = registryComposable(actions, ActionSubHeader)
	caps[CapUseFilterQuery] = filterComposable
	caps[CapGetPackages] = Expr("function () { return Object.assign({}, globalThis." + packagesGlobal + "); }")

	maps.Copy(caps, extra)
	return caps
}

func registryComposable(sink ActionSink, kind string) func() map[string]any {
	return func() map[string]any {
		return map[string]any{
			"register": func(actions ...map[string]any) {
				for _, a := range actions {
					sink.Register(kind, a)
				}
			},
			"unregister": func(id string) {
				sink.Unregister(kind, id)
			},
		}
	}
}

// filterComposable exposes the filter builder over plain JS objects.
// Objects that do not decode as a filter group throw in the caller.
func filterComposable() map[string]any {
	return map[string]any{
		"createEmptyFilter": func() map[string]any {
			return toObject(filter.NewGroup(filter.And))
		},
		"buildQuery": func(obj map[string]any) (map[string]any, error) {
			g, err := toGroup(obj)
			if err != nil {
				return nil, err
			}
			return filter.BuildQuery(g), nil
		},
		"hasActiveFilters": func(obj map[string]any) (bool, error) {
			g, err := toGroup(obj)
			if err != nil {
				return false, err
			}
			return g.HasActive(), nil
		},
		"encodeFilterToUrl": func(obj map[string]any) (string, error) {
			g, err := toGroup(obj)
			if err != nil {
				return "", err
			}
			return filter.EncodeToURL(g)
		},
		"parseFilterFromUrl": func(s string) map[string]any {
			g, err := filter.ParseFromURL(s)
			if err != nil {
				return nil
			}
			return toObject(g)
		},
	}
}

func toGroup(obj map[string]any) (*filter.Group, error) {
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("filter group: %w", err)
	}
	g := filter.NewGroup(filter.And)
	if err := json.Unmarshal(data, g); err != nil {
		return nil, fmt.Errorf("filter group: %w", err)
	}
	return g, nil
}

func toObject(g *filter.Group) map[string]any {
	var out map[string]any
	if data, err := json.Marshal(g); err == nil {
		_ = json.Unmarshal(data, &out)
	}
	return out
}
