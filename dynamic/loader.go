package dynamic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"
)

// Handle is a loaded, wrapped component.
type Handle struct {
	Name      string         `json:"name"`
	Key       string         `json:"key,omitempty"`
	Shape     ComponentShape `json:"shape"`
	LoadedAt  time.Time      `json:"loadedAt"`
	Component Value          `json:"-"`
}

// LoadRequest describes one component load.
type LoadRequest struct {
	Code string `json:"code"`
	Name string `json:"name"`
	// UpdatedAt keys the cache entry. Zero means "now", which makes every
	// call a miss.
	UpdatedAt   time.Time `json:"updatedAt,omitempty"`
	ForceReload bool      `json:"forceReload,omitempty"`
}

// DefaultHostComponents is the building-block dictionary merged into every
// loaded component's components option.
func DefaultHostComponents() map[string]any {
	names := []string{
		"UButton", "UInput", "UTextarea", "USelect", "UCheckbox", "UToggle",
		"UCard", "UBadge", "UModal", "UIcon", "UTable", "UTabs", "UForm",
		"UFormField", "UAlert", "UAvatar", "UDropdownMenu", "UPagination",
		"PermissionGate", "DataTable", "FilterDrawer", "FormEditor", "Widget",
	}
	out := make(map[string]any, len(names))
	for _, n := range names {
		out[n] = map[string]any{"name": n, "__host": true}
	}
	return out
}

// Loader executes compiled extension code and caches the resulting
// components.
type Loader struct {
	cache           *LoaderContext
	sandbox         Sandbox
	newSandbox      func() Sandbox
	framework       func() (string, error)
	frameworkGlobal string
	components      map[string]any
	extra           map[string]any
	actions         *ActionRegistry
	fetcher         *PackageFetcher
	logger          *slog.Logger
	now             func() time.Time

	mu       sync.Mutex
	prepared bool
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLoaderContext shares a cache between loaders.
func WithLoaderContext(c *LoaderContext) LoaderOption {
	return func(l *Loader) { l.cache = c }
}

// WithSandboxFactory sets how sandboxes are created. The loader keeps one for
// cached loads and creates a fresh one for every preview.
func WithSandboxFactory(fn func() Sandbox) LoaderOption {
	return func(l *Loader) { l.newSandbox = fn }
}

// WithFramework sets the source of the framework's global build. The result
// is memoized.
func WithFramework(load func() (string, error)) LoaderOption {
	return func(l *Loader) { l.framework = sync.OnceValues(load) }
}

// WithFrameworkGlobal sets the global name the framework build defines.
func WithFrameworkGlobal(name string) LoaderOption {
	return func(l *Loader) { l.frameworkGlobal = name }
}

// WithHostComponents replaces the building-block dictionary.
func WithHostComponents(c map[string]any) LoaderOption {
	return func(l *Loader) { l.components = c }
}

// WithCapability adds or overrides one injected global.
func WithCapability(name string, v any) LoaderOption {
	return func(l *Loader) { l.extra[name] = v }
}

// WithActionRegistry sets the registry cached components register into.
func WithActionRegistry(r *ActionRegistry) LoaderOption {
	return func(l *Loader) { l.actions = r }
}

// WithPackageFetcher sets the fetcher previews use to prefetch packages.
func WithPackageFetcher(f *PackageFetcher) LoaderOption {
	return func(l *Loader) { l.fetcher = f }
}

// WithLoaderLogger sets the logger.
func WithLoaderLogger(lg *slog.Logger) LoaderOption {
	return func(l *Loader) { l.logger = lg }
}

// WithClock overrides the time source used for version keys.
func WithClock(now func() time.Time) LoaderOption {
	return func(l *Loader) { l.now = now }
}

// NewLoader creates a Loader. Without WithFramework every load fails with a
// framework-unavailable error.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		frameworkGlobal: "Vue",
		components:      DefaultHostComponents(),
		extra:           map[string]any{},
		actions:         NewActionRegistry(),
		logger:          slog.Default(),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.cache == nil {
		l.cache = NewLoaderContext(DefaultMaxCacheSize)
	}
	if l.newSandbox == nil {
		l.newSandbox = func() Sandbox { return NewGojaSandbox(DefaultResourceLimits()) }
	}
	if l.framework == nil {
		l.framework = func() (string, error) { return "", errors.New("no framework build configured") }
	}
	l.sandbox = l.newSandbox()
	return l
}

// Cache returns the loader's cache.
func (l *Loader) Cache() *LoaderContext { return l.cache }

// Actions returns the registry shared by cached components.
func (l *Loader) Actions() *ActionRegistry { return l.actions }

// Load returns the component defined by req.Code under the global req.Name.
// A cached component is returned without executing anything unless
// ForceReload is set. A miss drops every older version of the same name.
func (l *Loader) Load(ctx context.Context, req LoadRequest) (*Handle, error) {
	if req.Name == "" {
		return nil, loadError(errors.New("extension name is required"))
	}
	key := VersionKey(req.Name, req.UpdatedAt, l.now())
	if !req.ForceReload {
		if h, ok := l.cache.lookup(key); ok {
			return h, nil
		}
	}
	l.cache.begin(key)

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.prepared {
		if err := l.prepare(ctx, l.sandbox, l.actions); err != nil {
			l.cache.fail(key)
			return nil, loadError(err)
		}
		l.prepared = true
	}
	h, err := l.execute(ctx, l.sandbox, req.Code, req.Name)
	if err != nil {
		l.cache.fail(key)
		return nil, loadError(err)
	}
	h.Key = key
	l.cache.put(key, h)
	l.logger.Debug("component loaded", "extension", req.Name, "key", key, "shape", h.Shape.String())
	return h, nil
}

// Invalidate drops every cached version of name.
func (l *Loader) Invalidate(name string) int {
	return l.cache.InvalidateName(name)
}

func loadError(err error) error {
	return fmt.Errorf("failed to load component: %w", err)
}

// prepare installs the framework and capability globals into sb.
func (l *Loader) prepare(ctx context.Context, sb Sandbox, sink ActionSink) error {
	src, err := l.framework()
	if err != nil {
		return fmt.Errorf("framework %s is unavailable: %w", l.frameworkGlobal, err)
	}
	fw, err := sb.Execute(ctx, src, l.frameworkGlobal)
	if err != nil {
		return fmt.Errorf("framework %s failed to start: %w", l.frameworkGlobal, err)
	}
	if fw.Kind() != KindObject {
		return fmt.Errorf("framework build did not define %s", l.frameworkGlobal)
	}
	caps := capabilities(l.frameworkGlobal, sink, l.extra)
	names := make([]string, 0, len(caps))
	for name := range caps {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := sb.Define(name, caps[name]); err != nil {
			return err
		}
	}
	return nil
}

// execute runs code in sb, validates the global it defines and wraps it.
func (l *Loader) execute(ctx context.Context, sb Sandbox, code, name string) (*Handle, error) {
	v, err := sb.Execute(ctx, code, name)
	if err != nil {
		return nil, err
	}
	switch v.Kind() {
	case KindObject:
	case KindUndefined, KindNull:
		return nil, missingGlobal(name, sb.Globals())
	default:
		return nil, fmt.Errorf("global %q is a %s, not a component object", name, v.Kind())
	}

	shape := DetectShape(v)
	if shape == ShapeUnknown {
		l.logger.Warn("component has no render function, setup or template", "extension", name)
	}
	if err := l.wrap(v); err != nil {
		return nil, fmt.Errorf("wrap component: %w", err)
	}
	return &Handle{Name: name, Shape: shape, LoadedAt: l.now(), Component: v}, nil
}

// wrap merges the host dictionary under components and opts the object out
// of reactive proxying. The component's own registrations win.
func (l *Loader) wrap(v Value) error {
	merged := make(map[string]any, len(l.components))
	maps.Copy(merged, l.components)
	if own := v.Field("components"); own.Kind() == KindObject {
		for _, k := range own.Keys() {
			merged[k] = own.Field(k)
		}
	}
	if err := v.Set("components", merged); err != nil {
		return err
	}
	return v.Set("__v_skip", true)
}

func missingGlobal(name string, globals []string) error {
	lower := strings.ToLower(name)
	var similar []string
	for _, g := range globals {
		if g != name && strings.HasPrefix(strings.ToLower(g), lower) {
			similar = append(similar, g)
		}
	}
	if len(similar) == 0 {
		return fmt.Errorf("compiled code did not define global %q", name)
	}
	return fmt.Errorf("compiled code did not define global %q; did you mean %s?", name, strings.Join(similar, ", "))
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
