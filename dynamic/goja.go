package dynamic

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dop251/goja"
)

// GojaSandbox is a Sandbox backed by an embedded ECMAScript runtime. Calls
// are serialized; a runtime is not safe for concurrent use.
type GojaSandbox struct {
	mu     sync.Mutex
	vm     *goja.Runtime
	limits ResourceLimits
	// builtins are the globals present before anything was defined.
	builtins map[string]bool
}

// NewGojaSandbox creates a sandbox with the given limits.
func NewGojaSandbox(limits ResourceLimits) *GojaSandbox {
	vm := goja.New()
	if limits.MaxCallStackSize > 0 {
		vm.SetMaxCallStackSize(limits.MaxCallStackSize)
	}
	// Browser bundles assign through window or self.
	for _, alias := range []string{"window", "self"} {
		_ = vm.Set(alias, vm.GlobalObject())
	}
	s := &GojaSandbox{vm: vm, limits: limits, builtins: map[string]bool{}}
	for _, k := range vm.GlobalObject().Keys() {
		s.builtins[k] = true
	}
	return s
}

func (s *GojaSandbox) Define(name string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	jv, err := s.toJS(v)
	if err != nil {
		return fmt.Errorf("define %s: %w", name, err)
	}
	return s.vm.GlobalObject().Set(name, jv)
}

func (s *GojaSandbox) Execute(ctx context.Context, code, globalName string) (Value, error) {
	if s.limits.MaxCodeSize > 0 && len(code) > s.limits.MaxCodeSize {
		return nil, fmt.Errorf("compiled code is %d bytes, limit is %d", len(code), s.limits.MaxCodeSize)
	}
	if s.limits.MaxExecutionTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.limits.MaxExecutionTime)
		defer cancel()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		s.vm.Interrupt(ctx.Err())
		close(fired)
	})
	defer func() {
		// An interrupt still in flight would hit the next script.
		if !stop() {
			<-fired
		}
		s.vm.ClearInterrupt()
	}()

	global := s.vm.GlobalObject()
	if err := global.Delete(globalName); err != nil {
		// var-declared globals are not configurable
		_ = global.Set(globalName, goja.Undefined())
	}
	if _, err := s.vm.RunScript(globalName+".js", code); err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, fmt.Errorf("execution interrupted: %v", interrupted.Value())
		}
		return nil, err
	}
	return &gojaValue{s: s, v: global.Get(globalName)}, nil
}

func (s *GojaSandbox) Globals() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	global := s.vm.GlobalObject()
	for _, k := range global.Keys() {
		if v := global.Get(k); !s.builtins[k] && v != nil && !goja.IsUndefined(v) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// toJS converts a Go value for the runtime. Callers hold s.mu.
func (s *GojaSandbox) toJS(v any) (goja.Value, error) {
	switch x := v.(type) {
	case nil:
		return goja.Null(), nil
	case *gojaValue:
		return x.raw(), nil
	case Expr:
		return s.vm.RunString("(" + string(x) + ")")
	case map[string]any:
		obj := s.vm.NewObject()
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			jv, err := s.toJS(x[k])
			if err != nil {
				return nil, err
			}
			if err := obj.Set(k, jv); err != nil {
				return nil, err
			}
		}
		return obj, nil
	default:
		return s.vm.ToValue(v), nil
	}
}

type gojaValue struct {
	s *GojaSandbox
	v goja.Value
}

func (g *gojaValue) raw() goja.Value {
	if g.v == nil {
		return goja.Undefined()
	}
	return g.v
}

func (g *gojaValue) Kind() Kind {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	return g.kind()
}

func (g *gojaValue) kind() Kind {
	v := g.raw()
	switch {
	case goja.IsUndefined(v):
		return KindUndefined
	case goja.IsNull(v):
		return KindNull
	}
	if obj, ok := v.(*goja.Object); ok {
		if _, isFn := goja.AssertFunction(obj); isFn {
			return KindFunction
		}
		return KindObject
	}
	if _, ok := v.Export().(string); ok {
		return KindString
	}
	return KindOther
}

func (g *gojaValue) object() *goja.Object {
	obj, _ := g.raw().(*goja.Object)
	return obj
}

func (g *gojaValue) Field(name string) Value {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	obj := g.object()
	if obj == nil {
		return &gojaValue{s: g.s}
	}
	return &gojaValue{s: g.s, v: obj.Get(name)}
}

func (g *gojaValue) Keys() []string {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	if obj := g.object(); obj != nil {
		return obj.Keys()
	}
	return nil
}

func (g *gojaValue) Set(name string, v any) error {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	obj := g.object()
	if obj == nil {
		return fmt.Errorf("cannot set %q on %s", name, g.kind())
	}
	jv, err := g.s.toJS(v)
	if err != nil {
		return err
	}
	return obj.Set(name, jv)
}

func (g *gojaValue) Export() any {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	return g.raw().Export()
}
