package dynamic

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/enfyra/app/config"
)

const fakeFramework = `var Vue = {
  ref: function (v) { return { value: v }; },
  h: function (tag) { return { tag: tag }; }
};`

func componentCode(name string) string {
	return fmt.Sprintf(`globalThis.__runs = (globalThis.__runs || 0) + 1;
globalThis[%q] = { name: %q, render: function () { return h("div"); } };`, name, name)
}

func newTestLoader(t *testing.T, opts ...LoaderOption) *Loader {
	t.Helper()
	base := []LoaderOption{WithFramework(func() (string, error) { return fakeFramework, nil })}
	return NewLoader(append(base, opts...)...)
}

func mustLoad(t *testing.T, l *Loader, req LoadRequest) *Handle {
	t.Helper()
	h, err := l.Load(context.Background(), req)
	if err != nil {
		t.Fatalf("Load(%s): %v", req.Name, err)
	}
	return h
}

func TestLoadCacheHit(t *testing.T) {
	l := newTestLoader(t)
	updated, _ := time.Parse(time.RFC3339, "2024-01-01T00:00:00Z")
	req := LoadRequest{Code: componentCode("Foo"), Name: "Foo", UpdatedAt: updated}

	first := mustLoad(t, l, req)
	second := mustLoad(t, l, req)
	if first != second {
		t.Error("second load should return the cached handle")
	}
	stats := l.Cache().Stats()
	if stats.Misses != 1 || stats.Hits != 1 {
		t.Errorf("misses=%d hits=%d, want 1 and 1", stats.Misses, stats.Hits)
	}
	if want := "Foo:1704067200000"; first.Key != want {
		t.Errorf("key = %q, want %q", first.Key, want)
	}
	if got := l.Cache().State(first.Key); got != StateReady {
		t.Errorf("state = %s, want ready", got)
	}
}

func TestLoadForceReloadExecutesAgain(t *testing.T) {
	l := newTestLoader(t)
	req := LoadRequest{Code: componentCode("Foo"), Name: "Foo", UpdatedAt: time.UnixMilli(1000)}
	first := mustLoad(t, l, req)
	req.ForceReload = true
	second := mustLoad(t, l, req)
	if first == second {
		t.Error("forced reload should produce a new handle")
	}
	if stats := l.Cache().Stats(); stats.Misses != 2 || stats.Size != 1 {
		t.Errorf("stats = %+v, want 2 misses and 1 entry", stats)
	}
}

func TestLoadWithoutTimestampMisses(t *testing.T) {
	tick := int64(0)
	l := newTestLoader(t, WithClock(func() time.Time {
		tick++
		return time.UnixMilli(tick)
	}))
	mustLoad(t, l, LoadRequest{Code: componentCode("Foo"), Name: "Foo"})
	mustLoad(t, l, LoadRequest{Code: componentCode("Foo"), Name: "Foo"})
	if stats := l.Cache().Stats(); stats.Hits != 0 || stats.Misses != 2 {
		t.Errorf("stats = %+v, want every call to miss", stats)
	}
}

func TestNewVersionReplacesOld(t *testing.T) {
	l := newTestLoader(t)
	mustLoad(t, l, LoadRequest{Code: componentCode("Foo"), Name: "Foo", UpdatedAt: time.UnixMilli(1)})
	mustLoad(t, l, LoadRequest{Code: componentCode("Foobar"), Name: "Foobar", UpdatedAt: time.UnixMilli(1)})
	mustLoad(t, l, LoadRequest{Code: componentCode("Foo"), Name: "Foo", UpdatedAt: time.UnixMilli(2)})

	keys := l.Cache().Stats().Keys
	for _, k := range keys {
		if k == "Foo:1" {
			t.Fatalf("stale version still cached: %v", keys)
		}
	}
	if len(keys) != 2 || keys[0] != "Foobar:1" || keys[1] != "Foo:2" {
		t.Errorf("keys = %v, want [Foobar:1 Foo:2]", keys)
	}
}

func TestCacheBound(t *testing.T) {
	l := newTestLoader(t)
	for i := 0; i < DefaultMaxCacheSize+1; i++ {
		name := fmt.Sprintf("Ext%d", i)
		mustLoad(t, l, LoadRequest{Code: componentCode(name), Name: name, UpdatedAt: time.UnixMilli(1)})
	}
	stats := l.Cache().Stats()
	if stats.Size != DefaultMaxCacheSize {
		t.Fatalf("size = %d, want %d", stats.Size, DefaultMaxCacheSize)
	}
	if stats.Keys[0] != "Ext1:1" {
		t.Errorf("oldest key = %s, want Ext1:1 (Ext0 evicted)", stats.Keys[0])
	}
}

func TestLoaderContextClear(t *testing.T) {
	c := NewLoaderContext(2)
	c.begin("a:1")
	c.put("a:1", &Handle{Name: "a"})
	c.lookup("a:1")
	c.Clear()
	stats := c.Stats()
	if stats.Size != 0 || stats.Hits != 0 || stats.Misses != 0 {
		t.Errorf("stats after clear = %+v", stats)
	}
	if got := c.State("a:1"); got != StateIdle {
		t.Errorf("state = %s, want idle", got)
	}
}

func TestLoadMissingGlobal(t *testing.T) {
	l := newTestLoader(t)
	_, err := l.Load(context.Background(), LoadRequest{
		Code: `globalThis.FooWidget = { render: function () {} };`,
		Name: "Foo",
	})
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	if !strings.HasPrefix(msg, "failed to load component: ") {
		t.Errorf("error %q lacks the load prefix", msg)
	}
	if !strings.Contains(msg, "did you mean FooWidget") {
		t.Errorf("error %q lacks the suggestion", msg)
	}
	if stats := l.Cache().Stats(); stats.Size != 0 {
		t.Errorf("failed load was cached")
	}
}

func TestLoadRejectsNonObject(t *testing.T) {
	l := newTestLoader(t)
	_, err := l.Load(context.Background(), LoadRequest{Code: `globalThis.Foo = 42;`, Name: "Foo"})
	if err == nil || !strings.Contains(err.Error(), "not a component object") {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadScriptError(t *testing.T) {
	l := newTestLoader(t)
	_, err := l.Load(context.Background(), LoadRequest{Code: `throw new Error("boom")`, Name: "Foo"})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("err = %v, want original message", err)
	}
}

func TestLoadWithoutFramework(t *testing.T) {
	l := NewLoader()
	_, err := l.Load(context.Background(), LoadRequest{Code: componentCode("Foo"), Name: "Foo"})
	if err == nil || !strings.Contains(err.Error(), "framework Vue is unavailable") {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadWrapsComponent(t *testing.T) {
	l := newTestLoader(t)
	h := mustLoad(t, l, LoadRequest{
		Code: `globalThis.Foo = { template: "<div/>", components: { MyChild: { name: "MyChild" } } };`,
		Name: "Foo",
	})
	if h.Shape != ShapeTemplateString {
		t.Errorf("shape = %s, want template", h.Shape)
	}
	comps := h.Component.Field("components")
	for _, name := range []string{"UButton", "PermissionGate", "MyChild"} {
		if comps.Field(name).Kind() != KindObject {
			t.Errorf("components.%s missing", name)
		}
	}
	if skip, _ := h.Component.Field("__v_skip").Export().(bool); !skip {
		t.Error("component not marked to skip reactivity")
	}
}

func TestLoadWindowAssignedBundle(t *testing.T) {
	l := newTestLoader(t)
	for _, code := range []string{
		`window.Foo = { render() { return h("div"); } };`,
		`self.Foo = { setup() {} };`,
	} {
		l.Cache().Clear()
		h, err := l.Load(context.Background(), LoadRequest{Code: code, Name: "Foo"})
		if err != nil {
			t.Fatalf("Load(%q): %v", code, err)
		}
		if h.Shape == ShapeUnknown {
			t.Errorf("Load(%q) shape = %s", code, h.Shape)
		}
	}
}

func TestDetectShape(t *testing.T) {
	sb := NewGojaSandbox(DefaultResourceLimits())
	tests := []struct {
		code string
		want ComponentShape
	}{
		{`globalThis.C = { render: function () {} }`, ShapeRenderFunction},
		{`globalThis.C = { setup: function () {} }`, ShapeSetupFunction},
		{`globalThis.C = { template: "<p/>" }`, ShapeTemplateString},
		{`globalThis.C = { data: function () { return {}; } }`, ShapeUnknown},
	}
	for _, tt := range tests {
		v, err := sb.Execute(context.Background(), tt.code, "C")
		if err != nil {
			t.Fatalf("Execute(%s): %v", tt.code, err)
		}
		if got := DetectShape(v); got != tt.want {
			t.Errorf("DetectShape(%s) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestUnknownShapeStillLoads(t *testing.T) {
	l := newTestLoader(t)
	h := mustLoad(t, l, LoadRequest{Code: `globalThis.Foo = { name: "x" };`, Name: "Foo"})
	if h.Shape != ShapeUnknown {
		t.Errorf("shape = %s", h.Shape)
	}
}

func TestCapabilitiesInjected(t *testing.T) {
	l := newTestLoader(t)
	h := mustLoad(t, l, LoadRequest{
		Code: `useHeaderActionRegistry().register({ id: "save", label: "Save" });
globalThis.Foo = { count: ref(3).value, setup: function () {} };`,
		Name: "Foo",
	})
	if got := h.Component.Field("count").Export(); fmt.Sprint(got) != "3" {
		t.Errorf("count = %v, want 3", got)
	}
	if got := l.Actions().Actions(ActionHeader); len(got) != 1 || got[0]["label"] != "Save" {
		t.Errorf("header actions = %v", got)
	}
}

func TestFilterCapability(t *testing.T) {
	l := newTestLoader(t)
	h := mustLoad(t, l, LoadRequest{
		Code: `var f = useFilterQuery();
var group = { id: "g", operator: "and", conditions: [{ id: "c", field: "author.country", operator: "_eq", value: "US" }] };
var round = f.parseFilterFromUrl(f.encodeFilterToUrl(group));
globalThis.Foo = {
  setup: function () {},
  query: JSON.stringify(f.buildQuery(round)),
  active: f.hasActiveFilters(f.createEmptyFilter()),
};`,
		Name: "Foo",
	})
	if got := h.Component.Field("query").Export(); got != `{"author":{"country":{"_eq":"US"}}}` {
		t.Errorf("query = %v", got)
	}
	if got := h.Component.Field("active").Export(); got != false {
		t.Errorf("empty filter active = %v", got)
	}
}

func TestFilterCapabilityRejectsMalformedGroup(t *testing.T) {
	l := newTestLoader(t)
	h := mustLoad(t, l, LoadRequest{
		Code: `var f = useFilterQuery();
var caught = [];
["buildQuery", "hasActiveFilters", "encodeFilterToUrl"].forEach(function (fn) {
  try { f[fn]({ operator: "and", conditions: 5 }); } catch (e) { caught.push(fn + ": " + e); }
});
globalThis.Foo = { setup: function () {}, caught: caught.join("\n") };`,
		Name: "Foo",
	})
	caught, _ := h.Component.Field("caught").Export().(string)
	for _, fn := range []string{"buildQuery", "hasActiveFilters", "encodeFilterToUrl"} {
		if !strings.Contains(caught, fn+": ") || !strings.Contains(caught, "filter group") {
			t.Errorf("%s did not throw for a malformed group; caught = %q", fn, caught)
		}
	}
}

func TestSandboxTimeout(t *testing.T) {
	sb := NewGojaSandbox(ResourceLimits{MaxExecutionTime: 50 * time.Millisecond})
	_, err := sb.Execute(context.Background(), `while (true) {}`, "X")
	if err == nil || !strings.Contains(err.Error(), "interrupted") {
		t.Fatalf("err = %v, want interruption", err)
	}
	if _, err := sb.Execute(context.Background(), `globalThis.X = {}`, "X"); err != nil {
		t.Fatalf("sandbox unusable after interrupt: %v", err)
	}
}

func TestSandboxRepeatedTimeouts(t *testing.T) {
	sb := NewGojaSandbox(ResourceLimits{MaxExecutionTime: 20 * time.Millisecond})
	for i := 0; i < 20; i++ {
		if _, err := sb.Execute(context.Background(), `while (true) {}`, "X"); err == nil {
			t.Fatal("expected interruption")
		}
		if _, err := sb.Execute(context.Background(), `globalThis.X = {}`, "X"); err != nil {
			t.Fatalf("run %d: interrupt leaked into next script: %v", i, err)
		}
	}
}

func TestSandboxCodeSizeLimit(t *testing.T) {
	sb := NewGojaSandbox(ResourceLimits{MaxCodeSize: 10})
	if _, err := sb.Execute(context.Background(), `globalThis.X = { a: 1 };`, "X"); err == nil {
		t.Fatal("expected size limit error")
	}
}

func TestSandboxRemovesStaleGlobal(t *testing.T) {
	sb := NewGojaSandbox(DefaultResourceLimits())
	if _, err := sb.Execute(context.Background(), `globalThis.X = {}`, "X"); err != nil {
		t.Fatal(err)
	}
	v, err := sb.Execute(context.Background(), `var unrelated = 1;`, "X")
	if err != nil {
		t.Fatal(err)
	}
	if v.Kind() != KindUndefined {
		t.Errorf("stale global survived: %s", v.Kind())
	}
}

func TestParseResourceLimitsFromConfig(t *testing.T) {
	limits := ParseResourceLimitsFromConfig(config.SandboxSection{
		MaxExecutionTime: 2 * time.Second,
		MaxCodeSize:      1024,
	})
	if limits.MaxExecutionTime != 2*time.Second || limits.MaxCodeSize != 1024 {
		t.Errorf("limits = %+v", limits)
	}
	if limits.MaxCallStackSize != DefaultResourceLimits().MaxCallStackSize {
		t.Error("unset fields should keep defaults")
	}
}

func TestConfiguredCallStackSize(t *testing.T) {
	cfg, err := config.Parse([]byte("sandbox:\n  max_call_stack_size: 64\n"))
	if err != nil {
		t.Fatal(err)
	}
	limits := ParseResourceLimitsFromConfig(cfg.Sandbox)
	if limits.MaxCallStackSize != 64 {
		t.Fatalf("MaxCallStackSize = %d, want 64", limits.MaxCallStackSize)
	}
	sb := NewGojaSandbox(limits)
	_, err = sb.Execute(context.Background(), `function f(n) { return n === 0 ? 0 : 1 + f(n - 1); } globalThis.X = { depth: f(500) };`, "X")
	if err == nil {
		t.Fatal("recursion past the configured stack size should fail")
	}
}