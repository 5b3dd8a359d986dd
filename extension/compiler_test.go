package extension

import (
	"context"
	"net/http"
	"os"
	"strings"
	"testing"

	"github.com/dop251/goja"
	"github.com/enfyra/app/apperr"
	"github.com/enfyra/app/npm"
)

type fakeSFC struct {
	calls int
	err   error
}

func (f *fakeSFC) Transform(filename, source, scopeID string) (*SFCOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := &SFCOutput{
		Code: "import { h } from \"vue\";\nexport default { name: \"Fake\", scope: \"" + scopeID + "\", render() { return h(\"div\"); } };\n",
		Lang: "js",
	}
	if strings.Contains(source, "<style") {
		out.CSS = ".fake{color:red}"
	}
	return out, nil
}

func runCompiled(t *testing.T, code, id string) *goja.Object {
	t.Helper()
	vm := goja.New()
	if _, err := vm.RunString(`globalThis.Vue = { h: function (tag) { return "vnode:" + tag; } };`); err != nil {
		t.Fatalf("install framework: %v", err)
	}
	if _, err := vm.RunString(code); err != nil {
		t.Fatalf("run compiled code: %v", err)
	}
	v := vm.GlobalObject().Get(id)
	if v == nil || goja.IsUndefined(v) {
		t.Fatalf("global %q not defined", id)
	}
	return v.ToObject(vm)
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read temp root: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("workspace not cleaned up: %d entries left", len(entries))
	}
}

func TestCompileAssignsGlobal(t *testing.T) {
	tmp := t.TempDir()
	sfc := &fakeSFC{}
	c := NewCompiler(tmp, WithTempRoot(tmp), WithSFCTransformer(sfc))
	id := NewID()

	code, err := c.Compile(context.Background(), "<template><div/></template><style>.fake{}</style>", id)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if sfc.calls != 1 {
		t.Errorf("transformer calls = %d, want 1", sfc.calls)
	}
	if !strings.Contains(code, `globalThis["Vue"]`) {
		t.Error("framework should be read from the global, not bundled")
	}
	if !strings.Contains(code, `data-extension`) {
		t.Error("styles should be injected")
	}

	comp := runCompiled(t, code, id)
	if got := comp.Get("name").String(); got != "Fake" {
		t.Errorf("name = %q, want Fake", got)
	}
	if got := comp.Get("scope").String(); got != scopeID(id) {
		t.Errorf("scope = %q, want %q", got, scopeID(id))
	}
	assertEmptyDir(t, tmp)
}

func TestCompileReportsComponentErrors(t *testing.T) {
	tmp := t.TempDir()
	sfc := &fakeSFC{err: &SFCError{Messages: []string{"Element is missing end tag."}}}
	c := NewCompiler(tmp, WithTempRoot(tmp), WithSFCTransformer(sfc))

	_, err := c.Compile(context.Background(), "<template><div></template>", NewID())
	if err == nil {
		t.Fatal("expected error")
	}
	if got := apperr.StatusOf(err); got != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", got)
	}
	if !strings.Contains(err.Error(), "missing end tag") {
		t.Errorf("error %q should carry the compiler message", err)
	}
	assertEmptyDir(t, tmp)
}

func TestCompileRequiresID(t *testing.T) {
	c := NewCompiler(t.TempDir(), WithSFCTransformer(&fakeSFC{}))
	if _, err := c.Compile(context.Background(), "<template/>", ""); !apperr.Is(err, http.StatusBadRequest) {
		t.Fatalf("err = %v, want 400", err)
	}
}

func TestCompileWithoutFramework(t *testing.T) {
	dir := t.TempDir()
	if _, err := ResolveFramework(dir); err == nil {
		t.Skip("vue is reachable from the temp dir")
	}
	c := NewCompiler(dir, WithTempRoot(dir))
	_, err := c.Compile(context.Background(), "<template><div/></template>", NewID())
	if err == nil {
		t.Fatal("expected error when vue is missing")
	}
	if got := apperr.StatusOf(err); got != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", got)
	}
}

func TestCompileRealComponent(t *testing.T) {
	cwd, _ := os.Getwd()
	root, _ := npm.FindProjectRoot(cwd)
	fw, err := ResolveFramework(root)
	if err != nil {
		t.Skip("vue not installed")
	}
	tmp := t.TempDir()
	c := NewCompiler(root, WithTempRoot(tmp), WithSFCTransformer(NewVueSFC(fw.CompilerSFC)))
	src := `<template><button @click="n++">{{ n }}</button></template>
<script setup>
import { ref } from 'vue'
const n = ref(0)
</script>
<style scoped>button { color: red; }</style>`
	code, err := c.Compile(context.Background(), src, NewID())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !strings.Contains(code, "data-v-") {
		t.Error("scoped styles should carry a scope id")
	}
	assertEmptyDir(t, tmp)
}
