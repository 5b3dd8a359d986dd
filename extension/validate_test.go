package extension

import (
	"net/http"
	"strings"
	"testing"

	"github.com/enfyra/app/apperr"
)

func TestAssertValidSFC(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr string
	}{
		{"template only", `<template><div/></template>`, ""},
		{"script setup", "<script setup>\nconst n = 1\n</script>\n<template><p>{{ n }}</p></template>", ""},
		{"scoped style", "<template><b/></template><style scoped>b{color:red}</style>", ""},
		{"unclosed template", `<template><div/>`, "unbalanced tags"},
		{"extra close", `<template></template></template>`, "unbalanced tags"},
		{"style only", `<style>a{}</style>`, "<template> or <script>"},
		{"bare default export", "<script>export default Comp</script>", "incomplete default export"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := AssertValidSFC(tt.src)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
			if got := apperr.StatusOf(err); got != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", got)
			}
		})
	}
}

func TestAssertValidJSBundle(t *testing.T) {
	tests := []struct {
		name string
		src  string
		ok   bool
	}{
		{"window global", `window.Foo = {}`, true},
		{"esm", `export default { name: "x" }`, true},
		{"commonjs", `module.exports = function(a) { return a }`, true},
		{"no export", `const x = 1`, false},
		{"unbalanced braces", `export default { a: [1, 2 }`, false},
		{"unbalanced parens", `window.x = (1 + 2`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := AssertValidJSBundle(tt.src)
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestValidationIsDeterministic(t *testing.T) {
	inputs := []string{`<template><div/>`, `<template><div/></template>`, `const x = 1`, `window.Foo = {}`}
	for _, in := range inputs {
		first := AssertValidSFC(in)
		second := AssertValidSFC(in)
		if (first == nil) != (second == nil) || (first != nil && first.Error() != second.Error()) {
			t.Errorf("AssertValidSFC(%q) not stable: %v vs %v", in, first, second)
		}
		first = AssertValidJSBundle(in)
		second = AssertValidJSBundle(in)
		if (first == nil) != (second == nil) || (first != nil && first.Error() != second.Error()) {
			t.Errorf("AssertValidJSBundle(%q) not stable: %v vs %v", in, first, second)
		}
	}
}

func TestLooksLikeSFC(t *testing.T) {
	if !LooksLikeSFC(`<template><div/></template>`) {
		t.Error("template block should look like a component")
	}
	if !LooksLikeSFC(`<script setup>x</script>`) {
		t.Error("script block should look like a component")
	}
	if LooksLikeSFC(`window.Foo = "<template>"`) {
		t.Error("an opening tag alone should not count")
	}
	if LooksLikeSFC(`export default {}`) {
		t.Error("plain javascript should not look like a component")
	}
}

func TestEnsureID(t *testing.T) {
	id := NewID()
	if !ValidID(id) {
		t.Fatalf("NewID() = %q is not valid", id)
	}
	if got := EnsureID(id); got != id {
		t.Errorf("EnsureID kept = %q, want %q", got, id)
	}
	for _, v := range []any{nil, "", "extension_nope", 42} {
		if got := EnsureID(v); !ValidID(got) {
			t.Errorf("EnsureID(%v) = %q, want generated id", v, got)
		}
	}
	if EnsureID(nil) == EnsureID(nil) {
		t.Error("generated ids should differ")
	}
}
