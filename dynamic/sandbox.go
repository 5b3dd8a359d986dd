package dynamic

import "context"

// Kind classifies a value produced by a Sandbox.
type Kind int

const (
	KindUndefined Kind = iota
	KindNull
	KindObject
	KindFunction
	KindString
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindObject:
		return "object"
	case KindFunction:
		return "function"
	case KindString:
		return "string"
	default:
		return "other"
	}
}

// Value is a script value held by a Sandbox.
type Value interface {
	Kind() Kind
	// Field returns the named property. Missing properties are undefined.
	Field(name string) Value
	// Keys lists own enumerable property names.
	Keys() []string
	// Set assigns a property. Values are converted the same way Define
	// converts them.
	Set(name string, v any) error
	Export() any
}

// Expr is script source evaluated inside the sandbox when it is defined or
// assigned, instead of being converted as a Go value.
type Expr string

// Sandbox executes compiled extension code against a global scope. Code runs
// to completion inside Execute and communicates only by assigning a global.
type Sandbox interface {
	// Define binds a global. Go functions and maps are converted to their
	// script equivalents; Value and Expr are passed through.
	Define(name string, v any) error
	// Execute removes any stale binding for globalName, runs code, and
	// returns whatever globalName is bound to afterwards.
	Execute(ctx context.Context, code, globalName string) (Value, error)
	// Globals lists the names currently bound on the global object.
	Globals() []string
}
