package dynamic

// ComponentShape describes how a loaded component renders.
type ComponentShape int

const (
	ShapeUnknown ComponentShape = iota
	ShapeRenderFunction
	ShapeSetupFunction
	ShapeTemplateString
)

func (s ComponentShape) String() string {
	switch s {
	case ShapeRenderFunction:
		return "render"
	case ShapeSetupFunction:
		return "setup"
	case ShapeTemplateString:
		return "template"
	default:
		return "unknown"
	}
}

// DetectShape inspects the markers a framework uses to mount a component.
// Render functions win over setup, setup over template.
func DetectShape(v Value) ComponentShape {
	if v == nil || v.Kind() != KindObject {
		return ShapeUnknown
	}
	switch {
	case v.Field("render").Kind() == KindFunction, v.Field("ssrRender").Kind() == KindFunction:
		return ShapeRenderFunction
	case v.Field("setup").Kind() == KindFunction:
		return ShapeSetupFunction
	case v.Field("template").Kind() == KindString:
		return ShapeTemplateString
	}
	return ShapeUnknown
}

func (s ComponentShape) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
