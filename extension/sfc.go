package extension

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/dop251/goja"
	"github.com/evanw/esbuild/pkg/api"
)

// SFCOutput is a single-file component compiled to an ES module.
type SFCOutput struct {
	Code string
	CSS  string
	// Lang is the script language of the module ("js" or "ts").
	Lang string
}

// SFCTransformer compiles .vue source to an ES module.
type SFCTransformer interface {
	Transform(filename, source, scopeID string) (*SFCOutput, error)
}

// SFCError carries the diagnostics reported for a component.
type SFCError struct {
	Messages []string
}

func (e *SFCError) Error() string {
	return strings.Join(e.Messages, "; ")
}

// VueSFC hosts the browser build of @vue/compiler-sfc in an embedded
// JavaScript runtime. The runtime is created on first use and shared by
// later calls.
type VueSFC struct {
	path string

	once    sync.Once
	initErr error

	mu      sync.Mutex
	rt      *goja.Runtime
	compile goja.Callable
}

// NewVueSFC returns a transformer backed by the compiler build at path.
func NewVueSFC(path string) *VueSFC {
	return &VueSFC{path: path}
}

const sfcDriver = `
function __compileSFC(filename, source, id) {
  var sfc = VueCompilerSFC;
  var msgs = function (list) {
    return list.map(function (e) { return String((e && e.message) || e); });
  };
  var parsed = sfc.parse(source, { filename: filename });
  if (parsed.errors && parsed.errors.length) return { errors: msgs(parsed.errors) };
  var d = parsed.descriptor;
  var scoped = d.styles.some(function (s) { return s.scoped; });
  var scopeId = 'data-v-' + id;
  var code = '';
  var bindings;
  var lang = 'js';
  if (d.script || d.scriptSetup) {
    var script = sfc.compileScript(d, {
      id: id,
      inlineTemplate: !!d.scriptSetup,
      genDefaultAs: '__sfc__',
      templateOptions: { scoped: scoped }
    });
    bindings = script.bindings;
    lang = (d.scriptSetup && d.scriptSetup.lang) || (d.script && d.script.lang) || 'js';
    code += script.content + '\n';
  } else {
    code += 'const __sfc__ = {};\n';
  }
  if (d.template && !d.scriptSetup) {
    var tpl = sfc.compileTemplate({
      source: d.template.content,
      filename: filename,
      id: id,
      scoped: scoped,
      compilerOptions: { bindingMetadata: bindings, scopeId: scoped ? scopeId : undefined }
    });
    if (tpl.errors && tpl.errors.length) return { errors: msgs(tpl.errors) };
    code += tpl.code.replace(/\nexport (function|const) render/, '\n$1 render') + '\n__sfc__.render = render;\n';
  }
  var css = '';
  for (var i = 0; i < d.styles.length; i++) {
    var st = d.styles[i];
    var out = sfc.compileStyle({ source: st.content, filename: filename, id: scopeId, scoped: !!st.scoped });
    if (out.errors && out.errors.length) return { errors: msgs(out.errors) };
    css += out.code + '\n';
  }
  if (scoped) code += '__sfc__.__scopeId = ' + JSON.stringify(scopeId) + ';\n';
  code += 'export default __sfc__;\n';
  return { code: code, css: css, lang: lang, errors: [] };
}
`

func (v *VueSFC) init() error {
	v.once.Do(func() {
		src, err := os.ReadFile(v.path)
		if err != nil {
			v.initErr = fmt.Errorf("read vue compiler: %w", err)
			return
		}
		res := api.Transform(string(src), api.TransformOptions{
			Loader:     api.LoaderJS,
			Format:     api.FormatIIFE,
			GlobalName: "VueCompilerSFC",
			Target:     api.ES2017,
			LogLevel:   api.LogLevelSilent,
		})
		if len(res.Errors) > 0 {
			v.initErr = fmt.Errorf("prepare vue compiler: %s", res.Errors[0].Text)
			return
		}

		rt := goja.New()
		if _, err := rt.RunString(`var process = { env: { NODE_ENV: 'production' } };
var console = { log: function () {}, warn: function () {}, error: function () {} };`); err != nil {
			v.initErr = err
			return
		}
		if _, err := rt.RunString(string(res.Code)); err != nil {
			v.initErr = fmt.Errorf("load vue compiler: %w", err)
			return
		}
		if _, err := rt.RunString(sfcDriver); err != nil {
			v.initErr = fmt.Errorf("load compiler driver: %w", err)
			return
		}
		fn, ok := goja.AssertFunction(rt.Get("__compileSFC"))
		if !ok {
			v.initErr = fmt.Errorf("compiler driver is not callable")
			return
		}
		v.rt, v.compile = rt, fn
	})
	return v.initErr
}

// Transform compiles source. Diagnostics reported by the compiler are
// returned as *SFCError.
func (v *VueSFC) Transform(filename, source, scopeID string) (*SFCOutput, error) {
	if err := v.init(); err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	res, err := v.compile(goja.Undefined(), v.rt.ToValue(filename), v.rt.ToValue(source), v.rt.ToValue(scopeID))
	if err != nil {
		if ex, ok := err.(*goja.Exception); ok {
			return nil, &SFCError{Messages: []string{ex.Value().String()}}
		}
		return nil, err
	}
	obj := res.ToObject(v.rt)
	if errs := obj.Get("errors"); errs != nil {
		if list, ok := errs.Export().([]any); ok && len(list) > 0 {
			msgs := make([]string, 0, len(list))
			for _, m := range list {
				msgs = append(msgs, fmt.Sprint(m))
			}
			return nil, &SFCError{Messages: msgs}
		}
	}
	return &SFCOutput{
		Code: stringField(obj, "code"),
		CSS:  stringField(obj, "css"),
		Lang: stringField(obj, "lang"),
	}, nil
}

func stringField(obj *goja.Object, name string) string {
	v := obj.Get(name)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}
