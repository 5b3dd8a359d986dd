package extension

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/enfyra/app/apperr"
	"github.com/enfyra/app/bundler"
	"github.com/evanw/esbuild/pkg/api"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Recorder receives compilation outcomes. metrics.Collector satisfies it.
type Recorder interface {
	ObserveCompile(kind string, err error, d time.Duration)
}

// Compiler turns single-file component source into a browser script that
// assigns the component to globalThis[extensionID].
type Compiler struct {
	root     string
	tempRoot string
	global   string
	logger   *slog.Logger
	tracer   trace.Tracer
	recorder Recorder

	sfc     SFCTransformer
	sfcOnce sync.Once
	sfcErr  error
}

// CompilerOption configures a Compiler.
type CompilerOption func(*Compiler)

// WithTempRoot sets the directory scratch workspaces are created under.
func WithTempRoot(dir string) CompilerOption {
	return func(c *Compiler) { c.tempRoot = dir }
}

// WithSFCTransformer replaces the embedded Vue compiler.
func WithSFCTransformer(t SFCTransformer) CompilerOption {
	return func(c *Compiler) { c.sfc = t }
}

// WithCompilerLogger sets the logger.
func WithCompilerLogger(l *slog.Logger) CompilerOption {
	return func(c *Compiler) { c.logger = l }
}

// WithCompilerRecorder sets the metrics recorder.
func WithCompilerRecorder(r Recorder) CompilerOption {
	return func(c *Compiler) { c.recorder = r }
}

// WithFrameworkGlobal sets the global the compiled component reads vue from.
func WithFrameworkGlobal(global string) CompilerOption {
	return func(c *Compiler) { c.global = global }
}

// NewCompiler creates a Compiler for the project at root.
func NewCompiler(root string, opts ...CompilerOption) *Compiler {
	c := &Compiler{
		root:     root,
		tempRoot: os.TempDir(),
		global:   bundler.FrameworkExternal.GlobalName,
		logger:   slog.Default(),
		tracer:   otel.Tracer("github.com/enfyra/app/extension"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Compiler) transformer() (SFCTransformer, error) {
	c.sfcOnce.Do(func() {
		if c.sfc != nil {
			return
		}
		fw, err := ResolveFramework(c.root)
		if err != nil {
			c.sfcErr = err
			return
		}
		c.sfc = NewVueSFC(fw.CompilerSFC)
	})
	return c.sfc, c.sfcErr
}

// Compile compiles source for extensionID. The scratch workspace is removed
// whether or not compilation succeeds.
func (c *Compiler) Compile(ctx context.Context, source, extensionID string) (code string, err error) {
	ctx, span := c.tracer.Start(ctx, "extension.Compile",
		trace.WithAttributes(attribute.String("extension.id", extensionID)))
	start := time.Now()
	defer func() {
		if c.recorder != nil {
			c.recorder.ObserveCompile("sfc", err, time.Since(start))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if extensionID == "" {
		return "", apperr.BadRequest("extensionId is required")
	}
	sfc, err := c.transformer()
	if err != nil {
		return "", apperr.Internal(err, "extension compiler unavailable")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dir := filepath.Join(c.tempRoot, fmt.Sprintf("%s-%d-%s", extensionID, time.Now().UnixMilli(), uuid.NewString()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperr.Internal(err, "create compile workspace")
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			c.logger.Warn("failed to remove compile workspace", "dir", dir, "error", rmErr)
		}
	}()

	entry := filepath.Join(dir, "entry.js")
	entrySrc := fmt.Sprintf("import Component from './Component.vue';\nglobalThis[%s] = Component;\n", quote(extensionID))
	if err := os.WriteFile(filepath.Join(dir, "Component.vue"), []byte(source), 0o644); err != nil {
		return "", apperr.Internal(err, "write component source")
	}
	if err := os.WriteFile(entry, []byte(entrySrc), 0o644); err != nil {
		return "", apperr.Internal(err, "write component entry")
	}

	res := api.Build(api.BuildOptions{
		EntryPoints:   []string{entry},
		AbsWorkingDir: dir,
		Bundle:        true,
		Write:         false,
		Format:        api.FormatIIFE,
		Platform:      api.PlatformBrowser,
		Target:        api.ES2020,
		LogLevel:      api.LogLevelSilent,
		Define:        map[string]string{"process.env.NODE_ENV": `"production"`},
		Plugins: []api.Plugin{
			bundler.GlobalExternals([]bundler.External{{Name: bundler.FrameworkExternal.Name, GlobalName: c.global}}),
			vuePlugin(sfc, extensionID),
		},
	})
	if buildErr := bundler.BuildErrorOf(res); buildErr != nil {
		return "", apperr.Wrap(http.StatusBadRequest, errors.New(pluginMessage(res.Errors)), "failed to compile extension %s", extensionID)
	}
	if len(res.OutputFiles) == 0 {
		return "", apperr.Internal(errors.New("no output files"), "failed to compile extension %s", extensionID)
	}
	return string(res.OutputFiles[0].Contents), nil
}

// pluginMessage prefers the compiler diagnostics over esbuild's wrapper text.
func pluginMessage(msgs []api.Message) string {
	m := msgs[0]
	if m.Detail != nil {
		if sfcErr, ok := m.Detail.(*SFCError); ok {
			return sfcErr.Error()
		}
	}
	if m.Location != nil && m.Location.File != "" {
		return filepath.Base(m.Location.File) + ": " + m.Text
	}
	return m.Text
}

// scopeID derives the style scope hash for an extension.
func scopeID(extensionID string) string {
	sum := sha256.Sum256([]byte(extensionID))
	return hex.EncodeToString(sum[:4])
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func vuePlugin(sfc SFCTransformer, extensionID string) api.Plugin {
	return api.Plugin{
		Name: "vue-sfc",
		Setup: func(build api.PluginBuild) {
			build.OnLoad(api.OnLoadOptions{Filter: `\.vue$`}, func(args api.OnLoadArgs) (api.OnLoadResult, error) {
				src, err := os.ReadFile(args.Path)
				if err != nil {
					return api.OnLoadResult{}, err
				}
				out, err := sfc.Transform(filepath.Base(args.Path), string(src), scopeID(extensionID))
				if err != nil {
					var sfcErr *SFCError
					if errors.As(err, &sfcErr) {
						return api.OnLoadResult{Errors: []api.Message{{Text: sfcErr.Error(), Detail: sfcErr}}}, nil
					}
					return api.OnLoadResult{}, err
				}
				contents := out.Code
				if out.CSS != "" {
					contents += styleInjection(extensionID, out.CSS)
				}
				loader := api.LoaderJS
				if out.Lang == "ts" {
					loader = api.LoaderTS
				}
				return api.OnLoadResult{
					Contents:   &contents,
					Loader:     loader,
					ResolveDir: filepath.Dir(args.Path),
				}, nil
			})
		},
	}
}

func styleInjection(extensionID, css string) string {
	return fmt.Sprintf(`
if (typeof document !== "undefined") {
  const __style = document.createElement("style");
  __style.setAttribute("data-extension", %s);
  __style.textContent = %s;
  document.head.appendChild(__style);
}
`, quote(extensionID), quote(css))
}
