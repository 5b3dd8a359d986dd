// Package bundler turns installed npm packages into single-file browser ES
// modules with a uniform default export.
package bundler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/enfyra/app/apperr"
	"github.com/enfyra/app/npm"
	"github.com/evanw/esbuild/pkg/api"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Options selects the package and output shape for a bundle.
type Options struct {
	PackageName string
	Minify      bool
	Externals   []External
}

// Result is a bundled package ready to serve to the browser.
type Result struct {
	Code         string   `json:"code"`
	Dependencies []string `json:"dependencies"`
	Warnings     []string `json:"warnings"`
	Exports      []string `json:"exports"`
	Version      string   `json:"version,omitempty"`
}

// Recorder receives bundle outcomes. metrics.Collector satisfies it.
type Recorder interface {
	ObserveBundle(pkg string, fallback bool, err error, d time.Duration)
	ObserveBundleCache(tier string, hit bool)
}

// Bundler builds packages resolved from a project's node_modules.
type Bundler struct {
	resolver  *npm.Resolver
	externals []External
	logger    *slog.Logger
	tracer    trace.Tracer
	recorder  Recorder
}

// Option configures a Bundler.
type Option func(*Bundler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bundler) { b.logger = l }
}

// WithTracer sets the tracer used for bundle spans.
func WithTracer(t trace.Tracer) Option {
	return func(b *Bundler) { b.tracer = t }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(b *Bundler) { b.recorder = r }
}

// WithFrameworkGlobal overrides the global the host UI framework is read from.
func WithFrameworkGlobal(global string) Option {
	return func(b *Bundler) {
		b.externals = mergeExternals(b.externals, External{Name: FrameworkExternal.Name, GlobalName: global})
	}
}

// New creates a Bundler reading packages through resolver.
func New(resolver *npm.Resolver, opts ...Option) *Bundler {
	b := &Bundler{
		resolver:  resolver,
		externals: []External{FrameworkExternal},
		logger:    slog.Default(),
		tracer:    otel.Tracer("github.com/enfyra/app/bundler"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Resolver returns the package resolver backing this bundler.
func (b *Bundler) Resolver() *npm.Resolver { return b.resolver }

// Bundle builds opts.PackageName into a single ES module. When the direct
// build fails a second build runs with Node built-ins stubbed; if that also
// fails the first error is returned.
func (b *Bundler) Bundle(ctx context.Context, opts Options) (*Result, error) {
	ctx, span := b.tracer.Start(ctx, "bundler.Bundle",
		trace.WithAttributes(attribute.String("package", opts.PackageName), attribute.Bool("minify", opts.Minify)))
	defer span.End()

	start := time.Now()
	res, fallback, err := b.bundle(ctx, opts)
	if b.recorder != nil {
		b.recorder.ObserveBundle(opts.PackageName, fallback, err, time.Since(start))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("bundle.bytes", len(res.Code)), attribute.Bool("bundle.fallback", fallback))
	return res, nil
}

func (b *Bundler) bundle(ctx context.Context, opts Options) (*Result, bool, error) {
	resolved, err := b.resolver.Locate(opts.PackageName)
	if err != nil {
		return nil, false, err
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	externals := mergeExternals(b.externals, opts.Externals...)

	var warnings []string
	fallback := false
	out := b.build(resolved.EntryPath, externals, opts.Minify, false)
	if buildErr := BuildErrorOf(out); buildErr != nil {
		warnings = builtinWarnings(out.Errors)
		b.logger.Warn("direct bundle failed, retrying with node shims",
			"package", opts.PackageName, "error", buildErr)
		fallback = true
		out = b.build(resolved.EntryPath, externals, opts.Minify, true)
		if BuildErrorOf(out) != nil {
			return nil, fallback, apperr.Wrap(http.StatusInternalServerError, buildErr, "failed to bundle package %q", opts.PackageName)
		}
	}
	if len(out.OutputFiles) == 0 {
		return nil, fallback, apperr.Internal(errors.New("no output files"), "failed to bundle package %q", opts.PackageName)
	}

	for _, w := range out.Warnings {
		warnings = append(warnings, w.Text)
	}

	mf, err := parseMetafile(out.Metafile)
	if err != nil {
		return nil, fallback, fmt.Errorf("parse metafile for %s: %w", opts.PackageName, err)
	}
	discovered := mf.inputPackages(opts.PackageName, resolved.Manifest.IsDevDependency)

	code, names := NormalizeExports(string(out.OutputFiles[0].Contents))
	exports := mf.exports()
	if len(exports) == 0 {
		exports = names
	}

	return &Result{
		Code:         code,
		Dependencies: mergeNames(resolved.Dependencies, discovered),
		Warnings:     warnings,
		Exports:      exports,
		Version:      resolved.Manifest.Version,
	}, fallback, nil
}

func (b *Bundler) build(entry string, externals []External, minify, shimmed bool) api.BuildResult {
	opts := api.BuildOptions{
		EntryPoints:       []string{entry},
		AbsWorkingDir:     b.resolver.Root(),
		Bundle:            true,
		Write:             false,
		Metafile:          true,
		Splitting:         false,
		Format:            api.FormatESModule,
		Platform:          api.PlatformBrowser,
		Target:            api.ES2020,
		MainFields:        []string{"browser", "module", "main"},
		LogLevel:          api.LogLevelSilent,
		MinifyWhitespace:  minify,
		MinifyIdentifiers: minify,
		MinifySyntax:      minify,
		Define:            map[string]string{"process.env.NODE_ENV": `"production"`},
		Plugins:           []api.Plugin{GlobalExternals(externals)},
	}
	if shimmed {
		opts.Banner = map[string]string{"js": nodeShim}
		opts.Plugins = append(opts.Plugins, nodeBuiltinStubs())
	}
	return api.Build(opts)
}

// ToScript converts an ES module bundle into a classic script assigning its
// default export to globalThis[globalName].
func ToScript(code, globalName string) (string, error) {
	out := api.Transform(code, api.TransformOptions{
		Loader:     api.LoaderJS,
		Format:     api.FormatIIFE,
		GlobalName: "__bundle",
		Target:     api.ES2020,
		LogLevel:   api.LogLevelSilent,
		Footer:     fmt.Sprintf("globalThis[%q] = __bundle && __bundle.default !== undefined ? __bundle.default : __bundle;", globalName),
	})
	if len(out.Errors) > 0 {
		return "", &BuildError{Messages: out.Errors}
	}
	return string(out.Code), nil
}
