package api

import (
	"log/slog"
	"net/http"

	"github.com/enfyra/app/dynamic"
	"github.com/enfyra/app/extension"
	"github.com/enfyra/app/metrics"
	"github.com/enfyra/app/npm"
	"github.com/enfyra/app/observability/tracing"
	"github.com/enfyra/app/packages"
	"github.com/enfyra/app/store"
)

// Config holds configuration for the API layer.
type Config struct {
	JWTSecret string //nolint:gosec // G117: config field
	JWTIssuer string

	// PreviewRateLimit is the maximum number of preview compiles per minute
	// per IP. Defaults to 60 when zero.
	PreviewRateLimit int
	PreviewBurst     int

	// Minify is the default for GET /packages when the query omits it.
	Minify bool

	// TracingService names the otelhttp server spans. Empty disables HTTP
	// tracing.
	TracingService string
}

// Deps groups the components served by the router. Loader, Metrics,
// Events and Notifier are optional.
type Deps struct {
	Records    store.Records
	Extensions *extension.Service
	Packages   *packages.Service
	Bundler    PackageBundler
	Resolver   *npm.Resolver
	Loader     *dynamic.APIHandler
	Metrics    *metrics.Collector
	Events     http.Handler
	Notifier   Notifier
	Logger     *slog.Logger
}

// Router is the root HTTP handler. Close releases the rate limiter.
type Router struct {
	http.Handler
	mw *Middleware
}

// Close stops background work started by the middleware.
func (rt *Router) Close() { rt.mw.Stop() }

// NewRouter creates a Router with every route registered.
func NewRouter(deps Deps, cfg Config) *Router {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mw := NewMiddleware([]byte(cfg.JWTSecret), cfg.JWTIssuer, logger)
	auth := func(h http.HandlerFunc) http.Handler {
		return mw.RequireAuth(ForwardAuth(h))
	}

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.Metrics != nil {
		mux.Handle("GET "+deps.Metrics.Path(), deps.Metrics.Handler())
	}

	// --- Extensions ---
	extH := NewExtensionHandler(deps.Records, deps.Extensions, deps.Notifier, logger)
	previewRL := mw.RateLimit(cfg.PreviewRateLimit, cfg.PreviewBurst)
	mux.Handle("GET /extension_definition", auth(extH.List))
	mux.Handle("POST /extension_definition", auth(extH.Create))
	mux.Handle("POST /extension_definition/preview", previewRL(auth(extH.Preview)))
	mux.Handle("GET /extension_definition/{id}", auth(extH.Get))
	mux.Handle("PATCH /extension_definition/{id}", auth(extH.Update))
	mux.Handle("DELETE /extension_definition/{id}", auth(extH.Delete))

	// --- Packages ---
	pkgH := NewPackageHandler(deps.Bundler, deps.Resolver, deps.Packages, cfg.Minify, logger)
	mux.HandleFunc("GET /packages", pkgH.Bundle)
	mux.HandleFunc("GET /packages/{name...}", pkgH.Source)
	mux.Handle("GET /package_definition", auth(pkgH.ListDefinitions))
	mux.Handle("POST /package_definition", auth(pkgH.CreateDefinition))
	mux.Handle("GET /package_definition/{id}", auth(pkgH.GetDefinition))
	mux.Handle("PATCH /package_definition/{id}", auth(pkgH.UpdateDefinition))
	mux.Handle("DELETE /package_definition/{id}", auth(pkgH.DeleteDefinition))

	// --- Loader ---
	if deps.Loader != nil {
		loaderMux := http.NewServeMux()
		deps.Loader.RegisterRoutes(loaderMux)
		mux.Handle("/loader/", mw.RequireAuth(loaderMux))
	}
	if deps.Events != nil {
		mux.Handle("GET /events", deps.Events)
	}

	var h http.Handler = mux
	if deps.Metrics != nil {
		h = deps.Metrics.Middleware(h)
	}
	if cfg.TracingService != "" {
		h = tracing.Middleware(cfg.TracingService)(h)
	}
	return &Router{Handler: RequestID(h), mw: mw}
}
