// Package metrics exposes Prometheus counters for compiles, bundles,
// package operations and the component loader cache.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds metric naming options.
type Config struct {
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`
	Path      string `yaml:"path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{Namespace: "enfyra", Path: "/metrics"}
}

// Collector owns a private registry and the metric vectors recorded into it.
type Collector struct {
	config   Config
	registry *prometheus.Registry

	ExtensionCompilations *prometheus.CounterVec
	CompileDuration       *prometheus.HistogramVec
	PackageBundles        *prometheus.CounterVec
	BundleDuration        *prometheus.HistogramVec
	BundleCache           *prometheus.CounterVec
	PackageOperations     *prometheus.CounterVec
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
}

// New creates a Collector with the default configuration.
func New() *Collector { return NewWithConfig(DefaultConfig()) }

// NewWithConfig creates a Collector with cfg.
func NewWithConfig(cfg Config) *Collector {
	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}
	reg := prometheus.NewRegistry()
	ns, sub := cfg.Namespace, cfg.Subsystem

	c := &Collector{
		config:   cfg,
		registry: reg,
		ExtensionCompilations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "extension_compilations_total",
			Help: "Extension compilations by source kind and outcome",
		}, []string{"kind", "status"}),
		CompileDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: sub,
			Name:    "extension_compile_duration_seconds",
			Help:    "Duration of extension compilations in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		PackageBundles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "package_bundles_total",
			Help: "Package bundle builds by outcome and whether the shim fallback ran",
		}, []string{"status", "fallback"}),
		BundleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: sub,
			Name:    "package_bundle_duration_seconds",
			Help:    "Duration of package bundle builds in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		BundleCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "package_bundle_cache_total",
			Help: "Bundle cache lookups by tier and result",
		}, []string{"tier", "result"}),
		PackageOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "package_operations_total",
			Help: "Package manager install and uninstall runs",
		}, []string{"manager", "operation", "status"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status_code"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: sub,
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
	reg.MustRegister(
		c.ExtensionCompilations, c.CompileDuration,
		c.PackageBundles, c.BundleDuration, c.BundleCache,
		c.PackageOperations,
		c.HTTPRequestsTotal, c.HTTPRequestDuration,
	)
	return c
}

// Path returns the configured metrics endpoint path.
func (c *Collector) Path() string { return c.config.Path }

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObserveCompile records an extension compilation of kind "sfc" or "js".
func (c *Collector) ObserveCompile(kind string, err error, d time.Duration) {
	c.ExtensionCompilations.WithLabelValues(kind, status(err)).Inc()
	c.CompileDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveBundle records a package bundle build.
func (c *Collector) ObserveBundle(_ string, fallback bool, err error, d time.Duration) {
	c.PackageBundles.WithLabelValues(status(err), strconv.FormatBool(fallback)).Inc()
	c.BundleDuration.WithLabelValues(status(err)).Observe(d.Seconds())
}

// ObserveBundleCache records a lookup against a bundle cache tier.
func (c *Collector) ObserveBundleCache(tier string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.BundleCache.WithLabelValues(tier, result).Inc()
}

// ObservePackageOperation records an install or uninstall run.
func (c *Collector) ObservePackageOperation(manager, operation string, err error) {
	c.PackageOperations.WithLabelValues(manager, operation, status(err)).Inc()
}

// LoaderStats is a snapshot of the component loader cache.
type LoaderStats struct {
	Size   int
	Hits   int64
	Misses int64
}

// WatchLoader exports the loader cache through functions read at scrape time.
func (c *Collector) WatchLoader(snapshot func() LoaderStats) {
	opts := func(name, help string) prometheus.Opts {
		return prometheus.Opts{Namespace: c.config.Namespace, Subsystem: c.config.Subsystem, Name: name, Help: help}
	}
	c.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts(opts("component_cache_entries", "Components held in the loader cache")),
			func() float64 { return float64(snapshot().Size) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts(opts("component_cache_hits_total", "Loader cache hits")),
			func() float64 { return float64(snapshot().Hits) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts(opts("component_cache_misses_total", "Loader cache misses")),
			func() float64 { return float64(snapshot().Misses) }),
	)
}

// RecordHTTPRequest records an HTTP request metric.
func (c *Collector) RecordHTTPRequest(method, path string, statusCode int, d time.Duration) {
	c.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	c.HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records every request under its matched route pattern.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		c.RecordHTTPRequest(r.Method, path, rec.status, time.Since(start))
	})
}
