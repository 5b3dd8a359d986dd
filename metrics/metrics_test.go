package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveCompileAndBundle(t *testing.T) {
	c := New()
	c.ObserveCompile("sfc", nil, 20*time.Millisecond)
	c.ObserveCompile("sfc", errors.New("boom"), time.Millisecond)
	c.ObserveBundle("dayjs", true, nil, time.Second)
	c.ObserveBundleCache("memory", true)
	c.ObserveBundleCache("memory", false)
	c.ObservePackageOperation("pnpm", "install", nil)

	if got := testutil.ToFloat64(c.ExtensionCompilations.WithLabelValues("sfc", "error")); got != 1 {
		t.Errorf("compile errors = %v", got)
	}
	if got := testutil.ToFloat64(c.PackageBundles.WithLabelValues("success", "true")); got != 1 {
		t.Errorf("fallback bundles = %v", got)
	}
	if got := testutil.ToFloat64(c.BundleCache.WithLabelValues("memory", "hit")); got != 1 {
		t.Errorf("cache hits = %v", got)
	}
	if got := testutil.ToFloat64(c.PackageOperations.WithLabelValues("pnpm", "install", "success")); got != 1 {
		t.Errorf("package ops = %v", got)
	}
}

func TestWatchLoaderAndHandler(t *testing.T) {
	c := New()
	c.WatchLoader(func() LoaderStats { return LoaderStats{Size: 3, Hits: 7, Misses: 2} })

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		"enfyra_component_cache_entries 3",
		"enfyra_component_cache_hits_total 7",
		"enfyra_component_cache_misses_total 2",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("expected %q in output", want)
		}
	}
}

func TestMiddlewareRecordsPattern(t *testing.T) {
	c := New()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /packages/{name...}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	h := c.Middleware(mux)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/packages/dayjs", nil))

	if got := testutil.ToFloat64(c.HTTPRequestsTotal.WithLabelValues("GET", "GET /packages/{name...}", "404")); got != 1 {
		t.Errorf("requests = %v", got)
	}
}
