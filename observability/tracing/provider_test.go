package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestProvider(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	p, err := NewProviderWithExporter(context.Background(), DefaultConfig(), sdktrace.NewSimpleSpanProcessor(exporter))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return exporter
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ServiceName != "enfyra" || cfg.SampleRate != 1.0 || !cfg.Insecure {
		t.Errorf("default config = %+v", cfg)
	}
}

func TestProviderShutdownNil(t *testing.T) {
	p := &Provider{}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown of nil provider should not error: %v", err)
	}
}

func TestProviderInstallsGlobal(t *testing.T) {
	exporter := newTestProvider(t)
	_, span := otel.Tracer("test").Start(context.Background(), "bundle dayjs")
	span.End()
	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Name != "bundle dayjs" {
		t.Fatalf("spans = %v", spans)
	}
}

func TestMiddlewareNamesSpansByPattern(t *testing.T) {
	exporter := newTestProvider(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /packages/{name}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	// Middleware wraps each route so r.Pattern is set when the span is named.
	outer := http.NewServeMux()
	outer.Handle("GET /packages/{name}", Middleware("enfyra")(mux))

	rec := httptest.NewRecorder()
	outer.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/packages/dayjs", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "GET /packages/{name}" {
		t.Errorf("span name = %q", spans[0].Name)
	}
}

func TestSpanNameFallback(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/x", nil)
	if got := spanName("", r); got != "POST /x" {
		t.Errorf("spanName = %q", got)
	}
}
