package dynamic

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestAPI(t *testing.T) (*Loader, *http.ServeMux) {
	t.Helper()
	l := newTestLoader(t)
	mux := http.NewServeMux()
	NewAPIHandler(l, passthroughBuilder{}).RegisterRoutes(mux)
	return l, mux
}

func do(mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestAPILoadAndCache(t *testing.T) {
	l, mux := newTestAPI(t)

	w := do(mux, http.MethodPost, "/loader/load",
		`{"code":"globalThis.Foo = { render: function () {} };","name":"Foo","updatedAt":"2024-01-01T00:00:00Z"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("load status = %d body = %s", w.Code, w.Body.String())
	}
	var handle map[string]any
	if err := json.NewDecoder(w.Body).Decode(&handle); err != nil {
		t.Fatal(err)
	}
	if handle["key"] != "Foo:1704067200000" || handle["shape"] != "render" {
		t.Errorf("handle = %v", handle)
	}

	w = do(mux, http.MethodGet, "/loader/cache", "")
	var stats CacheStats
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.Size != 1 || stats.MaxSize != DefaultMaxCacheSize || stats.Misses != 1 {
		t.Errorf("stats = %+v", stats)
	}

	w = do(mux, http.MethodDelete, "/loader/cache/Foo", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"removed":1`) {
		t.Errorf("clear name = %d %s", w.Code, w.Body.String())
	}

	do(mux, http.MethodPost, "/loader/load", `{"code":"globalThis.Bar = {};","name":"Bar"}`)
	w = do(mux, http.MethodDelete, "/loader/cache", "")
	if w.Code != http.StatusNoContent {
		t.Errorf("clear status = %d", w.Code)
	}
	if s := l.Cache().Stats(); s.Size != 0 || s.Misses != 0 {
		t.Errorf("stats after clear = %+v", s)
	}
}

func TestAPILoadErrors(t *testing.T) {
	_, mux := newTestAPI(t)
	tests := []struct {
		name string
		body string
		want int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"no name", `{"code":"x"}`, http.StatusBadRequest},
		{"no code", `{"name":"Foo"}`, http.StatusBadRequest},
		{"missing global", `{"code":"var y = 1;","name":"Foo"}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(mux, http.MethodPost, "/loader/load", tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestAPIPreview(t *testing.T) {
	l, mux := newTestAPI(t)
	w := do(mux, http.MethodPost, "/loader/preview",
		`{"source":"useHeaderActionRegistry().register({ id: 'x' }); globalThis.preview = { setup: function () {} };"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		Component struct {
			Name  string `json:"name"`
			Shape string `json:"shape"`
		} `json:"component"`
		Header []map[string]any `json:"headerActions"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Component.Name != "preview" || resp.Component.Shape != "setup" || len(resp.Header) != 1 {
		t.Errorf("resp = %+v", resp)
	}
	if s := l.Cache().Stats(); s.Size != 0 {
		t.Error("preview should not be cached")
	}
}
