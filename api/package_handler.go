package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/enfyra/app/bundler"
	"github.com/enfyra/app/npm"
	"github.com/enfyra/app/packages"
	"github.com/enfyra/app/store"
)

// PackageBundler builds browser modules. Both *bundler.Bundler and
// *bundler.Cached satisfy it.
type PackageBundler interface {
	Bundle(ctx context.Context, opts bundler.Options) (*bundler.Result, error)
}

// moduleBody is the format=json form of a served package.
type moduleBody struct {
	Type         string   `json:"__type"`
	Code         string   `json:"__code"`
	Source       string   `json:"__source"`
	Dependencies []string `json:"__dependencies"`
	Warnings     []string `json:"__warnings"`
	Exports      []string `json:"__exports"`
	Version      string   `json:"__version,omitempty"`
}

func newModuleBody(code string) moduleBody {
	return moduleBody{
		Type:         "module",
		Code:         code,
		Source:       "node_modules",
		Dependencies: []string{},
		Warnings:     []string{},
		Exports:      []string{},
	}
}

// PackageHandler serves bundled packages and package_definition records.
type PackageHandler struct {
	bundler  PackageBundler
	resolver *npm.Resolver
	service  *packages.Service
	minify   bool
	logger   *slog.Logger
}

// NewPackageHandler creates a new PackageHandler. minify is the default
// when a request does not set it.
func NewPackageHandler(b PackageBundler, resolver *npm.Resolver, service *packages.Service, minify bool, logger *slog.Logger) *PackageHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PackageHandler{bundler: b, resolver: resolver, service: service, minify: minify, logger: logger}
}

// Bundle handles GET /packages?name=&minify=&format=&externals=.
func (h *PackageHandler) Bundle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := bundler.Options{PackageName: q.Get("name"), Minify: h.minify}
	if opts.PackageName == "" {
		WriteError(w, http.StatusBadRequest, "name is required")
		return
	}
	if v := q.Get("minify"); v != "" {
		m, err := strconv.ParseBool(v)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "minify must be a boolean")
			return
		}
		opts.Minify = m
	}
	if v := q.Get("externals"); v != "" {
		if err := json.Unmarshal([]byte(v), &opts.Externals); err != nil {
			WriteError(w, http.StatusBadRequest, "externals must be a JSON array")
			return
		}
	}

	res, err := h.bundler.Bundle(r.Context(), opts)
	if err != nil {
		h.logger.Warn("bundle failed", "package", opts.PackageName, "error", err)
		WriteFailure(w, err)
		return
	}
	if q.Get("format") == "json" {
		body := newModuleBody(res.Code)
		body.Dependencies = orEmpty(res.Dependencies)
		body.Warnings = orEmpty(res.Warnings)
		body.Exports = orEmpty(res.Exports)
		body.Version = res.Version
		writeRaw(w, body)
		return
	}
	writeScript(w, res.Code)
}

// Source handles GET /packages/{name...}. It serves the package entry as an
// ES module, wrapping CommonJS sources.
func (h *PackageHandler) Source(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	res, err := h.resolver.Resolve(name)
	if err != nil {
		WriteFailure(w, err)
		return
	}
	code := npm.WrapCommonJS(res.Source)
	if r.URL.Query().Get("format") == "json" {
		body := newModuleBody(code)
		body.Dependencies = orEmpty(res.Dependencies)
		body.Version = res.Manifest.Version
		writeRaw(w, body)
		return
	}
	writeScript(w, code)
}

// ListDefinitions handles GET /package_definition.
func (h *PackageHandler) ListDefinitions(w http.ResponseWriter, r *http.Request) {
	recs, err := h.service.List(r.Context())
	if err != nil {
		WriteFailure(w, err)
		return
	}
	recs, err = filterRecords(r, recs)
	if err != nil {
		WriteFailure(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, recs)
}

// GetDefinition handles GET /package_definition/{id}.
func (h *PackageHandler) GetDefinition(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteFailure(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

// CreateDefinition handles POST /package_definition.
func (h *PackageHandler) CreateDefinition(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		WriteFailure(w, err)
		return
	}
	rec, err := h.service.Create(r.Context(), store.Record(body))
	if err != nil {
		WriteFailure(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, rec)
}

// UpdateDefinition handles PATCH /package_definition/{id}.
func (h *PackageHandler) UpdateDefinition(w http.ResponseWriter, r *http.Request) {
	patch, err := decodeBody(r)
	if err != nil {
		WriteFailure(w, err)
		return
	}
	rec, err := h.service.Update(r.Context(), r.PathValue("id"), store.Record(patch))
	if err != nil {
		WriteFailure(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

// DeleteDefinition handles DELETE /package_definition/{id}.
func (h *PackageHandler) DeleteDefinition(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), r.PathValue("id")); err != nil {
		WriteFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeScript(w http.ResponseWriter, code string) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(code))
}

// writeRaw writes v without the data envelope; the module loader reads the
// double-underscore fields at the top level.
func writeRaw(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
