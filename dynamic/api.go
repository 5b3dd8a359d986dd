package dynamic

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/enfyra/app/apperr"
)

// APIHandler exposes the loader cache and server-side load checks over HTTP.
type APIHandler struct {
	loader  *Loader
	builder Builder
}

// NewAPIHandler creates a handler. builder compiles authored source sent to
// the load and preview endpoints; it may be nil when callers only send
// compiled code.
func NewAPIHandler(loader *Loader, builder Builder) *APIHandler {
	return &APIHandler{loader: loader, builder: builder}
}

// loadComponentRequest is the JSON body for load and preview calls. Source is
// compiled first when Code is empty.
type loadComponentRequest struct {
	Code        string     `json:"code"`
	Source      string     `json:"source"`
	Name        string     `json:"name"`
	UpdatedAt   *time.Time `json:"updatedAt"`
	ForceReload bool       `json:"forceReload"`
}

type previewResponse struct {
	Component   *Handle          `json:"component"`
	Packages    []string         `json:"packages"`
	Unavailable []string         `json:"unavailable,omitempty"`
	Header      []map[string]any `json:"headerActions"`
	SubHeader   []map[string]any `json:"subHeaderActions"`
}

// RegisterRoutes registers the loader routes on the given mux.
func (h *APIHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /loader/cache", h.stats)
	mux.HandleFunc("DELETE /loader/cache", h.clear)
	mux.HandleFunc("DELETE /loader/cache/{name}", h.clearName)
	mux.HandleFunc("POST /loader/load", h.load)
	mux.HandleFunc("POST /loader/preview", h.preview)
}

func (h *APIHandler) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.loader.Cache().Stats())
}

func (h *APIHandler) clear(w http.ResponseWriter, _ *http.Request) {
	h.loader.Cache().Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) clearName(w http.ResponseWriter, r *http.Request) {
	n := h.loader.Invalidate(r.PathValue("name"))
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

// decode reads a request body, compiling Source when needed. An empty name
// falls back to defaultName and is rejected when that is empty too.
func (h *APIHandler) decode(w http.ResponseWriter, r *http.Request, defaultName string) (*loadComponentRequest, bool) {
	var req loadComponentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return nil, false
	}
	if req.Name == "" {
		if defaultName == "" {
			writeError(w, http.StatusBadRequest, "name is required")
			return nil, false
		}
		req.Name = defaultName
	}
	if req.Code == "" && req.Source != "" {
		if h.builder == nil {
			writeError(w, http.StatusBadRequest, "code is required")
			return nil, false
		}
		code, err := h.builder.Build(r.Context(), req.Source, req.Name)
		if err != nil {
			writeError(w, apperr.StatusOf(err), err.Error())
			return nil, false
		}
		req.Code = code
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "code or source is required")
		return nil, false
	}
	return &req, true
}

func (h *APIHandler) load(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r, "")
	if !ok {
		return
	}
	lr := LoadRequest{Code: req.Code, Name: req.Name, ForceReload: req.ForceReload}
	if req.UpdatedAt != nil {
		lr.UpdatedAt = *req.UpdatedAt
	}
	handle, err := h.loader.Load(r.Context(), lr)
	if err != nil {
		writeError(w, loadStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, handle)
}

func (h *APIHandler) preview(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r, "preview")
	if !ok {
		return
	}
	res, err := h.loader.LoadForPreview(r.Context(), PreviewRequest{Code: req.Code, Source: req.Source, Name: req.Name})
	if err != nil {
		writeError(w, loadStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, previewResponse{
		Component:   res.Handle,
		Packages:    res.Packages,
		Unavailable: res.Unavailable,
		Header:      res.Actions.Actions(ActionHeader),
		SubHeader:   res.Actions.Actions(ActionSubHeader),
	})
}

// loadStatus keeps classified errors and reports the rest as unprocessable.
func loadStatus(err error) int {
	var e *apperr.Error
	if errors.As(err, &e) {
		return e.Status
	}
	return http.StatusUnprocessableEntity
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
