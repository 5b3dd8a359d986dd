package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/enfyra/app/extension"
	"github.com/enfyra/app/notify"
	"github.com/enfyra/app/store"
)

// Notifier publishes change events. notify.Notifier satisfies it.
type Notifier interface {
	Notify(ctx context.Context, kind, name string)
}

// ExtensionHandler serves extension_definition records. Writes compile the
// submitted code before anything is persisted.
type ExtensionHandler struct {
	records  store.Records
	service  *extension.Service
	notifier Notifier
	logger   *slog.Logger
}

// NewExtensionHandler creates a new ExtensionHandler. notifier may be nil.
func NewExtensionHandler(records store.Records, service *extension.Service, notifier Notifier, logger *slog.Logger) *ExtensionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExtensionHandler{records: records, service: service, notifier: notifier, logger: logger}
}

// List handles GET /extension_definition.
func (h *ExtensionHandler) List(w http.ResponseWriter, r *http.Request) {
	recs, err := h.records.List(r.Context(), store.TableExtensions)
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

// Get handles GET /extension_definition/{id}.
func (h *ExtensionHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.records.Get(r.Context(), store.TableExtensions, r.PathValue("id"))
	if err != nil {
		WriteFailure(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

// Create handles POST /extension_definition.
func (h *ExtensionHandler) Create(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		WriteFailure(w, err)
		return
	}
	if err := h.service.Prepare(r.Context(), body); err != nil {
		h.logger.Info("extension rejected", "extension", body["extensionId"], "error", err)
		WriteFailure(w, err)
		return
	}
	rec, err := h.records.Create(r.Context(), store.TableExtensions, body)
	if err != nil {
		WriteFailure(w, err)
		return
	}
	h.notify(r.Context(), notify.ExtensionUpdated, rec)
	WriteJSON(w, http.StatusCreated, rec)
}

// Update handles PATCH /extension_definition/{id}. The stored record is read
// first so a recompile keeps its extension id.
func (h *ExtensionHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	patch, err := decodeBody(r)
	if err != nil {
		WriteFailure(w, err)
		return
	}
	existing, err := h.records.Get(r.Context(), store.TableExtensions, id)
	if err != nil {
		WriteFailure(w, err)
		return
	}
	if err := h.service.PrepareUpdate(r.Context(), patch, existing); err != nil {
		h.logger.Info("extension update rejected", "extension", existing["extensionId"], "error", err)
		WriteFailure(w, err)
		return
	}
	rec, err := h.records.Update(r.Context(), store.TableExtensions, id, patch)
	if err != nil {
		WriteFailure(w, err)
		return
	}
	h.notify(r.Context(), notify.ExtensionUpdated, rec)
	WriteJSON(w, http.StatusOK, rec)
}

// Delete handles DELETE /extension_definition/{id}.
func (h *ExtensionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existing, err := h.records.Get(r.Context(), store.TableExtensions, id)
	if err != nil {
		WriteFailure(w, err)
		return
	}
	if err := h.records.Delete(r.Context(), store.TableExtensions, id); err != nil {
		WriteFailure(w, err)
		return
	}
	h.notify(r.Context(), notify.ExtensionDeleted, existing)
	w.WriteHeader(http.StatusNoContent)
}

// Preview handles POST /extension_definition/preview. Nothing is stored and
// the result is written without the data envelope.
func (h *ExtensionHandler) Preview(w http.ResponseWriter, r *http.Request) {
	var req extension.PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := h.service.Preview(r.Context(), req)
	if err != nil {
		WriteFailure(w, err)
		return
	}
	writeRaw(w, res)
}

func (h *ExtensionHandler) notify(ctx context.Context, kind string, rec store.Record) {
	if h.notifier == nil {
		return
	}
	name, _ := rec["extensionId"].(string)
	if name == "" {
		return
	}
	h.notifier.Notify(ctx, kind, name)
}
