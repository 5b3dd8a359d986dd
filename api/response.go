package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/enfyra/app/apperr"
	"github.com/enfyra/app/store"
)

// envelope is a standard JSON response wrapper.
type envelope struct {
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Data: data})
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Error: message})
}

// WriteFailure writes err with the status it carries. Store sentinels map to
// 404 and 409; anything unclassified is a 500 with the original message.
func WriteFailure(w http.ResponseWriter, err error) {
	WriteError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	var ae *apperr.Error
	switch {
	case errors.As(err, &ae) && ae.Status != 0:
		return ae.Status
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict
	}
	return apperr.StatusOf(err)
}

// decodeBody reads a JSON object body. A malformed body is a 400.
func decodeBody(r *http.Request) (map[string]any, error) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, apperr.BadRequest("invalid request body: %v", err)
	}
	if body == nil {
		return nil, apperr.BadRequest("request body must be a JSON object")
	}
	return body, nil
}
