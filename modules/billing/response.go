package billing

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrymomot/billingkit/pkg/billing"
)

// jsonResponse is the envelope every endpoint writes.
type jsonResponse struct {
	Data  any            `json:"data,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
	Error *errorDetail   `json:"error,omitempty"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body jsonResponse) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeData(w http.ResponseWriter, status int, data any, meta map[string]any) {
	writeJSON(w, status, jsonResponse{Data: data, Meta: meta})
}

// writeError maps engine error categories to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status, code := classifyError(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = http.StatusText(status)
	}
	writeJSON(w, status, jsonResponse{Error: &errorDetail{Code: code, Message: message}})
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, billing.ErrSweepInProgress):
		return http.StatusConflict, "sweep_in_progress"
	case errors.Is(err, billing.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, billing.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, billing.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, billing.ErrValidation):
		return http.StatusUnprocessableEntity, "validation_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
