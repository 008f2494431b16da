package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"hochat/internal/loader"
	"hochat/internal/manager"
	"hochat/internal/store"
	"hochat/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSONErrorHint(w, status, msg, "")
}

func writeJSONErrorHint(w http.ResponseWriter, status int, msg, hint string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status, Hint: hint})
}

// statusFor maps service errors to a status code and an optional hint.
func statusFor(err error) (int, string) {
	var he HTTPError
	if errors.As(err, &he) {
		return he.StatusCode(), ""
	}
	var le *loader.LoadError
	switch {
	case manager.IsModelNotFound(err), errors.Is(err, manager.ErrConversationNotFound):
		return http.StatusNotFound, ""
	case manager.IsBusy(err):
		return http.StatusTooManyRequests, ""
	case manager.IsCapabilityUnavailable(err):
		return http.StatusServiceUnavailable, ""
	case manager.IsDuplicateModel(err), errors.Is(err, manager.ErrNoEngine):
		return http.StatusConflict, ""
	case errors.Is(err, manager.ErrImagesUnsupported),
		errors.Is(err, manager.ErrEmptyMessage),
		errors.Is(err, manager.ErrEmptyTitle),
		errors.Is(err, store.ErrImportFormat),
		errors.Is(err, store.ErrInvalidArgument),
		errors.Is(err, store.ErrInvalidRecord):
		return http.StatusBadRequest, ""
	case loader.IsManifestFetchError(err):
		return http.StatusBadGateway, ""
	case errors.As(err, &le):
		return http.StatusInternalServerError, le.Hint
	}
	return http.StatusInternalServerError, ""
}

// writeError maps err and writes it. 429s are counted as backpressure.
func writeError(w http.ResponseWriter, err error) {
	status, hint := statusFor(err)
	if status == http.StatusTooManyRequests {
		IncrementBackpressure("busy")
	}
	writeJSONErrorHint(w, status, err.Error(), hint)
}
