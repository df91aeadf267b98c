// Package handlers provides HTTP API handlers for tubemux.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/tubemux/tubemux/internal/models"
)

// errorBody is the wire shape of every error response:
// {"error":{"class":"...","detail":"..."}}.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Class  string `json:"class"`
	Detail string `json:"detail"`
}

// statusForClass maps an error classification to an HTTP status code.
func statusForClass(class models.ErrorClass) int {
	switch class {
	case models.ErrClassInput, models.ErrClassNoURL, models.ErrClassMissingParameters:
		return http.StatusBadRequest
	case models.ErrClassFormatNotFound, models.ErrClassNoFormats:
		return http.StatusNotFound
	case models.ErrClassRateLimited:
		return http.StatusTooManyRequests
	case models.ErrClassUpstreamUnavailable, models.ErrClassUpstreamData:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as the structured error JSON. Must be called
// before any body bytes have been written.
func writeError(w http.ResponseWriter, err error) {
	class, _ := models.ClassOf(err)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusForClass(class))
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Class:  string(class),
			Detail: models.DetailOf(err),
		},
	})
}

// parseKind reads the kind query parameter, defaulting to video.
func parseKind(raw string) (models.Kind, error) {
	if raw == "" {
		return models.KindVideo, nil
	}
	kind := models.Kind(raw)
	if !kind.IsValid() {
		return "", models.NewError(models.ErrClassInput, "Unknown kind: "+raw)
	}
	return kind, nil
}
