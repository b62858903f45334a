// Package api provides HTTP response utilities for WellnessPipe.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/WellnessPipe/internal/flow"
	"github.com/BTreeMap/WellnessPipe/internal/models"
)

// Pre-marshaled fallback responses to avoid runtime JSON encoding failures
var (
	fallbackErrorResponse []byte
)

// init validates that our fallback responses can be marshaled
func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSONResponse writes a JSON response to the http.ResponseWriter with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	// Marshal first so encoding errors surface before headers are written
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}

// statusForError maps a turn or store failure onto an HTTP status and a
// client-facing message.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, flow.ErrSessionNotFound):
		return http.StatusNotFound, "Session not found"
	case errors.Is(err, flow.ErrEmptyUtterance), errors.Is(err, models.ErrEmptyText):
		return http.StatusBadRequest, "Message text is required"
	case errors.Is(err, models.ErrTextTooLong):
		return http.StatusBadRequest, models.ErrTextTooLong.Error()
	case errors.Is(err, models.ErrInvalidStage):
		return http.StatusBadRequest, "Unknown stage"
	case errors.Is(err, flow.ErrConfigurationUnavailable):
		return http.StatusServiceUnavailable, "Interview configuration is unavailable, please try again"
	case errors.Is(err, flow.ErrExtractionMalformed):
		return http.StatusBadGateway, "Could not understand the response from the language model, please try again"
	case errors.Is(err, flow.ErrGenerationUnavailable):
		return http.StatusBadGateway, "The language model is unavailable, please try again"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// writeErrorResponse maps err with statusForError and writes the error envelope.
func writeErrorResponse(w http.ResponseWriter, handler string, err error) {
	status, message := statusForError(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Server."+handler+": request failed", "error", err, "status", status)
	} else {
		slog.Warn("Server."+handler+": request rejected", "error", err, "status", status)
	}
	writeJSONResponse(w, status, models.Error(message))
}
