// Package api provides HTTP handlers for WellnessPipe endpoints.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/WellnessPipe/internal/models"
)

// startSessionHandler handles POST /sessions.
func (s *Server) startSessionHandler(w http.ResponseWriter, r *http.Request) {
	sessionID, progress, intro, err := s.sessions.Start(r.Context())
	if err != nil {
		writeErrorResponse(w, "startSessionHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, models.Success(models.SessionStarted{
		SessionID: sessionID,
		Stage:     progress.CurrentStage,
		Message:   intro,
	}))
}

// messageHandler handles POST /sessions/{id}/messages.
func (s *Server) messageHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	var req models.MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.messageHandler: invalid JSON", "error", err, "sessionID", sessionID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		writeErrorResponse(w, "messageHandler", err)
		return
	}

	result, err := s.sessions.Respond(r.Context(), sessionID, req.Text)
	if err != nil {
		writeErrorResponse(w, "messageHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(models.TurnResponse{
		Stage:      result.Progress.CurrentStage,
		Advanced:   result.Advanced,
		Completed:  result.Progress.IsFinished(),
		Message:    result.BotResponse,
		Extraction: result.Extraction,
	}))
}

// progressHandler handles GET /sessions/{id}.
func (s *Server) progressHandler(w http.ResponseWriter, r *http.Request) {
	progress, err := s.sessions.Progress(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErrorResponse(w, "progressHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(progress))
}

// resultHandler handles GET /sessions/{id}/result.
func (s *Server) resultHandler(w http.ResponseWriter, r *http.Request) {
	data, err := s.sessions.Result(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErrorResponse(w, "resultHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(data))
}

// resetHandler handles DELETE /sessions/{id}.
func (s *Server) resetHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Reset(r.Context(), r.PathValue("id")); err != nil {
		writeErrorResponse(w, "resetHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session deleted", nil))
}

// introductionHandler handles GET /stages/{stage}/introduction.
func (s *Server) introductionHandler(w http.ResponseWriter, r *http.Request) {
	stage, err := models.ParseStage(r.PathValue("stage"))
	if err != nil {
		writeErrorResponse(w, "introductionHandler", err)
		return
	}
	intro, err := s.sessions.Engine().StageIntroduction(r.Context(), stage)
	if err != nil {
		writeErrorResponse(w, "introductionHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(models.StageIntroduction{Stage: stage, Introduction: intro}))
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Service is healthy", nil))
}
