package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ccdesk/ccdesk/internal/conversation"
	"github.com/ccdesk/ccdesk/internal/session"
)

// snapshot collects the controller's current view.
func (s *Server) snapshot() Snapshot {
	return Snapshot{
		Project:      s.ctrl.Project(),
		State:        s.ctrl.State(),
		ApprovalMode: s.ctrl.ApprovalMode(),
		Turns:        s.ctrl.Turns(),
		Pending:      s.ctrl.PendingPermissions(),
	}
}

// GET /api/history
func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshot())
}

// DELETE /api/history
func (s *Server) clearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.ClearHistory(); err != nil {
		s.writeControllerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/prompt
func (s *Server) postPrompt(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if !parseJSONBody(w, r, &req) {
		return
	}
	if err := s.ctrl.Submit(r.Context(), req.Prompt); err != nil {
		s.writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, statePayload{State: s.ctrl.State()})
}

// POST /api/stop
func (s *Server) postStop(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Stop(); err != nil {
		s.writeControllerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/retry/{turnID}
func (s *Server) postRetry(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Retry(r.Context(), chi.URLParam(r, "turnID")); err != nil {
		s.writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, statePayload{State: s.ctrl.State()})
}

// POST /api/permissions/{id}
func (s *Server) postPermission(w http.ResponseWriter, r *http.Request) {
	var req permissionAnswer
	if !parseJSONBody(w, r, &req) {
		return
	}
	if err := s.answer(chi.URLParam(r, "id"), req.Approve); err != nil {
		s.writeControllerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/project
func (s *Server) postProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if !parseJSONBody(w, r, &req) {
		return
	}
	if req.Dir == "" {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_request", "dir is required")
		return
	}
	if err := s.ctrl.SwitchProject(req.Dir); err != nil {
		s.writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) answer(id string, approve bool) error {
	if approve {
		return s.ctrl.Approve(id)
	}
	return s.ctrl.Deny(id)
}

// errorStatus maps controller errors to an HTTP status and error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrEmptyPrompt):
		return http.StatusBadRequest, "empty_prompt"
	case errors.Is(err, session.ErrBusy):
		return http.StatusConflict, "busy"
	case errors.Is(err, session.ErrNotRunning):
		return http.StatusConflict, "not_running"
	case errors.Is(err, session.ErrNoProject):
		return http.StatusConflict, "no_project"
	case errors.Is(err, session.ErrTurnNotRetryable):
		return http.StatusConflict, "not_retryable"
	case errors.Is(err, conversation.ErrTurnNotFound):
		return http.StatusNotFound, "turn_not_found"
	case errors.Is(err, session.ErrPermissionNotFound):
		return http.StatusNotFound, "permission_not_found"
	case errors.Is(err, session.ErrStartFailed):
		return http.StatusBadGateway, "start_failed"
	case errors.Is(err, conversation.ErrStoreClosed):
		return http.StatusServiceUnavailable, "closed"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) writeControllerError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	writeErrorJSON(w, status, code, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeErrorJSON(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error":   code,
		"message": message,
	})
}

// parseJSONBody decodes the body into v. On failure it writes a 400 and
// returns false.
func parseJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(v); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_request", "invalid request body: "+err.Error())
		return false
	}
	return true
}

const maxBodySize = 1 << 20
