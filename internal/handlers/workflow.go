package handlers

import (
	"encoding/json"
	"net/http"

	"inkwell-backend/internal/middleware"
	"inkwell-backend/internal/services"
	"inkwell-backend/internal/workflow"
)

// WorkflowHandler exposes the caller's workflow machine. The user always
// comes from the access token.
type WorkflowHandler struct {
	workflow *services.WorkflowService
}

func NewWorkflowHandler(wf *services.WorkflowService) *WorkflowHandler {
	return &WorkflowHandler{workflow: wf}
}

func (h *WorkflowHandler) Get(w http.ResponseWriter, r *http.Request) {
	snap, err := h.workflow.Current(r.Context(), middleware.GetUsername(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *WorkflowHandler) Fire(w http.ResponseWriter, r *http.Request) {
	var ev workflow.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}
	if ev.Type == "" {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
			map[string]string{"type": "Event type is required"}, r))
		return
	}

	snap, err := h.workflow.Fire(r.Context(), middleware.GetUsername(r.Context()), ev)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
