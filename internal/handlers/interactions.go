package handlers

import (
	"encoding/json"
	"net/http"

	"inkwell-backend/internal/models"
	"inkwell-backend/internal/services"
)

type InteractionHandler struct {
	interactions *services.InteractionService
	admin        *services.AdminService
}

func NewInteractionHandler(interactions *services.InteractionService, admin *services.AdminService) *InteractionHandler {
	return &InteractionHandler{interactions: interactions, admin: admin}
}

// List returns interactions newest first. user_id is a username; without
// it, or for an unknown user, every user's interactions are listed.
func (h *InteractionHandler) List(w http.ResponseWriter, r *http.Request) {
	views, err := h.interactions.List(r.Context(), r.URL.Query().Get("user_id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"interactions": views})
}

func (h *InteractionHandler) Save(w http.ResponseWriter, r *http.Request) {
	var req models.WriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	cmd, err := services.ParseWriteRequest(req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	res, err := h.interactions.Save(r.Context(), cmd)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	body := map[string]interface{}{
		"success":     true,
		"interaction": models.NewInteractionViewFor(res.Interaction, res.Username),
		"outcome":     res.Outcome,
	}
	if res.Work != nil {
		body["work"] = res.Work
	}
	writeJSON(w, http.StatusOK, body)
}

// Delete runs an admin action. The password travels as a query parameter
// and is redacted from logs.
func (h *InteractionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := h.admin.Run(r.Context(), q.Get("password"), q.Get("action"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
