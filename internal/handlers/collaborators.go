package handlers

import (
	"encoding/json"
	"net/http"

	"inkwell-backend/internal/services"
)

// CollaboratorHandler fronts the advisor, the image generator and letter
// e-mail. None of them touch the interaction store directly.
type CollaboratorHandler struct {
	advisor *services.AdvisorService
	images  *services.ImageService
	email   *services.EmailService
}

func NewCollaboratorHandler(advisor *services.AdvisorService, images *services.ImageService, email *services.EmailService) *CollaboratorHandler {
	return &CollaboratorHandler{advisor: advisor, images: images, email: email}
}

func (h *CollaboratorHandler) Advise(w http.ResponseWriter, r *http.Request) {
	var req services.AdvisorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	resp, err := h.advisor.Ask(r.Context(), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *CollaboratorHandler) GenerateImage(w http.ResponseWriter, r *http.Request) {
	var req services.ImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	res, err := h.images.Generate(r.Context(), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *CollaboratorHandler) EmailLetter(w http.ResponseWriter, r *http.Request) {
	var req services.LetterEmail
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	if err := h.email.SendLetter(req); err != nil {
		if _, ok := err.(*services.ValidationError); ok {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusBadGateway, errorResp("EMAIL_FAILED", "The letter could not be sent", r))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "Letter sent"})
}
