package handlers

import (
	"net/http"

	"inkwell-backend/internal/services"
)

type WorksHandler struct {
	works *services.WorkService
}

func NewWorksHandler(works *services.WorkService) *WorksHandler {
	return &WorksHandler{works: works}
}

// List serves the "continue your work" screen. Per-kind lists are only
// present for the kinds that were requested and loaded.
func (h *WorksHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	listing, err := h.works.ListWorks(r.Context(), q.Get("user_id"), q.Get("type"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	body := map[string]interface{}{
		"success": true,
		"works":   listing.Works,
	}
	if listing.Stories != nil {
		body["stories"] = listing.Stories
	}
	if listing.Reviews != nil {
		body["reviews"] = listing.Reviews
	}
	if listing.Letters != nil {
		body["letters"] = listing.Letters
	}
	writeJSON(w, http.StatusOK, body)
}
