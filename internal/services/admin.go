package services

import (
	"context"
	"crypto/subtle"
	"fmt"

	"inkwell-backend/internal/logger"
	"inkwell-backend/internal/repository"
)

const (
	ActionClear              = "clear"
	ActionDeleteEmptyReviews = "deleteEmptyReviews"

	// Reviews whose trimmed text is at most this many characters count as empty.
	ShortReviewMaxLength = 50
)

type AdminResult struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	DeletedCount *int   `json:"deletedCount,omitempty"`
}

// AdminService runs the teacher-only bulk actions behind a shared password.
type AdminService struct {
	store    repository.Store
	password string
	log      *logger.Logger
}

func NewAdminService(store repository.Store, password string, log *logger.Logger) *AdminService {
	if log == nil {
		log = logger.Nop()
	}
	return &AdminService{store: store, password: password, log: log}
}

// Run checks the password before touching anything. An empty action means clear.
func (s *AdminService) Run(ctx context.Context, password, action string) (*AdminResult, error) {
	if s.password == "" || subtle.ConstantTimeCompare([]byte(password), []byte(s.password)) != 1 {
		return nil, &UnauthorizedError{Message: "Unauthorized"}
	}

	switch action {
	case "", ActionClear:
		if err := s.store.ClearAll(ctx); err != nil {
			return nil, storeErr("clear interactions", err)
		}
		s.log.Warn("All interactions cleared")
		return &AdminResult{Success: true, Message: "All interactions cleared"}, nil

	case ActionDeleteEmptyReviews:
		n, err := s.store.PurgeShortReviews(ctx, ShortReviewMaxLength)
		if err != nil {
			return nil, storeErr("purge short reviews", err)
		}
		s.log.Warn("Short reviews purged", "deleted", n)
		return &AdminResult{
			Success:      true,
			Message:      fmt.Sprintf("Deleted %d empty book reviews", n),
			DeletedCount: &n,
		}, nil
	}

	return nil, &ValidationError{Fields: map[string]string{
		"action": "action must be clear or deleteEmptyReviews",
	}}
}
