package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"inkwell-backend/internal/models"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
	// ErrUnavailable marks failures worth retrying: timeouts and lost
	// connections.
	ErrUnavailable = errors.New("store unavailable")
)

// ArtifactStore reads and writes stories, reviews and letters. It is
// implemented by the Store itself and by the KeyTx handed to WithKeyTx.
type ArtifactStore interface {
	// Upsert* creates the artifact owned by interactionID or applies patch
	// to the existing one.
	UpsertStory(ctx context.Context, userID, interactionID uuid.UUID, patch models.StoryPatch) (*models.Story, error)
	UpsertReview(ctx context.Context, userID, interactionID uuid.UUID, patch models.ReviewPatch) (*models.Review, error)
	UpsertLetter(ctx context.Context, userID, interactionID uuid.UUID, patch models.LetterPatch) (*models.Letter, error)

	// Update*ByID applies patch to an existing work and re-points it at
	// interactionID. ErrNotFound when the work does not exist.
	UpdateStoryByID(ctx context.Context, id, interactionID uuid.UUID, patch models.StoryPatch) (*models.Story, error)
	UpdateReviewByID(ctx context.Context, id, interactionID uuid.UUID, patch models.ReviewPatch) (*models.Review, error)
	UpdateLetterByID(ctx context.Context, id, interactionID uuid.UUID, patch models.LetterPatch) (*models.Letter, error)

	FindStory(ctx context.Context, id uuid.UUID) (*models.Story, error)
	FindReview(ctx context.Context, id uuid.UUID) (*models.Review, error)
	FindLetter(ctx context.Context, id uuid.UUID) (*models.Letter, error)
}

// KeyTx is the view of the store inside one (user, stage) critical section.
// Writes become visible together when the surrounding WithKeyTx returns nil.
type KeyTx interface {
	ArtifactStore

	// FindReviewDuplicate returns the review-stage interaction of the key's
	// user carrying exactly storyContent, or ErrNotFound.
	FindReviewDuplicate(ctx context.Context, storyContent string) (*models.Interaction, error)
	// LatestForKey returns the newest interaction for the key stamped after
	// since, or ErrNotFound.
	LatestForKey(ctx context.Context, since time.Time) (*models.Interaction, error)
	GetInteraction(ctx context.Context, id uuid.UUID) (*models.Interaction, error)
	CreateInteraction(ctx context.Context, i *models.Interaction) error
	UpdateInteraction(ctx context.Context, i *models.Interaction) error
}

type Store interface {
	ArtifactStore

	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	// CreateUser assigns ID and CreatedAt. ErrConflict when the username is taken.
	CreateUser(ctx context.Context, user *models.User) error
	// UpsertUser creates or overwrites the user with the same username.
	UpsertUser(ctx context.Context, user *models.User) error

	// WithKeyTx runs fn atomically for the (userID, stage) key. Nothing fn
	// wrote is kept when it returns an error.
	WithKeyTx(ctx context.Context, userID uuid.UUID, stage string, fn func(tx KeyTx) error) error

	GetInteraction(ctx context.Context, id uuid.UUID) (*models.Interaction, error)
	// ListInteractionRecords returns interactions newest first, joined with
	// their artifacts. A nil userID lists every user.
	ListInteractionRecords(ctx context.Context, userID *uuid.UUID) ([]models.InteractionRecord, error)

	// List*ByUser return the user's works, most recently updated first.
	ListStoriesByUser(ctx context.Context, userID uuid.UUID) ([]models.Story, error)
	ListReviewsByUser(ctx context.Context, userID uuid.UUID) ([]models.Review, error)
	ListLettersByUser(ctx context.Context, userID uuid.UUID) ([]models.Letter, error)

	BulkClear(ctx context.Context, kind models.RecordKind) error
	// ClearAll removes interactions and every artifact kind at once.
	ClearAll(ctx context.Context) error
	// PurgeShortReviews deletes reviews whose trimmed content has at most
	// minLength characters, together with their interactions.
	PurgeShortReviews(ctx context.Context, minLength int) (int, error)

	Close()
}

// LockKey is the serialization key for a (user, stage) pair.
func LockKey(userID uuid.UUID, stage string) string {
	return userID.String() + "|" + stage
}
