package services

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"inkwell-backend/internal/logger"
	"inkwell-backend/internal/models"
	"inkwell-backend/internal/repository"
)

const previewLength = 100

// WorkListing is everything the "continue your work" screen needs. The
// per-kind slices are nil when that kind was not requested or failed to load.
type WorkListing struct {
	Works   []models.WorkSummary
	Stories []models.Story
	Reviews []models.Review
	Letters []models.Letter
}

type WorkService struct {
	store repository.Store
	log   *logger.Logger
}

func NewWorkService(store repository.Store, log *logger.Logger) *WorkService {
	if log == nil {
		log = logger.Nop()
	}
	return &WorkService{store: store, log: log}
}

// ListWorks loads the user's stories, reviews and letters concurrently.
// kind is "all" (or empty), "story", "review" or "letter". A kind that
// fails to load is left out rather than failing the listing.
func (s *WorkService) ListWorks(ctx context.Context, username, kind string) (*WorkListing, error) {
	if strings.TrimSpace(username) == "" {
		return nil, &ValidationError{Fields: map[string]string{"user_id": "user_id is required"}}
	}
	if kind == "" {
		kind = "all"
	}
	if kind != "all" && kind != string(models.KindStory) && kind != string(models.KindReview) && kind != string(models.KindLetter) {
		return nil, &ValidationError{Fields: map[string]string{"type": "type must be all, story, review or letter"}}
	}

	user, err := s.store.GetUserByUsername(ctx, username)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Message: "User not found"}
	}
	if err != nil {
		return nil, storeErr("look up user", err)
	}

	return s.listForUser(ctx, user.ID, kind), nil
}

// ListWorksByID is used where the caller already holds the user record.
func (s *WorkService) ListWorksByID(ctx context.Context, userID uuid.UUID) *WorkListing {
	return s.listForUser(ctx, userID, "all")
}

func (s *WorkService) listForUser(ctx context.Context, userID uuid.UUID, kind string) *WorkListing {
	want := func(k models.RecordKind) bool { return kind == "all" || kind == string(k) }
	listing := &WorkListing{}

	var g errgroup.Group
	if want(models.KindStory) {
		g.Go(func() error {
			stories, err := s.store.ListStoriesByUser(ctx, userID)
			if err != nil {
				s.log.Error("Failed to load stories", "user_uuid", userID, "error", err)
				return nil
			}
			listing.Stories = stories
			return nil
		})
	}
	if want(models.KindReview) {
		g.Go(func() error {
			reviews, err := s.store.ListReviewsByUser(ctx, userID)
			if err != nil {
				s.log.Error("Failed to load reviews", "user_uuid", userID, "error", err)
				return nil
			}
			listing.Reviews = reviews
			return nil
		})
	}
	if want(models.KindLetter) {
		g.Go(func() error {
			letters, err := s.store.ListLettersByUser(ctx, userID)
			if err != nil {
				s.log.Error("Failed to load letters", "user_uuid", userID, "error", err)
				return nil
			}
			listing.Letters = letters
			return nil
		})
	}
	g.Wait()

	works := make([]models.WorkSummary, 0, len(listing.Stories)+len(listing.Reviews)+len(listing.Letters))
	for _, st := range listing.Stories {
		works = append(works, SummarizeStory(st))
	}
	for _, r := range listing.Reviews {
		works = append(works, SummarizeReview(r))
	}
	for _, l := range listing.Letters {
		works = append(works, SummarizeLetter(l))
	}
	sort.SliceStable(works, func(i, j int) bool { return works[i].UpdatedAt.After(works[j].UpdatedAt) })
	listing.Works = works
	return listing
}

func SummarizeStory(st models.Story) models.WorkSummary {
	var character struct {
		Name string `json:"name"`
	}
	if len(st.Character) > 0 {
		// A character that is not an object just has no name.
		_ = json.Unmarshal(st.Character, &character)
	}
	name := character.Name
	return models.WorkSummary{
		ID:            st.ID,
		Kind:          models.KindStory,
		InteractionID: st.InteractionID,
		Title:         "Story: " + orDefault(name, "Untitled"),
		Preview:       preview(st.Content),
		CreatedAt:     st.CreatedAt,
		UpdatedAt:     st.UpdatedAt,
		Data:          st,
	}
}

func SummarizeReview(r models.Review) models.WorkSummary {
	return models.WorkSummary{
		ID:            r.ID,
		Kind:          models.KindReview,
		InteractionID: r.InteractionID,
		Title:         orDefault(r.ReviewType, "Review") + ": " + orDefault(r.BookTitle, "Untitled"),
		Preview:       preview(r.Content),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		Data:          r,
	}
}

func SummarizeLetter(l models.Letter) models.WorkSummary {
	return models.WorkSummary{
		ID:            l.ID,
		Kind:          models.KindLetter,
		InteractionID: l.InteractionID,
		Title:         "Letter to " + orDefault(l.Recipient, "Unknown"),
		Preview:       preview(l.Content),
		CreatedAt:     l.CreatedAt,
		UpdatedAt:     l.UpdatedAt,
		Data:          l,
	}
}

func preview(content string) string {
	if content == "" {
		return "No content yet"
	}
	runes := []rune(content)
	if len(runes) <= previewLength {
		return content
	}
	return string(runes[:previewLength])
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
