package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"inkwell-backend/internal/keylock"
	"inkwell-backend/internal/logger"
	"inkwell-backend/internal/models"
	"inkwell-backend/internal/repository"
)

// FeedPublisher pushes saved interactions to live teacher dashboards.
type FeedPublisher interface {
	Publish(ctx context.Context, msg models.WSMessage) error
}

type InteractionService struct {
	store repository.Store
	locks keylock.Locker
	agg   *Aggregator
	feed  FeedPublisher
	log   *logger.Logger
}

func NewInteractionService(store repository.Store, locks keylock.Locker, agg *Aggregator, feed FeedPublisher, log *logger.Logger) *InteractionService {
	if locks == nil {
		locks = keylock.NewMutex()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &InteractionService{store: store, locks: locks, agg: agg, feed: feed, log: log}
}

type SaveResult struct {
	Interaction *models.Interaction
	Username    string
	Outcome     Outcome
	// Work is the stored *models.Story, *models.Review or *models.Letter, if any.
	Work interface{}
}

// Save runs one write through the aggregator and stores its artifact, all
// under the (user, stage) lock. With a work id it edits that work in place
// instead; an unknown or foreign work id falls back to the normal path.
func (s *InteractionService) Save(ctx context.Context, cmd *models.WriteCommand) (*SaveResult, error) {
	user, err := s.resolveUser(ctx, cmd.Username)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locks.Lock(ctx, repository.LockKey(user.ID, cmd.Stage))
	if err != nil {
		return nil, &StoreError{Op: "acquire interaction lock", Err: err}
	}
	defer unlock()

	res := &SaveResult{Username: user.Username}
	err = s.store.WithKeyTx(ctx, user.ID, cmd.Stage, func(tx repository.KeyTx) error {
		if cmd.WorkID != nil {
			edited, err := s.applyEdit(ctx, tx, user, cmd)
			if err != nil {
				return err
			}
			if edited != nil {
				*res = *edited
				res.Username = user.Username
				return nil
			}
		}

		inter, outcome, err := s.agg.Apply(ctx, tx, AggregateRequest{
			UserID:       user.ID,
			Stage:        cmd.Stage,
			Input:        cmd.Input,
			Output:       cmd.Output,
			APICalls:     cmd.APICalls,
			StoryContent: cmd.StoryContent,
			At:           cmd.At,
		})
		if err != nil {
			return err
		}
		res.Interaction, res.Outcome = inter, outcome

		if cmd.Work != nil {
			work, err := upsertWork(ctx, tx, user.ID, inter.ID, cmd.Work)
			if err != nil {
				return err
			}
			res.Work = work
		}
		return nil
	})
	if err != nil {
		return nil, storeErr("save interaction", err)
	}

	s.log.Info("Interaction saved",
		"user_id", user.Username,
		"stage", cmd.Stage,
		"interaction_id", res.Interaction.ID,
		"outcome", string(res.Outcome),
	)
	s.publish(ctx, res, cmd.Work)
	return res, nil
}

// RecordAPICall logs a finished collaborator call against (username, stage)
// as of at, the moment the call was made.
func (s *InteractionService) RecordAPICall(ctx context.Context, username, stage string, call models.APICall, at time.Time) error {
	if username == "" {
		s.log.Warn("Skipping api call log without user", "stage", stage, "endpoint", call.Endpoint)
		return nil
	}
	_, err := s.Save(ctx, &models.WriteCommand{
		Username: username,
		Stage:    stage,
		Input:    models.Payload{},
		Output:   models.Payload{},
		APICalls: []models.APICall{call},
		At:       at,
	})
	return err
}

// List returns interactions newest first. An empty or unknown username
// lists every user.
func (s *InteractionService) List(ctx context.Context, username string) ([]models.InteractionView, error) {
	var userID *uuid.UUID
	if username != "" {
		user, err := s.store.GetUserByUsername(ctx, username)
		switch {
		case err == nil:
			userID = &user.ID
		case errors.Is(err, repository.ErrNotFound):
		default:
			return nil, storeErr("look up user", err)
		}
	}

	records, err := s.store.ListInteractionRecords(ctx, userID)
	if err != nil {
		return nil, storeErr("list interactions", err)
	}
	views := make([]models.InteractionView, 0, len(records))
	for _, rec := range records {
		views = append(views, models.NewInteractionView(rec))
	}
	return views, nil
}

// resolveUser finds the user by name, creating a student record on first
// sight. Auto-created users have no password and cannot log in.
func (s *InteractionService) resolveUser(ctx context.Context, username string) (*models.User, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, storeErr("look up user", err)
	}

	user = &models.User{Username: username, Role: models.RoleStudent}
	err = s.store.CreateUser(ctx, user)
	if errors.Is(err, repository.ErrConflict) {
		// Lost a race with a concurrent first write.
		user, err = s.store.GetUserByUsername(ctx, username)
	}
	if err != nil {
		return nil, storeErr("create user", err)
	}
	s.log.Warn("Auto-created student for unknown user", "user_id", username)
	return user, nil
}

func (s *InteractionService) applyEdit(ctx context.Context, tx repository.KeyTx, user *models.User, cmd *models.WriteCommand) (*SaveResult, error) {
	workID := *cmd.WorkID

	var owner, interactionID uuid.UUID
	var err error
	switch cmd.Work.(type) {
	case models.StoryPatch:
		var st *models.Story
		if st, err = tx.FindStory(ctx, workID); err == nil {
			owner, interactionID = st.UserID, st.InteractionID
		}
	case models.ReviewPatch:
		var r *models.Review
		if r, err = tx.FindReview(ctx, workID); err == nil {
			owner, interactionID = r.UserID, r.InteractionID
		}
	case models.LetterPatch:
		var l *models.Letter
		if l, err = tx.FindLetter(ctx, workID); err == nil {
			owner, interactionID = l.UserID, l.InteractionID
		}
	default:
		return nil, fmt.Errorf("unsupported work payload %T", cmd.Work)
	}
	if errors.Is(err, repository.ErrNotFound) {
		s.log.Warn("Work to edit not found, saving as new", "work_id", workID, "kind", string(cmd.Work.Kind()))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if owner != user.ID {
		s.log.Warn("Work belongs to another user, saving as new", "work_id", workID, "user_id", user.Username)
		return nil, nil
	}

	inter, err := tx.GetInteraction(ctx, interactionID)
	if err != nil {
		return nil, err
	}
	inter.Stage = cmd.Stage
	inter.Input = cmd.Input
	inter.Output = cmd.Output
	inter.APICalls = append(inter.APICalls, cmd.APICalls...)
	inter.Timestamp = s.agg.Now()
	if err := tx.UpdateInteraction(ctx, inter); err != nil {
		return nil, err
	}

	var work interface{}
	switch p := cmd.Work.(type) {
	case models.StoryPatch:
		work, err = tx.UpdateStoryByID(ctx, workID, inter.ID, p)
	case models.ReviewPatch:
		work, err = tx.UpdateReviewByID(ctx, workID, inter.ID, p)
	case models.LetterPatch:
		work, err = tx.UpdateLetterByID(ctx, workID, inter.ID, p)
	}
	if err != nil {
		return nil, err
	}
	return &SaveResult{Interaction: inter, Outcome: OutcomeEdited, Work: work}, nil
}

func upsertWork(ctx context.Context, tx repository.ArtifactStore, userID, interactionID uuid.UUID, work models.WorkPayload) (interface{}, error) {
	switch p := work.(type) {
	case models.StoryPatch:
		return tx.UpsertStory(ctx, userID, interactionID, p)
	case models.ReviewPatch:
		return tx.UpsertReview(ctx, userID, interactionID, p)
	case models.LetterPatch:
		return tx.UpsertLetter(ctx, userID, interactionID, p)
	}
	return nil, fmt.Errorf("unsupported work payload %T", work)
}

func (s *InteractionService) publish(ctx context.Context, res *SaveResult, work models.WorkPayload) {
	if s.feed == nil {
		return
	}
	event := models.InteractionSaved{
		Interaction: models.NewInteractionViewFor(res.Interaction, res.Username),
		Outcome:     string(res.Outcome),
	}
	if work != nil {
		event.Kind = work.Kind()
	}
	if err := s.feed.Publish(ctx, models.WSMessage{Type: "interaction_saved", Payload: event}); err != nil {
		s.log.Warn("Failed to publish interaction", "interaction_id", res.Interaction.ID, "error", err)
	}
}
