package services

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"inkwell-backend/internal/keylock"
	"inkwell-backend/internal/logger"
	"inkwell-backend/internal/models"
	"inkwell-backend/internal/repository"
	"inkwell-backend/internal/workflow"
)

// WorkflowService keeps one workflow machine per user and applies events to
// it, loading whatever the event needs from the store first.
type WorkflowService struct {
	sessions workflow.Sessions
	store    repository.Store
	locks    keylock.Locker
	log      *logger.Logger
}

func NewWorkflowService(sessions workflow.Sessions, store repository.Store, locks keylock.Locker, log *logger.Logger) *WorkflowService {
	if sessions == nil {
		sessions = workflow.NewMemorySessions()
	}
	if locks == nil {
		locks = keylock.NewMutex()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &WorkflowService{sessions: sessions, store: store, locks: locks, log: log}
}

// Current returns the user's machine, or a fresh one at login.
func (s *WorkflowService) Current(ctx context.Context, username string) (workflow.Snapshot, error) {
	m, err := s.load(ctx, username)
	if err != nil {
		return workflow.Snapshot{}, err
	}
	return m.Snapshot(), nil
}

// Fire applies ev to the user's machine and persists the result. Machine
// errors (*workflow.TransitionError, *workflow.GuardError,
// *workflow.AccessError) are returned as they are and leave the session
// untouched.
func (s *WorkflowService) Fire(ctx context.Context, username string, ev workflow.Event) (workflow.Snapshot, error) {
	if strings.TrimSpace(username) == "" {
		return workflow.Snapshot{}, &ValidationError{Fields: map[string]string{"user_id": "User is required"}}
	}

	unlock, err := s.locks.Lock(ctx, "workflow|"+username)
	if err != nil {
		return workflow.Snapshot{}, &StoreError{Op: "acquire workflow lock", Err: err}
	}
	defer unlock()

	m, err := s.load(ctx, username)
	if err != nil {
		return workflow.Snapshot{}, err
	}

	switch ev.Type {
	case workflow.EventLogin:
		user, err := s.user(ctx, username)
		if err != nil {
			return workflow.Snapshot{}, err
		}
		ev.User = &workflow.User{Username: user.Username, Role: user.Role, NoAI: user.NoAI}
	case workflow.EventResume:
		work, err := s.savedWork(ctx, username, ev)
		if err != nil {
			return workflow.Snapshot{}, err
		}
		ev.Work = work
	}

	from := m.State
	if err := m.Fire(ev); err != nil {
		s.log.Debug("Workflow event rejected", "user_id", username, "state", string(from), "event", string(ev.Type), "error", err)
		return workflow.Snapshot{}, err
	}

	if m.State == workflow.StateLogin {
		if err := s.sessions.Delete(ctx, username); err != nil {
			return workflow.Snapshot{}, &StoreError{Op: "delete workflow session", Err: err}
		}
	} else if err := s.sessions.Save(ctx, username, m); err != nil {
		return workflow.Snapshot{}, &StoreError{Op: "save workflow session", Err: err}
	}

	s.log.Debug("Workflow transition", "user_id", username, "from", string(from), "event", string(ev.Type), "to", string(m.State))
	return m.Snapshot(), nil
}

func (s *WorkflowService) load(ctx context.Context, username string) (*workflow.Machine, error) {
	m, err := s.sessions.Load(ctx, username)
	if errors.Is(err, workflow.ErrNoSession) {
		return workflow.New(), nil
	}
	if err != nil {
		return nil, &StoreError{Op: "load workflow session", Err: err}
	}
	return m, nil
}

func (s *WorkflowService) user(ctx context.Context, username string) (*models.User, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Message: "User not found"}
	}
	if err != nil {
		return nil, storeErr("look up user", err)
	}
	return user, nil
}

// savedWork loads the work a resume event names. Works owned by someone
// else are reported as missing.
func (s *WorkflowService) savedWork(ctx context.Context, username string, ev workflow.Event) (*workflow.SavedWork, error) {
	id, err := uuid.Parse(ev.WorkID)
	if err != nil {
		return nil, &ValidationError{Fields: map[string]string{"workId": "Invalid work id"}}
	}
	user, err := s.user(ctx, username)
	if err != nil {
		return nil, err
	}

	work := &workflow.SavedWork{ID: id}
	var owner uuid.UUID
	switch ev.Kind {
	case models.KindStory:
		if work.Story, err = s.store.FindStory(ctx, id); err == nil {
			owner = work.Story.UserID
		}
	case models.KindReview:
		if work.Review, err = s.store.FindReview(ctx, id); err == nil {
			owner = work.Review.UserID
		}
	case models.KindLetter:
		if work.Letter, err = s.store.FindLetter(ctx, id); err == nil {
			owner = work.Letter.UserID
		}
	default:
		return nil, &ValidationError{Fields: map[string]string{"kind": "Must be story, review or letter"}}
	}
	if errors.Is(err, repository.ErrNotFound) || (err == nil && owner != user.ID) {
		return nil, &NotFoundError{Message: "Work not found"}
	}
	if err != nil {
		return nil, storeErr("load work", err)
	}
	return work, nil
}
