package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"inkwell-backend/internal/models"
)

// MemStore keeps every record in process memory. Writers hold the write
// lock for the whole of a WithKeyTx callback and roll back through an undo
// journal on error; readers take snapshots under the read lock.
type MemStore struct {
	mu  sync.RWMutex
	now func() time.Time

	users        map[uuid.UUID]*models.User
	usernames    map[string]uuid.UUID
	interactions map[uuid.UUID]*models.Interaction

	stories             map[uuid.UUID]*models.Story
	reviews             map[uuid.UUID]*models.Review
	letters             map[uuid.UUID]*models.Letter
	storyByInteraction  map[uuid.UUID]uuid.UUID
	reviewByInteraction map[uuid.UUID]uuid.UUID
	letterByInteraction map[uuid.UUID]uuid.UUID
}

func NewMemStore() *MemStore {
	return &MemStore{
		now:                 time.Now,
		users:               make(map[uuid.UUID]*models.User),
		usernames:           make(map[string]uuid.UUID),
		interactions:        make(map[uuid.UUID]*models.Interaction),
		stories:             make(map[uuid.UUID]*models.Story),
		reviews:             make(map[uuid.UUID]*models.Review),
		letters:             make(map[uuid.UUID]*models.Letter),
		storyByInteraction:  make(map[uuid.UUID]uuid.UUID),
		reviewByInteraction: make(map[uuid.UUID]uuid.UUID),
		letterByInteraction: make(map[uuid.UUID]uuid.UUID),
	}
}

// SetClock replaces the clock used for artifact created/updated stamps.
func (s *MemStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *MemStore) Close() {}

// ──── Users ────

func (s *MemStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usernames[username]
	if !ok {
		return nil, ErrNotFound
	}
	u := *s.users[id]
	return &u, nil
}

func (s *MemStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *u
	return &out, nil
}

func (s *MemStore) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.usernames[user.Username]; taken {
		return fmt.Errorf("username %q: %w", user.Username, ErrConflict)
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.CreatedAt = s.now()
	u := *user
	s.users[u.ID] = &u
	s.usernames[u.Username] = u.ID
	return nil
}

func (s *MemStore) UpsertUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.usernames[user.Username]; ok {
		existing := s.users[id]
		user.ID = existing.ID
		user.CreatedAt = existing.CreatedAt
	} else {
		user.ID = uuid.New()
		user.CreatedAt = s.now()
	}
	u := *user
	s.users[u.ID] = &u
	s.usernames[u.Username] = u.ID
	return nil
}

// ──── Interactions ────

// WithKeyTx runs fn under the store-wide write lock, so writes to unrelated
// keys queue behind each other. fn must only touch tx: callers publish and
// call collaborators after it returns.
func (s *MemStore) WithKeyTx(ctx context.Context, userID uuid.UUID, stage string, fn func(tx KeyTx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return s.write(userID, stage, func(tx *memTx) error { return fn(tx) })
}

func (s *MemStore) GetInteraction(ctx context.Context, id uuid.UUID) (*models.Interaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.interactions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return i.Clone(), nil
}

func (s *MemStore) ListInteractionRecords(ctx context.Context, userID *uuid.UUID) ([]models.InteractionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]models.InteractionRecord, 0, len(s.interactions))
	for _, i := range s.interactions {
		if userID != nil && i.UserID != *userID {
			continue
		}
		rec := models.InteractionRecord{Interaction: *i.Clone()}
		if u, ok := s.users[i.UserID]; ok {
			rec.Username = u.Username
		}
		if id, ok := s.storyByInteraction[i.ID]; ok {
			rec.Story = cloneStory(s.stories[id])
		}
		if id, ok := s.reviewByInteraction[i.ID]; ok {
			rec.Review = cloneReview(s.reviews[id])
		}
		if id, ok := s.letterByInteraction[i.ID]; ok {
			rec.Letter = cloneLetter(s.letters[id])
		}
		records = append(records, rec)
	}
	sort.SliceStable(records, func(a, b int) bool {
		return records[a].Timestamp.After(records[b].Timestamp)
	})
	return records, nil
}

// ──── Artifacts ────

func (s *MemStore) UpsertStory(ctx context.Context, userID, interactionID uuid.UUID, patch models.StoryPatch) (out *models.Story, err error) {
	err = s.write(userID, "", func(tx *memTx) error {
		out, err = tx.UpsertStory(ctx, userID, interactionID, patch)
		return err
	})
	return out, err
}

func (s *MemStore) UpsertReview(ctx context.Context, userID, interactionID uuid.UUID, patch models.ReviewPatch) (out *models.Review, err error) {
	err = s.write(userID, "", func(tx *memTx) error {
		out, err = tx.UpsertReview(ctx, userID, interactionID, patch)
		return err
	})
	return out, err
}

func (s *MemStore) UpsertLetter(ctx context.Context, userID, interactionID uuid.UUID, patch models.LetterPatch) (out *models.Letter, err error) {
	err = s.write(userID, "", func(tx *memTx) error {
		out, err = tx.UpsertLetter(ctx, userID, interactionID, patch)
		return err
	})
	return out, err
}

func (s *MemStore) UpdateStoryByID(ctx context.Context, id, interactionID uuid.UUID, patch models.StoryPatch) (out *models.Story, err error) {
	err = s.write(uuid.Nil, "", func(tx *memTx) error {
		out, err = tx.UpdateStoryByID(ctx, id, interactionID, patch)
		return err
	})
	return out, err
}

func (s *MemStore) UpdateReviewByID(ctx context.Context, id, interactionID uuid.UUID, patch models.ReviewPatch) (out *models.Review, err error) {
	err = s.write(uuid.Nil, "", func(tx *memTx) error {
		out, err = tx.UpdateReviewByID(ctx, id, interactionID, patch)
		return err
	})
	return out, err
}

func (s *MemStore) UpdateLetterByID(ctx context.Context, id, interactionID uuid.UUID, patch models.LetterPatch) (out *models.Letter, err error) {
	err = s.write(uuid.Nil, "", func(tx *memTx) error {
		out, err = tx.UpdateLetterByID(ctx, id, interactionID, patch)
		return err
	})
	return out, err
}

func (s *MemStore) FindStory(ctx context.Context, id uuid.UUID) (*models.Story, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&memTx{s: s}).FindStory(ctx, id)
}

func (s *MemStore) FindReview(ctx context.Context, id uuid.UUID) (*models.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&memTx{s: s}).FindReview(ctx, id)
}

func (s *MemStore) FindLetter(ctx context.Context, id uuid.UUID) (*models.Letter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&memTx{s: s}).FindLetter(ctx, id)
}

func (s *MemStore) ListStoriesByUser(ctx context.Context, userID uuid.UUID) ([]models.Story, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Story{}
	for _, st := range s.stories {
		if st.UserID == userID {
			out = append(out, *cloneStory(st))
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].UpdatedAt.After(out[b].UpdatedAt) })
	return out, nil
}

func (s *MemStore) ListReviewsByUser(ctx context.Context, userID uuid.UUID) ([]models.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Review{}
	for _, r := range s.reviews {
		if r.UserID == userID {
			out = append(out, *cloneReview(r))
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].UpdatedAt.After(out[b].UpdatedAt) })
	return out, nil
}

func (s *MemStore) ListLettersByUser(ctx context.Context, userID uuid.UUID) ([]models.Letter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Letter{}
	for _, l := range s.letters {
		if l.UserID == userID {
			out = append(out, *cloneLetter(l))
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].UpdatedAt.After(out[b].UpdatedAt) })
	return out, nil
}

// ──── Admin ────

func (s *MemStore) BulkClear(ctx context.Context, kind models.RecordKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch kind {
	case models.KindInteraction:
		// Artifacts cannot outlive their interaction.
		s.interactions = make(map[uuid.UUID]*models.Interaction)
		s.clearStories()
		s.clearReviews()
		s.clearLetters()
	case models.KindStory:
		s.clearStories()
	case models.KindReview:
		s.clearReviews()
	case models.KindLetter:
		s.clearLetters()
	default:
		return fmt.Errorf("unknown record kind %q", kind)
	}
	return nil
}

func (s *MemStore) ClearAll(ctx context.Context) error {
	return s.BulkClear(ctx, models.KindInteraction)
}

func (s *MemStore) PurgeShortReviews(ctx context.Context, minLength int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for _, r := range s.reviews {
		if utf8.RuneCountInString(strings.TrimSpace(r.Content)) > minLength {
			continue
		}
		s.deleteInteraction(r.InteractionID)
		deleted++
	}
	return deleted, nil
}

func (s *MemStore) clearStories() {
	s.stories = make(map[uuid.UUID]*models.Story)
	s.storyByInteraction = make(map[uuid.UUID]uuid.UUID)
}

func (s *MemStore) clearReviews() {
	s.reviews = make(map[uuid.UUID]*models.Review)
	s.reviewByInteraction = make(map[uuid.UUID]uuid.UUID)
}

func (s *MemStore) clearLetters() {
	s.letters = make(map[uuid.UUID]*models.Letter)
	s.letterByInteraction = make(map[uuid.UUID]uuid.UUID)
}

// deleteInteraction removes an interaction and every artifact owned by it.
func (s *MemStore) deleteInteraction(id uuid.UUID) {
	delete(s.interactions, id)
	if sid, ok := s.storyByInteraction[id]; ok {
		delete(s.stories, sid)
		delete(s.storyByInteraction, id)
	}
	if rid, ok := s.reviewByInteraction[id]; ok {
		delete(s.reviews, rid)
		delete(s.reviewByInteraction, id)
	}
	if lid, ok := s.letterByInteraction[id]; ok {
		delete(s.letters, lid)
		delete(s.letterByInteraction, id)
	}
}

func (s *MemStore) write(userID uuid.UUID, stage string, fn func(tx *memTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{s: s, userID: userID, stage: stage}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// ──── Transaction ────

type memTx struct {
	s      *MemStore
	userID uuid.UUID
	stage  string
	undo   []func()
}

func (tx *memTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

// put records the previous value of m[k] before overwriting it. Stored
// values are never mutated in place, so the saved pointer stays valid.
func put[K comparable, V any](tx *memTx, m map[K]V, k K, v V) {
	prev, existed := m[k]
	tx.undo = append(tx.undo, func() {
		if existed {
			m[k] = prev
		} else {
			delete(m, k)
		}
	})
	m[k] = v
}

func del[K comparable, V any](tx *memTx, m map[K]V, k K) {
	prev, existed := m[k]
	if !existed {
		return
	}
	tx.undo = append(tx.undo, func() { m[k] = prev })
	delete(m, k)
}

func (tx *memTx) FindReviewDuplicate(ctx context.Context, storyContent string) (*models.Interaction, error) {
	for _, i := range tx.s.interactions {
		if i.UserID == tx.userID && i.Stage == models.StageReview &&
			i.StoryContent != nil && *i.StoryContent == storyContent {
			return i.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (tx *memTx) LatestForKey(ctx context.Context, since time.Time) (*models.Interaction, error) {
	var latest *models.Interaction
	for _, i := range tx.s.interactions {
		if i.UserID != tx.userID || i.Stage != tx.stage || !i.Timestamp.After(since) {
			continue
		}
		if latest == nil || i.Timestamp.After(latest.Timestamp) {
			latest = i
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest.Clone(), nil
}

func (tx *memTx) GetInteraction(ctx context.Context, id uuid.UUID) (*models.Interaction, error) {
	i, ok := tx.s.interactions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return i.Clone(), nil
}

func (tx *memTx) CreateInteraction(ctx context.Context, i *models.Interaction) error {
	if _, ok := tx.s.users[i.UserID]; !ok {
		return fmt.Errorf("user %s: %w", i.UserID, ErrNotFound)
	}
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	if _, exists := tx.s.interactions[i.ID]; exists {
		return fmt.Errorf("interaction %s: %w", i.ID, ErrConflict)
	}
	if i.Stage == models.StageReview && i.StoryContent != nil {
		if _, err := tx.FindReviewDuplicate(ctx, *i.StoryContent); err == nil {
			return fmt.Errorf("review story for user %s: %w", i.UserID, ErrConflict)
		}
	}
	put(tx, tx.s.interactions, i.ID, i.Clone())
	return nil
}

func (tx *memTx) UpdateInteraction(ctx context.Context, i *models.Interaction) error {
	existing, ok := tx.s.interactions[i.ID]
	if !ok {
		return fmt.Errorf("interaction %s: %w", i.ID, ErrNotFound)
	}
	next := i.Clone()
	next.UserID = existing.UserID
	next.StoryContent = existing.StoryContent
	put(tx, tx.s.interactions, i.ID, next)
	return nil
}

func (tx *memTx) requireInteraction(id uuid.UUID) error {
	if _, ok := tx.s.interactions[id]; !ok {
		return fmt.Errorf("interaction %s: %w", id, ErrNotFound)
	}
	return nil
}

func (tx *memTx) UpsertStory(ctx context.Context, userID, interactionID uuid.UUID, patch models.StoryPatch) (*models.Story, error) {
	if err := tx.requireInteraction(interactionID); err != nil {
		return nil, err
	}
	now := tx.s.now()
	var st models.Story
	if id, ok := tx.s.storyByInteraction[interactionID]; ok {
		st = *tx.s.stories[id]
	} else {
		st = models.Story{ID: uuid.New(), UserID: userID, InteractionID: interactionID, CreatedAt: now}
		put(tx, tx.s.storyByInteraction, interactionID, st.ID)
	}
	patch.Apply(&st)
	st.UpdatedAt = now
	put(tx, tx.s.stories, st.ID, &st)
	return cloneStory(&st), nil
}

func (tx *memTx) UpsertReview(ctx context.Context, userID, interactionID uuid.UUID, patch models.ReviewPatch) (*models.Review, error) {
	if err := tx.requireInteraction(interactionID); err != nil {
		return nil, err
	}
	now := tx.s.now()
	var r models.Review
	if id, ok := tx.s.reviewByInteraction[interactionID]; ok {
		r = *tx.s.reviews[id]
	} else {
		r = models.Review{ID: uuid.New(), UserID: userID, InteractionID: interactionID, CreatedAt: now}
		put(tx, tx.s.reviewByInteraction, interactionID, r.ID)
	}
	patch.Apply(&r)
	r.UpdatedAt = now
	put(tx, tx.s.reviews, r.ID, &r)
	return cloneReview(&r), nil
}

func (tx *memTx) UpsertLetter(ctx context.Context, userID, interactionID uuid.UUID, patch models.LetterPatch) (*models.Letter, error) {
	if err := tx.requireInteraction(interactionID); err != nil {
		return nil, err
	}
	now := tx.s.now()
	var l models.Letter
	if id, ok := tx.s.letterByInteraction[interactionID]; ok {
		l = *tx.s.letters[id]
	} else {
		l = models.Letter{ID: uuid.New(), UserID: userID, InteractionID: interactionID, CreatedAt: now}
		put(tx, tx.s.letterByInteraction, interactionID, l.ID)
	}
	patch.Apply(&l)
	l.UpdatedAt = now
	put(tx, tx.s.letters, l.ID, &l)
	return cloneLetter(&l), nil
}

// repoint moves an artifact's 1:1 link from one interaction to another.
func repoint(tx *memTx, index map[uuid.UUID]uuid.UUID, workID, from, to uuid.UUID) error {
	if from == to {
		return nil
	}
	if err := tx.requireInteraction(to); err != nil {
		return err
	}
	if owner, taken := index[to]; taken && owner != workID {
		return fmt.Errorf("interaction %s already owns a work: %w", to, ErrConflict)
	}
	del(tx, index, from)
	put(tx, index, to, workID)
	return nil
}

func (tx *memTx) UpdateStoryByID(ctx context.Context, id, interactionID uuid.UUID, patch models.StoryPatch) (*models.Story, error) {
	cur, ok := tx.s.stories[id]
	if !ok {
		return nil, fmt.Errorf("story %s: %w", id, ErrNotFound)
	}
	if err := repoint(tx, tx.s.storyByInteraction, id, cur.InteractionID, interactionID); err != nil {
		return nil, err
	}
	st := *cur
	st.InteractionID = interactionID
	patch.Apply(&st)
	st.UpdatedAt = tx.s.now()
	put(tx, tx.s.stories, id, &st)
	return cloneStory(&st), nil
}

func (tx *memTx) UpdateReviewByID(ctx context.Context, id, interactionID uuid.UUID, patch models.ReviewPatch) (*models.Review, error) {
	cur, ok := tx.s.reviews[id]
	if !ok {
		return nil, fmt.Errorf("review %s: %w", id, ErrNotFound)
	}
	if err := repoint(tx, tx.s.reviewByInteraction, id, cur.InteractionID, interactionID); err != nil {
		return nil, err
	}
	r := *cur
	r.InteractionID = interactionID
	patch.Apply(&r)
	r.UpdatedAt = tx.s.now()
	put(tx, tx.s.reviews, id, &r)
	return cloneReview(&r), nil
}

func (tx *memTx) UpdateLetterByID(ctx context.Context, id, interactionID uuid.UUID, patch models.LetterPatch) (*models.Letter, error) {
	cur, ok := tx.s.letters[id]
	if !ok {
		return nil, fmt.Errorf("letter %s: %w", id, ErrNotFound)
	}
	if err := repoint(tx, tx.s.letterByInteraction, id, cur.InteractionID, interactionID); err != nil {
		return nil, err
	}
	l := *cur
	l.InteractionID = interactionID
	patch.Apply(&l)
	l.UpdatedAt = tx.s.now()
	put(tx, tx.s.letters, id, &l)
	return cloneLetter(&l), nil
}

func (tx *memTx) FindStory(ctx context.Context, id uuid.UUID) (*models.Story, error) {
	st, ok := tx.s.stories[id]
	if !ok {
		return nil, fmt.Errorf("story %s: %w", id, ErrNotFound)
	}
	return cloneStory(st), nil
}

func (tx *memTx) FindReview(ctx context.Context, id uuid.UUID) (*models.Review, error) {
	r, ok := tx.s.reviews[id]
	if !ok {
		return nil, fmt.Errorf("review %s: %w", id, ErrNotFound)
	}
	return cloneReview(r), nil
}

func (tx *memTx) FindLetter(ctx context.Context, id uuid.UUID) (*models.Letter, error) {
	l, ok := tx.s.letters[id]
	if !ok {
		return nil, fmt.Errorf("letter %s: %w", id, ErrNotFound)
	}
	return cloneLetter(l), nil
}

func cloneStory(s *models.Story) *models.Story {
	out := *s
	return &out
}

func cloneReview(r *models.Review) *models.Review {
	out := *r
	return &out
}

func cloneLetter(l *models.Letter) *models.Letter {
	out := *l
	out.Sections = append([]string(nil), l.Sections...)
	return &out
}
