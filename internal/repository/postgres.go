package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"inkwell-backend/internal/models"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresStore struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func NewPostgresStore(pool *pgxpool.Pool, timeout time.Duration) *PostgresStore {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &PostgresStore{pool: pool, timeout: timeout}
}

func (s *PostgresStore) Close() { s.pool.Close() }

func (s *PostgresStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// classify maps driver errors onto the package sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: %s", ErrNotFound, pgErr.ConstraintName)
		}
		return err
	}
	var connErr *pgconn.ConnectError
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) ||
		errors.As(err, &connErr) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

// ──── Users ────

const userColumns = `id, username, password_hash, role, no_ai, created_at`

func scanUser(row pgx.Row) (*models.User, error) {
	u := &models.User{}
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.NoAI, &u.CreatedAt); err != nil {
		return nil, classify(err)
	}
	return u, nil
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, username, password_hash, role, no_ai)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		user.ID, user.Username, user.PasswordHash, user.Role, user.NoAI,
	).Scan(&user.CreatedAt)
	return classify(err)
}

func (s *PostgresStore) UpsertUser(ctx context.Context, user *models.User) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, username, password_hash, role, no_ai)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (username) DO UPDATE
		SET password_hash = EXCLUDED.password_hash,
			role = EXCLUDED.role,
			no_ai = EXCLUDED.no_ai
		RETURNING id, created_at`,
		uuid.New(), user.Username, user.PasswordHash, user.Role, user.NoAI,
	).Scan(&user.ID, &user.CreatedAt)
	return classify(err)
}

// ──── Interactions ────

func (s *PostgresStore) WithKeyTx(ctx context.Context, userID uuid.UUID, stage string, fn func(tx KeyTx) error) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback(ctx)

	// Serializes writers on the key across every connection.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, LockKey(userID, stage)); err != nil {
		return classify(err)
	}

	if err := fn(&pgKeyTx{q: tx, userID: userID, stage: stage}); err != nil {
		return err
	}
	return classify(tx.Commit(ctx))
}

func (s *PostgresStore) GetInteraction(ctx context.Context, id uuid.UUID) (*models.Interaction, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return getInteraction(ctx, s.pool, id)
}

func (s *PostgresStore) ListInteractionRecords(ctx context.Context, userID *uuid.UUID) ([]models.InteractionRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT i.id, i.user_id, i.stage, i.timestamp, i.input, i.output, i.api_calls, i.story_content,
			u.username,
			s.id, s.character, s.plot, s.structure, s.content, s.created_at, s.updated_at,
			r.id, r.review_type, r.book_title, r.book_cover_url, r.book_summary, r.structure, r.content, r.created_at, r.updated_at,
			l.id, l.recipient, l.occasion, l.guidance, l.reader_image_url, l.sections, l.content, l.created_at, l.updated_at
		FROM interactions i
		JOIN users u ON u.id = i.user_id
		LEFT JOIN stories s ON s.interaction_id = i.id
		LEFT JOIN reviews r ON r.interaction_id = i.id
		LEFT JOIN letters l ON l.interaction_id = i.id
		WHERE ($1::uuid IS NULL OR i.user_id = $1)
		ORDER BY i.timestamp DESC`, userID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	records := []models.InteractionRecord{}
	for rows.Next() {
		var (
			rec                        models.InteractionRecord
			input, output, calls       []byte
			sID, rID, lID              *uuid.UUID
			sChar, sPlot, sStruct      []byte
			sContent                   *string
			sCreated, sUpdated         *time.Time
			rType, rTitle, rContent    *string
			rCover, rSummary           *string
			rStruct                    []byte
			rCreated, rUpdated         *time.Time
			lRecipient, lContent       *string
			lOccasion, lGuidance, lImg *string
			lSections                  []string
			lCreated, lUpdated         *time.Time
		)
		if err := rows.Scan(
			&rec.ID, &rec.UserID, &rec.Stage, &rec.Timestamp, &input, &output, &calls, &rec.StoryContent,
			&rec.Username,
			&sID, &sChar, &sPlot, &sStruct, &sContent, &sCreated, &sUpdated,
			&rID, &rType, &rTitle, &rCover, &rSummary, &rStruct, &rContent, &rCreated, &rUpdated,
			&lID, &lRecipient, &lOccasion, &lGuidance, &lImg, &lSections, &lContent, &lCreated, &lUpdated,
		); err != nil {
			return nil, classify(err)
		}
		if err := decodeInteractionJSON(&rec.Interaction, input, output, calls); err != nil {
			return nil, err
		}
		if sID != nil {
			rec.Story = &models.Story{
				ID: *sID, UserID: rec.UserID, InteractionID: rec.ID,
				Character: sChar, Plot: sPlot, Structure: sStruct,
				Content: deref(sContent), CreatedAt: derefTime(sCreated), UpdatedAt: derefTime(sUpdated),
			}
		}
		if rID != nil {
			rec.Review = &models.Review{
				ID: *rID, UserID: rec.UserID, InteractionID: rec.ID,
				ReviewType: deref(rType), BookTitle: deref(rTitle), BookCoverURL: rCover, BookSummary: rSummary,
				Structure: rStruct, Content: deref(rContent), CreatedAt: derefTime(rCreated), UpdatedAt: derefTime(rUpdated),
			}
		}
		if lID != nil {
			rec.Letter = &models.Letter{
				ID: *lID, UserID: rec.UserID, InteractionID: rec.ID,
				Recipient: deref(lRecipient), Occasion: lOccasion, Guidance: lGuidance, ReaderImageURL: lImg,
				Sections: lSections, Content: deref(lContent), CreatedAt: derefTime(lCreated), UpdatedAt: derefTime(lUpdated),
			}
		}
		records = append(records, rec)
	}
	return records, classify(rows.Err())
}

const interactionColumns = `id, user_id, stage, timestamp, input, output, api_calls, story_content`

func scanInteraction(row pgx.Row) (*models.Interaction, error) {
	i := &models.Interaction{}
	var input, output, calls []byte
	if err := row.Scan(&i.ID, &i.UserID, &i.Stage, &i.Timestamp, &input, &output, &calls, &i.StoryContent); err != nil {
		return nil, classify(err)
	}
	if err := decodeInteractionJSON(i, input, output, calls); err != nil {
		return nil, err
	}
	return i, nil
}

func decodeInteractionJSON(i *models.Interaction, input, output, calls []byte) error {
	i.Input, i.Output, i.APICalls = models.Payload{}, models.Payload{}, []models.APICall{}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &i.Input); err != nil {
			return fmt.Errorf("failed to decode input of interaction %s: %w", i.ID, err)
		}
	}
	if len(output) > 0 {
		if err := json.Unmarshal(output, &i.Output); err != nil {
			return fmt.Errorf("failed to decode output of interaction %s: %w", i.ID, err)
		}
	}
	if len(calls) > 0 {
		if err := json.Unmarshal(calls, &i.APICalls); err != nil {
			return fmt.Errorf("failed to decode api_calls of interaction %s: %w", i.ID, err)
		}
	}
	return nil
}

func encodeInteractionJSON(i *models.Interaction) (input, output, calls []byte, err error) {
	in, out, ac := i.Input, i.Output, i.APICalls
	if in == nil {
		in = models.Payload{}
	}
	if out == nil {
		out = models.Payload{}
	}
	if ac == nil {
		ac = []models.APICall{}
	}
	if input, err = json.Marshal(in); err != nil {
		return nil, nil, nil, err
	}
	if output, err = json.Marshal(out); err != nil {
		return nil, nil, nil, err
	}
	if calls, err = json.Marshal(ac); err != nil {
		return nil, nil, nil, err
	}
	return input, output, calls, nil
}

func getInteraction(ctx context.Context, q querier, id uuid.UUID) (*models.Interaction, error) {
	return scanInteraction(q.QueryRow(ctx, `SELECT `+interactionColumns+` FROM interactions WHERE id = $1`, id))
}

// ──── Artifacts ────

const storyColumns = `id, user_id, interaction_id, character, plot, structure, content, created_at, updated_at`

func scanStory(row pgx.Row) (*models.Story, error) {
	st := &models.Story{}
	var char, plot, structure []byte
	if err := row.Scan(&st.ID, &st.UserID, &st.InteractionID, &char, &plot, &structure, &st.Content, &st.CreatedAt, &st.UpdatedAt); err != nil {
		return nil, classify(err)
	}
	st.Character, st.Plot, st.Structure = char, plot, structure
	return st, nil
}

const reviewColumns = `id, user_id, interaction_id, review_type, book_title, book_cover_url, book_summary, structure, content, created_at, updated_at`

func scanReview(row pgx.Row) (*models.Review, error) {
	r := &models.Review{}
	var structure []byte
	if err := row.Scan(&r.ID, &r.UserID, &r.InteractionID, &r.ReviewType, &r.BookTitle, &r.BookCoverURL,
		&r.BookSummary, &structure, &r.Content, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, classify(err)
	}
	r.Structure = structure
	return r, nil
}

const letterColumns = `id, user_id, interaction_id, recipient, occasion, guidance, reader_image_url, sections, content, created_at, updated_at`

func scanLetter(row pgx.Row) (*models.Letter, error) {
	l := &models.Letter{}
	if err := row.Scan(&l.ID, &l.UserID, &l.InteractionID, &l.Recipient, &l.Occasion, &l.Guidance,
		&l.ReaderImageURL, &l.Sections, &l.Content, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, classify(err)
	}
	return l, nil
}

// jsonArg passes a nil RawMessage as SQL NULL so COALESCE keeps the old value.
func jsonArg(raw json.RawMessage) any {
	if raw == nil {
		return nil
	}
	return []byte(raw)
}

func upsertStory(ctx context.Context, q querier, userID, interactionID uuid.UUID, p models.StoryPatch) (*models.Story, error) {
	return scanStory(q.QueryRow(ctx, `
		INSERT INTO stories (id, user_id, interaction_id, character, plot, structure, content)
		VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6::jsonb, COALESCE($7::text, ''))
		ON CONFLICT (interaction_id) DO UPDATE
		SET character = COALESCE($4::jsonb, stories.character),
			plot = COALESCE($5::jsonb, stories.plot),
			structure = COALESCE($6::jsonb, stories.structure),
			content = COALESCE($7::text, stories.content),
			updated_at = NOW()
		RETURNING `+storyColumns,
		uuid.New(), userID, interactionID, jsonArg(p.Character), jsonArg(p.Plot), jsonArg(p.Structure), p.Content,
	))
}

func updateStoryByID(ctx context.Context, q querier, id, interactionID uuid.UUID, p models.StoryPatch) (*models.Story, error) {
	return scanStory(q.QueryRow(ctx, `
		UPDATE stories
		SET interaction_id = $2,
			character = COALESCE($3::jsonb, character),
			plot = COALESCE($4::jsonb, plot),
			structure = COALESCE($5::jsonb, structure),
			content = COALESCE($6::text, content),
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+storyColumns,
		id, interactionID, jsonArg(p.Character), jsonArg(p.Plot), jsonArg(p.Structure), p.Content,
	))
}

func upsertReview(ctx context.Context, q querier, userID, interactionID uuid.UUID, p models.ReviewPatch) (*models.Review, error) {
	return scanReview(q.QueryRow(ctx, `
		INSERT INTO reviews (id, user_id, interaction_id, review_type, book_title, book_cover_url, book_summary, structure, content)
		VALUES ($1, $2, $3, COALESCE($4::text, ''), COALESCE($5::text, ''), $6::text, $7::text, $8::jsonb, COALESCE($9::text, ''))
		ON CONFLICT (interaction_id) DO UPDATE
		SET review_type = COALESCE($4::text, reviews.review_type),
			book_title = COALESCE($5::text, reviews.book_title),
			book_cover_url = COALESCE($6::text, reviews.book_cover_url),
			book_summary = COALESCE($7::text, reviews.book_summary),
			structure = COALESCE($8::jsonb, reviews.structure),
			content = COALESCE($9::text, reviews.content),
			updated_at = NOW()
		RETURNING `+reviewColumns,
		uuid.New(), userID, interactionID, p.ReviewType, p.BookTitle, p.BookCoverURL, p.BookSummary, jsonArg(p.Structure), p.Content,
	))
}

func updateReviewByID(ctx context.Context, q querier, id, interactionID uuid.UUID, p models.ReviewPatch) (*models.Review, error) {
	return scanReview(q.QueryRow(ctx, `
		UPDATE reviews
		SET interaction_id = $2,
			review_type = COALESCE($3::text, review_type),
			book_title = COALESCE($4::text, book_title),
			book_cover_url = COALESCE($5::text, book_cover_url),
			book_summary = COALESCE($6::text, book_summary),
			structure = COALESCE($7::jsonb, structure),
			content = COALESCE($8::text, content),
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+reviewColumns,
		id, interactionID, p.ReviewType, p.BookTitle, p.BookCoverURL, p.BookSummary, jsonArg(p.Structure), p.Content,
	))
}

func upsertLetter(ctx context.Context, q querier, userID, interactionID uuid.UUID, p models.LetterPatch) (*models.Letter, error) {
	return scanLetter(q.QueryRow(ctx, `
		INSERT INTO letters (id, user_id, interaction_id, recipient, occasion, guidance, reader_image_url, sections, content)
		VALUES ($1, $2, $3, COALESCE($4::text, ''), $5::text, $6::text, $7::text, $8::text[], COALESCE($9::text, ''))
		ON CONFLICT (interaction_id) DO UPDATE
		SET recipient = COALESCE($4::text, letters.recipient),
			occasion = COALESCE($5::text, letters.occasion),
			guidance = COALESCE($6::text, letters.guidance),
			reader_image_url = COALESCE($7::text, letters.reader_image_url),
			sections = COALESCE($8::text[], letters.sections),
			content = COALESCE($9::text, letters.content),
			updated_at = NOW()
		RETURNING `+letterColumns,
		uuid.New(), userID, interactionID, p.Recipient, p.Occasion, p.Guidance, p.ReaderImageURL, p.Sections, p.Content,
	))
}

func updateLetterByID(ctx context.Context, q querier, id, interactionID uuid.UUID, p models.LetterPatch) (*models.Letter, error) {
	return scanLetter(q.QueryRow(ctx, `
		UPDATE letters
		SET interaction_id = $2,
			recipient = COALESCE($3::text, recipient),
			occasion = COALESCE($4::text, occasion),
			guidance = COALESCE($5::text, guidance),
			reader_image_url = COALESCE($6::text, reader_image_url),
			sections = COALESCE($7::text[], sections),
			content = COALESCE($8::text, content),
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+letterColumns,
		id, interactionID, p.Recipient, p.Occasion, p.Guidance, p.ReaderImageURL, p.Sections, p.Content,
	))
}

func (s *PostgresStore) UpsertStory(ctx context.Context, userID, interactionID uuid.UUID, p models.StoryPatch) (*models.Story, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return upsertStory(ctx, s.pool, userID, interactionID, p)
}

func (s *PostgresStore) UpsertReview(ctx context.Context, userID, interactionID uuid.UUID, p models.ReviewPatch) (*models.Review, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return upsertReview(ctx, s.pool, userID, interactionID, p)
}

func (s *PostgresStore) UpsertLetter(ctx context.Context, userID, interactionID uuid.UUID, p models.LetterPatch) (*models.Letter, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return upsertLetter(ctx, s.pool, userID, interactionID, p)
}

func (s *PostgresStore) UpdateStoryByID(ctx context.Context, id, interactionID uuid.UUID, p models.StoryPatch) (*models.Story, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return updateStoryByID(ctx, s.pool, id, interactionID, p)
}

func (s *PostgresStore) UpdateReviewByID(ctx context.Context, id, interactionID uuid.UUID, p models.ReviewPatch) (*models.Review, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return updateReviewByID(ctx, s.pool, id, interactionID, p)
}

func (s *PostgresStore) UpdateLetterByID(ctx context.Context, id, interactionID uuid.UUID, p models.LetterPatch) (*models.Letter, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return updateLetterByID(ctx, s.pool, id, interactionID, p)
}

func (s *PostgresStore) FindStory(ctx context.Context, id uuid.UUID) (*models.Story, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return scanStory(s.pool.QueryRow(ctx, `SELECT `+storyColumns+` FROM stories WHERE id = $1`, id))
}

func (s *PostgresStore) FindReview(ctx context.Context, id uuid.UUID) (*models.Review, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return scanReview(s.pool.QueryRow(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE id = $1`, id))
}

func (s *PostgresStore) FindLetter(ctx context.Context, id uuid.UUID) (*models.Letter, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return scanLetter(s.pool.QueryRow(ctx, `SELECT `+letterColumns+` FROM letters WHERE id = $1`, id))
}

func (s *PostgresStore) ListStoriesByUser(ctx context.Context, userID uuid.UUID) ([]models.Story, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	rows, err := s.pool.Query(ctx, `SELECT `+storyColumns+` FROM stories WHERE user_id = $1 ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	out := []models.Story{}
	for rows.Next() {
		st, err := scanStory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, classify(rows.Err())
}

func (s *PostgresStore) ListReviewsByUser(ctx context.Context, userID uuid.UUID) ([]models.Review, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	rows, err := s.pool.Query(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE user_id = $1 ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	out := []models.Review{}
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, classify(rows.Err())
}

func (s *PostgresStore) ListLettersByUser(ctx context.Context, userID uuid.UUID) ([]models.Letter, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	rows, err := s.pool.Query(ctx, `SELECT `+letterColumns+` FROM letters WHERE user_id = $1 ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	out := []models.Letter{}
	for rows.Next() {
		l, err := scanLetter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, classify(rows.Err())
}

// ──── Admin ────

var kindTables = map[models.RecordKind]string{
	models.KindInteraction: "interactions",
	models.KindStory:       "stories",
	models.KindReview:      "reviews",
	models.KindLetter:      "letters",
}

func (s *PostgresStore) BulkClear(ctx context.Context, kind models.RecordKind) error {
	table, ok := kindTables[kind]
	if !ok {
		return fmt.Errorf("unknown record kind %q", kind)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.pool.Exec(ctx, "DELETE FROM "+table)
	return classify(err)
}

func (s *PostgresStore) ClearAll(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback(ctx)

	for _, table := range []string{"letters", "reviews", "stories", "interactions"} {
		if _, err := tx.Exec(ctx, "DELETE FROM "+table); err != nil {
			return classify(err)
		}
	}
	return classify(tx.Commit(ctx))
}

func (s *PostgresStore) PurgeShortReviews(ctx context.Context, minLength int) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	// Deleting the interaction cascades to the review and any sibling artifact.
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM interactions
		WHERE id IN (
			SELECT interaction_id FROM reviews
			WHERE char_length(regexp_replace(content, '^\s+|\s+$', '', 'g')) <= $1
		)`, minLength)
	if err != nil {
		return 0, classify(err)
	}
	return int(tag.RowsAffected()), nil
}

// ──── KeyTx ────

type pgKeyTx struct {
	q      querier
	userID uuid.UUID
	stage  string
}

func (t *pgKeyTx) FindReviewDuplicate(ctx context.Context, storyContent string) (*models.Interaction, error) {
	return scanInteraction(t.q.QueryRow(ctx, `
		SELECT `+interactionColumns+` FROM interactions
		WHERE user_id = $1 AND stage = 'review'
		  AND story_content IS NOT NULL
		  AND md5(story_content) = md5($2) AND story_content = $2
		LIMIT 1`, t.userID, storyContent))
}

func (t *pgKeyTx) LatestForKey(ctx context.Context, since time.Time) (*models.Interaction, error) {
	return scanInteraction(t.q.QueryRow(ctx, `
		SELECT `+interactionColumns+` FROM interactions
		WHERE user_id = $1 AND stage = $2 AND timestamp > $3
		ORDER BY timestamp DESC
		LIMIT 1
		FOR UPDATE`, t.userID, t.stage, since))
}

// GetInteraction locks the row: an edit may rewrite an interaction that
// belongs to another stage key, whose advisory lock this tx does not hold.
func (t *pgKeyTx) GetInteraction(ctx context.Context, id uuid.UUID) (*models.Interaction, error) {
	return scanInteraction(t.q.QueryRow(ctx, `SELECT `+interactionColumns+` FROM interactions WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgKeyTx) CreateInteraction(ctx context.Context, i *models.Interaction) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	input, output, calls, err := encodeInteractionJSON(i)
	if err != nil {
		return fmt.Errorf("failed to encode interaction: %w", err)
	}
	_, err = t.q.Exec(ctx, `
		INSERT INTO interactions (id, user_id, stage, timestamp, input, output, api_calls, story_content)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		i.ID, i.UserID, i.Stage, i.Timestamp, input, output, calls, i.StoryContent,
	)
	return classify(err)
}

func (t *pgKeyTx) UpdateInteraction(ctx context.Context, i *models.Interaction) error {
	input, output, calls, err := encodeInteractionJSON(i)
	if err != nil {
		return fmt.Errorf("failed to encode interaction: %w", err)
	}
	tag, err := t.q.Exec(ctx, `
		UPDATE interactions
		SET stage = $2, timestamp = $3, input = $4, output = $5, api_calls = $6
		WHERE id = $1`,
		i.ID, i.Stage, i.Timestamp, input, output, calls,
	)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("interaction %s: %w", i.ID, ErrNotFound)
	}
	return nil
}

func (t *pgKeyTx) UpsertStory(ctx context.Context, userID, interactionID uuid.UUID, p models.StoryPatch) (*models.Story, error) {
	return upsertStory(ctx, t.q, userID, interactionID, p)
}

func (t *pgKeyTx) UpsertReview(ctx context.Context, userID, interactionID uuid.UUID, p models.ReviewPatch) (*models.Review, error) {
	return upsertReview(ctx, t.q, userID, interactionID, p)
}

func (t *pgKeyTx) UpsertLetter(ctx context.Context, userID, interactionID uuid.UUID, p models.LetterPatch) (*models.Letter, error) {
	return upsertLetter(ctx, t.q, userID, interactionID, p)
}

func (t *pgKeyTx) UpdateStoryByID(ctx context.Context, id, interactionID uuid.UUID, p models.StoryPatch) (*models.Story, error) {
	return updateStoryByID(ctx, t.q, id, interactionID, p)
}

func (t *pgKeyTx) UpdateReviewByID(ctx context.Context, id, interactionID uuid.UUID, p models.ReviewPatch) (*models.Review, error) {
	return updateReviewByID(ctx, t.q, id, interactionID, p)
}

func (t *pgKeyTx) UpdateLetterByID(ctx context.Context, id, interactionID uuid.UUID, p models.LetterPatch) (*models.Letter, error) {
	return updateLetterByID(ctx, t.q, id, interactionID, p)
}

func (t *pgKeyTx) FindStory(ctx context.Context, id uuid.UUID) (*models.Story, error) {
	return scanStory(t.q.QueryRow(ctx, `SELECT `+storyColumns+` FROM stories WHERE id = $1`, id))
}

func (t *pgKeyTx) FindReview(ctx context.Context, id uuid.UUID) (*models.Review, error) {
	return scanReview(t.q.QueryRow(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE id = $1`, id))
}

func (t *pgKeyTx) FindLetter(ctx context.Context, id uuid.UUID) (*models.Letter, error) {
	return scanLetter(t.q.QueryRow(ctx, `SELECT `+letterColumns+` FROM letters WHERE id = $1`, id))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
