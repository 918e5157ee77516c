package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkwell-backend/internal/database"
	"inkwell-backend/internal/models"
)

// storeFactory creates an empty store. Every test runs against the
// in-memory store and, when TEST_DATABASE_URL is set, PostgreSQL.
type storeFactory func(t *testing.T) Store

func memStoreFactory(t *testing.T) Store {
	return NewMemStore()
}

func postgresStoreFactory(t *testing.T) Store {
	pool, err := database.NewPostgresPool(os.Getenv("TEST_DATABASE_URL"))
	require.NoError(t, err, "Failed to connect to test database")
	_, err = database.RunMigrations(pool, "../../migrations")
	require.NoError(t, err)

	ctx := context.Background()
	_, err = pool.Exec(ctx, `TRUNCATE letters, reviews, stories, interactions, users CASCADE`)
	require.NoError(t, err)
	return NewPostgresStore(pool, 3*time.Second)
}

func runTestsForAllStores(t *testing.T, testName string, testFn func(t *testing.T, store Store)) {
	factories := map[string]storeFactory{
		"MemStore": memStoreFactory,
	}
	if os.Getenv("TEST_DATABASE_URL") != "" {
		factories["PostgresStore"] = postgresStoreFactory
	}

	for name, factory := range factories {
		t.Run(name+"/"+testName, func(t *testing.T) {
			store := factory(t)
			defer store.Close()
			testFn(t, store)
		})
	}
}

func seedUser(t *testing.T, store Store, username string) *models.User {
	t.Helper()
	u := &models.User{Username: username, Role: models.RoleStudent}
	require.NoError(t, store.CreateUser(context.Background(), u))
	return u
}

func seedInteraction(t *testing.T, store Store, userID uuid.UUID, stage string, ts time.Time) *models.Interaction {
	t.Helper()
	i := &models.Interaction{
		UserID:    userID,
		Stage:     stage,
		Timestamp: ts,
		Input:     models.Payload{},
		Output:    models.Payload{},
	}
	err := store.WithKeyTx(context.Background(), userID, stage, func(tx KeyTx) error {
		return tx.CreateInteraction(context.Background(), i)
	})
	require.NoError(t, err)
	return i
}

func strPtr(s string) *string { return &s }

// =============================================================================
// Users
// =============================================================================

func TestUserCreateAndLookup(t *testing.T) {
	runTestsForAllStores(t, "CreateAndLookup", func(t *testing.T, store Store) {
		ctx := context.Background()
		u := seedUser(t, store, "s1")
		assert.NotEqual(t, uuid.Nil, u.ID)

		byName, err := store.GetUserByUsername(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, u.ID, byName.ID)
		assert.Equal(t, models.RoleStudent, byName.Role)

		_, err = store.GetUserByUsername(ctx, "nobody")
		assert.ErrorIs(t, err, ErrNotFound)

		err = store.CreateUser(ctx, &models.User{Username: "s1", Role: models.RoleStudent})
		assert.ErrorIs(t, err, ErrConflict)
	})
}

func TestUserUpsertKeepsID(t *testing.T) {
	runTestsForAllStores(t, "UpsertKeepsID", func(t *testing.T, store Store) {
		ctx := context.Background()
		first := &models.User{Username: "teacher", Role: models.RoleTeacher, PasswordHash: "a"}
		require.NoError(t, store.UpsertUser(ctx, first))

		second := &models.User{Username: "teacher", Role: models.RoleTeacher, PasswordHash: "b", NoAI: true}
		require.NoError(t, store.UpsertUser(ctx, second))

		assert.Equal(t, first.ID, second.ID)
		got, err := store.GetUserByID(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, "b", got.PasswordHash)
		assert.True(t, got.NoAI)
	})
}

// =============================================================================
// Key transactions
// =============================================================================

func TestKeyTxRollsBackOnError(t *testing.T) {
	runTestsForAllStores(t, "RollsBackOnError", func(t *testing.T, store Store) {
		ctx := context.Background()
		u := seedUser(t, store, "s1")

		err := store.WithKeyTx(ctx, u.ID, "plot", func(tx KeyTx) error {
			i := &models.Interaction{UserID: u.ID, Stage: "plot", Timestamp: time.Now()}
			require.NoError(t, tx.CreateInteraction(ctx, i))
			_, err := tx.UpsertStory(ctx, u.ID, i.ID, models.StoryPatch{Content: strPtr("draft")})
			require.NoError(t, err)
			return assert.AnError
		})
		require.ErrorIs(t, err, assert.AnError)

		records, err := store.ListInteractionRecords(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, records, "nothing written inside a failed transaction may survive")

		stories, err := store.ListStoriesByUser(ctx, u.ID)
		require.NoError(t, err)
		assert.Empty(t, stories)
	})
}

func TestLatestForKey(t *testing.T) {
	runTestsForAllStores(t, "LatestForKey", func(t *testing.T, store Store) {
		ctx := context.Background()
		u := seedUser(t, store, "s1")
		base := time.Now().Add(-time.Minute).Truncate(time.Millisecond)

		seedInteraction(t, store, u.ID, "plot", base)
		newest := seedInteraction(t, store, u.ID, "plot", base.Add(20*time.Second))
		seedInteraction(t, store, u.ID, "character", base.Add(30*time.Second))

		err := store.WithKeyTx(ctx, u.ID, "plot", func(tx KeyTx) error {
			got, err := tx.LatestForKey(ctx, base.Add(10*time.Second))
			require.NoError(t, err)
			assert.Equal(t, newest.ID, got.ID)

			_, err = tx.LatestForKey(ctx, base.Add(25*time.Second))
			assert.ErrorIs(t, err, ErrNotFound)
			return nil
		})
		require.NoError(t, err)
	})
}

// An edit reaches a row through GetInteraction under its own stage key while
// api-call logs reach the same row through LatestForKey under the row's key.
// Neither path may overwrite the other's appends.
func TestAppendsAcrossKeysAreNotLost(t *testing.T) {
	runTestsForAllStores(t, "AppendsAcrossKeys", func(t *testing.T, store Store) {
		ctx := context.Background()
		u := seedUser(t, store, "s1")
		row := seedInteraction(t, store, u.ID, "review", time.Now().Truncate(time.Millisecond))

		const perPath = 10
		var wg sync.WaitGroup
		errs := make(chan error, 2*perPath)
		for i := 0; i < perPath; i++ {
			wg.Add(2)
			go func(i int) {
				defer wg.Done()
				errs <- store.WithKeyTx(ctx, u.ID, "review", func(tx KeyTx) error {
					got, err := tx.LatestForKey(ctx, time.Now().Add(-time.Hour))
					if err != nil {
						return err
					}
					got.APICalls = append(got.APICalls, models.APICall{Endpoint: fmt.Sprintf("/log/%d", i)})
					return tx.UpdateInteraction(ctx, got)
				})
			}(i)
			go func(i int) {
				defer wg.Done()
				errs <- store.WithKeyTx(ctx, u.ID, "reviewEdit", func(tx KeyTx) error {
					got, err := tx.GetInteraction(ctx, row.ID)
					if err != nil {
						return err
					}
					got.APICalls = append(got.APICalls, models.APICall{Endpoint: fmt.Sprintf("/edit/%d", i)})
					return tx.UpdateInteraction(ctx, got)
				})
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		got, err := store.GetInteraction(ctx, row.ID)
		require.NoError(t, err)
		assert.Len(t, got.APICalls, 2*perPath)
	})
}

func TestFindReviewDuplicateIsExact(t *testing.T) {
	runTestsForAllStores(t, "FindReviewDuplicate", func(t *testing.T, store Store) {
		ctx := context.Background()
		u := seedUser(t, store, "s1")

		err := store.WithKeyTx(ctx, u.ID, models.StageReview, func(tx KeyTx) error {
			return tx.CreateInteraction(ctx, &models.Interaction{
				UserID: u.ID, Stage: models.StageReview, Timestamp: time.Now(),
				StoryContent: strPtr("Once upon a time..."),
			})
		})
		require.NoError(t, err)

		err = store.WithKeyTx(ctx, u.ID, models.StageReview, func(tx KeyTx) error {
			_, err := tx.FindReviewDuplicate(ctx, "Once upon a time...")
			assert.NoError(t, err)
			_, err = tx.FindReviewDuplicate(ctx, "Once upon a time... ")
			assert.ErrorIs(t, err, ErrNotFound)
			return nil
		})
		require.NoError(t, err)
	})
}

// =============================================================================
// Artifacts
// =============================================================================

func TestStoryPartialUpsert(t *testing.T) {
	runTestsForAllStores(t, "PartialUpsert", func(t *testing.T, store Store) {
		ctx := context.Background()
		u := seedUser(t, store, "s1")
		i := seedInteraction(t, store, u.ID, "review", time.Now())

		_, err := store.UpsertStory(ctx, u.ID, i.ID, models.StoryPatch{
			Character: json.RawMessage(`{"name":"Milo"}`),
			Plot:      json.RawMessage(`{"conflict":"lost kite"}`),
			Structure: json.RawMessage(`{"type":"journey"}`),
			Content:   strPtr("Milo ran."),
		})
		require.NoError(t, err)

		updated, err := store.UpsertStory(ctx, u.ID, i.ID, models.StoryPatch{
			Character: json.RawMessage(`{"name":"Mila"}`),
		})
		require.NoError(t, err)

		assert.JSONEq(t, `{"name":"Mila"}`, string(updated.Character))
		assert.JSONEq(t, `{"conflict":"lost kite"}`, string(updated.Plot))
		assert.JSONEq(t, `{"type":"journey"}`, string(updated.Structure))
		assert.Equal(t, "Milo ran.", updated.Content)

		stories, err := store.ListStoriesByUser(ctx, u.ID)
		require.NoError(t, err)
		assert.Len(t, stories, 1, "upsert by interaction id must not create a second story")
	})
}

func TestUpsertRequiresInteraction(t *testing.T) {
	runTestsForAllStores(t, "RequiresInteraction", func(t *testing.T, store Store) {
		u := seedUser(t, store, "s1")
		_, err := store.UpsertReview(context.Background(), u.ID, uuid.New(), models.ReviewPatch{Content: strPtr("x")})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestUpdateLetterByID(t *testing.T) {
	runTestsForAllStores(t, "UpdateLetterByID", func(t *testing.T, store Store) {
		ctx := context.Background()
		u := seedUser(t, store, "s1")
		first := seedInteraction(t, store, u.ID, "letterComplete", time.Now())
		second := seedInteraction(t, store, u.ID, "letterEdit", time.Now())

		l, err := store.UpsertLetter(ctx, u.ID, first.ID, models.LetterPatch{
			Recipient: strPtr("Grandma"),
			Occasion:  strPtr("birthday"),
			Sections:  []string{"Hi", "Love you"},
			Content:   strPtr("Hi\n\nLove you"),
		})
		require.NoError(t, err)

		edited, err := store.UpdateLetterByID(ctx, l.ID, second.ID, models.LetterPatch{Content: strPtr("Hello again")})
		require.NoError(t, err)
		assert.Equal(t, second.ID, edited.InteractionID)
		assert.Equal(t, "Grandma", edited.Recipient)
		assert.Equal(t, []string{"Hi", "Love you"}, edited.Sections)
		assert.Equal(t, "Hello again", edited.Content)

		found, err := store.FindLetter(ctx, l.ID)
		require.NoError(t, err)
		assert.Equal(t, "Hello again", found.Content)

		_, err = store.UpdateLetterByID(ctx, uuid.New(), second.ID, models.LetterPatch{})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestFindMissingWork(t *testing.T) {
	runTestsForAllStores(t, "FindMissing", func(t *testing.T, store Store) {
		ctx := context.Background()
		_, err := store.FindStory(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = store.FindReview(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = store.FindLetter(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

// =============================================================================
// Listing
// =============================================================================

func TestListInteractionRecordsJoinsAndOrders(t *testing.T) {
	runTestsForAllStores(t, "ListJoined", func(t *testing.T, store Store) {
		ctx := context.Background()
		s1 := seedUser(t, store, "s1")
		s2 := seedUser(t, store, "s2")
		base := time.Now().Add(-time.Hour).Truncate(time.Millisecond)

		older := seedInteraction(t, store, s1.ID, "character", base)
		newer := seedInteraction(t, store, s1.ID, "bookReviewComplete", base.Add(time.Minute))
		seedInteraction(t, store, s2.ID, "plot", base.Add(2*time.Minute))

		_, err := store.UpsertReview(ctx, s1.ID, newer.ID, models.ReviewPatch{
			ReviewType: strPtr("critical"),
			BookTitle:  strPtr("Matilda"),
			Content:    strPtr("A clever girl wins."),
		})
		require.NoError(t, err)

		mine, err := store.ListInteractionRecords(ctx, &s1.ID)
		require.NoError(t, err)
		require.Len(t, mine, 2)
		assert.Equal(t, newer.ID, mine[0].ID)
		assert.Equal(t, older.ID, mine[1].ID)
		assert.Equal(t, "s1", mine[0].Username)
		require.NotNil(t, mine[0].Review)
		assert.Equal(t, "Matilda", mine[0].Review.BookTitle)
		assert.Nil(t, mine[1].Review)

		all, err := store.ListInteractionRecords(ctx, nil)
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})
}

// =============================================================================
// Admin
// =============================================================================

func TestPurgeShortReviewsBoundary(t *testing.T) {
	runTestsForAllStores(t, "PurgeBoundary", func(t *testing.T, store Store) {
		ctx := context.Background()
		u := seedUser(t, store, "s1")

		contents := map[string]string{
			"two":       "ok",
			"fifty":     strings.Repeat("a", 50),
			"fiftyPad":  "   " + strings.Repeat("b", 50) + "\n",
			"fiftyOne":  strings.Repeat("c", 51),
			"runesKept": strings.Repeat("é", 51),
		}
		owners := map[string]uuid.UUID{}
		for name, content := range contents {
			i := seedInteraction(t, store, u.ID, "bookReviewComplete", time.Now())
			_, err := store.UpsertReview(ctx, u.ID, i.ID, models.ReviewPatch{
				ReviewType: strPtr("recommendation"),
				BookTitle:  strPtr(name),
				Content:    strPtr(content),
			})
			require.NoError(t, err)
			owners[name] = i.ID
		}

		deleted, err := store.PurgeShortReviews(ctx, 50)
		require.NoError(t, err)
		assert.Equal(t, 3, deleted)

		reviews, err := store.ListReviewsByUser(ctx, u.ID)
		require.NoError(t, err)
		var kept []string
		for _, r := range reviews {
			kept = append(kept, r.BookTitle)
		}
		assert.ElementsMatch(t, []string{"fiftyOne", "runesKept"}, kept)

		_, err = store.GetInteraction(ctx, owners["two"])
		assert.ErrorIs(t, err, ErrNotFound, "purge cascades to the owning interaction")
		_, err = store.GetInteraction(ctx, owners["fiftyOne"])
		assert.NoError(t, err)
	})
}

func TestClearAll(t *testing.T) {
	runTestsForAllStores(t, "ClearAll", func(t *testing.T, store Store) {
		ctx := context.Background()
		u := seedUser(t, store, "s1")
		i := seedInteraction(t, store, u.ID, "review", time.Now())
		_, err := store.UpsertStory(ctx, u.ID, i.ID, models.StoryPatch{Content: strPtr("x")})
		require.NoError(t, err)

		require.NoError(t, store.ClearAll(ctx))

		records, err := store.ListInteractionRecords(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, records)
		stories, err := store.ListStoriesByUser(ctx, u.ID)
		require.NoError(t, err)
		assert.Empty(t, stories)

		_, err = store.GetUserByUsername(ctx, "s1")
		assert.NoError(t, err, "users survive a clear")
	})
}

func TestBulkClearSingleKind(t *testing.T) {
	runTestsForAllStores(t, "BulkClearKind", func(t *testing.T, store Store) {
		ctx := context.Background()
		u := seedUser(t, store, "s1")
		i := seedInteraction(t, store, u.ID, "review", time.Now())
		_, err := store.UpsertStory(ctx, u.ID, i.ID, models.StoryPatch{Content: strPtr("x")})
		require.NoError(t, err)

		require.NoError(t, store.BulkClear(ctx, models.KindStory))

		stories, err := store.ListStoriesByUser(ctx, u.ID)
		require.NoError(t, err)
		assert.Empty(t, stories)
		_, err = store.GetInteraction(ctx, i.ID)
		assert.NoError(t, err, "clearing stories leaves interactions")

		assert.Error(t, store.BulkClear(ctx, models.RecordKind("poems")))
	})
}

func TestStoreInterface(t *testing.T) {
	var _ Store = (*MemStore)(nil)
	var _ Store = (*PostgresStore)(nil)
	var _ KeyTx = (*memTx)(nil)
	var _ KeyTx = (*pgKeyTx)(nil)
}
