package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkwell-backend/internal/keylock"
	"inkwell-backend/internal/models"
	"inkwell-backend/internal/repository"
)

// fakeClock is a settable clock shared by the aggregator and the store.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingFeed struct {
	mu   sync.Mutex
	msgs []models.WSMessage
}

func (f *recordingFeed) Publish(_ context.Context, msg models.WSMessage) error {
	f.mu.Lock()
	f.msgs = append(f.msgs, msg)
	f.mu.Unlock()
	return nil
}

type interactionFixture struct {
	svc   *InteractionService
	store *repository.MemStore
	clock *fakeClock
	feed  *recordingFeed
}

func newInteractionFixture(t *testing.T) *interactionFixture {
	t.Helper()
	clock := newFakeClock()
	store := repository.NewMemStore()
	store.SetClock(clock.Now)
	feed := &recordingFeed{}
	agg := NewAggregator(DefaultPlotMergeWindow, DefaultAPICallMergeWindow, clock.Now)
	return &interactionFixture{
		svc:   NewInteractionService(store, keylock.NewMutex(), agg, feed, nil),
		store: store,
		clock: clock,
		feed:  feed,
	}
}

func payload(t *testing.T, kv map[string]interface{}) models.Payload {
	t.Helper()
	p := models.Payload{}
	for k, v := range kv {
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		p[k] = raw
	}
	return p
}

func call(endpoint string) models.APICall {
	return models.APICall{Endpoint: endpoint, Request: json.RawMessage(`{}`), Response: json.RawMessage(`{}`)}
}

func strPtr(s string) *string { return &s }

func TestSave_CreatesUserAndInteraction(t *testing.T) {
	f := newInteractionFixture(t)
	ctx := context.Background()

	res, err := f.svc.Save(ctx, &models.WriteCommand{
		Username: "Wayne",
		Stage:    "character",
		Input:    payload(t, map[string]interface{}{"prompt": "a dragon"}),
		Output:   models.Payload{},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.Equal(t, "Wayne", res.Username)
	assert.Equal(t, f.clock.Now(), res.Interaction.Timestamp)

	user, err := f.store.GetUserByUsername(ctx, "Wayne")
	require.NoError(t, err)
	assert.Equal(t, models.RoleStudent, user.Role)
	assert.Empty(t, user.PasswordHash)

	require.Len(t, f.feed.msgs, 1)
	assert.Equal(t, "interaction_saved", f.feed.msgs[0].Type)
}

func TestSave_ReviewIsIdempotentPerStory(t *testing.T) {
	f := newInteractionFixture(t)
	ctx := context.Background()
	cmd := func() *models.WriteCommand {
		return &models.WriteCommand{
			Username:     "s1",
			Stage:        models.StageReview,
			Input:        models.Payload{},
			Output:       payload(t, map[string]interface{}{"feedback": "nice"}),
			StoryContent: "Once upon a time",
		}
	}

	first, err := f.svc.Save(ctx, cmd())
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	second, err := f.svc.Save(ctx, cmd())
	require.NoError(t, err)

	assert.Equal(t, OutcomeDeduplicated, second.Outcome)
	assert.Equal(t, first.Interaction.ID, second.Interaction.ID)

	views, err := f.svc.List(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, views, 1)
}

func TestSave_PlotMergeWindow(t *testing.T) {
	f := newInteractionFixture(t)
	ctx := context.Background()
	plot := func(messages []string, output map[string]interface{}) *models.WriteCommand {
		return &models.WriteCommand{
			Username: "s1",
			Stage:    models.StagePlot,
			Input:    payload(t, map[string]interface{}{"messages": messages, "seed": "kept"}),
			Output:   payload(t, output),
		}
	}

	first, err := f.svc.Save(ctx, plot([]string{"hi"}, map[string]interface{}{"a": 1}))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, first.Outcome)

	f.clock.Advance(10 * time.Second)
	merged, err := f.svc.Save(ctx, plot([]string{"hi", "there"}, map[string]interface{}{"b": 2}))
	require.NoError(t, err)
	assert.Equal(t, OutcomePlotMerged, merged.Outcome)
	assert.Equal(t, first.Interaction.ID, merged.Interaction.ID)
	assert.JSONEq(t, `["hi","there"]`, string(merged.Interaction.Input["messages"]))
	assert.JSONEq(t, `1`, string(merged.Interaction.Output["a"]))
	assert.JSONEq(t, `2`, string(merged.Interaction.Output["b"]))
	assert.Equal(t, f.clock.Now(), merged.Interaction.Timestamp)

	f.clock.Advance(40 * time.Second)
	fresh, err := f.svc.Save(ctx, plot([]string{"new"}, nil))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, fresh.Outcome)
	assert.NotEqual(t, first.Interaction.ID, fresh.Interaction.ID)

	views, err := f.svc.List(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, views, 2)
}

func TestRecordAPICall_AppendsInOrder(t *testing.T) {
	f := newInteractionFixture(t)
	ctx := context.Background()

	created, err := f.svc.Save(ctx, &models.WriteCommand{Username: "s1", Stage: "structure"})
	require.NoError(t, err)

	for _, ep := range []string{"/one", "/two", "/three"} {
		f.clock.Advance(time.Second)
		require.NoError(t, f.svc.RecordAPICall(ctx, "s1", "structure", call(ep), f.clock.Now()))
	}

	views, err := f.svc.List(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, created.Interaction.ID, views[0].ID)
	require.Len(t, views[0].APICalls, 3)
	assert.Equal(t, "/one", views[0].APICalls[0].Endpoint)
	assert.Equal(t, "/two", views[0].APICalls[1].Endpoint)
	assert.Equal(t, "/three", views[0].APICalls[2].Endpoint)

	// Outside the window the call gets its own row.
	f.clock.Advance(DefaultAPICallMergeWindow + time.Second)
	require.NoError(t, f.svc.RecordAPICall(ctx, "s1", "structure", call("/four"), f.clock.Now()))
	views, err = f.svc.List(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, views, 2)

	require.NoError(t, f.svc.RecordAPICall(ctx, "", "structure", call("/ignored"), time.Time{}))
}

// Logs drained from a backlog are applied together but must be windowed by
// when each call was made.
func TestRecordAPICall_WindowUsesCallTime(t *testing.T) {
	f := newInteractionFixture(t)
	ctx := context.Background()

	first := f.clock.Now()
	second := first.Add(10 * time.Second)
	f.clock.Advance(time.Minute)

	require.NoError(t, f.svc.RecordAPICall(ctx, "s1", "plot", call("/a"), first))
	require.NoError(t, f.svc.RecordAPICall(ctx, "s1", "plot", call("/b"), second))

	views, err := f.svc.List(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "/b", views[0].APICalls[0].Endpoint)
	assert.Equal(t, second.UnixMilli(), views[0].Timestamp)
	assert.Equal(t, "/a", views[1].APICalls[0].Endpoint)

	// A third call inside the window of the second joins its row.
	require.NoError(t, f.svc.RecordAPICall(ctx, "s1", "plot", call("/c"), second.Add(2*time.Second)))
	views, err = f.svc.List(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, views, 2)
	require.Len(t, views[0].APICalls, 2)
	assert.Equal(t, "/c", views[0].APICalls[1].Endpoint)
}

// readingFeed reads the store while publishing, which only works if the
// write lock is released first.
type readingFeed struct {
	store *repository.MemStore
	seen  int
}

func (f *readingFeed) Publish(ctx context.Context, _ models.WSMessage) error {
	records, err := f.store.ListInteractionRecords(ctx, nil)
	f.seen = len(records)
	return err
}

func TestSave_PublishesOutsideStoreLock(t *testing.T) {
	store := repository.NewMemStore()
	feed := &readingFeed{store: store}
	svc := NewInteractionService(store, keylock.NewMutex(), NewAggregator(0, 0, nil), feed, nil)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Save(context.Background(), &models.WriteCommand{Username: "s1", Stage: "plot"})
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("save held the store lock while publishing")
	}
	assert.Equal(t, 1, feed.seen)
}

func TestSave_ConcurrentReviewWritesCollapse(t *testing.T) {
	f := newInteractionFixture(t)
	ctx := context.Background()

	const writers = 20
	ids := make([]uuid.UUID, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.Save(ctx, &models.WriteCommand{
				Username:     "s1",
				Stage:        models.StageReview,
				StoryContent: "The same story",
			})
			if assert.NoError(t, err) {
				ids[i] = res.Interaction.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	views, err := f.svc.List(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, views, 1)
}

func TestSave_EditsWorkInPlace(t *testing.T) {
	f := newInteractionFixture(t)
	ctx := context.Background()

	created, err := f.svc.Save(ctx, &models.WriteCommand{
		Username: "s1",
		Stage:    "story",
		Work: models.StoryPatch{
			Character: json.RawMessage(`{"name":"Milo"}`),
			Content:   strPtr("First draft"),
		},
	})
	require.NoError(t, err)
	story, ok := created.Work.(*models.Story)
	require.True(t, ok)

	f.clock.Advance(time.Minute)
	edited, err := f.svc.Save(ctx, &models.WriteCommand{
		Username: "s1",
		Stage:    "edit",
		APICalls: []models.APICall{call("/api/v1/advisor")},
		Work:     models.StoryPatch{Content: strPtr("Second draft")},
		WorkID:   &story.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeEdited, edited.Outcome)
	assert.Equal(t, created.Interaction.ID, edited.Interaction.ID)
	assert.Equal(t, "edit", edited.Interaction.Stage)
	assert.Equal(t, f.clock.Now(), edited.Interaction.Timestamp)
	assert.Len(t, edited.Interaction.APICalls, 1)

	got, err := f.store.FindStory(ctx, story.ID)
	require.NoError(t, err)
	assert.Equal(t, "Second draft", got.Content)
	assert.JSONEq(t, `{"name":"Milo"}`, string(got.Character))
}

func TestSave_ForeignWorkIDSavesAsNew(t *testing.T) {
	f := newInteractionFixture(t)
	ctx := context.Background()

	owned, err := f.svc.Save(ctx, &models.WriteCommand{
		Username: "owner",
		Stage:    "story",
		Work:     models.StoryPatch{Plot: json.RawMessage(`{}`), Content: strPtr("Mine")},
	})
	require.NoError(t, err)
	story := owned.Work.(*models.Story)

	res, err := f.svc.Save(ctx, &models.WriteCommand{
		Username: "intruder",
		Stage:    "story",
		Work:     models.StoryPatch{Plot: json.RawMessage(`{}`), Content: strPtr("Theirs")},
		WorkID:   &story.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)

	got, err := f.store.FindStory(ctx, story.ID)
	require.NoError(t, err)
	assert.Equal(t, "Mine", got.Content)
}

func TestList_UnknownUserListsEveryone(t *testing.T) {
	f := newInteractionFixture(t)
	ctx := context.Background()
	for _, u := range []string{"a", "b"} {
		_, err := f.svc.Save(ctx, &models.WriteCommand{Username: u, Stage: "character"})
		require.NoError(t, err)
	}

	all, err := f.svc.List(ctx, "nobody")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := f.svc.List(ctx, "a")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "a", mine[0].UserID)
}
