package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkwell-backend/internal/models"
	"inkwell-backend/internal/workflow"
)

func TestWorkflowService(t *testing.T) {
	f := newInteractionFixture(t)
	ctx := context.Background()
	sessions := workflow.NewMemorySessions()
	svc := NewWorkflowService(sessions, f.store, nil, nil)

	require.NoError(t, f.store.CreateUser(ctx, &models.User{Username: "Wayne", Role: models.RoleStudent, NoAI: true}))

	snap, err := svc.Current(ctx, "Wayne")
	require.NoError(t, err)
	assert.Equal(t, workflow.StateLogin, snap.State)

	t.Run("login uses the stored user", func(t *testing.T) {
		// A client-supplied user is ignored.
		snap, err := svc.Fire(ctx, "Wayne", workflow.Event{
			Type: workflow.EventLogin,
			User: &workflow.User{Username: "Wayne", Role: models.RoleTeacher},
		})
		require.NoError(t, err)
		assert.Equal(t, workflow.StateHome, snap.State)
		assert.Equal(t, workflow.VariantSelfDirected, snap.Variant)

		again, err := svc.Current(ctx, "Wayne")
		require.NoError(t, err)
		assert.Equal(t, workflow.StateHome, again.State)
	})

	t.Run("unknown user cannot log in", func(t *testing.T) {
		_, err := svc.Fire(ctx, "ghost", workflow.Event{Type: workflow.EventLogin})
		var nfErr *NotFoundError
		require.ErrorAs(t, err, &nfErr)
	})

	t.Run("rejected events leave the session alone", func(t *testing.T) {
		_, err := svc.Fire(ctx, "Wayne", workflow.Event{Type: workflow.EventWriteStory, Story: "x"})
		var tErr *workflow.TransitionError
		require.ErrorAs(t, err, &tErr)

		snap, err := svc.Current(ctx, "Wayne")
		require.NoError(t, err)
		assert.Equal(t, workflow.StateHome, snap.State)
	})

	t.Run("resume", func(t *testing.T) {
		mine, err := f.svc.Save(ctx, &models.WriteCommand{Username: "Wayne", Stage: "letter",
			Work: models.LetterPatch{Recipient: strPtr("Mum"), Occasion: strPtr("Thanks"), Content: strPtr("Thank you!")}})
		require.NoError(t, err)
		letter := mine.Work.(*models.Letter)

		theirs, err := f.svc.Save(ctx, &models.WriteCommand{Username: "other", Stage: "story",
			Work: models.StoryPatch{Plot: json.RawMessage(`{}`), Content: strPtr("Not yours")}})
		require.NoError(t, err)
		story := theirs.Work.(*models.Story)

		var nfErr *NotFoundError
		_, err = svc.Fire(ctx, "Wayne", workflow.Event{Type: workflow.EventResume, WorkID: story.ID.String(), Kind: models.KindStory})
		require.ErrorAs(t, err, &nfErr)
		_, err = svc.Fire(ctx, "Wayne", workflow.Event{Type: workflow.EventResume, WorkID: uuid.NewString(), Kind: models.KindLetter})
		require.ErrorAs(t, err, &nfErr)

		var vErr *ValidationError
		_, err = svc.Fire(ctx, "Wayne", workflow.Event{Type: workflow.EventResume, WorkID: "nope", Kind: models.KindLetter})
		require.ErrorAs(t, err, &vErr)
		_, err = svc.Fire(ctx, "Wayne", workflow.Event{Type: workflow.EventResume, WorkID: letter.ID.String(), Kind: "poem"})
		require.ErrorAs(t, err, &vErr)

		snap, err := svc.Fire(ctx, "Wayne", workflow.Event{Type: workflow.EventResume, WorkID: letter.ID.String(), Kind: models.KindLetter})
		require.NoError(t, err)
		assert.Equal(t, workflow.StateLetterComplete, snap.State)
		require.NotNil(t, snap.EditingWorkID)
		assert.Equal(t, letter.ID, *snap.EditingWorkID)
		assert.Equal(t, "Thank you!", snap.Letter.Letter)
	})

	t.Run("logout drops the session", func(t *testing.T) {
		snap, err := svc.Fire(ctx, "Wayne", workflow.Event{Type: workflow.EventLogout})
		require.NoError(t, err)
		assert.Equal(t, workflow.StateLogin, snap.State)

		_, err = sessions.Load(ctx, "Wayne")
		assert.ErrorIs(t, err, workflow.ErrNoSession)
	})
}
