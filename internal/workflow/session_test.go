package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkwell-backend/internal/models"
)

func TestMemorySessions(t *testing.T) {
	ctx := context.Background()
	sessions := NewMemorySessions()

	_, err := sessions.Load(ctx, "s1")
	require.ErrorIs(t, err, ErrNoSession)

	m := loggedIn(t, models.RoleStudent, false)
	fire(t, m, Event{Type: EventGoWrite})
	fire(t, m, Event{Type: EventSelectLetter})
	fire(t, m, Event{Type: EventSetupLetter, Recipient: "Mum", Occasion: "Thanks", Guidance: strPtr("warm")})
	require.NoError(t, sessions.Save(ctx, "s1", m))

	loaded, err := sessions.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, m, loaded)

	// The stored copy is independent of both sides.
	*loaded.Letter.Guidance = "cold"
	m.Letter.Recipient = "Dad"
	again, err := sessions.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "warm", *again.Letter.Guidance)
	assert.Equal(t, "Mum", again.Letter.Recipient)

	require.NoError(t, sessions.Delete(ctx, "s1"))
	_, err = sessions.Load(ctx, "s1")
	require.ErrorIs(t, err, ErrNoSession)
}
