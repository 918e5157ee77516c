package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkwell-backend/internal/models"
	"inkwell-backend/internal/repository"
)

const seedYAML = `
users:
  - username: " Nicole "
    password: teach
    role: teacher
  - username: Wayne
    password: write
    no_ai: true
`

func TestParseSeed(t *testing.T) {
	seed, err := ParseSeed([]byte(seedYAML))
	require.NoError(t, err)
	require.Len(t, seed.Users, 2)
	assert.Equal(t, "Nicole", seed.Users[0].Username)
	assert.Equal(t, models.RoleStudent, seed.Users[1].Role)
	assert.True(t, seed.Users[1].NoAI)

	bad := map[string]string{
		"duplicate": "users:\n  - {username: a, password: pw}\n  - {username: a, password: pw}\n",
		"role":      "users:\n  - {username: a, password: pw, role: admin}\n",
		"password":  "users:\n  - {username: a}\n",
		"username":  "users:\n  - {password: pw}\n",
		"yaml":      "users: [",
	}
	for name, doc := range bad {
		_, err := ParseSeed([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestSeedUsers_KeepsIDs(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemStore()
	seed, err := ParseSeed([]byte(seedYAML))
	require.NoError(t, err)

	n, err := SeedUsers(ctx, store, seed, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	before, err := store.GetUserByUsername(ctx, "Wayne")
	require.NoError(t, err)
	assert.True(t, before.NoAI)

	_, err = SeedUsers(ctx, store, seed, nil)
	require.NoError(t, err)
	after, err := store.GetUserByUsername(ctx, "Wayne")
	require.NoError(t, err)
	assert.Equal(t, before.ID, after.ID)

	teacher, err := store.GetUserByUsername(ctx, "Nicole")
	require.NoError(t, err)
	assert.Equal(t, models.RoleTeacher, teacher.Role)
	assert.NotEmpty(t, teacher.PasswordHash)
}
