package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeImages struct {
	url string
	err error
}

func (f fakeImages) Generate(context.Context, string, string) (string, error) { return f.url, f.err }

func TestImageService_Generate(t *testing.T) {
	ctx := context.Background()

	t.Run("empty prompt", func(t *testing.T) {
		_, err := NewImageService(fakeImages{}, nil, nil).Generate(ctx, ImageRequest{Prompt: "  "})
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, "Prompt cannot be empty", vErr.Fields["prompt"])
	})

	t.Run("generated image", func(t *testing.T) {
		calls := &recordingCalls{}
		res, err := NewImageService(fakeImages{url: "https://cdn/x.jpg"}, calls, nil).
			Generate(ctx, ImageRequest{UserID: "s1", Prompt: "a brave mouse"})
		require.NoError(t, err)
		assert.Equal(t, "https://cdn/x.jpg", res.ImageURL)
		assert.False(t, res.Placeholder)

		require.Len(t, calls.calls, 1)
		assert.Equal(t, "character", calls.calls[0].stage)
		assert.Equal(t, "/api/v1/images", calls.calls[0].call.Endpoint)
	})

	t.Run("failure yields placeholder", func(t *testing.T) {
		res, err := NewImageService(fakeImages{err: errors.New("boom")}, nil, nil).
			Generate(ctx, ImageRequest{Prompt: "a brave mouse"})
		require.NoError(t, err)
		assert.True(t, res.Placeholder)
		assert.Equal(t, "/placeholder.svg?text=a+brave+mouse", res.ImageURL)
	})
}

func TestFalImageGenerator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Key secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["aspect_ratio"] != "16:9" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"images":[{"url":"https://fal/img.jpeg"}]}`))
	}))
	defer srv.Close()

	url, err := NewFalImageGenerator(srv.URL, "secret", time.Second).Generate(context.Background(), "castle", "16:9")
	require.NoError(t, err)
	assert.Equal(t, "https://fal/img.jpeg", url)

	_, err = NewFalImageGenerator(srv.URL, "wrong", time.Second).Generate(context.Background(), "castle", "16:9")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
