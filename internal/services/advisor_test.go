package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkwell-backend/internal/models"
)

func TestClassifyAdvisorReply(t *testing.T) {
	tests := []struct {
		text string
		want AdvisorOutcome
	}{
		{"Lovely opening! You can move to the next part.", AdvisorContinue},
		{"Ready to move to the next section?", AdvisorContinue},
		{"done", AdvisorContinue},
		{"Great work.\nDONE!\n", AdvisorContinue},
		{"I think this part is done.", AdvisorContinue},
		{"Nothing is undone", AdvisorWait},
		{"Try adding a detail about the weather.", AdvisorWait},
		{"", AdvisorWait},
		{"   \n ", AdvisorWait},
	}
	for _, tt := range tests {
		if got := ClassifyAdvisorReply(tt.text); got != tt.want {
			t.Errorf("ClassifyAdvisorReply(%q) = %s, want %s", tt.text, got, tt.want)
		}
	}
}

type fakeAdvisor struct {
	reply string
	err   error
}

func (f fakeAdvisor) Advise(context.Context, string, models.Payload) (string, error) {
	return f.reply, f.err
}

type loggedCall struct {
	username, stage string
	call            models.APICall
}

type recordingCalls struct {
	mu    sync.Mutex
	calls []loggedCall
}

func (r *recordingCalls) LogAPICall(_ context.Context, username, stage string, call models.APICall) error {
	r.mu.Lock()
	r.calls = append(r.calls, loggedCall{username, stage, call})
	r.mu.Unlock()
	return nil
}

func TestAdvisorService_Ask(t *testing.T) {
	ctx := context.Background()
	req := AdvisorRequest{UserID: "s1", Stage: "letterGame", Context: models.Payload{}}

	t.Run("classifies the reply and logs the call", func(t *testing.T) {
		calls := &recordingCalls{}
		svc := NewAdvisorService(fakeAdvisor{reply: "Super! You can move to the next part"}, calls, 0, nil)
		resp, err := svc.Ask(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, AdvisorContinue, resp.Outcome)

		require.Len(t, calls.calls, 1)
		assert.Equal(t, "s1", calls.calls[0].username)
		assert.Equal(t, "letterGame", calls.calls[0].stage)
		assert.Equal(t, "/api/v1/advisor", calls.calls[0].call.Endpoint)
		assert.Contains(t, string(calls.calls[0].call.Response), "next part")
	})

	t.Run("falls back on advisor failure", func(t *testing.T) {
		svc := NewAdvisorService(fakeAdvisor{err: errors.New("quota")}, nil, 0, nil)
		resp, err := svc.Ask(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, FallbackAdvice, resp.Message)
		assert.Equal(t, AdvisorError, resp.Outcome)
	})

	t.Run("falls back without an advisor", func(t *testing.T) {
		resp, err := NewAdvisorService(nil, nil, 0, nil).Ask(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, FallbackAdvice, resp.Message)
	})

	t.Run("anonymous calls are not logged", func(t *testing.T) {
		calls := &recordingCalls{}
		svc := NewAdvisorService(fakeAdvisor{reply: "Keep at it"}, calls, 0, nil)
		_, err := svc.Ask(ctx, AdvisorRequest{Stage: "plot"})
		require.NoError(t, err)
		assert.Empty(t, calls.calls)
	})

	t.Run("stage is required", func(t *testing.T) {
		_, err := NewAdvisorService(nil, nil, 0, nil).Ask(ctx, AdvisorRequest{UserID: "s1"})
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
	})
}
