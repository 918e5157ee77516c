package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"inkwell-backend/internal/models"
	"inkwell-backend/internal/repository"
)

// Outcome says what a write did to the interaction log.
type Outcome string

const (
	OutcomeCreated          Outcome = "created"
	OutcomeDeduplicated     Outcome = "deduplicated"
	OutcomePlotMerged       Outcome = "plot_merged"
	OutcomeAPICallsAppended Outcome = "api_calls_appended"
	OutcomeEdited           Outcome = "edited"
)

const (
	DefaultPlotMergeWindow    = 30 * time.Second
	DefaultAPICallMergeWindow = 5 * time.Second
)

// Aggregator decides whether a write creates a new interaction or folds
// into a recent one for the same (user, stage). It must run inside the
// key's transaction so the decision and the write are one step.
type Aggregator struct {
	plotWindow    time.Duration
	apiCallWindow time.Duration
	now           func() time.Time
}

func NewAggregator(plotWindow, apiCallWindow time.Duration, now func() time.Time) *Aggregator {
	if plotWindow <= 0 {
		plotWindow = DefaultPlotMergeWindow
	}
	if apiCallWindow <= 0 {
		apiCallWindow = DefaultAPICallMergeWindow
	}
	if now == nil {
		now = time.Now
	}
	return &Aggregator{plotWindow: plotWindow, apiCallWindow: apiCallWindow, now: now}
}

func (a *Aggregator) Now() time.Time { return a.now() }

type AggregateRequest struct {
	UserID       uuid.UUID
	Stage        string
	Input        models.Payload
	Output       models.Payload
	APICalls     []models.APICall
	StoryContent string
	// At stamps the request when it happened earlier than it is applied.
	// Zero means now.
	At time.Time
}

// Apply runs the first matching rule:
//
//  1. review stage with story text already logged for the user: return that row untouched
//  2. plot stage carrying input.messages and a plot row younger than the plot window:
//     replace its messages, merge output key by key, refresh its timestamp
//  3. api calls present and a row for the key younger than the api-call window:
//     append the calls in order
//  4. otherwise create a row stamped now
//
// now is req.At when set, so queued api-call logs are windowed by when the
// call was made.
func (a *Aggregator) Apply(ctx context.Context, tx repository.KeyTx, req AggregateRequest) (*models.Interaction, Outcome, error) {
	now := req.At
	if now.IsZero() {
		now = a.now()
	}

	if req.Stage == models.StageReview && req.StoryContent != "" {
		existing, err := tx.FindReviewDuplicate(ctx, req.StoryContent)
		if err == nil {
			return existing, OutcomeDeduplicated, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, "", err
		}
	}

	if req.Stage == models.StagePlot && req.Input.Has("messages") {
		recent, err := tx.LatestForKey(ctx, now.Add(-a.plotWindow))
		if err == nil {
			input := recent.Input.Clone()
			input["messages"] = req.Input["messages"]
			recent.Input = input
			if len(req.Output) > 0 {
				recent.Output = recent.Output.Merge(req.Output)
			}
			// Calls riding along with a plot update are kept, never dropped.
			recent.APICalls = append(recent.APICalls, req.APICalls...)
			recent.Timestamp = now
			if err := tx.UpdateInteraction(ctx, recent); err != nil {
				return nil, "", err
			}
			return recent, OutcomePlotMerged, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, "", err
		}
	}

	if len(req.APICalls) > 0 {
		recent, err := tx.LatestForKey(ctx, now.Add(-a.apiCallWindow))
		if err == nil {
			recent.APICalls = append(recent.APICalls, req.APICalls...)
			if err := tx.UpdateInteraction(ctx, recent); err != nil {
				return nil, "", err
			}
			return recent, OutcomeAPICallsAppended, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, "", err
		}
	}

	created := &models.Interaction{
		UserID:    req.UserID,
		Stage:     req.Stage,
		Timestamp: now,
		Input:     req.Input,
		Output:    req.Output,
		APICalls:  append([]models.APICall{}, req.APICalls...),
	}
	if created.Input == nil {
		created.Input = models.Payload{}
	}
	if created.Output == nil {
		created.Output = models.Payload{}
	}
	if req.Stage == models.StageReview && req.StoryContent != "" {
		content := req.StoryContent
		created.StoryContent = &content
	}
	if err := tx.CreateInteraction(ctx, created); err != nil {
		return nil, "", err
	}
	return created, OutcomeCreated, nil
}
