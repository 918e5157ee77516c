package services

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"inkwell-backend/internal/models"
)

// ParseWriteRequest validates a write and decides, once, which artifact it
// carries. A story needs its text plus at least one of character, plot or
// structure; a review needs text, type and book title; a letter needs text
// and a recipient. Requests matching more than one kind are rejected.
func ParseWriteRequest(req models.WriteRequest) (*models.WriteCommand, error) {
	fieldErrors := make(map[string]string)

	username := strings.TrimSpace(req.UserID)
	stage := strings.TrimSpace(req.Stage)
	if username == "" {
		fieldErrors["user_id"] = "user_id is required"
	}
	if stage == "" {
		fieldErrors["stage"] = "stage is required"
	}
	for i, call := range req.APICalls {
		if strings.TrimSpace(call.Endpoint) == "" {
			fieldErrors["api_calls"] = "api_calls[" + strconv.Itoa(i) + "].endpoint is required"
			break
		}
	}

	character := nullToNil(req.Character)
	plot := nullToNil(req.Plot)
	structure := nullToNil(req.Structure)

	var candidates []models.WorkPayload
	if nonEmpty(req.Story) && (character != nil || plot != nil || structure != nil) {
		candidates = append(candidates, models.StoryPatch{
			Character: character,
			Plot:      plot,
			Structure: structure,
			Content:   req.Story,
		})
	}
	if nonEmpty(req.Review) && nonEmpty(req.ReviewType) && nonEmpty(req.BookTitle) {
		candidates = append(candidates, models.ReviewPatch{
			ReviewType:   req.ReviewType,
			BookTitle:    req.BookTitle,
			BookCoverURL: emptyToNil(req.BookCoverURL),
			BookSummary:  req.BookSummary,
			Structure:    structure,
			Content:      req.Review,
		})
	}
	if nonEmpty(req.Letter) && nonEmpty(req.Recipient) {
		letter := models.LetterPatch{
			Recipient: req.Recipient,
			Occasion:  emptyToNil(req.Occasion),
			Content:   req.Letter,
		}
		if g := req.Output.String("guidance"); g != "" {
			letter.Guidance = &g
		}
		if img := req.Output.String("readerImageUrl"); img != "" {
			letter.ReaderImageURL = &img
		}
		if raw, ok := req.Input["sections"]; ok {
			var sections []string
			if err := json.Unmarshal(raw, &sections); err != nil {
				fieldErrors["input.sections"] = "sections must be a list of strings"
			} else if sections != nil {
				letter.Sections = sections
			}
		}
		candidates = append(candidates, letter)
	}
	if len(candidates) > 1 {
		fieldErrors["work"] = "a write may carry only one of story, review or letter"
	}

	var workID *uuid.UUID
	if strings.TrimSpace(req.WorkID) != "" {
		id, err := uuid.Parse(strings.TrimSpace(req.WorkID))
		switch {
		case err != nil:
			fieldErrors["workId"] = "workId must be a UUID"
		case len(candidates) == 0:
			fieldErrors["workId"] = "workId requires story, review or letter fields"
		default:
			workID = &id
		}
	}

	if len(fieldErrors) > 0 {
		return nil, &ValidationError{Fields: fieldErrors}
	}

	cmd := &models.WriteCommand{
		Username: username,
		Stage:    stage,
		Input:    req.Input,
		Output:   req.Output,
		APICalls: req.APICalls,
		WorkID:   workID,
	}
	if cmd.Input == nil {
		cmd.Input = models.Payload{}
	}
	if cmd.Output == nil {
		cmd.Output = models.Payload{}
	}
	if req.Story != nil {
		cmd.StoryContent = *req.Story
	}
	if len(candidates) == 1 {
		cmd.Work = candidates[0]
	}
	return cmd, nil
}

func nonEmpty(s *string) bool { return s != nil && *s != "" }

func emptyToNil(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

func nullToNil(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return raw
}
