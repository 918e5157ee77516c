package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Story struct {
	ID            uuid.UUID       `json:"id"`
	UserID        uuid.UUID       `json:"user_id"`
	InteractionID uuid.UUID       `json:"interaction_id"`
	Character     json.RawMessage `json:"character"`
	Plot          json.RawMessage `json:"plot"`
	Structure     json.RawMessage `json:"structure"`
	Content       string          `json:"content"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type Review struct {
	ID            uuid.UUID       `json:"id"`
	UserID        uuid.UUID       `json:"user_id"`
	InteractionID uuid.UUID       `json:"interaction_id"`
	ReviewType    string          `json:"review_type"` // "recommendation" | "critical" | "literary"
	BookTitle     string          `json:"book_title"`
	BookCoverURL  *string         `json:"book_cover_url"`
	BookSummary   *string         `json:"book_summary"`
	Structure     json.RawMessage `json:"structure"`
	Content       string          `json:"content"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type Letter struct {
	ID             uuid.UUID `json:"id"`
	UserID         uuid.UUID `json:"user_id"`
	InteractionID  uuid.UUID `json:"interaction_id"`
	Recipient      string    `json:"recipient"`
	Occasion       *string   `json:"occasion"`
	Guidance       *string   `json:"guidance"`
	ReaderImageURL *string   `json:"reader_image_url"`
	Sections       []string  `json:"sections"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// WorkPayload is the artifact part of a write. Exactly one of StoryPatch,
// ReviewPatch or LetterPatch.
type WorkPayload interface {
	Kind() RecordKind
}

// Patches carry only the fields a write supplies. A nil field leaves the
// stored value as it is.

type StoryPatch struct {
	Character json.RawMessage
	Plot      json.RawMessage
	Structure json.RawMessage
	Content   *string
}

func (StoryPatch) Kind() RecordKind { return KindStory }

type ReviewPatch struct {
	ReviewType   *string
	BookTitle    *string
	BookCoverURL *string
	BookSummary  *string
	Structure    json.RawMessage
	Content      *string
}

func (ReviewPatch) Kind() RecordKind { return KindReview }

type LetterPatch struct {
	Recipient      *string
	Occasion       *string
	Guidance       *string
	ReaderImageURL *string
	Sections       []string
	Content        *string
}

func (LetterPatch) Kind() RecordKind { return KindLetter }

func (p StoryPatch) Apply(s *Story) {
	if p.Character != nil {
		s.Character = p.Character
	}
	if p.Plot != nil {
		s.Plot = p.Plot
	}
	if p.Structure != nil {
		s.Structure = p.Structure
	}
	if p.Content != nil {
		s.Content = *p.Content
	}
}

func (p ReviewPatch) Apply(r *Review) {
	if p.ReviewType != nil {
		r.ReviewType = *p.ReviewType
	}
	if p.BookTitle != nil {
		r.BookTitle = *p.BookTitle
	}
	if p.BookCoverURL != nil {
		r.BookCoverURL = cloneString(p.BookCoverURL)
	}
	if p.BookSummary != nil {
		r.BookSummary = cloneString(p.BookSummary)
	}
	if p.Structure != nil {
		r.Structure = p.Structure
	}
	if p.Content != nil {
		r.Content = *p.Content
	}
}

func (p LetterPatch) Apply(l *Letter) {
	if p.Recipient != nil {
		l.Recipient = *p.Recipient
	}
	if p.Occasion != nil {
		l.Occasion = cloneString(p.Occasion)
	}
	if p.Guidance != nil {
		l.Guidance = cloneString(p.Guidance)
	}
	if p.ReaderImageURL != nil {
		l.ReaderImageURL = cloneString(p.ReaderImageURL)
	}
	if p.Sections != nil {
		l.Sections = append([]string(nil), p.Sections...)
	}
	if p.Content != nil {
		l.Content = *p.Content
	}
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// WorkSummary is one entry of the "continue your work" listing.
type WorkSummary struct {
	ID            uuid.UUID   `json:"id"`
	Kind          RecordKind  `json:"type"`
	InteractionID uuid.UUID   `json:"interactionId"`
	Title         string      `json:"title"`
	Preview       string      `json:"preview"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
	Data          interface{} `json:"data"`
}
