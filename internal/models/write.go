package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// WriteRequest is the body of POST /interactions. Artifact fields sit next
// to the interaction fields; ParseWriteRequest turns them into a WorkPayload.
type WriteRequest struct {
	UserID   string    `json:"user_id"`
	Stage    string    `json:"stage"`
	Input    Payload   `json:"input"`
	Output   Payload   `json:"output"`
	APICalls []APICall `json:"api_calls"`

	// Story
	Story     *string         `json:"story"`
	Character json.RawMessage `json:"character"`
	Plot      json.RawMessage `json:"plot"`
	Structure json.RawMessage `json:"structure"`

	// Review
	Review       *string `json:"review"`
	ReviewType   *string `json:"reviewType"`
	BookTitle    *string `json:"bookTitle"`
	BookCoverURL *string `json:"bookCoverUrl"`
	BookSummary  *string `json:"bookSummary"`

	// Letter
	Letter    *string `json:"letter"`
	Recipient *string `json:"recipient"`
	Occasion  *string `json:"occasion"`

	WorkID string `json:"workId"`
}

// WriteCommand is a validated WriteRequest.
type WriteCommand struct {
	Username     string
	Stage        string
	Input        Payload
	Output       Payload
	APICalls     []APICall
	StoryContent string
	Work         WorkPayload
	WorkID       *uuid.UUID
	// At is when the write happened, if not now.
	At time.Time
}

// InteractionView is the wire shape of an interaction, flattened with the
// fields of its artifact.
type InteractionView struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"user_id"`
	Timestamp int64     `json:"timestamp"`
	Stage     string    `json:"stage"`
	Input     Payload   `json:"input"`
	Output    Payload   `json:"output"`
	APICalls  []APICall `json:"api_calls"`

	Story     *string         `json:"story,omitempty"`
	Character json.RawMessage `json:"character,omitempty"`
	Plot      json.RawMessage `json:"plot,omitempty"`
	Structure json.RawMessage `json:"structure,omitempty"`

	Review       *string `json:"review,omitempty"`
	ReviewType   *string `json:"reviewType,omitempty"`
	BookTitle    *string `json:"bookTitle,omitempty"`
	BookCoverURL *string `json:"bookCoverUrl,omitempty"`
	BookSummary  *string `json:"bookSummary,omitempty"`

	Letter    *string  `json:"letter,omitempty"`
	Recipient *string  `json:"recipient,omitempty"`
	Occasion  *string  `json:"occasion,omitempty"`
	Sections  []string `json:"sections,omitempty"`
}

func NewInteractionView(rec InteractionRecord) InteractionView {
	v := InteractionView{
		ID:        rec.ID,
		UserID:    rec.Username,
		Timestamp: rec.Timestamp.UnixMilli(),
		Stage:     rec.Stage,
		Input:     rec.Input,
		Output:    rec.Output,
		APICalls:  rec.APICalls,
	}
	if v.Input == nil {
		v.Input = Payload{}
	}
	if v.Output == nil {
		v.Output = Payload{}
	}
	if v.APICalls == nil {
		v.APICalls = []APICall{}
	}
	if s := rec.Story; s != nil {
		v.Story = &s.Content
		v.Character = s.Character
		v.Plot = s.Plot
		v.Structure = s.Structure
	}
	if r := rec.Review; r != nil {
		v.Review = &r.Content
		v.ReviewType = &r.ReviewType
		v.BookTitle = &r.BookTitle
		v.BookCoverURL = r.BookCoverURL
		v.BookSummary = r.BookSummary
		if v.Structure == nil {
			v.Structure = r.Structure
		}
	}
	if l := rec.Letter; l != nil {
		v.Letter = &l.Content
		v.Recipient = &l.Recipient
		v.Occasion = l.Occasion
		v.Sections = l.Sections
	}
	return v
}

func NewInteractionViewFor(i *Interaction, username string) InteractionView {
	return NewInteractionView(InteractionRecord{Interaction: *i, Username: username})
}
