package workflow

import (
	"encoding/json"

	"github.com/google/uuid"

	"inkwell-backend/internal/models"
)

type EventType string

const (
	EventLogin  EventType = "login"
	EventLogout EventType = "logout"

	// Header navigation, available from any student state.
	EventGoHome    EventType = "goHome"
	EventGoAbout   EventType = "goAbout"
	EventGoGallery EventType = "goGallery"
	EventGoWrite   EventType = "goWrite"

	EventBack  EventType = "back"
	EventReset EventType = "reset"

	EventStartPlan        EventType = "startPlan"
	EventCompletePlan     EventType = "completePlan"
	EventStartRecommended EventType = "startRecommended"

	EventSelectStory  EventType = "selectStory"
	EventSelectReview EventType = "selectReview"
	EventSelectLetter EventType = "selectLetter"

	EventStart EventType = "start"

	EventSetCharacter EventType = "setCharacter"
	EventSetPlot      EventType = "setPlot"
	EventSetStructure EventType = "setStructure"
	EventWriteStory   EventType = "writeStory"

	EventSelectReviewType EventType = "selectReviewType"
	EventSelectBook       EventType = "selectBook"
	EventOutlineReady     EventType = "outlineReady"
	EventWriteReview      EventType = "writeReview"

	EventSetupLetter      EventType = "setupLetter"
	EventCompleteSections EventType = "completeSections"
	EventArrangeLetter    EventType = "arrangeLetter"

	EventEdit         EventType = "edit"
	EventSaveEdit     EventType = "saveEdit"
	EventBackToEdit   EventType = "backToEdit"
	EventAdvisorReply EventType = "advisorReply"
	EventResume       EventType = "resume"
)

// AdvisorOutcome is the tagged reading of an advisor reply. Only Continue
// moves a writing state to its next section.
type AdvisorOutcome string

const (
	OutcomeContinue AdvisorOutcome = "continue"
	OutcomeWait     AdvisorOutcome = "wait"
	OutcomeError    AdvisorOutcome = "error"
)

// Plan recommendations produced by the planning quiz.
const (
	PlanStory  = "Story"
	PlanReview = "Book Review"
	PlanLetter = "Letter"
)

// Event is one step requested by the client. Only the fields relevant to
// Type are read.
type Event struct {
	Type EventType `json:"type"`

	User *User `json:"user,omitempty"`

	Recommendation string `json:"recommendation,omitempty"`

	Character json.RawMessage `json:"character,omitempty"`
	Plot      json.RawMessage `json:"plot,omitempty"`
	Structure json.RawMessage `json:"structure,omitempty"`
	Story     string          `json:"story,omitempty"`

	ReviewType   string `json:"reviewType,omitempty"`
	BookTitle    string `json:"bookTitle,omitempty"`
	BookCoverURL string `json:"bookCoverUrl,omitempty"`
	BookSummary  string `json:"bookSummary,omitempty"`
	Review       string `json:"review,omitempty"`

	Recipient      string   `json:"recipient,omitempty"`
	Occasion       string   `json:"occasion,omitempty"`
	Guidance       *string  `json:"guidance,omitempty"`
	ReaderImageURL string   `json:"readerImageUrl,omitempty"`
	Sections       []string `json:"sections,omitempty"`
	Letter         string   `json:"letter,omitempty"`

	Outcome AdvisorOutcome `json:"outcome,omitempty"`

	// WorkID and Kind name a saved work to resume; the session layer loads
	// it into Work before firing.
	WorkID string            `json:"workId,omitempty"`
	Kind   models.RecordKind `json:"kind,omitempty"`
	Work   *SavedWork        `json:"-"`
}

// SavedWork is a persisted artifact to resume. Exactly one of the pointers
// is set.
type SavedWork struct {
	ID     uuid.UUID
	Story  *models.Story
	Review *models.Review
	Letter *models.Letter
}

func (w *SavedWork) kind() models.RecordKind {
	switch {
	case w == nil:
		return ""
	case w.Story != nil:
		return models.KindStory
	case w.Review != nil:
		return models.KindReview
	case w.Letter != nil:
		return models.KindLetter
	}
	return ""
}
