// Package workflow sequences a user through the creative-writing pipelines.
//
// A Machine is a plain value: the current State plus the drafts collected on
// the way. Fire applies one Event through the transition table, and either
// the whole transition happens (action, entry guards, new state) or the
// machine is left untouched. The package does no I/O; persistence of
// machines lives in Sessions.
package workflow

import (
	"encoding/json"

	"github.com/google/uuid"

	"inkwell-backend/internal/models"
)

type State string

const (
	StateLogin           State = "login"
	StateHome            State = "home"
	StateAbout           State = "about"
	StatePlanQuiz        State = "planQuiz"
	StatePlanResult      State = "planResult"
	StateWriteTypeSelect State = "writeTypeSelect"
	StateDashboard       State = "dashboard"
	StateGallery         State = "gallery"

	StateStoryWelcome   State = "storyWelcome"
	StateStoryCharacter State = "storyCharacter"
	StateStoryPlot      State = "storyPlot"
	StateStoryStructure State = "storyStructure"
	StateStoryWriting   State = "storyWriting"
	StateStoryReview    State = "storyReview"
	StateStoryEdit      State = "storyEdit"

	StateReviewWelcome       State = "reviewWelcome"
	StateReviewTypeSelection State = "reviewTypeSelection"
	StateReviewBookSelection State = "reviewBookSelection"
	StateReviewLoading       State = "reviewLoading"
	StateReviewWriting       State = "reviewWriting"
	StateReviewComplete      State = "reviewComplete"
	StateReviewEdit          State = "reviewEdit"

	StateLetterAdventure State = "letterAdventure"
	StateLetterGame      State = "letterGame"
	StateLetterPuzzle    State = "letterPuzzle"
	StateLetterComplete  State = "letterComplete"
	StateLetterEdit      State = "letterEdit"
)

// Pipeline names the creative pipeline a state belongs to, or "" for the
// shared states.
func (s State) Pipeline() models.RecordKind {
	switch s {
	case StateStoryWelcome, StateStoryCharacter, StateStoryPlot, StateStoryStructure,
		StateStoryWriting, StateStoryReview, StateStoryEdit:
		return models.KindStory
	case StateReviewWelcome, StateReviewTypeSelection, StateReviewBookSelection, StateReviewLoading,
		StateReviewWriting, StateReviewComplete, StateReviewEdit:
		return models.KindReview
	case StateLetterAdventure, StateLetterGame, StateLetterPuzzle, StateLetterComplete, StateLetterEdit:
		return models.KindLetter
	}
	return ""
}

// Variant is the flavour of a pipeline's content stages. Self-directed users
// get no advisor and, in the review pipeline, a fixed outline instead of the
// generated one.
type Variant string

const (
	VariantAssisted     Variant = "assisted"
	VariantSelfDirected Variant = "selfDirected"
)

type User struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	NoAI     bool   `json:"noAi"`
}

func (u *User) isTeacher() bool { return u != nil && u.Role == models.RoleTeacher }

type StoryDraft struct {
	Character json.RawMessage `json:"character,omitempty"`
	Plot      json.RawMessage `json:"plot,omitempty"`
	Structure json.RawMessage `json:"structure,omitempty"`
	Story     string          `json:"story"`
}

type ReviewDraft struct {
	ReviewType   string          `json:"reviewType,omitempty"`
	BookTitle    string          `json:"bookTitle,omitempty"`
	Structure    json.RawMessage `json:"structure,omitempty"`
	Review       string          `json:"review"`
	BookCoverURL string          `json:"bookCoverUrl,omitempty"`
	BookSummary  string          `json:"bookSummary,omitempty"`
}

type LetterDraft struct {
	Recipient      string   `json:"recipient,omitempty"`
	Occasion       string   `json:"occasion,omitempty"`
	Guidance       *string  `json:"guidance"`
	ReaderImageURL string   `json:"readerImageUrl,omitempty"`
	Sections       []string `json:"sections"`
	Letter         string   `json:"letter"`
}

// Machine is one user's position in the workflow. Its JSON form is what
// Sessions persist and what the API returns.
type Machine struct {
	State         State       `json:"state"`
	User          *User       `json:"user,omitempty"`
	Plan          string      `json:"plan,omitempty"`
	Story         StoryDraft  `json:"story"`
	Review        ReviewDraft `json:"review"`
	Letter        LetterDraft `json:"letter"`
	EditingWorkID *uuid.UUID  `json:"editingWorkId,omitempty"`
	// SectionIndex is the section being written in storyWriting,
	// reviewWriting or letterGame.
	SectionIndex int `json:"sectionIndex"`
	// GalleryReturn is the edit state to go back to from the gallery.
	GalleryReturn State `json:"galleryReturn,omitempty"`
}

func New() *Machine {
	return &Machine{State: StateLogin, Letter: LetterDraft{Sections: []string{}}}
}

// Variant is the pipeline flavour for the current user.
func (m *Machine) Variant() Variant {
	if m.User != nil && m.User.NoAI {
		return VariantSelfDirected
	}
	return VariantAssisted
}

func (m *Machine) clone() *Machine {
	c := *m
	if m.User != nil {
		u := *m.User
		c.User = &u
	}
	if m.EditingWorkID != nil {
		id := *m.EditingWorkID
		c.EditingWorkID = &id
	}
	if m.Letter.Guidance != nil {
		g := *m.Letter.Guidance
		c.Letter.Guidance = &g
	}
	c.Letter.Sections = append([]string{}, m.Letter.Sections...)
	c.Story.Character = cloneRaw(m.Story.Character)
	c.Story.Plot = cloneRaw(m.Story.Plot)
	c.Story.Structure = cloneRaw(m.Story.Structure)
	c.Review.Structure = cloneRaw(m.Review.Structure)
	return &c
}

func (m *Machine) resetDrafts() {
	m.Story = StoryDraft{}
	m.Review = ReviewDraft{}
	m.Letter = LetterDraft{Sections: []string{}}
	m.EditingWorkID = nil
	m.SectionIndex = 0
	m.GalleryReturn = ""
}

// SectionCount is how many sections the current writing state has, or 0
// when unknown.
func (m *Machine) SectionCount() int {
	switch m.State {
	case StateStoryWriting:
		return outlineLen(m.Story.Structure)
	case StateReviewWriting:
		return outlineLen(m.Review.Structure)
	case StateLetterGame:
		return len(LetterSections)
	}
	return 0
}

func outlineLen(raw json.RawMessage) int {
	var s struct {
		Outline []string `json:"outline"`
	}
	if present(raw) && json.Unmarshal(raw, &s) == nil {
		return len(s.Outline)
	}
	return 0
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage{}, raw...)
}

// present reports whether raw holds a non-null JSON value.
func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}
