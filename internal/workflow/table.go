package workflow

import (
	"strings"

	"inkwell-backend/internal/models"
)

// Any matches every source state in the transition table. Exact entries win.
const Any State = "*"

// Transition is one row of the table. Target, when set, picks the
// destination from the machine before Action runs (variant forks, resume).
// Guard checks the event itself; the data each state needs on entry is
// checked separately by CheckEntry after Action.
type Transition struct {
	From   State
	Event  EventType
	To     State
	Target func(m *Machine, ev Event) State
	Guard  func(m *Machine, ev Event) error
	Action func(m *Machine, ev Event)
}

type tableKey struct {
	from  State
	event EventType
}

var table = buildTable([]Transition{
	// ──── Session ────
	{From: StateLogin, Event: EventLogin, Guard: guardLogin, Action: actLogin,
		Target: func(_ *Machine, ev Event) State {
			if ev.User.isTeacher() {
				return StateDashboard
			}
			return StateHome
		}},
	{From: Any, Event: EventLogout, To: StateLogin, Action: actLogout},
	{From: StateDashboard, Event: EventBack, To: StateLogin, Action: actLogout},

	// ──── Header navigation ────
	{From: Any, Event: EventGoHome, To: StateHome},
	{From: Any, Event: EventGoAbout, To: StateAbout},
	{From: Any, Event: EventGoWrite, To: StateWriteTypeSelect},
	{From: Any, Event: EventGoGallery, To: StateGallery, Action: func(m *Machine, _ Event) { m.GalleryReturn = "" }},
	{From: StateStoryEdit, Event: EventGoGallery, To: StateGallery, Action: galleryFrom(StateStoryEdit)},
	{From: StateReviewEdit, Event: EventGoGallery, To: StateGallery, Action: galleryFrom(StateReviewEdit)},
	{From: StateLetterEdit, Event: EventGoGallery, To: StateGallery, Action: galleryFrom(StateLetterEdit)},
	{From: StateGallery, Event: EventBackToEdit, Guard: guardGalleryReturn,
		Target: func(m *Machine, _ Event) State { return m.GalleryReturn },
		Action: func(m *Machine, _ Event) { m.GalleryReturn = "" }},
	{From: StateGallery, Event: EventBack, To: StateHome, Action: func(m *Machine, _ Event) { m.GalleryReturn = "" }},
	{From: StateAbout, Event: EventBack, To: StateHome},

	// ──── Planning ────
	{From: StateHome, Event: EventStartPlan, To: StatePlanQuiz},
	{From: StatePlanQuiz, Event: EventBack, To: StateHome},
	{From: StatePlanQuiz, Event: EventCompletePlan, To: StatePlanResult, Guard: guardPlan,
		Action: func(m *Machine, ev Event) { m.Plan = ev.Recommendation }},
	{From: StatePlanResult, Event: EventBack, To: StatePlanQuiz},
	{From: StatePlanResult, Event: EventStartRecommended, Target: func(m *Machine, _ Event) State {
		switch m.Plan {
		case PlanStory:
			return StateStoryWelcome
		case PlanReview:
			return StateReviewWelcome
		case PlanLetter:
			return StateLetterAdventure
		}
		return ""
	}},

	// ──── Choosing a pipeline ────
	{From: StateWriteTypeSelect, Event: EventSelectStory, To: StateStoryWelcome},
	{From: StateWriteTypeSelect, Event: EventSelectReview, To: StateReviewWelcome},
	{From: StateWriteTypeSelect, Event: EventSelectLetter, To: StateLetterAdventure},
	{From: StateWriteTypeSelect, Event: EventBack, To: StateHome},

	// ──── Story ────
	{From: StateStoryWelcome, Event: EventStart, To: StateStoryCharacter, Action: func(m *Machine, _ Event) {
		m.Story = StoryDraft{}
		m.EditingWorkID = nil
	}},
	{From: StateStoryWelcome, Event: EventBack, To: StateHome},
	{From: StateStoryCharacter, Event: EventSetCharacter, To: StateStoryPlot,
		Action: func(m *Machine, ev Event) { m.Story.Character = cloneRaw(ev.Character) }},
	{From: StateStoryCharacter, Event: EventBack, To: StateStoryWelcome},
	{From: StateStoryPlot, Event: EventSetPlot, To: StateStoryStructure,
		Action: func(m *Machine, ev Event) { m.Story.Plot = cloneRaw(ev.Plot) }},
	{From: StateStoryPlot, Event: EventBack, To: StateStoryCharacter},
	{From: StateStoryStructure, Event: EventSetStructure, To: StateStoryWriting, Action: func(m *Machine, ev Event) {
		m.Story.Structure = cloneRaw(ev.Structure)
		m.SectionIndex = 0
	}},
	{From: StateStoryStructure, Event: EventBack, To: StateStoryPlot},
	{From: StateStoryWriting, Event: EventWriteStory, To: StateStoryReview,
		Action: func(m *Machine, ev Event) { m.Story.Story = ev.Story }},
	{From: StateStoryWriting, Event: EventAdvisorReply, To: StateStoryWriting, Guard: guardOutcome, Action: actAdvisorReply},
	{From: StateStoryWriting, Event: EventBack, To: StateStoryStructure},
	{From: StateStoryReview, Event: EventEdit, To: StateStoryEdit},
	{From: StateStoryReview, Event: EventReset, To: StateHome, Action: actReset},
	{From: StateStoryReview, Event: EventBack, To: StateStoryWriting, Action: enterWriting},
	{From: StateStoryEdit, Event: EventSaveEdit, To: StateStoryReview, Action: func(m *Machine, ev Event) {
		m.Story.Story = ev.Story
		if present(ev.Character) {
			m.Story.Character = cloneRaw(ev.Character)
		}
		if present(ev.Plot) {
			m.Story.Plot = cloneRaw(ev.Plot)
		}
		if present(ev.Structure) {
			m.Story.Structure = cloneRaw(ev.Structure)
		}
	}},
	{From: StateStoryEdit, Event: EventBack, To: StateStoryReview},

	// ──── Book review ────
	{From: StateReviewWelcome, Event: EventStart, To: StateReviewTypeSelection, Action: func(m *Machine, _ Event) {
		m.Review = ReviewDraft{}
		m.EditingWorkID = nil
	}},
	{From: StateReviewWelcome, Event: EventBack, To: StateHome},
	{From: StateReviewTypeSelection, Event: EventSelectReviewType, To: StateReviewBookSelection, Guard: guardReviewType,
		Action: func(m *Machine, ev Event) { m.Review.ReviewType = ev.ReviewType }},
	{From: StateReviewTypeSelection, Event: EventBack, To: StateReviewWelcome},
	{From: StateReviewBookSelection, Event: EventSelectBook, Action: actSelectBook,
		Target: func(m *Machine, _ Event) State {
			if m.Variant() == VariantSelfDirected {
				return StateReviewWriting
			}
			return StateReviewLoading
		}},
	{From: StateReviewBookSelection, Event: EventBack, To: StateReviewTypeSelection},
	{From: StateReviewLoading, Event: EventOutlineReady, To: StateReviewWriting, Action: func(m *Machine, ev Event) {
		m.Review.Structure = cloneRaw(ev.Structure)
		m.Review.BookCoverURL = ev.BookCoverURL
		m.Review.BookSummary = ev.BookSummary
		m.SectionIndex = 0
	}},
	{From: StateReviewLoading, Event: EventBack, To: StateReviewBookSelection},
	{From: StateReviewWriting, Event: EventWriteReview, To: StateReviewComplete, Action: func(m *Machine, ev Event) {
		m.Review.Review = ev.Review
		if ev.BookCoverURL != "" {
			m.Review.BookCoverURL = ev.BookCoverURL
		}
	}},
	{From: StateReviewWriting, Event: EventAdvisorReply, To: StateReviewWriting, Guard: guardOutcome, Action: actAdvisorReply},
	{From: StateReviewWriting, Event: EventBack, Target: func(m *Machine, _ Event) State {
		if m.Variant() == VariantSelfDirected {
			return StateReviewBookSelection
		}
		return StateReviewLoading
	}},
	{From: StateReviewComplete, Event: EventEdit, To: StateReviewEdit},
	{From: StateReviewComplete, Event: EventReset, To: StateHome, Action: actReset},
	{From: StateReviewComplete, Event: EventBack, To: StateReviewWriting, Action: enterWriting},
	{From: StateReviewEdit, Event: EventSaveEdit, To: StateReviewComplete,
		Action: func(m *Machine, ev Event) { m.Review.Review = ev.Review }},
	{From: StateReviewEdit, Event: EventBack, To: StateReviewComplete},

	// ──── Letter ────
	{From: StateLetterAdventure, Event: EventSetupLetter, To: StateLetterGame, Action: func(m *Machine, ev Event) {
		m.Letter = LetterDraft{
			Recipient:      strings.TrimSpace(ev.Recipient),
			Occasion:       strings.TrimSpace(ev.Occasion),
			Guidance:       ev.Guidance,
			ReaderImageURL: ev.ReaderImageURL,
			Sections:       []string{},
		}
		m.EditingWorkID = nil
		m.SectionIndex = 0
	}},
	{From: StateLetterAdventure, Event: EventBack, To: StateWriteTypeSelect},
	{From: StateLetterGame, Event: EventCompleteSections, To: StateLetterPuzzle,
		Action: func(m *Machine, ev Event) { m.Letter.Sections = nonBlank(ev.Sections) }},
	{From: StateLetterGame, Event: EventAdvisorReply, To: StateLetterGame, Guard: guardOutcome, Action: actAdvisorReply},
	{From: StateLetterGame, Event: EventBack, To: StateLetterAdventure},
	{From: StateLetterPuzzle, Event: EventArrangeLetter, To: StateLetterComplete, Action: func(m *Machine, ev Event) {
		ordered := m.Letter.Sections
		if len(ev.Sections) > 0 {
			ordered = ev.Sections
		}
		m.Letter.Letter = strings.Join(ordered, "\n\n")
	}},
	{From: StateLetterPuzzle, Event: EventBack, To: StateLetterGame, Action: enterWriting},
	{From: StateLetterComplete, Event: EventEdit, To: StateLetterEdit},
	{From: StateLetterComplete, Event: EventReset, To: StateHome, Action: actReset},
	{From: StateLetterComplete, Event: EventBack, To: StateLetterPuzzle},
	{From: StateLetterEdit, Event: EventSaveEdit, To: StateLetterComplete,
		Action: func(m *Machine, ev Event) { m.Letter.Letter = ev.Letter }},
	{From: StateLetterEdit, Event: EventBack, To: StateLetterComplete},

	// ──── Resumption ────
	{From: StateHome, Event: EventResume, Guard: guardResume, Action: actResume,
		Target: func(_ *Machine, ev Event) State {
			switch ev.Work.kind() {
			case models.KindStory:
				return StateStoryReview
			case models.KindReview:
				return StateReviewComplete
			case models.KindLetter:
				return StateLetterComplete
			}
			return ""
		}},
})

func buildTable(rows []Transition) map[tableKey]Transition {
	t := make(map[tableKey]Transition, len(rows))
	for _, row := range rows {
		k := tableKey{row.From, row.Event}
		if _, dup := t[k]; dup {
			panic("workflow: duplicate transition " + string(row.From) + " --" + string(row.Event) + "->")
		}
		t[k] = row
	}
	return t
}

func lookup(from State, event EventType) (Transition, bool) {
	if t, ok := table[tableKey{from, event}]; ok {
		return t, true
	}
	t, ok := table[tableKey{Any, event}]
	return t, ok
}

// ──── Guards ────

func guardLogin(_ *Machine, ev Event) error {
	if ev.User == nil || strings.TrimSpace(ev.User.Username) == "" {
		return &GuardError{Target: StateHome, Missing: []string{"user"}}
	}
	if ev.User.Role != models.RoleTeacher && ev.User.Role != models.RoleStudent {
		return &GuardError{Target: StateHome, Missing: []string{"user.role"}}
	}
	return nil
}

func guardPlan(_ *Machine, ev Event) error {
	switch ev.Recommendation {
	case PlanStory, PlanReview, PlanLetter:
		return nil
	}
	return &GuardError{Target: StatePlanResult, Missing: []string{"recommendation"}}
}

func guardReviewType(_ *Machine, ev Event) error {
	if !ValidReviewType(ev.ReviewType) {
		return &GuardError{Target: StateReviewBookSelection, Missing: []string{"reviewType"}}
	}
	return nil
}

func guardOutcome(_ *Machine, ev Event) error {
	switch ev.Outcome {
	case OutcomeContinue, OutcomeWait, OutcomeError:
		return nil
	}
	return &GuardError{Missing: []string{"outcome"}}
}

func guardGalleryReturn(m *Machine, ev Event) error {
	if m.GalleryReturn == "" {
		return &TransitionError{From: m.State, Event: ev.Type}
	}
	return nil
}

func guardResume(_ *Machine, ev Event) error {
	if ev.Work.kind() == "" {
		return &GuardError{Missing: []string{"work"}}
	}
	return nil
}

// ──── Actions ────

func actLogin(m *Machine, ev Event) {
	u := *ev.User
	u.Username = strings.TrimSpace(u.Username)
	*m = *New()
	m.User = &u
}

func actLogout(m *Machine, _ Event) {
	*m = *New()
}

func actReset(m *Machine, _ Event) {
	m.resetDrafts()
}

func galleryFrom(s State) func(*Machine, Event) {
	return func(m *Machine, _ Event) { m.GalleryReturn = s }
}

func enterWriting(m *Machine, _ Event) {
	m.SectionIndex = 0
}

func actAdvisorReply(m *Machine, ev Event) {
	if ev.Outcome != OutcomeContinue {
		return
	}
	if n := m.SectionCount(); n > 0 && m.SectionIndex >= n-1 {
		return
	}
	m.SectionIndex++
}

func actSelectBook(m *Machine, ev Event) {
	m.Review.BookTitle = strings.TrimSpace(ev.BookTitle)
	if m.Variant() == VariantSelfDirected {
		if outline, ok := DefaultReviewOutline(m.Review.ReviewType); ok {
			m.Review.Structure = outline.raw()
		}
		m.SectionIndex = 0
	}
}

// actResume replaces every draft with the saved work and remembers its id,
// so later writes edit that work instead of creating a new one.
func actResume(m *Machine, ev Event) {
	m.resetDrafts()
	w := ev.Work
	id := w.ID
	m.EditingWorkID = &id

	switch {
	case w.Story != nil:
		m.Story = StoryDraft{
			Character: nullable(w.Story.Character),
			Plot:      nullable(w.Story.Plot),
			Structure: nullable(w.Story.Structure),
			Story:     w.Story.Content,
		}
	case w.Review != nil:
		m.Review = ReviewDraft{
			ReviewType:   w.Review.ReviewType,
			BookTitle:    w.Review.BookTitle,
			Structure:    nullable(w.Review.Structure),
			Review:       w.Review.Content,
			BookCoverURL: deref(w.Review.BookCoverURL),
			BookSummary:  deref(w.Review.BookSummary),
		}
	case w.Letter != nil:
		var guidance *string
		if w.Letter.Guidance != nil {
			g := *w.Letter.Guidance
			guidance = &g
		}
		m.Letter = LetterDraft{
			Recipient:      w.Letter.Recipient,
			Occasion:       deref(w.Letter.Occasion),
			Guidance:       guidance,
			ReaderImageURL: deref(w.Letter.ReaderImageURL),
			Sections:       append([]string{}, w.Letter.Sections...),
			Letter:         w.Letter.Content,
		}
	}
}

func nullable(raw []byte) []byte {
	if !present(raw) {
		return nil
	}
	return cloneRaw(raw)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nonBlank(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
