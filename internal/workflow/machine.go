package workflow

import (
	"fmt"
	"sort"
	"strings"

	"inkwell-backend/internal/models"
)

// TransitionError means the current state has no row for the event.
type TransitionError struct {
	From  State
	Event EventType
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("no %q transition from %s", e.Event, e.From)
}

// GuardError means the target state's data is not in place. Missing names
// the absent fields.
type GuardError struct {
	Target  State
	Missing []string
}

func (e *GuardError) Error() string {
	if e.Target == "" {
		return "missing " + strings.Join(e.Missing, ", ")
	}
	return fmt.Sprintf("cannot enter %s: missing %s", e.Target, strings.Join(e.Missing, ", "))
}

// AccessError means the user may not be in the target state at all.
type AccessError struct {
	Target State
	Reason string
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("cannot enter %s: %s", e.Target, e.Reason)
}

// Fire applies ev. On any error the machine is unchanged.
func (m *Machine) Fire(ev Event) error {
	t, ok := lookup(m.State, ev.Type)
	if !ok {
		return &TransitionError{From: m.State, Event: ev.Type}
	}
	if t.Guard != nil {
		if err := t.Guard(m, ev); err != nil {
			return err
		}
	}

	target := t.To
	if t.Target != nil {
		target = t.Target(m, ev)
	}
	if target == "" {
		return &TransitionError{From: m.State, Event: ev.Type}
	}

	next := m.clone()
	if t.Action != nil {
		t.Action(next, ev)
	}
	if err := checkAccess(target, next.User); err != nil {
		return err
	}
	if err := next.CheckEntry(target); err != nil {
		return err
	}

	next.State = target
	*m = *next
	return nil
}

// CheckEntry reports whether the machine's data allows entering s. It does
// not look at who the user is; Fire checks that separately.
func (m *Machine) CheckEntry(s State) error {
	var missing []string
	need := func(ok bool, field string) {
		if !ok {
			missing = append(missing, field)
		}
	}
	filled := func(v string) bool { return strings.TrimSpace(v) != "" }

	switch s {
	case StatePlanResult:
		need(m.Plan != "", "plan")

	case StateStoryPlot:
		need(present(m.Story.Character), "character")
	case StateStoryStructure:
		need(present(m.Story.Character), "character")
		need(present(m.Story.Plot), "plot")
	case StateStoryWriting:
		need(present(m.Story.Structure), "structure")
	case StateStoryReview, StateStoryEdit:
		need(filled(m.Story.Story), "story")

	case StateReviewBookSelection:
		need(m.Review.ReviewType != "", "reviewType")
	case StateReviewLoading:
		need(m.Review.ReviewType != "", "reviewType")
		need(filled(m.Review.BookTitle), "bookTitle")
	case StateReviewWriting:
		need(present(m.Review.Structure), "structure")
		need(filled(m.Review.BookTitle), "bookTitle")
	case StateReviewComplete, StateReviewEdit:
		need(filled(m.Review.Review), "review")
		need(filled(m.Review.BookTitle), "bookTitle")

	case StateLetterGame:
		need(filled(m.Letter.Recipient), "recipient")
		need(filled(m.Letter.Occasion), "occasion")
		if m.Variant() == VariantAssisted {
			need(m.Letter.Guidance != nil, "guidance")
		}
	case StateLetterPuzzle:
		need(len(m.Letter.Sections) > 0, "sections")
	case StateLetterComplete, StateLetterEdit:
		need(filled(m.Letter.Letter), "letter")
		need(filled(m.Letter.Recipient), "recipient")
		need(filled(m.Letter.Occasion), "occasion")
	}

	if len(missing) > 0 {
		return &GuardError{Target: s, Missing: missing}
	}
	return nil
}

// checkAccess keeps anonymous users at login, teachers on the dashboard and
// students everywhere else.
func checkAccess(target State, u *User) error {
	if target == StateLogin {
		return nil
	}
	if u == nil {
		return &AccessError{Target: target, Reason: "login required"}
	}
	if target == StateDashboard && !u.isTeacher() {
		return &AccessError{Target: target, Reason: "teachers only"}
	}
	if target != StateDashboard && u.isTeacher() {
		return &AccessError{Target: target, Reason: "not available to teachers"}
	}
	return nil
}

// AvailableEvents lists the events that have a row from the current state,
// leaving out header navigation for users who cannot use it.
func (m *Machine) AvailableEvents() []EventType {
	seen := make(map[EventType]bool)
	for k := range table {
		switch k.from {
		case m.State:
			seen[k.event] = true
		case Any:
			if k.event == EventLogout || (m.User != nil && !m.User.isTeacher()) {
				seen[k.event] = true
			}
		}
	}
	out := make([]EventType, 0, len(seen))
	for e := range seen {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Snapshot is the API view of a machine.
type Snapshot struct {
	*Machine
	Pipeline models.RecordKind `json:"pipeline,omitempty"`
	Variant  Variant           `json:"variant"`
	Sections int               `json:"sectionCount"`
	Events   []EventType       `json:"events"`
}

func (m *Machine) Snapshot() Snapshot {
	return Snapshot{
		Machine:  m,
		Pipeline: m.State.Pipeline(),
		Variant:  m.Variant(),
		Sections: m.SectionCount(),
		Events:   m.AvailableEvents(),
	}
}
