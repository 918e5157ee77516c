package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RecordKind names one of the four persisted record kinds.
type RecordKind string

const (
	KindInteraction RecordKind = "interaction"
	KindStory       RecordKind = "story"
	KindReview      RecordKind = "review"
	KindLetter      RecordKind = "letter"
)

// Stage tags with special aggregation rules. Every other stage is free-form.
const (
	StageReview = "review"
	StagePlot   = "plot"
)

// Payload is an opaque JSON object. Values stay encoded so unknown client
// fields round-trip untouched.
type Payload map[string]json.RawMessage

func (p Payload) Clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// Merge returns a copy of p with every key of other applied on top.
func (p Payload) Merge(other Payload) Payload {
	out := p.Clone()
	for k, v := range other {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// Has reports whether key is present and not JSON null.
func (p Payload) Has(key string) bool {
	v, ok := p[key]
	return ok && len(v) > 0 && string(v) != "null"
}

// String decodes key as a JSON string. Missing or non-string values yield "".
func (p Payload) String(key string) string {
	var s string
	if raw, ok := p[key]; ok {
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
	}
	return s
}

type APICall struct {
	Endpoint string          `json:"endpoint"`
	Request  json.RawMessage `json:"request"`
	Response json.RawMessage `json:"response"`
}

type Interaction struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_uuid"`
	Stage     string    `json:"stage"`
	Timestamp time.Time `json:"timestamp"`
	Input     Payload   `json:"input"`
	Output    Payload   `json:"output"`
	APICalls  []APICall `json:"api_calls"`
	// StoryContent is only set on review-stage rows; it keys the dedup rule.
	StoryContent *string `json:"-"`
}

func (i *Interaction) Clone() *Interaction {
	if i == nil {
		return nil
	}
	out := *i
	out.Input = i.Input.Clone()
	out.Output = i.Output.Clone()
	out.APICalls = append([]APICall(nil), i.APICalls...)
	if i.StoryContent != nil {
		s := *i.StoryContent
		out.StoryContent = &s
	}
	return &out
}

// InteractionRecord is an Interaction joined with its owner and whichever
// artifact points back at it.
type InteractionRecord struct {
	Interaction
	Username string  `json:"username"`
	Story    *Story  `json:"story,omitempty"`
	Review   *Review `json:"review,omitempty"`
	Letter   *Letter `json:"letter,omitempty"`
}
