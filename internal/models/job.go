package models

import (
	"time"

	"github.com/google/uuid"
)

// APICallJob is queued after an advisor or image call finishes and is
// folded into the caller's interaction log by a worker.
type APICallJob struct {
	ID         uuid.UUID `json:"id"`
	Username   string    `json:"username"`
	Stage      string    `json:"stage"`
	Call       APICall   `json:"call"`
	RetryCount int       `json:"retry_count"`
	MaxRetries int       `json:"max_retries"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// WebSocket message types
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// InteractionSaved is broadcast to teacher dashboards after every write.
type InteractionSaved struct {
	Interaction InteractionView `json:"interaction"`
	Outcome     string          `json:"outcome"`
	Kind        RecordKind      `json:"kind,omitempty"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
