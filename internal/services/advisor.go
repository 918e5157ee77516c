package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"inkwell-backend/internal/logger"
	"inkwell-backend/internal/models"
	"inkwell-backend/internal/workflow"
)

// AdvisorOutcome is what the workflow does with an advisor reply. The client
// fires it back unchanged as an advisorReply event.
type AdvisorOutcome = workflow.AdvisorOutcome

const (
	AdvisorContinue = workflow.OutcomeContinue
	AdvisorWait     = workflow.OutcomeWait
	AdvisorError    = workflow.OutcomeError
)

const FallbackAdvice = "Keep going! You're doing great."

var continuePhrases = []string{
	"you can move to the next part",
	"move to the next part",
	"move to the next section",
	"ready to move to the next part",
}

// ClassifyAdvisorReply is the only place advisor free text is interpreted.
// A reply means Continue when it contains one of the hand-off phrases, or
// when "done" is its last word or stands alone on a line. Everything else,
// including an empty reply, means Wait.
func ClassifyAdvisorReply(text string) AdvisorOutcome {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return AdvisorWait
	}
	for _, p := range continuePhrases {
		if strings.Contains(lower, p) {
			return AdvisorContinue
		}
	}

	trimPunct := func(s string) string { return strings.Trim(s, " \t.!*\"'") }
	for _, line := range strings.Split(lower, "\n") {
		if trimPunct(line) == "done" {
			return AdvisorContinue
		}
	}
	words := strings.Fields(lower)
	if trimPunct(words[len(words)-1]) == "done" {
		return AdvisorContinue
	}
	return AdvisorWait
}

type AdvisorRequest struct {
	UserID  string         `json:"user_id"`
	Stage   string         `json:"stage"`
	Context models.Payload `json:"context"`
}

type AdvisorResponse struct {
	Message string         `json:"message"`
	Outcome AdvisorOutcome `json:"outcome"`
}

// Advisor returns free-text guidance for a stage.
type Advisor interface {
	Advise(ctx context.Context, stage string, input models.Payload) (string, error)
}

// APICallLogger records a finished collaborator call against the user's
// interaction log. Implementations must not block on the store.
type APICallLogger interface {
	LogAPICall(ctx context.Context, username, stage string, call models.APICall) error
}

type GeminiAdvisor struct {
	client   *genai.Client
	model    *genai.GenerativeModel
	rateChan chan struct{} // Token bucket
}

func NewGeminiAdvisor(ctx context.Context, apiKey, modelName string, concurrentReqs int) (*GeminiAdvisor, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0.7)
	model.SetTopP(0.95)
	model.SystemInstruction = genai.NewUserContent(genai.Text(
		"You are a warm, encouraging writing coach for children aged 8 to 12. " +
			"Reply in at most four short sentences. Never write the child's text for them. " +
			"When the current part is complete, end your reply with exactly: You can move to the next part"))

	if concurrentReqs <= 0 {
		concurrentReqs = 1
	}
	rateChan := make(chan struct{}, concurrentReqs)
	for i := 0; i < concurrentReqs; i++ {
		rateChan <- struct{}{}
	}

	return &GeminiAdvisor{client: client, model: model, rateChan: rateChan}, nil
}

func (g *GeminiAdvisor) Close() {
	g.client.Close()
}

// acquireRate blocks until a rate slot is available
func (g *GeminiAdvisor) acquireRate(ctx context.Context) error {
	select {
	case <-g.rateChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *GeminiAdvisor) releaseRate() {
	g.rateChan <- struct{}{}
}

func (g *GeminiAdvisor) Advise(ctx context.Context, stage string, input models.Payload) (string, error) {
	if err := g.acquireRate(ctx); err != nil {
		return "", err
	}
	defer g.releaseRate()

	data, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("failed to encode advisor context: %w", err)
	}
	prompt := fmt.Sprintf("Stage: %s\nWhat the student has so far (JSON):\n%s", stage, data)

	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("Gemini API error: %w", err)
	}
	text := strings.TrimSpace(extractText(resp))
	if text == "" {
		return "", fmt.Errorf("Gemini returned an empty reply")
	}
	return text, nil
}

func extractText(resp *genai.GenerateContentResponse) string {
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}

// AdvisorService calls the advisor outside any store lock and degrades to a
// generic encouragement when it fails.
type AdvisorService struct {
	advisor Advisor
	calls   APICallLogger
	timeout time.Duration
	log     *logger.Logger
}

func NewAdvisorService(advisor Advisor, calls APICallLogger, timeout time.Duration, log *logger.Logger) *AdvisorService {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &AdvisorService{advisor: advisor, calls: calls, timeout: timeout, log: log}
}

func (s *AdvisorService) Ask(ctx context.Context, req AdvisorRequest) (*AdvisorResponse, error) {
	if strings.TrimSpace(req.Stage) == "" {
		return nil, &ValidationError{Fields: map[string]string{"stage": "stage is required"}}
	}

	resp := &AdvisorResponse{Message: FallbackAdvice, Outcome: AdvisorError}
	if s.advisor == nil {
		s.log.Warn("No advisor configured, using fallback", "stage", req.Stage)
	} else {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		text, err := s.advisor.Advise(callCtx, req.Stage, req.Context)
		cancel()
		if err != nil {
			s.log.Warn("Advisor call failed, using fallback", "stage", req.Stage, "error", err)
		} else {
			resp = &AdvisorResponse{Message: text, Outcome: ClassifyAdvisorReply(text)}
		}
	}

	logCall(ctx, s.calls, s.log, req.UserID, req.Stage, "/api/v1/advisor", req, resp)
	return resp, nil
}

// logCall hands a finished call to the api-call log. Failures are logged and
// never reach the caller.
func logCall(ctx context.Context, calls APICallLogger, log *logger.Logger, username, stage, endpoint string, req, resp interface{}) {
	if calls == nil || username == "" {
		return
	}
	reqJSON, _ := json.Marshal(req)
	respJSON, _ := json.Marshal(resp)
	call := models.APICall{Endpoint: endpoint, Request: reqJSON, Response: respJSON}
	if err := calls.LogAPICall(ctx, username, stage, call); err != nil {
		log.Warn("Failed to queue api call log", "user_id", username, "stage", stage, "endpoint", endpoint, "error", err)
	}
}
