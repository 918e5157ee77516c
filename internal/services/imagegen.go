package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"inkwell-backend/internal/logger"
)

const (
	defaultImageStage       = "character"
	defaultImageAspectRatio = "1:1"
)

type ImageRequest struct {
	UserID      string `json:"user_id"`
	Stage       string `json:"stage"`
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspect_ratio"`
}

type ImageResult struct {
	ImageURL    string `json:"imageUrl"`
	Placeholder bool   `json:"placeholder"`
}

// ImageGenerator turns a prompt into an image URL.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt, aspectRatio string) (string, error)
}

// PlaceholderImageURL is the deterministic stand-in shown when generation fails.
func PlaceholderImageURL(prompt string) string {
	return "/placeholder.svg?text=" + url.QueryEscape(prompt)
}

// FalImageGenerator calls a fal.ai synchronous model endpoint.
type FalImageGenerator struct {
	endpoint string
	key      string
	client   *http.Client
}

func NewFalImageGenerator(endpoint, key string, timeout time.Duration) *FalImageGenerator {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &FalImageGenerator{
		endpoint: endpoint,
		key:      key,
		client:   &http.Client{Timeout: timeout},
	}
}

func (f *FalImageGenerator) Generate(ctx context.Context, prompt, aspectRatio string) (string, error) {
	body, err := json.Marshal(map[string]interface{}{
		"prompt":        prompt,
		"num_images":    1,
		"output_format": "jpeg",
		"aspect_ratio":  aspectRatio,
		"sync_mode":     true,
	})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build image request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Key "+f.key)

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("image generator unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("image generator returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var result struct {
		Images []struct {
			URL string `json:"url"`
		} `json:"images"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode image response: %w", err)
	}
	if len(result.Images) == 0 || result.Images[0].URL == "" {
		return "", fmt.Errorf("image response carried no URL")
	}
	return result.Images[0].URL, nil
}

// ImageService never fails a request because of the generator: any error
// yields the placeholder.
type ImageService struct {
	gen   ImageGenerator
	calls APICallLogger
	log   *logger.Logger
}

func NewImageService(gen ImageGenerator, calls APICallLogger, log *logger.Logger) *ImageService {
	if log == nil {
		log = logger.Nop()
	}
	return &ImageService{gen: gen, calls: calls, log: log}
}

func (s *ImageService) Generate(ctx context.Context, req ImageRequest) (*ImageResult, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, &ValidationError{Fields: map[string]string{"prompt": "Prompt cannot be empty"}}
	}
	if req.Stage == "" {
		req.Stage = defaultImageStage
	}
	if req.AspectRatio == "" {
		req.AspectRatio = defaultImageAspectRatio
	}

	result := &ImageResult{ImageURL: PlaceholderImageURL(prompt), Placeholder: true}
	if s.gen == nil {
		s.log.Warn("No image generator configured, using placeholder", "stage", req.Stage)
	} else if imageURL, err := s.gen.Generate(ctx, prompt, req.AspectRatio); err != nil {
		s.log.Warn("Image generation failed, using placeholder", "stage", req.Stage, "error", err)
	} else {
		result = &ImageResult{ImageURL: imageURL}
	}

	logCall(ctx, s.calls, s.log, req.UserID, req.Stage, "/api/v1/images",
		map[string]string{"prompt": prompt, "aspect_ratio": req.AspectRatio}, result)
	return result, nil
}
