package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ilikefeeling/reshk-sub001/internal/verification"
	"github.com/rs/zerolog/log"
)

const labelPrompt = `You label photos of personal belongings for a lost-and-found service.
List the visible object types, colors, materials and distinctive marks in this photo.
Answer ONLY with JSON in this shape:
{"labels": [{"label": "wallet", "confidence": 0.93}, {"label": "black", "confidence": 0.8}]}
Use lowercase single-concept labels and confidences between 0 and 1. Return at most 15 labels.`

// VisionService talks to an OpenAI-compatible vision model
type VisionService struct {
	apiKey   string
	endpoint string
	model    string
	client   *http.Client
}

// NewVisionService creates a new Vision API service
func NewVisionService(apiKey, endpoint, model string, timeout time.Duration) *VisionService {
	if model == "" {
		model = "gpt-4o"
	}
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &VisionService{
		apiKey:   apiKey,
		endpoint: strings.TrimSuffix(endpoint, "/"),
		model:    model,
		client:   &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []chatContent `json:"content"`
}

type chatContent struct {
	Type     string     `json:"type"`
	Text     string     `json:"text,omitempty"`
	ImageURL *chatImage `json:"image_url,omitempty"`
}

type chatImage struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type labelSet struct {
	Labels []verification.Label `json:"labels"`
}

// DetectLabels returns weighted labels for the image at imageURL
func (v *VisionService) DetectLabels(ctx context.Context, imageURL string) ([]verification.Label, error) {
	if v.apiKey == "" {
		return nil, fmt.Errorf("vision API key not configured")
	}

	body, err := json.Marshal(chatRequest{
		Model: v.model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []chatContent{
				{Type: "text", Text: labelPrompt},
				{Type: "image_url", ImageURL: &chatImage{URL: imageURL}},
			},
		}},
		MaxTokens: 400,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+v.apiKey)

	start := time.Now()
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Error().
			Int("status_code", resp.StatusCode).
			Str("body", string(raw)).
			Msg("Vision API returned error")
		return nil, fmt.Errorf("vision API returned status %d", resp.StatusCode)
	}

	var chat chatResponse
	if err := json.Unmarshal(raw, &chat); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if chat.Error != nil {
		return nil, fmt.Errorf("vision API error: %s", chat.Error.Message)
	}
	if len(chat.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned from vision API")
	}

	labels, err := parseLabels(chat.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("image_url", imageURL).
		Int("labels", len(labels)).
		Dur("duration_ms", time.Since(start)).
		Msg("Image labeled")

	return labels, nil
}

// parseLabels accepts the model answer with or without a markdown code fence
func parseLabels(content string) ([]verification.Label, error) {
	cleaned := strings.TrimSpace(content)
	if strings.Contains(cleaned, "```json") {
		parts := strings.Split(cleaned, "```json")
		cleaned = strings.TrimSpace(strings.Split(parts[1], "```")[0])
	} else if strings.Contains(cleaned, "```") {
		parts := strings.Split(cleaned, "```")
		cleaned = strings.TrimSpace(parts[1])
	}

	var set labelSet
	if err := json.Unmarshal([]byte(cleaned), &set); err != nil {
		log.Warn().Err(err).Str("content", content).Msg("Failed to parse vision labels")
		return nil, fmt.Errorf("failed to parse labels: %w", err)
	}

	out := make([]verification.Label, 0, len(set.Labels))
	for _, l := range set.Labels {
		name := strings.TrimSpace(l.Name)
		if name == "" || l.Confidence <= 0 {
			continue
		}
		if l.Confidence > 1 {
			l.Confidence = 1
		}
		out = append(out, verification.Label{Name: name, Confidence: l.Confidence})
	}
	return out, nil
}

// HealthCheck verifies the Vision API is configured
func (v *VisionService) HealthCheck(ctx context.Context) error {
	if v.apiKey == "" {
		return fmt.Errorf("vision API key not configured")
	}
	return nil
}
