package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"line-relay/models"

	"github.com/go-resty/resty/v2"
)

type ollamaMessage struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	Thinking string `json:"thinking,omitempty"`
}

type ollamaOptions struct {
	Temperature float32 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaChatResponse struct {
	Model   string        `json:"model"`
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// OllamaGenerator calls the native Ollama /api/chat endpoint.
type OllamaGenerator struct {
	client   *resty.Client
	settings GenerationSettings
	timeout  time.Duration
}

func NewOllamaGenerator(baseURL string, settings GenerationSettings, timeout time.Duration) *OllamaGenerator {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json")
	return &OllamaGenerator{client: client, settings: settings, timeout: timeout}
}

func (g *OllamaGenerator) Generate(ctx context.Context, messages []models.Turn) (string, error) {
	if err := g.settings.Validate(); err != nil {
		return "", err
	}
	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	req := ollamaChatRequest{
		Model:    g.settings.Model,
		Messages: make([]ollamaMessage, len(messages)),
		Stream:   false,
		Options: ollamaOptions{
			Temperature: g.settings.Temperature,
			NumPredict:  g.settings.MaxTokens,
		},
	}
	for i, m := range messages {
		req.Messages[i] = ollamaMessage{Role: string(m.Role), Content: m.Content}
	}

	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(req).
		Post("/api/chat")
	if err != nil {
		return "", fmt.Errorf("ollama request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("ollama returned status %d: %s", resp.StatusCode(), truncate(resp.String(), 400))
	}

	var parsed ollamaChatResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return "", fmt.Errorf("failed to parse ollama response: %w", err)
	}
	return parsed.Message.Content, nil
}
