package services

import (
	"context"
	"fmt"
	"math"

	"line-relay/models"

	"github.com/sashabaranov/go-openai"
)

// OpenAIGenerator calls any OpenAI-compatible chat completions endpoint,
// including Ollama's /v1 surface.
type OpenAIGenerator struct {
	client   *openai.Client
	settings GenerationSettings
}

// NewOpenAIGenerator creates a generator. baseURL may be empty for the
// public OpenAI API.
func NewOpenAIGenerator(apiKey, baseURL string, settings GenerationSettings) *OpenAIGenerator {
	return &OpenAIGenerator{
		client:   newOpenAIClient(apiKey, baseURL),
		settings: settings,
	}
}

func newOpenAIClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

func (g *OpenAIGenerator) Generate(ctx context.Context, messages []models.Turn) (string, error) {
	if err := g.settings.Validate(); err != nil {
		return "", err
	}

	req := openai.ChatCompletionRequest{
		Model:       g.settings.Model,
		Messages:    make([]openai.ChatCompletionMessage, len(messages)),
		MaxTokens:   g.settings.MaxTokens,
		Temperature: g.settings.Temperature,
	}
	// temperature is omitempty on the wire; 0 would fall back to the server default.
	if req.Temperature == 0 {
		req.Temperature = math.SmallestNonzeroFloat32
	}
	for i, m := range messages {
		req.Messages[i] = openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content}
	}

	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices: %w", models.ErrInvalidValue)
	}
	return resp.Choices[0].Message.Content, nil
}

// OpenAIEmbedder turns text into embedding vectors.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
}

func NewOpenAIEmbedder(apiKey, baseURL, model string) *OpenAIEmbedder {
	return &OpenAIEmbedder{client: newOpenAIClient(apiKey, baseURL), model: model}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding creation failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embeddings received: %w", models.ErrInvalidValue)
	}

	vector := make([]float64, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vector[i] = float64(v)
	}
	return vector, nil
}
