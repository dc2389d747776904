package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"line-relay/config"
	"line-relay/models"
)

// Generator is the text-generation capability: an ordered message sequence
// in, raw model text out. Implementations make one blocking call and never
// retry.
type Generator interface {
	Generate(ctx context.Context, messages []models.Turn) (string, error)
}

// GenerationSettings is the sampling configuration shared by all providers.
type GenerationSettings struct {
	Model       string
	Temperature float32
	MaxTokens   int
}

func (s GenerationSettings) Validate() error {
	if strings.TrimSpace(s.Model) == "" {
		return fmt.Errorf("model is empty: %w", models.ErrInvalidValue)
	}
	if s.Temperature < 0 {
		return fmt.Errorf("temperature %v is negative: %w", s.Temperature, models.ErrInvalidValue)
	}
	if s.MaxTokens < 1 {
		return fmt.Errorf("max tokens %d is below 1: %w", s.MaxTokens, models.ErrInvalidValue)
	}
	return nil
}

// NewGenerator builds the configured provider.
func NewGenerator(cfg config.LLMConfig) (Generator, error) {
	settings := GenerationSettings{
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Provider {
	case "ollama":
		return NewOllamaGenerator(cfg.BaseURL, settings, cfg.Timeout), nil
	case "openai":
		return NewOpenAIGenerator(cfg.APIKey, cfg.BaseURL, settings), nil
	}
	return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
