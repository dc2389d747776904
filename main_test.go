package main

import (
	"context"
	"testing"
	"time"

	"line-relay/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_RejectsInvalidGenerationSettings(t *testing.T) {
	cfg := &config.Config{
		LLM: config.LLMConfig{Provider: "ollama", Model: "m", MaxTokens: 0},
	}

	err := run(context.Background(), cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{Addr: "127.0.0.1:0", ShutdownTimeout: time.Second},
		LLM:    config.LLMConfig{Provider: "ollama", BaseURL: "http://127.0.0.1:1", Model: "m", Temperature: 0.7, MaxTokens: 10},
		Memory: config.MemoryConfig{Window: 10},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, run(ctx, cfg, zerolog.Nop()))
}
