package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"line-relay/config"
	"line-relay/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultSettings = GenerationSettings{Model: "deepseek-r1:8b", Temperature: 0.7, MaxTokens: 1000}

func TestOllamaGenerator_Generate(t *testing.T) {
	var got ollamaChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"model":   "deepseek-r1:8b",
			"message": map[string]any{"role": "assistant", "content": "<think>x</think>Paris"},
			"done":    true,
		})
	}))
	defer server.Close()

	g := NewOllamaGenerator(server.URL+"/", defaultSettings, 0)
	out, err := g.Generate(context.Background(), []models.Turn{
		models.SystemTurn("policy"),
		models.UserTurn("capital of France?"),
	})
	require.NoError(t, err)

	assert.Equal(t, "<think>x</think>Paris", out)
	assert.Equal(t, "deepseek-r1:8b", got.Model)
	assert.False(t, got.Stream)
	assert.InDelta(t, 0.7, got.Options.Temperature, 0.0001)
	assert.Equal(t, 1000, got.Options.NumPredict)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "capital of France?", got.Messages[1].Content)
}

func TestOllamaGenerator_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"model not loaded"}`))
	}))
	defer server.Close()

	g := NewOllamaGenerator(server.URL, defaultSettings, 0)
	_, err := g.Generate(context.Background(), []models.Turn{models.UserTurn("hi")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestOllamaGenerator_UnexpectedShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message":{"content":12}}`))
	}))
	defer server.Close()

	g := NewOllamaGenerator(server.URL, defaultSettings, 0)
	_, err := g.Generate(context.Background(), []models.Turn{models.UserTurn("hi")})

	var typeErr *json.UnmarshalTypeError
	assert.True(t, errors.As(err, &typeErr))
	assert.Equal(t, FailureType, Classify(err))
}

func TestOllamaGenerator_InvalidSettings(t *testing.T) {
	g := NewOllamaGenerator("http://127.0.0.1:1", GenerationSettings{Model: "m", MaxTokens: 0}, 0)
	_, err := g.Generate(context.Background(), nil)
	assert.ErrorIs(t, err, models.ErrInvalidValue)
}

func TestOpenAIGenerator_Generate(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "Hello!"}},
			},
		})
	}))
	defer server.Close()

	g := NewOpenAIGenerator("test-key", server.URL+"/v1", defaultSettings)
	out, err := g.Generate(context.Background(), []models.Turn{models.UserTurn("hi")})
	require.NoError(t, err)

	assert.Equal(t, "Hello!", out)
	assert.Equal(t, "deepseek-r1:8b", got["model"])
	assert.EqualValues(t, 1000, got["max_tokens"])
	assert.InDelta(t, 0.7, got["temperature"], 0.0001)
}

func TestOpenAIGenerator_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	g := NewOpenAIGenerator("k", server.URL+"/v1", defaultSettings)
	_, err := g.Generate(context.Background(), []models.Turn{models.UserTurn("hi")})
	assert.ErrorIs(t, err, models.ErrInvalidValue)
}

func TestOpenAIGenerator_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited","type":"requests"}}`))
	}))
	defer server.Close()

	g := NewOpenAIGenerator("k", server.URL+"/v1", defaultSettings)
	_, err := g.Generate(context.Background(), []models.Turn{models.UserTurn("hi")})
	require.Error(t, err)
	assert.Equal(t, FailureUnknown, Classify(err))
}

func TestOpenAIEmbedder_Embed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"embedding":[0.5,0.25],"index":0}]}`))
	}))
	defer server.Close()

	e := NewOpenAIEmbedder("k", server.URL+"/v1", "text-embedding-3-small")
	vector, err := e.Embed(context.Background(), "summary")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.25}, vector)
}

func TestNewGenerator(t *testing.T) {
	g, err := NewGenerator(config.LLMConfig{Provider: "ollama", Model: "m", Temperature: 0.7, MaxTokens: 10})
	require.NoError(t, err)
	assert.IsType(t, &OllamaGenerator{}, g)

	g, err = NewGenerator(config.LLMConfig{Provider: "openai", Model: "m", Temperature: 0.7, MaxTokens: 10})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIGenerator{}, g)

	_, err = NewGenerator(config.LLMConfig{Provider: "bard", Model: "m", MaxTokens: 10})
	assert.Error(t, err)

	_, err = NewGenerator(config.LLMConfig{Provider: "ollama", Model: "m", MaxTokens: 0})
	assert.ErrorIs(t, err, models.ErrInvalidValue)
}
