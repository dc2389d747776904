package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"line-relay/models"

	"github.com/rs/zerolog"
)

// FailureReason says why a turn produced no genuine reply.
type FailureReason int

const (
	FailureNone FailureReason = iota
	// FailureEmptyOutput: the model returned nothing usable.
	FailureEmptyOutput
	// FailureValue: a value-kind error in composition or generation.
	FailureValue
	// FailureType: a type-kind error in normalization or generation.
	FailureType
	// FailureUnknown: any other error.
	FailureUnknown
)

func (r FailureReason) String() string {
	switch r {
	case FailureNone:
		return "none"
	case FailureEmptyOutput:
		return "empty_output"
	case FailureValue:
		return "value_error"
	case FailureType:
		return "type_error"
	default:
		return "unknown_error"
	}
}

// Apology texts returned in place of a reply.
const (
	ApologyEmptyOutput = "抱歉，AI 無法生成有效回應，請再試一次。"
	ApologyValue       = "發生值錯誤，請稍後再試。"
	ApologyType        = "發生類型錯誤，請稍後再試。"
	ApologyUnknown     = "系統發生錯誤，請稍後再試。"
)

// Result is the outcome of one pipeline run: either a reply or a reason.
type Result struct {
	Text    string
	Failure FailureReason
	Err     error
}

func (r Result) OK() bool {
	return r.Failure == FailureNone
}

// ReplyText maps a Result onto the text delivered to the user. It is the
// only place failure reasons are turned into apologies.
func ReplyText(r Result) string {
	switch r.Failure {
	case FailureNone:
		return r.Text
	case FailureEmptyOutput:
		return ApologyEmptyOutput
	case FailureValue:
		return ApologyValue
	case FailureType:
		return ApologyType
	default:
		return ApologyUnknown
	}
}

// Classify sorts an error into the value, type or unknown category.
func Classify(err error) FailureReason {
	var typeErr *json.UnmarshalTypeError
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, models.ErrInvalidType), errors.As(err, &typeErr):
		return FailureType
	case errors.Is(err, models.ErrInvalidValue):
		return FailureValue
	}
	return FailureUnknown
}

var reasoningBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// Sanitize strips reasoning blocks from model output and trims whitespace.
func Sanitize(raw string) string {
	return strings.TrimSpace(reasoningBlock.ReplaceAllString(raw, ""))
}

// Archiver receives every committed exchange. It is optional.
type Archiver interface {
	SaveExchange(ctx context.Context, conversationID, userText, assistantText string) error
}

// ResponseGenerator runs one user utterance through memory, prompt
// assembly, generation and sanitization.
type ResponseGenerator struct {
	store    *ConversationStore
	prompt   *PromptBuilder
	llm      Generator
	archiver Archiver
	log      zerolog.Logger
}

func NewResponseGenerator(store *ConversationStore, prompt *PromptBuilder, llm Generator, logger zerolog.Logger) *ResponseGenerator {
	return &ResponseGenerator{
		store:  store,
		prompt: prompt,
		llm:    llm,
		log:    logger.With().Str("component", "responder").Logger(),
	}
}

// WithArchiver returns g with committed exchanges also sent to a.
func (g *ResponseGenerator) WithArchiver(a Archiver) *ResponseGenerator {
	g.archiver = a
	return g
}

// HandleUtterance returns the reply for utterance in conversationID. It
// never fails; failures come back as one of the apology texts.
func (g *ResponseGenerator) HandleUtterance(ctx context.Context, conversationID, utterance string) string {
	return ReplyText(g.Generate(ctx, conversationID, utterance))
}

// Generate runs the pipeline. Memory is only written when the result is OK.
func (g *ResponseGenerator) Generate(ctx context.Context, conversationID, utterance string) (res Result) {
	logger := g.log.With().Str("conversation_id", conversationID).Logger()
	start := time.Now()

	release := g.store.Acquire(conversationID)
	defer release()

	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("panic in response pipeline: %v", p)
			logger.Error().Err(err).Msg("unclassified error while generating response")
			res = Result{Failure: FailureUnknown, Err: err}
		}
	}()

	raw, err := g.invoke(ctx, logger, conversationID, utterance)
	if err != nil {
		reason := Classify(err)
		event := logger.Error().Err(err).Str("reason", reason.String())
		switch reason {
		case FailureValue:
			event.Msg("value error while generating response")
		case FailureType:
			event.Msg("type error while generating response")
		default:
			event.Msg("unclassified error while generating response")
		}
		return Result{Failure: reason, Err: err}
	}

	if strings.TrimSpace(raw) == "" {
		logger.Error().Msg("model returned an empty response, not saved to memory")
		return Result{Failure: FailureEmptyOutput}
	}

	reply := Sanitize(raw)
	if reply == "" {
		logger.Error().Msg("response is empty after removing reasoning, not saved to memory")
		return Result{Failure: FailureEmptyOutput}
	}

	g.store.Append(conversationID, utterance, reply)
	g.store.Log(conversationID)
	g.archive(ctx, logger, conversationID, utterance, reply)

	logger.Info().Dur("elapsed", time.Since(start)).Msg("response generated")
	return Result{Text: reply}
}

func (g *ResponseGenerator) invoke(ctx context.Context, logger zerolog.Logger, conversationID, utterance string) (string, error) {
	history, dropped, err := models.Normalize(g.store.Snapshot(conversationID))
	if err != nil {
		return "", fmt.Errorf("normalize history: %w", err)
	}
	for _, d := range dropped {
		logger.Warn().Int("index", d.Index).Str("role", d.Role).Msg("dropped history entry with unknown role")
	}

	messages, err := g.prompt.Build(history, utterance)
	if err != nil {
		return "", fmt.Errorf("build prompt: %w", err)
	}
	logger.Debug().Str("prompt", Render(messages)).Int("messages", len(messages)).Msg("prompt assembled")

	raw, err := g.llm.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	return raw, nil
}

func (g *ResponseGenerator) archive(ctx context.Context, logger zerolog.Logger, conversationID, userText, assistantText string) {
	if g.archiver == nil {
		return
	}
	if err := g.archiver.SaveExchange(ctx, conversationID, userText, assistantText); err != nil {
		logger.Warn().Err(err).Msg("failed to archive exchange")
	}
}
