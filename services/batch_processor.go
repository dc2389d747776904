package services

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"line-relay/models"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
)

const summaryInstruction = "Summarise the following conversation so that its concrete content " +
	"(questions asked, facts given, decisions made) can be understood without the transcript. " +
	"Reply with the summary only."

// TranscriptSource is the archive side the batch job reads from.
type TranscriptSource interface {
	GetActiveConversations(ctx context.Context, since time.Time) ([]string, error)
	GetConversationsInPeriod(ctx context.Context, conversationID string, start, end time.Time) ([]models.Conversation, error)
}

// SummarySink receives finished summaries.
type SummarySink interface {
	SaveSummary(ctx context.Context, summary models.ConversationSummary) error
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// BatchProcessor periodically condenses recently archived conversations
// into summaries.
type BatchProcessor struct {
	source      TranscriptSource
	llm         Generator
	embedder    Embedder
	sink        SummarySink
	lookback    time.Duration
	concurrency int
	now         func() time.Time
	log         zerolog.Logger
}

// NewBatchProcessor creates a processor summarising the last lookback of
// activity. embedder may be nil, in which case summaries carry no vector.
func NewBatchProcessor(source TranscriptSource, llm Generator, embedder Embedder, sink SummarySink, lookback time.Duration, concurrency int, logger zerolog.Logger) *BatchProcessor {
	if concurrency < 1 {
		concurrency = 1
	}
	return &BatchProcessor{
		source:      source,
		llm:         llm,
		embedder:    embedder,
		sink:        sink,
		lookback:    lookback,
		concurrency: concurrency,
		now:         time.Now,
		log:         logger.With().Str("component", "batch").Logger(),
	}
}

// BatchStats reports the outcome of one run.
type BatchStats struct {
	Active    int
	Succeeded int
	Failed    int
	Skipped   int
}

// ProcessConversations summarises every conversation active within the
// lookback period. A failing conversation is logged and counted; only a
// failure to list active conversations fails the run.
func (bp *BatchProcessor) ProcessConversations(ctx context.Context) (BatchStats, error) {
	end := bp.now()
	start := end.Add(-bp.lookback)

	ids, err := bp.source.GetActiveConversations(ctx, start)
	if err != nil {
		return BatchStats{}, fmt.Errorf("get active conversations: %w", err)
	}

	var succeeded, failed, skipped atomic.Int64
	p := pool.New().WithMaxGoroutines(bp.concurrency)
	for _, id := range ids {
		id := id
		p.Go(func() {
			logger := bp.log.With().Str("conversation_id", id).Logger()
			saved, err := bp.processConversation(ctx, id, start, end)
			switch {
			case err != nil:
				failed.Add(1)
				logger.Error().Err(err).Msg("failed to summarise conversation")
			case !saved:
				skipped.Add(1)
				logger.Debug().Msg("no turns in period")
			default:
				succeeded.Add(1)
				logger.Info().Msg("conversation summarised")
			}
		})
	}
	p.Wait()

	stats := BatchStats{
		Active:    len(ids),
		Succeeded: int(succeeded.Load()),
		Failed:    int(failed.Load()),
		Skipped:   int(skipped.Load()),
	}
	bp.log.Info().
		Int("active", stats.Active).
		Int("succeeded", stats.Succeeded).
		Int("failed", stats.Failed).
		Int("skipped", stats.Skipped).
		Msg("batch run finished")
	return stats, nil
}

func (bp *BatchProcessor) processConversation(ctx context.Context, id string, start, end time.Time) (bool, error) {
	records, err := bp.source.GetConversationsInPeriod(ctx, id, start, end)
	if err != nil {
		return false, fmt.Errorf("get conversations: %w", err)
	}
	turns, _, err := models.Normalize(records)
	if err != nil {
		return false, fmt.Errorf("normalize transcript: %w", err)
	}
	if len(turns) == 0 {
		return false, nil
	}

	summary, err := bp.summarize(ctx, turns)
	if err != nil {
		return false, err
	}

	var vector []float64
	if bp.embedder != nil {
		if vector, err = bp.embedder.Embed(ctx, summary); err != nil {
			return false, fmt.Errorf("embed summary: %w", err)
		}
	}

	err = bp.sink.SaveSummary(ctx, models.ConversationSummary{
		ConversationID: id,
		Summary:        summary,
		Vector:         vector,
		TurnCount:      len(turns),
		StartTime:      start,
		EndTime:        end,
	})
	return err == nil, err
}

func (bp *BatchProcessor) summarize(ctx context.Context, turns []models.Turn) (string, error) {
	messages := make([]models.Turn, 0, len(turns)+1)
	messages = append(messages, models.SystemTurn(summaryInstruction))
	messages = append(messages, turns...)

	raw, err := bp.llm.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	summary := Sanitize(raw)
	if summary == "" {
		return "", fmt.Errorf("summary is empty: %w", models.ErrInvalidValue)
	}
	return summary, nil
}
