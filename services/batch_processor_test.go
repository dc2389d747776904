package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"line-relay/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTranscripts struct {
	active    []string
	activeErr error
	records   map[string][]models.Conversation
	failFor   string
}

func (f *fakeTranscripts) GetActiveConversations(context.Context, time.Time) ([]string, error) {
	return f.active, f.activeErr
}

func (f *fakeTranscripts) GetConversationsInPeriod(_ context.Context, id string, _, _ time.Time) ([]models.Conversation, error) {
	if id == f.failFor {
		return nil, errors.New("throttled")
	}
	return f.records[id], nil
}

type fakeSink struct {
	mu    sync.Mutex
	saved []models.ConversationSummary
}

func (s *fakeSink) SaveSummary(_ context.Context, summary models.ConversationSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, summary)
	return nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	return []float64{float64(len(text))}, nil
}

func record(role, content string) models.Conversation {
	return models.Conversation{Role: role, Content: content}
}

func TestBatchProcessor_ProcessConversations(t *testing.T) {
	source := &fakeTranscripts{
		active: []string{"u1", "u2", "empty", "broken"},
		records: map[string][]models.Conversation{
			"u1": {record("user", "q1"), record("assistant", "a1")},
			"u2": {record("user", "q2"), record("assistant", "a2"), record("tool", "ignored")},
		},
		failFor: "broken",
	}
	gen := &fakeGenerator{output: "<think>hmm</think>A short summary."}
	sink := &fakeSink{}
	bp := NewBatchProcessor(source, gen, fakeEmbedder{}, sink, 3*time.Hour, 2, zerolog.Nop())
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	bp.now = func() time.Time { return now }

	stats, err := bp.ProcessConversations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BatchStats{Active: 4, Succeeded: 2, Failed: 1, Skipped: 1}, stats)

	require.Len(t, sink.saved, 2)
	sort.Slice(sink.saved, func(i, j int) bool { return sink.saved[i].ConversationID < sink.saved[j].ConversationID })
	first := sink.saved[0]
	assert.Equal(t, "u1", first.ConversationID)
	assert.Equal(t, "A short summary.", first.Summary)
	assert.Equal(t, []float64{16}, []float64(first.Vector))
	assert.Equal(t, 2, first.TurnCount)
	assert.Equal(t, now, first.EndTime)
	assert.Equal(t, now.Add(-3*time.Hour), first.StartTime)
	assert.Equal(t, 2, sink.saved[1].TurnCount)

	for _, call := range gen.calls {
		assert.Equal(t, models.SystemTurn(summaryInstruction), call[0])
	}
}

func TestBatchProcessor_WithoutEmbedder(t *testing.T) {
	source := &fakeTranscripts{
		active:  []string{"u1"},
		records: map[string][]models.Conversation{"u1": {record("user", "q")}},
	}
	sink := &fakeSink{}
	bp := NewBatchProcessor(source, &fakeGenerator{output: "s"}, nil, sink, time.Hour, 0, zerolog.Nop())

	_, err := bp.ProcessConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, sink.saved, 1)
	assert.Nil(t, sink.saved[0].Vector)
}

func TestBatchProcessor_EmptySummaryFails(t *testing.T) {
	source := &fakeTranscripts{
		active:  []string{"u1"},
		records: map[string][]models.Conversation{"u1": {record("user", "q")}},
	}
	sink := &fakeSink{}
	bp := NewBatchProcessor(source, &fakeGenerator{output: "<think>only</think>"}, nil, sink, time.Hour, 1, zerolog.Nop())

	stats, err := bp.ProcessConversations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Empty(t, sink.saved)
}

func TestBatchProcessor_ListFailure(t *testing.T) {
	source := &fakeTranscripts{activeErr: errors.New("scan failed")}
	bp := NewBatchProcessor(source, &fakeGenerator{}, nil, &fakeSink{}, time.Hour, 1, zerolog.Nop())

	_, err := bp.ProcessConversations(context.Background())
	assert.ErrorContains(t, err, "scan failed")
}

func TestWithSSLMode(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db/x?sslmode=disable", withSSLMode("postgres://u:p@db/x"))
	assert.Equal(t, "postgres://db/x?a=b&sslmode=disable", withSSLMode("postgres://db/x?a=b"))
	assert.Equal(t, "host=db dbname=x sslmode=disable", withSSLMode("host=db dbname=x"))
	assert.Equal(t, "host=db sslmode=require", withSSLMode("host=db sslmode=require"))
}
