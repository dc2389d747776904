package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"line-relay/models"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

const summarySchema = `
CREATE TABLE IF NOT EXISTS conversation_summaries (
    id              UUID PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    summary         TEXT NOT NULL,
    vector          FLOAT8[],
    turn_count      INTEGER NOT NULL DEFAULT 0,
    start_time      TIMESTAMPTZ NOT NULL,
    end_time        TIMESTAMPTZ NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (conversation_id, start_time, end_time)
)`

// SummaryStore persists conversation summaries in Postgres.
type SummaryStore struct {
	db *sql.DB
}

// withSSLMode disables TLS unless the DSN says otherwise; local Postgres
// containers do not serve it.
func withSSLMode(dsn string) string {
	if strings.Contains(dsn, "sslmode=") {
		return dsn
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		if strings.Contains(dsn, "?") {
			return dsn + "&sslmode=disable"
		}
		return dsn + "?sslmode=disable"
	}
	return strings.TrimSpace(dsn + " sslmode=disable")
}

// OpenSummaryStore connects to Postgres and checks the connection.
func OpenSummaryStore(ctx context.Context, dsn string) (*SummaryStore, error) {
	db, err := sql.Open("postgres", withSSLMode(dsn))
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &SummaryStore{db: db}, nil
}

func (s *SummaryStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, summarySchema); err != nil {
		return fmt.Errorf("create conversation_summaries: %w", err)
	}
	return nil
}

// SaveSummary upserts summary keyed by conversation and period.
func (s *SummaryStore) SaveSummary(ctx context.Context, summary models.ConversationSummary) error {
	if summary.ID == "" {
		summary.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO conversation_summaries
        (id, conversation_id, summary, vector, turn_count, start_time, end_time)
        VALUES ($1, $2, $3, $4::float8[], $5, $6, $7)
        ON CONFLICT (conversation_id, start_time, end_time)
        DO UPDATE SET
            summary = EXCLUDED.summary,
            vector = EXCLUDED.vector,
            turn_count = EXCLUDED.turn_count`,
		summary.ID, summary.ConversationID, summary.Summary, summary.Vector,
		summary.TurnCount, summary.StartTime, summary.EndTime)
	if err != nil {
		return fmt.Errorf("save summary for %s: %w", summary.ConversationID, err)
	}
	return nil
}

func (s *SummaryStore) Close() error {
	return s.db.Close()
}
