package models

import (
	"time"

	"github.com/lib/pq"
)

// ConversationSummary is a condensed window of archived turns for one
// conversation, produced by the batch job.
type ConversationSummary struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Summary        string          `json:"summary"`
	Vector         pq.Float64Array `json:"vector"`
	TurnCount      int             `json:"turn_count"`
	StartTime      time.Time       `json:"start_time"`
	EndTime        time.Time       `json:"end_time"`
	CreatedAt      time.Time       `json:"created_at"`
}
