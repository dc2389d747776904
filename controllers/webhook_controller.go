package controllers

import (
	"context"
	"net/http"

	"line-relay/models"
	"line-relay/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

// Messenger delivers feedback and replies to the originating chat.
type Messenger interface {
	ShowLoading(ctx context.Context, chatID string) error
	Reply(ctx context.Context, replyToken, text string) error
}

// WebhookController receives LINE webhook callbacks.
type WebhookController struct {
	responder Responder
	messenger Messenger
	log       zerolog.Logger
}

func NewWebhookController(responder Responder, messenger Messenger, logger zerolog.Logger) *WebhookController {
	return &WebhookController{
		responder: responder,
		messenger: messenger,
		log:       logger.With().Str("component", "webhook").Logger(),
	}
}

// HandleCallback processes every event in the payload before answering, so
// replies go out while their reply tokens are still valid. Conversations are
// handled concurrently; events of one conversation run in delivery order.
func (wc *WebhookController) HandleCallback(c *gin.Context) {
	var payload models.WebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		wc.log.Warn().Err(err).Msg("malformed webhook body")
		c.String(http.StatusBadRequest, "malformed body")
		return
	}
	wc.log.Debug().Int("events", len(payload.Events)).Str("destination", payload.Destination).Msg("webhook received")

	ctx := c.Request.Context()
	var wg conc.WaitGroup
	for _, events := range wc.groupByConversation(payload.Events) {
		events := events
		wg.Go(func() {
			for _, event := range events {
				wc.handleEvent(ctx, event)
			}
		})
	}
	if r := wg.WaitAndRecover(); r != nil {
		wc.log.Error().Err(r.AsError()).Msg("panic while handling webhook event")
	}

	c.String(http.StatusOK, "OK")
}

// groupByConversation splits text events by conversation, keeping payload
// order within each group. Other events are logged and dropped.
func (wc *WebhookController) groupByConversation(events []models.WebhookEvent) [][]conversationEvent {
	index := make(map[string]int)
	var groups [][]conversationEvent
	for _, event := range events {
		if !event.IsText() {
			wc.log.Debug().Str("type", event.Type).Msg("ignoring non-text event")
			continue
		}
		id, ok := event.Source.ConversationID()
		if !ok {
			wc.log.Error().Str("source_type", event.Source.Type).Msg("unrecognised chat source, dropping message")
			continue
		}
		i, seen := index[id]
		if !seen {
			i = len(groups)
			index[id] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], conversationEvent{id: id, WebhookEvent: event})
	}
	return groups
}

type conversationEvent struct {
	models.WebhookEvent
	id string
}

func (wc *WebhookController) handleEvent(ctx context.Context, event conversationEvent) {
	conversationID := event.id
	logger := wc.log.With().Str("conversation_id", conversationID).Logger()

	if err := wc.messenger.ShowLoading(ctx, conversationID); err != nil {
		logger.Warn().Err(err).Msg("failed to show loading animation")
	}

	result := wc.responder.Generate(ctx, conversationID, event.Message.Text)
	if !result.OK() {
		logger.Warn().Str("reason", result.Failure.String()).Msg("replying with apology")
	}

	if err := wc.messenger.Reply(ctx, event.ReplyToken, services.ReplyText(result)); err != nil {
		logger.Error().Err(err).Msg("failed to deliver reply")
	}
}
