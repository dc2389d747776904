package controllers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"line-relay/models"
	"line-relay/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Responder runs one utterance through the response pipeline.
type Responder interface {
	Generate(ctx context.Context, conversationID, utterance string) services.Result
}

// MemoryReader exposes the current memory window of a conversation.
type MemoryReader interface {
	Snapshot(conversationID string) []models.Turn
	Window() int
}

// TranscriptReader reads archived turns.
type TranscriptReader interface {
	GetAllConversations(ctx context.Context, conversationID string) ([]models.Conversation, error)
	GetRecentConversations(ctx context.Context, conversationID string, limit int) ([]models.Conversation, error)
}

// ChatController serves the JSON chat API used by non-LINE clients.
type ChatController struct {
	responder Responder
	memory    MemoryReader
	archive   TranscriptReader
	log       zerolog.Logger
}

// NewChatController creates the controller. archive may be nil.
func NewChatController(responder Responder, memory MemoryReader, archive TranscriptReader, logger zerolog.Logger) *ChatController {
	return &ChatController{
		responder: responder,
		memory:    memory,
		archive:   archive,
		log:       logger.With().Str("component", "chat").Logger(),
	}
}

func (cc *ChatController) HandleChat(c *gin.Context) {
	var request struct {
		Message string `json:"message" binding:"required"`
		UserID  string `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		cc.log.Debug().Err(err).Msg("invalid chat request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "message and user_id are required"})
		return
	}

	result := cc.responder.Generate(c.Request.Context(), request.UserID, request.Message)

	response := gin.H{
		"reply":     services.ReplyText(result),
		"id":        uuid.New().String(),
		"timestamp": time.Now().Format(time.RFC3339),
	}
	if !result.OK() {
		response["failure"] = result.Failure.String()
	}
	c.JSON(http.StatusOK, response)
}

func (cc *ChatController) GetConversations(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conversations": cc.memory.Snapshot(userID),
		"window":        cc.memory.Window(),
	})
}

func (cc *ChatController) GetTranscript(c *gin.Context) {
	if cc.archive == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "transcript archive is disabled"})
		return
	}
	userID := c.Query("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
		return
	}

	var (
		records []models.Conversation
		err     error
	)
	if raw := c.Query("limit"); raw != "" {
		limit, convErr := strconv.Atoi(raw)
		if convErr != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		records, err = cc.archive.GetRecentConversations(c.Request.Context(), userID, limit)
	} else {
		records, err = cc.archive.GetAllConversations(c.Request.Context(), userID)
	}
	if err != nil {
		cc.log.Error().Err(err).Str("conversation_id", userID).Msg("failed to fetch transcript")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch transcript"})
		return
	}
	turns, dropped, err := models.Normalize(records)
	if err != nil {
		cc.log.Error().Err(err).Str("conversation_id", userID).Msg("archived transcript is malformed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read transcript"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conversations": records,
		"turns":         turns,
		"dropped":       len(dropped),
	})
}
