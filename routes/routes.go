package routes

import (
	"net/http"

	"line-relay/controllers"
	"line-relay/middlewares"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Handlers groups the controllers the router dispatches to.
type Handlers struct {
	Webhook *controllers.WebhookController
	Chat    *controllers.ChatController
}

func SetupRouter(h Handlers, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middlewares.CORS(), middlewares.Logger(logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// LINE webhook
	r.POST("/callback", h.Webhook.HandleCallback)

	chat := r.Group("/chat")
	{
		chat.POST("", h.Chat.HandleChat)
		chat.GET("/conversations", h.Chat.GetConversations)
		chat.GET("/transcript", h.Chat.GetTranscript)
	}

	return r
}
