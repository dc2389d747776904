package routes

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"line-relay/controllers"
	"line-relay/models"
	"line-relay/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type echoGenerator struct{}

func (echoGenerator) Generate(_ context.Context, messages []models.Turn) (string, error) {
	return "echo: " + messages[len(messages)-1].Content, nil
}

type nopMessenger struct{}

func (nopMessenger) ShowLoading(context.Context, string) error { return nil }
func (nopMessenger) Reply(context.Context, string, string) error { return nil }

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := zerolog.Nop()
	store := services.NewConversationStore(10, 0, logger)
	responder := services.NewResponseGenerator(store, services.NewPromptBuilder("", ""), echoGenerator{}, logger)

	return SetupRouter(Handlers{
		Webhook: controllers.NewWebhookController(responder, nopMessenger{}, logger),
		Chat:    controllers.NewChatController(responder, store, nil, logger),
	}, logger)
}

func TestSetupRouter_Routes(t *testing.T) {
	r := newTestRouter()

	cases := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{http.MethodGet, "/healthz", "", http.StatusOK},
		{http.MethodPost, "/callback", `{"events":[]}`, http.StatusOK},
		{http.MethodPost, "/chat", `{"user_id":"u1","message":"hi"}`, http.StatusOK},
		{http.MethodGet, "/chat/conversations?userId=u1", "", http.StatusOK},
		{http.MethodGet, "/chat/transcript?userId=u1", "", http.StatusNotFound},
		{http.MethodGet, "/chat/research-ai", "", http.StatusNotFound},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, bytes.NewBufferString(tc.body)))
		assert.Equal(t, tc.want, rec.Code, "%s %s", tc.method, tc.path)
	}
}

func TestSetupRouter_ChatRemembersExchange(t *testing.T) {
	r := newTestRouter()

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat", bytes.NewBufferString(`{"user_id":"u1","message":"hi"}`)))
	assert.Contains(t, rec.Body.String(), "echo: ")

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat/conversations?userId=u1", nil))
	assert.Contains(t, rec.Body.String(), `"role":"user","content":"hi"`)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
