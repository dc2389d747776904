package services

import (
	"context"
	"fmt"
	"strings"

	"line-relay/config"

	"github.com/go-resty/resty/v2"
)

// maxLineTextLength is the LINE limit for one text message.
const maxLineTextLength = 5000

type lineTextMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type lineReplyRequest struct {
	ReplyToken string            `json:"replyToken"`
	Messages   []lineTextMessage `json:"messages"`
}

type lineLoadingRequest struct {
	ChatID         string `json:"chatId"`
	LoadingSeconds int    `json:"loadingSeconds"`
}

// LineClient talks to the LINE Messaging API.
type LineClient struct {
	client         *resty.Client
	loadingSeconds int
}

func NewLineClient(cfg config.LineConfig) *LineClient {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.APIBase, "/")).
		SetAuthToken(cfg.AccessToken).
		SetHeader("Content-Type", "application/json")
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	return &LineClient{client: client, loadingSeconds: loadingSeconds(cfg.LoadingSeconds)}
}

// loadingSeconds clamps n to what the API accepts: a multiple of 5 in [5, 60].
func loadingSeconds(n int) int {
	switch {
	case n < 5:
		return 5
	case n > 60:
		return 60
	}
	return n - n%5
}

// ShowLoading starts the typing animation in chatID.
func (c *LineClient) ShowLoading(ctx context.Context, chatID string) error {
	return c.post(ctx, "/v2/bot/chat/loading/start", lineLoadingRequest{
		ChatID:         chatID,
		LoadingSeconds: c.loadingSeconds,
	})
}

// Reply answers the event identified by replyToken with one text message.
func (c *LineClient) Reply(ctx context.Context, replyToken, text string) error {
	return c.post(ctx, "/v2/bot/message/reply", lineReplyRequest{
		ReplyToken: replyToken,
		Messages:   []lineTextMessage{{Type: "text", Text: truncate(text, maxLineTextLength)}},
	})
}

func (c *LineClient) post(ctx context.Context, path string, body any) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(path)
	if err != nil {
		return fmt.Errorf("line %s request failed: %w", path, err)
	}
	if resp.IsError() {
		return fmt.Errorf("line %s returned status %d: %s", path, resp.StatusCode(), truncate(resp.String(), 400))
	}
	return nil
}
