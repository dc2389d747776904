package models

// WebhookPayload is the body LINE posts to the callback endpoint.
type WebhookPayload struct {
	Destination string         `json:"destination"`
	Events      []WebhookEvent `json:"events"`
}

type WebhookEvent struct {
	Type       string          `json:"type"`
	ReplyToken string          `json:"replyToken"`
	Timestamp  int64           `json:"timestamp"`
	Source     EventSource     `json:"source"`
	Message    *WebhookMessage `json:"message,omitempty"`
}

// EventSource identifies the chat an event came from.
type EventSource struct {
	Type    string `json:"type"` // user, group or room
	UserID  string `json:"userId,omitempty"`
	GroupID string `json:"groupId,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
}

type WebhookMessage struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ConversationID returns the id of the chat context: the user for one-on-one
// chats, otherwise the group or room. ok is false for unknown source types
// or a missing id.
func (s EventSource) ConversationID() (id string, ok bool) {
	switch s.Type {
	case "user":
		id = s.UserID
	case "group":
		id = s.GroupID
	case "room":
		id = s.RoomID
	}
	return id, id != ""
}

// IsText reports whether e is a text message event.
func (e WebhookEvent) IsText() bool {
	return e.Type == "message" && e.Message != nil && e.Message.Type == "text"
}
