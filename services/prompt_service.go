package services

import (
	"fmt"
	"strings"

	"line-relay/models"
)

const (
	DefaultLanguage     = "Traditional Chinese (zh-TW)"
	DefaultLatestMarker = "使用者的最新問題："
)

const policyTemplate = `You are a professional and reliable assistant. Give accurate, concise answers and follow these rules:
1. Always reply in %s.
2. Keep answers clear and structured (use bullet points), and avoid being long-winded.
3. If a question is beyond what you know, honestly say you don't know instead of making something up.
4. Do not open with greetings or repeat how you address the user; go straight to the answer.
5. If a question is too vague, ask the user whether they need a more specific explanation.
6. When explaining, make sure the information is correct and skip needless embellishment or over-explaining.
7. Keep your answer consistent with the context and never ignore the conversation history.`

// PromptBuilder composes the ordered instruction sequence sent to the model:
// the system policy first, then the history oldest first, then the user's
// latest question.
type PromptBuilder struct {
	system       string
	latestMarker string
}

func NewPromptBuilder(language, latestMarker string) *PromptBuilder {
	if strings.TrimSpace(language) == "" {
		language = DefaultLanguage
	}
	if latestMarker == "" {
		latestMarker = DefaultLatestMarker
	}
	return &PromptBuilder{
		system:       fmt.Sprintf(policyTemplate, language),
		latestMarker: latestMarker,
	}
}

// SystemPrompt returns the behavioural policy block.
func (b *PromptBuilder) SystemPrompt() string {
	return b.system
}

// LatestQuestion marks utterance as the newest question so the model can
// tell it apart from history.
func (b *PromptBuilder) LatestQuestion(utterance string) string {
	return b.latestMarker + utterance
}

// Build returns system + history + latest question. history is not modified.
func (b *PromptBuilder) Build(history []models.Turn, utterance string) ([]models.Turn, error) {
	if strings.TrimSpace(utterance) == "" {
		return nil, fmt.Errorf("empty utterance: %w", models.ErrInvalidValue)
	}

	messages := make([]models.Turn, 0, len(history)+2)
	messages = append(messages, models.SystemTurn(b.system))
	messages = append(messages, history...)
	messages = append(messages, models.UserTurn(b.LatestQuestion(utterance)))
	return messages, nil
}

// Render flattens messages into a readable transcript for logging.
func Render(messages []models.Turn) string {
	var sb strings.Builder
	for i, m := range messages {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(m.String())
	}
	return sb.String()
}
