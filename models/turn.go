package models

import (
	"fmt"
	"strings"
)

// Role tags a Turn. The zero value is not a valid role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ParseRole maps a raw role tag onto a Role. "human" and "ai" are accepted
// as aliases since some chat stores record turns that way.
func ParseRole(raw string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "system":
		return RoleSystem, true
	case "user", "human":
		return RoleUser, true
	case "assistant", "ai":
		return RoleAssistant, true
	}
	return "", false
}

// Turn is one role-tagged message unit.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func SystemTurn(content string) Turn {
	return Turn{Role: RoleSystem, Content: content}
}

func UserTurn(content string) Turn {
	return Turn{Role: RoleUser, Content: content}
}

func AssistantTurn(content string) Turn {
	return Turn{Role: RoleAssistant, Content: content}
}

func (t Turn) String() string {
	return fmt.Sprintf("%s: %s", t.Role, t.Content)
}

// HistoryEntry is anything Normalize knows how to read a turn from.
type HistoryEntry interface {
	Turn | *Turn | Conversation | map[string]string | map[string]any
}

// DroppedEntry describes an entry Normalize skipped.
type DroppedEntry struct {
	Index int
	Role  string
}

// Normalize coerces stored history entries into typed turns, preserving
// order. Entries with an unrecognised role are skipped and reported in the
// second return value. A record whose content is not a string fails with
// ErrInvalidType.
func Normalize[E HistoryEntry](entries []E) ([]Turn, []DroppedEntry, error) {
	turns := make([]Turn, 0, len(entries))
	var dropped []DroppedEntry
	for i, entry := range entries {
		rawRole, content, err := fields(entry)
		if err != nil {
			return nil, nil, fmt.Errorf("history entry %d: %w", i, err)
		}
		role, ok := ParseRole(rawRole)
		if !ok {
			dropped = append(dropped, DroppedEntry{Index: i, Role: rawRole})
			continue
		}
		turns = append(turns, Turn{Role: role, Content: content})
	}
	return turns, dropped, nil
}

func fields(entry any) (string, string, error) {
	switch e := entry.(type) {
	case Turn:
		return string(e.Role), e.Content, nil
	case *Turn:
		if e == nil {
			return "", "", fmt.Errorf("nil turn: %w", ErrInvalidValue)
		}
		return string(e.Role), e.Content, nil
	case Conversation:
		return e.Role, e.Content, nil
	case map[string]string:
		return e["role"], e["content"], nil
	case map[string]any:
		role, ok := e["role"].(string)
		if !ok && e["role"] != nil {
			return "", "", fmt.Errorf("role is %T: %w", e["role"], ErrInvalidType)
		}
		switch content := e["content"].(type) {
		case string:
			return role, content, nil
		case nil:
			return role, "", nil
		default:
			return "", "", fmt.Errorf("content is %T: %w", content, ErrInvalidType)
		}
	}
	return "", "", fmt.Errorf("unsupported history entry %T: %w", entry, ErrInvalidType)
}
