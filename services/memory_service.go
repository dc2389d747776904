package services

import (
	"container/list"
	"sync"

	"line-relay/models"

	"github.com/rs/zerolog"
)

// ConversationHistory is the sliding window of turns for one conversation.
// It keeps at most window exchanges, i.e. 2*window turns.
type ConversationHistory struct {
	// turn is held by the response pipeline from snapshot to commit.
	turn sync.Mutex

	mu     sync.RWMutex
	window int
	turns  []models.Turn
}

func newConversationHistory(window int) *ConversationHistory {
	return &ConversationHistory{
		window: window,
		turns:  make([]models.Turn, 0, 2*window),
	}
}

// Append adds one user turn and one assistant turn, evicting the oldest
// exchanges once the window is exceeded.
func (h *ConversationHistory) Append(userText, assistantText string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.turns = append(h.turns, models.UserTurn(userText), models.AssistantTurn(assistantText))
	if limit := 2 * h.window; len(h.turns) > limit {
		kept := make([]models.Turn, limit, 2*h.window)
		copy(kept, h.turns[len(h.turns)-limit:])
		h.turns = kept
	}
}

// Snapshot returns a copy of the window, oldest first.
func (h *ConversationHistory) Snapshot() []models.Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]models.Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Exchanges returns the number of complete exchanges held.
func (h *ConversationHistory) Exchanges() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns) / 2
}

type storeEntry struct {
	id      string
	history *ConversationHistory
}

// ConversationStore maps conversation ids to their history windows. Histories
// are created on first reference and live until the process exits, unless a
// capacity is set, in which case the least recently used idle conversation
// is evicted to make room.
type ConversationStore struct {
	mu            sync.Mutex
	window        int
	capacity      int
	conversations map[string]*list.Element
	recency       *list.List // front is most recently used
	log           zerolog.Logger
}

// NewConversationStore creates a store keeping window exchanges per
// conversation. capacity <= 0 means the number of conversations is unbounded.
func NewConversationStore(window, capacity int, logger zerolog.Logger) *ConversationStore {
	if window < 1 {
		window = 1
	}
	return &ConversationStore{
		window:        window,
		capacity:      capacity,
		conversations: make(map[string]*list.Element),
		recency:       list.New(),
		log:           logger.With().Str("component", "memory").Logger(),
	}
}

// Window returns the configured number of exchanges kept per conversation.
func (s *ConversationStore) Window() int {
	return s.window
}

// GetOrCreate returns the history for conversationID, creating an empty one
// if the id has not been seen.
func (s *ConversationStore) GetOrCreate(conversationID string) *ConversationHistory {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.conversations[conversationID]; ok {
		s.recency.MoveToFront(el)
		return el.Value.(*storeEntry).history
	}

	if s.capacity > 0 && len(s.conversations) >= s.capacity {
		s.evictLocked()
	}

	history := newConversationHistory(s.window)
	s.conversations[conversationID] = s.recency.PushFront(&storeEntry{id: conversationID, history: history})
	s.log.Info().Str("conversation_id", conversationID).Int("window", s.window).Msg("created conversation memory")
	return history
}

// evictLocked drops the least recently used conversation that is not in the
// middle of a turn. If every conversation is busy the store grows past its
// capacity rather than losing an in-flight commit.
func (s *ConversationStore) evictLocked() {
	for el := s.recency.Back(); el != nil; el = el.Prev() {
		entry := el.Value.(*storeEntry)
		if !entry.history.turn.TryLock() {
			continue
		}
		entry.history.turn.Unlock()

		s.recency.Remove(el)
		delete(s.conversations, entry.id)
		s.log.Debug().Str("conversation_id", entry.id).Msg("evicted conversation memory")
		return
	}
	s.log.Warn().Int("capacity", s.capacity).Msg("all conversations busy, store exceeds capacity")
}

// Append records one completed exchange for conversationID.
func (s *ConversationStore) Append(conversationID, userText, assistantText string) {
	s.GetOrCreate(conversationID).Append(userText, assistantText)
	s.log.Debug().
		Str("conversation_id", conversationID).
		Str("output", assistantText).
		Msg("assistant reply added to memory")
}

// Snapshot returns the current window for conversationID, oldest first. An
// unseen id yields an empty slice and is not registered.
func (s *ConversationStore) Snapshot(conversationID string) []models.Turn {
	s.mu.Lock()
	el, ok := s.conversations[conversationID]
	s.mu.Unlock()
	if !ok {
		return []models.Turn{}
	}
	return el.Value.(*storeEntry).history.Snapshot()
}

// Acquire takes the per-conversation turn lock. Callers hold it across a
// whole read-generate-append sequence so that two messages in the same
// conversation cannot interleave.
func (s *ConversationStore) Acquire(conversationID string) (release func()) {
	for {
		history := s.GetOrCreate(conversationID)
		history.turn.Lock()

		// Eviction may have raced the lock; a held turn lock pins the entry.
		s.mu.Lock()
		el, ok := s.conversations[conversationID]
		current := ok && el.Value.(*storeEntry).history == history
		s.mu.Unlock()
		if current {
			return history.turn.Unlock
		}
		history.turn.Unlock()
	}
}

// Len returns the number of conversations currently held.
func (s *ConversationStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversations)
}

// Log writes the current window of conversationID at debug level.
func (s *ConversationStore) Log(conversationID string) {
	turns := s.Snapshot(conversationID)
	s.log.Debug().
		Str("conversation_id", conversationID).
		Int("turns", len(turns)).
		Interface("history", turns).
		Msg("current conversation history")
}
