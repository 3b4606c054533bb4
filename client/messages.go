package client

import "github.com/limeechian/parenting-app-sub004/internal/models"

// MessageStore holds the visible messages of the currently open
// conversation, ordered oldest to newest. Refreshes replace the whole recent
// window rather than patching it; only pagination prepends older pages.
// Owned by the session loop, no locking.
type MessageStore struct {
	conversationID string
	msgs           []models.Message
	page           int
	hasMore        bool
}

// NewMessageStore creates an empty store.
func NewMessageStore() *MessageStore {
	return &MessageStore{}
}

// Replace swaps in the full recent window for a conversation. Resets the
// pagination cursor to page 1.
func (s *MessageStore) Replace(conversationID string, msgs []models.Message, hasMore bool) {
	s.conversationID = conversationID
	s.msgs = append(s.msgs[:0:0], msgs...)
	s.page = 1
	s.hasMore = hasMore
}

// Prepend inserts an older page before the current head and advances the
// pagination cursor.
func (s *MessageStore) Prepend(older []models.Message, hasMore bool) {
	if len(older) > 0 {
		merged := make([]models.Message, 0, len(older)+len(s.msgs))
		merged = append(merged, older...)
		merged = append(merged, s.msgs...)
		s.msgs = merged
	}
	s.page++
	s.hasMore = hasMore
}

// Remove drops a message locally (per-viewer soft delete) and reports
// whether it was present.
func (s *MessageStore) Remove(messageID string) bool {
	for i, msg := range s.msgs {
		if msg.ID == messageID {
			s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
			return true
		}
	}
	return false
}

// Clear empties the store, used when the open conversation goes away.
func (s *MessageStore) Clear() {
	s.conversationID = ""
	s.msgs = nil
	s.page = 0
	s.hasMore = false
}

// Messages returns the visible messages, oldest first.
func (s *MessageStore) Messages() []models.Message {
	return s.msgs
}

// ConversationID returns the conversation the store currently holds.
func (s *MessageStore) ConversationID() string {
	return s.conversationID
}

// Page returns the highest loaded page (1 = most recent window only).
func (s *MessageStore) Page() int {
	return s.page
}

// HasMore reports whether older pages remain on the server.
func (s *MessageStore) HasMore() bool {
	return s.hasMore
}
