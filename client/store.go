package client

import (
	"sort"

	"github.com/limeechian/parenting-app-sub004/internal/models"
)

// ConversationStore is the ordered in-memory view of the user's
// conversations, head = most recently active. It is owned by the session
// loop and must not be touched from other goroutines; that single-owner rule
// is what lets it go without a mutex.
type ConversationStore struct {
	order []string
	byID  map[string]models.Conversation
}

// NewConversationStore creates an empty store.
func NewConversationStore() *ConversationStore {
	return &ConversationStore{byID: make(map[string]models.Conversation)}
}

// Upsert inserts or replaces a conversation by id and reports whether it
// moved to the head of the list. A conversation moves to the head only when
// its LastMessageAt strictly increased (or it is new); a metadata-only
// change such as an unread decrease keeps its position.
func (s *ConversationStore) Upsert(conv models.Conversation) bool {
	prev, exists := s.byID[conv.ID]
	s.byID[conv.ID] = conv

	if !exists {
		s.order = append([]string{conv.ID}, s.order...)
		return true
	}
	if !conv.LastMessageAt.After(prev.LastMessageAt) {
		return false
	}
	s.moveToHead(conv.ID)
	return true
}

func (s *ConversationStore) moveToHead(id string) {
	for i, existing := range s.order {
		if existing == id {
			copy(s.order[1:i+1], s.order[:i])
			s.order[0] = id
			return
		}
	}
}

// Remove deletes a conversation and reports whether it was present. If the
// removed conversation was open, the caller is responsible for clearing the
// open selection and the message list.
func (s *ConversationStore) Remove(id string) bool {
	if _, ok := s.byID[id]; !ok {
		return false
	}
	delete(s.byID, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns a conversation by id.
func (s *ConversationStore) Get(id string) (models.Conversation, bool) {
	conv, ok := s.byID[id]
	return conv, ok
}

// ReplaceAll rebuilds the store from an authoritative snapshot (the stream's
// connected baseline or a polling fallback), ordered most recent first.
func (s *ConversationStore) ReplaceAll(convs []models.Conversation) {
	sorted := make([]models.Conversation, len(convs))
	copy(sorted, convs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].LastMessageAt.After(sorted[j].LastMessageAt)
	})

	s.order = s.order[:0]
	s.byID = make(map[string]models.Conversation, len(sorted))
	for _, conv := range sorted {
		s.order = append(s.order, conv.ID)
		s.byID[conv.ID] = conv
	}
}

// List returns the conversations in order, head first.
func (s *ConversationStore) List() []models.Conversation {
	out := make([]models.Conversation, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// Len returns the number of conversations.
func (s *ConversationStore) Len() int {
	return len(s.order)
}

// TotalUnread sums unread counts across all conversations, for the
// navigation badge.
func (s *ConversationStore) TotalUnread() int {
	total := 0
	for _, conv := range s.byID {
		total += conv.UnreadCount
	}
	return total
}
