package server

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/limeechian/parenting-app-sub004/internal/models"
)

var (
	// ErrNotFound is returned for unknown or hidden records.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when a user touches another user's data.
	ErrForbidden = errors.New("forbidden")
)

type conversationRecord struct {
	id           string
	userA        string
	userB        string
	lastActivity time.Time
	deletedFor   map[string]bool
}

func (c *conversationRecord) other(userID string) string {
	if userID == c.userA {
		return c.userB
	}
	return c.userA
}

func (c *conversationRecord) involves(userID string) bool {
	return userID == c.userA || userID == c.userB
}

type messageRecord struct {
	msg        models.Message
	deletedFor map[string]bool
}

// Store is the in-memory data model of the development backend. It exists to
// exercise the client against the real contract semantics: fetching marks
// read, deletes are soft and per-viewer, reactions are idempotent per
// (message, user, type) and bump conversation activity.
type Store struct {
	mu            sync.RWMutex
	users         map[string]models.Participant
	conversations map[string]*conversationRecord
	messages      map[string][]*messageRecord // conversationID -> chronological
	byMessageID   map[string]*messageRecord
	msgConv       map[string]string // messageID -> conversationID
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		users:         make(map[string]models.Participant),
		conversations: make(map[string]*conversationRecord),
		messages:      make(map[string][]*messageRecord),
		byMessageID:   make(map[string]*messageRecord),
		msgConv:       make(map[string]string),
	}
}

// AddUser registers a user. Existing entries are replaced.
func (s *Store) AddUser(p models.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[p.ID] = p
}

// Users returns all registered users.
func (s *Store) Users() []models.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Participant, 0, len(s.users))
	for _, p := range s.users {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Reset drops all conversations and messages but keeps users.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = make(map[string]*conversationRecord)
	s.messages = make(map[string][]*messageRecord)
	s.byMessageID = make(map[string]*messageRecord)
	s.msgConv = make(map[string]string)
}

// CreateConversation opens a conversation between two users, reusing an
// existing one (and undeleting it for the caller) when the pair already has
// a thread.
func (s *Store) CreateConversation(userID, otherID string) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[otherID]; !ok {
		return models.Conversation{}, errors.Wrapf(ErrNotFound, "user %s", otherID)
	}

	for _, rec := range s.conversations {
		if rec.involves(userID) && rec.involves(otherID) && userID != otherID {
			delete(rec.deletedFor, userID)
			return s.summaryLocked(rec, userID), nil
		}
	}

	rec := &conversationRecord{
		id:           uuid.New().String(),
		userA:        userID,
		userB:        otherID,
		lastActivity: time.Now().UTC(),
		deletedFor:   make(map[string]bool),
	}
	s.conversations[rec.id] = rec
	return s.summaryLocked(rec, userID), nil
}

// ListConversations returns the caller's visible conversations, most recent
// activity first.
func (s *Store) ListConversations(userID string) []models.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Conversation
	for _, rec := range s.conversations {
		if !rec.involves(userID) || rec.deletedFor[userID] {
			continue
		}
		out = append(out, s.summaryLocked(rec, userID))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out
}

// Summary returns the caller's view of one conversation.
func (s *Store) Summary(userID, conversationID string) (models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, err := s.visibleConversationLocked(userID, conversationID)
	if err != nil {
		return models.Conversation{}, err
	}
	return s.summaryLocked(rec, userID), nil
}

// FetchMessages returns one page of the caller's visible messages, oldest
// first within the page; page 1 is the newest window. The returned messages
// addressed to the caller are marked read, matching the backend contract;
// the second return reports whether any read state actually changed.
func (s *Store) FetchMessages(userID, conversationID string, page, pageSize int) ([]models.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.visibleConversationLocked(userID, conversationID); err != nil {
		return nil, false, err
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}

	var visible []*messageRecord
	for _, mr := range s.messages[conversationID] {
		if !mr.deletedFor[userID] {
			visible = append(visible, mr)
		}
	}

	end := len(visible) - (page-1)*pageSize
	if end <= 0 {
		return []models.Message{}, false, nil
	}
	start := end - pageSize
	if start < 0 {
		start = 0
	}

	now := time.Now().UTC()
	changed := false
	out := make([]models.Message, 0, end-start)
	for _, mr := range visible[start:end] {
		if mr.msg.RecipientID == userID && !mr.msg.IsRead {
			mr.msg.IsRead = true
			ts := now
			mr.msg.ReadAt = &ts
			changed = true
		}
		out = append(out, mr.msg)
	}
	return out, changed, nil
}

// SendMessage appends a message from the caller and returns the confirmed
// copy. Attachments are attached afterwards via AddAttachment.
func (s *Store) SendMessage(userID, conversationID, content string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.visibleConversationLocked(userID, conversationID)
	if err != nil {
		return models.Message{}, err
	}

	now := time.Now().UTC()
	msg := models.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       userID,
		RecipientID:    rec.other(userID),
		Content:        content,
		CreatedAt:      now,
	}
	mr := &messageRecord{msg: msg, deletedFor: make(map[string]bool)}
	s.messages[conversationID] = append(s.messages[conversationID], mr)
	s.byMessageID[msg.ID] = mr
	s.msgConv[msg.ID] = conversationID
	rec.lastActivity = now
	// Receiving a message resurrects the thread for a user who deleted it.
	delete(rec.deletedFor, rec.other(userID))
	return msg, nil
}

// MarkRead acknowledges every visible message addressed to the caller and
// reports whether anything changed.
func (s *Store) MarkRead(userID, conversationID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.visibleConversationLocked(userID, conversationID); err != nil {
		return false, err
	}
	now := time.Now().UTC()
	changed := false
	for _, mr := range s.messages[conversationID] {
		if mr.msg.RecipientID == userID && !mr.msg.IsRead && !mr.deletedFor[userID] {
			mr.msg.IsRead = true
			ts := now
			mr.msg.ReadAt = &ts
			changed = true
		}
	}
	return changed, nil
}

// DeleteConversation hides the conversation from the caller only.
func (s *Store) DeleteConversation(userID, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.visibleConversationLocked(userID, conversationID)
	if err != nil {
		return err
	}
	rec.deletedFor[userID] = true
	return nil
}

// DeleteMessage hides a message from the caller only and returns the
// conversation it belongs to.
func (s *Store) DeleteMessage(userID, messageID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mr, ok := s.byMessageID[messageID]
	if !ok {
		return "", errors.Wrapf(ErrNotFound, "message %s", messageID)
	}
	conversationID := s.msgConv[messageID]
	rec := s.conversations[conversationID]
	if rec == nil || !rec.involves(userID) {
		return "", ErrForbidden
	}
	mr.deletedFor[userID] = true
	return conversationID, nil
}

// AddReaction adds the caller's reaction of the given type. Adding one that
// already exists is a no-op, so retries cannot duplicate. Returns the
// conversation id and whether anything changed.
func (s *Store) AddReaction(userID, messageID, reactionType string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mr, rec, err := s.reactableLocked(userID, messageID)
	if err != nil {
		return "", false, err
	}
	for _, r := range mr.msg.Reactions {
		if r.UserID == userID && r.Type == reactionType {
			return rec.id, false, nil
		}
	}
	now := time.Now().UTC()
	mr.msg.Reactions = append(mr.msg.Reactions, models.Reaction{
		ID:        uuid.New().String(),
		MessageID: messageID,
		UserID:    userID,
		Type:      reactionType,
		CreatedAt: now,
	})
	rec.lastActivity = now
	return rec.id, true, nil
}

// RemoveReaction removes the caller's reaction of the given type. Returns
// the conversation id and whether anything changed.
func (s *Store) RemoveReaction(userID, messageID, reactionType string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mr, rec, err := s.reactableLocked(userID, messageID)
	if err != nil {
		return "", false, err
	}
	for i, r := range mr.msg.Reactions {
		if r.UserID == userID && r.Type == reactionType {
			mr.msg.Reactions = append(mr.msg.Reactions[:i], mr.msg.Reactions[i+1:]...)
			rec.lastActivity = time.Now().UTC()
			return rec.id, true, nil
		}
	}
	return rec.id, false, nil
}

// AddAttachment records attachment metadata on a message the caller sent.
func (s *Store) AddAttachment(userID, messageID, fileName, mimeType string, size int64) (models.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mr, ok := s.byMessageID[messageID]
	if !ok {
		return models.Attachment{}, errors.Wrapf(ErrNotFound, "message %s", messageID)
	}
	if mr.msg.SenderID != userID {
		return models.Attachment{}, ErrForbidden
	}
	att := models.Attachment{
		ID:        uuid.New().String(),
		MessageID: messageID,
		FileName:  fileName,
		URL:       "/attachments/" + messageID + "/" + fileName,
		Type:      attachmentTypeFor(mimeType),
		Size:      size,
		MimeType:  mimeType,
	}
	mr.msg.Attachments = append(mr.msg.Attachments, att)
	return att, nil
}

// Participants returns both user ids of a conversation.
func (s *Store) Participants(conversationID string) (string, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.conversations[conversationID]
	if !ok {
		return "", "", false
	}
	return rec.userA, rec.userB, true
}

func attachmentTypeFor(mimeType string) models.AttachmentType {
	switch {
	case len(mimeType) >= 6 && mimeType[:6] == "image/":
		return models.AttachmentImage
	case len(mimeType) >= 6 && mimeType[:6] == "video/":
		return models.AttachmentVideo
	default:
		return models.AttachmentFile
	}
}

func (s *Store) visibleConversationLocked(userID, conversationID string) (*conversationRecord, error) {
	rec, ok := s.conversations[conversationID]
	if !ok || rec.deletedFor[userID] {
		return nil, errors.Wrapf(ErrNotFound, "conversation %s", conversationID)
	}
	if !rec.involves(userID) {
		return nil, ErrForbidden
	}
	return rec, nil
}

func (s *Store) reactableLocked(userID, messageID string) (*messageRecord, *conversationRecord, error) {
	mr, ok := s.byMessageID[messageID]
	if !ok || mr.deletedFor[userID] {
		return nil, nil, errors.Wrapf(ErrNotFound, "message %s", messageID)
	}
	rec := s.conversations[s.msgConv[messageID]]
	if rec == nil || !rec.involves(userID) {
		return nil, nil, ErrForbidden
	}
	return mr, rec, nil
}

// summaryLocked builds the caller's view of a conversation: the other user
// as participant, unread counted over messages addressed to the caller, and
// the last-message snapshot taken from the newest message the caller can
// still see.
func (s *Store) summaryLocked(rec *conversationRecord, userID string) models.Conversation {
	conv := models.Conversation{
		ID:            rec.id,
		Participant:   s.users[rec.other(userID)],
		LastMessageAt: rec.lastActivity,
	}
	msgs := s.messages[rec.id]
	for i := len(msgs) - 1; i >= 0; i-- {
		mr := msgs[i]
		if mr.deletedFor[userID] {
			continue
		}
		if conv.LastMessage == nil {
			conv.LastMessage = &models.LastMessage{
				Content:        mr.msg.Content,
				SenderID:       mr.msg.SenderID,
				HasAttachments: len(mr.msg.Attachments) > 0,
				SentAt:         mr.msg.CreatedAt,
			}
		}
		if mr.msg.RecipientID == userID && !mr.msg.IsRead {
			conv.UnreadCount++
		}
	}
	return conv
}
