package protocol

import (
	"encoding/json"

	"github.com/limeechian/parenting-app-sub004/internal/models"
)

// EventType identifies the type of a push-stream envelope.
type EventType string

const (
	// Backend -> client
	EventConnected           EventType = "connected"
	EventNewMessage          EventType = "new_message"
	EventConversationUpdated EventType = "conversation_updated"
	EventMessageReaction     EventType = "message_reaction"
	EventConversationDeleted EventType = "conversation_deleted"
)

// Envelope wraps all push-stream messages with a type field.
type Envelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ConnectedEvent is the first envelope on a fresh stream. The conversation
// snapshot it carries is the authoritative baseline for the client's list.
type ConnectedEvent struct {
	Conversations []models.Conversation `json:"conversations"`
}

// NewMessageEvent announces a message sent to the local user. It carries only
// the updated conversation summary; the message itself is fetched over REST.
type NewMessageEvent struct {
	ConversationID string              `json:"conversation_id"`
	Conversation   models.Conversation `json:"conversation"`
}

// ConversationUpdatedEvent announces a metadata change (read acknowledgement,
// participant edit) on a conversation.
type ConversationUpdatedEvent struct {
	ConversationID string              `json:"conversation_id"`
	Conversation   models.Conversation `json:"conversation"`
}

// MessageReactionEvent announces a reaction change on a message in the
// conversation.
type MessageReactionEvent struct {
	ConversationID string              `json:"conversation_id"`
	Conversation   models.Conversation `json:"conversation"`
}

// ConversationDeletedEvent announces that the conversation is gone for the
// local user.
type ConversationDeletedEvent struct {
	ConversationID string `json:"conversation_id"`
}

// UICommand is a command from the browser UI to the local client daemon.
// Fields are a union over all command types; unused ones stay empty.
type UICommand struct {
	Type           string   `json:"type"`
	ConversationID string   `json:"conversation_id,omitempty"`
	MessageID      string   `json:"message_id,omitempty"`
	UserID         string   `json:"user_id,omitempty"`
	Content        string   `json:"content,omitempty"`
	AttachmentIDs  []string `json:"attachment_ids,omitempty"`
	Reaction       string   `json:"reaction,omitempty"`
	AtBottom       bool     `json:"at_bottom,omitempty"`
}

// UI command types
const (
	UISelectConversation = "select_conversation"
	UIStartConversation  = "start_conversation"
	UISendMessage        = "send_message"
	UILoadOlder          = "load_older"
	UIDeleteConversation = "delete_conversation"
	UIDeleteMessage      = "delete_message"
	UIAddReaction        = "add_reaction"
	UIRemoveReaction     = "remove_reaction"
	UIMarkRead           = "mark_read"
	UIViewport           = "viewport"
)

// NewEnvelope creates an envelope with the given type and data.
func NewEnvelope(eventType EventType, data interface{}) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Type: eventType,
		Data: raw,
	}, nil
}

// ParseEnvelope parses a JSON message into an envelope.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
