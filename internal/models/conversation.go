package models

import "time"

// Participant is the other party of a conversation.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// LastMessage is a snapshot of the most recent message in a conversation,
// carried on the conversation summary so list rows can render without a
// message fetch.
type LastMessage struct {
	Content        string    `json:"content"`
	SenderID       string    `json:"sender_id"`
	HasAttachments bool      `json:"has_attachments"`
	SentAt         time.Time `json:"sent_at"`
}

// Conversation is a two-party message thread as seen from the local user's
// side. LastMessageAt is monotonically non-decreasing for the lifetime of
// the conversation; UnreadCount never goes negative.
type Conversation struct {
	ID            string       `json:"id"`
	Participant   Participant  `json:"participant"`
	LastMessage   *LastMessage `json:"last_message,omitempty"`
	LastMessageAt time.Time    `json:"last_message_at"`
	UnreadCount   int          `json:"unread_count"`
}
