package models

import "time"

// Reaction is a single user's reaction on a message. At most one reaction of
// a given type exists per (message, user) pair; adding it again is a no-op.
type Reaction struct {
	ID        string    `json:"id"`
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}
