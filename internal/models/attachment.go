package models

// AttachmentType classifies an attachment for rendering purposes.
type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentVideo AttachmentType = "video"
	AttachmentFile  AttachmentType = "file"
)

// Attachment is a file attached to a message. Immutable once created.
type Attachment struct {
	ID        string         `json:"id"`
	MessageID string         `json:"message_id"`
	FileName  string         `json:"file_name"`
	URL       string         `json:"url"`
	Type      AttachmentType `json:"type"`
	Size      int64          `json:"size"`
	MimeType  string         `json:"mime_type"`
}
