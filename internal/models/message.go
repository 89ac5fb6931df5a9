package models

import (
	"errors"
	"strings"
	"time"

	"hospital-chat/internal/identity"
)

// ErrEmptyMessage rejects messages with neither content nor attachments
// before anything touches the store or the channel.
var ErrEmptyMessage = errors.New("message requires content or attachments")

// Message belongs to exactly one chat. Append-only: no edit or delete.
type Message struct {
	ID          string           `json:"_id"`
	ChatID      string           `json:"chatId"`
	Sender      identity.UserRef `json:"sender"`
	Content     string           `json:"content,omitempty"`
	Attachments []Attachment     `json:"attachments,omitempty"`
	CreatedAt   time.Time        `json:"timestamp"`
}

// Attachment is a stored file reference carried by a message.
type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
	URL      string `json:"url"`
}

// ValidateMessagePayload enforces the content-or-attachment invariant.
func ValidateMessagePayload(content string, attachments []Attachment) error {
	if strings.TrimSpace(content) == "" && len(attachments) == 0 {
		return ErrEmptyMessage
	}
	return nil
}

// Preview builds the chat-list summary for the message.
func (m Message) Preview() *LastMessage {
	return &LastMessage{
		Content:       m.Content,
		HasAttachment: len(m.Attachments) > 0,
		Sender:        m.Sender,
		Timestamp:     m.CreatedAt,
	}
}
