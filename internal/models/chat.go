package models

import (
	"time"

	"hospital-chat/internal/identity"
)

// Chat is a one-to-one conversation or a named group between hospital staff.
type Chat struct {
	ID           string             `json:"_id"`
	IsGroup      bool               `json:"isGroup"`
	GroupName    string             `json:"groupName,omitempty"`
	GroupAdmin   *identity.UserRef  `json:"groupAdmin,omitempty"`
	Participants []identity.UserRef `json:"participants"`
	LastMessage  *LastMessage       `json:"lastMessage,omitempty"`
	UnreadCounts map[string]int     `json:"unreadCounts"`
	CreatedAt    time.Time          `json:"createdAt"`
	UpdatedAt    time.Time          `json:"updatedAt"`
}

// LastMessage is the list-preview summary kept on each chat.
type LastMessage struct {
	Content       string           `json:"content,omitempty"`
	HasAttachment bool             `json:"hasAttachment,omitempty"`
	Sender        identity.UserRef `json:"sender"`
	Timestamp     time.Time        `json:"timestamp"`
}

// HasParticipant reports whether the user belongs to the chat.
func (c Chat) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.Normalize() == userID {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the user is the group admin. Always false for
// one-to-one chats.
func (c Chat) IsAdmin(userID string) bool {
	return c.IsGroup && c.GroupAdmin != nil && c.GroupAdmin.Normalize() == userID
}

// UnreadFor returns the user's unread count, zero for unknown users.
func (c Chat) UnreadFor(userID string) int {
	return c.UnreadCounts[userID]
}
