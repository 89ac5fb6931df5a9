package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hospital-chat/internal/identity"
)

func TestValidateMessagePayload(t *testing.T) {
	require.ErrorIs(t, ValidateMessagePayload("", nil), ErrEmptyMessage)
	require.ErrorIs(t, ValidateMessagePayload("   ", nil), ErrEmptyMessage)

	require.NoError(t, ValidateMessagePayload("hello", nil))
	require.NoError(t, ValidateMessagePayload("", []Attachment{{Name: "scan.pdf", URL: "https://files/scan.pdf"}}))
}

func TestPreviewMarksAttachmentOnlyMessages(t *testing.T) {
	ts := time.Now()
	msg := Message{
		ChatID:      "c1",
		Sender:      identity.FromID("u1"),
		Attachments: []Attachment{{Name: "scan.pdf"}},
		CreatedAt:   ts,
	}

	preview := msg.Preview()
	require.True(t, preview.HasAttachment)
	require.Equal(t, "", preview.Content)
	require.Equal(t, ts, preview.Timestamp)
	require.True(t, identity.Same(identity.FromID("u1"), preview.Sender))
}

func TestChatMembershipHelpers(t *testing.T) {
	chat := Chat{
		ID:         "c1",
		IsGroup:    true,
		GroupAdmin: refPtr("u1"),
		Participants: []identity.UserRef{
			identity.FromID("u1"),
			identity.FromID("u2"),
		},
		UnreadCounts: map[string]int{"u2": 3},
	}

	require.True(t, chat.HasParticipant("u1"))
	require.False(t, chat.HasParticipant("u9"))
	require.True(t, chat.IsAdmin("u1"))
	require.False(t, chat.IsAdmin("u2"))
	require.Equal(t, 3, chat.UnreadFor("u2"))
	require.Equal(t, 0, chat.UnreadFor("u1"))
}

func refPtr(id string) *identity.UserRef {
	ref := identity.FromID(id)
	return &ref
}
