package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"hospital-chat/internal/identity"
	"hospital-chat/internal/models"
	"hospital-chat/internal/repositories"
)

type ChatRepositoryMock struct {
	mock.Mock
}

func (m *ChatRepositoryMock) CreateOrGetDirect(ctx context.Context, userID, otherID string) (models.Chat, error) {
	args := m.Called(ctx, userID, otherID)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *ChatRepositoryMock) CreateGroup(ctx context.Context, adminID, name string, memberIDs []string) (models.Chat, error) {
	args := m.Called(ctx, adminID, name, memberIDs)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *ChatRepositoryMock) GetChat(ctx context.Context, chatID string) (models.Chat, error) {
	args := m.Called(ctx, chatID)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *ChatRepositoryMock) ListChats(ctx context.Context, userID string) ([]models.Chat, error) {
	args := m.Called(ctx, userID)
	var list []models.Chat
	if val := args.Get(0); val != nil {
		list = val.([]models.Chat)
	}
	return list, args.Error(1)
}

func (m *ChatRepositoryMock) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	args := m.Called(ctx, chatID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *ChatRepositoryMock) RenameGroup(ctx context.Context, chatID, name string) (models.Chat, error) {
	args := m.Called(ctx, chatID, name)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *ChatRepositoryMock) AddParticipant(ctx context.Context, chatID, userID string) (models.Chat, error) {
	args := m.Called(ctx, chatID, userID)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *ChatRepositoryMock) RemoveParticipant(ctx context.Context, chatID, userID string) (models.Chat, error) {
	args := m.Called(ctx, chatID, userID)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *ChatRepositoryMock) IncrementUnread(ctx context.Context, chatID, senderID string) error {
	args := m.Called(ctx, chatID, senderID)
	return args.Error(0)
}

func (m *ChatRepositoryMock) ResetUnread(ctx context.Context, chatID, userID string) error {
	args := m.Called(ctx, chatID, userID)
	return args.Error(0)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, chatID, senderID, content string, attachments []models.Attachment) (models.Message, error) {
	args := m.Called(ctx, chatID, senderID, content, attachments)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListChatMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	args := m.Called(ctx, chatID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

type UserRepositoryMock struct {
	mock.Mock
}

func (m *UserRepositoryMock) GetUser(ctx context.Context, userID string) (identity.Profile, error) {
	args := m.Called(ctx, userID)
	var p identity.Profile
	if val := args.Get(0); val != nil {
		p = val.(identity.Profile)
	}
	return p, args.Error(1)
}

func (m *UserRepositoryMock) BulkUsers(ctx context.Context, ids []string) ([]identity.Profile, error) {
	args := m.Called(ctx, ids)
	var profiles []identity.Profile
	if val := args.Get(0); val != nil {
		profiles = val.([]identity.Profile)
	}
	return profiles, args.Error(1)
}

func (m *UserRepositoryMock) ListHospitalStaff(ctx context.Context, hospitalID string) ([]identity.Profile, error) {
	args := m.Called(ctx, hospitalID)
	var profiles []identity.Profile
	if val := args.Get(0); val != nil {
		profiles = val.([]identity.Profile)
	}
	return profiles, args.Error(1)
}

var _ repositories.ChatRepository = (*ChatRepositoryMock)(nil)
var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ repositories.UserRepository = (*UserRepositoryMock)(nil)
