package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"hospital-chat/internal/identity"
	"hospital-chat/internal/mocks"
	"hospital-chat/internal/models"
	"hospital-chat/internal/repositories"
)

func setupChatRouter(h *ChatHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", "u1")
		c.Set("hospitalID", "h1")
		c.Next()
	})
	r.GET("/chats", h.ListChats)
	r.POST("/chats", h.StartChat)
	r.POST("/chats/message", h.PostChatMessage)
	r.GET("/chats/:chat_id", h.GetChatMessages)
	r.PUT("/chats/:chat_id/read", h.MarkChatRead)
	return r
}

func jsonBody(t *testing.T, v interface{}) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(data)
}

func TestListChats(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	h := NewChatHandler(chatRepo, nil, nil, nil, nil)
	router := setupChatRouter(h)

	chats := []models.Chat{{ID: "c1", Participants: []identity.UserRef{identity.FromID("u1"), identity.FromID("u2")}}}
	chatRepo.On("ListChats", mock.Anything, "u1").Return(chats, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/chats", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"c1"`)
	chatRepo.AssertExpectations(t)
}

func TestListChatsRepoError(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	h := NewChatHandler(chatRepo, nil, nil, nil, nil)
	router := setupChatRouter(h)

	chatRepo.On("ListChats", mock.Anything, "u1").Return(nil, errors.New("db down"))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/chats", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestStartChatCreatesDirectChat(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	userRepo := new(mocks.UserRepositoryMock)
	h := NewChatHandler(chatRepo, nil, userRepo, nil, nil)
	router := setupChatRouter(h)

	userRepo.On("GetUser", mock.Anything, "u2").Return(identity.Profile{ID: "u2", Name: "Dr. Chen"}, nil)
	chatRepo.On("CreateOrGetDirect", mock.Anything, "u1", "u2").
		Return(models.Chat{ID: "c1", Participants: []identity.UserRef{identity.FromID("u1"), identity.FromID("u2")}}, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/chats", jsonBody(t, gin.H{"userId": "u2"}))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"c1"`)
	chatRepo.AssertExpectations(t)
	userRepo.AssertExpectations(t)
}

func TestStartChatRejectsSelf(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	h := NewChatHandler(chatRepo, nil, new(mocks.UserRepositoryMock), nil, nil)
	router := setupChatRouter(h)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/chats", jsonBody(t, gin.H{"userId": "u1"}))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	chatRepo.AssertNotCalled(t, "CreateOrGetDirect", mock.Anything, mock.Anything, mock.Anything)
}

func TestStartChatUnknownPeer(t *testing.T) {
	userRepo := new(mocks.UserRepositoryMock)
	h := NewChatHandler(new(mocks.ChatRepositoryMock), nil, userRepo, nil, nil)
	router := setupChatRouter(h)

	userRepo.On("GetUser", mock.Anything, "ghost").Return(nil, repositories.ErrUserNotFound)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/chats", jsonBody(t, gin.H{"userId": "ghost"}))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetChatMessagesRequiresMembership(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	h := NewChatHandler(chatRepo, msgRepo, nil, nil, nil)
	router := setupChatRouter(h)

	chatRepo.On("IsParticipant", mock.Anything, "c1", "u1").Return(false, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/chats/c1", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	msgRepo.AssertNotCalled(t, "ListChatMessages", mock.Anything, mock.Anything)
}

func TestGetChatMessages(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	h := NewChatHandler(chatRepo, msgRepo, nil, nil, nil)
	router := setupChatRouter(h)

	chatRepo.On("IsParticipant", mock.Anything, "c1", "u1").Return(true, nil)
	msgRepo.On("ListChatMessages", mock.Anything, "c1").
		Return([]models.Message{{ID: "m1", ChatID: "c1", Sender: identity.FromID("u2"), Content: "hi"}}, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/chats/c1", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"m1"`)
}

func TestPostChatMessageRejectsEmptyBeforeStore(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	h := NewChatHandler(chatRepo, msgRepo, nil, nil, nil)
	router := setupChatRouter(h)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/chats/message", jsonBody(t, gin.H{"chatId": "c1", "content": "   "}))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	chatRepo.AssertNotCalled(t, "GetChat", mock.Anything, mock.Anything)
	msgRepo.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPostChatMessageStoresAndReturnsMessage(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	h := NewChatHandler(chatRepo, msgRepo, nil, nil, nil)
	router := setupChatRouter(h)

	chat := models.Chat{ID: "c1", Participants: []identity.UserRef{identity.FromID("u1"), identity.FromID("u2")}}
	stored := models.Message{ID: "m1", ChatID: "c1", Sender: identity.FromID("u1"), Content: "hello"}

	chatRepo.On("GetChat", mock.Anything, "c1").Return(chat, nil)
	msgRepo.On("CreateMessage", mock.Anything, "c1", "u1", "hello", []models.Attachment(nil)).Return(stored, nil)
	chatRepo.On("IncrementUnread", mock.Anything, "c1", "u1").Return(nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/chats/message", jsonBody(t, gin.H{"chatId": "c1", "content": "hello"}))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"m1"`)
	chatRepo.AssertExpectations(t)
	msgRepo.AssertExpectations(t)
}

func TestPostChatMessageAttachmentOnly(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	h := NewChatHandler(chatRepo, msgRepo, nil, nil, nil)
	router := setupChatRouter(h)

	attachments := []models.Attachment{{Name: "scan.pdf", MimeType: "application/pdf", Size: 2048, URL: "https://files/scan.pdf"}}
	chat := models.Chat{ID: "c1", Participants: []identity.UserRef{identity.FromID("u1"), identity.FromID("u2")}}
	stored := models.Message{ID: "m1", ChatID: "c1", Sender: identity.FromID("u1"), Attachments: attachments}

	chatRepo.On("GetChat", mock.Anything, "c1").Return(chat, nil)
	msgRepo.On("CreateMessage", mock.Anything, "c1", "u1", "", attachments).Return(stored, nil)
	chatRepo.On("IncrementUnread", mock.Anything, "c1", "u1").Return(nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/chats/message", jsonBody(t, gin.H{"chatId": "c1", "attachments": attachments}))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "scan.pdf")
}

func TestPostChatMessageNonMember(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	h := NewChatHandler(chatRepo, msgRepo, nil, nil, nil)
	router := setupChatRouter(h)

	chat := models.Chat{ID: "c1", Participants: []identity.UserRef{identity.FromID("u2"), identity.FromID("u3")}}
	chatRepo.On("GetChat", mock.Anything, "c1").Return(chat, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/chats/message", jsonBody(t, gin.H{"chatId": "c1", "content": "hi"}))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	msgRepo.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestMarkChatRead(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	h := NewChatHandler(chatRepo, nil, nil, nil, nil)
	router := setupChatRouter(h)

	chatRepo.On("IsParticipant", mock.Anything, "c1", "u1").Return(true, nil)
	chatRepo.On("ResetUnread", mock.Anything, "c1", "u1").Return(nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPut, "/chats/c1/read", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok"`)
	chatRepo.AssertExpectations(t)
}

func TestMarkChatReadNonMember(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	h := NewChatHandler(chatRepo, nil, nil, nil, nil)
	router := setupChatRouter(h)

	chatRepo.On("IsParticipant", mock.Anything, "c1", "u1").Return(false, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPut, "/chats/c1/read", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	chatRepo.AssertNotCalled(t, "ResetUnread", mock.Anything, mock.Anything, mock.Anything)
}
