package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"hospital-chat/internal/models"
	"hospital-chat/internal/repositories"
	"hospital-chat/internal/telemetry"
	"hospital-chat/internal/ws"
)

// ChatHandler manages chat endpoints: listing, one-to-one creation,
// message history, sending and read acknowledgement.
type ChatHandler struct {
	chatRepo    repositories.ChatRepository
	messageRepo repositories.MessageRepository
	userRepo    repositories.UserRepository
	hub         *ws.Hub
	audit       *telemetry.AuditEmitter
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(chatRepo repositories.ChatRepository, messageRepo repositories.MessageRepository, userRepo repositories.UserRepository, hub *ws.Hub, audit *telemetry.AuditEmitter) *ChatHandler {
	return &ChatHandler{
		chatRepo:    chatRepo,
		messageRepo: messageRepo,
		userRepo:    userRepo,
		hub:         hub,
		audit:       audit,
	}
}

// ListChats returns the caller's chats, most recent activity first.
func (h *ChatHandler) ListChats(c *gin.Context) {
	userID := c.GetString("userID")

	chats, err := h.chatRepo.ListChats(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chats"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

// StartChat creates or returns the existing one-to-one chat with a peer.
func (h *ChatHandler) StartChat(c *gin.Context) {
	var req struct {
		UserID string `json:"userId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString("userID")
	if userID == req.UserID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot chat with yourself"})
		return
	}

	if _, err := h.userRepo.GetUser(c.Request.Context(), req.UserID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrUserNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "peer not found"})
		return
	}

	chat, err := h.chatRepo.CreateOrGetDirect(c.Request.Context(), userID, req.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create chat"})
		return
	}

	c.JSON(http.StatusOK, chat)
}

// GetChatMessages returns the chat's message history in ascending
// timestamp order.
func (h *ChatHandler) GetChatMessages(c *gin.Context) {
	chatID := c.Param("chat_id")
	userID := c.GetString("userID")

	member, err := h.chatRepo.IsParticipant(c.Request.Context(), chatID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a chat member"})
		return
	}

	msgs, err := h.messageRepo.ListChatMessages(c.Request.Context(), chatID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostChatMessage validates, stores and broadcasts a message. Empty
// messages are rejected before anything touches the store or the channel.
func (h *ChatHandler) PostChatMessage(c *gin.Context) {
	var req struct {
		ChatID      string              `json:"chatId" binding:"required"`
		Content     string              `json:"content"`
		Attachments []models.Attachment `json:"attachments"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := models.ValidateMessagePayload(req.Content, req.Attachments); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString("userID")
	chat, err := h.chatRepo.GetChat(c.Request.Context(), req.ChatID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrChatNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "chat not found"})
		return
	}
	if !chat.HasParticipant(userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a chat member"})
		return
	}

	msg, err := h.messageRepo.CreateMessage(c.Request.Context(), req.ChatID, userID, req.Content, req.Attachments)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		return
	}
	if err := h.chatRepo.IncrementUnread(c.Request.Context(), req.ChatID, userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update unread counts"})
		return
	}

	if h.hub != nil {
		h.hub.DeliverMessage(c.Request.Context(), chat, msg, nil)
	}

	h.emitAudit(c, "INFO", "Message sent")
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// MarkChatRead resets the caller's unread count for the chat. Idempotent:
// acknowledging an already-read chat is a no-op.
func (h *ChatHandler) MarkChatRead(c *gin.Context) {
	chatID := c.Param("chat_id")
	userID := c.GetString("userID")

	member, err := h.chatRepo.IsParticipant(c.Request.Context(), chatID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a chat member"})
		return
	}

	if err := h.chatRepo.ResetUnread(c.Request.Context(), chatID, userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not mark chat read"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *ChatHandler) emitAudit(c *gin.Context, level, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), c.GetString("userID"))
}
