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

// GroupHandler manages group chat mutations: create, rename, add and
// remove members. The server is the authority for admin rights; the UI
// gate is advisory only.
type GroupHandler struct {
	chatRepo repositories.ChatRepository
	userRepo repositories.UserRepository
	hub      *ws.Hub
	audit    *telemetry.AuditEmitter
}

// NewGroupHandler constructs a GroupHandler.
func NewGroupHandler(chatRepo repositories.ChatRepository, userRepo repositories.UserRepository, hub *ws.Hub, audit *telemetry.AuditEmitter) *GroupHandler {
	return &GroupHandler{
		chatRepo: chatRepo,
		userRepo: userRepo,
		hub:      hub,
		audit:    audit,
	}
}

// CreateGroup handles POST /chats/group.
func (h *GroupHandler) CreateGroup(c *gin.Context) {
	userID := c.GetString("userID")

	var req struct {
		Name         string   `json:"name" binding:"required"`
		Participants []string `json:"participants" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, "ERROR", "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	users, err := h.userRepo.BulkUsers(c.Request.Context(), req.Participants)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to validate members"})
		return
	}
	if len(users) != len(dedupe(req.Participants)) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown member"})
		return
	}

	chat, err := h.chatRepo.CreateGroup(c.Request.Context(), userID, req.Name, req.Participants)
	if err != nil {
		if errors.Is(err, repositories.ErrEmptyGroup) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create group"})
		return
	}

	if h.hub != nil {
		h.hub.NotifyChatUpdated(chat, "")
	}
	h.emitAudit(c, "INFO", "Group created")
	c.JSON(http.StatusCreated, chat)
}

// RenameGroup handles PUT /chats/group/rename. Admin only.
func (h *GroupHandler) RenameGroup(c *gin.Context) {
	var req struct {
		ChatID string `json:"chatId" binding:"required"`
		Name   string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	chat, ok := h.requireAdmin(c, req.ChatID)
	if !ok {
		return
	}

	updated, err := h.chatRepo.RenameGroup(c.Request.Context(), chat.ID, req.Name)
	if err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not rename group"})
		return
	}

	if h.hub != nil {
		h.hub.NotifyChatUpdated(updated, "")
	}
	h.emitAudit(c, "INFO", "Group renamed")
	c.JSON(http.StatusOK, updated)
}

// AddMember handles PUT /chats/group/add. Admin only.
func (h *GroupHandler) AddMember(c *gin.Context) {
	var req struct {
		ChatID string `json:"chatId" binding:"required"`
		UserID string `json:"userId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	chat, ok := h.requireAdmin(c, req.ChatID)
	if !ok {
		return
	}

	if _, err := h.userRepo.GetUser(c.Request.Context(), req.UserID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrUserNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "user not found"})
		return
	}

	updated, err := h.chatRepo.AddParticipant(c.Request.Context(), chat.ID, req.UserID)
	if err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not add member"})
		return
	}

	if h.hub != nil {
		h.hub.NotifyChatUpdated(updated, "")
	}
	h.emitAudit(c, "INFO", "Group member added")
	c.JSON(http.StatusOK, updated)
}

// RemoveMember handles PUT /chats/group/remove. Admins may remove anyone;
// any member may remove themselves (leave). A user removed from the group
// they have open loses the active selection.
func (h *GroupHandler) RemoveMember(c *gin.Context) {
	var req struct {
		ChatID string `json:"chatId" binding:"required"`
		UserID string `json:"userId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
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
	if !chat.IsGroup {
		c.JSON(http.StatusBadRequest, gin.H{"error": "not a group chat"})
		return
	}

	selfRemoval := userID == req.UserID
	if !selfRemoval && !chat.IsAdmin(userID) {
		h.emitAudit(c, "ERROR", "not allowed")
		c.JSON(http.StatusForbidden, gin.H{"error": "only the group admin can remove members"})
		return
	}

	updated, err := h.chatRepo.RemoveParticipant(c.Request.Context(), chat.ID, req.UserID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotAMember) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user is not a member"})
			return
		}
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not remove member"})
		return
	}

	if h.hub != nil {
		h.hub.NotifyChatUpdated(updated, req.UserID)
	}
	h.emitAudit(c, "INFO", "Group member removed")
	c.JSON(http.StatusOK, updated)
}

// requireAdmin loads the chat and verifies the caller owns it.
func (h *GroupHandler) requireAdmin(c *gin.Context, chatID string) (chat models.Chat, ok bool) {
	userID := c.GetString("userID")
	loaded, err := h.chatRepo.GetChat(c.Request.Context(), chatID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrChatNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "chat not found"})
		return chat, false
	}
	if !loaded.IsGroup {
		c.JSON(http.StatusBadRequest, gin.H{"error": "not a group chat"})
		return chat, false
	}
	if !loaded.IsAdmin(userID) {
		h.emitAudit(c, "ERROR", "not allowed")
		c.JSON(http.StatusForbidden, gin.H{"error": "only the group admin may do this"})
		return chat, false
	}
	return loaded, true
}

func (h *GroupHandler) emitAudit(c *gin.Context, level, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), c.GetString("userID"))
}

func dedupe(ids []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
