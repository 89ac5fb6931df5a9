package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"hospital-chat/internal/presence"
	"hospital-chat/internal/repositories"
)

// DirectoryHandler serves the addressable peers directory.
type DirectoryHandler struct {
	userRepo repositories.UserRepository
	tracker  *presence.Tracker
}

// NewDirectoryHandler constructs a DirectoryHandler.
func NewDirectoryHandler(userRepo repositories.UserRepository, tracker *presence.Tracker) *DirectoryHandler {
	return &DirectoryHandler{userRepo: userRepo, tracker: tracker}
}

// ListHospitalStaff handles GET /chats/admins/hospital: the staff a caller
// can start a chat with, annotated with live presence.
func (h *DirectoryHandler) ListHospitalStaff(c *gin.Context) {
	hospitalID := c.GetString("hospitalID")

	staff, err := h.userRepo.ListHospitalStaff(c.Request.Context(), hospitalID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load staff directory"})
		return
	}

	type entry struct {
		ID        string `json:"_id"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		Role      string `json:"role"`
		AvatarURL string `json:"avatar,omitempty"`
		Online    bool   `json:"online"`
	}

	userID := c.GetString("userID")
	out := make([]entry, 0, len(staff))
	for _, p := range staff {
		if p.ID == userID {
			continue
		}
		online := false
		if h.tracker != nil {
			online = h.tracker.IsOnline(p.ID)
		}
		out = append(out, entry{
			ID:        p.ID,
			Name:      p.Name,
			Email:     p.Email,
			Role:      p.Role,
			AvatarURL: p.AvatarURL,
			Online:    online,
		})
	}

	c.JSON(http.StatusOK, gin.H{"users": out})
}
