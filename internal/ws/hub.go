package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"hospital-chat/internal/directory"
	"hospital-chat/internal/identity"
	"hospital-chat/internal/models"
	"hospital-chat/internal/observability"
	"hospital-chat/internal/presence"
	"hospital-chat/internal/session"
)

// client is one websocket connection with its identity and session state.
// The write mutex serializes frames: broadcasts and the read loop's replies
// may race on the same conn otherwise.
type client struct {
	conn *websocket.Conn
	info ConnInfo
	ctrl *session.Controller

	writeMu sync.Mutex
}

func (c *client) writeEvent(event models.ChannelEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub maintains the active websocket sessions: per-user connections for
// directed delivery and per-chat rooms for scoped broadcast. It is the sole
// writer of the presence tracker.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*client]bool // user id -> conns
	rooms    map[string]map[*client]bool // chat id -> conns
	roomOf   map[*client]string
	presence *presence.Tracker
}

// NewHub creates an empty hub.
func NewHub(tracker *presence.Tracker) *Hub {
	if tracker == nil {
		tracker = presence.NewTracker()
	}
	return &Hub{
		sessions: make(map[string]map[*client]bool),
		rooms:    make(map[string]map[*client]bool),
		roomOf:   make(map[*client]string),
		presence: tracker,
	}
}

// Presence exposes the tracker for read access.
func (h *Hub) Presence() *presence.Tracker {
	return h.presence
}

// register adds a connection. The second return value is true when this is
// the user's first live connection, i.e. the user just came online.
func (h *Hub) register(cl *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.sessions[cl.info.UserID]
	if !ok {
		conns = make(map[*client]bool)
		h.sessions[cl.info.UserID] = conns
	}
	wentOnline := len(conns) == 0
	conns[cl] = true
	if wentOnline {
		h.presence.SetOnline(cl.info.UserID, true)
		observability.SetOnlineUsers(len(h.sessions))
	}
	return wentOnline
}

// unregister drops a connection. The return value is true when the user has
// no live connections left and just went offline.
func (h *Hub) unregister(cl *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveRoomLocked(cl)
	conns, ok := h.sessions[cl.info.UserID]
	if !ok {
		return false
	}
	delete(conns, cl)
	if len(conns) > 0 {
		return false
	}
	delete(h.sessions, cl.info.UserID)
	h.presence.SetOnline(cl.info.UserID, false)
	observability.SetOnlineUsers(len(h.sessions))
	return true
}

// joinRoom moves the connection into a chat room, implicitly leaving the
// previous one. Room membership scopes typing and message broadcasts to
// active viewers.
func (h *Hub) joinRoom(chatID string, cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveRoomLocked(cl)
	room, ok := h.rooms[chatID]
	if !ok {
		room = make(map[*client]bool)
		h.rooms[chatID] = room
	}
	room[cl] = true
	h.roomOf[cl] = chatID
}

func (h *Hub) leaveRoomLocked(cl *client) {
	chatID, ok := h.roomOf[cl]
	if !ok {
		return
	}
	delete(h.roomOf, cl)
	if room, ok := h.rooms[chatID]; ok {
		delete(room, cl)
		if len(room) == 0 {
			delete(h.rooms, chatID)
		}
	}
}

// BroadcastToChat sends the event to every connection viewing the chat,
// except the optional sender.
func (h *Hub) BroadcastToChat(chatID string, event models.ChannelEvent, except *client) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.rooms[chatID]))
	for cl := range h.rooms[chatID] {
		if cl != except {
			targets = append(targets, cl)
		}
	}
	h.mu.RUnlock()
	h.deliver(targets, event)
}

// DeliverMessage routes a stored message to every participant session and to
// the chat's room, except the optional sender conn. Each recipient's session
// controller applies the message first, so open chats append and read-ack
// while background chats bump their preview and unread count.
func (h *Hub) DeliverMessage(ctx context.Context, chat models.Chat, msg models.Message, except *client) {
	ids := identity.NormalizeIDs(chat.Participants)

	h.mu.RLock()
	var targets []*client
	seen := map[*client]bool{}
	for cl := range h.rooms[msg.ChatID] {
		if cl != except && !seen[cl] {
			seen[cl] = true
			targets = append(targets, cl)
		}
	}
	for _, id := range ids {
		for cl := range h.sessions[id] {
			if cl != except && !seen[cl] {
				seen[cl] = true
				targets = append(targets, cl)
			}
		}
	}
	h.mu.RUnlock()

	for _, cl := range targets {
		if cl.ctrl == nil {
			continue
		}
		disp, err := cl.ctrl.ApplyIncoming(ctx, msg)
		if err == nil && disp == directory.DispositionUnknownChat {
			// First message of a chat this session has never seen, e.g.
			// a one-to-one chat created by its opening message. Introduce
			// the server-side chat object, then route again.
			cl.ctrl.Directory().Upsert(chat)
			_, err = cl.ctrl.ApplyIncoming(ctx, msg)
		}
		if err != nil {
			log.Printf("apply incoming message %s for %s: %v", msg.ID, cl.info.UserID, err)
		}
	}
	h.deliver(targets, models.ChannelEvent{Type: models.EventMessageReceived, ChatID: msg.ChatID, Message: &msg})
}

// BroadcastPresence fans a user-online event out to every connection.
func (h *Hub) BroadcastPresence(userID string, online bool) {
	h.mu.RLock()
	var targets []*client
	for _, conns := range h.sessions {
		for cl := range conns {
			targets = append(targets, cl)
		}
	}
	h.mu.RUnlock()
	h.deliver(targets, models.PresenceEvent(userID, online))
}

// NotifyChatUpdated pushes the full server-side chat object to all its
// participants and to removedUserID, whose session controllers also get the
// membership change applied so a user removed from their open group loses
// the active selection.
func (h *Hub) NotifyChatUpdated(chat models.Chat, removedUserID string) {
	ids := identity.NormalizeIDs(chat.Participants)
	if removedUserID != "" {
		ids = append(ids, removedUserID)
	}

	h.mu.RLock()
	var targets []*client
	seen := map[*client]bool{}
	for _, id := range ids {
		for cl := range h.sessions[id] {
			if !seen[cl] {
				seen[cl] = true
				targets = append(targets, cl)
			}
		}
	}
	h.mu.RUnlock()

	for _, cl := range targets {
		if cl.ctrl != nil {
			cl.ctrl.HandleMembershipChange(chat)
		}
	}
	h.deliver(targets, models.ChannelEvent{Type: models.EventChatUpdated, ChatID: chat.ID, Chat: &chat})
}

func (h *Hub) deliver(targets []*client, event models.ChannelEvent) {
	for _, cl := range targets {
		if err := cl.writeEvent(event); err != nil {
			log.Printf("websocket write error: %v", err)
			cl.conn.Close()
			// Evict through unregister so the offline transition fires.
			// The read loop's own unregister then finds nothing and
			// stays silent.
			if h.unregister(cl) {
				h.BroadcastPresence(cl.info.UserID, false)
			}
			h.publishWSError(cl, err)
		}
	}
}

func (h *Hub) publishWSError(cl *client, err error) {
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       "ws_error",
			"conn_id":     cl.info.ConnID,
			"duration_ms": time.Since(cl.info.ConnectedAt).Milliseconds(),
			"reason":      err.Error(),
		},
		"identity": map[string]interface{}{
			"user_id":   cl.info.UserID,
			"device_id": cl.info.DeviceID,
			"ip":        cl.info.IP,
		},
	}

	headers := observability.BuildHeaders(cl.info.RequestID, cl.info.TraceID)
	_ = observability.PublishEvent(context.Background(), "ws_events.chats",
		observability.NewWSEvent("ws_error", payload), headers)
	observability.IncWSEvent("ws_error")
}
