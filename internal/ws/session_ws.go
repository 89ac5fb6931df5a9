package ws

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"hospital-chat/internal/auth"
	"hospital-chat/internal/identity"
	"hospital-chat/internal/models"
	"hospital-chat/internal/observability"
	"hospital-chat/internal/repositories"
	"hospital-chat/internal/session"
)

// SessionHandler upgrades websocket connections and runs the per-connection
// event loop: join-chat, typing relay and live message fanout.
type SessionHandler struct {
	hub      *Hub
	chats    repositories.ChatRepository
	messages repositories.MessageRepository
	verifier *auth.TokenVerifier

	typingIdle time.Duration
}

// NewSessionHandler constructs a SessionHandler.
func NewSessionHandler(hub *Hub, chats repositories.ChatRepository, messages repositories.MessageRepository, verifier *auth.TokenVerifier) *SessionHandler {
	return &SessionHandler{hub: hub, chats: chats, messages: messages, verifier: verifier, typingIdle: defaultTypingIdle}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates the handshake, registers the session and starts the
// read loop.
func (h *SessionHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("hospital-chat/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := c.GetHeader("Authorization")
	if token == "" {
		token = c.Query("token")
		if token != "" {
			token = "Bearer " + token
		}
	}

	userID, err := h.validateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	traceID := span.SpanContext().TraceID().String()
	requestID := observability.RequestIDFromRequest(c.Request)
	cl := &client{
		conn: conn,
		info: ConnInfo{
			ConnID:      newConnID(),
			UserID:      userID,
			DeviceID:    observability.DeviceIDFromRequest(c.Request),
			IP:          observability.IPFromRequest(c.Request),
			RequestID:   requestID,
			TraceID:     traceID,
			ConnectedAt: time.Now(),
		},
		ctrl: session.NewController(userID, h.chats, h.messages, nil, nil),
	}

	if chats, err := h.chats.ListChats(ctx, userID); err == nil {
		cl.ctrl.Directory().Replace(chats)
	} else {
		log.Printf("ws: initial chat list load failed for %s: %v", userID, err)
	}

	wentOnline := h.hub.register(cl)

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	_ = observability.PublishEvent(ctx, "ws_events.chats",
		observability.NewWSEvent("ws_connect", lifecyclePayload(cl, "ws_connect", 0, "")),
		observability.BuildHeaders(requestID, traceID))

	// Local connectivity signal for the client's indicator.
	if err := cl.writeEvent(models.ChannelEvent{Type: models.EventConnected, UserID: userID}); err != nil {
		conn.Close()
		h.hub.unregister(cl)
		return
	}

	if wentOnline {
		h.hub.BroadcastPresence(userID, true)
	}

	go h.readLoop(cl)
}

func (h *SessionHandler) readLoop(cl *client) {
	guard := newTypingGuard(h.typingIdle, func(chatID string) {
		h.hub.BroadcastToChat(chatID, models.ChannelEvent{
			Type:   models.EventStopTyping,
			ChatID: chatID,
			UserID: cl.info.UserID,
		}, cl)
	})

	var closeReason string
	defer func() {
		guard.cancelAll()
		cl.ctrl.Deselect()
		wentOffline := h.hub.unregister(cl)
		cl.conn.Close()

		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")
		_ = observability.PublishEvent(context.Background(), "ws_events.chats",
			observability.NewWSEvent("ws_disconnect", lifecyclePayload(cl, "ws_disconnect", time.Since(cl.info.ConnectedAt).Milliseconds(), closeReason)),
			observability.BuildHeaders(cl.info.RequestID, cl.info.TraceID))

		if wentOffline {
			h.hub.BroadcastPresence(cl.info.UserID, false)
		}
	}()

	for {
		var event models.ChannelEvent
		if err := cl.conn.ReadJSON(&event); err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
			}
			return
		}
		h.dispatch(cl, guard, event)
	}
}

func (h *SessionHandler) dispatch(cl *client, guard *typingGuard, event models.ChannelEvent) {
	ctx := context.Background()

	switch event.Type {
	case models.EventJoinChat:
		if event.ChatID == "" {
			return
		}
		member, err := h.chats.IsParticipant(ctx, event.ChatID, cl.info.UserID)
		if err != nil || !member {
			return
		}
		h.hub.joinRoom(event.ChatID, cl)
		if _, err := cl.ctrl.SelectChat(ctx, event.ChatID); err != nil && err != session.ErrStaleSelection {
			log.Printf("ws: select chat %s failed for %s: %v", event.ChatID, cl.info.UserID, err)
		}
		observability.IncWSEvent("join_chat")

	case models.EventTyping:
		if event.ChatID == "" {
			return
		}
		guard.typing(event.ChatID)
		h.hub.BroadcastToChat(event.ChatID, models.ChannelEvent{
			Type:   models.EventTyping,
			ChatID: event.ChatID,
			UserID: cl.info.UserID,
		}, cl)
		observability.IncWSEvent("typing")

	case models.EventStopTyping:
		if event.ChatID == "" {
			return
		}
		guard.stop(event.ChatID)
		h.hub.BroadcastToChat(event.ChatID, models.ChannelEvent{
			Type:   models.EventStopTyping,
			ChatID: event.ChatID,
			UserID: cl.info.UserID,
		}, cl)
		observability.IncWSEvent("stop_typing")

	case models.EventNewMessage:
		if event.Message == nil {
			return
		}
		// A payload with an id is a relay of a message already persisted
		// over REST; without one it is a channel-native send. Either way
		// the fanout is optimistic: if it fails, the stored message still
		// shows up on the next history fetch.
		if event.Message.ID == "" {
			h.sendMessage(ctx, cl, *event.Message)
		} else {
			h.relayMessage(ctx, cl, *event.Message)
		}
		observability.IncWSEvent("new_message")

	default:
		observability.IncWSEvent("unknown")
	}
}

// sendMessage persists a channel-native send through the session controller
// and fans the stored copy out. The controller rejects empty payloads and
// non-members before anything touches the store.
func (h *SessionHandler) sendMessage(ctx context.Context, cl *client, msg models.Message) {
	if msg.ChatID == "" {
		return
	}
	if id := msg.Sender.Normalize(); id != identity.Unknown && id != cl.info.UserID {
		return
	}

	stored, chat, err := cl.ctrl.SendMessage(ctx, msg.ChatID, msg.Content, msg.Attachments)
	if err != nil {
		log.Printf("ws: send to chat %s by %s rejected: %v", msg.ChatID, cl.info.UserID, err)
		return
	}

	// Echo the canonical stored message to the sender; its controller has
	// already appended it.
	if err := cl.writeEvent(models.ChannelEvent{Type: models.EventMessageReceived, ChatID: stored.ChatID, Message: &stored}); err != nil {
		log.Printf("ws: send echo to %s failed: %v", cl.info.UserID, err)
	}
	h.hub.DeliverMessage(ctx, chat, stored, cl)
}

// relayMessage fans out a message the client already persisted over REST.
// The stored copy is the one relayed: a payload whose id is unknown, or whose
// chat or sender disagrees with the store, is dropped.
func (h *SessionHandler) relayMessage(ctx context.Context, cl *client, msg models.Message) {
	if msg.ID == "" || msg.ChatID == "" || msg.Sender.Normalize() != cl.info.UserID {
		return
	}
	stored, err := h.messages.GetMessage(ctx, msg.ID)
	if err != nil || stored.ChatID != msg.ChatID || stored.Sender.Normalize() != cl.info.UserID {
		return
	}
	chat, err := h.chats.GetChat(ctx, stored.ChatID)
	if err != nil || !chat.HasParticipant(cl.info.UserID) {
		return
	}

	h.hub.DeliverMessage(ctx, chat, stored, cl)
}

func (h *SessionHandler) validateToken(header string) (string, error) {
	parts := strings.Split(header, " ")
	if len(parts) == 2 {
		claims, err := h.verifier.Verify(parts[1])
		if err != nil {
			return "", err
		}
		return claims.UserID, nil
	}
	return "", fmt.Errorf("invalid token")
}

func lifecyclePayload(cl *client, event string, durationMS int64, reason string) map[string]interface{} {
	return map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       event,
			"conn_id":     cl.info.ConnID,
			"duration_ms": durationMS,
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   cl.info.UserID,
			"device_id": cl.info.DeviceID,
			"ip":        cl.info.IP,
		},
	}
}
