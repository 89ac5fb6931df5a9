package models

// Channel event types. Inbound events arrive from connected clients,
// outbound events are broadcast by the hub.
const (
	EventConnected       = "connected"
	EventJoinChat        = "join-chat"
	EventNewMessage      = "new-message"
	EventMessageReceived = "message-received"
	EventTyping          = "typing"
	EventStopTyping      = "stop-typing"
	EventUserOnline      = "user-online"
	EventChatUpdated     = "chat-updated"
)

// ChannelEvent is the envelope exchanged over the websocket channel.
type ChannelEvent struct {
	Type    string   `json:"type"`
	ChatID  string   `json:"chatId,omitempty"`
	UserID  string   `json:"userId,omitempty"`
	Online  *bool    `json:"online,omitempty"`
	Message *Message `json:"message,omitempty"`
	Chat    *Chat    `json:"chat,omitempty"`
}

// PresenceEvent builds a user-online envelope.
func PresenceEvent(userID string, online bool) ChannelEvent {
	return ChannelEvent{Type: EventUserOnline, UserID: userID, Online: &online}
}
