package session

import (
	"context"
	"errors"
	"sync"

	"hospital-chat/internal/directory"
	"hospital-chat/internal/models"
	"hospital-chat/internal/repositories"
	"hospital-chat/internal/unread"
)

// State of the active-chat slot.
type State int

const (
	StateNone State = iota
	StateLoading
	StateReady
)

// ErrStaleSelection is returned when a history fetch resolves after the
// user has already switched to another chat. The stale result is discarded
// instead of overwriting the newer selection.
var ErrStaleSelection = errors.New("chat selection changed during fetch")

// Controller orchestrates one user's chat session: the active-chat slot,
// message history, unread acknowledgement and the chat directory. There is
// one controller per websocket connection.
type Controller struct {
	userID   string
	chats    repositories.ChatRepository
	messages repositories.MessageRepository
	counter  *unread.Counter
	dir      *directory.Directory

	mu         sync.Mutex
	state      State
	activeChat string
	history    []models.Message
}

// NewController builds a controller for the user. The unread counter and
// directory may be shared across the user's connections.
func NewController(userID string, chats repositories.ChatRepository, messages repositories.MessageRepository, counter *unread.Counter, dir *directory.Directory) *Controller {
	if counter == nil {
		counter = unread.NewCounter()
	}
	if dir == nil {
		dir = directory.New()
	}
	return &Controller{
		userID:   userID,
		chats:    chats,
		messages: messages,
		counter:  counter,
		dir:      dir,
	}
}

// UserID returns the session owner.
func (s *Controller) UserID() string {
	return s.userID
}

// Directory exposes the session's chat directory.
func (s *Controller) Directory() *directory.Directory {
	return s.dir
}

// Active returns the selected chat id and the slot state.
func (s *Controller) Active() (string, State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeChat, s.state
}

// History returns the committed message list of the active chat.
func (s *Controller) History() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Message(nil), s.history...)
}

// SelectChat makes the chat active, loads its history and acknowledges the
// user's unread count. If the selection changes while the fetch is in
// flight, the fetched result is discarded and ErrStaleSelection returned:
// the newer selection must not be overwritten by a slow older fetch.
func (s *Controller) SelectChat(ctx context.Context, chatID string) ([]models.Message, error) {
	s.mu.Lock()
	s.activeChat = chatID
	s.state = StateLoading
	s.mu.Unlock()

	msgs, err := s.messages.ListChatMessages(ctx, chatID)

	s.mu.Lock()
	if s.activeChat != chatID {
		s.mu.Unlock()
		return nil, ErrStaleSelection
	}
	if err != nil {
		s.state = StateNone
		s.activeChat = ""
		s.mu.Unlock()
		return nil, err
	}
	s.history = msgs
	s.state = StateReady
	s.mu.Unlock()

	if err := s.MarkRead(ctx, chatID); err != nil {
		return msgs, err
	}
	return msgs, nil
}

// Deselect clears the active chat.
func (s *Controller) Deselect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeChat = ""
	s.state = StateNone
	s.history = nil
}

// MarkRead acknowledges the chat as read for the session user. Idempotent.
func (s *Controller) MarkRead(ctx context.Context, chatID string) error {
	if err := s.chats.ResetUnread(ctx, chatID, s.userID); err != nil {
		return err
	}
	s.counter.Reset(chatID, s.userID)
	return nil
}

// SendMessage validates and persists a message, bumps unread counts for
// the other participants and returns the canonical stored message together
// with the chat for broadcasting. Nothing is appended or broadcast before
// the store confirms, so failed sends never leave ghost entries.
func (s *Controller) SendMessage(ctx context.Context, chatID, content string, attachments []models.Attachment) (models.Message, models.Chat, error) {
	if err := models.ValidateMessagePayload(content, attachments); err != nil {
		return models.Message{}, models.Chat{}, err
	}

	chat, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return models.Message{}, models.Chat{}, err
	}
	if !chat.HasParticipant(s.userID) {
		return models.Message{}, models.Chat{}, repositories.ErrNotAMember
	}

	msg, err := s.messages.CreateMessage(ctx, chatID, s.userID, content, attachments)
	if err != nil {
		return models.Message{}, models.Chat{}, err
	}
	if err := s.chats.IncrementUnread(ctx, chatID, s.userID); err != nil {
		return models.Message{}, models.Chat{}, err
	}

	var recipients []string
	for _, p := range chat.Participants {
		if id := p.Normalize(); id != s.userID {
			recipients = append(recipients, id)
		}
	}
	s.counter.Increment(chatID, recipients...)

	// The chat was loaded before the insert; fold the send into it so the
	// directory entry carries the new preview and recency.
	chat.LastMessage = msg.Preview()
	chat.UpdatedAt = msg.CreatedAt
	if chat.UnreadCounts == nil {
		chat.UnreadCounts = map[string]int{}
	}
	for _, id := range recipients {
		chat.UnreadCounts[id]++
	}
	s.dir.Upsert(chat)

	s.mu.Lock()
	if s.activeChat == chatID && s.state == StateReady {
		s.history = append(s.history, msg)
	}
	s.mu.Unlock()

	return msg, chat, nil
}

// ApplyIncoming routes a live message: appended and immediately read-acked
// when its chat is open, preview-and-unread bump otherwise.
func (s *Controller) ApplyIncoming(ctx context.Context, msg models.Message) (directory.Disposition, error) {
	s.mu.Lock()
	active := s.activeChat
	s.mu.Unlock()

	disp := s.dir.ApplyIncomingMessage(msg, active, s.userID)
	if disp != directory.DispositionAppend {
		if disp == directory.DispositionPreview && msg.Sender.Normalize() != s.userID {
			s.counter.Increment(msg.ChatID, s.userID)
		}
		return disp, nil
	}

	s.mu.Lock()
	if s.activeChat == msg.ChatID && s.state == StateReady {
		s.history = append(s.history, msg)
	}
	s.mu.Unlock()
	return disp, s.MarkRead(ctx, msg.ChatID)
}

// HandleMembershipChange applies a server-side group mutation. When the
// session user is no longer a participant of the open chat, the active
// selection is cleared and the chat leaves the directory.
func (s *Controller) HandleMembershipChange(chat models.Chat) {
	if chat.HasParticipant(s.userID) {
		s.dir.Upsert(chat)
		return
	}

	s.dir.Remove(chat.ID)
	s.mu.Lock()
	if s.activeChat == chat.ID {
		s.activeChat = ""
		s.state = StateNone
		s.history = nil
	}
	s.mu.Unlock()
}

// Unread exposes the session's unread counter.
func (s *Controller) Unread() *unread.Counter {
	return s.counter
}
