package directory

import (
	"sort"
	"sync"

	"hospital-chat/internal/models"
)

// Disposition says what a session should do with an incoming message.
type Disposition int

const (
	// DispositionUnknownChat means the message's chat is not in the
	// directory yet; the caller must introduce the chat object before
	// the message can be routed.
	DispositionUnknownChat Disposition = iota
	// DispositionAppend means the message belongs to the open chat and
	// should be appended and immediately acknowledged as read.
	DispositionAppend
	// DispositionPreview means another chat got the message: its preview
	// and unread count were bumped.
	DispositionPreview
)

// Directory is the per-session authoritative list of a user's chats, kept
// in sync with server state and live channel events.
type Directory struct {
	mu    sync.Mutex
	chats []models.Chat
}

// New creates an empty directory.
func New() *Directory {
	return &Directory{}
}

// Replace loads the full server-side chat list, e.g. after connect.
func (d *Directory) Replace(chats []models.Chat) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.chats = append([]models.Chat(nil), chats...)
}

// Upsert replaces the chat if present, else prepends it. Group mutations
// always go through here with the full server-returned object; partial
// participant diffs are never merged client-side.
func (d *Directory) Upsert(chat models.Chat) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.chats {
		if d.chats[i].ID == chat.ID {
			d.chats[i] = chat
			return
		}
	}
	d.chats = append([]models.Chat{chat}, d.chats...)
}

// Remove drops a chat, used when the user leaves a group.
func (d *Directory) Remove(chatID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.chats {
		if d.chats[i].ID == chatID {
			d.chats = append(d.chats[:i], d.chats[i+1:]...)
			return
		}
	}
}

// Get looks up a chat by id.
func (d *Directory) Get(chatID string) (models.Chat, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.chats {
		if c.ID == chatID {
			return c, true
		}
	}
	return models.Chat{}, false
}

// List returns the chats sorted by last-message recency, newest first.
// Chats without a last message sort after any chat with one.
func (d *Directory) List() []models.Chat {
	d.mu.Lock()
	out := append([]models.Chat(nil), d.chats...)
	d.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].LastMessage, out[j].LastMessage
		if a == nil {
			return false
		}
		if b == nil {
			return true
		}
		return a.Timestamp.After(b.Timestamp)
	})
	return out
}

// ApplyIncomingMessage routes a live message against the open chat. The
// open chat gets the message appended by the caller and read-acknowledged
// at once; any other chat gets its preview updated and the viewer's unread
// count bumped.
func (d *Directory) ApplyIncomingMessage(msg models.Message, activeChatID, viewerID string) Disposition {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := range d.chats {
		if d.chats[i].ID != msg.ChatID {
			continue
		}
		d.chats[i].LastMessage = msg.Preview()
		if msg.ChatID == activeChatID {
			return DispositionAppend
		}
		if msg.Sender.Normalize() != viewerID {
			if d.chats[i].UnreadCounts == nil {
				d.chats[i].UnreadCounts = map[string]int{}
			}
			d.chats[i].UnreadCounts[viewerID]++
		}
		return DispositionPreview
	}
	return DispositionUnknownChat
}
