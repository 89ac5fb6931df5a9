package presence

import "sync"

// Tracker keeps the live online/offline state per user id. It is rebuilt
// from channel lifecycle events each run; there is no persistence and no
// expiry: a user stays online until an explicit offline update arrives.
type Tracker struct {
	mu     sync.RWMutex
	online map[string]bool
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{online: make(map[string]bool)}
}

// SetOnline records the user's state.
func (t *Tracker) SetOnline(userID string, online bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if online {
		t.online[userID] = true
		return
	}
	delete(t.online, userID)
}

// IsOnline reports the user's state, false for ids never seen.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.online[userID]
}

// OnlineIDs returns the currently online user ids.
func (t *Tracker) OnlineIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.online))
	for id := range t.online {
		ids = append(ids, id)
	}
	return ids
}
