package ws

import (
	"sync"
	"time"
)

// defaultTypingIdle is how long a typing indicator survives without a
// follow-up before a stop-typing is emitted on the sender's behalf.
const defaultTypingIdle = 3 * time.Second

// typingGuard turns a stream of typing events into a bounded indicator:
// each typing event arms a per-chat timer, and silence past the idle window
// fires onStop. An explicit stop disarms the timer without firing.
type typingGuard struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	idle   time.Duration
	onStop func(chatID string)
}

func newTypingGuard(idle time.Duration, onStop func(string)) *typingGuard {
	if idle <= 0 {
		idle = defaultTypingIdle
	}
	return &typingGuard{
		timers: make(map[string]*time.Timer),
		idle:   idle,
		onStop: onStop,
	}
}

// typing arms or re-arms the chat's timer.
func (g *typingGuard) typing(chatID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if t, ok := g.timers[chatID]; ok {
		t.Reset(g.idle)
		return
	}
	g.timers[chatID] = time.AfterFunc(g.idle, func() {
		g.mu.Lock()
		delete(g.timers, chatID)
		g.mu.Unlock()
		g.onStop(chatID)
	})
}

// stop disarms the chat's timer after an explicit stop-typing.
func (g *typingGuard) stop(chatID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if t, ok := g.timers[chatID]; ok {
		t.Stop()
		delete(g.timers, chatID)
	}
}

// cancelAll disarms every timer, used on disconnect.
func (g *typingGuard) cancelAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for chatID, t := range g.timers {
		t.Stop()
		delete(g.timers, chatID)
	}
}
