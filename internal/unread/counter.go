package unread

import "sync"

// Counter tracks per-chat, per-user unread message counts for the live
// session. Counts only move down through an explicit read acknowledgement,
// never through passive viewing.
type Counter struct {
	mu     sync.RWMutex
	counts map[string]map[string]int
}

// NewCounter creates an empty counter.
func NewCounter() *Counter {
	return &Counter{counts: make(map[string]map[string]int)}
}

// Increment bumps the count for every recipient of a new message. The
// sender must already be excluded from recipients.
func (c *Counter) Increment(chatID string, recipients ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byUser, ok := c.counts[chatID]
	if !ok {
		byUser = make(map[string]int)
		c.counts[chatID] = byUser
	}
	for _, id := range recipients {
		byUser[id]++
	}
}

// Reset zeroes the user's count for the chat. Idempotent.
func (c *Counter) Reset(chatID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if byUser, ok := c.counts[chatID]; ok {
		delete(byUser, userID)
		if len(byUser) == 0 {
			delete(c.counts, chatID)
		}
	}
}

// Get returns the user's count for the chat, zero by default.
func (c *Counter) Get(chatID, userID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counts[chatID][userID]
}

// Snapshot copies the chat's counts for serialization.
func (c *Counter) Snapshot(chatID string) map[string]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]int, len(c.counts[chatID]))
	for id, n := range c.counts[chatID] {
		out[id] = n
	}
	return out
}
