package depmanager

import (
	"sync"

	"synapse/internal/event"
)

// Channel is synapse's CommunicationChannel: it broadcasts an event to
// every joined DM except the sender, guarded by a read-write lock so
// membership changes are exclusive while broadcast itself is shared
// (spec.md §4.7). There is no reply channel; callers correlate responses
// by event id.
type Channel struct {
	mu      sync.RWMutex
	members map[*Manager]struct{}
}

// NewChannel constructs an empty channel.
func NewChannel() *Channel {
	return &Channel{members: make(map[*Manager]struct{})}
}

// Join registers m as a broadcast target. Safe to call from any
// goroutine; membership changes take the exclusive lock.
func (c *Channel) Join(m *Manager) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.members[m] = struct{}{}
}

// Leave deregisters m.
func (c *Channel) Leave(m *Manager) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.members, m)
}

// Broadcast delivers e to every member except sender by pushing directly
// onto each target's queue (spec.md §4.7 "thread-safe push").
func (c *Channel) Broadcast(sender *Manager, e event.Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for m := range c.members {
		if m == sender {
			continue
		}
		m.deliver(e)
	}
}
