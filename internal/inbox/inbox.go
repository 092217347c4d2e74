// Package inbox holds the client-local copy of a user's notification list
// and its derived unread counter. Event application is idempotent by id, so
// duplicate or out-of-order deliveries from the stream never skew the count.
package inbox

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opsdeskhq/opsdesk/internal/model"
)

// Inbox is an insertion-ordered, most-recent-first notification collection.
// The session's reconciliation loop is the only writer, but reads may come
// from other goroutines, so access is guarded.
type Inbox struct {
	mu     sync.Mutex
	items  []model.Notification
	index  map[uuid.UUID]int
	unread int
}

// New creates an empty inbox.
func New() *Inbox {
	return &Inbox{index: make(map[uuid.UUID]int)}
}

// ApplyInsert prepends a notification if its id is not already present and
// reports whether this was a genuine first insertion. Duplicate deliveries
// are no-ops, which is also the dedup boundary for delivery side effects.
func (b *Inbox) ApplyInsert(n model.Notification) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.index[n.ID]; ok {
		return false
	}

	b.items = append([]model.Notification{n}, b.items...)
	b.reindex()

	if !n.Read {
		b.unread++
	}

	return true
}

// ApplyUpdate replaces the stored record matching the incoming id. Updates
// to unknown ids are ignored, not inserted. The unread counter follows the
// read flag in both directions and never goes negative.
func (b *Inbox) ApplyUpdate(n model.Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()

	i, ok := b.index[n.ID]
	if !ok {
		return
	}

	prev := b.items[i]
	b.items[i] = n

	switch {
	case !prev.Read && n.Read:
		b.unread--
	case prev.Read && !n.Read:
		b.unread++
	}

	b.clamp()
}

// ApplyDelete removes a notification by id, adjusting the unread counter if
// the removed item was unread. Unknown ids are ignored.
func (b *Inbox) ApplyDelete(id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	i, ok := b.index[id]
	if !ok {
		return
	}

	if !b.items[i].Read {
		b.unread--
	}

	b.items = append(b.items[:i], b.items[i+1:]...)
	b.reindex()
	b.clamp()
}

// MarkRead optimistically flips a notification to read and reports whether
// anything changed. A later update event for the same id re-applies the
// same state without a second decrement.
func (b *Inbox) MarkRead(id uuid.UUID, at time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	i, ok := b.index[id]
	if !ok || b.items[i].Read {
		return false
	}

	b.items[i].Read = true
	b.items[i].ReadAt = &at
	b.unread--
	b.clamp()

	return true
}

// MarkAllRead flips every unread notification and returns how many changed.
func (b *Inbox) MarkAllRead(at time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	changed := 0
	for i := range b.items {
		if !b.items[i].Read {
			b.items[i].Read = true
			b.items[i].ReadAt = &at
			changed++
		}
	}

	b.unread = 0

	return changed
}

// Replace swaps the whole collection for an authoritative server snapshot
// and recomputes the unread counter from scratch.
func (b *Inbox) Replace(items []model.Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items = append([]model.Notification(nil), items...)
	b.reindex()

	b.unread = 0
	for i := range b.items {
		if !b.items[i].Read {
			b.unread++
		}
	}
}

// UnreadCount returns the derived unread counter.
func (b *Inbox) UnreadCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.unread
}

// Len returns the number of notifications held.
func (b *Inbox) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.items)
}

// Snapshot returns a copy of the collection, newest first.
func (b *Inbox) Snapshot() []model.Notification {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]model.Notification(nil), b.items...)
}

func (b *Inbox) reindex() {
	b.index = make(map[uuid.UUID]int, len(b.items))
	for i := range b.items {
		b.index[b.items[i].ID] = i
	}
}

func (b *Inbox) clamp() {
	if b.unread < 0 {
		b.unread = 0
	}
}
