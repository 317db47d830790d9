// Package notify implements the engine's notification ring: a bounded
// list of transient messages with per-entry TTL expiry.
package notify

import (
	"log"
	"os"
	"sync"
	"time"

	"github.com/stagekit/stagehand/internal/types"
)

const (
	// DefaultTTL applies to notifications posted without an explicit
	// TTL.
	DefaultTTL = 5 * time.Second

	// DefaultCapacity is the ring size; the oldest entry is evicted
	// when a new one would exceed it.
	DefaultCapacity = 50
)

// Bus is a bounded notification ring with cancellable TTL timers.
//
// Methods are safe for concurrent use; expiry timers fire on runtime
// goroutines and take the same lock. The onChange hook runs outside
// the lock after every visible change so the store can republish
// snapshots without deadlocking.
type Bus struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	entries  []types.Notification
	timers   map[string]*time.Timer
	onChange func()
	logger   *log.Logger
}

// New returns a Bus with the given capacity and default TTL. Zero
// values fall back to the package defaults. onChange may be nil. A nil
// logger defaults to stderr.
func New(capacity int, ttl time.Duration, onChange func(), logger *log.Logger) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[notify] ", log.LstdFlags)
	}
	return &Bus{
		capacity: capacity,
		ttl:      ttl,
		timers:   make(map[string]*time.Timer),
		onChange: onChange,
		logger:   logger,
	}
}

// Post adds a notification with the default TTL and returns its ID.
func (b *Bus) Post(level types.NotificationLevel, message string) string {
	return b.PostTTL(level, message, b.ttl)
}

// Pin adds a notification that never expires on its own.
func (b *Bus) Pin(level types.NotificationLevel, message string) string {
	return b.PostTTL(level, message, 0)
}

// PostTTL adds a notification with an explicit TTL. A zero TTL pins
// the notification until dismissed; a negative TTL falls back to the
// default.
func (b *Bus) PostTTL(level types.NotificationLevel, message string, ttl time.Duration) string {
	if ttl < 0 {
		ttl = b.ttl
	}
	n := types.Notification{
		ID:        types.NewID("ntf"),
		Level:     level,
		Message:   message,
		CreatedAt: time.Now(),
		TTL:       ttl,
	}

	b.mu.Lock()
	if len(b.entries) >= b.capacity {
		evicted := b.entries[0]
		b.entries = b.entries[1:]
		b.stopTimerLocked(evicted.ID)
	}
	b.entries = append(b.entries, n)
	if ttl > 0 {
		id := n.ID
		b.timers[id] = time.AfterFunc(ttl, func() { b.expire(id) })
	}
	b.mu.Unlock()

	b.changed()
	return n.ID
}

// Dismiss removes a notification and cancels its expiry timer. It
// reports whether the notification was present.
func (b *Bus) Dismiss(id string) bool {
	b.mu.Lock()
	removed := b.removeLocked(id)
	b.mu.Unlock()

	if removed {
		b.changed()
	}
	return removed
}

// List returns a copy of the current notifications, oldest first.
func (b *Bus) List() []types.Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.Notification, len(b.entries))
	copy(out, b.entries)
	return out
}

// Len returns the number of live notifications.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Stop cancels all expiry timers and clears the ring. The bus remains
// usable; Stop exists so engine shutdown does not leave timers firing
// into a stopped store.
func (b *Bus) Stop() {
	b.mu.Lock()
	for id, t := range b.timers {
		t.Stop()
		delete(b.timers, id)
	}
	b.entries = nil
	b.mu.Unlock()
}

func (b *Bus) expire(id string) {
	b.mu.Lock()
	removed := b.removeLocked(id)
	b.mu.Unlock()

	if removed {
		b.changed()
	}
}

func (b *Bus) removeLocked(id string) bool {
	b.stopTimerLocked(id)
	for i, n := range b.entries {
		if n.ID == id {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (b *Bus) stopTimerLocked(id string) {
	if t, ok := b.timers[id]; ok {
		t.Stop()
		delete(b.timers, id)
	}
}

func (b *Bus) changed() {
	if b.onChange != nil {
		b.onChange()
	}
}
