package notify

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stagekit/stagehand/internal/types"
)

func TestPostAndList(t *testing.T) {
	b := New(0, 0, nil, nil)
	defer b.Stop()

	id := b.Post(types.LevelInfo, "synced")
	if id == "" {
		t.Fatal("Post() returned empty ID")
	}

	list := b.List()
	if len(list) != 1 {
		t.Fatalf("List() returned %d entries, want 1", len(list))
	}
	if list[0].Message != "synced" {
		t.Errorf("message = %q, want %q", list[0].Message, "synced")
	}
	if list[0].TTL != DefaultTTL {
		t.Errorf("TTL = %v, want default %v", list[0].TTL, DefaultTTL)
	}
}

func TestTTLExpiry(t *testing.T) {
	b := New(0, 0, nil, nil)
	defer b.Stop()

	b.PostTTL(types.LevelInfo, "fleeting", 20*time.Millisecond)
	if b.Len() != 1 {
		t.Fatalf("Len() = %d before expiry, want 1", b.Len())
	}

	time.Sleep(100 * time.Millisecond)
	if b.Len() != 0 {
		t.Errorf("Len() = %d after TTL, want 0", b.Len())
	}
}

func TestPinnedNeverExpires(t *testing.T) {
	b := New(0, 0, nil, nil)
	defer b.Stop()

	b.Pin(types.LevelError, "disk full")
	time.Sleep(60 * time.Millisecond)
	if b.Len() != 1 {
		t.Errorf("pinned notification expired, Len() = %d, want 1", b.Len())
	}
}

func TestDismissCancelsTimer(t *testing.T) {
	var changes atomic.Int32
	b := New(0, 0, func() { changes.Add(1) }, nil)
	defer b.Stop()

	id := b.PostTTL(types.LevelWarning, "temp", 30*time.Millisecond)
	if !b.Dismiss(id) {
		t.Fatal("Dismiss() = false, want true")
	}
	after := changes.Load()

	// The expiry timer was cancelled, so no further change fires.
	time.Sleep(80 * time.Millisecond)
	if got := changes.Load(); got != after {
		t.Errorf("onChange fired %d more times after dismiss", got-after)
	}
	if b.Dismiss(id) {
		t.Error("second Dismiss() = true, want false")
	}
}

func TestRingEvictsOldest(t *testing.T) {
	b := New(3, 0, nil, nil)
	defer b.Stop()

	first := b.Pin(types.LevelInfo, "one")
	b.Pin(types.LevelInfo, "two")
	b.Pin(types.LevelInfo, "three")
	b.Pin(types.LevelInfo, "four")

	list := b.List()
	if len(list) != 3 {
		t.Fatalf("List() returned %d entries, want 3", len(list))
	}
	for _, n := range list {
		if n.ID == first {
			t.Error("oldest entry should have been evicted")
		}
	}
	if list[len(list)-1].Message != "four" {
		t.Errorf("newest message = %q, want %q", list[len(list)-1].Message, "four")
	}
}

func TestOnChangeFires(t *testing.T) {
	var changes atomic.Int32
	b := New(0, 0, func() { changes.Add(1) }, nil)
	defer b.Stop()

	b.Post(types.LevelInfo, "a")
	id := b.Post(types.LevelInfo, "b")
	b.Dismiss(id)

	if got := changes.Load(); got != 3 {
		t.Errorf("onChange fired %d times, want 3", got)
	}
}

func TestExpiryFiresOnChange(t *testing.T) {
	var changes atomic.Int32
	b := New(0, 0, func() { changes.Add(1) }, nil)
	defer b.Stop()

	b.PostTTL(types.LevelInfo, "gone soon", 20*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	// One change for the post, one for the expiry.
	if got := changes.Load(); got != 2 {
		t.Errorf("onChange fired %d times, want 2", got)
	}
}
