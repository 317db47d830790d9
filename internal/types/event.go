package types

import "time"

// EventKind identifies what a push event did to an item.
type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
	EventDeleted EventKind = "deleted"
)

// RemoteEvent is a server push describing the authoritative state of
// one item. Seq orders events per item; deliveries may repeat, so
// consumers discard anything at or below the last applied sequence.
type RemoteEvent struct {
	Kind       EventKind   `json:"kind"`
	ExternalID string      `json:"external_id"`
	Seq        int64       `json:"seq"`
	Item       *RemoteItem `json:"item,omitempty"` // nil for deletes
}

// RemoteItem carries the server-side item fields inside an event.
type RemoteItem struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Pipeline    string     `json:"pipeline"`
	Stage       string     `json:"stage"`
	ProjectID   string     `json:"project_id,omitempty"`
	Completed   bool       `json:"completed,omitempty"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
