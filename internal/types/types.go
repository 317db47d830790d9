// Package types defines the shared data model for the stagehand sync
// engine: work items, projects, notifications, snapshots, and the
// error taxonomy used across packages.
package types

import "time"

// MutationKind identifies an optimistic local mutation.
type MutationKind string

const (
	MutationCreate   MutationKind = "create"
	MutationMove     MutationKind = "move"
	MutationComplete MutationKind = "complete"
	MutationDelete   MutationKind = "delete"
)

// ConnectionState describes the transport channel.
type ConnectionState string

const (
	ConnClosed       ConnectionState = "closed"
	ConnConnecting   ConnectionState = "connecting"
	ConnOpen         ConnectionState = "open"
	ConnReconnecting ConnectionState = "reconnecting"
)

// WorkItem is a unit of work moving through a pipeline.
//
// ID is the local identifier, assigned at creation and stable for the
// item's lifetime. ExternalID is the server identifier, bound when the
// create is acknowledged; it is empty for items the server has not
// seen yet.
type WorkItem struct {
	ID          string `json:"id"`
	ExternalID  string `json:"external_id,omitempty"`
	ProjectID   string `json:"project_id,omitempty"`
	Pipeline    string `json:"pipeline"`
	Stage       string `json:"stage"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`

	// Completed marks the item as done regardless of stage.
	Completed bool `json:"completed,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DueAt     *time.Time `json:"due_at,omitempty"`

	// Seq is the highest server sequence applied to this item. Zero
	// means no server state has been applied.
	Seq int64 `json:"seq,omitempty"`

	// History records every stage entry, oldest first.
	History []StageChange `json:"history,omitempty"`

	// Pending is the in-flight or queued mutation, nil when settled.
	Pending *PendingMutation `json:"pending,omitempty"`
}

// StageChange records when an item entered a stage.
type StageChange struct {
	Stage     string    `json:"stage"`
	EnteredAt time.Time `json:"entered_at"`
}

// PendingMutation tracks an optimistic change awaiting server
// acknowledgement. Token orders mutations per item; a response whose
// token no longer matches has been superseded and is ignored.
type PendingMutation struct {
	Kind        MutationKind `json:"kind"`
	TargetStage string       `json:"target_stage,omitempty"`
	Token       int64        `json:"token"`
}

// Project groups work items under a working directory.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path,omitempty"`
	Pipeline  string    `json:"pipeline,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NotificationLevel is the severity of a notification.
type NotificationLevel string

const (
	LevelInfo    NotificationLevel = "info"
	LevelWarning NotificationLevel = "warning"
	LevelError   NotificationLevel = "error"
)

// Notification is a transient user-facing message. TTL zero means the
// notification is pinned until dismissed.
type Notification struct {
	ID        string            `json:"id"`
	Level     NotificationLevel `json:"level"`
	Message   string            `json:"message"`
	CreatedAt time.Time         `json:"created_at"`
	TTL       time.Duration     `json:"ttl"`
}

// Stats summarizes engine activity for dashboards and the board view.
type Stats struct {
	ItemsByStage map[string]int `json:"items_by_stage"`
	PendingQueue int            `json:"pending_queue"`
	Reconnects   int            `json:"reconnects"`
	LastSyncAt   *time.Time     `json:"last_sync_at,omitempty"`
}

// Snapshot is an immutable view of engine state delivered to
// subscribers. Slices and maps are deep copies; mutating a snapshot
// never affects the store.
type Snapshot struct {
	Items         []WorkItem      `json:"items"`
	Projects      []Project       `json:"projects"`
	Notifications []Notification  `json:"notifications"`
	Connection    ConnectionState `json:"connection"`
	Stats         Stats           `json:"stats"`
}

// Clone returns a deep copy of the item, including history and any
// pending mutation.
func (w WorkItem) Clone() WorkItem {
	c := w
	if w.DueAt != nil {
		t := *w.DueAt
		c.DueAt = &t
	}
	if len(w.History) > 0 {
		c.History = make([]StageChange, len(w.History))
		copy(c.History, w.History)
	}
	if w.Pending != nil {
		p := *w.Pending
		c.Pending = &p
	}
	return c
}
