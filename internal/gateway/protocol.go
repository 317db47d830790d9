// Package gateway is the request/response RPC client for item
// mutations against the orchestrator.
//
// Every call is a JSON envelope POSTed to the server's /rpc endpoint.
// Calls are bounded by a per-call timeout and retried at most once,
// and only on network-level failures (the request may never have
// reached the server). Rejections are never retried.
//
// All mutation operations are idempotent on the server: create is
// keyed by the request ID (the idempotency token), and move/complete
// are "ensure at stage" calls, so the single retry cannot double-apply
// a change.
package gateway

import (
	"encoding/json"
	"time"
)

// Operation names understood by the orchestrator.
const (
	OpCreate   = "create"
	OpMove     = "move_stage"
	OpComplete = "complete"
	OpDelete   = "delete"
	OpHealth   = "health"
)

// Request is the RPC envelope sent to the server.
type Request struct {
	Operation     string          `json:"operation"`
	Args          json.RawMessage `json:"args"`
	Actor         string          `json:"actor,omitempty"`
	RequestID     string          `json:"request_id,omitempty"`
	ClientVersion string          `json:"client_version,omitempty"`
}

// Response is the RPC envelope returned by the server.
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Code    string          `json:"code,omitempty"`
}

// Rejection codes carried in Response.Code.
const (
	CodeConflict   = "conflict"
	CodeValidation = "validation"
	CodeNotFound   = "not_found"
)

// CreateArgs are the arguments for the create operation. The
// idempotency token travels as the envelope's request_id.
type CreateArgs struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Pipeline    string     `json:"pipeline"`
	Stage       string     `json:"stage"`
	ProjectID   string     `json:"project_id,omitempty"`
	DueAt       *time.Time `json:"due_at,omitempty"`
}

// CreateResult binds the server identity to a created item.
type CreateResult struct {
	ExternalID string `json:"external_id"`
	Seq        int64  `json:"seq"`
	Stage      string `json:"stage"`
}

// MoveArgs are the arguments for the move_stage operation.
type MoveArgs struct {
	ExternalID  string `json:"external_id"`
	TargetStage string `json:"target_stage"`
}

// MoveResult confirms the item's stage after the move.
type MoveResult struct {
	Seq   int64  `json:"seq"`
	Stage string `json:"stage"`
}

// CompleteArgs are the arguments for the complete operation.
type CompleteArgs struct {
	ExternalID string `json:"external_id"`
}

// CompleteResult confirms the completion.
type CompleteResult struct {
	Seq   int64  `json:"seq"`
	Stage string `json:"stage,omitempty"`
}

// DeleteArgs are the arguments for the delete operation.
type DeleteArgs struct {
	ExternalID string `json:"external_id"`
}

// DeleteResult confirms the deletion.
type DeleteResult struct {
	Seq int64 `json:"seq"`
}

// HealthResult reports server status and version.
type HealthResult struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}
