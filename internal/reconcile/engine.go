// Package reconcile decides how server push events merge into local
// state.
//
// The rules, in order:
//
//  1. An event at or below the item's last applied sequence is stale
//     and discarded. Deliveries are at-least-once, so repeats are
//     normal.
//  2. An event for an unknown external ID materializes a new local
//     item (another client or the orchestrator created it).
//  3. An event for an item with an in-flight mutation is deferred and
//     replayed in arrival order once the mutation settles.
//  4. When an applied event overrides optimistic local state, the
//     server wins and a warning notification is surfaced.
//  5. A rejected mutation rolls local state back to the last
//     server-confirmed version (handled by the store; this package
//     only classifies and applies events).
package reconcile

import (
	"log"
	"os"
	"time"

	"github.com/stagekit/stagehand/internal/stage"
	"github.com/stagekit/stagehand/internal/types"
)

// ConflictMessage is the warning surfaced when the server overrides
// local optimistic state.
const ConflictMessage = "conflict resolved by server"

// Decision classifies one incoming event against local state.
type Decision int

const (
	// Discard drops the event (stale sequence, or a delete for an
	// item that was never known locally).
	Discard Decision = iota

	// Materialize creates a local item for an unknown external ID.
	Materialize

	// Defer queues the event until the item's in-flight mutation
	// settles.
	Defer

	// Apply merges the event into the known local item.
	Apply
)

func (d Decision) String() string {
	switch d {
	case Discard:
		return "discard"
	case Materialize:
		return "materialize"
	case Defer:
		return "defer"
	case Apply:
		return "apply"
	default:
		return "unknown"
	}
}

// ApplyResult reports what applying an event changed.
type ApplyResult struct {
	// Changed is true when the item differs after the merge.
	Changed bool

	// Removed is true when the event deleted the item.
	Removed bool

	// Conflict is true when the server overrode optimistic local
	// state; the store surfaces ConflictMessage as a warning.
	Conflict bool
}

// Engine applies the merge rules. It is stateless apart from the
// stage graph used to sanity-check server-sent stages.
type Engine struct {
	graph  *stage.Graph
	logger *log.Logger
}

// New creates an engine. A nil logger defaults to stderr.
func New(graph *stage.Graph, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[reconcile] ", log.LstdFlags)
	}
	return &Engine{graph: graph, logger: logger}
}

// Decide classifies an event. local is nil when no item carries the
// event's external ID.
func (e *Engine) Decide(local *types.WorkItem, ev types.RemoteEvent) Decision {
	if local == nil {
		if ev.Kind == types.EventDeleted {
			// Delete of an item never seen locally: nothing to do.
			return Discard
		}
		return Materialize
	}
	if ev.Seq <= local.Seq {
		return Discard
	}
	if local.Pending != nil {
		return Defer
	}
	return Apply
}

// Materialize builds a local item from an event for an unknown
// external ID. The caller assigns no optimistic state: the item is
// born server-confirmed.
func (e *Engine) Materialize(ev types.RemoteEvent) types.WorkItem {
	now := time.Now()
	item := types.WorkItem{
		ID:         types.NewID("wi"),
		ExternalID: ev.ExternalID,
		Seq:        ev.Seq,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if ev.Item != nil {
		item.Title = ev.Item.Title
		item.Description = ev.Item.Description
		item.Pipeline = ev.Item.Pipeline
		item.Stage = ev.Item.Stage
		item.ProjectID = ev.Item.ProjectID
		item.Completed = ev.Item.Completed
		item.DueAt = ev.Item.DueAt
		if !ev.Item.UpdatedAt.IsZero() {
			item.UpdatedAt = ev.Item.UpdatedAt
		}
		item.History = []types.StageChange{{Stage: ev.Item.Stage, EnteredAt: item.UpdatedAt}}
		e.checkStage(ev.Item.Pipeline, ev.Item.Stage)
	}
	if item.Pipeline == "" {
		item.Pipeline = stage.DefaultPipeline
	}
	return item
}

// ApplyEvent merges an event into item. deferred marks events that
// waited behind an in-flight mutation; overriding local state from a
// deferred event is the conflict case the store reports.
//
// The server is authoritative: unknown stages are applied anyway and
// only logged.
func (e *Engine) ApplyEvent(item *types.WorkItem, ev types.RemoteEvent, deferred bool) ApplyResult {
	if ev.Seq <= item.Seq {
		return ApplyResult{}
	}

	if ev.Kind == types.EventDeleted {
		return ApplyResult{Changed: true, Removed: true, Conflict: deferred}
	}
	if ev.Item == nil {
		e.logger.Printf("Event %s seq %d has no item payload, ignoring", ev.ExternalID, ev.Seq)
		return ApplyResult{}
	}

	stageChanged := item.Stage != ev.Item.Stage
	if stageChanged {
		e.checkStage(itemPipeline(item, ev), ev.Item.Stage)
	}

	item.Title = ev.Item.Title
	item.Description = ev.Item.Description
	if ev.Item.Pipeline != "" {
		item.Pipeline = ev.Item.Pipeline
	}
	if ev.Item.ProjectID != "" {
		item.ProjectID = ev.Item.ProjectID
	}
	item.Completed = ev.Item.Completed
	if ev.Item.DueAt != nil {
		item.DueAt = ev.Item.DueAt
	}
	if stageChanged {
		enteredAt := ev.Item.UpdatedAt
		if enteredAt.IsZero() {
			enteredAt = time.Now()
		}
		item.Stage = ev.Item.Stage
		item.History = append(item.History, types.StageChange{Stage: ev.Item.Stage, EnteredAt: enteredAt})
	}
	item.Seq = ev.Seq
	if !ev.Item.UpdatedAt.IsZero() {
		item.UpdatedAt = ev.Item.UpdatedAt
	} else {
		item.UpdatedAt = time.Now()
	}

	return ApplyResult{
		Changed:  true,
		Conflict: deferred && stageChanged,
	}
}

func itemPipeline(item *types.WorkItem, ev types.RemoteEvent) string {
	if ev.Item != nil && ev.Item.Pipeline != "" {
		return ev.Item.Pipeline
	}
	return item.Pipeline
}

func (e *Engine) checkStage(pipeline, s string) {
	if e.graph == nil {
		return
	}
	if !e.graph.Known(pipeline, s) {
		e.logger.Printf("Server sent unknown stage %q for pipeline %q, applying anyway", s, pipeline)
	}
}
