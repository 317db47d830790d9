package store

import (
	"context"
	"strings"
	"time"

	"github.com/stagekit/stagehand/internal/stage"
	"github.com/stagekit/stagehand/internal/types"
)

// CreateParams describes a new work item. Pipeline defaults to the
// built-in default pipeline; the item always enters at the pipeline's
// entry stage.
type CreateParams struct {
	Title       string
	Description string
	Pipeline    string
	ProjectID   string
	DueAt       *time.Time
}

// CreateItem adds a work item optimistically and pushes the create to
// the orchestrator. The returned item carries the local ID; the
// external ID binds asynchronously when the create is acknowledged.
func (s *Store) CreateItem(p CreateParams) (types.WorkItem, error) {
	var (
		created types.WorkItem
		opErr   error
	)
	err := s.do(func() {
		title := strings.TrimSpace(p.Title)
		if title == "" {
			opErr = &types.ValidationError{Field: "title", Reason: "must not be empty"}
			return
		}
		pipeline := p.Pipeline
		if pipeline == "" {
			pipeline = stage.DefaultPipeline
		}
		entry, err := s.graph.Entry(pipeline)
		if err != nil {
			opErr = err
			return
		}
		if p.ProjectID != "" {
			if _, ok := s.projects[p.ProjectID]; !ok {
				opErr = &types.NotFoundError{Kind: "project", ID: p.ProjectID}
				return
			}
		}

		ts := now().UTC()
		item := &types.WorkItem{
			ID:          types.NewID("wi"),
			ProjectID:   p.ProjectID,
			Pipeline:    pipeline,
			Stage:       entry,
			Title:       title,
			Description: p.Description,
			DueAt:       p.DueAt,
			CreatedAt:   ts,
			UpdatedAt:   ts,
			History:     []types.StageChange{{Stage: entry, EnteredAt: ts}},
			Pending: &types.PendingMutation{
				Kind:  types.MutationCreate,
				Token: s.nextToken(),
			},
		}
		s.items[item.ID] = item
		s.dispatch(item)
		s.dirty = true
		created = item.Clone()
	})
	if err != nil {
		return types.WorkItem{}, err
	}
	return created, opErr
}

// MoveStage moves an item to target, validating the transition against
// the stage graph before any optimistic change. The move is pushed to
// the orchestrator, superseding any unsent mutation on the same item.
func (s *Store) MoveStage(id, target string) error {
	var opErr error
	err := s.do(func() {
		item, ok := s.items[id]
		if !ok {
			opErr = &types.NotFoundError{Kind: "work item", ID: id}
			return
		}
		if item.Pending != nil && item.Pending.Kind == types.MutationDelete {
			opErr = &types.NotFoundError{Kind: "work item", ID: id}
			return
		}
		okMove, err := s.graph.ValidTransition(item.Pipeline, item.Stage, target)
		if err != nil {
			opErr = err
			return
		}
		if !okMove {
			opErr = &types.ValidationError{
				Field:  "stage",
				Reason: "transition " + item.Stage + " -> " + target + " is not allowed in pipeline " + item.Pipeline,
			}
			return
		}

		s.applyStage(item, target)
		if item.Pending != nil && item.Pending.Kind == types.MutationCreate && item.ExternalID == "" {
			// The create has not been acknowledged, so the stage rides
			// along in the create payload. Same token: the logical
			// mutation is still "create this item".
			item.Pending.TargetStage = target
		} else {
			item.Pending = &types.PendingMutation{
				Kind:        types.MutationMove,
				TargetStage: target,
				Token:       s.nextToken(),
			}
		}
		s.dispatch(item)
		s.dirty = true
	})
	if err != nil {
		return err
	}
	return opErr
}

// MarkComplete marks an item complete on the orchestrator. Items that
// have never been acknowledged carry no external ID yet; for those it
// returns false without touching the gateway or local state.
func (s *Store) MarkComplete(id string) (bool, error) {
	var (
		done  bool
		opErr error
	)
	err := s.do(func() {
		item, ok := s.items[id]
		if !ok {
			opErr = &types.NotFoundError{Kind: "work item", ID: id}
			return
		}
		if item.Pending != nil && item.Pending.Kind == types.MutationDelete {
			opErr = &types.NotFoundError{Kind: "work item", ID: id}
			return
		}
		if item.ExternalID == "" {
			return
		}
		if item.Completed && item.Pending == nil {
			done = true
			return
		}

		item.Completed = true
		item.UpdatedAt = now().UTC()
		item.Pending = &types.PendingMutation{
			Kind:  types.MutationComplete,
			Token: s.nextToken(),
		}
		s.dispatch(item)
		s.dirty = true
		done = true
	})
	if err != nil {
		return false, err
	}
	return done, opErr
}

// DeleteItem removes an item. The removal is optimistic: the item
// disappears from snapshots immediately and the delete is pushed to
// the orchestrator; a rejection restores it from the last committed
// state. Deleting an item whose create was never sent is purely local.
func (s *Store) DeleteItem(id string) error {
	var opErr error
	err := s.do(func() {
		item, ok := s.items[id]
		if !ok {
			opErr = &types.NotFoundError{Kind: "work item", ID: id}
			return
		}
		if item.Pending != nil && item.Pending.Kind == types.MutationDelete {
			// Already deleting; nothing more to do.
			return
		}

		if item.ExternalID == "" {
			if _, sent := s.inflight[id]; !sent {
				// Create never left the queue: drop everything locally.
				s.removeItem(id)
				s.dirty = true
				return
			}
			// Create is in flight. Record the delete as the latest
			// intent; it is sent once the create acknowledgement binds
			// the external ID.
		}
		item.UpdatedAt = now().UTC()
		item.Pending = &types.PendingMutation{
			Kind:  types.MutationDelete,
			Token: s.nextToken(),
		}
		s.dispatch(item)
		s.dirty = true
	})
	if err != nil {
		return err
	}
	return opErr
}

// applyStage sets the item's stage and appends a history entry.
func (s *Store) applyStage(item *types.WorkItem, target string) {
	if item.Stage == target {
		return
	}
	ts := now().UTC()
	item.Stage = target
	item.UpdatedAt = ts
	item.History = append(item.History, types.StageChange{Stage: target, EnteredAt: ts})
}

// removeItem drops every trace of a local item: maps, queue slot,
// deferred events. Committed storage is untouched; callers decide
// whether a persisted record must go too.
func (s *Store) removeItem(id string) {
	item, ok := s.items[id]
	if ok && item.ExternalID != "" {
		delete(s.byExternal, item.ExternalID)
	}
	delete(s.items, id)
	delete(s.baseline, id)
	delete(s.deferred, id)
	delete(s.inflight, id)
	s.dropQueued(id)
}

// AddProject registers a project in the local registry. Projects are
// not synchronized; they are persisted immediately.
func (s *Store) AddProject(name, path, pipeline string) (types.Project, error) {
	var (
		proj  types.Project
		opErr error
	)
	err := s.do(func() {
		name = strings.TrimSpace(name)
		if name == "" {
			opErr = &types.ValidationError{Field: "name", Reason: "must not be empty"}
			return
		}
		if pipeline == "" {
			pipeline = stage.DefaultPipeline
		}
		if _, err := s.graph.Pipeline(pipeline); err != nil {
			opErr = err
			return
		}
		for _, p := range s.projects {
			if p.Name == name {
				opErr = &types.ValidationError{Field: "name", Reason: "project " + name + " already exists"}
				return
			}
		}
		p := &types.Project{
			ID:        types.NewID("proj"),
			Name:      name,
			Path:      path,
			Pipeline:  pipeline,
			CreatedAt: now().UTC(),
		}
		s.projects[p.ID] = p
		s.persistProject(p)
		s.dirty = true
		proj = *p
	})
	if err != nil {
		return types.Project{}, err
	}
	return proj, opErr
}

// RemoveProject deletes a project from the registry. Work items keep
// their project reference; they are not cascaded.
func (s *Store) RemoveProject(id string) error {
	var opErr error
	err := s.do(func() {
		if _, ok := s.projects[id]; !ok {
			opErr = &types.NotFoundError{Kind: "project", ID: id}
			return
		}
		delete(s.projects, id)
		s.deleteProjectRecord(id)
		s.dirty = true
	})
	if err != nil {
		return err
	}
	return opErr
}

// DismissNotification removes a notification before its TTL expires.
func (s *Store) DismissNotification(id string) bool {
	return s.bus.Dismiss(id)
}

// Notify posts a user-facing notification. External collaborators
// such as the health check use it to surface conditions the store
// cannot see itself.
func (s *Store) Notify(level types.NotificationLevel, message string) error {
	return s.do(func() {
		s.bus.Post(level, message)
		s.dirty = true
	})
}

// Flush blocks until the pending queue and all in-flight mutations
// have settled, or ctx expires. One-shot commands use it to leave no
// work behind before exiting.
func (s *Store) Flush(ctx context.Context) error {
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		var outstanding int
		if err := s.do(func() { outstanding = len(s.queue) + len(s.inflight) }); err != nil {
			return err
		}
		if outstanding == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
