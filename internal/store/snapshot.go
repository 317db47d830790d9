package store

import (
	"cmp"
	"slices"
	"time"

	"github.com/stagekit/stagehand/internal/types"
)

// Snapshot returns an immutable view of current state. Safe to read
// from any goroutine; mutating the result never affects the store.
func (s *Store) Snapshot() (types.Snapshot, error) {
	var snap types.Snapshot
	err := s.do(func() { snap = s.buildSnapshot() })
	return snap, err
}

// Subscribe registers fn for every published snapshot and delivers the
// current one immediately. fn runs on the event loop: keep it quick
// and hand heavy work to another goroutine. The returned function
// unsubscribes.
func (s *Store) Subscribe(fn func(types.Snapshot)) (func(), error) {
	var id int
	err := s.do(func() {
		id = s.nextSubID
		s.nextSubID++
		s.subs[id] = fn
		fn(s.buildSnapshot())
	})
	if err != nil {
		return nil, err
	}
	return func() {
		_ = s.do(func() { delete(s.subs, id) })
	}, nil
}

// TasksByStage groups the pipeline's items by stage. Every stage of
// the pipeline appears as a key, empty or not, so a board renders all
// its columns.
func (s *Store) TasksByStage(pipeline string) (map[string][]types.WorkItem, error) {
	defs, err := s.graph.Stages(pipeline)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]types.WorkItem, len(defs))
	for _, d := range defs {
		out[d.Name] = []types.WorkItem{}
	}
	doErr := s.do(func() {
		for _, item := range s.items {
			if item.Pipeline != pipeline || s.hiddenByDelete(item) {
				continue
			}
			out[item.Stage] = append(out[item.Stage], item.Clone())
		}
	})
	if doErr != nil {
		return nil, doErr
	}
	for st := range out {
		sortItems(out[st])
	}
	return out, nil
}

// ExternalID reports the server identity bound to a local item, and
// whether one is bound yet.
func (s *Store) ExternalID(id string) (string, bool) {
	var (
		ext   string
		bound bool
	)
	_ = s.do(func() {
		if item, ok := s.items[id]; ok && item.ExternalID != "" {
			ext = item.ExternalID
			bound = true
		}
	})
	return ext, bound
}

// Item returns a copy of one work item by local ID.
func (s *Store) Item(id string) (types.WorkItem, error) {
	var (
		item  types.WorkItem
		opErr error
	)
	err := s.do(func() {
		it, ok := s.items[id]
		if !ok || s.hiddenByDelete(it) {
			opErr = &types.NotFoundError{Kind: "work item", ID: id}
			return
		}
		item = it.Clone()
	})
	if err != nil {
		return types.WorkItem{}, err
	}
	return item, opErr
}

// Projects returns the project registry sorted by name.
func (s *Store) Projects() ([]types.Project, error) {
	var out []types.Project
	err := s.do(func() {
		out = make([]types.Project, 0, len(s.projects))
		for _, p := range s.projects {
			out = append(out, *p)
		}
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b types.Project) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}

// Notifications returns the live notification list, newest last.
func (s *Store) Notifications() []types.Notification {
	return s.bus.List()
}

// ConnectionState reports the channel state as the store last saw it.
func (s *Store) ConnectionState() types.ConnectionState {
	state := types.ConnClosed
	_ = s.do(func() { state = s.conn })
	return state
}

// hiddenByDelete reports whether the item is optimistically deleted:
// still tracked for rollback, but absent from every view.
func (s *Store) hiddenByDelete(item *types.WorkItem) bool {
	return item.Pending != nil && item.Pending.Kind == types.MutationDelete
}

// buildSnapshot assembles an immutable snapshot. Loop only.
func (s *Store) buildSnapshot() types.Snapshot {
	items := make([]types.WorkItem, 0, len(s.items))
	byStage := make(map[string]int)
	for _, item := range s.items {
		if s.hiddenByDelete(item) {
			continue
		}
		items = append(items, item.Clone())
		byStage[item.Stage]++
	}
	sortItems(items)

	projects := make([]types.Project, 0, len(s.projects))
	for _, p := range s.projects {
		projects = append(projects, *p)
	}
	slices.SortFunc(projects, func(a, b types.Project) int { return cmp.Compare(a.Name, b.Name) })

	var lastSync *time.Time
	if s.lastSyncAt != nil {
		t := *s.lastSyncAt
		lastSync = &t
	}

	return types.Snapshot{
		Items:         items,
		Projects:      projects,
		Notifications: s.bus.List(),
		Connection:    s.conn,
		Stats: types.Stats{
			ItemsByStage: byStage,
			PendingQueue: len(s.queue) + len(s.inflight),
			Reconnects:   s.reconnects,
			LastSyncAt:   lastSync,
		},
	}
}

// publishIfDirty fans the current snapshot out to subscribers when a
// task changed state. Loop only; one snapshot per task however many
// changes it made.
func (s *Store) publishIfDirty() {
	if !s.dirty {
		return
	}
	s.dirty = false
	if len(s.subs) == 0 {
		return
	}
	snap := s.buildSnapshot()
	for _, fn := range s.subs {
		fn(snap)
	}
}

// sortItems orders items by creation time, then ID for stability.
func sortItems(items []types.WorkItem) {
	slices.SortFunc(items, func(a, b types.WorkItem) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
