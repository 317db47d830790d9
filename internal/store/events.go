package store

import (
	"github.com/stagekit/stagehand/internal/reconcile"
	"github.com/stagekit/stagehand/internal/types"
)

// handleRemoteEvent merges one push event into local state according
// to the engine's decision. Runs on the event loop.
func (s *Store) handleRemoteEvent(ev types.RemoteEvent) {
	var item *types.WorkItem
	id, known := s.byExternal[ev.ExternalID]
	if known {
		item = s.items[id]
	}

	switch s.engine.Decide(item, ev) {
	case reconcile.Discard:
		s.logger.Printf("Discarding event for %s (seq %d)", ev.ExternalID, ev.Seq)

	case reconcile.Materialize:
		m := s.engine.Materialize(ev)
		local := &m
		s.items[local.ID] = local
		s.byExternal[ev.ExternalID] = local.ID
		s.touchSync()
		s.commit(local)
		s.dirty = true

	case reconcile.Defer:
		s.deferred[id] = append(s.deferred[id], ev)
		s.logger.Printf("Deferring event for %s (seq %d) behind in-flight mutation", ev.ExternalID, ev.Seq)

	case reconcile.Apply:
		res := s.engine.ApplyEvent(item, ev, false)
		s.touchSync()
		switch {
		case res.Removed:
			s.removeItem(id)
			s.deleteItemRecord(id)
		case res.Changed:
			s.commit(item)
		}
		if res.Changed {
			s.dirty = true
		}
	}
}

// replayDeferred applies an item's deferred events in arrival order
// once its mutation has settled. Each apply that overrides local state
// surfaces the conflict warning; the count lets the rejection path
// avoid double-reporting the same divergence.
func (s *Store) replayDeferred(id string) int {
	evs := s.deferred[id]
	if len(evs) == 0 {
		return 0
	}
	delete(s.deferred, id)

	conflicts := 0
	for i, ev := range evs {
		item, ok := s.items[id]
		if !ok {
			if rest := len(evs) - i; rest > 0 {
				s.logger.Printf("Dropping %d deferred events after deletion of %s", rest, id)
			}
			break
		}
		title := item.Title
		res := s.engine.ApplyEvent(item, ev, true)
		s.touchSync()
		switch {
		case res.Removed:
			s.removeItem(id)
			s.deleteItemRecord(id)
		case res.Changed:
			s.commit(item)
		}
		if res.Conflict {
			conflicts++
			s.bus.Post(types.LevelWarning, reconcile.ConflictMessage+": \""+title+"\"")
		}
	}
	if conflicts > 0 || len(evs) > 0 {
		s.dirty = true
	}
	return conflicts
}

// touchSync records the moment of the last successful exchange with
// the server.
func (s *Store) touchSync() {
	ts := now().UTC()
	s.lastSyncAt = &ts
}
