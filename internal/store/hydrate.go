package store

import (
	"encoding/json"
	"time"

	"github.com/stagekit/stagehand/internal/persist"
	"github.com/stagekit/stagehand/internal/types"
)

const metaLastSyncKey = "last_sync_at"

// hydrate loads committed state from storage into the maps. It runs
// as the first loop task, strictly before any network activity, so a
// cold start with an unreachable server still serves the last
// committed snapshot.
func (s *Store) hydrate() {
	defer func() {
		s.dirty = true
	}()
	if s.persist == nil {
		return
	}

	projects, err := s.persist.List(persist.NamespaceProjects)
	if err != nil {
		s.logger.Printf("hydrate projects: %v", err)
	}
	for key, raw := range projects {
		var p types.Project
		if err := json.Unmarshal(raw, &p); err != nil {
			s.logger.Printf("skipping corrupt project record %s: %v", key, err)
			continue
		}
		s.projects[p.ID] = &p
	}

	items, err := s.persist.List(persist.NamespaceItems)
	if err != nil {
		s.logger.Printf("hydrate items: %v", err)
	}
	for key, raw := range items {
		var it types.WorkItem
		if err := json.Unmarshal(raw, &it); err != nil {
			s.logger.Printf("skipping corrupt item record %s: %v", key, err)
			continue
		}
		// Only committed state is ever written through, but a record
		// from an older build could carry a pending marker. Committed
		// means settled.
		it.Pending = nil
		s.items[it.ID] = &it
		s.baseline[it.ID] = it.Clone()
		if it.ExternalID != "" {
			s.byExternal[it.ExternalID] = it.ID
		}
	}

	var last time.Time
	if ok, err := s.persist.Get(persist.NamespaceMeta, metaLastSyncKey, &last); err != nil {
		s.logger.Printf("hydrate meta: %v", err)
	} else if ok {
		s.lastSyncAt = &last
	}

	s.logger.Printf("Hydrated %d items, %d projects", len(s.items), len(s.projects))
}

// commit records the item as server-confirmed: the baseline used for
// rollbacks is replaced and the record is written through to storage.
func (s *Store) commit(item *types.WorkItem) {
	s.baseline[item.ID] = item.Clone()
	s.persistItem(item)
}

// persistItem writes one committed item through to storage. Failures
// are non-fatal: the key is parked and retried on the next commit.
func (s *Store) persistItem(item *types.WorkItem) {
	if s.persist == nil {
		return
	}
	s.flushPersistRetry()
	if err := s.persist.Set(persist.NamespaceItems, item.ID, item); err != nil {
		s.logger.Printf("write-through for %s failed: %v", item.ID, err)
		if len(s.persistRetry) == 0 {
			s.bus.Post(types.LevelWarning, "local storage write failed; will retry")
		}
		s.persistRetry[item.ID] = true
		return
	}
	s.persistMeta()
}

// deleteItemRecord removes one committed item from storage.
func (s *Store) deleteItemRecord(id string) {
	if s.persist == nil {
		return
	}
	delete(s.persistRetry, id)
	if err := s.persist.Delete(persist.NamespaceItems, id); err != nil {
		s.logger.Printf("failed to delete stored record %s: %v", id, err)
	}
}

// flushPersistRetry retries parked write-throughs. Items that settled
// or vanished in the meantime are written in their current committed
// form or skipped.
func (s *Store) flushPersistRetry() {
	if s.persist == nil || len(s.persistRetry) == 0 {
		return
	}
	for id := range s.persistRetry {
		base, ok := s.baseline[id]
		if !ok {
			delete(s.persistRetry, id)
			continue
		}
		if err := s.persist.Set(persist.NamespaceItems, id, &base); err != nil {
			// Still failing; keep it parked.
			continue
		}
		delete(s.persistRetry, id)
	}
}

// persistProject writes a project record. Projects are not
// synchronized, so this is their only storage path.
func (s *Store) persistProject(p *types.Project) {
	if s.persist == nil {
		return
	}
	if err := s.persist.Set(persist.NamespaceProjects, p.ID, p); err != nil {
		s.logger.Printf("failed to store project %s: %v", p.ID, err)
		s.bus.Post(types.LevelWarning, "local storage write failed for project \""+p.Name+"\"")
	}
}

// deleteProjectRecord removes a project record from storage.
func (s *Store) deleteProjectRecord(id string) {
	if s.persist == nil {
		return
	}
	if err := s.persist.Delete(persist.NamespaceProjects, id); err != nil {
		s.logger.Printf("failed to delete stored project %s: %v", id, err)
	}
}

// persistMeta records the last-sync marker alongside item writes.
func (s *Store) persistMeta() {
	if s.persist == nil || s.lastSyncAt == nil {
		return
	}
	if err := s.persist.Set(persist.NamespaceMeta, metaLastSyncKey, s.lastSyncAt); err != nil {
		s.logger.Printf("failed to store sync marker: %v", err)
	}
}
