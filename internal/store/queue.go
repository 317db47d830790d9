package store

import (
	"errors"
	"strconv"
	"time"

	"github.com/stagekit/stagehand/internal/gateway"
	"github.com/stagekit/stagehand/internal/types"
)

// retryPumpDelay is how long the store waits before re-pumping the
// queue after a gateway call failed while the channel looked open.
const retryPumpDelay = 2 * time.Second

// idempotencyKey derives the create idempotency token from the local
// item ID and the request token. Replays of the same logical create
// reuse the key, so the server never mints a second external ID.
func idempotencyKey(itemID string, token int64) string {
	return itemID + ":" + strconv.FormatInt(token, 10)
}

// dispatch routes a freshly mutated item. Online with an empty queue
// it sends straight away; during replay or while disconnected it joins
// the queue. With no gateway configured the store runs standalone and
// mutations commit locally.
func (s *Store) dispatch(item *types.WorkItem) {
	if s.gw == nil {
		s.settleLocal(item)
		return
	}
	if _, sent := s.inflight[item.ID]; sent {
		// A response is on its way; settle re-dispatches the newest
		// intent once it lands.
		return
	}
	if s.conn == types.ConnOpen && len(s.queue) == 0 {
		s.send(item)
		return
	}
	s.ensureQueued(item.ID)
	if s.conn == types.ConnOpen {
		s.pumpQueue()
	}
}

// ensureQueued makes sure the item holds exactly one slot in the
// pending queue. The slot carries no payload: mutation content is read
// from the item at send time, so a newer mutation supersedes an unsent
// one in place without losing queue position.
func (s *Store) ensureQueued(id string) {
	for _, q := range s.queue {
		if q.ItemID == id {
			return
		}
	}
	if len(s.queue) >= s.cfg.QueueLimit {
		s.failOldest()
	}
	s.queue = append(s.queue, queuedMutation{ItemID: id, EnqueuedAt: now().UTC()})
}

// dropQueued releases the item's queue slot, if any.
func (s *Store) dropQueued(id string) {
	for i, q := range s.queue {
		if q.ItemID == id {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

// failOldest evicts the head of a full queue: the item rolls back to
// its last committed state and the loss is surfaced as an error
// notification carrying a network error.
func (s *Store) failOldest() {
	if len(s.queue) == 0 {
		return
	}
	oldest := s.queue[0]
	s.queue = s.queue[1:]

	title := oldest.ItemID
	if item, ok := s.items[oldest.ItemID]; ok {
		title = item.Title
	}
	nerr := &types.NetworkError{
		Op:  "enqueue",
		Err: errors.New("pending queue is full"),
	}
	s.logger.Printf("Dropping oldest queued change (%s): %v", oldest.ItemID, nerr)
	s.rollbackItem(oldest.ItemID)
	s.bus.Post(types.LevelError, "change to \""+title+"\" dropped: "+nerr.Error())
	s.dirty = true
}

// rollbackItem restores an item to its last committed state and clears
// its pending mutation. An item that was never committed disappears
// entirely. Reports whether the item still exists afterwards.
func (s *Store) rollbackItem(id string) bool {
	base, ok := s.baseline[id]
	if !ok {
		s.removeItem(id)
		return false
	}
	restored := base.Clone()
	s.items[id] = &restored
	return true
}

// pumpQueue sends the queue head. Replay is deliberately serial: the
// next entry goes out when the previous one settles, so queued
// mutations reach the server in their original enqueue order.
func (s *Store) pumpQueue() {
	if s.gw == nil || s.conn != types.ConnOpen {
		return
	}
	for len(s.queue) > 0 {
		q := s.queue[0]
		item, ok := s.items[q.ItemID]
		if !ok || item.Pending == nil {
			s.queue = s.queue[1:]
			continue
		}
		if _, sent := s.inflight[q.ItemID]; sent {
			// Head is waiting on a response; its settle pumps again.
			return
		}
		s.send(item)
		return
	}
}

// send pushes the item's pending mutation through the gateway on a
// worker goroutine and re-enters the loop with the outcome. All item
// state is captured before the goroutine starts.
func (s *Store) send(item *types.WorkItem) {
	pend := item.Pending
	if pend == nil {
		return
	}
	s.dropQueued(item.ID)
	s.inflight[item.ID] = pend.Token

	id := item.ID
	token := pend.Token
	kind := pend.Kind
	ext := item.ExternalID

	switch kind {
	case types.MutationCreate:
		args := gateway.CreateArgs{
			Title:       item.Title,
			Description: item.Description,
			Pipeline:    item.Pipeline,
			Stage:       item.Stage,
			ProjectID:   item.ProjectID,
			DueAt:       item.DueAt,
		}
		key := idempotencyKey(id, token)
		go func() {
			res, err := s.gw.CreateItem(s.ctx, key, args)
			s.enqueue(func() {
				s.settle(id, token, settleOutcome{kind: kind, ext: res.ExternalID, seq: res.Seq, stage: res.Stage, err: err})
			})
		}()
	case types.MutationMove:
		args := gateway.MoveArgs{ExternalID: ext, TargetStage: pend.TargetStage}
		go func() {
			res, err := s.gw.MoveStage(s.ctx, args)
			s.enqueue(func() {
				s.settle(id, token, settleOutcome{kind: kind, seq: res.Seq, stage: res.Stage, err: err})
			})
		}()
	case types.MutationComplete:
		args := gateway.CompleteArgs{ExternalID: ext}
		go func() {
			res, err := s.gw.MarkComplete(s.ctx, args)
			s.enqueue(func() {
				s.settle(id, token, settleOutcome{kind: kind, seq: res.Seq, stage: res.Stage, err: err})
			})
		}()
	case types.MutationDelete:
		args := gateway.DeleteArgs{ExternalID: ext}
		go func() {
			res, err := s.gw.DeleteItem(s.ctx, args)
			s.enqueue(func() {
				s.settle(id, token, settleOutcome{kind: kind, seq: res.Seq, err: err})
			})
		}()
	default:
		s.logger.Printf("unknown mutation kind %q for %s", kind, id)
		delete(s.inflight, id)
		item.Pending = nil
	}
}

// settleOutcome is what a gateway worker brings back to the loop.
type settleOutcome struct {
	kind  types.MutationKind
	ext   string
	seq   int64
	stage string
	err   error
}

// settle lands a gateway response. A response whose token no longer
// matches the item's pending mutation was superseded: its result is
// ignored and the newest intent is dispatched instead. Every settled
// response also advances the replay queue.
func (s *Store) settle(id string, token int64, out settleOutcome) {
	if cur, ok := s.inflight[id]; !ok || cur != token {
		return
	}
	delete(s.inflight, id)

	item, ok := s.items[id]
	if !ok {
		s.pumpQueue()
		return
	}
	stale := item.Pending == nil || item.Pending.Token != token

	if out.err != nil {
		var nerr *types.NetworkError
		if errors.As(out.err, &nerr) {
			if stale && item.ExternalID == "" {
				// A create with unknown fate, superseded by a delete.
				// Resolve locally: if the create did land, the
				// subscription pushes the orphan back for another try.
				s.logger.Printf("create for %s lost and item deleted locally", id)
				s.removeItem(id)
				s.dirty = true
				return
			}
			// The gateway already retried once. Keep the optimistic
			// state and park the newest intent for the next reconnect
			// (or a delayed re-pump when the channel still looks open).
			s.logger.Printf("%s for %s failed (%v); queued for replay", out.kind, id, nerr.Err)
			s.ensureQueued(id)
			if s.conn == types.ConnOpen {
				time.AfterFunc(retryPumpDelay, func() {
					s.enqueue(func() { s.pumpQueue() })
				})
			}
			return
		}
		if stale {
			if item.ExternalID == "" {
				// The create was rejected and the only mutation that
				// can supersede an unacknowledged create is a delete:
				// nothing exists on either side any more.
				s.removeItem(id)
				s.dirty = true
				s.pumpQueue()
				return
			}
			// The rejected mutation was already superseded locally;
			// let the newest intent stand or fall on its own.
			s.dispatch(item)
			return
		}
		s.rejectMutation(item, out.err)
		s.pumpQueue()
		return
	}

	if stale {
		if out.kind == types.MutationCreate && out.ext != "" && item.ExternalID == "" {
			// Even a superseded create minted a server identity; bind
			// it so the follow-up mutation can address the item.
			item.ExternalID = out.ext
			s.byExternal[out.ext] = id
			if out.seq > item.Seq {
				item.Seq = out.seq
			}
			s.dirty = true
		}
		// The server applied a mutation the user has since replaced.
		// Its result is ignored; push events carry the authoritative
		// outcome. Send the newest intent now.
		s.dispatch(item)
		return
	}

	switch out.kind {
	case types.MutationCreate:
		item.ExternalID = out.ext
		s.byExternal[out.ext] = id
		if out.stage != "" && out.stage != item.Stage {
			s.logger.Printf("server placed %s at %q instead of %q", id, out.stage, item.Stage)
			s.applyStage(item, out.stage)
		}
	case types.MutationMove, types.MutationComplete:
		if out.stage != "" && out.stage != item.Stage {
			s.applyStage(item, out.stage)
		}
	case types.MutationDelete:
		s.removeItem(id)
		s.deleteItemRecord(id)
		s.touchSync()
		s.dirty = true
		s.pumpQueue()
		return
	}

	item.Seq = out.seq
	item.Pending = nil
	s.touchSync()
	s.commit(item)
	s.replayDeferred(id)
	s.dirty = true
	s.pumpQueue()
}

// rejectMutation handles a server rejection: the item rolls back to
// its last committed state and any deferred events replay on top. The
// rejection itself is surfaced only when the replay did not already
// post a conflict warning for the same divergence.
func (s *Store) rejectMutation(item *types.WorkItem, cause error) {
	id := item.ID
	title := item.Title
	s.logger.Printf("%s rejected by server: %v", id, cause)

	survived := s.rollbackItem(id)
	var conflicts int
	if survived {
		conflicts = s.replayDeferred(id)
	}
	if conflicts == 0 {
		s.bus.Post(types.LevelWarning, "change to \""+title+"\" undone: "+cause.Error())
	}
	s.dirty = true
}

// settleLocal commits a mutation without a gateway (standalone mode).
// Items self-bind their external ID so the rest of the engine behaves
// exactly as if an orchestrator had acknowledged them.
func (s *Store) settleLocal(item *types.WorkItem) {
	if item.Pending != nil && item.Pending.Kind == types.MutationDelete {
		s.removeItem(item.ID)
		s.deleteItemRecord(item.ID)
		return
	}
	if item.ExternalID == "" {
		item.ExternalID = item.ID
		s.byExternal[item.ExternalID] = item.ID
	}
	item.Pending = nil
	s.commit(item)
}
