package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stagekit/stagehand/internal/gateway"
	"github.com/stagekit/stagehand/internal/stage"
	"github.com/stagekit/stagehand/internal/transport"
	"github.com/stagekit/stagehand/internal/types"
)

// gwCall records one gateway invocation.
type gwCall struct {
	op    string
	token string
	ext   string
	stage string
	title string
}

// fakeGateway scripts responses and records calls in arrival order.
// Safe for concurrent use; the store calls it from worker goroutines.
type fakeGateway struct {
	mu       sync.Mutex
	calls    []gwCall
	seq      int64
	extIDs   map[string]string
	nextExt  string
	failWith map[string][]error
	gate     chan struct{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		extIDs:   make(map[string]string),
		failWith: make(map[string][]error),
	}
}

// failNext queues an error for the next call of op. Multiple queued
// errors pop in order; an empty queue means success.
func (g *fakeGateway) failNext(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failWith[op] = append(g.failWith[op], err)
}

// hold makes every subsequent call block until release is invoked once
// per call.
func (g *fakeGateway) hold() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gate = make(chan struct{})
}

func (g *fakeGateway) release(n int) {
	g.mu.Lock()
	gate := g.gate
	g.mu.Unlock()
	for i := 0; i < n; i++ {
		gate <- struct{}{}
	}
}

func (g *fakeGateway) wait() {
	g.mu.Lock()
	gate := g.gate
	g.mu.Unlock()
	if gate != nil {
		<-gate
	}
}

func (g *fakeGateway) popErr(op string) error {
	q := g.failWith[op]
	if len(q) == 0 {
		return nil
	}
	err := q[0]
	g.failWith[op] = q[1:]
	return err
}

func (g *fakeGateway) CreateItem(_ context.Context, token string, args gateway.CreateArgs) (gateway.CreateResult, error) {
	g.wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, gwCall{op: gateway.OpCreate, token: token, stage: args.Stage, title: args.Title})
	if err := g.popErr(gateway.OpCreate); err != nil {
		return gateway.CreateResult{}, err
	}
	if ext, ok := g.extIDs[token]; ok {
		return gateway.CreateResult{ExternalID: ext, Seq: g.seq, Stage: args.Stage}, nil
	}
	ext := g.nextExt
	if ext == "" {
		ext = fmt.Sprintf("srv-%d", len(g.extIDs)+1)
	}
	g.nextExt = ""
	g.extIDs[token] = ext
	g.seq++
	return gateway.CreateResult{ExternalID: ext, Seq: g.seq, Stage: args.Stage}, nil
}

func (g *fakeGateway) MoveStage(_ context.Context, args gateway.MoveArgs) (gateway.MoveResult, error) {
	g.wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, gwCall{op: gateway.OpMove, ext: args.ExternalID, stage: args.TargetStage})
	if err := g.popErr(gateway.OpMove); err != nil {
		return gateway.MoveResult{}, err
	}
	g.seq++
	return gateway.MoveResult{Seq: g.seq, Stage: args.TargetStage}, nil
}

func (g *fakeGateway) MarkComplete(_ context.Context, args gateway.CompleteArgs) (gateway.CompleteResult, error) {
	g.wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, gwCall{op: gateway.OpComplete, ext: args.ExternalID})
	if err := g.popErr(gateway.OpComplete); err != nil {
		return gateway.CompleteResult{}, err
	}
	g.seq++
	return gateway.CompleteResult{Seq: g.seq}, nil
}

func (g *fakeGateway) DeleteItem(_ context.Context, args gateway.DeleteArgs) (gateway.DeleteResult, error) {
	g.wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, gwCall{op: gateway.OpDelete, ext: args.ExternalID})
	if err := g.popErr(gateway.OpDelete); err != nil {
		return gateway.DeleteResult{}, err
	}
	g.seq++
	return gateway.DeleteResult{Seq: g.seq}, nil
}

func (g *fakeGateway) Health(_ context.Context) (gateway.HealthResult, error) {
	return gateway.HealthResult{Status: "ok", Version: "v1.0.0"}, nil
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func (g *fakeGateway) callsFor(op string) []gwCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []gwCall
	for _, c := range g.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

// stubTransport satisfies Transport without any network.
type stubTransport struct {
	mu      sync.Mutex
	started bool
	stopped bool
	topics  []string
}

func (tr *stubTransport) Start(_ context.Context) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.started = true
	return nil
}

func (tr *stubTransport) Stop() error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.stopped = true
	return nil
}

func (tr *stubTransport) Subscribe(topics ...string) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.topics = append(tr.topics, topics...)
	return nil
}

func (tr *stubTransport) State() types.ConnectionState {
	return types.ConnClosed
}

// newTestStore builds and starts a store against the built-in
// pipelines with a quiet logger. Cleanup stops it.
func newTestStore(t *testing.T, cfg *Config) *Store {
	t.Helper()
	graph, err := stage.NewGraph()
	if err != nil {
		t.Fatalf("NewGraph() failed: %v", err)
	}
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.Graph = graph
	cfg.Logger = log.New(io.Discard, "", 0)
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

// pushEvent feeds one server event through the transport entry point.
func pushEvent(t *testing.T, s *Store, ev types.RemoteEvent) {
	t.Helper()
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Failed to marshal event: %v", err)
	}
	s.HandleTransportMessage(transport.Message{
		Type:      transport.MessageTypeEvent,
		Timestamp: time.Now(),
		Data:      data,
	})
}

// waitUntil polls cond until it holds or the timeout expires.
func waitUntil(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timeout waiting for %s", what)
}

// itemByID fetches one item from a fresh snapshot, failing if absent.
func itemByID(t *testing.T, s *Store, id string) types.WorkItem {
	t.Helper()
	snap, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() failed: %v", err)
	}
	for _, it := range snap.Items {
		if it.ID == id {
			return it
		}
	}
	t.Fatalf("Item %s not in snapshot", id)
	return types.WorkItem{}
}

// TestStore_CreateItemOptimistic verifies that a created item is
// visible in snapshots immediately, before the server has answered.
func TestStore_CreateItemOptimistic(t *testing.T) {
	gw := newFakeGateway()
	gw.hold()
	s := newTestStore(t, &Config{Gateway: gw})
	s.HandleConnectionState(types.ConnOpen)

	item, err := s.CreateItem(CreateParams{Title: "wire the parser"})
	if err != nil {
		t.Fatalf("CreateItem() failed: %v", err)
	}
	if item.ID == "" {
		t.Fatal("Created item has no local ID")
	}
	if item.Stage != "queued" {
		t.Errorf("Expected entry stage queued, got %q", item.Stage)
	}

	got := itemByID(t, s, item.ID)
	if got.ExternalID != "" {
		t.Errorf("External ID should not be bound before the server answers, got %q", got.ExternalID)
	}
	if got.Pending == nil {
		t.Error("Optimistic item should carry a pending mutation")
	}

	gw.release(1)
	waitUntil(t, 2*time.Second, "external ID binding", func() bool {
		_, bound := s.ExternalID(item.ID)
		return bound
	})
}

// TestStore_CreateItemValidation verifies title and pipeline checks
// happen before any optimistic change.
func TestStore_CreateItemValidation(t *testing.T) {
	gw := newFakeGateway()
	s := newTestStore(t, &Config{Gateway: gw})
	s.HandleConnectionState(types.ConnOpen)

	if _, err := s.CreateItem(CreateParams{Title: "   "}); err == nil {
		t.Error("Blank title should be rejected")
	} else {
		var verr *types.ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("Expected ValidationError, got %T", err)
		}
	}

	if _, err := s.CreateItem(CreateParams{Title: "x", Pipeline: "nope"}); err == nil {
		t.Error("Unknown pipeline should be rejected")
	}

	if _, err := s.CreateItem(CreateParams{Title: "x", ProjectID: "proj-missing"}); err == nil {
		t.Error("Unknown project should be rejected")
	}

	if gw.callCount() != 0 {
		t.Errorf("Rejected creates must not reach the gateway, got %d calls", gw.callCount())
	}
	snap, _ := s.Snapshot()
	if len(snap.Items) != 0 {
		t.Errorf("Rejected creates must not leave items behind, got %d", len(snap.Items))
	}
}

// TestStore_MoveStageInvalidTransition verifies the stage graph gates
// moves before any optimistic change or gateway call.
func TestStore_MoveStageInvalidTransition(t *testing.T) {
	gw := newFakeGateway()
	s := newTestStore(t, &Config{Gateway: gw})
	s.HandleConnectionState(types.ConnOpen)

	item, err := s.CreateItem(CreateParams{Title: "jump check"})
	if err != nil {
		t.Fatalf("CreateItem() failed: %v", err)
	}
	waitUntil(t, 2*time.Second, "create ack", func() bool {
		_, bound := s.ExternalID(item.ID)
		return bound
	})

	// queued -> review skips ahead and is not a legal transition.
	err = s.MoveStage(item.ID, "review")
	var verr *types.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError for illegal transition, got %v", err)
	}
	if got := itemByID(t, s, item.ID); got.Stage != "queued" {
		t.Errorf("Stage must be untouched after rejected transition, got %q", got.Stage)
	}
	if calls := gw.callsFor(gateway.OpMove); len(calls) != 0 {
		t.Errorf("Illegal transition must not reach the gateway, got %d calls", len(calls))
	}

	if err := s.MoveStage("wi-missing", "planning"); err == nil {
		t.Error("Moving an unknown item should fail")
	}
}

// TestStore_SupersededResponseIgnored verifies that when a second move
// replaces an in-flight one, the first response's token no longer
// matches and its result is discarded.
func TestStore_SupersededResponseIgnored(t *testing.T) {
	gw := newFakeGateway()
	s := newTestStore(t, &Config{Gateway: gw})
	s.HandleConnectionState(types.ConnOpen)

	item, err := s.CreateItem(CreateParams{Title: "supersede"})
	if err != nil {
		t.Fatalf("CreateItem() failed: %v", err)
	}
	waitUntil(t, 2*time.Second, "create ack", func() bool {
		_, bound := s.ExternalID(item.ID)
		return bound
	})

	gw.hold()
	if err := s.MoveStage(item.ID, "planning"); err != nil {
		t.Fatalf("First MoveStage() failed: %v", err)
	}
	// Supersede while the first move is still in flight.
	if err := s.MoveStage(item.ID, "coding"); err != nil {
		t.Fatalf("Second MoveStage() failed: %v", err)
	}
	gw.release(1) // settle the superseded move
	gw.release(1) // settle the replacement

	waitUntil(t, 2*time.Second, "item to settle", func() bool {
		got := itemByID(t, s, item.ID)
		return got.Pending == nil
	})
	got := itemByID(t, s, item.ID)
	if got.Stage != "coding" {
		t.Errorf("Expected final stage coding, got %q", got.Stage)
	}

	moves := gw.callsFor(gateway.OpMove)
	if len(moves) != 2 {
		t.Fatalf("Expected 2 move calls, got %d", len(moves))
	}
	if moves[0].stage != "planning" || moves[1].stage != "coding" {
		t.Errorf("Expected moves planning then coding, got %q then %q", moves[0].stage, moves[1].stage)
	}
}

// TestStore_QueueOverflowFailsOldest verifies the bounded queue: the
// oldest entry is dropped, its item rolls back, and an error
// notification reports the loss.
func TestStore_QueueOverflowFailsOldest(t *testing.T) {
	gw := newFakeGateway()
	s := newTestStore(t, &Config{Gateway: gw, QueueLimit: 2})

	// Channel never opens: every mutation queues.
	first, err := s.CreateItem(CreateParams{Title: "first"})
	if err != nil {
		t.Fatalf("CreateItem() failed: %v", err)
	}
	if _, err := s.CreateItem(CreateParams{Title: "second"}); err != nil {
		t.Fatalf("CreateItem() failed: %v", err)
	}
	if _, err := s.CreateItem(CreateParams{Title: "third"}); err != nil {
		t.Fatalf("CreateItem() failed: %v", err)
	}

	snap, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() failed: %v", err)
	}
	if len(snap.Items) != 2 {
		t.Fatalf("Expected 2 items after overflow, got %d", len(snap.Items))
	}
	for _, it := range snap.Items {
		if it.ID == first.ID {
			t.Error("Oldest queued create should have been dropped")
		}
	}
	if snap.Stats.PendingQueue != 2 {
		t.Errorf("Expected pending queue of 2, got %d", snap.Stats.PendingQueue)
	}

	found := false
	for _, n := range snap.Notifications {
		if n.Level == types.LevelError {
			found = true
		}
	}
	if !found {
		t.Error("Queue overflow should post an error notification")
	}
	if gw.callCount() != 0 {
		t.Errorf("Nothing should reach the gateway while disconnected, got %d calls", gw.callCount())
	}
}

// TestStore_DeleteOptimisticHide verifies a delete hides the item at
// once and a rejection brings it back.
func TestStore_DeleteOptimisticHide(t *testing.T) {
	gw := newFakeGateway()
	s := newTestStore(t, &Config{Gateway: gw})
	s.HandleConnectionState(types.ConnOpen)

	item, err := s.CreateItem(CreateParams{Title: "doomed"})
	if err != nil {
		t.Fatalf("CreateItem() failed: %v", err)
	}
	waitUntil(t, 2*time.Second, "create ack", func() bool {
		_, bound := s.ExternalID(item.ID)
		return bound
	})

	gw.failNext(gateway.OpDelete, &types.ConflictError{ItemID: item.ID, Reason: "locked by server"})
	gw.hold()
	if err := s.DeleteItem(item.ID); err != nil {
		t.Fatalf("DeleteItem() failed: %v", err)
	}

	snap, _ := s.Snapshot()
	if len(snap.Items) != 0 {
		t.Fatalf("Deleted item should be hidden immediately, still see %d items", len(snap.Items))
	}

	gw.release(1)
	waitUntil(t, 2*time.Second, "rejected delete to restore the item", func() bool {
		snap, _ := s.Snapshot()
		return len(snap.Items) == 1
	})
	got := itemByID(t, s, item.ID)
	if got.Pending != nil {
		t.Error("Restored item should be settled")
	}

	warned := false
	for _, n := range s.Notifications() {
		if n.Level == types.LevelWarning {
			warned = true
		}
	}
	if !warned {
		t.Error("Rejected delete should surface a warning")
	}
}

// TestStore_DeleteConfirmed verifies an acknowledged delete removes
// the item for good.
func TestStore_DeleteConfirmed(t *testing.T) {
	gw := newFakeGateway()
	s := newTestStore(t, &Config{Gateway: gw})
	s.HandleConnectionState(types.ConnOpen)

	item, err := s.CreateItem(CreateParams{Title: "gone"})
	if err != nil {
		t.Fatalf("CreateItem() failed: %v", err)
	}
	waitUntil(t, 2*time.Second, "create ack", func() bool {
		_, bound := s.ExternalID(item.ID)
		return bound
	})

	if err := s.DeleteItem(item.ID); err != nil {
		t.Fatalf("DeleteItem() failed: %v", err)
	}
	waitUntil(t, 2*time.Second, "delete ack", func() bool {
		snap, _ := s.Snapshot()
		return snap.Stats.PendingQueue == 0
	})
	snap, _ := s.Snapshot()
	if len(snap.Items) != 0 {
		t.Errorf("Expected no items after confirmed delete, got %d", len(snap.Items))
	}
	if _, err := s.Item(item.ID); err == nil {
		t.Error("Item() should fail for a deleted item")
	}
}

// TestStore_UnsentDeleteIsLocal verifies deleting an item whose create
// never left the queue touches nothing remote.
func TestStore_UnsentDeleteIsLocal(t *testing.T) {
	gw := newFakeGateway()
	s := newTestStore(t, &Config{Gateway: gw})

	item, err := s.CreateItem(CreateParams{Title: "never synced"})
	if err != nil {
		t.Fatalf("CreateItem() failed: %v", err)
	}
	if err := s.DeleteItem(item.ID); err != nil {
		t.Fatalf("DeleteItem() failed: %v", err)
	}

	snap, _ := s.Snapshot()
	if len(snap.Items) != 0 {
		t.Errorf("Expected no items, got %d", len(snap.Items))
	}
	if snap.Stats.PendingQueue != 0 {
		t.Errorf("Queue should be empty after local delete, got %d", snap.Stats.PendingQueue)
	}

	s.HandleConnectionState(types.ConnOpen)
	time.Sleep(50 * time.Millisecond)
	if gw.callCount() != 0 {
		t.Errorf("Local delete must never reach the gateway, got %d calls", gw.callCount())
	}
}

// TestStore_StandaloneCommitsLocally verifies that without a gateway
// the store acts as its own authority: mutations settle at once and
// items self-bind an external ID.
func TestStore_StandaloneCommitsLocally(t *testing.T) {
	s := newTestStore(t, nil)

	item, err := s.CreateItem(CreateParams{Title: "solo"})
	if err != nil {
		t.Fatalf("CreateItem() failed: %v", err)
	}
	got := itemByID(t, s, item.ID)
	if got.Pending != nil {
		t.Error("Standalone create should settle immediately")
	}
	if got.ExternalID != item.ID {
		t.Errorf("Standalone item should self-bind its ID, got %q", got.ExternalID)
	}

	done, err := s.MarkComplete(item.ID)
	if err != nil {
		t.Fatalf("MarkComplete() failed: %v", err)
	}
	if !done {
		t.Error("Standalone MarkComplete should succeed")
	}
	if got := itemByID(t, s, item.ID); !got.Completed {
		t.Error("Item should be completed")
	}

	if err := s.MoveStage(item.ID, "planning"); err != nil {
		t.Fatalf("MoveStage() failed: %v", err)
	}
	if got := itemByID(t, s, item.ID); got.Stage != "planning" {
		t.Errorf("Expected stage planning, got %q", got.Stage)
	}
}

// TestStore_StaleEventDiscarded verifies events at or below the last
// applied sequence change nothing.
func TestStore_StaleEventDiscarded(t *testing.T) {
	gw := newFakeGateway()
	s := newTestStore(t, &Config{Gateway: gw})
	s.HandleConnectionState(types.ConnOpen)

	pushEvent(t, s, types.RemoteEvent{
		Kind: types.EventCreated, ExternalID: "srv-9", Seq: 5,
		Item: &types.RemoteItem{Title: "from server", Pipeline: "dev", Stage: "coding", UpdatedAt: time.Now()},
	})
	waitUntil(t, 2*time.Second, "event to materialize", func() bool {
		snap, _ := s.Snapshot()
		return len(snap.Items) == 1
	})

	// Replay the same seq with different content: must be dropped.
	pushEvent(t, s, types.RemoteEvent{
		Kind: types.EventUpdated, ExternalID: "srv-9", Seq: 5,
		Item: &types.RemoteItem{Title: "stale retitle", Pipeline: "dev", Stage: "review", UpdatedAt: time.Now()},
	})
	time.Sleep(50 * time.Millisecond)

	snap, _ := s.Snapshot()
	if len(snap.Items) != 1 {
		t.Fatalf("Expected 1 item, got %d", len(snap.Items))
	}
	if snap.Items[0].Title != "from server" || snap.Items[0].Stage != "coding" {
		t.Errorf("Stale event must not apply, item is %q at %q", snap.Items[0].Title, snap.Items[0].Stage)
	}
	if snap.Items[0].Seq != 5 {
		t.Errorf("Expected seq 5, got %d", snap.Items[0].Seq)
	}
}

// TestStore_EventMaterializesUnknownItem verifies an event for an
// unknown external ID creates a local item, and that a delete for an
// unknown ID is ignored.
func TestStore_EventMaterializesUnknownItem(t *testing.T) {
	gw := newFakeGateway()
	s := newTestStore(t, &Config{Gateway: gw})
	s.HandleConnectionState(types.ConnOpen)

	pushEvent(t, s, types.RemoteEvent{Kind: types.EventDeleted, ExternalID: "srv-ghost", Seq: 3})
	time.Sleep(50 * time.Millisecond)
	snap, _ := s.Snapshot()
	if len(snap.Items) != 0 {
		t.Fatalf("Delete of unknown item must not materialize, got %d items", len(snap.Items))
	}

	pushEvent(t, s, types.RemoteEvent{
		Kind: types.EventUpdated, ExternalID: "srv-41", Seq: 7,
		Item: &types.RemoteItem{Title: "teammate's card", Pipeline: "dev", Stage: "testing", UpdatedAt: time.Now()},
	})
	waitUntil(t, 2*time.Second, "materialized item", func() bool {
		snap, _ := s.Snapshot()
		return len(snap.Items) == 1
	})

	snap, _ = s.Snapshot()
	it := snap.Items[0]
	if it.ExternalID != "srv-41" || it.Seq != 7 || it.Stage != "testing" {
		t.Errorf("Materialized item wrong: ext=%q seq=%d stage=%q", it.ExternalID, it.Seq, it.Stage)
	}
	if it.Pending != nil {
		t.Error("Materialized item must be born settled")
	}
	if it.ID == "" || it.ID == it.ExternalID {
		t.Errorf("Materialized item needs its own local ID, got %q", it.ID)
	}
}

// TestStore_SubscribeReceivesSnapshots verifies subscribers get the
// current snapshot at once, further publishes on changes, and nothing
// after unsubscribing.
func TestStore_SubscribeReceivesSnapshots(t *testing.T) {
	s := newTestStore(t, nil)

	snaps := make(chan types.Snapshot, 16)
	unsubscribe, err := s.Subscribe(func(snap types.Snapshot) { snaps <- snap })
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}

	select {
	case snap := <-snaps:
		if len(snap.Items) != 0 {
			t.Errorf("Initial snapshot should be empty, got %d items", len(snap.Items))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for initial snapshot")
	}

	if _, err := s.CreateItem(CreateParams{Title: "observed"}); err != nil {
		t.Fatalf("CreateItem() failed: %v", err)
	}
	select {
	case snap := <-snaps:
		if len(snap.Items) != 1 {
			t.Errorf("Expected 1 item in published snapshot, got %d", len(snap.Items))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for change snapshot")
	}

	unsubscribe()
	for len(snaps) > 0 {
		<-snaps
	}
	if _, err := s.CreateItem(CreateParams{Title: "unseen"}); err != nil {
		t.Fatalf("CreateItem() failed: %v", err)
	}
	select {
	case <-snaps:
		t.Error("Should not receive snapshots after unsubscribe")
	case <-time.After(200 * time.Millisecond):
	}
}

// TestStore_TasksByStage verifies grouping covers every stage of the
// pipeline, including empty ones.
func TestStore_TasksByStage(t *testing.T) {
	s := newTestStore(t, nil)

	a, err := s.CreateItem(CreateParams{Title: "a"})
	if err != nil {
		t.Fatalf("CreateItem() failed: %v", err)
	}
	if _, err := s.CreateItem(CreateParams{Title: "b"}); err != nil {
		t.Fatalf("CreateItem() failed: %v", err)
	}
	if err := s.MoveStage(a.ID, "planning"); err != nil {
		t.Fatalf("MoveStage() failed: %v", err)
	}

	byStage, err := s.TasksByStage("dev")
	if err != nil {
		t.Fatalf("TasksByStage() failed: %v", err)
	}
	for _, st := range []string{"queued", "planning", "coding", "testing", "review", "done", "errored", "cancelled"} {
		if _, ok := byStage[st]; !ok {
			t.Errorf("Stage %q missing from grouping", st)
		}
	}
	if len(byStage["planning"]) != 1 || len(byStage["queued"]) != 1 {
		t.Errorf("Expected 1 item in planning and 1 in queued, got %d and %d",
			len(byStage["planning"]), len(byStage["queued"]))
	}

	if _, err := s.TasksByStage("nope"); err == nil {
		t.Error("Unknown pipeline should fail")
	}
}

// TestStore_ProjectRegistry verifies project add, list, duplicate
// rejection, and removal.
func TestStore_ProjectRegistry(t *testing.T) {
	s := newTestStore(t, nil)

	p, err := s.AddProject("api", "/src/api", "")
	if err != nil {
		t.Fatalf("AddProject() failed: %v", err)
	}
	if p.Pipeline != stage.DefaultPipeline {
		t.Errorf("Expected default pipeline, got %q", p.Pipeline)
	}
	if _, err := s.AddProject("api", "/elsewhere", ""); err == nil {
		t.Error("Duplicate project name should be rejected")
	}
	if _, err := s.AddProject("web", "/src/web", "basic"); err != nil {
		t.Fatalf("AddProject() failed: %v", err)
	}

	projects, err := s.Projects()
	if err != nil {
		t.Fatalf("Projects() failed: %v", err)
	}
	if len(projects) != 2 {
		t.Fatalf("Expected 2 projects, got %d", len(projects))
	}
	if projects[0].Name != "api" || projects[1].Name != "web" {
		t.Errorf("Projects should sort by name, got %q, %q", projects[0].Name, projects[1].Name)
	}

	if err := s.RemoveProject(p.ID); err != nil {
		t.Fatalf("RemoveProject() failed: %v", err)
	}
	if err := s.RemoveProject(p.ID); err == nil {
		t.Error("Removing a removed project should fail")
	}
}

// TestStore_TransportLifecycle verifies Start subscribes the
// configured topics and Stop shuts the channel down.
func TestStore_TransportLifecycle(t *testing.T) {
	tr := &stubTransport{}
	s := newTestStore(t, &Config{Transport: tr, Topics: []string{"items", "projects"}})

	tr.mu.Lock()
	started, topics := tr.started, append([]string(nil), tr.topics...)
	tr.mu.Unlock()
	if !started {
		t.Error("Transport should be started")
	}
	if len(topics) != 2 || topics[0] != "items" || topics[1] != "projects" {
		t.Errorf("Expected topics [items projects], got %v", topics)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	tr.mu.Lock()
	stopped := tr.stopped
	tr.mu.Unlock()
	if !stopped {
		t.Error("Transport should be stopped")
	}

	if _, err := s.Snapshot(); !errors.Is(err, ErrStopped) {
		t.Errorf("Expected ErrStopped after Stop, got %v", err)
	}
}

// TestStore_NetworkFailureKeepsOptimisticState verifies a mutation
// that keeps failing at the network level stays queued with its
// optimistic state intact.
func TestStore_NetworkFailureKeepsOptimisticState(t *testing.T) {
	gw := newFakeGateway()
	s := newTestStore(t, &Config{Gateway: gw})
	s.HandleConnectionState(types.ConnOpen)

	item, err := s.CreateItem(CreateParams{Title: "flaky"})
	if err != nil {
		t.Fatalf("CreateItem() failed: %v", err)
	}
	waitUntil(t, 2*time.Second, "create ack", func() bool {
		_, bound := s.ExternalID(item.ID)
		return bound
	})

	gw.failNext(gateway.OpMove, &types.NetworkError{Op: "move_stage", Err: errors.New("connection refused"), Retryable: true})
	if err := s.MoveStage(item.ID, "planning"); err != nil {
		t.Fatalf("MoveStage() failed: %v", err)
	}

	waitUntil(t, 2*time.Second, "move to queue for replay", func() bool {
		snap, _ := s.Snapshot()
		return snap.Stats.PendingQueue == 1
	})
	got := itemByID(t, s, item.ID)
	if got.Stage != "planning" {
		t.Errorf("Optimistic stage should survive a network failure, got %q", got.Stage)
	}
	if got.Pending == nil {
		t.Error("Item should still be pending")
	}

	// The delayed re-pump retries and the second attempt succeeds.
	waitUntil(t, 5*time.Second, "replay to settle", func() bool {
		got := itemByID(t, s, item.ID)
		return got.Pending == nil
	})
	if moves := gw.callsFor(gateway.OpMove); len(moves) != 2 {
		t.Errorf("Expected the move to be sent twice, got %d", len(moves))
	}
}
