package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/remote-agent-terminal/client/internal/db"
	"github.com/remote-agent-terminal/client/internal/model"
	"github.com/remote-agent-terminal/client/internal/platform"
	"github.com/remote-agent-terminal/client/internal/repository"
)

// queueRecorder captures queue events for later assertions.
type queueRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *queueRecorder) record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *queueRecorder) progress() []ReplayProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ReplayProgressEvent
	for _, e := range r.events {
		if pe, ok := e.(ReplayProgressEvent); ok {
			out = append(out, pe)
		}
	}
	return out
}

func (r *queueRecorder) completions() []ReplayCompleteEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ReplayCompleteEvent
	for _, e := range r.events {
		if ce, ok := e.(ReplayCompleteEvent); ok {
			out = append(out, ce)
		}
	}
	return out
}

func (r *queueRecorder) sizeChanges() []SizeChangedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []SizeChangedEvent
	for _, e := range r.events {
		if se, ok := e.(SizeChangedEvent); ok {
			out = append(out, se)
		}
	}
	return out
}

func setupTestQueue(t *testing.T) (*OfflineQueue, *queueRecorder, func()) {
	t.Helper()
	testDB, err := db.NewTestDB()
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	q := New(repository.NewQueueRepository(testDB), platform.NewFakeClock())
	rec := &queueRecorder{}
	q.Subscribe(rec.record)

	return q, rec, func() { testDB.Close() }
}

func TestEnqueueAndCounts(t *testing.T) {
	q, rec, cleanup := setupTestQueue(t)
	defer cleanup()

	ctx := context.Background()

	if err := q.EnqueueInput(ctx, "s1", "a"); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := q.EnqueueInput(ctx, "s1", "b"); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := q.EnqueueResize(ctx, "s2", 80, 24); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	if got := q.GetQueueCount(ctx, "s1"); got != 2 {
		t.Errorf("expected 2 queued for s1, got %d", got)
	}
	if got := q.GetTotalCount(ctx); got != 3 {
		t.Errorf("expected 3 queued total, got %d", got)
	}

	sizes := rec.sizeChanges()
	if len(sizes) != 3 || sizes[0].Count != 1 || sizes[1].Count != 2 || sizes[2].Count != 1 {
		t.Errorf("unexpected size-changed events: %+v", sizes)
	}

	if err := q.Enqueue(ctx, "", model.ActionKindInput, "x", 0, 0); err != model.ErrSessionNameRequired {
		t.Errorf("expected ErrSessionNameRequired, got %v", err)
	}
}

func TestGetQueuePreservesEnqueueOrder(t *testing.T) {
	q, _, cleanup := setupTestQueue(t)
	defer cleanup()

	ctx := context.Background()

	// All enqueued within the same fake-clock millisecond; the monotonic
	// timestamp bump must still keep enqueue order.
	q.EnqueueInput(ctx, "s1", "a")
	q.EnqueueInput(ctx, "s1", "b")
	q.EnqueueResize(ctx, "s1", 80, 24)

	actions := q.GetQueue(ctx, "s1")
	if len(actions) != 3 {
		t.Fatalf("expected 3 actions, got %d", len(actions))
	}
	if actions[0].Data != "a" || actions[1].Data != "b" || actions[2].Kind != model.ActionKindResize {
		t.Errorf("order not preserved: %+v", actions)
	}
	if actions[0].Timestamp >= actions[1].Timestamp || actions[1].Timestamp >= actions[2].Timestamp {
		t.Errorf("timestamps not strictly increasing: %d, %d, %d",
			actions[0].Timestamp, actions[1].Timestamp, actions[2].Timestamp)
	}
}

func TestReplayDrainsInOrder(t *testing.T) {
	q, rec, cleanup := setupTestQueue(t)
	defer cleanup()

	ctx := context.Background()

	q.EnqueueInput(ctx, "s1", "a")
	q.EnqueueInput(ctx, "s1", "b")
	q.EnqueueResize(ctx, "s1", 80, 24)

	var sent []*model.QueuedAction
	n := q.Replay(ctx, "s1", func(a *model.QueuedAction) bool {
		sent = append(sent, a)
		return true
	})

	if n != 3 {
		t.Errorf("expected 3 replayed, got %d", n)
	}
	if len(sent) != 3 || sent[0].Data != "a" || sent[1].Data != "b" ||
		sent[2].Kind != model.ActionKindResize || sent[2].Cols != 80 || sent[2].Rows != 24 {
		t.Errorf("unexpected replay order or payloads: %+v", sent)
	}
	if got := q.GetQueueCount(ctx, "s1"); got != 0 {
		t.Errorf("expected empty queue after replay, got %d", got)
	}

	progress := rec.progress()
	if len(progress) != 3 {
		t.Fatalf("expected 3 progress events, got %d", len(progress))
	}
	for i, pe := range progress {
		if pe.Current != i+1 || pe.Total != 3 {
			t.Errorf("progress %d: got current=%d total=%d", i, pe.Current, pe.Total)
		}
	}

	completions := rec.completions()
	if len(completions) != 1 || completions[0].Sent != 3 {
		t.Errorf("unexpected completion events: %+v", completions)
	}

	sizes := rec.sizeChanges()
	if last := sizes[len(sizes)-1]; last.Count != 0 {
		t.Errorf("expected final size-changed of 0, got %d", last.Count)
	}
}

func TestReplayStopsAtFirstFailure(t *testing.T) {
	q, rec, cleanup := setupTestQueue(t)
	defer cleanup()

	ctx := context.Background()

	for _, data := range []string{"a", "b", "c", "d"} {
		q.EnqueueInput(ctx, "s1", data)
	}

	// Fail exactly on the second record.
	calls := 0
	n := q.Replay(ctx, "s1", func(a *model.QueuedAction) bool {
		calls++
		return calls != 2
	})

	if n != 1 {
		t.Errorf("expected 1 replayed, got %d", n)
	}
	if calls != 2 {
		t.Errorf("replay must stop at the first failure, sink called %d times", calls)
	}

	// The failed record and everything after it stay queued, in order.
	remaining := q.GetQueue(ctx, "s1")
	if len(remaining) != 3 {
		t.Fatalf("expected 3 remaining, got %d", len(remaining))
	}
	if remaining[0].Data != "b" || remaining[1].Data != "c" || remaining[2].Data != "d" {
		t.Errorf("unexpected remaining records: %+v", remaining)
	}

	completions := rec.completions()
	if len(completions) != 1 || completions[0].Sent != 1 {
		t.Errorf("unexpected completion events: %+v", completions)
	}
	sizes := rec.sizeChanges()
	if last := sizes[len(sizes)-1]; last.Count != 3 {
		t.Errorf("expected final size-changed of 3, got %d", last.Count)
	}
}

func TestReplaySingleFlight(t *testing.T) {
	q, _, cleanup := setupTestQueue(t)
	defer cleanup()

	ctx := context.Background()
	q.EnqueueInput(ctx, "s1", "a")
	q.EnqueueInput(ctx, "s1", "b")

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan int, 1)

	go func() {
		done <- q.Replay(ctx, "s1", func(a *model.QueuedAction) bool {
			select {
			case started <- struct{}{}:
			default:
			}
			<-release
			return true
		})
	}()

	<-started
	if !q.IsReplaying() {
		t.Error("IsReplaying should report true while a replay is in flight")
	}

	// A concurrent replay returns 0 immediately and mutates nothing.
	if n := q.Replay(ctx, "s1", func(a *model.QueuedAction) bool { return true }); n != 0 {
		t.Errorf("concurrent replay should return 0, got %d", n)
	}
	if got := q.GetQueueCount(ctx, "s1"); got != 2 {
		t.Errorf("concurrent replay must not mutate the queue, count=%d", got)
	}

	close(release)
	if n := <-done; n != 2 {
		t.Errorf("expected first replay to drain 2, got %d", n)
	}
	if q.IsReplaying() {
		t.Error("IsReplaying should clear after the replay exits")
	}
}

func TestReplayEmptyQueue(t *testing.T) {
	q, rec, cleanup := setupTestQueue(t)
	defer cleanup()

	ctx := context.Background()

	n := q.Replay(ctx, "missing", func(a *model.QueuedAction) bool {
		t.Error("sink must not be called for an empty queue")
		return true
	})
	if n != 0 {
		t.Errorf("expected 0 replayed, got %d", n)
	}

	completions := rec.completions()
	if len(completions) != 1 || completions[0].Sent != 0 {
		t.Errorf("unexpected completion events: %+v", completions)
	}
}

func TestClearQueue(t *testing.T) {
	q, rec, cleanup := setupTestQueue(t)
	defer cleanup()

	ctx := context.Background()

	q.EnqueueInput(ctx, "s1", "a")
	q.EnqueueInput(ctx, "s2", "b")

	if err := q.ClearQueue(ctx, "s1"); err != nil {
		t.Fatalf("clear failed: %v", err)
	}

	if got := q.GetQueueCount(ctx, "s1"); got != 0 {
		t.Errorf("expected s1 empty after clear, got %d", got)
	}
	if got := q.GetQueueCount(ctx, "s2"); got != 1 {
		t.Errorf("clear must be scoped to the session, s2 count=%d", got)
	}

	sizes := rec.sizeChanges()
	if last := sizes[len(sizes)-1]; last.SessionName != "s1" || last.Count != 0 {
		t.Errorf("expected size-changed of 0 for s1, got %+v", last)
	}

	if err := q.ClearAll(ctx); err != nil {
		t.Fatalf("clear all failed: %v", err)
	}
	if got := q.GetTotalCount(ctx); got != 0 {
		t.Errorf("expected empty store after ClearAll, got %d", got)
	}
}

func TestQueuePersistsAcrossInstances(t *testing.T) {
	testDB, err := db.NewTestDB()
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	defer testDB.Close()

	repo := repository.NewQueueRepository(testDB)
	ctx := context.Background()

	q1 := New(repo, platform.NewFakeClock())
	q1.EnqueueInput(ctx, "s1", "survives")

	// A fresh queue over the same store sees the record, as after an app restart.
	q2 := New(repo, platform.NewFakeClock())
	actions := q2.GetQueue(ctx, "s1")
	if len(actions) != 1 || actions[0].Data != "survives" {
		t.Errorf("queued record did not survive instance swap: %+v", actions)
	}
}

func TestReplayThrottlesBetweenItems(t *testing.T) {
	testDB, err := db.NewTestDB()
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	defer testDB.Close()

	clock := platform.NewFakeClock()
	q := New(repository.NewQueueRepository(testDB), clock)
	q.SetReplayDelay(50 * time.Millisecond)

	ctx := context.Background()
	q.EnqueueInput(ctx, "s1", "a")
	q.EnqueueInput(ctx, "s1", "b")
	q.EnqueueInput(ctx, "s1", "c")

	start := clock.Now()
	n := q.Replay(ctx, "s1", func(a *model.QueuedAction) bool { return true })
	if n != 3 {
		t.Fatalf("expected 3 replayed, got %d", n)
	}

	// Two inter-item pauses for three records.
	if elapsed := clock.Now().Sub(start); elapsed != 100*time.Millisecond {
		t.Errorf("expected 100ms of throttling, got %v", elapsed)
	}
}
