// Package queue implements the durable offline-action queue: an ordered,
// per-session store of pending input and resize actions that survives
// reconnects and app restarts, with ordered replay once connectivity
// resumes.
package queue

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/remote-agent-terminal/client/internal/model"
	"github.com/remote-agent-terminal/client/internal/platform"
	"github.com/remote-agent-terminal/client/internal/repository"
)

// DefaultReplayDelay is the pause between successive replayed actions, a
// deliberate throttle so a drained queue does not saturate the transport.
const DefaultReplayDelay = 100 * time.Millisecond

// SendFunc delivers one queued action during replay. It reports whether the
// action was sent; replay stops at the first failure.
type SendFunc func(action *model.QueuedAction) bool

// Event is the closed set of notifications an OfflineQueue delivers.
type Event interface {
	queueEvent()
}

// SizeChangedEvent reports a session's new queue depth after an enqueue,
// clear, or replay.
type SizeChangedEvent struct {
	SessionName string
	Count       int
}

// ReplayProgressEvent reports progress while draining a session's queue.
type ReplayProgressEvent struct {
	Current int
	Total   int
}

// ReplayCompleteEvent reports how many actions a replay delivered, whether
// it drained the queue or stopped early.
type ReplayCompleteEvent struct {
	SessionName string
	Sent        int
}

// ErrorEvent reports a persistence failure. Queue reads degrade to empty
// results instead of propagating errors to callers.
type ErrorEvent struct {
	Err error
}

func (SizeChangedEvent) queueEvent()    {}
func (ReplayProgressEvent) queueEvent() {}
func (ReplayCompleteEvent) queueEvent() {}
func (ErrorEvent) queueEvent()          {}

// OfflineQueue is the durable queue of actions captured while disconnected.
// Many sessions may hold queued records at once, including sessions never
// connected in this process.
type OfflineQueue struct {
	repo        *repository.QueueRepository
	clock       platform.Clock
	replayDelay time.Duration

	replayMu  sync.Mutex
	replaying bool

	tsMu   sync.Mutex
	lastTS int64

	listenersMu  sync.Mutex
	listeners    map[int]func(Event)
	nextListener int
}

// New creates an OfflineQueue over the given repository. clock may be nil,
// in which case the system clock is used.
func New(repo *repository.QueueRepository, clock platform.Clock) *OfflineQueue {
	if clock == nil {
		clock = platform.SystemClock{}
	}
	return &OfflineQueue{
		repo:        repo,
		clock:       clock,
		replayDelay: DefaultReplayDelay,
		listeners:   make(map[int]func(Event)),
	}
}

// SetReplayDelay overrides the inter-item replay throttle.
func (q *OfflineQueue) SetReplayDelay(d time.Duration) {
	q.replayDelay = d
}

// Subscribe registers a listener for queue events. The returned cancel
// function is idempotent.
func (q *OfflineQueue) Subscribe(fn func(Event)) (cancel func()) {
	q.listenersMu.Lock()
	defer q.listenersMu.Unlock()
	id := q.nextListener
	q.nextListener++
	q.listeners[id] = fn
	return func() {
		q.listenersMu.Lock()
		defer q.listenersMu.Unlock()
		delete(q.listeners, id)
	}
}

// Enqueue persists a new action with a generated id and the current clock
// timestamp, then emits the session's new queue depth. Persistence failures
// are reported as error events as well as returned.
func (q *OfflineQueue) Enqueue(ctx context.Context, sessionName string, kind model.ActionKind, data string, cols, rows uint16) error {
	if sessionName == "" {
		return model.ErrSessionNameRequired
	}

	action := &model.QueuedAction{
		ID:          uuid.NewString(),
		Timestamp:   q.nextTimestamp(),
		SessionName: sessionName,
		Kind:        kind,
		Data:        data,
		Cols:        cols,
		Rows:        rows,
	}

	if err := q.repo.Create(ctx, action); err != nil {
		q.emit(ErrorEvent{Err: fmt.Errorf("enqueue: %w", err)})
		return err
	}

	q.emit(SizeChangedEvent{SessionName: sessionName, Count: q.GetQueueCount(ctx, sessionName)})
	return nil
}

// nextTimestamp returns the current clock in Unix milliseconds, bumped to
// stay strictly increasing so same-millisecond enqueues (or a clock stepping
// backwards) cannot scramble replay order.
func (q *OfflineQueue) nextTimestamp() int64 {
	q.tsMu.Lock()
	defer q.tsMu.Unlock()
	ts := q.clock.Now().UnixMilli()
	if ts <= q.lastTS {
		ts = q.lastTS + 1
	}
	q.lastTS = ts
	return ts
}

// EnqueueInput persists an input action.
func (q *OfflineQueue) EnqueueInput(ctx context.Context, sessionName, data string) error {
	return q.Enqueue(ctx, sessionName, model.ActionKindInput, data, 0, 0)
}

// EnqueueResize persists a resize action.
func (q *OfflineQueue) EnqueueResize(ctx context.Context, sessionName string, cols, rows uint16) error {
	return q.Enqueue(ctx, sessionName, model.ActionKindResize, "", cols, rows)
}

// GetQueue returns the session's pending actions ordered by timestamp
// ascending. Store failures degrade to an empty result and an error event,
// so UI-facing queries stay total.
func (q *OfflineQueue) GetQueue(ctx context.Context, sessionName string) []*model.QueuedAction {
	actions, err := q.repo.ListBySession(ctx, sessionName)
	if err != nil {
		q.emit(ErrorEvent{Err: fmt.Errorf("get queue: %w", err)})
		return nil
	}
	return actions
}

// GetQueueCount returns the number of pending actions for a session.
func (q *OfflineQueue) GetQueueCount(ctx context.Context, sessionName string) int {
	count, err := q.repo.CountBySession(ctx, sessionName)
	if err != nil {
		q.emit(ErrorEvent{Err: fmt.Errorf("count queue: %w", err)})
		return 0
	}
	return count
}

// GetTotalCount returns the number of pending actions across all sessions.
func (q *OfflineQueue) GetTotalCount(ctx context.Context) int {
	count, err := q.repo.CountAll(ctx)
	if err != nil {
		q.emit(ErrorEvent{Err: fmt.Errorf("count all: %w", err)})
		return 0
	}
	return count
}

// ClearQueue deletes all pending actions for a session and emits a size of 0.
func (q *OfflineQueue) ClearQueue(ctx context.Context, sessionName string) error {
	if err := q.repo.DeleteBySession(ctx, sessionName); err != nil {
		q.emit(ErrorEvent{Err: fmt.Errorf("clear queue: %w", err)})
		return err
	}
	q.emit(SizeChangedEvent{SessionName: sessionName, Count: 0})
	return nil
}

// ClearAll deletes every pending action across all sessions.
func (q *OfflineQueue) ClearAll(ctx context.Context) error {
	if err := q.repo.DeleteAll(ctx); err != nil {
		q.emit(ErrorEvent{Err: fmt.Errorf("clear all: %w", err)})
		return err
	}
	return nil
}

// IsReplaying reports whether a replay is in flight.
func (q *OfflineQueue) IsReplaying() bool {
	q.replayMu.Lock()
	defer q.replayMu.Unlock()
	return q.replaying
}

// Replay drains the session's queue in timestamp order through send. Each
// record is deleted only after send confirms it; the first failure stops
// the replay, leaving the failed record and everything after it queued. At
// most one replay runs at a time per queue; a second call returns 0
// immediately. Returns the number of actions successfully replayed.
//
// Liveness is judged solely by send's boolean result: a disconnect during
// replay surfaces as the next send returning false.
func (q *OfflineQueue) Replay(ctx context.Context, sessionName string, send SendFunc) int {
	q.replayMu.Lock()
	if q.replaying {
		q.replayMu.Unlock()
		return 0
	}
	q.replaying = true
	q.replayMu.Unlock()

	defer func() {
		q.replayMu.Lock()
		q.replaying = false
		q.replayMu.Unlock()
	}()

	actions, err := q.repo.ListBySession(ctx, sessionName)
	if err != nil {
		q.emit(ErrorEvent{Err: fmt.Errorf("replay load: %w", err)})
		q.emit(ReplayCompleteEvent{SessionName: sessionName, Sent: 0})
		return 0
	}

	total := len(actions)
	sent := 0
	for i, action := range actions {
		q.emit(ReplayProgressEvent{Current: i + 1, Total: total})

		if !send(action) {
			log.Printf("queue: replay of session %q stopped at %d/%d", sessionName, i+1, total)
			break
		}

		if err := q.repo.Delete(ctx, action.ID); err != nil {
			q.emit(ErrorEvent{Err: fmt.Errorf("replay delete: %w", err)})
			break
		}
		sent++

		// Throttle between items so the drain does not flood the server.
		if i < total-1 {
			q.clock.Sleep(q.replayDelay)
		}
	}

	q.emit(ReplayCompleteEvent{SessionName: sessionName, Sent: sent})
	q.emit(SizeChangedEvent{SessionName: sessionName, Count: q.GetQueueCount(ctx, sessionName)})
	return sent
}

// emit delivers an event to all listeners synchronously, in registration
// order.
func (q *OfflineQueue) emit(e Event) {
	q.listenersMu.Lock()
	ids := make([]int, 0, len(q.listeners))
	for id := range q.listeners {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j] < ids[j-1]; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, q.listeners[id])
	}
	q.listenersMu.Unlock()

	for _, fn := range fns {
		fn(e)
	}
}
