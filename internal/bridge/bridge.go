// Package bridge routes user actions between the live connection and the
// offline queue: actions go over the wire while connected and into the
// durable queue otherwise, and the queue is drained automatically whenever
// the connection comes back.
package bridge

import (
	"context"
	"log"
	"sync"

	"github.com/remote-agent-terminal/client/internal/buffer"
	"github.com/remote-agent-terminal/client/internal/conn"
	"github.com/remote-agent-terminal/client/internal/logger"
	"github.com/remote-agent-terminal/client/internal/model"
	"github.com/remote-agent-terminal/client/internal/queue"
)

// Sender is the subset of the connection manager the bridge writes through.
type Sender interface {
	IsConnected() bool
	SendInput(data string) bool
	SendResize(cols, rows uint16) bool
	RequestHistory(fromLine, count int) bool
}

// Bridge is the session facade the UI talks to. It owns the routing decision
// (send now or queue for later), the scrollback of received output, and the
// optional transcript recording.
type Bridge struct {
	sender     Sender
	queue      *queue.OfflineQueue
	scrollback *buffer.Scrollback

	mu          sync.Mutex
	sessionName string
	recorder    *logger.TranscriptRecorder
}

// New creates a Bridge for one session. Register HandleConnEvent with the
// connection manager to activate replay and scrollback capture.
func New(sender Sender, q *queue.OfflineQueue, scrollback *buffer.Scrollback, sessionName string) *Bridge {
	return &Bridge{
		sender:      sender,
		queue:       q,
		scrollback:  scrollback,
		sessionName: sessionName,
	}
}

// SetRecorder attaches a transcript recorder. Pass nil to stop recording.
func (b *Bridge) SetRecorder(r *logger.TranscriptRecorder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recorder = r
}

// SessionName returns the session this bridge routes for.
func (b *Bridge) SessionName() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessionName
}

// Scrollback returns the output history buffer.
func (b *Bridge) Scrollback() *buffer.Scrollback {
	return b.scrollback
}

// SendInput delivers terminal input over the wire when connected, otherwise
// queues it durably. It reports whether the input was sent immediately.
func (b *Bridge) SendInput(ctx context.Context, data string) bool {
	if b.sender.IsConnected() && b.sender.SendInput(data) {
		b.record(func(r *logger.TranscriptRecorder) error { return r.RecordInput(data) })
		return true
	}
	if err := b.queue.EnqueueInput(ctx, b.SessionName(), data); err != nil {
		log.Printf("bridge: failed to queue input for session %q: %v", b.SessionName(), err)
	}
	return false
}

// SendResize delivers new terminal dimensions, queuing them when offline.
// It reports whether the resize was sent immediately.
func (b *Bridge) SendResize(ctx context.Context, cols, rows uint16) bool {
	if b.sender.IsConnected() && b.sender.SendResize(cols, rows) {
		return true
	}
	if err := b.queue.EnqueueResize(ctx, b.SessionName(), cols, rows); err != nil {
		log.Printf("bridge: failed to queue resize for session %q: %v", b.SessionName(), err)
	}
	return false
}

// PendingCount returns how many actions are queued for this session.
func (b *Bridge) PendingCount(ctx context.Context) int {
	return b.queue.GetQueueCount(ctx, b.SessionName())
}

// HandleConnEvent reacts to connection lifecycle and data events. Register it
// with Manager.Subscribe.
func (b *Bridge) HandleConnEvent(e conn.Event) {
	switch ev := e.(type) {
	case conn.ConnectedEvent:
		if ev.SessionName != b.SessionName() {
			return
		}
		// Ask for the lines missed while offline, then drain the queue.
		// Replay throttles between items, so it runs off the dispatch
		// goroutine.
		b.sender.RequestHistory(b.scrollback.NextLine(), 0)
		go b.replay()
	case conn.OutputEvent:
		b.scrollback.Append(ev.Data)
		b.record(func(r *logger.TranscriptRecorder) error { return r.RecordOutput(ev.Data) })
	}
}

// replay drains this session's queue through the live connection, mapping
// each queued record back onto the send primitive that produced it.
func (b *Bridge) replay() {
	session := b.SessionName()
	sent := b.queue.Replay(context.Background(), session, func(a *model.QueuedAction) bool {
		switch a.Kind {
		case model.ActionKindInput:
			return b.sender.SendInput(a.Data)
		case model.ActionKindResize:
			return b.sender.SendResize(a.Cols, a.Rows)
		}
		// A record of an unknown kind can never be sent; keeping it would
		// wedge the queue, so drop it.
		log.Printf("bridge: dropping queued action %s of unknown kind %q", a.ID, a.Kind)
		return true
	})
	if sent > 0 {
		log.Printf("bridge: replayed %d queued action(s) for session %q", sent, session)
	}
}

func (b *Bridge) record(write func(*logger.TranscriptRecorder) error) {
	b.mu.Lock()
	r := b.recorder
	b.mu.Unlock()
	if r == nil {
		return
	}
	if err := write(r); err != nil {
		log.Printf("bridge: transcript write failed: %v", err)
	}
}
