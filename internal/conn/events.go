package conn

import (
	"sync"
	"time"

	"github.com/remote-agent-terminal/client/internal/protocol"
)

// State represents the connection lifecycle state. A Manager is in exactly
// one state at any time.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// Event is the closed set of notifications a Manager delivers to listeners.
type Event interface {
	connEvent()
}

// StateChangedEvent reports a state transition.
type StateChangedEvent struct {
	State State
}

// ConnectedEvent reports that the transport opened for a session.
type ConnectedEvent struct {
	SessionName string
}

// DisconnectedEvent reports that the transport closed, with the close
// reason and protocol close code.
type DisconnectedEvent struct {
	Reason string
	Code   int
}

// ReconnectingEvent reports a scheduled reconnection attempt.
type ReconnectingEvent struct {
	Attempt int
	Delay   time.Duration
}

// OutputEvent carries terminal output for consumers that do not want to
// parse envelopes.
type OutputEvent struct {
	Data string
}

// MessageEvent carries a parsed server envelope. Pong frames are intercepted
// for latency measurement and never delivered as MessageEvents.
type MessageEvent struct {
	Message protocol.Message
}

// LatencyEvent reports a new round-trip latency measurement.
type LatencyEvent struct {
	RTT time.Duration
}

// ExitEvent reports that the remote process exited.
type ExitEvent struct {
	Code int
}

// ErrorEvent reports a transport or protocol-level failure. Errors are
// never returned across the Manager's public API.
type ErrorEvent struct {
	Err error
}

func (StateChangedEvent) connEvent() {}
func (ConnectedEvent) connEvent()    {}
func (DisconnectedEvent) connEvent() {}
func (ReconnectingEvent) connEvent() {}
func (OutputEvent) connEvent()       {}
func (MessageEvent) connEvent()      {}
func (LatencyEvent) connEvent()      {}
func (ExitEvent) connEvent()         {}
func (ErrorEvent) connEvent()        {}

// eventQueue is an unbounded FIFO drained by a single dispatcher goroutine,
// so listeners observe events in emission order and emitters never block
// while holding the manager's lock.
type eventQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []Event
	closed bool
}

func newEventQueue() *eventQueue {
	q := &eventQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *eventQueue) push(e Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, e)
	q.cond.Signal()
}

// pop blocks until an event is available or the queue is closed and drained.
func (q *eventQueue) pop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	e := q.items[0]
	q.items = q.items[1:]
	return e, true
}

func (q *eventQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
