// Package conn implements the resilient connection to a named terminal
// session: a reconnect/heartbeat/idle state machine over a persistent
// message socket, with typed lifecycle and data events.
package conn

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/remote-agent-terminal/client/internal/platform"
	"github.com/remote-agent-terminal/client/internal/protocol"
)

// Config holds connection options. Use DefaultConfig for the standard
// values; an IdleTimeout of 0 disables idle disconnects.
type Config struct {
	ServerAddr           string // host[:port] of the session server
	Secure               bool   // use wss when the hosting surface is served securely
	Reconnect            bool
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration // base backoff delay
	MaxReconnectDelay    time.Duration // backoff cap
	PingInterval         time.Duration
	IdleTimeout          time.Duration
}

// DefaultConfig returns the standard configuration for a server address.
func DefaultConfig(serverAddr string) Config {
	return Config{
		ServerAddr:           serverAddr,
		Reconnect:            true,
		MaxReconnectAttempts: 10,
		ReconnectDelay:       time.Second,
		MaxReconnectDelay:    30 * time.Second,
		PingInterval:         30 * time.Second,
		IdleTimeout:          5 * time.Minute,
	}
}

// Manager owns the lifecycle of one logical connection to a named session.
// It is created once per client lifetime; Connect and Disconnect swap the
// internal transport without recreating the manager.
type Manager struct {
	cfg        Config
	dialer     Dialer
	clock      platform.Clock
	visibility platform.Visibility
	network    platform.Network

	mu          sync.Mutex
	state       State
	sessionName string
	transport   Transport
	gen         int // transport generation; guards callbacks from stale transports

	attempts        int
	reconnectTimer  platform.Timer
	heartbeatTimer  platform.Timer
	idleTimer       platform.Timer
	lastPingAt      time.Time
	latency         time.Duration
	lastCloseReason string
	lastCloseCode   int
	closed          bool

	listenersMu  sync.Mutex
	listeners    map[int]func(Event)
	nextListener int
	events       *eventQueue

	cancelVisibility func()
	cancelNetwork    func()
}

// NewManager creates a Manager. dialer, clock, visibility, and network may
// be nil, in which case the production implementations are used.
func NewManager(cfg Config, dialer Dialer, clock platform.Clock, visibility platform.Visibility, network platform.Network) *Manager {
	if dialer == nil {
		dialer = NewWebSocketDialer()
	}
	if clock == nil {
		clock = platform.SystemClock{}
	}
	if visibility == nil || network == nil {
		state := platform.NewAppState()
		if visibility == nil {
			visibility = state
		}
		if network == nil {
			network = state
		}
	}

	m := &Manager{
		cfg:        cfg,
		dialer:     dialer,
		clock:      clock,
		visibility: visibility,
		network:    network,
		state:      StateDisconnected,
		listeners:  make(map[int]func(Event)),
		events:     newEventQueue(),
	}

	m.cancelVisibility = visibility.SubscribeVisibility(m.onVisibilityChange)
	m.cancelNetwork = network.SubscribeNetwork(m.onNetworkChange)

	go m.dispatchEvents()

	return m
}

// Subscribe registers a listener for connection events. The returned cancel
// function is idempotent and safe to call during dispatch.
func (m *Manager) Subscribe(fn func(Event)) (cancel func()) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = fn
	return func() {
		m.listenersMu.Lock()
		defer m.listenersMu.Unlock()
		delete(m.listeners, id)
	}
}

// Connect opens a connection to the named session. Connecting to the
// session that is already connected or connecting is a no-op; connecting to
// a different session tears the old connection down first. An explicit
// Connect always resets the reconnect-attempt counter.
func (m *Manager) Connect(sessionName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if m.sessionName == sessionName && (m.state == StateConnected || m.state == StateConnecting) {
		return
	}
	if m.sessionName != sessionName && m.transport != nil {
		m.disconnectLocked("switching sessions")
	}
	m.cancelReconnectLocked()
	m.sessionName = sessionName
	m.attempts = 0
	m.dialLocked()
}

// Disconnect intentionally closes the connection. All timers are canceled,
// the transport is closed with the clean close code, and no reconnection is
// scheduled. Calling it while already disconnected is a no-op.
func (m *Manager) Disconnect(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.state == StateDisconnected {
		return
	}
	m.disconnectLocked(reason)
}

// SendInput sends terminal input. It reports whether the transport was open
// and the frame was written.
func (m *Manager) SendInput(data string) bool {
	return m.send(protocol.Input(data))
}

// SendResize sends new terminal dimensions.
func (m *Manager) SendResize(cols, rows uint16) bool {
	return m.send(protocol.Resize(cols, rows))
}

// RequestHistory asks the server to resend count lines of scrollback
// starting at fromLine.
func (m *Manager) RequestHistory(fromLine, count int) bool {
	return m.send(protocol.SyncRequest(fromLine, count))
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Latency returns the most recent heartbeat round-trip measurement.
func (m *Manager) Latency() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latency
}

// IsConnected reports whether the transport is open.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// SessionName returns the session this manager is attached to (or was last
// attached to).
func (m *Manager) SessionName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionName
}

// LastClose returns the reason and close code of the most recent disconnect,
// preserved for display after reconnection attempts are exhausted.
func (m *Manager) LastClose() (reason string, code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCloseReason, m.lastCloseCode
}

// Close tears the manager down on app shutdown: it disconnects, cancels the
// platform subscriptions, and stops event dispatch.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if m.state != StateDisconnected {
		m.disconnectLocked("shutting down")
	}
	m.closed = true
	m.mu.Unlock()

	m.cancelVisibility()
	m.cancelNetwork()
	m.events.close()
}

// sessionURL derives the transport URL from the session name and the
// configured security scheme.
func (m *Manager) sessionURL(sessionName string) string {
	scheme := "ws"
	if m.cfg.Secure {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s/api/sessions/%s/attach", scheme, m.cfg.ServerAddr, url.PathEscape(sessionName))
}

// backoffDelay computes the reconnect delay for an attempt (1-based):
// min(ReconnectDelay * 2^(attempt-1), MaxReconnectDelay).
func backoffDelay(cfg Config, attempt int) time.Duration {
	delay := cfg.ReconnectDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= cfg.MaxReconnectDelay {
			return cfg.MaxReconnectDelay
		}
	}
	if delay > cfg.MaxReconnectDelay {
		return cfg.MaxReconnectDelay
	}
	return delay
}

// send serializes msg and writes it to the transport. Any attempted send
// re-arms the idle timer. Failures are reported as error events, never
// returned.
func (m *Manager) send(msg protocol.Message) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.state != StateConnected || m.transport == nil {
		return false
	}
	frame, err := msg.Encode()
	if err != nil {
		m.emit(ErrorEvent{Err: fmt.Errorf("encode %s: %w", msg.Type, err)})
		return false
	}
	m.resetIdleLocked()
	if err := m.transport.WriteMessage(frame); err != nil {
		m.emit(ErrorEvent{Err: fmt.Errorf("send %s: %w", msg.Type, err)})
		return false
	}
	return true
}

// dialLocked transitions to connecting and opens the transport in the
// background. The caller must hold m.mu.
func (m *Manager) dialLocked() {
	m.setStateLocked(StateConnecting)
	m.gen++
	gen := m.gen
	sessionName := m.sessionName
	target := m.sessionURL(sessionName)
	go m.dial(gen, sessionName, target)
}

func (m *Manager) dial(gen int, sessionName, target string) {
	ctx, cancelDial := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelDial()

	transport, err := m.dialer.Dial(ctx, target)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || gen != m.gen {
		// A newer connect or a shutdown superseded this dial.
		if err == nil {
			transport.Close(CloseCodeNormal, "superseded")
		}
		return
	}
	if err != nil {
		// Construction failure does not transition by itself; the close
		// path for the failed transport drives the state machine, same as
		// a transport that opened and immediately died.
		m.emit(ErrorEvent{Err: fmt.Errorf("dial %s: %w", target, err)})
		m.handleCloseLocked(CloseCodeAbnormal, "dial failed")
		return
	}

	log.Printf("conn: session %q connected", sessionName)
	m.transport = transport
	m.attempts = 0
	m.lastPingAt = time.Time{}
	m.setStateLocked(StateConnected)
	m.emit(ConnectedEvent{SessionName: sessionName})
	m.startHeartbeatLocked()
	m.resetIdleLocked()
	go m.readLoop(gen, transport)
}

// readLoop pumps frames from the transport until it closes.
func (m *Manager) readLoop(gen int, transport Transport) {
	for {
		data, err := transport.ReadMessage()
		if err != nil {
			code, reason := closeInfo(err)
			m.mu.Lock()
			if !m.closed && gen == m.gen {
				m.handleCloseLocked(code, reason)
			}
			m.mu.Unlock()
			return
		}
		m.handleFrame(gen, data)
	}
}

// handleFrame parses one inbound frame and emits the corresponding events.
func (m *Manager) handleFrame(gen int, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || gen != m.gen {
		return
	}
	m.resetIdleLocked()

	msg, structured := protocol.Decode(data)
	if !structured {
		// Legacy plain-text output, surfaced as-is.
		m.emit(OutputEvent{Data: msg.Data})
		return
	}
	switch msg.Type {
	case protocol.MessageTypePong:
		// Intercepted for latency measurement, not re-emitted.
		if !m.lastPingAt.IsZero() {
			m.latency = m.clock.Now().Sub(m.lastPingAt)
			m.emit(LatencyEvent{RTT: m.latency})
		}
	case protocol.MessageTypeOutput:
		m.emit(OutputEvent{Data: msg.Data})
		m.emit(MessageEvent{Message: msg})
	case protocol.MessageTypeExit:
		code := 0
		if msg.Code != nil {
			code = *msg.Code
		}
		m.emit(ExitEvent{Code: code})
		m.emit(MessageEvent{Message: msg})
	default:
		m.emit(MessageEvent{Message: msg})
	}
}

// handleCloseLocked runs the close side of the state machine: a clean close
// settles in disconnected; an abnormal close schedules a reconnect while
// attempts remain. The caller must hold m.mu.
func (m *Manager) handleCloseLocked(code int, reason string) {
	m.stopHeartbeatLocked()
	m.stopIdleLocked()
	if m.transport != nil {
		m.transport.Close(code, reason)
		m.transport = nil
	}
	m.lastCloseCode = code
	m.lastCloseReason = reason
	m.emit(DisconnectedEvent{Reason: reason, Code: code})

	if code == CloseCodeNormal || !m.cfg.Reconnect || m.attempts >= m.cfg.MaxReconnectAttempts {
		log.Printf("conn: session %q closed (code=%d, reason=%q)", m.sessionName, code, reason)
		m.setStateLocked(StateDisconnected)
		return
	}
	m.scheduleReconnectLocked()
}

// scheduleReconnectLocked increments the attempt counter and arms the
// backoff timer. The caller must hold m.mu.
func (m *Manager) scheduleReconnectLocked() {
	m.attempts++
	delay := backoffDelay(m.cfg, m.attempts)
	m.setStateLocked(StateReconnecting)
	m.emit(ReconnectingEvent{Attempt: m.attempts, Delay: delay})
	log.Printf("conn: session %q reconnect attempt %d in %v", m.sessionName, m.attempts, delay)
	m.reconnectTimer = m.clock.AfterFunc(delay, m.onReconnectTimer)
}

func (m *Manager) onReconnectTimer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.state != StateReconnecting {
		return
	}
	m.reconnectTimer = nil
	if !m.visibility.Visible() {
		// Deferred while backgrounded; fired immediately on visibility regain.
		return
	}
	m.dialLocked()
}

// onVisibilityChange reconnects immediately when the app returns to the
// foreground while in the reconnecting state, rather than waiting out the
// remaining backoff.
func (m *Manager) onVisibilityChange(visible bool) {
	if !visible {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.state != StateReconnecting {
		return
	}
	m.cancelReconnectLocked()
	m.dialLocked()
}

// onNetworkChange reconnects immediately with a fresh attempt budget when
// connectivity returns and a session name is remembered.
func (m *Manager) onNetworkChange(online bool) {
	if !online {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.sessionName == "" {
		return
	}
	if m.state != StateDisconnected && m.state != StateReconnecting {
		return
	}
	m.cancelReconnectLocked()
	m.attempts = 0
	m.dialLocked()
}

// disconnectLocked is the clean-close path shared by Disconnect, session
// switching, idle timeout, and shutdown. The caller must hold m.mu.
func (m *Manager) disconnectLocked(reason string) {
	m.cancelReconnectLocked()
	m.stopHeartbeatLocked()
	m.stopIdleLocked()
	m.gen++ // the read loop must not double-report this close
	if m.transport != nil {
		m.transport.Close(CloseCodeNormal, reason)
		m.transport = nil
	}
	m.lastCloseCode = CloseCodeNormal
	m.lastCloseReason = reason
	m.setStateLocked(StateDisconnected)
	m.emit(DisconnectedEvent{Reason: reason, Code: CloseCodeNormal})
	log.Printf("conn: session %q disconnected: %s", m.sessionName, reason)
}

func (m *Manager) startHeartbeatLocked() {
	if m.cfg.PingInterval <= 0 {
		return
	}
	gen := m.gen
	m.heartbeatTimer = m.clock.AfterFunc(m.cfg.PingInterval, func() { m.onHeartbeat(gen) })
}

func (m *Manager) onHeartbeat(gen int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || gen != m.gen || m.state != StateConnected || m.transport == nil {
		return
	}
	now := m.clock.Now()
	frame, err := protocol.Ping(now.UnixMilli()).Encode()
	if err == nil {
		m.resetIdleLocked()
		if werr := m.transport.WriteMessage(frame); werr != nil {
			m.emit(ErrorEvent{Err: fmt.Errorf("heartbeat send: %w", werr)})
		} else {
			m.lastPingAt = now
		}
	}
	m.startHeartbeatLocked()
}

func (m *Manager) stopHeartbeatLocked() {
	if m.heartbeatTimer != nil {
		m.heartbeatTimer.Stop()
		m.heartbeatTimer = nil
	}
	m.lastPingAt = time.Time{}
}

// resetIdleLocked re-arms the idle timer. Called on every inbound message
// and every attempted send.
func (m *Manager) resetIdleLocked() {
	m.stopIdleLocked()
	if m.cfg.IdleTimeout <= 0 || m.state != StateConnected {
		return
	}
	gen := m.gen
	m.idleTimer = m.clock.AfterFunc(m.cfg.IdleTimeout, func() { m.onIdleTimeout(gen) })
}

// onIdleTimeout drops backgrounded connections that have been silent for
// the idle window. Foregrounded connections are kept and the timer re-armed.
func (m *Manager) onIdleTimeout(gen int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || gen != m.gen || m.state != StateConnected {
		return
	}
	if m.visibility.Visible() {
		m.resetIdleLocked()
		return
	}
	m.disconnectLocked("idle timeout")
}

func (m *Manager) stopIdleLocked() {
	if m.idleTimer != nil {
		m.idleTimer.Stop()
		m.idleTimer = nil
	}
}

func (m *Manager) cancelReconnectLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

func (m *Manager) setStateLocked(state State) {
	if m.state == state {
		return
	}
	m.state = state
	m.emit(StateChangedEvent{State: state})
}

// emit enqueues an event for the dispatcher goroutine. Safe to call while
// holding m.mu.
func (m *Manager) emit(e Event) {
	m.events.push(e)
}

func (m *Manager) dispatchEvents() {
	for {
		e, ok := m.events.pop()
		if !ok {
			return
		}
		m.listenersMu.Lock()
		fns := make([]func(Event), 0, len(m.listeners))
		for _, fn := range m.listeners {
			fns = append(fns, fn)
		}
		m.listenersMu.Unlock()
		for _, fn := range fns {
			fn(e)
		}
	}
}
