// Package platform abstracts the host capabilities the connection and queue
// logic depend on: wall clock and timers, app visibility, and network
// reachability. The embedding application drives AppState from its lifecycle
// callbacks; tests substitute the deterministic fakes.
package platform

import (
	"sync"
	"time"
)

// Timer is a cancelable timer handle. Stop reports whether the call
// prevented the timer from firing.
type Timer interface {
	Stop() bool
}

// Clock provides time, timers, and sleeping.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
	Sleep(d time.Duration)
}

// SystemClock is the real Clock backed by the time package.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }

// AfterFunc schedules fn to run in its own goroutine after d elapses.
func (SystemClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// Sleep pauses the calling goroutine for d.
func (SystemClock) Sleep(d time.Duration) { time.Sleep(d) }

// Visibility reports whether the application is foregrounded.
type Visibility interface {
	Visible() bool
	// SubscribeVisibility registers fn to be called on every visibility
	// change. The returned cancel function is safe to call more than once.
	SubscribeVisibility(fn func(visible bool)) (cancel func())
}

// Network reports whether the device has network connectivity.
type Network interface {
	Online() bool
	// SubscribeNetwork registers fn to be called on every connectivity
	// change. The returned cancel function is safe to call more than once.
	SubscribeNetwork(fn func(online bool)) (cancel func())
}

// AppState is the real Visibility and Network adapter. The embedding
// application calls SetVisible and SetOnline from its lifecycle and
// reachability callbacks; consumers observe the state through the
// interfaces. A fresh AppState starts visible and online.
type AppState struct {
	mu         sync.Mutex
	visible    bool
	online     bool
	nextID     int
	visibleFns map[int]func(bool)
	onlineFns  map[int]func(bool)
}

// NewAppState creates an AppState that is visible and online.
func NewAppState() *AppState {
	return &AppState{
		visible:    true,
		online:     true,
		visibleFns: make(map[int]func(bool)),
		onlineFns:  make(map[int]func(bool)),
	}
}

// Visible reports whether the app is foregrounded.
func (s *AppState) Visible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible
}

// Online reports whether the device has connectivity.
func (s *AppState) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// SetVisible records a visibility change and notifies subscribers.
// Setting the current value again is a no-op.
func (s *AppState) SetVisible(visible bool) {
	s.mu.Lock()
	if s.visible == visible {
		s.mu.Unlock()
		return
	}
	s.visible = visible
	fns := collectFns(s.visibleFns)
	s.mu.Unlock()

	for _, fn := range fns {
		fn(visible)
	}
}

// SetOnline records a connectivity change and notifies subscribers.
// Setting the current value again is a no-op.
func (s *AppState) SetOnline(online bool) {
	s.mu.Lock()
	if s.online == online {
		s.mu.Unlock()
		return
	}
	s.online = online
	fns := collectFns(s.onlineFns)
	s.mu.Unlock()

	for _, fn := range fns {
		fn(online)
	}
}

// SubscribeVisibility implements Visibility.
func (s *AppState) SubscribeVisibility(fn func(visible bool)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.visibleFns[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.visibleFns, id)
	}
}

// SubscribeNetwork implements Network.
func (s *AppState) SubscribeNetwork(fn func(online bool)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.onlineFns[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.onlineFns, id)
	}
}

// collectFns snapshots the subscriber map so callbacks run outside the lock.
// Dispatch order follows registration order.
func collectFns(m map[int]func(bool)) []func(bool) {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	// insertion sort; subscriber counts are tiny
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j] < ids[j-1]; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
	fns := make([]func(bool), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, m[id])
	}
	return fns
}
