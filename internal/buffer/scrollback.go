// Package buffer provides the client-side scrollback: a bounded, line-indexed
// cache of terminal output used to render history and to ask the server for
// the lines the client missed while disconnected.
package buffer

import (
	"strings"
	"sync"
)

// Scrollback retains the most recent terminal output as numbered lines.
// Line numbers are absolute and monotonically increasing for the lifetime of
// the scrollback, so a line number remains a stable reference even after the
// line itself has been evicted.
type Scrollback struct {
	mu       sync.RWMutex
	lines    []string
	partial  string // output after the last newline, not yet a complete line
	first    int    // absolute number of lines[0]
	capacity int
}

// NewScrollback creates a Scrollback that retains at most capacity complete
// lines. The capacity must be greater than 0; if not, it defaults to 1.
func NewScrollback(capacity int) *Scrollback {
	if capacity <= 0 {
		capacity = 1
	}
	return &Scrollback{capacity: capacity}
}

// Append adds terminal output. Complete lines (terminated by a newline) are
// numbered and retained; a trailing fragment is held until the newline that
// completes it arrives. When the buffer is full the oldest lines are evicted.
func (s *Scrollback) Append(data string) {
	if data == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rest := s.partial + data
	for {
		idx := strings.IndexByte(rest, '\n')
		if idx < 0 {
			break
		}
		s.lines = append(s.lines, rest[:idx])
		rest = rest[idx+1:]
	}
	s.partial = rest

	if over := len(s.lines) - s.capacity; over > 0 {
		s.lines = append(s.lines[:0], s.lines[over:]...)
		s.first += over
	}
}

// Lines returns up to count complete lines starting at the absolute line
// number from. Lines already evicted, or not yet written, are simply absent
// from the result. A count <= 0 means all retained lines from that point on.
func (s *Scrollback) Lines(from, count int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if from < s.first {
		from = s.first
	}
	start := from - s.first
	if start >= len(s.lines) {
		return nil
	}
	end := len(s.lines)
	if count > 0 && start+count < end {
		end = start + count
	}

	out := make([]string, end-start)
	copy(out, s.lines[start:end])
	return out
}

// NextLine returns the absolute number the next complete line will receive.
// After a reconnect this is the natural starting point for a history request.
func (s *Scrollback) NextLine() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.first + len(s.lines)
}

// FirstLine returns the absolute number of the oldest retained line.
func (s *Scrollback) FirstLine() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.first
}

// Len returns the number of complete lines currently retained.
func (s *Scrollback) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.lines)
}

// Partial returns output received after the last newline.
func (s *Scrollback) Partial() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.partial
}

// Clear discards all retained output. Line numbering continues from where it
// left off so stale references never alias new lines.
func (s *Scrollback) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.first += len(s.lines)
	s.lines = s.lines[:0]
	s.partial = ""
}

// Cap returns the line capacity.
func (s *Scrollback) Cap() int {
	return s.capacity
}
