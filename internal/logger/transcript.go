// Package logger records client sessions as Asciinema v2 casts: output
// received from the server and input sent to it, with offsets relative to
// when the recording started.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/remote-agent-terminal/client/internal/platform"
)

// CastHeader is the header line of an Asciinema v2 recording.
type CastHeader struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Env       map[string]string `json:"env,omitempty"`
}

// CastEvent is a single event line: [time_offset, event_type, data].
type CastEvent struct {
	TimeOffset float64
	EventType  string // "o" for output, "i" for input
	Data       string
}

// MarshalJSON renders the event as the three-element JSON array the cast
// format requires.
func (e CastEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{e.TimeOffset, e.EventType, e.Data})
}

// UnmarshalJSON parses the three-element array form.
func (e *CastEvent) UnmarshalJSON(data []byte) error {
	var arr []interface{}
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if len(arr) != 3 {
		return fmt.Errorf("invalid event format: expected 3 elements, got %d", len(arr))
	}

	timeOffset, ok := arr[0].(float64)
	if !ok {
		return fmt.Errorf("invalid time offset type")
	}
	e.TimeOffset = timeOffset

	eventType, ok := arr[1].(string)
	if !ok {
		return fmt.Errorf("invalid event type")
	}
	e.EventType = eventType

	eventData, ok := arr[2].(string)
	if !ok {
		return fmt.Errorf("invalid event data type")
	}
	e.Data = eventData

	return nil
}

// TranscriptRecorder writes a session transcript in Asciinema v2 JSON-Lines
// format. Output frames received from the server are recorded as "o" events
// and locally sent input as "i" events.
type TranscriptRecorder struct {
	writer    io.Writer
	file      *os.File // only set if we own the file
	clock     platform.Clock
	startTime time.Time
	mu        sync.Mutex
}

// NewTranscriptRecorder creates a recorder writing to a new file at filePath.
func NewTranscriptRecorder(filePath string, clock platform.Clock) (*TranscriptRecorder, error) {
	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create transcript file: %w", err)
	}

	r := newRecorder(file, clock)
	r.file = file
	return r, nil
}

// NewTranscriptRecorderWithWriter creates a recorder over an arbitrary
// writer. This is useful for testing.
func NewTranscriptRecorderWithWriter(w io.Writer, clock platform.Clock) *TranscriptRecorder {
	return newRecorder(w, clock)
}

func newRecorder(w io.Writer, clock platform.Clock) *TranscriptRecorder {
	if clock == nil {
		clock = platform.SystemClock{}
	}
	return &TranscriptRecorder{
		writer:    w,
		clock:     clock,
		startTime: clock.Now(),
	}
}

// WriteHeader writes the cast header. Call once before any events.
func (r *TranscriptRecorder) WriteHeader(cols, rows int) error {
	return r.WriteHeaderWithEnv(cols, rows, nil)
}

// WriteHeaderWithEnv writes the cast header with environment metadata.
func (r *TranscriptRecorder) WriteHeaderWithEnv(cols, rows int, env map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	header := CastHeader{
		Version:   2,
		Width:     cols,
		Height:    rows,
		Timestamp: r.startTime.Unix(),
		Env:       env,
	}

	data, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}

	if _, err := r.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	return nil
}

// RecordOutput records an output event received from the server.
func (r *TranscriptRecorder) RecordOutput(data string) error {
	return r.writeEvent("o", data)
}

// RecordInput records input the client sent.
func (r *TranscriptRecorder) RecordInput(data string) error {
	return r.writeEvent("i", data)
}

func (r *TranscriptRecorder) writeEvent(eventType, data string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	event := CastEvent{
		TimeOffset: r.clock.Now().Sub(r.startTime).Seconds(),
		EventType:  eventType,
		Data:       data,
	}

	eventData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := r.writer.Write(append(eventData, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	return nil
}

// Close closes the transcript file if the recorder owns one.
func (r *TranscriptRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// StartTime returns when the recording started.
func (r *TranscriptRecorder) StartTime() time.Time {
	return r.startTime
}
