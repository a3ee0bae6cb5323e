// Package protocol defines the JSON wire envelopes exchanged with the
// terminal session server over the WebSocket transport.
package protocol

import "encoding/json"

// MessageType represents the type of a wire message.
type MessageType string

const (
	// Client -> Server message types
	MessageTypeInput       MessageType = "input"
	MessageTypeResize      MessageType = "resize"
	MessageTypeSyncRequest MessageType = "sync_request"
	MessageTypePing        MessageType = "ping"

	// Server -> Client message types
	MessageTypeOutput MessageType = "output"
	MessageTypePong   MessageType = "pong"
	MessageTypeExit   MessageType = "exit"
)

// Message is a wire envelope. All message variants share this shape; the
// Type field discriminates which of the remaining fields are meaningful.
// Servers may send extension types beyond the constants above; those are
// forwarded to consumers unmodified.
type Message struct {
	Type      MessageType `json:"type"`
	Data      string      `json:"data,omitempty"`
	Cols      uint16      `json:"cols,omitempty"`
	Rows      uint16      `json:"rows,omitempty"`
	FromLine  int         `json:"fromLine,omitempty"`
	Count     int         `json:"count,omitempty"`
	Timestamp int64       `json:"timestamp,omitempty"`
	Code      *int        `json:"code,omitempty"`
}

// Input builds an input envelope carrying terminal keystrokes.
func Input(data string) Message {
	return Message{Type: MessageTypeInput, Data: data}
}

// Resize builds a resize envelope for the given terminal dimensions.
func Resize(cols, rows uint16) Message {
	return Message{Type: MessageTypeResize, Cols: cols, Rows: rows}
}

// SyncRequest builds a history-sync request for count lines starting at fromLine.
func SyncRequest(fromLine, count int) Message {
	return Message{Type: MessageTypeSyncRequest, FromLine: fromLine, Count: count}
}

// Ping builds a heartbeat envelope carrying the client clock in Unix milliseconds.
func Ping(timestamp int64) Message {
	return Message{Type: MessageTypePing, Timestamp: timestamp}
}

// Encode serializes the message to its wire form.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses an inbound frame. Frames that are not valid envelopes, or
// that carry no type discriminator, are wrapped as an output message with
// the raw frame text as data; this preserves compatibility with servers
// that stream plain terminal output. The second return value reports
// whether the frame was a structured envelope.
func Decode(frame []byte) (Message, bool) {
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil || msg.Type == "" {
		return Message{Type: MessageTypeOutput, Data: string(frame)}, false
	}
	return msg, true
}
