package model

import "encoding/json"

// ActionKind identifies what a queued action carries.
type ActionKind string

const (
	ActionKindInput  ActionKind = "input"
	ActionKindResize ActionKind = "resize"
)

// QueuedAction is one pending user action captured while disconnected.
// Records are immutable once created; they are deleted only after a
// confirmed replay or an explicit clear.
type QueuedAction struct {
	ID          string     `json:"id"`
	Timestamp   int64      `json:"timestamp"` // Unix milliseconds at enqueue time
	SessionName string     `json:"sessionName"`
	Kind        ActionKind `json:"kind"`
	Data        string     `json:"data,omitempty"` // input payload
	Cols        uint16     `json:"cols,omitempty"` // resize payload
	Rows        uint16     `json:"rows,omitempty"`
}

// resizePayload is the stored form of a resize action's payload.
type resizePayload struct {
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

// PayloadToJSON converts the kind-specific payload to its storage form.
// Input payloads are stored as raw text; resize payloads as a JSON object.
func (a *QueuedAction) PayloadToJSON() (string, error) {
	switch a.Kind {
	case ActionKindResize:
		data, err := json.Marshal(resizePayload{Cols: a.Cols, Rows: a.Rows})
		if err != nil {
			return "", err
		}
		return string(data), nil
	case ActionKindInput:
		return a.Data, nil
	default:
		return "", ErrUnknownActionKind
	}
}

// PayloadFromJSON parses a stored payload into the kind-specific fields.
func (a *QueuedAction) PayloadFromJSON(payload string) error {
	switch a.Kind {
	case ActionKindResize:
		var p resizePayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return err
		}
		a.Cols = p.Cols
		a.Rows = p.Rows
		return nil
	case ActionKindInput:
		a.Data = payload
		return nil
	default:
		return ErrUnknownActionKind
	}
}
