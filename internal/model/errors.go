package model

import "errors"

var (
	// ErrSessionNameRequired is returned when an operation is missing the session name.
	ErrSessionNameRequired = errors.New("session name is required")

	// ErrUnknownActionKind is returned when a queued action carries an unrecognized kind.
	ErrUnknownActionKind = errors.New("unknown action kind")

	// ErrActionNotFound is returned when a queued action is not found.
	ErrActionNotFound = errors.New("queued action not found")
)
