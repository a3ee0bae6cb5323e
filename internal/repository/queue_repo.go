// Package repository provides data access for the durable offline-action queue.
package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/remote-agent-terminal/client/internal/model"
)

// QueueRepository provides data access for queued actions. Records are keyed
// by id, looked up by session name, and always read back ordered by
// timestamp ascending regardless of insertion order.
type QueueRepository struct {
	db *sql.DB
}

// NewQueueRepository creates a new QueueRepository.
func NewQueueRepository(db *sql.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

// Create inserts a new queued action.
func (r *QueueRepository) Create(ctx context.Context, action *model.QueuedAction) error {
	payload, err := action.PayloadToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize payload: %w", err)
	}

	query := `
		INSERT INTO queued_actions (id, timestamp, session_name, kind, payload)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, query,
		action.ID,
		action.Timestamp,
		action.SessionName,
		action.Kind,
		payload,
	)
	if err != nil {
		return fmt.Errorf("failed to create queued action: %w", err)
	}

	return nil
}

// ListBySession retrieves all queued actions for a session, ordered by
// timestamp ascending. The id is a secondary sort key so read-back order is
// stable when timestamps collide.
func (r *QueueRepository) ListBySession(ctx context.Context, sessionName string) ([]*model.QueuedAction, error) {
	query := `
		SELECT id, timestamp, session_name, kind, payload
		FROM queued_actions
		WHERE session_name = ?
		ORDER BY timestamp ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, sessionName)
	if err != nil {
		return nil, fmt.Errorf("failed to list queued actions: %w", err)
	}
	defer rows.Close()

	var actions []*model.QueuedAction
	for rows.Next() {
		action := &model.QueuedAction{}
		var payload string

		err := rows.Scan(
			&action.ID,
			&action.Timestamp,
			&action.SessionName,
			&action.Kind,
			&payload,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queued action: %w", err)
		}

		if err := action.PayloadFromJSON(payload); err != nil {
			return nil, fmt.Errorf("failed to parse payload: %w", err)
		}

		actions = append(actions, action)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queued actions: %w", err)
	}

	return actions, nil
}

// Delete removes a queued action by id.
func (r *QueueRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM queued_actions WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete queued action: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return model.ErrActionNotFound
	}

	return nil
}

// DeleteBySession removes all queued actions for a session.
func (r *QueueRepository) DeleteBySession(ctx context.Context, sessionName string) error {
	query := `DELETE FROM queued_actions WHERE session_name = ?`

	if _, err := r.db.ExecContext(ctx, query, sessionName); err != nil {
		return fmt.Errorf("failed to clear session queue: %w", err)
	}

	return nil
}

// DeleteAll removes every queued action across all sessions.
func (r *QueueRepository) DeleteAll(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM queued_actions`); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}

	return nil
}

// CountBySession returns the number of queued actions for a session.
func (r *QueueRepository) CountBySession(ctx context.Context, sessionName string) (int, error) {
	query := `SELECT COUNT(*) FROM queued_actions WHERE session_name = ?`

	var count int
	err := r.db.QueryRowContext(ctx, query, sessionName).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count queued actions: %w", err)
	}

	return count, nil
}

// CountAll returns the number of queued actions across all sessions.
func (r *QueueRepository) CountAll(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queued_actions`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count queued actions: %w", err)
	}

	return count, nil
}
