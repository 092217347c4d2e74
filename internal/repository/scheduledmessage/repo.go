package scheduledmessage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/dbpg"

	"github.com/opsdeskhq/opsdesk/internal/dispatch"
	"github.com/opsdeskhq/opsdesk/internal/model"
)

var (
	ErrMessageNotFound = errors.New("scheduled message not found")

	// ErrNotPending means the row exists but has already left the pending
	// state, so the requested cancel/delete is no longer allowed.
	ErrNotPending = errors.New("scheduled message is not pending")
)

// Repository provides access to the scheduled_messages table in the hosted
// store. Cancel and Delete are conditional on status so the store, not the
// possibly stale client view, is authoritative for transition validity.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new scheduled message repository.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// CreateMessage inserts a new scheduled message and returns its ID.
// The row always starts out pending.
func (r *Repository) CreateMessage(ctx context.Context, m model.ScheduledMessage) (uuid.UUID, error) {
	query := `
		INSERT INTO scheduled_messages (
		    target_id, target_type, message, scheduled_at, channel, status
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id;
    `

	err := r.db.QueryRowContext(
		ctx, query, m.TargetID, m.TargetType, m.Message, m.ScheduledAt, m.Channel, dispatch.StatusPending,
	).Scan(&m.ID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create scheduled message: %w", err)
	}

	return m.ID, nil
}

// GetMessageStatusByID retrieves the current status of a scheduled message.
func (r *Repository) GetMessageStatusByID(ctx context.Context, id uuid.UUID) (dispatch.Status, error) {
	query := `
		SELECT status
		FROM scheduled_messages
		WHERE id = $1;
    `

	var raw string
	err := r.db.QueryRowContext(ctx, query, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrMessageNotFound
		}

		return "", fmt.Errorf("failed to get scheduled message status: %w", err)
	}

	status, err := dispatch.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("failed to parse scheduled message status: %w", err)
	}

	return status, nil
}

// GetAllMessages retrieves all scheduled messages ordered by ScheduledAt descending.
func (r *Repository) GetAllMessages(ctx context.Context) ([]model.ScheduledMessage, error) {
	query := `
		SELECT id, target_id, target_type, message, scheduled_at, channel, status, sent_at, created_at
		FROM scheduled_messages
		ORDER BY scheduled_at DESC;
    `

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get scheduled messages: %w", err)
	}
	defer rows.Close()

	// an empty view is a normal state, callers get an empty array
	messages := []model.ScheduledMessage{}
	for rows.Next() {
		var m model.ScheduledMessage
		if err := rows.Scan(
			&m.ID, &m.TargetID, &m.TargetType, &m.Message, &m.ScheduledAt,
			&m.Channel, &m.Status, &m.SentAt, &m.CreatedAt,
		); err != nil {
			return nil, err
		}

		messages = append(messages, m)
	}

	return messages, nil
}

// CancelMessage moves a pending message to cancelled. If the row exists but
// is no longer pending, ErrNotPending is returned so the caller can surface
// a transition error instead of silently ignoring a stale view.
func (r *Repository) CancelMessage(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE scheduled_messages
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3;
    `

	res, err := r.db.ExecContext(ctx, query, dispatch.StatusCancelled, id, dispatch.StatusPending)
	if err != nil {
		return fmt.Errorf("failed to cancel scheduled message: %w", err)
	}

	rows, _ := res.RowsAffected()
	if rows == 0 {
		return r.missReason(ctx, id)
	}

	return nil
}

// DeleteMessage removes a message, permitted only while it is pending.
func (r *Repository) DeleteMessage(ctx context.Context, id uuid.UUID) error {
	query := `
		DELETE FROM scheduled_messages
		WHERE id = $1 AND status = $2;
    `

	res, err := r.db.ExecContext(ctx, query, id, dispatch.StatusPending)
	if err != nil {
		return fmt.Errorf("failed to delete scheduled message: %w", err)
	}

	rows, _ := res.RowsAffected()
	if rows == 0 {
		return r.missReason(ctx, id)
	}

	return nil
}

// missReason distinguishes a missing row from a row that left pending.
func (r *Repository) missReason(ctx context.Context, id uuid.UUID) error {
	_, err := r.GetMessageStatusByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrMessageNotFound) {
			return ErrMessageNotFound
		}

		return err
	}

	return ErrNotPending
}
