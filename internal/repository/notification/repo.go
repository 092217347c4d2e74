package notification

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/dbpg"

	"github.com/opsdeskhq/opsdesk/internal/model"
)

var (
	ErrNotificationNotFound = errors.New("notification not found")
)

const columns = `id, user_id, type, title, message, priority, read, read_at, action_url, metadata, created_at`

// Repository provides access to the notifications table. Mutating methods
// return the affected row so the caller can fan it out on the realtime stream.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new notification repository.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// CreateNotification inserts a new notification row and returns it with
// store-assigned fields populated.
func (r *Repository) CreateNotification(ctx context.Context, n model.Notification) (model.Notification, error) {
	query := `
		INSERT INTO notifications (
		    user_id, type, title, message, priority, action_url, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + columns + `;
    `

	meta, err := json.Marshal(n.Metadata)
	if err != nil {
		return model.Notification{}, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	row := r.db.QueryRowContext(
		ctx, query, n.UserID, n.Type, n.Title, n.Message, n.Priority, n.ActionURL, meta,
	)

	return scanNotification(row)
}

// GetUserNotifications retrieves all notifications for a user, newest first.
func (r *Repository) GetUserNotifications(ctx context.Context, userID uuid.UUID) ([]model.Notification, error) {
	query := `
		SELECT ` + columns + `
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC;
    `

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get notifications: %w", err)
	}
	defer rows.Close()

	var notifications []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}

		notifications = append(notifications, n)
	}

	return notifications, nil
}

// CountUnread returns the number of unread notifications for a user.
func (r *Repository) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM notifications
		WHERE user_id = $1 AND read = FALSE;
    `

	var count int
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}

	return count, nil
}

// MarkRead flips a notification to read and returns the updated row.
// Read is monotonic, a second call is a no-op that keeps the first read_at.
func (r *Repository) MarkRead(ctx context.Context, userID, id uuid.UUID) (model.Notification, error) {
	query := `
		UPDATE notifications
		SET read = TRUE, read_at = COALESCE(read_at, NOW())
		WHERE id = $1 AND user_id = $2
		RETURNING ` + columns + `;
    `

	n, err := scanNotification(r.db.QueryRowContext(ctx, query, id, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Notification{}, ErrNotificationNotFound
		}

		return model.Notification{}, fmt.Errorf("failed to mark notification read: %w", err)
	}

	return n, nil
}

// MarkAllRead flips every unread notification of a user and returns the
// updated rows so each can be published as an update event.
func (r *Repository) MarkAllRead(ctx context.Context, userID uuid.UUID) ([]model.Notification, error) {
	query := `
		UPDATE notifications
		SET read = TRUE, read_at = NOW()
		WHERE user_id = $1 AND read = FALSE
		RETURNING ` + columns + `;
    `

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	defer rows.Close()

	var notifications []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}

		notifications = append(notifications, n)
	}

	return notifications, nil
}

// DeleteNotification removes a notification and returns the removed row.
func (r *Repository) DeleteNotification(ctx context.Context, userID, id uuid.UUID) (model.Notification, error) {
	query := `
		DELETE FROM notifications
		WHERE id = $1 AND user_id = $2
		RETURNING ` + columns + `;
    `

	n, err := scanNotification(r.db.QueryRowContext(ctx, query, id, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Notification{}, ErrNotificationNotFound
		}

		return model.Notification{}, fmt.Errorf("failed to delete notification: %w", err)
	}

	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNotification(row scanner) (model.Notification, error) {
	var (
		n    model.Notification
		meta []byte
	)

	err := row.Scan(
		&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &n.Priority,
		&n.Read, &n.ReadAt, &n.ActionURL, &meta, &n.CreatedAt,
	)
	if err != nil {
		return model.Notification{}, err
	}

	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &n.Metadata); err != nil {
			return model.Notification{}, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return n, nil
}
