package notification

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/opsdeskhq/opsdesk/internal/events"
	"github.com/opsdeskhq/opsdesk/internal/model"
)

type notificationRepository interface {
	CreateNotification(context.Context, model.Notification) (model.Notification, error)
	GetUserNotifications(context.Context, uuid.UUID) ([]model.Notification, error)
	CountUnread(context.Context, uuid.UUID) (int, error)
	MarkRead(ctx context.Context, userID, id uuid.UUID) (model.Notification, error)
	MarkAllRead(ctx context.Context, userID uuid.UUID) ([]model.Notification, error)
	DeleteNotification(ctx context.Context, userID, id uuid.UUID) (model.Notification, error)
}

type eventPublisher interface {
	Publish(env events.Envelope, strategy retry.Strategy) error
}

// Service persists notification rows and fans every mutation out on the
// per-user realtime stream, so connected sessions converge on the same view
// regardless of which surface caused the change.
type Service struct {
	repo   notificationRepository
	stream eventPublisher
}

// NewService creates a new notification service.
func NewService(repo notificationRepository, stream eventPublisher) *Service {
	return &Service{repo: repo, stream: stream}
}

// CreateNotification stores a notification and publishes the insert event.
// Publish failures are logged, not surfaced: the row is durable and any
// session resync will pick it up.
func (s *Service) CreateNotification(ctx context.Context, strategy retry.Strategy, n model.Notification) (model.Notification, error) {
	if n.Priority == "" {
		n.Priority = model.PriorityMedium
	}

	created, err := s.repo.CreateNotification(ctx, n)
	if err != nil {
		return model.Notification{}, fmt.Errorf("create notification: %w", err)
	}

	s.publish(events.Envelope{Event: events.KindInsert, New: &created}, strategy)

	return created, nil
}

// GetUserNotifications returns the authoritative notification list for a
// user, newest first. Sessions use it to seed and resync their inbox.
func (s *Service) GetUserNotifications(ctx context.Context, userID uuid.UUID) ([]model.Notification, error) {
	notifications, err := s.repo.GetUserNotifications(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user notifications: %w", err)
	}

	return notifications, nil
}

// CountUnread returns the server-side unread counter.
func (s *Service) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	count, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}

	return count, nil
}

// MarkRead acknowledges a notification and publishes the update event.
func (s *Service) MarkRead(ctx context.Context, strategy retry.Strategy, userID, id uuid.UUID) (model.Notification, error) {
	updated, err := s.repo.MarkRead(ctx, userID, id)
	if err != nil {
		return model.Notification{}, fmt.Errorf("mark notification read: %w", err)
	}

	s.publish(events.Envelope{Event: events.KindUpdate, New: &updated}, strategy)

	return updated, nil
}

// MarkAllRead acknowledges every unread notification of a user and
// publishes one update event per affected row.
func (s *Service) MarkAllRead(ctx context.Context, strategy retry.Strategy, userID uuid.UUID) (int, error) {
	updated, err := s.repo.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}

	for i := range updated {
		s.publish(events.Envelope{Event: events.KindUpdate, New: &updated[i]}, strategy)
	}

	return len(updated), nil
}

// DeleteNotification removes a notification and publishes the delete event
// with the removed row in Old.
func (s *Service) DeleteNotification(ctx context.Context, strategy retry.Strategy, userID, id uuid.UUID) error {
	removed, err := s.repo.DeleteNotification(ctx, userID, id)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}

	s.publish(events.Envelope{Event: events.KindDelete, Old: &removed}, strategy)

	return nil
}

func (s *Service) publish(env events.Envelope, strategy retry.Strategy) {
	if err := s.stream.Publish(env, strategy); err != nil {
		zlog.Logger.Error().Err(err).
			Str("event", string(env.Event)).
			Msg("failed to publish notification event")
	}
}
