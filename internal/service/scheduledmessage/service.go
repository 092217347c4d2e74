package scheduledmessage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/opsdeskhq/opsdesk/internal/dispatch"
	"github.com/opsdeskhq/opsdesk/internal/model"
	repo "github.com/opsdeskhq/opsdesk/internal/repository/scheduledmessage"
	"github.com/opsdeskhq/opsdesk/internal/schedule"
	"github.com/opsdeskhq/opsdesk/pkg/convo"
)

// ErrUnknownTarget means the conversation platform does not know the
// requested recipient, so nothing was scheduled.
var ErrUnknownTarget = errors.New("unknown target contact")

type messageRepository interface {
	CreateMessage(context.Context, model.ScheduledMessage) (uuid.UUID, error)
	GetMessageStatusByID(context.Context, uuid.UUID) (dispatch.Status, error)
	GetAllMessages(context.Context) ([]model.ScheduledMessage, error)
	CancelMessage(context.Context, uuid.UUID) error
	DeleteMessage(context.Context, uuid.UUID) error
}

type contactDirectory interface {
	GetContact(ctx context.Context, id uuid.UUID) (convo.Contact, error)
}

type cache interface {
	SetWithRetry(ctx context.Context, strategy retry.Strategy, key string, value interface{}) error
	GetWithRetry(ctx context.Context, strategy retry.Strategy, key string) (string, error)
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Service is the scheduled-message intake: it enforces the temporal and
// state invariants before anything reaches the store, and keeps the Redis
// status cache warm for the status endpoint.
type Service struct {
	repo     messageRepository
	contacts contactDirectory
	cache    cache
	now      func() time.Time
}

// NewService creates a new scheduled message service.
func NewService(repo messageRepository, contacts contactDirectory, cache cache) *Service {
	return &Service{repo: repo, contacts: contacts, cache: cache, now: time.Now}
}

// CreateMessage validates and persists a new scheduled message. A delivery
// time at or before now is rejected locally with schedule.ErrNotInFuture
// before any network round-trip; an unknown target is rejected with
// ErrUnknownTarget and nothing is created.
func (s *Service) CreateMessage(ctx context.Context, strategy retry.Strategy, m model.ScheduledMessage) (uuid.UUID, error) {
	if err := schedule.ValidateFuture(m.ScheduledAt, s.now()); err != nil {
		return uuid.Nil, err
	}

	if _, err := s.contacts.GetContact(ctx, m.TargetID); err != nil {
		if errors.Is(err, convo.ErrContactNotFound) {
			return uuid.Nil, ErrUnknownTarget
		}

		return uuid.Nil, fmt.Errorf("resolve target contact: %w", err)
	}

	m.Status = dispatch.StatusPending

	id, err := s.repo.CreateMessage(ctx, m)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create scheduled message: %w", err)
	}

	if err := s.cache.SetWithRetry(ctx, strategy, id.String(), string(m.Status)); err != nil {
		zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to cache message status")
	}

	return id, nil
}

// GetMessageStatusByID returns the current lifecycle state of a message,
// served from the Redis cache with a store fallthrough on miss.
func (s *Service) GetMessageStatusByID(ctx context.Context, strategy retry.Strategy, id uuid.UUID) (dispatch.Status, error) {
	cached, err := s.cache.GetWithRetry(ctx, strategy, id.String())
	if err != nil && !errors.Is(err, redis.Nil) {
		zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to get message status from cache")
	}

	if err == nil {
		if status, parseErr := dispatch.Parse(cached); parseErr == nil {
			return status, nil
		}
	}

	status, err := s.repo.GetMessageStatusByID(ctx, id)
	if err != nil {
		return "", fmt.Errorf("get message status: %w", err)
	}

	if err := s.cache.SetWithRetry(ctx, strategy, id.String(), string(status)); err != nil {
		zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to cache message status")
	}

	return status, nil
}

// GetAllMessages re-fetches the full scheduled message view. Callers refresh
// through this after every mutating action instead of patching locally.
func (s *Service) GetAllMessages(ctx context.Context) ([]model.ScheduledMessage, error) {
	messages, err := s.repo.GetAllMessages(ctx)
	if err != nil {
		return nil, fmt.Errorf("get all scheduled messages: %w", err)
	}

	return messages, nil
}

// CancelMessage moves a pending message to cancelled. Cancelling a message
// that already left pending surfaces dispatch.ErrInvalidTransition, which
// tells the caller its view is stale.
func (s *Service) CancelMessage(ctx context.Context, strategy retry.Strategy, id uuid.UUID) error {
	err := s.repo.CancelMessage(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotPending) {
			return fmt.Errorf("cancel message %s: %w", id, dispatch.ErrInvalidTransition)
		}

		return fmt.Errorf("cancel message: %w", err)
	}

	if err := s.cache.SetWithRetry(ctx, strategy, id.String(), string(dispatch.StatusCancelled)); err != nil {
		zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to cache message status")
	}

	return nil
}

// DeleteMessage removes a message, permitted only while pending.
func (s *Service) DeleteMessage(ctx context.Context, id uuid.UUID) error {
	err := s.repo.DeleteMessage(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotPending) {
			return fmt.Errorf("delete message %s: %w", id, dispatch.ErrInvalidTransition)
		}

		return fmt.Errorf("delete message: %w", err)
	}

	if err := s.cache.Del(ctx, id.String()).Err(); err != nil {
		zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to drop cached message status")
	}

	return nil
}
