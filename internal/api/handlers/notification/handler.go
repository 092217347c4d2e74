package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/opsdeskhq/opsdesk/internal/api/respond"
	"github.com/opsdeskhq/opsdesk/internal/config"
	"github.com/opsdeskhq/opsdesk/internal/model"
	repo "github.com/opsdeskhq/opsdesk/internal/repository/notification"
)

type notificationService interface {
	CreateNotification(context.Context, retry.Strategy, model.Notification) (model.Notification, error)
	GetUserNotifications(ctx context.Context, userID uuid.UUID) ([]model.Notification, error)
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
	MarkRead(ctx context.Context, strategy retry.Strategy, userID, id uuid.UUID) (model.Notification, error)
	MarkAllRead(ctx context.Context, strategy retry.Strategy, userID uuid.UUID) (int, error)
	DeleteNotification(ctx context.Context, strategy retry.Strategy, userID, id uuid.UUID) error
}

// Handler handles the notification REST surface. Live websocket sessions
// converge on the same state through the event stream, so these endpoints
// are safe to use alongside them.
type Handler struct {
	service   notificationService
	validator *validator.Validate
	cfg       *config.Config
}

// NewHandler creates a new Handler instance.
func NewHandler(s notificationService, v *validator.Validate, cfg *config.Config) *Handler {
	return &Handler{service: s, validator: v, cfg: cfg}
}

// CreateRequest is the JSON body other CRM modules submit to raise a
// notification for a user.
type CreateRequest struct {
	UserID    string         `json:"user_id" validate:"required,uuid"`
	Type      string         `json:"type" validate:"required"`
	Title     string         `json:"title" validate:"required"`
	Message   string         `json:"message" validate:"required"`
	Priority  string         `json:"priority"`
	ActionURL string         `json:"action_url"`
	Metadata  map[string]any `json:"metadata"`
}

// Create handles POST requests to raise a notification.
func (h *Handler) Create(c *ginext.Context) {
	var req CreateRequest

	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to decode request body")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid request body"))
		return
	}

	if err := h.validator.Struct(req); err != nil {
		zlog.Logger.Warn().Err(err).Msg("failed to validate request body")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("validation error: %s", err.Error()))
		return
	}

	n := model.Notification{
		UserID:    uuid.MustParse(req.UserID),
		Type:      model.NotificationType(req.Type),
		Title:     req.Title,
		Message:   req.Message,
		Priority:  model.Priority(req.Priority),
		ActionURL: req.ActionURL,
		Metadata:  req.Metadata,
	}

	created, err := h.service.CreateNotification(c.Request.Context(), h.cfg.Retry, n)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to create notification")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.Created(c.Writer, created)
}

// GetAll handles GET requests for a user's notification list, newest first.
func (h *Handler) GetAll(c *ginext.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	notifications, err := h.service.GetUserNotifications(c.Request.Context(), userID)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to get notifications")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, notifications)
}

// UnreadCount handles GET requests for the server-side unread counter.
func (h *Handler) UnreadCount(c *ginext.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	count, err := h.service.CountUnread(c.Request.Context(), userID)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to count unread notifications")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, count)
}

// MarkRead handles PUT requests acknowledging a single notification.
func (h *Handler) MarkRead(c *ginext.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	id, ok := h.pathID(c)
	if !ok {
		return
	}

	updated, err := h.service.MarkRead(c.Request.Context(), h.cfg.Retry, userID, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotificationNotFound) {
			respond.Fail(c.Writer, http.StatusNotFound, repo.ErrNotificationNotFound)
			return
		}

		zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to mark notification read")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, updated)
}

// MarkAllRead handles PUT requests acknowledging everything at once.
func (h *Handler) MarkAllRead(c *ginext.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	count, err := h.service.MarkAllRead(c.Request.Context(), h.cfg.Retry, userID)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to mark notifications read")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, count)
}

// Delete handles DELETE requests removing one notification.
func (h *Handler) Delete(c *ginext.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	id, ok := h.pathID(c)
	if !ok {
		return
	}

	if err := h.service.DeleteNotification(c.Request.Context(), h.cfg.Retry, userID, id); err != nil {
		if errors.Is(err, repo.ErrNotificationNotFound) {
			respond.Fail(c.Writer, http.StatusNotFound, repo.ErrNotificationNotFound)
			return
		}

		zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to delete notification")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, "notification deleted")
}

func (h *Handler) userID(c *ginext.Context) (uuid.UUID, bool) {
	raw := c.Query("user_id")
	id, err := uuid.Parse(raw)
	if err != nil {
		zlog.Logger.Warn().Str("user_id", raw).Msg("invalid user id")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid user_id"))
		return uuid.Nil, false
	}

	return id, true
}

func (h *Handler) pathID(c *ginext.Context) (uuid.UUID, bool) {
	idStr := c.Param("id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		zlog.Logger.Warn().Str("id", idStr).Msg("invalid notification id")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid id"))
		return uuid.Nil, false
	}

	return id, true
}
