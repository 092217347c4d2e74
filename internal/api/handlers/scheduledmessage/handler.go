package scheduledmessage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/opsdeskhq/opsdesk/internal/api/respond"
	"github.com/opsdeskhq/opsdesk/internal/config"
	"github.com/opsdeskhq/opsdesk/internal/dispatch"
	"github.com/opsdeskhq/opsdesk/internal/model"
	repo "github.com/opsdeskhq/opsdesk/internal/repository/scheduledmessage"
	"github.com/opsdeskhq/opsdesk/internal/schedule"
	svc "github.com/opsdeskhq/opsdesk/internal/service/scheduledmessage"
)

// messageService defines the interface that the Handler depends on.
type messageService interface {
	CreateMessage(context.Context, retry.Strategy, model.ScheduledMessage) (uuid.UUID, error)
	GetMessageStatusByID(context.Context, retry.Strategy, uuid.UUID) (dispatch.Status, error)
	GetAllMessages(context.Context) ([]model.ScheduledMessage, error)
	CancelMessage(context.Context, retry.Strategy, uuid.UUID) error
	DeleteMessage(context.Context, uuid.UUID) error
}

// Handler handles HTTP requests for scheduled messages: creation, listing,
// status lookup, cancellation and deletion.
type Handler struct {
	service   messageService
	validator *validator.Validate
	cfg       *config.Config
}

// NewHandler creates a new Handler instance.
func NewHandler(s messageService, v *validator.Validate, cfg *config.Config) *Handler {
	return &Handler{service: s, validator: v, cfg: cfg}
}

// CreateRequest is the JSON body for scheduling a message. The delivery
// time arrives either as an absolute scheduled_at (ISO-8601 UTC) or as the
// scheduling dialog's discrete 12-hour clock fields.
type CreateRequest struct {
	TargetID   string `json:"target_id" validate:"required,uuid"`
	TargetType string `json:"target_type" validate:"required"`
	Message    string `json:"message" validate:"required"`
	Channel    string `json:"channel" validate:"required"`

	ScheduledAt string `json:"scheduled_at"`

	Date   string `json:"date"` // 2006-01-02
	Hour   int    `json:"hour"`
	Minute int    `json:"minute"`
	Period string `json:"period"` // AM or PM
}

// deliveryTime resolves the request's delivery instant in UTC.
func (r CreateRequest) deliveryTime() (time.Time, error) {
	if r.ScheduledAt != "" {
		t, err := time.Parse(time.RFC3339, r.ScheduledAt)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid scheduled_at format")
		}

		return t.UTC(), nil
	}

	day, err := time.Parse("2006-01-02", r.Date)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date format")
	}

	period, err := schedule.ParsePeriod(r.Period)
	if err != nil {
		return time.Time{}, err
	}

	return schedule.ComposeClock(day, r.Hour, r.Minute, period)
}

// Create handles POST requests to schedule a new message.
//
// Validation failures, including a delivery time that is not in the future,
// are rejected before the store is touched.
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

	scheduledAt, err := req.deliveryTime()
	if err != nil {
		zlog.Logger.Warn().Err(err).Msg("failed to resolve delivery time")
		respond.Fail(c.Writer, http.StatusBadRequest, err)
		return
	}

	msg := model.ScheduledMessage{
		TargetID:    uuid.MustParse(req.TargetID),
		TargetType:  req.TargetType,
		Message:     req.Message,
		ScheduledAt: scheduledAt,
		Channel:     req.Channel,
	}

	id, err := h.service.CreateMessage(c.Request.Context(), h.cfg.Retry, msg)
	if err != nil {
		switch {
		case errors.Is(err, schedule.ErrNotInFuture):
			respond.Fail(c.Writer, http.StatusBadRequest, schedule.ErrNotInFuture)
		case errors.Is(err, svc.ErrUnknownTarget):
			respond.Fail(c.Writer, http.StatusUnprocessableEntity, svc.ErrUnknownTarget)
		default:
			zlog.Logger.Error().Err(err).Msg("failed to create scheduled message")
			respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		}
		return
	}

	respond.Created(c.Writer, id)
}

// GetAll handles GET requests to list all scheduled messages. The client
// re-fetches through this endpoint after every mutating action.
func (h *Handler) GetAll(c *ginext.Context) {
	messages, err := h.service.GetAllMessages(c.Request.Context())
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to get scheduled messages")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, messages)
}

// GetStatus handles GET requests for the current lifecycle state of a message.
func (h *Handler) GetStatus(c *ginext.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	status, err := h.service.GetMessageStatusByID(c.Request.Context(), h.cfg.Retry, id)
	if err != nil {
		if errors.Is(err, repo.ErrMessageNotFound) {
			respond.Fail(c.Writer, http.StatusNotFound, repo.ErrMessageNotFound)
			return
		}

		zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to get message status")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, status)
}

// Cancel handles POST requests to cancel a pending message. Cancelling a
// message that already left pending is a conflict, not a no-op: it means
// the client acted on a stale view.
func (h *Handler) Cancel(c *ginext.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	if err := h.service.CancelMessage(c.Request.Context(), h.cfg.Retry, id); err != nil {
		h.failMutation(c, id, err, "cancel")
		return
	}

	respond.OK(c.Writer, "scheduled message cancelled")
}

// Delete handles DELETE requests; permitted only while the message is pending.
func (h *Handler) Delete(c *ginext.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	if err := h.service.DeleteMessage(c.Request.Context(), id); err != nil {
		h.failMutation(c, id, err, "delete")
		return
	}

	respond.OK(c.Writer, "scheduled message deleted")
}

func (h *Handler) failMutation(c *ginext.Context, id uuid.UUID, err error, op string) {
	switch {
	case errors.Is(err, dispatch.ErrInvalidTransition):
		zlog.Logger.Warn().Str("id", id.String()).Err(err).Msgf("stale %s attempt", op)
		respond.Fail(c.Writer, http.StatusConflict, dispatch.ErrInvalidTransition)
	case errors.Is(err, repo.ErrMessageNotFound):
		respond.Fail(c.Writer, http.StatusNotFound, repo.ErrMessageNotFound)
	default:
		zlog.Logger.Error().Err(err).Str("id", id.String()).Msgf("failed to %s scheduled message", op)
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
	}
}

func (h *Handler) pathID(c *ginext.Context) (uuid.UUID, bool) {
	idStr := c.Param("id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		zlog.Logger.Warn().Str("id", idStr).Msg("invalid message id")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid id"))
		return uuid.Nil, false
	}

	return id, true
}
