// Package ws upgrades a browser connection into a live notification session:
// one session per socket, frames out, user commands in.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/opsdeskhq/opsdesk/internal/alert"
	"github.com/opsdeskhq/opsdesk/internal/api/respond"
	"github.com/opsdeskhq/opsdesk/internal/bus"
	"github.com/opsdeskhq/opsdesk/internal/config"
	"github.com/opsdeskhq/opsdesk/internal/model"
	"github.com/opsdeskhq/opsdesk/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type notificationService interface {
	GetUserNotifications(ctx context.Context, userID uuid.UUID) ([]model.Notification, error)
	MarkRead(ctx context.Context, strategy retry.Strategy, userID, id uuid.UUID) (model.Notification, error)
	MarkAllRead(ctx context.Context, strategy retry.Strategy, userID uuid.UUID) (int, error)
	DeleteNotification(ctx context.Context, strategy retry.Strategy, userID, id uuid.UUID) error
}

// Handler serves the realtime notification socket.
type Handler struct {
	service notificationService
	source  bus.Source
	cfg     *config.Config
}

// NewHandler creates a new websocket handler.
func NewHandler(service notificationService, source bus.Source, cfg *config.Config) *Handler {
	return &Handler{service: service, source: source, cfg: cfg}
}

// incomingMessage is a command frame from the browser.
type incomingMessage struct {
	Action string `json:"action"` // mark_read, mark_all_read, delete
	ID     string `json:"id,omitempty"`
}

// client couples the socket with its outbound frame buffer. It implements
// session.Sink; a full buffer counts as a send failure rather than blocking
// the reconciliation loop.
type client struct {
	conn *websocket.Conn
	send chan session.Frame
}

func (c *client) Send(f session.Frame) error {
	select {
	case c.send <- f:
		return nil
	default:
		return errors.New("client send buffer full")
	}
}

// ServeWS handles GET requests upgrading to the notification socket.
//
// Delivery preferences ride along as query parameters: sound=off and
// desktop=off disable those effects, permission carries the browser's
// notification permission state.
func (h *Handler) ServeWS(c *ginext.Context) {
	userID, err := uuid.Parse(c.Query("user_id"))
	if err != nil {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid user_id"))
		return
	}

	settings := alert.DefaultSettings()
	if c.Query("sound") == "off" {
		settings.SoundEnabled = false
	}
	if c.Query("desktop") == "off" {
		settings.DesktopEnabled = false
	}

	permission := alert.PermissionDefault
	switch c.Query("permission") {
	case string(alert.PermissionGranted):
		permission = alert.PermissionGranted
	case string(alert.PermissionDenied):
		permission = alert.PermissionDenied
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	cl := &client{conn: conn, send: make(chan session.Frame, 32)}

	alerts := alert.NewDispatcher(
		settings,
		permission,
		func() { _ = cl.Send(session.Frame{Type: session.FrameSound}) },
		func(a alert.Alert) { _ = cl.Send(session.Frame{Type: session.FrameAlert, Alert: &a}) },
		nil, // navigation on click happens in the browser
	)

	b := bus.New(h.source, userID, h.cfg.Retry)
	sess := session.New(userID, b, alerts, h.service, h.cfg.Retry, cl)

	ctx, cancel := context.WithCancel(context.Background())
	sess.Start(ctx)

	go cl.writePump(ctx)

	// readPump blocks until the client goes away
	cl.readPump(sess)

	cancel()
	sess.Close()

	if err := conn.Close(); err != nil {
		zlog.Logger.Debug().Err(err).Msg("failed to close websocket")
	}
}

func (c *client) readPump(sess *session.Session) {
	for {
		var msg incomingMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				zlog.Logger.Warn().Err(err).Msg("websocket read error")
			}
			return
		}

		switch msg.Action {
		case "mark_read":
			id, err := uuid.Parse(msg.ID)
			if err != nil {
				continue
			}
			sess.MarkRead(id)
		case "mark_all_read":
			sess.MarkAllRead()
		case "delete":
			id, err := uuid.Parse(msg.ID)
			if err != nil {
				continue
			}
			sess.Delete(id)
		}
	}
}

func (c *client) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-c.send:
			if err := c.conn.WriteJSON(f); err != nil {
				zlog.Logger.Warn().Err(err).Msg("websocket write error")
				return
			}
		}
	}
}
