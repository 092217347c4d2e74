// Package session ties one connected user to the notification pipeline: it
// owns the event bus subscription, the local inbox and the side-effect
// dispatcher, and serializes every mutation through a single reconciliation
// loop so bus events and user commands can never race.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/opsdeskhq/opsdesk/internal/alert"
	"github.com/opsdeskhq/opsdesk/internal/bus"
	"github.com/opsdeskhq/opsdesk/internal/events"
	"github.com/opsdeskhq/opsdesk/internal/inbox"
	"github.com/opsdeskhq/opsdesk/internal/model"
)

// Frame is one message pushed to the connected client.
type Frame struct {
	Type          string               `json:"type"`
	Notification  *model.Notification  `json:"notification,omitempty"`
	Notifications []model.Notification `json:"notifications,omitempty"`
	ID            uuid.UUID            `json:"id,omitempty"`
	UnreadCount   int                  `json:"unread_count"`
	Alert         *alert.Alert         `json:"alert,omitempty"`
}

const (
	FrameSnapshot = "snapshot"
	FrameInsert   = "insert"
	FrameUpdate   = "update"
	FrameDelete   = "delete"
	FrameSound    = "sound"
	FrameAlert    = "alert"
)

// Sink delivers frames to the client owning this session.
type Sink interface {
	Send(Frame) error
}

type eventBus interface {
	Start(ctx context.Context)
	Close()
	Events() <-chan events.Envelope
	State() bus.State
}

type notificationService interface {
	GetUserNotifications(ctx context.Context, userID uuid.UUID) ([]model.Notification, error)
	MarkRead(ctx context.Context, strategy retry.Strategy, userID, id uuid.UUID) (model.Notification, error)
	MarkAllRead(ctx context.Context, strategy retry.Strategy, userID uuid.UUID) (int, error)
	DeleteNotification(ctx context.Context, strategy retry.Strategy, userID, id uuid.UUID) error
}

type action int

const (
	actionMarkRead action = iota
	actionMarkAllRead
	actionDelete
)

type command struct {
	action action
	id     uuid.UUID
}

// Session is the per-connection context object. It is constructed when the
// user connects and torn down on disconnect; nothing about it outlives the
// connection.
type Session struct {
	userID   uuid.UUID
	bus      eventBus
	inbox    *inbox.Inbox
	alerts   *alert.Dispatcher
	svc      notificationService
	strategy retry.Strategy
	sink     Sink

	commands chan command
	done     chan struct{}
	cancel   context.CancelFunc

	closeOnce sync.Once
}

// New creates a session for one user connection.
func New(userID uuid.UUID, b eventBus, alerts *alert.Dispatcher, svc notificationService, strategy retry.Strategy, sink Sink) *Session {
	return &Session{
		userID:   userID,
		bus:      b,
		inbox:    inbox.New(),
		alerts:   alerts,
		svc:      svc,
		strategy: strategy,
		sink:     sink,
		commands: make(chan command, 8),
		done:     make(chan struct{}),
	}
}

// Start seeds the inbox from the store and launches the reconciliation loop.
func (s *Session) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.bus.Start(runCtx)

	go s.run(runCtx)
}

// Close tears the session down: the bus stops delivering, the loop exits,
// and any event still in flight is dropped instead of touching the inbox.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.bus.Close()
		if s.cancel != nil {
			s.cancel()
			<-s.done
		}
	})
}

// MarkRead asks the loop to acknowledge one notification.
func (s *Session) MarkRead(id uuid.UUID) { s.enqueue(command{action: actionMarkRead, id: id}) }

// MarkAllRead asks the loop to acknowledge everything.
func (s *Session) MarkAllRead() { s.enqueue(command{action: actionMarkAllRead}) }

// Delete asks the loop to remove one notification.
func (s *Session) Delete(id uuid.UUID) { s.enqueue(command{action: actionDelete, id: id}) }

// UnreadCount returns the derived unread counter.
func (s *Session) UnreadCount() int { return s.inbox.UnreadCount() }

// Notifications returns a copy of the local notification list.
func (s *Session) Notifications() []model.Notification { return s.inbox.Snapshot() }

// StreamState reports the health of the realtime subscription.
func (s *Session) StreamState() bus.State { return s.bus.State() }

func (s *Session) enqueue(cmd command) {
	select {
	case s.commands <- cmd:
	case <-s.done:
	}
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	s.resync(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-s.bus.Events():
			if !ok {
				return
			}
			s.apply(env)
		case cmd := <-s.commands:
			s.handle(ctx, cmd)
		}
	}
}

// apply folds one stream event into the inbox. Side effects run only on a
// genuine first insertion, so transport replays stay silent.
func (s *Session) apply(env events.Envelope) {
	switch env.Event {
	case events.KindInsert:
		if env.New == nil || env.New.UserID != s.userID {
			return
		}

		n := *env.New
		fresh := s.inbox.ApplyInsert(n)
		if fresh {
			s.send(Frame{Type: FrameInsert, Notification: &n, UnreadCount: s.inbox.UnreadCount()})
		}
		s.fire(n, fresh)

	case events.KindUpdate:
		if env.New == nil {
			return
		}

		s.inbox.ApplyUpdate(*env.New)
		s.send(Frame{Type: FrameUpdate, Notification: env.New, UnreadCount: s.inbox.UnreadCount()})

	case events.KindDelete:
		if env.Old == nil {
			return
		}

		s.inbox.ApplyDelete(env.Old.ID)
		s.send(Frame{Type: FrameDelete, ID: env.Old.ID, UnreadCount: s.inbox.UnreadCount()})
	}
}

// handle runs one user command: optimistic local mutation, then the remote
// acknowledgement. On remote failure the inbox is resynchronized from the
// store rather than patched back piecemeal.
func (s *Session) handle(ctx context.Context, cmd command) {
	now := time.Now().UTC()

	switch cmd.action {
	case actionMarkRead:
		s.inbox.MarkRead(cmd.id, now)
		if _, err := s.svc.MarkRead(ctx, s.strategy, s.userID, cmd.id); err != nil {
			zlog.Logger.Warn().Err(err).Str("id", cmd.id.String()).Msg("mark read failed, resyncing inbox")
			s.resync(ctx)
			return
		}

	case actionMarkAllRead:
		s.inbox.MarkAllRead(now)
		if _, err := s.svc.MarkAllRead(ctx, s.strategy, s.userID); err != nil {
			zlog.Logger.Warn().Err(err).Msg("mark all read failed, resyncing inbox")
			s.resync(ctx)
			return
		}

	case actionDelete:
		s.inbox.ApplyDelete(cmd.id)
		if err := s.svc.DeleteNotification(ctx, s.strategy, s.userID, cmd.id); err != nil {
			zlog.Logger.Warn().Err(err).Str("id", cmd.id.String()).Msg("delete failed, resyncing inbox")
			s.resync(ctx)
			return
		}
	}

	s.send(Frame{Type: FrameSnapshot, Notifications: s.inbox.Snapshot(), UnreadCount: s.inbox.UnreadCount()})
}

// resync replaces the local view with the authoritative server list. It runs
// inside the loop, so no stale response can ever land on top of newer state.
func (s *Session) resync(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	items, err := s.svc.GetUserNotifications(ctx, s.userID)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("user_id", s.userID.String()).Msg("inbox resync failed")
		return
	}

	s.inbox.Replace(items)
	s.send(Frame{Type: FrameSnapshot, Notifications: s.inbox.Snapshot(), UnreadCount: s.inbox.UnreadCount()})
}

func (s *Session) fire(n model.Notification, fresh bool) {
	if s.alerts != nil {
		s.alerts.Notify(n, fresh)
	}
}

func (s *Session) send(f Frame) {
	if s.sink == nil {
		return
	}

	if err := s.sink.Send(f); err != nil {
		zlog.Logger.Warn().Err(err).Msg("failed to push frame to client")
	}
}
