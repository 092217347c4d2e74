package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/retry"

	"github.com/opsdeskhq/opsdesk/internal/alert"
	"github.com/opsdeskhq/opsdesk/internal/bus"
	"github.com/opsdeskhq/opsdesk/internal/events"
	"github.com/opsdeskhq/opsdesk/internal/model"
)

type fakeBus struct {
	ch        chan events.Envelope
	closeOnce sync.Once
}

func newFakeBus() *fakeBus {
	return &fakeBus{ch: make(chan events.Envelope, 8)}
}

func (f *fakeBus) Start(context.Context)          {}
func (f *fakeBus) Close()                         { f.closeOnce.Do(func() { close(f.ch) }) }
func (f *fakeBus) Events() <-chan events.Envelope { return f.ch }
func (f *fakeBus) State() bus.State               { return bus.StateSubscribed }

type fakeService struct {
	mu sync.Mutex

	list []model.Notification

	fetches       int
	markReadCalls int
	markAllCalls  int
	deleteCalls   int

	markReadErr error
	deleteErr   error
}

func (f *fakeService) GetUserNotifications(context.Context, uuid.UUID) ([]model.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return append([]model.Notification(nil), f.list...), nil
}

func (f *fakeService) MarkRead(_ context.Context, _ retry.Strategy, _, id uuid.UUID) (model.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markReadCalls++
	if f.markReadErr != nil {
		return model.Notification{}, f.markReadErr
	}
	return model.Notification{ID: id, Read: true}, nil
}

func (f *fakeService) MarkAllRead(context.Context, retry.Strategy, uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markAllCalls++
	return 0, nil
}

func (f *fakeService) DeleteNotification(context.Context, retry.Strategy, uuid.UUID, uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	return f.deleteErr
}

func (f *fakeService) stats() (fetches, markRead, markAll, deletes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches, f.markReadCalls, f.markAllCalls, f.deleteCalls
}

type frameRecorder struct {
	mu     sync.Mutex
	frames []Frame
}

func (r *frameRecorder) Send(f Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
	return nil
}

func (r *frameRecorder) byType(kind string) []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Frame
	for _, f := range r.frames {
		if f.Type == kind {
			out = append(out, f)
		}
	}
	return out
}

type effectCounter struct {
	mu     sync.Mutex
	sounds int
	alerts int
}

func (c *effectCounter) dispatcher() *alert.Dispatcher {
	return alert.NewDispatcher(
		alert.DefaultSettings(),
		alert.PermissionGranted,
		func() { c.mu.Lock(); c.sounds++; c.mu.Unlock() },
		func(alert.Alert) { c.mu.Lock(); c.alerts++; c.mu.Unlock() },
		nil,
	)
}

func (c *effectCounter) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sounds, c.alerts
}

func notificationFor(userID uuid.UUID) model.Notification {
	return model.Notification{
		ID:       uuid.New(),
		UserID:   userID,
		Type:     model.TypeMessageArrived,
		Title:    "New message",
		Priority: model.PriorityMedium,
	}
}

func startSession(t *testing.T, svc *fakeService) (*Session, *fakeBus, *frameRecorder, *effectCounter, uuid.UUID) {
	t.Helper()

	userID := uuid.New()
	fb := newFakeBus()
	rec := &frameRecorder{}
	effects := &effectCounter{}

	sess := New(userID, fb, effects.dispatcher(), svc, retry.Strategy{Attempts: 1, Delay: time.Millisecond}, rec)
	sess.Start(context.Background())
	t.Cleanup(sess.Close)

	// the seed resync has run once the first snapshot frame is out
	require.Eventually(t, func() bool {
		return len(rec.byType(FrameSnapshot)) > 0
	}, time.Second, 5*time.Millisecond)

	return sess, fb, rec, effects, userID
}

func TestSession_InsertFiresEffectsOnce(t *testing.T) {
	svc := &fakeService{}
	sess, fb, rec, effects, userID := startSession(t, svc)

	n := notificationFor(userID)
	env := events.Envelope{Event: events.KindInsert, New: &n}

	fb.ch <- env
	fb.ch <- env // transport replay

	require.Eventually(t, func() bool {
		return sess.UnreadCount() == 1
	}, time.Second, 5*time.Millisecond)

	// give the duplicate time to be (not) processed
	time.Sleep(20 * time.Millisecond)

	sounds, alerts := effects.counts()
	assert.Equal(t, 1, sounds)
	assert.Equal(t, 1, alerts)
	assert.Len(t, rec.byType(FrameInsert), 1)
	assert.Len(t, sess.Notifications(), 1)
}

func TestSession_ForeignUserEventsIgnored(t *testing.T) {
	svc := &fakeService{}
	sess, fb, _, _, _ := startSession(t, svc)

	n := notificationFor(uuid.New()) // someone else's notification
	fb.ch <- events.Envelope{Event: events.KindInsert, New: &n}

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, sess.UnreadCount())
	assert.Empty(t, sess.Notifications())
}

func TestSession_MarkReadThenEchoedUpdate(t *testing.T) {
	svc := &fakeService{}
	sess, fb, _, _, userID := startSession(t, svc)

	n := notificationFor(userID)
	fb.ch <- events.Envelope{Event: events.KindInsert, New: &n}

	require.Eventually(t, func() bool { return sess.UnreadCount() == 1 }, time.Second, 5*time.Millisecond)

	sess.MarkRead(n.ID)

	require.Eventually(t, func() bool {
		_, markRead, _, _ := svc.stats()
		return markRead == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, sess.UnreadCount())

	// the server echoes the update on the stream; the counter must not
	// be decremented a second time
	updated := n
	updated.Read = true
	fb.ch <- events.Envelope{Event: events.KindUpdate, New: &updated}

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, sess.UnreadCount())
	assert.Len(t, sess.Notifications(), 1)
}

func TestSession_MarkReadFailureResyncs(t *testing.T) {
	svc := &fakeService{markReadErr: errors.New("store unavailable")}
	sess, fb, _, _, userID := startSession(t, svc)

	n := notificationFor(userID)
	svc.mu.Lock()
	svc.list = []model.Notification{n} // authoritative state still unread
	svc.mu.Unlock()

	fb.ch <- events.Envelope{Event: events.KindInsert, New: &n}
	require.Eventually(t, func() bool { return sess.UnreadCount() == 1 }, time.Second, 5*time.Millisecond)

	sess.MarkRead(n.ID)

	// remote ack failed, so the inbox is rebuilt from the server list
	require.Eventually(t, func() bool {
		fetches, _, _, _ := svc.stats()
		return fetches >= 2
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool { return sess.UnreadCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSession_DeleteFailureResyncs(t *testing.T) {
	svc := &fakeService{deleteErr: errors.New("store unavailable")}
	sess, fb, _, _, userID := startSession(t, svc)

	n := notificationFor(userID)
	svc.mu.Lock()
	svc.list = []model.Notification{n} // authoritative state still holds the row
	svc.mu.Unlock()

	fb.ch <- events.Envelope{Event: events.KindInsert, New: &n}
	require.Eventually(t, func() bool { return sess.UnreadCount() == 1 }, time.Second, 5*time.Millisecond)

	sess.Delete(n.ID)

	// the optimistic local removal is rolled back from the server list
	require.Eventually(t, func() bool {
		fetches, _, _, deletes := svc.stats()
		return deletes == 1 && fetches >= 2
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(sess.Notifications()) == 1 && sess.UnreadCount() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSession_DeleteEvent(t *testing.T) {
	svc := &fakeService{}
	sess, fb, _, _, userID := startSession(t, svc)

	n := notificationFor(userID)
	fb.ch <- events.Envelope{Event: events.KindInsert, New: &n}
	require.Eventually(t, func() bool { return sess.UnreadCount() == 1 }, time.Second, 5*time.Millisecond)

	old := n
	fb.ch <- events.Envelope{Event: events.KindDelete, Old: &old}

	require.Eventually(t, func() bool {
		return len(sess.Notifications()) == 0 && sess.UnreadCount() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestSession_MarkAllRead(t *testing.T) {
	svc := &fakeService{}
	sess, fb, _, _, userID := startSession(t, svc)

	for i := 0; i < 3; i++ {
		n := notificationFor(userID)
		fb.ch <- events.Envelope{Event: events.KindInsert, New: &n}
	}
	require.Eventually(t, func() bool { return sess.UnreadCount() == 3 }, time.Second, 5*time.Millisecond)

	sess.MarkAllRead()

	require.Eventually(t, func() bool {
		_, _, markAll, _ := svc.stats()
		return markAll == 1 && sess.UnreadCount() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestSession_CloseStopsLoop(t *testing.T) {
	svc := &fakeService{}
	sess, _, _, _, _ := startSession(t, svc)

	sess.Close()
	sess.Close() // idempotent

	assert.Equal(t, bus.StateSubscribed, sess.StreamState()) // fake bus state
}
