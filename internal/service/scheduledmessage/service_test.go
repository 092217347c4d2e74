package scheduledmessage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/retry"

	"github.com/opsdeskhq/opsdesk/internal/dispatch"
	"github.com/opsdeskhq/opsdesk/internal/model"
	repo "github.com/opsdeskhq/opsdesk/internal/repository/scheduledmessage"
	"github.com/opsdeskhq/opsdesk/internal/schedule"
	"github.com/opsdeskhq/opsdesk/pkg/convo"
)

type fakeRepo struct {
	createdID uuid.UUID
	created   []model.ScheduledMessage
	status    dispatch.Status
	statusErr error
	cancelErr error
	deleteErr error
}

func (f *fakeRepo) CreateMessage(_ context.Context, m model.ScheduledMessage) (uuid.UUID, error) {
	f.created = append(f.created, m)
	return f.createdID, nil
}

func (f *fakeRepo) GetMessageStatusByID(context.Context, uuid.UUID) (dispatch.Status, error) {
	return f.status, f.statusErr
}

func (f *fakeRepo) GetAllMessages(context.Context) ([]model.ScheduledMessage, error) {
	return f.created, nil
}

func (f *fakeRepo) CancelMessage(context.Context, uuid.UUID) error { return f.cancelErr }
func (f *fakeRepo) DeleteMessage(context.Context, uuid.UUID) error { return f.deleteErr }

type fakeContacts struct {
	err   error
	calls int
}

func (f *fakeContacts) GetContact(_ context.Context, id uuid.UUID) (convo.Contact, error) {
	f.calls++
	if f.err != nil {
		return convo.Contact{}, f.err
	}
	return convo.Contact{ID: id, Name: "Acme Corp"}, nil
}

type fakeCache struct {
	values  map[string]string
	deleted []string
}

func newFakeCache() *fakeCache { return &fakeCache{values: map[string]string{}} }

func (f *fakeCache) SetWithRetry(_ context.Context, _ retry.Strategy, key string, value interface{}) error {
	f.values[key] = value.(string)
	return nil
}

func (f *fakeCache) GetWithRetry(_ context.Context, _ retry.Strategy, key string) (string, error) {
	v, ok := f.values[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (f *fakeCache) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, k := range keys {
		delete(f.values, k)
	}
	f.deleted = append(f.deleted, keys...)
	return redis.NewIntResult(int64(len(keys)), nil)
}

var strategy = retry.Strategy{Attempts: 1, Delay: time.Millisecond}

func newService(r *fakeRepo, contacts *fakeContacts, cache *fakeCache, now time.Time) *Service {
	s := NewService(r, contacts, cache)
	s.now = func() time.Time { return now }
	return s
}

func TestCreateMessage(t *testing.T) {
	now := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	id := uuid.New()

	r := &fakeRepo{createdID: id}
	contacts := &fakeContacts{}
	cache := newFakeCache()
	s := newService(r, contacts, cache, now)

	m := model.ScheduledMessage{
		TargetID:    uuid.New(),
		TargetType:  "contact",
		Message:     "Renewal reminder",
		Channel:     "email",
		ScheduledAt: now.Add(time.Hour),
	}

	got, err := s.CreateMessage(context.Background(), strategy, m)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	require.Len(t, r.created, 1)
	assert.Equal(t, dispatch.StatusPending, r.created[0].Status)
	assert.Equal(t, string(dispatch.StatusPending), cache.values[id.String()])
}

func TestCreateMessage_NotInFuture(t *testing.T) {
	now := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

	r := &fakeRepo{}
	contacts := &fakeContacts{}
	s := newService(r, contacts, newFakeCache(), now)

	for _, at := range []time.Time{now, now.Add(-time.Minute)} {
		_, err := s.CreateMessage(context.Background(), strategy, model.ScheduledMessage{
			TargetID:    uuid.New(),
			ScheduledAt: at,
		})
		assert.ErrorIs(t, err, schedule.ErrNotInFuture)
	}

	// rejected before any lookup or write
	assert.Zero(t, contacts.calls)
	assert.Empty(t, r.created)
}

func TestCreateMessage_UnknownTarget(t *testing.T) {
	now := time.Now().UTC()

	r := &fakeRepo{}
	contacts := &fakeContacts{err: convo.ErrContactNotFound}
	s := newService(r, contacts, newFakeCache(), now)

	_, err := s.CreateMessage(context.Background(), strategy, model.ScheduledMessage{
		TargetID:    uuid.New(),
		ScheduledAt: now.Add(time.Hour),
	})

	assert.ErrorIs(t, err, ErrUnknownTarget)
	assert.Empty(t, r.created)
}

func TestGetMessageStatusByID_CacheHit(t *testing.T) {
	id := uuid.New()

	r := &fakeRepo{statusErr: errors.New("must not be called")}
	cache := newFakeCache()
	cache.values[id.String()] = string(dispatch.StatusQueued)
	s := newService(r, &fakeContacts{}, cache, time.Now())

	status, err := s.GetMessageStatusByID(context.Background(), strategy, id)
	require.NoError(t, err)
	assert.Equal(t, dispatch.StatusQueued, status)
}

func TestGetMessageStatusByID_CacheMiss(t *testing.T) {
	id := uuid.New()

	r := &fakeRepo{status: dispatch.StatusSent}
	cache := newFakeCache()
	s := newService(r, &fakeContacts{}, cache, time.Now())

	status, err := s.GetMessageStatusByID(context.Background(), strategy, id)
	require.NoError(t, err)
	assert.Equal(t, dispatch.StatusSent, status)

	// the miss warms the cache
	assert.Equal(t, string(dispatch.StatusSent), cache.values[id.String()])
}

func TestCancelMessage_NotPending(t *testing.T) {
	r := &fakeRepo{cancelErr: repo.ErrNotPending}
	s := newService(r, &fakeContacts{}, newFakeCache(), time.Now())

	err := s.CancelMessage(context.Background(), strategy, uuid.New())
	assert.ErrorIs(t, err, dispatch.ErrInvalidTransition)
}

func TestCancelMessage(t *testing.T) {
	id := uuid.New()

	cache := newFakeCache()
	s := newService(&fakeRepo{}, &fakeContacts{}, cache, time.Now())

	require.NoError(t, s.CancelMessage(context.Background(), strategy, id))
	assert.Equal(t, string(dispatch.StatusCancelled), cache.values[id.String()])
}

func TestDeleteMessage(t *testing.T) {
	id := uuid.New()

	cache := newFakeCache()
	cache.values[id.String()] = string(dispatch.StatusPending)
	s := newService(&fakeRepo{}, &fakeContacts{}, cache, time.Now())

	require.NoError(t, s.DeleteMessage(context.Background(), id))
	assert.Equal(t, []string{id.String()}, cache.deleted)
}

func TestDeleteMessage_NotPending(t *testing.T) {
	r := &fakeRepo{deleteErr: repo.ErrNotPending}
	cache := newFakeCache()
	s := newService(r, &fakeContacts{}, cache, time.Now())

	err := s.DeleteMessage(context.Background(), uuid.New())
	assert.ErrorIs(t, err, dispatch.ErrInvalidTransition)
	assert.Empty(t, cache.deleted)
}
