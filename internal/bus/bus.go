// Package bus maintains a client session's long-lived subscription to the
// per-user notification stream, reconnecting with backoff when the transport
// drops and exposing the connection state so the UI can indicate staleness.
package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/opsdeskhq/opsdesk/internal/events"
)

// State describes the health of the realtime subscription.
type State int32

const (
	StateClosed State = iota
	StateSubscribed
	StateError
)

func (s State) String() string {
	switch s {
	case StateSubscribed:
		return "subscribed"
	case StateError:
		return "error"
	default:
		return "closed"
	}
}

const (
	defaultDelay = time.Second
	maxDelay     = 30 * time.Second

	// a connection that survives this long resets the backoff
	healthyAfter = time.Minute
)

// Source opens a per-user event subscription. It blocks for the lifetime of
// the connection and returns when the transport fails or ctx is cancelled.
type Source interface {
	Subscribe(ctx context.Context, userID uuid.UUID, out chan<- events.Envelope, strategy retry.Strategy) error
}

// Bus owns one logical channel of notification events for a user session.
// Events are delivered on a single output channel in arrival order. After
// Close no further events are delivered, even if the transport still has
// some in flight.
type Bus struct {
	source   Source
	userID   uuid.UUID
	strategy retry.Strategy

	out   chan events.Envelope
	state atomic.Int32
	alive atomic.Bool

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a bus for one user. Start must be called before events flow.
func New(source Source, userID uuid.UUID, strategy retry.Strategy) *Bus {
	b := &Bus{
		source:   source,
		userID:   userID,
		strategy: strategy,
		out:      make(chan events.Envelope, 16),
		done:     make(chan struct{}),
	}
	b.alive.Store(true)
	b.state.Store(int32(StateClosed))

	return b
}

// Events returns the channel the session's reconciliation loop consumes.
// It is closed once the bus shuts down.
func (b *Bus) Events() <-chan events.Envelope {
	return b.out
}

// State reports the current connection state.
func (b *Bus) State() State {
	return State(b.state.Load())
}

// Start launches the subscription loop.
func (b *Bus) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	go b.run(runCtx)
}

// Close tears the subscription down. It is idempotent and returns once the
// loop has fully stopped.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		b.alive.Store(false)
		if b.cancel != nil {
			b.cancel()
			<-b.done
		}
	})
}

func (b *Bus) run(ctx context.Context) {
	defer func() {
		b.state.Store(int32(StateClosed))
		close(b.out)
		close(b.done)
	}()

	base := b.strategy.Delay
	if base <= 0 {
		base = defaultDelay
	}
	delay := base

	for {
		if ctx.Err() != nil {
			return
		}

		subCtx, cancel := context.WithCancel(ctx)
		inner := make(chan events.Envelope)
		errc := make(chan error, 1)
		started := time.Now()

		b.state.Store(int32(StateSubscribed))

		go func() {
			errc <- b.source.Subscribe(subCtx, b.userID, inner, b.strategy)
		}()

		err := b.forward(ctx, inner, errc)
		cancel()

		if ctx.Err() != nil {
			return
		}

		// transport failure or unexpected close: back off, then resubscribe
		b.state.Store(int32(StateError))
		zlog.Logger.Warn().Err(err).
			Str("user_id", b.userID.String()).
			Dur("retry_in", delay).
			Msg("notification stream dropped, reconnecting")

		if time.Since(started) >= healthyAfter {
			delay = base
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

// forward pumps events from one connection into the output channel until
// the connection ends. Events arriving after teardown are dropped.
func (b *Bus) forward(ctx context.Context, inner <-chan events.Envelope, errc <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			return err
		case env := <-inner:
			if !b.alive.Load() {
				continue
			}

			select {
			case b.out <- env:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
