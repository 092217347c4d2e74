// Package events carries notification change events between the store-facing
// services and the per-user client sessions over a RabbitMQ topic exchange.
//
// Every mutation of a notification row is published with the owner's routing
// key; a session binds its own queue to exactly that key, so the broker does
// the per-user scoping and a session can never observe another user's events.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/rabbitmq"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/opsdeskhq/opsdesk/internal/model"
)

const (
	ExchangeName = "crm.notifications"
	TableName    = "notifications"

	// idle session queues are dropped by the broker after a minute
	queueTTLMillis = int32(60_000)
)

// Kind is the type of change an envelope describes.
type Kind string

const (
	KindInsert Kind = "insert"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Envelope is the wire format of a single notification change event.
// New is set for inserts and updates, Old for deletes.
type Envelope struct {
	Event Kind                `json:"event"`
	Table string              `json:"table"`
	New   *model.Notification `json:"new,omitempty"`
	Old   *model.Notification `json:"old,omitempty"`
}

// Row returns whichever record the envelope carries.
func (e Envelope) Row() *model.Notification {
	if e.New != nil {
		return e.New
	}
	return e.Old
}

// RoutingKey scopes an event to a single user.
func RoutingKey(userID uuid.UUID) string {
	return fmt.Sprintf("user.%s", userID)
}

// Stream wraps the notification events exchange with a publish side used by
// the services and a per-user subscribe side used by client sessions.
//
// Publishing reuses one channel; every subscription opens its own, so tearing
// a session down (or one session hitting a channel-level error) never touches
// the publish path or any other session's stream.
type Stream struct {
	conn      *rabbitmq.Connection
	pubCh     *rabbitmq.Channel
	exchange  string
	publisher *rabbitmq.Publisher
}

// NewStream opens the publish channel, declares the topic exchange and
// returns a Stream bound to it.
func NewStream(conn *rabbitmq.Connection) (*Stream, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open publish channel: %w", err)
	}

	exchange := rabbitmq.NewExchange(ExchangeName, "topic")
	if err := exchange.BindToChannel(ch); err != nil {
		return nil, fmt.Errorf("failed to bind to exchange: %w", err)
	}

	return &Stream{
		conn:      conn,
		pubCh:     ch,
		exchange:  exchange.Name(),
		publisher: rabbitmq.NewPublisher(ch, exchange.Name()),
	}, nil
}

// Close shuts the publish channel down.
func (s *Stream) Close() error {
	return s.pubCh.Close()
}

// Publish fans a change event out to the owning user's sessions.
func (s *Stream) Publish(env Envelope, strategy retry.Strategy) error {
	row := env.Row()
	if row == nil {
		return fmt.Errorf("envelope carries no notification row")
	}

	env.Table = TableName

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	return s.publisher.PublishWithRetry(body, RoutingKey(row.UserID), "application/json", strategy)
}

// Subscribe opens a dedicated channel, declares a private queue bound to the
// user's routing key and feeds decoded envelopes into out. It blocks for the
// lifetime of the subscription; cancelling ctx closes the channel, which ends
// the broker-side consumer, releases the queue for its TTL and makes
// Subscribe return.
func (s *Stream) Subscribe(ctx context.Context, userID uuid.UUID, out chan<- Envelope, strategy retry.Strategy) error {
	ch, err := s.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open session channel: %w", err)
	}
	defer ch.Close()

	subscribed := make(chan struct{})
	defer close(subscribed)

	go func() {
		select {
		case <-ctx.Done():
			// unblocks the consumer's delivery loop
			_ = ch.Close()
		case <-subscribed:
		}
	}()

	queueName := fmt.Sprintf("notify.%s.%s", userID, uuid.NewString()[:8])

	qm := rabbitmq.NewQueueManager(ch)
	q, err := qm.DeclareQueue(queueName, rabbitmq.QueueConfig{
		Durable: false,
		Args: map[string]interface{}{
			"x-expires": queueTTLMillis,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to declare session queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, RoutingKey(userID), s.exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind session queue: %w", err)
	}

	msgChan := make(chan []byte)
	decoded := make(chan struct{})

	go func() {
		defer close(decoded)
		forward(ctx, msgChan, out)
	}()

	consumer := rabbitmq.NewConsumer(ch, rabbitmq.NewConsumerConfig(q.Name))
	err = consumer.ConsumeWithRetry(msgChan, strategy)

	// the consumer is the only sender; closing here lets forward drain out
	close(msgChan)
	<-decoded

	if ctx.Err() != nil {
		return ctx.Err()
	}

	return err
}

// forward decodes raw deliveries into envelopes until msgs is closed. After
// ctx is cancelled it keeps draining msgs and discards, so a consumer blocked
// on a send always finds a receiver and can observe its channel closing.
func forward(ctx context.Context, msgs <-chan []byte, out chan<- Envelope) {
	for m := range msgs {
		if ctx.Err() != nil {
			continue
		}

		var env Envelope
		if err := json.Unmarshal(m, &env); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to unmarshal envelope")
			continue
		}

		select {
		case out <- env:
		case <-ctx.Done():
		}
	}
}
