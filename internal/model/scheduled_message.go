package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/opsdeskhq/opsdesk/internal/dispatch"
)

// ScheduledMessage represents a persisted request to deliver a message to a
// CRM contact at a future time via an external channel.
type ScheduledMessage struct {
	ID          uuid.UUID       `json:"id"`           // unique identifier, assigned by the store
	TargetID    uuid.UUID       `json:"target_id"`    // recipient contact in the customer registry
	TargetType  string          `json:"target_type"`  // kind of target, e.g. "customer"
	Message     string          `json:"message"`      // outbound message body
	ScheduledAt time.Time       `json:"scheduled_at"` // delivery time, UTC
	Channel     string          `json:"channel"`      // delivery channel, e.g. "whatsapp"
	Status      dispatch.Status `json:"status"`       // current lifecycle state
	SentAt      *time.Time      `json:"sent_at"`      // set only when status becomes "sent"
	CreatedAt   time.Time       `json:"created_at"`
}
