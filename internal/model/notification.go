package model

import (
	"time"

	"github.com/google/uuid"
)

// NotificationType classifies what a notification is about.
type NotificationType string

const (
	TypeMessageArrived      NotificationType = "message_arrived"
	TypeConversationStarted NotificationType = "conversation_started"
	TypeAssignment          NotificationType = "assignment"
	TypeReminder            NotificationType = "reminder"
	TypeOrderUpdate         NotificationType = "order_update"
	TypeMention             NotificationType = "mention"
	TypeInvitation          NotificationType = "invitation"
	TypeSystem              NotificationType = "system"
)

// Priority is the urgency of a notification.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Notification represents a user-owned event record surfaced to alert the
// user of something happening elsewhere in the system.
type Notification struct {
	ID        uuid.UUID        `json:"id"`
	UserID    uuid.UUID        `json:"user_id"` // owner, also the realtime subscription filter key
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Priority  Priority         `json:"priority"`
	Read      bool             `json:"read"`    // monotonic false -> true
	ReadAt    *time.Time       `json:"read_at"` // set iff Read
	ActionURL string           `json:"action_url,omitempty"`
	Metadata  map[string]any   `json:"metadata,omitempty"` // type-specific payload
	CreatedAt time.Time        `json:"created_at"`
}
