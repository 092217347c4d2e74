// Package dispatch models the delivery lifecycle of a scheduled message.
//
// A message starts out pending and is moved through queued and processing
// by the remote dispatcher. Sent, failed and cancelled are terminal. The
// only client-issued transition is pending -> cancelled.
package dispatch

import (
	"errors"
	"fmt"
)

// Status is the lifecycle state of a scheduled message.
type Status string

const (
	StatusPending    Status = "pending"
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// ErrInvalidTransition is returned when a requested status change is not
// allowed from the current state, e.g. cancelling an already sent message.
var ErrInvalidTransition = errors.New("invalid status transition")

// transitions holds the allowed forward edges of the lifecycle graph.
var transitions = map[Status][]Status{
	StatusPending:    {StatusQueued, StatusCancelled},
	StatusQueued:     {StatusProcessing},
	StatusProcessing: {StatusSent, StatusFailed},
}

// Parse converts a raw string into a Status.
func Parse(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusQueued, StatusProcessing, StatusSent, StatusFailed, StatusCancelled:
		return st, nil
	default:
		return "", fmt.Errorf("unknown status %q", s)
	}
}

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether moving from s to next follows the
// lifecycle graph. Terminal states admit no transitions.
func (s Status) CanTransition(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// CanCancel reports whether the user may cancel a message in state s.
func (s Status) CanCancel() bool {
	return s == StatusPending
}

// CanDelete reports whether the user may delete a message in state s.
func (s Status) CanDelete() bool {
	return s == StatusPending
}
