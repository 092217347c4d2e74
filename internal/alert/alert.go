// Package alert turns a newly arrived notification into user-visible side
// effects, gated by user settings, per-type toggles and the platform
// permission state. Side effects fire at most once per notification id; the
// caller passes the first-insertion flag from the inbox as the dedup signal.
package alert

import (
	"github.com/opsdeskhq/opsdesk/internal/model"
)

// Permission is the platform notification permission state.
type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
	PermissionDefault Permission = "default"
)

// Settings holds the user's delivery preferences.
type Settings struct {
	SoundEnabled   bool                            `json:"sound_enabled"`
	DesktopEnabled bool                            `json:"desktop_enabled"`
	Types          map[model.NotificationType]bool `json:"types"` // per-type toggle for desktop alerts
}

// DefaultSettings enables everything, matching a fresh account.
func DefaultSettings() Settings {
	types := make(map[model.NotificationType]bool)
	for _, t := range []model.NotificationType{
		model.TypeMessageArrived, model.TypeConversationStarted, model.TypeAssignment,
		model.TypeReminder, model.TypeOrderUpdate, model.TypeMention,
		model.TypeInvitation, model.TypeSystem,
	} {
		types[t] = true
	}

	return Settings{SoundEnabled: true, DesktopEnabled: true, Types: types}
}

// Alert is the payload handed to the desktop sink. Urgent notifications set
// RequireInteraction so the platform keeps them visible until dismissed.
type Alert struct {
	Title              string `json:"title"`
	Body               string `json:"body"`
	ActionURL          string `json:"action_url,omitempty"`
	RequireInteraction bool   `json:"require_interaction"`
}

// Dispatcher routes qualifying insert events to the sound and desktop
// sinks. Sinks and navigation are callbacks so the dispatcher carries no
// dependency on a particular windowing or audio layer.
type Dispatcher struct {
	settings   Settings
	permission Permission

	playSound func()
	desktop   func(Alert)
	navigate  func(url string)
}

// NewDispatcher wires a dispatcher with its sinks. Nil sinks disable the
// corresponding effect.
func NewDispatcher(settings Settings, permission Permission, playSound func(), desktop func(Alert), navigate func(string)) *Dispatcher {
	return &Dispatcher{
		settings:   settings,
		permission: permission,
		playSound:  playSound,
		desktop:    desktop,
		navigate:   navigate,
	}
}

// Notify fires the side effects for a notification. The fresh flag comes
// from the inbox's ApplyInsert; replays and duplicates pass fresh=false and
// produce nothing.
func (d *Dispatcher) Notify(n model.Notification, fresh bool) {
	if !fresh {
		return
	}

	if d.settings.SoundEnabled && d.playSound != nil {
		d.playSound()
	}

	if !d.settings.DesktopEnabled || d.permission != PermissionGranted || d.desktop == nil {
		return
	}
	if !d.settings.Types[n.Type] {
		return
	}

	d.desktop(Alert{
		Title:              n.Title,
		Body:               n.Message,
		ActionURL:          n.ActionURL,
		RequireInteraction: n.Priority == model.PriorityUrgent,
	})
}

// Click handles the user activating a desktop alert: the application is
// focused by the platform layer, and if the alert carried a deep link the
// navigation callback receives it.
func (d *Dispatcher) Click(actionURL string) {
	if actionURL != "" && d.navigate != nil {
		d.navigate(actionURL)
	}
}
