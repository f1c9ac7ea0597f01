// Package notify surfaces reconcile outcomes as desktop notifications.
package notify

import "github.com/gen2brain/beeep"

const appName = "Keyboard Backlight"

// Notifier sends desktop notifications. The zero value is disabled.
type Notifier struct {
	Enabled bool
}

// New returns a notifier; enabled controls whether Send does anything.
func New(enabled bool) *Notifier {
	return &Notifier{Enabled: enabled}
}

// Send shows a notification. Failures are ignored: a missing
// notification daemon must never affect the apply path.
func (n *Notifier) Send(title, message string) {
	if n == nil || !n.Enabled {
		return
	}
	_ = beeep.Notify(appName+": "+title, message, "")
}
