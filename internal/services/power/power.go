// Package power models the machine's power source and decides which
// profile a transition selects.
package power

import "github.com/xmglinux/backlight-go/internal/store"

// Source is the observed power source.
type Source int

const (
	// SourceUnknown means no usable power supply reading was available.
	SourceUnknown Source = iota
	// SourceAC means a mains supply reports online.
	SourceAC
	// SourceBattery means mains supplies report offline.
	SourceBattery
)

// String returns the operator-facing label for the source.
func (s Source) String() string {
	switch s {
	case SourceAC:
		return "AC"
	case SourceBattery:
		return "battery"
	default:
		return "unknown"
	}
}

// Resolve maps a power source to the profile name that should be in
// effect. An explicit assignment wins when it names an existing
// profile; otherwise the currently active profile stays in effect. The
// fallback is deliberate: an unassigned state is not an error and not a
// no-op, it re-applies the active profile. The same rule runs at
// monitor startup and on live transitions, so starting on battery
// selects the battery profile immediately.
func Resolve(src Source, doc *store.Document) string {
	var assigned string
	switch src {
	case SourceAC:
		assigned = doc.ACProfile
	case SourceBattery:
		assigned = doc.BatteryProfile
	}
	if assigned != "" {
		if _, ok := doc.Profiles[assigned]; ok {
			return assigned
		}
	}
	return doc.Active
}
