package store

import (
	"encoding/json"
	"fmt"
)

// Lighting modes understood by the device tooling. "static" is a single
// color; everything else is an animated effect.
var Modes = []string{
	"static",
	"breathing", "wave", "random", "rainbow",
	"ripple", "marquee", "raindrop", "aurora", "fireworks",
}

// Colors accepted by the device tooling.
var Colors = []string{"white", "red", "orange", "yellow", "green", "blue", "teal", "purple", "random"}

// Directions accepted for directional effects.
var Directions = []string{"none", "right", "left", "up", "down"}

const (
	// DefaultProfileName is the profile created on first run.
	DefaultProfileName = "Default"

	MaxBrightness = 50
	MaxSpeed      = 10
)

// Profile is a named bundle of lighting parameters. The coordination
// layer treats it as a value to hand to the device; only the device
// package interprets the fields.
type Profile struct {
	Brightness  int    `json:"brightness"`
	Mode        string `json:"mode"`
	StaticColor string `json:"static_color"`
	Speed       int    `json:"speed"`
	Color       string `json:"color"`
	Direction   string `json:"direction"`
	Reactive    bool   `json:"reactive"`
}

// DefaultProfile returns the profile written on first run.
func DefaultProfile() Profile {
	return Profile{
		Brightness:  40,
		Mode:        "static",
		StaticColor: "white",
		Speed:       5,
		Color:       "none",
		Direction:   "none",
		Reactive:    false,
	}
}

// Sanitize clamps and normalizes the profile fields to values the
// device tooling accepts, mirroring what the desktop app enforces.
func (p Profile) Sanitize() Profile {
	def := DefaultProfile()
	p.Brightness = clampInt(p.Brightness, 0, MaxBrightness)
	p.Mode = pickChoice(p.Mode, Modes, def.Mode)
	p.StaticColor = pickChoice(p.StaticColor, Colors, def.StaticColor)
	p.Speed = clampInt(p.Speed, 0, MaxSpeed)
	if p.Color == "" || (p.Color != "none" && !contains(Colors, p.Color)) {
		p.Color = "none"
	}
	p.Direction = pickChoice(p.Direction, Directions, def.Direction)
	return p
}

// Document is the committed profile store: the full set of profiles,
// which one is active, the optional per-power-source assignments, and
// an opaque preferences blob owned by the desktop app.
type Document struct {
	Active         string             `json:"active"`
	Profiles       map[string]Profile `json:"profiles"`
	ACProfile      string             `json:"ac_profile,omitempty"`
	BatteryProfile string             `json:"battery_profile,omitempty"`

	// Preferences belongs to the GUI. It is carried byte-for-byte
	// through every rewrite and never interpreted here.
	Preferences json.RawMessage `json:"preferences,omitempty"`
}

// DefaultDocument returns the document created on first run.
func DefaultDocument() *Document {
	return &Document{
		Active:   DefaultProfileName,
		Profiles: map[string]Profile{DefaultProfileName: DefaultProfile()},
	}
}

// Clone returns a deep copy, so mutators never alias the committed state.
func (d *Document) Clone() *Document {
	out := &Document{
		Active:         d.Active,
		ACProfile:      d.ACProfile,
		BatteryProfile: d.BatteryProfile,
		Profiles:       make(map[string]Profile, len(d.Profiles)),
	}
	for name, p := range d.Profiles {
		out.Profiles[name] = p
	}
	if d.Preferences != nil {
		out.Preferences = append(json.RawMessage(nil), d.Preferences...)
	}
	return out
}

// ActiveProfile returns the profile the active name resolves to.
func (d *Document) ActiveProfile() (Profile, bool) {
	p, ok := d.Profiles[d.Active]
	return p, ok
}

// Validate checks the document invariants. It is called on every write
// before commit; a violation rejects the mutation.
func (d *Document) Validate() error {
	if len(d.Profiles) == 0 {
		return &ValidationError{Reason: "profile set must not be empty"}
	}
	for name := range d.Profiles {
		if name == "" {
			return &ValidationError{Reason: "profile name must not be empty"}
		}
	}
	if _, ok := d.Profiles[d.Active]; !ok {
		return &ValidationError{Reason: fmt.Sprintf("active profile %q does not exist", d.Active)}
	}
	if d.ACProfile != "" {
		if _, ok := d.Profiles[d.ACProfile]; !ok {
			return &ValidationError{Reason: fmt.Sprintf("ac profile %q does not exist", d.ACProfile)}
		}
	}
	if d.BatteryProfile != "" {
		if _, ok := d.Profiles[d.BatteryProfile]; !ok {
			return &ValidationError{Reason: fmt.Sprintf("battery profile %q does not exist", d.BatteryProfile)}
		}
	}
	return nil
}

func clampInt(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func pickChoice(value string, options []string, fallback string) string {
	if contains(options, value) {
		return value
	}
	return fallback
}

func contains(options []string, value string) bool {
	for _, opt := range options {
		if opt == value {
			return true
		}
	}
	return false
}
