package store

import (
	"fmt"
	"sort"
)

// Named mutators for the operations the desktop app and CLI perform.
// Each returns a Mutator suitable for Store.Write.

// CreateProfile adds a new profile under name.
func CreateProfile(name string, p Profile) Mutator {
	return func(d *Document) error {
		if name == "" {
			return &ValidationError{Reason: "profile name must not be empty"}
		}
		if _, exists := d.Profiles[name]; exists {
			return &ValidationError{Reason: fmt.Sprintf("profile %q already exists", name)}
		}
		d.Profiles[name] = p
		return nil
	}
}

// SaveProfile overwrites an existing profile in place.
func SaveProfile(name string, p Profile) Mutator {
	return func(d *Document) error {
		if _, exists := d.Profiles[name]; !exists {
			return &ValidationError{Reason: fmt.Sprintf("profile %q does not exist", name)}
		}
		d.Profiles[name] = p
		return nil
	}
}

// RenameProfile renames a profile, retargeting the active name and any
// power assignments that pointed at it.
func RenameProfile(oldName, newName string) Mutator {
	return func(d *Document) error {
		if newName == "" {
			return &ValidationError{Reason: "profile name must not be empty"}
		}
		p, exists := d.Profiles[oldName]
		if !exists {
			return &ValidationError{Reason: fmt.Sprintf("profile %q does not exist", oldName)}
		}
		if _, taken := d.Profiles[newName]; taken && newName != oldName {
			return &ValidationError{Reason: fmt.Sprintf("profile %q already exists", newName)}
		}
		delete(d.Profiles, oldName)
		d.Profiles[newName] = p
		if d.Active == oldName {
			d.Active = newName
		}
		if d.ACProfile == oldName {
			d.ACProfile = newName
		}
		if d.BatteryProfile == oldName {
			d.BatteryProfile = newName
		}
		return nil
	}
}

// DeleteProfile removes a profile. Deleting the last remaining profile
// is rejected. Deleting the active profile promotes the first remaining
// profile (by name) to active; power assignments pointing at the
// deleted profile are cleared.
func DeleteProfile(name string) Mutator {
	return func(d *Document) error {
		if _, exists := d.Profiles[name]; !exists {
			return &ValidationError{Reason: fmt.Sprintf("profile %q does not exist", name)}
		}
		if len(d.Profiles) == 1 {
			return &ValidationError{Reason: "cannot delete the last remaining profile"}
		}
		delete(d.Profiles, name)
		if d.Active == name {
			remaining := make([]string, 0, len(d.Profiles))
			for n := range d.Profiles {
				remaining = append(remaining, n)
			}
			sort.Strings(remaining)
			d.Active = remaining[0]
		}
		if d.ACProfile == name {
			d.ACProfile = ""
		}
		if d.BatteryProfile == name {
			d.BatteryProfile = ""
		}
		return nil
	}
}

// SetActive marks name as the active profile.
func SetActive(name string) Mutator {
	return func(d *Document) error {
		if _, exists := d.Profiles[name]; !exists {
			return &ValidationError{Reason: fmt.Sprintf("profile %q does not exist", name)}
		}
		d.Active = name
		return nil
	}
}

// SetPowerProfiles assigns the profiles applied on power transitions.
// Empty string clears an assignment.
func SetPowerProfiles(ac, battery string) Mutator {
	return func(d *Document) error {
		d.ACProfile = ac
		d.BatteryProfile = battery
		return nil
	}
}
