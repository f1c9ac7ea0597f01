package power

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	upowerDest  = "org.freedesktop.UPower"
	upowerPath  = dbus.ObjectPath("/org/freedesktop/UPower")
	upowerIface = "org.freedesktop.UPower"

	logindDest  = "org.freedesktop.login1"
	logindPath  = dbus.ObjectPath("/org/freedesktop/login1")
	logindIface = "org.freedesktop.login1.Manager"

	propsIface = "org.freedesktop.DBus.Properties"
)

// Bus subscribes to UPower power-source changes and logind
// suspend/resume signals over the system bus. It is preferred over the
// sysfs poller when available; callers treat construction failure as
// "fall back to polling", never as fatal.
type Bus struct {
	conn    *dbus.Conn
	signals chan *dbus.Signal
}

// ConnectBus connects to the system bus and registers the signal
// matches. Returns an error when no system bus is reachable.
func ConnectBus() (*Bus, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(upowerPath),
		dbus.WithMatchInterface(propsIface),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("match UPower signals: %w", err)
	}
	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(logindPath),
		dbus.WithMatchInterface(logindIface),
		dbus.WithMatchMember("PrepareForSleep"),
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("match logind signals: %w", err)
	}

	signals := make(chan *dbus.Signal, 16)
	conn.Signal(signals)
	return &Bus{conn: conn, signals: signals}, nil
}

// Close disconnects from the bus.
func (b *Bus) Close() {
	b.conn.Close()
}

// OnBattery reads UPower's current OnBattery property.
func (b *Bus) OnBattery() (Source, error) {
	obj := b.conn.Object(upowerDest, upowerPath)
	variant, err := obj.GetProperty(upowerIface + ".OnBattery")
	if err != nil {
		return SourceUnknown, fmt.Errorf("read OnBattery: %w", err)
	}
	onBattery, ok := variant.Value().(bool)
	if !ok {
		return SourceUnknown, fmt.Errorf("unexpected OnBattery type %T", variant.Value())
	}
	if onBattery {
		return SourceBattery, nil
	}
	return SourceAC, nil
}

// Run translates bus signals until ctx is done: power-source changes go
// to sources, and each completed resume cycle sends one value on
// resumes.
func (b *Bus) Run(ctx context.Context, sources chan<- Source, resumes chan<- struct{}) {
	last := SourceUnknown
	if src, err := b.OnBattery(); err == nil {
		last = src
	}
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-b.signals:
			if !ok {
				return
			}
			switch {
			case sig.Name == propsIface+".PropertiesChanged" && sig.Path == upowerPath:
				src, ok := onBatteryFromSignal(sig)
				if !ok || src == last {
					continue
				}
				last = src
				select {
				case sources <- src:
				case <-ctx.Done():
					return
				}
			case sig.Name == logindIface+".PrepareForSleep" && sig.Path == logindPath:
				// Body is a single bool: true entering sleep, false
				// waking up. Only the wake edge matters here.
				if len(sig.Body) != 1 {
					continue
				}
				entering, ok := sig.Body[0].(bool)
				if !ok || entering {
					continue
				}
				select {
				case resumes <- struct{}{}:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func onBatteryFromSignal(sig *dbus.Signal) (Source, bool) {
	if len(sig.Body) < 2 {
		return SourceUnknown, false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return SourceUnknown, false
	}
	variant, ok := changed["OnBattery"]
	if !ok {
		return SourceUnknown, false
	}
	onBattery, ok := variant.Value().(bool)
	if !ok {
		return SourceUnknown, false
	}
	if onBattery {
		return SourceBattery, true
	}
	return SourceAC, true
}
