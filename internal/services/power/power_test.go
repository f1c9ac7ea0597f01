package power

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xmglinux/backlight-go/internal/store"
)

func testDoc() *store.Document {
	return &store.Document{
		Active: "Bright",
		Profiles: map[string]store.Profile{
			"Bright": {Brightness: 50},
			"Dim":    {Brightness: 10},
		},
	}
}

func TestResolveAssignedProfileWins(t *testing.T) {
	doc := testDoc()
	doc.BatteryProfile = "Dim"

	if got := Resolve(SourceBattery, doc); got != "Dim" {
		t.Errorf("Resolve(battery) = %q, want %q", got, "Dim")
	}
	// AC unassigned: active profile stays in effect.
	if got := Resolve(SourceAC, doc); got != "Bright" {
		t.Errorf("Resolve(AC) = %q, want active %q", got, "Bright")
	}
}

func TestResolveSymmetric(t *testing.T) {
	doc := testDoc()
	doc.ACProfile = "Bright"
	doc.BatteryProfile = ""
	doc.Active = "Dim"

	if got := Resolve(SourceAC, doc); got != "Bright" {
		t.Errorf("Resolve(AC) = %q, want %q", got, "Bright")
	}
	if got := Resolve(SourceBattery, doc); got != "Dim" {
		t.Errorf("Resolve(battery) = %q, want fallback %q", got, "Dim")
	}
}

func TestResolveDanglingAssignmentFallsBack(t *testing.T) {
	doc := testDoc()
	doc.BatteryProfile = "Ghost"

	if got := Resolve(SourceBattery, doc); got != "Bright" {
		t.Errorf("Resolve with dangling assignment = %q, want active %q", got, "Bright")
	}
}

func TestResolveUnknownSource(t *testing.T) {
	doc := testDoc()
	doc.ACProfile = "Dim"
	doc.BatteryProfile = "Dim"

	if got := Resolve(SourceUnknown, doc); got != "Bright" {
		t.Errorf("Resolve(unknown) = %q, want active %q", got, "Bright")
	}
}

// fakeSupply writes a sysfs-shaped power supply entry.
func fakeSupply(t *testing.T, dir, name, typ, online string) {
	t.Helper()
	base := filepath.Join(dir, name)
	if err := os.MkdirAll(base, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(base, "type"), []byte(typ+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if online != "" {
		if err := os.WriteFile(filepath.Join(base, "online"), []byte(online+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestDiscoverSuppliesFiltersMains(t *testing.T) {
	dir := t.TempDir()
	fakeSupply(t, dir, "AC0", "Mains", "1")
	fakeSupply(t, dir, "BAT0", "Battery", "") // batteries have no online file here
	fakeSupply(t, dir, "ucsi-0", "USB", "0")
	fakeSupply(t, dir, "wl0", "Wireless", "1")

	paths := DiscoverSupplies(dir)
	if len(paths) != 2 {
		t.Fatalf("discovered %d supplies, want 2: %v", len(paths), paths)
	}
}

func TestSample(t *testing.T) {
	dir := t.TempDir()
	fakeSupply(t, dir, "AC0", "Mains", "0")
	paths := DiscoverSupplies(dir)

	if got := Sample(paths); got != SourceBattery {
		t.Errorf("Sample(offline) = %v, want battery", got)
	}

	fakeSupply(t, dir, "AC0", "Mains", "1")
	if got := Sample(paths); got != SourceAC {
		t.Errorf("Sample(online) = %v, want AC", got)
	}

	if got := Sample(nil); got != SourceUnknown {
		t.Errorf("Sample(no supplies) = %v, want unknown", got)
	}
}

func TestMonitorEmitsTransitions(t *testing.T) {
	dir := t.TempDir()
	fakeSupply(t, dir, "AC0", "Mains", "1")

	mon := &Monitor{SupplyDir: dir, PollInterval: 10 * time.Millisecond}
	if got := mon.Initial(); got != SourceAC {
		t.Fatalf("Initial() = %v, want AC", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan Source, 1)
	go mon.Run(ctx, out)

	time.Sleep(30 * time.Millisecond)
	fakeSupply(t, dir, "AC0", "Mains", "0")

	select {
	case got := <-out:
		if got != SourceBattery {
			t.Errorf("transition = %v, want battery", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no transition observed")
	}

	// Steady state: no further events.
	select {
	case got := <-out:
		t.Errorf("spurious transition %v in steady state", got)
	case <-time.After(100 * time.Millisecond):
	}
}
