package power

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// DefaultSupplyDir is where the kernel exposes power supplies.
const DefaultSupplyDir = "/sys/class/power_supply"

// mainsTypes are the supply types that indicate wall power.
var mainsTypes = map[string]bool{"mains": true, "ac": true, "usb": true}

// DiscoverSupplies returns the online-state files of every mains-type
// supply under dir, sorted for stable sampling order.
func DiscoverSupplies(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var paths []string
	for _, entry := range entries {
		base := filepath.Join(dir, entry.Name())
		raw, err := os.ReadFile(filepath.Join(base, "type"))
		if err != nil {
			continue
		}
		if !mainsTypes[strings.ToLower(strings.TrimSpace(string(raw)))] {
			continue
		}
		online := filepath.Join(base, "online")
		if fi, err := os.Stat(online); err == nil && fi.Mode().IsRegular() {
			paths = append(paths, online)
		}
	}
	sort.Strings(paths)
	return paths
}

// Sample reads the given online-state files and reduces them to a
// single source: AC when any supply is online, battery when at least
// one reports offline and none online, unknown otherwise.
func Sample(paths []string) Source {
	anyOffline := false
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		switch strings.TrimSpace(string(raw)) {
		case "1":
			return SourceAC
		case "0":
			anyOffline = true
		}
	}
	if anyOffline {
		return SourceBattery
	}
	return SourceUnknown
}

// Monitor polls sysfs for power-source transitions.
type Monitor struct {
	// SupplyDir overrides DefaultSupplyDir, mainly for tests.
	SupplyDir string
	// PollInterval is the sampling cadence.
	PollInterval time.Duration
	// RediscoverEvery is the number of polls between supply
	// rediscovery, so a dock or USB-PD adapter plugged in later is
	// still noticed.
	RediscoverEvery int
}

// Initial samples the current source once, discovering supplies fresh.
func (m *Monitor) Initial() Source {
	return Sample(DiscoverSupplies(m.supplyDir()))
}

// Run polls until ctx is done, sending each observed transition to out.
// Unknown samples are skipped rather than reported as transitions.
func (m *Monitor) Run(ctx context.Context, out chan<- Source) {
	paths := DiscoverSupplies(m.supplyDir())
	last := Sample(paths)

	ticker := time.NewTicker(m.pollInterval())
	defer ticker.Stop()

	iteration := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		iteration++
		if every := m.rediscoverEvery(); every > 0 && iteration%every == 0 {
			paths = DiscoverSupplies(m.supplyDir())
		}

		state := Sample(paths)
		if state == SourceUnknown {
			continue
		}
		if last == SourceUnknown {
			last = state
			continue
		}
		if state != last {
			last = state
			select {
			case out <- state:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (m *Monitor) supplyDir() string {
	if m.SupplyDir != "" {
		return m.SupplyDir
	}
	return DefaultSupplyDir
}

func (m *Monitor) pollInterval() time.Duration {
	if m.PollInterval > 0 {
		return m.PollInterval
	}
	return 3 * time.Second
}

func (m *Monitor) rediscoverEvery() int {
	if m.RediscoverEvery > 0 {
		return m.RediscoverEvery
	}
	return 20
}
