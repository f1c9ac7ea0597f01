// Package main is the entry point for the backlight power monitor. It
// watches the machine's power source and suspend/resume cycle and keeps
// the keyboard backlight on the profile the user assigned for the
// current state.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/xmglinux/backlight-go/internal/config"
	"github.com/xmglinux/backlight-go/internal/lockfile"
	"github.com/xmglinux/backlight-go/internal/services/applylog"
	"github.com/xmglinux/backlight-go/internal/services/device"
	"github.com/xmglinux/backlight-go/internal/services/notify"
	"github.com/xmglinux/backlight-go/internal/services/power"
	"github.com/xmglinux/backlight-go/internal/services/reconciler"
	"github.com/xmglinux/backlight-go/internal/store"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
)

func main() {
	// Load .env file if present
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded configuration from .env")
	}

	cfg := config.Load()
	log.Printf("backlight-powermon %s (built %s)", Version, BuildTime)

	locks := lockfile.NewManager(cfg.ConfigDir)
	guard, err := locks.TryAcquire(lockfile.ScopeApp)
	if err != nil {
		log.Fatalf("Another backlight monitor is already running: %v", err)
	}
	defer guard.Release()

	st, err := store.Open(cfg.ProfilePath)
	if err != nil {
		log.Fatalf("Failed to open profile store: %v", err)
	}

	applyLog, err := applylog.New(cfg.ApplyLogPath, cfg.LogMaxBytes, cfg.LogKeepBytes)
	if err != nil {
		log.Fatalf("Failed to open apply log: %v", err)
	}

	rec := reconciler.New(st, locks, newDriver(cfg), applyLog, notify.New(cfg.NotifyEnabled), reconciler.Config{
		LockTimeout: cfg.LockTimeout,
		Attempts:    cfg.ApplyAttempts,
		RetryDelay:  cfg.ApplyRetryDelay,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sources := make(chan power.Source, 4)
	resumes := make(chan struct{}, 1)

	var connect func() (powerBus, error)
	if cfg.DBusEnabled {
		connect = func() (powerBus, error) { return power.ConnectBus() }
	}
	fallback := &power.Monitor{
		PollInterval:    cfg.PollInterval,
		RediscoverEvery: cfg.RediscoverEvery,
	}
	initial, feed := startPowerFeed(ctx, connect, fallback, sources, resumes)
	log.Printf("Backlight power monitor started (profile store: %s, power events from %s)", cfg.ProfilePath, feed)

	if initial != power.SourceUnknown {
		log.Printf("Initial power state: %s", initial)
		report(rec.ReconcileForPower(ctx, initial))
	} else {
		log.Println("Unable to determine initial power state")
	}

	for {
		select {
		case <-ctx.Done():
			log.Println("Monitor stopped")
			return
		case src := <-sources:
			log.Printf("Power source changed: now on %s", src)
			report(rec.ReconcileForPower(ctx, src))
		case <-resumes:
			log.Println("System resumed from sleep")
			report(rec.Reconcile(ctx, "resume"))
		}
	}
}

// powerBus is the part of power.Bus the feed selection needs.
type powerBus interface {
	OnBattery() (power.Source, error)
	Run(ctx context.Context, sources chan<- power.Source, resumes chan<- struct{})
	Close()
}

// startPowerFeed wires exactly one transition source into sources: the
// D-Bus subscription (UPower transitions plus logind resume edges) when
// the system bus is reachable, otherwise the sysfs poller. When the bus
// connects but UPower cannot report the initial state, sysfs is sampled
// once; the poller stays off so no transition is ever delivered by both
// feeds. Returns the initial power source and the feed name.
func startPowerFeed(ctx context.Context, connect func() (powerBus, error), fallback *power.Monitor, sources chan power.Source, resumes chan struct{}) (power.Source, string) {
	if connect != nil {
		bus, err := connect()
		if err == nil {
			go func() {
				defer bus.Close()
				bus.Run(ctx, sources, resumes)
			}()
			if src, berr := bus.OnBattery(); berr == nil {
				return src, "dbus"
			}
			log.Println("UPower unavailable, sampling sysfs for initial state")
			return fallback.Initial(), "dbus"
		}
		log.Printf("D-Bus unavailable (%v), falling back to sysfs polling", err)
	}

	go fallback.Run(ctx, sources)
	return fallback.Initial(), "sysfs"
}

func newDriver(cfg *config.Config) device.Driver {
	if cfg.Simulate {
		log.Println("Simulation mode: device commands will not run")
		return &device.Simulator{}
	}
	tool := device.ResolveTool()
	if tool == "" {
		fmt.Fprintln(os.Stderr, "Warning: ite8291r3-ctl not found; applies will fail until it is installed")
	}
	return device.NewController(tool)
}

func report(out reconciler.Outcome) {
	switch out.Status {
	case reconciler.StatusFailed:
		log.Printf("Reconcile %s failed at %s stage: %v", out.Invocation, out.Stage, out.Err)
	case reconciler.StatusRetried:
		log.Printf("Applied profile %q after %d attempts", out.Profile, out.Attempts)
	default:
		log.Printf("Applied profile %q", out.Profile)
	}
}
