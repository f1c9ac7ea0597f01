// Package main is the resume hook: a short-lived process run by the OS
// sleep machinery (or a systemd resume unit) to restore the keyboard
// backlight after suspend. It performs exactly one reconciliation and
// always exits zero — a failed restore must never fail the resume
// sequence; the outcome lives in the apply log instead.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/xmglinux/backlight-go/internal/config"
	"github.com/xmglinux/backlight-go/internal/lockfile"
	"github.com/xmglinux/backlight-go/internal/services/applylog"
	"github.com/xmglinux/backlight-go/internal/services/device"
	"github.com/xmglinux/backlight-go/internal/services/reconciler"
	"github.com/xmglinux/backlight-go/internal/store"
)

// hookDeadline bounds the whole invocation; the sleep transaction we
// run inside is itself time-bounded.
const hookDeadline = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()
	cfg := config.Load()

	st, err := store.Open(cfg.ProfilePath)
	if err != nil {
		log.Printf("Cannot open profile store: %v", err)
		return 0
	}

	applyLog, err := applylog.New(cfg.ApplyLogPath, cfg.LogMaxBytes, cfg.LogKeepBytes)
	if err != nil {
		log.Printf("Cannot open apply log: %v", err)
		return 0
	}

	var drv device.Driver
	if cfg.Simulate {
		drv = &device.Simulator{}
	} else {
		drv = device.NewController(device.ResolveTool())
	}

	rec := reconciler.New(st, lockfile.NewManager(cfg.ConfigDir), drv, applyLog, nil, reconciler.Config{
		LockTimeout: cfg.LockTimeout,
		Attempts:    cfg.ApplyAttempts,
		RetryDelay:  cfg.ApplyRetryDelay,
	})

	ctx, cancel := context.WithTimeout(context.Background(), hookDeadline)
	defer cancel()

	out := rec.Reconcile(ctx, "resume")
	switch out.Status {
	case reconciler.StatusFailed:
		fmt.Printf("Restore failed (%s stage): %v\n", out.Stage, out.Err)
	case reconciler.StatusRetried:
		fmt.Printf("Restored profile %q after %d attempts\n", out.Profile, out.Attempts)
	default:
		fmt.Printf("Restored profile %q\n", out.Profile)
	}
	return 0
}
