// Package reconciler re-applies the active profile to the hardware
// after a resume, a power transition, or desktop app activation. Every
// invocation walks the same path: take the store write lock with a
// short bound, re-read the committed document, apply with bounded
// retries for a device that enumerates late, and record the outcome
// durably. Nothing here ever crashes or exits the host process; resume
// hooks run inside the OS sleep sequence where that has wider effects.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lucsky/cuid"

	"github.com/xmglinux/backlight-go/internal/lockfile"
	"github.com/xmglinux/backlight-go/internal/services/applylog"
	"github.com/xmglinux/backlight-go/internal/services/device"
	"github.com/xmglinux/backlight-go/internal/services/notify"
	"github.com/xmglinux/backlight-go/internal/services/power"
	"github.com/xmglinux/backlight-go/internal/store"
)

// Status is the terminal state of one reconciliation.
type Status string

const (
	// StatusSucceeded: the profile was applied on the first attempt.
	StatusSucceeded Status = "succeeded"
	// StatusRetried: the profile was applied after at least one retry.
	StatusRetried Status = "retried"
	// StatusFailed: the profile could not be applied.
	StatusFailed Status = "failed"
)

// Stage names the phase a failed reconciliation died in.
type Stage string

const (
	StageLock  Stage = "lock"
	StageRead  Stage = "read"
	StageApply Stage = "apply"
)

// Outcome summarizes one reconciliation for the caller. Err is set on
// failure but reconciliation errors are already logged and must not be
// escalated into a process exit.
type Outcome struct {
	Invocation string
	Status     Status
	Stage      Stage // empty unless Status is failed
	Profile    string
	Attempts   int // apply attempts actually made
	Err        error
}

// Config bounds the reconciler's two waiting operations.
type Config struct {
	// LockTimeout bounds waiting for the store write lock. Short by
	// design: this path runs inside time-bounded resume sequences.
	LockTimeout time.Duration
	// Attempts is the maximum number of device apply attempts.
	Attempts int
	// RetryDelay is the fixed pause between attempts, sized for USB
	// re-enumeration after resume.
	RetryDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.LockTimeout <= 0 {
		c.LockTimeout = 2 * time.Second
	}
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 600 * time.Millisecond
	}
	return c
}

// Reconciler coordinates store, lock, driver and log for one machine.
type Reconciler struct {
	store    *store.Store
	locks    *lockfile.Manager
	driver   device.Driver
	log      *applylog.Logger
	notifier *notify.Notifier
	cfg      Config
}

// New creates a reconciler. notifier may be nil.
func New(st *store.Store, locks *lockfile.Manager, drv device.Driver, lg *applylog.Logger, notifier *notify.Notifier, cfg Config) *Reconciler {
	return &Reconciler{
		store:    st,
		locks:    locks,
		driver:   drv,
		log:      lg,
		notifier: notifier,
		cfg:      cfg.withDefaults(),
	}
}

// Reconcile re-applies the currently active profile. reason is recorded
// in the log ("resume", "tray activation", ...). No power-state logic
// runs here; resume restores what the user had, transitions are the
// power path's job.
func (r *Reconciler) Reconcile(ctx context.Context, reason string) Outcome {
	return r.run(ctx, reason, func(doc *store.Document) (string, error) {
		return doc.Active, nil
	})
}

// ReconcileForPower resolves the profile for an observed power source,
// switches the active profile if the resolution differs, and applies
// it. The switch and the apply happen under one lock hold so a racing
// writer cannot interleave.
func (r *Reconciler) ReconcileForPower(ctx context.Context, src power.Source) Outcome {
	reason := fmt.Sprintf("power source %s", src)
	return r.run(ctx, reason, func(doc *store.Document) (string, error) {
		target := power.Resolve(src, doc)
		if target == doc.Active {
			return target, nil
		}
		if err := r.store.Write(store.SetActive(target)); err != nil {
			return "", fmt.Errorf("switch active profile to %q: %w", target, err)
		}
		return target, nil
	})
}

// run executes one reconciliation: lock, read, select a target profile,
// apply with retries, log the outcome.
func (r *Reconciler) run(ctx context.Context, reason string, choose func(*store.Document) (string, error)) Outcome {
	out := Outcome{Invocation: cuid.Slug()}

	guard, err := r.locks.Acquire(ctx, lockfile.ScopeStore, r.cfg.LockTimeout)
	if err != nil {
		out.Status, out.Stage, out.Err = StatusFailed, StageLock, err
		event := "lock_error"
		var timeout *lockfile.TimeoutError
		if errors.As(err, &timeout) {
			event = "lock_timeout"
		}
		r.log.Append(applylog.Entry{
			Level:      applylog.LevelError,
			Invocation: out.Invocation,
			Event:      event,
			Reason:     reason + ": " + err.Error(),
		})
		return out
	}
	defer guard.Release()

	doc, err := r.store.Read()
	if err != nil {
		out.Status, out.Stage, out.Err = StatusFailed, StageRead, err
		r.log.Append(applylog.Entry{
			Level:      applylog.LevelError,
			Invocation: out.Invocation,
			Event:      "read_failed",
			Reason:     reason + ": " + err.Error(),
		})
		return out
	}

	name, err := choose(doc)
	if err != nil {
		out.Status, out.Stage, out.Err = StatusFailed, StageRead, err
		r.log.Append(applylog.Entry{
			Level:      applylog.LevelError,
			Invocation: out.Invocation,
			Event:      "select_failed",
			Reason:     reason + ": " + err.Error(),
		})
		return out
	}
	profile, ok := doc.Profiles[name]
	if !ok {
		// Validate keeps this from being committed; a legacy document
		// may still carry it. Fall back the way the restore script does.
		for fallback, p := range doc.Profiles {
			name, profile, ok = fallback, p, true
			break
		}
	}
	out.Profile = name
	if !ok {
		out.Status, out.Stage, out.Err = StatusFailed, StageRead, errors.New("no profiles in store")
		r.log.Append(applylog.Entry{
			Level:      applylog.LevelError,
			Invocation: out.Invocation,
			Event:      "read_failed",
			Reason:     reason + ": no profiles in store",
		})
		return out
	}

	return r.apply(ctx, out, reason, name, profile)
}

func (r *Reconciler) apply(ctx context.Context, out Outcome, reason, name string, profile store.Profile) Outcome {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.Attempts; attempt++ {
		out.Attempts = attempt
		lastErr = r.driver.Apply(ctx, profile)
		if lastErr == nil {
			out.Status = StatusSucceeded
			if attempt > 1 {
				out.Status = StatusRetried
			}
			r.log.Append(applylog.Entry{
				Level:      applylog.LevelInfo,
				Invocation: out.Invocation,
				Event:      "applied",
				Profile:    name,
				Attempt:    attempt,
				Attempts:   r.cfg.Attempts,
				Reason:     reason,
			})
			r.notifier.Send("Profile restored", fmt.Sprintf("%s (%s)", name, reason))
			return out
		}

		if attempt < r.cfg.Attempts {
			r.log.Append(applylog.Entry{
				Level:      applylog.LevelWarn,
				Invocation: out.Invocation,
				Event:      "retry",
				Profile:    name,
				Attempt:    attempt,
				Attempts:   r.cfg.Attempts,
				Reason:     lastErr.Error(),
			})
			select {
			case <-ctx.Done():
				out.Status, out.Stage, out.Err = StatusFailed, StageApply, ctx.Err()
				r.log.Append(applylog.Entry{
					Level:      applylog.LevelError,
					Invocation: out.Invocation,
					Event:      "failed",
					Profile:    name,
					Attempt:    attempt,
					Attempts:   r.cfg.Attempts,
					Reason:     ctx.Err().Error(),
				})
				return out
			case <-time.After(r.cfg.RetryDelay):
			}
		}
	}

	out.Status, out.Stage, out.Err = StatusFailed, StageApply, lastErr
	r.log.Append(applylog.Entry{
		Level:      applylog.LevelError,
		Invocation: out.Invocation,
		Event:      "failed",
		Profile:    name,
		Attempt:    r.cfg.Attempts,
		Attempts:   r.cfg.Attempts,
		Reason:     lastErr.Error(),
	})
	r.notifier.Send("Restore failed", fmt.Sprintf("%s: %v", name, lastErr))
	return out
}
