// Package main is backlightctl, the command-line profile editor. It
// plays the same role as the desktop app: reading the store for
// display, mutating it under the write lock, and watching for changes
// other processes commit.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/joho/godotenv"

	"github.com/xmglinux/backlight-go/internal/config"
	"github.com/xmglinux/backlight-go/internal/lockfile"
	"github.com/xmglinux/backlight-go/internal/services/applylog"
	"github.com/xmglinux/backlight-go/internal/services/device"
	"github.com/xmglinux/backlight-go/internal/services/reconciler"
	"github.com/xmglinux/backlight-go/internal/services/watcher"
	"github.com/xmglinux/backlight-go/internal/store"
)

const usage = `Usage: backlightctl <command> [flags]

Commands:
  list                       list profiles, marking active and power assignments
  show <name>                print one profile
  create <name> [flags]      create a profile
  save <name> [flags]        update an existing profile
  rename <old> <new>         rename a profile
  delete <name>              delete a profile
  activate <name>            make a profile active
  assign [-ac p] [-battery p]  set power-source profile assignments
  apply                      apply the active profile to the device now
  log [-n lines]             show recent apply outcomes
  watch                      follow external profile store changes
`

type app struct {
	cfg   *config.Config
	store *store.Store
	locks *lockfile.Manager
}

func main() {
	_ = godotenv.Load()
	log.SetFlags(0)

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := config.Load()
	st, err := store.Open(cfg.ProfilePath)
	if err != nil {
		log.Fatalf("open profile store: %v", err)
	}
	a := &app{cfg: cfg, store: st, locks: lockfile.NewManager(cfg.ConfigDir)}

	cmd, args := os.Args[1], os.Args[2:]
	if err := a.dispatch(cmd, args); err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

func (a *app) dispatch(cmd string, args []string) error {
	switch cmd {
	case "list":
		return a.list()
	case "show":
		return a.show(args)
	case "create":
		return a.upsert(args, true)
	case "save":
		return a.upsert(args, false)
	case "rename":
		return a.rename(args)
	case "delete":
		return a.delete(args)
	case "activate":
		return a.activate(args)
	case "assign":
		return a.assign(args)
	case "apply":
		return a.apply()
	case "log":
		return a.tail(args)
	case "watch":
		return a.watch()
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// write runs a mutator while holding the cross-process write lock.
func (a *app) write(m store.Mutator) error {
	guard, err := a.locks.Acquire(context.Background(), lockfile.ScopeStore, a.cfg.LockTimeout)
	if err != nil {
		return err
	}
	defer guard.Release()
	return a.store.Write(m)
}

func (a *app) list() error {
	doc, err := a.store.Read()
	if err != nil {
		return err
	}
	names := make([]string, 0, len(doc.Profiles))
	for name := range doc.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		marks := ""
		if name == doc.Active {
			marks += " (active)"
		}
		if name == doc.ACProfile {
			marks += " [AC]"
		}
		if name == doc.BatteryProfile {
			marks += " [battery]"
		}
		fmt.Printf("%s%s\n", name, marks)
	}
	return nil
}

func (a *app) show(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one profile name")
	}
	doc, err := a.store.Read()
	if err != nil {
		return err
	}
	p, ok := doc.Profiles[args[0]]
	if !ok {
		return fmt.Errorf("profile %q does not exist", args[0])
	}
	fmt.Printf("mode=%s brightness=%d static_color=%s speed=%d color=%s direction=%s reactive=%v\n",
		p.Mode, p.Brightness, p.StaticColor, p.Speed, p.Color, p.Direction, p.Reactive)
	return nil
}

func (a *app) upsert(args []string, create bool) error {
	verb := "save"
	if create {
		verb = "create"
	}
	fs := flag.NewFlagSet(verb, flag.ExitOnError)
	base := store.DefaultProfile()
	if !create && len(args) > 0 {
		if doc, err := a.store.Read(); err == nil {
			if existing, ok := doc.Profiles[args[0]]; ok {
				base = existing
			}
		}
	}
	brightness := fs.Int("brightness", base.Brightness, "brightness 0-50")
	mode := fs.String("mode", base.Mode, "lighting mode")
	staticColor := fs.String("static-color", base.StaticColor, "color for static mode")
	speed := fs.Int("speed", base.Speed, "effect speed 0-10")
	color := fs.String("color", base.Color, "effect color, or none")
	direction := fs.String("direction", base.Direction, "effect direction, or none")
	reactive := fs.Bool("reactive", base.Reactive, "reactive effect")

	if len(args) < 1 {
		return fmt.Errorf("expected a profile name")
	}
	name := args[0]
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	p := store.Profile{
		Brightness:  *brightness,
		Mode:        *mode,
		StaticColor: *staticColor,
		Speed:       *speed,
		Color:       *color,
		Direction:   *direction,
		Reactive:    *reactive,
	}
	if create {
		return a.write(store.CreateProfile(name, p))
	}
	return a.write(store.SaveProfile(name, p))
}

func (a *app) rename(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("expected old and new profile names")
	}
	return a.write(store.RenameProfile(args[0], args[1]))
}

func (a *app) delete(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one profile name")
	}
	return a.write(store.DeleteProfile(args[0]))
}

func (a *app) activate(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one profile name")
	}
	return a.write(store.SetActive(args[0]))
}

func (a *app) assign(args []string) error {
	doc, err := a.store.Read()
	if err != nil {
		return err
	}
	fs := flag.NewFlagSet("assign", flag.ExitOnError)
	ac := fs.String("ac", doc.ACProfile, "profile to apply on AC power (empty clears)")
	battery := fs.String("battery", doc.BatteryProfile, "profile to apply on battery (empty clears)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return a.write(store.SetPowerProfiles(*ac, *battery))
}

func (a *app) apply() error {
	applyLog, err := applylog.New(a.cfg.ApplyLogPath, a.cfg.LogMaxBytes, a.cfg.LogKeepBytes)
	if err != nil {
		return err
	}
	var drv device.Driver
	if a.cfg.Simulate {
		drv = &device.Simulator{}
	} else {
		drv = device.NewController(device.ResolveTool())
	}
	rec := reconciler.New(a.store, a.locks, drv, applyLog, nil, reconciler.Config{
		LockTimeout: a.cfg.LockTimeout,
		Attempts:    a.cfg.ApplyAttempts,
		RetryDelay:  a.cfg.ApplyRetryDelay,
	})
	out := rec.Reconcile(context.Background(), "manual apply")
	if out.Status == reconciler.StatusFailed {
		return fmt.Errorf("apply failed at %s stage: %w", out.Stage, out.Err)
	}
	fmt.Printf("Applied profile %q (attempts: %d)\n", out.Profile, out.Attempts)
	return nil
}

func (a *app) tail(args []string) error {
	fs := flag.NewFlagSet("log", flag.ExitOnError)
	n := fs.Int("n", 20, "number of lines")
	if err := fs.Parse(args); err != nil {
		return err
	}
	applyLog, err := applylog.New(a.cfg.ApplyLogPath, a.cfg.LogMaxBytes, a.cfg.LogKeepBytes)
	if err != nil {
		return err
	}
	for _, line := range applyLog.Tail(*n) {
		fmt.Println(line)
	}
	return nil
}

func (a *app) watch() error {
	w := watcher.New(a.cfg.ProfilePath, a.cfg.Debounce)
	a.store.SetCommitHook(func() { w.SuppressNext(1) })

	poll := false
	if err := w.Start(); err != nil {
		log.Printf("Live watch unavailable (%v); polling every %v", err, a.cfg.PollInterval)
		poll = true
	}
	defer w.Close()

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	fmt.Println("Watching for profile store changes (Ctrl-C to stop)")
	for {
		select {
		case ch, ok := <-w.Events():
			if !ok {
				return nil
			}
			doc, err := a.store.Read()
			if err != nil {
				log.Printf("change #%d: store unreadable: %v", ch.Seq, err)
				continue
			}
			fmt.Printf("change #%d at %s: active=%q profiles=%d\n",
				ch.Seq, ch.ModTime.Format(time.RFC3339), doc.Active, len(doc.Profiles))
		case <-ticker.C:
			if poll {
				w.CheckNow()
			}
		}
	}
}
