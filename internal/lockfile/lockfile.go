// Package lockfile provides the advisory locks coordinating the
// desktop app, the power monitor, and the resume hook. Each scope is a
// lock file in the config directory, held with flock and annotated with
// a holder record (pid, host, nonce) for diagnostics and staleness
// checks. A crashed holder's flock is released by the kernel, so its
// leftover record reads as a free lock, not a blocking one.
package lockfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lucsky/cuid"
	"golang.org/x/sys/unix"
)

// Scope names a mutual-exclusion domain.
type Scope string

const (
	// ScopeApp guards "one desktop app instance".
	ScopeApp Scope = "app.lock"
	// ScopeStore guards profile store mutations across processes.
	ScopeStore Scope = "store.lock"
)

const retryInterval = 50 * time.Millisecond

// Record identifies the current holder of a scope.
type Record struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	Nonce      string    `json:"nonce"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Stale reports whether the recorded owner no longer exists. Only
// meaningful for records written on this host; a foreign hostname is
// never considered stale.
func (r *Record) Stale() bool {
	host, _ := os.Hostname()
	if r.Hostname != host || r.PID <= 0 {
		return false
	}
	return unix.Kill(r.PID, 0) == unix.ESRCH
}

// TimeoutError reports that a live holder kept a scope for longer than
// the caller's bound.
type TimeoutError struct {
	Scope   Scope
	Timeout time.Duration
	Holder  *Record
}

func (e *TimeoutError) Error() string {
	if e.Holder != nil {
		return fmt.Sprintf("lock %s held by pid %d after %v", e.Scope, e.Holder.PID, e.Timeout)
	}
	return fmt.Sprintf("lock %s still held after %v", e.Scope, e.Timeout)
}

// Guard represents a held lock. Release is idempotent and safe on
// every exit path; abrupt process death is covered by the kernel
// dropping the flock.
type Guard struct {
	scope Scope
	path  string
	file  *os.File

	once sync.Once
}

// Scope returns the scope this guard holds.
func (g *Guard) Scope() Scope { return g.scope }

// Release drops the lock and clears the holder record. The lock file
// itself stays in place: unlinking it would let a contender that
// already opened the path flock the orphaned inode while a later
// acquirer locks a fresh file at the same path, giving the scope two
// live holders.
func (g *Guard) Release() {
	g.once.Do(func() {
		// Clear the record before unlocking so no window shows our
		// record on a free lock.
		_ = g.file.Truncate(0)
		unix.Flock(int(g.file.Fd()), unix.LOCK_UN)
		g.file.Close()
	})
}

// Manager acquires scoped locks in a shared directory.
type Manager struct {
	dir string
}

// NewManager returns a manager for lock files under dir.
func NewManager(dir string) *Manager {
	return &Manager{dir: dir}
}

// Acquire blocks until scope is free or timeout elapses. A leftover
// record whose owner died is treated as a free lock. Timeout yields a
// *TimeoutError carrying the live holder's record when readable.
func (m *Manager) Acquire(ctx context.Context, scope Scope, timeout time.Duration) (*Guard, error) {
	deadline := time.Now().Add(timeout)
	var lastHolder *Record
	for {
		guard, holder, err := m.tryOnce(scope)
		if err == nil {
			return guard, nil
		}
		if !errors.Is(err, errHeld) {
			return nil, err
		}
		if holder != nil {
			lastHolder = holder
		}
		if time.Now().After(deadline) {
			return nil, &TimeoutError{Scope: scope, Timeout: timeout, Holder: lastHolder}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}

// TryAcquire attempts the scope once without waiting. Used for the
// single-instance check at desktop app startup.
func (m *Manager) TryAcquire(scope Scope) (*Guard, error) {
	guard, holder, err := m.tryOnce(scope)
	if errors.Is(err, errHeld) {
		return nil, &TimeoutError{Scope: scope, Holder: holder}
	}
	return guard, err
}

// Holder returns the current holder record for a scope, or nil when
// the scope is free or the record is unreadable.
func (m *Manager) Holder(scope Scope) *Record {
	raw, err := os.ReadFile(m.pathFor(scope))
	if err != nil {
		return nil
	}
	var rec Record
	if json.Unmarshal(raw, &rec) != nil {
		return nil
	}
	return &rec
}

var errHeld = errors.New("lock held")

func (m *Manager) tryOnce(scope Scope) (*Guard, *Record, error) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create lock dir: %w", err)
	}
	path := m.pathFor(scope)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open lock %s: %w", scope, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		holder := m.Holder(scope)
		f.Close()
		if err == unix.EWOULDBLOCK || err == unix.EAGAIN {
			if holder != nil && holder.Stale() {
				// The recorded owner is gone but something else holds
				// the flock on this inode; fall through and report held.
				holder = nil
			}
			return nil, holder, errHeld
		}
		return nil, nil, fmt.Errorf("flock %s: %w", scope, err)
	}

	host, _ := os.Hostname()
	rec := Record{
		PID:        os.Getpid(),
		Hostname:   host,
		Nonce:      cuid.New(),
		AcquiredAt: time.Now().UTC(),
	}
	raw, _ := json.Marshal(rec)
	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt(append(raw, '\n'), 0)
		_ = f.Sync()
	}
	return &Guard{scope: scope, path: path, file: f}, nil, nil
}

func (m *Manager) pathFor(scope Scope) string {
	return filepath.Join(m.dir, string(scope))
}
