// Package watcher delivers change notifications for the committed
// profile document. Filesystem event bursts are debounced into one
// logical notification per settled state, and a process can suppress
// the echo of its own commits so a save never re-triggers a reload.
package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrWatchUnavailable reports that the underlying filesystem watch
// could not be established. The watcher stays usable through CheckNow;
// callers fall back to polling rather than failing.
var ErrWatchUnavailable = errors.New("filesystem watch unavailable")

// Change describes one settled external modification of the document.
type Change struct {
	Seq     uint64
	ModTime time.Time
	Size    int64
}

// Watcher watches the committed profile document.
//
// Events are delivered on a buffered channel with latest-wins
// coalescing: a slow subscriber sees the newest settled change, never a
// backlog of stale ones.
type Watcher struct {
	path     string
	debounce time.Duration

	events chan Change

	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	timer    *time.Timer
	suppress int
	seq      uint64
	lastMod  time.Time
	lastSize int64
	closed   bool
}

// New returns a watcher for the committed document at path. The
// debounce duration is the quiet period required before a burst of
// filesystem events counts as one settled change.
func New(path string, debounce time.Duration) *Watcher {
	return &Watcher{
		path:     path,
		debounce: debounce,
		events:   make(chan Change, 1),
	}
}

// Events returns the notification channel. It is closed by Close.
func (w *Watcher) Events() <-chan Change { return w.events }

// SuppressNext arranges for the next n settled changes to be swallowed.
// The store's write path calls this immediately before publishing a
// commit, so the writing process does not observe its own write as an
// external change.
func (w *Watcher) SuppressNext(n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if n > 0 {
		w.suppress += n
	}
}

// Start establishes the filesystem watch on the document's directory.
// The directory, not the file, is watched: the commit protocol replaces
// the file by rename, which retires the old inode. Returns
// ErrWatchUnavailable (wrapped) when the watch cannot be established;
// the caller keeps running and may poll with CheckNow.
func (w *Watcher) Start() error {
	if fi, err := os.Stat(w.path); err == nil {
		w.mu.Lock()
		w.lastMod, w.lastSize = fi.ModTime(), fi.Size()
		w.mu.Unlock()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Join(ErrWatchUnavailable, err)
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return errors.Join(ErrWatchUnavailable, err)
	}

	w.mu.Lock()
	w.fsw = fsw
	w.mu.Unlock()

	go w.loop(fsw)
	return nil
}

// Close stops the watch and closes the event channel.
func (w *Watcher) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	if w.fsw != nil {
		w.fsw.Close()
		w.fsw = nil
	} else {
		close(w.events)
	}
}

// CheckNow compares the document's current mtime and size against the
// last observed state and emits a notification if they differ. Polling
// fallback for hosts where Start failed.
func (w *Watcher) CheckNow() {
	fi, err := os.Stat(w.path)
	if err != nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if fi.ModTime().Equal(w.lastMod) && fi.Size() == w.lastSize {
		return
	}
	w.emitLocked(fi.ModTime(), fi.Size())
}

func (w *Watcher) loop(fsw *fsnotify.Watcher) {
	defer func() {
		w.mu.Lock()
		if !w.closed {
			w.closed = true
		}
		w.mu.Unlock()
		close(w.events)
	}()
	for {
		select {
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			// Only the committed document matters. The sibling temp
			// file never becomes a notification.
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			w.bump()
		case _, ok := <-fsw.Errors:
			if !ok {
				return
			}
			// Watch errors degrade to polling; never fatal.
		}
	}
}

// bump restarts the debounce timer; the change settles when the timer
// fires without further events.
func (w *Watcher) bump() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.settled)
}

func (w *Watcher) settled() {
	fi, err := os.Stat(w.path)
	if err != nil {
		// Removed or mid-replace; the next event will retry.
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.emitLocked(fi.ModTime(), fi.Size())
}

func (w *Watcher) emitLocked(mod time.Time, size int64) {
	w.lastMod, w.lastSize = mod, size
	if w.suppress > 0 {
		w.suppress--
		return
	}
	w.seq++
	ch := Change{Seq: w.seq, ModTime: mod, Size: size}
	select {
	case w.events <- ch:
	default:
		// Latest wins: drop the stale queued change.
		select {
		case <-w.events:
		default:
		}
		select {
		case w.events <- ch:
		default:
		}
	}
}
