// Package store persists the profile document shared by the desktop
// app, the power monitor, and the resume hook. The document is a single
// JSON file committed by atomic rename, so a reader in any process sees
// either the previous or the next fully written state, never a torn one.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Mutator transforms a copy of the current document. It must be pure:
// no I/O, no retained references to the document after returning.
type Mutator func(*Document) error

// Store reads and writes the committed profile document.
//
// Write serializes read-modify-write within the process; cross-process
// exclusion is the lockfile package's job and callers are expected to
// hold the store write scope around Write.
type Store struct {
	path string

	mu sync.Mutex

	// commitHook runs immediately before the rename that publishes a
	// new document, while the write still holds the store mutex. The
	// change watcher registers its self-suppression here so a process
	// never re-processes its own commit as an external change.
	commitHook func()
}

// Open returns a store for the document at path, creating the
// containing directory and a default document on first run.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}
	s.removeOrphanTemp()
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := s.commit(DefaultDocument()); err != nil {
			return nil, fmt.Errorf("initialize profile store: %w", err)
		}
	}
	return s, nil
}

// Path returns the location of the committed document.
func (s *Store) Path() string { return s.path }

// SetCommitHook registers fn to run just before each commit becomes
// visible. Used for watcher self-suppression; nil clears it.
func (s *Store) SetCommitHook(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitHook = fn
}

// Read returns the last committed document. A missing file yields the
// default document (first run happened elsewhere or the store was
// removed); an unparseable file yields a CorruptionError and is never
// silently replaced.
func (s *Store) Read() (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

// Write applies mutate to a copy of the current document, validates the
// result, and commits it atomically. On any error the committed file is
// untouched. Callers must hold the cross-process store write lock.
func (s *Store) Write(mutate Mutator) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readLocked()
	if err != nil {
		return err
	}
	next := doc.Clone()
	if err := mutate(next); err != nil {
		return err
	}
	for name, p := range next.Profiles {
		next.Profiles[name] = p.Sanitize()
	}
	if err := next.Validate(); err != nil {
		return err
	}
	return s.commit(next)
}

func (s *Store) readLocked() (*Document, error) {
	s.removeOrphanTemp()
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultDocument(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read profile store: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &CorruptionError{Path: s.path, Err: err}
	}
	if doc.Profiles == nil {
		doc.Profiles = map[string]Profile{}
	}
	return &doc, nil
}

// commit publishes doc by writing a sibling temp file and renaming it
// over the committed path. Rename is the only step that changes what a
// reader can observe.
func (s *Store) commit(doc *Document) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode profile store: %w", err)
	}
	raw = append(raw, '\n')

	tmp := s.tempPath()
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("write profile store: %w", err)
	}
	if _, err := f.Write(raw); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write profile store: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync profile store: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close profile store: %w", err)
	}

	if s.commitHook != nil {
		s.commitHook()
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit profile store: %w", err)
	}
	return nil
}

func (s *Store) tempPath() string { return s.path + ".tmp" }

// removeOrphanTemp cleans up a temp file left by an interrupted commit.
// The committed document is unaffected; the orphan is just garbage.
func (s *Store) removeOrphanTemp() {
	if _, err := os.Stat(s.tempPath()); err == nil {
		os.Remove(s.tempPath())
	}
}
