// Package applylog keeps the durable record of profile apply attempts
// so a failed restore can be diagnosed after the fact. The file is
// append-only and size-bounded: once it grows past the cap it is
// truncated keeping the most recent bytes, oldest first to go.
package applylog

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level is the severity of a log entry.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Entry is one apply-path event.
type Entry struct {
	Level      Level
	Invocation string // correlates the lines of one reconciliation
	Event      string // lock_timeout, retry, applied, failed, ...
	Profile    string
	Attempt    int // 1-based; 0 means not attempt-scoped
	Attempts   int
	Reason     string
}

// Logger appends entries to a bounded log file. Appends are single
// O_APPEND writes, so concurrent processes interleave whole lines.
type Logger struct {
	path      string
	maxBytes  int64
	keepBytes int64

	mu sync.Mutex
}

// New returns a logger writing to path, rotating once the file exceeds
// maxBytes by keeping the last keepBytes.
func New(path string, maxBytes, keepBytes int64) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	if keepBytes <= 0 || keepBytes > maxBytes {
		keepBytes = maxBytes / 2
	}
	return &Logger{path: path, maxBytes: maxBytes, keepBytes: keepBytes}, nil
}

// Path returns the file backing this log.
func (l *Logger) Path() string { return l.path }

// Append writes a single entry. Logging failures are swallowed: the
// apply path must never fail because its diagnostic channel did.
func (l *Logger) Append(e Entry) {
	line := l.format(e)
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	_, _ = f.WriteString(line)
	info, statErr := f.Stat()
	f.Close()

	if statErr == nil && l.maxBytes > 0 && info.Size() > l.maxBytes {
		l.rotate()
	}
}

// Info appends an informational entry with just event and reason.
func (l *Logger) Info(invocation, event, reason string) {
	l.Append(Entry{Level: LevelInfo, Invocation: invocation, Event: event, Reason: reason})
}

// Tail returns up to maxLines of the most recent entries.
func (l *Logger) Tail(maxLines int) []string {
	if maxLines <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return lines
}

func (l *Logger) format(e Entry) string {
	var b strings.Builder
	b.WriteString(time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, " %-5s", string(e.Level))
	if e.Invocation != "" {
		fmt.Fprintf(&b, " invocation=%s", e.Invocation)
	}
	fmt.Fprintf(&b, " event=%s", e.Event)
	if e.Profile != "" {
		fmt.Fprintf(&b, " profile=%q", e.Profile)
	}
	if e.Attempt > 0 {
		fmt.Fprintf(&b, " attempt=%d/%d", e.Attempt, e.Attempts)
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, " reason=%q", e.Reason)
	}
	b.WriteByte('\n')
	return b.String()
}

// rotate rewrites the file with its most recent keepBytes, cut forward
// to the next line boundary so no partial line survives. The rewrite is
// read-then-rename under this process's mutex only: a line another
// process appends between the read and the rename is lost. Appends are
// atomic; rotation is not serialized across processes.
func (l *Logger) rotate() {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return
	}
	if int64(len(raw)) <= l.keepBytes {
		return
	}
	tail := raw[int64(len(raw))-l.keepBytes:]
	if idx := bytes.IndexByte(tail, '\n'); idx >= 0 && idx+1 < len(tail) {
		tail = tail[idx+1:]
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, tail, 0o644); err != nil {
		os.Remove(tmp)
		return
	}
	if err := os.Rename(tmp, l.path); err != nil {
		os.Remove(tmp)
	}
}
