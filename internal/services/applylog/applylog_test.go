package applylog

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func newTestLogger(t *testing.T, maxBytes, keepBytes int64) *Logger {
	t.Helper()
	l, err := New(filepath.Join(t.TempDir(), "restore.log"), maxBytes, keepBytes)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return l
}

func TestAppendAndTail(t *testing.T) {
	l := newTestLogger(t, 64*1024, 32*1024)

	l.Append(Entry{Level: LevelInfo, Invocation: "abc", Event: "applied", Profile: "Bright", Attempt: 1, Attempts: 3, Reason: "resume"})
	l.Append(Entry{Level: LevelWarn, Invocation: "def", Event: "retry", Profile: "Dim", Attempt: 1, Attempts: 3, Reason: "device not found"})

	lines := l.Tail(10)
	if len(lines) != 2 {
		t.Fatalf("Tail returned %d lines, want 2", len(lines))
	}
	if !strings.Contains(lines[0], "event=applied") || !strings.Contains(lines[0], `profile="Bright"`) {
		t.Errorf("first line = %q", lines[0])
	}
	if !strings.Contains(lines[1], "attempt=1/3") || !strings.Contains(lines[1], `reason="device not found"`) {
		t.Errorf("second line = %q", lines[1])
	}
}

func TestTailLimitsToMostRecent(t *testing.T) {
	l := newTestLogger(t, 64*1024, 32*1024)
	for i := 0; i < 10; i++ {
		l.Info("inv", "applied", "resume")
	}
	if got := len(l.Tail(3)); got != 3 {
		t.Errorf("Tail(3) returned %d lines", got)
	}
}

func TestRotationKeepsMostRecentBytes(t *testing.T) {
	l := newTestLogger(t, 2048, 1024)

	for i := 0; i < 100; i++ {
		l.Append(Entry{Level: LevelInfo, Invocation: "padpadpadpad", Event: "applied", Profile: "Bright", Reason: "resume cycle"})
	}

	info, err := os.Stat(l.Path())
	if err != nil {
		t.Fatal(err)
	}
	// Every append past the cap triggers rotation back under keepBytes
	// plus one fresh line.
	if info.Size() > 2048+512 {
		t.Errorf("log size = %d after rotation, cap 2048", info.Size())
	}

	// No partial line at the start of the rotated file.
	raw, _ := os.ReadFile(l.Path())
	first := strings.SplitN(string(raw), "\n", 2)[0]
	if !strings.HasPrefix(first, "20") || !strings.Contains(first, "event=") {
		t.Errorf("rotated log starts mid-line: %q", first)
	}
}

func TestConcurrentAppendsInterleaveWholeLines(t *testing.T) {
	l := newTestLogger(t, 1<<20, 1<<19)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				l.Info("inv", "applied", "concurrent")
			}
		}()
	}
	wg.Wait()

	lines := l.Tail(500)
	if len(lines) != 200 {
		t.Fatalf("got %d lines, want 200", len(lines))
	}
	for _, line := range lines {
		if !strings.Contains(line, "event=applied") {
			t.Errorf("mangled line: %q", line)
		}
	}
}
