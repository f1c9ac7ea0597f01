package device

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xmglinux/backlight-go/internal/store"
)

// mockExecutor implements CommandExecutor for testing. Responses in
// sequence are consumed one call at a time before falling back to the
// fixed responses map.
type mockExecutor struct {
	responses map[string][]byte
	sequence  map[string][][]byte
	errors    map[string]error
	calls     []string
}

func newMockExecutor() *mockExecutor {
	return &mockExecutor{
		responses: make(map[string][]byte),
		sequence:  make(map[string][][]byte),
		errors:    make(map[string]error),
	}
}

func (m *mockExecutor) Execute(_ context.Context, name string, args ...string) ([]byte, error) {
	key := name + " " + strings.Join(args, " ")
	m.calls = append(m.calls, key)
	if queued, ok := m.sequence[key]; ok && len(queued) > 0 {
		m.sequence[key] = queued[1:]
		return queued[0], m.errors[key]
	}
	if err, ok := m.errors[key]; ok {
		return m.responses[key], err
	}
	return m.responses[key], nil
}

const (
	testTool = "/usr/local/bin/ite8291r3-ctl"
	queryKey = testTool + " query --brightness --state"
)

func newTestController(exec *mockExecutor) *Controller {
	c := NewController(testTool)
	c.SetExecutor(exec)
	c.verifyDelay = time.Millisecond
	c.recoveryDelay = time.Millisecond
	return c
}

func TestBuildCommandsStatic(t *testing.T) {
	cmds := BuildCommands(store.Profile{Brightness: 40, Mode: "static", StaticColor: "white", Speed: 5})

	require.Len(t, cmds, 3)
	assert.Equal(t, []string{"off"}, cmds[0])
	assert.Equal(t, []string{"monocolor", "-b", "40", "--name", "white"}, cmds[1])
	assert.Equal(t, []string{"brightness", "40"}, cmds[2])
}

func TestBuildCommandsZeroBrightnessIsOff(t *testing.T) {
	cmds := BuildCommands(store.Profile{Brightness: 0, Mode: "wave"})
	require.Len(t, cmds, 1)
	assert.Equal(t, []string{"off"}, cmds[0])
}

func TestBuildCommandsEffect(t *testing.T) {
	cmds := BuildCommands(store.Profile{
		Brightness: 30,
		Mode:       "wave",
		Speed:      8,
		Color:      "blue",
		Direction:  "left",
	})

	require.Len(t, cmds, 3)
	assert.Equal(t, []string{"effect", "-b", "30", "-s", "8", "-c", "blue", "-d", "left", "wave"}, cmds[1])
	assert.Equal(t, []string{"brightness", "30"}, cmds[2])
}

func TestBuildCommandsReactiveOverridesDirection(t *testing.T) {
	cmds := BuildCommands(store.Profile{
		Brightness: 30,
		Mode:       "ripple",
		Speed:      5,
		Direction:  "right",
		Reactive:   true,
	})

	require.Len(t, cmds, 3)
	assert.Equal(t, []string{"effect", "-b", "30", "-r", "ripple"}, cmds[1])
}

func TestBuildCommandsDefaultSpeedOmitted(t *testing.T) {
	cmds := BuildCommands(store.Profile{Brightness: 30, Mode: "rainbow", Speed: 5})
	assert.NotContains(t, cmds[1], "-s")
}

func TestControllerRunsFullSequence(t *testing.T) {
	exec := newMockExecutor()
	exec.responses[queryKey] = []byte("40\non\n")
	c := newTestController(exec)

	err := c.Apply(context.Background(), store.Profile{Brightness: 40, Mode: "static", StaticColor: "white", Speed: 5})
	require.NoError(t, err)
	require.Len(t, exec.calls, 4)
	assert.Equal(t, testTool+" off", exec.calls[0])
	assert.Equal(t, queryKey, exec.calls[3])
}

func TestControllerStopsOnFirstFailure(t *testing.T) {
	exec := newMockExecutor()
	exec.errors[testTool+" off"] = errors.New("exit status 2")
	exec.responses[testTool+" off"] = []byte("Device not found")

	c := newTestController(exec)

	err := c.Apply(context.Background(), store.Profile{Brightness: 40, Mode: "static", StaticColor: "white", Speed: 5})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound), "want ErrNotFound, got %v", err)
	assert.Len(t, exec.calls, 1, "sequence should abort on first failure")
}

func TestControllerSkipsVerificationForOffProfile(t *testing.T) {
	exec := newMockExecutor()
	c := newTestController(exec)

	err := c.Apply(context.Background(), store.Profile{Brightness: 0})
	require.NoError(t, err)
	assert.Equal(t, []string{testTool + " off"}, exec.calls)
}

func TestControllerRecoversWhenFirmwareReadsOff(t *testing.T) {
	exec := newMockExecutor()
	exec.sequence[queryKey] = [][]byte{[]byte("0\noff\n"), []byte("40\non\n")}
	c := newTestController(exec)

	err := c.Apply(context.Background(), store.Profile{Brightness: 40, Mode: "static", StaticColor: "white", Speed: 5})
	require.NoError(t, err)

	// off, monocolor, brightness, query(off), off, monocolor,
	// brightness, query(on). The recovery pass re-sends everything but
	// the leading off of the original sequence.
	require.Len(t, exec.calls, 8)
	assert.Equal(t, queryKey, exec.calls[3])
	assert.Equal(t, testTool+" off", exec.calls[4])
	assert.Equal(t, testTool+" monocolor -b 40 --name white", exec.calls[5])
	assert.Equal(t, testTool+" brightness 40", exec.calls[6])
	assert.Equal(t, queryKey, exec.calls[7])
}

func TestControllerFailsWhenKeyboardStaysOff(t *testing.T) {
	exec := newMockExecutor()
	exec.responses[queryKey] = []byte("0\noff\n")
	c := newTestController(exec)

	err := c.Apply(context.Background(), store.Profile{Brightness: 40, Mode: "static", StaticColor: "white", Speed: 5})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRejected), "want ErrRejected, got %v", err)
}

func TestControllerTrustsHardwareWhenQueryFails(t *testing.T) {
	exec := newMockExecutor()
	exec.errors[queryKey] = errors.New("exit status 1")
	c := newTestController(exec)

	err := c.Apply(context.Background(), store.Profile{Brightness: 40, Mode: "static", StaticColor: "white", Speed: 5})
	require.NoError(t, err)
	require.Len(t, exec.calls, 4, "failed query must not trigger the recovery pass")
}

func TestQueryStateParsesToolOutput(t *testing.T) {
	exec := newMockExecutor()
	exec.responses[queryKey] = []byte("25\non\n")
	c := newTestController(exec)

	brightness, state, err := c.QueryState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 25, brightness)
	assert.Equal(t, "on", state)

	exec.responses[queryKey] = []byte("off\n")
	brightness, state, err = c.QueryState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, -1, brightness)
	assert.Equal(t, "off", state)
}

func TestClassifyRejected(t *testing.T) {
	err := errors.New("exit status 1")
	assert.Equal(t, ErrRejected, classify([]byte("invalid argument"), err))
	assert.Equal(t, ErrNotFound, classify([]byte("usb device not found"), err))
	assert.Equal(t, ErrNotFound, classify(nil, errors.New(`exec: "ite8291r3-ctl": executable file not found in $PATH`)))
}

func TestControllerWithoutToolFailsNotFound(t *testing.T) {
	c := NewController("")
	err := c.Apply(context.Background(), store.Profile{Brightness: 40})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestResolveToolPrefersEnv(t *testing.T) {
	dir := t.TempDir()
	tool := filepath.Join(dir, "ite8291r3-ctl")
	require.NoError(t, os.WriteFile(tool, []byte("#!/bin/sh\n"), 0o755))

	t.Setenv(ToolEnvVar, tool)
	assert.Equal(t, tool, ResolveTool())
}

func TestResolveToolMissing(t *testing.T) {
	t.Setenv(ToolEnvVar, filepath.Join(t.TempDir(), "nope"))
	t.Setenv("PATH", t.TempDir())
	assert.Equal(t, "", ResolveTool())
}

func TestSimulatorFailureBudget(t *testing.T) {
	sim := &Simulator{Fail: 2}
	p := store.Profile{Brightness: 10}

	require.Error(t, sim.Apply(context.Background(), p))
	require.Error(t, sim.Apply(context.Background(), p))
	require.NoError(t, sim.Apply(context.Background(), p))
	assert.Len(t, sim.Applied, 1)
}
