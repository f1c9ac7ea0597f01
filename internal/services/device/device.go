// Package device drives the keyboard backlight controller through the
// ite8291r3-ctl command-line tool. The rest of the system treats a
// profile as opaque; this package is where its fields become device
// commands.
package device

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xmglinux/backlight-go/internal/store"
)

// ToolEnvVar overrides the controller tool location.
const ToolEnvVar = "ITE8291R3_CTL"

var toolCandidates = []string{
	"/usr/local/bin/ite8291r3-ctl",
	"ite8291r3-ctl",
}

// Error kinds for a failed driver call.
var (
	// ErrNotFound: the controller is absent, typically because USB has
	// not finished enumerating after a resume.
	ErrNotFound = errors.New("device not found")
	// ErrRejected: the controller refused the operation.
	ErrRejected = errors.New("operation rejected")
)

// Error wraps a failed driver invocation.
type Error struct {
	Kind    error // ErrNotFound or ErrRejected
	Command string
	Output  string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v: %s: %v", e.Kind, e.Command, e.Err)
}

func (e *Error) Unwrap() error { return e.Kind }

// CommandExecutor runs the controller tool. Swapped out in tests.
type CommandExecutor interface {
	Execute(ctx context.Context, name string, args ...string) ([]byte, error)
}

// realExecutor implements CommandExecutor using actual commands.
type realExecutor struct{}

func (e *realExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// ResolveTool locates the controller tool: $ITE8291R3_CTL first, then
// the install path, then $PATH. Empty string when none is usable.
func ResolveTool() string {
	candidates := append([]string{os.Getenv(ToolEnvVar)}, toolCandidates...)
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		path := candidate
		if !filepath.IsAbs(candidate) {
			resolved, err := exec.LookPath(candidate)
			if err != nil {
				continue
			}
			path = resolved
		}
		if info, err := os.Stat(path); err == nil && info.Mode()&0o111 != 0 {
			return path
		}
	}
	return ""
}

// BuildCommands translates a profile into the tool invocations that
// realize it. Zero brightness is just "off"; a static profile sets one
// color; an effect profile configures the animation. Brightness is
// reasserted last because some firmware revisions reset it.
func BuildCommands(p store.Profile) [][]string {
	p = p.Sanitize()
	if p.Brightness <= 0 {
		return [][]string{{"off"}}
	}

	commands := [][]string{{"off"}}
	b := strconv.Itoa(p.Brightness)

	if p.Mode == "static" {
		color := p.StaticColor
		if color == "" {
			color = "white"
		}
		commands = append(commands,
			[]string{"monocolor", "-b", b, "--name", color},
			[]string{"brightness", b},
		)
		return commands
	}

	args := []string{"effect", "-b", b}
	if p.Speed != 5 {
		args = append(args, "-s", strconv.Itoa(p.Speed))
	}
	if p.Color != "" && p.Color != "none" {
		args = append(args, "-c", p.Color)
	}
	if p.Reactive {
		args = append(args, "-r")
	} else if p.Direction != "" && p.Direction != "none" {
		args = append(args, "-d", p.Direction)
	}
	args = append(args, p.Mode)

	commands = append(commands, args, []string{"brightness", b})
	return commands
}

// Driver applies profiles to the hardware.
type Driver interface {
	Apply(ctx context.Context, p store.Profile) error
}

// Verification delays. The controller needs a moment after a command
// burst before its query output reflects the new state, and longer
// after a power cycle of the lighting.
const (
	defaultVerifyDelay   = 250 * time.Millisecond
	defaultRecoveryDelay = 1800 * time.Millisecond
)

// Controller is the real Driver backed by the ite8291r3-ctl tool.
type Controller struct {
	tool     string
	executor CommandExecutor

	verifyDelay   time.Duration
	recoveryDelay time.Duration
}

// NewController returns a driver using the given tool path. An empty
// path means the tool was not found; Apply then fails with ErrNotFound.
func NewController(tool string) *Controller {
	return &Controller{
		tool:          tool,
		executor:      &realExecutor{},
		verifyDelay:   defaultVerifyDelay,
		recoveryDelay: defaultRecoveryDelay,
	}
}

// SetExecutor sets the command executor (for testing).
func (c *Controller) SetExecutor(executor CommandExecutor) {
	c.executor = executor
}

// Apply runs the command sequence for p and, for any profile that
// leaves the lighting on, verifies through the tool's query output that
// the keyboard actually came on. Firmware sometimes reports off right
// after a resume-time apply; one recovery pass power-cycles the
// lighting and re-sends the sequence before giving up.
func (c *Controller) Apply(ctx context.Context, p store.Profile) error {
	if c.tool == "" {
		return &Error{Kind: ErrNotFound, Command: "ite8291r3-ctl", Err: errors.New("tool not installed")}
	}
	p = p.Sanitize()
	commands := BuildCommands(p)
	if err := c.runAll(ctx, commands); err != nil {
		return err
	}
	if p.Brightness <= 0 {
		return nil
	}

	if sleepCtx(ctx, c.verifyDelay) != nil {
		return nil
	}
	if c.keyboardOn(ctx, p.Brightness) {
		return nil
	}

	_, _ = c.executor.Execute(ctx, c.tool, "off")
	if sleepCtx(ctx, c.recoveryDelay) != nil {
		return nil
	}
	if err := c.runAll(ctx, withoutOff(commands)); err != nil {
		return err
	}
	if sleepCtx(ctx, c.verifyDelay) != nil {
		return nil
	}
	if c.keyboardOn(ctx, p.Brightness) {
		return nil
	}
	return &Error{
		Kind:    ErrRejected,
		Command: c.tool + " query --brightness --state",
		Err:     errors.New("keyboard still off after apply"),
	}
}

func (c *Controller) runAll(ctx context.Context, commands [][]string) error {
	for _, args := range commands {
		out, err := c.executor.Execute(ctx, c.tool, args...)
		if err != nil {
			return &Error{
				Kind:    classify(out, err),
				Command: c.tool + " " + strings.Join(args, " "),
				Output:  strings.TrimSpace(string(out)),
				Err:     err,
			}
		}
	}
	return nil
}

// QueryState reads the controller's reported brightness and power
// state. brightness is -1 and state is "" for anything the tool did not
// print.
func (c *Controller) QueryState(ctx context.Context) (brightness int, state string, err error) {
	out, err := c.executor.Execute(ctx, c.tool, "query", "--brightness", "--state")
	if err != nil {
		return -1, "", err
	}
	brightness = -1
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if lower := strings.ToLower(line); lower == "on" || lower == "off" {
			state = lower
			continue
		}
		if v, convErr := strconv.Atoi(line); convErr == nil {
			brightness = v
		}
	}
	return brightness, state, nil
}

// keyboardOn reports whether the keyboard reads as lit after an apply.
// A failed query gives the hardware the benefit of the doubt: the apply
// commands themselves already succeeded.
func (c *Controller) keyboardOn(ctx context.Context, desired int) bool {
	brightness, state, err := c.QueryState(ctx)
	if err != nil {
		return true
	}
	if state == "on" {
		return true
	}
	if desired < 1 {
		desired = 1
	}
	return brightness >= desired || brightness > 0
}

func withoutOff(commands [][]string) [][]string {
	kept := make([][]string, 0, len(commands))
	for _, args := range commands {
		if len(args) == 1 && args[0] == "off" {
			continue
		}
		kept = append(kept, args)
	}
	return kept
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// classify maps a failed invocation to a device error kind. The tool
// prints a "device not found" style message while USB is still
// enumerating after resume; everything else counts as rejected.
func classify(out []byte, err error) error {
	text := strings.ToLower(string(out) + " " + err.Error())
	if strings.Contains(text, "not found") ||
		strings.Contains(text, "no such device") ||
		strings.Contains(text, "no backend") ||
		strings.Contains(text, "executable file not found") {
		return ErrNotFound
	}
	return ErrRejected
}

// Simulator is a Driver that only records what it would have applied.
// Used with BACKLIGHT_SIMULATE and in tests.
type Simulator struct {
	Applied []store.Profile
	// Fail makes the next n Apply calls fail with NextErr.
	Fail    int
	NextErr error
}

// Apply records p, or fails while the failure budget lasts.
func (s *Simulator) Apply(_ context.Context, p store.Profile) error {
	if s.Fail > 0 {
		s.Fail--
		err := s.NextErr
		if err == nil {
			err = &Error{Kind: ErrNotFound, Command: "simulated", Err: errors.New("simulated failure")}
		}
		return err
	}
	s.Applied = append(s.Applied, p)
	return nil
}
