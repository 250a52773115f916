// Package tmux drives the dedicated terminal multiplexer socket. All
// interaction goes through the tmux binary; session identifiers are
// validated upstream and always passed as positional arguments, never
// through a shell.
package tmux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/claudeck/claudeck/internal/logger"
	"github.com/claudeck/claudeck/pkg/models"
)

const (
	// DefaultSocket is the dedicated socket name. Keeping dashboard sessions
	// off the default socket isolates them from the operator's own tmux.
	DefaultSocket = "claude-dashboard"

	// DefaultCommandTimeout bounds every tmux invocation.
	DefaultCommandTimeout = 10 * time.Second
)

// Runner executes one tmux invocation. Tests substitute a fake.
type Runner interface {
	// Run executes tmux with the given arguments and optional stdin,
	// returning combined stdout.
	Run(ctx context.Context, stdin []byte, args ...string) ([]byte, error)
}

// execRunner runs the real multiplexer binary.
type execRunner struct {
	bin string
}

func (r execRunner) Run(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, r.bin, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), fmt.Errorf("tmux %s: %w: %s",
			args[len(args)-1], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// SessionInfo is one row of list-sessions output.
type SessionInfo struct {
	Name     string
	Activity time.Time
	Attached int
}

// Client wraps tmux invocations on one socket.
type Client struct {
	socket  string
	bin     string
	runner  Runner
	timeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithRunner substitutes the command runner. Used by tests.
func WithRunner(r Runner) Option {
	return func(c *Client) { c.runner = r }
}

// WithTimeout overrides the per-command timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithBinary overrides the multiplexer binary name.
func WithBinary(bin string) Option {
	return func(c *Client) {
		if bin != "" {
			c.bin = bin
			c.runner = execRunner{bin: bin}
		}
	}
}

// NewClient creates a client for the given socket name. Empty socket falls
// back to DefaultSocket.
func NewClient(socket string, opts ...Option) *Client {
	if socket == "" {
		socket = DefaultSocket
	}
	c := &Client{
		socket:  socket,
		bin:     "tmux",
		runner:  execRunner{bin: "tmux"},
		timeout: DefaultCommandTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Socket returns the socket name the client operates on.
func (c *Client) Socket() string {
	return c.socket
}

// Available reports whether the multiplexer binary can be found at all.
func (c *Client) Available() bool {
	_, err := exec.LookPath(c.bin)
	return err == nil
}

// run executes one tmux command on the socket with the client timeout.
func (c *Client) run(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	full := append([]string{"-L", c.socket}, args...)
	out, err := c.runner.Run(ctx, stdin, full...)
	if err != nil {
		return out, classifyError(err)
	}
	return out, nil
}

// classifyError maps tmux failures onto package sentinels.
func classifyError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "no server running"),
		strings.Contains(msg, "error connecting to"),
		errors.Is(err, exec.ErrNotFound):
		return fmt.Errorf("%w: %v", models.ErrMultiplexerUnavailable, err)
	case strings.Contains(msg, "can't find session"),
		strings.Contains(msg, "session not found"):
		return fmt.Errorf("%w: %v", models.ErrSessionNotFound, err)
	default:
		return err
	}
}

// NewSession creates a detached session named name with workDir as its
// start directory, running command inside it.
func (c *Client) NewSession(ctx context.Context, name, workDir, command string) error {
	args := []string{"new-session", "-d", "-s", name, "-c", workDir}
	if command != "" {
		args = append(args, command)
	}
	if _, err := c.run(ctx, nil, args...); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	logger.DebugCtx(ctx, "multiplexer session created",
		logger.KeySessionID, name, logger.KeyPath, workDir)
	return nil
}

// HasSession reports whether a session with the given name exists. A dead
// server means no sessions, not an error.
func (c *Client) HasSession(ctx context.Context, name string) (bool, error) {
	_, err := c.run(ctx, nil, "has-session", "-t", name)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, models.ErrSessionNotFound) || errors.Is(err, models.ErrMultiplexerUnavailable) {
		return false, nil
	}
	// has-session exits 1 for unknown sessions without a stable message on
	// all tmux versions; treat any clean exit error as absence.
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, err
}

// ListSessions returns every session on the socket. A dead server yields an
// empty list.
func (c *Client) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	out, err := c.run(ctx, nil,
		"list-sessions", "-F", "#{session_name}:#{session_activity}:#{session_attached}")
	if err != nil {
		if errors.Is(err, models.ErrMultiplexerUnavailable) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return parseSessionList(out), nil
}

func parseSessionList(out []byte) []SessionInfo {
	var sessions []SessionInfo
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		// Split from the right: session names cannot contain ':' here
		// because ours are UUIDs, but be defensive about foreign windows.
		lastSep := strings.LastIndexByte(line, ':')
		if lastSep < 0 {
			continue
		}
		midSep := strings.LastIndexByte(line[:lastSep], ':')
		if midSep < 0 {
			continue
		}
		info := SessionInfo{Name: line[:midSep]}
		if ts, err := strconv.ParseInt(line[midSep+1:lastSep], 10, 64); err == nil {
			info.Activity = time.Unix(ts, 0)
		}
		if n, err := strconv.Atoi(line[lastSep+1:]); err == nil {
			info.Attached = n
		}
		sessions = append(sessions, info)
	}
	return sessions
}

// SendKeys sends data to the session as literal keystrokes (-l suppresses
// key-name interpretation). Suitable for small payloads only.
func (c *Client) SendKeys(ctx context.Context, name, data string) error {
	if _, err := c.run(ctx, nil, "send-keys", "-t", name, "-l", data); err != nil {
		return fmt.Errorf("failed to send keys: %w", err)
	}
	return nil
}

// PasteInput delivers a large payload through the tmux buffer: load-buffer
// reads it from stdin and paste-buffer replays it into the pane. This
// avoids argv length limits that send-keys would hit.
func (c *Client) PasteInput(ctx context.Context, name string, data []byte) error {
	if _, err := c.run(ctx, data, "load-buffer", "-"); err != nil {
		return fmt.Errorf("failed to load buffer: %w", err)
	}
	if _, err := c.run(ctx, nil, "paste-buffer", "-d", "-t", name); err != nil {
		return fmt.Errorf("failed to paste buffer: %w", err)
	}
	return nil
}

// CapturePane returns the visible contents of the session's active pane.
func (c *Client) CapturePane(ctx context.Context, name string) (string, error) {
	out, err := c.run(ctx, nil, "capture-pane", "-t", name, "-p")
	if err != nil {
		return "", fmt.Errorf("failed to capture pane: %w", err)
	}
	return string(out), nil
}

// KillSession destroys the session. Killing an already-gone session is not
// an error.
func (c *Client) KillSession(ctx context.Context, name string) error {
	_, err := c.run(ctx, nil, "kill-session", "-t", name)
	if err != nil && !errors.Is(err, models.ErrSessionNotFound) {
		return fmt.Errorf("failed to kill session: %w", err)
	}
	return nil
}

// AttachArgs returns the argv for attaching a PTY to the session. Read-only
// attachments pass -r so tmux itself rejects any input.
func (c *Client) AttachArgs(name string, readOnly bool) []string {
	args := []string{"tmux", "-L", c.socket, "attach-session", "-t", name}
	if readOnly {
		args = append(args, "-r")
	}
	return args
}
