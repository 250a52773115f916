package broker

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/creack/pty"

	"github.com/claudeck/claudeck/internal/logger"
	"github.com/claudeck/claudeck/pkg/models"
)

const (
	// subscriberBuffer bounds each subscriber's backlog. A subscriber that
	// falls this far behind is evicted rather than allowed to back-pressure
	// the pseudo-terminal reader.
	subscriberBuffer = 512

	ptyReadSize = 4096

	defaultCols = 80
	defaultRows = 24
)

// envWhitelist is the only set of variables a spawned pseudo-terminal
// inherits. Process-wide secrets must never reach the user-visible shell.
var envWhitelist = []string{"PATH", "HOME", "LANG", "LC_ALL", "SHELL", "USER"}

// curatedEnv builds the environment for the attach process.
func curatedEnv() []string {
	env := make([]string, 0, len(envWhitelist)+1)
	for _, key := range envWhitelist {
		if v, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+v)
		}
	}
	return append(env, "TERM=xterm-256color")
}

// terminal is the pseudo-terminal handle behind a hub. Tests substitute a
// pipe-backed fake.
type terminal interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Resize(cols, rows uint16) error
	Close() error
	// Wait blocks until the attach process exits and returns its code.
	Wait() int
}

// terminalFactory spawns the attach process on a fresh pseudo-terminal.
type terminalFactory func(argv []string) (terminal, error)

type ptyTerminal struct {
	cmd  *exec.Cmd
	ptmx *os.File
}

func startPTY(argv []string) (terminal, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = curatedEnv()

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: defaultCols, Rows: defaultRows})
	if err != nil {
		return nil, fmt.Errorf("failed to start pseudo-terminal: %w", err)
	}
	return &ptyTerminal{cmd: cmd, ptmx: ptmx}, nil
}

func (t *ptyTerminal) Read(p []byte) (int, error)  { return t.ptmx.Read(p) }
func (t *ptyTerminal) Write(p []byte) (int, error) { return t.ptmx.Write(p) }

func (t *ptyTerminal) Resize(cols, rows uint16) error {
	return pty.Setsize(t.ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}

func (t *ptyTerminal) Close() error { return t.ptmx.Close() }

func (t *ptyTerminal) Wait() int {
	err := t.cmd.Wait()
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// subscriber is one attachment's view of the hub's output stream.
type subscriber struct {
	clientID string
	frames   chan []byte
	evicted  chan struct{}
	once     sync.Once
}

func (s *subscriber) evict() {
	s.once.Do(func() { close(s.evicted) })
}

// hub owns one session's pseudo-terminal and fans its output out to N
// subscribers. A single reader goroutine feeds per-subscriber buffered
// channels; a full channel evicts that subscriber.
type hub struct {
	sessionID string
	term      terminal

	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	closed      bool

	done      chan struct{}
	closeOnce sync.Once
}

// newHub spawns the pseudo-terminal and starts the read loop.
func newHub(sessionID string, factory terminalFactory, argv []string) (*hub, error) {
	term, err := factory(argv)
	if err != nil {
		if strings.Contains(err.Error(), "executable file not found") {
			return nil, fmt.Errorf("%w: %v", models.ErrMultiplexerUnavailable, err)
		}
		return nil, err
	}

	h := &hub{
		sessionID:   sessionID,
		term:        term,
		subscribers: make(map[*subscriber]struct{}),
		done:        make(chan struct{}),
	}
	go h.readLoop()
	return h, nil
}

// readLoop is the only reader of the pseudo-terminal. It runs until the
// attach process exits or the hub is closed, then announces the exit to
// all subscribers.
func (h *hub) readLoop() {
	buf := make([]byte, ptyReadSize)
	for {
		n, err := h.term.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			h.broadcast(outputFrame(h.sessionID, data))
		}
		if err != nil {
			exitCode := h.term.Wait()
			h.broadcast(sessionEndedFrame(h.sessionID, exitCode))
			h.close()
			return
		}
	}
}

// broadcast fans one frame out. Bytes reach each subscriber in production
// order; a subscriber whose buffer is full is evicted on the spot.
func (h *hub) broadcast(frame []byte) {
	h.mu.Lock()
	var evicted []*subscriber
	for sub := range h.subscribers {
		select {
		case sub.frames <- frame:
		default:
			evicted = append(evicted, sub)
			delete(h.subscribers, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range evicted {
		logger.Warn("slow consumer evicted",
			logger.KeySessionID, h.sessionID, logger.KeySubscriber, sub.clientID)
		sub.evict()
	}
}

// subscribe registers a new output consumer.
func (h *hub) subscribe(clientID string) (*subscriber, error) {
	sub := &subscriber{
		clientID: clientID,
		frames:   make(chan []byte, subscriberBuffer),
		evicted:  make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, models.ErrSessionNotFound
	}
	h.subscribers[sub] = struct{}{}
	return sub, nil
}

// unsubscribe removes a consumer and reports how many remain.
func (h *hub) unsubscribe(sub *subscriber) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subscribers, sub)
	return len(h.subscribers)
}

func (h *hub) subscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

func (h *hub) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// write pushes input bytes to the pseudo-terminal. The caller enforces
// writer admission.
func (h *hub) write(data []byte) error {
	_, err := h.term.Write(data)
	return err
}

// resize applies to the per-session pseudo-terminal; all attachments share
// the size.
func (h *hub) resize(cols, rows uint16) error {
	return h.term.Resize(cols, rows)
}

// close tears the hub down: the pseudo-terminal is closed (which unblocks
// the read loop) and every subscriber is released.
func (h *hub) close() {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		subs := make([]*subscriber, 0, len(h.subscribers))
		for sub := range h.subscribers {
			subs = append(subs, sub)
		}
		h.subscribers = make(map[*subscriber]struct{})
		h.mu.Unlock()

		_ = h.term.Close()
		for _, sub := range subs {
			sub.evict()
		}
		close(h.done)
	})
}
