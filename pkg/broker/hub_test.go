package broker

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"
)

// fakeTerminal is a scriptable pseudo-terminal: Read blocks on a frame
// channel, Write and Resize are recorded.
type fakeTerminal struct {
	outC chan []byte

	mu      sync.Mutex
	written [][]byte
	resizes [][2]uint16

	closed    chan struct{}
	closeOnce sync.Once
	exitCode  int
}

func newFakeTerminal() *fakeTerminal {
	return &fakeTerminal{
		outC:   make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeTerminal) emit(data []byte) { f.outC <- data }

func (f *fakeTerminal) Read(p []byte) (int, error) {
	// Pending output wins over close so nothing queued is dropped.
	select {
	case data := <-f.outC:
		return copy(p, data), nil
	default:
	}
	select {
	case data := <-f.outC:
		return copy(p, data), nil
	case <-f.closed:
		return 0, io.EOF
	}
}

func (f *fakeTerminal) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data := make([]byte, len(p))
	copy(data, p)
	f.written = append(f.written, data)
	return len(p), nil
}

func (f *fakeTerminal) writtenBytes() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []byte
	for _, w := range f.written {
		all = append(all, w...)
	}
	return all
}

func (f *fakeTerminal) Resize(cols, rows uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resizes = append(f.resizes, [2]uint16{cols, rows})
	return nil
}

func (f *fakeTerminal) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTerminal) Wait() int { return f.exitCode }

func decodeFrame(t *testing.T, raw []byte) serverMessage {
	t.Helper()
	var msg serverMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("bad frame %q: %v", raw, err)
	}
	return msg
}

func TestHub_FanOutPreservesOrder(t *testing.T) {
	term := newFakeTerminal()
	h, err := newHub("s", func([]string) (terminal, error) { return term, nil }, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer h.close()

	sub1, err := h.subscribe("c1")
	if err != nil {
		t.Fatal(err)
	}
	sub2, err := h.subscribe("c2")
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 10; i++ {
		term.emit([]byte(fmt.Sprintf("chunk-%d", i)))
	}

	for _, sub := range []*subscriber{sub1, sub2} {
		for i := 0; i < 10; i++ {
			select {
			case raw := <-sub.frames:
				msg := decodeFrame(t, raw)
				if msg.Type != MsgOutput {
					t.Fatalf("frame type = %s", msg.Type)
				}
				if got := string(msg.Data); got != fmt.Sprintf("chunk-%d", i) {
					t.Fatalf("subscriber %s frame %d = %q", sub.clientID, i, got)
				}
			case <-time.After(2 * time.Second):
				t.Fatalf("subscriber %s starved at frame %d", sub.clientID, i)
			}
		}
	}
}

func TestHub_SlowConsumerEvicted(t *testing.T) {
	term := newFakeTerminal()
	h, err := newHub("s", func([]string) (terminal, error) { return term, nil }, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer h.close()

	slow, err := h.subscribe("slow")
	if err != nil {
		t.Fatal(err)
	}
	fast, err := h.subscribe("fast")
	if err != nil {
		t.Fatal(err)
	}

	// Drain the fast subscriber continuously.
	fastCount := make(chan int, 1)
	go func() {
		n := 0
		for {
			select {
			case <-fast.frames:
				n++
			case <-fast.evicted:
				fastCount <- n
				return
			}
		}
	}()

	// Never drain the slow one: its buffer fills and it must be evicted
	// without stalling the producer.
	for i := 0; i < subscriberBuffer+16; i++ {
		term.emit([]byte("x"))
	}

	select {
	case <-slow.evicted:
	case <-time.After(5 * time.Second):
		t.Fatal("slow subscriber never evicted")
	}

	h.close()
	if n := <-fastCount; n < subscriberBuffer {
		t.Fatalf("fast subscriber received only %d frames", n)
	}
}

func TestHub_SessionEndedOnTerminalExit(t *testing.T) {
	term := newFakeTerminal()
	term.exitCode = 3
	h, err := newHub("s", func([]string) (terminal, error) { return term, nil }, nil)
	if err != nil {
		t.Fatal(err)
	}

	sub, err := h.subscribe("c1")
	if err != nil {
		t.Fatal(err)
	}

	term.emit([]byte("bye"))
	term.Close()

	var frames []serverMessage
	deadline := time.After(2 * time.Second)
	for len(frames) < 2 {
		select {
		case raw := <-sub.frames:
			frames = append(frames, decodeFrame(t, raw))
		case <-deadline:
			t.Fatalf("got %d frames before timeout: %+v", len(frames), frames)
		}
	}

	if frames[0].Type != MsgOutput || string(frames[0].Data) != "bye" {
		t.Fatalf("first frame = %+v", frames[0])
	}
	last := frames[1]
	if last.Type != MsgSessionEnded || last.ExitCode == nil || *last.ExitCode != 3 {
		t.Fatalf("last frame = %+v", last)
	}

	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub not closed after terminal exit")
	}
}

func TestCuratedEnv(t *testing.T) {
	t.Setenv("PATH", "/usr/bin")
	t.Setenv("HOME", "/home/u")
	t.Setenv("SECRET_TOKEN", "hunter2")
	t.Setenv("JWT_SECRET", "very-secret")

	env := curatedEnv()
	for _, e := range env {
		if e == "SECRET_TOKEN=hunter2" || e == "JWT_SECRET=very-secret" {
			t.Fatalf("secret leaked into terminal env: %s", e)
		}
	}

	var hasTerm, hasPath bool
	for _, e := range env {
		switch e {
		case "TERM=xterm-256color":
			hasTerm = true
		case "PATH=/usr/bin":
			hasPath = true
		}
	}
	if !hasTerm || !hasPath {
		t.Fatalf("env = %v", env)
	}
}
