// Package broker owns the per-session streaming plane: pseudo-terminal
// attachment, fan-out of output to N readers, single-writer admission,
// resize, and cancellation. Browsers connect over WebSocket; each
// connection becomes one attachment.
package broker

import (
	"context"
	"sync"
	"time"

	"github.com/claudeck/claudeck/internal/logger"
	"github.com/claudeck/claudeck/pkg/guard"
	"github.com/claudeck/claudeck/pkg/models"
	"github.com/claudeck/claudeck/pkg/registry"
	"github.com/claudeck/claudeck/pkg/tmux"
)

// ShareValidator resolves share tokens to reader grants. Satisfied by the
// credential service.
type ShareValidator interface {
	ValidateShareToken(ctx context.Context, raw string) (*models.ShareToken, error)
}

// Tracker is the probe-facing surface the broker drives: continuous
// probing starts on first attach and cadence follows attachment activity.
type Tracker interface {
	Track(ctx context.Context, sessionID, projectPath string) error
	SetActive(sessionID string, active bool)
}

// Broker manages hubs and live WebSocket sessions.
type Broker struct {
	registry *registry.Registry
	tmux     *tmux.Client
	shares   ShareValidator
	tracker  Tracker
	factory  terminalFactory

	mu       sync.Mutex
	hubs     map[string]*hub
	conns    map[*wsSession]struct{}
	draining bool
}

// Option configures a Broker.
type Option func(*Broker)

// WithTerminalFactory substitutes pseudo-terminal creation. Used by tests.
func WithTerminalFactory(f terminalFactory) Option {
	return func(b *Broker) { b.factory = f }
}

// New creates a Broker. shares and tracker may be nil in tests.
func New(reg *registry.Registry, client *tmux.Client, shares ShareValidator, tracker Tracker, opts ...Option) *Broker {
	b := &Broker{
		registry: reg,
		tmux:     client,
		shares:   shares,
		tracker:  tracker,
		factory:  startPTY,
		hubs:     make(map[string]*hub),
		conns:    make(map[*wsSession]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// hubFor returns the session's hub, spawning the pseudo-terminal on first
// use. The hub persists while at least one attachment references it.
func (b *Broker) hubFor(ctx context.Context, sessionID string) (*hub, error) {
	if err := guard.CheckSessionID(sessionID); err != nil {
		return nil, err
	}

	b.mu.Lock()
	if b.draining {
		b.mu.Unlock()
		return nil, models.ErrMultiplexerUnavailable
	}
	if h, ok := b.hubs[sessionID]; ok {
		b.mu.Unlock()
		return h, nil
	}
	b.mu.Unlock()

	exists, err := b.registry.Exists(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, models.ErrSessionNotFound
	}

	h, err := newHub(sessionID, b.factory, b.tmux.AttachArgs(sessionID, false))
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	if existing, ok := b.hubs[sessionID]; ok {
		// Lost the race; keep the first hub.
		b.mu.Unlock()
		h.close()
		return existing, nil
	}
	b.hubs[sessionID] = h
	b.mu.Unlock()

	// Reap the hub when its attach process dies.
	go func() {
		<-h.done
		b.mu.Lock()
		if b.hubs[sessionID] == h {
			delete(b.hubs, sessionID)
		}
		b.mu.Unlock()
	}()

	if b.tracker != nil {
		session, err := b.registry.Get(ctx, sessionID)
		path := ""
		if err == nil {
			path = session.ProjectPath
		}
		if err := b.tracker.Track(ctx, sessionID, path); err != nil {
			logger.WarnCtx(ctx, "failed to start metadata tracking",
				logger.KeySessionID, sessionID, logger.KeyError, err)
		}
		b.tracker.SetActive(sessionID, true)
	}

	logger.InfoCtx(ctx, "hub started", logger.KeySessionID, sessionID)
	return h, nil
}

// releaseHub drops one attachment's reference and tears the hub down on
// quiescence.
func (b *Broker) releaseHub(sessionID string, h *hub, sub *subscriber) {
	remaining := h.unsubscribe(sub)
	if remaining > 0 {
		return
	}

	b.mu.Lock()
	if b.hubs[sessionID] == h && h.subscriberCount() == 0 {
		delete(b.hubs, sessionID)
	} else {
		h = nil
	}
	b.mu.Unlock()

	if h != nil {
		h.close()
		if b.tracker != nil {
			b.tracker.SetActive(sessionID, false)
		}
		logger.Info("hub torn down on quiescence", logger.KeySessionID, sessionID)
	}
}

// CloseSession force-closes the session's hub. Called on kill.
func (b *Broker) CloseSession(sessionID string) {
	b.mu.Lock()
	h, ok := b.hubs[sessionID]
	if ok {
		delete(b.hubs, sessionID)
	}
	b.mu.Unlock()
	if ok {
		h.close()
	}
}

// BroadcastMetadata pushes a metadata snapshot to every subscriber of the
// session's hub. Satisfies the probe's Broadcaster.
func (b *Broker) BroadcastMetadata(snap *models.MetadataSnapshot) {
	b.mu.Lock()
	h, ok := b.hubs[snap.SessionID]
	b.mu.Unlock()
	if !ok {
		return
	}
	h.broadcast(encode(serverMessage{
		Type:      MsgMetadataUpdate,
		SessionID: snap.SessionID,
		Metadata:  snap,
	}))
}

// HubCount returns the number of open hubs. Sampled by metrics.
func (b *Broker) HubCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.hubs)
}

// ConnCount returns the number of live WebSocket connections.
func (b *Broker) ConnCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

func (b *Broker) register(ws *wsSession) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.draining {
		return false
	}
	b.conns[ws] = struct{}{}
	return true
}

func (b *Broker) unregister(ws *wsSession) {
	b.mu.Lock()
	delete(b.conns, ws)
	b.mu.Unlock()
}

// Shutdown announces the shutdown to every connection, allows a short
// drain, then force-closes everything. Called once by the supervisor.
func (b *Broker) Shutdown(ctx context.Context, drain time.Duration) {
	b.mu.Lock()
	b.draining = true
	conns := make([]*wsSession, 0, len(b.conns))
	for ws := range b.conns {
		conns = append(conns, ws)
	}
	b.mu.Unlock()

	frame := encode(serverMessage{
		Type:    MsgShuttingDown,
		Message: "server is shutting down",
	})
	for _, ws := range conns {
		ws.send(frame)
	}

	select {
	case <-time.After(drain):
	case <-ctx.Done():
	}

	for _, ws := range conns {
		ws.close()
	}

	b.mu.Lock()
	hubs := make([]*hub, 0, len(b.hubs))
	for _, h := range b.hubs {
		hubs = append(hubs, h)
	}
	b.hubs = make(map[string]*hub)
	b.mu.Unlock()

	for _, h := range hubs {
		h.close()
	}
	logger.Info("broker shut down", "connections", len(conns), "hubs", len(hubs))
}
