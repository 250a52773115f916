// Package probe extracts liveness and cost/context metadata for sessions.
// Four sources in descending priority: a structured CLI invocation, the
// per-project append-only log file, the global stats file, and a screen
// scrape of the visible pane. Results are cached briefly and re-probed on
// an adaptive per-session timer.
package probe

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/claudeck/claudeck/internal/logger"
	"github.com/claudeck/claudeck/pkg/guard"
	"github.com/claudeck/claudeck/pkg/models"
	"github.com/claudeck/claudeck/pkg/store"
)

const (
	// CacheTTL is how long a snapshot is served without re-probing.
	CacheTTL = 5 * time.Second

	// ActiveInterval is the poll cadence for active sessions.
	ActiveInterval = 1 * time.Second

	// IdleInterval is the poll cadence for idle sessions.
	IdleInterval = 10 * time.Second
)

// Capturer provides last-resort pane capture. Satisfied by the registry.
type Capturer interface {
	Capture(ctx context.Context, sessionID string) (string, error)
}

// Broadcaster receives fresh snapshots for fan-out. Satisfied by the
// broker; nil until the supervisor wires it.
type Broadcaster interface {
	BroadcastMetadata(snapshot *models.MetadataSnapshot)
}

// Config holds the probe's environment.
type Config struct {
	// CLIPath is the CLI binary. Default "claude".
	CLIPath string

	// CLIHome is the CLI's state directory. Default ~/.claude.
	CLIHome string
}

func (c *Config) applyDefaults() {
	if c.CLIPath == "" {
		c.CLIPath = "claude"
	}
	if c.CLIHome == "" {
		home, _ := os.UserHomeDir()
		c.CLIHome = filepath.Join(home, ".claude")
	}
}

type cacheEntry struct {
	snapshot *models.MetadataSnapshot
	expires  time.Time
}

type pollTimer struct {
	active bool
	cancel context.CancelFunc
	done   chan struct{}
}

// Probe owns per-session watcher + timer pairs and the snapshot cache.
type Probe struct {
	capture   Capturer
	logs      store.MetadataLogStore
	runner    CommandRunner
	cliPath   string
	cliHome   string
	clock     func() time.Time
	snapshots *prometheus.CounterVec

	structuredOnce sync.Once
	structuredOK   bool

	mu          sync.Mutex
	broadcaster Broadcaster
	cache       map[string]cacheEntry // key: sessionID|projectPath
	watchers    map[string]*logWatcher
	timers      map[string]*pollTimer
	paths       map[string]string // sessionID -> projectPath
}

// Option configures a Probe.
type Option func(*Probe)

// WithRunner substitutes the CLI command runner. Used by tests.
func WithRunner(r CommandRunner) Option {
	return func(p *Probe) { p.runner = r }
}

// WithClock substitutes the time source. Used by tests.
func WithClock(clock func() time.Time) Option {
	return func(p *Probe) { p.clock = clock }
}

// WithSnapshotCounter wires a counter labeled by snapshot source.
func WithSnapshotCounter(c *prometheus.CounterVec) Option {
	return func(p *Probe) { p.snapshots = c }
}

// New creates a Probe.
func New(cfg Config, capture Capturer, logs store.MetadataLogStore, opts ...Option) *Probe {
	cfg.applyDefaults()
	p := &Probe{
		capture:  capture,
		logs:     logs,
		runner:   execCommandRunner{},
		cliPath:  cfg.CLIPath,
		cliHome:  cfg.CLIHome,
		clock:    time.Now,
		cache:    make(map[string]cacheEntry),
		watchers: make(map[string]*logWatcher),
		timers:   make(map[string]*pollTimer),
		paths:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetBroadcaster wires the fan-out sink. Called once by the supervisor
// after the broker exists.
func (p *Probe) SetBroadcaster(b Broadcaster) {
	p.mu.Lock()
	p.broadcaster = b
	p.mu.Unlock()
}

// structuredCLIAvailable feature-detects the status sub-query once per
// process. CLIs without it fail fast and the probe never retries.
func (p *Probe) structuredCLIAvailable(ctx context.Context) bool {
	p.structuredOnce.Do(func() {
		probeCtx, cancel := context.WithTimeout(ctx, StructuredProbeTimeout)
		defer cancel()
		_, err := p.runner.Run(probeCtx, p.cliHome, p.cliPath,
			"--print", "--output-format", "json", "/status")
		p.structuredOK = err == nil
		logger.Info("structured CLI probe detection",
			"available", p.structuredOK)
	})
	return p.structuredOK
}

func cacheKey(sessionID, projectPath string) string {
	return sessionID + "|" + projectPath
}

// Snapshot returns metadata for the session, served from cache when fresh.
func (p *Probe) Snapshot(ctx context.Context, sessionID, projectPath string) (*models.MetadataSnapshot, error) {
	if err := guard.CheckSessionID(sessionID); err != nil {
		return nil, err
	}

	key := cacheKey(sessionID, projectPath)
	now := p.clock()

	p.mu.Lock()
	p.paths[sessionID] = projectPath
	if entry, ok := p.cache[key]; ok && now.Before(entry.expires) {
		p.mu.Unlock()
		return entry.snapshot, nil
	}
	p.mu.Unlock()

	snap := p.probeAll(ctx, sessionID, projectPath)
	p.publish(ctx, snap)
	return snap, nil
}

// probeAll walks the source chain in priority order. The screen scrape
// cannot fail short of a dead multiplexer, so the chain always yields a
// snapshot; a completely dark session reports source screen-scrape with
// zero fields.
func (p *Probe) probeAll(ctx context.Context, sessionID, projectPath string) *models.MetadataSnapshot {
	if projectPath != "" && p.structuredCLIAvailable(ctx) {
		if snap, err := p.probeStructuredCLI(ctx, sessionID, projectPath); err == nil {
			return snap
		}
	}
	if projectPath != "" {
		if snap, err := p.probeLogFile(sessionID, projectPath); err == nil {
			return snap
		}
	}
	if snap, err := p.probeGlobalStats(sessionID); err == nil {
		return snap
	}
	if snap, err := p.probeScreenScrape(ctx, sessionID); err == nil {
		return snap
	}
	return &models.MetadataSnapshot{
		SessionID: sessionID,
		Source:    models.SourceScreenScrape,
		Timestamp: p.clock(),
	}
}

// publish caches the snapshot, appends it to the history table, and pushes
// it to the broadcaster.
func (p *Probe) publish(ctx context.Context, snap *models.MetadataSnapshot) {
	p.mu.Lock()
	path := p.paths[snap.SessionID]
	p.cache[cacheKey(snap.SessionID, path)] = cacheEntry{
		snapshot: snap,
		expires:  p.clock().Add(CacheTTL),
	}
	b := p.broadcaster
	p.mu.Unlock()

	if p.snapshots != nil {
		p.snapshots.WithLabelValues(string(snap.Source)).Inc()
	}
	if p.logs != nil {
		if err := p.logs.AppendMetadataLog(ctx, snap.Record()); err != nil {
			logger.WarnCtx(ctx, "failed to append metadata history",
				logger.KeySessionID, snap.SessionID, logger.KeyError, err)
		}
	}
	if b != nil {
		b.BroadcastMetadata(snap)
	}
}

// Track starts continuous probing for the session: one log watcher (when
// the log file exists) and one poll timer at the active cadence. Idempotent.
func (p *Probe) Track(ctx context.Context, sessionID, projectPath string) error {
	if err := guard.CheckSessionID(sessionID); err != nil {
		return err
	}

	p.mu.Lock()
	p.paths[sessionID] = projectPath

	if _, ok := p.watchers[sessionID]; !ok && projectPath != "" {
		logPath := SessionLogPath(p.cliHome, projectPath)
		if _, err := os.Stat(logPath); err == nil {
			if lw, err := p.newLogWatcher(sessionID, logPath); err == nil {
				p.watchers[sessionID] = lw
			} else {
				logger.WarnCtx(ctx, "failed to start session log watcher",
					logger.KeySessionID, sessionID, logger.KeyError, err)
			}
		}
	}

	_, hasTimer := p.timers[sessionID]
	p.mu.Unlock()

	if !hasTimer {
		p.startTimer(sessionID, projectPath, true)
	}
	return nil
}

// SetActive adjusts the poll cadence for the session. A cadence change
// stops the current timer and creates a new one; timers never overlap.
func (p *Probe) SetActive(sessionID string, active bool) {
	p.mu.Lock()
	t, ok := p.timers[sessionID]
	path := p.paths[sessionID]
	p.mu.Unlock()

	if !ok || t.active == active {
		return
	}
	p.stopTimer(sessionID)
	p.startTimer(sessionID, path, active)
}

func (p *Probe) startTimer(sessionID, projectPath string, active bool) {
	interval := IdleInterval
	if active {
		interval = ActiveInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &pollTimer{active: active, cancel: cancel, done: make(chan struct{})}

	p.mu.Lock()
	if _, exists := p.timers[sessionID]; exists {
		p.mu.Unlock()
		cancel()
		return
	}
	p.timers[sessionID] = t
	p.mu.Unlock()

	go func() {
		defer close(t.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snap := p.probeAll(ctx, sessionID, projectPath)
				p.publish(ctx, snap)
			}
		}
	}()
}

func (p *Probe) stopTimer(sessionID string) {
	p.mu.Lock()
	t, ok := p.timers[sessionID]
	if ok {
		delete(p.timers, sessionID)
	}
	p.mu.Unlock()
	if ok {
		t.cancel()
		<-t.done
	}
}

// Stop tears down the session's timer, watcher, and cache entries.
func (p *Probe) Stop(sessionID string) {
	p.stopTimer(sessionID)

	p.mu.Lock()
	lw, hadWatcher := p.watchers[sessionID]
	if hadWatcher {
		delete(p.watchers, sessionID)
	}
	delete(p.paths, sessionID)
	for key := range p.cache {
		if strings.HasPrefix(key, sessionID+"|") {
			delete(p.cache, key)
		}
	}
	p.mu.Unlock()

	if hadWatcher {
		lw.stop()
	}
}

// StopAll tears everything down. Called at server shutdown.
func (p *Probe) StopAll() {
	p.mu.Lock()
	ids := make([]string, 0, len(p.timers)+len(p.watchers))
	seen := make(map[string]bool)
	for id := range p.timers {
		ids = append(ids, id)
		seen[id] = true
	}
	for id := range p.watchers {
		if !seen[id] {
			ids = append(ids, id)
		}
	}
	p.mu.Unlock()

	for _, id := range ids {
		p.Stop(id)
	}
}

// History returns persisted snapshots for one session, newest first.
func (p *Probe) History(ctx context.Context, sessionID string, limit int) ([]*models.MetadataLog, error) {
	if err := guard.CheckSessionID(sessionID); err != nil {
		return nil, err
	}
	if p.logs == nil {
		return nil, nil
	}
	return p.logs.ListMetadataLogs(ctx, sessionID, limit)
}
