package handlers

import (
	"context"
	"net/http"
	"os/exec"
	"strconv"
	"time"

	"github.com/claudeck/claudeck/pkg/tmux"
)

// Health check statuses. "no-sessions" and "not-installed" count as
// healthy: an idle multiplexer and a host without the CLI are both valid
// deployments.
const (
	StatusOK           = "ok"
	StatusNoSessions   = "no-sessions"
	StatusNotInstalled = "not-installed"
	StatusUnreachable  = "unreachable"
	StatusError        = "error"
)

const cliProbeTimeout = 2 * time.Second

// CheckResult is one subsystem's health verdict.
type CheckResult struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// HealthResponse aggregates all subsystem checks.
type HealthResponse struct {
	Healthy   bool                   `json:"healthy"`
	Checks    map[string]CheckResult `json:"checks"`
	Timestamp time.Time              `json:"timestamp"`
}

// Pinger is the store surface the health probe needs.
type Pinger interface {
	Healthcheck(ctx context.Context) error
}

// HealthHandler reports per-subsystem health.
type HealthHandler struct {
	store   Pinger
	tmux    *tmux.Client
	cliPath string
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(store Pinger, client *tmux.Client, cliPath string) *HealthHandler {
	return &HealthHandler{store: store, tmux: client, cliPath: cliPath}
}

// Health handles GET /health.
// Unauthenticated; reports 200 with healthy=true iff every check is ok or
// an explicitly permitted variant.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	checks := map[string]CheckResult{
		"process":     {Status: StatusOK},
		"store":       h.checkStore(r.Context()),
		"multiplexer": h.checkMultiplexer(r.Context()),
		"cli":         h.checkCLI(r.Context()),
	}

	healthy := true
	for _, c := range checks {
		switch c.Status {
		case StatusOK, StatusNoSessions, StatusNotInstalled:
		default:
			healthy = false
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	WriteJSON(w, status, HealthResponse{
		Healthy:   healthy,
		Checks:    checks,
		Timestamp: time.Now(),
	})
}

func (h *HealthHandler) checkStore(ctx context.Context) CheckResult {
	if h.store == nil {
		return CheckResult{Status: StatusError, Detail: "store not configured"}
	}
	if err := h.store.Healthcheck(ctx); err != nil {
		return CheckResult{Status: StatusError, Detail: err.Error()}
	}
	return CheckResult{Status: StatusOK}
}

func (h *HealthHandler) checkMultiplexer(ctx context.Context) CheckResult {
	if h.tmux == nil || !h.tmux.Available() {
		return CheckResult{Status: StatusNotInstalled}
	}

	sessions, err := h.tmux.ListSessions(ctx)
	if err != nil {
		return CheckResult{Status: StatusUnreachable, Detail: err.Error()}
	}
	if len(sessions) == 0 {
		return CheckResult{Status: StatusNoSessions}
	}
	return CheckResult{Status: StatusOK, Detail: strconv.Itoa(len(sessions)) + " sessions"}
}

func (h *HealthHandler) checkCLI(ctx context.Context) CheckResult {
	if _, err := exec.LookPath(h.cliPath); err != nil {
		return CheckResult{Status: StatusNotInstalled}
	}

	probeCtx, cancel := context.WithTimeout(ctx, cliProbeTimeout)
	defer cancel()
	out, err := exec.CommandContext(probeCtx, h.cliPath, "--version").Output()
	if err != nil {
		return CheckResult{Status: StatusError, Detail: err.Error()}
	}
	return CheckResult{Status: StatusOK, Detail: firstLine(string(out))}
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' || r == '\r' {
			return s[:i]
		}
	}
	return s
}
