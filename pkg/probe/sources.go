package probe

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/claudeck/claudeck/pkg/models"
)

// StructuredProbeTimeout bounds the non-interactive CLI invocation.
const StructuredProbeTimeout = 5 * time.Second

// PathDigest returns the per-project directory name under <cli home>/projects:
// the first 16 hex characters of the SHA-256 of the canonical project path.
func PathDigest(projectPath string) string {
	sum := sha256.Sum256([]byte(projectPath))
	return hex.EncodeToString(sum[:])[:16]
}

// SessionLogPath returns the append-only per-project log file.
func SessionLogPath(cliHome, projectPath string) string {
	return filepath.Join(cliHome, "projects", PathDigest(projectPath), "sessions.jsonl")
}

// CommandRunner executes the CLI status probe. Tests substitute a fake.
type CommandRunner interface {
	Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error)
}

type execCommandRunner struct{}

func (execCommandRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// cliStatus is the structured output of the CLI's status sub-query.
type cliStatus struct {
	Model          string  `json:"model"`
	Status         string  `json:"status"`
	TotalTokens    int64   `json:"total_tokens"`
	TotalCostUSD   float64 `json:"total_cost_usd"`
	ContextPercent float64 `json:"context_used_percent"`
}

// probeStructuredCLI invokes the CLI non-interactively in the project root.
func (p *Probe) probeStructuredCLI(ctx context.Context, sessionID, projectPath string) (*models.MetadataSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, StructuredProbeTimeout)
	defer cancel()

	out, err := p.runner.Run(ctx, projectPath, p.cliPath,
		"--print", "--output-format", "json", "/status")
	if err != nil {
		return nil, fmt.Errorf("structured probe failed: %w", err)
	}

	var status cliStatus
	if err := json.Unmarshal(bytes.TrimSpace(out), &status); err != nil {
		return nil, fmt.Errorf("unparseable structured output: %w", err)
	}

	return &models.MetadataSnapshot{
		SessionID:      sessionID,
		Source:         models.SourceStructuredCLI,
		ContextPercent: status.ContextPercent,
		TokenUsage:     status.TotalTokens,
		CostUSD:        status.TotalCostUSD,
		Status:         status.Status,
		Model:          status.Model,
		Timestamp:      time.Now(),
	}, nil
}

// logRecord is one line of the per-project sessions.jsonl file. Only the
// fields the probe cares about are mapped.
type logRecord struct {
	Type    string  `json:"type"`
	CostUSD float64 `json:"costUSD"`
	Message struct {
		Model   string `json:"model"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens         int64 `json:"input_tokens"`
			OutputTokens        int64 `json:"output_tokens"`
			CacheReadTokens     int64 `json:"cache_read_input_tokens"`
			CacheCreationTokens int64 `json:"cache_creation_input_tokens"`
		} `json:"usage"`
	} `json:"message"`
}

const lastMessageLimit = 120

// parseLastLogRecord scans the JSONL content from the end and returns a
// snapshot for the newest parseable record.
func parseLastLogRecord(sessionID string, data []byte) (*models.MetadataSnapshot, error) {
	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) == 0 {
			continue
		}
		var rec logRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if rec.Type == "" {
			continue
		}

		snap := &models.MetadataSnapshot{
			SessionID: sessionID,
			Source:    models.SourceLogFile,
			CostUSD:   rec.CostUSD,
			Model:     rec.Message.Model,
			Timestamp: time.Now(),
		}
		u := rec.Message.Usage
		snap.TokenUsage = u.InputTokens + u.OutputTokens + u.CacheReadTokens + u.CacheCreationTokens
		for _, c := range rec.Message.Content {
			if c.Type == "text" && c.Text != "" {
				snap.LastMessage = truncate(c.Text, lastMessageLimit)
				break
			}
		}
		return snap, nil
	}
	return nil, fmt.Errorf("no parseable records")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// probeLogFile reads the newest record of the per-project log directly.
// The watcher path uses the same parser on settled writes.
func (p *Probe) probeLogFile(sessionID, projectPath string) (*models.MetadataSnapshot, error) {
	data, err := os.ReadFile(SessionLogPath(p.cliHome, projectPath))
	if err != nil {
		return nil, err
	}
	return parseLastLogRecord(sessionID, data)
}

// globalStats is the CLI's aggregate stats file under its home directory.
type globalStats struct {
	TotalTokens  int64   `json:"total_tokens"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	LastModel    string  `json:"last_model"`
}

// probeGlobalStats reads <cli home>/stats.json.
func (p *Probe) probeGlobalStats(sessionID string) (*models.MetadataSnapshot, error) {
	data, err := os.ReadFile(filepath.Join(p.cliHome, "stats.json"))
	if err != nil {
		return nil, err
	}
	var stats globalStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("unparseable stats file: %w", err)
	}
	return &models.MetadataSnapshot{
		SessionID:  sessionID,
		Source:     models.SourceGlobalStats,
		TokenUsage: stats.TotalTokens,
		CostUSD:    stats.TotalCostUSD,
		Model:      stats.LastModel,
		Timestamp:  time.Now(),
	}, nil
}

// Screen-scrape patterns over the visible pane. Last resort.
var (
	contextPercentRe = regexp.MustCompile(`(\d{1,3})%\s*(?:context|of context|left until auto-compact)`)
	tokenCountRe     = regexp.MustCompile(`([\d.]+)k?\s*tokens`)
	costRe           = regexp.MustCompile(`\$(\d+(?:\.\d+)?)`)
)

// probeScreenScrape captures the pane and pattern-matches status fields.
func (p *Probe) probeScreenScrape(ctx context.Context, sessionID string) (*models.MetadataSnapshot, error) {
	text, err := p.capture.Capture(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return scrapePane(sessionID, text), nil
}

func scrapePane(sessionID, text string) *models.MetadataSnapshot {
	snap := &models.MetadataSnapshot{
		SessionID: sessionID,
		Source:    models.SourceScreenScrape,
		Timestamp: time.Now(),
	}

	if m := contextPercentRe.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			snap.ContextPercent = v
		}
	}
	if m := tokenCountRe.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			if strings.Contains(m[0], "k") {
				v *= 1000
			}
			snap.TokenUsage = int64(v)
		}
	}
	if m := costRe.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			snap.CostUSD = v
		}
	}

	switch {
	case strings.Contains(text, "esc to interrupt"):
		snap.Status = "working"
	case strings.Contains(text, "Context low"):
		snap.Status = "context-low"
	default:
		snap.Status = "idle"
	}
	return snap
}
