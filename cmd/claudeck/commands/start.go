package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/claudeck/claudeck/internal/logger"
	"github.com/claudeck/claudeck/internal/telemetry"
	"github.com/claudeck/claudeck/pkg/api"
	"github.com/claudeck/claudeck/pkg/audit"
	"github.com/claudeck/claudeck/pkg/auth"
	"github.com/claudeck/claudeck/pkg/broker"
	"github.com/claudeck/claudeck/pkg/config"
	"github.com/claudeck/claudeck/pkg/files"
	"github.com/claudeck/claudeck/pkg/guard"
	"github.com/claudeck/claudeck/pkg/metrics"
	"github.com/claudeck/claudeck/pkg/probe"
	"github.com/claudeck/claudeck/pkg/registry"
	"github.com/claudeck/claudeck/pkg/store"
	"github.com/claudeck/claudeck/pkg/tmux"
)

var (
	foreground bool
	pidFile    string
	logFile    string
)

// drainTimeout is how long live WebSocket attachments get to flush after
// the shutdown notice is broadcast.
const drainTimeout = 5 * time.Second

// tokenPurgeInterval is how often expired refresh and share tokens are
// swept from the store.
const tokenPurgeInterval = time.Hour

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the claudeck server",
	Long: `Start the claudeck dashboard server.

By default, the server runs in the background (daemon mode). Use --foreground
to run in the foreground for debugging or when managed by a process supervisor.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/claudeck/config.yaml.

Examples:
  # Start in background (default)
  claudeck start

  # Start in foreground
  claudeck start --foreground

  # Start with custom config file
  claudeck start --config /etc/claudeck/config.yaml

  # Start with environment variable overrides
  CLAUDECK_LOGGING_LEVEL=DEBUG claudeck start --foreground`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (default: background/daemon mode)")
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/claudeck/claudeck.pid)")
	startCmd.Flags().StringVar(&logFile, "log-file", "", "Path to log file for daemon mode (default: $XDG_STATE_HOME/claudeck/claudeck.log)")
}

func runStart(cmd *cobra.Command, args []string) error {
	if !foreground {
		return startDaemon()
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "claudeck",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "claudeck",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", "error", err)
		}
	}()

	logger.Info("Claudeck starting",
		"version", Version,
		"config", getConfigSource(GetConfigFile()),
		"log_level", cfg.Logging.Level)
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}

	// Control plane store
	st, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer func() { _ = st.Close() }()

	// Admin bootstrap only touches an empty users table; a weak or
	// missing password just skips it.
	created, err := st.EnsureAdminUser(ctx, cfg.Admin.Username, cfg.Admin.Password)
	if err != nil {
		return fmt.Errorf("failed to bootstrap admin user: %w", err)
	}
	if created {
		logger.Info("Admin user created", "username", cfg.Admin.Username)
	}

	// Credential service
	jwtService, err := auth.NewJWTService(auth.JWTConfig{
		Secret:               cfg.Auth.JWTSecret,
		AccessTokenDuration:  cfg.Auth.AccessTokenTTL,
		RefreshTokenDuration: cfg.Auth.RefreshTokenTTL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize token service: %w", err)
	}
	creds := auth.NewCredentialService(jwtService, st)
	recorder := audit.NewRecorder(st)

	// Path whitelists
	g, err := guard.NewPathGuard(cfg.Paths.ProjectRoots, cfg.Paths.FileRoots)
	if err != nil {
		return fmt.Errorf("invalid path configuration: %w", err)
	}
	if len(cfg.Paths.ProjectRoots) == 0 {
		logger.Warn("No project roots configured; session creation will be denied")
	}

	// Metrics register up front; the live gauges sample whichever
	// subsystems exist by the time of the first scrape.
	var (
		sessions *registry.Registry
		brk      *broker.Broker
	)
	m := metrics.New(prometheus.DefaultRegisterer, metrics.Sources{
		ActiveSessions: func() float64 {
			if sessions == nil {
				return 0
			}
			return float64(sessions.Count())
		},
		OpenHubs: func() float64 {
			if brk == nil {
				return 0
			}
			return float64(brk.HubCount())
		},
		Connections: func() float64 {
			if brk == nil {
				return 0
			}
			return float64(brk.ConnCount())
		},
	})

	// Multiplexer client and session registry
	client := tmux.NewClient(cfg.Multiplexer.Socket, tmux.WithBinary(cfg.Multiplexer.Command))
	if !client.Available() {
		logger.Warn("Multiplexer binary not found; sessions unavailable until it is installed",
			"binary", cfg.Multiplexer.Command)
	}
	sessions = registry.New(client, st, cfg.CLI.Path,
		registry.WithOperationCounter(m.SessionOpsTotal))

	// Reconcile durable records against live windows from a previous run.
	if err := sessions.Recover(ctx); err != nil {
		logger.Warn("Session recovery incomplete", "error", err)
	}

	// Metadata probe and streaming broker
	p := probe.New(probe.Config{CLIPath: cfg.CLI.Path, CLIHome: cfg.CLI.Home},
		sessions, st, probe.WithSnapshotCounter(m.ProbeSnapshotsTotal))
	brk = broker.New(sessions, client, creds, p)
	p.SetBroadcaster(brk)

	router := api.NewRouter(api.Deps{
		Store:    st,
		Creds:    creds,
		Registry: sessions,
		Guard:    g,
		Probe:    p,
		Files:    files.NewService(g),
		Audit:    recorder,
		Broker:   brk,
		Tmux:     client,
		Metrics:  m,
		CLIPath:  cfg.CLI.Path,
		Secure:   cfg.API.Secure,
	})
	apiServer := api.NewServer(cfg.API, router)

	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	// Periodic sweep of expired refresh and share tokens.
	go func() {
		ticker := time.NewTicker(tokenPurgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := creds.PurgeExpired(ctx); err != nil {
					logger.Warn("Token purge failed", "error", err)
				} else if n > 0 {
					logger.Debug("Expired tokens purged", "count", n)
				}
			}
		}
	}()

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- apiServer.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		shutdownStreams(cfg.ShutdownTimeout, brk, p)
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		shutdownStreams(cfg.ShutdownTimeout, brk, p)
		if err != nil {
			logger.Error("Server error", "error", err)
			return err
		}
		logger.Info("Server stopped")
	}

	return nil
}

// shutdownStreams tears down the streaming plane: broadcast the shutdown
// notice, give attachments a short drain, then stop the probe. Sessions
// themselves stay alive in their multiplexer windows.
func shutdownStreams(limit time.Duration, brk *broker.Broker, p *probe.Probe) {
	ctx, cancel := context.WithTimeout(context.Background(), limit)
	defer cancel()

	brk.Shutdown(ctx, drainTimeout)
	p.StopAll()
}

// startDaemon starts the server as a background daemon process.
func startDaemon() error {
	stateDir := GetDefaultStateDir()
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	pidPath := pidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}

	// Check if already running
	if _, err := os.Stat(pidPath); err == nil {
		pidData, err := os.ReadFile(pidPath)
		if err == nil {
			var pid int
			if _, err := fmt.Sscanf(string(pidData), "%d", &pid); err == nil {
				if process, err := os.FindProcess(pid); err == nil {
					if err := process.Signal(syscall.Signal(0)); err == nil {
						return fmt.Errorf("claudeck is already running (PID %d)", pid)
					}
				}
			}
		}
		// Stale PID file, remove it
		_ = os.Remove(pidPath)
	}

	logPath := logFile
	if logPath == "" {
		logPath = GetDefaultLogFile()
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	daemonArgs := []string{"start", "--foreground", "--pid-file", pidPath}
	if GetConfigFile() != "" {
		daemonArgs = append(daemonArgs, "--config", GetConfigFile())
	}

	cmd := exec.Command(executable, daemonArgs...)

	logFileHandle, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	cmd.Stdout = logFileHandle
	cmd.Stderr = logFileHandle

	// Detach from the parent process
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	if err := cmd.Start(); err != nil {
		_ = logFileHandle.Close()
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	_ = logFileHandle.Close()

	fmt.Printf("claudeck started in background (PID %d)\n", cmd.Process.Pid)
	fmt.Printf("  PID file: %s\n", pidPath)
	fmt.Printf("  Log file: %s\n", logPath)
	fmt.Println("\nUse 'claudeck status' to check server status")

	return nil
}
