// Package config loads and validates the dashboard configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (CLAUDECK_* plus a handful of short aliases)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/claudeck/claudeck/pkg/api"
	"github.com/claudeck/claudeck/pkg/store"
)

// Config represents the claudeck server configuration.
//
// Static aspects only: logging, telemetry, the HTTP listener, the database,
// the multiplexer socket, the CLI under management, path whitelists, and the
// initial admin bootstrap. Dynamic state (users, sessions, tokens) lives in
// the control plane database.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry tracing and Pyroscope profiling
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout is the hard cap on graceful shutdown. The drain of
	// live WebSocket attachments gets a fraction of it; whatever is still
	// running when it expires is abandoned.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Database configures the control plane database (SQLite or PostgreSQL)
	Database store.Config `mapstructure:"database" yaml:"database"`

	// API contains HTTP listener configuration
	API api.APIConfig `mapstructure:"api" yaml:"api"`

	// Auth contains token signing and lifetime configuration
	Auth AuthConfig `mapstructure:"auth" yaml:"auth"`

	// Multiplexer selects the terminal multiplexer socket and binary
	Multiplexer MultiplexerConfig `mapstructure:"multiplexer" yaml:"multiplexer"`

	// CLI locates the Claude CLI binary and its home directory
	CLI CLIConfig `mapstructure:"cli" yaml:"cli"`

	// Paths holds the project and file whitelists. Empty lists deny
	// everything; the dashboard is useless until at least the project
	// roots are configured.
	Paths PathsConfig `mapstructure:"paths" yaml:"paths"`

	// Admin contains initial admin user configuration for bootstrap
	Admin AdminConfig `mapstructure:"admin" yaml:"admin"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
// When enabled, trace data is exported to an OTLP-compatible collector.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false (opt-in)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use a non-TLS connection
	// Default: true (for local development)
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	// Default: 1.0 (sample all)
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled
	// Default: false (opt-in)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL)
	// Default: "http://localhost:4040"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect
	// Valid values: cpu, alloc_objects, alloc_space, inuse_objects,
	// inuse_space, goroutines, mutex_count, mutex_duration, block_count,
	// block_duration
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// AuthConfig contains token signing and lifetime configuration.
type AuthConfig struct {
	// JWTSecret signs access and refresh tokens (HMAC-SHA256).
	// Must be at least 32 bytes; the server refuses to start without it.
	JWTSecret string `mapstructure:"jwt_secret" validate:"omitempty,min=32" yaml:"jwt_secret,omitempty"`

	// AccessTokenTTL is the lifetime of access tokens. Default: 1h
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl" yaml:"access_token_ttl"`

	// RefreshTokenTTL is the lifetime of refresh tokens. Default: 168h
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl" yaml:"refresh_token_ttl"`
}

// MultiplexerConfig selects the terminal multiplexer the dashboard drives.
// All windows live on a dedicated socket so user tmux sessions are never
// touched.
type MultiplexerConfig struct {
	// Socket is the multiplexer socket name (tmux -L).
	// Default: "claude-dashboard"
	Socket string `mapstructure:"socket" yaml:"socket"`

	// Command is the multiplexer binary. Default: "tmux"
	Command string `mapstructure:"command" yaml:"command"`
}

// CLIConfig locates the Claude CLI under management.
type CLIConfig struct {
	// Path is the CLI binary launched inside each session window.
	// Default: "claude"
	Path string `mapstructure:"path" yaml:"path"`

	// Home is the CLI state directory holding per-project session logs.
	// Default: $HOME/.claude
	Home string `mapstructure:"home" yaml:"home,omitempty"`
}

// PathsConfig holds the filesystem whitelists.
type PathsConfig struct {
	// ProjectRoots are the directories sessions may be started under.
	// Env override ALLOWED_PROJECT_ROOTS is colon-separated.
	ProjectRoots []string `mapstructure:"project_roots" yaml:"project_roots"`

	// FileRoots are the directories the file editor surface may touch.
	// Env override ALLOWED_FILE_ROOTS is colon-separated.
	FileRoots []string `mapstructure:"file_roots" yaml:"file_roots"`
}

// AdminConfig contains initial admin user configuration for bootstrap.
// Applied only when the users table is empty.
type AdminConfig struct {
	// Username is the admin username. Default: "admin"
	Username string `mapstructure:"username" yaml:"username"`

	// Password is the initial admin password. Must be at least 12
	// characters or the bootstrap is skipped with a warning.
	Password string `mapstructure:"password" yaml:"password,omitempty"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if configFileFound || len(boundEnvKeys(v)) > 0 {
		if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages when the config
// file is missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  claudeck init\n\n"+
				"Or specify a custom config file:\n"+
				"  claudeck <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  claudeck init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600: the file carries the JWT secret and the bootstrap password.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// envAliases maps config keys to the short environment variables the
// dashboard documents for operators, alongside the canonical CLAUDECK_*
// forms. Root lists are colon-separated in the environment.
var envAliases = map[string]string{
	"api.host":               "HOST",
	"api.port":               "PORT",
	"database.sqlite.path":   "DB_PATH",
	"auth.jwt_secret":        "JWT_SECRET",
	"auth.access_token_ttl":  "JWT_EXPIRES_IN",
	"auth.refresh_token_ttl": "JWT_REFRESH_EXPIRES_IN",
	"paths.project_roots":    "ALLOWED_PROJECT_ROOTS",
	"paths.file_roots":       "ALLOWED_FILE_ROOTS",
	"admin.username":         "ADMIN_USERNAME",
	"admin.password":         "ADMIN_PASSWORD",
}

// setupViper configures viper with environment variables and config file
// settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the CLAUDECK_ prefix and underscores.
	// Example: CLAUDECK_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("CLAUDECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Short aliases keep parity with how the dashboard has historically
	// been configured. The canonical form is listed first so it wins
	// when both are set.
	for key, alias := range envAliases {
		canonical := "CLAUDECK_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(key, canonical, alias)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/claudeck/config.yaml
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// boundEnvKeys returns the aliased keys that are actually set in the
// environment. With no config file and no environment, Load should hand
// back pristine defaults rather than an unmarshal of nothing.
func boundEnvKeys(v *viper.Viper) []string {
	var keys []string
	for key := range envAliases {
		if v.IsSet(key) {
			keys = append(keys, key)
		}
	}
	return keys
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error).
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(":"),
	)
}

// durationDecodeHook converts strings like "30s", "5m", "1h" into
// time.Duration values.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "claudeck")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "claudeck")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for the
// init command).
func GetConfigDir() string {
	return getConfigDir()
}
