package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return configPath
}

func TestLoad_DefaultsApplied(t *testing.T) {
	configPath := writeConfig(t, `
logging:
  level: "INFO"

api:
  port: 3001

auth:
  jwt_secret: "test-secret-key-for-testing-minimum-32-chars"

paths:
  project_roots:
    - /srv/projects
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got %q", cfg.Logging.Output)
	}
	if cfg.ShutdownTimeout != 15*time.Second {
		t.Errorf("Expected default shutdown_timeout 15s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.API.Port != 3001 {
		t.Errorf("Expected API port 3001, got %d", cfg.API.Port)
	}
	if cfg.Multiplexer.Socket != "claude-dashboard" {
		t.Errorf("Expected default socket 'claude-dashboard', got %q", cfg.Multiplexer.Socket)
	}
	if cfg.CLI.Path != "claude" {
		t.Errorf("Expected default CLI path 'claude', got %q", cfg.CLI.Path)
	}
	if len(cfg.Paths.ProjectRoots) != 1 || cfg.Paths.ProjectRoots[0] != "/srv/projects" {
		t.Errorf("Unexpected project roots: %v", cfg.Paths.ProjectRoots)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// Loading with no config file returns a valid default config so the
	// server can be driven purely by environment variables.
	nonExistentPath := filepath.Join(t.TempDir(), "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error when loading default config, got: %v", err)
	}
	if cfg == nil {
		t.Fatal("Expected default config to be returned")
	}
	if cfg.API.Port != 3001 {
		t.Errorf("Expected default API port 3001, got %d", cfg.API.Port)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, `
logging:
  level: INFO
  invalid yaml here [[[
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error with invalid YAML, got nil")
	}
}

func TestLoad_DurationStrings(t *testing.T) {
	configPath := writeConfig(t, `
shutdown_timeout: 45s

auth:
  access_token_ttl: 30m
  refresh_token_ttl: 72h
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.ShutdownTimeout != 45*time.Second {
		t.Errorf("shutdown_timeout = %v, want 45s", cfg.ShutdownTimeout)
	}
	if cfg.Auth.AccessTokenTTL != 30*time.Minute {
		t.Errorf("access_token_ttl = %v, want 30m", cfg.Auth.AccessTokenTTL)
	}
	if cfg.Auth.RefreshTokenTTL != 72*time.Hour {
		t.Errorf("refresh_token_ttl = %v, want 72h", cfg.Auth.RefreshTokenTTL)
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	_ = os.Setenv("CLAUDECK_LOGGING_LEVEL", "ERROR")
	_ = os.Setenv("CLAUDECK_API_PORT", "9090")
	defer func() {
		_ = os.Unsetenv("CLAUDECK_LOGGING_LEVEL")
		_ = os.Unsetenv("CLAUDECK_API_PORT")
	}()

	configPath := writeConfig(t, `
logging:
  level: "INFO"

api:
  port: 3001
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Environment variables override the config file
	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected level 'ERROR' from env var, got %q", cfg.Logging.Level)
	}
	if cfg.API.Port != 9090 {
		t.Errorf("Expected port 9090 from env var, got %d", cfg.API.Port)
	}
}

func TestLoad_EnvAliases(t *testing.T) {
	_ = os.Setenv("PORT", "8088")
	_ = os.Setenv("ALLOWED_PROJECT_ROOTS", "/srv/projects:/home/dev/code")
	_ = os.Setenv("JWT_EXPIRES_IN", "2h")
	defer func() {
		_ = os.Unsetenv("PORT")
		_ = os.Unsetenv("ALLOWED_PROJECT_ROOTS")
		_ = os.Unsetenv("JWT_EXPIRES_IN")
	}()

	// No config file at all: the aliases alone configure the server.
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.API.Port != 8088 {
		t.Errorf("Expected port 8088 from PORT alias, got %d", cfg.API.Port)
	}
	if len(cfg.Paths.ProjectRoots) != 2 ||
		cfg.Paths.ProjectRoots[0] != "/srv/projects" ||
		cfg.Paths.ProjectRoots[1] != "/home/dev/code" {
		t.Errorf("Colon-separated roots not split: %v", cfg.Paths.ProjectRoots)
	}
	if cfg.Auth.AccessTokenTTL != 2*time.Hour {
		t.Errorf("Expected 2h access TTL from JWT_EXPIRES_IN, got %v", cfg.Auth.AccessTokenTTL)
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := GetDefaultConfig()
	cfg.API.Port = 4242
	cfg.Paths.ProjectRoots = []string{"/srv/projects"}

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Config file not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("Config file mode = %o, want 0600", perm)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load saved config: %v", err)
	}
	if loaded.API.Port != 4242 {
		t.Errorf("Port = %d after round trip, want 4242", loaded.API.Port)
	}
	if len(loaded.Paths.ProjectRoots) != 1 || loaded.Paths.ProjectRoots[0] != "/srv/projects" {
		t.Errorf("Project roots lost in round trip: %v", loaded.Paths.ProjectRoots)
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	path := GetDefaultConfigPath()
	if path == "" {
		t.Fatal("Expected non-empty default config path")
	}
	if filepath.Base(path) != "config.yaml" {
		t.Errorf("Expected config.yaml, got %q", filepath.Base(path))
	}
}

func TestGetConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg-test")
	if dir := GetConfigDir(); dir != filepath.Join("/tmp/xdg-test", "claudeck") {
		t.Errorf("Unexpected config dir: %q", dir)
	}
}
