package config

import (
	"testing"
	"time"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level INFO, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format text, got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default output stdout, got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_NormalizesLogLevel(t *testing.T) {
	cfg := &Config{Logging: LoggingConfig{Level: "debug"}}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected normalized level DEBUG, got %q", cfg.Logging.Level)
	}
}

func TestApplyDefaults_ShutdownTimeout(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.ShutdownTimeout != 15*time.Second {
		t.Errorf("Expected default shutdown timeout 15s, got %v", cfg.ShutdownTimeout)
	}
}

func TestApplyDefaults_API(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("Expected loopback bind by default, got %q", cfg.API.Host)
	}
	if cfg.API.Port != 3001 {
		t.Errorf("Expected default port 3001, got %d", cfg.API.Port)
	}
	if cfg.API.WriteTimeout != 0 {
		t.Errorf("Write timeout must stay 0 for streaming, got %v", cfg.API.WriteTimeout)
	}
}

func TestApplyDefaults_AuthTTLs(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Auth.AccessTokenTTL != time.Hour {
		t.Errorf("Expected 1h access TTL, got %v", cfg.Auth.AccessTokenTTL)
	}
	if cfg.Auth.RefreshTokenTTL != 7*24*time.Hour {
		t.Errorf("Expected 168h refresh TTL, got %v", cfg.Auth.RefreshTokenTTL)
	}
}

func TestApplyDefaults_Multiplexer(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Multiplexer.Socket != "claude-dashboard" {
		t.Errorf("Expected dedicated socket, got %q", cfg.Multiplexer.Socket)
	}
	if cfg.Multiplexer.Command != "tmux" {
		t.Errorf("Expected tmux, got %q", cfg.Multiplexer.Command)
	}
}

func TestApplyDefaults_Admin(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Admin.Username != "admin" {
		t.Errorf("Expected default admin username, got %q", cfg.Admin.Username)
	}
	if cfg.Admin.Password != "" {
		t.Error("Admin password must have no default")
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging:         LoggingConfig{Level: "ERROR", Format: "json"},
		ShutdownTimeout: 90 * time.Second,
		Multiplexer:     MultiplexerConfig{Socket: "custom-sock"},
	}
	cfg.API.Port = 9999
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Explicit level overwritten: %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Explicit format overwritten: %q", cfg.Logging.Format)
	}
	if cfg.ShutdownTimeout != 90*time.Second {
		t.Errorf("Explicit shutdown timeout overwritten: %v", cfg.ShutdownTimeout)
	}
	if cfg.Multiplexer.Socket != "custom-sock" {
		t.Errorf("Explicit socket overwritten: %q", cfg.Multiplexer.Socket)
	}
	if cfg.API.Port != 9999 {
		t.Errorf("Explicit port overwritten: %d", cfg.API.Port)
	}
}

func TestGetDefaultConfig_IsValid(t *testing.T) {
	cfg := GetDefaultConfig()

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected default config to validate, got: %v", err)
	}
}
