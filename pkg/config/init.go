package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const configHeader = `# Claudeck Configuration File
#
# This file was generated by "claudeck init". Every value can be
# overridden with a CLAUDECK_* environment variable, e.g.
# CLAUDECK_API_PORT=8088 or CLAUDECK_LOGGING_LEVEL=DEBUG.
#
# The jwt_secret below was generated for this installation. Keep this
# file private: it also carries the bootstrap admin password if you
# choose to set one here.

`

// jwtSecretBytes is the entropy of the generated JWT signing secret.
// Hex encoding doubles it to 64 characters on disk.
const jwtSecretBytes = 32

// InitConfig creates a starter configuration file at the default
// location and returns its path.
func InitConfig(force bool) (string, error) {
	configPath := GetDefaultConfigPath()
	if err := InitConfigToPath(configPath, force); err != nil {
		return "", err
	}
	return configPath, nil
}

// InitConfigToPath creates a starter configuration file at the given
// path. Fails if the file exists unless force is set.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}

	cfg := GetDefaultConfig()

	secret, err := generateJWTSecret()
	if err != nil {
		return err
	}
	cfg.Auth.JWTSecret = secret

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := append([]byte(configHeader), data...)
	if err := os.WriteFile(path, content, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// generateJWTSecret returns a hex-encoded random signing secret.
func generateJWTSecret() (string, error) {
	buf := make([]byte, jwtSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate JWT secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
