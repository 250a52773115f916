package api

import "time"

// APIConfig holds HTTP server settings.
type APIConfig struct {
	// Host is the bind address. Defaults to loopback: the dashboard is
	// designed to sit behind the operator's own tunnel, not on the open
	// network.
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the TCP port to listen on.
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// Secure marks issued cookies Secure-only. Enable when serving TLS.
	Secure bool `mapstructure:"secure" yaml:"secure"`

	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// DefaultPort is the dashboard's default listen port.
const DefaultPort = 3001

// ApplyDefaults fills in missing values.
func (c *APIConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	// WriteTimeout stays 0: WebSocket attachments stream indefinitely and
	// the broker applies its own per-frame deadlines.
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 120 * time.Second
	}
}
