// Package server provides HTTP server configuration and lifecycle management.
package server

import (
	"fmt"
	"time"

	"github.com/remiblancher/asic/internal/config"
)

// Config holds the server configuration.
type Config struct {
	// Host is the address to bind to.
	Host string
	Port int

	// TLS configuration (optional)
	TLSCert string
	TLSKey  string

	// Metrics exposes /metrics.
	Metrics bool

	// Timeouts
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// FromConfig derives the server settings from the toolkit configuration.
func FromConfig(cfg *config.Config) *Config {
	return &Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		Metrics:         cfg.Metrics.Enabled,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}
}

// Address returns the listen address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TLS reports whether both TLS files are set.
func (c *Config) TLS() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}
