// Package config loads the toolkit configuration from a file, the
// environment and defaults.
package config

import (
	"crypto"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/remiblancher/asic/internal/logging"
	"github.com/remiblancher/asic/pkg/asic"
	"github.com/remiblancher/asic/pkg/token"
)

// EnvPrefix prefixes every environment override, e.g. ASIC_OCSP_URL.
const EnvPrefix = "ASIC"

// Config holds the configuration of the CLI and the API server.
type Config struct {
	Signing SigningConfig `mapstructure:"signing"`
	OCSP    OCSPConfig    `mapstructure:"ocsp"`
	TSA     TSAConfig     `mapstructure:"tsa"`
	Logging LoggingConfig `mapstructure:"logging"`
	Audit   AuditConfig   `mapstructure:"audit"`
	Server  ServerConfig  `mapstructure:"server"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// SigningConfig holds signature defaults.
type SigningConfig struct {
	Profile        string `mapstructure:"profile"`
	Digest         string `mapstructure:"digest"` // empty follows the key size
	DataFileDigest string `mapstructure:"data_file_digest"`
}

// OCSPConfig points at the OCSP responder of the signing certificates.
type OCSPConfig struct {
	URL     string        `mapstructure:"url"`
	Issuer  string        `mapstructure:"issuer"` // PEM file of the issuing CA
	Timeout time.Duration `mapstructure:"timeout"`
}

// TSAConfig points at the RFC 3161 timestamp authority.
type TSAConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
	Digest  string        `mapstructure:"digest"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
}

// AuditConfig enables the audit log when Log is set.
type AuditConfig struct {
	Log string `mapstructure:"log"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	SessionTTL      time.Duration `mapstructure:"session_ttl"`
}

// MetricsConfig toggles the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load reads configuration with precedence environment, then file, then
// defaults. A missing file is fine when configPath is empty.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("asic")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/asic/")
		v.AddConfigPath("$HOME/.asic")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration made of defaults only.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("signing.profile", asic.DefaultProfile.String())
	v.SetDefault("signing.digest", "")
	v.SetDefault("signing.data_file_digest", "SHA256")

	v.SetDefault("ocsp.url", "")
	v.SetDefault("ocsp.issuer", "")
	v.SetDefault("ocsp.timeout", "10s")

	v.SetDefault("tsa.url", "")
	v.SetDefault("tsa.timeout", "10s")
	v.SetDefault("tsa.digest", "SHA256")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("audit.log", "")

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.session_ttl", "10m")

	v.SetDefault("metrics.enabled", true)
}

// Validate checks values that cannot be parsed lazily.
func (c *Config) Validate() error {
	if _, err := c.Profile(); err != nil {
		return fmt.Errorf("signing.profile: %w", err)
	}
	if c.Signing.Digest != "" {
		if _, err := asic.ParseDigestAlgorithm(c.Signing.Digest); err != nil {
			return fmt.Errorf("signing.digest: %w", err)
		}
	}
	if _, err := asic.ParseDigestAlgorithm(c.Signing.DataFileDigest); err != nil {
		return fmt.Errorf("signing.data_file_digest: %w", err)
	}
	if _, err := asic.ParseDigestAlgorithm(c.TSA.Digest); err != nil {
		return fmt.Errorf("tsa.digest: %w", err)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if _, err := logging.ParseFormat(c.Logging.Format); err != nil {
		return fmt.Errorf("logging.format: %w", err)
	}
	if c.OCSP.URL != "" && c.OCSP.Issuer == "" {
		return fmt.Errorf("ocsp.issuer is required when ocsp.url is set")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	return nil
}

// Profile returns the configured default profile. Empty means unset, so
// the builder picks one.
func (c *Config) Profile() (asic.Profile, error) {
	if strings.TrimSpace(c.Signing.Profile) == "" {
		return asic.ProfileUnset, nil
	}
	return asic.ParseProfile(c.Signing.Profile)
}

// SignatureDigest returns the configured signature digest, or zero to follow
// the key size.
func (c *Config) SignatureDigest() crypto.Hash {
	h, _ := asic.ParseDigestAlgorithm(c.Signing.Digest)
	return h
}

// DataFileDigest returns the configured data file digest.
func (c *Config) DataFileDigest() crypto.Hash {
	h, err := asic.ParseDigestAlgorithm(c.Signing.DataFileDigest)
	if err != nil {
		return crypto.SHA256
	}
	return h
}

// Services builds the OCSP and TSA collaborators. A source is left nil when
// its URL is not configured.
func (c *Config) Services() (asic.Services, error) {
	var s asic.Services
	if c.OCSP.URL != "" {
		data, err := os.ReadFile(c.OCSP.Issuer)
		if err != nil {
			return s, fmt.Errorf("read OCSP issuer: %w", err)
		}
		issuer, err := token.ParseCertificatePEM(data)
		if err != nil {
			return s, fmt.Errorf("parse OCSP issuer: %w", err)
		}
		s.OCSP = asic.NewOCSPSource(c.OCSP.URL, issuer, c.OCSP.Timeout)
	}
	if c.TSA.URL != "" {
		s.TSA = asic.NewTimestampSource(c.TSA.URL, c.TSA.Timeout)
	}
	if h, err := asic.ParseDigestAlgorithm(c.TSA.Digest); err == nil {
		s.TimestampDigest = h
	}
	return s, nil
}

// Logger builds the process logger writing to out.
func (c *Config) Logger(out io.Writer) *slog.Logger {
	cfg := logging.DefaultConfig()
	cfg.Output = out
	if lvl, err := logging.ParseLevel(c.Logging.Level); err == nil {
		cfg.Level = lvl
	}
	if f, err := logging.ParseFormat(c.Logging.Format); err == nil {
		cfg.Format = f
	}
	return logging.New(cfg)
}

// Address returns host:port for the API server.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
