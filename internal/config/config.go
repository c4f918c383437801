// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// DefaultRealtimeModel is used when neither the request nor the
// configuration names a model.
const DefaultRealtimeModel = "gpt-4o-realtime-preview"

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/gpt-actions-proxy/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config          string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host            string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port            int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	BearerSecretID  string `kong:"help='Secrets Manager id of the bearer secret (overrides config).',env='SECRET_NAME'"`
	OpenAISecretID  string `kong:"name='openai-secret-id',help='Secrets Manager id of the OpenAI API key (overrides config).',env='OPENAI_API_KEY_SECRET_ARN'"`
	RealtimeModel   string `kong:"help='Default realtime model (overrides config).',env='REALTIME_MODEL'"`
	CORSAllowOrigin string `kong:"name='cors-allow-origin',help='CORS allow-origin value (overrides config).',env='CORS_ALLOW_ORIGIN'"`
	LogLevel        string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Secrets SecretsConfig `toml:"secrets"`
	OpenAI  OpenAIConfig  `toml:"openai"`
	CORS    CORSConfig    `toml:"cors"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// SecretsConfig names the Secrets Manager entries the service depends on.
type SecretsConfig struct {
	BearerSecretID string `toml:"bearer_secret_id"`
	OpenAISecretID string `toml:"openai_api_key_secret_id"`
	Region         string `toml:"region"`
}

// OpenAIConfig holds upstream connection settings.
type OpenAIConfig struct {
	BaseURL         string `toml:"base_url"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	IdleConnections int    `toml:"idle_connections"`
	RealtimeModel   string `toml:"realtime_model"`
}

// CORSConfig holds cross-origin settings for the token minting endpoint.
type CORSConfig struct {
	AllowOrigin string `toml:"allow_origin"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/gpt-actions-proxy/config.toml then configs/config.toml. A missing
// config file is not an error as long as the required secret ids arrive via
// flags or environment.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.BearerSecretID != "" {
		c.Secrets.BearerSecretID = cli.BearerSecretID
	}
	if cli.OpenAISecretID != "" {
		c.Secrets.OpenAISecretID = cli.OpenAISecretID
	}
	if cli.RealtimeModel != "" {
		c.OpenAI.RealtimeModel = cli.RealtimeModel
	}
	if cli.CORSAllowOrigin != "" {
		c.CORS.AllowOrigin = cli.CORSAllowOrigin
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Missing secret identifiers are a fatal setup error.
	if c.Secrets.BearerSecretID == "" {
		return fmt.Errorf("secrets.bearer_secret_id is required (or set SECRET_NAME)")
	}
	if c.Secrets.OpenAISecretID == "" {
		return fmt.Errorf("secrets.openai_api_key_secret_id is required (or set OPENAI_API_KEY_SECRET_ARN)")
	}

	// Upstream URL: must be HTTPS.
	u, err := url.Parse(c.OpenAI.BaseURL)
	if err != nil {
		return fmt.Errorf("openai.base_url is not a valid URL: %w", err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("openai.base_url must use HTTPS; got %q", c.OpenAI.BaseURL)
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0-65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.OpenAI.TimeoutSeconds < 0 {
		return fmt.Errorf("openai.timeout_seconds must be non-negative; got %d", c.OpenAI.TimeoutSeconds)
	}
	if c.OpenAI.IdleConnections < 0 {
		return fmt.Errorf("openai.idle_connections must be non-negative; got %d", c.OpenAI.IdleConnections)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{"/ping", "/realtime", "/healthz", "/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key. Setting port=0 in
// the config file therefore results in the default port (8000).
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 1 * 1024 * 1024 // 1 MiB; request bodies here are tiny
	}
	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = "https://api.openai.com"
	}
	if c.OpenAI.TimeoutSeconds == 0 {
		c.OpenAI.TimeoutSeconds = 10
	}
	if c.OpenAI.IdleConnections == 0 {
		c.OpenAI.IdleConnections = 100
	}
	if c.OpenAI.RealtimeModel == "" {
		c.OpenAI.RealtimeModel = DefaultRealtimeModel
	}
	if c.CORS.AllowOrigin == "" {
		c.CORS.AllowOrigin = "*"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
