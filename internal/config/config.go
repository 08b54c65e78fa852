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

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/media-relay/config.toml",
	"configs/config.toml",
}

// Default provider endpoints.
const (
	DefaultRemoveBGEndpoint    = "https://api.remove.bg/v1.0/removebg"
	DefaultVideoLookupEndpoint = "https://social-media-video-downloader.p.rapidapi.com/smvd/get/all"
	DefaultVideoLookupHost     = "social-media-video-downloader.p.rapidapi.com"
)

const defaultUploadMaxBytes = 10 * 1024 * 1024 // 10 MiB

// placeholderKey is the value shipped in the example config.
const placeholderKey = "YOUR_API_KEY_HERE"

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config           string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host             string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port             int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	RemoveBGAPIKey   string `kong:"name='remove-bg-api-key',help='remove.bg API key (overrides config).',env='REMOVE_BG_API_KEY'"`
	DownloaderAPIKey string `kong:"name='downloader-api-key',help='Video downloader API key (overrides config).',env='DOWNLOADER_API_KEY'"`
	LogLevel         string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Upload      UploadConfig      `toml:"upload"`
	RemoveBG    RemoveBGConfig    `toml:"remove_bg"`
	VideoLookup VideoLookupConfig `toml:"video_lookup"`
	Upstream    UpstreamConfig    `toml:"upstream"`
	Log         LogConfig         `toml:"log"`
	Metrics     MetricsConfig     `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8080)
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	CORSOrigins  []string        `toml:"cors_origins"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// UploadConfig controls inbound file ingestion.
type UploadConfig struct {
	Field        string   `toml:"field"`
	MaxBytes     int64    `toml:"max_bytes"`
	AllowedTypes []string `toml:"allowed_types"`
}

// RemoveBGConfig holds the background-removal provider settings.
type RemoveBGConfig struct {
	APIKey   string `toml:"api_key"`
	Endpoint string `toml:"endpoint"`
}

// VideoLookupConfig holds the video-metadata provider settings.
type VideoLookupConfig struct {
	APIKey   string `toml:"api_key"`
	Endpoint string `toml:"endpoint"`
	Host     string `toml:"host"`
}

// UpstreamConfig holds outbound connection settings shared by all providers.
type UpstreamConfig struct {
	TimeoutSeconds   int   `toml:"timeout_seconds"`
	IdleConnections  int   `toml:"idle_connections"`
	ResponseMaxBytes int64 `toml:"response_max_bytes"`
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
// /etc/media-relay/config.toml then configs/config.toml. If neither exists the
// configuration is built from CLI flags, environment and defaults alone.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
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

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
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
	if cli.RemoveBGAPIKey != "" {
		c.RemoveBG.APIKey = cli.RemoveBGAPIKey
	}
	if cli.DownloaderAPIKey != "" {
		c.VideoLookup.APIKey = cli.DownloaderAPIKey
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	if c.RemoveBG.APIKey == placeholderKey {
		return fmt.Errorf("remove_bg.api_key contains placeholder value; set a real key or leave it empty")
	}
	if c.VideoLookup.APIKey == placeholderKey {
		return fmt.Errorf("video_lookup.api_key contains placeholder value; set a real key or leave it empty")
	}

	// Provider endpoints: optional, but must be HTTPS when given.
	if err := validateEndpoint("remove_bg.endpoint", c.RemoveBG.Endpoint); err != nil {
		return err
	}
	if err := validateEndpoint("video_lookup.endpoint", c.VideoLookup.Endpoint); err != nil {
		return err
	}
	if strings.ContainsAny(c.VideoLookup.Host, "/: ") {
		return fmt.Errorf("video_lookup.host must be a bare hostname; got %q", c.VideoLookup.Host)
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upload.MaxBytes < 0 {
		return fmt.Errorf("upload.max_bytes must be non-negative; got %d", c.Upload.MaxBytes)
	}
	if c.Server.BodyMaxBytes > 0 && c.uploadMaxBytes() > c.Server.BodyMaxBytes {
		return fmt.Errorf("upload.max_bytes (%d) must not exceed server.body_max_bytes (%d)", c.uploadMaxBytes(), c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Upstream.ResponseMaxBytes < 0 {
		return fmt.Errorf("upstream.response_max_bytes must be non-negative; got %d", c.Upstream.ResponseMaxBytes)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	for _, origin := range c.Server.CORSOrigins {
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("server.cors_origins entry %q must include scheme and host", origin)
		}
	}
	for _, t := range c.Upload.AllowedTypes {
		if !strings.Contains(t, "/") {
			return fmt.Errorf("upload.allowed_types entry %q is not a MIME type", t)
		}
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
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
		for _, reserved := range []string{"/remove-bg", "/download", "/healthz", "/relay/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// uploadMaxBytes returns upload.max_bytes, or its default when unset.
func (c *Config) uploadMaxBytes() int64 {
	if c.Upload.MaxBytes == 0 {
		return defaultUploadMaxBytes
	}
	return c.Upload.MaxBytes
}

func validateEndpoint(field, raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("%s must use HTTPS; got %q", field, raw)
	}
	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields, zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	c.Upload.MaxBytes = c.uploadMaxBytes()
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 2 * c.Upload.MaxBytes
	}
	if len(c.Server.CORSOrigins) == 0 {
		c.Server.CORSOrigins = []string{"http://localhost:5173"}
	}
	if c.Upload.Field == "" {
		c.Upload.Field = "image"
	}
	if len(c.Upload.AllowedTypes) == 0 {
		c.Upload.AllowedTypes = []string{"image/png", "image/jpeg", "image/webp"}
	}
	if c.RemoveBG.Endpoint == "" {
		c.RemoveBG.Endpoint = DefaultRemoveBGEndpoint
	}
	if c.VideoLookup.Endpoint == "" {
		c.VideoLookup.Endpoint = DefaultVideoLookupEndpoint
	}
	if c.VideoLookup.Host == "" {
		c.VideoLookup.Host = DefaultVideoLookupHost
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 120
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Upstream.ResponseMaxBytes == 0 {
		c.Upstream.ResponseMaxBytes = 32 * 1024 * 1024 // 32 MiB
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

// WarnPermissions logs a warning if the config file is readable by group or
// others. API keys live in this file.
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
