// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/eclipse-api/config.toml",
	"configs/config.toml",
}

// defaultAllowedOrigins are the front-end origins allowed by CORS when none are configured.
var defaultAllowedOrigins = []string{
	"http://localhost:8000",
	"https://eclipseemu.me",
	"https://beta.eclipseemu.me",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host     string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port     int    `kong:"short='p',help='Listen port (overrides config).',env='ECLIPSE_API_PORT'"`
	OpenVGDB string `kong:"name='openvgdb',help='Path to the OpenVGDB SQLite file (overrides config).',env='ECLIPSE_API_OPENVGDB_PATH'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Download DownloadConfig `toml:"download"`
	OpenVGDB OpenVGDBConfig `toml:"openvgdb"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string          `toml:"host"`
	Port           int             `toml:"port"` // 0 means "use default" (8001); TOML cannot distinguish 0 from unset
	BodyMaxBytes   int64           `toml:"body_max_bytes"`
	AllowedOrigins []string        `toml:"allowed_origins"`
	RateLimit      RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// DownloadConfig holds settings for the download proxy and its resolver.
type DownloadConfig struct {
	ConnectTimeoutSeconds int    `toml:"connect_timeout_seconds"`
	IdleConnections       int    `toml:"idle_connections"`
	MaxRedirects          int    `toml:"max_redirects"`
	ResolvConf            string `toml:"resolv_conf"`
	DNSCacheTTLSeconds    int    `toml:"dns_cache_ttl_seconds"` // negative disables the cache
	DNSCacheSize          int    `toml:"dns_cache_size"`
}

// OpenVGDBConfig points at the game metadata database.
type OpenVGDBConfig struct {
	Path string `toml:"path"`
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
// /etc/eclipse-api/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
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
	if cli.OpenVGDB != "" {
		c.OpenVGDB.Path = cli.OpenVGDB
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	if c.OpenVGDB.Path == "" {
		return fmt.Errorf("openvgdb.path is required")
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}
	for _, origin := range c.Server.AllowedOrigins {
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("server.allowed_origins entry %q must be an http(s) origin", origin)
		}
	}

	// The connect timeout bounds how long a hostile target can hold a dial slot.
	if c.Download.ConnectTimeoutSeconds < 0 || c.Download.ConnectTimeoutSeconds > 60 {
		return fmt.Errorf("download.connect_timeout_seconds must be 0–60; got %d", c.Download.ConnectTimeoutSeconds)
	}
	if c.Download.IdleConnections < 0 {
		return fmt.Errorf("download.idle_connections must be non-negative; got %d", c.Download.IdleConnections)
	}
	if c.Download.MaxRedirects < 0 {
		return fmt.Errorf("download.max_redirects must be non-negative; got %d", c.Download.MaxRedirects)
	}
	if c.Download.DNSCacheSize < 0 {
		return fmt.Errorf("download.dns_cache_size must be non-negative; got %d", c.Download.DNSCacheSize)
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
		if p == "/" {
			return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, "/")
		}
		for _, reserved := range ReservedRoutes {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// ReservedRoutes are the paths served by the API itself.
var ReservedRoutes = []string{"/download", "/boxart", "/healthz"}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8001
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 64 * 1024 // GET-only API
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = append([]string(nil), defaultAllowedOrigins...)
	}
	if c.Download.ConnectTimeoutSeconds == 0 {
		c.Download.ConnectTimeoutSeconds = 5
	}
	if c.Download.IdleConnections == 0 {
		c.Download.IdleConnections = 100
	}
	if c.Download.MaxRedirects == 0 {
		c.Download.MaxRedirects = 10
	}
	if c.Download.ResolvConf == "" {
		c.Download.ResolvConf = "/etc/resolv.conf"
	}
	if c.Download.DNSCacheTTLSeconds == 0 {
		c.Download.DNSCacheTTLSeconds = 30
	}
	if c.Download.DNSCacheSize == 0 {
		c.Download.DNSCacheSize = 1024
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

// ConnectTimeout returns the dial timeout for upstream connections.
func (c *DownloadConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

// DNSCacheTTL returns the lifetime of cached resolutions; zero means caching is off.
func (c *DownloadConfig) DNSCacheTTL() time.Duration {
	if c.DNSCacheTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.DNSCacheTTLSeconds) * time.Second
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
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// WarnPermissions logs a warning if the config file is writable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o022 != 0 {
		logger.Warn("config file is writable by group/others; consider chmod 644",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
