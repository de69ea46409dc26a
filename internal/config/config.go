// Package config manages GoDMTP daemon configuration using koanf/v2.
//
// Supports YAML files and environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/dantte-lp/godmtp/internal/store"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete godmtp configuration.
type Config struct {
	TCP     TCPConfig     `koanf:"tcp"`
	UDP     UDPConfig     `koanf:"udp"`
	Metrics MetricsConfig `koanf:"metrics"`
	Log     LogConfig     `koanf:"log"`
	Store   StoreConfig   `koanf:"store"`
	Limits  LimitsConfig  `koanf:"limits"`
	Session SessionConfig `koanf:"session"`
}

// TCPConfig holds the duplex listener configuration.
type TCPConfig struct {
	// Addr is the duplex TCP listen address (e.g., ":31000").
	Addr string `koanf:"addr"`
}

// UDPConfig holds the simplex listener configuration.
type UDPConfig struct {
	// Addr is the simplex UDP listen address (e.g., ":31000").
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	// Backend is the store implementation: "file" or "sqlite".
	Backend string `koanf:"backend"`

	// File configures the YAML/CSV file backend.
	File FileStoreConfig `koanf:"file"`

	// SQLite configures the SQLite backend.
	SQLite SQLiteStoreConfig `koanf:"sqlite"`
}

// FileStoreConfig holds the file backend settings.
type FileStoreConfig struct {
	// Dir is the root directory for account, device, and event files.
	Dir string `koanf:"dir"`
}

// SQLiteStoreConfig holds the SQLite backend settings.
type SQLiteStoreConfig struct {
	// Path is the database file path.
	Path string `koanf:"path"`
}

// LimitsConfig holds the policy ceilings applied to devices created
// without explicit limits.
type LimitsConfig struct {
	// MaxConnections bounds simplex connections within the limit interval.
	MaxConnections int `koanf:"max_connections"`

	// MaxConnectionsPerMinute bounds simplex connections per minute.
	MaxConnectionsPerMinute int `koanf:"max_connections_per_minute"`

	// MaxDuplexConnections bounds duplex connections within the limit interval.
	MaxDuplexConnections int `koanf:"max_duplex_connections"`

	// MaxDuplexConnectionsPerMinute bounds duplex connections per minute.
	MaxDuplexConnectionsPerMinute int `koanf:"max_duplex_connections_per_minute"`

	// LimitInterval is the window the absolute ceilings cover.
	LimitInterval time.Duration `koanf:"limit_interval"`

	// MaxEvents bounds stored events within the limit interval.
	MaxEvents int `koanf:"max_events"`

	// ProfileBytes is the per-mode connection profile length in bytes.
	// Each byte tracks eight one-minute slots.
	ProfileBytes int `koanf:"profile_bytes"`
}

// Limits converts the configured defaults into the store's policy record.
func (lc LimitsConfig) Limits() store.Limits {
	return store.Limits{
		MaxSimplexConn:       lc.MaxConnections,
		MaxSimplexConnPerMin: lc.MaxConnectionsPerMinute,
		MaxDuplexConn:        lc.MaxDuplexConnections,
		MaxDuplexConnPerMin:  lc.MaxDuplexConnectionsPerMinute,
		MaxAllowedEvents:     lc.MaxEvents,
		LimitInterval:        lc.LimitInterval,
	}
}

// SessionConfig holds per-session transport tunables.
type SessionConfig struct {
	// ReadTimeout bounds the wait for the next client frame on duplex
	// sessions. Zero disables the deadline.
	ReadTimeout time.Duration `koanf:"read_timeout"`

	// MaxEventsPerBlock caps events between end-of-block markers.
	// Zero disables the cap.
	MaxEventsPerBlock int `koanf:"max_events_per_block"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
//
// The default policy ceilings are conservative fleet values: a tracking
// device that phones home more than four times a minute or thirty times
// in half an hour is misbehaving.
func DefaultConfig() *Config {
	return &Config{
		TCP: TCPConfig{
			Addr: ":31000",
		},
		UDP: UDPConfig{
			Addr: ":31000",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Store: StoreConfig{
			Backend: "file",
			File: FileStoreConfig{
				Dir: "/var/lib/godmtp",
			},
			SQLite: SQLiteStoreConfig{
				Path: "/var/lib/godmtp/godmtp.db",
			},
		},
		Limits: LimitsConfig{
			MaxConnections:                30,
			MaxConnectionsPerMinute:       4,
			MaxDuplexConnections:          30,
			MaxDuplexConnectionsPerMinute: 4,
			LimitInterval:                 30 * time.Minute,
			MaxEvents:                     200,
			ProfileBytes:                  32,
		},
		Session: SessionConfig{
			ReadTimeout:       60 * time.Second,
			MaxEventsPerBlock: 32,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for GoDMTP configuration.
// Variables are named GODMTP_<section>_<key>, e.g., GODMTP_TCP_ADDR.
const envPrefix = "GODMTP_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (GODMTP_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
//
// Environment variable mapping covers the single-word keys:
//
//	GODMTP_TCP_ADDR      -> tcp.addr
//	GODMTP_UDP_ADDR      -> udp.addr
//	GODMTP_METRICS_ADDR  -> metrics.addr
//	GODMTP_METRICS_PATH  -> metrics.path
//	GODMTP_LOG_LEVEL     -> log.level
//	GODMTP_LOG_FORMAT    -> log.format
//	GODMTP_STORE_BACKEND -> store.backend
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Load defaults first.
	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	// Load YAML file on top of defaults.
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	// Load environment variable overrides on top of YAML.
	// GODMTP_TCP_ADDR -> tcp.addr (strip prefix, lowercase, _ -> .).
	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms GODMTP_TCP_ADDR -> tcp.addr.
// Strips the GODMTP_ prefix, lowercases, and replaces _ with .
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"tcp.addr":                                 defaults.TCP.Addr,
		"udp.addr":                                 defaults.UDP.Addr,
		"metrics.addr":                             defaults.Metrics.Addr,
		"metrics.path":                             defaults.Metrics.Path,
		"log.level":                                defaults.Log.Level,
		"log.format":                               defaults.Log.Format,
		"store.backend":                            defaults.Store.Backend,
		"store.file.dir":                           defaults.Store.File.Dir,
		"store.sqlite.path":                        defaults.Store.SQLite.Path,
		"limits.max_connections":                   defaults.Limits.MaxConnections,
		"limits.max_connections_per_minute":        defaults.Limits.MaxConnectionsPerMinute,
		"limits.max_duplex_connections":            defaults.Limits.MaxDuplexConnections,
		"limits.max_duplex_connections_per_minute": defaults.Limits.MaxDuplexConnectionsPerMinute,
		"limits.limit_interval":                    defaults.Limits.LimitInterval.String(),
		"limits.max_events":                        defaults.Limits.MaxEvents,
		"limits.profile_bytes":                     defaults.Limits.ProfileBytes,
		"session.read_timeout":                     defaults.Session.ReadTimeout.String(),
		"session.max_events_per_block":             defaults.Session.MaxEventsPerBlock,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyTCPAddr indicates the duplex listen address is empty.
	ErrEmptyTCPAddr = errors.New("tcp.addr must not be empty")

	// ErrEmptyUDPAddr indicates the simplex listen address is empty.
	ErrEmptyUDPAddr = errors.New("udp.addr must not be empty")

	// ErrInvalidLogFormat indicates the log format is unrecognized.
	ErrInvalidLogFormat = errors.New("log.format must be json or text")

	// ErrInvalidBackend indicates the store backend is unrecognized.
	ErrInvalidBackend = errors.New("store.backend must be file or sqlite")

	// ErrEmptyStoreDir indicates the file backend has no directory.
	ErrEmptyStoreDir = errors.New("store.file.dir must not be empty")

	// ErrEmptyStorePath indicates the SQLite backend has no database path.
	ErrEmptyStorePath = errors.New("store.sqlite.path must not be empty")

	// ErrInvalidLimit indicates a negative policy ceiling.
	ErrInvalidLimit = errors.New("limits must not be negative")

	// ErrInvalidProfileBytes indicates a non-positive profile length.
	ErrInvalidProfileBytes = errors.New("limits.profile_bytes must be >= 1")

	// ErrInvalidReadTimeout indicates a negative session read timeout.
	ErrInvalidReadTimeout = errors.New("session.read_timeout must not be negative")
)

// ValidLogFormats lists the recognized log format strings.
var ValidLogFormats = map[string]bool{
	"json": true,
	"text": true,
}

// ValidBackends lists the recognized store backend strings.
var ValidBackends = map[string]bool{
	"file":   true,
	"sqlite": true,
}

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.TCP.Addr == "" {
		return ErrEmptyTCPAddr
	}

	if cfg.UDP.Addr == "" {
		return ErrEmptyUDPAddr
	}

	if !ValidLogFormats[cfg.Log.Format] {
		return fmt.Errorf("log format %q: %w", cfg.Log.Format, ErrInvalidLogFormat)
	}

	if !ValidBackends[cfg.Store.Backend] {
		return fmt.Errorf("store backend %q: %w", cfg.Store.Backend, ErrInvalidBackend)
	}

	switch cfg.Store.Backend {
	case "file":
		if cfg.Store.File.Dir == "" {
			return ErrEmptyStoreDir
		}
	case "sqlite":
		if cfg.Store.SQLite.Path == "" {
			return ErrEmptyStorePath
		}
	}

	if err := validateLimits(cfg.Limits); err != nil {
		return err
	}

	if cfg.Session.ReadTimeout < 0 {
		return ErrInvalidReadTimeout
	}

	return nil
}

// validateLimits checks the default policy ceilings for correctness.
func validateLimits(lc LimitsConfig) error {
	for key, val := range map[string]int{
		"max_connections":                   lc.MaxConnections,
		"max_connections_per_minute":        lc.MaxConnectionsPerMinute,
		"max_duplex_connections":            lc.MaxDuplexConnections,
		"max_duplex_connections_per_minute": lc.MaxDuplexConnectionsPerMinute,
		"max_events":                        lc.MaxEvents,
	} {
		if val < 0 {
			return fmt.Errorf("limits.%s: %w", key, ErrInvalidLimit)
		}
	}

	if lc.LimitInterval < 0 {
		return fmt.Errorf("limits.limit_interval: %w", ErrInvalidLimit)
	}

	if lc.ProfileBytes < 1 {
		return ErrInvalidProfileBytes
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
