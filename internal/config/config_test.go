package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dantte-lp/godmtp/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.TCP.Addr != ":31000" {
		t.Errorf("TCP.Addr = %q, want %q", cfg.TCP.Addr, ":31000")
	}

	if cfg.UDP.Addr != ":31000" {
		t.Errorf("UDP.Addr = %q, want %q", cfg.UDP.Addr, ":31000")
	}

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}

	if cfg.Store.Backend != "file" {
		t.Errorf("Store.Backend = %q, want %q", cfg.Store.Backend, "file")
	}

	if cfg.Limits.LimitInterval != 30*time.Minute {
		t.Errorf("Limits.LimitInterval = %v, want %v", cfg.Limits.LimitInterval, 30*time.Minute)
	}

	if cfg.Limits.ProfileBytes != 32 {
		t.Errorf("Limits.ProfileBytes = %d, want %d", cfg.Limits.ProfileBytes, 32)
	}

	if cfg.Session.ReadTimeout != 60*time.Second {
		t.Errorf("Session.ReadTimeout = %v, want %v", cfg.Session.ReadTimeout, 60*time.Second)
	}

	// Defaults must pass validation.
	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
tcp:
  addr: ":32000"
udp:
  addr: ":32001"
metrics:
  addr: ":9200"
  path: "/custom-metrics"
log:
  level: "debug"
  format: "text"
store:
  backend: "sqlite"
  sqlite:
    path: "/tmp/test.db"
limits:
  max_connections: 10
  max_connections_per_minute: 2
  limit_interval: "1h"
  max_events: 50
  profile_bytes: 30
session:
  read_timeout: "30s"
  max_events_per_block: 16
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.TCP.Addr != ":32000" {
		t.Errorf("TCP.Addr = %q, want %q", cfg.TCP.Addr, ":32000")
	}

	if cfg.UDP.Addr != ":32001" {
		t.Errorf("UDP.Addr = %q, want %q", cfg.UDP.Addr, ":32001")
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}

	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}

	if cfg.Store.Backend != "sqlite" {
		t.Errorf("Store.Backend = %q, want %q", cfg.Store.Backend, "sqlite")
	}

	if cfg.Store.SQLite.Path != "/tmp/test.db" {
		t.Errorf("Store.SQLite.Path = %q, want %q", cfg.Store.SQLite.Path, "/tmp/test.db")
	}

	if cfg.Limits.MaxConnections != 10 {
		t.Errorf("Limits.MaxConnections = %d, want 10", cfg.Limits.MaxConnections)
	}

	if cfg.Limits.LimitInterval != time.Hour {
		t.Errorf("Limits.LimitInterval = %v, want %v", cfg.Limits.LimitInterval, time.Hour)
	}

	if cfg.Session.ReadTimeout != 30*time.Second {
		t.Errorf("Session.ReadTimeout = %v, want %v", cfg.Session.ReadTimeout, 30*time.Second)
	}

	if cfg.Session.MaxEventsPerBlock != 16 {
		t.Errorf("Session.MaxEventsPerBlock = %d, want 16", cfg.Session.MaxEventsPerBlock)
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	// Partial YAML: only override tcp.addr and log.level.
	// Everything else should inherit from defaults.
	yamlContent := `
tcp:
  addr: ":33000"
log:
  level: "warn"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	// Overridden values.
	if cfg.TCP.Addr != ":33000" {
		t.Errorf("TCP.Addr = %q, want %q", cfg.TCP.Addr, ":33000")
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}

	// Default values should be preserved.
	if cfg.UDP.Addr != ":31000" {
		t.Errorf("UDP.Addr = %q, want default %q", cfg.UDP.Addr, ":31000")
	}

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want default %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want default %q", cfg.Log.Format, "json")
	}

	if cfg.Store.Backend != "file" {
		t.Errorf("Store.Backend = %q, want default %q", cfg.Store.Backend, "file")
	}

	if cfg.Limits.MaxEvents != 200 {
		t.Errorf("Limits.MaxEvents = %d, want default 200", cfg.Limits.MaxEvents)
	}

	if cfg.Session.MaxEventsPerBlock != 32 {
		t.Errorf("Session.MaxEventsPerBlock = %d, want default 32", cfg.Session.MaxEventsPerBlock)
	}
}

func TestLimitsConversion(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	limits := cfg.Limits.Limits()

	if limits.MaxSimplexConn != cfg.Limits.MaxConnections {
		t.Errorf("MaxSimplexConn = %d, want %d", limits.MaxSimplexConn, cfg.Limits.MaxConnections)
	}

	if limits.MaxDuplexConnPerMin != cfg.Limits.MaxDuplexConnectionsPerMinute {
		t.Errorf("MaxDuplexConnPerMin = %d, want %d",
			limits.MaxDuplexConnPerMin, cfg.Limits.MaxDuplexConnectionsPerMinute)
	}

	if limits.MaxAllowedEvents != cfg.Limits.MaxEvents {
		t.Errorf("MaxAllowedEvents = %d, want %d", limits.MaxAllowedEvents, cfg.Limits.MaxEvents)
	}

	if limits.LimitInterval != cfg.Limits.LimitInterval {
		t.Errorf("LimitInterval = %v, want %v", limits.LimitInterval, cfg.Limits.LimitInterval)
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "empty tcp addr",
			modify: func(cfg *config.Config) {
				cfg.TCP.Addr = ""
			},
			wantErr: config.ErrEmptyTCPAddr,
		},
		{
			name: "empty udp addr",
			modify: func(cfg *config.Config) {
				cfg.UDP.Addr = ""
			},
			wantErr: config.ErrEmptyUDPAddr,
		},
		{
			name: "bad log format",
			modify: func(cfg *config.Config) {
				cfg.Log.Format = "xml"
			},
			wantErr: config.ErrInvalidLogFormat,
		},
		{
			name: "bad store backend",
			modify: func(cfg *config.Config) {
				cfg.Store.Backend = "postgres"
			},
			wantErr: config.ErrInvalidBackend,
		},
		{
			name: "file backend without dir",
			modify: func(cfg *config.Config) {
				cfg.Store.Backend = "file"
				cfg.Store.File.Dir = ""
			},
			wantErr: config.ErrEmptyStoreDir,
		},
		{
			name: "sqlite backend without path",
			modify: func(cfg *config.Config) {
				cfg.Store.Backend = "sqlite"
				cfg.Store.SQLite.Path = ""
			},
			wantErr: config.ErrEmptyStorePath,
		},
		{
			name: "negative connection limit",
			modify: func(cfg *config.Config) {
				cfg.Limits.MaxConnections = -1
			},
			wantErr: config.ErrInvalidLimit,
		},
		{
			name: "negative limit interval",
			modify: func(cfg *config.Config) {
				cfg.Limits.LimitInterval = -time.Minute
			},
			wantErr: config.ErrInvalidLimit,
		},
		{
			name: "zero profile bytes",
			modify: func(cfg *config.Config) {
				cfg.Limits.ProfileBytes = 0
			},
			wantErr: config.ErrInvalidProfileBytes,
		},
		{
			name: "negative read timeout",
			modify: func(cfg *config.Config) {
				cfg.Session.ReadTimeout = -time.Second
			},
			wantErr: config.ErrInvalidReadTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "INFO", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "WARN", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "Error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
		{input: "trace", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/config.yml")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

// writeTemp creates a temporary YAML file and returns its path.
// The file is automatically cleaned up when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "godmtp.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
