// Package config provides configuration types and defaults for cockpit.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zjrosen/cockpit/internal/log"
	"github.com/zjrosen/cockpit/internal/netutil"
	"github.com/zjrosen/cockpit/internal/terminal"
	"github.com/zjrosen/cockpit/internal/tracing"
)

// Config holds all configuration options for cockpit.
type Config struct {
	Session SessionConfig  `mapstructure:"session" yaml:"session"`
	Events  EventsConfig   `mapstructure:"events" yaml:"events"`
	Bridge  BridgeConfig   `mapstructure:"bridge" yaml:"bridge"`
	API     APIConfig      `mapstructure:"api" yaml:"api"`
	Tracing tracing.Config `mapstructure:"tracing" yaml:"tracing"`
	Journal JournalConfig  `mapstructure:"journal" yaml:"journal"`
	Log     LogConfig      `mapstructure:"log" yaml:"log"`
}

// SessionConfig holds defaults for spawned sessions.
type SessionConfig struct {
	// Shell runs commands given without explicit arguments.
	Shell string `mapstructure:"shell" yaml:"shell"`
	Rows  int    `mapstructure:"rows" yaml:"rows"`
	Cols  int    `mapstructure:"cols" yaml:"cols"`
	// Scrollback is the number of evicted lines kept per session.
	Scrollback int `mapstructure:"scrollback" yaml:"scrollback"`
	// CloseGrace is how long a hung-up child gets before SIGKILL.
	CloseGrace time.Duration `mapstructure:"close_grace" yaml:"close_grace"`
	// TombstoneTTL is how long removed ids answer "not running".
	TombstoneTTL time.Duration `mapstructure:"tombstone_ttl" yaml:"tombstone_ttl"`
}

// EventsConfig configures the event stream server.
type EventsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
	MaxLine int    `mapstructure:"max_line" yaml:"max_line"`
}

// BridgeConfig configures the headless bridge listener.
type BridgeConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Network string `mapstructure:"network" yaml:"network"` // "unix" (default) or "tcp"
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// APIConfig configures the read-only HTTP API.
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// JournalConfig configures the session journal.
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// LogConfig configures the debug log.
type LogConfig struct {
	Debug bool   `mapstructure:"debug" yaml:"debug"`
	Path  string `mapstructure:"path" yaml:"path"`
	Level string `mapstructure:"level" yaml:"level"`
}

// Dir returns ~/.config/cockpit, or "" if the home dir is unavailable.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "cockpit")
}

// DefaultTracesFilePath returns ~/.config/cockpit/traces/traces.jsonl.
func DefaultTracesFilePath() string {
	if dir := Dir(); dir != "" {
		return filepath.Join(dir, "traces", "traces.jsonl")
	}
	return ""
}

// DefaultJournalPath returns ~/.config/cockpit/journal.db.
func DefaultJournalPath() string {
	if dir := Dir(); dir != "" {
		return filepath.Join(dir, "journal.db")
	}
	return ""
}

// DefaultBridgeSocket returns a per-user socket path in the temp dir.
func DefaultBridgeSocket() string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("cockpit-%d.sock", os.Getuid()))
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	tc := tracing.DefaultConfig()
	tc.FilePath = DefaultTracesFilePath()
	return Config{
		Session: SessionConfig{
			Shell:        "/bin/sh",
			Rows:         24,
			Cols:         80,
			Scrollback:   terminal.DefaultScrollback,
			CloseGrace:   2 * time.Second,
			TombstoneTTL: 10 * time.Minute,
		},
		Events: EventsConfig{
			Enabled: true,
			Addr:    "127.0.0.1:7777",
			MaxLine: 1 << 20,
		},
		Bridge: BridgeConfig{
			Enabled: true,
			Network: "unix",
			Addr:    DefaultBridgeSocket(),
		},
		API: APIConfig{
			Enabled: false,
			Addr:    "127.0.0.1:7778",
		},
		Tracing: tc,
		Journal: JournalConfig{
			Enabled: false,
			Path:    DefaultJournalPath(),
		},
		Log: LogConfig{
			Path:  "debug.log",
			Level: "debug",
		},
	}
}

// Validate checks every section and joins the problems found.
func Validate(c Config) error {
	return errors.Join(
		ValidateSession(c.Session),
		ValidateEvents(c.Events),
		ValidateBridge(c.Bridge),
		ValidateAPI(c.API),
		ValidateTracing(c.Tracing),
		ValidateJournal(c.Journal),
	)
}

// ValidateSession checks session defaults.
func ValidateSession(s SessionConfig) error {
	if s.Shell == "" {
		return fmt.Errorf("session.shell is required")
	}
	if s.Rows < 1 || s.Cols < 1 || s.Rows > 0xffff || s.Cols > 0xffff {
		return fmt.Errorf("session.rows and session.cols must be between 1 and 65535, got %dx%d", s.Rows, s.Cols)
	}
	if s.Scrollback < 0 {
		return fmt.Errorf("session.scrollback must not be negative, got %d", s.Scrollback)
	}
	if s.CloseGrace < 0 || s.TombstoneTTL < 0 {
		return fmt.Errorf("session.close_grace and session.tombstone_ttl must not be negative")
	}
	return nil
}

// ValidateEvents checks that the event server listens on loopback only.
func ValidateEvents(e EventsConfig) error {
	if !e.Enabled {
		return nil
	}
	if err := netutil.RequireLoopback(e.Addr); err != nil {
		return fmt.Errorf("events.addr: %w", err)
	}
	if e.MaxLine < 0 {
		return fmt.Errorf("events.max_line must not be negative, got %d", e.MaxLine)
	}
	return nil
}

// ValidateBridge checks the bridge listener.
func ValidateBridge(b BridgeConfig) error {
	if !b.Enabled {
		return nil
	}
	switch b.Network {
	case "unix":
		if b.Addr == "" {
			return fmt.Errorf("bridge.addr is required")
		}
	case "tcp":
		if err := netutil.RequireLoopback(b.Addr); err != nil {
			return fmt.Errorf("bridge.addr: %w", err)
		}
	default:
		return fmt.Errorf("bridge.network must be \"unix\" or \"tcp\", got %q", b.Network)
	}
	return nil
}

// ValidateAPI checks that the API listens on loopback only.
func ValidateAPI(a APIConfig) error {
	if !a.Enabled {
		return nil
	}
	if err := netutil.RequireLoopback(a.Addr); err != nil {
		return fmt.Errorf("api.addr: %w", err)
	}
	return nil
}

// ValidateJournal checks the journal path.
func ValidateJournal(j JournalConfig) error {
	if j.Enabled && j.Path == "" {
		return fmt.Errorf("journal.path is required when the journal is enabled")
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(tc tracing.Config) error {
	if tc.SampleRate < 0.0 || tc.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", tc.SampleRate)
	}

	if tc.Exporter != "" {
		switch tc.Exporter {
		case tracing.ExporterNone, tracing.ExporterFile, tracing.ExporterStdout, tracing.ExporterOTLP:
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", tc.Exporter)
		}
	}

	// Only validate path requirements when tracing is enabled
	if tc.Enabled {
		if tc.Exporter == tracing.ExporterFile && tc.FilePath == "" {
			return fmt.Errorf("tracing.file_path is required when exporter is \"file\"")
		}
		if tc.Exporter == tracing.ExporterOTLP && tc.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}
	return nil
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# Cockpit Configuration

# Defaults for spawned sessions
session:
  shell: /bin/sh        # Runs commands given without explicit arguments
  rows: 24
  cols: 80
  scrollback: 1000      # Lines kept per session once they scroll off
  close_grace: 2s       # Time between SIGHUP and SIGKILL on close
  tombstone_ttl: 10m    # Removed ids report "not running" for this long

# Workflow event stream (newline-delimited JSON over loopback TCP)
events:
  enabled: true
  addr: 127.0.0.1:7777
  # max_line: 1048576   # Longer lines are dropped

# Headless test bridge (JSON lines request/response)
bridge:
  enabled: true
  network: unix         # unix (default) or tcp (loopback only)
  # addr: /tmp/cockpit-1000.sock

# Read-only HTTP API for dashboards
api:
  enabled: false
  addr: 127.0.0.1:7778

# Session journal (SQLite)
journal:
  enabled: false
  # path: ~/.config/cockpit/journal.db

# Distributed tracing for bridge requests and event lines
# tracing:
#   enabled: false                 # Enable/disable tracing (default: false)
#   exporter: file                 # Export backend: none, file, stdout, otlp (default: file)
#   file_path: ~/.config/cockpit/traces/traces.jsonl
#   otlp_endpoint: localhost:4317  # OTLP collector endpoint (for otlp exporter)
#   sample_rate: 1.0               # Trace sampling rate 0.0-1.0 (default: 1.0)

# Debug log (also enabled by --debug or COCKPIT_DEBUG=1)
log:
  debug: false
  path: debug.log
  level: debug          # debug, info, warn, error
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
