// Package config loads the agentdeck config file from the home directory
// (AGENTDECK_HOME, default ~/.agentdeck) and applies defaults.
package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// TailConfig tunes the file-tail subsystem.
type TailConfig struct {
	// MaxInitialBytes caps the content delivered in initial and replace
	// events. Files larger than this are truncated from the front (the
	// newest bytes win, matching log-viewing expectations).
	MaxInitialBytes int64 `yaml:"max_initial_bytes"`

	// DebounceMillis coalesces bursts of filesystem change notifications
	// before the tailer reads the file.
	DebounceMillis int `yaml:"debounce_millis"`
}

// FilesConfig tunes the file-tree and content-fetch endpoints.
type FilesConfig struct {
	// MaxFileBytes caps content returned by the file fetch endpoint;
	// larger files come back truncated with the flag set.
	MaxFileBytes int64 `yaml:"max_file_bytes"`
}

// SessionsConfig tunes the session registry.
type SessionsConfig struct {
	// IdleTTLMinutes is how long a session with an exited process may sit
	// without activity before the sweeper removes it. 0 disables sweeping.
	IdleTTLMinutes int `yaml:"idle_ttl_minutes"`

	// SweepSchedule is a 5-field cron expression for the sweep. Empty uses
	// the default ("*/10 * * * *").
	SweepSchedule string `yaml:"sweep_schedule"`
}

// TerminalConfig tunes the PTY manager.
type TerminalConfig struct {
	// Shell is the command started in each session's PTY. Empty uses $SHELL
	// then /bin/bash.
	Shell string `yaml:"shell"`

	// ScrollbackBytes is the size of the per-session output retention
	// buffer replayed on reconnect.
	ScrollbackBytes int `yaml:"scrollback_bytes"`
}

// TelemetryConfig mirrors internal/otel's settings in the config file.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	BindAddr string `yaml:"bind_addr"`
	LogLevel string `yaml:"log_level"`

	Tail      TailConfig      `yaml:"tail"`
	Files     FilesConfig     `yaml:"files"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Terminal  TerminalConfig  `yaml:"terminal"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

func defaultConfig() Config {
	return Config{
		BindAddr: "127.0.0.1:18790",
		LogLevel: "info",
		Tail: TailConfig{
			MaxInitialBytes: 1 << 20,
			DebounceMillis:  50,
		},
		Files: FilesConfig{
			MaxFileBytes: 1 << 20,
		},
		Sessions: SessionsConfig{
			IdleTTLMinutes: 24 * 60,
			SweepSchedule:  "*/10 * * * *",
		},
		Terminal: TerminalConfig{
			ScrollbackBytes: 256 << 10,
		},
	}
}

// HomeDir resolves the agentdeck data directory.
func HomeDir() string {
	if override := os.Getenv("AGENTDECK_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".agentdeck")
}

// Load reads config.yaml from the home directory. A missing file yields the
// defaults; a malformed file is an error.
func Load() (Config, error) {
	return LoadFrom(HomeDir())
}

// LoadFrom reads config.yaml from the given directory, creating it if needed.
func LoadFrom(homeDir string) (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = homeDir

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create agentdeck home: %w", err)
	}

	configPath := filepath.Join(cfg.HomeDir, "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.BindAddr == "" {
		cfg.BindAddr = "127.0.0.1:18790"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Tail.MaxInitialBytes <= 0 {
		cfg.Tail.MaxInitialBytes = 1 << 20
	}
	if cfg.Tail.DebounceMillis <= 0 {
		cfg.Tail.DebounceMillis = 50
	}
	if cfg.Files.MaxFileBytes <= 0 {
		cfg.Files.MaxFileBytes = 1 << 20
	}
	if strings.TrimSpace(cfg.Sessions.SweepSchedule) == "" {
		cfg.Sessions.SweepSchedule = "*/10 * * * *"
	}
	if cfg.Terminal.ScrollbackBytes <= 0 {
		cfg.Terminal.ScrollbackBytes = 256 << 10
	}
	if cfg.Terminal.Shell == "" {
		if sh := os.Getenv("SHELL"); sh != "" {
			cfg.Terminal.Shell = sh
		} else {
			cfg.Terminal.Shell = "/bin/bash"
		}
	}
}

// Fingerprint returns a stable hash of the effective config, exposed on the
// health endpoint so operators can tell which config a daemon is running.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "bind=%s|log=%s|tail=%d/%d|files=%d|ttl=%d|sweep=%s|shell=%s|scrollback=%d",
		c.BindAddr, c.LogLevel, c.Tail.MaxInitialBytes, c.Tail.DebounceMillis,
		c.Files.MaxFileBytes, c.Sessions.IdleTTLMinutes, c.Sessions.SweepSchedule,
		c.Terminal.Shell, c.Terminal.ScrollbackBytes)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}
