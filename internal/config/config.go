package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Timer     TimerConfig     `yaml:"timer"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	MCP       MCPConfig       `yaml:"mcp"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type StorageConfig struct {
	Path         string `yaml:"path"`
	FallbackPath string `yaml:"fallback_path"`
}

type TimerConfig struct {
	DebounceMs      int `yaml:"debounce_ms"`
	FrameIntervalMs int `yaml:"frame_interval_ms"`
}

type TailscaleConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Hostname string `yaml:"hostname"`
	StateDir string `yaml:"state_dir"`
}

type MCPConfig struct {
	Enabled *bool `yaml:"enabled"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file sets a value.
func Default() *Config {
	enabled := true
	return &Config{
		Server:    ServerConfig{Host: "127.0.0.1", Port: 8420},
		Storage:   StorageConfig{Path: "data/splits.db", FallbackPath: "data/fallback.json"},
		Timer:     TimerConfig{DebounceMs: 500, FrameIntervalMs: 16},
		Tailscale: TailscaleConfig{Hostname: "splits", StateDir: "data/tsnet"},
		MCP:       MCPConfig{Enabled: &enabled},
		Log:       LogConfig{Level: "info"},
	}
}

// Load reads config from a YAML file over the defaults, then applies
// environment variable overrides. An empty path skips the file.
// Env vars use the prefix SPLITS_ and underscore-separated paths:
//
//	SPLITS_SERVER_HOST, SPLITS_SERVER_PORT,
//	SPLITS_STORAGE_PATH, SPLITS_STORAGE_FALLBACK_PATH,
//	SPLITS_TIMER_DEBOUNCE_MS, SPLITS_TAILSCALE_ENABLED,
//	SPLITS_TAILSCALE_HOSTNAME, SPLITS_MCP_ENABLED, SPLITS_LOG_LEVEL
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SPLITS_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SPLITS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SPLITS_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("SPLITS_STORAGE_FALLBACK_PATH"); v != "" {
		cfg.Storage.FallbackPath = v
	}
	if v := os.Getenv("SPLITS_TIMER_DEBOUNCE_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Timer.DebounceMs = ms
		}
	}
	if v := os.Getenv("SPLITS_TAILSCALE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Tailscale.Enabled = b
		}
	}
	if v := os.Getenv("SPLITS_TAILSCALE_HOSTNAME"); v != "" {
		cfg.Tailscale.Hostname = v
	}
	if v := os.Getenv("SPLITS_MCP_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MCP.Enabled = &b
		}
	}
	if v := os.Getenv("SPLITS_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1-65535, got %d", c.Server.Port)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	if c.Storage.FallbackPath == "" {
		return fmt.Errorf("storage.fallback_path is required")
	}
	if c.Timer.DebounceMs <= 0 {
		return fmt.Errorf("timer.debounce_ms must be positive")
	}
	if c.Timer.FrameIntervalMs <= 0 {
		return fmt.Errorf("timer.frame_interval_ms must be positive")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// MCPEnabled reports whether the MCP endpoint is served.
func (c *Config) MCPEnabled() bool {
	return c.MCP.Enabled == nil || *c.MCP.Enabled
}

// DebounceWindow returns timer.debounce_ms as a duration.
func (t TimerConfig) DebounceWindow() time.Duration {
	return time.Duration(t.DebounceMs) * time.Millisecond
}

// FrameInterval returns timer.frame_interval_ms as a duration.
func (t TimerConfig) FrameInterval() time.Duration {
	return time.Duration(t.FrameIntervalMs) * time.Millisecond
}

// SlogLevel returns the configured log level.
func (l LogConfig) SlogLevel() slog.Level {
	lvl, _ := parseLevel(l.Level)
	return lvl
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log.level %q is not one of debug, info, warn, error", s)
	}
}
