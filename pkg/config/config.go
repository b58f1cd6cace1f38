// Package config provides configuration loading, validation, and defaults for botpilot.
// It handles JSON config files, .env files, environment variable substitution and overrides.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Persistence backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Defaults.
const (
	DefaultDataDirName    = ".botpilot"
	DefaultPollIntervalMS = 2000
	DefaultStopGraceSec   = 5
	DefaultAPITimeoutSec  = 15
	DefaultWebAddr        = "127.0.0.1:8765"
	DefaultRedisAddr      = "127.0.0.1:6379"
	DefaultRedisPrefix    = "botpilot"
	DefaultLogKeep        = 10
	DefaultHistoryLimit   = 50

	// EnvPrefix prefixes every environment override, e.g. BOTPILOT_API_URL.
	EnvPrefix = "BOTPILOT_"
)

// Config is the complete botpilot configuration.
type Config struct {
	API           APIConfig          `json:"api"`
	Runtime       RuntimeConfig      `json:"runtime"`
	Persistence   PersistenceConfig  `json:"persistence"`
	WebUI         WebUIConfig        `json:"webui"`
	Notifications NotificationConfig `json:"notifications"`
	EventLog      EventLogConfig     `json:"event_log"`
	Logs          LogConfig          `json:"logs"`
	DataDir       string             `json:"data_dir"`
}

// APIConfig points at the backend that publishes profiles and issues runtime tokens.
type APIConfig struct {
	URL        string `json:"url"`
	Key        string `json:"key"`
	TimeoutSec int    `json:"timeout_sec"`
}

// RuntimeConfig describes the local automation runtime.
type RuntimeConfig struct {
	Command        string   `json:"command"`
	Dir            string   `json:"dir"`
	ConfigPath     string   `json:"config_path"`
	StateDir       string   `json:"state_dir"`
	Args           []string `json:"args,omitempty"`
	PollIntervalMS int      `json:"poll_interval_ms"`
	StopGraceSec   int      `json:"stop_grace_sec"`
}

// PersistenceConfig selects where totals and session history live.
type PersistenceConfig struct {
	Backend      string      `json:"backend"`
	SQLitePath   string      `json:"sqlite_path"`
	Redis        RedisConfig `json:"redis"`
	HistoryLimit int         `json:"history_limit"`
}

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Addr       string `json:"addr"`
	Password   string `json:"password"`
	Prefix     string `json:"prefix"`
	DB         int    `json:"db"`
	SessionTTL int    `json:"session_ttl_hours"`
}

// WebUIConfig configures the HTTP server.
type WebUIConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
}

// NotificationConfig configures session-end notifications.
type NotificationConfig struct {
	WebhookURL string `json:"webhook_url"`
	Desktop    bool   `json:"desktop"`
}

// EventLogConfig configures the status event audit log.
type EventLogConfig struct {
	Dir      string `json:"dir"`
	Disabled bool   `json:"disabled"`
}

// LogConfig configures the process log file.
type LogConfig struct {
	Dir   string `json:"dir"`
	Keep  int    `json:"keep"`
	Debug bool   `json:"debug"`
}

// PollInterval returns the liveness poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Runtime.PollIntervalMS) * time.Millisecond
}

// StopGrace returns how long a stop waits before killing the runtime.
func (c *Config) StopGrace() time.Duration {
	return time.Duration(c.Runtime.StopGraceSec) * time.Second
}

// APITimeout returns the backend request timeout.
func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.API.TimeoutSec) * time.Second
}

// SessionTTL returns the redis session record TTL, zero meaning no expiry.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Persistence.Redis.SessionTTL) * time.Hour
}

// DefaultDataDir returns ~/.botpilot, or .botpilot when the home directory is unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return DefaultDataDirName
	}
	return filepath.Join(home, DefaultDataDirName)
}

// applyDefaults sets default values for missing configuration. Paths default
// to locations under DataDir.
func applyDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir()
	}
	if cfg.API.TimeoutSec <= 0 {
		cfg.API.TimeoutSec = DefaultAPITimeoutSec
	}

	if cfg.Runtime.ConfigPath == "" {
		cfg.Runtime.ConfigPath = filepath.Join(cfg.DataDir, "runtime", "config.yaml")
	}
	if cfg.Runtime.StateDir == "" {
		cfg.Runtime.StateDir = filepath.Join(cfg.DataDir, "state")
	}
	if cfg.Runtime.PollIntervalMS <= 0 {
		cfg.Runtime.PollIntervalMS = DefaultPollIntervalMS
	}
	if cfg.Runtime.StopGraceSec <= 0 {
		cfg.Runtime.StopGraceSec = DefaultStopGraceSec
	}

	cfg.Persistence.Backend = strings.ToLower(strings.TrimSpace(cfg.Persistence.Backend))
	if cfg.Persistence.Backend == "" {
		cfg.Persistence.Backend = BackendSQLite
	}
	if cfg.Persistence.SQLitePath == "" {
		cfg.Persistence.SQLitePath = filepath.Join(cfg.DataDir, "botpilot.db")
	}
	if cfg.Persistence.HistoryLimit <= 0 {
		cfg.Persistence.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.Persistence.Redis.Addr == "" {
		cfg.Persistence.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Persistence.Redis.Prefix == "" {
		cfg.Persistence.Redis.Prefix = DefaultRedisPrefix
	}

	if cfg.WebUI.Addr == "" {
		cfg.WebUI.Addr = DefaultWebAddr
	}
	if cfg.EventLog.Dir == "" {
		cfg.EventLog.Dir = filepath.Join(cfg.DataDir, "events")
	}
	if cfg.Logs.Dir == "" {
		cfg.Logs.Dir = filepath.Join(cfg.DataDir, "logs")
	}
	if cfg.Logs.Keep <= 0 {
		cfg.Logs.Keep = DefaultLogKeep
	}
}

func validateConfig(cfg *Config) error {
	if cfg.API.URL == "" {
		return fmt.Errorf("api.url is required")
	}
	u, err := url.Parse(cfg.API.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api.url must be an http(s) URL, got %q", cfg.API.URL)
	}

	switch cfg.Persistence.Backend {
	case BackendSQLite, BackendRedis:
	default:
		return fmt.Errorf("persistence.backend must be %q or %q, got %q", BackendSQLite, BackendRedis, cfg.Persistence.Backend)
	}
	if cfg.Persistence.Redis.DB < 0 {
		return fmt.Errorf("persistence.redis.db must not be negative")
	}
	if cfg.Persistence.Redis.SessionTTL < 0 {
		return fmt.Errorf("persistence.redis.session_ttl_hours must not be negative")
	}

	if cfg.Notifications.WebhookURL != "" {
		if u, err := url.Parse(cfg.Notifications.WebhookURL); err != nil || u.Host == "" {
			return fmt.Errorf("notifications.webhook_url is not a valid URL: %q", cfg.Notifications.WebhookURL)
		}
	}
	return nil
}
