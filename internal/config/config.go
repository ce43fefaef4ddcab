// Package config provides dynamic configuration management for miniprobe.
// It uses Viper to load settings from files, environment variables, and CLI flags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for miniprobe.
type Config struct {
	// ── Server ───────────────────────────────────────────────────────────────
	ServerHost string `mapstructure:"server_host"`
	// DataPort: session creation + sample ingestion from agents.
	DataPort int `mapstructure:"data_port"`
	// ControlPort: JWT-protected operator API.
	ControlPort int    `mapstructure:"control_port"`
	DBPath      string `mapstructure:"db_path"`
	DBDriver    string `mapstructure:"db_driver"` // only "sqlite"

	// ScrapeInterval is handed to agents when they open a session.
	ScrapeInterval int `mapstructure:"scrape_interval_seconds"`

	// ── Security ──────────────────────────────────────────────────────────────
	JWTSecret string `mapstructure:"jwt_secret"`
	AdminUser string `mapstructure:"admin_user"`
	AdminPass string `mapstructure:"admin_pass"`

	// ── Retention ─────────────────────────────────────────────────────────────
	// ReaperSchedule is a cron spec such as "@every 10m"; empty disables the reaper.
	ReaperSchedule string `mapstructure:"reaper_schedule"`
	ReaperGrace    int    `mapstructure:"reaper_grace_minutes"`

	// ── Logging ───────────────────────────────────────────────────────────────
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // console | json

	// ── Agent ────────────────────────────────────────────────────────────────
	AgentServerAddr string `mapstructure:"agent_server_addr"`
	AgentToken      string `mapstructure:"agent_token"`
	// AgentInterface is the NIC to report; empty picks the first active non-loopback one.
	AgentInterface string `mapstructure:"agent_interface"`
	AgentTLS       bool   `mapstructure:"agent_tls"`
	AgentRetryMin  int    `mapstructure:"agent_retry_min_seconds"`
	AgentRetryMax  int    `mapstructure:"agent_retry_max_seconds"`
}

// ReaperGraceDuration returns the grace period past the liveness window.
func (c *Config) ReaperGraceDuration() time.Duration {
	return time.Duration(c.ReaperGrace) * time.Minute
}

// Load reads config from file (explicit path, ./config.yaml or
// ~/.miniprobe/config.yaml) and falls back to smart defaults. Environment
// variables with prefix PROBE_ override file values.
func Load(path string) (*Config, error) {
	v := viper.New()

	// --- Smart Defaults ---
	v.SetDefault("server_host", "127.0.0.1")
	v.SetDefault("data_port", 8000)
	v.SetDefault("control_port", 8001)
	v.SetDefault("db_path", "miniprobe.db")
	v.SetDefault("db_driver", "sqlite")
	v.SetDefault("scrape_interval_seconds", 5)

	// Security defaults. MUST be overridden in production via config.yaml or env vars.
	v.SetDefault("jwt_secret", "mp-dev-secret-change-me")
	v.SetDefault("admin_user", "admin")
	v.SetDefault("admin_pass", "admin")

	v.SetDefault("reaper_schedule", "")
	v.SetDefault("reaper_grace_minutes", 60)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")

	v.SetDefault("agent_server_addr", "127.0.0.1:8000")
	v.SetDefault("agent_token", "")
	v.SetDefault("agent_interface", "")
	v.SetDefault("agent_tls", false)
	v.SetDefault("agent_retry_min_seconds", 1)
	v.SetDefault("agent_retry_max_seconds", 300)

	// --- Config file ---
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.miniprobe")
		if err := v.ReadInConfig(); err != nil {
			// config file is optional; ignore "not found" errors
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	// --- Environment Variables ---
	v.SetEnvPrefix("PROBE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DBDriver != "sqlite" && c.DBDriver != "" {
		return fmt.Errorf("unsupported db_driver %q (use 'sqlite')", c.DBDriver)
	}
	if c.ScrapeInterval <= 0 {
		return fmt.Errorf("scrape_interval_seconds must be positive, got %d", c.ScrapeInterval)
	}
	if c.AgentRetryMin <= 0 || c.AgentRetryMax < c.AgentRetryMin {
		return fmt.Errorf("agent retry interval must satisfy 0 < min <= max (min=%d max=%d)",
			c.AgentRetryMin, c.AgentRetryMax)
	}
	return nil
}
