// Package config loads nudged's configuration from config.yaml in the
// nudge home directory. Unknown keys are ignored and invalid values fall
// back to defaults; a malformed file never aborts startup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/basket/nudge/internal/otel"
)

// TelegramConfig configures the optional operator notification channel.
type TelegramConfig struct {
	Token   string  `yaml:"token"`
	ChatIDs []int64 `yaml:"chat_ids"`
	Enabled bool    `yaml:"enabled"`
	// NotifyOnSend also pushes a message for every reminder sent, not just
	// loop-protection pauses.
	NotifyOnSend bool `yaml:"notify_on_send"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	// Reminder policy.
	Enabled             bool     `yaml:"enabled"`
	TriggerStatuses     []string `yaml:"trigger_statuses"`
	MaxPerTodo          int      `yaml:"max_per_todo"`
	IdleDelaySeconds    int      `yaml:"idle_delay_seconds"`
	CooldownSeconds     int      `yaml:"cooldown_seconds"`
	MessageTemplate     string   `yaml:"message_template"`
	ShowNotifications   bool     `yaml:"show_notifications"`
	Synthetic           bool     `yaml:"synthetic"`
	DebugLogging        bool     `yaml:"debug_logging"`
	CancelOnAnyActivity bool     `yaml:"cancel_on_any_activity"`

	// SweepCron is a standard 5-field cron expression for the fallback
	// sweep; empty disables it.
	SweepCron string `yaml:"sweep_cron"`

	// Agent host connection.
	HostURL   string `yaml:"host_url"`
	HostToken string `yaml:"host_token"`

	LogLevel string `yaml:"log_level"`

	Telemetry otel.Config    `yaml:"telemetry"`
	Channels  ChannelsConfig `yaml:"channels"`

	// LoadWarning carries a config file problem that was recovered from by
	// falling back to defaults. Logged by the caller, never fatal.
	LoadWarning string `yaml:"-"`
}

// IdleDelay returns the delay between an idle event and its evaluation.
func (c Config) IdleDelay() time.Duration {
	return time.Duration(c.IdleDelaySeconds) * time.Second
}

// Cooldown returns the minimum interval between injections. Zero disables it.
func (c Config) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

func defaultConfig() Config {
	return Config{
		Enabled:           true,
		TriggerStatuses:   []string{"pending", "in_progress"},
		MaxPerTodo:        3,
		IdleDelaySeconds:  15,
		CooldownSeconds:   60,
		ShowNotifications: true,
		Synthetic:         true,
		HostURL:           "http://127.0.0.1:4096",
		LogLevel:          "info",
	}
}

// HomeDir returns the nudge data directory, honoring the NUDGE_HOME override.
func HomeDir() string {
	if override := os.Getenv("NUDGE_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".nudge")
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Load reads config.yaml over the defaults. A missing file is fine; a
// malformed one produces the defaults plus a LoadWarning.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create nudge home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	switch {
	case err != nil && !os.IsNotExist(err):
		cfg.LoadWarning = fmt.Sprintf("read config.yaml: %v", err)
	case err == nil && len(data) > 0:
		if uerr := yaml.Unmarshal(data, &cfg); uerr != nil {
			// Partial unmarshal may have written some fields; rebuild from
			// defaults so a broken file cannot half-apply.
			cfg = defaultConfig()
			cfg.HomeDir = HomeDir()
			cfg.LoadWarning = fmt.Sprintf("parse config.yaml: %v", uerr)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	if len(cfg.TriggerStatuses) == 0 {
		cfg.TriggerStatuses = []string{"pending", "in_progress"}
	}
	if cfg.MaxPerTodo <= 0 {
		cfg.MaxPerTodo = 3
	}
	if cfg.IdleDelaySeconds <= 0 {
		cfg.IdleDelaySeconds = 15
	}
	if cfg.CooldownSeconds < 0 {
		cfg.CooldownSeconds = 60
	}
	if strings.TrimSpace(cfg.HostURL) == "" {
		cfg.HostURL = "http://127.0.0.1:4096"
	}
	cfg.HostURL = strings.TrimRight(cfg.HostURL, "/")
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.DebugLogging {
		cfg.LogLevel = "debug"
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("NUDGE_HOST_URL"); raw != "" {
		cfg.HostURL = raw
	}
	if raw := os.Getenv("NUDGE_HOST_TOKEN"); raw != "" {
		cfg.HostToken = raw
	}
	if raw := os.Getenv("NUDGE_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("NUDGE_IDLE_DELAY_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.IdleDelaySeconds = v
		}
	}
	if raw := os.Getenv("NUDGE_COOLDOWN_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.CooldownSeconds = v
		}
	}
	if raw := os.Getenv("NUDGE_DISABLED"); raw == "1" || strings.EqualFold(raw, "true") {
		cfg.Enabled = false
	}
	if raw := os.Getenv("TELEGRAM_TOKEN"); raw != "" {
		cfg.Channels.Telegram.Token = raw
	}
}
