// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package config loads service configuration. Values are merged in
// precedence order: built-in defaults, then a YAML config file, then
// environment fallbacks, then command line flags.
package config

import (
	"net"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Config is the full service configuration.
type Config struct {
	// Listen is the address the HTTP API binds to.
	Listen string `koanf:"listen"`
	// MetricsListen is the address the observability server binds to.
	MetricsListen string `koanf:"metrics_listen"`
	// Development relaxes error redaction and swaps SMTP for log-only mail.
	Development bool `koanf:"development"`

	Database  DatabaseConfig  `koanf:"database"`
	Log       LogConfig       `koanf:"log"`
	SMTP      SMTPConfig      `koanf:"smtp"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	// URL is a pgx connection string. The DATABASE_URL environment
	// variable is used when the file and flags leave it empty.
	URL string `koanf:"url"`
}

// LogConfig controls log output.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`
	// Format is "json" or "text".
	Format string `koanf:"format"`
}

// SMTPConfig holds mail relay settings for password recovery mail.
type SMTPConfig struct {
	Addr     string `koanf:"addr"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from"`
	// ResetBaseURL is the page reset links point at.
	ResetBaseURL string `koanf:"reset_base_url"`
}

// RateLimitConfig holds per-IP request limits. Windows are in minutes.
type RateLimitConfig struct {
	Max                int `koanf:"max"`
	WindowMinutes      int `koanf:"window_minutes"`
	LoginMax           int `koanf:"login_max"`
	LoginWindowMinutes int `koanf:"login_window_minutes"`
}

// Default returns the built-in configuration defaults.
func Default() Config {
	return Config{
		Listen:        ":8080",
		MetricsListen: "127.0.0.1:9100",
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		RateLimit: RateLimitConfig{
			Max:                100,
			WindowMinutes:      15,
			LoginMax:           5,
			LoginWindowMinutes: 30,
		},
	}
}

// Load builds a Config from defaults, the optional YAML file at path, the
// DATABASE_URL and SMTP_PASSWORD environment variables, and the given flag
// set. A nil flag set skips the flag layer.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	cfg := Default()

	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, oops.
				Code("CONFIG_FILE_INVALID").
				With("path", path).
				Wrap(err)
		}
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return Config{}, oops.Code("CONFIG_FLAGS_INVALID").Wrap(err)
		}
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, oops.Code("CONFIG_INVALID").Wrap(err)
	}

	if cfg.Database.URL == "" {
		cfg.Database.URL = os.Getenv("DATABASE_URL")
	}
	if cfg.SMTP.Password == "" {
		cfg.SMTP.Password = os.Getenv("SMTP_PASSWORD")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for values that would fail at runtime.
func (c Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return oops.
			Code("CONFIG_INVALID").
			With("listen", c.Listen).
			Wrapf(err, "listen address must be host:port")
	}
	if _, _, err := net.SplitHostPort(c.MetricsListen); err != nil {
		return oops.
			Code("CONFIG_INVALID").
			With("metrics_listen", c.MetricsListen).
			Wrapf(err, "metrics listen address must be host:port")
	}
	if c.Database.URL == "" {
		return oops.
			Code("CONFIG_INVALID").
			Errorf("database URL is required (set database.url or DATABASE_URL)")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return oops.
			Code("CONFIG_INVALID").
			With("level", c.Log.Level).
			Errorf("log level must be one of debug, info, warn, error")
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return oops.
			Code("CONFIG_INVALID").
			With("format", c.Log.Format).
			Errorf("log format must be json or text")
	}

	if c.RateLimit.Max <= 0 || c.RateLimit.WindowMinutes <= 0 ||
		c.RateLimit.LoginMax <= 0 || c.RateLimit.LoginWindowMinutes <= 0 {
		return oops.
			Code("CONFIG_INVALID").
			Errorf("rate limit values must be positive")
	}

	if !c.Development && c.SMTP.Addr != "" {
		if _, _, err := net.SplitHostPort(c.SMTP.Addr); err != nil {
			return oops.
				Code("CONFIG_INVALID").
				With("smtp_addr", c.SMTP.Addr).
				Wrapf(err, "smtp address must be host:port")
		}
		if c.SMTP.From == "" {
			return oops.
				Code("CONFIG_INVALID").
				Errorf("smtp.from is required when smtp.addr is set")
		}
	}

	return nil
}

// MailEnabled reports whether a real SMTP mailer should be constructed.
func (c Config) MailEnabled() bool {
	return c.SMTP.Addr != ""
}
