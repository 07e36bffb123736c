package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const minJWTSecretLen = 32

// Config holds the application configuration
type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	Port        string `env:"PORT" envDefault:"8080"`
	JWTSecret   string `env:"JWT_SECRET,required,notEmpty"`
	CronSecret  string `env:"CRON_SECRET,required,notEmpty"`
	DevMode     bool   `env:"DEV_MODE" envDefault:"false"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	SendGridAPIKey string        `env:"SENDGRID_API_KEY"`
	EmailFrom      string        `env:"EMAIL_FROM" envDefault:"no-reply@localhost"`
	AdminEmails    []string      `env:"ADMIN_EMAILS" envSeparator:","`
	AppURL         string        `env:"APP_URL" envDefault:"http://localhost:3000"`
	NotifyTimeout  time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"10s"`

	// ReminderInterval enables the in-process reminder sweep when > 0
	ReminderInterval time.Duration `env:"REMINDER_INTERVAL" envDefault:"0s"`

	SessionTTL      time.Duration `env:"SESSION_TTL" envDefault:"168h"`
	LoginRateLimit  int           `env:"LOGIN_RATE_LIMIT" envDefault:"10"`
	LoginRateWindow time.Duration `env:"LOGIN_RATE_WINDOW" envDefault:"10m"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	return load(env.Options{})
}

// LoadFrom reads configuration from the given map instead of the process environment
func LoadFrom(environ map[string]string) (*Config, error) {
	return load(env.Options{Environment: environ})
}

func load(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	if _, err := url.Parse(cfg.DatabaseURL); err != nil {
		return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	if len(cfg.JWTSecret) < minJWTSecretLen {
		return nil, fmt.Errorf("JWT_SECRET must be at least %d characters", minJWTSecretLen)
	}
	if _, err := cfg.SlogLevel(); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("LOG_FORMAT: invalid value %q, allowed: json, text", cfg.LogFormat)
	}
	if cfg.SessionTTL <= 0 {
		return nil, fmt.Errorf("SESSION_TTL must be positive")
	}
	if cfg.LoginRateLimit <= 0 || cfg.LoginRateWindow <= 0 {
		return nil, fmt.Errorf("LOGIN_RATE_LIMIT and LOGIN_RATE_WINDOW must be positive")
	}
	if cfg.ReminderInterval < 0 {
		return nil, fmt.Errorf("REMINDER_INTERVAL must not be negative")
	}

	admins := cfg.AdminEmails[:0]
	for _, a := range cfg.AdminEmails {
		if a = strings.TrimSpace(a); a != "" {
			admins = append(admins, strings.ToLower(a))
		}
	}
	cfg.AdminEmails = admins

	return &cfg, nil
}

// SlogLevel parses LogLevel (debug, info, warn, error)
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid value %q, allowed: debug, info, warn, error", c.LogLevel)
	}
	return level, nil
}

// RedactedDatabaseURL returns DatabaseURL with the password masked, for logging
func (c *Config) RedactedDatabaseURL() string {
	u, err := url.Parse(c.DatabaseURL)
	if err != nil {
		return "(invalid DATABASE_URL)"
	}
	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "****")
		}
	}
	return u.String()
}
