package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	AuthNone   = "none"
	AuthSecret = "secret"
	AuthJWKS   = "jwks"
)

type Config struct {
	Port     string `env:"PORT" envDefault:"3001"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Empty disables the activity publisher.
	RedisURL string `env:"REDIS_URL"`

	AuthMode      string `env:"AUTH_MODE" envDefault:"none"`
	JWTSecret     string `env:"JWT_SECRET"`
	JWTIssuer     string `env:"JWT_ISSUER"`
	JWKSIssuerURL string `env:"JWKS_ISSUER_URL"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	HistoryLimit    int           `env:"HISTORY_LIMIT" envDefault:"100"`
	SendBuffer      int           `env:"SEND_BUFFER" envDefault:"256"`
	BoardIdleTTL    time.Duration `env:"BOARD_IDLE_TTL" envDefault:"0s"`
	JanitorInterval time.Duration `env:"JANITOR_INTERVAL" envDefault:"1m"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("PORT is empty"))
	}
	switch c.AuthMode {
	case AuthNone:
	case AuthSecret:
		if c.JWTSecret == "" {
			errs = append(errs, errors.New("JWT_SECRET is required when AUTH_MODE=secret"))
		}
	case AuthJWKS:
		if c.JWKSIssuerURL == "" {
			errs = append(errs, errors.New("JWKS_ISSUER_URL is required when AUTH_MODE=jwks"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown AUTH_MODE %q", c.AuthMode))
	}
	if c.HistoryLimit <= 0 {
		errs = append(errs, fmt.Errorf("HISTORY_LIMIT must be positive, got %d", c.HistoryLimit))
	}
	if c.SendBuffer <= 0 {
		errs = append(errs, fmt.Errorf("SEND_BUFFER must be positive, got %d", c.SendBuffer))
	}
	if c.BoardIdleTTL < 0 {
		errs = append(errs, errors.New("BOARD_IDLE_TTL must not be negative"))
	}
	if c.BoardIdleTTL > 0 && c.JanitorInterval <= 0 {
		errs = append(errs, errors.New("JANITOR_INTERVAL must be positive when BOARD_IDLE_TTL is set"))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParseLogLevel maps LOG_LEVEL values onto slog levels.
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown LOG_LEVEL %q", level)
}
