// Package config loads process configuration for the cafeauth commands from
// the environment, after an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/brewline/cafeauth"
)

type Config struct {
	// LogLevel is a slog level: -4 debug, 0 info, 4 warn, 8 error.
	LogLevel int      `env:"LOG_LEVEL" envDefault:"0"`
	HTTP     HTTP     `envPrefix:"HTTP_"`
	Database Database `envPrefix:"DATABASE_"`
	Redis    Redis    `envPrefix:"REDIS_"`
	JWT      JWT      `envPrefix:"JWT_"`
	Notify   Notify   `envPrefix:"NOTIFY_"`
	Audit    Audit    `envPrefix:"AUDIT_"`
	Lockout  Lockout  `envPrefix:"LOCKOUT_"`

	MetricsEnabled bool `env:"METRICS_ENABLED" envDefault:"true"`
}

type HTTP struct {
	Addr string `env:"ADDR" envDefault:":8080"`
	// TrustProxy takes the client address from X-Forwarded-For.
	TrustProxy bool `env:"TRUST_PROXY" envDefault:"false"`
}

// Database selects the credential store. An empty DSN uses the in-memory
// store.
type Database struct {
	DSN string `env:"DSN"`
}

// Redis holds the coordination store. An empty Addr starts an embedded
// miniredis, for demos only.
type Redis struct {
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
	Prefix   string `env:"PREFIX" envDefault:"cafe"`
}

type JWT struct {
	Secret string `env:"SECRET"`
	Issuer string `env:"ISSUER" envDefault:"cafeauth"`
}

// Notify selects the dispatcher. An empty Stream logs notifications.
type Notify struct {
	Stream      string `env:"STREAM"`
	RevealCodes bool   `env:"REVEAL_CODES" envDefault:"false"`
}

// Audit configures the S3-compatible archive. Archiving is off while
// Endpoint is empty.
type Audit struct {
	Endpoint  string `env:"ENDPOINT"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	Bucket    string `env:"BUCKET" envDefault:"cafeauth-audit"`
	Prefix    string `env:"PREFIX" envDefault:"audit"`
	UseSSL    bool   `env:"USE_SSL" envDefault:"false"`
	BatchSize int    `env:"BATCH_SIZE" envDefault:"500"`
}

type Lockout struct {
	Scope string `env:"SCOPE" envDefault:"email_ip"`
}

// Load reads the given .env files (default ".env") if present, then parses
// the environment. Variables already set in the environment win.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Engine builds the library configuration from c.
func (c *Config) Engine() (cafeauth.Config, error) {
	cfg := cafeauth.DefaultConfig()

	if c.JWT.Secret == "" {
		return cafeauth.Config{}, errors.New("JWT_SECRET is required")
	}
	cfg.Token.PrivateKey = []byte(c.JWT.Secret)
	cfg.Token.Issuer = c.JWT.Issuer
	cfg.Redis.Prefix = c.Redis.Prefix
	cfg.Metrics.Enabled = c.MetricsEnabled
	cfg.Audit.Enabled = c.Audit.Endpoint != ""

	switch strings.ToLower(c.Lockout.Scope) {
	case "", "email_ip":
		cfg.Lockout.Scope = cafeauth.LockoutScopeEmailIP
	case "email":
		cfg.Lockout.Scope = cafeauth.LockoutScopeEmail
	default:
		return cafeauth.Config{}, fmt.Errorf("unknown LOCKOUT_SCOPE %q", c.Lockout.Scope)
	}

	if err := cfg.Validate(); err != nil {
		return cafeauth.Config{}, err
	}
	return cfg, nil
}
