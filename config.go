package cafeauth

import (
	"errors"
	"time"
)

// Config holds every tunable of the engine. Start from DefaultConfig.
type Config struct {
	OTP          OTPConfig
	Lockout      LockoutConfig
	Signup       SignupConfig
	Token        TokenConfig
	Password     PasswordConfig
	Redis        RedisConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
	Capabilities CapabilityTable
}

// OTPConfig controls one-time codes for every purpose.
type OTPConfig struct {
	Digits      int
	TTL         time.Duration
	MaxAttempts int
}

// LockoutScope selects how failed-attempt counters are keyed.
type LockoutScope int

const (
	// LockoutScopeEmailIP keys counters by (email, ip). Users behind a shared
	// address can lock each other out for the same email.
	LockoutScopeEmailIP LockoutScope = iota
	// LockoutScopeEmail keys counters by email alone.
	LockoutScopeEmail
)

type LockoutConfig struct {
	Threshold int
	Duration  time.Duration
	// RecordTTL is the absolute lifetime of a counter from its first failure.
	RecordTTL time.Duration
	Scope     LockoutScope
}

type SignupConfig struct {
	StagingTTL      time.Duration
	RequireUsername bool
}

// TokenConfig sets session token signing and lifetimes.
type TokenConfig struct {
	AdminTTL         time.Duration
	TrustedDeviceTTL time.Duration
	CustomerTTL      time.Duration
	SigningMethod    string // "hs256" (default) or "ed25519"
	PrivateKey       []byte
	PublicKey        []byte
	Issuer           string
	Leeway           time.Duration
}

type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	MinLength   int
	MaxLength   int
}

type RedisConfig struct {
	Prefix string
}

type AuditConfig struct {
	Enabled     bool
	BufferSize  int
	DropIfFull  bool
	SinkTimeout time.Duration
}

type MetricsConfig struct {
	Enabled bool
}

// DefaultConfig returns the production defaults: 6-digit codes valid for
// 10 minutes with 3 attempts, lockout after 5 failures for 15 minutes,
// 30-minute signup staging, 1-day tokens and 30-day trusted devices.
func DefaultConfig() Config {
	return Config{
		OTP: OTPConfig{
			Digits:      6,
			TTL:         10 * time.Minute,
			MaxAttempts: 3,
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			Duration:  15 * time.Minute,
			RecordTTL: 24 * time.Hour,
			Scope:     LockoutScopeEmailIP,
		},
		Signup: SignupConfig{
			StagingTTL: 30 * time.Minute,
		},
		Token: TokenConfig{
			AdminTTL:         24 * time.Hour,
			TrustedDeviceTTL: 30 * 24 * time.Hour,
			CustomerTTL:      24 * time.Hour,
			SigningMethod:    "hs256",
			Issuer:           "cafeauth",
		},
		Password: PasswordConfig{
			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
			MinLength:   8,
			MaxLength:   72,
		},
		Redis: RedisConfig{
			Prefix: "cafe",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Capabilities: DefaultCapabilities(),
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.PrivateKey = cloneBytes(cfg.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(cfg.Token.PublicKey)
	out.Capabilities = cfg.Capabilities.clone()
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	// OTP
	if c.OTP.Digits < 4 || c.OTP.Digits > 10 {
		return errors.New("OTP Digits must be between 4 and 10")
	}
	if c.OTP.TTL <= 0 || c.OTP.TTL > time.Hour {
		return errors.New("OTP TTL must be > 0 and <= 1h")
	}
	if c.OTP.MaxAttempts <= 0 || c.OTP.MaxAttempts > 10 {
		return errors.New("OTP MaxAttempts must be between 1 and 10")
	}

	// Lockout
	if c.Lockout.Threshold <= 0 {
		return errors.New("Lockout Threshold must be > 0")
	}
	if c.Lockout.Duration <= 0 {
		return errors.New("Lockout Duration must be > 0")
	}
	if c.Lockout.RecordTTL < c.Lockout.Duration {
		return errors.New("Lockout RecordTTL must be >= Duration")
	}
	if c.Lockout.Scope != LockoutScopeEmailIP && c.Lockout.Scope != LockoutScopeEmail {
		return errors.New("Lockout Scope is invalid")
	}

	// Signup
	if c.Signup.StagingTTL < c.OTP.TTL {
		return errors.New("Signup StagingTTL must be >= OTP TTL")
	}

	// Token
	if c.Token.AdminTTL <= 0 || c.Token.CustomerTTL <= 0 {
		return errors.New("Token AdminTTL and CustomerTTL must be > 0")
	}
	if c.Token.TrustedDeviceTTL < c.Token.AdminTTL {
		return errors.New("Token TrustedDeviceTTL must be >= AdminTTL")
	}
	switch c.Token.SigningMethod {
	case "hs256":
		if len(c.Token.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	case "ed25519":
		if len(c.Token.PrivateKey) == 0 || len(c.Token.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	default:
		return errors.New("unsupported Token signing method")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 8 {
		return errors.New("Password MinLength must be >= 8")
	}
	if c.Password.MaxLength < c.Password.MinLength {
		return errors.New("Password MaxLength must be >= MinLength")
	}

	if c.Redis.Prefix == "" {
		return errors.New("Redis Prefix must not be empty")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	return c.Capabilities.validate()
}
