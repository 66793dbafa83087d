package cafeauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigNeedsOnlyAKey(t *testing.T) {
	cfg := DefaultConfig()
	require.Error(t, cfg.Validate())

	cfg.Token.PrivateKey = append([]byte(nil), testSecret...)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 6, cfg.OTP.Digits)
	assert.Equal(t, 10*time.Minute, cfg.OTP.TTL)
	assert.Equal(t, 3, cfg.OTP.MaxAttempts)
	assert.Equal(t, 5, cfg.Lockout.Threshold)
	assert.Equal(t, 15*time.Minute, cfg.Lockout.Duration)
	assert.Equal(t, 30*time.Minute, cfg.Signup.StagingTTL)
	assert.Equal(t, 24*time.Hour, cfg.Token.AdminTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.Token.TrustedDeviceTTL)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "test config valid",
			mutate:    func(*Config) {},
			wantValid: true,
		},
		{
			name:      "otp digits too few",
			mutate:    func(c *Config) { c.OTP.Digits = 3 },
			wantValid: false,
		},
		{
			name:      "otp ttl zero",
			mutate:    func(c *Config) { c.OTP.TTL = 0 },
			wantValid: false,
		},
		{
			name:      "otp attempts zero",
			mutate:    func(c *Config) { c.OTP.MaxAttempts = 0 },
			wantValid: false,
		},
		{
			name:      "lockout threshold zero",
			mutate:    func(c *Config) { c.Lockout.Threshold = 0 },
			wantValid: false,
		},
		{
			name:      "lockout record shorter than lock",
			mutate:    func(c *Config) { c.Lockout.RecordTTL = time.Minute },
			wantValid: false,
		},
		{
			name:      "lockout email scope",
			mutate:    func(c *Config) { c.Lockout.Scope = LockoutScopeEmail },
			wantValid: true,
		},
		{
			name:      "lockout unknown scope",
			mutate:    func(c *Config) { c.Lockout.Scope = LockoutScope(9) },
			wantValid: false,
		},
		{
			name:      "staging shorter than otp",
			mutate:    func(c *Config) { c.Signup.StagingTTL = time.Minute },
			wantValid: false,
		},
		{
			name:      "trusted device shorter than admin token",
			mutate:    func(c *Config) { c.Token.TrustedDeviceTTL = time.Hour },
			wantValid: false,
		},
		{
			name:      "hs256 short secret",
			mutate:    func(c *Config) { c.Token.PrivateKey = []byte("short") },
			wantValid: false,
		},
		{
			name:      "unknown signing method",
			mutate:    func(c *Config) { c.Token.SigningMethod = "rs256" },
			wantValid: false,
		},
		{
			name:      "ed25519 without public key",
			mutate:    func(c *Config) { c.Token.SigningMethod = "ed25519" },
			wantValid: false,
		},
		{
			name:      "password memory too low",
			mutate:    func(c *Config) { c.Password.Memory = 1024 },
			wantValid: false,
		},
		{
			name:      "password min below floor",
			mutate:    func(c *Config) { c.Password.MinLength = 4 },
			wantValid: false,
		},
		{
			name:      "password max below min",
			mutate:    func(c *Config) { c.Password.MaxLength = 7 },
			wantValid: false,
		},
		{
			name:      "empty redis prefix",
			mutate:    func(c *Config) { c.Redis.Prefix = "" },
			wantValid: false,
		},
		{
			name: "audit enabled without buffer",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			wantValid: false,
		},
		{
			name:      "empty capability table",
			mutate:    func(c *Config) { c.Capabilities = nil },
			wantValid: false,
		},
		{
			name: "capability table unknown role",
			mutate: func(c *Config) {
				c.Capabilities["barista"] = []Capability{CapOrdersView}
			},
			wantValid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantValid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestWithConfigCopiesKeysAndTable(t *testing.T) {
	cfg := testConfig()
	b := New().WithConfig(cfg)

	cfg.Token.PrivateKey[0] = 'X'
	cfg.Capabilities[RoleStaff][0] = "mutated"

	assert.Equal(t, byte('c'), b.config.Token.PrivateKey[0])
	assert.Equal(t, CapAdminLogin, b.config.Capabilities[RoleStaff][0])
}

func TestLockedErrorRemaining(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	err := newLockedError(now.Add(90*time.Second), func() time.Time { return now })

	assert.ErrorIs(t, err, ErrLocked)
	assert.Equal(t, 90*time.Second, err.Remaining())
	assert.Contains(t, err.Error(), "retry after")

	expired := newLockedError(now.Add(-time.Second), func() time.Time { return now })
	assert.Zero(t, expired.Remaining())
}
