package password

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB   = 8 * 1024
	minSaltLength = 16
	minKeyLength  = 16

	// DefaultMinPasswordBytes applies when Config.MinPasswordBytes is zero.
	DefaultMinPasswordBytes = 8
	// DefaultMaxPasswordBytes applies when Config.MaxPasswordBytes is zero.
	// It caps the work an unauthenticated request can cause.
	DefaultMaxPasswordBytes = 72
)

var (
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordTooLong  = errors.New("password too long")
	ErrMalformedHash    = errors.New("malformed password hash")
)

// Config holds argon2id cost parameters and the password length policy.
// Memory is in KiB.
type Config struct {
	Memory           uint32
	Time             uint32
	Parallelism      uint8
	SaltLength       uint32
	KeyLength        uint32
	MinPasswordBytes int
	MaxPasswordBytes int
}

// DefaultConfig returns production cost parameters.
func DefaultConfig() Config {
	return Config{
		Memory:           64 * 1024,
		Time:             3,
		Parallelism:      2,
		SaltLength:       16,
		KeyLength:        32,
		MinPasswordBytes: DefaultMinPasswordBytes,
		MaxPasswordBytes: DefaultMaxPasswordBytes,
	}
}

func (c Config) check() error {
	var errs []error
	if c.Memory < minMemoryKB {
		errs = append(errs, fmt.Errorf("memory %d KiB is below %d", c.Memory, minMemoryKB))
	}
	if c.Time == 0 {
		errs = append(errs, errors.New("time must be at least 1"))
	}
	if c.Parallelism == 0 {
		errs = append(errs, errors.New("parallelism must be at least 1"))
	}
	if c.SaltLength < minSaltLength {
		errs = append(errs, fmt.Errorf("salt length %d is below %d", c.SaltLength, minSaltLength))
	}
	if c.KeyLength < minKeyLength {
		errs = append(errs, fmt.Errorf("key length %d is below %d", c.KeyLength, minKeyLength))
	}
	if c.MinPasswordBytes < 1 || c.MaxPasswordBytes < c.MinPasswordBytes {
		errs = append(errs, fmt.Errorf("length bounds [%d, %d] are inconsistent", c.MinPasswordBytes, c.MaxPasswordBytes))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("password config: %w", err)
	}
	return nil
}

// Argon2 hashes and verifies passwords. It is safe for concurrent use.
type Argon2 struct {
	cfg Config
}

func NewArgon2(cfg Config) (*Argon2, error) {
	if cfg.MinPasswordBytes == 0 {
		cfg.MinPasswordBytes = DefaultMinPasswordBytes
	}
	if cfg.MaxPasswordBytes == 0 {
		cfg.MaxPasswordBytes = DefaultMaxPasswordBytes
	}
	if err := cfg.check(); err != nil {
		return nil, err
	}
	return &Argon2{cfg: cfg}, nil
}

// Validate applies the length policy to raw bytes. No Unicode
// normalization happens.
func (a *Argon2) Validate(password string) error {
	switch n := len(password); {
	case n < a.cfg.MinPasswordBytes:
		return fmt.Errorf("%w: minimum is %d bytes", ErrPasswordTooShort, a.cfg.MinPasswordBytes)
	case n > a.cfg.MaxPasswordBytes:
		return fmt.Errorf("%w: maximum is %d bytes", ErrPasswordTooLong, a.cfg.MaxPasswordBytes)
	}
	return nil
}

// Hash checks password against the policy and returns a fresh PHC string.
func (a *Argon2) Hash(password string) (string, error) {
	if err := a.Validate(password); err != nil {
		return "", err
	}

	h := phc{
		memory:  a.cfg.Memory,
		passes:  a.cfg.Time,
		threads: a.cfg.Parallelism,
		salt:    make([]byte, a.cfg.SaltLength),
	}
	if _, err := rand.Read(h.salt); err != nil {
		return "", fmt.Errorf("password salt: %w", err)
	}
	h.key = argon2.IDKey([]byte(password), h.salt, h.passes, h.memory, h.threads, a.cfg.KeyLength)
	return h.String(), nil
}

// Verify reports whether password matches encoded, using the parameters
// recorded in encoded rather than the current ones. Passwords over the
// length cap never match and are not hashed.
func (a *Argon2) Verify(password, encoded string) (bool, error) {
	if len(password) > a.cfg.MaxPasswordBytes {
		return false, nil
	}
	h, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}
	key := argon2.IDKey([]byte(password), h.salt, h.passes, h.memory, h.threads, uint32(len(h.key)))
	return subtle.ConstantTimeCompare(key, h.key) == 1, nil
}

// NeedsUpgrade reports whether encoded was made with a cheaper cost or a
// different key length than the current configuration.
func (a *Argon2) NeedsUpgrade(encoded string) (bool, error) {
	h, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}
	return h.memory < a.cfg.Memory ||
		h.passes < a.cfg.Time ||
		h.threads < a.cfg.Parallelism ||
		uint32(len(h.key)) != a.cfg.KeyLength, nil
}
