package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the token signature algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

const maxLeeway = 2 * time.Minute

var (
	// ErrInvalidToken wraps every parse, signature, issuer, audience or
	// expiry failure.
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiryInPast = errors.New("token expiry must be in the future")
)

// Config configures a Manager. For HS256 PrivateKey is the shared secret.
// For Ed25519 PrivateKey (optional, raw or PEM) signs and PublicKey
// verifies.
type Config struct {
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
}

// Claims is the payload of a session token.
type Claims struct {
	PrincipalID   string `json:"pid"`
	Email         string `json:"email"`
	Role          string `json:"role"`
	PrincipalType string `json:"ptype"`
	// Trusted marks a token minted for a remembered admin device.
	Trusted bool `json:"tdv,omitempty"`
	jwt.RegisteredClaims
}

// Subject is who a token is issued to.
type Subject struct {
	PrincipalID   string
	Email         string
	Role          string
	PrincipalType string
	Trusted       bool
}

// Manager signs and verifies session tokens.
type Manager struct {
	keys     keyring
	issuer   string
	audience string
	kid      string
	parser   *jwt.Parser
	now      func() time.Time
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Leeway < 0 || cfg.Leeway > maxLeeway {
		return nil, fmt.Errorf("jwt: leeway must be within [0, %s]", maxLeeway)
	}
	keys, err := loadKeys(cfg)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		keys:     keys,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		kid:      strings.TrimSpace(cfg.KeyID),
		now:      time.Now,
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{keys.method.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return m.now() }),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}
	m.parser = jwt.NewParser(opts...)
	return m, nil
}

// WithClock swaps the time source for iat and expiry checks.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Issue signs a token for sub that expires at expiresAt.
func (m *Manager) Issue(sub Subject, expiresAt time.Time) (string, error) {
	if m.keys.sign == nil {
		return "", ErrVerifyOnly
	}
	now := m.now()
	if !expiresAt.After(now) {
		return "", ErrExpiryInPast
	}

	reg := jwt.RegisteredClaims{
		Subject:   sub.PrincipalID,
		Issuer:    m.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	if m.audience != "" {
		reg.Audience = jwt.ClaimStrings{m.audience}
	}

	tok := jwt.NewWithClaims(m.keys.method, Claims{
		PrincipalID:      sub.PrincipalID,
		Email:            sub.Email,
		Role:             sub.Role,
		PrincipalType:    sub.PrincipalType,
		Trusted:          sub.Trusted,
		RegisteredClaims: reg,
	})
	if m.kid != "" {
		tok.Header["kid"] = m.kid
	}
	return tok.SignedString(m.keys.sign)
}

// Parse verifies raw and returns its claims.
func (m *Manager) Parse(raw string) (*Claims, error) {
	var claims Claims
	tok, err := m.parser.ParseWithClaims(raw, &claims, m.keyFor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !tok.Valid {
		return nil, ErrInvalidToken
	}
	if claims.PrincipalID == "" || claims.PrincipalType == "" {
		return nil, fmt.Errorf("%w: missing principal claims", ErrInvalidToken)
	}
	return &claims, nil
}

func (m *Manager) keyFor(t *jwt.Token) (any, error) {
	if m.kid != "" {
		if kid, _ := t.Header["kid"].(string); kid != m.kid {
			return nil, fmt.Errorf("unknown kid %q", kid)
		}
	}
	return m.keys.verify, nil
}
