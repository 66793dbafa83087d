package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

const minHMACSecret = 32

// ErrVerifyOnly is returned by Issue on a manager built without a private
// key.
var ErrVerifyOnly = errors.New("jwt: manager is verify-only")

// keyring is the resolved signing material for one algorithm. sign is nil
// for a verify-only manager.
type keyring struct {
	method jwt.SigningMethod
	sign   any
	verify any
}

func loadKeys(cfg Config) (keyring, error) {
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < minHMACSecret {
			return keyring{}, fmt.Errorf("jwt: hs256 secret must be at least %d bytes", minHMACSecret)
		}
		secret := append([]byte(nil), cfg.PrivateKey...)
		return keyring{method: jwt.SigningMethodHS256, sign: secret, verify: secret}, nil

	case MethodEd25519:
		if len(cfg.PublicKey) == 0 {
			return keyring{}, errors.New("jwt: ed25519 needs a public key")
		}
		pub, err := edPublic(cfg.PublicKey)
		if err != nil {
			return keyring{}, err
		}
		k := keyring{method: jwt.SigningMethodEdDSA, verify: pub}
		if len(cfg.PrivateKey) > 0 {
			if k.sign, err = edPrivate(cfg.PrivateKey); err != nil {
				return keyring{}, err
			}
		}
		return k, nil
	}
	return keyring{}, fmt.Errorf("jwt: unsupported signing method %q", cfg.SigningMethod)
}

// edPrivate accepts a raw 64-byte key or PKCS#8 PEM.
func edPrivate(b []byte) (ed25519.PrivateKey, error) {
	if len(b) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(b), nil
	}
	k, err := jwt.ParseEdPrivateKeyFromPEM(b)
	if err != nil {
		return nil, fmt.Errorf("jwt: ed25519 private key: %w", err)
	}
	priv, ok := k.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("jwt: private key is not ed25519")
	}
	return priv, nil
}

// edPublic accepts a raw 32-byte key or PKIX PEM.
func edPublic(b []byte) (ed25519.PublicKey, error) {
	if len(b) == ed25519.PublicKeySize {
		return ed25519.PublicKey(b), nil
	}
	k, err := jwt.ParseEdPublicKeyFromPEM(b)
	if err != nil {
		return nil, fmt.Errorf("jwt: ed25519 public key: %w", err)
	}
	pub, ok := k.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("jwt: public key is not ed25519")
	}
	return pub, nil
}
