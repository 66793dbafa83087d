package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// NewOTP returns a uniformly random numeric code of the given length.
// Bytes of 250 and above are rejected so every digit is equally likely.
func NewOTP(digits int) (string, error) {
	if digits < 4 || digits > 10 {
		return "", fmt.Errorf("otp length %d outside [4, 10]", digits)
	}

	code := make([]byte, 0, digits)
	buf := make([]byte, digits*2)
	for len(code) < digits {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("otp entropy: %w", err)
		}
		for _, b := range buf {
			if b >= 250 {
				continue
			}
			code = append(code, '0'+b%10)
			if len(code) == digits {
				break
			}
		}
	}
	return string(code), nil
}

// WellFormedOTP reports whether code is exactly digits ASCII digits.
func WellFormedOTP(code string, digits int) bool {
	if len(code) != digits {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// HashOTP binds a code to its owner and purpose so a stored digest cannot be
// replayed against another (email, purpose) record.
func HashOTP(email, purpose, code string) string {
	sum := sha256.Sum256([]byte(purpose + "\x00" + email + "\x00" + code))
	return hex.EncodeToString(sum[:])
}

// NormalizeEmail lowercases and trims an address for use as a lookup key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
