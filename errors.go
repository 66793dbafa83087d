package cafeauth

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrAuthentication reports bad credentials. Unknown accounts and wrong
	// passwords are deliberately indistinguishable.
	ErrAuthentication = errors.New("invalid credentials")
	// ErrLocked is matched by every *LockedError.
	ErrLocked              = errors.New("too many failed attempts")
	ErrOTPInvalidOrExpired = errors.New("code invalid or expired")
	ErrOTPAttemptsExceeded = errors.New("code attempts exceeded")
	ErrConflict            = errors.New("email or username already registered")
	// ErrDispatchFailure reports that a code could not be delivered. Nothing
	// was left behind; the caller may simply retry.
	ErrDispatchFailure  = errors.New("notification dispatch failed")
	ErrNotFound         = errors.New("not found")
	ErrAccountInactive  = errors.New("account inactive")
	ErrPermissionDenied = errors.New("permission denied")
	ErrTokenInvalid     = errors.New("token invalid")
	// ErrUnavailable hides every backend failure from callers. Details are
	// logged, never returned.
	ErrUnavailable    = errors.New("authentication backend unavailable")
	ErrEngineNotReady = errors.New("engine not initialized")
)

// LockedError is returned while a lockout is active.
type LockedError struct {
	Until time.Time
	now   func() time.Time
}

func newLockedError(until time.Time, now func() time.Time) *LockedError {
	return &LockedError{Until: until, now: now}
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrLocked.Error(), e.Until.UTC().Format(time.RFC3339))
}

func (e *LockedError) Is(target error) bool {
	return target == ErrLocked
}

// Remaining is the time left until the lock expires, never negative.
func (e *LockedError) Remaining() time.Duration {
	now := time.Now
	if e.now != nil {
		now = e.now
	}
	if d := e.Until.Sub(now()); d > 0 {
		return d
	}
	return 0
}

// ValidationError names the offending input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrValidation.Error(), e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
