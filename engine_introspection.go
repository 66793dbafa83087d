package cafeauth

import (
	"context"
	"errors"

	"github.com/brewline/cafeauth/internal"
	"github.com/brewline/cafeauth/internal/limiters"
)

// Authenticate verifies a session token and returns the principal as
// currently stored. Role and status are never taken from the token.
func (e *Engine) Authenticate(ctx context.Context, token string) (*Principal, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	start := e.now()
	p, err := e.flows.Authenticate(ctx, token)
	e.metrics.Observe(MetricAuthenticateLatency, e.now().Sub(start))
	if err != nil {
		e.metricInc(MetricAuthenticateFailure)
		return nil, err
	}
	e.metricInc(MetricAuthenticateSuccess)
	return publicPrincipal(p), nil
}

// Authorize reports ErrPermissionDenied unless p is active and its role
// holds c.
func (e *Engine) Authorize(p *Principal, c Capability) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if p == nil || p.Status != StatusActive || !p.Role.Valid(p.Type) {
		return ErrPermissionDenied
	}
	if !e.capabilities.allowed(p.Role, c) {
		return ErrPermissionDenied
	}
	return nil
}

// Capabilities lists what role may do, sorted.
func (e *Engine) Capabilities(role Role) []Capability {
	if e == nil {
		return nil
	}
	return e.capabilities.list(role)
}

// LockStatus reports the active lockout for (email, ip), if any. With
// LockoutScopeEmail the ip is ignored.
func (e *Engine) LockStatus(ctx context.Context, email, ip string) (LockStatus, error) {
	if !e.ready() {
		return LockStatus{}, ErrEngineNotReady
	}

	email = internal.NormalizeEmail(email)
	state, err := e.attempts.IsLocked(ctx, email, ip)
	if err != nil {
		e.logger.Error(ctx, "lockout lookup failed", "error", err)
		return LockStatus{}, ErrUnavailable
	}

	var status LockStatus
	if state != nil {
		status = LockStatus{Locked: true, Type: state.Type, Until: state.LockedUntil}
	}
	for _, kind := range limiters.AttemptTypes {
		n, err := e.attempts.Count(ctx, email, ip, kind)
		if err != nil {
			e.logger.Error(ctx, "attempt count lookup failed", "error", err)
			return LockStatus{}, ErrUnavailable
		}
		if n == 0 {
			continue
		}
		if status.Failures == nil {
			status.Failures = make(map[string]int, len(limiters.AttemptTypes))
		}
		status.Failures[kind] = n
	}
	return status, nil
}

// IsLocked reports whether err is an active lockout and, if so, how long
// until it lifts.
func IsLocked(err error) (*LockedError, bool) {
	var le *LockedError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}
