package flows

import (
	"context"
	"errors"
	"time"

	"github.com/brewline/cafeauth/internal"
	"github.com/brewline/cafeauth/internal/limiters"
	"github.com/brewline/cafeauth/internal/stores"
)

// request is the caller identity every lockout decision is keyed by.
type request struct {
	email string
	ip    string
	ua    string
}

func newRequest(ctx context.Context, deps *Deps, email string) request {
	return request{
		email: internal.NormalizeEmail(email),
		ip:    deps.ClientIP(ctx),
		ua:    deps.UserAgent(ctx),
	}
}

func (r request) meta(extra ...string) func() map[string]string {
	return func() map[string]string {
		m := map[string]string{"ip": r.ip}
		for i := 0; i+1 < len(extra); i += 2 {
			m[extra[i]] = extra[i+1]
		}
		return m
	}
}

func internalError(ctx context.Context, deps *Deps, op string, err error) error {
	deps.Logger.Error(ctx, op+" failed", "error", err)
	return deps.Errors.Unavailable
}

// checkLock rejects the request while any attempt type is locked for
// (email, ip).
func checkLock(ctx context.Context, deps *Deps, r request, event string) error {
	until, err := deps.IsLocked(ctx, r.email, r.ip)
	if err != nil {
		return internalError(ctx, deps, "lockout lookup", err)
	}
	if until.IsZero() {
		return nil
	}

	lockErr := deps.Errors.Locked(until)
	deps.MetricInc(deps.Metrics.LockedRejection)
	deps.EmitAudit(ctx, event, false, nil, r.email, lockErr, r.meta("locked_until", until.UTC().Format(time.RFC3339)))
	return lockErr
}

// recordFailure charges one rejected guess. A tracker outage is logged and
// does not change the rejection the caller sees.
func recordFailure(ctx context.Context, deps *Deps, r request, kind string) {
	until, err := deps.RecordAttempt(ctx, r.email, r.ip, r.ua, kind)
	if err != nil {
		deps.Logger.Error(ctx, "record failed attempt", "kind", kind, "error", err)
		return
	}
	if until.IsZero() {
		return
	}
	deps.MetricInc(deps.Metrics.LockoutTriggered)
	deps.Logger.Warn(ctx, "lockout triggered", "kind", kind, "email", r.email, "ip", r.ip)
	deps.EmitAudit(ctx, deps.Events.LockoutTriggered, true, nil, r.email, nil, r.meta(
		"kind", kind,
		"locked_until", until.UTC().Format(time.RFC3339),
	))
}

func clearAttempts(ctx context.Context, deps *Deps, r request, kinds ...string) {
	if err := deps.ClearAttempts(ctx, r.email, r.ip, kinds...); err != nil {
		deps.Logger.Warn(ctx, "clear failed attempts", "error", err)
	}
}

// verifyCode redeems code against the ledger. Every rejected code is charged
// to the tracker. A code that was already redeemed is returned as
// stores.ErrOTPConsumed so the caller can decide what it means.
func verifyCode(ctx context.Context, deps *Deps, r request, code, purpose string) error {
	if !internal.WellFormedOTP(code, deps.OTPDigits) {
		if _, err := deps.IncrementFailedAttempt(ctx, r.email, code, purpose); err != nil {
			deps.Logger.Error(ctx, "otp attempt increment", "purpose", purpose, "error", err)
		}
		recordFailure(ctx, deps, r, limiters.AttemptOTP)
		deps.MetricInc(deps.Metrics.OTPVerifyFailure)
		return deps.Errors.OTPInvalidOrExpired
	}

	err := deps.VerifyOTP(ctx, r.email, code, purpose)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stores.ErrOTPConsumed):
		deps.MetricInc(deps.Metrics.OTPVerifyFailure)
		return err
	case errors.Is(err, stores.ErrOTPInvalid):
		recordFailure(ctx, deps, r, limiters.AttemptOTP)
		deps.MetricInc(deps.Metrics.OTPVerifyFailure)
		return deps.Errors.OTPInvalidOrExpired
	case errors.Is(err, stores.ErrOTPAttemptsExceeded):
		recordFailure(ctx, deps, r, limiters.AttemptOTP)
		deps.MetricInc(deps.Metrics.OTPAttemptsExceeded)
		return deps.Errors.OTPAttemptsExceeded
	default:
		return internalError(ctx, deps, "otp verify", err)
	}
}

func publicOTPError(deps *Deps, err error) error {
	if errors.Is(err, stores.ErrOTPConsumed) {
		return deps.Errors.OTPInvalidOrExpired
	}
	return err
}

// issueCode asks the ledger for a code. Dispatch failures surface as
// Errors.DispatchFailure; the ledger has already rolled the record back.
func issueCode(ctx context.Context, deps *Deps, email, purpose string, forceNew bool) (stores.OTPIssue, error) {
	issue, err := deps.GenerateOTP(ctx, email, purpose, forceNew)
	if err == nil {
		return issue, nil
	}
	if errors.Is(err, stores.ErrOTPDispatchFailed) {
		deps.MetricInc(deps.Metrics.DispatchFailure)
		deps.Logger.Warn(ctx, "otp dispatch failed", "purpose", purpose, "error", err)
		return stores.OTPIssue{}, deps.Errors.DispatchFailure
	}
	return stores.OTPIssue{}, internalError(ctx, deps, "otp generate", err)
}

// checkPassword loads the principal and verifies password. Unknown accounts
// and wrong passwords are indistinguishable to the caller and both count as
// a failed login.
func checkPassword(ctx context.Context, deps *Deps, r request, principalType, password, event string) (Principal, error) {
	p, err := deps.FindByEmail(ctx, principalType, r.email)
	if err != nil {
		if errors.Is(err, deps.Errors.NotFound) {
			recordFailure(ctx, deps, r, limiters.AttemptLogin)
			deps.MetricInc(deps.Metrics.LoginFailure)
			deps.EmitAudit(ctx, event, false, nil, r.email, deps.Errors.Authentication, r.meta("reason", "unknown_account"))
			return Principal{}, deps.Errors.Authentication
		}
		return Principal{}, internalError(ctx, deps, "principal lookup", err)
	}

	ok, err := deps.VerifyPassword(password, p.PasswordHash)
	if err != nil {
		return Principal{}, internalError(ctx, deps, "password verify", err)
	}
	if !ok {
		recordFailure(ctx, deps, r, limiters.AttemptLogin)
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, event, false, &p, r.email, deps.Errors.Authentication, r.meta("reason", "bad_password"))
		return Principal{}, deps.Errors.Authentication
	}
	rehash(ctx, deps, &p, password)
	return p, nil
}

// rehash replaces a hash made with weaker cost parameters than the current
// ones. Failure leaves the old hash in place.
func rehash(ctx context.Context, deps *Deps, p *Principal, password string) {
	if deps.NeedsRehash == nil || deps.HashPassword == nil || deps.UpdatePrincipal == nil || !deps.NeedsRehash(p.PasswordHash) {
		return
	}
	hash, err := deps.HashPassword(password)
	if err != nil {
		deps.Logger.Warn(ctx, "password rehash", "principal_id", p.ID, "error", err)
		return
	}
	if err := deps.UpdatePrincipal(ctx, p.ID, PrincipalUpdate{PasswordHash: &hash}); err != nil {
		deps.Logger.Warn(ctx, "store upgraded hash", "principal_id", p.ID, "error", err)
		return
	}
	p.PasswordHash = hash
}

// checkStanding rejects inactive principals and roles lacking capability.
func checkStanding(ctx context.Context, deps *Deps, r request, p Principal, capability, event string) error {
	if p.Status != StatusActive {
		deps.EmitAudit(ctx, event, false, &p, r.email, deps.Errors.AccountInactive, r.meta())
		return deps.Errors.AccountInactive
	}
	if !deps.Allowed(p.Role, capability) {
		deps.EmitAudit(ctx, event, false, &p, r.email, deps.Errors.PermissionDenied, r.meta("capability", capability))
		return deps.Errors.PermissionDenied
	}
	return nil
}

// touchLastLogin stamps lastLoginAt. Failure does not fail the login.
func touchLastLogin(ctx context.Context, deps *Deps, p *Principal, now time.Time) {
	if err := deps.UpdatePrincipal(ctx, p.ID, PrincipalUpdate{LastLoginAt: &now}); err != nil {
		deps.Logger.Warn(ctx, "update last login", "principal_id", p.ID, "error", err)
		return
	}
	p.LastLoginAt = &now
}

func notify(ctx context.Context, deps *Deps, email, purpose string, payload map[string]string) {
	if err := deps.Notify(ctx, email, purpose, payload); err != nil {
		deps.Logger.Warn(ctx, "confirmation notification failed", "purpose", purpose, "error", err)
	}
}
