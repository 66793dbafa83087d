package flows

import (
	"context"
	"errors"
	"time"

	"github.com/brewline/cafeauth/internal/limiters"
)

// RunAdminLogin checks admin credentials. A principal whose trusted-device
// window is still open gets a token immediately; everyone else gets an
// admin_login code and RequiresOTP. An already-live code is not re-sent.
func RunAdminLogin(ctx context.Context, email, password string, deps Deps) (*LoginResult, error) {
	normalizeDeps(&deps)
	if deps.FindByEmail == nil || deps.VerifyPassword == nil || deps.GenerateOTP == nil || deps.IssueToken == nil {
		return nil, deps.Errors.EngineNotReady
	}

	r := newRequest(ctx, &deps, email)
	event := deps.Events.AdminLogin
	if err := checkLock(ctx, &deps, r, event); err != nil {
		return nil, err
	}

	p, err := checkPassword(ctx, &deps, r, PrincipalAdmin, password, event)
	if err != nil {
		return nil, err
	}
	if err := checkStanding(ctx, &deps, r, p, CapAdminLogin, event); err != nil {
		return nil, err
	}

	now := deps.Now()
	if p.RememberedUntil != nil && p.RememberedUntil.After(now) && deps.Allowed(p.Role, CapTrustedDevice) {
		expiresAt := *p.RememberedUntil
		if limit := now.Add(deps.TrustedDeviceTTL); expiresAt.After(limit) {
			expiresAt = limit
		}
		token, err := deps.IssueToken(p, expiresAt, true)
		if err != nil {
			return nil, internalError(ctx, &deps, "token issue", err)
		}
		touchLastLogin(ctx, &deps, &p, now.UTC())
		clearAttempts(ctx, &deps, r, limiters.AttemptOTP, limiters.AttemptLogin)

		deps.MetricInc(deps.Metrics.LoginTrustedDevice)
		deps.MetricInc(deps.Metrics.LoginSuccess)
		deps.EmitAudit(ctx, event, true, &p, r.email, nil, r.meta("trusted_device", "true"))
		return &LoginResult{
			Token:          token,
			TokenExpiresAt: expiresAt,
			Principal:      &p,
			TrustedDevice:  true,
		}, nil
	}

	issue, err := issueCode(ctx, &deps, r.email, PurposeAdminLogin, false)
	if err != nil {
		deps.EmitAudit(ctx, event, false, &p, r.email, err, r.meta())
		return nil, err
	}

	deps.MetricInc(deps.Metrics.LoginOTPRequired)
	deps.EmitAudit(ctx, event, true, &p, r.email, nil, r.meta("requires_otp", "true", "code_issued", boolString(issue.Issued)))
	return &LoginResult{
		Principal:    &p,
		RequiresOTP:  true,
		OTPExpiresAt: issue.ExpiresAt,
	}, nil
}

// RunRequestAdminOTP re-checks the password and always issues a new
// admin_login code, invalidating any live one.
func RunRequestAdminOTP(ctx context.Context, email, password string, deps Deps) (*Challenge, error) {
	normalizeDeps(&deps)
	if deps.FindByEmail == nil || deps.VerifyPassword == nil || deps.GenerateOTP == nil {
		return nil, deps.Errors.EngineNotReady
	}

	r := newRequest(ctx, &deps, email)
	event := deps.Events.AdminOTPRequest
	if err := checkLock(ctx, &deps, r, event); err != nil {
		return nil, err
	}

	p, err := checkPassword(ctx, &deps, r, PrincipalAdmin, password, event)
	if err != nil {
		return nil, err
	}
	if err := checkStanding(ctx, &deps, r, p, CapAdminLogin, event); err != nil {
		return nil, err
	}

	issue, err := issueCode(ctx, &deps, r.email, PurposeAdminLogin, true)
	if err != nil {
		deps.EmitAudit(ctx, event, false, &p, r.email, err, r.meta())
		return nil, err
	}

	deps.MetricInc(deps.Metrics.LoginOTPRequired)
	deps.EmitAudit(ctx, event, true, &p, r.email, nil, r.meta("code_id", issue.ID))
	return &Challenge{ExpiresAt: issue.ExpiresAt}, nil
}

// RunVerifyAdminOTP redeems an admin_login code and mints the session token.
// With remember set (and the trusted-device capability) rememberedUntil is
// persisted and the token lives for the trusted-device window.
func RunVerifyAdminOTP(ctx context.Context, email, code string, remember bool, deps Deps) (*LoginResult, error) {
	normalizeDeps(&deps)
	if deps.FindByEmail == nil || deps.VerifyOTP == nil || deps.IssueToken == nil || deps.UpdatePrincipal == nil {
		return nil, deps.Errors.EngineNotReady
	}

	r := newRequest(ctx, &deps, email)
	event := deps.Events.AdminOTPVerify
	if err := checkLock(ctx, &deps, r, event); err != nil {
		return nil, err
	}

	p, err := deps.FindByEmail(ctx, PrincipalAdmin, r.email)
	if err != nil {
		if errors.Is(err, deps.Errors.NotFound) {
			recordFailure(ctx, &deps, r, limiters.AttemptOTP)
			deps.MetricInc(deps.Metrics.OTPVerifyFailure)
			deps.EmitAudit(ctx, event, false, nil, r.email, deps.Errors.OTPInvalidOrExpired, r.meta("reason", "unknown_account"))
			return nil, deps.Errors.OTPInvalidOrExpired
		}
		return nil, internalError(ctx, &deps, "principal lookup", err)
	}

	if err := verifyCode(ctx, &deps, r, code, PurposeAdminLogin); err != nil {
		err = publicOTPError(&deps, err)
		deps.EmitAudit(ctx, event, false, &p, r.email, err, r.meta())
		return nil, err
	}
	if err := checkStanding(ctx, &deps, r, p, CapAdminLogin, event); err != nil {
		return nil, err
	}

	now := deps.Now().UTC()
	trusted := remember && deps.Allowed(p.Role, CapTrustedDevice)
	expiresAt := now.Add(deps.AdminTTL)
	upd := PrincipalUpdate{LastLoginAt: &now}
	if trusted {
		expiresAt = now.Add(deps.TrustedDeviceTTL)
		upd.RememberedUntil = &expiresAt
	}

	if err := deps.UpdatePrincipal(ctx, p.ID, upd); err != nil {
		if trusted {
			return nil, internalError(ctx, &deps, "persist trusted device", err)
		}
		deps.Logger.Warn(ctx, "update last login", "principal_id", p.ID, "error", err)
	} else {
		p.LastLoginAt = &now
		if trusted {
			p.RememberedUntil = &expiresAt
		}
	}

	token, err := deps.IssueToken(p, expiresAt, trusted)
	if err != nil {
		return nil, internalError(ctx, &deps, "token issue", err)
	}
	clearAttempts(ctx, &deps, r, limiters.AttemptOTP, limiters.AttemptLogin)

	deps.MetricInc(deps.Metrics.LoginSuccess)
	deps.EmitAudit(ctx, event, true, &p, r.email, nil, r.meta("trusted_device", boolString(trusted)))
	return &LoginResult{
		Token:          token,
		TokenExpiresAt: expiresAt,
		Principal:      &p,
		TrustedDevice:  trusted,
	}, nil
}

// RunForgetDevice clears the trusted-device window of a principal. Tokens
// minted through that window stop authenticating immediately.
func RunForgetDevice(ctx context.Context, principalID string, deps Deps) error {
	normalizeDeps(&deps)
	if deps.FindByID == nil || deps.UpdatePrincipal == nil {
		return deps.Errors.EngineNotReady
	}

	p, err := deps.FindByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, deps.Errors.NotFound) {
			return deps.Errors.NotFound
		}
		return internalError(ctx, &deps, "principal lookup", err)
	}
	if err := deps.UpdatePrincipal(ctx, p.ID, PrincipalUpdate{ClearRememberedUntil: true}); err != nil {
		return internalError(ctx, &deps, "clear trusted device", err)
	}

	deps.EmitAudit(ctx, deps.Events.DeviceForgotten, true, &p, p.Email, nil, nil)
	return nil
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// trustedWindowOpen reports whether a trusted-device token may still be
// honoured for p.
func trustedWindowOpen(p Principal, now time.Time) bool {
	return p.RememberedUntil != nil && p.RememberedUntil.After(now)
}
