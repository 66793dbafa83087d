package flows

import (
	"context"
	"errors"

	"github.com/brewline/cafeauth/internal/limiters"
)

// RunRequestPasswordReset sends a password_reset code to an existing
// principal of the given type. Probing an unknown address counts as a
// failed login attempt.
func RunRequestPasswordReset(ctx context.Context, principalType, email string, deps Deps) (*Challenge, error) {
	normalizeDeps(&deps)
	if deps.FindByEmail == nil || deps.GenerateOTP == nil {
		return nil, deps.Errors.EngineNotReady
	}

	r := newRequest(ctx, &deps, email)
	event := deps.Events.ResetRequest
	if err := checkLock(ctx, &deps, r, event); err != nil {
		return nil, err
	}

	p, err := deps.FindByEmail(ctx, principalType, r.email)
	if err != nil {
		if errors.Is(err, deps.Errors.NotFound) {
			recordFailure(ctx, &deps, r, limiters.AttemptLogin)
			deps.EmitAudit(ctx, event, false, nil, r.email, deps.Errors.NotFound, r.meta("principal_type", principalType))
			return nil, deps.Errors.NotFound
		}
		return nil, internalError(ctx, &deps, "principal lookup", err)
	}
	if err := checkStanding(ctx, &deps, r, p, CapPasswordReset, event); err != nil {
		return nil, err
	}

	issue, err := issueCode(ctx, &deps, r.email, PurposePasswordReset, true)
	if err != nil {
		deps.EmitAudit(ctx, event, false, &p, r.email, err, r.meta())
		return nil, err
	}

	deps.MetricInc(deps.Metrics.PasswordResetRequest)
	deps.EmitAudit(ctx, event, true, &p, r.email, nil, r.meta("code_id", issue.ID))
	return &Challenge{ExpiresAt: issue.ExpiresAt}, nil
}

// RunResetPassword redeems a password_reset code and stores the new
// password. The policy is checked before the code so a weak password does
// not burn an attempt. Resetting also revokes the trusted device.
func RunResetPassword(ctx context.Context, principalType, email, code, newPassword string, deps Deps) error {
	normalizeDeps(&deps)
	if deps.FindByEmail == nil || deps.VerifyOTP == nil || deps.HashPassword == nil || deps.UpdatePrincipal == nil {
		return deps.Errors.EngineNotReady
	}

	r := newRequest(ctx, &deps, email)
	event := deps.Events.ResetConfirm
	if err := deps.ValidatePassword(newPassword); err != nil {
		verr := deps.Errors.Validation("password", err.Error())
		deps.EmitAudit(ctx, event, false, nil, r.email, verr, r.meta())
		return verr
	}
	if err := checkLock(ctx, &deps, r, event); err != nil {
		return err
	}

	p, err := deps.FindByEmail(ctx, principalType, r.email)
	if err != nil {
		if errors.Is(err, deps.Errors.NotFound) {
			recordFailure(ctx, &deps, r, limiters.AttemptOTP)
			deps.EmitAudit(ctx, event, false, nil, r.email, deps.Errors.OTPInvalidOrExpired, r.meta("reason", "unknown_account"))
			return deps.Errors.OTPInvalidOrExpired
		}
		return internalError(ctx, &deps, "principal lookup", err)
	}

	if err := verifyCode(ctx, &deps, r, code, PurposePasswordReset); err != nil {
		err = publicOTPError(&deps, err)
		deps.EmitAudit(ctx, event, false, &p, r.email, err, r.meta())
		return err
	}

	hash, err := deps.HashPassword(newPassword)
	if err != nil {
		return internalError(ctx, &deps, "password hash", err)
	}
	if err := deps.UpdatePrincipal(ctx, p.ID, PrincipalUpdate{
		PasswordHash:         &hash,
		ClearRememberedUntil: true,
	}); err != nil {
		return internalError(ctx, &deps, "password update", err)
	}
	clearAttempts(ctx, &deps, r, limiters.AttemptOTP, limiters.AttemptLogin)

	notify(ctx, &deps, p.Email, NotifyPasswordChanged, map[string]string{
		"changed_at": deps.Now().UTC().Format("2006-01-02 15:04 MST"),
	})

	deps.MetricInc(deps.Metrics.PasswordResetComplete)
	deps.EmitAudit(ctx, event, true, &p, r.email, nil, r.meta())
	return nil
}
