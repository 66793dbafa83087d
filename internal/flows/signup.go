package flows

import (
	"context"
	"errors"

	"github.com/brewline/cafeauth/internal"
	"github.com/brewline/cafeauth/internal/limiters"
	"github.com/brewline/cafeauth/internal/stores"
)

// RunRequestSignupOTP stages a customer registration and sends the email
// verification code. A dispatch failure removes the staged record again.
func RunRequestSignupOTP(ctx context.Context, req SignupRequest, deps Deps) (*Challenge, error) {
	normalizeDeps(&deps)
	if deps.StageSignup == nil || deps.DeleteSignup == nil || deps.GenerateOTP == nil || deps.FindByEmail == nil || deps.HashPassword == nil {
		return nil, deps.Errors.EngineNotReady
	}

	if err := validateSignup(&req, &deps); err != nil {
		deps.EmitAudit(ctx, deps.Events.SignupRequest, false, nil, req.Email, err, nil)
		return nil, err
	}

	r := newRequest(ctx, &deps, req.Email)
	if err := checkLock(ctx, &deps, r, deps.Events.SignupRequest); err != nil {
		return nil, err
	}

	if err := ensureUnique(ctx, &deps, req.Email, req.Username); err != nil {
		if errors.Is(err, deps.Errors.Conflict) {
			recordFailure(ctx, &deps, r, limiters.AttemptSignup)
			deps.EmitAudit(ctx, deps.Events.SignupRequest, false, nil, r.email, err, r.meta())
		}
		return nil, err
	}

	hash, err := deps.HashPassword(req.Password)
	if err != nil {
		return nil, internalError(ctx, &deps, "password hash", err)
	}

	stagingID, err := deps.StageSignup(ctx, stores.StagedSignup{
		Email:        r.email,
		Username:     req.Username,
		FullName:     req.FullName,
		Phone:        req.Phone,
		PasswordHash: hash,
		IP:           r.ip,
		UserAgent:    r.ua,
		CreatedAt:    deps.Now().UTC(),
	})
	if err != nil {
		return nil, internalError(ctx, &deps, "signup staging", err)
	}

	issue, err := issueCode(ctx, &deps, r.email, PurposeEmailVerification, true)
	if err != nil {
		if derr := deps.DeleteSignup(ctx, r.email, r.ip); derr != nil {
			deps.Logger.Error(ctx, "signup staging rollback", "error", derr)
		}
		deps.EmitAudit(ctx, deps.Events.SignupRequest, false, nil, r.email, err, r.meta("staging_id", stagingID))
		return nil, err
	}

	deps.MetricInc(deps.Metrics.SignupRequested)
	deps.EmitAudit(ctx, deps.Events.SignupRequest, true, nil, r.email, nil, r.meta("staging_id", stagingID, "code_id", issue.ID))
	return &Challenge{ExpiresAt: issue.ExpiresAt}, nil
}

// RunResendSignupOTP issues a fresh verification code for a registration
// that is still staged.
func RunResendSignupOTP(ctx context.Context, email string, deps Deps) (*Challenge, error) {
	normalizeDeps(&deps)
	if deps.GetSignup == nil || deps.GenerateOTP == nil {
		return nil, deps.Errors.EngineNotReady
	}

	r := newRequest(ctx, &deps, email)
	if err := checkLock(ctx, &deps, r, deps.Events.SignupRequest); err != nil {
		return nil, err
	}

	if _, err := deps.GetSignup(ctx, r.email, r.ip); err != nil {
		if errors.Is(err, stores.ErrStagingNotFound) {
			deps.EmitAudit(ctx, deps.Events.SignupRequest, false, nil, r.email, deps.Errors.NotFound, r.meta("resend", "true"))
			return nil, deps.Errors.NotFound
		}
		return nil, internalError(ctx, &deps, "signup staging lookup", err)
	}

	issue, err := issueCode(ctx, &deps, r.email, PurposeEmailVerification, true)
	if err != nil {
		deps.EmitAudit(ctx, deps.Events.SignupRequest, false, nil, r.email, err, r.meta("resend", "true"))
		return nil, err
	}

	deps.MetricInc(deps.Metrics.SignupRequested)
	deps.EmitAudit(ctx, deps.Events.SignupRequest, true, nil, r.email, nil, r.meta("resend", "true", "code_id", issue.ID))
	return &Challenge{ExpiresAt: issue.ExpiresAt, Resent: true}, nil
}

// RunVerifySignupOTP redeems the verification code and promotes the staged
// registration into a customer principal. Uniqueness is re-checked at
// promotion time; the store's own constraint turns a lost race into
// Errors.Conflict.
func RunVerifySignupOTP(ctx context.Context, email, code string, deps Deps) (*Principal, error) {
	normalizeDeps(&deps)
	if deps.GetSignup == nil || deps.VerifyOTP == nil || deps.CreatePrincipal == nil || deps.DeleteSignup == nil {
		return nil, deps.Errors.EngineNotReady
	}

	r := newRequest(ctx, &deps, email)
	if err := checkLock(ctx, &deps, r, deps.Events.SignupVerify); err != nil {
		return nil, err
	}

	staged, err := deps.GetSignup(ctx, r.email, r.ip)
	if err != nil {
		if errors.Is(err, stores.ErrStagingNotFound) {
			recordFailure(ctx, &deps, r, limiters.AttemptOTP)
			deps.EmitAudit(ctx, deps.Events.SignupVerify, false, nil, r.email, deps.Errors.NotFound, r.meta())
			return nil, deps.Errors.NotFound
		}
		return nil, internalError(ctx, &deps, "signup staging lookup", err)
	}

	if err := verifyCode(ctx, &deps, r, code, PurposeEmailVerification); err != nil {
		if errors.Is(err, stores.ErrOTPConsumed) {
			err = consumedSignupError(&deps)
		}
		deps.EmitAudit(ctx, deps.Events.SignupVerify, false, nil, r.email, err, r.meta())
		return nil, err
	}

	if err := ensureUnique(ctx, &deps, staged.Email, staged.Username); err != nil {
		if errors.Is(err, deps.Errors.Conflict) {
			return nil, abandonSignup(ctx, &deps, r, err)
		}
		return nil, err
	}

	now := deps.Now().UTC()
	created, err := deps.CreatePrincipal(ctx, Principal{
		Type:         PrincipalUser,
		Email:        staged.Email,
		Username:     staged.Username,
		FullName:     staged.FullName,
		Phone:        staged.Phone,
		PasswordHash: staged.PasswordHash,
		Role:         RoleCustomer,
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		if errors.Is(err, deps.Errors.Conflict) {
			return nil, abandonSignup(ctx, &deps, r, deps.Errors.Conflict)
		}
		return nil, internalError(ctx, &deps, "principal create", err)
	}

	if err := deps.DeleteSignup(ctx, r.email, r.ip); err != nil {
		deps.Logger.Warn(ctx, "delete promoted signup", "error", err)
	}
	clearAttempts(ctx, &deps, r, limiters.AttemptOTP, limiters.AttemptSignup)

	notify(ctx, &deps, created.Email, NotifyWelcome, map[string]string{
		"full_name": created.FullName,
		"username":  created.Username,
	})

	deps.MetricInc(deps.Metrics.SignupVerified)
	deps.EmitAudit(ctx, deps.Events.SignupVerify, true, &created, r.email, nil, r.meta("staging_id", staged.ID))
	return &created, nil
}

// consumedSignupError resolves a replayed code. The code was redeemed by
// another verify call, so this one lost the race or is a replay; either way
// it gets Errors.Conflict, even while the winner is still creating the
// principal.
func consumedSignupError(deps *Deps) error {
	deps.MetricInc(deps.Metrics.SignupConflict)
	return deps.Errors.Conflict
}

// abandonSignup drops the staged record after a uniqueness conflict so the
// registration has to start over.
func abandonSignup(ctx context.Context, deps *Deps, r request, cause error) error {
	if err := deps.DeleteSignup(ctx, r.email, r.ip); err != nil {
		deps.Logger.Warn(ctx, "delete conflicting signup", "error", err)
	}
	deps.MetricInc(deps.Metrics.SignupConflict)
	deps.EmitAudit(ctx, deps.Events.SignupVerify, false, nil, r.email, cause, r.meta("reason", "conflict"))
	return cause
}

// ensureUnique returns Errors.Conflict when email or username is taken by a
// customer principal.
func ensureUnique(ctx context.Context, deps *Deps, email, username string) error {
	_, err := deps.FindByEmail(ctx, PrincipalUser, internal.NormalizeEmail(email))
	switch {
	case err == nil:
		return deps.Errors.Conflict
	case !errors.Is(err, deps.Errors.NotFound):
		return internalError(ctx, deps, "principal lookup", err)
	}

	if username == "" || deps.FindByUsername == nil {
		return nil
	}
	_, err = deps.FindByUsername(ctx, PrincipalUser, username)
	switch {
	case err == nil:
		return deps.Errors.Conflict
	case !errors.Is(err, deps.Errors.NotFound):
		return internalError(ctx, deps, "principal lookup", err)
	}
	return nil
}
