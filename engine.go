package cafeauth

import (
	"context"
	"time"

	"github.com/brewline/cafeauth/internal/audit"
	"github.com/brewline/cafeauth/internal/flows"
	"github.com/brewline/cafeauth/internal/limiters"
	"github.com/brewline/cafeauth/internal/logging"
	"github.com/brewline/cafeauth/internal/stores"
	"github.com/brewline/cafeauth/jwt"
	"github.com/brewline/cafeauth/password"
)

// Engine runs the signup, login and password reset flows. It holds no
// per-request state; every coordination record lives in Redis or the
// credential store, so any number of engines may share them.
type Engine struct {
	config       Config
	logger       logging.Logger
	now          func() time.Time
	store        CredentialStore
	notifier     Notifier
	otp          *stores.OTPLedger
	staging      *stores.SignupStaging
	attempts     *limiters.AttemptTracker
	passwordHash *password.Argon2
	jwtManager   *jwt.Manager
	capabilities capabilitySet
	audit        *audit.Dispatcher
	metrics      *Metrics
	flows        flows.Service
}

// Close flushes pending audit events and stops the dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports events discarded because the audit buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() bool {
	return e != nil && e.flows.Initialized()
}

func (e *Engine) flowDeps() flows.Deps {
	cfg := e.config

	return flows.Deps{
		Now:    e.now,
		Logger: e.logger,

		OTPDigits:        cfg.OTP.Digits,
		AdminTTL:         cfg.Token.AdminTTL,
		TrustedDeviceTTL: cfg.Token.TrustedDeviceTTL,
		CustomerTTL:      cfg.Token.CustomerTTL,
		RequireUsername:  cfg.Signup.RequireUsername,

		ClientIP:  clientIPFromContext,
		UserAgent: userAgentFromContext,

		IsLocked: func(ctx context.Context, email, ip string) (time.Time, error) {
			state, err := e.attempts.IsLocked(ctx, email, ip)
			if err != nil || state == nil {
				return time.Time{}, err
			}
			return state.LockedUntil, nil
		},
		RecordAttempt: func(ctx context.Context, email, ip, userAgent, kind string) (time.Time, error) {
			state, err := e.attempts.Record(ctx, email, ip, userAgent, kind)
			if err != nil || !state.Locked {
				return time.Time{}, err
			}
			return state.LockedUntil, nil
		},
		ClearAttempts: e.attempts.Clear,

		GenerateOTP:            e.otp.Generate,
		VerifyOTP:              e.otp.Verify,
		IncrementFailedAttempt: e.otp.IncrementFailedAttempt,

		StageSignup:  e.staging.Stage,
		GetSignup:    e.staging.Get,
		DeleteSignup: e.staging.Delete,

		FindByEmail: func(ctx context.Context, principalType, email string) (flows.Principal, error) {
			p, err := e.store.FindByEmail(ctx, PrincipalType(principalType), email)
			if err != nil {
				return flows.Principal{}, err
			}
			return toFlowPrincipal(p), nil
		},
		FindByUsername: func(ctx context.Context, principalType, username string) (flows.Principal, error) {
			p, err := e.store.FindByUsername(ctx, PrincipalType(principalType), username)
			if err != nil {
				return flows.Principal{}, err
			}
			return toFlowPrincipal(p), nil
		},
		FindByID: func(ctx context.Context, id string) (flows.Principal, error) {
			p, err := e.store.FindByID(ctx, id)
			if err != nil {
				return flows.Principal{}, err
			}
			return toFlowPrincipal(p), nil
		},
		CreatePrincipal: func(ctx context.Context, fp flows.Principal) (flows.Principal, error) {
			p, err := e.store.Create(ctx, fromFlowPrincipal(fp))
			if err != nil {
				return flows.Principal{}, err
			}
			return toFlowPrincipal(p), nil
		},
		UpdatePrincipal: func(ctx context.Context, id string, upd flows.PrincipalUpdate) error {
			return e.store.Update(ctx, id, fromFlowUpdate(upd))
		},

		ValidatePassword: e.passwordHash.Validate,
		HashPassword:     e.passwordHash.Hash,
		VerifyPassword:   e.passwordHash.Verify,
		NeedsRehash: func(hash string) bool {
			stale, err := e.passwordHash.NeedsUpgrade(hash)
			return err == nil && stale
		},

		IssueToken: func(p flows.Principal, expiresAt time.Time, trusted bool) (string, error) {
			return e.jwtManager.Issue(jwt.Subject{
				PrincipalID:   p.ID,
				Email:         p.Email,
				Role:          p.Role,
				PrincipalType: p.Type,
				Trusted:       trusted,
			}, expiresAt)
		},
		ParseToken: func(token string) (flows.TokenClaims, error) {
			claims, err := e.jwtManager.Parse(token)
			if err != nil {
				return flows.TokenClaims{}, err
			}
			return flows.TokenClaims{
				PrincipalID:   claims.PrincipalID,
				PrincipalType: claims.PrincipalType,
				Trusted:       claims.Trusted,
			}, nil
		},
		Allowed: func(role, capability string) bool {
			return e.capabilities.allowed(Role(role), Capability(capability))
		},

		Notify: func(ctx context.Context, email, purpose string, payload map[string]string) error {
			return e.notifier.Send(ctx, Notification{Email: email, Purpose: purpose, Payload: payload})
		},

		MetricInc: func(id int) { e.metricInc(MetricID(id)) },
		EmitAudit: e.emitAudit,

		Metrics: flows.Metrics{
			SignupRequested:       int(MetricSignupRequested),
			SignupVerified:        int(MetricSignupVerified),
			SignupConflict:        int(MetricSignupConflict),
			LoginSuccess:          int(MetricLoginSuccess),
			LoginFailure:          int(MetricLoginFailure),
			LoginOTPRequired:      int(MetricLoginOTPRequired),
			LoginTrustedDevice:    int(MetricLoginTrustedDevice),
			OTPVerifyFailure:      int(MetricOTPVerifyFailure),
			OTPAttemptsExceeded:   int(MetricOTPAttemptsExceeded),
			LockoutTriggered:      int(MetricLockoutTriggered),
			LockedRejection:       int(MetricLockedRejection),
			PasswordResetRequest:  int(MetricPasswordResetRequest),
			PasswordResetComplete: int(MetricPasswordResetComplete),
			DispatchFailure:       int(MetricDispatchFailure),
		},
		Events: flows.Events{
			SignupRequest:    AuditSignupRequest,
			SignupVerify:     AuditSignupVerify,
			AdminLogin:       AuditAdminLogin,
			AdminOTPRequest:  AuditAdminOTPRequest,
			AdminOTPVerify:   AuditAdminOTPVerify,
			CustomerLogin:    AuditCustomerLogin,
			ResetRequest:     AuditResetRequest,
			ResetConfirm:     AuditResetConfirm,
			DeviceForgotten:  AuditDeviceForgotten,
			LockoutTriggered: AuditLockoutTriggered,
			AdminCreated:     AuditAdminCreated,
		},
		Errors: flows.Errors{
			EngineNotReady:      ErrEngineNotReady,
			Authentication:      ErrAuthentication,
			AccountInactive:     ErrAccountInactive,
			PermissionDenied:    ErrPermissionDenied,
			OTPInvalidOrExpired: ErrOTPInvalidOrExpired,
			OTPAttemptsExceeded: ErrOTPAttemptsExceeded,
			Conflict:            ErrConflict,
			DispatchFailure:     ErrDispatchFailure,
			NotFound:            ErrNotFound,
			Unavailable:         ErrUnavailable,
			TokenInvalid:        ErrTokenInvalid,
			Validation: func(field, reason string) error {
				return &ValidationError{Field: field, Reason: reason}
			},
			Locked: func(until time.Time) error {
				return newLockedError(until, e.now)
			},
		},
	}
}

func toFlowPrincipal(p Principal) flows.Principal {
	return flows.Principal{
		ID:              p.ID,
		Type:            string(p.Type),
		Email:           p.Email,
		Username:        p.Username,
		FullName:        p.FullName,
		Phone:           p.Phone,
		PasswordHash:    p.PasswordHash,
		Role:            string(p.Role),
		Status:          string(p.Status),
		RememberedUntil: p.RememberedUntil,
		LastLoginAt:     p.LastLoginAt,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

func fromFlowPrincipal(p flows.Principal) Principal {
	return Principal{
		ID:              p.ID,
		Type:            PrincipalType(p.Type),
		Email:           p.Email,
		Username:        p.Username,
		FullName:        p.FullName,
		Phone:           p.Phone,
		PasswordHash:    p.PasswordHash,
		Role:            Role(p.Role),
		Status:          Status(p.Status),
		RememberedUntil: p.RememberedUntil,
		LastLoginAt:     p.LastLoginAt,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

// publicPrincipal converts a flow result for callers, without the hash.
func publicPrincipal(p *flows.Principal) *Principal {
	if p == nil {
		return nil
	}
	out := fromFlowPrincipal(*p)
	out.PasswordHash = ""
	return &out
}

func fromFlowUpdate(u flows.PrincipalUpdate) PrincipalUpdate {
	out := PrincipalUpdate{
		PasswordHash:         u.PasswordHash,
		RememberedUntil:      u.RememberedUntil,
		ClearRememberedUntil: u.ClearRememberedUntil,
		LastLoginAt:          u.LastLoginAt,
	}
	if u.Status != nil {
		s := Status(*u.Status)
		out.Status = &s
	}
	return out
}

func fromFlowLoginResult(r *flows.LoginResult) *LoginResult {
	if r == nil {
		return nil
	}
	return &LoginResult{
		Token:          r.Token,
		TokenExpiresAt: r.TokenExpiresAt,
		Principal:      publicPrincipal(r.Principal),
		RequiresOTP:    r.RequiresOTP,
		OTPExpiresAt:   r.OTPExpiresAt,
		TrustedDevice:  r.TrustedDevice,
	}
}

func fromFlowChallenge(c *flows.Challenge) *OTPChallenge {
	if c == nil {
		return nil
	}
	return &OTPChallenge{ExpiresAt: c.ExpiresAt}
}
