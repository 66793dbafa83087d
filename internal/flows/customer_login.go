package flows

import (
	"context"

	"github.com/brewline/cafeauth/internal/limiters"
)

// RunCustomerLogin authenticates a customer with email and password. There
// is no second factor and no trusted-device extension.
func RunCustomerLogin(ctx context.Context, email, password string, deps Deps) (*LoginResult, error) {
	normalizeDeps(&deps)
	if deps.FindByEmail == nil || deps.VerifyPassword == nil || deps.IssueToken == nil {
		return nil, deps.Errors.EngineNotReady
	}

	r := newRequest(ctx, &deps, email)
	event := deps.Events.CustomerLogin
	if err := checkLock(ctx, &deps, r, event); err != nil {
		return nil, err
	}

	p, err := checkPassword(ctx, &deps, r, PrincipalUser, password, event)
	if err != nil {
		return nil, err
	}
	if err := checkStanding(ctx, &deps, r, p, CapCustomerLogin, event); err != nil {
		return nil, err
	}

	now := deps.Now().UTC()
	expiresAt := now.Add(deps.CustomerTTL)
	token, err := deps.IssueToken(p, expiresAt, false)
	if err != nil {
		return nil, internalError(ctx, &deps, "token issue", err)
	}
	touchLastLogin(ctx, &deps, &p, now)
	clearAttempts(ctx, &deps, r, limiters.AttemptLogin)

	deps.MetricInc(deps.Metrics.LoginSuccess)
	deps.EmitAudit(ctx, event, true, &p, r.email, nil, r.meta())
	return &LoginResult{
		Token:          token,
		TokenExpiresAt: expiresAt,
		Principal:      &p,
	}, nil
}
