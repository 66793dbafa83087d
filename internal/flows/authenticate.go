package flows

import (
	"context"
	"errors"
)

// RunAuthenticate verifies a session token and reloads its principal from
// the credential store. Role and status always come from the store, never
// from the token.
func RunAuthenticate(ctx context.Context, token string, deps Deps) (*Principal, error) {
	normalizeDeps(&deps)
	if deps.ParseToken == nil || deps.FindByID == nil {
		return nil, deps.Errors.EngineNotReady
	}

	claims, err := deps.ParseToken(token)
	if err != nil {
		return nil, deps.Errors.TokenInvalid
	}

	p, err := deps.FindByID(ctx, claims.PrincipalID)
	if err != nil {
		if errors.Is(err, deps.Errors.NotFound) {
			return nil, deps.Errors.TokenInvalid
		}
		return nil, internalError(ctx, &deps, "principal lookup", err)
	}
	if p.Type != claims.PrincipalType {
		return nil, deps.Errors.TokenInvalid
	}
	if claims.Trusted && !trustedWindowOpen(p, deps.Now()) {
		return nil, deps.Errors.TokenInvalid
	}
	if p.Status != StatusActive {
		return nil, deps.Errors.AccountInactive
	}
	return &p, nil
}
