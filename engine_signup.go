package cafeauth

import (
	"context"

	"github.com/brewline/cafeauth/internal/flows"
)

// RequestSignupOTP validates and stages a customer registration, then sends
// an email verification code. The caller's IP (see WithClientIP) scopes the
// staged record; verification must come from the same address.
func (e *Engine) RequestSignupOTP(ctx context.Context, req SignupRequest) (*OTPChallenge, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	c, err := e.flows.RequestSignupOTP(ctx, flows.SignupRequest{
		Email:    req.Email,
		Username: req.Username,
		FullName: req.FullName,
		Phone:    req.Phone,
		Password: req.Password,
	})
	return fromFlowChallenge(c), err
}

// ResendSignupOTP replaces the pending verification code while the staged
// registration is still alive. It returns ErrNotFound otherwise.
func (e *Engine) ResendSignupOTP(ctx context.Context, email string) (*OTPChallenge, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	c, err := e.flows.ResendSignupOTP(ctx, email)
	return fromFlowChallenge(c), err
}

// VerifySignupOTP redeems the verification code and promotes the staged
// registration to an active customer. Of two concurrent calls with the same
// code at most one creates a principal.
func (e *Engine) VerifySignupOTP(ctx context.Context, email, code string) (*Principal, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	p, err := e.flows.VerifySignupOTP(ctx, email, code)
	return publicPrincipal(p), err
}
