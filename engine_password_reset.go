package cafeauth

import "context"

// RequestPasswordReset sends a reset code to a customer.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) (*OTPChallenge, error) {
	return e.requestPasswordReset(ctx, PrincipalUser, email)
}

// ResetPassword redeems a customer reset code and sets newPassword.
func (e *Engine) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	return e.resetPassword(ctx, PrincipalUser, email, code, newPassword)
}

func (e *Engine) RequestAdminPasswordReset(ctx context.Context, email string) (*OTPChallenge, error) {
	return e.requestPasswordReset(ctx, PrincipalAdmin, email)
}

// ResetAdminPassword also ends the admin's trusted device window.
func (e *Engine) ResetAdminPassword(ctx context.Context, email, code, newPassword string) error {
	return e.resetPassword(ctx, PrincipalAdmin, email, code, newPassword)
}

func (e *Engine) requestPasswordReset(ctx context.Context, t PrincipalType, email string) (*OTPChallenge, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	c, err := e.flows.RequestPasswordReset(ctx, string(t), email)
	return fromFlowChallenge(c), err
}

func (e *Engine) resetPassword(ctx context.Context, t PrincipalType, email, code, newPassword string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return e.flows.ResetPassword(ctx, string(t), email, code, newPassword)
}
