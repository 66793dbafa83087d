package cafeauth

import "context"

// Login checks admin credentials. An admin whose trusted device window is
// still open receives a token directly; everyone else is sent a login code
// and gets RequiresOTP.
func (e *Engine) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	r, err := e.flows.AdminLogin(ctx, email, password)
	return fromFlowLoginResult(r), err
}

// RequestAdminOTP re-checks the credentials and sends a fresh login code,
// replacing any code still pending.
func (e *Engine) RequestAdminOTP(ctx context.Context, email, password string) (*OTPChallenge, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	c, err := e.flows.RequestAdminOTP(ctx, email, password)
	return fromFlowChallenge(c), err
}

// VerifyAdminOTP redeems the login code. With remember set, and when the
// role holds CapTrustedDevice, the device is trusted for
// Token.TrustedDeviceTTL and the token lives as long.
func (e *Engine) VerifyAdminOTP(ctx context.Context, email, code string, remember bool) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	r, err := e.flows.VerifyAdminOTP(ctx, email, code, remember)
	return fromFlowLoginResult(r), err
}

// LoginCustomer checks customer credentials and issues a token.
func (e *Engine) LoginCustomer(ctx context.Context, email, password string) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	r, err := e.flows.CustomerLogin(ctx, email, password)
	return fromFlowLoginResult(r), err
}

// ForgetDevice ends the trusted device window of an admin. Tokens issued
// through it stop authenticating immediately.
func (e *Engine) ForgetDevice(ctx context.Context, principalID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return e.flows.ForgetDevice(ctx, principalID)
}
