package flows

import "context"

// Service is the flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	normalizeDeps(&deps)
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.GenerateOTP != nil && s.deps.FindByEmail != nil
}

func (s Service) RequestSignupOTP(ctx context.Context, req SignupRequest) (*Challenge, error) {
	return RunRequestSignupOTP(ctx, req, s.deps)
}

func (s Service) ResendSignupOTP(ctx context.Context, email string) (*Challenge, error) {
	return RunResendSignupOTP(ctx, email, s.deps)
}

func (s Service) VerifySignupOTP(ctx context.Context, email, code string) (*Principal, error) {
	return RunVerifySignupOTP(ctx, email, code, s.deps)
}

func (s Service) AdminLogin(ctx context.Context, email, password string) (*LoginResult, error) {
	return RunAdminLogin(ctx, email, password, s.deps)
}

func (s Service) RequestAdminOTP(ctx context.Context, email, password string) (*Challenge, error) {
	return RunRequestAdminOTP(ctx, email, password, s.deps)
}

func (s Service) VerifyAdminOTP(ctx context.Context, email, code string, remember bool) (*LoginResult, error) {
	return RunVerifyAdminOTP(ctx, email, code, remember, s.deps)
}

func (s Service) CustomerLogin(ctx context.Context, email, password string) (*LoginResult, error) {
	return RunCustomerLogin(ctx, email, password, s.deps)
}

func (s Service) RequestPasswordReset(ctx context.Context, principalType, email string) (*Challenge, error) {
	return RunRequestPasswordReset(ctx, principalType, email, s.deps)
}

func (s Service) ResetPassword(ctx context.Context, principalType, email, code, newPassword string) error {
	return RunResetPassword(ctx, principalType, email, code, newPassword, s.deps)
}

func (s Service) ForgetDevice(ctx context.Context, principalID string) error {
	return RunForgetDevice(ctx, principalID, s.deps)
}

func (s Service) Authenticate(ctx context.Context, token string) (*Principal, error) {
	return RunAuthenticate(ctx, token, s.deps)
}

func (s Service) CreateAdmin(ctx context.Context, req AdminRequest) (*Principal, error) {
	return RunCreateAdmin(ctx, req, s.deps)
}
