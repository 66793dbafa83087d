package flows

import (
	"context"
	"time"

	"github.com/brewline/cafeauth/internal/logging"
	"github.com/brewline/cafeauth/internal/stores"
)

// Principal types and statuses as persisted by the credential store.
const (
	PrincipalAdmin = "admin"
	PrincipalUser  = "user"

	StatusActive   = "active"
	StatusInactive = "inactive"

	RoleCustomer = "customer"
)

// OTP purposes.
const (
	PurposeAdminLogin        = "admin_login"
	PurposePasswordReset     = "password_reset"
	PurposeEmailVerification = "email_verification"
)

// Notification purposes sent after a successful flow.
const (
	NotifyWelcome         = "welcome"
	NotifyPasswordChanged = "password_changed"
)

// Capabilities consulted by the flows.
const (
	CapAdminLogin    = "admin.login"
	CapTrustedDevice = "admin.trusted_device"
	CapCustomerLogin = "customer.login"
	CapPasswordReset = "account.password_reset"
)

// Principal mirrors the credential store record.
type Principal struct {
	ID              string
	Type            string
	Email           string
	Username        string
	FullName        string
	Phone           string
	PasswordHash    string
	Role            string
	Status          string
	RememberedUntil *time.Time
	LastLoginAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PrincipalUpdate lists the mutable fields; nil pointers are left unchanged.
type PrincipalUpdate struct {
	PasswordHash         *string
	Status               *string
	RememberedUntil      *time.Time
	ClearRememberedUntil bool
	LastLoginAt          *time.Time
}

// SignupRequest is the customer registration payload.
type SignupRequest struct {
	Email    string
	Username string
	FullName string
	Phone    string
	Password string
}

// Challenge reports an OTP that is waiting to be redeemed.
type Challenge struct {
	ExpiresAt time.Time
	Resent    bool
}

// LoginResult is returned by every login step. Exactly one of Token or
// RequiresOTP is set.
type LoginResult struct {
	Token          string
	TokenExpiresAt time.Time
	Principal      *Principal
	RequiresOTP    bool
	OTPExpiresAt   time.Time
	TrustedDevice  bool
}

// TokenClaims is what the flows need back from a verified token.
type TokenClaims struct {
	PrincipalID   string
	PrincipalType string
	// Trusted marks a token minted through the trusted-device path; it is
	// only honoured while the principal still has a live RememberedUntil.
	Trusted bool
}

// Errors carries the public error values the flows return.
type Errors struct {
	EngineNotReady      error
	Authentication      error
	AccountInactive     error
	PermissionDenied    error
	OTPInvalidOrExpired error
	OTPAttemptsExceeded error
	Conflict            error
	DispatchFailure     error
	NotFound            error
	Unavailable         error
	TokenInvalid        error

	Validation func(field, reason string) error
	Locked     func(until time.Time) error
}

// Metrics maps flow outcomes to engine metric ids.
type Metrics struct {
	SignupRequested       int
	SignupVerified        int
	SignupConflict        int
	LoginSuccess          int
	LoginFailure          int
	LoginOTPRequired      int
	LoginTrustedDevice    int
	OTPVerifyFailure      int
	OTPAttemptsExceeded   int
	LockoutTriggered      int
	LockedRejection       int
	PasswordResetRequest  int
	PasswordResetComplete int
	DispatchFailure       int
}

// Events names the audit events emitted per flow.
type Events struct {
	SignupRequest    string
	SignupVerify     string
	AdminLogin       string
	AdminOTPRequest  string
	AdminOTPVerify   string
	CustomerLogin    string
	ResetRequest     string
	ResetConfirm     string
	DeviceForgotten  string
	LockoutTriggered string
	AdminCreated     string
}

// Deps wires every collaborator a flow may call. Nil optional fields are
// replaced with no-ops by normalizeDeps.
type Deps struct {
	Now    func() time.Time
	Logger logging.Logger

	OTPDigits        int
	AdminTTL         time.Duration
	TrustedDeviceTTL time.Duration
	CustomerTTL      time.Duration
	RequireUsername  bool

	ClientIP  func(context.Context) string
	UserAgent func(context.Context) string

	// Failed-attempt tracker. IsLocked returns the zero time when unlocked.
	IsLocked      func(ctx context.Context, email, ip string) (time.Time, error)
	RecordAttempt func(ctx context.Context, email, ip, userAgent, kind string) (lockedUntil time.Time, err error)
	ClearAttempts func(ctx context.Context, email, ip string, kinds ...string) error

	// OTP ledger.
	GenerateOTP            func(ctx context.Context, email, purpose string, forceNew bool) (stores.OTPIssue, error)
	VerifyOTP              func(ctx context.Context, email, code, purpose string) error
	IncrementFailedAttempt func(ctx context.Context, email, code, purpose string) (int, error)

	// Signup staging.
	StageSignup  func(ctx context.Context, rec stores.StagedSignup) (string, error)
	GetSignup    func(ctx context.Context, email, ip string) (stores.StagedSignup, error)
	DeleteSignup func(ctx context.Context, email, ip string) error

	// Credential store. Lookups return Errors.NotFound for a missing
	// principal; Create returns Errors.Conflict on a uniqueness violation.
	FindByEmail     func(ctx context.Context, principalType, email string) (Principal, error)
	FindByUsername  func(ctx context.Context, principalType, username string) (Principal, error)
	FindByID        func(ctx context.Context, id string) (Principal, error)
	CreatePrincipal func(ctx context.Context, p Principal) (Principal, error)
	UpdatePrincipal func(ctx context.Context, id string, upd PrincipalUpdate) error

	ValidatePassword func(password string) error
	HashPassword     func(password string) (string, error)
	VerifyPassword   func(password, encodedHash string) (bool, error)
	// NeedsRehash reports hashes made with outdated cost parameters.
	NeedsRehash      func(encodedHash string) bool

	IssueToken func(p Principal, expiresAt time.Time, trusted bool) (string, error)
	ParseToken func(token string) (TokenClaims, error)
	Allowed    func(role, capability string) bool

	Notify func(ctx context.Context, email, purpose string, payload map[string]string) error

	MetricInc func(int)
	EmitAudit func(ctx context.Context, event string, success bool, p *Principal, email string, err error, metadata func() map[string]string)

	Metrics Metrics
	Events  Events
	Errors  Errors
}

func normalizeDeps(deps *Deps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.OTPDigits <= 0 {
		deps.OTPDigits = 6
	}
	if deps.AdminTTL <= 0 {
		deps.AdminTTL = 24 * time.Hour
	}
	if deps.TrustedDeviceTTL <= 0 {
		deps.TrustedDeviceTTL = 30 * 24 * time.Hour
	}
	if deps.CustomerTTL <= 0 {
		deps.CustomerTTL = 24 * time.Hour
	}
	if deps.ClientIP == nil {
		deps.ClientIP = func(context.Context) string { return "" }
	}
	if deps.UserAgent == nil {
		deps.UserAgent = func(context.Context) string { return "" }
	}
	if deps.Allowed == nil {
		deps.Allowed = func(string, string) bool { return false }
	}
	if deps.Notify == nil {
		deps.Notify = func(context.Context, string, string, map[string]string) error { return nil }
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, *Principal, string, error, func() map[string]string) {}
	}
}
