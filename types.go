package cafeauth

import (
	"context"
	"time"
)

// PrincipalType distinguishes staff accounts from customers.
type PrincipalType string

const (
	PrincipalAdmin PrincipalType = "admin"
	PrincipalUser  PrincipalType = "user"
)

// Role is stored on the principal and resolved through the capability table.
type Role string

const (
	RoleSuperAdmin Role = "superadmin"
	RoleManager    Role = "manager"
	RoleStaff      Role = "staff"
	RoleCustomer   Role = "customer"
)

// Valid reports whether r may be assigned to a principal of type t.
func (r Role) Valid(t PrincipalType) bool {
	switch t {
	case PrincipalAdmin:
		return r == RoleSuperAdmin || r == RoleManager || r == RoleStaff
	case PrincipalUser:
		return r == RoleCustomer
	}
	return false
}

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Principal is an authenticated identity. Principals are never hard-deleted
// by this package.
type Principal struct {
	ID           string
	Type         PrincipalType
	Email        string
	Username     string
	FullName     string
	Phone        string
	PasswordHash string
	Role         Role
	Status       Status
	// RememberedUntil is the trusted-device window. Admin only.
	RememberedUntil *time.Time
	LastLoginAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PrincipalUpdate carries a partial update. Nil fields are left unchanged;
// ClearRememberedUntil wins over RememberedUntil.
type PrincipalUpdate struct {
	PasswordHash         *string
	Status               *Status
	RememberedUntil      *time.Time
	ClearRememberedUntil bool
	LastLoginAt          *time.Time
}

// CredentialStore persists principals. Email and username are unique per
// principal type, compared case-insensitively. Lookups return ErrNotFound
// for a missing principal and Create returns ErrConflict when a uniqueness
// constraint rejects the row.
type CredentialStore interface {
	FindByEmail(ctx context.Context, t PrincipalType, email string) (Principal, error)
	FindByUsername(ctx context.Context, t PrincipalType, username string) (Principal, error)
	FindByID(ctx context.Context, id string) (Principal, error)
	Create(ctx context.Context, p Principal) (Principal, error)
	Update(ctx context.Context, id string, upd PrincipalUpdate) error
}

// Notification purposes.
const (
	NotifyEmailVerification = "email_verification"
	NotifyAdminLogin        = "admin_login"
	NotifyPasswordReset     = "password_reset"
	NotifyWelcome           = "welcome"
	NotifyPasswordChanged   = "password_changed"
)

// Notification is one outbound message. For code deliveries Payload holds
// "code" and "expires_at" (RFC 3339).
type Notification struct {
	Email   string
	Purpose string
	Payload map[string]string
}

// Notifier delivers notifications. A failed code delivery aborts the
// triggering operation; a failed confirmation is only logged.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Send(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// SignupRequest is the customer registration payload.
type SignupRequest struct {
	Email    string
	Username string
	FullName string
	Phone    string
	Password string
}

// OTPChallenge reports a code waiting to be redeemed.
type OTPChallenge struct {
	ExpiresAt time.Time
}

// LoginResult is returned by the login operations. Either Token is set, or
// RequiresOTP is true and OTPExpiresAt tells when the sent code lapses.
type LoginResult struct {
	Token          string
	TokenExpiresAt time.Time
	Principal      *Principal
	RequiresOTP    bool
	OTPExpiresAt   time.Time
	TrustedDevice  bool
}

// LockStatus describes the current lockout for (email, ip). Failures holds
// the recorded failure count per attempt type; types with none are omitted.
type LockStatus struct {
	Locked   bool
	Type     string
	Until    time.Time
	Failures map[string]int
}
