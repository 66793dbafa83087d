package cafeauth

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/brewline/cafeauth/internal/audit"
	"github.com/brewline/cafeauth/internal/flows"
)

// AuditEvent is one flow outcome as delivered to an AuditSink.
type AuditEvent = audit.Event

// AuditSink receives audit events from the engine's dispatcher goroutine.
// Emit must not retain ctx beyond the call.
type AuditSink = audit.Sink

type (
	NoOpSink       = audit.NoOpSink
	ChannelSink    = audit.ChannelSink
	JSONWriterSink = audit.JSONWriterSink
	MultiSink      = audit.MultiSink
)

func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink writes one JSON object per line to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// Audit event types.
const (
	AuditSignupRequest    = "signup_request"
	AuditSignupVerify     = "signup_verify"
	AuditAdminLogin       = "admin_login"
	AuditAdminOTPRequest  = "admin_otp_request"
	AuditAdminOTPVerify   = "admin_otp_verify"
	AuditCustomerLogin    = "customer_login"
	AuditResetRequest     = "password_reset_request"
	AuditResetConfirm     = "password_reset_confirm"
	AuditDeviceForgotten  = "device_forgotten"
	AuditLockoutTriggered = "lockout_triggered"
	AuditAdminCreated     = "admin_created"
)

// Error codes carried in AuditEvent.Error.
const (
	auditErrValidation       = "validation"
	auditErrAuthentication   = "invalid_credentials"
	auditErrLocked           = "locked"
	auditErrOTPInvalid       = "otp_invalid"
	auditErrOTPAttempts      = "otp_attempts_exceeded"
	auditErrConflict         = "conflict"
	auditErrDispatch         = "dispatch_failure"
	auditErrNotFound         = "not_found"
	auditErrAccountInactive  = "account_inactive"
	auditErrPermissionDenied = "permission_denied"
	auditErrTokenInvalid     = "token_invalid"
	auditErrUnavailable      = "backend_unavailable"
	auditErrInternal         = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	p *flows.Principal,
	email string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		Email:     email,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Error:     auditErrorCode(err),
		Metadata:  metadata,
	}
	if p != nil {
		event.PrincipalID = p.ID
		event.PrincipalType = p.Type
		if event.Email == "" {
			event.Email = p.Email
		}
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrValidation):
		return auditErrValidation
	case errors.Is(err, ErrAuthentication):
		return auditErrAuthentication
	case errors.Is(err, ErrLocked):
		return auditErrLocked
	case errors.Is(err, ErrOTPInvalidOrExpired):
		return auditErrOTPInvalid
	case errors.Is(err, ErrOTPAttemptsExceeded):
		return auditErrOTPAttempts
	case errors.Is(err, ErrConflict):
		return auditErrConflict
	case errors.Is(err, ErrDispatchFailure):
		return auditErrDispatch
	case errors.Is(err, ErrNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrAccountInactive):
		return auditErrAccountInactive
	case errors.Is(err, ErrPermissionDenied):
		return auditErrPermissionDenied
	case errors.Is(err, ErrTokenInvalid):
		return auditErrTokenInvalid
	case errors.Is(err, ErrUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}

// auditTimeout bounds a single sink call when the config leaves it unset.
const auditTimeout = 2 * time.Second
