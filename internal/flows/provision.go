package flows

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"
)

// AdminRequest describes an operator account created out of band. Role has
// already been checked against the admin role set by the caller.
type AdminRequest struct {
	Email    string
	FullName string
	Password string
	Role     string
}

// RunCreateAdmin provisions an active admin principal. There is no
// self-service signup for admins; this is the only way one comes to exist.
func RunCreateAdmin(ctx context.Context, req AdminRequest, deps Deps) (*Principal, error) {
	normalizeDeps(&deps)
	if deps.CreatePrincipal == nil || deps.HashPassword == nil {
		return nil, deps.Errors.EngineNotReady
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.FullName = strings.TrimSpace(req.FullName)
	if reason := validateEmail(req.Email); reason != "" {
		return nil, deps.Errors.Validation("email", reason)
	}
	if req.FullName == "" {
		return nil, deps.Errors.Validation("full_name", "required")
	}
	if utf8.RuneCountInString(req.FullName) > maxFullNameLength {
		return nil, deps.Errors.Validation("full_name", "too long")
	}
	if req.Role == "" || req.Role == RoleCustomer {
		return nil, deps.Errors.Validation("role", "not an admin role")
	}
	if err := deps.ValidatePassword(req.Password); err != nil {
		return nil, deps.Errors.Validation("password", err.Error())
	}

	hash, err := deps.HashPassword(req.Password)
	if err != nil {
		return nil, internalError(ctx, &deps, "password hash", err)
	}

	now := deps.Now().UTC()
	created, err := deps.CreatePrincipal(ctx, Principal{
		Type:         PrincipalAdmin,
		Email:        req.Email,
		FullName:     req.FullName,
		PasswordHash: hash,
		Role:         req.Role,
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		if errors.Is(err, deps.Errors.Conflict) {
			deps.EmitAudit(ctx, deps.Events.AdminCreated, false, nil, req.Email, err, nil)
			return nil, deps.Errors.Conflict
		}
		return nil, internalError(ctx, &deps, "admin create", err)
	}

	deps.EmitAudit(ctx, deps.Events.AdminCreated, true, &created, req.Email, nil, func() map[string]string {
		return map[string]string{"role": created.Role}
	})
	return &created, nil
}
