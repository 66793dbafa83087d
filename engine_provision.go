package cafeauth

import (
	"context"

	"github.com/brewline/cafeauth/internal/flows"
)

// CreateAdmin provisions an active admin account with the given role. It is
// meant for operator tooling and seeding; admins cannot sign themselves up.
// A duplicate email returns ErrConflict.
func (e *Engine) CreateAdmin(ctx context.Context, email, fullName, password string, role Role) (*Principal, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if !role.Valid(PrincipalAdmin) {
		return nil, &ValidationError{Field: "role", Reason: "not an admin role"}
	}
	p, err := e.flows.CreateAdmin(ctx, flows.AdminRequest{
		Email:    email,
		FullName: fullName,
		Password: password,
		Role:     string(role),
	})
	return publicPrincipal(p), err
}
