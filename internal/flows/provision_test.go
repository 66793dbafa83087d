package flows

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAdmin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p, err := RunCreateAdmin(ctx, AdminRequest{
		Email:    "  Owner@BeanHouse.com ",
		FullName: " Ada Owner ",
		Password: "roast-master-1",
		Role:     "superadmin",
	}, h.deps)
	require.NoError(t, err)
	assert.Equal(t, PrincipalAdmin, p.Type)
	assert.Equal(t, "owner@beanhouse.com", p.Email)
	assert.Equal(t, "Ada Owner", p.FullName)
	assert.Equal(t, StatusActive, p.Status)
	assert.Equal(t, "hash:roast-master-1", p.PasswordHash)

	res, err := RunAdminLogin(ctx, "owner@beanhouse.com", "roast-master-1", h.deps)
	require.NoError(t, err)
	assert.True(t, res.RequiresOTP)

	_, err = RunCreateAdmin(ctx, AdminRequest{
		Email:    "owner@beanhouse.com",
		FullName: "Someone Else",
		Password: "roast-master-2",
		Role:     "staff",
	}, h.deps)
	assert.ErrorIs(t, err, errConflict)
}

func TestCreateAdminValidation(t *testing.T) {
	h := newHarness(t)
	valid := AdminRequest{Email: "mgr@beanhouse.com", FullName: "Mo", Password: "long-enough", Role: "manager"}

	tests := []struct {
		name   string
		mutate func(*AdminRequest)
		field  string
	}{
		{"bad email", func(r *AdminRequest) { r.Email = "not-an-email" }, "email"},
		{"missing name", func(r *AdminRequest) { r.FullName = "  " }, "full_name"},
		{"customer role", func(r *AdminRequest) { r.Role = RoleCustomer }, "role"},
		{"short password", func(r *AdminRequest) { r.Password = "short" }, "password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			_, err := RunCreateAdmin(context.Background(), req, h.deps)
			require.ErrorIs(t, err, errValidation)
			var fe fieldErr
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, tt.field, fe.field)
		})
	}
}

func TestCreateAdminStoreFailure(t *testing.T) {
	h := newHarness(t)
	h.deps.CreatePrincipal = func(context.Context, Principal) (Principal, error) {
		return Principal{}, errors.New("pq: connection reset")
	}

	_, err := RunCreateAdmin(context.Background(), AdminRequest{
		Email: "mgr@beanhouse.com", FullName: "Mo", Password: "long-enough", Role: "manager",
	}, h.deps)
	assert.ErrorIs(t, err, errUnavailable)
}
