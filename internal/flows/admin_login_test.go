package flows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brewline/cafeauth/internal/limiters"
)

func TestAdminLoginRequiresOTPWithoutTrustedDevice(t *testing.T) {
	h := newHarness(t)
	h.addAdmin(t, "boss@cafe.test", "espresso-42", "manager")

	res, err := RunAdminLogin(context.Background(), "boss@cafe.test", "espresso-42", h.deps)
	require.NoError(t, err)
	assert.True(t, res.RequiresOTP)
	assert.Empty(t, res.Token)
	assert.WithinDuration(t, h.clock.Now().Add(10*time.Minute), res.OTPExpiresAt, time.Second)
	assert.Equal(t, 1, h.out.codeCount())

	// A second login while the code is live does not send another one.
	_, err = RunAdminLogin(context.Background(), "boss@cafe.test", "espresso-42", h.deps)
	require.NoError(t, err)
	assert.Equal(t, 1, h.out.codeCount())
}

func TestAdminLoginRememberFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	admin := h.addAdmin(t, "boss@cafe.test", "espresso-42", "manager")

	_, err := RunAdminLogin(ctx, "boss@cafe.test", "espresso-42", h.deps)
	require.NoError(t, err)
	code := h.out.lastCode(t, "boss@cafe.test", PurposeAdminLogin)

	res, err := RunVerifyAdminOTP(ctx, "boss@cafe.test", code, true, h.deps)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.True(t, res.TrustedDevice)
	assert.WithinDuration(t, h.clock.Now().Add(30*24*time.Hour), res.TokenExpiresAt, time.Second)

	stored, err := h.principals.findByID(ctx, admin.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.RememberedUntil)
	require.NotNil(t, stored.LastLoginAt)

	// The next login skips the second factor.
	h.clock.Advance(24 * time.Hour)
	res, err = RunAdminLogin(ctx, "boss@cafe.test", "espresso-42", h.deps)
	require.NoError(t, err)
	assert.False(t, res.RequiresOTP)
	assert.True(t, res.TrustedDevice)
	assert.Equal(t, stored.RememberedUntil.Unix(), res.TokenExpiresAt.Unix())
	assert.Equal(t, 1, h.out.codeCount())

	// Once the window closes the OTP comes back.
	h.clock.Advance(30 * 24 * time.Hour)
	res, err = RunAdminLogin(ctx, "boss@cafe.test", "espresso-42", h.deps)
	require.NoError(t, err)
	assert.True(t, res.RequiresOTP)
}

func TestTrustedDeviceLoginClearsAttemptCounters(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addAdmin(t, "boss@cafe.test", "espresso-42", "manager")

	_, err := RunAdminLogin(ctx, "boss@cafe.test", "espresso-42", h.deps)
	require.NoError(t, err)
	code := h.out.lastCode(t, "boss@cafe.test", PurposeAdminLogin)
	_, err = RunVerifyAdminOTP(ctx, "boss@cafe.test", code, true, h.deps)
	require.NoError(t, err)

	for _, kind := range []string{limiters.AttemptOTP, limiters.AttemptLogin} {
		_, err := h.tracker.Record(ctx, "boss@cafe.test", testIP, "", kind)
		require.NoError(t, err)
	}

	res, err := RunAdminLogin(ctx, "boss@cafe.test", "espresso-42", h.deps)
	require.NoError(t, err)
	require.True(t, res.TrustedDevice)

	for _, kind := range []string{limiters.AttemptOTP, limiters.AttemptLogin} {
		n, err := h.tracker.Count(ctx, "boss@cafe.test", testIP, kind)
		require.NoError(t, err)
		assert.Zero(t, n, kind)
	}
}

func TestAdminVerifyWithoutRememberIssuesOneDayToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	admin := h.addAdmin(t, "boss@cafe.test", "espresso-42", "manager")

	_, err := RunAdminLogin(ctx, "boss@cafe.test", "espresso-42", h.deps)
	require.NoError(t, err)
	code := h.out.lastCode(t, "boss@cafe.test", PurposeAdminLogin)

	res, err := RunVerifyAdminOTP(ctx, "boss@cafe.test", code, false, h.deps)
	require.NoError(t, err)
	assert.False(t, res.TrustedDevice)
	assert.WithinDuration(t, h.clock.Now().Add(24*time.Hour), res.TokenExpiresAt, time.Second)

	stored, err := h.principals.findByID(ctx, admin.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.RememberedUntil)
}

func TestStaffRememberIssuesTrustedToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addAdmin(t, "barista@cafe.test", "espresso-42", "staff")

	_, err := RunAdminLogin(ctx, "barista@cafe.test", "espresso-42", h.deps)
	require.NoError(t, err)
	code := h.out.lastCode(t, "barista@cafe.test", PurposeAdminLogin)

	res, err := RunVerifyAdminOTP(ctx, "barista@cafe.test", code, true, h.deps)
	require.NoError(t, err)
	assert.True(t, res.TrustedDevice)
	assert.WithinDuration(t, h.clock.Now().Add(30*24*time.Hour), res.TokenExpiresAt, time.Second)
}

func TestAdminRememberIgnoredWithoutCapability(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addAdmin(t, "barista@cafe.test", "espresso-42", "staff")
	allowed := h.deps.Allowed
	h.deps.Allowed = func(role, capability string) bool {
		if capability == CapTrustedDevice && role == "staff" {
			return false
		}
		return allowed(role, capability)
	}

	_, err := RunAdminLogin(ctx, "barista@cafe.test", "espresso-42", h.deps)
	require.NoError(t, err)
	code := h.out.lastCode(t, "barista@cafe.test", PurposeAdminLogin)

	res, err := RunVerifyAdminOTP(ctx, "barista@cafe.test", code, true, h.deps)
	require.NoError(t, err)
	assert.False(t, res.TrustedDevice)
	assert.WithinDuration(t, h.clock.Now().Add(24*time.Hour), res.TokenExpiresAt, time.Second)
}

func TestAdminOTPIsSingleUse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addAdmin(t, "boss@cafe.test", "espresso-42", "manager")

	_, err := RunRequestAdminOTP(ctx, "boss@cafe.test", "espresso-42", h.deps)
	require.NoError(t, err)
	code := h.out.lastCode(t, "boss@cafe.test", PurposeAdminLogin)

	_, err = RunVerifyAdminOTP(ctx, "boss@cafe.test", code, false, h.deps)
	require.NoError(t, err)
	_, err = RunVerifyAdminOTP(ctx, "boss@cafe.test", code, false, h.deps)
	assert.ErrorIs(t, err, errOTPInvalid)
}

func TestRequestAdminOTPForcesNewCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addAdmin(t, "boss@cafe.test", "espresso-42", "manager")

	_, err := RunAdminLogin(ctx, "boss@cafe.test", "espresso-42", h.deps)
	require.NoError(t, err)
	first := h.out.lastCode(t, "boss@cafe.test", PurposeAdminLogin)

	_, err = RunRequestAdminOTP(ctx, "boss@cafe.test", "espresso-42", h.deps)
	require.NoError(t, err)
	second := h.out.lastCode(t, "boss@cafe.test", PurposeAdminLogin)
	assert.Equal(t, 2, h.out.codeCount())

	if first != second {
		_, err = RunVerifyAdminOTP(ctx, "boss@cafe.test", first, false, h.deps)
		assert.ErrorIs(t, err, errOTPInvalid)
	}
	_, err = RunVerifyAdminOTP(ctx, "boss@cafe.test", second, false, h.deps)
	require.NoError(t, err)
}

func TestAdminLoginWrongPasswordLocksAfterFive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addAdmin(t, "boss@cafe.test", "espresso-42", "manager")

	for i := 0; i < 5; i++ {
		_, err := RunAdminLogin(ctx, "boss@cafe.test", "wrong-password", h.deps)
		assert.ErrorIs(t, err, errAuth)
	}

	_, err := RunAdminLogin(ctx, "boss@cafe.test", "espresso-42", h.deps)
	require.ErrorIs(t, err, errLocked)
	var le lockedErr
	require.True(t, errors.As(err, &le))
	assert.WithinDuration(t, h.clock.Now().Add(15*time.Minute), le.until, time.Second)

	// The lock also guards the OTP step.
	_, err = RunVerifyAdminOTP(ctx, "boss@cafe.test", "123456", false, h.deps)
	assert.ErrorIs(t, err, errLocked)

	h.clock.Advance(15*time.Minute + time.Second)
	res, err := RunAdminLogin(ctx, "boss@cafe.test", "espresso-42", h.deps)
	require.NoError(t, err)
	assert.True(t, res.RequiresOTP)
}

func TestAdminLoginUnknownEmailLooksLikeBadPassword(t *testing.T) {
	h := newHarness(t)
	_, err := RunAdminLogin(context.Background(), "ghost@cafe.test", "espresso-42", h.deps)
	assert.ErrorIs(t, err, errAuth)

	n, err := h.tracker.Count(context.Background(), "ghost@cafe.test", testIP, "login")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAdminLoginInactiveAndCustomerRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	admin := h.addAdmin(t, "old@cafe.test", "espresso-42", "staff")
	inactive := StatusInactive
	require.NoError(t, h.principals.update(ctx, admin.ID, PrincipalUpdate{Status: &inactive}))

	_, err := RunAdminLogin(ctx, "old@cafe.test", "espresso-42", h.deps)
	assert.ErrorIs(t, err, errInactive)

	h.addCustomer(t, "guest@gmail.com", "espresso-42")
	_, err = RunAdminLogin(ctx, "guest@gmail.com", "espresso-42", h.deps)
	assert.ErrorIs(t, err, errAuth, "customers are not looked up as admins")
}

func TestAdminLoginDispatchFailure(t *testing.T) {
	h := newHarness(t)
	h.addAdmin(t, "boss@cafe.test", "espresso-42", "manager")
	h.out.failCodes = true

	_, err := RunAdminLogin(context.Background(), "boss@cafe.test", "espresso-42", h.deps)
	assert.ErrorIs(t, err, errDispatch)
	assert.Empty(t, h.mr.Keys())
}

func TestVerifyAdminOTPClearsAttempts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addAdmin(t, "boss@cafe.test", "espresso-42", "manager")

	for i := 0; i < 3; i++ {
		_, _ = RunAdminLogin(ctx, "boss@cafe.test", "nope-nope", h.deps)
	}
	_, err := RunAdminLogin(ctx, "boss@cafe.test", "espresso-42", h.deps)
	require.NoError(t, err)
	code := h.out.lastCode(t, "boss@cafe.test", PurposeAdminLogin)
	_, err = RunVerifyAdminOTP(ctx, "boss@cafe.test", code, false, h.deps)
	require.NoError(t, err)

	n, err := h.tracker.Count(ctx, "boss@cafe.test", testIP, "login")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestForgetDeviceRevokesTrustedTokens(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	admin := h.addAdmin(t, "boss@cafe.test", "espresso-42", "superadmin")

	_, err := RunAdminLogin(ctx, "boss@cafe.test", "espresso-42", h.deps)
	require.NoError(t, err)
	code := h.out.lastCode(t, "boss@cafe.test", PurposeAdminLogin)
	res, err := RunVerifyAdminOTP(ctx, "boss@cafe.test", code, true, h.deps)
	require.NoError(t, err)

	p, err := RunAuthenticate(ctx, res.Token, h.deps)
	require.NoError(t, err)
	assert.Equal(t, admin.ID, p.ID)

	require.NoError(t, RunForgetDevice(ctx, admin.ID, h.deps))
	_, err = RunAuthenticate(ctx, res.Token, h.deps)
	assert.ErrorIs(t, err, errToken)

	assert.ErrorIs(t, RunForgetDevice(ctx, "missing", h.deps), errNotFound)
}
