package password

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Low cost keeps the suite fast; production uses DefaultConfig.
func testConfig() Config {
	return Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func TestHashAndVerify(t *testing.T) {
	hasher, err := NewArgon2(testConfig())
	require.NoError(t, err)

	hash, err := hasher.Hash("latte-art-42")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$"), hash)

	ok, err := hasher.Verify("latte-art-42", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = hasher.Verify("latte-art-43", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashIsSalted(t *testing.T) {
	hasher, err := NewArgon2(testConfig())
	require.NoError(t, err)

	a, err := hasher.Hash("espresso1")
	require.NoError(t, err)
	b, err := hasher.Hash("espresso1")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestPolicyBounds(t *testing.T) {
	hasher, err := NewArgon2(testConfig())
	require.NoError(t, err)

	assert.True(t, errors.Is(hasher.Validate("1234567"), ErrPasswordTooShort))
	assert.NoError(t, hasher.Validate("12345678"))
	assert.NoError(t, hasher.Validate(strings.Repeat("a", 72)))
	assert.True(t, errors.Is(hasher.Validate(strings.Repeat("a", 73)), ErrPasswordTooLong))

	_, err = hasher.Hash("")
	assert.ErrorIs(t, err, ErrPasswordTooShort)
}

func TestVerifyOverlongPasswordIsMismatch(t *testing.T) {
	hasher, err := NewArgon2(testConfig())
	require.NoError(t, err)
	hash, err := hasher.Hash(strings.Repeat("b", 72))
	require.NoError(t, err)

	ok, err := hasher.Verify(strings.Repeat("b", 73), hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyMalformedHash(t *testing.T) {
	hasher, err := NewArgon2(testConfig())
	require.NoError(t, err)

	_, err = hasher.Verify("password", "not-a-phc-hash")
	assert.ErrorIs(t, err, ErrMalformedHash)

	hash, err := hasher.Hash("version-test")
	require.NoError(t, err)
	_, err = hasher.Verify("version-test", strings.Replace(hash, "$v=19$", "$v=18$", 1))
	assert.ErrorIs(t, err, ErrMalformedHash)
}

func TestNeedsUpgrade(t *testing.T) {
	old, err := NewArgon2(testConfig())
	require.NoError(t, err)
	hash, err := old.Hash("flat-white")
	require.NoError(t, err)

	stronger := testConfig()
	stronger.Time = 2
	current, err := NewArgon2(stronger)
	require.NoError(t, err)

	needs, err := current.NeedsUpgrade(hash)
	require.NoError(t, err)
	assert.True(t, needs)

	needs, err = old.NeedsUpgrade(hash)
	require.NoError(t, err)
	assert.False(t, needs)
}

func TestNewArgon2RejectsWeakConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Memory = 1024
	_, err := NewArgon2(cfg)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.MinPasswordBytes = 100
	cfg.MaxPasswordBytes = 50
	_, err = NewArgon2(cfg)
	assert.Error(t, err)
}
