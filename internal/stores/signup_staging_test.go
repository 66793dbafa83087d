package stores

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignupStagingRoundTrip(t *testing.T) {
	_, rdb := newTestRedis(t)
	staging := NewSignupStaging(rdb, "test", 30*time.Minute)
	ctx := context.Background()

	id, err := staging.Stage(ctx, StagedSignup{
		Email:        "a@gmail.com",
		Username:     "alice",
		PasswordHash: "$argon2id$stub",
		IP:           "10.0.0.1",
		UserAgent:    "curl/8",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	rec, err := staging.Get(ctx, "a@gmail.com", "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, "alice", rec.Username)
	assert.Equal(t, "$argon2id$stub", rec.PasswordHash)
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestSignupStagingIsKeyedByEmailAndIP(t *testing.T) {
	_, rdb := newTestRedis(t)
	staging := NewSignupStaging(rdb, "test", 30*time.Minute)
	ctx := context.Background()

	_, err := staging.Stage(ctx, StagedSignup{Email: "a@gmail.com", IP: "10.0.0.1"})
	require.NoError(t, err)

	_, err = staging.Get(ctx, "a@gmail.com", "10.0.0.2")
	assert.ErrorIs(t, err, ErrStagingNotFound)
}

func TestSignupStagingExpires(t *testing.T) {
	mr, rdb := newTestRedis(t)
	staging := NewSignupStaging(rdb, "test", 30*time.Minute)
	ctx := context.Background()

	_, err := staging.Stage(ctx, StagedSignup{Email: "a@gmail.com", IP: "10.0.0.1"})
	require.NoError(t, err)

	mr.FastForward(29 * time.Minute)
	_, err = staging.Get(ctx, "a@gmail.com", "10.0.0.1")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)
	_, err = staging.Get(ctx, "a@gmail.com", "10.0.0.1")
	assert.ErrorIs(t, err, ErrStagingNotFound)
}

func TestSignupStagingDeleteIsIdempotent(t *testing.T) {
	_, rdb := newTestRedis(t)
	staging := NewSignupStaging(rdb, "test", 0)
	ctx := context.Background()

	_, err := staging.Stage(ctx, StagedSignup{Email: "a@gmail.com"})
	require.NoError(t, err)
	require.NoError(t, staging.Delete(ctx, "a@gmail.com", ""))
	require.NoError(t, staging.Delete(ctx, "a@gmail.com", ""))

	_, err = staging.Get(ctx, "a@gmail.com", "")
	assert.ErrorIs(t, err, ErrStagingNotFound)
}

func TestSignupStagingDropsCorruptRecords(t *testing.T) {
	mr, rdb := newTestRedis(t)
	staging := NewSignupStaging(rdb, "test", 0)

	require.NoError(t, mr.Set("test:signup:a@gmail.com:-", "{not json"))
	_, err := staging.Get(context.Background(), "a@gmail.com", "")
	assert.ErrorIs(t, err, ErrStagingNotFound)
	assert.False(t, mr.Exists("test:signup:a@gmail.com:-"))
}
