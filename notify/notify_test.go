package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brewline/cafeauth"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func codeMessage() cafeauth.Notification {
	return cafeauth.Notification{
		Email:   "latte@cafe.test",
		Purpose: cafeauth.NotifyEmailVerification,
		Payload: map[string]string{
			"code":       "482913",
			"expires_at": "2026-03-02T09:10:00Z",
		},
	}
}

func TestStreamNotifierAppendsEntry(t *testing.T) {
	_, rdb := newTestRedis(t)
	n := NewStreamNotifier(rdb, "test:mail")

	require.NoError(t, n.Send(context.Background(), codeMessage()))
	require.NoError(t, n.Send(context.Background(), cafeauth.Notification{
		Email:   "latte@cafe.test",
		Purpose: cafeauth.NotifyWelcome,
	}))

	entries, err := rdb.XRange(context.Background(), "test:mail", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	first := entries[0].Values
	assert.Equal(t, "latte@cafe.test", first["email"])
	assert.Equal(t, cafeauth.NotifyEmailVerification, first["purpose"])
	assert.NotEmpty(t, first["id"])

	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(first["payload"].(string)), &payload))
	assert.Equal(t, "482913", payload["code"])

	assert.Equal(t, "null", entries[1].Values["payload"])
}

func TestStreamNotifierBackendDown(t *testing.T) {
	mr, rdb := newTestRedis(t)
	n := NewStreamNotifier(rdb, "")
	assert.Equal(t, "cafe:notifications", n.Stream())

	mr.Close()
	err := n.Send(context.Background(), codeMessage())
	assert.ErrorIs(t, err, ErrStreamUnavailable)
}

func TestStreamNotifierNil(t *testing.T) {
	var n *StreamNotifier
	assert.ErrorIs(t, n.Send(context.Background(), codeMessage()), ErrStreamUnavailable)
}

func TestLogNotifierRedactsCodes(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, n.Send(context.Background(), codeMessage()))
	out := buf.String()
	assert.Contains(t, out, "purpose=email_verification")
	assert.Contains(t, out, redacted)
	assert.NotContains(t, out, "482913")

	buf.Reset()
	n.RevealCodes = true
	require.NoError(t, n.Send(context.Background(), codeMessage()))
	assert.Contains(t, buf.String(), "code=482913")
}
