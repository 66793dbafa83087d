package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/brewline/cafeauth"
)

var ErrStreamUnavailable = errors.New("notification stream unavailable")

const defaultStreamMaxLen = 100_000

var _ cafeauth.Notifier = (*StreamNotifier)(nil)

// StreamNotifier appends notifications to a Redis stream with XADD. Each
// entry carries id, email, purpose and the JSON-encoded payload.
type StreamNotifier struct {
	redis  redis.UniversalClient
	stream string
	maxLen int64
}

func NewStreamNotifier(client redis.UniversalClient, stream string) *StreamNotifier {
	if stream == "" {
		stream = "cafe:notifications"
	}
	return &StreamNotifier{
		redis:  client,
		stream: stream,
		maxLen: defaultStreamMaxLen,
	}
}

// WithMaxLen caps the stream length (approximate trimming).
func (n *StreamNotifier) WithMaxLen(maxLen int64) *StreamNotifier {
	if maxLen > 0 {
		n.maxLen = maxLen
	}
	return n
}

func (n *StreamNotifier) Stream() string {
	return n.stream
}

func (n *StreamNotifier) Send(ctx context.Context, msg cafeauth.Notification) error {
	if n == nil || n.redis == nil {
		return ErrStreamUnavailable
	}

	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		return fmt.Errorf("notify: encode payload: %w", err)
	}

	err = n.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: n.stream,
		MaxLen: n.maxLen,
		Approx: true,
		Values: map[string]any{
			"id":      uuid.NewString(),
			"email":   msg.Email,
			"purpose": msg.Purpose,
			"payload": string(payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStreamUnavailable, err)
	}
	return nil
}
