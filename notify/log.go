package notify

import (
	"context"
	"log/slog"
	"sort"

	"github.com/brewline/cafeauth"
)

const redacted = "[redacted]"

var _ cafeauth.Notifier = (*LogNotifier)(nil)

// LogNotifier logs every notification. Codes are redacted unless
// RevealCodes is set.
type LogNotifier struct {
	logger      *slog.Logger
	RevealCodes bool
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(ctx context.Context, msg cafeauth.Notification) error {
	keys := make([]string, 0, len(msg.Payload))
	for k := range msg.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]any, 0, 4+2*len(keys))
	args = append(args, "email", msg.Email, "purpose", msg.Purpose)
	for _, k := range keys {
		v := msg.Payload[k]
		if k == "code" && !n.RevealCodes {
			v = redacted
		}
		args = append(args, k, v)
	}

	n.logger.InfoContext(ctx, "notification", args...)
	return nil
}
