package notify

import (
	"context"

	"go.uber.org/zap"
)

// Notifier delivers user-facing messages. Every call site treats delivery as
// best effort: a notification failure is logged and never propagated as a
// money-movement failure.
type Notifier interface {
	Notify(ctx context.Context, userID int64, message string) error
}

// LogNotifier is the fallback when no chat transport is configured; it just
// records what would have been sent.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, userID int64, message string) error {
	n.logger.Info("notification (no transport configured)",
		zap.Int64("user_id", userID),
		zap.String("message", message))
	return nil
}
