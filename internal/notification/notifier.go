// Package notification delivers subscriber-facing billing notices with
// exactly-once semantics per notification key. Delivery is best effort: a
// failed send never fails the charge or reconciliation that triggered it.
package notification

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
)

// Notifier delivers a billing notice to a subscriber.
type Notifier interface {
	Notify(ctx context.Context, subscriberID snowflake.ID, message string) error
}

// LogNotifier writes notices to the application log. It stands in for a mail
// or push provider in environments without one configured.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log.Named("notification.notifier")}
}

func (n *LogNotifier) Notify(_ context.Context, subscriberID snowflake.ID, message string) error {
	n.log.Info("notification delivered",
		zap.String("subscriber_id", subscriberID.String()),
		zap.String("message", message),
	)
	return nil
}
