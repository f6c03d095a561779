package notification

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
)

// DedupWindow is how long a notification key is remembered. Gateway webhook
// replays arrive within minutes; a week absorbs manual redeliveries too.
const DedupWindow = 7 * 24 * time.Hour

// Gate sits in front of the notifier and guarantees at most one delivery per
// key. Failures are logged and swallowed: the billing outcome is already
// recorded in the attempt ledger and must not depend on notice delivery.
type Gate struct {
	ledger   Ledger
	notifier Notifier
	log      *zap.Logger
}

func NewGate(ledger Ledger, notifier Notifier, log *zap.Logger) *Gate {
	return &Gate{
		ledger:   ledger,
		notifier: notifier,
		log:      log.Named("notification.gate"),
	}
}

// Send delivers the message unless the key was already sent. Returns true
// when this call performed the delivery.
func (g *Gate) Send(ctx context.Context, key string, subscriberID snowflake.ID, message string) bool {
	first, err := g.ledger.Mark(ctx, key, DedupWindow)
	if err != nil {
		g.log.Warn("notification dedup check failed, suppressing send",
			zap.String("key", key),
			zap.Error(err),
		)
		return false
	}
	if !first {
		return false
	}

	if err := g.notifier.Notify(ctx, subscriberID, message); err != nil {
		g.log.Warn("notification delivery failed",
			zap.String("key", key),
			zap.String("subscriber_id", subscriberID.String()),
			zap.Error(err),
		)
	}
	return true
}
