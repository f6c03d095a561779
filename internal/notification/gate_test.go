package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/rebill/internal/clock"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type recordingNotifier struct {
	delivered []string
	err       error
}

func (n *recordingNotifier) Notify(_ context.Context, _ snowflake.ID, message string) error {
	n.delivered = append(n.delivered, message)
	return n.err
}

func TestGate_SendsOncePerKey(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	notifier := &recordingNotifier{}
	gate := NewGate(NewMemoryLedger(fake), notifier, zap.NewNop())

	node, _ := snowflake.NewNode(1)
	subscriber := node.Generate()

	assert.True(t, gate.Send(context.Background(), "success_txn-1", subscriber, "payment received"))
	assert.False(t, gate.Send(context.Background(), "success_txn-1", subscriber, "payment received"))
	assert.True(t, gate.Send(context.Background(), "success_txn-2", subscriber, "payment received"))

	assert.Len(t, notifier.delivered, 2)
}

func TestGate_DeliveryFailureIsSwallowed(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	notifier := &recordingNotifier{err: errors.New("smtp down")}
	gate := NewGate(NewMemoryLedger(fake), notifier, zap.NewNop())

	node, _ := snowflake.NewNode(1)

	// The send counts as performed even when the provider errors; the
	// outcome is already recorded and a retry would risk double notices.
	assert.True(t, gate.Send(context.Background(), "cancel_attempt-1", node.Generate(), "subscription cancelled"))
	assert.Len(t, notifier.delivered, 1)
}

func TestMemoryLedger_SweepDropsExpiredEntries(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	ledger := NewMemoryLedger(fake)
	ctx := context.Background()

	first, err := ledger.Mark(ctx, "a", time.Hour)
	assert.NoError(t, err)
	assert.True(t, first)
	_, err = ledger.Mark(ctx, "b", 48*time.Hour)
	assert.NoError(t, err)

	fake.Advance(2 * time.Hour)
	assert.NoError(t, ledger.Sweep(ctx))
	assert.Equal(t, 1, ledger.Len())

	// An expired key can be sent again.
	first, err = ledger.Mark(ctx, "a", time.Hour)
	assert.NoError(t, err)
	assert.True(t, first)
}

func TestRedisLedger_MarkDedupesAcrossClients(t *testing.T) {
	mr := miniredis.RunT(t)

	clientA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	clientB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	first, err := NewRedisLedger(clientA).Mark(ctx, "success_txn-9", time.Hour)
	assert.NoError(t, err)
	assert.True(t, first)

	first, err = NewRedisLedger(clientB).Mark(ctx, "success_txn-9", time.Hour)
	assert.NoError(t, err)
	assert.False(t, first)

	// Redis expiry reopens the key.
	mr.FastForward(2 * time.Hour)
	first, err = NewRedisLedger(clientB).Mark(ctx, "success_txn-9", time.Hour)
	assert.NoError(t, err)
	assert.True(t, first)
}
