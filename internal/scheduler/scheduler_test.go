package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/rebill/internal/clock"
	ledgerdomain "github.com/smallbiznis/rebill/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/rebill/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/rebill/internal/ledger/service"
	"github.com/smallbiznis/rebill/internal/notification"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recordingExecutor struct {
	attempts []ledgerdomain.BillingAttempt
	failWith map[snowflake.ID]error
}

func (e *recordingExecutor) ExecuteRetry(_ context.Context, prior ledgerdomain.BillingAttempt) error {
	e.attempts = append(e.attempts, prior)
	if err, ok := e.failWith[prior.ID]; ok {
		return err
	}
	return nil
}

type fixture struct {
	scheduler *Scheduler
	executor  *recordingExecutor
	ledger    ledgerdomain.Service
	clock     *clock.FakeClock
	node      *snowflake.Node
}

func newFixture(t *testing.T, locker *Locker) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&ledgerdomain.BillingAttempt{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, _ := snowflake.NewNode(2)
	fake := clock.NewFakeClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB: db, Log: log, GenID: node, Clock: fake, Repo: ledgerrepo.Provide(),
	})

	executor := &recordingExecutor{failWith: map[snowflake.ID]error{}}
	sched, err := New(Params{
		Log:      log,
		Clock:    fake,
		Ledger:   ledgerSvc,
		Executor: executor,
		NoticeL:  notification.NewMemoryLedger(fake),
		Locker:   locker,
		Config:   Config{BatchSize: 10},
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	return &fixture{
		scheduler: sched,
		executor:  executor,
		ledger:    ledgerSvc,
		clock:     fake,
		node:      node,
	}
}

// failedAttempt opens an attempt and fails it with the given retry time.
func (f *fixture) failedAttempt(t *testing.T, nextRetryAt *time.Time) *ledgerdomain.BillingAttempt {
	t.Helper()
	ctx := context.Background()

	attempt, err := f.ledger.Open(ctx, ledgerdomain.OpenAttemptRequest{
		SubscriberID: f.node.Generate(),
		PlanID:       "plan_gold",
		Amount:       4990,
		Currency:     "USD",
		Reference:    "rebill-plan_gold-" + f.node.Generate().String(),
	})
	if err != nil {
		t.Fatalf("open attempt: %v", err)
	}
	applied, err := f.ledger.Fail(ctx, attempt.ID, ledgerdomain.FailAttemptRequest{
		To:          ledgerdomain.AttemptStatusDeclined,
		Detail:      "card declined",
		RetryCount:  1,
		NextRetryAt: nextRetryAt,
	})
	if err != nil || !applied {
		t.Fatalf("fail attempt: applied=%v err=%v", applied, err)
	}
	return attempt
}

func TestRunOnceSweepsDueRetries(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	due := f.clock.Now().Add(-time.Hour)
	future := f.clock.Now().Add(48 * time.Hour)
	first := f.failedAttempt(t, &due)
	second := f.failedAttempt(t, &due)
	f.failedAttempt(t, &future)

	err := f.scheduler.RunOnce(ctx)
	assert.NoError(t, err)

	assert.Len(t, f.executor.attempts, 2)
	swept := map[snowflake.ID]bool{}
	for _, attempt := range f.executor.attempts {
		swept[attempt.ID] = true
	}
	assert.True(t, swept[first.ID])
	assert.True(t, swept[second.ID])
}

func TestRunOnceContinuesPastExecutorErrors(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	due := f.clock.Now().Add(-time.Hour)
	broken := f.failedAttempt(t, &due)
	f.failedAttempt(t, &due)
	f.executor.failWith[broken.ID] = errors.New("gateway unreachable")

	err := f.scheduler.RunOnce(ctx)
	assert.Error(t, err)
	assert.Len(t, f.executor.attempts, 2)
}

func TestRunOnceDrainsBacklogAcrossBatches(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// Five due attempts against a batch of two need three FindDueRetries
	// rounds. The loop relies on the executor consuming next_retry_at, so
	// wrap the recorder with a consume step the way the real executor works.
	f.scheduler.cfg.BatchSize = 2
	due := f.clock.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		f.failedAttempt(t, &due)
	}

	f.scheduler.executor = &consumingExecutor{inner: f.executor, ledger: f.ledger}

	err := f.scheduler.RunOnce(ctx)
	assert.NoError(t, err)
	assert.Len(t, f.executor.attempts, 5)
}

type consumingExecutor struct {
	inner  *recordingExecutor
	ledger ledgerdomain.Service
}

func (e *consumingExecutor) ExecuteRetry(ctx context.Context, prior ledgerdomain.BillingAttempt) error {
	if _, err := e.ledger.ConsumeRetry(ctx, prior.ID); err != nil {
		return err
	}
	return e.inner.ExecuteRetry(ctx, prior)
}

func TestRunOnceSkipsWhenLockHeldElsewhere(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	f := newFixture(t, NewLocker(client))
	ctx := context.Background()

	due := f.clock.Now().Add(-time.Hour)
	f.failedAttempt(t, &due)

	if err := mr.Set(retrySweepLockKey, "other-instance"); err != nil {
		t.Fatalf("seed lock: %v", err)
	}

	err := f.scheduler.RunOnce(ctx)
	assert.NoError(t, err)
	assert.Empty(t, f.executor.attempts)
}

func TestRunOnceReleasesLockAfterSweep(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	f := newFixture(t, NewLocker(client))
	ctx := context.Background()

	due := f.clock.Now().Add(-time.Hour)
	f.failedAttempt(t, &due)

	err := f.scheduler.RunOnce(ctx)
	assert.NoError(t, err)
	assert.Len(t, f.executor.attempts, 1)
	assert.False(t, mr.Exists(retrySweepLockKey))
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
