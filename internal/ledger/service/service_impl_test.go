package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/rebill/internal/clock"
	"github.com/smallbiznis/rebill/internal/ledger/domain"
	"github.com/smallbiznis/rebill/internal/ledger/repository"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (domain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.BillingAttempt{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, _ := snowflake.NewNode(1)
	fake := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
		Repo:  repository.Provide(),
	})
	return svc, db, fake
}

var attemptNode, _ = snowflake.NewNode(2)

func openAttempt(t *testing.T, svc domain.Service, retryCount int) *domain.BillingAttempt {
	t.Helper()
	subscriberID := attemptNode.Generate()
	attempt, err := svc.Open(context.Background(), domain.OpenAttemptRequest{
		SubscriberID: subscriberID,
		PlanID:       "plan_gold",
		Amount:       4990,
		Currency:     "usd",
		Reference:    "app_recurring_plan_gold_123_" + subscriberID.String(),
		RetryCount:   retryCount,
	})
	if err != nil {
		t.Fatalf("open attempt: %v", err)
	}
	return attempt
}

func TestOpen_NormalizesCurrencyAndStartsPending(t *testing.T) {
	svc, _, _ := newTestService(t)

	attempt := openAttempt(t, svc, 0)
	assert.Equal(t, domain.AttemptStatusPending, attempt.Status)
	assert.Equal(t, "USD", attempt.Currency)
	assert.Nil(t, attempt.NextRetryAt)
	assert.False(t, attempt.Terminal())
}

func TestOpen_RejectsInvalidRequest(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Open(context.Background(), domain.OpenAttemptRequest{
		PlanID: "plan_gold", Amount: 4990, Currency: "USD", Reference: "ref",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAttempt)

	_, err = svc.Open(context.Background(), domain.OpenAttemptRequest{
		SubscriberID: 1, PlanID: "plan_gold", Amount: 0, Currency: "USD", Reference: "ref",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAttempt)
}

func TestApprove_OnlyFirstWriterWins(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	attempt := openAttempt(t, svc, 0)

	applied, err := svc.Approve(ctx, attempt.ID)
	assert.NoError(t, err)
	assert.True(t, applied)

	// A duplicate approval (e.g. the webhook after the synchronous path)
	// must observe the settled row and do nothing.
	applied, err = svc.Approve(ctx, attempt.ID)
	assert.NoError(t, err)
	assert.False(t, applied)

	got, err := svc.GetByID(ctx, attempt.ID)
	assert.NoError(t, err)
	assert.Equal(t, domain.AttemptStatusApproved, got.Status)
	assert.True(t, got.Terminal())
}

func TestApprove_AfterNonTerminalFailure(t *testing.T) {
	svc, _, fake := newTestService(t)
	ctx := context.Background()

	attempt := openAttempt(t, svc, 0)
	next := fake.Now().Add(24 * time.Hour)
	applied, err := svc.Fail(ctx, attempt.ID, domain.FailAttemptRequest{
		To:          domain.AttemptStatusError,
		Detail:      "gateway timeout",
		RetryCount:  1,
		NextRetryAt: &next,
	})
	assert.NoError(t, err)
	assert.True(t, applied)

	// Late approval webhook for a timed-out charge wins over the retry.
	applied, err = svc.Approve(ctx, attempt.ID)
	assert.NoError(t, err)
	assert.True(t, applied)

	got, err := svc.GetByID(ctx, attempt.ID)
	assert.NoError(t, err)
	assert.Equal(t, domain.AttemptStatusApproved, got.Status)
	assert.Nil(t, got.NextRetryAt)
}

func TestApprove_TerminalFailureStaysImmutable(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	attempt := openAttempt(t, svc, 2)
	applied, err := svc.Fail(ctx, attempt.ID, domain.FailAttemptRequest{
		To:         domain.AttemptStatusDeclined,
		Detail:     "insufficient funds",
		RetryCount: 3,
	})
	assert.NoError(t, err)
	assert.True(t, applied)

	applied, err = svc.Approve(ctx, attempt.ID)
	assert.NoError(t, err)
	assert.False(t, applied)

	got, err := svc.GetByID(ctx, attempt.ID)
	assert.NoError(t, err)
	assert.Equal(t, domain.AttemptStatusDeclined, got.Status)
}

func TestFail_NoOpAfterApproval(t *testing.T) {
	svc, _, fake := newTestService(t)
	ctx := context.Background()

	attempt := openAttempt(t, svc, 0)
	applied, err := svc.Approve(ctx, attempt.ID)
	assert.NoError(t, err)
	assert.True(t, applied)

	next := fake.Now().Add(24 * time.Hour)
	applied, err = svc.Fail(ctx, attempt.ID, domain.FailAttemptRequest{
		To:          domain.AttemptStatusDeclined,
		Detail:      "insufficient funds",
		RetryCount:  1,
		NextRetryAt: &next,
	})
	assert.NoError(t, err)
	assert.False(t, applied)

	got, err := svc.GetByID(ctx, attempt.ID)
	assert.NoError(t, err)
	assert.Equal(t, domain.AttemptStatusApproved, got.Status)
}

func TestFail_RejectsNonFailureStatus(t *testing.T) {
	svc, _, _ := newTestService(t)

	attempt := openAttempt(t, svc, 0)
	_, err := svc.Fail(context.Background(), attempt.ID, domain.FailAttemptRequest{
		To: domain.AttemptStatusApproved,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidFailStatus)
}

func TestConsumeRetry_SingleWinner(t *testing.T) {
	svc, _, fake := newTestService(t)
	ctx := context.Background()

	attempt := openAttempt(t, svc, 0)
	next := fake.Now().Add(24 * time.Hour)
	_, err := svc.Fail(ctx, attempt.ID, domain.FailAttemptRequest{
		To:          domain.AttemptStatusDeclined,
		Detail:      "insufficient funds",
		RetryCount:  1,
		NextRetryAt: &next,
	})
	assert.NoError(t, err)

	applied, err := svc.ConsumeRetry(ctx, attempt.ID)
	assert.NoError(t, err)
	assert.True(t, applied)

	applied, err = svc.ConsumeRetry(ctx, attempt.ID)
	assert.NoError(t, err)
	assert.False(t, applied)

	got, err := svc.GetByID(ctx, attempt.ID)
	assert.NoError(t, err)
	assert.Nil(t, got.NextRetryAt)
	assert.True(t, got.Terminal())
}

func TestFindDueRetries_OnlyScheduledAndDue(t *testing.T) {
	svc, _, fake := newTestService(t)
	ctx := context.Background()

	due := openAttempt(t, svc, 0)
	notYet := openAttempt(t, svc, 0)
	settled := openAttempt(t, svc, 0)

	soon := fake.Now().Add(1 * time.Hour)
	later := fake.Now().Add(48 * time.Hour)

	_, err := svc.Fail(ctx, due.ID, domain.FailAttemptRequest{
		To: domain.AttemptStatusDeclined, Detail: "insufficient funds", RetryCount: 1, NextRetryAt: &soon,
	})
	assert.NoError(t, err)
	_, err = svc.Fail(ctx, notYet.ID, domain.FailAttemptRequest{
		To: domain.AttemptStatusError, Detail: "gateway timeout", RetryCount: 1, NextRetryAt: &later,
	})
	assert.NoError(t, err)
	_, err = svc.Approve(ctx, settled.ID)
	assert.NoError(t, err)

	fake.Advance(2 * time.Hour)
	got, err := svc.FindDueRetries(ctx, fake.Now(), 10)
	assert.NoError(t, err)
	if assert.Len(t, got, 1) {
		assert.Equal(t, due.ID, got[0].ID)
	}
}

func TestAttachTransaction_FirstWriterWins(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	attempt := openAttempt(t, svc, 0)
	assert.NoError(t, svc.AttachTransaction(ctx, attempt.ID, "txn-0001"))

	got, err := svc.FindByTransactionID(ctx, "txn-0001")
	assert.NoError(t, err)
	if assert.NotNil(t, got) {
		assert.Equal(t, attempt.ID, got.ID)
	}

	_, err = svc.Approve(ctx, attempt.ID)
	assert.NoError(t, err)
	assert.NoError(t, svc.AttachTransaction(ctx, attempt.ID, "txn-0002"))

	got, err = svc.GetByID(ctx, attempt.ID)
	assert.NoError(t, err)
	if assert.NotNil(t, got.GatewayTransactionID) {
		assert.Equal(t, "txn-0001", *got.GatewayTransactionID)
	}
}

func TestAttachTransaction_AppliesToTimedOutAttempt(t *testing.T) {
	svc, _, fake := newTestService(t)
	ctx := context.Background()

	// The synchronous call timed out: the attempt failed with no transaction
	// id, and the webhook is the first to learn it.
	attempt := openAttempt(t, svc, 0)
	next := fake.Now().Add(24 * time.Hour)
	_, err := svc.Fail(ctx, attempt.ID, domain.FailAttemptRequest{
		To: domain.AttemptStatusError, Detail: "gateway timeout", RetryCount: 1, NextRetryAt: &next,
	})
	assert.NoError(t, err)

	assert.NoError(t, svc.AttachTransaction(ctx, attempt.ID, "txn-late"))

	got, err := svc.GetByID(ctx, attempt.ID)
	assert.NoError(t, err)
	if assert.NotNil(t, got.GatewayTransactionID) {
		assert.Equal(t, "txn-late", *got.GatewayTransactionID)
	}
}
