package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rebill/internal/config"
	ledgerdomain "github.com/smallbiznis/rebill/internal/ledger/domain"
	sourcedomain "github.com/smallbiznis/rebill/internal/paymentsource/domain"
	plandomain "github.com/smallbiznis/rebill/internal/plan/domain"
	reconciledomain "github.com/smallbiznis/rebill/internal/reconcile/domain"
	subscriptiondomain "github.com/smallbiznis/rebill/internal/subscription/domain"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeReconciler struct {
	ingestErr     error
	registerErr   error
	ingested      [][]byte
	registrations []string
}

func (f *fakeReconciler) Ingest(_ context.Context, payload []byte, _ http.Header) error {
	f.ingested = append(f.ingested, payload)
	return f.ingestErr
}

func (f *fakeReconciler) RegisterPendingPayment(_ context.Context, paymentLinkID string, _ snowflake.ID, _ string) error {
	f.registrations = append(f.registrations, paymentLinkID)
	return f.registerErr
}

type fakeSourceService struct {
	createErr   error
	cancelErr   error
	cancelCalls int
	source      *sourcedomain.PaymentSource
}

func (f *fakeSourceService) CreateFromToken(_ context.Context, req sourcedomain.CreateFromTokenRequest) (*sourcedomain.PaymentSource, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &sourcedomain.PaymentSource{SubscriberID: req.SubscriberID}, nil
}

func (f *fakeSourceService) FindActive(_ context.Context, _ snowflake.ID) (*sourcedomain.PaymentSource, error) {
	if f.source == nil {
		return nil, sourcedomain.ErrNoPaymentMethod
	}
	return f.source, nil
}

func (f *fakeSourceService) Cancel(_ context.Context, _ snowflake.ID) error {
	f.cancelCalls++
	return f.cancelErr
}

func (f *fakeSourceService) Reactivate(_ context.Context, _ snowflake.ID) error {
	return nil
}

type fakeSubscriptionService struct {
	existing      *subscriptiondomain.Subscription
	activateCalls int
	cancelCalls   int
	cancelErr     error
}

func (f *fakeSubscriptionService) GetBySubscriberAndPlan(_ context.Context, _ snowflake.ID, _ string) (*subscriptiondomain.Subscription, error) {
	if f.existing == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	return f.existing, nil
}

func (f *fakeSubscriptionService) Activate(_ context.Context, req subscriptiondomain.ActivateRequest) (*subscriptiondomain.Subscription, error) {
	f.activateCalls++
	return &subscriptiondomain.Subscription{
		SubscriberID:    req.SubscriberID,
		PlanID:          req.PlanID,
		AutoRenew:       true,
		NextBillingDate: time.Now().AddDate(0, 0, req.PeriodDays),
	}, nil
}

func (f *fakeSubscriptionService) ExtendForAttempt(_ context.Context, _ snowflake.ID, _ string, _ snowflake.ID, _ int) (bool, error) {
	return false, nil
}

func (f *fakeSubscriptionService) DisableAutoRenew(_ context.Context, _ snowflake.ID, _ string) error {
	return nil
}

func (f *fakeSubscriptionService) Cancel(_ context.Context, _ snowflake.ID, _ string) error {
	f.cancelCalls++
	return f.cancelErr
}

type fakePlanRepository struct {
	plans map[string]*plandomain.Plan
}

func (f *fakePlanRepository) FindByCode(_ context.Context, _ *gorm.DB, code string) (*plandomain.Plan, error) {
	plan, ok := f.plans[code]
	if !ok {
		return nil, plandomain.ErrPlanNotFound
	}
	return plan, nil
}

func (f *fakePlanRepository) Insert(_ context.Context, _ *gorm.DB, _ *plandomain.Plan) error {
	return nil
}

type fakeChargeExecutor struct {
	attempt *ledgerdomain.BillingAttempt
	err     error
	calls   int
}

func (f *fakeChargeExecutor) Execute(_ context.Context, subscriberID snowflake.ID, planCode string) (*ledgerdomain.BillingAttempt, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.attempt != nil {
		return f.attempt, nil
	}
	return &ledgerdomain.BillingAttempt{
		ID:           snowflake.ID(101),
		SubscriberID: subscriberID,
		PlanID:       planCode,
		Status:       ledgerdomain.AttemptStatusApproved,
	}, nil
}

type testServer struct {
	server        *Server
	reconciler    *fakeReconciler
	sources       *fakeSourceService
	subscriptions *fakeSubscriptionService
	executor      *fakeChargeExecutor
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	reconciler := &fakeReconciler{}
	sources := &fakeSourceService{}
	subscriptions := &fakeSubscriptionService{}
	executor := &fakeChargeExecutor{}
	plans := &fakePlanRepository{plans: map[string]*plandomain.Plan{
		"plan_gold": {ID: snowflake.ID(1), Code: "plan_gold", Name: "Gold", Amount: 4990, Currency: "USD", PeriodDays: 30},
	}}

	srv := NewServer(ServerParams{
		Gin:           NewEngine(zap.NewNop()),
		Cfg:           config.Config{AppName: "rebill"},
		Log:           zap.NewNop(),
		Executor:      executor,
		Plans:         plans,
		Sources:       sources,
		Subscriptions: subscriptions,
		Reconciler:    reconciler,
	})

	return &testServer{
		server:        srv,
		reconciler:    reconciler,
		sources:       sources,
		subscriptions: subscriptions,
		executor:      executor,
	}
}

func (ts *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp := httptest.NewRecorder()
	ts.server.Engine().ServeHTTP(resp, req)
	return resp
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestWebhookAccepted(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(http.MethodPost, "/v1/webhooks/gateway", `{"event":"transaction.updated"}`)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, ts.reconciler.ingested, 1)
}

func TestWebhookBadSignatureIsUnauthorized(t *testing.T) {
	ts := newTestServer(t)
	ts.reconciler.ingestErr = reconciledomain.ErrInvalidSignature

	resp := ts.do(http.MethodPost, "/v1/webhooks/gateway", `{"event":"transaction.updated"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestWebhookMalformedPayloadIsBadRequest(t *testing.T) {
	ts := newTestServer(t)
	ts.reconciler.ingestErr = reconciledomain.ErrInvalidPayload

	resp := ts.do(http.MethodPost, "/v1/webhooks/gateway", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestCreatePaymentSource(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(http.MethodPost, "/v1/subscribers/1001/payment-sources", `{"card_token":"tok_visa","customer_email":"a@example.com"}`)
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestCreatePaymentSourceTokenizationFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.sources.createErr = sourcedomain.ErrTokenization

	resp := ts.do(http.MethodPost, "/v1/subscribers/1001/payment-sources", `{"card_token":"tok_bad","customer_email":"a@example.com"}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, resp.Body.String(), "tokenization_failed")
}

func TestSubscribeChargesAndActivates(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(http.MethodPost, "/v1/subscribers/1001/subscription", `{"plan_code":"plan_gold"}`)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 1, ts.executor.calls)
	assert.Equal(t, 1, ts.subscriptions.activateCalls)
}

func TestSubscribeExistingActiveSubscriptionIsNotReactivated(t *testing.T) {
	ts := newTestServer(t)
	ts.subscriptions.existing = &subscriptiondomain.Subscription{
		SubscriberID:    snowflake.ID(1001),
		PlanID:          "plan_gold",
		AutoRenew:       true,
		NextBillingDate: time.Now().AddDate(0, 0, 30),
	}

	resp := ts.do(http.MethodPost, "/v1/subscribers/1001/subscription", `{"plan_code":"plan_gold"}`)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 0, ts.subscriptions.activateCalls)
}

func TestSubscribeDeclinedIsPaymentRequired(t *testing.T) {
	ts := newTestServer(t)
	ts.executor.attempt = &ledgerdomain.BillingAttempt{
		ID:     snowflake.ID(101),
		Status: ledgerdomain.AttemptStatusDeclined,
	}

	resp := ts.do(http.MethodPost, "/v1/subscribers/1001/subscription", `{"plan_code":"plan_gold"}`)
	assert.Equal(t, http.StatusPaymentRequired, resp.Code)
	assert.Equal(t, 0, ts.subscriptions.activateCalls)
}

func TestSubscribeWithoutPaymentMethod(t *testing.T) {
	ts := newTestServer(t)
	ts.executor.err = sourcedomain.ErrNoPaymentMethod

	resp := ts.do(http.MethodPost, "/v1/subscribers/1001/subscription", `{"plan_code":"plan_gold"}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, resp.Body.String(), "no_payment_method")
}

func TestSubscribeUnknownPlan(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(http.MethodPost, "/v1/subscribers/1001/subscription", `{"plan_code":"plan_unknown"}`)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, 0, ts.executor.calls)
}

func TestSubscribeViaPaymentLink(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(http.MethodPost, "/v1/subscribers/1001/subscription", `{"plan_code":"plan_gold","payment_link_id":"link_abc"}`)
	assert.Equal(t, http.StatusAccepted, resp.Code)
	assert.Equal(t, []string{"link_abc"}, ts.reconciler.registrations)
	assert.Equal(t, 0, ts.executor.calls)
}

func TestSubscribeViaPaymentLinkDuplicate(t *testing.T) {
	ts := newTestServer(t)
	ts.reconciler.registerErr = reconciledomain.ErrDuplicateLink

	resp := ts.do(http.MethodPost, "/v1/subscribers/1001/subscription", `{"plan_code":"plan_gold","payment_link_id":"link_abc"}`)
	assert.Equal(t, http.StatusConflict, resp.Code)
}

func TestUnsubscribeCancelsSubscriptionAndSource(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(http.MethodDelete, "/v1/subscribers/1001/subscription?plan_code=plan_gold", "")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 1, ts.subscriptions.cancelCalls)
	assert.Equal(t, 1, ts.sources.cancelCalls)
}

func TestUnsubscribeUnknownSubscription(t *testing.T) {
	ts := newTestServer(t)
	ts.subscriptions.cancelErr = subscriptiondomain.ErrSubscriptionNotFound

	resp := ts.do(http.MethodDelete, "/v1/subscribers/1001/subscription?plan_code=plan_gold", "")
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, 0, ts.sources.cancelCalls)
}

func TestInvalidSubscriberParam(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(http.MethodDelete, "/v1/subscribers/abc/subscription?plan_code=plan_gold", "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}
