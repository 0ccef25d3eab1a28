package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	accountdomain "github.com/rubenoroz/closeframe-sub002/internal/account/domain"
	"github.com/rubenoroz/closeframe-sub002/internal/authorization"
	"github.com/rubenoroz/closeframe-sub002/internal/capability"
	entitlementdomain "github.com/rubenoroz/closeframe-sub002/internal/entitlement/domain"
	payoutdomain "github.com/rubenoroz/closeframe-sub002/internal/payout/domain"
	processordomain "github.com/rubenoroz/closeframe-sub002/internal/processor/domain"
	"github.com/rubenoroz/closeframe-sub002/internal/session"
	subscriptiondomain "github.com/rubenoroz/closeframe-sub002/internal/subscription/domain"
	webhookdomain "github.com/rubenoroz/closeframe-sub002/internal/webhook/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	memberToken   = "member-token"
	operatorToken = "operator-token"
	memberID      = snowflake.ID(100)
	operatorID    = snowflake.ID(900)
)

type fakeSessions struct {
	store    *session.Store
	sessions map[string]*session.Session
}

func (f *fakeSessions) ReadToken(c *gin.Context) (string, bool) {
	return f.store.ReadToken(c)
}

func (f *fakeSessions) Resolve(ctx context.Context, token string) (*session.Session, error) {
	sess, ok := f.sessions[token]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return sess, nil
}

type fakeSubscriptionService struct {
	subscriptiondomain.Service
	last    subscriptiondomain.ChangePlanRequest
	outcome *subscriptiondomain.Outcome
	err     error
}

func (f *fakeSubscriptionService) ChangePlan(ctx context.Context, req subscriptiondomain.ChangePlanRequest) (*subscriptiondomain.Outcome, error) {
	f.last = req
	return f.outcome, f.err
}

type fakePayoutService struct {
	payoutdomain.Service
	err       error
	completed []payoutdomain.CompleteRequest
}

func (f *fakePayoutService) RequestPayout(ctx context.Context, accountID snowflake.ID) (*payoutdomain.Outcome, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &payoutdomain.Outcome{PayoutID: 7, Status: payoutdomain.StatusProcessing, Amount: 5000, Currency: "usd"}, nil
}

func (f *fakePayoutService) Complete(ctx context.Context, req payoutdomain.CompleteRequest) (*payoutdomain.Payout, error) {
	f.completed = append(f.completed, req)
	return &payoutdomain.Payout{ID: req.PayoutID, Status: payoutdomain.StatusCompleted}, nil
}

func (f *fakePayoutService) Statement(ctx context.Context, accountID snowflake.ID, payoutID snowflake.ID) ([]byte, error) {
	if accountID != memberID {
		return nil, payoutdomain.ErrPayoutNotFound
	}
	return []byte("%PDF-1.4"), nil
}

type fakeWebhookService struct {
	err       error
	signature string
}

func (f *fakeWebhookService) Ingest(ctx context.Context, payload []byte, signatureHeader string) error {
	f.signature = signatureHeader
	return f.err
}

type fakeEntitlementService struct{}

func (fakeEntitlementService) Resolve(ctx context.Context, accountID snowflake.ID, key capability.Key) (entitlementdomain.Access, error) {
	limit := int64(10)
	return entitlementdomain.Access{Allowed: true, Limit: &limit}, nil
}

func (fakeEntitlementService) ResolveAll(ctx context.Context, accountID snowflake.ID) (map[capability.Key]entitlementdomain.Access, error) {
	return map[capability.Key]entitlementdomain.Access{
		capability.MaxGalleries: {Allowed: true},
	}, nil
}

type testServer struct {
	*Server
	subscriptions *fakeSubscriptionService
	payouts       *fakePayoutService
	webhooks      *fakeWebhookService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	enforcer, err := authorization.NewMemoryEnforcer()
	require.NoError(t, err)

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	ts := &testServer{
		subscriptions: &fakeSubscriptionService{},
		payouts:       &fakePayoutService{},
		webhooks:      &fakeWebhookService{},
	}
	ts.Server = &Server{
		engine: engine,
		log:    zap.NewNop(),
		sessions: &fakeSessions{
			store: session.NewStore(nil),
			sessions: map[string]*session.Session{
				memberToken:   {AccountID: memberID, Role: accountdomain.RoleMember},
				operatorToken: {AccountID: operatorID, Role: accountdomain.RoleOperator},
			},
		},
		authzSvc:        authorization.NewService(authorization.Params{Log: zap.NewNop(), Enforcer: enforcer}),
		entitlementSvc:  fakeEntitlementService{},
		subscriptionSvc: ts.subscriptions,
		payoutSvc:       ts.payouts,
		webhookSvc:      ts.webhooks,
	}
	ts.registerWebhookRoutes()
	ts.registerAPIRoutes()
	ts.registerAdminRoutes()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestAPIRequiresSession(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/entitlements", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "unauthorized", decodeError(t, rec).Type)

	rec = ts.do(t, http.MethodGet, "/api/entitlements", "expired-token", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListEntitlements(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/entitlements", memberToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"data":{"max_galleries":{"allowed":true,"limit":null}}}`, rec.Body.String())
}

func TestGetEntitlement(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/entitlements/"+string(capability.MaxGalleries), memberToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"key":"max_galleries","allowed":true,"limit":10}`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/entitlements/teleportation", memberToken, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	require.Equal(t, "validation_error", payload.Type)
	require.Equal(t, "unknown_capability", payload.Errors[0].Code)
}

func TestChangePlanReturnsOutcome(t *testing.T) {
	ts := newTestServer(t)
	effective := time.Date(2026, 5, 31, 0, 0, 0, 0, time.UTC)
	ts.subscriptions.outcome = &subscriptiondomain.Outcome{
		Type:          subscriptiondomain.ChangeDowngrade,
		EffectiveDate: &effective,
		Message:       "Your plan changes on May 31, 2026.",
	}

	rec := ts.do(t, http.MethodPost, "/api/subscription/change", memberToken, gin.H{"planId": "42", "priceId": " price_pro_monthly "})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, memberID, ts.subscriptions.last.AccountID)
	require.Equal(t, snowflake.ID(42), ts.subscriptions.last.PlanID)
	require.Equal(t, "price_pro_monthly", ts.subscriptions.last.PriceID)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "downgrade", body["type"])
	require.Equal(t, "2026-05-31T00:00:00Z", body["effectiveDate"])
}

func TestChangePlanRejectsBadPlanID(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/subscription/change", memberToken, gin.H{"planId": "pro"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "planId", decodeError(t, rec).Errors[0].Field)
}

func TestChangePlanProcessorUnavailable(t *testing.T) {
	ts := newTestServer(t)
	ts.subscriptions.err = fmt.Errorf("%w: timeout", subscriptiondomain.ErrProcessorUnavailable)

	rec := ts.do(t, http.MethodPost, "/api/subscription/change", memberToken, gin.H{"planId": "42"})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequestPayoutRejection(t *testing.T) {
	ts := newTestServer(t)
	ts.payouts.err = &payoutdomain.RejectionError{
		Code:      payoutdomain.RejectBelowThreshold,
		Message:   "You need $50.00 to request a payout.",
		Balance:   1200,
		Threshold: 5000,
	}

	rec := ts.do(t, http.MethodPost, "/api/referral/payout", memberToken, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.JSONEq(t, `{"error":{
		"type":"payout_rejected",
		"message":"You need $50.00 to request a payout.",
		"code":"below_threshold",
		"balance":1200,
		"threshold":5000
	}}`, rec.Body.String())
}

func TestRequestPayoutRateLimited(t *testing.T) {
	ts := newTestServer(t)
	ts.payouts.err = &payoutdomain.RateLimitError{RetryAfter: 2500 * time.Millisecond}

	rec := ts.do(t, http.MethodPost, "/api/referral/payout", memberToken, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "3", rec.Header().Get("Retry-After"))
}

func TestRequestPayoutInProgress(t *testing.T) {
	ts := newTestServer(t)
	ts.payouts.err = payoutdomain.ErrPayoutInProgress

	rec := ts.do(t, http.MethodPost, "/api/referral/payout", memberToken, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "payout_in_progress", decodeError(t, rec).Code)
}

func TestRequestPayoutSucceeds(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/referral/payout", memberToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var outcome payoutdomain.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
	require.Equal(t, payoutdomain.StatusProcessing, outcome.Status)
	require.Equal(t, int64(5000), outcome.Amount)
}

func TestPayoutStatement(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/referral/payouts/7/statement", memberToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Header().Get("Content-Disposition"), "payout-7.pdf")

	rec = ts.do(t, http.MethodGet, "/api/referral/payouts/7/statement", operatorToken, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/referral/payouts/abc/statement", memberToken, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRoutesRequirePermission(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/admin/payouts/7/complete", memberToken, gin.H{"externalRef": "wire-1"})
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Empty(t, ts.payouts.completed)

	rec = ts.do(t, http.MethodPost, "/admin/payouts/7/complete", operatorToken, gin.H{"externalRef": " wire-1 "})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, ts.payouts.completed, 1)
	require.Equal(t, payoutdomain.CompleteRequest{
		PayoutID:    7,
		ExternalRef: "wire-1",
		ActorID:     operatorID.String(),
	}, ts.payouts.completed[0])
}

func TestStripeWebhook(t *testing.T) {
	ts := newTestServer(t)
	payload := []byte(`{"id":"evt_1","type":"invoice.paid"}`)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
		req.Header.Set("Stripe-Signature", "t=1,v1=abc")
		rec := httptest.NewRecorder()
		ts.engine.ServeHTTP(rec, req)
		return rec
	}

	rec := send()
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "t=1,v1=abc", ts.webhooks.signature)

	ts.webhooks.err = webhookdomain.ErrEventAlreadyProcessed
	rec = send()
	require.Equal(t, http.StatusOK, rec.Code)

	ts.webhooks.err = webhookdomain.ErrInvalidSignature
	rec = send()
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_signature", decodeError(t, rec).Errors[0].Code)

	ts.webhooks.err = webhookdomain.ErrMissingMetadata
	rec = send()
	require.Equal(t, http.StatusBadRequest, rec.Code)

	ts.webhooks.err = fmt.Errorf("lookup subscription: %w", processordomain.ErrUnavailable)
	rec = send()
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestClassifyErrorForLog(t *testing.T) {
	errType, code := classifyErrorForLog(webhookdomain.ErrInvalidSignature)
	require.Equal(t, "invalid_signature", errType)
	require.Equal(t, "invalid_signature", code)

	errType, code = classifyErrorForLog(&payoutdomain.RejectionError{Code: payoutdomain.RejectNoProgram})
	require.Equal(t, "payout_rejected", errType)
	require.Equal(t, payoutdomain.RejectNoProgram, code)

	errType, code = classifyErrorForLog(authorization.ErrForbidden)
	require.Equal(t, "forbidden", errType)
	require.Equal(t, "forbidden", code)
}
