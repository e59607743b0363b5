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
	"github.com/smallbiznis/photoledger/internal/authorization"
	"github.com/smallbiznis/photoledger/internal/config"
	invitedomain "github.com/smallbiznis/photoledger/internal/invite/domain"
	ledgerdomain "github.com/smallbiznis/photoledger/internal/ledger/domain"
	"github.com/smallbiznis/photoledger/internal/observability"
	orderdomain "github.com/smallbiznis/photoledger/internal/order/domain"
	paymentdomain "github.com/smallbiznis/photoledger/internal/payment/domain"
	pricingdomain "github.com/smallbiznis/photoledger/internal/pricing/domain"
	userdomain "github.com/smallbiznis/photoledger/internal/user/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testToken = "internal-secret"

type fakeOrderService struct {
	orderdomain.Service

	paid      []orderdomain.PaidEvidence
	refunds   []orderdomain.RefundEvidence
	overrides []orderdomain.OverrideRequest
	err       error
}

func (f *fakeOrderService) QueryStatus(_ context.Context, orderID string) (orderdomain.StatusView, error) {
	if f.err != nil {
		return orderdomain.StatusView{}, f.err
	}
	return orderdomain.StatusView{OrderID: orderID, Status: orderdomain.StatusPending, Amount: 990}, nil
}

func (f *fakeOrderService) ApplyPaid(_ context.Context, ev orderdomain.PaidEvidence) (orderdomain.TransitionResult, error) {
	f.paid = append(f.paid, ev)
	if f.err != nil {
		return orderdomain.TransitionResult{}, f.err
	}
	return orderdomain.TransitionResult{
		Order:   orderdomain.Order{OrderID: ev.OrderID, Status: orderdomain.StatusPaid},
		From:    orderdomain.StatusPending,
		Applied: true,
		Credit:  &ledgerdomain.Mutation{User: userdomain.User{UsageCount: 8}, Applied: true},
	}, nil
}

func (f *fakeOrderService) Refund(_ context.Context, ev orderdomain.RefundEvidence) (orderdomain.TransitionResult, error) {
	f.refunds = append(f.refunds, ev)
	return orderdomain.TransitionResult{
		Order:   orderdomain.Order{OrderID: ev.OrderID, Status: orderdomain.StatusRefunded},
		From:    orderdomain.StatusPaid,
		Applied: true,
	}, f.err
}

func (f *fakeOrderService) Override(_ context.Context, req orderdomain.OverrideRequest) (orderdomain.TransitionResult, error) {
	f.overrides = append(f.overrides, req)
	return orderdomain.TransitionResult{
		Order:   orderdomain.Order{OrderID: req.OrderID, Status: req.Target},
		Applied: true,
	}, f.err
}

type fakeInviteService struct {
	invitedomain.Service
	result invitedomain.RegisterResult
}

func (f *fakeInviteService) RegisterWithInvite(_ context.Context, req invitedomain.RegisterRequest) (invitedomain.RegisterResult, error) {
	result := f.result
	result.User.OpenID = req.OpenID
	return result, nil
}

type fakeLedgerService struct {
	ledgerdomain.Service
	balance int64
}

func (f *fakeLedgerService) Balance(_ context.Context, userID snowflake.ID) (userdomain.User, error) {
	return userdomain.User{ID: userID, UsageCount: f.balance}, nil
}

func (f *fakeLedgerService) History(_ context.Context, userID snowflake.ID, limit int) ([]ledgerdomain.UsageLogEntry, error) {
	return []ledgerdomain.UsageLogEntry{{UserID: userID, ActionType: ledgerdomain.ActionIncrement, Amount: 3}}, nil
}

func (f *fakeLedgerService) SpendCredit(_ context.Context, userID snowflake.ID, ref string) (ledgerdomain.Mutation, error) {
	if f.balance == 0 {
		return ledgerdomain.Mutation{}, ledgerdomain.ErrInsufficientCredits
	}
	f.balance--
	return ledgerdomain.Mutation{User: userdomain.User{ID: userID, UsageCount: f.balance}, Applied: true}, nil
}

type fakePricingService struct {
	pricingdomain.Service
	updated map[string]int64
}

func (f *fakePricingService) Update(_ context.Context, itemType string, amount int64) (pricingdomain.PriceEntry, error) {
	if f.updated == nil {
		f.updated = map[string]int64{}
	}
	f.updated[itemType] = amount
	return pricingdomain.PriceEntry{ItemType: itemType, Amount: amount}, nil
}

type fakeAuthz struct {
	admins map[string]bool
}

func (f fakeAuthz) Authorize(_ context.Context, actor, _, _ string) error {
	if f.admins[actor] {
		return nil
	}
	return authorization.ErrForbidden
}

func (fakeAuthz) GrantRole(context.Context, string, string) error { return nil }

type fakeIngestor struct {
	deliveries int
}

func (f *fakeIngestor) Apply(_ context.Context, d paymentdomain.Delivery) (paymentdomain.Ack, error) {
	f.deliveries++
	if d.Headers.Get("X-Signature") != "valid" {
		return paymentdomain.AckFail, paymentdomain.ErrInvalidSignature
	}
	return paymentdomain.AckSuccess, nil
}

type testServer struct {
	*Server
	orders   *fakeOrderService
	invites  *fakeInviteService
	ledger   *fakeLedgerService
	pricing  *fakePricingService
	ingestor *fakeIngestor
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ts := testServer{
		orders:   &fakeOrderService{},
		invites:  &fakeInviteService{},
		ledger:   &fakeLedgerService{balance: 3},
		pricing:  &fakePricingService{},
		ingestor: &fakeIngestor{},
	}
	ts.Server = &Server{
		engine:     NewEngine(observability.Config{Environment: "test"}),
		cfg:        config.Config{InternalToken: testToken},
		log:        zap.NewNop(),
		orderSvc:   ts.orders,
		inviteSvc:  ts.invites,
		ledgerSvc:  ts.ledger,
		pricingSvc: ts.pricing,
		authzSvc:   fakeAuthz{admins: map[string]bool{"ops@example.com": true}},
		ingestor:   ts.ingestor,
	}
	ts.registerRoutes()
	return ts
}

func (ts testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var raw []byte
	switch v := body.(type) {
	case nil:
	case []byte:
		raw = v
	default:
		var err error
		raw, err = json.Marshal(v)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRegisterReportsRejectedInviteWithoutFailing(t *testing.T) {
	ts := newTestServer(t)
	ts.invites.result = invitedomain.RegisterResult{
		Created: true,
		Invite: invitedomain.InviteResult{
			Outcome: invitedomain.OutcomeSelfInvite,
			Status:  invitedomain.OutcomeSelfInvite.Status(),
		},
	}

	rec := ts.do(t, http.MethodPost, "/v1/users/register", map[string]string{
		"openid": "o-self", "invite_code": "ABCD2345",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	data := decode(t, rec)["data"].(map[string]any)
	invite := data["invite"].(map[string]any)
	assert.Equal(t, "rejected", invite["status"])
	assert.Equal(t, "self_invite", invite["code"])
}

func TestWebhookAcknowledgement(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/webhooks/payment", []byte(`{}`), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "FAIL", decode(t, rec)["code"])

	rec = ts.do(t, http.MethodPost, "/webhooks/payment", []byte(`{}`), map[string]string{"X-Signature": "valid"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "SUCCESS", decode(t, rec)["code"])
	assert.Equal(t, 2, ts.ingestor.deliveries)
}

func TestPaymentNotificationRequiresToken(t *testing.T) {
	ts := newTestServer(t)
	note := map[string]any{"event_id": "evt-1", "kind": "paid", "order_id": "PO1", "amount": 990}

	rec := ts.do(t, http.MethodPost, "/internal/payment-events", note, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodPost, "/internal/payment-events", note, map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, ts.orders.paid)
}

func TestPaymentNotificationAppliesThroughOrderStore(t *testing.T) {
	ts := newTestServer(t)
	auth := map[string]string{"Authorization": "Bearer " + testToken}
	occurred := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	rec := ts.do(t, http.MethodPost, "/internal/payment-events", map[string]any{
		"event_id": "evt-1", "kind": "paid", "order_id": "PO1", "transaction_id": "4200001",
		"payer_openid": "o-1", "amount": 990, "occurred_at": occurred,
	}, auth)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, ts.orders.paid, 1)
	assert.Equal(t, orderdomain.SourceNotifier, ts.orders.paid[0].Source)
	assert.Equal(t, "4200001", ts.orders.paid[0].GatewayTransactionID)
	data := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, float64(8), data["usage_count"])

	rec = ts.do(t, http.MethodPost, "/internal/payment-events", map[string]any{
		"event_id": "evt-2", "kind": "refund", "order_id": "PO1", "refund_id": "PO1-R990", "amount": 990,
	}, auth)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, ts.orders.refunds, 1)
	assert.Equal(t, "PO1-R990", ts.orders.refunds[0].RefundID)

	rec = ts.do(t, http.MethodPost, "/internal/payment-events", map[string]any{
		"event_id": "evt-3", "kind": "chargeback", "order_id": "PO1", "amount": 990,
	}, auth)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorKindsMapToStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
		typ    string
	}{
		{orderdomain.ErrNotFound, http.StatusNotFound, "not_found"},
		{fmt.Errorf("%w: paid -> pending", orderdomain.ErrIllegalTransition), http.StatusConflict, "conflict_error"},
		{fmt.Errorf("%w: dial tcp", orderdomain.ErrStoreDegraded), http.StatusServiceUnavailable, "persistence_degraded"},
		{orderdomain.ErrRateLimited, http.StatusTooManyRequests, "capacity_error"},
		{orderdomain.ErrInvalidOrderID, http.StatusBadRequest, "validation_error"},
		{authorization.ErrForbidden, http.StatusForbidden, "forbidden"},
		{paymentdomain.ErrInvalidSignature, http.StatusUnauthorized, "authentication_error"},
		{fmt.Errorf("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		status, payload := mapError(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.typ, payload.Type, tc.err.Error())
	}
}

func TestOrderLookupErrorEnvelope(t *testing.T) {
	ts := newTestServer(t)
	ts.orders.err = orderdomain.ErrNotFound

	rec := ts.do(t, http.MethodGet, "/v1/orders/PO404", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	envelope := decode(t, rec)["error"].(map[string]any)
	assert.Equal(t, "not_found", envelope["type"])
}

func TestCreditsAndSpend(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/v1/users/42/credits", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, float64(3), data["usage_count"])

	for range 3 {
		rec = ts.do(t, http.MethodPost, "/v1/users/42/credits/spend", map[string]string{"reference_id": "gen-1"}, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec = ts.do(t, http.MethodPost, "/v1/users/42/credits/spend", map[string]string{"reference_id": "gen-1"}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/users/not-a-number/credits", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRoutes(t *testing.T) {
	ts := newTestServer(t)
	auth := map[string]string{"Authorization": "Bearer " + testToken}

	rec := ts.do(t, http.MethodPut, "/admin/prices/basic", map[string]int64{"amount": 1290}, auth)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "actor header is required")

	withActor := func(actor string) map[string]string {
		return map[string]string{"Authorization": "Bearer " + testToken, HeaderActor: actor}
	}

	rec = ts.do(t, http.MethodPut, "/admin/prices/basic", map[string]int64{"amount": 1290}, withActor("intern@example.com"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, ts.pricing.updated)

	rec = ts.do(t, http.MethodPut, "/admin/prices/basic", map[string]int64{"amount": 1290}, withActor("ops@example.com"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(1290), ts.pricing.updated["basic"])

	rec = ts.do(t, http.MethodPost, "/admin/orders/PO1/status", map[string]string{
		"status": "Cancelled", "reason": "customer request",
	}, withActor("ops@example.com"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, ts.orders.overrides, 1)
	assert.Equal(t, orderdomain.StatusCancelled, ts.orders.overrides[0].Target)
	assert.Equal(t, "ops@example.com", ts.orders.overrides[0].Actor)
}
