package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/photoledger/internal/apperror"
	"github.com/smallbiznis/photoledger/internal/clock"
	"github.com/smallbiznis/photoledger/internal/config"
	ledgerrepo "github.com/smallbiznis/photoledger/internal/ledger/repository"
	ledgersvc "github.com/smallbiznis/photoledger/internal/ledger/service"
	"github.com/smallbiznis/photoledger/internal/notifier"
	obsmetrics "github.com/smallbiznis/photoledger/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/photoledger/internal/order/domain"
	orderrepo "github.com/smallbiznis/photoledger/internal/order/repository"
	ordersvc "github.com/smallbiznis/photoledger/internal/order/service"
	"github.com/smallbiznis/photoledger/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/photoledger/internal/payment/domain"
	"github.com/smallbiznis/photoledger/internal/payment/repository"
	pricingrepo "github.com/smallbiznis/photoledger/internal/pricing/repository"
	pricingsvc "github.com/smallbiznis/photoledger/internal/pricing/service"
	"github.com/smallbiznis/photoledger/internal/testutil"
	userdomain "github.com/smallbiznis/photoledger/internal/user/domain"
	userrepo "github.com/smallbiznis/photoledger/internal/user/repository"
	usersvc "github.com/smallbiznis/photoledger/internal/user/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// fakeFactory builds an adapter that trusts a fixed header and carries the
// resource as plain JSON in Ciphertext.
type fakeFactory struct{}

func (fakeFactory) Provider() string { return "fakepay" }

func (fakeFactory) NewAdapter(paymentdomain.AdapterConfig) (paymentdomain.Adapter, error) {
	return fakeAdapter{}, nil
}

type fakeAdapter struct{}

func (fakeAdapter) Verify(_ context.Context, _ []byte, headers http.Header) error {
	if headers.Get("X-Signature") != "valid" {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

func (fakeAdapter) Decrypt(_ context.Context, resource paymentdomain.EncryptedResource) ([]byte, error) {
	if resource.Algorithm != "plain" {
		return nil, paymentdomain.ErrDecryptFailed
	}
	return []byte(resource.Ciphertext), nil
}

func (fakeAdapter) Parse(_ context.Context, envelope paymentdomain.Envelope, plaintext []byte) (*paymentdomain.PaymentEvent, error) {
	var event paymentdomain.PaymentEvent
	if err := json.Unmarshal(plaintext, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	switch envelope.EventType {
	case paymentdomain.EventTypeTransactionSuccess:
		event.Kind = paymentdomain.EventKindPaid
	case paymentdomain.EventTypeRefundSuccess:
		event.Kind = paymentdomain.EventKindRefund
	default:
		return nil, paymentdomain.ErrEventIgnored
	}
	event.Provider = "fakepay"
	event.EventID = envelope.ID
	event.EventType = envelope.EventType
	event.Resource = plaintext
	return &event, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []notifier.PaymentNotification
}

func (r *recordingNotifier) Notify(_ context.Context, note notifier.PaymentNotification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, note)
}

type fixture struct {
	db       *gorm.DB
	ingestor *Ingestor
	orders   orderdomain.Service
	users    userdomain.Service
	notes    *recordingNotifier
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := testutil.NewDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	policy := config.NewStaticLedgerConfig(config.DefaultLedgerConfig())
	lm := obsmetrics.NewLedgerMetrics(prometheus.NewRegistry(), obsmetrics.Config{})

	users := usersvc.New(usersvc.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: fake, Repo: userrepo.Provide(), Ledger: policy,
	})
	ledger := ledgersvc.NewService(ledgersvc.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: fake, Repo: ledgerrepo.Provide(), Ledger: policy,
	})
	pricing := pricingsvc.New(pricingsvc.Params{
		DB: db, Log: zap.NewNop(), Clock: fake, Repo: pricingrepo.Provide(), Ledger: policy,
	})
	orders := ordersvc.NewService(ordersvc.Params{
		DB: db, Log: zap.NewNop(), Clock: fake, Repo: orderrepo.Provide(),
		Users: users, Ledger: ledger, Pricing: pricing,
	})
	notes := &recordingNotifier{}

	return fixture{
		db:     db,
		orders: orders,
		users:  users,
		notes:  notes,
		ingestor: NewIngestor(Params{
			DB: db, Log: zap.NewNop(), GenID: node, Clock: fake,
			Cfg:           config.Config{Gateway: config.GatewayConfig{Provider: "fakepay"}},
			Registry:      adapters.NewRegistry(fakeFactory{}),
			Repo:          repository.Provide(),
			Orders:        orders,
			Notifier:      notes,
			Ingress:       IngressServerless,
			LedgerMetrics: lm,
		}),
	}
}

func delivery(t *testing.T, eventID, eventType string, resource map[string]any) paymentdomain.Delivery {
	t.Helper()
	plain, err := json.Marshal(resource)
	require.NoError(t, err)
	body, err := json.Marshal(paymentdomain.Envelope{
		ID:        eventID,
		EventType: eventType,
		Resource:  paymentdomain.EncryptedResource{Algorithm: "plain", Ciphertext: string(plain)},
	})
	require.NoError(t, err)
	headers := http.Header{}
	headers.Set("X-Signature", "valid")
	return paymentdomain.Delivery{Body: body, Headers: headers}
}

func (f fixture) newOrder(t *testing.T, openID string) (userdomain.User, orderdomain.Order) {
	t.Helper()
	user, err := f.users.Create(context.Background(), nil, openID)
	require.NoError(t, err)
	order, err := f.orders.CreateOrder(context.Background(), orderdomain.CreateOrderRequest{UserID: user.ID, ItemType: "basic"})
	require.NoError(t, err)
	return user, order
}

func paidResource(order orderdomain.Order, txn, openID string) map[string]any {
	return map[string]any{
		"OrderID": order.OrderID, "TransactionID": txn, "PayerOpenID": openID, "Amount": order.Amount,
	}
}

func TestDuplicateDeliveryCreditsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user, order := f.newOrder(t, "o-webhook")
	d := delivery(t, "evt-1", paymentdomain.EventTypeTransactionSuccess, paidResource(order, "wx-1", "o-webhook"))

	for i := 0; i < 2; i++ {
		ack, err := f.ingestor.Apply(ctx, d)
		require.NoError(t, err)
		assert.Equal(t, paymentdomain.AckSuccess, ack)
	}

	stored, err := f.users.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(8), stored.UsageCount)
	assert.True(t, stored.HasEverPaid)
	testutil.AssertCount(t, f.db, "SELECT COUNT(*) FROM usage_logs WHERE reason = 'payment'", 1)
	testutil.AssertCount(t, f.db, "SELECT COUNT(*) FROM payment_events WHERE provider_event_id = 'evt-1' AND outcome = 'applied'", 1)

	require.NoError(t, f.ingestor.Drain(ctx))
	require.Len(t, f.notes.notes, 1)
	assert.Equal(t, "paid", f.notes.notes[0].Kind)
	assert.Equal(t, paymentdomain.OutcomeApplied, f.notes.notes[0].Outcome)
}

func TestDistinctEventsForSameOrderApplyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user, order := f.newOrder(t, "o-dual")

	_, err := f.ingestor.Apply(ctx, delivery(t, "evt-a", paymentdomain.EventTypeTransactionSuccess, paidResource(order, "wx-2", "o-dual")))
	require.NoError(t, err)
	_, err = f.ingestor.Apply(ctx, delivery(t, "evt-b", paymentdomain.EventTypeTransactionSuccess, paidResource(order, "wx-2", "o-dual")))
	require.NoError(t, err)

	stored, err := f.users.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(8), stored.UsageCount)
	testutil.AssertCount(t, f.db, "SELECT COUNT(*) FROM payment_events WHERE outcome = 'noop'", 1)
}

func TestIgnoredEventIsAcknowledgedWithoutMutation(t *testing.T) {
	f := newFixture(t)
	user, order := f.newOrder(t, "o-ignored")

	ack, err := f.ingestor.Apply(context.Background(),
		delivery(t, "evt-closed", "TRANSACTION.CLOSED", paidResource(order, "wx-3", "o-ignored")))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.AckSuccess, ack)

	stored, err := f.orders.Get(context.Background(), order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusPending, stored.Status)
	testutil.AssertCount(t, f.db, "SELECT COUNT(*) FROM usage_logs WHERE user_id = ?", 0, user.ID)
	testutil.AssertCount(t, f.db, "SELECT COUNT(*) FROM payment_events", 0)
	require.NoError(t, f.ingestor.Drain(context.Background()))
	assert.Empty(t, f.notes.notes)
}

func TestRejectsUnsignedDelivery(t *testing.T) {
	f := newFixture(t)
	_, order := f.newOrder(t, "o-forged")
	d := delivery(t, "evt-forged", paymentdomain.EventTypeTransactionSuccess, paidResource(order, "wx-4", "o-forged"))
	d.Headers.Set("X-Signature", "forged")

	ack, err := f.ingestor.Apply(context.Background(), d)
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindAuthentication))
	assert.Equal(t, paymentdomain.AckFail, ack)
	testutil.AssertCount(t, f.db, "SELECT COUNT(*) FROM orders WHERE status = 'paid'", 0)
}

func TestRejectsUndecryptableResource(t *testing.T) {
	f := newFixture(t)
	body, err := json.Marshal(paymentdomain.Envelope{
		ID: "evt-enc", EventType: paymentdomain.EventTypeTransactionSuccess,
		Resource: paymentdomain.EncryptedResource{Algorithm: "rot13", Ciphertext: "{}"},
	})
	require.NoError(t, err)
	headers := http.Header{}
	headers.Set("X-Signature", "valid")

	_, err = f.ingestor.Apply(context.Background(), paymentdomain.Delivery{Body: body, Headers: headers})
	assert.ErrorIs(t, err, paymentdomain.ErrDecryptFailed)
}

func TestMissingOrderIsReconstructed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ack, err := f.ingestor.Apply(ctx, delivery(t, "evt-lost", paymentdomain.EventTypeTransactionSuccess, map[string]any{
		"OrderID": "PO-FROM-ELSEWHERE", "TransactionID": "wx-5", "PayerOpenID": "o-new", "Amount": 2990,
	}))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.AckSuccess, ack)

	order, err := f.orders.Get(ctx, "PO-FROM-ELSEWHERE")
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusPaid, order.Status)
	assert.Equal(t, "premium", order.ItemType)

	user, err := f.users.FindByOpenID(ctx, "o-new")
	require.NoError(t, err)
	assert.Equal(t, int64(23), user.UsageCount)
	testutil.AssertCount(t, f.db, "SELECT COUNT(*) FROM payment_events WHERE outcome = 'compensated'", 1)
}

func TestApplyFailureStillAcknowledges(t *testing.T) {
	f := newFixture(t)

	ack, err := f.ingestor.Apply(context.Background(), delivery(t, "evt-orphan", paymentdomain.EventTypeTransactionSuccess, map[string]any{
		"OrderID": "PO-NO-PAYER", "TransactionID": "wx-6", "Amount": 990,
	}))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.AckSuccess, ack)
	testutil.AssertCount(t, f.db, "SELECT COUNT(*) FROM payment_events WHERE provider_event_id = 'evt-orphan' AND processed_at IS NULL", 1)
}

func TestRefundEventRevokesCredits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user, order := f.newOrder(t, "o-refund")

	_, err := f.ingestor.Apply(ctx, delivery(t, "evt-pay", paymentdomain.EventTypeTransactionSuccess, paidResource(order, "wx-7", "o-refund")))
	require.NoError(t, err)
	_, err = f.ingestor.Apply(ctx, delivery(t, "evt-refund", paymentdomain.EventTypeRefundSuccess, map[string]any{
		"OrderID": order.OrderID, "RefundID": order.OrderID + "-R990", "Amount": order.Amount,
	}))
	require.NoError(t, err)

	stored, err := f.orders.Get(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusRefunded, stored.Status)

	balance, err := f.users.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), balance.UsageCount)
	assert.True(t, balance.HasEverPaid)
}

func TestArchiveKeepsDecryptedResource(t *testing.T) {
	f := newFixture(t)
	_, order := f.newOrder(t, "o-archive")
	_, err := f.ingestor.Apply(context.Background(),
		delivery(t, "evt-arch", paymentdomain.EventTypeTransactionSuccess, paidResource(order, "wx-8", "o-archive")))
	require.NoError(t, err)

	record, err := repository.Provide().FindEvent(context.Background(), f.db, "fakepay", "evt-arch")
	require.NoError(t, err)
	require.NotNil(t, record)
	resource, err := record.Resource()
	require.NoError(t, err)
	assert.Contains(t, string(resource), order.OrderID)
	assert.NotNil(t, record.ProcessedAt)
}

func TestEarlyRefundIsAppliedOnRedelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user, order := f.newOrder(t, "o-early")
	refund := delivery(t, "evt-refund-early", paymentdomain.EventTypeRefundSuccess, map[string]any{
		"OrderID": order.OrderID, "RefundID": order.OrderID + "-R1", "Amount": order.Amount,
	})

	ack, err := f.ingestor.Apply(ctx, refund)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.AckSuccess, ack)
	testutil.AssertCount(t, f.db,
		"SELECT COUNT(*) FROM payment_events WHERE provider_event_id = 'evt-refund-early' AND outcome = 'conflict' AND processed_at IS NULL", 1)

	_, err = f.ingestor.Apply(ctx, delivery(t, "evt-pay-late", paymentdomain.EventTypeTransactionSuccess, paidResource(order, "wx-9", "o-early")))
	require.NoError(t, err)
	paid, err := f.users.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(8), paid.UsageCount)

	ack, err = f.ingestor.Apply(ctx, refund)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.AckSuccess, ack)

	stored, err := f.orders.Get(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusRefunded, stored.Status)
	refunded, err := f.users.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), refunded.UsageCount)
	testutil.AssertCount(t, f.db,
		"SELECT COUNT(*) FROM payment_events WHERE provider_event_id = 'evt-refund-early' AND outcome = 'applied' AND processed_at IS NOT NULL", 1)

	require.NoError(t, f.ingestor.Drain(ctx))
	outcomes := map[string][]string{}
	for _, note := range f.notes.notes {
		outcomes[note.EventID] = append(outcomes[note.EventID], note.Outcome)
	}
	assert.ElementsMatch(t, []string{paymentdomain.OutcomeConflict, paymentdomain.OutcomeApplied}, outcomes["evt-refund-early"])
}

type blockingNotifier struct {
	release chan struct{}
	done    chan notifier.PaymentNotification
}

func (b *blockingNotifier) Notify(ctx context.Context, note notifier.PaymentNotification) {
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	b.done <- note
}

func TestApplyAcknowledgesBeforeNotifying(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	slow := &blockingNotifier{release: make(chan struct{}), done: make(chan notifier.PaymentNotification, 1)}
	f.ingestor.notifier = slow
	_, order := f.newOrder(t, "o-slow")

	ack, err := f.ingestor.Apply(ctx, delivery(t, "evt-slow", paymentdomain.EventTypeTransactionSuccess, paidResource(order, "wx-10", "o-slow")))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.AckSuccess, ack)
	cancel()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer drainCancel()
	assert.ErrorIs(t, f.ingestor.Drain(drainCtx), context.DeadlineExceeded)

	close(slow.release)
	require.NoError(t, f.ingestor.Drain(context.Background()))
	note := <-slow.done
	assert.Equal(t, "evt-slow", note.EventID)
	assert.Equal(t, paymentdomain.OutcomeApplied, note.Outcome)
}
