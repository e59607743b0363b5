package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/photoledger/internal/config"
	obsmetrics "github.com/smallbiznis/photoledger/internal/observability/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newNotifier(t *testing.T, url string, registry *prometheus.Registry) *Notifier {
	t.Helper()
	n := New(Params{
		Cfg: config.Config{Notifier: config.NotifierConfig{
			URL: url, Token: "secret", Timeout: 200 * time.Millisecond,
		}},
		Log:     zap.NewNop(),
		Metrics: obsmetrics.NewLedgerMetrics(registry, obsmetrics.Config{}),
	})
	require.NotNil(t, n)
	return n
}

func TestNotifyPostsEvent(t *testing.T) {
	var got PaymentNotification
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, EventPath, r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	newNotifier(t, srv.URL, prometheus.NewRegistry()).Notify(context.Background(), PaymentNotification{
		EventID: "evt-1", Kind: "paid", OrderID: "PO1", Amount: 990,
	})

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "PO1", got.OrderID)
}

func TestNotifyRetriesOnceThenSwallows(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	registry := prometheus.NewRegistry()
	newNotifier(t, srv.URL, registry).Notify(context.Background(), PaymentNotification{EventID: "evt-2", OrderID: "PO2"})

	assert.Equal(t, int32(2), calls.Load())

	families, err := registry.Gather()
	require.NoError(t, err)
	var failures float64
	for _, mf := range families {
		if mf.GetName() == "photoledger_notifier_failures_total" {
			failures = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, float64(1), failures)
}

func TestNilNotifierIsNoop(t *testing.T) {
	n := New(Params{Cfg: config.Config{}, Log: zap.NewNop()})
	assert.Nil(t, n)
	n.Notify(context.Background(), PaymentNotification{EventID: "evt"})
}
