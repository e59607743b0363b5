package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	WebhookOutcomeApplied     = "applied"
	WebhookOutcomeNoop        = "noop"
	WebhookOutcomeIgnored     = "ignored"
	WebhookOutcomeDuplicate   = "duplicate"
	WebhookOutcomeCompensated = "compensated"
	WebhookOutcomeConflict    = "conflict"
	WebhookOutcomeRejected    = "rejected"
	WebhookOutcomeDegraded    = "degraded"
)

const (
	RetryOutcomeRetried   = "retried"
	RetryOutcomeExhausted = "exhausted"
	RetryOutcomeAborted   = "aborted"
)

const (
	LockResourceUser  = "user"
	LockResourceOrder = "order"
)

// LedgerMetrics captures payment reconciliation health on the Prometheus
// registry served at /metrics.
type LedgerMetrics struct {
	webhookOutcomes  *prometheus.CounterVec
	orderTransitions *prometheus.CounterVec
	retryAttempts    *prometheus.CounterVec
	notifierFailures prometheus.Counter
	lockWait         *prometheus.HistogramVec
}

var (
	ledgerMetricsOnce sync.Once
	ledgerMetrics     *LedgerMetrics
)

// Ledger returns the process-wide ledger metrics registered on the default
// registerer.
func Ledger(cfg Config) *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerMetrics = NewLedgerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return ledgerMetrics
}

func NewLedgerMetrics(registerer prometheus.Registerer, cfg Config) *LedgerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "photoledger"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &LedgerMetrics{
		webhookOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "photoledger_webhook_outcomes_total",
			Help:        "Payment webhook deliveries by ingress and outcome.",
			ConstLabels: constLabels,
		}, []string{"ingress", "outcome"}),
		orderTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "photoledger_order_transitions_total",
			Help:        "Applied order status transitions.",
			ConstLabels: constLabels,
		}, []string{"from", "to"}),
		retryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "photoledger_retry_attempts_total",
			Help:        "Outbound call retries by operation and outcome.",
			ConstLabels: constLabels,
		}, []string{"op", "outcome"}),
		notifierFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "photoledger_notifier_failures_total",
			Help:        "Backend notifications that failed after retries.",
			ConstLabels: constLabels,
		}),
		lockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "photoledger_row_lock_wait_seconds",
			Help:        "Time spent acquiring SELECT ... FOR UPDATE row locks.",
			Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			ConstLabels: constLabels,
		}, []string{"resource"}),
	}

	registerer.MustRegister(
		m.webhookOutcomes,
		m.orderTransitions,
		m.retryAttempts,
		m.notifierFailures,
		m.lockWait,
	)
	return m
}

func (m *LedgerMetrics) IncWebhookOutcome(ingress, outcome string) {
	if m == nil {
		return
	}
	m.webhookOutcomes.WithLabelValues(normalizeLabel(ingress), normalizeLabel(outcome)).Inc()
}

func (m *LedgerMetrics) IncOrderTransition(from, to string) {
	if m == nil {
		return
	}
	m.orderTransitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to)).Inc()
}

func (m *LedgerMetrics) IncRetry(op, outcome string) {
	if m == nil {
		return
	}
	m.retryAttempts.WithLabelValues(normalizeLabel(op), normalizeLabel(outcome)).Inc()
}

func (m *LedgerMetrics) IncNotifierFailure() {
	if m == nil {
		return
	}
	m.notifierFailures.Inc()
}

func (m *LedgerMetrics) ObserveLockWait(resource string, d time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.WithLabelValues(normalizeLabel(resource)).Observe(d.Seconds())
}

func normalizeLabel(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return "unknown"
	}
	return value
}
