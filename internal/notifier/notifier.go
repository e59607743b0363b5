package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/photoledger/internal/config"
	obsmetrics "github.com/smallbiznis/photoledger/internal/observability/metrics"
	"github.com/smallbiznis/photoledger/internal/retry"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// EventPath is where the primary backend receives notifications.
const EventPath = "/internal/payment-events"

const maxErrorBody = 1024

// PaymentNotification is the cross-system copy of an accepted gateway event.
type PaymentNotification struct {
	EventID       string    `json:"event_id" validate:"required"`
	EventType     string    `json:"event_type"`
	Kind          string    `json:"kind" validate:"required,oneof=paid refund"`
	OrderID       string    `json:"order_id" validate:"required"`
	TransactionID string    `json:"transaction_id"`
	RefundID      string    `json:"refund_id"`
	PayerOpenID   string    `json:"payer_openid"`
	Amount        int64     `json:"amount" validate:"gt=0"`
	OccurredAt    time.Time `json:"occurred_at"`
	Outcome       string    `json:"outcome"`
}

type Params struct {
	fx.In

	Cfg        config.Config
	Log        *zap.Logger
	HTTPClient *http.Client              `optional:"true"`
	Metrics    *obsmetrics.LedgerMetrics `optional:"true"`
}

// Notifier posts payment events to the primary backend. Delivery is best
// effort: failures are logged and dropped. A nil Notifier does nothing.
type Notifier struct {
	endpoint   string
	token      string
	httpClient *http.Client
	retry      retry.Options
	log        *zap.Logger
	metrics    *obsmetrics.LedgerMetrics
}

func New(p Params) *Notifier {
	cfg := p.Cfg.Notifier
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if base == "" {
		return nil
	}
	httpClient := p.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	log := p.Log.Named("notifier")
	return &Notifier{
		endpoint:   base + EventPath,
		token:      cfg.Token,
		httpClient: httpClient,
		retry: retry.Options{
			Name:       "notifier.payment_event",
			MaxRetries: 1,
			Timeout:    timeout,
			Logger:     log,
			Metrics:    p.Metrics,
		},
		log:     log,
		metrics: p.Metrics,
	}
}

func (n *Notifier) Notify(ctx context.Context, note PaymentNotification) {
	if n == nil {
		return
	}
	body, err := json.Marshal(note)
	if err != nil {
		n.log.Warn("notification encode failed", zap.String("event_id", note.EventID), zap.Error(err))
		return
	}

	err = retry.Execute(ctx, n.retry, func(ctx context.Context) error {
		return n.post(ctx, body)
	})
	if err != nil {
		n.metrics.IncNotifierFailure()
		n.log.Warn("payment notification dropped",
			zap.String("event_id", note.EventID),
			zap.String("order_id", note.OrderID),
			zap.Error(err),
		)
		return
	}
	n.log.Debug("payment notification delivered",
		zap.String("event_id", note.EventID),
		zap.String("order_id", note.OrderID),
	)
}

func (n *Notifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("http new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http client do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &retry.StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

var Module = fx.Module("notifier",
	fx.Provide(New),
)
