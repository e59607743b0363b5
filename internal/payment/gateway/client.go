package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/photoledger/internal/config"
	obsmetrics "github.com/smallbiznis/photoledger/internal/observability/metrics"
	"github.com/smallbiznis/photoledger/internal/retry"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const maxErrorBody = 2048

type Params struct {
	fx.In

	Cfg        config.Config
	Log        *zap.Logger
	HTTPClient *http.Client              `optional:"true"`
	Metrics    *obsmetrics.LedgerMetrics `optional:"true"`
}

type HTTPClient struct {
	baseURL    string
	merchantID string
	httpClient *http.Client
	retry      retry.Options
	log        *zap.Logger
}

func NewHTTPClient(p Params) Client {
	cfg := p.Cfg.Gateway
	httpClient := p.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	log := p.Log.Named("payment.gateway")
	return &HTTPClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		merchantID: cfg.MerchantID,
		httpClient: httpClient,
		retry: retry.Options{
			MaxRetries: cfg.MaxRetries,
			Timeout:    cfg.Timeout,
			Logger:     log,
			Metrics:    p.Metrics,
		},
		log: log,
	}
}

type amountPayload struct {
	Total    int64  `json:"total"`
	Refund   int64  `json:"refund,omitempty"`
	Currency string `json:"currency"`
}

type transactionPayload struct {
	OutTradeNo    string        `json:"out_trade_no"`
	TransactionID string        `json:"transaction_id"`
	TradeState    string        `json:"trade_state"`
	SuccessTime   string        `json:"success_time"`
	Amount        amountPayload `json:"amount"`
	Payer         struct {
		OpenID string `json:"openid"`
	} `json:"payer"`
}

type refundPayload struct {
	OutTradeNo  string        `json:"out_trade_no"`
	OutRefundNo string        `json:"out_refund_no"`
	Reason      string        `json:"reason,omitempty"`
	Amount      amountPayload `json:"amount"`
}

type refundResponse struct {
	RefundID    string        `json:"refund_id"`
	OutRefundNo string        `json:"out_refund_no"`
	Status      string        `json:"status"`
	Amount      amountPayload `json:"amount"`
}

func (c *HTTPClient) QueryOrder(ctx context.Context, orderID string) (Transaction, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Transaction{}, ErrInvalidRequest
	}
	if c.baseURL == "" {
		return Transaction{}, ErrNotConfigured
	}

	endpoint := fmt.Sprintf("%s/v3/pay/transactions/out-trade-no/%s?mchid=%s",
		c.baseURL, url.PathEscape(orderID), url.QueryEscape(c.merchantID))

	opts := c.retry
	opts.Name = "gateway.query_order"
	payload, err := retry.SmartValue(ctx, opts, func(ctx context.Context) (transactionPayload, error) {
		var out transactionPayload
		err := c.do(ctx, http.MethodGet, endpoint, orderID, nil, &out)
		return out, err
	})
	if err != nil {
		return Transaction{}, err
	}

	txn := Transaction{
		OrderID:       payload.OutTradeNo,
		TransactionID: payload.TransactionID,
		TradeState:    TradeState(strings.ToUpper(payload.TradeState)),
		Amount:        payload.Amount.Total,
		PayerOpenID:   payload.Payer.OpenID,
	}
	if payload.SuccessTime != "" {
		if t, err := time.Parse(time.RFC3339, payload.SuccessTime); err == nil {
			txn.SuccessTime = t.UTC()
		}
	}
	return txn, nil
}

func (c *HTTPClient) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	if strings.TrimSpace(req.OrderID) == "" || strings.TrimSpace(req.RefundID) == "" ||
		req.Amount <= 0 || req.Total <= 0 || req.Amount > req.Total {
		return RefundResult{}, ErrInvalidRequest
	}
	if c.baseURL == "" {
		return RefundResult{}, ErrNotConfigured
	}

	body, err := json.Marshal(refundPayload{
		OutTradeNo:  req.OrderID,
		OutRefundNo: req.RefundID,
		Reason:      req.Reason,
		Amount:      amountPayload{Total: req.Total, Refund: req.Amount, Currency: "CNY"},
	})
	if err != nil {
		return RefundResult{}, err
	}

	opts := c.retry
	opts.Name = "gateway.refund"
	resp, err := retry.SmartValue(ctx, opts, func(ctx context.Context) (refundResponse, error) {
		var out refundResponse
		err := c.do(ctx, http.MethodPost, c.baseURL+"/v3/refund/domestic/refunds", req.RefundID, body, &out)
		return out, err
	})
	if err != nil {
		return RefundResult{}, err
	}
	return RefundResult{
		RefundID:       resp.OutRefundNo,
		GatewayRefund:  resp.RefundID,
		Status:         resp.Status,
		RefundedAmount: resp.Amount.Refund,
	}, nil
}

func (c *HTTPClient) do(ctx context.Context, method, endpoint, idempotencyKey string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("http new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http client do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &retry.StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}
