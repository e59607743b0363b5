// Package gateway calls the payment gateway's merchant API.
package gateway

//go:generate mockgen -source=gateway.go -destination=./mocks/mock_gateway.go -package=mocks

import (
	"context"
	"time"

	"github.com/smallbiznis/photoledger/internal/apperror"
)

type TradeState string

const (
	TradeStateSuccess    TradeState = "SUCCESS"
	TradeStateNotPay     TradeState = "NOTPAY"
	TradeStateUserPaying TradeState = "USERPAYING"
	TradeStateClosed     TradeState = "CLOSED"
	TradeStateRevoked    TradeState = "REVOKED"
	TradeStatePayError   TradeState = "PAYERROR"
	TradeStateRefund     TradeState = "REFUND"
)

// Terminal reports whether the gateway will never settle the trade.
func (s TradeState) Terminal() bool {
	switch s {
	case TradeStateClosed, TradeStateRevoked, TradeStatePayError:
		return true
	default:
		return false
	}
}

// Transaction is the gateway's view of one merchant order.
type Transaction struct {
	OrderID       string
	TransactionID string
	TradeState    TradeState
	Amount        int64
	PayerOpenID   string
	SuccessTime   time.Time
}

type RefundRequest struct {
	OrderID  string
	RefundID string
	Amount   int64
	Total    int64
	Reason   string
}

type RefundResult struct {
	RefundID       string
	GatewayRefund  string
	Status         string
	RefundedAmount int64
}

// Client is the outbound gateway surface. Calls are retried internally and
// keyed by order id so duplicate submissions are safe.
type Client interface {
	QueryOrder(ctx context.Context, orderID string) (Transaction, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
}

var (
	ErrNotConfigured  = apperror.New(apperror.KindTransient, "gateway_not_configured")
	ErrInvalidRequest = apperror.New(apperror.KindValidation, "invalid_gateway_request")
)
