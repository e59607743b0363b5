package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/photoledger/internal/ledger/domain"
	"gorm.io/datatypes"
)

// Kind separates credit package purchases from physical product purchases.
type Kind string

const (
	KindPayment Kind = "payment"
	KindProduct Kind = "product"
)

// IDPrefix is prepended to generated order ids.
func (k Kind) IDPrefix() string {
	if k == KindProduct {
		return "PR"
	}
	return "PO"
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusRefunded  Status = "refunded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusExported  Status = "exported"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
)

// Order is the permanent receipt of a purchase. Amount never changes after
// insert.
type Order struct {
	OrderID              string         `gorm:"primaryKey;column:order_id" json:"order_id"`
	Kind                 Kind           `gorm:"not null" json:"kind"`
	UserID               snowflake.ID   `gorm:"not null" json:"user_id"`
	GenerationID         *string        `json:"generation_id,omitempty"`
	ItemType             string         `gorm:"not null" json:"item_type"`
	Amount               int64          `gorm:"not null" json:"amount"`
	RefundedAmount       int64          `gorm:"not null" json:"refunded_amount"`
	GatewayTransactionID *string        `json:"gateway_transaction_id,omitempty"`
	Status               Status         `gorm:"not null" json:"status"`
	Evidence             datatypes.JSON `json:"evidence,omitempty"`
	PaidAt               *time.Time     `json:"paid_at,omitempty"`
	CreatedAt            time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt            time.Time      `gorm:"not null" json:"updated_at"`
}

func (Order) TableName() string { return "orders" }

// Source names the path that asked for a transition.
type Source string

const (
	SourceWebhook    Source = "webhook"
	SourceServerless Source = "serverless"
	SourceNotifier   Source = "notifier"
	SourceSettle     Source = "settle"
	SourceAdmin      Source = "admin"
	SourceRefund     Source = "refund"
)

// Evidence is what justified a transition. It is kept on the order keyed by
// target status.
type Evidence struct {
	Source               Source    `json:"source"`
	EventID              string    `json:"event_id,omitempty"`
	GatewayTransactionID string    `json:"gateway_transaction_id,omitempty"`
	Amount               int64     `json:"amount,omitempty"`
	Actor                string    `json:"actor,omitempty"`
	Reason               string    `json:"reason,omitempty"`
	OccurredAt           time.Time `json:"occurred_at,omitempty"`
	Compensated          bool      `json:"compensated,omitempty"`
}

// PaidEvidence is a verified "transaction succeeded" report from any ingress.
type PaidEvidence struct {
	OrderID              string
	GatewayTransactionID string
	PayerOpenID          string
	Amount               int64
	EventID              string
	Source               Source
	OccurredAt           time.Time
}

func (e PaidEvidence) Evidence() Evidence {
	return Evidence{
		Source:               e.Source,
		EventID:              e.EventID,
		GatewayTransactionID: e.GatewayTransactionID,
		Amount:               e.Amount,
		OccurredAt:           e.OccurredAt,
	}
}

// RefundEvidence reports one settled gateway refund. RefundID identifies it
// across redeliveries.
type RefundEvidence struct {
	OrderID    string
	RefundID   string
	Amount     int64
	EventID    string
	Source     Source
	Actor      string
	Reason     string
	OccurredAt time.Time
}

func (e RefundEvidence) Evidence() Evidence {
	return Evidence{
		Source:     e.Source,
		EventID:    e.EventID,
		Amount:     e.Amount,
		Actor:      e.Actor,
		Reason:     e.Reason,
		OccurredAt: e.OccurredAt,
	}
}

// TransitionResult describes what a transition did. Applied is false for an
// idempotent repeat.
type TransitionResult struct {
	Order       Order                  `json:"order"`
	From        Status                 `json:"from"`
	Applied     bool                   `json:"applied"`
	Compensated bool                   `json:"compensated"`
	Partial     bool                   `json:"partial,omitempty"`
	Credit      *ledgerdomain.Mutation `json:"credit,omitempty"`
}

// LookupState tags the outcome of finding an order for an incoming event.
type LookupState int

const (
	LookupFound LookupState = iota
	LookupNotFound
	LookupDegraded
)

func (s LookupState) String() string {
	switch s {
	case LookupFound:
		return "found"
	case LookupNotFound:
		return "not_found"
	default:
		return "degraded"
	}
}

type Lookup struct {
	State LookupState
	Order *Order
	Err   error
}

// StatusView is what purchase-flow callers poll.
type StatusView struct {
	OrderID string     `json:"order_id"`
	Status  Status     `json:"status"`
	Amount  int64      `json:"amount"`
	PaidAt  *time.Time `json:"paid_at,omitempty"`
}
