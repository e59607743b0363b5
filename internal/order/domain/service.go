package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/photoledger/internal/apperror"
)

type CreateOrderRequest struct {
	UserID       snowflake.ID `json:"user_id" validate:"required"`
	GenerationID string       `json:"generation_id" validate:"omitempty,max=128"`
	ItemType     string       `json:"item_type" validate:"required,max=64"`
}

type RequestRefundInput struct {
	OrderID string `json:"order_id" validate:"required"`
	Amount  int64  `json:"amount" validate:"gt=0"`
	Reason  string `json:"reason" validate:"max=80"`
	Actor   string `json:"actor" validate:"required"`
}

type OverrideRequest struct {
	Actor   string `json:"actor" validate:"required"`
	OrderID string `json:"order_id" validate:"required"`
	Target  Status `json:"target" validate:"required"`
	Reason  string `json:"reason" validate:"required,max=200"`
}

// Service owns order rows and their state machine. Every ingress applies
// payments through ApplyPaid.
type Service interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (Order, error)
	Get(ctx context.Context, orderID string) (Order, error)
	QueryStatus(ctx context.Context, orderID string) (StatusView, error)
	Transition(ctx context.Context, orderID string, target Status, evidence Evidence) (TransitionResult, error)
	ApplyPaid(ctx context.Context, evidence PaidEvidence) (TransitionResult, error)
	Refund(ctx context.Context, evidence RefundEvidence) (TransitionResult, error)
	Settle(ctx context.Context, orderID string) (TransitionResult, error)
	RequestRefund(ctx context.Context, input RequestRefundInput) (TransitionResult, error)
	Override(ctx context.Context, req OverrideRequest) (TransitionResult, error)
}

// PostCommitHook runs after a transition's transaction commits. Its failure
// never affects the transition.
type PostCommitHook func(ctx context.Context, result TransitionResult) error

var (
	ErrInvalidRequest      = apperror.New(apperror.KindValidation, "invalid_request")
	ErrInvalidOrderID      = apperror.New(apperror.KindValidation, "invalid_order_id")
	ErrInvalidStatus       = apperror.New(apperror.KindValidation, "invalid_status")
	ErrInvalidAmount       = apperror.New(apperror.KindValidation, "invalid_amount")
	ErrMissingPayer        = apperror.New(apperror.KindValidation, "missing_payer")
	ErrNotFound            = apperror.New(apperror.KindNotFound, "order_not_found")
	ErrIllegalTransition   = apperror.New(apperror.KindConflict, "illegal_transition")
	ErrAmountMismatch      = apperror.New(apperror.KindConflict, "amount_mismatch")
	ErrTransactionConflict = apperror.New(apperror.KindConflict, "gateway_transaction_conflict")
	ErrSettleInProgress    = apperror.New(apperror.KindConflict, "settle_in_progress")
	ErrRateLimited         = apperror.New(apperror.KindCapacity, "rate_limited")
	ErrStoreDegraded       = apperror.New(apperror.KindPersistenceDegraded, "order_store_degraded")
)
