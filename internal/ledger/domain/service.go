package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/photoledger/internal/apperror"
	userdomain "github.com/smallbiznis/photoledger/internal/user/domain"
	"gorm.io/gorm"
)

// Mutation is the outcome of a ledger write. Applied is false when the same
// reference was already recorded and nothing changed.
type Mutation struct {
	User    userdomain.User `json:"user"`
	Entry   *UsageLogEntry  `json:"entry,omitempty"`
	Applied bool            `json:"applied"`
}

// Service is the only writer of user credit fields. Methods taking tx join
// the caller's transaction; a nil tx runs in a transaction of their own.
type Service interface {
	CreditForPayment(ctx context.Context, tx *gorm.DB, userID snowflake.ID, tier, orderID string) (Mutation, error)
	RecordPayment(ctx context.Context, tx *gorm.DB, userID snowflake.ID, orderID string) (userdomain.User, error)
	Grant(ctx context.Context, tx *gorm.DB, userID snowflake.ID, amount int64, reason Reason, referenceID string) (Mutation, error)
	RevokeForRefund(ctx context.Context, tx *gorm.DB, userID snowflake.ID, amount int64, orderID string) (Mutation, error)
	RevokePayment(ctx context.Context, tx *gorm.DB, userID snowflake.ID, orderID string) (Mutation, error)
	SpendCredit(ctx context.Context, userID snowflake.ID, referenceID string) (Mutation, error)
	Balance(ctx context.Context, userID snowflake.ID) (userdomain.User, error)
	History(ctx context.Context, userID snowflake.ID, limit int) ([]UsageLogEntry, error)
	Reconcile(ctx context.Context, userID snowflake.ID) (ReconcileReport, error)
	ReconcileAll(ctx context.Context) ([]ReconcileReport, error)
}

var (
	ErrUnknownTier         = apperror.New(apperror.KindValidation, "unknown_tier")
	ErrInvalidAmount       = apperror.New(apperror.KindValidation, "invalid_amount")
	ErrInvalidReason       = apperror.New(apperror.KindValidation, "invalid_reason")
	ErrInvalidReference    = apperror.New(apperror.KindValidation, "invalid_reference")
	ErrInsufficientCredits = apperror.New(apperror.KindConflict, "insufficient_credits")
	ErrUserNotFound        = apperror.New(apperror.KindNotFound, "user_not_found")
)
