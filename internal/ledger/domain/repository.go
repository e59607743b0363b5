package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	userdomain "github.com/smallbiznis/photoledger/internal/user/domain"
	"gorm.io/gorm"
)

// CreditUpdate is the post-mutation state written back to the user row.
// MarkPaid never clears an existing has_ever_paid or first_payment_at.
type CreditUpdate struct {
	UserID     snowflake.ID
	UsageCount int64
	MarkPaid   bool
	PaidAt     time.Time
	UpdatedAt  time.Time
}

type Repository interface {
	LockUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*userdomain.User, error)
	FindUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*userdomain.User, error)
	// InsertEntry reports false when a once-per-reference entry already exists.
	InsertEntry(ctx context.Context, db *gorm.DB, entry *UsageLogEntry) (bool, error)
	FindEntry(ctx context.Context, db *gorm.DB, userID snowflake.ID, reason Reason, referenceID string) (*UsageLogEntry, error)
	UpdateCredit(ctx context.Context, db *gorm.DB, update CreditUpdate) error
	ListEntries(ctx context.Context, db *gorm.DB, userID snowflake.ID, limit int) ([]UsageLogEntry, error)
	SignedSum(ctx context.Context, db *gorm.DB, userID snowflake.ID) (int64, error)
	ListUserIDs(ctx context.Context, db *gorm.DB) ([]snowflake.ID, error)
}
