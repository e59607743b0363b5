package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// User carries the account's credit fields. UsageCount, HasEverPaid and the
// payment timestamps change only through the credit ledger.
type User struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	OpenID         string       `gorm:"column:openid;not null" json:"openid"`
	UsageCount     int64        `gorm:"not null" json:"usage_count"`
	SeedUsageCount int64        `gorm:"not null" json:"seed_usage_count"`
	HasEverPaid    bool         `gorm:"not null" json:"has_ever_paid"`
	FirstPaymentAt *time.Time   `json:"first_payment_at,omitempty"`
	LastPaymentAt  *time.Time   `json:"last_payment_at,omitempty"`
	InviteCode     string       `gorm:"not null" json:"invite_code"`
	CreatedAt      time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time    `gorm:"not null" json:"updated_at"`
}

func (User) TableName() string { return "users" }
