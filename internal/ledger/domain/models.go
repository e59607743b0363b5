package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Reason records why a balance moved.
type Reason string

const (
	ReasonPayment      Reason = "payment"
	ReasonInviteReward Reason = "invite_reward"
	ReasonRegenerate   Reason = "regenerate"
	ReasonRefund       Reason = "refund"
)

// OncePerReference reports whether at most one entry may exist per
// (user, reason, reference).
func (r Reason) OncePerReference() bool {
	switch r {
	case ReasonPayment, ReasonInviteReward, ReasonRefund:
		return true
	default:
		return false
	}
}

type Action string

const (
	ActionIncrement Action = "increment"
	ActionDecrement Action = "decrement"
)

// UsageLogEntry is an append-only balance movement. Amount is the magnitude
// actually applied; its sign follows Action.
type UsageLogEntry struct {
	ID               snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID           snowflake.ID `gorm:"not null" json:"user_id"`
	ActionType       Action       `gorm:"not null" json:"action_type"`
	Amount           int64        `gorm:"not null" json:"amount"`
	ResultingBalance int64        `gorm:"not null" json:"resulting_balance"`
	Reason           Reason       `gorm:"not null" json:"reason"`
	ReferenceID      string       `gorm:"not null" json:"reference_id"`
	CreatedAt        time.Time    `gorm:"not null" json:"created_at"`
}

func (UsageLogEntry) TableName() string { return "usage_logs" }

// Signed returns the entry's contribution to the balance.
func (e UsageLogEntry) Signed() int64 {
	if e.ActionType == ActionDecrement {
		return -e.Amount
	}
	return e.Amount
}

// ReconcileReport compares a user's balance with its audit trail.
type ReconcileReport struct {
	UserID     snowflake.ID `json:"user_id"`
	UsageCount int64        `json:"usage_count"`
	Seed       int64        `json:"seed_usage_count"`
	LoggedSum  int64        `json:"logged_sum"`
	Consistent bool         `json:"consistent"`
}
