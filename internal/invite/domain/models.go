package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	userdomain "github.com/smallbiznis/photoledger/internal/user/domain"
)

// InviteRecord links an invitee to the inviter whose code they used. There is
// at most one per invitee.
type InviteRecord struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	InviterID      snowflake.ID `json:"inviter_id" gorm:"not null"`
	InviteeID      snowflake.ID `json:"invitee_id" gorm:"not null;uniqueIndex"`
	InviteCodeUsed string       `json:"invite_code_used" gorm:"type:text;not null"`
	RewardGranted  bool         `json:"reward_granted" gorm:"not null"`
	CreatedAt      time.Time    `json:"created_at" gorm:"not null"`
}

func (InviteRecord) TableName() string { return "invite_records" }

type InviteStats struct {
	UserID            snowflake.ID `json:"user_id" gorm:"primaryKey"`
	TotalInvites      int64        `json:"total_invites"`
	SuccessfulInvites int64        `json:"successful_invites"`
	TotalRewards      int64        `json:"total_rewards"`
	LastInviteAt      *time.Time   `json:"last_invite_at,omitempty"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

func (InviteStats) TableName() string { return "invite_stats" }

// Outcome says what happened to the invite code on a registration.
type Outcome string

const (
	OutcomeNone        Outcome = "none"
	OutcomeInvalidCode Outcome = "invalid_code"
	OutcomeSelfInvite  Outcome = "self_invite"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeNotNewUser  Outcome = "not_new_user"
	OutcomeRewarded    Outcome = "rewarded"
)

// Status is the outward form of an outcome: none, rewarded or rejected.
func (o Outcome) Status() string {
	switch o {
	case OutcomeNone, OutcomeRewarded:
		return string(o)
	default:
		return "rejected"
	}
}

type RegisterRequest struct {
	OpenID     string `json:"openid" validate:"required,max=128"`
	InviteCode string `json:"invite_code" validate:"omitempty,max=32"`
}

type InviteResult struct {
	Outcome   Outcome       `json:"code"`
	Status    string        `json:"status"`
	InviterID *snowflake.ID `json:"inviter_id,omitempty"`
	RecordID  *snowflake.ID `json:"record_id,omitempty"`
	Reward    int64         `json:"reward,omitempty"`
}

type RegisterResult struct {
	User    userdomain.User `json:"user"`
	Created bool            `json:"created"`
	Invite  InviteResult    `json:"invite"`
}
