package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertRecord(ctx context.Context, db *gorm.DB, record *InviteRecord) (bool, error)
	FindByInvitee(ctx context.Context, db *gorm.DB, inviteeID snowflake.ID) (*InviteRecord, error)
	AddReward(ctx context.Context, db *gorm.DB, inviterID snowflake.ID, reward int64, at time.Time) error
	FindStats(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*InviteStats, error)
	RebuildStats(ctx context.Context, db *gorm.DB, at time.Time) (int64, error)
}
