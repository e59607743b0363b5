package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// Insert reports false when openid or invite_code already exists.
	Insert(ctx context.Context, db *gorm.DB, user *User) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*User, error)
	FindByOpenID(ctx context.Context, db *gorm.DB, openID string) (*User, error)
	FindByInviteCode(ctx context.Context, db *gorm.DB, code string) (*User, error)
	InviteCodeExists(ctx context.Context, db *gorm.DB, code string) (bool, error)
}
