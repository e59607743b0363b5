package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/photoledger/internal/apperror"
	"gorm.io/gorm"
)

// Service manages account records. Methods taking tx run inside the caller's
// transaction; a nil tx uses the service's own handle.
type Service interface {
	Create(ctx context.Context, tx *gorm.DB, openID string) (User, error)
	EnsureByOpenID(ctx context.Context, tx *gorm.DB, openID string) (User, bool, error)
	Get(ctx context.Context, id snowflake.ID) (User, error)
	FindByOpenID(ctx context.Context, openID string) (User, error)
	FindByInviteCode(ctx context.Context, tx *gorm.DB, code string) (*User, error)
}

var (
	ErrInvalidOpenID     = apperror.New(apperror.KindValidation, "invalid_openid")
	ErrInvalidID         = apperror.New(apperror.KindValidation, "invalid_user_id")
	ErrAlreadyRegistered = apperror.New(apperror.KindConflict, "already_registered")
	ErrNotFound          = apperror.New(apperror.KindNotFound, "user_not_found")
)
