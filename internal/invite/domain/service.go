package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/photoledger/internal/apperror"
)

// Service registers users and pays inviters. Rejected invite codes never
// fail a registration; they are reported in the result.
type Service interface {
	RegisterWithInvite(ctx context.Context, req RegisterRequest) (RegisterResult, error)
	Stats(ctx context.Context, userID snowflake.ID) (InviteStats, error)
	RebuildStats(ctx context.Context, actor string) (int64, error)
}

var (
	ErrInvalidRequest = apperror.New(apperror.KindValidation, "invalid_request")
	ErrInvalidUserID  = apperror.New(apperror.KindValidation, "invalid_user_id")
)
