package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/photoledger/internal/user/domain"
	"gorm.io/gorm"
)

const userColumns = `id, openid, usage_count, seed_usage_count, has_ever_paid,
	first_payment_at, last_payment_at, invite_code, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, user *domain.User) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		user.ID,
		user.OpenID,
		user.UsageCount,
		user.SeedUsageCount,
		user.HasEverPaid,
		user.FirstPaymentAt,
		user.LastPaymentAt,
		user.InviteCode,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.User, error) {
	return r.findOne(ctx, db, `WHERE id = ?`, id)
}

func (r *repo) FindByOpenID(ctx context.Context, db *gorm.DB, openID string) (*domain.User, error) {
	return r.findOne(ctx, db, `WHERE openid = ?`, openID)
}

func (r *repo) FindByInviteCode(ctx context.Context, db *gorm.DB, code string) (*domain.User, error) {
	return r.findOne(ctx, db, `WHERE invite_code = ?`, code)
}

func (r *repo) InviteCodeExists(ctx context.Context, db *gorm.DB, code string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM users WHERE invite_code = ?`,
		code,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, where string, args ...any) (*domain.User, error) {
	var user domain.User
	err := db.WithContext(ctx).Raw(
		`SELECT `+userColumns+` FROM users `+where,
		args...,
	).Scan(&user).Error
	if err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, nil
	}
	return &user, nil
}
