package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/photoledger/internal/pricing/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) List(ctx context.Context, db *gorm.DB) ([]domain.PriceEntry, error) {
	var entries []domain.PriceEntry
	err := db.WithContext(ctx).Raw(
		`SELECT item_type, order_kind, amount, updated_at FROM price_configs ORDER BY item_type`,
	).Scan(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) UpdateAmount(ctx context.Context, db *gorm.DB, itemType string, amount int64, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE price_configs SET amount = ?, updated_at = ? WHERE item_type = ?`,
		amount,
		now,
		itemType,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
