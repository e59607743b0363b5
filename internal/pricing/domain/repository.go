package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	List(ctx context.Context, db *gorm.DB) ([]PriceEntry, error)
	// UpdateAmount reports false when itemType has no row.
	UpdateAmount(ctx context.Context, db *gorm.DB, itemType string, amount int64, now time.Time) (bool, error)
}
