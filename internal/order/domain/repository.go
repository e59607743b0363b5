package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	// Insert reports false when order_id already exists.
	Insert(ctx context.Context, db *gorm.DB, order *Order) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, orderID string) (*Order, error)
	LockByID(ctx context.Context, db *gorm.DB, orderID string) (*Order, error)
	// UpdateState writes the mutable columns when the row is still at from.
	UpdateState(ctx context.Context, db *gorm.DB, order *Order, from Status) (bool, error)
}
