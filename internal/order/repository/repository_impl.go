package repository

import (
	"context"

	"github.com/smallbiznis/photoledger/internal/order/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, order *domain.Order) (bool, error) {
	evidence := order.Evidence
	if len(evidence) == 0 {
		evidence = []byte(`{}`)
	}
	result := db.WithContext(ctx).Exec(
		`INSERT INTO orders (
			order_id, kind, user_id, generation_id, item_type, amount, refunded_amount,
			gateway_transaction_id, status, evidence, paid_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		order.OrderID,
		string(order.Kind),
		order.UserID,
		order.GenerationID,
		order.ItemType,
		order.Amount,
		order.RefundedAmount,
		order.GatewayTransactionID,
		string(order.Status),
		evidence,
		order.PaidAt,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orderID string) (*domain.Order, error) {
	var orders []domain.Order
	err := db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Limit(1).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, nil
	}
	return &orders[0], nil
}

func (r *repo) LockByID(ctx context.Context, db *gorm.DB, orderID string) (*domain.Order, error) {
	var orders []domain.Order
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_id = ?", orderID).
		Limit(1).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, nil
	}
	return &orders[0], nil
}

func (r *repo) UpdateState(ctx context.Context, db *gorm.DB, order *domain.Order, from domain.Status) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE orders SET
			status = ?,
			refunded_amount = ?,
			gateway_transaction_id = ?,
			evidence = ?,
			paid_at = ?,
			updated_at = ?
		 WHERE order_id = ? AND status = ?`,
		string(order.Status),
		order.RefundedAmount,
		order.GatewayTransactionID,
		order.Evidence,
		order.PaidAt,
		order.UpdatedAt,
		order.OrderID,
		string(from),
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
