package domain

import (
	"context"

	"github.com/smallbiznis/photoledger/internal/apperror"
)

type Service interface {
	Resolve(ctx context.Context, itemType string) (PriceEntry, error)
	Table(ctx context.Context) (Table, error)
	Update(ctx context.Context, itemType string, amount int64) (PriceEntry, error)
	// InferTier maps a settled amount back to an item. exact is false when
	// the amount matched no current price and a nearest tier was chosen.
	InferTier(ctx context.Context, amount int64) (entry PriceEntry, exact bool, err error)
	Invalidate()
}

var (
	ErrInvalidItemType  = apperror.New(apperror.KindValidation, "invalid_item_type")
	ErrInvalidAmount    = apperror.New(apperror.KindValidation, "invalid_amount")
	ErrPriceUnavailable = apperror.New(apperror.KindValidation, "price_unavailable")
)
