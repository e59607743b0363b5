package domain

import "time"

// OrderKind separates credit packages from physical products.
type OrderKind string

const (
	OrderKindPayment OrderKind = "payment"
	OrderKindProduct OrderKind = "product"
)

// PriceEntry is the current price of one purchasable item, in minor units.
type PriceEntry struct {
	ItemType  string    `json:"item_type"`
	OrderKind OrderKind `json:"order_kind"`
	Amount    int64     `json:"amount"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Table map[string]PriceEntry
