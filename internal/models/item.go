package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Item is a catalog listing owned by a merchant. UserID is the merchant's
// user id, which is also the owner id of the wallet credited on purchase.
type Item struct {
	ID          int64            `json:"id" db:"id"`
	MerchantID  int64            `json:"merchant_id" db:"merchant_id"`
	UserID      int64            `json:"user_id" db:"user_id"`
	Name        string           `json:"name" db:"name"`
	Description string           `json:"description,omitempty" db:"description"`
	Price       decimal.Decimal  `json:"price" db:"price"`
	Tax         *decimal.Decimal `json:"tax,omitempty" db:"tax"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
}

// ItemList is the pagination envelope for catalog listings.
type ItemList struct {
	Items      []Item `json:"items"`
	Page       int    `json:"page"`
	PageSize   int    `json:"page_size"`
	Total      int64  `json:"total"`
	TotalPages int    `json:"total_pages"`
}
