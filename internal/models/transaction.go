package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction records one completed purchase. It is created atomically with
// exactly two ledger entries (customer debit, merchant credit) sharing its id
// as related_transaction_id, or not at all.
type Transaction struct {
	TransactionID uuid.UUID       `json:"transaction_id" db:"transaction_id"`
	ItemID        int64           `json:"item_id" db:"item_id"`
	MerchantID    int64           `json:"merchant_id" db:"merchant_id"`
	CustomerID    int64           `json:"customer_id" db:"customer_id"`
	Price         decimal.Decimal `json:"price" db:"price"`
	Metadata      Metadata        `json:"metadata,omitempty" db:"metadata"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// TransactionList is the pagination envelope for purchase history.
type TransactionList struct {
	Transactions []Transaction `json:"transactions"`
	Page         int           `json:"page"`
	PageSize     int           `json:"page_size"`
	Total        int64         `json:"total"`
	TotalPages   int           `json:"total_pages"`
}

// Metadata type for JSONB fields
type Metadata map[string]any

// Value implements driver.Valuer for Metadata
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for Metadata
func (m *Metadata) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}

	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(b, m)
}
