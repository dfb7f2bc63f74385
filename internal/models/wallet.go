package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger entry reasons
const (
	EntryReasonPurchaseDebit    = "purchase_debit"
	EntryReasonPurchaseCredit   = "purchase_credit"
	EntryReasonManualAdjustment = "manual_adjustment"
)

// Wallet holds one user's balance. Balance is never negative and always
// equals the sum of the wallet's ledger entry deltas. Version backs
// optimistic concurrency: every applied mutation increments it.
type Wallet struct {
	OwnerID   int64           `json:"owner_id" db:"owner_id"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	Version   int             `json:"version" db:"version"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// LedgerEntry is an immutable record of one balance change. Entries are
// append-only; corrections are new offsetting entries.
type LedgerEntry struct {
	ID                   int64           `json:"id" db:"id"`
	WalletOwnerID        int64           `json:"wallet_owner_id" db:"wallet_owner_id"`
	Delta                decimal.Decimal `json:"delta" db:"delta"`
	Reason               string          `json:"reason" db:"reason"`
	RelatedTransactionID *uuid.UUID      `json:"related_transaction_id,omitempty" db:"related_transaction_id"`
	ResultingBalance     decimal.Decimal `json:"resulting_balance" db:"resulting_balance"`
	CreatedAt            time.Time       `json:"created_at" db:"created_at"`
}

// LedgerEntryList is the pagination envelope for a wallet's history.
type LedgerEntryList struct {
	Entries    []LedgerEntry `json:"entries"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
	Total      int64         `json:"total"`
	TotalPages int           `json:"total_pages"`
}
