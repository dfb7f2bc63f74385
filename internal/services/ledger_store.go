package services

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/marketpay/backend/internal/models"
	"github.com/shopspring/decimal"
)

// LedgerStore is the only component that writes wallet and ledger rows.
// Every mutation goes through AppendEntries, which applies a whole batch in
// one database transaction or not at all.
type LedgerStore struct {
	db *sql.DB
}

func NewLedgerStore(db *sql.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// EntryBatch is one atomic unit of ledger work. ExpectedVersions must name
// every wallet touched by Entries; a stale version rejects the whole batch.
// Transaction, when set, is written in the same database transaction as the
// entries so a purchase is durable exactly when its ledger effect is.
type EntryBatch struct {
	Entries          []models.LedgerEntry
	ExpectedVersions map[int64]int
	Transaction      *models.Transaction
}

func (s *LedgerStore) GetWallet(ctx context.Context, ownerID int64) (*models.Wallet, error) {
	var w models.Wallet
	err := s.db.QueryRowContext(ctx, `
		SELECT owner_id, balance, version, created_at, updated_at
		FROM wallets
		WHERE owner_id = $1`, ownerID).
		Scan(&w.OwnerID, &w.Balance, &w.Version, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get wallet %d: %w", ownerID, err)
	}
	return &w, nil
}

// CreateWallet creates a wallet for ownerID. A non-zero initial balance is
// recorded as a manual adjustment entry so the replay invariant holds from
// the first row.
func (s *LedgerStore) CreateWallet(ctx context.Context, ownerID int64, initial decimal.Decimal) (*models.Wallet, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create wallet: %w", err)
	}
	defer tx.Rollback()

	w, err := s.CreateWalletTx(tx, ownerID, initial)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create wallet: %w", err)
	}
	return w, nil
}

// CreateWalletTx creates a wallet inside an existing database transaction.
// Used by registration so user, profile and wallet land together.
func (s *LedgerStore) CreateWalletTx(tx *sql.Tx, ownerID int64, initial decimal.Decimal) (*models.Wallet, error) {
	if initial.IsNegative() {
		return nil, ErrInvalidAmount
	}

	var w models.Wallet
	err := tx.QueryRow(`
		INSERT INTO wallets (owner_id, balance, version, created_at, updated_at)
		VALUES ($1, $2, 1, NOW(), NOW())
		RETURNING owner_id, balance, version, created_at, updated_at`,
		ownerID, initial).
		Scan(&w.OwnerID, &w.Balance, &w.Version, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrWalletExists
		}
		return nil, fmt.Errorf("create wallet %d: %w", ownerID, err)
	}

	if initial.IsPositive() {
		_, err = tx.Exec(`
			INSERT INTO ledger_entries (wallet_owner_id, delta, reason, related_transaction_id, resulting_balance, created_at)
			VALUES ($1, $2, $3, NULL, $4, $5)`,
			ownerID, initial, models.EntryReasonManualAdjustment, initial, time.Now())
		if err != nil {
			return nil, fmt.Errorf("create opening entry for wallet %d: %w", ownerID, err)
		}
	}

	return &w, nil
}

// AppendEntries atomically applies a batch: locks every affected wallet in
// ascending owner-id order, verifies expected versions, rejects any resulting
// negative balance, inserts the entries with resulting-balance snapshots and
// bumps each wallet's balance and version. Returns the new balance per
// wallet. No partial effect survives any failure path.
func (s *LedgerStore) AppendEntries(ctx context.Context, batch EntryBatch) (map[int64]decimal.Decimal, error) {
	if len(batch.Entries) == 0 {
		return nil, fmt.Errorf("append entries: empty batch")
	}
	for _, e := range batch.Entries {
		if _, ok := batch.ExpectedVersions[e.WalletOwnerID]; !ok {
			return nil, fmt.Errorf("append entries: no expected version for wallet %d", e.WalletOwnerID)
		}
		if e.Delta.IsZero() {
			return nil, ErrInvalidAmount
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	// Lock wallets in ascending owner-id order to prevent deadlock between
	// concurrent batches touching overlapping wallet pairs.
	owners := make([]int64, 0, len(batch.ExpectedVersions))
	for ownerID := range batch.ExpectedVersions {
		owners = append(owners, ownerID)
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i] < owners[j] })

	balances := make(map[int64]decimal.Decimal, len(owners))
	versions := make(map[int64]int, len(owners))
	for _, ownerID := range owners {
		var balance decimal.Decimal
		var version int
		err := tx.QueryRow(`
			SELECT balance, version FROM wallets WHERE owner_id = $1 FOR UPDATE`, ownerID).
			Scan(&balance, &version)
		if err == sql.ErrNoRows {
			return nil, ErrWalletNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("lock wallet %d: %w", ownerID, err)
		}
		if version != batch.ExpectedVersions[ownerID] {
			return nil, ErrVersionConflict
		}
		balances[ownerID] = balance
		versions[ownerID] = version
	}

	for _, e := range batch.Entries {
		resulting := balances[e.WalletOwnerID].Add(e.Delta)
		if resulting.IsNegative() {
			return nil, ErrInsufficientFunds
		}
		balances[e.WalletOwnerID] = resulting

		var relatedID any
		if e.RelatedTransactionID != nil {
			relatedID = *e.RelatedTransactionID
		}
		_, err := tx.Exec(`
			INSERT INTO ledger_entries (wallet_owner_id, delta, reason, related_transaction_id, resulting_balance, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			e.WalletOwnerID, e.Delta, e.Reason, relatedID, resulting, time.Now())
		if err != nil {
			return nil, fmt.Errorf("insert ledger entry for wallet %d: %w", e.WalletOwnerID, err)
		}
	}

	for _, ownerID := range owners {
		result, err := tx.Exec(`
			UPDATE wallets SET balance = $1, version = version + 1, updated_at = $2
			WHERE owner_id = $3 AND version = $4`,
			balances[ownerID], time.Now(), ownerID, versions[ownerID])
		if err != nil {
			return nil, fmt.Errorf("update wallet %d: %w", ownerID, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("update wallet %d: %w", ownerID, err)
		}
		if affected == 0 {
			return nil, ErrVersionConflict
		}
	}

	if batch.Transaction != nil {
		t := batch.Transaction
		err := tx.QueryRow(`
			INSERT INTO transactions (transaction_id, item_id, merchant_id, customer_id, price, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW())
			RETURNING created_at`,
			t.TransactionID, t.ItemID, t.MerchantID, t.CustomerID, t.Price, t.Metadata).
			Scan(&t.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, ErrTransactionExists
			}
			return nil, fmt.Errorf("insert transaction %s: %w", t.TransactionID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}
	return balances, nil
}

// ListEntries returns one page of a wallet's ledger history, newest first.
func (s *LedgerStore) ListEntries(ctx context.Context, ownerID int64, page, pageSize int) (*models.LedgerEntryList, error) {
	var total int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger_entries WHERE wallet_owner_id = $1`, ownerID).
		Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count entries for wallet %d: %w", ownerID, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, wallet_owner_id, delta, reason, related_transaction_id, resulting_balance, created_at
		FROM ledger_entries
		WHERE wallet_owner_id = $1
		ORDER BY id DESC
		LIMIT $2 OFFSET $3`,
		ownerID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("list entries for wallet %d: %w", ownerID, err)
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var e models.LedgerEntry
		var relatedID uuid.NullUUID
		if err := rows.Scan(&e.ID, &e.WalletOwnerID, &e.Delta, &e.Reason, &relatedID, &e.ResultingBalance, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		if relatedID.Valid {
			id := relatedID.UUID
			e.RelatedTransactionID = &id
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list entries for wallet %d: %w", ownerID, err)
	}

	return &models.LedgerEntryList{
		Entries:    entries,
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages(total, pageSize),
	}, nil
}

func (s *LedgerStore) GetTransaction(ctx context.Context, txID uuid.UUID) (*models.Transaction, error) {
	var t models.Transaction
	err := s.db.QueryRowContext(ctx, `
		SELECT transaction_id, item_id, merchant_id, customer_id, price, metadata, created_at
		FROM transactions
		WHERE transaction_id = $1`, txID).
		Scan(&t.TransactionID, &t.ItemID, &t.MerchantID, &t.CustomerID, &t.Price, &t.Metadata, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", txID, err)
	}
	return &t, nil
}

// ListTransactionsForUser returns one page of purchases where the user is
// either side, newest first.
func (s *LedgerStore) ListTransactionsForUser(ctx context.Context, userID int64, page, pageSize int) (*models.TransactionList, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM transactions t
		JOIN items i ON i.id = t.item_id
		WHERE t.customer_id = $1 OR i.user_id = $1`, userID).
		Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count transactions for user %d: %w", userID, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT t.transaction_id, t.item_id, t.merchant_id, t.customer_id, t.price, t.metadata, t.created_at
		FROM transactions t
		JOIN items i ON i.id = t.item_id
		WHERE t.customer_id = $1 OR i.user_id = $1
		ORDER BY t.created_at DESC
		LIMIT $2 OFFSET $3`,
		userID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("list transactions for user %d: %w", userID, err)
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.TransactionID, &t.ItemID, &t.MerchantID, &t.CustomerID, &t.Price, &t.Metadata, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		transactions = append(transactions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list transactions for user %d: %w", userID, err)
	}

	return &models.TransactionList{
		Transactions: transactions,
		Page:         page,
		PageSize:     pageSize,
		Total:        total,
		TotalPages:   totalPages(total, pageSize),
	}, nil
}

func totalPages(total int64, pageSize int) int {
	return (int(total) + pageSize - 1) / pageSize
}

func isUniqueViolation(err error) bool {
	pqErr, ok := err.(*pq.Error)
	if !ok {
		return false
	}
	return pqErr.Code == "23505"
}
