package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/marketpay/backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

const (
	transactionQuery = "SELECT transaction_id, item_id, merchant_id, customer_id, price, metadata, created_at FROM transactions WHERE transaction_id = \\$1"
	itemQuery        = "SELECT id, merchant_id, user_id, name, description, price, tax, created_at FROM items WHERE id = \\$1"
)

func expectNoTransaction(mock sqlmock.Sqlmock, txID uuid.UUID) {
	mock.ExpectQuery(transactionQuery).
		WithArgs(txID).
		WillReturnRows(sqlmock.NewRows([]string{"transaction_id", "item_id", "merchant_id", "customer_id", "price", "metadata", "created_at"}))
}

func expectItemRead(mock sqlmock.Sqlmock, itemID, merchantID, userID int64, price string) {
	mock.ExpectQuery(itemQuery).
		WithArgs(itemID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "merchant_id", "user_id", "name", "description", "price", "tax", "created_at"}).
			AddRow(itemID, merchantID, userID, "widget", "", price, nil, time.Now()))
}

func TestPurchaseService_Purchase(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	store := NewLedgerStore(db)
	wallets := NewWalletService(store, nil)
	catalog := NewCatalogService(db)
	service := NewPurchaseService(store, wallets, catalog)

	t.Run("successful purchase", func(t *testing.T) {
		txID := uuid.New()
		amount := decimal.NewFromInt(40)

		expectNoTransaction(mock, txID)
		expectItemRead(mock, 7, 3, 2, "40")

		// Atomic transfer: customer 1 debited, merchant user 2 credited,
		// transaction row in the same database transaction.
		expectWalletRead(mock, 1, "100", 1)
		expectWalletRead(mock, 2, "20", 5)
		mock.ExpectBegin()
		mock.ExpectQuery(walletLockQuery).
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"balance", "version"}).AddRow("100", 1))
		mock.ExpectQuery(walletLockQuery).
			WithArgs(int64(2)).
			WillReturnRows(sqlmock.NewRows([]string{"balance", "version"}).AddRow("20", 5))
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(int64(1), amount.Neg(), models.EntryReasonPurchaseDebit, txID, decimal.NewFromInt(60), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(int64(2), amount, models.EntryReasonPurchaseCredit, txID, decimal.NewFromInt(60), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(2, 1))
		mock.ExpectExec(walletUpdateQuery).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(walletUpdateQuery).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO transactions").
			WithArgs(txID, int64(7), int64(3), int64(1), amount, models.Metadata{"channel": "api"}).
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
		mock.ExpectCommit()

		transaction, err := service.Purchase(context.Background(), 1, 7, txID, models.Metadata{"channel": "api"})
		assert.NoError(t, err)
		assert.Equal(t, txID, transaction.TransactionID)
		assert.Equal(t, int64(3), transaction.MerchantID)
		assert.True(t, transaction.Price.Equal(amount))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("idempotent replay returns committed transaction", func(t *testing.T) {
		txID := uuid.New()
		mock.ExpectQuery(transactionQuery).
			WithArgs(txID).
			WillReturnRows(sqlmock.NewRows([]string{"transaction_id", "item_id", "merchant_id", "customer_id", "price", "metadata", "created_at"}).
				AddRow(txID.String(), 7, 3, 1, "40", nil, time.Now()))

		transaction, err := service.Purchase(context.Background(), 1, 7, txID, nil)
		assert.NoError(t, err)
		assert.Equal(t, txID, transaction.TransactionID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("replay with different payload rejected", func(t *testing.T) {
		txID := uuid.New()
		mock.ExpectQuery(transactionQuery).
			WithArgs(txID).
			WillReturnRows(sqlmock.NewRows([]string{"transaction_id", "item_id", "merchant_id", "customer_id", "price", "metadata", "created_at"}).
				AddRow(txID.String(), 8, 3, 1, "40", nil, time.Now()))

		_, err := service.Purchase(context.Background(), 1, 7, txID, nil)
		assert.ErrorIs(t, err, ErrTransactionExists)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("item not found", func(t *testing.T) {
		txID := uuid.New()
		expectNoTransaction(mock, txID)
		mock.ExpectQuery(itemQuery).
			WithArgs(int64(99)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "merchant_id", "user_id", "name", "description", "price", "tax", "created_at"}))

		_, err := service.Purchase(context.Background(), 1, 99, txID, nil)
		assert.ErrorIs(t, err, ErrItemNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("self purchase rejected", func(t *testing.T) {
		txID := uuid.New()
		expectNoTransaction(mock, txID)
		expectItemRead(mock, 7, 3, 1, "40") // item listed by the buyer

		_, err := service.Purchase(context.Background(), 1, 7, txID, nil)
		assert.ErrorIs(t, err, ErrInvalidPurchase)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient funds leaves no trace", func(t *testing.T) {
		txID := uuid.New()
		expectNoTransaction(mock, txID)
		expectItemRead(mock, 7, 3, 2, "40")
		expectWalletRead(mock, 1, "10", 1)
		expectWalletRead(mock, 2, "20", 5)

		_, err := service.Purchase(context.Background(), 1, 7, txID, nil)
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lost idempotency race recovers committed transaction", func(t *testing.T) {
		txID := uuid.New()
		amount := decimal.NewFromInt(40)

		expectNoTransaction(mock, txID)
		expectItemRead(mock, 7, 3, 2, "40")
		expectWalletRead(mock, 1, "100", 1)
		expectWalletRead(mock, 2, "20", 5)
		mock.ExpectBegin()
		mock.ExpectQuery(walletLockQuery).
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"balance", "version"}).AddRow("100", 1))
		mock.ExpectQuery(walletLockQuery).
			WithArgs(int64(2)).
			WillReturnRows(sqlmock.NewRows([]string{"balance", "version"}).AddRow("20", 5))
		mock.ExpectExec("INSERT INTO ledger_entries").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO ledger_entries").
			WillReturnResult(sqlmock.NewResult(2, 1))
		mock.ExpectExec(walletUpdateQuery).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(walletUpdateQuery).
			WillReturnResult(sqlmock.NewResult(0, 1))
		// A concurrent retry with the same id committed first.
		mock.ExpectQuery("INSERT INTO transactions").
			WillReturnError(&pq.Error{Code: "23505"})
		mock.ExpectRollback()

		mock.ExpectQuery(transactionQuery).
			WithArgs(txID).
			WillReturnRows(sqlmock.NewRows([]string{"transaction_id", "item_id", "merchant_id", "customer_id", "price", "metadata", "created_at"}).
				AddRow(txID.String(), 7, 3, 1, "40", nil, time.Now()))

		transaction, err := service.Purchase(context.Background(), 1, 7, txID, nil)
		assert.NoError(t, err)
		assert.Equal(t, txID, transaction.TransactionID)
		assert.True(t, transaction.Price.Equal(amount))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
