package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCatalogService_GetItem(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewCatalogService(db)

	t.Run("existing item without tax", func(t *testing.T) {
		mock.ExpectQuery(itemQuery).
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "merchant_id", "user_id", "name", "description", "price", "tax", "created_at"}).
				AddRow(7, 3, 2, "widget", "a widget", "19.99", nil, time.Now()))

		item, err := service.GetItem(context.Background(), 7)
		assert.NoError(t, err)
		assert.Equal(t, int64(7), item.ID)
		assert.Equal(t, int64(3), item.MerchantID)
		assert.Equal(t, "widget", item.Name)
		assert.True(t, item.Price.Equal(decimal.RequireFromString("19.99")))
		assert.Nil(t, item.Tax)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("existing item with tax", func(t *testing.T) {
		mock.ExpectQuery(itemQuery).
			WithArgs(int64(8)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "merchant_id", "user_id", "name", "description", "price", "tax", "created_at"}).
				AddRow(8, 3, 2, "gadget", "", "10", "1.50", time.Now()))

		item, err := service.GetItem(context.Background(), 8)
		assert.NoError(t, err)
		assert.NotNil(t, item.Tax)
		assert.True(t, item.Tax.Equal(decimal.RequireFromString("1.50")))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing item", func(t *testing.T) {
		mock.ExpectQuery(itemQuery).
			WithArgs(int64(99)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "merchant_id", "user_id", "name", "description", "price", "tax", "created_at"}))

		_, err := service.GetItem(context.Background(), 99)
		assert.ErrorIs(t, err, ErrItemNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
