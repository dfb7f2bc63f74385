package services

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/marketpay/backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCheckoutService_ResolveCheckoutCode(t *testing.T) {
	client, mock := redismock.NewClientMock()
	service := NewCheckoutService(client)

	t.Run("valid code is single use", func(t *testing.T) {
		payload := CheckoutPayload{
			ItemID:     7,
			MerchantID: 3,
			Price:      decimal.NewFromInt(40),
			Nonce:      "abc",
			IssuedAt:   time.Now().Unix(),
		}
		data, err := json.Marshal(payload)
		assert.NoError(t, err)

		code := "somecode"
		key := fmt.Sprintf("checkout:%s", code)
		mock.ExpectGet(key).SetVal(string(data))
		mock.ExpectDel(key).SetVal(1)

		resolved, err := service.ResolveCheckoutCode(context.Background(), code)
		assert.NoError(t, err)
		assert.Equal(t, int64(7), resolved.ItemID)
		assert.Equal(t, int64(3), resolved.MerchantID)
		assert.True(t, resolved.Price.Equal(decimal.NewFromInt(40)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("expired code", func(t *testing.T) {
		key := "checkout:expired"
		mock.ExpectGet(key).RedisNil()

		_, err := service.ResolveCheckoutCode(context.Background(), "expired")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid or expired")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCheckoutService_GenerateCheckoutCode(t *testing.T) {
	t.Run("requires redis", func(t *testing.T) {
		service := NewCheckoutService(nil)
		item := &models.Item{ID: 7, MerchantID: 3, Price: decimal.NewFromInt(40)}

		_, _, err := service.GenerateCheckoutCode(context.Background(), item)
		assert.ErrorIs(t, err, ErrCheckoutUnavailable)

		_, err = service.ResolveCheckoutCode(context.Background(), "anything")
		assert.ErrorIs(t, err, ErrCheckoutUnavailable)
	})

	t.Run("generates scannable payload", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		mock.Regexp().ExpectSet(`checkout:.+`, `.+`, checkoutCodeTTL).SetVal("OK")
		service := NewCheckoutService(client)

		item := &models.Item{ID: 7, MerchantID: 3, Price: decimal.NewFromInt(40)}
		code, qrImage, err := service.GenerateCheckoutCode(context.Background(), item)
		assert.NoError(t, err)
		assert.NotEmpty(t, code)
		assert.NotEmpty(t, qrImage)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
