package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/marketpay/backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"
)

const checkoutCodeTTL = 5 * time.Minute

var ErrCheckoutUnavailable = errors.New("checkout codes require redis")

// CheckoutPayload is what a scanned checkout code resolves to. The client
// turns it into a purchase request for the named item.
type CheckoutPayload struct {
	ItemID     int64           `json:"itemId"`
	MerchantID int64           `json:"merchantId"`
	Price      decimal.Decimal `json:"price"`
	Nonce      string          `json:"nonce"`
	IssuedAt   int64           `json:"issuedAt"`
}

// CheckoutService issues short-lived QR checkout codes for catalog items.
type CheckoutService struct {
	redis *redis.Client
}

func NewCheckoutService(redisClient *redis.Client) *CheckoutService {
	return &CheckoutService{redis: redisClient}
}

// GenerateCheckoutCode encodes a checkout payload for the item into a QR
// code. The payload is held in Redis for five minutes; scanning after that
// fails.
func (s *CheckoutService) GenerateCheckoutCode(ctx context.Context, item *models.Item) (string, string, error) {
	if s.redis == nil {
		return "", "", ErrCheckoutUnavailable
	}

	payload := CheckoutPayload{
		ItemID:     item.ID,
		MerchantID: item.MerchantID,
		Price:      item.Price,
		Nonce:      generateNonce(),
		IssuedAt:   time.Now().Unix(),
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", "", err
	}

	code := base64.URLEncoding.EncodeToString(jsonData)

	key := fmt.Sprintf("checkout:%s", code)
	if err := s.redis.Set(ctx, key, jsonData, checkoutCodeTTL).Err(); err != nil {
		return "", "", err
	}

	qr, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		return "", "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", "", err
	}

	return code, base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// ResolveCheckoutCode exchanges a scanned code for its payload. Codes are
// single-use: resolving one deletes it.
func (s *CheckoutService) ResolveCheckoutCode(ctx context.Context, code string) (*CheckoutPayload, error) {
	if s.redis == nil {
		return nil, ErrCheckoutUnavailable
	}

	key := fmt.Sprintf("checkout:%s", code)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("invalid or expired checkout code")
	}
	if err != nil {
		return nil, err
	}

	var payload CheckoutPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}

	s.redis.Del(ctx, key)

	return &payload, nil
}

func generateNonce() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}
