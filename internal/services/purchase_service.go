package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/marketpay/backend/internal/models"
	"github.com/sirupsen/logrus"
)

// PurchaseService turns a purchase request into one consistent unit of work:
// a customer debit, a merchant credit and a transaction record, all durable
// together or not at all.
type PurchaseService struct {
	store     *LedgerStore
	wallets   *WalletService
	catalog   *CatalogService
	validator *ValidationHelper
}

func NewPurchaseService(store *LedgerStore, wallets *WalletService, catalog *CatalogService) *PurchaseService {
	return &PurchaseService{
		store:     store,
		wallets:   wallets,
		catalog:   catalog,
		validator: NewValidationHelper(),
	}
}

// Purchase executes a purchase under the pre-allocated transaction id. The
// id doubles as an idempotency key: a retry after a crash finds the already
// committed transaction and returns it without touching any wallet.
func (ps *PurchaseService) Purchase(ctx context.Context, customerID, itemID int64, txID uuid.UUID, metadata models.Metadata) (*models.Transaction, error) {
	existing, err := ps.store.GetTransaction(ctx, txID)
	if err == nil {
		if existing.ItemID != itemID || existing.CustomerID != customerID {
			return nil, ErrTransactionExists
		}
		return existing, nil
	}
	if !errors.Is(err, ErrTransactionNotFound) {
		return nil, err
	}

	item, err := ps.catalog.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.UserID == customerID || !item.Price.IsPositive() {
		return nil, ErrInvalidPurchase
	}

	record := &models.Transaction{
		TransactionID: txID,
		ItemID:        item.ID,
		MerchantID:    item.MerchantID,
		CustomerID:    customerID,
		Price:         item.Price,
		Metadata:      metadata,
	}

	_, _, err = ps.wallets.TransferAtomic(ctx, customerID, item.UserID, item.Price, record)
	if errors.Is(err, ErrTransactionExists) {
		// A concurrent retry with the same id won the race; return its result.
		committed, getErr := ps.store.GetTransaction(ctx, txID)
		if getErr != nil {
			return nil, getErr
		}
		if committed.ItemID != itemID || committed.CustomerID != customerID {
			return nil, ErrTransactionExists
		}
		return committed, nil
	}
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"component":      "purchase",
		"transaction_id": txID,
		"item_id":        item.ID,
		"customer_id":    customerID,
		"merchant_id":    item.MerchantID,
		"price":          item.Price.String(),
	}).Info("Purchase completed")

	return record, nil
}

type purchaseRequest struct {
	ItemID        int64  `json:"itemId" validate:"required,gt=0"`
	TransactionID string `json:"transactionId" validate:"omitempty,uuid4"`
	Channel       string `json:"channel" validate:"omitempty,oneof=api qr"`
}

// CreatePurchase handles a purchase request
// @Summary Purchase an item
// @Description Buy an item: debits the customer wallet, credits the merchant wallet and records the transaction atomically. Pass transactionId to retry a purchase idempotently.
// @Tags purchase
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body purchaseRequest true "Purchase request"
// @Success 201 {object} models.Transaction
// @Failure 400 {object} ErrorResponse
// @Failure 402 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /purchase [post]
func (ps *PurchaseService) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	customerID, _, ok := userFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req purchaseRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := ps.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	txID := uuid.New()
	if req.TransactionID != "" {
		parsed, err := uuid.Parse(req.TransactionID)
		if err != nil {
			SendErrorResponse(w, "Invalid transaction id", http.StatusBadRequest, nil)
			return
		}
		txID = parsed
	}

	var metadata models.Metadata
	if req.Channel != "" {
		metadata = models.Metadata{"channel": req.Channel}
	}

	transaction, err := ps.Purchase(r.Context(), customerID, req.ItemID, txID, metadata)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"component":   "purchase",
			"customer_id": customerID,
			"item_id":     req.ItemID,
			"error":       err.Error(),
		}).Warn("Purchase rejected")
		SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(transaction)
}

// GetTransaction returns one purchase record
// @Summary Get transaction
// @Description Get a purchase record by id; visible to its customer, the selling merchant and admins
// @Tags purchase
// @Produce json
// @Security BearerAuth
// @Param txID path string true "Transaction id"
// @Success 200 {object} models.Transaction
// @Failure 404 {object} ErrorResponse
// @Router /transactions/{txID} [get]
func (ps *PurchaseService) GetTransaction(w http.ResponseWriter, r *http.Request) {
	userID, role, ok := userFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	txID, err := uuid.Parse(chi.URLParam(r, "txID"))
	if err != nil {
		SendErrorResponse(w, "Invalid transaction id", http.StatusBadRequest, nil)
		return
	}

	transaction, err := ps.store.GetTransaction(r.Context(), txID)
	if err != nil {
		SendServiceError(w, err)
		return
	}

	if role != models.RoleAdmin && transaction.CustomerID != userID {
		item, err := ps.catalog.GetItem(r.Context(), transaction.ItemID)
		if err != nil || item.UserID != userID {
			SendServiceError(w, ErrForbidden)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(transaction)
}

// ListTransactions returns the caller's purchase history
// @Summary List transactions
// @Description Paginated purchase history for the authenticated user (as customer or merchant)
// @Tags purchase
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} models.TransactionList
// @Router /transactions [get]
func (ps *PurchaseService) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := userFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	page, pageSize := parsePagination(r)
	list, err := ps.store.ListTransactionsForUser(r.Context(), userID, page, pageSize)
	if err != nil {
		SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}
