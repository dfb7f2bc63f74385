package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/marketpay/backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// maxBalanceRetries bounds the read-compute-append cycle on version
// conflicts before the operation fails with ErrContention.
const maxBalanceRetries = 5

const walletCacheTTL = 60 * time.Second

// WalletService exposes the invariant-preserving mutation primitives over
// the ledger store. It is the only caller of AppendEntries.
type WalletService struct {
	store     *LedgerStore
	redis     *redis.Client
	validator *ValidationHelper
}

func NewWalletService(store *LedgerStore, redisClient *redis.Client) *WalletService {
	return &WalletService{
		store:     store,
		redis:     redisClient,
		validator: NewValidationHelper(),
	}
}

// Credit adds amount to the wallet. Version conflicts are retried with a
// fresh read each attempt.
func (ws *WalletService) Credit(ctx context.Context, ownerID int64, amount decimal.Decimal, reason string, relatedTxID *uuid.UUID) (decimal.Decimal, error) {
	return ws.adjust(ctx, ownerID, amount, reason, relatedTxID)
}

// Debit subtracts amount from the wallet, rejecting with
// ErrInsufficientFunds against the freshly read balance on every attempt.
func (ws *WalletService) Debit(ctx context.Context, ownerID int64, amount decimal.Decimal, reason string, relatedTxID *uuid.UUID) (decimal.Decimal, error) {
	return ws.adjust(ctx, ownerID, amount.Neg(), reason, relatedTxID)
}

func (ws *WalletService) adjust(ctx context.Context, ownerID int64, delta decimal.Decimal, reason string, relatedTxID *uuid.UUID) (decimal.Decimal, error) {
	if delta.IsZero() {
		return decimal.Zero, ErrInvalidAmount
	}

	for attempt := 0; attempt < maxBalanceRetries; attempt++ {
		wallet, err := ws.store.GetWallet(ctx, ownerID)
		if err != nil {
			return decimal.Zero, err
		}

		if wallet.Balance.Add(delta).IsNegative() {
			return decimal.Zero, ErrInsufficientFunds
		}

		balances, err := ws.store.AppendEntries(ctx, EntryBatch{
			Entries: []models.LedgerEntry{{
				WalletOwnerID:        ownerID,
				Delta:                delta,
				Reason:               reason,
				RelatedTransactionID: relatedTxID,
			}},
			ExpectedVersions: map[int64]int{ownerID: wallet.Version},
		})
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return decimal.Zero, err
		}

		ws.invalidateWalletCache(ctx, ownerID)
		return balances[ownerID], nil
	}

	logrus.WithFields(logrus.Fields{
		"component": "wallet",
		"owner_id":  ownerID,
	}).Warn("Balance adjustment abandoned after retries")
	return decimal.Zero, ErrContention
}

// TransferAtomic debits fromOwnerID and credits toOwnerID in a single
// ledger batch covering both wallets' versions. When record is non-nil the
// transaction row lands in the same database transaction, so either both
// wallets and the record are durable or nothing is.
func (ws *WalletService) TransferAtomic(ctx context.Context, fromOwnerID, toOwnerID int64, amount decimal.Decimal, record *models.Transaction) (decimal.Decimal, decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, decimal.Zero, ErrInvalidAmount
	}
	if fromOwnerID == toOwnerID {
		return decimal.Zero, decimal.Zero, ErrInvalidAmount
	}

	var relatedTxID *uuid.UUID
	if record != nil {
		id := record.TransactionID
		relatedTxID = &id
	}

	for attempt := 0; attempt < maxBalanceRetries; attempt++ {
		from, err := ws.store.GetWallet(ctx, fromOwnerID)
		if err != nil {
			return decimal.Zero, decimal.Zero, err
		}
		to, err := ws.store.GetWallet(ctx, toOwnerID)
		if err != nil {
			return decimal.Zero, decimal.Zero, err
		}

		if from.Balance.LessThan(amount) {
			return decimal.Zero, decimal.Zero, ErrInsufficientFunds
		}

		balances, err := ws.store.AppendEntries(ctx, EntryBatch{
			Entries: []models.LedgerEntry{
				{
					WalletOwnerID:        fromOwnerID,
					Delta:                amount.Neg(),
					Reason:               models.EntryReasonPurchaseDebit,
					RelatedTransactionID: relatedTxID,
				},
				{
					WalletOwnerID:        toOwnerID,
					Delta:                amount,
					Reason:               models.EntryReasonPurchaseCredit,
					RelatedTransactionID: relatedTxID,
				},
			},
			ExpectedVersions: map[int64]int{
				fromOwnerID: from.Version,
				toOwnerID:   to.Version,
			},
			Transaction: record,
		})
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return decimal.Zero, decimal.Zero, err
		}

		ws.invalidateWalletCache(ctx, fromOwnerID)
		ws.invalidateWalletCache(ctx, toOwnerID)
		return balances[fromOwnerID], balances[toOwnerID], nil
	}

	logrus.WithFields(logrus.Fields{
		"component":     "wallet",
		"from_owner_id": fromOwnerID,
		"to_owner_id":   toOwnerID,
	}).Warn("Transfer abandoned after retries")
	return decimal.Zero, decimal.Zero, ErrContention
}

type createWalletRequest struct {
	InitialBalance decimal.Decimal `json:"initialBalance"`
}

type adjustmentRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason" validate:"omitempty,max=200"`
}

// CreateWallet creates a wallet for the authenticated user
// @Summary Create wallet
// @Description Create the authenticated user's wallet with an optional opening balance
// @Tags wallets
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body createWalletRequest true "Wallet creation request"
// @Success 201 {object} models.Wallet
// @Failure 409 {object} ErrorResponse
// @Router /wallets [post]
func (ws *WalletService) CreateWallet(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := userFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req createWalletRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	wallet, err := ws.store.CreateWallet(r.Context(), userID, req.InitialBalance)
	if err != nil {
		SendServiceError(w, err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"component": "wallet",
		"owner_id":  userID,
		"balance":   wallet.Balance.String(),
	}).Info("Wallet created")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(wallet)
}

// GetWallet returns a wallet by owner id
// @Summary Get wallet
// @Description Get a wallet's balance and version; owner or admin only
// @Tags wallets
// @Produce json
// @Security BearerAuth
// @Param ownerID path int true "Wallet owner id"
// @Success 200 {object} models.Wallet
// @Failure 404 {object} ErrorResponse
// @Router /wallets/{ownerID} [get]
func (ws *WalletService) GetWallet(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ws.authorizedOwner(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	if cached := ws.cachedWallet(ctx, ownerID); cached != nil {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(cached)
		return
	}

	wallet, err := ws.store.GetWallet(ctx, ownerID)
	if err != nil {
		SendServiceError(w, err)
		return
	}

	ws.cacheWallet(ctx, wallet)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(wallet)
}

// CreditWallet adds funds to a wallet
// @Summary Credit wallet
// @Description Manually credit a wallet; owner or admin only
// @Tags wallets
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param ownerID path int true "Wallet owner id"
// @Param request body adjustmentRequest true "Credit request"
// @Success 200 {object} models.Wallet
// @Failure 404 {object} ErrorResponse
// @Router /wallets/{ownerID}/credit [post]
func (ws *WalletService) CreditWallet(w http.ResponseWriter, r *http.Request) {
	ws.handleAdjustment(w, r, false)
}

// DebitWallet removes funds from a wallet
// @Summary Debit wallet
// @Description Manually debit a wallet; owner or admin only
// @Tags wallets
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param ownerID path int true "Wallet owner id"
// @Param request body adjustmentRequest true "Debit request"
// @Success 200 {object} models.Wallet
// @Failure 402 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /wallets/{ownerID}/debit [post]
func (ws *WalletService) DebitWallet(w http.ResponseWriter, r *http.Request) {
	ws.handleAdjustment(w, r, true)
}

func (ws *WalletService) handleAdjustment(w http.ResponseWriter, r *http.Request, debit bool) {
	ownerID, ok := ws.authorizedOwner(w, r)
	if !ok {
		return
	}

	var req adjustmentRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := ws.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if !req.Amount.IsPositive() {
		SendServiceError(w, ErrInvalidAmount)
		return
	}

	var newBalance decimal.Decimal
	var err error
	if debit {
		newBalance, err = ws.Debit(r.Context(), ownerID, req.Amount, models.EntryReasonManualAdjustment, nil)
	} else {
		newBalance, err = ws.Credit(r.Context(), ownerID, req.Amount, models.EntryReasonManualAdjustment, nil)
	}
	if err != nil {
		SendServiceError(w, err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"component": "wallet",
		"owner_id":  ownerID,
		"amount":    req.Amount.String(),
		"debit":     debit,
	}).Info("Manual balance adjustment applied")

	wallet, err := ws.store.GetWallet(r.Context(), ownerID)
	if err != nil {
		// The adjustment committed; fall back to the computed balance.
		wallet = &models.Wallet{OwnerID: ownerID, Balance: newBalance}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(wallet)
}

// ListWalletEntries returns a page of a wallet's ledger history
// @Summary List ledger entries
// @Description Paginated, newest-first ledger history for a wallet; owner or admin only
// @Tags wallets
// @Produce json
// @Security BearerAuth
// @Param ownerID path int true "Wallet owner id"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} models.LedgerEntryList
// @Failure 404 {object} ErrorResponse
// @Router /wallets/{ownerID}/entries [get]
func (ws *WalletService) ListWalletEntries(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ws.authorizedOwner(w, r)
	if !ok {
		return
	}

	page, pageSize := parsePagination(r)
	list, err := ws.store.ListEntries(r.Context(), ownerID, page, pageSize)
	if err != nil {
		SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

// authorizedOwner parses the ownerID path parameter and checks that the
// caller is that owner or an admin.
func (ws *WalletService) authorizedOwner(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, role, ok := userFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return 0, false
	}

	ownerID, err := strconv.ParseInt(chi.URLParam(r, "ownerID"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid owner id", http.StatusBadRequest, nil)
		return 0, false
	}

	if ownerID != userID && role != models.RoleAdmin {
		SendServiceError(w, ErrForbidden)
		return 0, false
	}
	return ownerID, true
}

func walletCacheKey(ownerID int64) string {
	return fmt.Sprintf("wallet:owner:%d", ownerID)
}

func (ws *WalletService) cachedWallet(ctx context.Context, ownerID int64) *models.Wallet {
	if ws.redis == nil {
		return nil
	}
	data, err := ws.redis.Get(ctx, walletCacheKey(ownerID)).Bytes()
	if err != nil {
		return nil
	}
	var wallet models.Wallet
	if err := json.Unmarshal(data, &wallet); err != nil {
		return nil
	}
	return &wallet
}

func (ws *WalletService) cacheWallet(ctx context.Context, wallet *models.Wallet) {
	if ws.redis == nil {
		return
	}
	data, err := json.Marshal(wallet)
	if err != nil {
		return
	}
	ws.redis.Set(ctx, walletCacheKey(wallet.OwnerID), data, walletCacheTTL)
}

func (ws *WalletService) invalidateWalletCache(ctx context.Context, ownerID int64) {
	if ws.redis == nil {
		return
	}
	ws.redis.Del(ctx, walletCacheKey(ownerID))
}

// decodeJSONBody applies the shared request body discipline: size cap,
// unknown field rejection, single JSON object. Writes the error response
// itself and reports whether decoding succeeded.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	return true
}
