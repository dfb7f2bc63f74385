package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/marketpay/backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// CatalogService owns the item catalog: merchant CRUD plus the read-only
// price/availability lookup used by the purchase flow.
type CatalogService struct {
	db        *sql.DB
	validator *ValidationHelper
}

func NewCatalogService(db *sql.DB) *CatalogService {
	return &CatalogService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

// GetItem resolves an item by id. This is the catalog boundary the purchase
// orchestrator reads merchant and price from.
func (cs *CatalogService) GetItem(ctx context.Context, itemID int64) (*models.Item, error) {
	var item models.Item
	var tax decimal.NullDecimal
	err := cs.db.QueryRowContext(ctx, `
		SELECT id, merchant_id, user_id, name, description, price, tax, created_at
		FROM items
		WHERE id = $1`, itemID).
		Scan(&item.ID, &item.MerchantID, &item.UserID, &item.Name, &item.Description, &item.Price, &tax, &item.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get item %d: %w", itemID, err)
	}
	if tax.Valid {
		item.Tax = &tax.Decimal
	}
	return &item, nil
}

type itemRequest struct {
	Name        string           `json:"name" validate:"required,min=1,max=200"`
	Description string           `json:"description" validate:"max=2000"`
	Price       decimal.Decimal  `json:"price"`
	Tax         *decimal.Decimal `json:"tax,omitempty"`
}

// CreateItem lists a new item for the calling merchant
// @Summary Create item
// @Description List a new item under the authenticated merchant's profile
// @Tags items
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body itemRequest true "Item data"
// @Success 201 {object} models.Item
// @Failure 403 {object} ErrorResponse
// @Router /items [post]
func (cs *CatalogService) CreateItem(w http.ResponseWriter, r *http.Request) {
	userID, role, ok := userFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	if role != models.RoleMerchant {
		SendServiceError(w, ErrForbidden)
		return
	}

	var req itemRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := cs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if !req.Price.IsPositive() {
		SendErrorResponse(w, "Price must be positive", http.StatusBadRequest, nil)
		return
	}

	var merchantID int64
	err := cs.db.QueryRowContext(r.Context(),
		`SELECT id FROM merchants WHERE user_id = $1`, userID).Scan(&merchantID)
	if err == sql.ErrNoRows {
		SendServiceError(w, ErrForbidden)
		return
	}
	if err != nil {
		SendServiceError(w, fmt.Errorf("resolve merchant for user %d: %w", userID, err))
		return
	}

	item := models.Item{
		MerchantID:  merchantID,
		UserID:      userID,
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Tax:         req.Tax,
	}
	err = cs.db.QueryRowContext(r.Context(), `
		INSERT INTO items (merchant_id, user_id, name, description, price, tax, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id, created_at`,
		item.MerchantID, item.UserID, item.Name, item.Description, item.Price, nullDecimal(item.Tax)).
		Scan(&item.ID, &item.CreatedAt)
	if err != nil {
		SendServiceError(w, fmt.Errorf("create item: %w", err))
		return
	}

	logrus.WithFields(logrus.Fields{
		"component":   "catalog",
		"item_id":     item.ID,
		"merchant_id": merchantID,
		"price":       item.Price.String(),
	}).Info("Item listed")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(item)
}

// GetItemByID returns a single item
// @Summary Get item
// @Description Get one catalog item by id
// @Tags items
// @Produce json
// @Param itemID path int true "Item id"
// @Success 200 {object} models.Item
// @Failure 404 {object} ErrorResponse
// @Router /items/{itemID} [get]
func (cs *CatalogService) GetItemByID(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid item id", http.StatusBadRequest, nil)
		return
	}

	item, err := cs.GetItem(r.Context(), itemID)
	if err != nil {
		SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(item)
}

// ListItems returns a page of the catalog
// @Summary List items
// @Description Paginated catalog listing
// @Tags items
// @Produce json
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} models.ItemList
// @Router /items [get]
func (cs *CatalogService) ListItems(w http.ResponseWriter, r *http.Request) {
	page, pageSize := parsePagination(r)

	var total int64
	if err := cs.db.QueryRowContext(r.Context(), `SELECT COUNT(*) FROM items`).Scan(&total); err != nil {
		SendServiceError(w, fmt.Errorf("count items: %w", err))
		return
	}

	rows, err := cs.db.QueryContext(r.Context(), `
		SELECT id, merchant_id, user_id, name, description, price, tax, created_at
		FROM items
		ORDER BY id
		LIMIT $1 OFFSET $2`,
		pageSize, (page-1)*pageSize)
	if err != nil {
		SendServiceError(w, fmt.Errorf("list items: %w", err))
		return
	}
	defer rows.Close()

	items := []models.Item{}
	for rows.Next() {
		var item models.Item
		var tax decimal.NullDecimal
		if err := rows.Scan(&item.ID, &item.MerchantID, &item.UserID, &item.Name, &item.Description, &item.Price, &tax, &item.CreatedAt); err != nil {
			SendServiceError(w, fmt.Errorf("scan item: %w", err))
			return
		}
		if tax.Valid {
			item.Tax = &tax.Decimal
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		SendServiceError(w, fmt.Errorf("list items: %w", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(models.ItemList{
		Items:      items,
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages(total, pageSize),
	})
}

// UpdateItem updates an item owned by the calling merchant
// @Summary Update item
// @Description Update one of the authenticated merchant's items
// @Tags items
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param itemID path int true "Item id"
// @Param request body itemRequest true "Item data"
// @Success 200 {object} models.Item
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /items/{itemID} [put]
func (cs *CatalogService) UpdateItem(w http.ResponseWriter, r *http.Request) {
	item, ok := cs.ownedItem(w, r)
	if !ok {
		return
	}

	var req itemRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := cs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if !req.Price.IsPositive() {
		SendErrorResponse(w, "Price must be positive", http.StatusBadRequest, nil)
		return
	}

	item.Name = req.Name
	item.Description = req.Description
	item.Price = req.Price
	item.Tax = req.Tax
	_, err := cs.db.ExecContext(r.Context(), `
		UPDATE items SET name = $1, description = $2, price = $3, tax = $4
		WHERE id = $5`,
		item.Name, item.Description, item.Price, nullDecimal(item.Tax), item.ID)
	if err != nil {
		SendServiceError(w, fmt.Errorf("update item %d: %w", item.ID, err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(item)
}

// DeleteItem removes an item owned by the calling merchant
// @Summary Delete item
// @Description Delete one of the authenticated merchant's items; past transactions keep their item reference
// @Tags items
// @Produce json
// @Security BearerAuth
// @Param itemID path int true "Item id"
// @Success 200 {object} map[string]string
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /items/{itemID} [delete]
func (cs *CatalogService) DeleteItem(w http.ResponseWriter, r *http.Request) {
	item, ok := cs.ownedItem(w, r)
	if !ok {
		return
	}

	if _, err := cs.db.ExecContext(r.Context(), `DELETE FROM items WHERE id = $1`, item.ID); err != nil {
		SendServiceError(w, fmt.Errorf("delete item %d: %w", item.ID, err))
		return
	}

	logrus.WithFields(logrus.Fields{
		"component": "catalog",
		"item_id":   item.ID,
	}).Info("Item removed")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "delete success"})
}

// ownedItem loads the item in the itemID path parameter and checks the
// caller is the listing merchant (or an admin).
func (cs *CatalogService) ownedItem(w http.ResponseWriter, r *http.Request) (*models.Item, bool) {
	userID, role, ok := userFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return nil, false
	}

	itemID, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid item id", http.StatusBadRequest, nil)
		return nil, false
	}

	item, err := cs.GetItem(r.Context(), itemID)
	if err != nil {
		SendServiceError(w, err)
		return nil, false
	}

	if item.UserID != userID && role != models.RoleAdmin {
		SendServiceError(w, ErrForbidden)
		return nil, false
	}
	return item, true
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
