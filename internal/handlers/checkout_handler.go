package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/marketpay/backend/internal/services"
)

type CheckoutHandler struct {
	service   *services.CheckoutService
	catalog   *services.CatalogService
	validator *services.ValidationHelper
}

func NewCheckoutHandler(service *services.CheckoutService, catalog *services.CatalogService) *CheckoutHandler {
	return &CheckoutHandler{
		service:   service,
		catalog:   catalog,
		validator: services.NewValidationHelper(),
	}
}

// GenerateItemQR generates a checkout QR code for an item
// @Summary Generate checkout QR
// @Description Generate a short-lived QR checkout code for a catalog item
// @Tags checkout
// @Produce json
// @Security BearerAuth
// @Param itemID path int true "Item id"
// @Success 200 {object} object{code=string,qrImage=string}
// @Failure 404 {object} services.ErrorResponse
// @Router /items/{itemID}/checkout-qr [get]
func (h *CheckoutHandler) GenerateItemQR(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil {
		services.SendErrorResponse(w, "Invalid item id", http.StatusBadRequest, nil)
		return
	}

	item, err := h.catalog.GetItem(r.Context(), itemID)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}

	code, qrImage, err := h.service.GenerateCheckoutCode(r.Context(), item)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusServiceUnavailable, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"code":    code,
		"qrImage": qrImage,
	})
}

// ScanCheckout resolves a scanned checkout code
// @Summary Scan checkout code
// @Description Resolve a scanned checkout code into the item and price to purchase
// @Tags checkout
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{code=string} true "Scanned code"
// @Success 200 {object} services.CheckoutPayload
// @Failure 400 {object} services.ErrorResponse
// @Router /checkout/scan [post]
func (h *CheckoutHandler) ScanCheckout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code" validate:"required"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	payload, err := h.service.ResolveCheckoutCode(r.Context(), req.Code)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"data":    payload,
	})
}
