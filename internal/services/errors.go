package services

import (
	"errors"
	"net/http"
)

var (
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrWalletExists        = errors.New("wallet already exists")
	ErrUserNotFound        = errors.New("user not found")
	ErrUserExists          = errors.New("username already exists")
	ErrItemNotFound        = errors.New("item not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrTransactionExists   = errors.New("transaction id already used with a different payload")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrVersionConflict     = errors.New("wallet version conflict")
	ErrContention          = errors.New("wallet contention: retries exhausted")
	ErrInvalidPurchase     = errors.New("invalid purchase")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrForbidden           = errors.New("operation not permitted for this user")
)

// statusForError maps service errors to HTTP status codes. Version conflicts
// never reach here directly; they are retried inside the wallet service and
// surface as ErrContention once retries are exhausted.
func statusForError(err error) int {
	switch {
	case errors.Is(err, ErrWalletNotFound),
		errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrItemNotFound),
		errors.Is(err, ErrTransactionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrWalletExists),
		errors.Is(err, ErrUserExists),
		errors.Is(err, ErrTransactionExists),
		errors.Is(err, ErrContention):
		return http.StatusConflict
	case errors.Is(err, ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrInvalidPurchase), errors.Is(err, ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// SendServiceError writes a service error as a JSON error response.
func SendServiceError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "Internal server error"
	}
	SendErrorResponse(w, msg, status, nil)
}
