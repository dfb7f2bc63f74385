package models

import "time"

// User roles
const (
	RoleAdmin    = "admin"
	RoleMerchant = "merchant"
	RoleCustomer = "customer"
)

type User struct {
	ID        int64     `json:"id" db:"id" example:"1"`
	Username  string    `json:"username" db:"username" example:"jdoe"`
	Email     string    `json:"email" db:"email" example:"user@example.com"`
	Role      string    `json:"role" db:"role" example:"customer"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// MerchantProfile is the seller profile attached to a merchant user.
type MerchantProfile struct {
	ID          int64  `json:"id" db:"id"`
	UserID      int64  `json:"user_id" db:"user_id"`
	Name        string `json:"name" db:"name"`
	Description string `json:"description,omitempty" db:"description"`
	TaxID       string `json:"tax_id,omitempty" db:"tax_id"`
}

// CustomerProfile is the buyer profile attached to a customer user.
type CustomerProfile struct {
	ID          int64  `json:"id" db:"id"`
	UserID      int64  `json:"user_id" db:"user_id"`
	Name        string `json:"name" db:"name"`
	Description string `json:"description,omitempty" db:"description"`
	TaxID       string `json:"tax_id,omitempty" db:"tax_id"`
}
