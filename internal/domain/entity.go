package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Category groups transactions for one owner. (OwnerID, Slug) is unique.
type Category struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Account is a money container for one owner. (OwnerID, Slug) is unique.
type Account struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"owner_id"`
	Name        string          `json:"name"`
	Slug        string          `json:"slug"`
	Description string          `json:"description"`
	Balance     decimal.Decimal `json:"balance"`
	IsActive    bool            `json:"is_active"`
	CreatedAt   time.Time       `json:"created_at"`
}
