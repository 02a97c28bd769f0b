package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is one stock line owned by a single shop user.
type Product struct {
	ID         int64           `json:"id"`
	UserID     int64           `json:"-"`
	Name       string          `json:"name"`
	Barcode    string          `json:"barcode"`
	Category   string          `json:"category"`
	Price      decimal.Decimal `json:"price"`
	Stock      int             `json:"stock"`
	SupplierID *int64          `json:"supplier_id"`
	Archived   bool            `json:"archived"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Input carries the editable fields for create and update.
type Input struct {
	Name       string
	Barcode    string
	Category   string
	Price      decimal.Decimal
	Stock      int
	SupplierID *int64
}

// LockedProduct is the row image read under an exclusive lock during checkout.
type LockedProduct struct {
	ID    int64
	Name  string
	Price decimal.Decimal
	Stock int
}

// Stats summarizes the active catalogue for the dashboard.
type Stats struct {
	Products   int `json:"products"`
	Units      int `json:"units"`
	LowStock   int `json:"low_stock"`
	OutOfStock int `json:"out_of_stock"`
}
