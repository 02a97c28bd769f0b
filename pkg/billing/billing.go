// Package billing confirms carts: every line is locked, checked, decremented
// and recorded inside one transaction, or nothing happens at all.
package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"storefront/pkg/inventory"
	"storefront/pkg/sales"
	"storefront/pkg/storage"
)

// Line is one requested cart entry. Prices never come from the client.
type Line struct {
	ProductID int64
	Quantity  int
}

// Receipt describes a confirmed bill.
type Receipt struct {
	BillID string          `json:"bill_id"`
	Items  []sales.Sale    `json:"items"`
	Total  decimal.Decimal `json:"total"`
}

// Invalidator is told after a bill commits so cached aggregates can be dropped.
type Invalidator interface {
	Invalidate(ctx context.Context, owner int64)
}

// Option tunes the Service.
type Option func(*Service)

// WithBillIDs replaces the bill id generator.
func WithBillIDs(gen func() (string, error)) Option {
	return func(s *Service) { s.newBillID = gen }
}

// WithClock replaces time.Now for sale timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service is the billing transaction executor.
type Service struct {
	db          *storage.DB
	products    *inventory.Repository
	sales       *sales.Repository
	invalidator Invalidator
	logger      *log.Logger
	newBillID   func() (string, error)
	now         func() time.Time
}

// NewService wires the executor to the shared store. invalidator may be nil.
func NewService(db *storage.DB, products *inventory.Repository, salesRepo *sales.Repository, invalidator Invalidator, logger *log.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = log.New(os.Stdout, "[storefront] ", log.LstdFlags)
	}
	s := &Service{
		db:          db,
		products:    products,
		sales:       salesRepo,
		invalidator: invalidator,
		logger:      logger,
		newBillID:   NewBillID,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewBillID returns a time-ordered, collision-resistant bill identifier.
func NewBillID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return "BILL-" + id.String(), nil
}

func validateCart(lines []Line) error {
	if len(lines) == 0 {
		return emptyCart()
	}
	for i, line := range lines {
		if line.ProductID <= 0 {
			return invalidLine(i+1, "product_id is required")
		}
		if line.Quantity <= 0 {
			return invalidLine(i+1, "quantity must be a positive integer")
		}
	}
	return nil
}

// Confirm sells the cart for owner. Lines are processed in the order given; a
// product listed twice sees its own earlier decrement. Any failure rolls back
// every line. Business rejections are *Error values; everything else wraps
// ErrStoreFailure.
func (s *Service) Confirm(ctx context.Context, owner int64, lines []Line) (Receipt, error) {
	if err := validateCart(lines); err != nil {
		return Receipt{}, err
	}
	billID, err := s.newBillID()
	if err != nil {
		return Receipt{}, storeFailure(fmt.Errorf("generate bill id: %w", err))
	}
	soldAt := s.now().UTC()

	var receipt Receipt
	err = s.db.InTx(ctx, func(tx *sql.Tx) error {
		ledger := s.products.Scope(tx, owner)
		journal := s.sales.Scope(tx, owner)
		receipt = Receipt{BillID: billID, Items: make([]sales.Sale, 0, len(lines)), Total: decimal.Zero}

		for i, line := range lines {
			product, err := ledger.LockForSale(ctx, line.ProductID)
			if errors.Is(err, inventory.ErrNotFound) {
				return productNotFound(i+1, line.ProductID)
			}
			if err != nil {
				return err
			}
			if product.Stock < line.Quantity {
				return insufficientStock(i+1, product.ID, product.Name, line.Quantity, product.Stock)
			}

			total := product.Price.Mul(decimal.NewFromInt(int64(line.Quantity)))
			if err := ledger.DecrementStock(ctx, product.ID, line.Quantity); err != nil {
				return err
			}
			sale, err := journal.Append(ctx, sales.Sale{
				ProductID:   product.ID,
				ProductName: product.Name,
				Quantity:    line.Quantity,
				UnitPrice:   product.Price,
				TotalPrice:  total,
				Status:      sales.StatusPaid,
				BillID:      billID,
				CreatedAt:   soldAt,
			})
			if err != nil {
				return err
			}
			receipt.Items = append(receipt.Items, sale)
			receipt.Total = receipt.Total.Add(total)
		}
		return nil
	})
	if err != nil {
		if IsBusiness(err) {
			s.logger.Printf("bill %s rejected for user %d: %v", billID, owner, err)
			return Receipt{}, err
		}
		s.logger.Printf("bill %s failed for user %d: %v", billID, owner, err)
		return Receipt{}, storeFailure(err)
	}

	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, owner)
	}
	s.logger.Printf("bill %s confirmed for user %d: %d lines, total %s", billID, owner, len(receipt.Items), receipt.Total.StringFixed(2))
	return receipt, nil
}
