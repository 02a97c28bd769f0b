// Package sales is the append-only record of sold line items.
package sales

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"storefront/pkg/storage"
	"storefront/pkg/storage/query"
)

// StatusPaid is the only status a sale row is ever written with.
const StatusPaid = "PAID"

// ErrBillNotFound is returned when no line items carry the requested bill id for the owner.
var ErrBillNotFound = errors.New("bill not found")

// Sale is one line item of a confirmed bill. Name and unit price are copied at sale time.
type Sale struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"-"`
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	Status      string          `json:"status"`
	BillID      string          `json:"bill_id"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Bill groups the line items written by one checkout.
type Bill struct {
	ID        string          `json:"bill_id"`
	Items     []Sale          `json:"items"`
	Units     int             `json:"units"`
	Total     decimal.Decimal `json:"total"`
	CreatedAt time.Time       `json:"created_at"`
}

// Totals aggregates sales over a period.
type Totals struct {
	Bills   int             `json:"bills"`
	Units   int             `json:"units"`
	Revenue decimal.Decimal `json:"revenue"`
}

// Repository hands out owner-scoped journals.
type Repository struct {
	db *storage.DB
}

func NewRepository(db *storage.DB) *Repository {
	return &Repository{db: db}
}

// Scope binds the repository to one owner and to q, the pool or an open transaction.
func (r *Repository) Scope(q storage.Queryer, owner int64) *Journal {
	if q == nil {
		q = r.db
	}
	return &Journal{db: r.db, q: q, owner: owner}
}

// Journal reads and appends the sales of one owner.
type Journal struct {
	db    *storage.DB
	q     storage.Queryer
	owner int64
}

// Append writes a line item and returns it with its id. The owner always comes from the journal.
func (j *Journal) Append(ctx context.Context, s Sale) (Sale, error) {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	if s.Status == "" {
		s.Status = StatusPaid
	}
	s.UserID = j.owner
	id, err := j.db.Insert(ctx, j.q, query.SaleInsert,
		j.owner, s.ProductID, s.ProductName, s.Quantity, s.UnitPrice, s.TotalPrice, s.Status, s.BillID, s.CreatedAt)
	if err != nil {
		return Sale{}, fmt.Errorf("insert sale: %w", err)
	}
	s.ID = id
	return s, nil
}

func (j *Journal) collect(ctx context.Context, stmt string, args ...any) ([]Sale, error) {
	rows, err := j.q.QueryContext(ctx, j.db.Rebind(stmt), args...)
	if err != nil {
		return nil, fmt.Errorf("query sales: %w", err)
	}
	defer rows.Close()

	out := make([]Sale, 0)
	for rows.Next() {
		var s Sale
		if err := rows.Scan(&s.ID, &s.UserID, &s.ProductID, &s.ProductName, &s.Quantity,
			&s.UnitPrice, &s.TotalPrice, &s.Status, &s.BillID, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan sale: %w", err)
		}
		s.CreatedAt = s.CreatedAt.UTC()
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// List returns every sale row newest first.
func (j *Journal) List(ctx context.Context) ([]Sale, error) {
	return j.collect(ctx, query.SaleList, j.owner)
}

// Recent returns at most limit rows, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Sale, error) {
	return j.collect(ctx, query.SaleRecent, j.owner, limit)
}

// Bill loads the line items of one bill in insertion order.
func (j *Journal) Bill(ctx context.Context, billID string) (Bill, error) {
	items, err := j.collect(ctx, query.SaleByBill, j.owner, billID)
	if err != nil {
		return Bill{}, err
	}
	if len(items) == 0 {
		return Bill{}, ErrBillNotFound
	}
	bill := Bill{ID: billID, Items: items, Total: decimal.Zero, CreatedAt: items[0].CreatedAt}
	for _, it := range items {
		bill.Units += it.Quantity
		bill.Total = bill.Total.Add(it.TotalPrice)
	}
	return bill, nil
}

// TotalsSince aggregates sales created at or after since.
func (j *Journal) TotalsSince(ctx context.Context, since time.Time) (Totals, error) {
	var t Totals
	err := j.q.QueryRowContext(ctx, j.db.Rebind(query.SaleTotalsSince), j.owner, since.UTC()).
		Scan(&t.Bills, &t.Units, &t.Revenue)
	if err != nil {
		return Totals{}, fmt.Errorf("sales totals: %w", err)
	}
	return t, nil
}

// Service exposes the read side of the journal to the HTTP layer.
type Service struct {
	repo *Repository
}

func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, owner int64) ([]Sale, error) {
	return s.repo.Scope(nil, owner).List(ctx)
}

func (s *Service) Bill(ctx context.Context, owner int64, billID string) (Bill, error) {
	return s.repo.Scope(nil, owner).Bill(ctx, billID)
}
