package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storefront/pkg/storage"
	"storefront/pkg/storage/query"
)

// Repository is the only way to reach product rows. It hands out owner-scoped
// ledgers so no caller can forget the tenant filter.
type Repository struct {
	db *storage.DB
}

// NewRepository wires the shared handle.
func NewRepository(db *storage.DB) *Repository {
	return &Repository{db: db}
}

// Scope binds the repository to one owner and to q, which is either the pool or an open transaction.
func (r *Repository) Scope(q storage.Queryer, owner int64) *Ledger {
	if q == nil {
		q = r.db
	}
	return &Ledger{db: r.db, q: q, owner: owner}
}

// Ledger reads and writes the products of a single owner.
type Ledger struct {
	db    *storage.DB
	q     storage.Queryer
	owner int64
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (Product, error) {
	var (
		p        Product
		supplier sql.NullInt64
	)
	err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Barcode, &p.Category, &p.Price, &p.Stock, &supplier, &p.Archived, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Product{}, err
	}
	if supplier.Valid {
		id := supplier.Int64
		p.SupplierID = &id
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

// Create stores a new active product and returns it with its generated id.
func (l *Ledger) Create(ctx context.Context, in Input) (Product, error) {
	now := time.Now().UTC()
	id, err := l.db.Insert(ctx, l.q, query.ProductInsert,
		l.owner, in.Name, in.Barcode, in.Category, in.Price, in.Stock, nullableID(in.SupplierID), false, now, now)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return Product{}, ErrBarcodeTaken
		}
		return Product{}, fmt.Errorf("insert product: %w", err)
	}
	return Product{
		ID:         id,
		UserID:     l.owner,
		Name:       in.Name,
		Barcode:    in.Barcode,
		Category:   in.Category,
		Price:      in.Price,
		Stock:      in.Stock,
		SupplierID: in.SupplierID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (l *Ledger) one(ctx context.Context, stmt string, args ...any) (Product, error) {
	p, err := scanProduct(l.q.QueryRowContext(ctx, l.db.Rebind(stmt), args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Product{}, ErrNotFound
	}
	if err != nil {
		return Product{}, fmt.Errorf("load product: %w", err)
	}
	return p, nil
}

// Get returns an active or, when archived is true, an archived product.
func (l *Ledger) Get(ctx context.Context, id int64, archived bool) (Product, error) {
	return l.one(ctx, query.ProductByID, id, l.owner, archived)
}

// GetByBarcode looks up an active product by its scanned code.
func (l *Ledger) GetByBarcode(ctx context.Context, barcode string) (Product, error) {
	return l.one(ctx, query.ProductByBarcode, barcode, l.owner, false)
}

// List returns products newest first.
func (l *Ledger) List(ctx context.Context, archived bool) ([]Product, error) {
	rows, err := l.q.QueryContext(ctx, l.db.Rebind(query.ProductList), l.owner, archived)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := make([]Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

// Update overwrites the editable fields of an active product.
func (l *Ledger) Update(ctx context.Context, id int64, in Input) error {
	res, err := l.q.ExecContext(ctx, l.db.Rebind(query.ProductUpdate),
		in.Name, in.Barcode, in.Category, in.Price, in.Stock, nullableID(in.SupplierID), time.Now().UTC(), id, l.owner, false)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return ErrBarcodeTaken
		}
		return fmt.Errorf("update product: %w", err)
	}
	return expectOne(res)
}

// SetArchived flips the soft-delete flag. It fails with ErrNotFound if the
// product is not currently in the opposite state.
func (l *Ledger) SetArchived(ctx context.Context, id int64, archived bool) error {
	res, err := l.q.ExecContext(ctx, l.db.Rebind(query.ProductSetDeleted), archived, time.Now().UTC(), id, l.owner, !archived)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return ErrBarcodeTaken
		}
		return fmt.Errorf("archive product: %w", err)
	}
	return expectOne(res)
}

// LockForSale reads an active product with an exclusive row lock held until
// the surrounding transaction ends. It must be called on a transaction scope.
func (l *Ledger) LockForSale(ctx context.Context, id int64) (LockedProduct, error) {
	var p LockedProduct
	err := l.q.QueryRowContext(ctx, l.db.Rebind(query.ProductLock), id, l.owner, false).
		Scan(&p.ID, &p.Name, &p.Price, &p.Stock)
	if errors.Is(err, sql.ErrNoRows) {
		return LockedProduct{}, ErrNotFound
	}
	if err != nil {
		return LockedProduct{}, fmt.Errorf("lock product %d: %w", id, err)
	}
	return p, nil
}

// DecrementStock subtracts qty from a row previously locked with LockForSale.
func (l *Ledger) DecrementStock(ctx context.Context, id int64, qty int) error {
	res, err := l.q.ExecContext(ctx, l.db.Rebind(query.ProductDecrementStock), qty, time.Now().UTC(), id, l.owner)
	if err != nil {
		return fmt.Errorf("decrement stock of product %d: %w", id, err)
	}
	return expectOne(res)
}

// Stats aggregates the active catalogue; products at or below lowStock count as low.
func (l *Ledger) Stats(ctx context.Context, lowStock int) (Stats, error) {
	var s Stats
	err := l.q.QueryRowContext(ctx, l.db.Rebind(query.ProductStats), lowStock, l.owner, false).
		Scan(&s.Products, &s.Units, &s.LowStock, &s.OutOfStock)
	if err != nil {
		return Stats{}, fmt.Errorf("product stats: %w", err)
	}
	return s, nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
