// Package supplier keeps the vendor address book each shop links products to.
package supplier

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"os"
	"strings"
	"time"

	"storefront/pkg/storage"
	"storefront/pkg/storage/query"
)

// ErrNotFound is returned for missing suppliers and for suppliers of other owners.
var ErrNotFound = errors.New("supplier not found")

// Supplier is a vendor contact.
type Supplier struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"-"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

// Input holds the editable supplier fields.
type Input struct {
	Name    string
	Phone   string
	Email   string
	Address string
}

type validationError struct {
	message string
}

func (e validationError) Error() string { return e.message }

// IsValidation reports whether err came from rejected input.
func IsValidation(err error) bool {
	var v validationError
	return errors.As(err, &v)
}

// Repository persists suppliers; every statement is filtered by owner.
type Repository struct {
	db *storage.DB
}

// NewRepository wires the shared handle.
func NewRepository(db *storage.DB) *Repository {
	return &Repository{db: db}
}

func scanSupplier(row interface{ Scan(...any) error }) (Supplier, error) {
	var s Supplier
	if err := row.Scan(&s.ID, &s.UserID, &s.Name, &s.Phone, &s.Email, &s.Address, &s.CreatedAt); err != nil {
		return Supplier{}, err
	}
	s.CreatedAt = s.CreatedAt.UTC()
	return s, nil
}

func (r *Repository) Save(ctx context.Context, owner int64, in Input) (Supplier, error) {
	now := time.Now().UTC()
	id, err := r.db.Insert(ctx, r.db, query.SupplierInsert, owner, in.Name, in.Phone, in.Email, in.Address, now)
	if err != nil {
		return Supplier{}, fmt.Errorf("insert supplier: %w", err)
	}
	return Supplier{ID: id, UserID: owner, Name: in.Name, Phone: in.Phone, Email: in.Email, Address: in.Address, CreatedAt: now}, nil
}

func (r *Repository) Get(ctx context.Context, owner, id int64) (Supplier, error) {
	s, err := scanSupplier(r.db.QueryRowContext(ctx, r.db.Rebind(query.SupplierByID), id, owner))
	if errors.Is(err, sql.ErrNoRows) {
		return Supplier{}, ErrNotFound
	}
	if err != nil {
		return Supplier{}, fmt.Errorf("load supplier: %w", err)
	}
	return s, nil
}

// List returns suppliers ordered by name.
func (r *Repository) List(ctx context.Context, owner int64) ([]Supplier, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query.SupplierList), owner)
	if err != nil {
		return nil, fmt.Errorf("list suppliers: %w", err)
	}
	defer rows.Close()

	out := make([]Supplier, 0)
	for rows.Next() {
		s, err := scanSupplier(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) Update(ctx context.Context, owner, id int64, in Input) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query.SupplierUpdate), in.Name, in.Phone, in.Email, in.Address, id, owner)
	if err != nil {
		return fmt.Errorf("update supplier: %w", err)
	}
	return affected(res)
}

// Delete removes the supplier; products pointing at it lose the reference.
func (r *Repository) Delete(ctx context.Context, owner, id int64) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query.SupplierDelete), id, owner)
	if err != nil {
		return fmt.Errorf("delete supplier: %w", err)
	}
	return affected(res)
}

func affected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Service validates supplier input before it reaches the repository.
type Service struct {
	repo   *Repository
	logger *log.Logger
}

func NewService(repo *Repository, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(os.Stdout, "[storefront] ", log.LstdFlags)
	}
	return &Service{repo: repo, logger: logger}
}

func validate(in Input) (Input, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Email = strings.TrimSpace(in.Email)
	in.Address = strings.TrimSpace(in.Address)
	if in.Name == "" {
		return in, validationError{"name is required"}
	}
	if in.Email != "" {
		if _, err := mail.ParseAddress(in.Email); err != nil {
			return in, validationError{"email is not valid"}
		}
	}
	return in, nil
}

func (s *Service) Create(ctx context.Context, owner int64, in Input) (Supplier, error) {
	in, err := validate(in)
	if err != nil {
		return Supplier{}, err
	}
	stored, err := s.repo.Save(ctx, owner, in)
	if err != nil {
		return Supplier{}, err
	}
	s.logger.Printf("supplier %d (%s) created for user %d", stored.ID, stored.Name, owner)
	return stored, nil
}

func (s *Service) Get(ctx context.Context, owner, id int64) (Supplier, error) {
	return s.repo.Get(ctx, owner, id)
}

func (s *Service) List(ctx context.Context, owner int64) ([]Supplier, error) {
	return s.repo.List(ctx, owner)
}

func (s *Service) Update(ctx context.Context, owner, id int64, in Input) (Supplier, error) {
	in, err := validate(in)
	if err != nil {
		return Supplier{}, err
	}
	if err := s.repo.Update(ctx, owner, id, in); err != nil {
		return Supplier{}, err
	}
	s.logger.Printf("supplier %d updated for user %d", id, owner)
	return s.repo.Get(ctx, owner, id)
}

func (s *Service) Delete(ctx context.Context, owner, id int64) error {
	if err := s.repo.Delete(ctx, owner, id); err != nil {
		return err
	}
	s.logger.Printf("supplier %d deleted for user %d", id, owner)
	return nil
}

// Exists lets the catalogue check supplier references without loading the row.
func (s *Service) Exists(ctx context.Context, owner, id int64) (bool, error) {
	_, err := s.repo.Get(ctx, owner, id)
	switch {
	case errors.Is(err, ErrNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}
