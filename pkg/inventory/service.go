package inventory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
)

// SupplierChecker confirms that a supplier id belongs to the owner.
type SupplierChecker interface {
	Exists(ctx context.Context, owner, id int64) (bool, error)
}

// Invalidator is told whenever an owner's catalogue changes.
type Invalidator interface {
	Invalidate(ctx context.Context, owner int64)
}

// Service applies catalogue rules on top of the owner-scoped ledger.
type Service struct {
	repo        *Repository
	suppliers   SupplierChecker
	invalidator Invalidator
	logger      *log.Logger
}

// NewService builds the catalogue service. suppliers and invalidator may be nil.
func NewService(repo *Repository, suppliers SupplierChecker, invalidator Invalidator, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(os.Stdout, "[storefront] ", log.LstdFlags)
	}
	return &Service{repo: repo, suppliers: suppliers, invalidator: invalidator, logger: logger}
}

func normalize(in Input) Input {
	in.Name = strings.TrimSpace(in.Name)
	in.Barcode = strings.TrimSpace(in.Barcode)
	in.Category = strings.TrimSpace(in.Category)
	return in
}

func (s *Service) validate(ctx context.Context, owner int64, in Input) error {
	if in.Name == "" {
		return newValidationError("name is required")
	}
	if len(in.Name) > 255 {
		return newValidationError("name must be at most 255 characters")
	}
	if in.Price.IsNegative() {
		return newValidationError("price must not be negative")
	}
	if in.Stock < 0 {
		return newValidationError("stock must not be negative")
	}
	if in.SupplierID != nil {
		if s.suppliers == nil {
			return newValidationError("suppliers are not available")
		}
		ok, err := s.suppliers.Exists(ctx, owner, *in.SupplierID)
		if err != nil {
			return fmt.Errorf("check supplier: %w", err)
		}
		if !ok {
			return newValidationError(fmt.Sprintf("supplier %d does not exist", *in.SupplierID))
		}
	}
	return nil
}

// barcodeFree reports ErrBarcodeTaken when an active product other than self already uses barcode.
func (s *Service) barcodeFree(ctx context.Context, ledger *Ledger, barcode string, self int64) error {
	if barcode == "" {
		return nil
	}
	existing, err := ledger.GetByBarcode(ctx, barcode)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil
	case err != nil:
		return err
	case existing.ID != self:
		return ErrBarcodeTaken
	}
	return nil
}

func (s *Service) changed(ctx context.Context, owner int64) {
	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, owner)
	}
}

// Create adds a product to the owner's catalogue.
func (s *Service) Create(ctx context.Context, owner int64, in Input) (Product, error) {
	in = normalize(in)
	if err := s.validate(ctx, owner, in); err != nil {
		return Product{}, err
	}
	ledger := s.repo.Scope(nil, owner)
	if err := s.barcodeFree(ctx, ledger, in.Barcode, 0); err != nil {
		return Product{}, err
	}
	p, err := ledger.Create(ctx, in)
	if err != nil {
		return Product{}, err
	}
	s.changed(ctx, owner)
	s.logger.Printf("product %d (%s) created for user %d with %d units", p.ID, p.Name, owner, p.Stock)
	return p, nil
}

// Get returns an active product.
func (s *Service) Get(ctx context.Context, owner, id int64) (Product, error) {
	return s.repo.Scope(nil, owner).Get(ctx, id, false)
}

// GetByBarcode resolves a scanned barcode to an active product.
func (s *Service) GetByBarcode(ctx context.Context, owner int64, barcode string) (Product, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return Product{}, newValidationError("barcode is required")
	}
	return s.repo.Scope(nil, owner).GetByBarcode(ctx, barcode)
}

// List returns the active catalogue, or the archive when archived is true.
func (s *Service) List(ctx context.Context, owner int64, archived bool) ([]Product, error) {
	return s.repo.Scope(nil, owner).List(ctx, archived)
}

// Update replaces the editable fields of an active product and returns the stored result.
func (s *Service) Update(ctx context.Context, owner, id int64, in Input) (Product, error) {
	in = normalize(in)
	if err := s.validate(ctx, owner, in); err != nil {
		return Product{}, err
	}
	ledger := s.repo.Scope(nil, owner)
	if err := s.barcodeFree(ctx, ledger, in.Barcode, id); err != nil {
		return Product{}, err
	}
	if err := ledger.Update(ctx, id, in); err != nil {
		return Product{}, err
	}
	s.changed(ctx, owner)
	s.logger.Printf("product %d updated for user %d: stock %d, price %s", id, owner, in.Stock, in.Price)
	return ledger.Get(ctx, id, false)
}

// Archive soft-deletes a product; past sales keep referring to it.
func (s *Service) Archive(ctx context.Context, owner, id int64) error {
	if err := s.repo.Scope(nil, owner).SetArchived(ctx, id, true); err != nil {
		return err
	}
	s.changed(ctx, owner)
	s.logger.Printf("product %d archived for user %d", id, owner)
	return nil
}

// Restore brings an archived product back unless its barcode has been reused meanwhile.
func (s *Service) Restore(ctx context.Context, owner, id int64) (Product, error) {
	ledger := s.repo.Scope(nil, owner)
	archived, err := ledger.Get(ctx, id, true)
	if err != nil {
		return Product{}, err
	}
	if err := s.barcodeFree(ctx, ledger, archived.Barcode, id); err != nil {
		return Product{}, err
	}
	if err := ledger.SetArchived(ctx, id, false); err != nil {
		return Product{}, err
	}
	s.changed(ctx, owner)
	s.logger.Printf("product %d restored for user %d", id, owner)
	return ledger.Get(ctx, id, false)
}
