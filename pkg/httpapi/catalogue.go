package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"storefront/pkg/inventory"
	"storefront/pkg/supplier"
)

// productPayload accepts price as a JSON number or string.
type productPayload struct {
	Name       string          `json:"name"`
	Barcode    string          `json:"barcode"`
	Category   string          `json:"category"`
	Price      decimal.Decimal `json:"price"`
	Stock      int             `json:"stock"`
	SupplierID *int64          `json:"supplier_id"`
}

func (p productPayload) input() inventory.Input {
	return inventory.Input{
		Name:       p.Name,
		Barcode:    p.Barcode,
		Category:   p.Category,
		Price:      p.Price,
		Stock:      p.Stock,
		SupplierID: p.SupplierID,
	}
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	archived, _ := strconv.ParseBool(r.URL.Query().Get("archived"))
	products, err := s.svc.Products.List(r.Context(), userID(r.Context()), archived)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, products)
}

func (s *Server) createProduct(w http.ResponseWriter, r *http.Request) {
	var payload productPayload
	if !s.decode(w, r, &payload) {
		return
	}
	product, err := s.svc.Products.Create(r.Context(), userID(r.Context()), payload.input())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, product)
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	product, err := s.svc.Products.Get(r.Context(), userID(r.Context()), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, product)
}

func (s *Server) productByBarcode(w http.ResponseWriter, r *http.Request) {
	product, err := s.svc.Products.GetByBarcode(r.Context(), userID(r.Context()), chi.URLParam(r, "code"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, product)
}

func (s *Server) updateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var payload productPayload
	if !s.decode(w, r, &payload) {
		return
	}
	product, err := s.svc.Products.Update(r.Context(), userID(r.Context()), id, payload.input())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, product)
}

func (s *Server) archiveProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.svc.Products.Archive(r.Context(), userID(r.Context()), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) restoreProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	product, err := s.svc.Products.Restore(r.Context(), userID(r.Context()), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, product)
}

type supplierPayload struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
	Address string `json:"address"`
}

func (p supplierPayload) input() supplier.Input {
	return supplier.Input{Name: p.Name, Phone: p.Phone, Email: p.Email, Address: p.Address}
}

func (s *Server) listSuppliers(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Suppliers.List(r.Context(), userID(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, list)
}

func (s *Server) createSupplier(w http.ResponseWriter, r *http.Request) {
	var payload supplierPayload
	if !s.decode(w, r, &payload) {
		return
	}
	created, err := s.svc.Suppliers.Create(r.Context(), userID(r.Context()), payload.input())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, created)
}

func (s *Server) getSupplier(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	found, err := s.svc.Suppliers.Get(r.Context(), userID(r.Context()), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, found)
}

func (s *Server) updateSupplier(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var payload supplierPayload
	if !s.decode(w, r, &payload) {
		return
	}
	updated, err := s.svc.Suppliers.Update(r.Context(), userID(r.Context()), id, payload.input())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteSupplier(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.svc.Suppliers.Delete(r.Context(), userID(r.Context()), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
