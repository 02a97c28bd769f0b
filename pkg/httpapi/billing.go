package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"storefront/pkg/billing"
)

type billResponse struct {
	Message string          `json:"message"`
	BillID  string          `json:"bill_id"`
	Total   decimal.Decimal `json:"total"`
	Items   any             `json:"items"`
}

// confirmBill only checks that items is a non-empty array. Every line rule
// lives in the executor, so malformed lines are passed on as zero values and
// rejected there with their line number.
func (s *Server) confirmBill(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Items any `json:"items"`
	}
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.UseNumber()
	if !s.decodeWith(w, r, &payload, decoder) {
		return
	}
	items, ok := payload.Items.([]any)
	if !ok || len(items) == 0 {
		s.respondError(w, "items must be a non-empty array", http.StatusBadRequest)
		return
	}

	lines := make([]billing.Line, len(items))
	for i, item := range items {
		lines[i] = toLine(item)
	}

	owner := userID(r.Context())
	receipt, err := s.svc.Billing.Confirm(r.Context(), owner, lines)
	if err != nil {
		if billing.IsBusiness(err) {
			s.respondError(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.logger.Printf("billing failed for user %d [%s]: %v", owner, middleware.GetReqID(r.Context()), err)
		s.respondError(w, "Billing failed, please try again", http.StatusInternalServerError)
		return
	}
	s.respondJSON(w, http.StatusCreated, billResponse{
		Message: "Bill confirmed",
		BillID:  receipt.BillID,
		Total:   receipt.Total,
		Items:   receipt.Items,
	})
}

func toLine(item any) billing.Line {
	fields, ok := item.(map[string]any)
	if !ok {
		return billing.Line{}
	}
	return billing.Line{
		ProductID: wholeNumber(fields["product_id"]),
		Quantity:  int(wholeNumber(fields["quantity"])),
	}
}

// wholeNumber returns v as an integer, or 0 for anything that is not a JSON integer.
func wholeNumber(v any) int64 {
	n, ok := v.(json.Number)
	if !ok {
		return 0
	}
	i, err := n.Int64()
	if err != nil {
		return 0
	}
	return i
}

func (s *Server) listSales(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Sales.List(r.Context(), userID(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, list)
}

func (s *Server) getBill(w http.ResponseWriter, r *http.Request) {
	bill, err := s.svc.Sales.Bill(r.Context(), userID(r.Context()), chi.URLParam(r, "billID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, bill)
}

func (s *Server) dashboard(w http.ResponseWriter, r *http.Request) {
	summary, err := s.svc.Dashboard.Summary(r.Context(), userID(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, summary)
}
