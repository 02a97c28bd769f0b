package httpapi

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"
	"golang.org/x/crypto/bcrypt"

	"storefront/pkg/auth"
	"storefront/pkg/billing"
	"storefront/pkg/dashboard"
	"storefront/pkg/inventory"
	"storefront/pkg/sales"
	"storefront/pkg/storage"
	"storefront/pkg/supplier"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type APISuite struct {
	suite.Suite

	db       *storage.DB
	products *inventory.Repository
	handler  http.Handler
	token    string
}

func TestAPISuite(t *testing.T) {
	suite.Run(t, new(APISuite))
}

func (s *APISuite) SetupTest() {
	ctx := context.Background()
	db, err := storage.Open(ctx, storage.Config{Dialect: storage.Memory, LockTimeout: 100 * time.Millisecond})
	s.Require().NoError(err)
	s.Require().NoError(db.Migrate(ctx))
	s.db = db

	quiet := log.New(io.Discard, "", 0)
	s.products = inventory.NewRepository(db)
	salesRepo := sales.NewRepository(db)
	dash := dashboard.NewService(s.products, salesRepo, nil, 5, quiet)
	suppliers := supplier.NewService(supplier.NewRepository(db), quiet)

	srv := New(Services{
		Auth:      auth.NewService(auth.NewRepository(db), time.Hour, quiet, auth.WithBcryptCost(bcrypt.MinCost)),
		Products:  inventory.NewService(s.products, suppliers, dash, quiet),
		Suppliers: suppliers,
		Billing:   billing.NewService(db, s.products, salesRepo, dash, quiet),
		Sales:     sales.NewService(salesRepo),
		Dashboard: dash,
		Store:     db,
	}, quiet, WithAuthRate(0))
	s.handler = srv.Handler()
	s.token = s.signUp("owner@example.com")
}

func (s *APISuite) TearDownTest() {
	s.Require().NoError(s.db.Close())
}

func (s *APISuite) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *APISuite) decode(rec *httptest.ResponseRecorder, v any) {
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func (s *APISuite) message(rec *httptest.ResponseRecorder) string {
	var body struct {
		Message string `json:"message"`
	}
	s.decode(rec, &body)
	return body.Message
}

func (s *APISuite) signUp(email string) string {
	rec := s.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "Owner", "email": email, "password": "secret-pass", "shop_name": "Shop",
	})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": email, "password": "secret-pass"})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var session struct {
		Token string `json:"token"`
	}
	s.decode(rec, &session)
	s.Require().NotEmpty(session.Token)
	return session.Token
}

func (s *APISuite) createProduct(token, name string, price string, stock int) int64 {
	rec := s.do(http.MethodPost, "/api/products", token, map[string]any{"name": name, "price": price, "stock": stock})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var p struct {
		ID int64 `json:"id"`
	}
	s.decode(rec, &p)
	return p.ID
}

func (s *APISuite) stock(token string, id int64) int {
	rec := s.do(http.MethodGet, "/api/products/"+strconv.FormatInt(id, 10), token, nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var p struct {
		Stock int `json:"stock"`
	}
	s.decode(rec, &p)
	return p.Stock
}

func (s *APISuite) TestHealth() {
	rec := s.do(http.MethodGet, "/health", "", nil)
	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"status":"ok"}`, rec.Body.String())
}

func (s *APISuite) TestProtectedRoutesNeedToken() {
	for _, path := range []string{"/api/products", "/api/dashboard", "/api/sales", "/api/auth/me"} {
		rec := s.do(http.MethodGet, path, "", nil)
		s.Equal(http.StatusUnauthorized, rec.Code, path)

		rec = s.do(http.MethodGet, path, "bogus", nil)
		s.Equal(http.StatusUnauthorized, rec.Code, path)
	}
	rec := s.do(http.MethodPost, "/api/billing/confirm", "", map[string]any{"items": []any{}})
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *APISuite) TestAccountFlow() {
	rec := s.do(http.MethodGet, "/api/auth/me", s.token, nil)
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `"email":"owner@example.com"`)
	s.NotContains(rec.Body.String(), "password")

	rec = s.do(http.MethodPut, "/api/auth/me", s.token, map[string]string{"name": "Renamed", "shop_name": "New Shop"})
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `"shop_name":"New Shop"`)

	rec = s.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "Dup", "email": "OWNER@example.com", "password": "secret-pass",
	})
	s.Equal(http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "owner@example.com", "password": "nope-nope"})
	s.Equal(http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/api/auth/register", "", `{"name":`)
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "Long", "email": "long@example.com", "password": strings.Repeat("x", 80),
	})
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal("password must be at most 72 bytes", s.message(rec))

	rec = s.do(http.MethodPost, "/api/auth/logout", s.token, nil)
	s.Equal(http.StatusNoContent, rec.Code)
	rec = s.do(http.MethodGet, "/api/auth/me", s.token, nil)
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *APISuite) TestProductCRUD() {
	rec := s.do(http.MethodPost, "/api/products", s.token, map[string]any{
		"name": "Coffee", "barcode": "8711000", "price": 7.5, "stock": 3,
	})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var p struct {
		ID    int64  `json:"id"`
		Price string `json:"price"`
	}
	s.decode(rec, &p)
	s.Equal("7.5", p.Price)
	path := "/api/products/" + strconv.FormatInt(p.ID, 10)

	rec = s.do(http.MethodGet, "/api/products/barcode/8711000", s.token, nil)
	s.Equal(http.StatusOK, rec.Code)

	rec = s.do(http.MethodPost, "/api/products", s.token, map[string]any{"name": "Copy", "barcode": "8711000", "price": 1})
	s.Equal(http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/api/products", s.token, map[string]any{"name": "", "price": 1})
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPut, path, s.token, map[string]any{"name": "Coffee beans", "barcode": "8711000", "price": "8.25", "stock": 10})
	s.Equal(http.StatusOK, rec.Code, rec.Body.String())
	s.Equal(10, s.stock(s.token, p.ID))

	rec = s.do(http.MethodGet, "/api/products/abc", s.token, nil)
	s.Equal(http.StatusBadRequest, rec.Code)

	other := s.signUp("other@example.com")
	rec = s.do(http.MethodGet, path, other, nil)
	s.Equal(http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodDelete, path, s.token, nil)
	s.Equal(http.StatusNoContent, rec.Code)
	rec = s.do(http.MethodGet, path, s.token, nil)
	s.Equal(http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/api/products?archived=true", s.token, nil)
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "Coffee beans")

	rec = s.do(http.MethodPost, path+"/restore", s.token, nil)
	s.Equal(http.StatusOK, rec.Code)
	s.Equal(10, s.stock(s.token, p.ID))
}

func (s *APISuite) TestSuppliers() {
	rec := s.do(http.MethodPost, "/api/suppliers", s.token, map[string]string{"name": "Wholesale", "email": "sales@wholesale.example"})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var sup struct {
		ID int64 `json:"id"`
	}
	s.decode(rec, &sup)

	rec = s.do(http.MethodPost, "/api/products", s.token, map[string]any{"name": "Flour", "price": "1", "supplier_id": sup.ID})
	s.Equal(http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/api/products", s.token, map[string]any{"name": "Sugar", "price": "1", "supplier_id": sup.ID + 1})
	s.Equal(http.StatusBadRequest, rec.Code)

	path := "/api/suppliers/" + strconv.FormatInt(sup.ID, 10)
	rec = s.do(http.MethodPut, path, s.token, map[string]string{"name": "Wholesale Ltd"})
	s.Equal(http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/suppliers", s.token, nil)
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "Wholesale Ltd")

	rec = s.do(http.MethodDelete, path, s.token, nil)
	s.Equal(http.StatusNoContent, rec.Code)
	rec = s.do(http.MethodGet, path, s.token, nil)
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *APISuite) TestConfirmBill() {
	milk := s.createProduct(s.token, "Milk", "50", 10)
	bread := s.createProduct(s.token, "Bread", "2.25", 4)

	rec := s.do(http.MethodPost, "/api/billing/confirm", s.token, map[string]any{
		"items": []map[string]any{
			{"product_id": milk, "quantity": 3},
			{"product_id": bread, "quantity": 2},
		},
	})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var receipt struct {
		Message string `json:"message"`
		BillID  string `json:"bill_id"`
		Total   string `json:"total"`
		Items   []struct {
			ProductID int64  `json:"product_id"`
			Quantity  int    `json:"quantity"`
			Status    string `json:"status"`
			BillID    string `json:"bill_id"`
		} `json:"items"`
	}
	s.decode(rec, &receipt)
	s.Equal("Bill confirmed", receipt.Message)
	s.True(strings.HasPrefix(receipt.BillID, "BILL-"))
	s.Equal("154.5", receipt.Total)
	s.Require().Len(receipt.Items, 2)
	for _, it := range receipt.Items {
		s.Equal(receipt.BillID, it.BillID)
		s.Equal("PAID", it.Status)
	}
	s.Equal(7, s.stock(s.token, milk))
	s.Equal(2, s.stock(s.token, bread))

	rec = s.do(http.MethodGet, "/api/sales/bills/"+receipt.BillID, s.token, nil)
	s.Equal(http.StatusOK, rec.Code)
	rec = s.do(http.MethodGet, "/api/sales/bills/BILL-unknown", s.token, nil)
	s.Equal(http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/api/sales", s.token, nil)
	s.Equal(http.StatusOK, rec.Code)
	var list []json.RawMessage
	s.decode(rec, &list)
	s.Len(list, 2)

	rec = s.do(http.MethodGet, "/api/dashboard", s.token, nil)
	s.Equal(http.StatusOK, rec.Code)
	var summary struct {
		Products int `json:"total_products"`
		Units    int `json:"total_units"`
		LowStock int `json:"low_stock"`
	}
	s.decode(rec, &summary)
	s.Equal(2, summary.Products)
	s.Equal(9, summary.Units)
	s.Equal(1, summary.LowStock)
}

func (s *APISuite) TestConfirmBillRejections() {
	milk := s.createProduct(s.token, "Milk", "50", 10)

	cases := []struct {
		name    string
		body    any
		message string
	}{
		{"no items", map[string]any{}, "items must be a non-empty array"},
		{"empty items", map[string]any{"items": []any{}}, "items must be a non-empty array"},
		{"items not array", map[string]any{"items": "milk"}, "items must be a non-empty array"},
		{"zero quantity", map[string]any{"items": []map[string]any{{"product_id": milk, "quantity": 0}}},
			"Invalid item at line 1: quantity must be a positive integer"},
		{"fractional quantity", `{"items":[{"product_id":` + strconv.FormatInt(milk, 10) + `,"quantity":1.5}]}`,
			"Invalid item at line 1: quantity must be a positive integer"},
		{"string quantity", map[string]any{"items": []map[string]any{{"product_id": milk, "quantity": "2"}}},
			"Invalid item at line 1: quantity must be a positive integer"},
		{"missing product", map[string]any{"items": []map[string]any{{"quantity": 1}}},
			"Invalid item at line 1: product_id is required"},
		{"unknown product", map[string]any{"items": []map[string]any{{"product_id": milk, "quantity": 1}, {"product_id": 9999, "quantity": 1}}},
			"Product 9999 not found (line 2)"},
		{"too many", map[string]any{"items": []map[string]any{{"product_id": milk, "quantity": 11}}},
			"Insufficient stock for Milk (product " + strconv.FormatInt(milk, 10) + "): requested 11, only 10 left"},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			rec := s.do(http.MethodPost, "/api/billing/confirm", s.token, tc.body)
			s.Equal(http.StatusBadRequest, rec.Code, rec.Body.String())
			s.Equal(tc.message, s.message(rec))
		})
	}
	s.Equal(10, s.stock(s.token, milk))

	rec := s.do(http.MethodPost, "/api/billing/confirm", s.token, `{"items":`)
	s.Equal(http.StatusBadRequest, rec.Code)

	huge := `{"items":[` + strings.Repeat(`{"product_id":1,"quantity":1},`, 40000) + `{"product_id":1,"quantity":1}]}`
	rec = s.do(http.MethodPost, "/api/billing/confirm", s.token, huge)
	s.Equal(http.StatusRequestEntityTooLarge, rec.Code)
	s.Equal(10, s.stock(s.token, milk))

	rec = s.do(http.MethodPost, "/api/products", s.token, `{"name":"`+strings.Repeat("n", 2<<20)+`"}`)
	s.Equal(http.StatusRequestEntityTooLarge, rec.Code)
}

func (s *APISuite) TestConfirmBillStoreFailure() {
	milk := s.createProduct(s.token, "Milk", "50", 10)

	rec := s.do(http.MethodGet, "/api/auth/me", s.token, nil)
	var me struct {
		ID int64 `json:"id"`
	}
	s.decode(rec, &me)

	// Hold the row lock so the checkout gives up waiting.
	tx, err := s.db.BeginTx(context.Background(), &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	s.Require().NoError(err)
	_, err = s.products.Scope(tx, me.ID).LockForSale(context.Background(), milk)
	s.Require().NoError(err)

	rec = s.do(http.MethodPost, "/api/billing/confirm", s.token, map[string]any{
		"items": []map[string]any{{"product_id": milk, "quantity": 1}},
	})
	s.Equal(http.StatusInternalServerError, rec.Code)
	s.Equal("Billing failed, please try again", s.message(rec))

	s.Require().NoError(tx.Rollback())
	s.Equal(10, s.stock(s.token, milk))
}

func TestAuthRateLimit(t *testing.T) {
	db, err := storage.Open(context.Background(), storage.Config{Dialect: storage.Memory})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	quiet := log.New(io.Discard, "", 0)
	srv := New(Services{Auth: auth.NewService(auth.NewRepository(db), time.Hour, quiet, auth.WithBcryptCost(bcrypt.MinCost))},
		quiet, WithAuthRate(2))
	h := srv.Handler()

	login := func(ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"email":"x@example.com","password":"whatever1"}`))
		req.RemoteAddr = ip + ":4321"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	codes := []int{login("192.0.2.1"), login("192.0.2.1"), login("192.0.2.1")}
	if codes[0] != http.StatusUnauthorized || codes[1] != http.StatusUnauthorized {
		t.Fatalf("first attempts should reach the handler, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("third attempt should be limited, got %d", codes[2])
	}
	if got := login("192.0.2.2"); got != http.StatusUnauthorized {
		t.Fatalf("other clients keep their own budget, got %d", got)
	}
}

func TestIPLimiterSweepsIdleVisitors(t *testing.T) {
	l := newIPLimiter(1, time.Minute)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	if !l.allow("a") {
		t.Fatal("first request must pass")
	}
	if l.allow("a") {
		t.Fatal("second request within the minute must be limited")
	}
	now = now.Add(2 * time.Minute)
	if !l.allow("b") {
		t.Fatal("new visitor must pass")
	}
	if _, ok := l.visitors["a"]; ok {
		t.Fatal("idle visitor should have been swept")
	}
}

func TestHealthReportsStoreOutage(t *testing.T) {
	srv := New(Services{Store: failingPinger{}}, log.New(io.Discard, "", 0))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

type failingPinger struct{}

func (failingPinger) PingContext(context.Context) error { return errors.New("down") }
