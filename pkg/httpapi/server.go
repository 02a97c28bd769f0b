package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"storefront/pkg/auth"
	"storefront/pkg/billing"
	"storefront/pkg/dashboard"
	"storefront/pkg/inventory"
	"storefront/pkg/sales"
	"storefront/pkg/supplier"
)

// Pinger reports whether the store is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Services bundles everything the handlers call into.
type Services struct {
	Auth      *auth.Service
	Products  *inventory.Service
	Suppliers *supplier.Service
	Billing   *billing.Service
	Sales     *sales.Service
	Dashboard *dashboard.Service
	Store     Pinger
}

// Server wires HTTP endpoints to the domain services.
type Server struct {
	svc         Services
	authLimiter *ipLimiter
	timeout     time.Duration
	logger      *log.Logger
}

// Option tunes a Server.
type Option func(*Server)

// WithAuthRate limits login and register attempts per client IP to perMinute, with an equal burst.
// Zero disables the limit.
func WithAuthRate(perMinute int) Option {
	return func(s *Server) {
		if perMinute <= 0 {
			s.authLimiter = nil
			return
		}
		s.authLimiter = newIPLimiter(perMinute, 10*time.Minute)
	}
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

// New prepares the server.
func New(svc Services, logger *log.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = log.New(os.Stdout, "[storefront] ", log.LstdFlags)
	}
	s := &Server{
		svc:         svc,
		authLimiter: newIPLimiter(20, 10*time.Minute),
		timeout:     15 * time.Second,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler exposes the JSON API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: s.logger, NoColor: true}))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))

	r.Get("/health", s.health)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if s.authLimiter != nil {
				r.Use(s.authLimiter.middleware)
			}
			r.Post("/auth/register", s.register)
			r.Post("/auth/login", s.login)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireUser)

			r.Post("/auth/logout", s.logout)
			r.Get("/auth/me", s.profile)
			r.Put("/auth/me", s.updateProfile)

			r.Get("/products", s.listProducts)
			r.Post("/products", s.createProduct)
			r.Get("/products/barcode/{code}", s.productByBarcode)
			r.Get("/products/{id}", s.getProduct)
			r.Put("/products/{id}", s.updateProduct)
			r.Delete("/products/{id}", s.archiveProduct)
			r.Post("/products/{id}/restore", s.restoreProduct)

			r.Get("/suppliers", s.listSuppliers)
			r.Post("/suppliers", s.createSupplier)
			r.Get("/suppliers/{id}", s.getSupplier)
			r.Put("/suppliers/{id}", s.updateSupplier)
			r.Delete("/suppliers/{id}", s.deleteSupplier)

			r.Post("/billing/confirm", s.confirmBill)

			r.Get("/sales", s.listSales)
			r.Get("/sales/bills/{billID}", s.getBill)

			r.Get("/dashboard", s.dashboard)
		})
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.svc.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.svc.Store.PingContext(ctx); err != nil {
			s.logger.Printf("health check failed: %v", err)
			s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// respondJSON writes v with the given status.
func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Printf("response encoding failed: %v", err)
	}
}

// respondError keeps the error body shape identical across endpoints.
func (s *Server) respondError(w http.ResponseWriter, message string, status int) {
	s.respondJSON(w, status, map[string]string{"message": message})
}

// fail maps a service error onto a status code. Unknown errors are logged and hidden.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case inventory.IsValidation(err), supplier.IsValidation(err), auth.IsValidation(err):
		s.respondError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, inventory.ErrNotFound),
		errors.Is(err, supplier.ErrNotFound),
		errors.Is(err, sales.ErrBillNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		s.respondError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, inventory.ErrBarcodeTaken), errors.Is(err, auth.ErrEmailTaken):
		s.respondError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrUnauthorized):
		s.respondError(w, err.Error(), http.StatusUnauthorized)
	default:
		s.logger.Printf("%s %s failed [%s]: %v", r.Method, r.URL.Path, middleware.GetReqID(r.Context()), err)
		s.respondError(w, "Internal server error", http.StatusInternalServerError)
	}
}

// maxBodyBytes caps every JSON request body.
const maxBodyBytes = 1 << 20

// decode reads a JSON body into v, answering 400 or 413 itself on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	return s.decodeWith(w, r, v, json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)))
}

func (s *Server) decodeWith(w http.ResponseWriter, r *http.Request, v any, decoder *json.Decoder) bool {
	if err := decoder.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, "request body too large", http.StatusRequestEntityTooLarge)
			return false
		}
		s.logger.Printf("%s %s: unable to decode payload: %v", r.Method, r.URL.Path, err)
		s.respondError(w, "invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

// pathID parses a positive integer URL parameter, answering 400 itself on failure.
func (s *Server) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		s.respondError(w, "invalid "+name, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
