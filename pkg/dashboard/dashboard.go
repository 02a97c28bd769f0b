// Package dashboard builds the per-shop overview: catalogue health and sales figures.
package dashboard

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"storefront/pkg/inventory"
	"storefront/pkg/sales"
)

const recentLimit = 5

// Summary is the dashboard payload.
type Summary struct {
	Products          int             `json:"total_products"`
	Units             int             `json:"total_units"`
	LowStock          int             `json:"low_stock"`
	OutOfStock        int             `json:"out_of_stock"`
	LowStockThreshold int             `json:"low_stock_threshold"`
	Today             sales.Totals    `json:"today"`
	AllTimeRevenue    decimal.Decimal `json:"all_time_revenue"`
	RecentSales       []sales.Sale    `json:"recent_sales"`
	GeneratedAt       time.Time       `json:"generated_at"`
}

// Service computes summaries and keeps the optional cache honest.
type Service struct {
	products *inventory.Repository
	sales    *sales.Repository
	cache    Cache
	lowStock int
	now      func() time.Time
	logger   *log.Logger
}

// NewService builds the dashboard. cache may be nil.
func NewService(products *inventory.Repository, salesRepo *sales.Repository, cache Cache, lowStock int, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(os.Stdout, "[storefront] ", log.LstdFlags)
	}
	return &Service{
		products: products,
		sales:    salesRepo,
		cache:    cache,
		lowStock: lowStock,
		now:      time.Now,
		logger:   logger,
	}
}

// Summary returns the cached overview or computes a fresh one.
// Cache errors are logged and bypassed.
func (s *Service) Summary(ctx context.Context, owner int64) (Summary, error) {
	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, owner)
		if err != nil {
			s.logger.Printf("dashboard cache read failed for user %d: %v", owner, err)
		} else if ok {
			return cached, nil
		}
	}

	summary, err := s.compute(ctx, owner)
	if err != nil {
		return Summary{}, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, owner, summary); err != nil {
			s.logger.Printf("dashboard cache write failed for user %d: %v", owner, err)
		}
	}
	return summary, nil
}

func (s *Service) compute(ctx context.Context, owner int64) (Summary, error) {
	stats, err := s.products.Scope(nil, owner).Stats(ctx, s.lowStock)
	if err != nil {
		return Summary{}, err
	}
	journal := s.sales.Scope(nil, owner)

	now := s.now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	today, err := journal.TotalsSince(ctx, midnight)
	if err != nil {
		return Summary{}, err
	}
	allTime, err := journal.TotalsSince(ctx, time.Unix(0, 0))
	if err != nil {
		return Summary{}, err
	}
	recent, err := journal.Recent(ctx, recentLimit)
	if err != nil {
		return Summary{}, err
	}

	return Summary{
		Products:          stats.Products,
		Units:             stats.Units,
		LowStock:          stats.LowStock,
		OutOfStock:        stats.OutOfStock,
		LowStockThreshold: s.lowStock,
		Today:             today,
		AllTimeRevenue:    allTime.Revenue,
		RecentSales:       recent,
		GeneratedAt:       now,
	}, nil
}

// Invalidate drops the cached summary of owner after a stock or sales change.
func (s *Service) Invalidate(ctx context.Context, owner int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, owner); err != nil {
		s.logger.Printf("dashboard cache invalidation failed for user %d: %v", owner, err)
	}
}
