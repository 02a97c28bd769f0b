package dashboard

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"storefront/pkg/inventory"
	"storefront/pkg/sales"
	"storefront/pkg/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[int64]Summary
	gets    int
	fail    error
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[int64]Summary)}
}

func (c *memoryCache) Get(_ context.Context, owner int64) (Summary, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.fail != nil {
		return Summary{}, false, c.fail
	}
	s, ok := c.entries[owner]
	return s, ok, nil
}

func (c *memoryCache) Set(_ context.Context, owner int64, s Summary) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.entries[owner] = s
	return nil
}

func (c *memoryCache) Delete(_ context.Context, owner int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, owner)
	return c.fail
}

type env struct {
	products *inventory.Repository
	sales    *sales.Repository
}

func newEnv(t *testing.T) env {
	t.Helper()
	db, err := storage.Open(context.Background(), storage.Config{Dialect: storage.Memory})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return env{products: inventory.NewRepository(db), sales: sales.NewRepository(db)}
}

func (e env) product(t *testing.T, owner int64, stock int) {
	t.Helper()
	_, err := e.products.Scope(nil, owner).Create(context.Background(), inventory.Input{Name: "p", Price: decimal.NewFromInt(1), Stock: stock})
	require.NoError(t, err)
}

func (e env) sale(t *testing.T, owner int64, bill string, qty int, total string, at time.Time) {
	t.Helper()
	_, err := e.sales.Scope(nil, owner).Append(context.Background(), sales.Sale{
		ProductID: 1, ProductName: "p", Quantity: qty, BillID: bill, CreatedAt: at,
		UnitPrice: decimal.NewFromInt(1), TotalPrice: decimal.RequireFromString(total),
	})
	require.NoError(t, err)
}

func TestSummaryFigures(t *testing.T) {
	e := newEnv(t)
	now := time.Date(2024, 5, 10, 15, 30, 0, 0, time.UTC)
	midnight := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)

	for _, stock := range []int{0, 3, 20} {
		e.product(t, 1, stock)
	}
	e.product(t, 2, 1)
	e.sale(t, 1, "BILL-yesterday", 5, "50", midnight.Add(-time.Second))
	e.sale(t, 1, "BILL-today", 2, "7.50", midnight.Add(time.Hour))
	e.sale(t, 1, "BILL-today", 1, "2.50", midnight.Add(time.Hour))

	svc := NewService(e.products, e.sales, nil, 3, log.New(io.Discard, "", 0))
	svc.now = func() time.Time { return now }

	s, err := svc.Summary(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Products)
	assert.Equal(t, 23, s.Units)
	assert.Equal(t, 2, s.LowStock)
	assert.Equal(t, 1, s.OutOfStock)
	assert.Equal(t, 3, s.LowStockThreshold)
	assert.Equal(t, 1, s.Today.Bills)
	assert.Equal(t, 3, s.Today.Units)
	assert.True(t, s.Today.Revenue.Equal(decimal.NewFromInt(10)))
	assert.True(t, s.AllTimeRevenue.Equal(decimal.NewFromInt(60)))
	assert.Len(t, s.RecentSales, 3)
	assert.Equal(t, "BILL-today", s.RecentSales[0].BillID)
	assert.Equal(t, now, s.GeneratedAt)

	other, err := svc.Summary(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 1, other.Products)
	assert.Empty(t, other.RecentSales)
	assert.True(t, other.AllTimeRevenue.IsZero())
}

func TestSummaryUsesCacheUntilInvalidated(t *testing.T) {
	e := newEnv(t)
	cache := newMemoryCache()
	svc := NewService(e.products, e.sales, cache, 5, log.New(io.Discard, "", 0))
	ctx := context.Background()

	e.product(t, 1, 10)
	first, err := svc.Summary(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Products)

	e.product(t, 1, 10)
	cached, err := svc.Summary(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, cached.Products)

	svc.Invalidate(ctx, 1)
	fresh, err := svc.Summary(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.Products)
	assert.Equal(t, 20, fresh.Units)
}

func TestSummarySurvivesCacheFailure(t *testing.T) {
	e := newEnv(t)
	cache := newMemoryCache()
	cache.fail = errors.New("connection refused")
	svc := NewService(e.products, e.sales, cache, 5, log.New(io.Discard, "", 0))

	e.product(t, 1, 4)
	s, err := svc.Summary(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, s.LowStock)
	svc.Invalidate(context.Background(), 1)
}

// TestRedisCache needs a reachable Redis, e.g. STOREFRONT_TEST_REDIS=redis://localhost:6379/15.
func TestRedisCache(t *testing.T) {
	url := os.Getenv("STOREFRONT_TEST_REDIS")
	if url == "" {
		t.Skip("STOREFRONT_TEST_REDIS not set")
	}
	cache, err := NewRedisCache(url, time.Minute)
	require.NoError(t, err)
	defer cache.Close()
	ctx := context.Background()
	owner := time.Now().UnixNano()

	_, ok, err := cache.Get(ctx, owner)
	require.NoError(t, err)
	assert.False(t, ok)

	want := Summary{Products: 4, Units: 12, AllTimeRevenue: decimal.RequireFromString("19.99"), RecentSales: []sales.Sale{}}
	require.NoError(t, cache.Set(ctx, owner, want))

	got, ok, err := cache.Get(ctx, owner)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 4, got.Products)
	assert.True(t, got.AllTimeRevenue.Equal(want.AllTimeRevenue))

	require.NoError(t, cache.Delete(ctx, owner))
	_, ok, err = cache.Get(ctx, owner)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewRedisCacheRejectsBadURL(t *testing.T) {
	_, err := NewRedisCache("not a url", time.Minute)
	assert.Error(t, err)
}
