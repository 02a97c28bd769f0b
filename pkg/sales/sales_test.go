package sales

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"storefront/pkg/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := storage.Open(context.Background(), storage.Config{Dialect: storage.Memory})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return NewRepository(db)
}

func line(bill string, product int64, qty int, price string, at time.Time) Sale {
	unit := decimal.RequireFromString(price)
	return Sale{
		ProductID:   product,
		ProductName: "product",
		Quantity:    qty,
		UnitPrice:   unit,
		TotalPrice:  unit.Mul(decimal.NewFromInt(int64(qty))),
		BillID:      bill,
		CreatedAt:   at,
	}
}

func TestAppendDefaults(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	s, err := repo.Scope(nil, 1).Append(ctx, Sale{ProductID: 3, ProductName: "Tea", Quantity: 1, BillID: "BILL-x",
		UnitPrice: decimal.NewFromInt(2), TotalPrice: decimal.NewFromInt(2)})
	require.NoError(t, err)
	assert.NotZero(t, s.ID)
	assert.Equal(t, StatusPaid, s.Status)
	assert.Equal(t, int64(1), s.UserID)
	assert.False(t, s.CreatedAt.IsZero())
}

func TestBillGroupsLinesInOrder(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	journal := repo.Scope(nil, 1)
	now := time.Now().UTC().Truncate(time.Second)

	for _, s := range []Sale{
		line("BILL-a", 10, 2, "1.25", now),
		line("BILL-a", 11, 1, "4.00", now),
		line("BILL-b", 10, 1, "1.25", now.Add(time.Minute)),
	} {
		_, err := journal.Append(ctx, s)
		require.NoError(t, err)
	}

	bill, err := NewService(repo).Bill(ctx, 1, "BILL-a")
	require.NoError(t, err)
	require.Len(t, bill.Items, 2)
	assert.Equal(t, int64(10), bill.Items[0].ProductID)
	assert.Equal(t, int64(11), bill.Items[1].ProductID)
	assert.Equal(t, 3, bill.Units)
	assert.Equal(t, "6.5", bill.Total.String())
	assert.True(t, bill.CreatedAt.Equal(now))

	_, err = NewService(repo).Bill(ctx, 2, "BILL-a")
	assert.ErrorIs(t, err, ErrBillNotFound)
	_, err = NewService(repo).Bill(ctx, 1, "BILL-missing")
	assert.ErrorIs(t, err, ErrBillNotFound)
}

func TestListAndRecentNewestFirst(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	journal := repo.Scope(nil, 1)
	start := time.Now().UTC().Add(-time.Hour)

	for i := 0; i < 7; i++ {
		_, err := journal.Append(ctx, line("BILL-"+string(rune('a'+i)), 1, 1, "1", start.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}
	_, err := repo.Scope(nil, 2).Append(ctx, line("BILL-other", 1, 1, "1", start))
	require.NoError(t, err)

	all, err := NewService(repo).List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, all, 7)
	assert.Equal(t, "BILL-g", all[0].BillID)
	assert.Equal(t, "BILL-a", all[6].BillID)

	recent, err := journal.Recent(ctx, 5)
	require.NoError(t, err)
	require.Len(t, recent, 5)
	assert.Equal(t, "BILL-g", recent[0].BillID)
	assert.Equal(t, "BILL-c", recent[4].BillID)
}

func TestTotalsSince(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	journal := repo.Scope(nil, 1)
	midnight := time.Now().UTC().Truncate(24 * time.Hour)

	for _, s := range []Sale{
		line("BILL-old", 1, 4, "10", midnight.Add(-time.Hour)),
		line("BILL-1", 1, 2, "2.50", midnight.Add(time.Minute)),
		line("BILL-1", 2, 1, "0.99", midnight.Add(time.Minute)),
		line("BILL-2", 1, 3, "2.50", midnight.Add(2*time.Minute)),
	} {
		_, err := journal.Append(ctx, s)
		require.NoError(t, err)
	}

	today, err := journal.TotalsSince(ctx, midnight)
	require.NoError(t, err)
	assert.Equal(t, 2, today.Bills)
	assert.Equal(t, 6, today.Units)
	assert.True(t, today.Revenue.Equal(decimal.RequireFromString("13.49")), today.Revenue.String())

	ever, err := journal.TotalsSince(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 3, ever.Bills)
	assert.True(t, ever.Revenue.Equal(decimal.RequireFromString("53.49")))

	none, err := repo.Scope(nil, 9).TotalsSince(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 0, none.Bills)
	assert.True(t, none.Revenue.IsZero())
}
