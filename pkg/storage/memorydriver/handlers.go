package memorydriver

import (
	"context"
	"database/sql/driver"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"storefront/pkg/storage/query"
)

type execHandler func(ctx context.Context, c *conn, args []driver.Value) (driver.Result, error)

type queryHandler func(ctx context.Context, c *conn, args []driver.Value) (driver.Rows, error)

// execHandlers maps each supported statement to its implementation.
var execHandlers = map[string]execHandler{
	query.UserInsert:            execUserInsert,
	query.UserUpdateProfile:     execUserUpdateProfile,
	query.SessionInsert:         execSessionInsert,
	query.SessionDelete:         execSessionDelete,
	query.ProductInsert:         execProductInsert,
	query.ProductUpdate:         execProductUpdate,
	query.ProductSetDeleted:     execProductSetDeleted,
	query.ProductDecrementStock: execProductDecrementStock,
	query.SupplierInsert:        execSupplierInsert,
	query.SupplierUpdate:        execSupplierUpdate,
	query.SupplierDelete:        execSupplierDelete,
	query.SaleInsert:            execSaleInsert,
}

var queryHandlers = map[string]queryHandler{
	query.UserByEmail:      queryUserByEmail,
	query.UserByID:         queryUserByID,
	query.SessionByToken:   querySessionByToken,
	query.ProductByID:      queryProductByID,
	query.ProductByBarcode: queryProductByBarcode,
	query.ProductList:      queryProductList,
	query.ProductLock:      queryProductLock,
	query.ProductStats:     queryProductStats,
	query.SupplierByID:     querySupplierByID,
	query.SupplierList:     querySupplierList,
	query.SaleList:         querySaleList,
	query.SaleRecent:       querySaleRecent,
	query.SaleByBill:       querySaleByBill,
	query.SaleTotalsSince:  querySaleTotalsSince,
}

var (
	userColumns     = []string{"id", "name", "email", "password_hash", "shop_name", "created_at"}
	productColumns  = []string{"id", "user_id", "name", "barcode", "category", "price", "stock", "supplier_id", "is_deleted", "created_at", "updated_at"}
	supplierColumns = []string{"id", "user_id", "name", "phone", "email", "address", "created_at"}
	saleColumns     = []string{"id", "user_id", "product_id", "product_name", "quantity", "unit_price", "total_price", "status", "bill_id", "created_at"}
)

func expectArgs(args []driver.Value, n int) error {
	if len(args) < n {
		return fmt.Errorf("memorydriver: expected %d arguments, got %d", n, len(args))
	}
	return nil
}

// insert allocates the next id immediately, like a sequence, and stores the
// row now or at commit.
func (c *conn) insert(ctx context.Context, table string, check func(st *snapshot) error, add func(st *snapshot, id int64)) (driver.Result, error) {
	inTx := c.tx != nil
	var id int64
	err := c.store.write(ctx, func(st *snapshot) error {
		if check != nil {
			if err := check(st); err != nil {
				return err
			}
		}
		id = st.next(table)
		if !inTx {
			add(st, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if inTx {
		c.tx.pending = append(c.tx.pending, func(st *snapshot) { add(st, id) })
	}
	return execResult{id: id, affected: 1}, nil
}

// update runs op once with commit=false to count matches and, outside a
// transaction, once more to apply it. Inside a transaction the apply is queued.
func (c *conn) update(ctx context.Context, op func(st *snapshot, commit bool) int64) (driver.Result, error) {
	var affected int64
	if c.tx != nil {
		err := c.store.read(ctx, func(st *snapshot) error {
			affected = op(st, false)
			return nil
		})
		if err != nil {
			return nil, err
		}
		if affected > 0 {
			if err := c.apply(ctx, func(st *snapshot) { op(st, true) }); err != nil {
				return nil, err
			}
		}
		return execResult{affected: affected}, nil
	}
	err := c.store.write(ctx, func(st *snapshot) error {
		affected = op(st, true)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return execResult{affected: affected}, nil
}

func execUserInsert(ctx context.Context, c *conn, args []driver.Value) (driver.Result, error) {
	if err := expectArgs(args, 5); err != nil {
		return nil, err
	}
	created, err := toTime(args[4])
	if err != nil {
		return nil, err
	}
	rec := userRecord{
		Name:         toString(args[0]),
		Email:        toString(args[1]),
		PasswordHash: toString(args[2]),
		ShopName:     toString(args[3]),
		CreatedAt:    created,
	}
	return c.insert(ctx, "users", func(st *snapshot) error {
		for _, u := range st.Users {
			if strings.EqualFold(u.Email, rec.Email) {
				return fmt.Errorf("%w: users.email", ErrDuplicate)
			}
		}
		return nil
	}, func(st *snapshot, id int64) {
		rec.ID = id
		st.Users = append(st.Users, rec)
	})
}

func execUserUpdateProfile(ctx context.Context, c *conn, args []driver.Value) (driver.Result, error) {
	if err := expectArgs(args, 3); err != nil {
		return nil, err
	}
	name, shop, id := toString(args[0]), toString(args[1]), toInt64(args[2])
	return c.update(ctx, func(st *snapshot, commit bool) int64 {
		for i := range st.Users {
			if st.Users[i].ID == id {
				if commit {
					st.Users[i].Name = name
					st.Users[i].ShopName = shop
				}
				return 1
			}
		}
		return 0
	})
}

func execSessionInsert(ctx context.Context, c *conn, args []driver.Value) (driver.Result, error) {
	if err := expectArgs(args, 3); err != nil {
		return nil, err
	}
	expires, err := toTime(args[2])
	if err != nil {
		return nil, err
	}
	rec := sessionRecord{Token: toString(args[0]), UserID: toInt64(args[1]), ExpiresAt: expires}
	return c.insert(ctx, "sessions", func(st *snapshot) error {
		for _, s := range st.Sessions {
			if s.Token == rec.Token {
				return fmt.Errorf("%w: sessions.token", ErrDuplicate)
			}
		}
		return nil
	}, func(st *snapshot, _ int64) {
		st.Sessions = append(st.Sessions, rec)
	})
}

func execSessionDelete(ctx context.Context, c *conn, args []driver.Value) (driver.Result, error) {
	if err := expectArgs(args, 1); err != nil {
		return nil, err
	}
	token := toString(args[0])
	return c.update(ctx, func(st *snapshot, commit bool) int64 {
		for i := range st.Sessions {
			if st.Sessions[i].Token == token {
				if commit {
					st.Sessions = append(st.Sessions[:i], st.Sessions[i+1:]...)
				}
				return 1
			}
		}
		return 0
	})
}

func execProductInsert(ctx context.Context, c *conn, args []driver.Value) (driver.Result, error) {
	if err := expectArgs(args, 10); err != nil {
		return nil, err
	}
	created, err := toTime(args[8])
	if err != nil {
		return nil, err
	}
	updated, err := toTime(args[9])
	if err != nil {
		return nil, err
	}
	rec := productRecord{
		UserID:     toInt64(args[0]),
		Name:       toString(args[1]),
		Barcode:    toString(args[2]),
		Category:   toString(args[3]),
		Price:      toString(args[4]),
		Stock:      toInt64(args[5]),
		SupplierID: toNullInt64(args[6]),
		Deleted:    toBool(args[7]),
		CreatedAt:  created,
		UpdatedAt:  updated,
	}
	if rec.Stock < 0 {
		return nil, ErrCheckViolation
	}
	return c.insert(ctx, "products", func(st *snapshot) error {
		return st.barcodeTaken(rec)
	}, func(st *snapshot, id int64) {
		rec.ID = id
		st.Products = append(st.Products, rec)
	})
}

func execProductUpdate(ctx context.Context, c *conn, args []driver.Value) (driver.Result, error) {
	if err := expectArgs(args, 10); err != nil {
		return nil, err
	}
	updated, err := toTime(args[6])
	if err != nil {
		return nil, err
	}
	id, owner, deleted := toInt64(args[7]), toInt64(args[8]), toBool(args[9])
	return c.mutateProduct(ctx, id, func(p *productRecord) bool {
		if p.UserID != owner || p.Deleted != deleted {
			return false
		}
		p.Name = toString(args[0])
		p.Barcode = toString(args[1])
		p.Category = toString(args[2])
		p.Price = toString(args[3])
		p.Stock = toInt64(args[4])
		p.SupplierID = toNullInt64(args[5])
		p.UpdatedAt = updated
		return true
	})
}

func execProductSetDeleted(ctx context.Context, c *conn, args []driver.Value) (driver.Result, error) {
	if err := expectArgs(args, 5); err != nil {
		return nil, err
	}
	updated, err := toTime(args[1])
	if err != nil {
		return nil, err
	}
	target, id, owner, current := toBool(args[0]), toInt64(args[2]), toInt64(args[3]), toBool(args[4])
	return c.mutateProduct(ctx, id, func(p *productRecord) bool {
		if p.UserID != owner || p.Deleted != current {
			return false
		}
		p.Deleted = target
		p.UpdatedAt = updated
		return true
	})
}

func execProductDecrementStock(ctx context.Context, c *conn, args []driver.Value) (driver.Result, error) {
	if err := expectArgs(args, 4); err != nil {
		return nil, err
	}
	updated, err := toTime(args[1])
	if err != nil {
		return nil, err
	}
	qty, id, owner := toInt64(args[0]), toInt64(args[2]), toInt64(args[3])
	return c.mutateProduct(ctx, id, func(p *productRecord) bool {
		if p.UserID != owner {
			return false
		}
		p.Stock -= qty
		p.UpdatedAt = updated
		return true
	})
}

func execSupplierInsert(ctx context.Context, c *conn, args []driver.Value) (driver.Result, error) {
	if err := expectArgs(args, 6); err != nil {
		return nil, err
	}
	created, err := toTime(args[5])
	if err != nil {
		return nil, err
	}
	rec := supplierRecord{
		UserID:    toInt64(args[0]),
		Name:      toString(args[1]),
		Phone:     toString(args[2]),
		Email:     toString(args[3]),
		Address:   toString(args[4]),
		CreatedAt: created,
	}
	return c.insert(ctx, "suppliers", nil, func(st *snapshot, id int64) {
		rec.ID = id
		st.Suppliers = append(st.Suppliers, rec)
	})
}

func execSupplierUpdate(ctx context.Context, c *conn, args []driver.Value) (driver.Result, error) {
	if err := expectArgs(args, 6); err != nil {
		return nil, err
	}
	id, owner := toInt64(args[4]), toInt64(args[5])
	return c.update(ctx, func(st *snapshot, commit bool) int64 {
		for i := range st.Suppliers {
			s := &st.Suppliers[i]
			if s.ID == id && s.UserID == owner {
				if commit {
					s.Name = toString(args[0])
					s.Phone = toString(args[1])
					s.Email = toString(args[2])
					s.Address = toString(args[3])
				}
				return 1
			}
		}
		return 0
	})
}

// execSupplierDelete also clears product references, like ON DELETE SET NULL.
func execSupplierDelete(ctx context.Context, c *conn, args []driver.Value) (driver.Result, error) {
	if err := expectArgs(args, 2); err != nil {
		return nil, err
	}
	id, owner := toInt64(args[0]), toInt64(args[1])
	return c.update(ctx, func(st *snapshot, commit bool) int64 {
		for i := range st.Suppliers {
			if st.Suppliers[i].ID == id && st.Suppliers[i].UserID == owner {
				if commit {
					st.Suppliers = append(st.Suppliers[:i], st.Suppliers[i+1:]...)
					for j := range st.Products {
						if ref := st.Products[j].SupplierID; ref != nil && *ref == id {
							st.Products[j].SupplierID = nil
						}
					}
				}
				return 1
			}
		}
		return 0
	})
}

func execSaleInsert(ctx context.Context, c *conn, args []driver.Value) (driver.Result, error) {
	if err := expectArgs(args, 9); err != nil {
		return nil, err
	}
	created, err := toTime(args[8])
	if err != nil {
		return nil, err
	}
	rec := saleRecord{
		UserID:      toInt64(args[0]),
		ProductID:   toInt64(args[1]),
		ProductName: toString(args[2]),
		Quantity:    toInt64(args[3]),
		UnitPrice:   toString(args[4]),
		TotalPrice:  toString(args[5]),
		Status:      toString(args[6]),
		BillID:      toString(args[7]),
		CreatedAt:   created,
	}
	return c.insert(ctx, "sales", nil, func(st *snapshot, id int64) {
		rec.ID = id
		st.Sales = append(st.Sales, rec)
	})
}

func userRow(u userRecord) []driver.Value {
	return []driver.Value{u.ID, u.Name, u.Email, u.PasswordHash, u.ShopName, u.CreatedAt}
}

func queryUsers(ctx context.Context, c *conn, match func(userRecord) bool) (driver.Rows, error) {
	out := &rows{columns: userColumns}
	err := c.store.read(ctx, func(st *snapshot) error {
		for _, u := range st.Users {
			if match(u) {
				out.data = append(out.data, userRow(u))
			}
		}
		return nil
	})
	return out, err
}

func queryUserByEmail(ctx context.Context, c *conn, args []driver.Value) (driver.Rows, error) {
	if err := expectArgs(args, 1); err != nil {
		return nil, err
	}
	email := toString(args[0])
	return queryUsers(ctx, c, func(u userRecord) bool { return strings.EqualFold(u.Email, email) })
}

func queryUserByID(ctx context.Context, c *conn, args []driver.Value) (driver.Rows, error) {
	if err := expectArgs(args, 1); err != nil {
		return nil, err
	}
	id := toInt64(args[0])
	return queryUsers(ctx, c, func(u userRecord) bool { return u.ID == id })
}

func querySessionByToken(ctx context.Context, c *conn, args []driver.Value) (driver.Rows, error) {
	if err := expectArgs(args, 1); err != nil {
		return nil, err
	}
	token := toString(args[0])
	out := &rows{columns: []string{"user_id", "expires_at"}}
	err := c.store.read(ctx, func(st *snapshot) error {
		for _, s := range st.Sessions {
			if s.Token == token {
				out.data = append(out.data, []driver.Value{s.UserID, s.ExpiresAt})
			}
		}
		return nil
	})
	return out, err
}

func productRow(p productRecord) []driver.Value {
	return []driver.Value{p.ID, p.UserID, p.Name, p.Barcode, p.Category, p.Price, p.Stock, nullable(p.SupplierID), p.Deleted, p.CreatedAt, p.UpdatedAt}
}

func queryProducts(ctx context.Context, c *conn, match func(productRecord) bool) (*rows, error) {
	all, err := c.products(ctx)
	if err != nil {
		return nil, err
	}
	out := &rows{columns: productColumns}
	for _, p := range all {
		if match(p) {
			out.data = append(out.data, productRow(p))
		}
	}
	return out, nil
}

func queryProductByID(ctx context.Context, c *conn, args []driver.Value) (driver.Rows, error) {
	if err := expectArgs(args, 3); err != nil {
		return nil, err
	}
	id, owner, deleted := toInt64(args[0]), toInt64(args[1]), toBool(args[2])
	return queryProducts(ctx, c, func(p productRecord) bool {
		return p.ID == id && p.UserID == owner && p.Deleted == deleted
	})
}

func queryProductByBarcode(ctx context.Context, c *conn, args []driver.Value) (driver.Rows, error) {
	if err := expectArgs(args, 3); err != nil {
		return nil, err
	}
	code, owner, deleted := toString(args[0]), toInt64(args[1]), toBool(args[2])
	return queryProducts(ctx, c, func(p productRecord) bool {
		return p.Barcode == code && p.UserID == owner && p.Deleted == deleted
	})
}

func queryProductList(ctx context.Context, c *conn, args []driver.Value) (driver.Rows, error) {
	if err := expectArgs(args, 2); err != nil {
		return nil, err
	}
	owner, deleted := toInt64(args[0]), toBool(args[1])
	out, err := queryProducts(ctx, c, func(p productRecord) bool {
		return p.UserID == owner && p.Deleted == deleted
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out.data, func(i, j int) bool {
		return out.data[i][0].(int64) > out.data[j][0].(int64)
	})
	return out, nil
}

// queryProductLock is SELECT ... FOR UPDATE: a matching row stays locked until the transaction ends.
func queryProductLock(ctx context.Context, c *conn, args []driver.Value) (driver.Rows, error) {
	if err := expectArgs(args, 3); err != nil {
		return nil, err
	}
	id, owner, deleted := toInt64(args[0]), toInt64(args[1]), toBool(args[2])
	row, matched, err := c.lockRow(ctx, id, func(p productRecord) bool {
		return p.UserID == owner && p.Deleted == deleted
	})
	if err != nil {
		return nil, err
	}
	out := &rows{columns: []string{"id", "name", "price", "stock"}}
	if matched {
		out.data = append(out.data, []driver.Value{row.ID, row.Name, row.Price, row.Stock})
	}
	return out, nil
}

func queryProductStats(ctx context.Context, c *conn, args []driver.Value) (driver.Rows, error) {
	if err := expectArgs(args, 3); err != nil {
		return nil, err
	}
	threshold, owner, deleted := toInt64(args[0]), toInt64(args[1]), toBool(args[2])
	all, err := c.products(ctx)
	if err != nil {
		return nil, err
	}
	var count, units, low, out int64
	for _, p := range all {
		if p.UserID != owner || p.Deleted != deleted {
			continue
		}
		count++
		units += p.Stock
		if p.Stock <= threshold {
			low++
		}
		if p.Stock == 0 {
			out++
		}
	}
	return &rows{
		columns: []string{"count", "units", "low", "out"},
		data:    [][]driver.Value{{count, units, low, out}},
	}, nil
}

func supplierRow(s supplierRecord) []driver.Value {
	return []driver.Value{s.ID, s.UserID, s.Name, s.Phone, s.Email, s.Address, s.CreatedAt}
}

func querySupplierByID(ctx context.Context, c *conn, args []driver.Value) (driver.Rows, error) {
	if err := expectArgs(args, 2); err != nil {
		return nil, err
	}
	id, owner := toInt64(args[0]), toInt64(args[1])
	out := &rows{columns: supplierColumns}
	err := c.store.read(ctx, func(st *snapshot) error {
		for _, s := range st.Suppliers {
			if s.ID == id && s.UserID == owner {
				out.data = append(out.data, supplierRow(s))
			}
		}
		return nil
	})
	return out, err
}

func querySupplierList(ctx context.Context, c *conn, args []driver.Value) (driver.Rows, error) {
	if err := expectArgs(args, 1); err != nil {
		return nil, err
	}
	owner := toInt64(args[0])
	var list []supplierRecord
	err := c.store.read(ctx, func(st *snapshot) error {
		for _, s := range st.Suppliers {
			if s.UserID == owner {
				list = append(list, s)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	out := &rows{columns: supplierColumns}
	for _, s := range list {
		out.data = append(out.data, supplierRow(s))
	}
	return out, nil
}

func saleRow(s saleRecord) []driver.Value {
	return []driver.Value{s.ID, s.UserID, s.ProductID, s.ProductName, s.Quantity, s.UnitPrice, s.TotalPrice, s.Status, s.BillID, s.CreatedAt}
}

func collectSales(ctx context.Context, c *conn, match func(saleRecord) bool) ([]saleRecord, error) {
	var list []saleRecord
	err := c.store.read(ctx, func(st *snapshot) error {
		for _, s := range st.Sales {
			if match(s) {
				list = append(list, s)
			}
		}
		return nil
	})
	return list, err
}

func newestFirst(list []saleRecord) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID > list[j].ID
	})
}

func saleRows(list []saleRecord) *rows {
	out := &rows{columns: saleColumns}
	for _, s := range list {
		out.data = append(out.data, saleRow(s))
	}
	return out
}

func querySaleList(ctx context.Context, c *conn, args []driver.Value) (driver.Rows, error) {
	if err := expectArgs(args, 1); err != nil {
		return nil, err
	}
	owner := toInt64(args[0])
	list, err := collectSales(ctx, c, func(s saleRecord) bool { return s.UserID == owner })
	if err != nil {
		return nil, err
	}
	newestFirst(list)
	return saleRows(list), nil
}

func querySaleRecent(ctx context.Context, c *conn, args []driver.Value) (driver.Rows, error) {
	if err := expectArgs(args, 2); err != nil {
		return nil, err
	}
	owner, limit := toInt64(args[0]), toInt64(args[1])
	list, err := collectSales(ctx, c, func(s saleRecord) bool { return s.UserID == owner })
	if err != nil {
		return nil, err
	}
	newestFirst(list)
	if limit >= 0 && int64(len(list)) > limit {
		list = list[:limit]
	}
	return saleRows(list), nil
}

func querySaleByBill(ctx context.Context, c *conn, args []driver.Value) (driver.Rows, error) {
	if err := expectArgs(args, 2); err != nil {
		return nil, err
	}
	owner, bill := toInt64(args[0]), toString(args[1])
	list, err := collectSales(ctx, c, func(s saleRecord) bool { return s.UserID == owner && s.BillID == bill })
	if err != nil {
		return nil, err
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return saleRows(list), nil
}

func querySaleTotalsSince(ctx context.Context, c *conn, args []driver.Value) (driver.Rows, error) {
	if err := expectArgs(args, 2); err != nil {
		return nil, err
	}
	owner := toInt64(args[0])
	since, err := toTime(args[1])
	if err != nil {
		return nil, err
	}
	list, err := collectSales(ctx, c, func(s saleRecord) bool {
		return s.UserID == owner && !s.CreatedAt.Before(since)
	})
	if err != nil {
		return nil, err
	}
	bills := make(map[string]struct{})
	var units int64
	revenue := decimal.Zero
	for _, s := range list {
		bills[s.BillID] = struct{}{}
		units += s.Quantity
		total, err := decimal.NewFromString(s.TotalPrice)
		if err != nil {
			return nil, fmt.Errorf("memorydriver: corrupt total_price %q: %w", s.TotalPrice, err)
		}
		revenue = revenue.Add(total)
	}
	return &rows{
		columns: []string{"bills", "units", "revenue"},
		data:    [][]driver.Value{{int64(len(bills)), units, revenue.String()}},
	}, nil
}
