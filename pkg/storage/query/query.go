// Package query holds every SQL statement the repositories issue.
//
// Statements are written with `?` placeholders; storage.DB rebinds them for
// PostgreSQL. Keeping them in one leaf package lets the in-memory driver route
// the exact same text the SQL backends receive.
package query

// Users and sessions.
const (
	UserInsert = `INSERT INTO users (name, email, password_hash, shop_name, created_at) VALUES (?, ?, ?, ?, ?)`

	UserByEmail = `SELECT id, name, email, password_hash, shop_name, created_at FROM users WHERE email = ?`

	UserByID = `SELECT id, name, email, password_hash, shop_name, created_at FROM users WHERE id = ?`

	UserUpdateProfile = `UPDATE users SET name = ?, shop_name = ? WHERE id = ?`

	SessionInsert = `INSERT INTO sessions (token, user_id, expires_at) VALUES (?, ?, ?)`

	SessionByToken = `SELECT user_id, expires_at FROM sessions WHERE token = ?`

	SessionDelete = `DELETE FROM sessions WHERE token = ?`
)

// Products. Every statement filters on user_id.
const (
	productColumns = `id, user_id, name, barcode, category, price, stock, supplier_id, is_deleted, created_at, updated_at`

	ProductInsert = `INSERT INTO products (user_id, name, barcode, category, price, stock, supplier_id, is_deleted, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	ProductByID = `SELECT ` + productColumns + ` FROM products WHERE id = ? AND user_id = ? AND is_deleted = ?`

	ProductByBarcode = `SELECT ` + productColumns + ` FROM products WHERE barcode = ? AND user_id = ? AND is_deleted = ?`

	ProductList = `SELECT ` + productColumns + ` FROM products WHERE user_id = ? AND is_deleted = ? ORDER BY id DESC`

	ProductUpdate = `UPDATE products SET name = ?, barcode = ?, category = ?, price = ?, stock = ?, supplier_id = ?, updated_at = ? WHERE id = ? AND user_id = ? AND is_deleted = ?`

	ProductSetDeleted = `UPDATE products SET is_deleted = ?, updated_at = ? WHERE id = ? AND user_id = ? AND is_deleted = ?`

	// ProductLock takes the exclusive row lock the billing transaction relies on.
	ProductLock = `SELECT id, name, price, stock FROM products WHERE id = ? AND user_id = ? AND is_deleted = ? FOR UPDATE`

	ProductDecrementStock = `UPDATE products SET stock = stock - ?, updated_at = ? WHERE id = ? AND user_id = ?`

	ProductStats = `SELECT COUNT(*), COALESCE(SUM(stock), 0), COALESCE(SUM(CASE WHEN stock <= ? THEN 1 ELSE 0 END), 0), COALESCE(SUM(CASE WHEN stock = 0 THEN 1 ELSE 0 END), 0) FROM products WHERE user_id = ? AND is_deleted = ?`
)

// Suppliers.
const (
	supplierColumns = `id, user_id, name, phone, email, address, created_at`

	SupplierInsert = `INSERT INTO suppliers (user_id, name, phone, email, address, created_at) VALUES (?, ?, ?, ?, ?, ?)`

	SupplierByID = `SELECT ` + supplierColumns + ` FROM suppliers WHERE id = ? AND user_id = ?`

	SupplierList = `SELECT ` + supplierColumns + ` FROM suppliers WHERE user_id = ? ORDER BY name ASC`

	SupplierUpdate = `UPDATE suppliers SET name = ?, phone = ?, email = ?, address = ? WHERE id = ? AND user_id = ?`

	SupplierDelete = `DELETE FROM suppliers WHERE id = ? AND user_id = ?`
)

// Sales. Rows are append-only.
const (
	saleColumns = `id, user_id, product_id, product_name, quantity, unit_price, total_price, status, bill_id, created_at`

	SaleInsert = `INSERT INTO sales (user_id, product_id, product_name, quantity, unit_price, total_price, status, bill_id, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	SaleList = `SELECT ` + saleColumns + ` FROM sales WHERE user_id = ? ORDER BY created_at DESC, id DESC`

	SaleRecent = `SELECT ` + saleColumns + ` FROM sales WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`

	SaleByBill = `SELECT ` + saleColumns + ` FROM sales WHERE user_id = ? AND bill_id = ? ORDER BY id ASC`

	SaleTotalsSince = `SELECT COUNT(DISTINCT bill_id), COALESCE(SUM(quantity), 0), COALESCE(SUM(total_price), 0) FROM sales WHERE user_id = ? AND created_at >= ?`
)
