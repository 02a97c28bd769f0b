package storage

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"

	"storefront/pkg/storage/memorydriver"
)

// TxError marks a failure of the transaction machinery itself rather than of the work inside it.
type TxError struct {
	Op  string
	Err error
}

func (e *TxError) Error() string { return fmt.Sprintf("transaction %s: %v", e.Op, e.Err) }

func (e *TxError) Unwrap() error { return e.Err }

// IsUniqueViolation reports whether err is a duplicate-key error from any backend.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return errors.Is(err, memorydriver.ErrDuplicate)
}

// IsLockConflict reports deadlocks and lock wait timeouts; callers may retry the whole unit of work.
func IsLockConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40P01", "55P03", "40001":
			return true
		}
		return false
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1213 || myErr.Number == 1205
	}
	return errors.Is(err, memorydriver.ErrLockTimeout)
}
