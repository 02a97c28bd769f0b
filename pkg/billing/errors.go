package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest means the cart or one of its lines is malformed.
	ErrInvalidRequest = errors.New("invalid billing request")
	// ErrProductNotFound covers missing, archived and foreign-owned products alike.
	ErrProductNotFound = errors.New("product not found")
	// ErrInsufficientStock means a line asks for more than the locked row holds.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrStoreFailure wraps lock, connectivity and commit failures. The cause stays reachable with errors.Is/As.
	ErrStoreFailure = errors.New("billing store failure")
)

// Error is a business rejection of a cart. Its message is safe to show to the caller.
type Error struct {
	Kind        error
	Line        int // 1-based; 0 when the cart as a whole is rejected
	ProductID   int64
	ProductName string
	Requested   int
	Remaining   int
	message     string
}

func (e *Error) Error() string { return e.message }

func (e *Error) Unwrap() error { return e.Kind }

// IsBusiness reports whether err is a rejection the caller can act on, as opposed to a store failure.
func IsBusiness(err error) bool {
	var e *Error
	return errors.As(err, &e)
}

func emptyCart() error {
	return &Error{Kind: ErrInvalidRequest, message: "Cart is empty: items must be a non-empty array"}
}

func invalidLine(line int, reason string) error {
	return &Error{
		Kind:    ErrInvalidRequest,
		Line:    line,
		message: fmt.Sprintf("Invalid item at line %d: %s", line, reason),
	}
}

func productNotFound(line int, productID int64) error {
	return &Error{
		Kind:      ErrProductNotFound,
		Line:      line,
		ProductID: productID,
		message:   fmt.Sprintf("Product %d not found (line %d)", productID, line),
	}
}

func insufficientStock(line int, productID int64, name string, requested, remaining int) error {
	return &Error{
		Kind:        ErrInsufficientStock,
		Line:        line,
		ProductID:   productID,
		ProductName: name,
		Requested:   requested,
		Remaining:   remaining,
		message: fmt.Sprintf("Insufficient stock for %s (product %d): requested %d, only %d left",
			name, productID, requested, remaining),
	}
}

func storeFailure(err error) error {
	return fmt.Errorf("%w: %w", ErrStoreFailure, err)
}
