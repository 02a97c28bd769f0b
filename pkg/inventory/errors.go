package inventory

import "errors"

var (
	// ErrNotFound is returned when a product is missing, archived, or owned by someone else.
	ErrNotFound = errors.New("product not found")
	// ErrBarcodeTaken means another active product of the same owner already uses the barcode.
	ErrBarcodeTaken = errors.New("barcode already used by another product")
)

type validationError struct {
	message string
}

func (e validationError) Error() string { return e.message }

func newValidationError(msg string) error {
	return validationError{message: msg}
}

// IsValidation reports whether err was caused by bad input rather than storage.
func IsValidation(err error) bool {
	var v validationError
	return errors.As(err, &v)
}
