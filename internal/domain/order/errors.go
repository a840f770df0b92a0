package order

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrOrderNotFound is returned when the requested order does not exist.
var ErrOrderNotFound = errors.New("order not found")

// ValidationError indicates malformed or missing input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID int64
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %d not found", e.ProductID)
}

// ProductUnavailableError indicates a product exists but is not available
// for ordering.
type ProductUnavailableError struct {
	ProductID int64
}

func (e *ProductUnavailableError) Error() string {
	return fmt.Sprintf("product %d is not available", e.ProductID)
}

// InsufficientStockError indicates a limited product cannot cover the
// requested quantity.
type InsufficientStockError struct {
	ProductID int64
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d (requested %d)", e.ProductID, e.Requested)
}

// ConfiguredPriceError indicates a client-submitted unit price for a
// configured product falls outside the product's bounds.
type ConfiguredPriceError struct {
	ProductID int64
	UnitPrice decimal.Decimal
	Min       decimal.NullDecimal
	Max       decimal.NullDecimal
}

func (e *ConfiguredPriceError) Error() string {
	return fmt.Sprintf("configured unit price %s for product %d is out of bounds [%s, %s]",
		e.UnitPrice.StringFixed(2), e.ProductID, boundString(e.Min), boundString(e.Max))
}

func boundString(d decimal.NullDecimal) string {
	if !d.Valid {
		return "-"
	}
	return d.Decimal.StringFixed(2)
}

// CustomerNotFoundError indicates an explicit customer id does not exist.
type CustomerNotFoundError struct {
	CustomerID int64
}

func (e *CustomerNotFoundError) Error() string {
	return fmt.Sprintf("customer %d not found", e.CustomerID)
}

// StorageError wraps a failure of the transactional write. The transaction
// has been rolled back when it is returned.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsClientError reports whether err is caused by the request rather than by
// the system.
func IsClientError(err error) bool {
	var (
		validation  *ValidationError
		notFound    *ProductNotFoundError
		unavailable *ProductUnavailableError
		stock       *InsufficientStockError
		price       *ConfiguredPriceError
		customer    *CustomerNotFoundError
	)
	return errors.As(err, &validation) ||
		errors.As(err, &notFound) ||
		errors.As(err, &unavailable) ||
		errors.As(err, &stock) ||
		errors.As(err, &price) ||
		errors.As(err, &customer)
}
