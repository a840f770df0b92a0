package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a requested product does not exist.
	ErrNotFound = errors.New("product not found")
	// ErrInsufficientStock is returned when a stock reservation would drive
	// the remaining quantity below zero.
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Product represents a catalog item available for purchase.
type Product struct {
	ID          int64
	Name        string
	Description string
	Price       decimal.Decimal
	Available   bool
	Category    string
	IsKit       bool

	// Stock is the remaining quantity for limited items. Nil means the
	// product is made to order and never runs out.
	Stock *int

	// MinUnitPrice and MaxUnitPrice bound the client-submitted unit price of
	// configured line items. Invalid (null) bounds are not enforced.
	MinUnitPrice decimal.NullDecimal
	MaxUnitPrice decimal.NullDecimal
}

// Limited reports whether the product has a finite stock.
func (p *Product) Limited() bool {
	return p.Stock != nil
}

// Filter narrows catalog listings.
type Filter struct {
	Category   string
	ExcludeKit bool
}

// Catalog is the read capability the pricing engine needs.
type Catalog interface {
	GetByID(ctx context.Context, id int64) (*Product, error)
}

// Repository defines read operations for the product catalog plus the stock
// reservation used during order placement.
type Repository interface {
	Catalog
	List(ctx context.Context, f Filter) ([]Product, error)
	// Lock row-locks ids in ascending order until the enclosing transaction
	// ends. Unknown ids are skipped. Outside a transaction it does nothing.
	Lock(ctx context.Context, ids []int64) error
	// ReserveStock decrements the stock of a limited product by qty.
	// Returns ErrInsufficientStock when not enough units remain.
	ReserveStock(ctx context.Context, id int64, qty int) error
}
