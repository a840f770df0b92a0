package order

import (
	"context"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/orderdesk/internal/domain/product"
)

// unitPricePlaces is the precision kept for unit prices derived from a
// submitted line total. Totals that unit × quantity cannot reproduce to the
// cent at this precision are rejected.
const unitPricePlaces = 4

// CartItem is one entry of a submitted cart.
type CartItem struct {
	ProductID int64
	// Quantity is coerced to 1 when zero or negative.
	Quantity int
	// ConfigurationNotes marks a configured (made-to-order) line. Its price
	// comes from SubmittedTotal instead of the catalog.
	ConfigurationNotes string
	SubmittedTotal     decimal.NullDecimal
}

// Configured reports whether the line is priced from the submitted total.
func (c CartItem) Configured() bool {
	return c.ConfigurationNotes != ""
}

// PricedLine is a cart entry resolved against the catalog.
type PricedLine struct {
	Product            *product.Product
	Quantity           int
	UnitPrice          decimal.Decimal
	ConfigurationNotes string
}

// Total returns UnitPrice × Quantity.
func (l PricedLine) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Quote is the priced cart.
type Quote struct {
	Lines []PricedLine
	Total decimal.Decimal
}

// LineItems converts the quote into line items ready to persist.
func (q *Quote) LineItems() []LineItem {
	items := make([]LineItem, len(q.Lines))
	for i, l := range q.Lines {
		items[i] = LineItem{
			ProductID:          l.Product.ID,
			ProductName:        l.Product.Name,
			Quantity:           l.Quantity,
			UnitPrice:          l.UnitPrice,
			ConfigurationNotes: l.ConfigurationNotes,
		}
	}
	return items
}

// PricingEngine computes unit prices and the order total from a cart and
// live catalog data. It has no side effects beyond catalog reads.
type PricingEngine struct{}

// NewPricingEngine returns a PricingEngine.
func NewPricingEngine() *PricingEngine {
	return &PricingEngine{}
}

// Price resolves every cart entry against catalog and returns the priced
// lines with the order total rounded to two decimal places.
func (e *PricingEngine) Price(ctx context.Context, catalog product.Catalog, cart []CartItem) (*Quote, error) {
	if len(cart) == 0 {
		return nil, &ValidationError{Field: "prodotti", Reason: "at least one product is required"}
	}

	q := &Quote{Lines: make([]PricedLine, 0, len(cart))}
	total := decimal.Zero
	for i, item := range cart {
		line, err := e.priceLine(ctx, catalog, item)
		if err != nil {
			return nil, errors.Wrapf(err, "price line %d", i)
		}
		q.Lines = append(q.Lines, line)
		total = total.Add(line.Total())
	}
	q.Total = total.Round(2)

	return q, nil
}

func (e *PricingEngine) priceLine(ctx context.Context, catalog product.Catalog, item CartItem) (PricedLine, error) {
	p, err := catalog.GetByID(ctx, item.ProductID)
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			return PricedLine{}, &ProductNotFoundError{ProductID: item.ProductID}
		}
		return PricedLine{}, errors.Wrapf(err, "get product %d", item.ProductID)
	}
	if !p.Available {
		return PricedLine{}, &ProductUnavailableError{ProductID: p.ID}
	}

	qty := CoerceQuantity(item.Quantity)
	line := PricedLine{
		Product:            p,
		Quantity:           qty,
		UnitPrice:          p.Price,
		ConfigurationNotes: item.ConfigurationNotes,
	}
	if !item.Configured() {
		return line, nil
	}

	// Configured lines trust the client-computed total within the product's
	// stored bounds.
	if !item.SubmittedTotal.Valid {
		return PricedLine{}, &ValidationError{Field: "prezzo_totale", Reason: "required for configured products"}
	}
	if item.SubmittedTotal.Decimal.IsNegative() {
		return PricedLine{}, &ValidationError{Field: "prezzo_totale", Reason: "must not be negative"}
	}
	submitted := item.SubmittedTotal.Decimal
	unit := submitted.DivRound(decimal.NewFromInt(int64(qty)), unitPricePlaces)
	// Billed line totals must match the submission to the cent.
	if !unit.Mul(decimal.NewFromInt(int64(qty))).Round(2).Equal(submitted.Round(2)) {
		return PricedLine{}, &ValidationError{
			Field:  "prezzo_totale",
			Reason: "cannot be split into a unit price for quantity " + strconv.Itoa(qty),
		}
	}
	if outOfBounds(unit, p.MinUnitPrice, p.MaxUnitPrice) {
		return PricedLine{}, &ConfiguredPriceError{
			ProductID: p.ID,
			UnitPrice: unit,
			Min:       p.MinUnitPrice,
			Max:       p.MaxUnitPrice,
		}
	}
	line.UnitPrice = unit

	return line, nil
}

// CoerceQuantity maps absent or non-positive quantities to 1.
func CoerceQuantity(q int) int {
	if q <= 0 {
		return 1
	}
	return q
}

func outOfBounds(v decimal.Decimal, lo, hi decimal.NullDecimal) bool {
	if lo.Valid && v.LessThan(lo.Decimal) {
		return true
	}
	if hi.Valid && v.GreaterThan(hi.Decimal) {
		return true
	}
	return false
}
