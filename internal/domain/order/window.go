package order

import (
	"context"
	"sort"
	"time"

	"github.com/go-faster/errors"
)

// DefaultWindowDays is the number of days after today covered by the
// delivery window.
const DefaultWindowDays = 5

// DueLister is the read capability the delivery window needs.
type DueLister interface {
	ListDueBetween(ctx context.Context, from, to time.Time) ([]Order, error)
}

// DeliveryWindow selects orders whose delivery date falls within
// [today, today+days], inclusive at both ends.
type DeliveryWindow struct {
	orders DueLister
	days   int
}

// NewDeliveryWindow creates a DeliveryWindow. Non-positive days fall back to
// DefaultWindowDays.
func NewDeliveryWindow(orders DueLister, days int) *DeliveryWindow {
	if days <= 0 {
		days = DefaultWindowDays
	}
	return &DeliveryWindow{orders: orders, days: days}
}

// Days returns the window length in days.
func (w *DeliveryWindow) Days() int { return w.days }

// Bounds returns the first and last civil date covered for today.
func (w *DeliveryWindow) Bounds(today time.Time) (from, to time.Time) {
	from = civilDate(today)
	return from, from.AddDate(0, 0, w.days)
}

// Run returns the due orders with line items and customer contact, sorted by
// delivery date ascending and then by id.
func (w *DeliveryWindow) Run(ctx context.Context, today time.Time) ([]Order, error) {
	from, to := w.Bounds(today)
	orders, err := w.orders.ListDueBetween(ctx, from, to)
	if err != nil {
		return nil, errors.Wrap(err, "list due orders")
	}
	sort.SliceStable(orders, func(i, j int) bool {
		a, b := orders[i], orders[j]
		if !a.DeliveryDate.Equal(b.DeliveryDate) {
			return a.DeliveryDate.Before(b.DeliveryDate)
		}
		return a.ID < b.ID
	})
	return orders, nil
}

// Today returns the civil date of now in loc as UTC midnight, the
// representation used for delivery dates.
func Today(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return civilDate(now.In(loc))
}

// civilDate drops the clock and zone of t, keeping its calendar date.
func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
