// Package customer holds the customer directory types consumed by order
// placement.
package customer

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

var (
	// ErrNotFound is returned when no customer matches the lookup.
	ErrNotFound = errors.New("customer not found")
	// ErrConflict is returned by Create when the email is already registered.
	ErrConflict = errors.New("customer email already registered")
)

// Customer is a person who placed at least one order.
type Customer struct {
	ID        int64
	Email     string
	Name      string
	Surname   string
	Phone     string
	Address   string
	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NormalizeEmail returns the canonical form used for lookups and storage.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Directory resolves and registers customers.
type Directory interface {
	GetByID(ctx context.Context, id int64) (*Customer, error)
	FindByEmail(ctx context.Context, email string) (*Customer, error)
	// Create inserts c and fills its ID and timestamps. It returns
	// ErrConflict without aborting the surrounding transaction when the email
	// already exists.
	Create(ctx context.Context, c *Customer) error
}
