package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/orderdesk/internal/domain/customer"
)

const (
	customerColumns = `id, email, name, surname, phone, COALESCE(address, ''), COALESCE(notes, ''),
		created_at, updated_at`

	getCustomerByIDSQL = `SELECT ` + customerColumns + ` FROM customers WHERE id = $1`

	findCustomerByEmailSQL = `SELECT ` + customerColumns + ` FROM customers WHERE email = $1`

	// ON CONFLICT keeps the transaction usable when a concurrent order
	// registered the same email first.
	createCustomerSQL = `INSERT INTO customers (email, name, surname, phone, address, notes)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''))
		ON CONFLICT (email) DO NOTHING
		RETURNING id, created_at, updated_at`
)

var _ customer.Directory = (*CustomerRepository)(nil)

// CustomerRepository implements customer.Directory backed by PostgreSQL.
type CustomerRepository struct {
	q querier
}

// NewCustomerRepository returns a CustomerRepository that uses the given
// querier.
func NewCustomerRepository(q querier) *CustomerRepository {
	return &CustomerRepository{q: q}
}

// GetByID returns the customer with the given id.
func (r *CustomerRepository) GetByID(ctx context.Context, id int64) (*customer.Customer, error) {
	return r.getOne(ctx, getCustomerByIDSQL, id)
}

// FindByEmail returns the customer registered under the normalized email.
func (r *CustomerRepository) FindByEmail(ctx context.Context, email string) (*customer.Customer, error) {
	return r.getOne(ctx, findCustomerByEmailSQL, customer.NormalizeEmail(email))
}

func (r *CustomerRepository) getOne(ctx context.Context, query string, arg any) (*customer.Customer, error) {
	rows, err := r.q.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("getting customer %v: %w", arg, err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCustomer)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, customer.ErrNotFound
		}
		return nil, fmt.Errorf("getting customer %v: %w", arg, err)
	}
	return &c, nil
}

// Create inserts c. It returns customer.ErrConflict when the email is
// already registered.
func (r *CustomerRepository) Create(ctx context.Context, c *customer.Customer) error {
	c.Email = customer.NormalizeEmail(c.Email)
	err := r.q.QueryRow(ctx, createCustomerSQL,
		c.Email, c.Name, c.Surname, c.Phone, c.Address, c.Notes,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return customer.ErrConflict
		}
		return fmt.Errorf("creating customer %q: %w", c.Email, err)
	}
	return nil
}

func scanCustomer(row pgx.CollectableRow) (customer.Customer, error) {
	var c customer.Customer
	err := row.Scan(
		&c.ID, &c.Email, &c.Name, &c.Surname, &c.Phone, &c.Address, &c.Notes,
		&c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}
