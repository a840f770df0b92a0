package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/orderdesk/internal/domain/product"
)

const (
	productColumns = `id, name, COALESCE(description, ''), price, available, category, is_kit,
		stock, min_unit_price, max_unit_price`

	listProductsSQL = `SELECT ` + productColumns + `
		FROM products
		WHERE ($1 = '' OR category = $1) AND (NOT $2 OR NOT is_kit)
		ORDER BY category, name, id`

	getProductByIDSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	lockProductByIDSQL = getProductByIDSQL + ` FOR UPDATE`

	// Rows are locked in ORDER BY order, so every transaction acquires
	// product locks in the same sequence.
	lockProductsSQL = `SELECT id FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE`

	reserveStockSQL = `UPDATE products SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock IS NOT NULL AND stock >= $2`

	insertProductSQL = `INSERT INTO products
		(name, description, price, available, category, is_kit, stock, min_unit_price, max_unit_price)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	findProductByNameSQL = `SELECT id FROM products WHERE name = $1`

	updateProductSQL = `UPDATE products SET description = NULLIF($2, ''), price = $3, available = $4,
		category = $5, is_kit = $6, stock = $7, min_unit_price = $8, max_unit_price = $9, updated_at = now()
		WHERE id = $1`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
// Inside a transaction it locks the rows it reads.
type ProductRepository struct {
	q         querier
	forUpdate bool
}

// NewProductRepository returns a ProductRepository that uses the given
// querier.
func NewProductRepository(q querier) *ProductRepository {
	return &ProductRepository{q: q}
}

func newLockingProductRepository(tx pgx.Tx) *ProductRepository {
	return &ProductRepository{q: tx, forUpdate: true}
}

// List returns the catalog narrowed by f, ordered by category and name.
func (r *ProductRepository) List(ctx context.Context, f product.Filter) ([]product.Product, error) {
	rows, err := r.q.Query(ctx, listProductsSQL, f.Category, f.ExcludeKit)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id int64) (*product.Product, error) {
	query := getProductByIDSQL
	if r.forUpdate {
		query = lockProductByIDSQL
	}
	rows, err := r.q.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %d: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %d: %w", id, err)
	}
	return &p, nil
}

// Lock takes the row locks of ids in ascending id order. It is a no-op on a
// repository that is not bound to a transaction.
func (r *ProductRepository) Lock(ctx context.Context, ids []int64) error {
	if !r.forUpdate || len(ids) == 0 {
		return nil
	}
	rows, err := r.q.Query(ctx, lockProductsSQL, ids)
	if err != nil {
		return fmt.Errorf("locking products: %w", err)
	}
	if _, err := pgx.CollectRows(rows, pgx.RowTo[int64]); err != nil {
		return fmt.Errorf("locking products: %w", err)
	}
	return nil
}

// ReserveStock decrements the stock of a limited product. The condition and
// the decrement are one statement, so two concurrent reservations cannot both
// pass the check.
func (r *ProductRepository) ReserveStock(ctx context.Context, id int64, qty int) error {
	tag, err := r.q.Exec(ctx, reserveStockSQL, id, qty)
	if err != nil {
		return fmt.Errorf("reserving %d of product %d: %w", qty, id, err)
	}
	if tag.RowsAffected() == 0 {
		return product.ErrInsufficientStock
	}
	return nil
}

// Upsert inserts p, or updates the product with the same name. It fills p.ID
// and reports whether a new row was created.
func (r *ProductRepository) Upsert(ctx context.Context, p *product.Product) (bool, error) {
	var id int64
	err := r.q.QueryRow(ctx, findProductByNameSQL, p.Name).Scan(&id)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		err := r.q.QueryRow(ctx, insertProductSQL,
			p.Name, p.Description, p.Price, p.Available, p.Category, p.IsKit,
			p.Stock, p.MinUnitPrice, p.MaxUnitPrice,
		).Scan(&p.ID)
		if err != nil {
			return false, fmt.Errorf("inserting product %q: %w", p.Name, err)
		}
		return true, nil
	case err != nil:
		return false, fmt.Errorf("finding product %q: %w", p.Name, err)
	}

	p.ID = id
	_, err = r.q.Exec(ctx, updateProductSQL,
		id, p.Description, p.Price, p.Available, p.Category, p.IsKit,
		p.Stock, p.MinUnitPrice, p.MaxUnitPrice,
	)
	if err != nil {
		return false, fmt.Errorf("updating product %q: %w", p.Name, err)
	}
	return false, nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.Price, &p.Available, &p.Category, &p.IsKit,
		&p.Stock, &p.MinUnitPrice, &p.MaxUnitPrice,
	)
	return p, err
}
