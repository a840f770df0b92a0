package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/orderdesk/internal/domain/customer"
	"github.com/xenking/orderdesk/internal/domain/order"
	"github.com/xenking/orderdesk/internal/domain/product"
)

var _ order.Transactor = (*Store)(nil)

// Store is the transaction boundary for order placement. Outside a
// transaction its repositories run directly on the pool.
type Store struct {
	pool      *pgxpool.Pool
	products  *ProductRepository
	customers *CustomerRepository
	orders    *OrderRepository
	outbox    *OutboxRepository
}

// NewStore returns a Store backed by pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:      pool,
		products:  NewProductRepository(pool),
		customers: NewCustomerRepository(pool),
		orders:    NewOrderRepository(pool),
		outbox:    NewOutboxRepository(pool),
	}
}

// Products returns the non-transactional product repository.
func (s *Store) Products() *ProductRepository { return s.products }

// Customers returns the non-transactional customer repository.
func (s *Store) Customers() *CustomerRepository { return s.customers }

// Orders returns the non-transactional order repository.
func (s *Store) Orders() *OrderRepository { return s.orders }

// Outbox returns the non-transactional outbox repository.
func (s *Store) Outbox() *OutboxRepository { return s.outbox }

// InTx runs fn in a READ COMMITTED transaction. The transaction commits when
// fn returns nil and rolls back otherwise, including on panic.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, newTxRepos(tx))
	})
	if err != nil {
		return fmt.Errorf("order transaction: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type txRepos struct {
	products  *ProductRepository
	customers *CustomerRepository
	orders    *OrderRepository
	outbox    *OutboxRepository
}

func newTxRepos(tx pgx.Tx) *txRepos {
	return &txRepos{
		products:  newLockingProductRepository(tx),
		customers: NewCustomerRepository(tx),
		orders:    NewOrderRepository(tx),
		outbox:    NewOutboxRepository(tx),
	}
}

func (t *txRepos) Products() product.Repository { return t.products }
func (t *txRepos) Customers() customer.Directory { return t.customers }
func (t *txRepos) Orders() order.Repository { return t.orders }
func (t *txRepos) Outbox() order.Outbox { return t.outbox }
