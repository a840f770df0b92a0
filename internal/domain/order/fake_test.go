package order

import (
	"context"
	"sort"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/orderdesk/internal/domain/customer"
	"github.com/xenking/orderdesk/internal/domain/product"
)

// --- In-memory store ---

// memStore is a transactional in-memory stand-in for the database. InTx
// snapshots every table and restores the snapshot when fn fails.
type memStore struct {
	products  map[int64]product.Product
	customers map[int64]customer.Customer
	orders    map[int64]Order
	outbox    []Notification
	nextID    int64

	// failStep makes the named write fail: "create_order", "create_items",
	// "enqueue".
	failStep  string
	reloadErr error
	beginErr  error

	// locked records the ids of every Lock call.
	locked [][]int64
}

func newMemStore(products ...product.Product) *memStore {
	s := &memStore{
		products:  make(map[int64]product.Product),
		customers: make(map[int64]customer.Customer),
		orders:    make(map[int64]Order),
		nextID:    100,
	}
	for _, p := range products {
		s.products[p.ID] = p
	}
	return s
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

type memSnapshot struct {
	products  map[int64]product.Product
	customers map[int64]customer.Customer
	orders    map[int64]Order
	outbox    []Notification
}

func (s *memStore) snapshot() memSnapshot {
	snap := memSnapshot{
		products:  make(map[int64]product.Product, len(s.products)),
		customers: make(map[int64]customer.Customer, len(s.customers)),
		orders:    make(map[int64]Order, len(s.orders)),
		outbox:    append([]Notification(nil), s.outbox...),
	}
	for k, p := range s.products {
		if p.Stock != nil {
			v := *p.Stock
			p.Stock = &v
		}
		snap.products[k] = p
	}
	for k, v := range s.customers {
		snap.customers[k] = v
	}
	for k, v := range s.orders {
		snap.orders[k] = v
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.products = snap.products
	s.customers = snap.customers
	s.orders = snap.orders
	s.outbox = snap.outbox
}

func (s *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if s.beginErr != nil {
		return s.beginErr
	}
	snap := s.snapshot()
	if err := fn(ctx, memTx{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type memTx struct{ s *memStore }

func (t memTx) Products() product.Repository { return memProducts{s: t.s} }
func (t memTx) Customers() customer.Directory { return memCustomers{s: t.s} }
func (t memTx) Orders() Repository { return memOrders{s: t.s} }
func (t memTx) Outbox() Outbox { return memOutbox{s: t.s} }

type memProducts struct{ s *memStore }

func (m memProducts) GetByID(_ context.Context, id int64) (*product.Product, error) {
	p, ok := m.s.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (m memProducts) List(_ context.Context, _ product.Filter) ([]product.Product, error) {
	out := make([]product.Product, 0, len(m.s.products))
	for _, p := range m.s.products {
		out = append(out, p)
	}
	return out, nil
}

func (m memProducts) Lock(_ context.Context, ids []int64) error {
	m.s.locked = append(m.s.locked, append([]int64(nil), ids...))
	return nil
}

func (m memProducts) ReserveStock(_ context.Context, id int64, qty int) error {
	p, ok := m.s.products[id]
	if !ok {
		return product.ErrNotFound
	}
	if p.Stock == nil {
		return nil
	}
	if *p.Stock < qty {
		return product.ErrInsufficientStock
	}
	left := *p.Stock - qty
	p.Stock = &left
	m.s.products[id] = p
	return nil
}

type memCustomers struct{ s *memStore }

func (m memCustomers) GetByID(_ context.Context, id int64) (*customer.Customer, error) {
	c, ok := m.s.customers[id]
	if !ok {
		return nil, customer.ErrNotFound
	}
	return &c, nil
}

func (m memCustomers) FindByEmail(_ context.Context, email string) (*customer.Customer, error) {
	for _, c := range m.s.customers {
		if c.Email == email {
			return &c, nil
		}
	}
	return nil, customer.ErrNotFound
}

func (m memCustomers) Create(_ context.Context, c *customer.Customer) error {
	for _, existing := range m.s.customers {
		if existing.Email == c.Email {
			return customer.ErrConflict
		}
	}
	c.ID = m.s.id()
	m.s.customers[c.ID] = *c
	return nil
}

type memOrders struct{ s *memStore }

func (m memOrders) Create(_ context.Context, o *Order) error {
	if m.s.failStep == "create_order" {
		return errors.New("insert failed")
	}
	o.ID = m.s.id()
	o.CreatedAt = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	o.UpdatedAt = o.CreatedAt
	m.s.orders[o.ID] = *o
	return nil
}

func (m memOrders) CreateItems(_ context.Context, orderID int64, items []LineItem) error {
	if m.s.failStep == "create_items" {
		return errors.New("insert items failed")
	}
	o, ok := m.s.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	for i := range items {
		items[i].ID = m.s.id()
		items[i].OrderID = orderID
	}
	o.Items = append([]LineItem(nil), items...)
	m.s.orders[orderID] = o
	return nil
}

func (m memOrders) assemble(o Order) Order {
	if c, ok := m.s.customers[o.CustomerID]; ok {
		o.Customer = &c
	}
	return o
}

func (m memOrders) GetByID(_ context.Context, id int64) (*Order, error) {
	if m.s.reloadErr != nil {
		return nil, m.s.reloadErr
	}
	o, ok := m.s.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	o = m.assemble(o)
	return &o, nil
}

func (m memOrders) List(_ context.Context) ([]Order, error) {
	out := make([]Order, 0, len(m.s.orders))
	for _, o := range m.s.orders {
		out = append(out, m.assemble(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m memOrders) ListByCustomer(ctx context.Context, customerID int64) ([]Order, error) {
	all, _ := m.List(ctx)
	var out []Order
	for _, o := range all {
		if o.CustomerID == customerID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m memOrders) ListDueBetween(_ context.Context, from, to time.Time) ([]Order, error) {
	var out []Order
	for _, o := range m.s.orders {
		if o.DeliveryDate.Before(from) || o.DeliveryDate.After(to) {
			continue
		}
		out = append(out, m.assemble(o))
	}
	return out, nil
}

func (m memOrders) UpdateStatus(_ context.Context, id int64, status Status) (*Order, error) {
	o, ok := m.s.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	o.Status = status
	m.s.orders[id] = o
	o = m.assemble(o)
	return &o, nil
}

type memOutbox struct{ s *memStore }

func (m memOutbox) Enqueue(_ context.Context, kind NotificationKind, orderID int64) error {
	if m.s.failStep == "enqueue" {
		return errors.New("enqueue failed")
	}
	m.s.outbox = append(m.s.outbox, Notification{ID: m.s.id(), Kind: kind, OrderID: orderID})
	return nil
}

// --- Helpers ---

func stock(n int) *int { return &n }

func bound(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func newTestProduct(id int64, name, price string) product.Product {
	return product.Product{
		ID:        id,
		Name:      name,
		Price:     decimal.RequireFromString(price),
		Available: true,
		Category:  "torte",
	}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
