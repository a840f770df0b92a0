package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/orderdesk/internal/domain/customer"
	"github.com/xenking/orderdesk/internal/domain/order"
)

const (
	createOrderSQL = `INSERT INTO orders
		(customer_id, email, name, surname, phone, delivery_date, delivery_location, total, status, request_notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''))
		RETURNING id, created_at, updated_at`

	createOrderItemSQL = `INSERT INTO order_items (order_id, product_id, quantity, unit_price, configuration_notes)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
		RETURNING id`

	selectOrdersSQL = `SELECT o.id, o.customer_id, o.email, o.name, o.surname, o.phone,
		o.delivery_date, o.delivery_location, o.total, o.status, COALESCE(o.request_notes, ''),
		o.created_at, o.updated_at,
		c.id, c.email, c.name, c.surname, c.phone, COALESCE(c.address, ''), COALESCE(c.notes, ''),
		c.created_at, c.updated_at
		FROM orders o
		JOIN customers c ON c.id = o.customer_id`

	getOrderByIDSQL = selectOrdersSQL + ` WHERE o.id = $1`

	listOrdersSQL = selectOrdersSQL + ` ORDER BY o.created_at DESC, o.id DESC`

	listOrdersByCustomerSQL = selectOrdersSQL + ` WHERE o.customer_id = $1 ORDER BY o.created_at DESC, o.id DESC`

	listOrdersDueSQL = selectOrdersSQL + ` WHERE o.delivery_date BETWEEN $1 AND $2
		ORDER BY o.delivery_date, o.id`

	listOrderItemsSQL = `SELECT i.id, i.order_id, i.product_id, p.name, i.quantity, i.unit_price,
		COALESCE(i.configuration_notes, '')
		FROM order_items i
		JOIN products p ON p.id = i.product_id
		WHERE i.order_id = ANY($1)
		ORDER BY i.order_id, i.id`

	updateOrderStatusSQL = `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Reads
// return orders assembled with their customer and line items.
type OrderRepository struct {
	q querier
}

// NewOrderRepository returns an OrderRepository that uses the given querier.
func NewOrderRepository(q querier) *OrderRepository {
	return &OrderRepository{q: q}
}

// Create inserts the order row and fills its ID and timestamps.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	err := r.q.QueryRow(ctx, createOrderSQL,
		o.CustomerID, o.Contact.Email, o.Contact.Name, o.Contact.Surname, o.Contact.Phone,
		o.DeliveryDate, o.DeliveryLocation, o.Total, string(o.Status), o.RequestNotes,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("creating order: %w", err)
	}
	return nil
}

// CreateItems inserts the line items in one round trip and fills their IDs.
func (r *OrderRepository) CreateItems(ctx context.Context, orderID int64, items []order.LineItem) error {
	batch := &pgx.Batch{}
	for i := range items {
		item := &items[i]
		item.OrderID = orderID
		batch.Queue(createOrderItemSQL,
			orderID, item.ProductID, item.Quantity, item.UnitPrice, item.ConfigurationNotes,
		).QueryRow(func(row pgx.Row) error {
			return row.Scan(&item.ID)
		})
	}

	if err := r.q.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("creating items of order %d: %w", orderID, err)
	}
	return nil
}

// GetByID returns the assembled order or order.ErrOrderNotFound.
func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*order.Order, error) {
	orders, err := r.list(ctx, getOrderByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %d: %w", id, err)
	}
	if len(orders) == 0 {
		return nil, order.ErrOrderNotFound
	}
	return &orders[0], nil
}

// List returns every order, newest first.
func (r *OrderRepository) List(ctx context.Context) ([]order.Order, error) {
	orders, err := r.list(ctx, listOrdersSQL)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return orders, nil
}

// ListByCustomer returns the orders of one customer, newest first.
func (r *OrderRepository) ListByCustomer(ctx context.Context, customerID int64) ([]order.Order, error) {
	orders, err := r.list(ctx, listOrdersByCustomerSQL, customerID)
	if err != nil {
		return nil, fmt.Errorf("listing orders of customer %d: %w", customerID, err)
	}
	return orders, nil
}

// ListDueBetween returns orders with from <= delivery_date <= to.
func (r *OrderRepository) ListDueBetween(ctx context.Context, from, to time.Time) ([]order.Order, error) {
	orders, err := r.list(ctx, listOrdersDueSQL, from, to)
	if err != nil {
		return nil, fmt.Errorf("listing orders due %s..%s: %w",
			from.Format(time.DateOnly), to.Format(time.DateOnly), err)
	}
	return orders, nil
}

// UpdateStatus sets the status and returns the updated order.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id int64, status order.Status) (*order.Order, error) {
	tag, err := r.q.Exec(ctx, updateOrderStatusSQL, id, string(status))
	if err != nil {
		return nil, fmt.Errorf("updating status of order %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, order.ErrOrderNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *OrderRepository) list(ctx context.Context, query string, args ...any) ([]order.Order, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]int64, len(orders))
	byID := make(map[int64]*order.Order, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		byID[orders[i].ID] = &orders[i]
	}

	rows, err = r.q.Query(ctx, listOrderItemsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "query items")
	}
	items, err := pgx.CollectRows(rows, scanLineItem)
	if err != nil {
		return nil, errors.Wrap(err, "scan items")
	}
	for _, item := range items {
		o := byID[item.OrderID]
		o.Items = append(o.Items, item)
	}

	return orders, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		c      customer.Customer
		status string
	)
	err := row.Scan(
		&o.ID, &o.CustomerID, &o.Contact.Email, &o.Contact.Name, &o.Contact.Surname, &o.Contact.Phone,
		&o.DeliveryDate, &o.DeliveryLocation, &o.Total, &status, &o.RequestNotes,
		&o.CreatedAt, &o.UpdatedAt,
		&c.ID, &c.Email, &c.Name, &c.Surname, &c.Phone, &c.Address, &c.Notes,
		&c.CreatedAt, &c.UpdatedAt,
	)
	o.Status = order.Status(status)
	o.Customer = &c
	return o, err
}

func scanLineItem(row pgx.CollectableRow) (order.LineItem, error) {
	var li order.LineItem
	err := row.Scan(
		&li.ID, &li.OrderID, &li.ProductID, &li.ProductName, &li.Quantity, &li.UnitPrice,
		&li.ConfigurationNotes,
	)
	return li, err
}
