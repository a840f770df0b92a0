package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/orderdesk/internal/domain/customer"
	"github.com/xenking/orderdesk/internal/domain/product"
)

// Status is the lifecycle state of an order. Values are the wire
// representation used by the API and the database.
type Status string

const (
	StatusPending    Status = "pendente"
	StatusProcessing Status = "in_lavorazione"
	StatusShipped    Status = "spedito"
	StatusDelivered  Status = "consegnato"
	StatusCancelled  Status = "annullato"
)

// Statuses lists every valid status in lifecycle order.
var Statuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusShipped,
	StatusDelivered,
	StatusCancelled,
}

// Valid reports whether s is one of the enumerated statuses.
func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// ParseStatus converts a raw value into a Status, rejecting anything outside
// the enumerated set with a ValidationError.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", &ValidationError{Field: "stato", Reason: "must be one of pendente, in_lavorazione, spedito, consegnato, annullato"}
	}
	return s, nil
}

// Contact is the customer contact snapshot stored on the order. It is kept
// even if the customer record later changes.
type Contact struct {
	Email   string
	Name    string
	Surname string
	Phone   string
}

// Order is a placed order with its priced line items.
type Order struct {
	ID               int64
	CustomerID       int64
	Contact          Contact
	DeliveryDate     time.Time
	DeliveryLocation string
	Total            decimal.Decimal
	Status           Status
	RequestNotes     string
	Items            []LineItem
	CreatedAt        time.Time
	UpdatedAt        time.Time

	// Customer is populated by assembled reads.
	Customer *customer.Customer
}

// LineItem is one product, quantity and resolved unit price attached to an
// order.
type LineItem struct {
	ID                 int64
	OrderID            int64
	ProductID          int64
	ProductName        string
	Quantity           int
	UnitPrice          decimal.Decimal
	ConfigurationNotes string
}

// LineTotal returns UnitPrice × Quantity.
func (li LineItem) LineTotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// NotificationKind names a post-commit side effect queued in the outbox.
type NotificationKind string

const (
	NotificationOrderConfirmation NotificationKind = "order_confirmation"
	NotificationStaffAlert        NotificationKind = "staff_alert"
)

// Notification is a queued outbox entry.
type Notification struct {
	ID       int64
	EventID  string
	Kind     NotificationKind
	OrderID  int64
	Attempts int
}

type eventIDKey struct{}

// WithEventID attaches the outbox event id of the notification being
// delivered. Sinks forward it so consumers can drop redeliveries.
func WithEventID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, eventIDKey{}, id)
}

// EventID returns the id attached by WithEventID, or "" outside a relay
// delivery.
func EventID(ctx context.Context) string {
	id, _ := ctx.Value(eventIDKey{}).(string)
	return id
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create inserts the order row and fills ID and timestamps.
	Create(ctx context.Context, o *Order) error
	// CreateItems inserts the line items of orderID and fills their IDs.
	CreateItems(ctx context.Context, orderID int64, items []LineItem) error
	// GetByID returns the order joined with its customer and line items.
	GetByID(ctx context.Context, id int64) (*Order, error)
	List(ctx context.Context) ([]Order, error)
	ListByCustomer(ctx context.Context, customerID int64) ([]Order, error)
	// ListDueBetween returns orders with from <= delivery date <= to, ordered
	// by delivery date ascending.
	ListDueBetween(ctx context.Context, from, to time.Time) ([]Order, error)
	UpdateStatus(ctx context.Context, id int64, status Status) (*Order, error)
}

// Outbox queues notifications inside the order transaction.
type Outbox interface {
	Enqueue(ctx context.Context, kind NotificationKind, orderID int64) error
}

// Tx exposes the repositories bound to one database transaction.
type Tx interface {
	Products() product.Repository
	Customers() customer.Directory
	Orders() Repository
	Outbox() Outbox
}

// Transactor runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Notifier delivers best-effort notifications about orders.
type Notifier interface {
	SendOrderConfirmation(ctx context.Context, o *Order) error
	SendStaffAlert(ctx context.Context, o *Order) error
	SendDailyReport(ctx context.Context, day time.Time, orders []Order) error
}
