package order

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/orderdesk/internal/domain/customer"
	"github.com/xenking/orderdesk/internal/domain/product"
)

const instrumentationName = "github.com/xenking/orderdesk/internal/domain/order"

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	// CustomerID selects an existing customer. Zero resolves the customer by
	// email, creating it on first order.
	CustomerID       int64
	Email            string
	Name             string
	Surname          string
	Phone            string
	DeliveryDate     time.Time
	DeliveryLocation string
	RequestNotes     string
	Items            []CartItem
}

// Validate checks required top-level fields and a non-empty cart.
func (r *PlaceOrderRequest) Validate() error {
	required := []struct {
		field string
		value string
	}{
		{"email", r.Email},
		{"nome", r.Name},
		{"cognome", r.Surname},
		{"cellulare", r.Phone},
		{"luogo_consegna", r.DeliveryLocation},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return &ValidationError{Field: f.field, Reason: "required"}
		}
	}
	if r.DeliveryDate.IsZero() {
		return &ValidationError{Field: "data_consegna", Reason: "required"}
	}
	if len(r.Items) == 0 {
		return &ValidationError{Field: "prodotti", Reason: "at least one product is required"}
	}
	return nil
}

type coordinatorOptions struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	afterCommit    func()
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*coordinatorOptions)

// WithTracerProvider sets the tracer provider used for order spans.
func WithTracerProvider(tp trace.TracerProvider) CoordinatorOption {
	return func(o *coordinatorOptions) { o.tracerProvider = tp }
}

// WithMeterProvider sets the meter provider used for order metrics.
func WithMeterProvider(mp metric.MeterProvider) CoordinatorOption {
	return func(o *coordinatorOptions) { o.meterProvider = mp }
}

// WithAfterCommit registers a hook called after every committed order,
// typically waking the notification relay.
func WithAfterCommit(fn func()) CoordinatorOption {
	return func(o *coordinatorOptions) { o.afterCommit = fn }
}

// Coordinator owns the order-creation transaction: customer resolution,
// pricing, stock reservation and the atomic write of an order with its line
// items and queued notifications.
type Coordinator struct {
	tx          Transactor
	orders      Repository
	pricing     *PricingEngine
	afterCommit func()

	tracer   trace.Tracer
	created  metric.Int64Counter
	failed   metric.Int64Counter
	duration metric.Float64Histogram
}

// NewCoordinator creates a Coordinator. orders is used for reads outside the
// order transaction.
func NewCoordinator(tx Transactor, orders Repository, opts ...CoordinatorOption) (*Coordinator, error) {
	o := coordinatorOptions{
		tracerProvider: tracenoop.NewTracerProvider(),
		meterProvider:  metricnoop.NewMeterProvider(),
		afterCommit:    func() {},
	}
	for _, opt := range opts {
		opt(&o)
	}

	meter := o.meterProvider.Meter(instrumentationName)
	created, err := meter.Int64Counter("orderdesk.orders.created",
		metric.WithDescription("Orders committed"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create orders.created counter")
	}
	failed, err := meter.Int64Counter("orderdesk.orders.failed",
		metric.WithDescription("Order placements rolled back or rejected"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create orders.failed counter")
	}
	duration, err := meter.Float64Histogram("orderdesk.orders.place_duration",
		metric.WithDescription("Order placement duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create place_duration histogram")
	}

	return &Coordinator{
		tx:          tx,
		orders:      orders,
		pricing:     NewPricingEngine(),
		afterCommit: o.afterCommit,
		tracer:      o.tracerProvider.Tracer(instrumentationName),
		created:     created,
		failed:      failed,
		duration:    duration,
	}, nil
}

// PlaceOrder validates the request and, inside one transaction, resolves the
// customer, prices the cart against locked catalog rows, reserves stock,
// inserts the order and its line items and queues the confirmation and staff
// notifications. Any failure rolls the whole unit back.
//
// After commit the order is re-read joined with its customer and line items.
// A failing re-read does not fail the call since the order is already durable.
func (c *Coordinator) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*Order, error) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "order.PlaceOrder")
	defer span.End()

	placed, err := c.place(ctx, req)
	c.duration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		c.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", failureReason(err))))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	c.created.Add(ctx, 1)
	span.SetAttributes(attribute.Int64("order.id", placed.ID))

	c.afterCommit()

	full, err := c.orders.GetByID(ctx, placed.ID)
	if err != nil {
		zctx.From(ctx).Warn("Reload placed order",
			zap.Int64("order_id", placed.ID),
			zap.Error(err),
		)
		return placed, nil
	}
	return full, nil
}

func (c *Coordinator) place(ctx context.Context, req PlaceOrderRequest) (*Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var placed *Order
	err := c.tx.InTx(ctx, func(ctx context.Context, tx Tx) error {
		customerID, err := resolveCustomer(ctx, tx.Customers(), req)
		if err != nil {
			return err
		}

		// Catalog reads happen inside the transaction so validation and
		// pricing see the same rows that get reserved. Locks are taken up
		// front in id order; locking in cart order lets two carts listing
		// the same products in opposite order deadlock.
		if err := tx.Products().Lock(ctx, cartProductIDs(req.Items)); err != nil {
			return errors.Wrap(err, "lock products")
		}
		quote, err := c.pricing.Price(ctx, tx.Products(), req.Items)
		if err != nil {
			return err
		}

		for _, line := range quote.Lines {
			if !line.Product.Limited() {
				continue
			}
			if err := tx.Products().ReserveStock(ctx, line.Product.ID, line.Quantity); err != nil {
				if errors.Is(err, product.ErrInsufficientStock) {
					return &InsufficientStockError{ProductID: line.Product.ID, Requested: line.Quantity}
				}
				return errors.Wrapf(err, "reserve stock for product %d", line.Product.ID)
			}
		}

		o := &Order{
			CustomerID: customerID,
			Contact: Contact{
				Email:   strings.TrimSpace(req.Email),
				Name:    strings.TrimSpace(req.Name),
				Surname: strings.TrimSpace(req.Surname),
				Phone:   strings.TrimSpace(req.Phone),
			},
			DeliveryDate:     civilDate(req.DeliveryDate),
			DeliveryLocation: strings.TrimSpace(req.DeliveryLocation),
			Total:            quote.Total,
			Status:           StatusPending,
			RequestNotes:     strings.TrimSpace(req.RequestNotes),
		}
		if err := tx.Orders().Create(ctx, o); err != nil {
			return errors.Wrap(err, "insert order")
		}

		items := quote.LineItems()
		if err := tx.Orders().CreateItems(ctx, o.ID, items); err != nil {
			return errors.Wrap(err, "insert line items")
		}
		o.Items = items

		for _, kind := range []NotificationKind{NotificationOrderConfirmation, NotificationStaffAlert} {
			if err := tx.Outbox().Enqueue(ctx, kind, o.ID); err != nil {
				return errors.Wrapf(err, "enqueue %s", kind)
			}
		}

		placed = o
		return nil
	})
	if err != nil {
		if IsClientError(err) {
			return nil, err
		}
		return nil, &StorageError{Op: "place order", Err: err}
	}

	return placed, nil
}

// cartProductIDs returns the distinct product ids of items in ascending order.
func cartProductIDs(items []CartItem) []int64 {
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

// resolveCustomer returns the customer id for the order: the explicit id when
// it exists, otherwise the customer registered under the email, creating it
// with the delivery location as address.
func resolveCustomer(ctx context.Context, dir customer.Directory, req PlaceOrderRequest) (int64, error) {
	if req.CustomerID != 0 {
		if _, err := dir.GetByID(ctx, req.CustomerID); err != nil {
			if errors.Is(err, customer.ErrNotFound) {
				return 0, &CustomerNotFoundError{CustomerID: req.CustomerID}
			}
			return 0, errors.Wrap(err, "get customer")
		}
		return req.CustomerID, nil
	}

	email := customer.NormalizeEmail(req.Email)
	existing, err := dir.FindByEmail(ctx, email)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, customer.ErrNotFound) {
		return 0, errors.Wrap(err, "find customer by email")
	}

	c := &customer.Customer{
		Email:   email,
		Name:    strings.TrimSpace(req.Name),
		Surname: strings.TrimSpace(req.Surname),
		Phone:   strings.TrimSpace(req.Phone),
		Address: strings.TrimSpace(req.DeliveryLocation),
	}
	if err := dir.Create(ctx, c); err != nil {
		if !errors.Is(err, customer.ErrConflict) {
			return 0, errors.Wrap(err, "create customer")
		}
		// A concurrent first order registered the same email.
		existing, err := dir.FindByEmail(ctx, email)
		if err != nil {
			return 0, errors.Wrap(err, "find customer after conflict")
		}
		return existing.ID, nil
	}
	return c.ID, nil
}

// UpdateStatus writes a new status for the order. Any enumerated status may
// follow any other; values outside the set are rejected before the write.
func (c *Coordinator) UpdateStatus(ctx context.Context, id int64, raw string) (*Order, error) {
	status, err := ParseStatus(raw)
	if err != nil {
		return nil, err
	}
	o, err := c.orders.UpdateStatus(ctx, id, status)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, errors.Wrapf(err, "update status of order %d", id)
	}
	return o, nil
}

// GetOrder returns the order with its customer and line items.
func (c *Coordinator) GetOrder(ctx context.Context, id int64) (*Order, error) {
	o, err := c.orders.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, errors.Wrapf(err, "get order %d", id)
	}
	return o, nil
}

// ListOrders returns every order, newest first.
func (c *Coordinator) ListOrders(ctx context.Context) ([]Order, error) {
	orders, err := c.orders.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}

// ListCustomerOrders returns the orders of one customer, newest first.
func (c *Coordinator) ListCustomerOrders(ctx context.Context, customerID int64) ([]Order, error) {
	orders, err := c.orders.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, errors.Wrapf(err, "list orders of customer %d", customerID)
	}
	return orders, nil
}

func failureReason(err error) string {
	var (
		validation  *ValidationError
		notFound    *ProductNotFoundError
		unavailable *ProductUnavailableError
		stock       *InsufficientStockError
		price       *ConfiguredPriceError
		cust        *CustomerNotFoundError
	)
	switch {
	case errors.As(err, &validation):
		return "validation"
	case errors.As(err, &notFound):
		return "product_not_found"
	case errors.As(err, &unavailable):
		return "product_unavailable"
	case errors.As(err, &stock):
		return "insufficient_stock"
	case errors.As(err, &price):
		return "configured_price"
	case errors.As(err, &cust):
		return "customer_not_found"
	default:
		return "storage"
	}
}
