package notify

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/orderdesk/internal/domain/order"
)

// Queue is the outbox as seen by the relay.
type Queue interface {
	Claim(ctx context.Context, limit int, lease time.Duration, maxAttempts int) ([]order.Notification, error)
	MarkSent(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, reason string, retryAfter time.Duration) error
}

// OrderLoader reads the assembled order a notification refers to.
type OrderLoader interface {
	GetByID(ctx context.Context, id int64) (*order.Order, error)
}

// RelayConfig tunes the relay loop.
type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	// SendTimeout bounds one delivery including the order read.
	SendTimeout time.Duration
	// Lease is how long a claimed notification stays invisible to other
	// relays. It must exceed SendTimeout.
	Lease time.Duration
	// RetryBackoff is multiplied by the attempt count after a failure.
	RetryBackoff time.Duration
}

func (c *RelayConfig) setDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 15 * time.Second
	}
	if c.Lease <= c.SendTimeout {
		c.Lease = 2 * c.SendTimeout
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 30 * time.Second
	}
}

// Relay delivers outbox notifications committed with their orders. Delivery
// is at least once: a crash between send and MarkSent resends after the
// lease expires. Failures never reach the order that produced them.
type Relay struct {
	queue    Queue
	orders   OrderLoader
	notifier order.Notifier
	cfg      RelayConfig
	lg       *zap.Logger
	wake     chan struct{}

	sent   metric.Int64Counter
	failed metric.Int64Counter
}

// NewRelay creates a Relay. A nil MeterProvider disables metrics.
func NewRelay(
	queue Queue,
	orders OrderLoader,
	notifier order.Notifier,
	cfg RelayConfig,
	lg *zap.Logger,
	mp metric.MeterProvider,
) (*Relay, error) {
	cfg.setDefaults()
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	meter := mp.Meter("github.com/xenking/orderdesk/internal/notify")
	sent, err := meter.Int64Counter("orderdesk.notifications.sent",
		metric.WithDescription("Notifications delivered"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create sent counter")
	}
	failed, err := meter.Int64Counter("orderdesk.notifications.failed",
		metric.WithDescription("Notification delivery attempts that failed"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create failed counter")
	}

	return &Relay{
		queue:    queue,
		orders:   orders,
		notifier: notifier,
		cfg:      cfg,
		lg:       lg.Named("relay"),
		wake:     make(chan struct{}, 1),
		sent:     sent,
		failed:   failed,
	}, nil
}

// Nudge wakes the relay without waiting for the next poll. It never blocks.
func (r *Relay) Nudge() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run polls the outbox until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	r.lg.Info("Relay started",
		zap.Duration("poll_interval", r.cfg.PollInterval),
		zap.Int("batch_size", r.cfg.BatchSize),
	)
	for {
		if _, err := r.Drain(ctx); err != nil && ctx.Err() == nil {
			r.lg.Error("Drain outbox", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			r.lg.Info("Relay stopped")
			return nil
		case <-ticker.C:
		case <-r.wake:
		}
	}
}

// Drain delivers claimable notifications batch by batch until the outbox has
// nothing more to hand out. It returns how many were delivered.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	delivered := 0
	for ctx.Err() == nil {
		batch, err := r.queue.Claim(ctx, r.cfg.BatchSize, r.cfg.Lease, r.cfg.MaxAttempts)
		if err != nil {
			return delivered, errors.Wrap(err, "claim")
		}
		for _, n := range batch {
			if r.process(ctx, n) {
				delivered++
			}
		}
		if len(batch) < r.cfg.BatchSize {
			break
		}
	}
	return delivered, nil
}

func (r *Relay) process(ctx context.Context, n order.Notification) bool {
	lg := r.lg.With(
		zap.Int64("notification_id", n.ID),
		zap.String("event_id", n.EventID),
		zap.String("kind", string(n.Kind)),
		zap.Int64("order_id", n.OrderID),
		zap.Int("attempt", n.Attempts),
	)
	attrs := metric.WithAttributes(attribute.String("kind", string(n.Kind)))

	if err := r.deliver(ctx, n); err != nil {
		r.failed.Add(ctx, 1, attrs)
		if n.Attempts >= r.cfg.MaxAttempts {
			lg.Error("Giving up on notification", zap.Error(err))
		} else {
			lg.Warn("Deliver notification", zap.Error(err))
		}
		backoff := r.cfg.RetryBackoff * time.Duration(n.Attempts)
		if markErr := r.queue.MarkFailed(ctx, n.ID, err.Error(), backoff); markErr != nil {
			lg.Error("Record notification failure", zap.Error(markErr))
		}
		return false
	}

	r.sent.Add(ctx, 1, attrs)
	if err := r.queue.MarkSent(ctx, n.ID); err != nil {
		// Delivered but still leased; it will be sent again after the lease.
		lg.Error("Mark notification sent", zap.Error(err))
	}
	lg.Debug("Notification delivered")
	return true
}

func (r *Relay) deliver(ctx context.Context, n order.Notification) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.SendTimeout)
	defer cancel()
	ctx = order.WithEventID(ctx, n.EventID)

	o, err := r.orders.GetByID(ctx, n.OrderID)
	if err != nil {
		return errors.Wrap(err, "load order")
	}

	switch n.Kind {
	case order.NotificationOrderConfirmation:
		return r.notifier.SendOrderConfirmation(ctx, o)
	case order.NotificationStaffAlert:
		return r.notifier.SendStaffAlert(ctx, o)
	default:
		return errors.Errorf("unknown notification kind %q", n.Kind)
	}
}
