package notify

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/orderdesk/internal/domain/order"
)

// DailyReport sends the orders due within the delivery window to staff.
type DailyReport struct {
	window   *order.DeliveryWindow
	notifier order.Notifier
	loc      *time.Location
	lg       *zap.Logger
	now      func() time.Time
}

// NewDailyReport creates the report job. loc decides which calendar day is
// "today".
func NewDailyReport(window *order.DeliveryWindow, notifier order.Notifier, loc *time.Location, lg *zap.Logger) *DailyReport {
	return &DailyReport{
		window:   window,
		notifier: notifier,
		loc:      loc,
		lg:       lg.Named("report"),
		now:      time.Now,
	}
}

// Run queries the window for today and sends the report. An empty window
// still sends a report.
func (r *DailyReport) Run(ctx context.Context) error {
	today := order.Today(r.now(), r.loc)
	orders, err := r.window.Run(ctx, today)
	if err != nil {
		return errors.Wrap(err, "query delivery window")
	}
	if err := r.notifier.SendDailyReport(ctx, today, orders); err != nil {
		return errors.Wrap(err, "send daily report")
	}
	r.lg.Info("Daily report sent",
		zap.String("date", today.Format(time.DateOnly)),
		zap.Int("orders", len(orders)),
	)
	return nil
}
