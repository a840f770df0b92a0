package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xenking/orderdesk/internal/domain/order"
)

// Settings are shared by every sink.
type Settings struct {
	// StaffAddress receives staff alerts and the daily report.
	StaffAddress string
	// WindowDays is the report window length quoted in the daily report.
	WindowDays int
}

var _ order.Notifier = (*LogNotifier)(nil)

// LogNotifier writes rendered notifications to the log. It is the default
// sink when no delivery backend is configured.
type LogNotifier struct {
	lg       *zap.Logger
	settings Settings
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(lg *zap.Logger, s Settings) *LogNotifier {
	return &LogNotifier{lg: lg.Named("notify"), settings: s}
}

func (n *LogNotifier) write(ctx context.Context, kind string, msg Message, fields ...zap.Field) {
	n.lg.Info("Notification",
		append([]zap.Field{
			zap.String("kind", kind),
			zap.String("event_id", order.EventID(ctx)),
			zap.String("to", msg.To),
			zap.String("subject", msg.Subject),
			zap.String("body", msg.Body),
		}, fields...)...,
	)
}

func (n *LogNotifier) SendOrderConfirmation(ctx context.Context, o *order.Order) error {
	n.write(ctx, string(order.NotificationOrderConfirmation), ConfirmationMessage(o), zap.Int64("order_id", o.ID))
	return nil
}

func (n *LogNotifier) SendStaffAlert(ctx context.Context, o *order.Order) error {
	n.write(ctx, string(order.NotificationStaffAlert), StaffAlertMessage(o, n.settings.StaffAddress), zap.Int64("order_id", o.ID))
	return nil
}

func (n *LogNotifier) SendDailyReport(ctx context.Context, day time.Time, orders []order.Order) error {
	n.write(ctx, KindDailyReport, DailyReportMessage(day, n.settings.WindowDays, orders, n.settings.StaffAddress),
		zap.Int("orders", len(orders)),
	)
	return nil
}
