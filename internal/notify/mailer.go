package notify

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/orderdesk/internal/domain/order"
)

// KindDailyReport names the daily report in payloads and logs.
const KindDailyReport = "daily_report"

// MailerConfig configures MailerNotifier.
type MailerConfig struct {
	// URL of the mail service endpoint accepting {to, subject, body, kind}.
	// Relay deliveries also carry event_id and an Idempotency-Key header.
	URL     string
	Timeout time.Duration
	// TracerProvider instruments outgoing requests. Nil uses the global one.
	TracerProvider trace.TracerProvider
}

var _ order.Notifier = (*MailerNotifier)(nil)

// MailerNotifier posts rendered messages to an HTTP mail service.
type MailerNotifier struct {
	url      string
	client   *http.Client
	settings Settings
}

// NewMailerNotifier creates a MailerNotifier.
func NewMailerNotifier(cfg MailerConfig, s Settings) (*MailerNotifier, error) {
	if cfg.URL == "" {
		return nil, errors.New("mailer url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	var opts []otelhttp.Option
	if cfg.TracerProvider != nil {
		opts = append(opts, otelhttp.WithTracerProvider(cfg.TracerProvider))
	}
	return &MailerNotifier{
		url: cfg.URL,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport, opts...),
		},
		settings: s,
	}, nil
}

func (n *MailerNotifier) SendOrderConfirmation(ctx context.Context, o *order.Order) error {
	return n.send(ctx, string(order.NotificationOrderConfirmation), ConfirmationMessage(o))
}

func (n *MailerNotifier) SendStaffAlert(ctx context.Context, o *order.Order) error {
	return n.send(ctx, string(order.NotificationStaffAlert), StaffAlertMessage(o, n.settings.StaffAddress))
}

func (n *MailerNotifier) SendDailyReport(ctx context.Context, day time.Time, orders []order.Order) error {
	return n.send(ctx, KindDailyReport, DailyReportMessage(day, n.settings.WindowDays, orders, n.settings.StaffAddress))
}

func (n *MailerNotifier) send(ctx context.Context, kind string, msg Message) error {
	if msg.To == "" {
		return errors.Errorf("%s: no recipient", kind)
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("to")
	e.Str(msg.To)
	e.FieldStart("subject")
	e.Str(msg.Subject)
	e.FieldStart("body")
	e.Str(msg.Body)
	e.FieldStart("kind")
	e.Str(kind)
	eventID := order.EventID(ctx)
	if eventID != "" {
		e.FieldStart("event_id")
		e.Str(eventID)
	}
	e.ObjEnd()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(e.Bytes()))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if eventID != "" {
		req.Header.Set("Idempotency-Key", eventID)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "send %s", kind)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Errorf("send %s: mail service returned %d: %s", kind, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
