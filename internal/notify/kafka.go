package notify

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"github.com/xenking/orderdesk/internal/domain/order"
	"github.com/xenking/orderdesk/internal/wire"
)

// MessageWriter is the subset of *kafka.Writer used by KafkaNotifier.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter returns a writer publishing to topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		BatchTimeout:           100 * time.Millisecond,
		RequiredAcks:           kafka.RequireAll,
	}
}

var _ order.Notifier = (*KafkaNotifier)(nil)

// KafkaNotifier publishes one event per notification. Order events are keyed
// by order id so a consumer sees the events of one order in sequence. A
// downstream mail worker renders and sends them.
type KafkaNotifier struct {
	w        MessageWriter
	settings Settings
	now      func() time.Time
}

// NewKafkaNotifier creates a KafkaNotifier writing to w.
func NewKafkaNotifier(w MessageWriter, s Settings) *KafkaNotifier {
	return &KafkaNotifier{w: w, settings: s, now: time.Now}
}

func (n *KafkaNotifier) SendOrderConfirmation(ctx context.Context, o *order.Order) error {
	return n.publishOrder(ctx, string(order.NotificationOrderConfirmation), recipient(o), o)
}

func (n *KafkaNotifier) SendStaffAlert(ctx context.Context, o *order.Order) error {
	return n.publishOrder(ctx, string(order.NotificationStaffAlert), n.settings.StaffAddress, o)
}

func (n *KafkaNotifier) SendDailyReport(ctx context.Context, day time.Time, orders []order.Order) error {
	var e jx.Encoder
	e.ObjStart()
	n.header(ctx, &e, KindDailyReport, n.settings.StaffAddress)
	e.FieldStart("date")
	e.Str(wire.Date(day))
	e.FieldStart("window_days")
	e.Int(n.settings.WindowDays)
	e.FieldStart("orders")
	wire.EncodeOrders(&e, orders)
	e.ObjEnd()

	return n.publish(ctx, KindDailyReport, wire.Date(day), e.Bytes())
}

// Close flushes and closes the underlying writer.
func (n *KafkaNotifier) Close() error {
	return n.w.Close()
}

func (n *KafkaNotifier) publishOrder(ctx context.Context, kind, to string, o *order.Order) error {
	var e jx.Encoder
	e.ObjStart()
	n.header(ctx, &e, kind, to)
	e.FieldStart("order")
	wire.EncodeOrder(&e, o)
	e.ObjEnd()

	return n.publish(ctx, kind, strconv.FormatInt(o.ID, 10), e.Bytes())
}

func (n *KafkaNotifier) header(ctx context.Context, e *jx.Encoder, kind, to string) {
	if id := order.EventID(ctx); id != "" {
		e.FieldStart("event_id")
		e.Str(id)
	}
	e.FieldStart("type")
	e.Str(kind)
	e.FieldStart("to")
	e.Str(to)
	e.FieldStart("occurred_at")
	e.Str(n.now().UTC().Format(time.RFC3339))
}

func (n *KafkaNotifier) publish(ctx context.Context, kind, key string, value []byte) error {
	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(kind)},
		},
	}
	if id := order.EventID(ctx); id != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "event_id", Value: []byte(id)})
	}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier{msg: &msg})

	if err := n.w.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "publish %s", kind)
	}
	return nil
}

// headerCarrier adapts kafka headers to propagation.TextMapCarrier.
type headerCarrier struct {
	msg *kafka.Message
}

func (c headerCarrier) Get(key string) string {
	for _, h := range c.msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c headerCarrier) Set(key, value string) {
	for i, h := range c.msg.Headers {
		if h.Key == key {
			c.msg.Headers[i].Value = []byte(value)
			return
		}
	}
	c.msg.Headers = append(c.msg.Headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, len(c.msg.Headers))
	for i, h := range c.msg.Headers {
		keys[i] = h.Key
	}
	return keys
}
