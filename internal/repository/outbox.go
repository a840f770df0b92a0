package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/orderdesk/internal/domain/order"
)

const (
	enqueueNotificationSQL = `INSERT INTO notification_outbox (event_id, kind, order_id) VALUES ($1, $2, $3)`

	// Claimed rows are leased until claimed_until; a relay that dies mid
	// batch lets the lease expire and another relay picks the rows up.
	claimNotificationsSQL = `UPDATE notification_outbox
		SET claimed_until = now() + make_interval(secs => $2), attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM notification_outbox
			WHERE sent_at IS NULL
				AND attempts < $3
				AND (claimed_until IS NULL OR claimed_until <= now())
			ORDER BY id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, event_id::text, kind, order_id, attempts`

	markNotificationSentSQL = `UPDATE notification_outbox
		SET sent_at = now(), claimed_until = NULL, last_error = NULL
		WHERE id = $1`

	markNotificationFailedSQL = `UPDATE notification_outbox
		SET last_error = $2, claimed_until = now() + make_interval(secs => $3)
		WHERE id = $1`

	countPendingNotificationsSQL = `SELECT count(*) FROM notification_outbox WHERE sent_at IS NULL AND attempts < $1`
)

var _ order.Outbox = (*OutboxRepository)(nil)

// OutboxRepository stores notifications written in the order transaction and
// leases them to the relay.
type OutboxRepository struct {
	q querier
}

// NewOutboxRepository returns an OutboxRepository that uses the given querier.
func NewOutboxRepository(q querier) *OutboxRepository {
	return &OutboxRepository{q: q}
}

// Enqueue records a notification for orderID with a fresh event id.
func (r *OutboxRepository) Enqueue(ctx context.Context, kind order.NotificationKind, orderID int64) error {
	_, err := r.q.Exec(ctx, enqueueNotificationSQL, uuid.NewString(), string(kind), orderID)
	if err != nil {
		return fmt.Errorf("enqueueing %s for order %d: %w", kind, orderID, err)
	}
	return nil
}

// Claim leases up to limit pending notifications for lease and counts the
// claim as an attempt. Notifications that reached maxAttempts are skipped.
func (r *OutboxRepository) Claim(ctx context.Context, limit int, lease time.Duration, maxAttempts int) ([]order.Notification, error) {
	rows, err := r.q.Query(ctx, claimNotificationsSQL, limit, lease.Seconds(), maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("claiming notifications: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Notification, error) {
		var (
			n    order.Notification
			kind string
		)
		err := row.Scan(&n.ID, &n.EventID, &kind, &n.OrderID, &n.Attempts)
		n.Kind = order.NotificationKind(kind)
		return n, err
	})
}

// MarkSent completes a notification.
func (r *OutboxRepository) MarkSent(ctx context.Context, id int64) error {
	if _, err := r.q.Exec(ctx, markNotificationSentSQL, id); err != nil {
		return fmt.Errorf("marking notification %d sent: %w", id, err)
	}
	return nil
}

// MarkFailed records the failure and keeps the notification leased for
// retryAfter before it becomes claimable again.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id int64, reason string, retryAfter time.Duration) error {
	if _, err := r.q.Exec(ctx, markNotificationFailedSQL, id, reason, retryAfter.Seconds()); err != nil {
		return fmt.Errorf("marking notification %d failed: %w", id, err)
	}
	return nil
}

// Pending counts notifications still eligible for delivery.
func (r *OutboxRepository) Pending(ctx context.Context, maxAttempts int) (int64, error) {
	var n int64
	if err := r.q.QueryRow(ctx, countPendingNotificationsSQL, maxAttempts).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting pending notifications: %w", err)
	}
	return n, nil
}
