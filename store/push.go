package store

import (
	"context"
	"fmt"
	"time"
)

// ListPushSubscriptions returns all live push subscriptions
func (s *Store) ListPushSubscriptions(ctx context.Context) ([]PushSubscription, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT id, endpoint, p256dh, auth, addresses, events, threshold, created_at
		FROM push_subscriptions FINAL
		WHERE deleted = 0`)
	if err != nil {
		return nil, fmt.Errorf("failed to query push subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []PushSubscription
	for rows.Next() {
		var sub PushSubscription
		if err := rows.Scan(
			&sub.ID, &sub.Endpoint, &sub.P256dh, &sub.Auth,
			&sub.Addresses, &sub.Events, &sub.Threshold, &sub.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan push subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// InsertPushSubscription registers a new push subscription
func (s *Store) InsertPushSubscription(ctx context.Context, sub *PushSubscription) error {
	err := s.conn.Exec(ctx, `
		INSERT INTO push_subscriptions (
			id, endpoint, p256dh, auth, addresses, events, threshold,
			created_at, deleted, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		sub.ID, sub.Endpoint, sub.P256dh, sub.Auth,
		sub.Addresses, sub.Events, sub.Threshold,
		sub.CreatedAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert push subscription: %w", err)
	}
	return nil
}

// DeletePushSubscription tombstones a subscription, typically after the
// push endpoint reported gone
func (s *Store) DeletePushSubscription(ctx context.Context, id string) error {
	err := s.conn.Exec(ctx, `
		INSERT INTO push_subscriptions (
			id, endpoint, p256dh, auth, addresses, events, threshold,
			created_at, deleted, updated_at
		)
		SELECT id, endpoint, p256dh, auth, addresses, events, threshold,
		       created_at, 1, ?
		FROM push_subscriptions FINAL
		WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to delete push subscription: %w", err)
	}
	return nil
}

// HasNotification reports whether a push was already sent for
// (subscription, address, tick)
func (s *Store) HasNotification(ctx context.Context, subscriptionID, address string, tickNumber uint64) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `
		SELECT count() FROM notification_log FINAL
		WHERE subscription_id = ? AND address = ? AND tick_number = ?`,
		subscriptionID, address, tickNumber).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check notification log: %w", err)
	}
	return count > 0, nil
}

// InsertNotification records a sent push for deduplication
func (s *Store) InsertNotification(ctx context.Context, rec *NotificationRecord) error {
	err := s.conn.Exec(ctx, `
		INSERT INTO notification_log (subscription_id, address, tick_number, sent_at)
		VALUES (?, ?, ?, ?)`,
		rec.SubscriptionID, rec.Address, rec.TickNumber, rec.SentAt)
	if err != nil {
		return fmt.Errorf("failed to insert notification record: %w", err)
	}
	return nil
}
