package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/msam-go/msam/types"
)

const subscriptionColumns = "alarm_key, subscriber_id, namespace, state_value, updated_at, state_updated_at"

func (c *Client) Subscribe(ctx context.Context, alarmKey types.AlarmKey, subscriberID string) error {
	if c.conn == nil {
		return errNotConnected
	}

	if err := validateSubscriptionKey(alarmKey, subscriberID); err != nil {
		return err
	}

	sql := fmt.Sprintf("INSERT INTO %s (alarm_key, subscriber_id, state_value, updated_at) VALUES ($1, $2, $3, $4) ON CONFLICT (alarm_key, subscriber_id) DO UPDATE SET state_value = EXCLUDED.state_value, updated_at = EXCLUDED.updated_at, state_updated_at = NULL", c.opts.subscriptionsTable)

	if _, err := c.conn.Exec(ctx, sql, alarmKey.String(), subscriberID, string(types.InitialAlarmState), c.opts.clock()); err != nil {
		return fmt.Errorf("failed to save subscription to Postgres db: %w", err)
	}

	return nil
}

func (c *Client) Unsubscribe(ctx context.Context, alarmKey types.AlarmKey, subscriberID string) error {
	if c.conn == nil {
		return errNotConnected
	}

	if err := validateSubscriptionKey(alarmKey, subscriberID); err != nil {
		return err
	}

	sql := fmt.Sprintf("DELETE FROM %s WHERE alarm_key = $1 AND subscriber_id = $2", c.opts.subscriptionsTable)

	if _, err := c.conn.Exec(ctx, sql, alarmKey.String(), subscriberID); err != nil {
		return fmt.Errorf("failed to delete subscription from Postgres db: %w", err)
	}

	return nil
}

// ListSubscribers reads the subscribers of alarmKey in pages of the
// configured page size, using keyset pagination on subscriber_id, until a
// short page is returned.
func (c *Client) ListSubscribers(ctx context.Context, alarmKey types.AlarmKey) ([]string, error) {
	if c.conn == nil {
		return nil, errNotConnected
	}

	if alarmKey == "" {
		return nil, errors.New("alarm key cannot be empty")
	}

	sql := fmt.Sprintf("SELECT subscriber_id FROM %s WHERE alarm_key = $1 AND subscriber_id > $2 ORDER BY subscriber_id LIMIT $3", c.opts.subscriptionsTable)

	subscribers := []string{}
	after := ""

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := c.listSubscribersPage(ctx, sql, alarmKey, after)
		if err != nil {
			return nil, err
		}

		subscribers = append(subscribers, page...)

		if len(page) < c.opts.pageSize {
			return subscribers, nil
		}

		after = page[len(page)-1]
	}
}

func (c *Client) listSubscribersPage(ctx context.Context, sql string, alarmKey types.AlarmKey, after string) ([]string, error) {
	rows, err := c.conn.Query(ctx, sql, alarmKey.String(), after, c.opts.pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscribers in Postgres db: %w", err)
	}

	defer rows.Close()

	var page []string

	for rows.Next() {
		var subscriberID string

		if err := rows.Scan(&subscriberID); err != nil {
			return nil, fmt.Errorf("failed to scan row for subscriber: %w", err)
		}

		page = append(page, subscriberID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over rows for subscribers: %w", err)
	}

	return page, nil
}

func (c *Client) ListByState(ctx context.Context, state types.AlarmState) ([]types.AlarmSubscription, error) {
	if c.conn == nil {
		return nil, errNotConnected
	}

	if !state.Valid() {
		return nil, fmt.Errorf("invalid alarm state %q", state)
	}

	sql := fmt.Sprintf("SELECT %s FROM %s WHERE state_value = $1 ORDER BY alarm_key, subscriber_id", subscriptionColumns, c.opts.subscriptionsTable)

	return c.querySubscriptions(ctx, sql, string(state))
}

func (c *Client) ListBySubscriber(ctx context.Context, subscriberID string) ([]types.AlarmSubscription, error) {
	if c.conn == nil {
		return nil, errNotConnected
	}

	if subscriberID == "" {
		return nil, errors.New("subscriber ID cannot be empty")
	}

	sql := fmt.Sprintf("SELECT %s FROM %s WHERE subscriber_id = $1 ORDER BY alarm_key, subscriber_id", subscriptionColumns, c.opts.subscriptionsTable)

	return c.querySubscriptions(ctx, sql, subscriberID)
}

func (c *Client) ListAlarms(ctx context.Context) ([]types.AlarmKey, error) {
	if c.conn == nil {
		return nil, errNotConnected
	}

	sql := fmt.Sprintf("SELECT DISTINCT alarm_key FROM %s ORDER BY alarm_key", c.opts.subscriptionsTable)

	rows, err := c.conn.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("failed to list alarms in Postgres db: %w", err)
	}

	defer rows.Close()

	keys := []types.AlarmKey{}

	for rows.Next() {
		var key string

		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan row for alarm key: %w", err)
		}

		keys = append(keys, types.AlarmKey(key))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over rows for alarm keys: %w", err)
	}

	return keys, nil
}

func (c *Client) DeleteAllSubscriptions(ctx context.Context) error {
	if c.conn == nil {
		return errNotConnected
	}

	if _, err := c.conn.Exec(ctx, fmt.Sprintf("DELETE FROM %s", c.opts.subscriptionsTable)); err != nil {
		return fmt.Errorf("failed to delete all subscriptions: %w", err)
	}

	return nil
}

// UpdateState updates an existing subscription row. Zero affected rows means
// the row was deleted concurrently and yields a PreconditionFailed error.
func (c *Client) UpdateState(ctx context.Context, update types.StateUpdate) error {
	if c.conn == nil {
		return errNotConnected
	}

	if err := update.Validate(); err != nil {
		return fmt.Errorf("invalid state update: %w", err)
	}

	sql := fmt.Sprintf("UPDATE %s SET state_value = $3, updated_at = $4, state_updated_at = $5, namespace = COALESCE(NULLIF($6::text, ''), namespace) WHERE alarm_key = $1 AND subscriber_id = $2", c.opts.subscriptionsTable)

	tag, err := c.conn.Exec(ctx, sql, update.AlarmKey.String(), update.SubscriberID, string(update.StateValue), update.UpdatedAt, nullableTime(update.StateUpdatedAt), update.Namespace)
	if err != nil {
		return fmt.Errorf("failed to update subscription state in Postgres db: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return types.PreconditionFailed("UpdateState", fmt.Errorf("subscription %s/%s no longer exists", update.AlarmKey, update.SubscriberID))
	}

	return nil
}

func (c *Client) querySubscriptions(ctx context.Context, sql string, args ...any) ([]types.AlarmSubscription, error) {
	rows, err := c.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions in Postgres db: %w", err)
	}

	defer rows.Close()

	subs := []types.AlarmSubscription{}

	for rows.Next() {
		var (
			sub            types.AlarmSubscription
			alarmKey       string
			namespace      pgtype.Text
			stateValue     string
			stateUpdatedAt pgtype.Timestamptz
		)

		if err := rows.Scan(&alarmKey, &sub.SubscriberID, &namespace, &stateValue, &sub.LastUpdated, &stateUpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row for subscription: %w", err)
		}

		sub.AlarmKey = types.AlarmKey(alarmKey)
		sub.StateValue = types.AlarmState(stateValue)
		sub.Namespace = namespace.String

		if stateUpdatedAt.Valid {
			sub.StateUpdatedAt = stateUpdatedAt.Time
		}

		subs = append(subs, sub)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over rows for subscriptions: %w", err)
	}

	return subs, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}

	return &t
}

func validateSubscriptionKey(alarmKey types.AlarmKey, subscriberID string) error {
	if alarmKey == "" {
		return errors.New("alarm key cannot be empty")
	}

	if subscriberID == "" {
		return errors.New("subscriber ID cannot be empty")
	}

	return nil
}
