package alarms

import (
	"context"
	"errors"
	"fmt"

	"github.com/msam-go/msam/types"
)

// Manager is the validated write path for subscriptions. It is the only
// component that creates or deletes subscription rows.
type Manager struct {
	index  types.SubscriptionIndex
	logger types.Logger
}

func NewManager(index types.SubscriptionIndex, logger types.Logger) *Manager {
	return &Manager{
		index:  index,
		logger: logger.WithField("component", "subscription_manager"),
	}
}

// Subscribe subscribes each of subscriberIDs to the alarm. It stops at the
// first failed write; rows written before it remain.
func (m *Manager) Subscribe(ctx context.Context, region, alarmName string, subscriberIDs ...string) error {
	key, err := validateRequest(region, alarmName, subscriberIDs)
	if err != nil {
		return err
	}

	for _, id := range subscriberIDs {
		if err := m.index.Subscribe(ctx, key, id); err != nil {
			return fmt.Errorf("failed to subscribe %s to %s: %w", id, key, err)
		}
	}

	m.logger.WithField("alarm_key", key.String()).WithField("count", len(subscriberIDs)).Info("Subscribed to alarm")

	return nil
}

// Unsubscribe removes each of subscriberIDs from the alarm. Absent rows are
// ignored.
func (m *Manager) Unsubscribe(ctx context.Context, region, alarmName string, subscriberIDs ...string) error {
	key, err := validateRequest(region, alarmName, subscriberIDs)
	if err != nil {
		return err
	}

	for _, id := range subscriberIDs {
		if err := m.index.Unsubscribe(ctx, key, id); err != nil {
			return fmt.Errorf("failed to unsubscribe %s from %s: %w", id, key, err)
		}
	}

	m.logger.WithField("alarm_key", key.String()).WithField("count", len(subscriberIDs)).Info("Unsubscribed from alarm")

	return nil
}

func (m *Manager) DeleteAllSubscriptions(ctx context.Context) error {
	if err := m.index.DeleteAllSubscriptions(ctx); err != nil {
		return fmt.Errorf("failed to delete all subscriptions: %w", err)
	}

	m.logger.Info("Deleted all alarm subscriptions")

	return nil
}

func validateRequest(region, alarmName string, subscriberIDs []string) (types.AlarmKey, error) {
	key, err := types.NewAlarmKey(region, alarmName)
	if err != nil {
		return "", err
	}

	if len(subscriberIDs) == 0 {
		return "", errors.New("at least one subscriber ID is required")
	}

	for _, id := range subscriberIDs {
		if id == "" {
			return "", errors.New("subscriber ID cannot be empty")
		}
	}

	return key, nil
}
