package types

import (
	"context"
)

// SubscriptionIndex stores alarm subscriptions keyed by (AlarmKey,
// SubscriberID), with a secondary lookup by AlarmKey.
type SubscriptionIndex interface {
	// Subscribe inserts or overwrites the subscription row with
	// [InitialAlarmState]. It is idempotent.
	Subscribe(ctx context.Context, alarmKey AlarmKey, subscriberID string) error

	// Unsubscribe deletes the row. It is a no-op if the row does not exist.
	Unsubscribe(ctx context.Context, alarmKey AlarmKey, subscriberID string) error

	// ListSubscribers returns every subscriber of alarmKey, deduplicated and
	// sorted. All result pages are read before returning.
	ListSubscribers(ctx context.Context, alarmKey AlarmKey) ([]string, error)

	// ListByState returns every subscription whose last propagated state is state.
	ListByState(ctx context.Context, state AlarmState) ([]AlarmSubscription, error)

	// ListBySubscriber returns every subscription held by subscriberID.
	ListBySubscriber(ctx context.Context, subscriberID string) ([]AlarmSubscription, error)

	// ListAlarms returns the distinct alarm keys with at least one subscriber, sorted.
	ListAlarms(ctx context.Context) ([]AlarmKey, error)

	// DeleteAllSubscriptions removes every subscription row.
	DeleteAllSubscriptions(ctx context.Context) error

	// UpdateState applies a conditional state write. It returns a
	// [KindPreconditionFailed] error if the row no longer exists; it never
	// creates rows.
	UpdateState(ctx context.Context, update StateUpdate) error
}

// ResourceStore is the time-bounded discovery cache.
type ResourceStore interface {
	// Put upserts the resources, stamping each with the store's fixed TTL.
	Put(ctx context.Context, resources ...*CachedResource) error

	// Get returns the resource with the given ARN, or a [KindNotFound] error if
	// it is absent or expired.
	Get(ctx context.Context, arn string) (*CachedResource, error)

	// ListByServiceRegion returns the unexpired resources of service in region.
	ListByServiceRegion(ctx context.Context, service, region string) ([]*CachedResource, error)

	// ListByService returns the unexpired resources of service across regions.
	ListByService(ctx context.Context, service string) ([]*CachedResource, error)

	// Delete removes the resource. It is a no-op if it does not exist.
	Delete(ctx context.Context, arn string) error

	// SweepExpired physically removes expired resources and returns how many
	// were removed.
	SweepExpired(ctx context.Context) (int, error)
}
