// Package query is the read side of msam: cached resources, alarm
// subscriptions and the regions discovery runs in.
//
// A lookup that finds nothing is not an error here. NotFound from a store
// becomes an empty result, or ok == false for single lookups.
package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/msam-go/msam/discovery"
	"github.com/msam-go/msam/types"
)

// AlarmLister lists the alarms the monitoring provider knows in a region.
type AlarmLister interface {
	ListAlarms(ctx context.Context, region string) ([]*types.AlarmStatus, error)
}

// Option configures optional sources of a [Facade].
type Option func(*Facade)

// WithAlarmLister enables [Facade.AlarmsInRegion].
func WithAlarmLister(l AlarmLister) Option {
	return func(f *Facade) {
		f.alarms = l
	}
}

// Facade answers read queries over the resource store and the subscription
// index. It never writes.
type Facade struct {
	store   types.ResourceStore
	index   types.SubscriptionIndex
	regions discovery.RegionSource
	alarms  AlarmLister
	logger  types.Logger
}

// New creates a Facade. store, index and regions are required.
func New(store types.ResourceStore, index types.SubscriptionIndex, regions discovery.RegionSource, logger types.Logger, opts ...Option) (*Facade, error) {
	if store == nil {
		return nil, errors.New("resource store cannot be nil")
	}

	if index == nil {
		return nil, errors.New("subscription index cannot be nil")
	}

	if regions == nil {
		return nil, errors.New("region source cannot be nil")
	}

	f := &Facade{
		store:   store,
		index:   index,
		regions: regions,
		logger:  logger.WithField("component", "query"),
	}

	for _, o := range opts {
		o(f)
	}

	return f, nil
}

// CachedByServiceRegion returns the unexpired cached resources of service in
// region.
func (f *Facade) CachedByServiceRegion(ctx context.Context, service, region string) ([]*types.CachedResource, error) {
	if service == "" || region == "" {
		return nil, types.Malformed("CachedByServiceRegion", errors.New("service and region are required"))
	}

	resources, err := f.store.ListByServiceRegion(ctx, service, region)

	return orEmpty(resources, err)
}

// CachedByService returns the unexpired cached resources of service in every
// region.
func (f *Facade) CachedByService(ctx context.Context, service string) ([]*types.CachedResource, error) {
	if service == "" {
		return nil, types.Malformed("CachedByService", errors.New("service is required"))
	}

	resources, err := f.store.ListByService(ctx, service)

	return orEmpty(resources, err)
}

// CachedByArn returns the cached resource with the given ARN. ok is false if
// it is absent or expired.
func (f *Facade) CachedByArn(ctx context.Context, arn string) (resource *types.CachedResource, ok bool, err error) {
	if arn == "" {
		return nil, false, types.Malformed("CachedByArn", errors.New("arn is required"))
	}

	resource, err = f.store.Get(ctx, arn)
	if types.IsNotFound(err) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("failed to get cached resource %s: %w", arn, err)
	}

	return resource, true, nil
}

// CachedByArns returns the cached resources among arns, in the given order.
// Absent and expired ARNs are left out.
func (f *Facade) CachedByArns(ctx context.Context, arns ...string) ([]*types.CachedResource, error) {
	resources := []*types.CachedResource{}

	for _, arn := range arns {
		r, ok, err := f.CachedByArn(ctx, arn)
		if err != nil {
			return nil, err
		}

		if ok {
			resources = append(resources, r)
		}
	}

	if missing := len(arns) - len(resources); missing > 0 {
		f.logger.WithField("requested", len(arns)).WithField("missing", missing).Debug("Some requested resources are not cached")
	}

	return resources, nil
}

// SubscribersToAlarm returns the sorted subscriber IDs of the alarm.
func (f *Facade) SubscribersToAlarm(ctx context.Context, region, alarmName string) ([]string, error) {
	key, err := types.NewAlarmKey(region, alarmName)
	if err != nil {
		return nil, types.Malformed("SubscribersToAlarm", err)
	}

	subscribers, err := f.index.ListSubscribers(ctx, key)

	return orEmpty(subscribers, err)
}

// SubscribedWithState returns the subscriptions whose last propagated state
// is state.
func (f *Facade) SubscribedWithState(ctx context.Context, state types.AlarmState) ([]types.AlarmSubscription, error) {
	if !state.Valid() {
		return nil, types.Malformed("SubscribedWithState", fmt.Errorf("invalid alarm state %q", state))
	}

	subs, err := f.index.ListByState(ctx, state)

	return orEmpty(subs, err)
}

// AlarmsForSubscriber returns the subscriptions held by subscriberID.
func (f *Facade) AlarmsForSubscriber(ctx context.Context, subscriberID string) ([]types.AlarmSubscription, error) {
	if subscriberID == "" {
		return nil, types.Malformed("AlarmsForSubscriber", errors.New("subscriber ID is required"))
	}

	subs, err := f.index.ListBySubscriber(ctx, subscriberID)

	return orEmpty(subs, err)
}

// AllSubscribedAlarms returns every alarm with at least one subscriber,
// sorted.
func (f *Facade) AllSubscribedAlarms(ctx context.Context) ([]types.AlarmKey, error) {
	keys, err := f.index.ListAlarms(ctx)

	return orEmpty(keys, err)
}

// AlarmsInRegion returns every alarm the provider knows in region, with its
// current state, whether or not anything subscribes to it.
func (f *Facade) AlarmsInRegion(ctx context.Context, region string) ([]*types.AlarmStatus, error) {
	if region == "" {
		return nil, types.Malformed("AlarmsInRegion", errors.New("region is required"))
	}

	if f.alarms == nil {
		return nil, errors.New("no alarm lister configured")
	}

	statuses, err := f.alarms.ListAlarms(ctx, region)

	return orEmpty(statuses, err)
}

// Regions returns the regions discovery runs in.
func (f *Facade) Regions(ctx context.Context) ([]string, error) {
	regions, err := f.regions.Regions(ctx)

	return orEmpty(regions, err)
}

func orEmpty[T any](items []T, err error) ([]T, error) {
	if types.IsNotFound(err) {
		return []T{}, nil
	}

	if err != nil {
		return nil, err
	}

	if items == nil {
		return []T{}, nil
	}

	return items, nil
}
