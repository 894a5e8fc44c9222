// Package memstore is an in-memory implementation of the subscription index
// and the resource cache, used by tests that exercise several packages
// together.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/msam-go/msam/types"
)

type subKey struct {
	alarm      types.AlarmKey
	subscriber string
}

// Store holds subscriptions and cached resources in maps guarded by a single
// mutex. The zero value is not usable; call New.
type Store struct {
	mu            sync.Mutex
	subscriptions map[subKey]types.AlarmSubscription
	resources     map[string]types.CachedResource
	ttl           time.Duration
	clock         func() time.Time

	// UpdateHook, when set, runs before every UpdateState and can fail it.
	UpdateHook func(update types.StateUpdate) error
}

var (
	_ types.SubscriptionIndex = (*Store)(nil)
	_ types.ResourceStore     = (*Store)(nil)
)

// New returns an empty store that stamps resources with ttl and reads time
// from clock. A nil clock means time.Now.
func New(ttl time.Duration, clock func() time.Time) *Store {
	if clock == nil {
		clock = time.Now
	}

	return &Store{
		subscriptions: map[subKey]types.AlarmSubscription{},
		resources:     map[string]types.CachedResource{},
		ttl:           ttl,
		clock:         clock,
	}
}

func (s *Store) Subscribe(_ context.Context, alarmKey types.AlarmKey, subscriberID string) error {
	if alarmKey == "" || subscriberID == "" {
		return fmt.Errorf("alarm key and subscriber ID are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscriptions[subKey{alarmKey, subscriberID}] = types.AlarmSubscription{
		AlarmKey:     alarmKey,
		SubscriberID: subscriberID,
		StateValue:   types.InitialAlarmState,
		LastUpdated:  s.clock(),
	}

	return nil
}

func (s *Store) Unsubscribe(_ context.Context, alarmKey types.AlarmKey, subscriberID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.subscriptions, subKey{alarmKey, subscriberID})

	return nil
}

func (s *Store) ListSubscribers(_ context.Context, alarmKey types.AlarmKey) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subscribers := []string{}

	for k := range s.subscriptions {
		if k.alarm == alarmKey {
			subscribers = append(subscribers, k.subscriber)
		}
	}

	slices.Sort(subscribers)

	return subscribers, nil
}

func (s *Store) ListByState(_ context.Context, state types.AlarmState) ([]types.AlarmSubscription, error) {
	return s.filterSubscriptions(func(sub types.AlarmSubscription) bool { return sub.StateValue == state }), nil
}

func (s *Store) ListBySubscriber(_ context.Context, subscriberID string) ([]types.AlarmSubscription, error) {
	return s.filterSubscriptions(func(sub types.AlarmSubscription) bool { return sub.SubscriberID == subscriberID }), nil
}

func (s *Store) ListAlarms(_ context.Context) ([]types.AlarmKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := []types.AlarmKey{}

	for k := range s.subscriptions {
		if !slices.Contains(keys, k.alarm) {
			keys = append(keys, k.alarm)
		}
	}

	slices.Sort(keys)

	return keys, nil
}

func (s *Store) DeleteAllSubscriptions(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clear(s.subscriptions)

	return nil
}

func (s *Store) UpdateState(_ context.Context, update types.StateUpdate) error {
	if err := update.Validate(); err != nil {
		return err
	}

	if s.UpdateHook != nil {
		if err := s.UpdateHook(update); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := subKey{update.AlarmKey, update.SubscriberID}

	sub, ok := s.subscriptions[k]
	if !ok {
		return types.PreconditionFailed("UpdateState", fmt.Errorf("subscription %s/%s no longer exists", update.AlarmKey, update.SubscriberID))
	}

	sub.StateValue = update.StateValue
	sub.LastUpdated = update.UpdatedAt
	sub.StateUpdatedAt = update.StateUpdatedAt

	if update.Namespace != "" {
		sub.Namespace = update.Namespace
	}

	s.subscriptions[k] = sub

	return nil
}

// Subscription returns a copy of one row, for assertions.
func (s *Store) Subscription(alarmKey types.AlarmKey, subscriberID string) (types.AlarmSubscription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subKey{alarmKey, subscriberID}]

	return sub, ok
}

func (s *Store) filterSubscriptions(match func(types.AlarmSubscription) bool) []types.AlarmSubscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := []types.AlarmSubscription{}

	for _, sub := range s.subscriptions {
		if match(sub) {
			subs = append(subs, sub)
		}
	}

	slices.SortFunc(subs, func(a, b types.AlarmSubscription) int {
		if c := strings.Compare(string(a.AlarmKey), string(b.AlarmKey)); c != 0 {
			return c
		}

		return strings.Compare(a.SubscriberID, b.SubscriberID)
	})

	return subs
}

func (s *Store) Put(_ context.Context, resources ...*types.CachedResource) error {
	for _, r := range resources {
		if r == nil {
			return fmt.Errorf("resource cannot be nil")
		}

		if err := r.Validate(); err != nil {
			return fmt.Errorf("invalid resource: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()

	for _, r := range resources {
		r.Stamp(now, s.ttl)

		stored := *r
		stored.Attributes = slices.Clone(r.Attributes)
		s.resources[r.ARN] = stored
	}

	return nil
}

func (s *Store) Get(_ context.Context, arn string) (*types.CachedResource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.resources[arn]
	if !ok || r.Expired(s.clock()) {
		return nil, types.NotFound("Get", "resource %s not found", arn)
	}

	return &r, nil
}

func (s *Store) ListByServiceRegion(_ context.Context, service, region string) ([]*types.CachedResource, error) {
	return s.filterResources(func(r types.CachedResource) bool { return r.Service == service && r.Region == region }), nil
}

func (s *Store) ListByService(_ context.Context, service string) ([]*types.CachedResource, error) {
	return s.filterResources(func(r types.CachedResource) bool { return r.Service == service }), nil
}

func (s *Store) Delete(_ context.Context, arn string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.resources, arn)

	return nil
}

func (s *Store) SweepExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	removed := 0

	for arn, r := range s.resources {
		if r.Expired(now) {
			delete(s.resources, arn)
			removed++
		}
	}

	return removed, nil
}

func (s *Store) filterResources(match func(types.CachedResource) bool) []*types.CachedResource {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	resources := []*types.CachedResource{}

	for _, r := range s.resources {
		if match(r) && !r.Expired(now) {
			resources = append(resources, &r)
		}
	}

	slices.SortFunc(resources, func(a, b *types.CachedResource) int { return strings.Compare(a.ARN, b.ARN) })

	return resources
}
