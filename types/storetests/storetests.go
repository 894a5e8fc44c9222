// Package storetests holds behavioural tests shared by every implementation of
// [types.SubscriptionIndex] and [types.ResourceStore]. Backends run them from
// their own test files, usually against a freshly emptied store.
//
// The tests are not safe to run in parallel against the same store.
package storetests

import (
	"context"
	"encoding/json"
	"slices"
	"testing"
	"time"

	"github.com/msam-go/msam/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustKey(t *testing.T, region, name string) types.AlarmKey {
	t.Helper()

	key, err := types.NewAlarmKey(region, name)
	require.NoError(t, err)

	return key
}

// TestSubscribeAndList checks subscribe idempotence, subscriber ordering and
// unsubscribe semantics.
func TestSubscribeAndList(t *testing.T, idx types.SubscriptionIndex) {
	ctx := context.Background()
	key := mustKey(t, "us-west-2", "subscribe-and-list")

	require.NoError(t, idx.Subscribe(ctx, key, "arn:node:b"))
	require.NoError(t, idx.Subscribe(ctx, key, "arn:node:a"))
	require.NoError(t, idx.Subscribe(ctx, key, "arn:node:a"))

	subscribers, err := idx.ListSubscribers(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []string{"arn:node:a", "arn:node:b"}, subscribers)

	subs, err := idx.ListBySubscriber(ctx, "arn:node:a")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, key, subs[0].AlarmKey)
	assert.Equal(t, types.InitialAlarmState, subs[0].StateValue)

	require.NoError(t, idx.Unsubscribe(ctx, key, "arn:node:a"))
	require.NoError(t, idx.Unsubscribe(ctx, key, "arn:node:a"))

	subscribers, err = idx.ListSubscribers(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []string{"arn:node:b"}, subscribers)

	other := mustKey(t, "us-west-2", "no-subscribers")
	subscribers, err = idx.ListSubscribers(ctx, other)
	require.NoError(t, err)
	assert.Empty(t, subscribers)
}

// TestUpdateState checks that state writes apply to existing rows and fail
// with a precondition error, without creating a row, for missing ones.
func TestUpdateState(t *testing.T, idx types.SubscriptionIndex) {
	ctx := context.Background()
	key := mustKey(t, "eu-west-1", "update-state")
	stateTime := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, idx.Subscribe(ctx, key, "arn:node:1"))

	err := idx.UpdateState(ctx, types.StateUpdate{
		AlarmKey:       key,
		SubscriberID:   "arn:node:1",
		StateValue:     types.AlarmStateAlarm,
		UpdatedAt:      stateTime.Add(time.Minute),
		StateUpdatedAt: stateTime,
	})
	require.NoError(t, err)

	alarming, err := idx.ListByState(ctx, types.AlarmStateAlarm)
	require.NoError(t, err)
	require.Len(t, alarming, 1)
	assert.Equal(t, key, alarming[0].AlarmKey)
	assert.Equal(t, "arn:node:1", alarming[0].SubscriberID)
	assert.True(t, stateTime.Equal(alarming[0].StateUpdatedAt), "expected state time %s, got %s", stateTime, alarming[0].StateUpdatedAt)

	err = idx.UpdateState(ctx, types.StateUpdate{
		AlarmKey:       key,
		SubscriberID:   "arn:node:missing",
		StateValue:     types.AlarmStateOK,
		UpdatedAt:      stateTime,
		StateUpdatedAt: stateTime,
	})
	require.Error(t, err)
	assert.True(t, types.IsPreconditionFailed(err), "expected precondition failure, got %v", err)

	subscribers, err := idx.ListSubscribers(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []string{"arn:node:1"}, subscribers)
}

// TestListAlarmsAndDeleteAll checks distinct alarm listing and bulk deletion.
func TestListAlarmsAndDeleteAll(t *testing.T, idx types.SubscriptionIndex) {
	ctx := context.Background()
	k1 := mustKey(t, "us-east-1", "alpha")
	k2 := mustKey(t, "us-east-1", "beta")

	require.NoError(t, idx.Subscribe(ctx, k2, "arn:node:1"))
	require.NoError(t, idx.Subscribe(ctx, k1, "arn:node:1"))
	require.NoError(t, idx.Subscribe(ctx, k1, "arn:node:2"))

	alarms, err := idx.ListAlarms(ctx)
	require.NoError(t, err)
	assert.Contains(t, alarms, k1)
	assert.Contains(t, alarms, k2)
	assert.True(t, slices.IsSorted(alarms), "expected sorted alarm keys, got %v", alarms)

	require.NoError(t, idx.DeleteAllSubscriptions(ctx))

	alarms, err = idx.ListAlarms(ctx)
	require.NoError(t, err)
	assert.Empty(t, alarms)
}

// TestResourceCRUD checks put, get, list and delete on a resource store.
func TestResourceCRUD(t *testing.T, store types.ResourceStore) {
	ctx := context.Background()

	channel := &types.CachedResource{
		ARN:        "arn:aws:medialive:us-west-2:123456789012:channel:1",
		Service:    "medialive-channel",
		Region:     "us-west-2",
		Attributes: json.RawMessage(`{"Name":"one"}`),
	}
	east := &types.CachedResource{
		ARN:        "arn:aws:medialive:us-east-1:123456789012:channel:2",
		Service:    "medialive-channel",
		Region:     "us-east-1",
		Attributes: json.RawMessage(`{"Name":"two"}`),
	}
	input := &types.CachedResource{
		ARN:     "arn:aws:medialive:us-west-2:123456789012:input:3",
		Service: "medialive-input",
		Region:  "us-west-2",
	}

	require.NoError(t, store.Put(ctx, channel, east, input))

	got, err := store.Get(ctx, channel.ARN)
	require.NoError(t, err)
	assert.Equal(t, channel.Service, got.Service)
	assert.Equal(t, channel.Region, got.Region)
	assert.JSONEq(t, `{"Name":"one"}`, string(got.Attributes))
	assert.True(t, got.ExpiresAt.After(got.DiscoveredAt))

	west, err := store.ListByServiceRegion(ctx, "medialive-channel", "us-west-2")
	require.NoError(t, err)
	require.Len(t, west, 1)
	assert.Equal(t, channel.ARN, west[0].ARN)

	all, err := store.ListByService(ctx, "medialive-channel")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, east.ARN, all[0].ARN)
	assert.Equal(t, channel.ARN, all[1].ARN)

	channel.Attributes = json.RawMessage(`{"Name":"renamed"}`)
	require.NoError(t, store.Put(ctx, channel))

	got, err = store.Get(ctx, channel.ARN)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Name":"renamed"}`, string(got.Attributes))

	require.NoError(t, store.Delete(ctx, channel.ARN))
	require.NoError(t, store.Delete(ctx, channel.ARN))

	_, err = store.Get(ctx, channel.ARN)
	require.Error(t, err)
	assert.True(t, types.IsNotFound(err), "expected not found, got %v", err)

	none, err := store.ListByService(ctx, "no-such-service")
	require.NoError(t, err)
	assert.Empty(t, none)
}

// TestResourceExpiry checks that an entry written with TTL ttl is visible
// just before its expiry and absent, and sweepable, just after. advance moves
// the store's clock forward.
func TestResourceExpiry(t *testing.T, store types.ResourceStore, ttl time.Duration, advance func(time.Duration)) {
	ctx := context.Background()

	r := &types.CachedResource{
		ARN:     "arn:aws:ssm:us-west-2:123456789012:managed-instance/mi-1",
		Service: "ssm-managed-instance",
		Region:  "us-west-2",
	}

	require.NoError(t, store.Put(ctx, r))

	advance(ttl - time.Second)

	_, err := store.Get(ctx, r.ARN)
	require.NoError(t, err)

	listed, err := store.ListByServiceRegion(ctx, r.Service, r.Region)
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	advance(2 * time.Second)

	_, err = store.Get(ctx, r.ARN)
	assert.True(t, types.IsNotFound(err), "expected not found, got %v", err)

	listed, err = store.ListByServiceRegion(ctx, r.Service, r.Region)
	require.NoError(t, err)
	assert.Empty(t, listed)

	removed, err := store.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	removed, err = store.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}
