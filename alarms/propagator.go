package alarms

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/msam-go/msam/types"
	"golang.org/x/sync/errgroup"
)

var errNoProvider = errors.New("no alarm state provider configured")

// Propagator applies alarm state changes to every subscription row of the
// alarm. Rows are only ever updated, never created.
//
// A Propagator is safe for concurrent use.
type Propagator struct {
	index    types.SubscriptionIndex
	provider types.StateProvider
	logger   types.Logger
	opts     *Options
}

// Result summarises one propagation. Updated and Skipped are sorted.
type Result struct {
	AlarmKey    types.AlarmKey
	Subscribers int
	Updated     []string
	Skipped     []string
	Failed      map[string]error
}

// New creates a Propagator. provider may be nil if [Propagator.HandleEvent]
// is never called.
func New(index types.SubscriptionIndex, provider types.StateProvider, logger types.Logger, opts ...Option) (*Propagator, error) {
	options := newOptions()

	for _, o := range opts {
		o(options)
	}

	if err := options.validate(); err != nil {
		return nil, fmt.Errorf("invalid propagator options: %w", err)
	}

	if index == nil {
		return nil, errors.New("subscription index cannot be nil")
	}

	return &Propagator{
		index:    index,
		provider: provider,
		logger:   logger.WithField("component", "propagator"),
		opts:     options,
	}, nil
}

// OnAlarmStateChanged writes newState to every current subscriber of the
// alarm, with lastUpdated set to now and stateUpdatedAt set to
// stateChangedAt.
//
// Failures are isolated per subscriber: a row deleted since the subscriber
// lookup is logged and skipped, other write errors are logged and recorded
// in the result, and neither affects sibling writes. A failed subscriber
// lookup is logged and treated as no subscribers. The returned error is only
// non-nil for invalid arguments.
func (p *Propagator) OnAlarmStateChanged(ctx context.Context, region, alarmName string, newState types.AlarmState, stateChangedAt time.Time) (*Result, error) {
	return p.propagate(ctx, &types.AlarmStatus{
		Region:         region,
		AlarmName:      alarmName,
		State:          newState,
		StateUpdatedAt: stateChangedAt,
	})
}

// propagate writes status to every subscriber. A non-empty namespace is
// recorded on each row.
func (p *Propagator) propagate(ctx context.Context, status *types.AlarmStatus) (*Result, error) {
	newState := status.State

	key, err := types.NewAlarmKey(status.Region, status.AlarmName)
	if err != nil {
		return nil, types.Malformed("OnAlarmStateChanged", err)
	}

	if !newState.Valid() {
		return nil, types.Malformed("OnAlarmStateChanged", fmt.Errorf("invalid alarm state %q", newState))
	}

	logger := p.logger.WithField("alarm_key", key.String()).WithField("state", string(newState))
	result := &Result{AlarmKey: key, Failed: map[string]error{}}

	subscribers, err := p.index.ListSubscribers(ctx, key)
	if err != nil {
		logger.Errorf("Failed to list alarm subscribers, skipping propagation: %v", err)
		return result, nil
	}

	result.Subscribers = len(subscribers)

	if len(subscribers) == 0 {
		logger.Debug("Alarm has no subscribers")
		return result, nil
	}

	now := p.opts.clock()

	var (
		mu sync.Mutex
		g  errgroup.Group
	)

	g.SetLimit(p.opts.concurrency)

	for _, subscriberID := range subscribers {
		g.Go(func() error {
			err := p.index.UpdateState(ctx, types.StateUpdate{
				AlarmKey:       key,
				SubscriberID:   subscriberID,
				StateValue:     newState,
				UpdatedAt:      now,
				StateUpdatedAt: status.StateUpdatedAt,
				Namespace:      status.Namespace,
			})

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				result.Updated = append(result.Updated, subscriberID)
				p.opts.recorder.PropagationWrite(OutcomeUpdated)
			case types.IsPreconditionFailed(err):
				logger.WithField("subscriber", subscriberID).Info("Subscription no longer exists, skipping state update")
				result.Skipped = append(result.Skipped, subscriberID)
				p.opts.recorder.PropagationWrite(OutcomeSkipped)
			default:
				logger.WithField("subscriber", subscriberID).Errorf("Failed to update subscription state: %v", err)
				result.Failed[subscriberID] = err
				p.opts.recorder.PropagationWrite(OutcomeFailed)
			}

			return nil
		})
	}

	_ = g.Wait()

	slices.Sort(result.Updated)
	slices.Sort(result.Skipped)

	logger.WithFields(map[string]any{
		"updated": len(result.Updated),
		"skipped": len(result.Skipped),
		"failed":  len(result.Failed),
	}).Info("Alarm state propagated")

	return result, nil
}

// HandleEvent parses an alarm-state-change notification, reads the alarm's
// current state from the provider and propagates it. The notification is a
// trigger only; its own state fields are ignored.
//
// A notification with an unexpected shape yields a [types.KindMalformed]
// error. Provider failures are returned unchanged.
func (p *Propagator) HandleEvent(ctx context.Context, body []byte) (*Result, error) {
	if p.provider == nil {
		return nil, errNoProvider
	}

	event, err := ParseEvent(body)
	if err != nil {
		return nil, err
	}

	status, err := p.provider.AlarmState(ctx, event.Region, event.Detail.AlarmName)
	if err != nil {
		return nil, fmt.Errorf("failed to read state of alarm %s in %s: %w", event.Detail.AlarmName, event.Region, err)
	}

	return p.propagate(ctx, &types.AlarmStatus{
		Region:         event.Region,
		AlarmName:      event.Detail.AlarmName,
		Namespace:      status.Namespace,
		State:          status.State,
		StateUpdatedAt: status.StateUpdatedAt,
	})
}

// Refresh re-reads the state of every subscribed alarm from the provider and
// propagates it. Alarms that cannot be read are logged and skipped. It
// returns the number of alarms propagated.
func (p *Propagator) Refresh(ctx context.Context) (int, error) {
	if p.provider == nil {
		return 0, errNoProvider
	}

	keys, err := p.index.ListAlarms(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list subscribed alarms: %w", err)
	}

	propagated := 0

	for _, key := range keys {
		if ctx.Err() != nil {
			return propagated, ctx.Err()
		}

		region, alarmName, err := key.Split()
		if err != nil {
			p.logger.WithField("alarm_key", key.String()).Warnf("Skipping invalid alarm key: %v", err)
			continue
		}

		status, err := p.provider.AlarmState(ctx, region, alarmName)
		if err != nil {
			p.logger.WithField("alarm_key", key.String()).Errorf("Failed to read alarm state: %v", err)
			continue
		}

		if _, err := p.propagate(ctx, &types.AlarmStatus{
			Region:         region,
			AlarmName:      alarmName,
			Namespace:      status.Namespace,
			State:          status.State,
			StateUpdatedAt: status.StateUpdatedAt,
		}); err != nil {
			p.logger.WithField("alarm_key", key.String()).Errorf("Failed to propagate alarm state: %v", err)
			continue
		}

		propagated++
	}

	return propagated, nil
}
