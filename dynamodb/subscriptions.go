package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/msam-go/msam/types"
)

// Subscribe writes the subscription item with the initial alarm state,
// overwriting any existing item for the same (alarm, subscriber) pair.
func (c *Client) Subscribe(ctx context.Context, alarmKey types.AlarmKey, subscriberID string) error {
	if err := validateSubscriptionKey(alarmKey, subscriberID); err != nil {
		return err
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(c.alarmsTable),
		Item: map[string]dynamodbtypes.AttributeValue{
			AlarmKeyAttr:   stringAttr(alarmKey.String()),
			SubscriberAttr: stringAttr(subscriberID),
			StateValueAttr: stringAttr(string(types.InitialAlarmState)),
			UpdatedAttr:    timeAttr(c.opts.clock()),
		},
	}

	if _, err := c.client.PutItem(ctx, input); err != nil {
		return fmt.Errorf("failed to write subscription to DynamoDB table %s: %w", c.alarmsTable, err)
	}

	return nil
}

// Unsubscribe deletes the subscription item. Deleting a missing item is not
// an error.
func (c *Client) Unsubscribe(ctx context.Context, alarmKey types.AlarmKey, subscriberID string) error {
	if err := validateSubscriptionKey(alarmKey, subscriberID); err != nil {
		return err
	}

	input := &dynamodb.DeleteItemInput{
		TableName: aws.String(c.alarmsTable),
		Key:       subscriptionKey(alarmKey, subscriberID),
	}

	if _, err := c.client.DeleteItem(ctx, input); err != nil {
		return fmt.Errorf("failed to delete subscription from DynamoDB table %s: %w", c.alarmsTable, err)
	}

	return nil
}

// ListSubscribers queries the [GSIRegionAlarmName] index and returns the
// subscriber IDs of the alarm, deduplicated and sorted alphabetically. Every
// result page is read before returning.
func (c *Client) ListSubscribers(ctx context.Context, alarmKey types.AlarmKey) ([]string, error) {
	if alarmKey == "" {
		return nil, errors.New("alarm key cannot be empty")
	}

	input := &dynamodb.QueryInput{
		TableName: aws.String(c.alarmsTable),
		IndexName: aws.String(GSIRegionAlarmName),
		ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
			":key": stringAttr(alarmKey.String()),
		},
		KeyConditionExpression: aws.String(AlarmKeyAttr + " = :key"),
		ProjectionExpression:   aws.String(SubscriberAttr),
	}

	subscribers := make(map[string]struct{})

	err := c.queryAll(ctx, input, func(item map[string]dynamodbtypes.AttributeValue) error {
		if id := getStringValue(item[SubscriberAttr]); id != "" {
			subscribers[id] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := make([]string, 0, len(subscribers))

	for id := range subscribers {
		result = append(result, id)
	}

	slices.Sort(result)

	return result, nil
}

// ListByState scans the alarms table for subscriptions whose last propagated
// state equals state.
func (c *Client) ListByState(ctx context.Context, state types.AlarmState) ([]types.AlarmSubscription, error) {
	if !state.Valid() {
		return nil, fmt.Errorf("invalid alarm state %q", state)
	}

	input := &dynamodb.ScanInput{
		TableName:        aws.String(c.alarmsTable),
		FilterExpression: aws.String(StateValueAttr + " = :state"),
		ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
			":state": stringAttr(string(state)),
		},
	}

	return c.scanSubscriptions(ctx, input)
}

// ListBySubscriber scans the alarms table for subscriptions held by
// subscriberID.
func (c *Client) ListBySubscriber(ctx context.Context, subscriberID string) ([]types.AlarmSubscription, error) {
	if subscriberID == "" {
		return nil, errors.New("subscriber ID cannot be empty")
	}

	input := &dynamodb.ScanInput{
		TableName:        aws.String(c.alarmsTable),
		FilterExpression: aws.String(SubscriberAttr + " = :subscriber"),
		ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
			":subscriber": stringAttr(subscriberID),
		},
	}

	return c.scanSubscriptions(ctx, input)
}

// ListAlarms returns the distinct alarm keys that have at least one
// subscriber, sorted alphabetically.
func (c *Client) ListAlarms(ctx context.Context) ([]types.AlarmKey, error) {
	input := &dynamodb.ScanInput{
		TableName:            aws.String(c.alarmsTable),
		ProjectionExpression: aws.String(AlarmKeyAttr),
	}

	keys := make(map[types.AlarmKey]struct{})

	err := c.scanAll(ctx, input, func(item map[string]dynamodbtypes.AttributeValue) error {
		if key := getStringValue(item[AlarmKeyAttr]); key != "" {
			keys[types.AlarmKey(key)] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := make([]types.AlarmKey, 0, len(keys))

	for key := range keys {
		result = append(result, key)
	}

	slices.Sort(result)

	return result, nil
}

// DeleteAllSubscriptions removes every item from the alarms table.
func (c *Client) DeleteAllSubscriptions(ctx context.Context) error {
	_, err := c.deleteMatching(ctx, &dynamodb.ScanInput{
		TableName:            aws.String(c.alarmsTable),
		ProjectionExpression: aws.String(AlarmKeyAttr + ", " + SubscriberAttr),
	}, AlarmKeyAttr, SubscriberAttr)

	return err
}

// UpdateState sets the state value and timestamps of an existing subscription
// item. The write is conditional on the item still existing; if it was
// deleted concurrently, a PreconditionFailed error is returned and nothing is
// written.
func (c *Client) UpdateState(ctx context.Context, update types.StateUpdate) error {
	if err := update.Validate(); err != nil {
		return fmt.Errorf("invalid state update: %w", err)
	}

	set := fmt.Sprintf("SET %s = :state, %s = :updated, %s = :state_updated", StateValueAttr, UpdatedAttr, StateUpdatedAttr)
	values := map[string]dynamodbtypes.AttributeValue{
		":key":           stringAttr(update.AlarmKey.String()),
		":state":         stringAttr(string(update.StateValue)),
		":updated":       timeAttr(update.UpdatedAt),
		":state_updated": timeAttr(update.StateUpdatedAt),
	}

	if update.Namespace != "" {
		set += fmt.Sprintf(", %s = :namespace", NamespaceAttr)
		values[":namespace"] = stringAttr(update.Namespace)
	}

	input := &dynamodb.UpdateItemInput{
		TableName:                 aws.String(c.alarmsTable),
		Key:                       subscriptionKey(update.AlarmKey, update.SubscriberID),
		UpdateExpression:          aws.String(set),
		ConditionExpression:       aws.String(fmt.Sprintf("attribute_exists(%s) AND %s = :key", AlarmKeyAttr, AlarmKeyAttr)),
		ExpressionAttributeValues: values,
	}

	if _, err := c.client.UpdateItem(ctx, input); err != nil {
		var conditionErr *dynamodbtypes.ConditionalCheckFailedException
		if errors.As(err, &conditionErr) {
			return types.PreconditionFailed("UpdateState", fmt.Errorf("subscription %s/%s no longer exists", update.AlarmKey, update.SubscriberID))
		}
		return fmt.Errorf("failed to update subscription in DynamoDB table %s: %w", c.alarmsTable, err)
	}

	return nil
}

func (c *Client) scanSubscriptions(ctx context.Context, input *dynamodb.ScanInput) ([]types.AlarmSubscription, error) {
	var subscriptions []types.AlarmSubscription

	err := c.scanAll(ctx, input, func(item map[string]dynamodbtypes.AttributeValue) error {
		subscriptions = append(subscriptions, subscriptionFromItem(item))
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(subscriptions, func(a, b types.AlarmSubscription) int {
		if n := strings.Compare(a.AlarmKey.String(), b.AlarmKey.String()); n != 0 {
			return n
		}
		return strings.Compare(a.SubscriberID, b.SubscriberID)
	})

	return subscriptions, nil
}

func subscriptionFromItem(item map[string]dynamodbtypes.AttributeValue) types.AlarmSubscription {
	return types.AlarmSubscription{
		AlarmKey:       types.AlarmKey(getStringValue(item[AlarmKeyAttr])),
		SubscriberID:   getStringValue(item[SubscriberAttr]),
		Namespace:      getStringValue(item[NamespaceAttr]),
		StateValue:     types.AlarmState(getStringValue(item[StateValueAttr])),
		LastUpdated:    getTimeValue(item[UpdatedAttr]),
		StateUpdatedAt: getTimeValue(item[StateUpdatedAttr]),
	}
}

func subscriptionKey(alarmKey types.AlarmKey, subscriberID string) map[string]dynamodbtypes.AttributeValue {
	return map[string]dynamodbtypes.AttributeValue{
		AlarmKeyAttr:   stringAttr(alarmKey.String()),
		SubscriberAttr: stringAttr(subscriberID),
	}
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
