package dynamodb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/msam-go/msam/types"
)

// Put upserts the resources into the cache table. Each resource is stamped in
// place with the current time and an expiry of now plus the cache TTL
// configured via [WithCacheTimeToLive].
//
// A single resource is written with PutItem; two or more are batched in groups
// of up to 25 using BatchWriteItem. If the same ARN appears more than once,
// the last occurrence wins.
func (c *Client) Put(ctx context.Context, resources ...*types.CachedResource) error {
	if len(resources) == 0 {
		return nil
	}

	for _, r := range resources {
		if r == nil {
			return errors.New("resource cannot be nil")
		}

		if err := r.Validate(); err != nil {
			return fmt.Errorf("invalid resource: %w", err)
		}
	}

	now := c.opts.clock()

	for _, r := range resources {
		r.Stamp(now, c.opts.cacheTimeToLive)
	}

	if len(resources) == 1 {
		input := &dynamodb.PutItemInput{
			TableName: aws.String(c.cacheTable),
			Item:      resourceItem(resources[0]),
		}

		if _, err := c.client.PutItem(ctx, input); err != nil {
			return fmt.Errorf("failed to write resource to DynamoDB table %s: %w", c.cacheTable, err)
		}

		return nil
	}

	// BatchWriteItem rejects duplicate keys within one request.
	latest := make(map[string]int, len(resources))
	for i, r := range resources {
		latest[r.ARN] = i
	}

	requests := make([]dynamodbtypes.WriteRequest, 0, len(latest))

	for i, r := range resources {
		if latest[r.ARN] != i {
			continue
		}

		requests = append(requests, dynamodbtypes.WriteRequest{
			PutRequest: &dynamodbtypes.PutRequest{Item: resourceItem(r)},
		})
	}

	return c.batchWrite(ctx, c.cacheTable, requests)
}

// Get returns the cached resource with the given ARN. A NotFound error is
// returned if the item does not exist or has expired.
func (c *Client) Get(ctx context.Context, arn string) (*types.CachedResource, error) {
	if arn == "" {
		return nil, errors.New("ARN cannot be empty")
	}

	input := &dynamodb.GetItemInput{
		TableName: aws.String(c.cacheTable),
		Key: map[string]dynamodbtypes.AttributeValue{
			ARNAttr: stringAttr(arn),
		},
	}

	output, err := c.client.GetItem(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to get resource from DynamoDB table %s: %w", c.cacheTable, err)
	}

	if len(output.Item) == 0 {
		return nil, types.NotFound("Get", "resource %s not found", arn)
	}

	resource := resourceFromItem(output.Item)

	if resource.Expired(c.opts.clock()) {
		return nil, types.NotFound("Get", "resource %s has expired", arn)
	}

	return resource, nil
}

// ListByServiceRegion queries the [GSIServiceRegion] index for the unexpired
// resources of service in region, sorted by ARN.
func (c *Client) ListByServiceRegion(ctx context.Context, service, region string) ([]*types.CachedResource, error) {
	if service == "" {
		return nil, errors.New("service cannot be empty")
	}

	if region == "" {
		return nil, errors.New("region cannot be empty")
	}

	input := &dynamodb.QueryInput{
		TableName: aws.String(c.cacheTable),
		IndexName: aws.String(GSIServiceRegion),
		ExpressionAttributeNames: map[string]string{
			"#service": ServiceAttr,
			"#region":  RegionAttr,
		},
		ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
			":service": stringAttr(service),
			":region":  stringAttr(region),
		},
		KeyConditionExpression: aws.String("#service = :service AND #region = :region"),
	}

	return c.queryResources(ctx, input)
}

// ListByService queries the [GSIServiceRegion] index for the unexpired
// resources of service across all regions, sorted by ARN.
func (c *Client) ListByService(ctx context.Context, service string) ([]*types.CachedResource, error) {
	if service == "" {
		return nil, errors.New("service cannot be empty")
	}

	input := &dynamodb.QueryInput{
		TableName: aws.String(c.cacheTable),
		IndexName: aws.String(GSIServiceRegion),
		ExpressionAttributeNames: map[string]string{
			"#service": ServiceAttr,
		},
		ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
			":service": stringAttr(service),
		},
		KeyConditionExpression: aws.String("#service = :service"),
	}

	return c.queryResources(ctx, input)
}

// Delete removes the cached resource. Deleting a missing item is not an error.
func (c *Client) Delete(ctx context.Context, arn string) error {
	if arn == "" {
		return errors.New("ARN cannot be empty")
	}

	input := &dynamodb.DeleteItemInput{
		TableName: aws.String(c.cacheTable),
		Key: map[string]dynamodbtypes.AttributeValue{
			ARNAttr: stringAttr(arn),
		},
	}

	if _, err := c.client.DeleteItem(ctx, input); err != nil {
		return fmt.Errorf("failed to delete resource from DynamoDB table %s: %w", c.cacheTable, err)
	}

	return nil
}

// SweepExpired deletes every cached resource whose expiry has passed and
// returns how many were deleted. DynamoDB's own TTL process removes expired
// items eventually; this makes removal prompt.
//
// Each delete is conditional on the item still being expired, so an entry
// refreshed by a Put after the scan read it is kept.
func (c *Client) SweepExpired(ctx context.Context) (int, error) {
	now := timeAttr(c.opts.clock())
	names := map[string]string{
		"#expires": ExpiresAttr,
	}

	input := &dynamodb.ScanInput{
		TableName:                aws.String(c.cacheTable),
		ProjectionExpression:     aws.String(ARNAttr),
		FilterExpression:         aws.String("#expires <= :now"),
		ExpressionAttributeNames: names,
		ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
			":now": now,
		},
	}

	deleted := 0

	err := c.scanAll(ctx, input, func(item map[string]dynamodbtypes.AttributeValue) error {
		_, err := c.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(c.cacheTable),
			Key: map[string]dynamodbtypes.AttributeValue{
				ARNAttr: item[ARNAttr],
			},
			ConditionExpression:      aws.String("#expires <= :now"),
			ExpressionAttributeNames: names,
			ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
				":now": now,
			},
		})

		var conditionErr *dynamodbtypes.ConditionalCheckFailedException

		switch {
		case errors.As(err, &conditionErr):
			return nil
		case err != nil:
			return fmt.Errorf("failed to delete expired resource from DynamoDB table %s: %w", c.cacheTable, err)
		}

		deleted++

		return nil
	})

	return deleted, err
}

func (c *Client) queryResources(ctx context.Context, input *dynamodb.QueryInput) ([]*types.CachedResource, error) {
	now := c.opts.clock()
	resources := []*types.CachedResource{}

	err := c.queryAll(ctx, input, func(item map[string]dynamodbtypes.AttributeValue) error {
		r := resourceFromItem(item)
		if !r.Expired(now) {
			resources = append(resources, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(resources, func(a, b *types.CachedResource) int {
		return strings.Compare(a.ARN, b.ARN)
	})

	return resources, nil
}

func resourceItem(r *types.CachedResource) map[string]dynamodbtypes.AttributeValue {
	data := string(r.Attributes)
	if data == "" {
		data = "{}"
	}

	return map[string]dynamodbtypes.AttributeValue{
		ARNAttr:        stringAttr(r.ARN),
		ServiceAttr:    stringAttr(r.Service),
		RegionAttr:     stringAttr(r.Region),
		DataAttr:       stringAttr(data),
		DiscoveredAttr: timeAttr(r.DiscoveredAt),
		ExpiresAttr:    timeAttr(r.ExpiresAt),
	}
}

func resourceFromItem(item map[string]dynamodbtypes.AttributeValue) *types.CachedResource {
	r := &types.CachedResource{
		ARN:          getStringValue(item[ARNAttr]),
		Service:      getStringValue(item[ServiceAttr]),
		Region:       getStringValue(item[RegionAttr]),
		DiscoveredAt: getTimeValue(item[DiscoveredAttr]),
		ExpiresAt:    getTimeValue(item[ExpiresAttr]),
	}

	if data := getStringValue(item[DataAttr]); data != "" {
		r.Attributes = json.RawMessage(data)
	}

	return r
}
