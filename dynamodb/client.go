package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	// GSIRegionAlarmName is the name of the Global Secondary Index used to
	// look up all subscribers of an alarm. Partition key: RegionAlarmName.
	GSIRegionAlarmName = "RegionAlarmNameIndex"

	// GSIServiceRegion is the name of the Global Secondary Index used to list
	// cached resources by service and region. Partition key: service, sort
	// key: region, projected attributes: data, updated, expires.
	GSIServiceRegion = "ServiceRegionIndex"

	// AlarmKeyAttr is the partition key of the alarms table.
	AlarmKeyAttr = "RegionAlarmName"

	// SubscriberAttr is the sort key of the alarms table.
	SubscriberAttr = "ResourceArn"

	// StateValueAttr holds the last propagated alarm state.
	StateValueAttr = "StateValue"

	// NamespaceAttr holds the optional alarm namespace.
	NamespaceAttr = "Namespace"

	// UpdatedAttr holds the Unix time of the last write to a subscription.
	UpdatedAttr = "Updated"

	// StateUpdatedAttr holds the Unix time the alarm entered its current state.
	StateUpdatedAttr = "StateUpdated"

	// ARNAttr is the partition key of the cache table.
	ARNAttr = "arn"

	// ServiceAttr is the partition key of the GSIServiceRegion index.
	ServiceAttr = "service"

	// RegionAttr is the sort key of the GSIServiceRegion index.
	RegionAttr = "region"

	// DataAttr holds the JSON-encoded resource attributes.
	DataAttr = "data"

	// DiscoveredAttr holds the Unix time of the last sighting of a resource.
	DiscoveredAttr = "updated"

	// ExpiresAttr is the TTL attribute of the cache table. The table must have
	// TTL enabled on this attribute.
	ExpiresAttr = "expires"

	// maxBatchSize is the DynamoDB BatchWriteItem limit.
	maxBatchSize = 25

	// maxBackoff is the maximum backoff duration for retry loops.
	maxBackoff = 2 * time.Second
)

// Client is a DynamoDB-backed implementation of the subscription index and
// the resource cache.
//
// Use [New] to create a Client, [Client.Connect] to initialize the underlying
// DynamoDB connection, and [Client.Init] to validate the table schemas.
type Client struct {
	client      API
	alarmsTable string
	cacheTable  string
	awsCfg      *aws.Config
	opts        *Options
}

// New creates a new Client configured with the given AWS config, table names,
// and optional options. Call [Client.Connect] on the returned client before use.
func New(awsCfg *aws.Config, alarmsTable, cacheTable string, opts ...Option) *Client {
	options := newOptions()

	for _, o := range opts {
		o(options)
	}

	return &Client{
		awsCfg:      awsCfg,
		alarmsTable: alarmsTable,
		cacheTable:  cacheTable,
		opts:        options,
	}
}

// Connect initializes the DynamoDB client from the AWS config provided to [New].
// It must be called before any other Client methods, and must complete before
// the Client is used concurrently.
func (c *Client) Connect() error {
	if err := c.opts.validate(); err != nil {
		return fmt.Errorf("invalid DynamoDB options: %w", err)
	}

	if c.alarmsTable == "" {
		return errors.New("alarms table name cannot be empty")
	}

	if c.cacheTable == "" {
		return errors.New("cache table name cannot be empty")
	}

	// Use injected DynamoDB API if provided (useful for testing).
	if c.opts.dynamoDBAPI != nil {
		c.client = c.opts.dynamoDBAPI
	} else {
		if c.awsCfg == nil {
			return errors.New("AWS config cannot be nil")
		}
		c.client = dynamodb.NewFromConfig(*c.awsCfg)
	}

	return nil
}

// Init validates both table schemas. The alarms table must have the composite
// key (RegionAlarmName, ResourceArn) and the [GSIRegionAlarmName] index. The
// cache table must be keyed by arn, have TTL enabled on expires, and have the
// [GSIServiceRegion] index.
//
// Pass skipSchemaValidation true to skip all checks and return immediately,
// which is useful when schema validation is managed separately.
func (c *Client) Init(ctx context.Context, skipSchemaValidation bool) error {
	if skipSchemaValidation {
		return nil
	}

	alarms, err := c.describeTable(ctx, c.alarmsTable)
	if err != nil {
		return err
	}

	if err := verifyKeySchema(alarms, AlarmKeyAttr, SubscriberAttr); err != nil {
		return err
	}

	if err := verifySecondaryIndex(alarms, GSIRegionAlarmName, AlarmKeyAttr, ""); err != nil {
		return err
	}

	cache, err := c.describeTable(ctx, c.cacheTable)
	if err != nil {
		return err
	}

	if err := verifyKeySchema(cache, ARNAttr, ""); err != nil {
		return err
	}

	if err := verifySecondaryIndex(cache, GSIServiceRegion, ServiceAttr, RegionAttr, DataAttr, DiscoveredAttr, ExpiresAttr); err != nil {
		return err
	}

	ttlResponse, err := c.client.DescribeTimeToLive(ctx, &dynamodb.DescribeTimeToLiveInput{
		TableName: aws.String(c.cacheTable),
	})
	if err != nil {
		return fmt.Errorf("failed to describe TTL for table %s: %w", c.cacheTable, err)
	}

	if ttlResponse.TimeToLiveDescription == nil {
		return fmt.Errorf("table %s has no TTL description", c.cacheTable)
	}

	if ttlResponse.TimeToLiveDescription.TimeToLiveStatus != dynamodbtypes.TimeToLiveStatusEnabled {
		return fmt.Errorf("table %s has TTL status %s (expected %s)", c.cacheTable, ttlResponse.TimeToLiveDescription.TimeToLiveStatus, dynamodbtypes.TimeToLiveStatusEnabled)
	}

	if aws.ToString(ttlResponse.TimeToLiveDescription.AttributeName) != ExpiresAttr {
		return fmt.Errorf("TTL attribute name for table %s is %s, expected %s", c.cacheTable, aws.ToString(ttlResponse.TimeToLiveDescription.AttributeName), ExpiresAttr)
	}

	return nil
}

// DropAllData deletes every item from both tables.
//
// This method is intended for use in tests only. Do not call it in production.
func (c *Client) DropAllData(ctx context.Context) error {
	if err := c.DeleteAllSubscriptions(ctx); err != nil {
		return err
	}

	_, err := c.deleteMatching(ctx, &dynamodb.ScanInput{
		TableName:            aws.String(c.cacheTable),
		ProjectionExpression: aws.String(ARNAttr),
	}, ARNAttr)

	return err
}

func (c *Client) describeTable(ctx context.Context, tableName string) (*dynamodbtypes.TableDescription, error) {
	response, err := c.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(tableName),
	})
	if err != nil {
		var notFoundError *dynamodbtypes.ResourceNotFoundException
		if errors.As(err, &notFoundError) {
			return nil, fmt.Errorf("table %s does not exist", tableName)
		}
		return nil, fmt.Errorf("failed to describe table %s: %w", tableName, err)
	}

	if response.Table == nil {
		return nil, fmt.Errorf("table %s has no description", tableName)
	}

	if response.Table.TableStatus != dynamodbtypes.TableStatusActive {
		return nil, fmt.Errorf("table %s is not active (status: %s)", tableName, response.Table.TableStatus)
	}

	return response.Table, nil
}

// queryAll runs the query and calls fn for every item on every page.
func (c *Client) queryAll(ctx context.Context, input *dynamodb.QueryInput, fn func(map[string]dynamodbtypes.AttributeValue) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		output, err := c.client.Query(ctx, input)
		if err != nil {
			return fmt.Errorf("failed to query DynamoDB table %s: %w", aws.ToString(input.TableName), err)
		}

		for _, item := range output.Items {
			if err := fn(item); err != nil {
				return err
			}
		}

		if len(output.LastEvaluatedKey) == 0 {
			return nil
		}

		input.ExclusiveStartKey = output.LastEvaluatedKey
	}
}

// scanAll runs the scan and calls fn for every item on every page.
func (c *Client) scanAll(ctx context.Context, input *dynamodb.ScanInput, fn func(map[string]dynamodbtypes.AttributeValue) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		output, err := c.client.Scan(ctx, input)
		if err != nil {
			return fmt.Errorf("failed to scan DynamoDB table %s: %w", aws.ToString(input.TableName), err)
		}

		for _, item := range output.Items {
			if err := fn(item); err != nil {
				return err
			}
		}

		if len(output.LastEvaluatedKey) == 0 {
			return nil
		}

		input.ExclusiveStartKey = output.LastEvaluatedKey
	}
}

// deleteMatching scans with input and deletes every returned item, using the
// named attributes as its key. It returns the number of items deleted.
func (c *Client) deleteMatching(ctx context.Context, input *dynamodb.ScanInput, keyAttrs ...string) (int, error) {
	tableName := aws.ToString(input.TableName)
	deleted := 0

	for {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}

		output, err := c.client.Scan(ctx, input)
		if err != nil {
			return deleted, fmt.Errorf("failed to scan DynamoDB table %s: %w", tableName, err)
		}

		requests := make([]dynamodbtypes.WriteRequest, 0, len(output.Items))

		for _, item := range output.Items {
			key := make(map[string]dynamodbtypes.AttributeValue, len(keyAttrs))
			for _, attr := range keyAttrs {
				key[attr] = item[attr]
			}

			requests = append(requests, dynamodbtypes.WriteRequest{
				DeleteRequest: &dynamodbtypes.DeleteRequest{Key: key},
			})
		}

		if err := c.batchWrite(ctx, tableName, requests); err != nil {
			return deleted, err
		}

		deleted += len(requests)

		if len(output.LastEvaluatedKey) == 0 {
			return deleted, nil
		}

		input.ExclusiveStartKey = output.LastEvaluatedKey
	}
}

// batchWrite sends the requests in batches of up to 25 using BatchWriteItem,
// with exponential backoff for any unprocessed items.
func (c *Client) batchWrite(ctx context.Context, tableName string, requests []dynamodbtypes.WriteRequest) error {
	for chunk := range slices.Chunk(requests, maxBatchSize) {
		input := &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]dynamodbtypes.WriteRequest{
				tableName: chunk,
			},
		}

		const maxRetries = 5
		backoff := 50 * time.Millisecond

		for attempt := 0; attempt <= maxRetries; attempt++ {
			result, err := c.client.BatchWriteItem(ctx, input)
			if err != nil {
				return fmt.Errorf("failed to batch write items to DynamoDB table %s: %w", tableName, err)
			}

			if len(result.UnprocessedItems) == 0 {
				break
			}

			if attempt == maxRetries {
				return fmt.Errorf("%d unprocessed items after %d retries", len(result.UnprocessedItems[tableName]), maxRetries)
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}

			backoff = min(backoff*2, maxBackoff)
			input.RequestItems = result.UnprocessedItems
		}
	}

	return nil
}

func verifyKeySchema(table *dynamodbtypes.TableDescription, partitionKey, sortKey string) error {
	tableName := aws.ToString(table.TableName)

	if len(table.KeySchema) < 1 {
		return fmt.Errorf("table %s has no key schema", tableName)
	}

	if aws.ToString(table.KeySchema[0].AttributeName) != partitionKey {
		return fmt.Errorf("table %s has partition key %s, expected %s", tableName, aws.ToString(table.KeySchema[0].AttributeName), partitionKey)
	}

	if sortKey == "" {
		if len(table.KeySchema) != 1 {
			return fmt.Errorf("table %s has a composite primary key, expected simple", tableName)
		}
		return nil
	}

	if len(table.KeySchema) < 2 {
		return fmt.Errorf("table %s has a simple primary key, expected composite", tableName)
	}

	if aws.ToString(table.KeySchema[1].AttributeName) != sortKey {
		return fmt.Errorf("table %s has sort key %s, expected %s", tableName, aws.ToString(table.KeySchema[1].AttributeName), sortKey)
	}

	return nil
}

// verifySecondaryIndex checks the key schema, status and projection of a GSI.
// An empty sortKey expects a simple key. Projection type ALL satisfies any
// set of non-key attributes; KEYS_ONLY satisfies none.
func verifySecondaryIndex(table *dynamodbtypes.TableDescription, indexName, partitionKey, sortKey string, nonKeyAttributes ...string) error {
	for _, index := range table.GlobalSecondaryIndexes {
		if aws.ToString(index.IndexName) != indexName {
			continue
		}

		if len(index.KeySchema) == 0 {
			return fmt.Errorf("global secondary index %s has no key schema", indexName)
		}

		if aws.ToString(index.KeySchema[0].AttributeName) != partitionKey {
			return fmt.Errorf("global secondary index %s has partition key %s, expected %s", indexName, aws.ToString(index.KeySchema[0].AttributeName), partitionKey)
		}

		if sortKey != "" {
			if len(index.KeySchema) != 2 {
				return fmt.Errorf("global secondary index %s has a simple primary key, expected a composite primary key", indexName)
			}

			if aws.ToString(index.KeySchema[1].AttributeName) != sortKey {
				return fmt.Errorf("global secondary index %s has sort key %s, expected %s", indexName, aws.ToString(index.KeySchema[1].AttributeName), sortKey)
			}
		}

		if index.IndexStatus != dynamodbtypes.IndexStatusActive {
			return fmt.Errorf("global secondary index %s is not active (status: %s)", indexName, index.IndexStatus)
		}

		if index.Projection == nil {
			return fmt.Errorf("global secondary index %s has no projection", indexName)
		}

		switch index.Projection.ProjectionType {
		case dynamodbtypes.ProjectionTypeAll:
			return nil
		case dynamodbtypes.ProjectionTypeKeysOnly:
			if len(nonKeyAttributes) > 0 {
				return fmt.Errorf("global secondary index %s has projection type %s, expected %s or %s", indexName, index.Projection.ProjectionType, dynamodbtypes.ProjectionTypeInclude, dynamodbtypes.ProjectionTypeAll)
			}
			return nil
		default:
			for _, attr := range nonKeyAttributes {
				if !slices.Contains(index.Projection.NonKeyAttributes, attr) {
					return fmt.Errorf("global secondary index %s is missing non-key attribute %s", indexName, attr)
				}
			}
			return nil
		}
	}

	return fmt.Errorf("global secondary index %s not found", indexName)
}

// getStringValue extracts the string value from a DynamoDB AttributeValue.
// It returns an empty string if the AttributeValue is not of type AttributeValueMemberS.
func getStringValue(attr dynamodbtypes.AttributeValue) string {
	if attrValue, ok := attr.(*dynamodbtypes.AttributeValueMemberS); ok {
		return attrValue.Value
	}

	return ""
}

// getTimeValue reads a Unix-seconds number attribute. It returns the zero time
// if the attribute is missing or not a valid number.
func getTimeValue(attr dynamodbtypes.AttributeValue) time.Time {
	attrValue, ok := attr.(*dynamodbtypes.AttributeValueMemberN)
	if !ok {
		return time.Time{}
	}

	secs, err := strconv.ParseInt(attrValue.Value, 10, 64)
	if err != nil {
		return time.Time{}
	}

	return time.Unix(secs, 0).UTC()
}

func stringAttr(s string) *dynamodbtypes.AttributeValueMemberS {
	return &dynamodbtypes.AttributeValueMemberS{Value: s}
}

func timeAttr(t time.Time) *dynamodbtypes.AttributeValueMemberN {
	return &dynamodbtypes.AttributeValueMemberN{Value: strconv.FormatInt(t.Unix(), 10)}
}
