package dynamodb

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/msam-go/msam/types"
)

// mockAPI is a mock implementation of API for testing.
type mockAPI struct {
	putItemFunc            func(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	queryFunc              func(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	getItemFunc            func(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	scanFunc               func(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	batchWriteItemFunc     func(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	updateItemFunc         func(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	describeTableFunc      func(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	describeTimeToLiveFunc func(ctx context.Context, params *dynamodb.DescribeTimeToLiveInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTimeToLiveOutput, error)
	deleteItemFunc         func(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

func (m *mockAPI) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if m.putItemFunc != nil {
		return m.putItemFunc(ctx, params, optFns...)
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockAPI) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, params, optFns...)
	}
	return &dynamodb.QueryOutput{}, nil
}

func (m *mockAPI) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if m.getItemFunc != nil {
		return m.getItemFunc(ctx, params, optFns...)
	}
	return &dynamodb.GetItemOutput{}, nil
}

func (m *mockAPI) Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	if m.scanFunc != nil {
		return m.scanFunc(ctx, params, optFns...)
	}
	return &dynamodb.ScanOutput{}, nil
}

func (m *mockAPI) BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	if m.batchWriteItemFunc != nil {
		return m.batchWriteItemFunc(ctx, params, optFns...)
	}
	return &dynamodb.BatchWriteItemOutput{}, nil
}

func (m *mockAPI) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	if m.updateItemFunc != nil {
		return m.updateItemFunc(ctx, params, optFns...)
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (m *mockAPI) DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	if m.describeTableFunc != nil {
		return m.describeTableFunc(ctx, params, optFns...)
	}
	return &dynamodb.DescribeTableOutput{}, nil
}

func (m *mockAPI) DescribeTimeToLive(ctx context.Context, params *dynamodb.DescribeTimeToLiveInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTimeToLiveOutput, error) {
	if m.describeTimeToLiveFunc != nil {
		return m.describeTimeToLiveFunc(ctx, params, optFns...)
	}
	return &dynamodb.DescribeTimeToLiveOutput{}, nil
}

func (m *mockAPI) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	if m.deleteItemFunc != nil {
		return m.deleteItemFunc(ctx, params, optFns...)
	}
	return &dynamodb.DeleteItemOutput{}, nil
}

var fixedTime = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

func newTestClient(mock *mockAPI) *Client {
	cfg := aws.Config{}
	client := New(&cfg, "alarms-table", "cache-table",
		WithAPI(mock),
		WithClock(func() time.Time { return fixedTime }),
	)
	_ = client.Connect()
	return client
}

func unix(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

func cacheItem(arn, service, region string, expires time.Time) map[string]dynamodbtypes.AttributeValue {
	return map[string]dynamodbtypes.AttributeValue{
		ARNAttr:        stringAttr(arn),
		ServiceAttr:    stringAttr(service),
		RegionAttr:     stringAttr(region),
		DataAttr:       stringAttr(`{"Name":"x"}`),
		DiscoveredAttr: timeAttr(expires.Add(-2 * time.Hour)),
		ExpiresAttr:    timeAttr(expires),
	}
}

func mustKey(t *testing.T, region, name string) types.AlarmKey {
	t.Helper()
	key, err := types.NewAlarmKey(region, name)
	if err != nil {
		t.Fatalf("failed to build alarm key: %v", err)
	}
	return key
}

// ==================== Connect Tests ====================

func TestConnect_Success(t *testing.T) {
	t.Parallel()
	cfg := aws.Config{}
	client := New(&cfg, "alarms", "cache", WithAPI(&mockAPI{}))

	if err := client.Connect(); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestConnect_InvalidOptions(t *testing.T) {
	t.Parallel()
	cfg := aws.Config{}
	client := New(&cfg, "alarms", "cache",
		WithAPI(&mockAPI{}),
		WithCacheTimeToLive(0),
	)

	if err := client.Connect(); err == nil {
		t.Error("expected error for invalid options, got nil")
	}
}

func TestConnect_EmptyTableNames(t *testing.T) {
	t.Parallel()
	cfg := aws.Config{}

	if err := New(&cfg, "", "cache", WithAPI(&mockAPI{})).Connect(); err == nil {
		t.Error("expected error for empty alarms table, got nil")
	}

	if err := New(&cfg, "alarms", "", WithAPI(&mockAPI{})).Connect(); err == nil {
		t.Error("expected error for empty cache table, got nil")
	}
}

// ==================== Init Tests ====================

func validTables() map[string]*dynamodbtypes.TableDescription {
	return map[string]*dynamodbtypes.TableDescription{
		"alarms-table": {
			TableName:   aws.String("alarms-table"),
			TableStatus: dynamodbtypes.TableStatusActive,
			KeySchema: []dynamodbtypes.KeySchemaElement{
				{AttributeName: aws.String(AlarmKeyAttr), KeyType: dynamodbtypes.KeyTypeHash},
				{AttributeName: aws.String(SubscriberAttr), KeyType: dynamodbtypes.KeyTypeRange},
			},
			GlobalSecondaryIndexes: []dynamodbtypes.GlobalSecondaryIndexDescription{
				{
					IndexName:   aws.String(GSIRegionAlarmName),
					IndexStatus: dynamodbtypes.IndexStatusActive,
					KeySchema: []dynamodbtypes.KeySchemaElement{
						{AttributeName: aws.String(AlarmKeyAttr), KeyType: dynamodbtypes.KeyTypeHash},
					},
					Projection: &dynamodbtypes.Projection{ProjectionType: dynamodbtypes.ProjectionTypeKeysOnly},
				},
			},
		},
		"cache-table": {
			TableName:   aws.String("cache-table"),
			TableStatus: dynamodbtypes.TableStatusActive,
			KeySchema: []dynamodbtypes.KeySchemaElement{
				{AttributeName: aws.String(ARNAttr), KeyType: dynamodbtypes.KeyTypeHash},
			},
			GlobalSecondaryIndexes: []dynamodbtypes.GlobalSecondaryIndexDescription{
				{
					IndexName:   aws.String(GSIServiceRegion),
					IndexStatus: dynamodbtypes.IndexStatusActive,
					KeySchema: []dynamodbtypes.KeySchemaElement{
						{AttributeName: aws.String(ServiceAttr), KeyType: dynamodbtypes.KeyTypeHash},
						{AttributeName: aws.String(RegionAttr), KeyType: dynamodbtypes.KeyTypeRange},
					},
					Projection: &dynamodbtypes.Projection{
						ProjectionType:   dynamodbtypes.ProjectionTypeInclude,
						NonKeyAttributes: []string{DataAttr, DiscoveredAttr, ExpiresAttr},
					},
				},
			},
		},
	}
}

func initMock(tables map[string]*dynamodbtypes.TableDescription, ttlStatus dynamodbtypes.TimeToLiveStatus) *mockAPI {
	return &mockAPI{
		describeTableFunc: func(_ context.Context, params *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
			table, ok := tables[*params.TableName]
			if !ok {
				return nil, &dynamodbtypes.ResourceNotFoundException{Message: aws.String("not found")}
			}
			return &dynamodb.DescribeTableOutput{Table: table}, nil
		},
		describeTimeToLiveFunc: func(_ context.Context, _ *dynamodb.DescribeTimeToLiveInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTimeToLiveOutput, error) {
			return &dynamodb.DescribeTimeToLiveOutput{
				TimeToLiveDescription: &dynamodbtypes.TimeToLiveDescription{
					TimeToLiveStatus: ttlStatus,
					AttributeName:    aws.String(ExpiresAttr),
				},
			}, nil
		},
	}
}

func TestInit_Success(t *testing.T) {
	t.Parallel()
	client := newTestClient(initMock(validTables(), dynamodbtypes.TimeToLiveStatusEnabled))

	if err := client.Init(context.Background(), false); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestInit_SkipSchemaValidation(t *testing.T) {
	t.Parallel()
	mock := &mockAPI{
		describeTableFunc: func(_ context.Context, _ *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
			t.Error("DescribeTable should not be called")
			return nil, errors.New("unexpected")
		},
	}
	client := newTestClient(mock)

	if err := client.Init(context.Background(), true); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestInit_TableNotFound(t *testing.T) {
	t.Parallel()
	tables := validTables()
	delete(tables, "cache-table")
	client := newTestClient(initMock(tables, dynamodbtypes.TimeToLiveStatusEnabled))

	err := client.Init(context.Background(), false)
	if err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Errorf("expected table does not exist error, got %v", err)
	}
}

func TestInit_WrongPartitionKey(t *testing.T) {
	t.Parallel()
	tables := validTables()
	tables["alarms-table"].KeySchema[0].AttributeName = aws.String("pk")
	client := newTestClient(initMock(tables, dynamodbtypes.TimeToLiveStatusEnabled))

	err := client.Init(context.Background(), false)
	if err == nil || !strings.Contains(err.Error(), "partition key") {
		t.Errorf("expected partition key error, got %v", err)
	}
}

func TestInit_MissingIndex(t *testing.T) {
	t.Parallel()
	tables := validTables()
	tables["cache-table"].GlobalSecondaryIndexes = nil
	client := newTestClient(initMock(tables, dynamodbtypes.TimeToLiveStatusEnabled))

	err := client.Init(context.Background(), false)
	if err == nil || !strings.Contains(err.Error(), GSIServiceRegion) {
		t.Errorf("expected missing index error, got %v", err)
	}
}

func TestInit_MissingProjectedAttribute(t *testing.T) {
	t.Parallel()
	tables := validTables()
	tables["cache-table"].GlobalSecondaryIndexes[0].Projection.NonKeyAttributes = []string{DataAttr}
	client := newTestClient(initMock(tables, dynamodbtypes.TimeToLiveStatusEnabled))

	err := client.Init(context.Background(), false)
	if err == nil || !strings.Contains(err.Error(), "non-key attribute") {
		t.Errorf("expected non-key attribute error, got %v", err)
	}
}

func TestInit_TTLDisabled(t *testing.T) {
	t.Parallel()
	client := newTestClient(initMock(validTables(), dynamodbtypes.TimeToLiveStatusDisabled))

	err := client.Init(context.Background(), false)
	if err == nil || !strings.Contains(err.Error(), "TTL status") {
		t.Errorf("expected TTL status error, got %v", err)
	}
}

// ==================== Subscription Tests ====================

func TestSubscribe_Success(t *testing.T) {
	t.Parallel()
	var captured *dynamodb.PutItemInput
	mock := &mockAPI{
		putItemFunc: func(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			captured = params
			return &dynamodb.PutItemOutput{}, nil
		},
	}
	client := newTestClient(mock)
	key := mustKey(t, "us-west-2", "HighCPU")

	if err := client.Subscribe(context.Background(), key, "arn:node:1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if captured == nil {
		t.Fatal("expected PutItem to be called")
	}
	if *captured.TableName != "alarms-table" {
		t.Errorf("expected table alarms-table, got %s", *captured.TableName)
	}
	if got := getStringValue(captured.Item[AlarmKeyAttr]); got != "us-west-2:HighCPU" {
		t.Errorf("expected alarm key us-west-2:HighCPU, got %s", got)
	}
	if got := getStringValue(captured.Item[StateValueAttr]); got != string(types.InitialAlarmState) {
		t.Errorf("expected initial state %s, got %s", types.InitialAlarmState, got)
	}
	updated, ok := captured.Item[UpdatedAttr].(*dynamodbtypes.AttributeValueMemberN)
	if !ok || updated.Value != unix(fixedTime) {
		t.Errorf("expected Updated %s, got %v", unix(fixedTime), captured.Item[UpdatedAttr])
	}
}

func TestSubscribe_EmptySubscriber(t *testing.T) {
	t.Parallel()
	client := newTestClient(&mockAPI{})

	if err := client.Subscribe(context.Background(), mustKey(t, "us-west-2", "a"), ""); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestUnsubscribe_UsesCompositeKey(t *testing.T) {
	t.Parallel()
	var captured *dynamodb.DeleteItemInput
	mock := &mockAPI{
		deleteItemFunc: func(_ context.Context, params *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
			captured = params
			return &dynamodb.DeleteItemOutput{}, nil
		},
	}
	client := newTestClient(mock)

	if err := client.Unsubscribe(context.Background(), mustKey(t, "us-west-2", "a"), "arn:node:1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if getStringValue(captured.Key[AlarmKeyAttr]) != "us-west-2:a" || getStringValue(captured.Key[SubscriberAttr]) != "arn:node:1" {
		t.Errorf("unexpected key %v", captured.Key)
	}
}

func TestListSubscribers_PaginatesAndDeduplicates(t *testing.T) {
	t.Parallel()
	calls := 0
	mock := &mockAPI{
		queryFunc: func(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
			calls++
			if aws.ToString(params.IndexName) != GSIRegionAlarmName {
				t.Errorf("expected index %s, got %s", GSIRegionAlarmName, aws.ToString(params.IndexName))
			}
			if calls == 1 {
				if params.ExclusiveStartKey != nil {
					t.Error("expected no start key on first page")
				}
				return &dynamodb.QueryOutput{
					Items: []map[string]dynamodbtypes.AttributeValue{
						{SubscriberAttr: stringAttr("arn:node:c")},
						{SubscriberAttr: stringAttr("arn:node:a")},
					},
					LastEvaluatedKey: map[string]dynamodbtypes.AttributeValue{
						AlarmKeyAttr: stringAttr("us-west-2:a"),
					},
				}, nil
			}
			if params.ExclusiveStartKey == nil {
				t.Error("expected start key on second page")
			}
			return &dynamodb.QueryOutput{
				Items: []map[string]dynamodbtypes.AttributeValue{
					{SubscriberAttr: stringAttr("arn:node:a")},
					{SubscriberAttr: stringAttr("arn:node:b")},
				},
			}, nil
		},
	}
	client := newTestClient(mock)

	subscribers, err := client.ListSubscribers(context.Background(), mustKey(t, "us-west-2", "a"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 query calls, got %d", calls)
	}
	want := []string{"arn:node:a", "arn:node:b", "arn:node:c"}
	if strings.Join(subscribers, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, subscribers)
	}
}

func TestListSubscribers_QueryError(t *testing.T) {
	t.Parallel()
	mock := &mockAPI{
		queryFunc: func(_ context.Context, _ *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
			return nil, errors.New("throttled")
		},
	}
	client := newTestClient(mock)

	if _, err := client.ListSubscribers(context.Background(), mustKey(t, "us-west-2", "a")); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestUpdateState_Success(t *testing.T) {
	t.Parallel()
	var captured *dynamodb.UpdateItemInput
	mock := &mockAPI{
		updateItemFunc: func(_ context.Context, params *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
			captured = params
			return &dynamodb.UpdateItemOutput{}, nil
		},
	}
	client := newTestClient(mock)
	stateTime := fixedTime.Add(-time.Minute)

	err := client.UpdateState(context.Background(), types.StateUpdate{
		AlarmKey:       mustKey(t, "us-west-2", "a"),
		SubscriberID:   "arn:node:1",
		StateValue:     types.AlarmStateAlarm,
		UpdatedAt:      fixedTime,
		StateUpdatedAt: stateTime,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got := aws.ToString(captured.ConditionExpression); got != "attribute_exists(RegionAlarmName) AND RegionAlarmName = :key" {
		t.Errorf("expected conditional write on the alarm key, got %q", got)
	}
	if got := getStringValue(captured.ExpressionAttributeValues[":key"]); got != "us-west-2:a" {
		t.Errorf("expected :key us-west-2:a, got %s", got)
	}
	if strings.Contains(aws.ToString(captured.UpdateExpression), NamespaceAttr) {
		t.Errorf("expected namespace to be left alone, got %q", aws.ToString(captured.UpdateExpression))
	}
	if got := getStringValue(captured.ExpressionAttributeValues[":state"]); got != "ALARM" {
		t.Errorf("expected state ALARM, got %s", got)
	}
	stateUpdated, ok := captured.ExpressionAttributeValues[":state_updated"].(*dynamodbtypes.AttributeValueMemberN)
	if !ok || stateUpdated.Value != unix(stateTime) {
		t.Errorf("expected state updated %s, got %v", unix(stateTime), captured.ExpressionAttributeValues[":state_updated"])
	}
}

func TestUpdateState_RecordsNamespace(t *testing.T) {
	t.Parallel()
	var captured *dynamodb.UpdateItemInput
	mock := &mockAPI{
		updateItemFunc: func(_ context.Context, params *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
			captured = params
			return &dynamodb.UpdateItemOutput{}, nil
		},
	}
	client := newTestClient(mock)

	err := client.UpdateState(context.Background(), types.StateUpdate{
		AlarmKey:     mustKey(t, "us-west-2", "a"),
		SubscriberID: "arn:node:1",
		StateValue:   types.AlarmStateOK,
		Namespace:    "AWS/MediaLive",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(aws.ToString(captured.UpdateExpression), "Namespace = :namespace") {
		t.Errorf("expected namespace in update, got %q", aws.ToString(captured.UpdateExpression))
	}
	if got := getStringValue(captured.ExpressionAttributeValues[":namespace"]); got != "AWS/MediaLive" {
		t.Errorf("expected :namespace AWS/MediaLive, got %s", got)
	}
}

func TestUpdateState_ConditionalCheckFailed(t *testing.T) {
	t.Parallel()
	mock := &mockAPI{
		updateItemFunc: func(_ context.Context, _ *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
			return nil, &dynamodbtypes.ConditionalCheckFailedException{Message: aws.String("condition failed")}
		},
	}
	client := newTestClient(mock)

	err := client.UpdateState(context.Background(), types.StateUpdate{
		AlarmKey:     mustKey(t, "us-west-2", "a"),
		SubscriberID: "arn:node:gone",
		StateValue:   types.AlarmStateOK,
	})
	if !types.IsPreconditionFailed(err) {
		t.Errorf("expected precondition failure, got %v", err)
	}
}

func TestUpdateState_OtherError(t *testing.T) {
	t.Parallel()
	mock := &mockAPI{
		updateItemFunc: func(_ context.Context, _ *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
			return nil, errors.New("network down")
		},
	}
	client := newTestClient(mock)

	err := client.UpdateState(context.Background(), types.StateUpdate{
		AlarmKey:     mustKey(t, "us-west-2", "a"),
		SubscriberID: "arn:node:1",
		StateValue:   types.AlarmStateOK,
	})
	if err == nil || types.IsPreconditionFailed(err) {
		t.Errorf("expected plain error, got %v", err)
	}
}

func TestUpdateState_InvalidState(t *testing.T) {
	t.Parallel()
	client := newTestClient(&mockAPI{})

	err := client.UpdateState(context.Background(), types.StateUpdate{
		AlarmKey:     mustKey(t, "us-west-2", "a"),
		SubscriberID: "arn:node:1",
		StateValue:   "BROKEN",
	})
	if err == nil {
		t.Error("expected error, got nil")
	}
}

func TestListByState_DecodesItems(t *testing.T) {
	t.Parallel()
	mock := &mockAPI{
		scanFunc: func(_ context.Context, params *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
			if getStringValue(params.ExpressionAttributeValues[":state"]) != "ALARM" {
				t.Errorf("unexpected filter values %v", params.ExpressionAttributeValues)
			}
			return &dynamodb.ScanOutput{
				Items: []map[string]dynamodbtypes.AttributeValue{
					{
						AlarmKeyAttr:     stringAttr("us-west-2:b"),
						SubscriberAttr:   stringAttr("arn:node:1"),
						StateValueAttr:   stringAttr("ALARM"),
						UpdatedAttr:      timeAttr(fixedTime),
						StateUpdatedAttr: timeAttr(fixedTime.Add(-time.Hour)),
					},
					{
						AlarmKeyAttr:   stringAttr("us-west-2:a"),
						SubscriberAttr: stringAttr("arn:node:2"),
						StateValueAttr: stringAttr("ALARM"),
					},
				},
			}, nil
		},
	}
	client := newTestClient(mock)

	subs, err := client.ListByState(context.Background(), types.AlarmStateAlarm)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("expected 2 subscriptions, got %d", len(subs))
	}
	if subs[0].AlarmKey != "us-west-2:a" {
		t.Errorf("expected results sorted by alarm key, got %s first", subs[0].AlarmKey)
	}
	if !subs[1].StateUpdatedAt.Equal(fixedTime.Add(-time.Hour)) {
		t.Errorf("expected state updated %s, got %s", fixedTime.Add(-time.Hour), subs[1].StateUpdatedAt)
	}
	if !subs[0].LastUpdated.IsZero() {
		t.Errorf("expected zero time for missing attribute, got %s", subs[0].LastUpdated)
	}
}

func TestListAlarms_Distinct(t *testing.T) {
	t.Parallel()
	mock := &mockAPI{
		scanFunc: func(_ context.Context, _ *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
			return &dynamodb.ScanOutput{
				Items: []map[string]dynamodbtypes.AttributeValue{
					{AlarmKeyAttr: stringAttr("us-west-2:b")},
					{AlarmKeyAttr: stringAttr("us-west-2:a")},
					{AlarmKeyAttr: stringAttr("us-west-2:b")},
				},
			}, nil
		},
	}
	client := newTestClient(mock)

	alarms, err := client.ListAlarms(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(alarms) != 2 || alarms[0] != "us-west-2:a" || alarms[1] != "us-west-2:b" {
		t.Errorf("unexpected alarms %v", alarms)
	}
}

func TestDeleteAllSubscriptions_Batches(t *testing.T) {
	t.Parallel()
	items := make([]map[string]dynamodbtypes.AttributeValue, 30)
	for i := range items {
		items[i] = map[string]dynamodbtypes.AttributeValue{
			AlarmKeyAttr:   stringAttr("us-west-2:a"),
			SubscriberAttr: stringAttr("arn:node:" + strconv.Itoa(i)),
		}
	}

	var batchSizes []int
	mock := &mockAPI{
		scanFunc: func(_ context.Context, _ *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
			return &dynamodb.ScanOutput{Items: items}, nil
		},
		batchWriteItemFunc: func(_ context.Context, params *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
			reqs := params.RequestItems["alarms-table"]
			batchSizes = append(batchSizes, len(reqs))
			if len(reqs[0].DeleteRequest.Key) != 2 {
				t.Errorf("expected composite delete key, got %v", reqs[0].DeleteRequest.Key)
			}
			return &dynamodb.BatchWriteItemOutput{}, nil
		},
	}
	client := newTestClient(mock)

	if err := client.DeleteAllSubscriptions(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(batchSizes) != 2 || batchSizes[0] != 25 || batchSizes[1] != 5 {
		t.Errorf("expected batches [25 5], got %v", batchSizes)
	}
}

// ==================== Cache Tests ====================

func TestPut_SingleResourceStampsTTL(t *testing.T) {
	t.Parallel()
	var captured *dynamodb.PutItemInput
	mock := &mockAPI{
		putItemFunc: func(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			captured = params
			return &dynamodb.PutItemOutput{}, nil
		},
	}
	client := newTestClient(mock)

	r := &types.CachedResource{ARN: "arn:1", Service: "medialive-channel", Region: "us-west-2"}

	if err := client.Put(context.Background(), r); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if *captured.TableName != "cache-table" {
		t.Errorf("expected table cache-table, got %s", *captured.TableName)
	}
	expires, ok := captured.Item[ExpiresAttr].(*dynamodbtypes.AttributeValueMemberN)
	if !ok || expires.Value != unix(fixedTime.Add(2*time.Hour)) {
		t.Errorf("expected expires %s, got %v", unix(fixedTime.Add(2*time.Hour)), captured.Item[ExpiresAttr])
	}
	if getStringValue(captured.Item[DataAttr]) != "{}" {
		t.Errorf("expected empty JSON object for missing attributes, got %s", getStringValue(captured.Item[DataAttr]))
	}
	if !r.DiscoveredAt.Equal(fixedTime) {
		t.Errorf("expected resource stamped with %s, got %s", fixedTime, r.DiscoveredAt)
	}
}

func TestPut_CustomTTL(t *testing.T) {
	t.Parallel()
	var captured *dynamodb.PutItemInput
	mock := &mockAPI{
		putItemFunc: func(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			captured = params
			return &dynamodb.PutItemOutput{}, nil
		},
	}
	cfg := aws.Config{}
	client := New(&cfg, "alarms-table", "cache-table",
		WithAPI(mock),
		WithClock(func() time.Time { return fixedTime }),
		WithCacheTimeToLive(10*time.Minute),
	)
	if err := client.Connect(); err != nil {
		t.Fatal(err)
	}

	if err := client.Put(context.Background(), &types.CachedResource{ARN: "arn:1", Service: "s", Region: "r"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	expires := captured.Item[ExpiresAttr].(*dynamodbtypes.AttributeValueMemberN)
	if expires.Value != unix(fixedTime.Add(10*time.Minute)) {
		t.Errorf("expected expires %s, got %s", unix(fixedTime.Add(10*time.Minute)), expires.Value)
	}
}

func TestPut_InvalidResource(t *testing.T) {
	t.Parallel()
	client := newTestClient(&mockAPI{})

	if err := client.Put(context.Background(), &types.CachedResource{ARN: "arn:1"}); err == nil {
		t.Error("expected error for missing service, got nil")
	}
	if err := client.Put(context.Background(), nil); err == nil {
		t.Error("expected error for nil resource, got nil")
	}
}

func TestPut_MultipleDeduplicatesByARN(t *testing.T) {
	t.Parallel()
	var requests []dynamodbtypes.WriteRequest
	mock := &mockAPI{
		batchWriteItemFunc: func(_ context.Context, params *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
			requests = append(requests, params.RequestItems["cache-table"]...)
			return &dynamodb.BatchWriteItemOutput{}, nil
		},
	}
	client := newTestClient(mock)

	err := client.Put(context.Background(),
		&types.CachedResource{ARN: "arn:1", Service: "s", Region: "r", Attributes: []byte(`{"v":1}`)},
		&types.CachedResource{ARN: "arn:2", Service: "s", Region: "r"},
		&types.CachedResource{ARN: "arn:1", Service: "s", Region: "r", Attributes: []byte(`{"v":2}`)},
	)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(requests) != 2 {
		t.Fatalf("expected 2 put requests, got %d", len(requests))
	}
	for _, req := range requests {
		if getStringValue(req.PutRequest.Item[ARNAttr]) == "arn:1" && getStringValue(req.PutRequest.Item[DataAttr]) != `{"v":2}` {
			t.Errorf("expected last occurrence to win, got %s", getStringValue(req.PutRequest.Item[DataAttr]))
		}
	}
}

func TestPut_RetryUnprocessedItems(t *testing.T) {
	t.Parallel()
	callCount := 0
	mock := &mockAPI{
		batchWriteItemFunc: func(_ context.Context, params *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
			callCount++
			if callCount == 1 {
				return &dynamodb.BatchWriteItemOutput{
					UnprocessedItems: map[string][]dynamodbtypes.WriteRequest{
						"cache-table": params.RequestItems["cache-table"][:1],
					},
				}, nil
			}
			return &dynamodb.BatchWriteItemOutput{}, nil
		},
	}
	client := newTestClient(mock)

	err := client.Put(context.Background(),
		&types.CachedResource{ARN: "arn:1", Service: "s", Region: "r"},
		&types.CachedResource{ARN: "arn:2", Service: "s", Region: "r"},
	)
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if callCount != 2 {
		t.Errorf("expected 2 calls (1 initial + 1 retry), got %d", callCount)
	}
}

func TestGet_Found(t *testing.T) {
	t.Parallel()
	mock := &mockAPI{
		getItemFunc: func(_ context.Context, _ *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{Item: cacheItem("arn:1", "s", "r", fixedTime.Add(time.Second))}, nil
		},
	}
	client := newTestClient(mock)

	r, err := client.Get(context.Background(), "arn:1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if r.ARN != "arn:1" || string(r.Attributes) != `{"Name":"x"}` {
		t.Errorf("unexpected resource %+v", r)
	}
}

func TestGet_NotFound(t *testing.T) {
	t.Parallel()
	client := newTestClient(&mockAPI{})

	_, err := client.Get(context.Background(), "arn:missing")
	if !types.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestGet_ExpiredAtBoundary(t *testing.T) {
	t.Parallel()
	mock := &mockAPI{
		getItemFunc: func(_ context.Context, _ *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{Item: cacheItem("arn:1", "s", "r", fixedTime)}, nil
		},
	}
	client := newTestClient(mock)

	_, err := client.Get(context.Background(), "arn:1")
	if !types.IsNotFound(err) {
		t.Errorf("expected not found for entry expiring now, got %v", err)
	}
}

func TestListByServiceRegion_FiltersExpired(t *testing.T) {
	t.Parallel()
	mock := &mockAPI{
		queryFunc: func(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
			if aws.ToString(params.IndexName) != GSIServiceRegion {
				t.Errorf("expected index %s, got %s", GSIServiceRegion, aws.ToString(params.IndexName))
			}
			if getStringValue(params.ExpressionAttributeValues[":region"]) != "us-west-2" {
				t.Errorf("unexpected region value %v", params.ExpressionAttributeValues[":region"])
			}
			return &dynamodb.QueryOutput{
				Items: []map[string]dynamodbtypes.AttributeValue{
					cacheItem("arn:b", "s", "us-west-2", fixedTime.Add(time.Hour)),
					cacheItem("arn:old", "s", "us-west-2", fixedTime.Add(-time.Second)),
					cacheItem("arn:a", "s", "us-west-2", fixedTime.Add(time.Hour)),
				},
			}, nil
		},
	}
	client := newTestClient(mock)

	resources, err := client.ListByServiceRegion(context.Background(), "s", "us-west-2")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(resources) != 2 || resources[0].ARN != "arn:a" || resources[1].ARN != "arn:b" {
		t.Errorf("expected [arn:a arn:b], got %d resources", len(resources))
	}
}

func TestListByService_NoRegionCondition(t *testing.T) {
	t.Parallel()
	mock := &mockAPI{
		queryFunc: func(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
			if strings.Contains(aws.ToString(params.KeyConditionExpression), "#region") {
				t.Errorf("unexpected region condition %q", aws.ToString(params.KeyConditionExpression))
			}
			return &dynamodb.QueryOutput{}, nil
		},
	}
	client := newTestClient(mock)

	resources, err := client.ListByService(context.Background(), "s")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resources == nil || len(resources) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", resources)
	}
}

func TestSweepExpired_DeletesMatches(t *testing.T) {
	t.Parallel()
	var deleted []string
	mock := &mockAPI{
		scanFunc: func(_ context.Context, params *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
			now, ok := params.ExpressionAttributeValues[":now"].(*dynamodbtypes.AttributeValueMemberN)
			if !ok || now.Value != unix(fixedTime) {
				t.Errorf("expected :now %s, got %v", unix(fixedTime), params.ExpressionAttributeValues[":now"])
			}
			return &dynamodb.ScanOutput{
				Items: []map[string]dynamodbtypes.AttributeValue{
					{ARNAttr: stringAttr("arn:1")},
					{ARNAttr: stringAttr("arn:2")},
				},
			}, nil
		},
		deleteItemFunc: func(_ context.Context, params *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
			if aws.ToString(params.TableName) != "cache-table" {
				t.Errorf("expected cache-table, got %s", aws.ToString(params.TableName))
			}
			if aws.ToString(params.ConditionExpression) != "#expires <= :now" {
				t.Errorf("expected expiry condition, got %q", aws.ToString(params.ConditionExpression))
			}
			now, ok := params.ExpressionAttributeValues[":now"].(*dynamodbtypes.AttributeValueMemberN)
			if !ok || now.Value != unix(fixedTime) {
				t.Errorf("expected condition :now %s, got %v", unix(fixedTime), params.ExpressionAttributeValues[":now"])
			}
			deleted = append(deleted, getStringValue(params.Key[ARNAttr]))
			return &dynamodb.DeleteItemOutput{}, nil
		},
	}
	client := newTestClient(mock)

	n, err := client.SweepExpired(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if n != 2 || len(deleted) != 2 || deleted[0] != "arn:1" || deleted[1] != "arn:2" {
		t.Errorf("expected arn:1 and arn:2 deleted, got n=%d deleted=%v", n, deleted)
	}
}

func TestSweepExpired_SkipsRefreshedItem(t *testing.T) {
	t.Parallel()
	mock := &mockAPI{
		scanFunc: func(_ context.Context, _ *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
			return &dynamodb.ScanOutput{
				Items: []map[string]dynamodbtypes.AttributeValue{
					{ARNAttr: stringAttr("arn:refreshed")},
					{ARNAttr: stringAttr("arn:stale")},
				},
			}, nil
		},
		deleteItemFunc: func(_ context.Context, params *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
			// A Put between the scan and the delete moved the expiry forward.
			if getStringValue(params.Key[ARNAttr]) == "arn:refreshed" {
				return nil, &dynamodbtypes.ConditionalCheckFailedException{Message: aws.String("condition failed")}
			}
			return &dynamodb.DeleteItemOutput{}, nil
		},
	}
	client := newTestClient(mock)

	n, err := client.SweepExpired(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 deletion, got %d", n)
	}
}

func TestSweepExpired_DeleteError(t *testing.T) {
	t.Parallel()
	mock := &mockAPI{
		scanFunc: func(_ context.Context, _ *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
			return &dynamodb.ScanOutput{
				Items: []map[string]dynamodbtypes.AttributeValue{{ARNAttr: stringAttr("arn:1")}},
			}, nil
		},
		deleteItemFunc: func(_ context.Context, _ *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
			return nil, errors.New("throttled")
		},
	}
	client := newTestClient(mock)

	n, err := client.SweepExpired(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if n != 0 {
		t.Errorf("expected 0 deletions, got %d", n)
	}
}

func TestSweepExpired_NothingExpired(t *testing.T) {
	t.Parallel()
	mock := &mockAPI{
		deleteItemFunc: func(_ context.Context, _ *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
			t.Error("DeleteItem should not be called")
			return &dynamodb.DeleteItemOutput{}, nil
		},
	}
	client := newTestClient(mock)

	n, err := client.SweepExpired(context.Background())
	if err != nil || n != 0 {
		t.Errorf("expected 0, nil; got %d, %v", n, err)
	}
}
