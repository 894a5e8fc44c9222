// Package dynamodb provides a DynamoDB-backed implementation of the
// [github.com/msam-go/msam/types.SubscriptionIndex] and
// [github.com/msam-go/msam/types.ResourceStore] interfaces.
//
// # Overview
//
// Two tables are used.
//
// The alarms table holds one item per alarm subscription. Its primary key is
// the composite (RegionAlarmName, ResourceArn), where RegionAlarmName is the
// "<region>:<alarm name>" alarm key and ResourceArn is the subscriber. The
// [GSIRegionAlarmName] index supports fan-out lookups of all subscribers of an
// alarm without scanning.
//
// The cache table holds one item per discovered resource, keyed by its ARN.
// The [GSIServiceRegion] index (partition key: service, sort key: region)
// supports listing by service, and by service and region.
//
// # Getting Started
//
// Create a [Client] with [New], supplying an AWS config, both table names, and
// any [Option] values you need:
//
//	client := dynamodb.New(
//	    &awsCfg,
//	    alarmsTable,
//	    cacheTable,
//	    dynamodb.WithCacheTimeToLive(2*time.Hour),
//	)
//
// By default, [New] creates an AWS SDK v2 DynamoDB client from the supplied
// [aws.Config]. Supply [WithAPI] to inject a custom or mock implementation.
//
// # TTL Behaviour
//
// Every cache write stamps the item with "updated" (now) and "expires"
// (now + cache TTL), both as Unix timestamps. Reads treat an item as absent
// once "expires" has passed, regardless of whether DynamoDB's own TTL process
// has deleted it yet. [Client.SweepExpired] deletes such items actively.
//
// # Conditional Writes
//
// [Client.UpdateState] only updates existing subscription items. If the item
// was deleted concurrently, DynamoDB rejects the write with a conditional
// check failure, which is returned as a PreconditionFailed typed error.
//
// # Concurrency
//
// [Client] is safe for concurrent use by multiple goroutines.
package dynamodb
