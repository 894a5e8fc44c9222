// Package types holds the domain model and the storage contracts shared by
// every msam backend and service.
//
// Backends ([github.com/msam-go/msam/dynamodb], [github.com/msam-go/msam/postgres])
// implement [SubscriptionIndex] and [ResourceStore]; services
// ([github.com/msam-go/msam/alarms], [github.com/msam-go/msam/discovery],
// [github.com/msam-go/msam/query]) depend only on these interfaces.
//
// Failures that callers are expected to branch on are returned as [*Error]
// values carrying an [ErrorKind]. Use [IsNotFound], [IsPreconditionFailed],
// [IsProviderUnavailable] and [IsMalformed] to test for them.
package types
