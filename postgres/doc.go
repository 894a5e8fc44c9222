// Package postgres provides a PostgreSQL-backed implementation of the
// subscription index and resource cache contracts from
// github.com/msam-go/msam/types.
//
// It uses pgx v5 with connection pooling (pgxpool).
//
// # Usage
//
// Create a client using [New] with functional options, call [Client.Connect]
// to establish the connection pool, and then [Client.Init] to create the
// database schema:
//
//	client := postgres.New(
//	    postgres.WithHost("localhost"),
//	    postgres.WithPort(5432),
//	    postgres.WithUser("postgres"),
//	    postgres.WithPassword("secret"),
//	    postgres.WithDatabase("msam"),
//	)
//
//	if err := client.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close(ctx)
//
//	if err := client.Init(ctx, false); err != nil {
//	    log.Fatal(err)
//	}
//
// # Database Tables
//
// Two tables are created automatically by [Client.Init] (table names are
// configurable via [WithSubscriptionsTable] and [WithResourcesTable]):
//
//   - alarm_subscriptions: one row per (alarm_key, subscriber_id), holding the
//     last propagated alarm state
//   - cached_resources: one row per discovered resource ARN, with its JSONB
//     attributes and expiry
//
// # Connection Pool
//
// The underlying pgxpool can be tuned with the pool-specific options:
// [WithPoolMaxConnections], [WithPoolMinConnections],
// [WithPoolMinIdleConnections], [WithPoolMaxConnectionLifetime],
// [WithPoolMaxConnectionIdleTime], [WithPoolHealthCheckPeriod], and
// [WithPoolMaxConnectionLifetimeJitter].
//
// # TTL and Cleanup
//
// Cached resources are assigned an expiry timestamp on every write; the
// default TTL is 2 hours and can be changed with [WithCacheTimeToLive].
// Expired rows are excluded from reads immediately.
//
// A background goroutine periodically deletes expired rows. Its interval
// defaults to 1 hour and can be changed with [WithTTLCleanupInterval] or
// disabled entirely with [WithTTLCleanupDisabled].
//
// # Schema Validation
//
// When [Client.Init] is called with skipSchemaValidation set to false, it
// queries information_schema.columns and verifies that every expected column
// exists with the correct data type and nullability. Pass true to skip this
// check in environments where the schema is managed externally.
//
// # SSL
//
// SSL behaviour is controlled by [WithSSLMode] using the [SSLMode] constants
// ([SSLModeDisable], [SSLModeAllow], [SSLModePrefer], [SSLModeRequire],
// [SSLModeVerifyCA], [SSLModeVerifyFull]). The default is [SSLModePrefer].
package postgres
