package postgres

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/msam-go/msam/types"
)

// validIdentifier matches valid PostgreSQL unquoted identifiers.
// Must start with letter or underscore, followed by letters, digits, or underscores.
var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// SSLMode represents PostgreSQL SSL connection modes.
type SSLMode string

const (
	SSLModeDisable    SSLMode = "disable"     // No SSL
	SSLModeAllow      SSLMode = "allow"       // Try non-SSL first, then SSL
	SSLModePrefer     SSLMode = "prefer"      // Try SSL first, then non-SSL (default)
	SSLModeRequire    SSLMode = "require"     // Only SSL (no certificate verification)
	SSLModeVerifyCA   SSLMode = "verify-ca"   // SSL with CA verification
	SSLModeVerifyFull SSLMode = "verify-full" // SSL with CA and hostname verification
)

// Option is a functional option for configuring a Client.
type Option func(*options)

type options struct {
	host                            string
	port                            int
	user                            string
	password                        string
	database                        string
	sslMode                         SSLMode
	poolMaxConnections              *int32
	poolMinConnections              *int32
	poolMinIdleConnections          *int32
	poolMaxConnectionLifetime       *time.Duration
	poolMaxConnectionIdleTime       *time.Duration
	poolHealthCheckPeriod           *time.Duration
	poolMaxConnectionLifetimeJitter *time.Duration
	subscriptionsTable              string
	resourcesTable                  string
	cacheTimeToLive                 time.Duration
	ttlCleanupInterval              *time.Duration
	pageSize                        int
	clock                           func() time.Time
	logger                          types.Logger
}

func newOptions() *options {
	defaultCleanupInterval := time.Hour

	return &options{
		host:               "localhost",
		port:               5432,
		sslMode:            SSLModePrefer,
		subscriptionsTable: "alarm_subscriptions",
		resourcesTable:     "cached_resources",
		cacheTimeToLive:    2 * time.Hour,
		ttlCleanupInterval: &defaultCleanupInterval,
		pageSize:           1000,
		clock:              time.Now,
	}
}

func WithHost(host string) Option {
	return func(o *options) { o.host = host }
}

func WithPort(port int) Option {
	return func(o *options) { o.port = port }
}

func WithUser(user string) Option {
	return func(o *options) { o.user = user }
}

func WithPassword(password string) Option {
	return func(o *options) { o.password = password }
}

func WithDatabase(database string) Option {
	return func(o *options) { o.database = database }
}

func WithSSLMode(mode SSLMode) Option {
	return func(o *options) { o.sslMode = mode }
}

func WithPoolMaxConnections(n int32) Option {
	return func(o *options) { o.poolMaxConnections = &n }
}

func WithPoolMinConnections(n int32) Option {
	return func(o *options) { o.poolMinConnections = &n }
}

func WithPoolMinIdleConnections(n int32) Option {
	return func(o *options) { o.poolMinIdleConnections = &n }
}

func WithPoolMaxConnectionLifetime(d time.Duration) Option {
	return func(o *options) { o.poolMaxConnectionLifetime = &d }
}

func WithPoolMaxConnectionIdleTime(d time.Duration) Option {
	return func(o *options) { o.poolMaxConnectionIdleTime = &d }
}

func WithPoolHealthCheckPeriod(d time.Duration) Option {
	return func(o *options) { o.poolHealthCheckPeriod = &d }
}

func WithPoolMaxConnectionLifetimeJitter(d time.Duration) Option {
	return func(o *options) { o.poolMaxConnectionLifetimeJitter = &d }
}

func WithSubscriptionsTable(name string) Option {
	return func(o *options) { o.subscriptionsTable = name }
}

func WithResourcesTable(name string) Option {
	return func(o *options) { o.resourcesTable = name }
}

// WithCacheTimeToLive sets the TTL applied to every cached resource on write.
// The default is 2 hours. The duration must be greater than zero.
func WithCacheTimeToLive(d time.Duration) Option {
	return func(o *options) { o.cacheTimeToLive = d }
}

// WithTTLCleanupInterval sets how often the background goroutine runs to
// physically delete expired resources. Defaults to 1 hour. The duration must
// be greater than zero.
func WithTTLCleanupInterval(d time.Duration) Option {
	return func(o *options) { o.ttlCleanupInterval = &d }
}

// WithTTLCleanupDisabled disables the background TTL cleanup goroutine.
// When disabled, expired rows are excluded from reads but only deleted by
// explicit calls to SweepExpired.
func WithTTLCleanupDisabled() Option {
	return func(o *options) { o.ttlCleanupInterval = nil }
}

// WithPageSize sets the number of rows fetched per round trip when listing
// the subscribers of an alarm. Defaults to 1000.
func WithPageSize(n int) Option {
	return func(o *options) { o.pageSize = n }
}

// WithClock sets the clock used for timestamps and expiry checks. Defaults to
// [time.Now].
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// WithLogger sets the logger used by the background TTL cleanup goroutine.
// Without a logger, cleanup failures are silently retried on the next tick.
func WithLogger(logger types.Logger) Option {
	return func(o *options) { o.logger = logger }
}

type dbRow struct {
	DataType   string
	IsNullable string
}

func (o *options) validate() error {
	if o.port < 1 || o.port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", o.port)
	}

	if o.user == "" {
		return errors.New("user is required")
	}

	if o.database == "" {
		return errors.New("database is required")
	}

	if !o.sslMode.isValid() {
		return fmt.Errorf("invalid SSL mode: %s", o.sslMode)
	}

	if err := validateTableName(o.subscriptionsTable); err != nil {
		return fmt.Errorf("invalid subscriptions table name: %w", err)
	}

	if err := validateTableName(o.resourcesTable); err != nil {
		return fmt.Errorf("invalid resources table name: %w", err)
	}

	if o.subscriptionsTable == o.resourcesTable {
		return errors.New("subscriptions and resources tables must differ")
	}

	if o.cacheTimeToLive <= 0 {
		return errors.New("cache time to live must be greater than zero")
	}

	if o.ttlCleanupInterval != nil && *o.ttlCleanupInterval <= 0 {
		return errors.New("TTL cleanup interval must be positive")
	}

	if o.pageSize < 1 {
		return errors.New("page size must be at least 1")
	}

	if o.clock == nil {
		return errors.New("clock cannot be nil")
	}

	return nil
}

func validateTableName(name string) error {
	if !validIdentifier.MatchString(name) {
		return fmt.Errorf("table name %q contains invalid characters", name)
	}

	return nil
}

// isValid returns true if the SSL mode is a valid PostgreSQL SSL mode.
func (s SSLMode) isValid() bool {
	switch s {
	case SSLModeDisable, SSLModeAllow, SSLModePrefer, SSLModeRequire, SSLModeVerifyCA, SSLModeVerifyFull:
		return true
	default:
		return false
	}
}

func (o *options) connectionString() string {
	host := net.JoinHostPort(o.host, strconv.Itoa(o.port))

	user := url.QueryEscape(o.user)

	if o.password != "" {
		user += ":" + url.QueryEscape(o.password)
	}

	return fmt.Sprintf("postgres://%s@%s/%s?sslmode=%s", user, host, o.database, o.sslMode)
}

func (o *options) createStatements() []string {
	return []string{
		// Subscriptions table and indexes
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (alarm_key text NOT NULL, subscriber_id text NOT NULL, namespace text NULL, state_value text NOT NULL, updated_at TIMESTAMP WITH TIME ZONE NOT NULL, state_updated_at TIMESTAMP WITH TIME ZONE NULL, PRIMARY KEY (alarm_key, subscriber_id));`, o.subscriptionsTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_subscriber_idx ON %s (subscriber_id);`, o.subscriptionsTable, o.subscriptionsTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_state_idx ON %s (state_value);`, o.subscriptionsTable, o.subscriptionsTable),
		// Resources table and indexes
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (arn text PRIMARY KEY, service text NOT NULL, region text NOT NULL, attrs JSONB NOT NULL, discovered_at TIMESTAMP WITH TIME ZONE NOT NULL, expires_at TIMESTAMP WITH TIME ZONE NOT NULL);`, o.resourcesTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_service_region_idx ON %s (service, region);`, o.resourcesTable, o.resourcesTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_expires_at_idx ON %s (expires_at);`, o.resourcesTable, o.resourcesTable),
	}
}

func (o *options) dropStatements() []string {
	return []string{
		fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE;", o.subscriptionsTable),
		fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE;", o.resourcesTable),
	}
}

func (o *options) verifyCurrentDatabaseVersion(actualRows map[string]*dbRow) error {
	expectedRows := map[string]*dbRow{
		o.subscriptionsTable + ".alarm_key":        {DataType: "text", IsNullable: "NO"},
		o.subscriptionsTable + ".subscriber_id":    {DataType: "text", IsNullable: "NO"},
		o.subscriptionsTable + ".namespace":        {DataType: "text", IsNullable: "YES"},
		o.subscriptionsTable + ".state_value":      {DataType: "text", IsNullable: "NO"},
		o.subscriptionsTable + ".updated_at":       {DataType: "timestamp with time zone", IsNullable: "NO"},
		o.subscriptionsTable + ".state_updated_at": {DataType: "timestamp with time zone", IsNullable: "YES"},
		o.resourcesTable + ".arn":                  {DataType: "text", IsNullable: "NO"},
		o.resourcesTable + ".service":              {DataType: "text", IsNullable: "NO"},
		o.resourcesTable + ".region":               {DataType: "text", IsNullable: "NO"},
		o.resourcesTable + ".attrs":                {DataType: "jsonb", IsNullable: "NO"},
		o.resourcesTable + ".discovered_at":        {DataType: "timestamp with time zone", IsNullable: "NO"},
		o.resourcesTable + ".expires_at":           {DataType: "timestamp with time zone", IsNullable: "NO"},
	}

	for id, expectedRow := range expectedRows {
		actual, ok := actualRows[id]
		if !ok {
			return fmt.Errorf("expected row '%s' not found in current database schema", id)
		}

		if !strings.EqualFold(actual.DataType, expectedRow.DataType) {
			return fmt.Errorf("data type mismatch for '%s': expected %s, got %s", id, expectedRow.DataType, actual.DataType)
		}

		if !strings.EqualFold(actual.IsNullable, expectedRow.IsNullable) {
			return fmt.Errorf("nullability mismatch for '%s': expected %s, got %s", id, expectedRow.IsNullable, actual.IsNullable)
		}
	}

	return nil
}
