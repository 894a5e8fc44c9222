// Package config loads the msam process configuration.
//
// Configuration is read from a YAML file, named by the --config flag or the
// MSAM_CONFIG environment variable, on top of [Default]. MSAM_* environment
// variables are applied last and win over the file, so that secrets such as
// the Postgres password can stay out of it.
package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/msam-go/msam/logging"
	"gopkg.in/yaml.v3"
)

// Backend names the store that holds subscriptions and cached resources.
type Backend string

const (
	BackendDynamoDB Backend = "dynamodb"
	BackendPostgres Backend = "postgres"
)

// Config is the complete process configuration.
type Config struct {
	Log logging.Config `yaml:"log"`

	// Backend selects the store. Default: dynamodb
	Backend Backend `yaml:"backend"`

	// Region is the home region of the AWS SDK configuration. Empty uses the
	// SDK's own resolution.
	Region string `yaml:"region"`

	// CacheTTL is how long a discovered resource stays valid without being
	// seen again. Default: 2h
	CacheTTL time.Duration `yaml:"cache_ttl"`

	DynamoDB  DynamoDBConfig  `yaml:"dynamodb"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	SQS       SQSConfig       `yaml:"sqs"`
	Alarms    AlarmsConfig    `yaml:"alarms"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// DynamoDBConfig names the DynamoDB tables.
type DynamoDBConfig struct {
	AlarmsTable string `yaml:"alarms_table"`
	CacheTable  string `yaml:"cache_table"`

	// SkipSchemaValidation disables the table checks at startup.
	SkipSchemaValidation bool `yaml:"skip_schema_validation"`
}

// PostgresConfig configures the Postgres connection.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`

	MaxConnections int32 `yaml:"max_connections"`

	// TTLCleanupInterval is the cadence of the built-in expired row cleanup.
	// Zero disables it; the discovery sweep job still runs.
	TTLCleanupInterval time.Duration `yaml:"ttl_cleanup_interval"`

	SkipSchemaValidation bool `yaml:"skip_schema_validation"`
}

// SQSConfig configures the alarm event queue. An empty Queue disables event
// intake.
type SQSConfig struct {
	Queue                    string        `yaml:"queue"`
	VisibilityTimeoutSeconds int32         `yaml:"visibility_timeout_seconds"`
	MaxOutstandingMessages   int           `yaml:"max_outstanding_messages"`
	MaxMessageExtension      time.Duration `yaml:"max_message_extension"`
}

// AlarmsConfig configures propagation.
type AlarmsConfig struct {
	// Concurrency bounds the parallel subscription writes of one propagation.
	// Default: 10
	Concurrency int `yaml:"concurrency"`
}

// DiscoveryConfig configures the discovery scheduler.
type DiscoveryConfig struct {
	// Regions overrides region discovery through EC2 when non-empty.
	Regions []string `yaml:"regions"`

	// AccountID is used to build managed instance ARNs.
	AccountID string `yaml:"account_id"`

	// RegionConcurrency bounds how many regions of one job run at once. Zero
	// runs all of them in parallel.
	RegionConcurrency int `yaml:"region_concurrency"`

	ResourcesInterval        time.Duration `yaml:"resources_interval"`
	ConnectionsInterval      time.Duration `yaml:"connections_interval"`
	TagsInterval             time.Duration `yaml:"tags_interval"`
	ManagedInstancesInterval time.Duration `yaml:"managed_instances_interval"`
	SweepInterval            time.Duration `yaml:"sweep_interval"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Listen disables
// it.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns the configuration used before the file and the environment
// are applied.
func Default() *Config {
	return &Config{
		Log:      logging.DefaultConfig(),
		Backend:  BackendDynamoDB,
		CacheTTL: 2 * time.Hour,
		DynamoDB: DynamoDBConfig{
			AlarmsTable: "msam-alarms",
			CacheTable:  "msam-cache",
		},
		Postgres: PostgresConfig{
			Host:               "localhost",
			Port:               5432,
			Database:           "msam",
			SSLMode:            "prefer",
			MaxConnections:     10,
			TTLCleanupInterval: time.Hour,
		},
		SQS: SQSConfig{
			VisibilityTimeoutSeconds: 30,
			MaxOutstandingMessages:   100,
			MaxMessageExtension:      10 * time.Minute,
		},
		Alarms: AlarmsConfig{
			Concurrency: 10,
		},
		Discovery: DiscoveryConfig{
			ResourcesInterval:        5 * time.Minute,
			ConnectionsInterval:      5 * time.Minute,
			TagsInterval:             5 * time.Minute,
			ManagedInstancesInterval: time.Minute,
			SweepInterval:            time.Hour,
		},
		Metrics: MetricsConfig{
			Listen: ":9090",
		},
	}
}

// Load builds the configuration from path, or from MSAM_CONFIG if path is
// empty, then applies MSAM_* overrides and validates the result. With
// neither a path nor MSAM_CONFIG only the defaults and the environment are
// used.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("MSAM_CONFIG")
	}

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return nil
}

type envOverride struct {
	name  string
	apply func(c *Config, value string) error
}

var envOverrides = []envOverride{
	{"MSAM_LOG_LEVEL", func(c *Config, v string) error { c.Log.Level = v; return nil }},
	{"MSAM_LOG_DEBUG", func(c *Config, v string) error { return parseBool(v, &c.Log.Debug) }},
	{"MSAM_BACKEND", func(c *Config, v string) error { c.Backend = Backend(v); return nil }},
	{"MSAM_REGION", func(c *Config, v string) error { c.Region = v; return nil }},
	{"MSAM_CACHE_TTL", func(c *Config, v string) error { return parseDuration(v, &c.CacheTTL) }},
	{"MSAM_DYNAMODB_ALARMS_TABLE", func(c *Config, v string) error { c.DynamoDB.AlarmsTable = v; return nil }},
	{"MSAM_DYNAMODB_CACHE_TABLE", func(c *Config, v string) error { c.DynamoDB.CacheTable = v; return nil }},
	{"MSAM_POSTGRES_HOST", func(c *Config, v string) error { c.Postgres.Host = v; return nil }},
	{"MSAM_POSTGRES_PORT", func(c *Config, v string) error { return parseInt(v, &c.Postgres.Port) }},
	{"MSAM_POSTGRES_USER", func(c *Config, v string) error { c.Postgres.User = v; return nil }},
	{"MSAM_POSTGRES_PASSWORD", func(c *Config, v string) error { c.Postgres.Password = v; return nil }},
	{"MSAM_POSTGRES_DATABASE", func(c *Config, v string) error { c.Postgres.Database = v; return nil }},
	{"MSAM_POSTGRES_SSL_MODE", func(c *Config, v string) error { c.Postgres.SSLMode = v; return nil }},
	{"MSAM_SQS_QUEUE", func(c *Config, v string) error { c.SQS.Queue = v; return nil }},
	{"MSAM_DISCOVERY_REGIONS", func(c *Config, v string) error { c.Discovery.Regions = splitList(v); return nil }},
	{"MSAM_DISCOVERY_ACCOUNT_ID", func(c *Config, v string) error { c.Discovery.AccountID = v; return nil }},
	{"MSAM_METRICS_LISTEN", func(c *Config, v string) error { c.Metrics.Listen = v; return nil }},
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	for _, o := range envOverrides {
		value, ok := lookup(o.name)
		if !ok {
			continue
		}

		if err := o.apply(c, value); err != nil {
			return fmt.Errorf("invalid value for %s: %w", o.name, err)
		}
	}

	return nil
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Backend {
	case BackendDynamoDB:
		if c.DynamoDB.AlarmsTable == "" || c.DynamoDB.CacheTable == "" {
			errs = append(errs, errors.New("dynamodb.alarms_table and dynamodb.cache_table are required"))
		}
	case BackendPostgres:
		if c.Postgres.Host == "" || c.Postgres.Database == "" {
			errs = append(errs, errors.New("postgres.host and postgres.database are required"))
		}

		if c.Postgres.Port < 1 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Errorf("postgres.port %d is out of range", c.Postgres.Port))
		}

		if c.Postgres.TTLCleanupInterval < 0 {
			errs = append(errs, errors.New("postgres.ttl_cleanup_interval cannot be negative"))
		}
	default:
		errs = append(errs, fmt.Errorf("backend must be %q or %q, got %q", BackendDynamoDB, BackendPostgres, c.Backend))
	}

	if c.CacheTTL < time.Second {
		errs = append(errs, errors.New("cache_ttl must be at least 1s"))
	}

	if c.Alarms.Concurrency < 1 {
		errs = append(errs, errors.New("alarms.concurrency must be at least 1"))
	}

	if c.Discovery.RegionConcurrency < 0 {
		errs = append(errs, errors.New("discovery.region_concurrency cannot be negative"))
	}

	intervals := map[string]time.Duration{
		"resources_interval":         c.Discovery.ResourcesInterval,
		"connections_interval":       c.Discovery.ConnectionsInterval,
		"tags_interval":              c.Discovery.TagsInterval,
		"managed_instances_interval": c.Discovery.ManagedInstancesInterval,
		"sweep_interval":             c.Discovery.SweepInterval,
	}

	for _, name := range slices.Sorted(maps.Keys(intervals)) {
		if intervals[name] <= 0 {
			errs = append(errs, fmt.Errorf("discovery.%s must be positive", name))
		}
	}

	if slices.Contains(c.Discovery.Regions, "") {
		errs = append(errs, errors.New("discovery.regions cannot contain empty names"))
	}

	return errors.Join(errs...)
}

func splitList(v string) []string {
	var items []string

	for item := range strings.SplitSeq(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}

	return items
}

func parseBool(v string, dst *bool) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}

	*dst = b

	return nil
}

func parseInt(v string, dst *int) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}

	*dst = n

	return nil
}

func parseDuration(v string, dst *time.Duration) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}

	*dst = d

	return nil
}
