package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/msam-go/msam/cloudwatch"
	"github.com/msam-go/msam/config"
	"github.com/msam-go/msam/discovery"
	"github.com/msam-go/msam/dynamodb"
	"github.com/msam-go/msam/inventory"
	"github.com/msam-go/msam/logging"
	"github.com/msam-go/msam/postgres"
	"github.com/msam-go/msam/query"
	"github.com/msam-go/msam/sqs"
	"github.com/msam-go/msam/types"
)

// backend is implemented by both stores.
type backend interface {
	types.ResourceStore
	types.SubscriptionIndex
}

// app is the wiring shared by the subcommands.
type app struct {
	cfg     *config.Config
	logger  types.Logger
	awsCfg  aws.Config
	store   backend
	regions discovery.RegionSource
	close   func(ctx context.Context) error

	// sqsOpts are appended to the options of every SQS client.
	sqsOpts []sqs.Option
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		awsCfg:  awsCfg,
		regions: inventory.NewRegions(&awsCfg, cfg.Discovery.Regions),
	}

	if err := a.openBackend(ctx); err != nil {
		return nil, err
	}

	logger.WithField("backend", cfg.Backend).Debug("Backend ready")

	return a, nil
}

func (a *app) openBackend(ctx context.Context) error {
	switch a.cfg.Backend {
	case config.BackendDynamoDB:
		client := dynamodb.New(&a.awsCfg, a.cfg.DynamoDB.AlarmsTable, a.cfg.DynamoDB.CacheTable,
			dynamodb.WithCacheTimeToLive(a.cfg.CacheTTL),
		)

		if err := client.Connect(); err != nil {
			return fmt.Errorf("failed to connect to DynamoDB: %w", err)
		}

		if err := client.Init(ctx, a.cfg.DynamoDB.SkipSchemaValidation); err != nil {
			return fmt.Errorf("failed to initialize DynamoDB tables: %w", err)
		}

		a.store = client
		a.close = func(context.Context) error { return nil }
	case config.BackendPostgres:
		client := postgres.New(postgresOptions(a.cfg, a.logger)...)

		if err := client.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect to Postgres: %w", err)
		}

		if err := client.Init(ctx, a.cfg.Postgres.SkipSchemaValidation); err != nil {
			_ = client.Close(ctx)
			return fmt.Errorf("failed to initialize Postgres schema: %w", err)
		}

		a.store = client
		a.close = client.Close
	default:
		return fmt.Errorf("unknown backend %q", a.cfg.Backend)
	}

	return nil
}

func postgresOptions(cfg *config.Config, logger types.Logger) []postgres.Option {
	pg := cfg.Postgres

	opts := []postgres.Option{
		postgres.WithHost(pg.Host),
		postgres.WithPort(pg.Port),
		postgres.WithUser(pg.User),
		postgres.WithPassword(pg.Password),
		postgres.WithDatabase(pg.Database),
		postgres.WithSSLMode(postgres.SSLMode(pg.SSLMode)),
		postgres.WithPoolMaxConnections(pg.MaxConnections),
		postgres.WithCacheTimeToLive(cfg.CacheTTL),
		postgres.WithLogger(logger),
	}

	if pg.TTLCleanupInterval == 0 {
		opts = append(opts, postgres.WithTTLCleanupDisabled())
	} else {
		opts = append(opts, postgres.WithTTLCleanupInterval(pg.TTLCleanupInterval))
	}

	return opts
}

func (a *app) query() (*query.Facade, error) {
	return query.New(a.store, a.store, a.regions, a.logger, query.WithAlarmLister(cloudwatch.New(&a.awsCfg)))
}

// shutdown closes the backend. It is safe to call on a nil app.
func (a *app) shutdown(ctx context.Context) {
	if a == nil || a.close == nil {
		return
	}

	if err := a.close(ctx); err != nil {
		a.logger.Errorf("Failed to close backend: %v", err)
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}
