package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var errNotConnected = errors.New("client is not connected")

// pool defines the interface for database operations.
// This interface is satisfied by *pgxpool.Pool and can be mocked for testing.
type pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Close()
	Ping(ctx context.Context) error
}

// Client is a PostgreSQL-backed implementation of the subscription index and
// the resource cache.
type Client struct {
	conn      pool
	opts      *options
	cancelTTL context.CancelFunc
}

func New(opts ...Option) *Client {
	o := newOptions()
	for _, opt := range opts {
		opt(o)
	}

	return &Client{opts: o}
}

func (c *Client) Connect(ctx context.Context) error {
	// Close existing connection if any to prevent leaks
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	if err := c.opts.validate(); err != nil {
		return fmt.Errorf("invalid Postgres db configuration: %w", err)
	}

	config, err := pgxpool.ParseConfig(c.opts.connectionString())
	if err != nil {
		return fmt.Errorf("failed to parse Postgres db connection string: %w", err)
	}

	if c.opts.poolMaxConnections != nil {
		config.MaxConns = *c.opts.poolMaxConnections
	}

	if c.opts.poolMinConnections != nil {
		config.MinConns = *c.opts.poolMinConnections
	}

	if c.opts.poolMinIdleConnections != nil {
		config.MinIdleConns = *c.opts.poolMinIdleConnections
	}

	if c.opts.poolMaxConnectionLifetime != nil {
		config.MaxConnLifetime = *c.opts.poolMaxConnectionLifetime
	}

	if c.opts.poolMaxConnectionIdleTime != nil {
		config.MaxConnIdleTime = *c.opts.poolMaxConnectionIdleTime
	}

	if c.opts.poolHealthCheckPeriod != nil {
		config.HealthCheckPeriod = *c.opts.poolHealthCheckPeriod
	}

	if c.opts.poolMaxConnectionLifetimeJitter != nil {
		config.MaxConnLifetimeJitter = *c.opts.poolMaxConnectionLifetimeJitter
	}

	conn, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return fmt.Errorf("failed to create new Postgres connection pool: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return fmt.Errorf("failed to ping Postgres db: %w", err)
	}

	c.conn = conn

	return nil
}

func (c *Client) Close(_ context.Context) error {
	if c.cancelTTL != nil {
		c.cancelTTL()
		c.cancelTTL = nil
	}

	if c.conn == nil {
		return nil
	}

	c.conn.Close()

	c.conn = nil

	return nil
}

// Init creates the tables and indexes if they do not exist, optionally
// verifies the column layout, and starts the background TTL cleanup goroutine
// unless it is disabled.
func (c *Client) Init(ctx context.Context, skipSchemaValidation bool) error {
	if c.conn == nil {
		return errNotConnected
	}

	tx, err := c.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin init transaction: %w", err)
	}

	defer func() { _ = tx.Rollback(ctx) }() // No-op if committed

	for _, sql := range c.opts.createStatements() {
		if _, err := tx.Exec(ctx, sql); err != nil {
			return fmt.Errorf("failed to execute create statement: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit init transaction: %w", err)
	}

	if !skipSchemaValidation {
		if err := c.verifySchema(ctx); err != nil {
			return err
		}
	}

	if c.cancelTTL == nil && c.opts.ttlCleanupInterval != nil {
		ttlCtx, cancel := context.WithCancel(context.Background())
		c.cancelTTL = cancel

		//nolint:contextcheck // Intentionally using a new context: the TTL goroutine must outlive the Init call.
		go c.runTTLCleanup(ttlCtx)
	}

	return nil
}

func (c *Client) verifySchema(ctx context.Context) error {
	query := "SELECT table_name, column_name, data_type, is_nullable FROM information_schema.columns WHERE table_schema = 'public' ORDER BY ordinal_position"

	rows, err := c.conn.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to query information schema: %w", err)
	}

	defer rows.Close()

	infoRows := map[string]*dbRow{}

	for rows.Next() {
		var table, column string
		infoRow := &dbRow{}

		if err := rows.Scan(&table, &column, &infoRow.DataType, &infoRow.IsNullable); err != nil {
			return fmt.Errorf("failed to scan row from information schema: %w", err)
		}

		infoRows[table+"."+column] = infoRow
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating over rows from information schema: %w", err)
	}

	if err := c.opts.verifyCurrentDatabaseVersion(infoRows); err != nil {
		return fmt.Errorf("failed to verify current database version: %w", err)
	}

	return nil
}

// DropAllData drops both tables. Intended for tests only.
func (c *Client) DropAllData(ctx context.Context) error {
	if c.conn == nil {
		return errNotConnected
	}

	tx, err := c.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin drop tables transaction: %w", err)
	}

	defer func() { _ = tx.Rollback(ctx) }() // No-op if committed

	for _, sql := range c.opts.dropStatements() {
		if _, err := tx.Exec(ctx, sql); err != nil {
			return fmt.Errorf("failed to execute drop statement: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit drop tables transaction: %w", err)
	}

	return nil
}

func (c *Client) runTTLCleanup(ctx context.Context) {
	ticker := time.NewTicker(*c.opts.ttlCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.deleteExpiredRows(ctx)
		}
	}
}

func (c *Client) deleteExpiredRows(ctx context.Context) {
	n, err := c.SweepExpired(ctx)

	if c.opts.logger == nil {
		return
	}

	if err != nil {
		c.opts.logger.Errorf("TTL cleanup failed: %v", err)
		return
	}

	if n > 0 {
		c.opts.logger.WithField("removed", n).Debug("TTL cleanup removed expired resources")
	}
}
