package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/msam-go/msam/types"
)

const resourceColumns = "arn, service, region, attrs, discovered_at, expires_at"

// Put upserts the resources, stamping each in place with the current time and
// an expiry of now plus the cache TTL. Two or more resources are sent as a
// single batch.
func (c *Client) Put(ctx context.Context, resources ...*types.CachedResource) error {
	if c.conn == nil {
		return errNotConnected
	}

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
		sql, args := c.getResourceUpsertSQL(resources[0])

		if _, err := c.conn.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("failed to save resource to Postgres db: %w", err)
		}

		return nil
	}

	batch := &pgx.Batch{}

	for _, r := range resources {
		sql, args := c.getResourceUpsertSQL(r)
		batch.Queue(sql, args...)
	}

	results := c.conn.SendBatch(ctx, batch)

	defer results.Close()

	for range resources {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to save resource to Postgres db: %w", err)
		}
	}

	return nil
}

// Get returns the resource with the given ARN, or a NotFound error if it is
// absent or expired.
func (c *Client) Get(ctx context.Context, arn string) (*types.CachedResource, error) {
	if c.conn == nil {
		return nil, errNotConnected
	}

	if arn == "" {
		return nil, errors.New("ARN cannot be empty")
	}

	sql := fmt.Sprintf("SELECT %s FROM %s WHERE arn = $1 AND expires_at > $2", resourceColumns, c.opts.resourcesTable)

	row := c.conn.QueryRow(ctx, sql, arn, c.opts.clock())

	r := &types.CachedResource{}

	if err := row.Scan(&r.ARN, &r.Service, &r.Region, &r.Attributes, &r.DiscoveredAt, &r.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NotFound("Get", "resource %s not found", arn)
		}

		return nil, fmt.Errorf("failed to get resource from Postgres db: %w", err)
	}

	return r, nil
}

func (c *Client) ListByServiceRegion(ctx context.Context, service, region string) ([]*types.CachedResource, error) {
	if c.conn == nil {
		return nil, errNotConnected
	}

	if service == "" {
		return nil, errors.New("service cannot be empty")
	}

	if region == "" {
		return nil, errors.New("region cannot be empty")
	}

	sql := fmt.Sprintf("SELECT %s FROM %s WHERE service = $1 AND region = $2 AND expires_at > $3 ORDER BY arn", resourceColumns, c.opts.resourcesTable)

	return c.queryResources(ctx, sql, service, region, c.opts.clock())
}

func (c *Client) ListByService(ctx context.Context, service string) ([]*types.CachedResource, error) {
	if c.conn == nil {
		return nil, errNotConnected
	}

	if service == "" {
		return nil, errors.New("service cannot be empty")
	}

	sql := fmt.Sprintf("SELECT %s FROM %s WHERE service = $1 AND expires_at > $2 ORDER BY arn", resourceColumns, c.opts.resourcesTable)

	return c.queryResources(ctx, sql, service, c.opts.clock())
}

func (c *Client) Delete(ctx context.Context, arn string) error {
	if c.conn == nil {
		return errNotConnected
	}

	if arn == "" {
		return errors.New("ARN cannot be empty")
	}

	if _, err := c.conn.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE arn = $1", c.opts.resourcesTable), arn); err != nil {
		return fmt.Errorf("failed to delete resource from Postgres db: %w", err)
	}

	return nil
}

// SweepExpired deletes every resource whose expiry has passed and returns the
// number of rows removed.
func (c *Client) SweepExpired(ctx context.Context) (int, error) {
	if c.conn == nil {
		return 0, errNotConnected
	}

	tag, err := c.conn.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE expires_at <= $1", c.opts.resourcesTable), c.opts.clock())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired resources: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

func (c *Client) queryResources(ctx context.Context, sql string, args ...any) ([]*types.CachedResource, error) {
	rows, err := c.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query resources in Postgres db: %w", err)
	}

	defer rows.Close()

	resources := []*types.CachedResource{}

	for rows.Next() {
		r := &types.CachedResource{}

		if err := rows.Scan(&r.ARN, &r.Service, &r.Region, &r.Attributes, &r.DiscoveredAt, &r.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan row for resource: %w", err)
		}

		resources = append(resources, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over rows for resources: %w", err)
	}

	return resources, nil
}

func (c *Client) getResourceUpsertSQL(r *types.CachedResource) (string, []any) {
	attrs := string(r.Attributes)
	if attrs == "" {
		attrs = "{}"
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (arn) DO UPDATE SET service = EXCLUDED.service, region = EXCLUDED.region, attrs = EXCLUDED.attrs, discovered_at = EXCLUDED.discovered_at, expires_at = EXCLUDED.expires_at", c.opts.resourcesTable, resourceColumns)

	return sql, []any{r.ARN, r.Service, r.Region, attrs, r.DiscoveredAt, r.ExpiresAt}
}
