// Package postgres provides a PostgreSQL implementation of database.Provider
// backed by pgxpool. Stored routines are invoked with named-argument
// notation; set-returning functions are read with SELECT * FROM.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koustreak/sproc/internal/database"
	"github.com/koustreak/sproc/internal/errs"
)

// Driver is a PostgreSQL implementation of database.Provider.
// It is safe for concurrent use by multiple goroutines.
type Driver struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL using the provided Config and returns a Driver.
// It calls Ping to validate the connection before returning.
func New(ctx context.Context, cfg *database.Config) (*Driver, error) {
	poolCfg, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to create connection pool", err)
	}

	d := &Driver{pool: pool}

	if err := d.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return d, nil
}

// --- database.Provider implementation ---

// Acquire reserves a pooled connection for one call.
func (d *Driver) Acquire(ctx context.Context) (database.Conn, error) {
	c, err := d.pool.Acquire(ctx)
	if err != nil {
		return nil, mapError(err, "failed to acquire connection")
	}
	return &conn{c: c}, nil
}

// Ping verifies the database is reachable by acquiring and releasing a connection.
func (d *Driver) Ping(ctx context.Context) error {
	if err := d.pool.Ping(ctx); err != nil {
		return mapError(err, "ping failed")
	}
	return nil
}

// Close drains the connection pool. Call when the application shuts down.
func (d *Driver) Close() {
	d.pool.Close()
}

// --- database.Conn implementation ---

type conn struct {
	c *pgxpool.Conn
}

func (c *conn) Exec(ctx context.Context, call *database.Call) (int64, error) {
	sql, args := render(call)
	tag, err := c.c.Exec(ctx, sql, args...)
	if err != nil {
		return 0, mapError(err, "call "+call.Procedure+" failed")
	}
	return tag.RowsAffected(), nil
}

func (c *conn) Query(ctx context.Context, call *database.Call) (database.Rows, error) {
	sql, args := render(call)
	rows, err := c.c.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(err, "call "+call.Procedure+" failed")
	}
	return &pgxRows{rows: rows}, nil
}

// Release is idempotent; pgxpool ignores calls after the first.
func (c *conn) Release() {
	c.c.Release()
}

// --- pgx type wrappers ---

// pgxRows wraps pgx.Rows to satisfy database.Rows. A pgx query yields a
// single result set.
type pgxRows struct {
	rows pgx.Rows
}

func (r *pgxRows) Next() bool          { return r.rows.Next() }
func (r *pgxRows) NextResultSet() bool { return false }
func (r *pgxRows) Close()              { r.rows.Close() }
func (r *pgxRows) Err() error          { return mapError(r.rows.Err(), "error during row iteration") }

func (r *pgxRows) Values() ([]any, error) {
	vals, err := r.rows.Values()
	if err != nil {
		return nil, mapError(err, "failed to decode row")
	}
	return vals, nil
}

func (r *pgxRows) Columns() ([]string, error) {
	descs := r.rows.FieldDescriptions()
	cols := make([]string, len(descs))
	for i, d := range descs {
		cols[i] = d.Name
	}
	return cols, nil
}
