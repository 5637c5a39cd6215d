// Package mysql provides a MySQL implementation of database.Provider backed
// by database/sql and go-sql-driver/mysql. Every mode is rendered as
// CALL proc(?, ...) with arguments in bind order; MySQL has no named
// argument syntax, so parameter names are informational only.
package mysql

import (
	"context"
	"database/sql"
	"reflect"
	"strings"

	"github.com/koustreak/sproc/internal/database"
)

// Driver is a MySQL implementation of database.Provider.
// It is safe for concurrent use by multiple goroutines.
type Driver struct {
	db *sql.DB
}

// New opens a MySQL connection pool using the provided Config and returns a Driver.
// It calls Ping to validate the connection before returning.
func New(ctx context.Context, cfg *database.Config) (*Driver, error) {
	db, err := buildPool(cfg)
	if err != nil {
		return nil, err
	}

	d := &Driver{db: db}

	pingCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	if err := d.Ping(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return d, nil
}

// --- database.Provider implementation ---

// Acquire reserves a single connection from the pool for one call.
func (d *Driver) Acquire(ctx context.Context) (database.Conn, error) {
	c, err := d.db.Conn(ctx)
	if err != nil {
		return nil, mapError(err, "failed to acquire connection")
	}
	return &conn{c: c}, nil
}

func (d *Driver) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return mapError(err, "ping failed")
	}
	return nil
}

func (d *Driver) Close() {
	_ = d.db.Close()
}

// --- database.Conn implementation ---

type conn struct {
	c *sql.Conn
}

func (c *conn) Exec(ctx context.Context, call *database.Call) (int64, error) {
	query, args := render(call)
	res, err := c.c.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, mapError(err, "call "+call.Procedure+" failed")
	}
	n, err := res.RowsAffected()
	if err != nil {
		// The count is advisory; the CALL itself succeeded.
		return 0, nil
	}
	return n, nil
}

func (c *conn) Query(ctx context.Context, call *database.Call) (database.Rows, error) {
	query, args := render(call)
	rows, err := c.c.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "call "+call.Procedure+" failed")
	}
	return &mysqlRows{rows: rows}, nil
}

// Release returns the connection to the pool. database/sql rejects a second
// Close with ErrConnDone, which is ignored.
func (c *conn) Release() {
	_ = c.c.Close()
}

// render builds CALL `schema`.`proc`(?, ?).
func render(call *database.Call) (string, []any) {
	parts := strings.Split(call.Procedure, ".")
	for i, p := range parts {
		parts[i] = quoteIdent(p)
	}

	var sb strings.Builder
	sb.WriteString("CALL ")
	sb.WriteString(strings.Join(parts, "."))
	sb.WriteByte('(')
	for i := range call.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('?')
	}
	sb.WriteByte(')')
	return sb.String(), call.Args()
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// --- sql.DB type wrappers ---

var (
	scanTypeString     = reflect.TypeOf("")
	scanTypeNullString = reflect.TypeOf(sql.NullString{})
)

// mysqlRows wraps *sql.Rows. The driver hands character columns back as
// []byte; those are turned into strings so rows carry natural Go types.
type mysqlRows struct {
	rows *sql.Rows
	text []bool // per column of the current result set, nil until read
}

func (r *mysqlRows) Next() bool { return r.rows.Next() }
func (r *mysqlRows) Close()     { _ = r.rows.Close() }
func (r *mysqlRows) Err() error { return mapError(r.rows.Err(), "error during row iteration") }

func (r *mysqlRows) Columns() ([]string, error) {
	cols, err := r.rows.Columns()
	if err != nil {
		return nil, mapError(err, "failed to read column names")
	}
	return cols, nil
}

func (r *mysqlRows) NextResultSet() bool {
	r.text = nil
	return r.rows.NextResultSet()
}

func (r *mysqlRows) Values() ([]any, error) {
	if r.text == nil {
		types, err := r.rows.ColumnTypes()
		if err != nil {
			return nil, mapError(err, "failed to read column types")
		}
		r.text = make([]bool, len(types))
		for i, ct := range types {
			st := ct.ScanType()
			r.text[i] = st == scanTypeString || st == scanTypeNullString
		}
	}

	dest := make([]any, len(r.text))
	ptrs := make([]any, len(dest))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		return nil, mapError(err, "failed to scan row")
	}

	for i, isText := range r.text {
		if b, ok := dest[i].([]byte); ok && isText {
			dest[i] = string(b)
		}
	}
	return dest, nil
}
