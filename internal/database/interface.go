package database

import "context"

// Provider hands out connections for one procedure call at a time.
// Everything above this package talks only to these interfaces and never
// imports the postgres or mysql packages directly.
type Provider interface {
	// Acquire returns a connection reserved for the caller until Release.
	Acquire(ctx context.Context) (Conn, error)

	// Ping verifies the database is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the connection pool.
	Close()
}

// Conn runs stored procedures. Each driver renders a Call in its own dialect.
type Conn interface {
	// Exec runs a call that returns no rows and reports rows affected
	// when the driver knows it.
	Exec(ctx context.Context, call *Call) (int64, error)

	// Query runs a call that returns one or more result sets.
	Query(ctx context.Context, call *Call) (Rows, error)

	// Release returns the connection to its pool. It is safe to call once
	// on every exit path.
	Release()
}

// Rows is an abstraction over the result sets of one call.
// Callers must always call Close() when done, even on error.
type Rows interface {
	// Next advances to the next row of the current result set.
	Next() bool

	// Values returns the current row's values, nil for NULL.
	Values() ([]any, error)

	// Columns returns the column names of the current result set.
	Columns() ([]string, error)

	// NextResultSet moves to the next result set, if the driver has one.
	NextResultSet() bool

	// Close releases resources held by the result set.
	Close()

	// Err returns any error encountered during iteration.
	Err() error
}
