// Package procedure runs stored procedures through a database.Provider and
// shapes their results.
//
// Every entry point binds its parameters, acquires one connection, runs the
// call and releases the connection before returning, on every path. A
// parameter list that fails to bind never opens a connection.
//
//	exec := procedure.New(provider, procedure.WithLogger(log))
//	users, err := procedure.Multiple[User](ctx, exec, "sp_get_users", nil, "p_active", true)
//	count, err := procedure.Scalar[int64](ctx, exec, "sp_count_users")
package procedure

import (
	"context"
	"strings"
	"time"

	"github.com/koustreak/sproc/internal/database"
	"github.com/koustreak/sproc/internal/errs"
	"github.com/koustreak/sproc/internal/logger"
	"github.com/koustreak/sproc/internal/mapping"
)

// Executor invokes stored procedures. It holds only configuration fixed at
// construction and is safe for concurrent use.
type Executor struct {
	provider database.Provider
	mapper   *mapping.Mapper
	log      *logger.Logger
	timeout  time.Duration
}

// Option configures an Executor.
type Option func(*Executor)

// WithMapper sets the mapper used when a caller passes no RowMapper.
func WithMapper(m *mapping.Mapper) Option {
	return func(e *Executor) {
		if m != nil {
			e.mapper = m
		}
	}
}

// WithLogger sets the logger for per-call events.
func WithLogger(l *logger.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.log = l
		}
	}
}

// WithTimeout bounds every call. Zero means the caller's context alone.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

// New returns an Executor over provider. By default it maps permissively
// and logs nothing.
func New(provider database.Provider, opts ...Option) *Executor {
	e := &Executor{
		provider: provider,
		mapper:   mapping.NewMapper(mapping.PolicyPermissive),
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Mapper returns the default mapper.
func (e *Executor) Mapper() *mapping.Mapper { return e.mapper }

// Ping checks that the provider can reach the database.
func (e *Executor) Ping(ctx context.Context) error {
	return e.provider.Ping(ctx)
}

// Execute runs a procedure that returns no result set and reports the rows
// affected when the driver knows it.
func (e *Executor) Execute(ctx context.Context, name string, params ...any) (int64, error) {
	var affected int64
	err := e.run(ctx, name, database.ModeExec, params, func(ctx context.Context, conn database.Conn, call *database.Call) (int, error) {
		n, err := conn.Exec(ctx, call)
		affected = n
		return int(n), err
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// DataSet runs a procedure and buffers every result set it returns.
func (e *Executor) DataSet(ctx context.Context, name string, params ...any) (*mapping.DataSet, error) {
	var ds *mapping.DataSet
	err := e.run(ctx, name, database.ModeFill, params, func(ctx context.Context, conn database.Conn, call *database.Call) (int, error) {
		rows, err := conn.Query(ctx, call)
		if err != nil {
			return 0, err
		}
		ds, err = database.ReadDataSet(rows)
		if err != nil {
			return 0, err
		}
		return countRows(ds), nil
	})
	if err != nil {
		return nil, err
	}
	return ds, nil
}

// DataTable runs a procedure expected to return at most one result set.
// It returns nil when there is none and ErrKindAmbiguousResult when there
// are several.
func (e *Executor) DataTable(ctx context.Context, name string, params ...any) (*mapping.Table, error) {
	ds, err := e.DataSet(ctx, name, params...)
	if err != nil {
		return nil, err
	}
	switch len(ds.Tables) {
	case 0:
		return nil, nil
	case 1:
		return ds.Tables[0], nil
	default:
		return nil, errs.Newf(errs.ErrKindAmbiguousResult,
			"procedure %s returned %d result sets, expected one", name, len(ds.Tables))
	}
}

// step runs one call on an acquired connection and reports how many rows
// it produced, for logging.
type step func(ctx context.Context, conn database.Conn, call *database.Call) (int, error)

func (e *Executor) run(ctx context.Context, name string, mode database.Mode, params []any, fn step) error {
	if strings.TrimSpace(name) == "" {
		return errs.New(errs.ErrKindInvalidInput, "procedure name is empty")
	}

	call := &database.Call{Procedure: name, Mode: mode}
	if err := Bind(call, params...); err != nil {
		e.logFailure(call, err, 0)
		return err
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	conn, err := e.provider.Acquire(ctx)
	if err != nil {
		e.logFailure(call, err, time.Since(start))
		return err
	}
	defer conn.Release()

	n, err := fn(ctx, conn, call)
	if err != nil {
		e.logFailure(call, err, time.Since(start))
		return err
	}

	e.log.DebugWith("procedure call", logger.Fields{
		"procedure": call.Procedure,
		"mode":      call.Mode.String(),
		"params":    len(call.Params),
		"rows":      n,
		"duration":  time.Since(start),
	})
	return nil
}

// logFailure never records parameter values.
func (e *Executor) logFailure(call *database.Call, err error, d time.Duration) {
	e.log.ErrorWith("procedure call failed", err, logger.Fields{
		"procedure": call.Procedure,
		"mode":      call.Mode.String(),
		"params":    len(call.Params),
		"kind":      errs.KindOf(err).String(),
		"duration":  d,
	})
}

func countRows(ds *mapping.DataSet) int {
	n := 0
	for _, t := range ds.Tables {
		n += t.Len()
	}
	return n
}
