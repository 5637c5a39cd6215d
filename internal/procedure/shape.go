package procedure

import (
	"context"

	"github.com/koustreak/sproc/internal/database"
	"github.com/koustreak/sproc/internal/errs"
	"github.com/koustreak/sproc/internal/mapping"
)

// RowMapper builds one T from one row. Returning an error stops the read
// and is passed to the caller as is.
type RowMapper[T any] func(*mapping.Row) (T, error)

// Multiple maps every row of the first result set into T, in row order.
// A nil mapper uses the executor's default mapper. Zero rows yields nil,
// not an empty slice.
func Multiple[T any](ctx context.Context, e *Executor, name string, mapper RowMapper[T], params ...any) ([]T, error) {
	mapFn := rowMapper(e, mapper)

	var out []T
	err := e.run(ctx, name, database.ModeReader, params, func(ctx context.Context, conn database.Conn, call *database.Call) (int, error) {
		rows, err := conn.Query(ctx, call)
		if err != nil {
			return 0, err
		}
		defer rows.Close()

		err = database.EachRow(rows, func(row *mapping.Row) error {
			v, err := mapFn(row)
			if err != nil {
				return err
			}
			out = append(out, v)
			return nil
		})
		return len(out), err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Single maps the only row of the first result set. Zero rows yields nil;
// a second row fails with ErrKindMultipleResults.
func Single[T any](ctx context.Context, e *Executor, name string, mapper RowMapper[T], params ...any) (*T, error) {
	mapFn := rowMapper(e, mapper)

	var out *T
	err := e.run(ctx, name, database.ModeReader, params, func(ctx context.Context, conn database.Conn, call *database.Call) (int, error) {
		rows, err := conn.Query(ctx, call)
		if err != nil {
			return 0, err
		}
		defer rows.Close()

		err = database.EachRow(rows, func(row *mapping.Row) error {
			if out != nil {
				return errs.Newf(errs.ErrKindMultipleResults,
					"procedure %s returned more than one row, expected at most one", call.Procedure)
			}
			v, err := mapFn(row)
			if err != nil {
				return err
			}
			out = &v
			return nil
		})
		if out == nil {
			return 0, err
		}
		return 1, err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Scalar returns the first column of the first row cast to T. See
// mapping.Cast for the conversions allowed. A NULL or missing value is an
// error unless T can hold nil.
func Scalar[T any](ctx context.Context, e *Executor, name string, params ...any) (T, error) {
	var raw any
	err := e.run(ctx, name, database.ModeScalar, params, func(ctx context.Context, conn database.Conn, call *database.Call) (int, error) {
		rows, err := conn.Query(ctx, call)
		if err != nil {
			return 0, err
		}
		defer rows.Close()

		n := 0
		if rows.Next() {
			vals, err := rows.Values()
			if err != nil {
				return 0, err
			}
			if len(vals) > 0 {
				raw = vals[0]
			}
			n = 1
		}
		return n, rows.Err()
	})
	if err != nil {
		var zero T
		return zero, err
	}

	v, err := mapping.Cast[T](raw)
	if err != nil {
		return v, errs.Wrap(errs.ErrKindInvalidCast, "procedure "+name+": scalar result", err)
	}
	return v, nil
}

func rowMapper[T any](e *Executor, mapper RowMapper[T]) RowMapper[T] {
	if mapper != nil {
		return mapper
	}
	return func(row *mapping.Row) (T, error) {
		v, _, err := mapping.MapRow[T](e.mapper, row)
		return v, err
	}
}
